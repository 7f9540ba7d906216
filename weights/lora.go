package weights

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Low-rank archives follow the usual naming convention:
//
//	<prefix>.lora_down.weight  [rank, in]
//	<prefix>.lora_up.weight    [out, rank]
//	<prefix>.alpha             scalar per-layer scale
//
// where <prefix> encodes the target module path with underscores. Full
// checkpoint archives carry tensors under the base names directly and are
// blended wholesale.

const (
	loraDownSuffix = ".lora_down.weight"
	loraUpSuffix   = ".lora_up.weight"
	loraAlphaKey   = ".alpha"
)

// IsLoRA reports whether the archive contains low-rank delta pairs.
func IsLoRA(delta *Archive) bool {
	for name := range delta.Tensors {
		if strings.HasSuffix(name, loraDownSuffix) {
			return true
		}
	}
	return false
}

// Apply merges a personalization delta into a fresh copy of base.
// blendAlpha weights how much of the delta flows in; multiplier is the
// delta's own application strength. The base archive is never modified.
func Apply(base, delta *Archive, blendAlpha, multiplier float32) (*Archive, error) {
	if IsLoRA(delta) {
		return applyLoRA(base, delta, blendAlpha, multiplier)
	}
	return applyFull(base, delta, blendAlpha)
}

// applyLoRA computes W' = W + blendAlpha * multiplier * (alpha/rank) * (up @ down)
// for every matched low-rank pair.
func applyLoRA(base, delta *Archive, blendAlpha, multiplier float32) (*Archive, error) {
	merged := cloneArchive(base)
	index := normalizedIndex(base)

	matched := 0
	for name, down := range delta.Tensors {
		if !strings.HasSuffix(name, loraDownSuffix) {
			continue
		}
		prefix := strings.TrimSuffix(name, loraDownSuffix)
		up, ok := delta.Tensors[prefix+loraUpSuffix]
		if !ok {
			return nil, fmt.Errorf("lora pair %s: missing up projection", prefix)
		}
		if len(down.Shape) != 2 || len(up.Shape) != 2 {
			return nil, fmt.Errorf("lora pair %s: projections must be 2-D, got %v and %v", prefix, up.Shape, down.Shape)
		}
		rank := down.Shape[0]
		in := down.Shape[1]
		out := up.Shape[0]
		if up.Shape[1] != rank {
			return nil, fmt.Errorf("lora pair %s: rank mismatch (%d vs %d)", prefix, up.Shape[1], rank)
		}

		scale := float32(1)
		if a, ok := delta.Tensors[prefix+loraAlphaKey]; ok && len(a.Data) > 0 {
			scale = a.Data[0] / float32(rank)
		}

		targetKey, ok := index[normalizeKey(stripLoRAPrefix(prefix))]
		if !ok {
			continue // delta for a module this backbone does not have
		}
		target := merged.Tensors[targetKey]
		if target.Numel() != out*in {
			return nil, fmt.Errorf("lora pair %s: delta %dx%d does not fit target %s %v", prefix, out, in, targetKey, target.Shape)
		}

		upM := mat.NewDense(out, rank, toFloat64(up.Data))
		downM := mat.NewDense(rank, in, toFloat64(down.Data))
		var dw mat.Dense
		dw.Mul(upM, downM)

		k := blendAlpha * multiplier * scale
		raw := dw.RawMatrix()
		for r := 0; r < out; r++ {
			row := raw.Data[r*raw.Stride : r*raw.Stride+in]
			for c, v := range row {
				target.Data[r*in+c] += k * float32(v)
			}
		}
		matched++
	}
	if matched == 0 {
		return nil, fmt.Errorf("no lora pair matched any base tensor")
	}
	return merged, nil
}

// applyFull blends a full checkpoint: W' = (1-a)*W + a*W_delta for every
// tensor present in both archives with matching shapes.
func applyFull(base, delta *Archive, blendAlpha float32) (*Archive, error) {
	merged := cloneArchive(base)
	matched := 0
	for name, d := range delta.Tensors {
		t, ok := merged.Tensors[name]
		if !ok || t.Numel() != d.Numel() {
			continue
		}
		for i := range t.Data {
			t.Data[i] = (1-blendAlpha)*t.Data[i] + blendAlpha*d.Data[i]
		}
		matched++
	}
	if matched == 0 {
		return nil, fmt.Errorf("checkpoint blend matched no base tensor")
	}
	return merged, nil
}

func cloneArchive(a *Archive) *Archive {
	out := &Archive{Tensors: make(map[string]*Tensor, len(a.Tensors))}
	for name, t := range a.Tensors {
		out.Tensors[name] = t.Clone()
	}
	return out
}

// stripLoRAPrefix drops the leading network tag (lora_unet_, lora_te_, ...).
func stripLoRAPrefix(prefix string) string {
	for _, tag := range []string{"lora_unet_", "lora_te_", "lora_vae_"} {
		if strings.HasPrefix(prefix, tag) {
			return strings.TrimPrefix(prefix, tag)
		}
	}
	return prefix
}

// normalizedIndex maps separator-free tensor names back to their real keys,
// so underscore-encoded lora prefixes can find dot-separated base names.
func normalizedIndex(a *Archive) map[string]string {
	index := make(map[string]string, len(a.Tensors))
	for name := range a.Tensors {
		key := normalizeKey(strings.TrimSuffix(name, ".weight"))
		index[key] = name
	}
	return index
}

func normalizeKey(s string) string {
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, "_", "")
	return s
}

func toFloat64(data []float32) []float64 {
	out := make([]float64, len(data))
	for i, v := range data {
		out[i] = float64(v)
	}
	return out
}
