// Package weights loads, patches and stages model weight archives.
//
// The diffusion backbone itself executes as ONNX sessions; this package
// owns the safetensors side of the world: reading checkpoint archives,
// merging personalization deltas (low-rank or full blends) into a fresh
// copy of the base weights, and writing the merged archive back out for
// the session loader to consume.
package weights

// Tensor is a named weight: flat float32 data plus its shape.
type Tensor struct {
	Data  []float32
	Shape []int
}

// Numel returns the number of elements implied by the shape.
func (t *Tensor) Numel() int {
	n := 1
	for _, s := range t.Shape {
		n *= s
	}
	return n
}

// Clone returns a deep copy. Personalization always operates on clones so
// the base backbone stays reusable across runs.
func (t *Tensor) Clone() *Tensor {
	d := make([]float32, len(t.Data))
	copy(d, t.Data)
	return &Tensor{Data: d, Shape: append([]int{}, t.Shape...)}
}
