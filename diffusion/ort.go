package diffusion

import (
	"fmt"
	"path/filepath"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"claro/onnx"
)

// Engine holds the ONNX Runtime sessions for the diffusion backbone: text
// encoder, ControlNet side network, UNet and VAE decoder. Sessions are
// loaded once, frozen, and reused read-only across the whole batch.
type Engine struct {
	text       *onnx.Session
	controlnet *onnx.Session
	unet       *onnx.Session
	vae        *onnx.Session

	embWidth int
}

// clipEmbWidth is the text embedding width of the SD 1.x family.
const clipEmbWidth = 768

// NewEngine loads all backbone sessions. modelDir holds the shared
// components (text_encoder, vae), controlDir the conditioning network and
// unetDir the (possibly personalized) UNet checkpoint.
func NewEngine(modelDir, controlDir, unetDir string, opts *ort.SessionOptions) (*Engine, error) {
	e := &Engine{embWidth: clipEmbWidth}

	load := func(name, path string, dst **onnx.Session) error {
		fmt.Printf("Loading %s... ", name)
		start := time.Now()
		sess, err := onnx.NewSession(path, opts)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = sess
		fmt.Printf("done (%v)\n", time.Since(start))
		return nil
	}

	if err := load("text encoder", filepath.Join(modelDir, "text_encoder", "model.onnx"), &e.text); err != nil {
		return nil, err
	}
	if err := load("controlnet", filepath.Join(controlDir, "model.onnx"), &e.controlnet); err != nil {
		e.Destroy()
		return nil, err
	}
	if err := load("unet", filepath.Join(unetDir, "model.onnx"), &e.unet); err != nil {
		e.Destroy()
		return nil, err
	}
	if err := load("vae decoder", filepath.Join(modelDir, "vae", "decoder.onnx"), &e.vae); err != nil {
		e.Destroy()
		return nil, err
	}
	return e, nil
}

// Destroy releases all sessions.
func (e *Engine) Destroy() {
	for _, s := range []*onnx.Session{e.text, e.controlnet, e.unet, e.vae} {
		if s != nil {
			s.Destroy()
		}
	}
}

// Encode implements TextEncoder: token IDs → [1,77,768] embedding.
func (e *Engine) Encode(tokens []int) ([]float32, error) {
	ids := make([]int64, len(tokens))
	for i, t := range tokens {
		ids[i] = int64(t)
	}
	outputs, err := e.text.Run([]onnx.Value{
		{Ints: ids, Shape: []int64{1, int64(len(ids))}},
	})
	if err != nil {
		return nil, fmt.Errorf("text encoder: %w", err)
	}
	// First output is last_hidden_state.
	return outputs[0], nil
}

// Denoise implements Denoiser. The ControlNet pass produces the down-block
// and mid-block residuals from the conditioning image; the residuals are
// scaled by ctrl.Scale and fed to the UNet alongside the usual inputs.
func (e *Engine) Denoise(sample []float32, w, h int, timestep int, emb []float32, ctrl *Control) ([]float32, error) {
	sampleShape := []int64{1, latentChannels, int64(h), int64(w)}
	embShape := []int64{1, int64(len(emb) / e.embWidth), int64(e.embWidth)}

	residuals, err := e.controlnet.Run([]onnx.Value{
		{Floats: sample, Shape: sampleShape},
		{Ints: []int64{int64(timestep)}, Shape: []int64{1}},
		{Floats: emb, Shape: embShape},
		{Floats: ctrl.Image, Shape: []int64{1, 3, int64(ctrl.H), int64(ctrl.W)}},
	})
	if err != nil {
		return nil, fmt.Errorf("controlnet: %w", err)
	}
	for _, res := range residuals {
		for i := range res {
			res[i] *= ctrl.Scale
		}
	}

	inputs := make([]onnx.Value, 0, 3+len(residuals))
	inputs = append(inputs,
		onnx.Value{Floats: sample, Shape: sampleShape},
		onnx.Value{Ints: []int64{int64(timestep)}, Shape: []int64{1}},
		onnx.Value{Floats: emb, Shape: embShape},
	)
	// Residual shapes follow the UNet's declared inputs; each residual is
	// passed through with the spatial dims it came out of the ControlNet.
	for i, res := range residuals {
		shape, err := residualShape(len(res), w, h, i, len(residuals))
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, onnx.Value{Floats: res, Shape: shape})
	}

	outputs, err := e.unet.Run(inputs)
	if err != nil {
		return nil, fmt.Errorf("unet: %w", err)
	}
	return outputs[0], nil
}

// residualShape reconstructs the [1,C,H,W] shape of a ControlNet residual
// from its flat length. Down-block residuals halve the spatial dims every
// three blocks; the final residual is the mid-block at 1/8 resolution.
func residualShape(n, w, h, index, total int) ([]int64, error) {
	level := index / 3
	if index == total-1 {
		level = 3 // mid block sits at the deepest resolution
	}
	if level > 3 {
		level = 3
	}
	rw, rh := w>>level, h>>level
	if rw == 0 || rh == 0 {
		return nil, fmt.Errorf("residual %d: latent %dx%d too small for level %d", index, w, h, level)
	}
	c := n / (rw * rh)
	if c*rw*rh != n {
		return nil, fmt.Errorf("residual %d: length %d does not factor over %dx%d", index, n, rw, rh)
	}
	return []int64{1, int64(c), int64(rh), int64(rw)}, nil
}

// Decode implements Decoder: [1,4,h,w] latent → [1,3,8h,8w] image tensor.
func (e *Engine) Decode(latent []float32, w, h int) ([]float32, error) {
	outputs, err := e.vae.Run([]onnx.Value{
		{Floats: latent, Shape: []int64{1, latentChannels, int64(h), int64(w)}},
	})
	if err != nil {
		return nil, fmt.Errorf("vae decoder: %w", err)
	}
	return outputs[0], nil
}
