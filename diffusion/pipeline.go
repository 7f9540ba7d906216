package diffusion

import (
	"fmt"
	"image"
	"math/rand"
	"time"

	"claro/imaging"
	"claro/prompt"
)

// latentScale is the VAE latent scaling factor of the backbone.
const latentScale = 0.18215

// latentChannels is the latent channel count of the backbone.
const latentChannels = 4

// TextEncoder turns token IDs into the cross-attention embedding.
type TextEncoder interface {
	Encode(tokens []int) ([]float32, error)
}

// Control carries the conditioning image as a [1,3,H,W] tensor in [-1,1]
// plus the strength with which its control signal is injected: 0 means
// unconditioned generation, 1 full strength.
type Control struct {
	Image []float32
	W, H  int
	Scale float32
}

// Denoiser predicts noise for a latent sample at one timestep. The
// implementation owns the ControlNet pass and scales its residuals by
// ctrl.Scale before the UNet consumes them.
type Denoiser interface {
	Denoise(sample []float32, w, h int, timestep int, emb []float32, ctrl *Control) ([]float32, error)
}

// Decoder decodes a [1,4,h,w] latent to a [1,3,8h,8w] image tensor.
type Decoder interface {
	Decode(latent []float32, w, h int) ([]float32, error)
}

// Config is the immutable per-run sampling configuration.
type Config struct {
	Prompt            string
	NegativePrompt    string
	Steps             int
	GuidanceScale     float32
	ConditioningScale float32
	TileSize          int // latent tile size for decoding; 0 disables tiling
}

// Pipeline wires tokenizer, text encoder, denoiser, scheduler and decoder
// into the guided generation loop. Construct once, reuse read-only across a
// batch; only the RNG advances between calls.
type Pipeline struct {
	Tokenizer *prompt.Tokenizer
	Text      TextEncoder
	Denoiser  Denoiser
	Decoder   Decoder
	Scheduler *DDIMScheduler

	rng *rand.Rand
}

// NewPipeline assembles a pipeline with a freshly seeded RNG.
func NewPipeline(tok *prompt.Tokenizer, text TextEncoder, den Denoiser, dec Decoder, seed int64) *Pipeline {
	return &Pipeline{
		Tokenizer: tok,
		Text:      text,
		Denoiser:  den,
		Decoder:   dec,
		Scheduler: DefaultScheduler(),
		rng:       rand.New(rand.NewSource(seed)),
	}
}

// Generate produces one image guided by the conditioning image and the
// prompts in cfg. Deterministic for a fixed seed, weights and inputs.
func (p *Pipeline) Generate(cfg Config, conditioning *image.RGBA) (*image.RGBA, error) {
	if cfg.Steps < 1 {
		return nil, fmt.Errorf("step count %d out of range", cfg.Steps)
	}
	condTensor, W, H := imaging.ToTensor(conditioning)
	if W%8 != 0 || H%8 != 0 {
		return nil, fmt.Errorf("conditioning image %dx%d not aligned to the latent factor", W, H)
	}
	lw, lh := W/8, H/8

	// Text encoding
	condEmb, err := p.Text.Encode(p.Tokenizer.Encode(cfg.Prompt))
	if err != nil {
		return nil, fmt.Errorf("prompt encoding: %w", err)
	}
	useCFG := cfg.GuidanceScale > 1.0
	var uncondEmb []float32
	if useCFG {
		uncondEmb, err = p.Text.Encode(p.Tokenizer.Encode(cfg.NegativePrompt))
		if err != nil {
			return nil, fmt.Errorf("negative prompt encoding: %w", err)
		}
	}

	ctrl := &Control{Image: condTensor, W: W, H: H, Scale: cfg.ConditioningScale}

	// Diffusion
	timesteps := p.Scheduler.SetTimesteps(cfg.Steps)
	latent := gaussianNoise(p.rng, 1, latentChannels, lh, lw)

	totalStart := time.Now()
	for step, t := range timesteps {
		var noisePred []float32
		if useCFG {
			noiseUncond, err := p.Denoiser.Denoise(latent, lw, lh, t, uncondEmb, ctrl)
			if err != nil {
				return nil, fmt.Errorf("denoise uncond step %d: %w", step, err)
			}
			noiseCond, err := p.Denoiser.Denoise(latent, lw, lh, t, condEmb, ctrl)
			if err != nil {
				return nil, fmt.Errorf("denoise cond step %d: %w", step, err)
			}
			noisePred = make([]float32, len(noiseUncond))
			for i := range noisePred {
				noisePred[i] = noiseUncond[i] + cfg.GuidanceScale*(noiseCond[i]-noiseUncond[i])
			}
		} else {
			noisePred, err = p.Denoiser.Denoise(latent, lw, lh, t, condEmb, ctrl)
			if err != nil {
				return nil, fmt.Errorf("denoise step %d: %w", step, err)
			}
		}
		latent = p.Scheduler.Step(noisePred, t, latent)
	}
	fmt.Printf("  diffusion: %d steps in %.1fs\n", cfg.Steps, time.Since(totalStart).Seconds())

	// VAE decode
	scaled := make([]float32, len(latent))
	for i := range latent {
		scaled[i] = latent[i] / latentScale
	}

	var imgData []float32
	if cfg.TileSize > 0 {
		imgData, err = TiledDecode(p.Decoder, scaled, lw, lh, cfg.TileSize)
	} else {
		imgData, err = p.Decoder.Decode(scaled, lw, lh)
	}
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	return imaging.FromTensor(imgData, H, W), nil
}
