// claro upscales and restores photographs with a ControlNet-conditioned
// diffusion backbone running on ONNX Runtime. One invocation processes a
// single image or a whole directory, writing one PNG per input.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

// options is the immutable run configuration resolved from the CLI flags.
type options struct {
	ModelDir        string
	ControlDir      string
	UNetDir         string // resolved after personalization staging
	Personalization string
	PerceptionDir   string

	ControlType   string // realisr | grayscale
	HighLevelInfo string // "" | classification | detection | caption

	Prompt         string
	AddedPrompt    string
	NegativePrompt string

	Input  string
	OutDir string

	GuidanceScale     float32
	ConditioningScale float32
	Steps             int
	ProcessSize       int
	TileSize          int
	Upscale           int
	BlendAlpha        float32
	Multiplier        float32
	Seed              int64
}

func main() {
	var (
		modelDir        string
		controlDir      string
		personalization string
		perceptionDir   = "annotators"
		controlType     = "realisr"
		highLevelInfo   string
		promptStr       string
		addedPrompt     = "clean, high-resolution, 8k"
		negativePrompt  = "dotted, noise, blur, lowres, over-smooth"
		input           string
		outDir          = "output"
		guidance        = float64(7.5)
		conditioning    = float64(1.0)
		steps           = int64(20)
		processSize     = int64(768)
		tileSize        = int64(224)
		upscale         = int64(4)
		blendAlpha      = float64(1.0)
		multiplier      = float64(0.6)
		seed            = int64(42)
	)

	cmd := &cli.Command{
		Name:  "claro",
		Usage: "diffusion-guided image super-resolution and restoration",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "model",
				Usage:       "base checkpoint directory (text_encoder, unet, vae, tokenizer)",
				Required:    true,
				Destination: &modelDir,
			},
			&cli.StringFlag{
				Name:        "controlnet",
				Usage:       "conditioning network directory (defaults to <model>/controlnet)",
				Destination: &controlDir,
			},
			&cli.StringFlag{
				Name:        "personalization",
				Usage:       "LoRA safetensors file or alternate UNet checkpoint directory",
				Destination: &personalization,
			},
			&cli.StringFlag{
				Name:        "perception",
				Usage:       "perception model directory for --high-level-info backends",
				Value:       perceptionDir,
				Destination: &perceptionDir,
			},
			&cli.StringFlag{
				Name:        "control-type",
				Usage:       "conditioning mode: realisr or grayscale",
				Value:       controlType,
				Destination: &controlType,
			},
			&cli.StringFlag{
				Name:        "high-level-info",
				Usage:       "prompt synthesis mode: classification, detection, caption or empty",
				Destination: &highLevelInfo,
			},
			&cli.StringFlag{
				Name:        "prompt",
				Usage:       "user prompt prepended to the synthesized guidance",
				Destination: &promptStr,
			},
			&cli.StringFlag{
				Name:        "added-prompt",
				Usage:       "quality suffix appended to every prompt",
				Value:       addedPrompt,
				Destination: &addedPrompt,
			},
			&cli.StringFlag{
				Name:        "negative-prompt",
				Usage:       "negative prompt",
				Value:       negativePrompt,
				Destination: &negativePrompt,
			},
			&cli.StringFlag{
				Name:        "image",
				Usage:       "input image file or directory",
				Required:    true,
				Destination: &input,
			},
			&cli.StringFlag{
				Name:        "out",
				Usage:       "output directory",
				Value:       outDir,
				Destination: &outDir,
			},
			&cli.FloatFlag{
				Name:        "guidance-scale",
				Usage:       "classifier-free guidance scale",
				Value:       guidance,
				Destination: &guidance,
			},
			&cli.FloatFlag{
				Name:        "conditioning-scale",
				Usage:       "ControlNet residual strength (0 unconditioned, 1 full)",
				Value:       conditioning,
				Destination: &conditioning,
			},
			&cli.IntFlag{
				Name:        "steps",
				Usage:       "denoising steps",
				Value:       steps,
				Destination: &steps,
			},
			&cli.IntFlag{
				Name:        "process-size",
				Usage:       "minimum shorter side handed to the backbone",
				Value:       processSize,
				Destination: &processSize,
			},
			&cli.IntFlag{
				Name:        "tile-size",
				Usage:       "VAE decode tile size in pixels (0 disables tiling)",
				Value:       tileSize,
				Destination: &tileSize,
			},
			&cli.IntFlag{
				Name:        "upscale",
				Usage:       "integer upscale factor",
				Value:       upscale,
				Destination: &upscale,
			},
			&cli.FloatFlag{
				Name:        "blending-alpha",
				Usage:       "personalization blend weight",
				Value:       blendAlpha,
				Destination: &blendAlpha,
			},
			&cli.FloatFlag{
				Name:        "multiplier",
				Usage:       "LoRA delta multiplier",
				Value:       multiplier,
				Destination: &multiplier,
			},
			&cli.IntFlag{
				Name:        "seed",
				Usage:       "noise seed",
				Value:       seed,
				Destination: &seed,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return run(options{
				ModelDir:          modelDir,
				ControlDir:        controlDir,
				Personalization:   personalization,
				PerceptionDir:     perceptionDir,
				ControlType:       controlType,
				HighLevelInfo:     highLevelInfo,
				Prompt:            promptStr,
				AddedPrompt:       addedPrompt,
				NegativePrompt:    negativePrompt,
				Input:             input,
				OutDir:            outDir,
				GuidanceScale:     float32(guidance),
				ConditioningScale: float32(conditioning),
				Steps:             int(steps),
				ProcessSize:       int(processSize),
				TileSize:          int(tileSize),
				Upscale:           int(upscale),
				BlendAlpha:        float32(blendAlpha),
				Multiplier:        float32(multiplier),
				Seed:              seed,
			})
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fatal("%v", err)
	}
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
