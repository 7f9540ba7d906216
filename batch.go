package main

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"claro/diffusion"
	"claro/imaging"
	"claro/prompt"
)

// generator is the sampling seam of the batch loop. The production
// implementation is *diffusion.Pipeline.
type generator interface {
	Generate(cfg diffusion.Config, conditioning *image.RGBA) (*image.RGBA, error)
}

// result records the outcome of one input image.
type result struct {
	Name string
	Path string
	Err  error
}

// processBatch runs the batch sequentially. A failing image is logged and
// skipped; it never aborts the rest of the batch.
func processBatch(o options, synth *prompt.Synthesizer, gen generator, logger *slog.Logger, inputs []string) []result {
	results := make([]result, 0, len(inputs))
	for _, in := range inputs {
		name := filepath.Base(in)
		logger.Info("processing", "image", name)
		outPath, err := processOne(o, synth, gen, in)
		if err != nil {
			logger.Error("image failed", "image", name, "err", err)
		} else {
			logger.Info("written", "image", name, "out", outPath)
		}
		results = append(results, result{Name: name, Path: outPath, Err: err})
	}
	return results
}

// processOne takes one input image through prompt synthesis, geometry
// normalization, guided generation, color fixing and restoration, and
// writes the final PNG. Returns the output path.
func processOne(o options, synth *prompt.Synthesizer, gen generator, inPath string) (string, error) {
	src, err := loadImage(inPath)
	if err != nil {
		return "", err
	}
	original := imaging.ToRGBA(src)

	grayscale := o.ControlType == "grayscale"
	if grayscale {
		original = imaging.GrayscaleRGB(original)
	}

	guidance, err := synth.Synthesize(original, o.Prompt)
	if err != nil {
		return "", fmt.Errorf("prompt synthesis: %w", err)
	}
	fullPrompt := guidance
	negative := o.NegativePrompt
	if grayscale {
		// Colorization steers away from monochrome output; the restoration
		// quality suffix does not apply.
		negative = "b&w"
	} else {
		if fullPrompt != "" && !strings.HasSuffix(fullPrompt, ", ") {
			fullPrompt += ", "
		}
		fullPrompt += o.AddedPrompt
	}

	work, geo, err := imaging.Normalize(original, o.Upscale, o.ProcessSize)
	if err != nil {
		return "", fmt.Errorf("normalize: %w", err)
	}

	cfg := diffusion.Config{
		Prompt:            fullPrompt,
		NegativePrompt:    negative,
		Steps:             o.Steps,
		GuidanceScale:     o.GuidanceScale,
		ConditioningScale: o.ConditioningScale,
		TileSize:          o.TileSize / 8, // latent tiles, pixel tile size on the flag
	}

	generated, err := gen.Generate(cfg, work)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}

	fixed := imaging.WaveletColorFix(generated, work)
	out := imaging.Restore(fixed, geo)

	if grayscale {
		// Keep the authentic luma of the input; only the chroma comes from
		// the generated colorization.
		ref := imaging.Resize(original, geo.OrigW*geo.Upscale, geo.OrigH*geo.Upscale, xdraw.BiLinear)
		out = imaging.RecolorChroma(ref, out)
	}

	outPath := filepath.Join(o.OutDir, outputName(inPath))
	if err := savePNG(out, outPath); err != nil {
		return "", fmt.Errorf("save: %w", err)
	}
	return outPath, nil
}

func outputName(inPath string) string {
	base := filepath.Base(inPath)
	return strings.TrimSuffix(base, filepath.Ext(base)) + ".png"
}

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

func savePNG(img image.Image, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}
