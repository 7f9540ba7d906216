package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	ort "github.com/yalue/onnxruntime_go"

	"claro/diffusion"
	"claro/onnx"
	"claro/prompt"
	"claro/weights"
)

// run wires the whole system up and processes the batch. Everything loaded
// here is frozen for the duration of the run; configuration problems and
// missing components abort before the first image is touched.
func run(o options) error {
	if o.ControlType != "realisr" && o.ControlType != "grayscale" {
		return fmt.Errorf("unknown control type %q (want realisr or grayscale)", o.ControlType)
	}
	if o.Steps < 1 {
		return fmt.Errorf("steps %d out of range (want at least 1)", o.Steps)
	}
	if o.TileSize != 0 && o.TileSize < 8 {
		return fmt.Errorf("tile size %d out of range (0 disables tiling, otherwise at least 8 pixels)", o.TileSize)
	}
	if o.ControlDir == "" {
		o.ControlDir = filepath.Join(o.ModelDir, "controlnet")
	}

	if err := onnx.Init(); err != nil {
		return err
	}
	defer onnx.Shutdown()

	ortOpts, err := onnx.NewOptions()
	if err != nil {
		return err
	}
	defer ortOpts.Destroy()

	unetDir, err := weights.Stage(filepath.Join(o.ModelDir, "unet"), o.Personalization, o.BlendAlpha, o.Multiplier)
	if err != nil {
		return err
	}
	o.UNetDir = unetDir

	tok, err := prompt.LoadTokenizer(filepath.Join(o.ModelDir, "tokenizer"))
	if err != nil {
		return err
	}

	synth, err := newSynthesizer(o, ortOpts)
	if err != nil {
		return err
	}

	engine, err := diffusion.NewEngine(o.ModelDir, o.ControlDir, unetDir, ortOpts)
	if err != nil {
		return err
	}
	defer engine.Destroy()

	pipe := diffusion.NewPipeline(tok, engine, engine, engine, o.Seed)

	inputs, err := listInputs(o.Input)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(o.OutDir, 0o755); err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	results := processBatch(o, synth, pipe, logger, inputs)

	okCount := 0
	for _, r := range results {
		if r.Err == nil {
			okCount++
		}
	}
	logger.Info("batch finished", "total", len(results), "ok", okCount, "failed", len(results)-okCount)
	if len(results) > 0 && okCount == 0 {
		return fmt.Errorf("all %d images failed", len(results))
	}
	return nil
}

// newSynthesizer loads only the perception backend the chosen mode needs.
func newSynthesizer(o options, opts *ort.SessionOptions) (*prompt.Synthesizer, error) {
	mode := prompt.Mode(o.HighLevelInfo)
	var (
		classifier prompt.Classifier
		detector   prompt.Detector
		captioner  prompt.Captioner
	)
	switch mode {
	case prompt.ModeClassification:
		c, err := prompt.NewONNXClassifier(filepath.Join(o.PerceptionDir, "classifier"), opts)
		if err != nil {
			return nil, fmt.Errorf("classifier: %w", err)
		}
		classifier = c
	case prompt.ModeDetection:
		d, err := prompt.NewONNXDetector(filepath.Join(o.PerceptionDir, "detector"), opts)
		if err != nil {
			return nil, fmt.Errorf("detector: %w", err)
		}
		detector = d
	case prompt.ModeCaption:
		c, err := prompt.NewONNXCaptioner(filepath.Join(o.PerceptionDir, "captioner"), opts)
		if err != nil {
			return nil, fmt.Errorf("captioner: %w", err)
		}
		captioner = c
	}
	return prompt.NewSynthesizer(mode, classifier, detector, captioner)
}

// listInputs expands a file-or-directory path into a sorted list of image
// files, so batch order is stable across runs and filesystems.
func listInputs(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("input %s: %w", path, err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !isImageFile(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(path, e.Name()))
	}
	sort.Strings(files)
	if len(files) == 0 {
		return nil, fmt.Errorf("no images found in %s", path)
	}
	return files, nil
}

func isImageFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp":
		return true
	}
	return false
}
