package weights

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// unetArchive is the weight archive layout shared with the session loader:
// the exported UNet graph references this file as external tensor data.
const unetArchive = "diffusion_pytorch_model.fp16.safetensors"

// Stage resolves a personalization spec into the UNet checkpoint directory
// the pipeline should load.
//
// A directory spec substitutes the whole module: it is returned as-is.
// A safetensors file spec is merged into a fresh copy of the base weights
// and written to a staging directory alongside the base ONNX graphs, so the
// unmodified base checkpoint stays reusable by other runs.
func Stage(baseUNetDir, spec string, blendAlpha, multiplier float32) (string, error) {
	if spec == "" {
		return baseUNetDir, nil
	}

	info, err := os.Stat(spec)
	if err != nil {
		return "", fmt.Errorf("personalization %s: %w", spec, err)
	}
	if info.IsDir() {
		return spec, nil
	}

	base, err := Open(filepath.Join(baseUNetDir, unetArchive))
	if err != nil {
		return "", fmt.Errorf("base weights: %w", err)
	}
	delta, err := Open(spec)
	if err != nil {
		return "", fmt.Errorf("personalization weights: %w", err)
	}

	merged, err := Apply(base, delta, blendAlpha, multiplier)
	if err != nil {
		return "", fmt.Errorf("apply personalization: %w", err)
	}

	staged, err := os.MkdirTemp("", "claro-unet-")
	if err != nil {
		return "", err
	}
	if err := merged.Save(filepath.Join(staged, unetArchive)); err != nil {
		return "", fmt.Errorf("write merged weights: %w", err)
	}

	// The graph files themselves are unchanged; copy them next to the
	// merged archive so external-data references resolve.
	entries, err := os.ReadDir(baseUNetDir)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".onnx" {
			continue
		}
		if err := copyFile(filepath.Join(baseUNetDir, e.Name()), filepath.Join(staged, e.Name())); err != nil {
			return "", fmt.Errorf("stage %s: %w", e.Name(), err)
		}
	}
	return staged, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
