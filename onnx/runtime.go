// Package onnx wraps the ONNX Runtime bindings with the small amount of
// plumbing every session in this project needs: shared-library discovery,
// environment lifecycle, dtype-aware tensor construction and fp16 handling.
package onnx

import (
	"fmt"
	"os"

	ort "github.com/yalue/onnxruntime_go"
)

// FindLibrary looks for libonnxruntime in common locations.
// The ONNXRUNTIME_LIB env var overrides the search.
func FindLibrary() string {
	if p := os.Getenv("ONNXRUNTIME_LIB"); p != "" {
		return p
	}
	candidates := []string{
		"/usr/lib/libonnxruntime.so",
		"/usr/local/lib/libonnxruntime.so",
		"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
		"/usr/local/lib/libonnxruntime.dylib",
		"/opt/homebrew/lib/libonnxruntime.dylib",
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

// Init locates the runtime library and initializes the ORT environment.
// A missing library is a startup-fatal condition for the whole program,
// so callers are expected to abort on error before any image is touched.
func Init() error {
	lib := FindLibrary()
	if lib == "" {
		return fmt.Errorf("libonnxruntime not found (set ONNXRUNTIME_LIB or install onnxruntime)")
	}
	ort.SetSharedLibraryPath(lib)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("ORT init: %w", err)
	}
	return nil
}

// Shutdown tears down the ORT environment. Call once, after all sessions
// have been destroyed.
func Shutdown() {
	ort.DestroyEnvironment()
}

// NewOptions builds session options shared by every model in the run.
// CUDA is only attempted when CLARO_GPU=1; a failed CUDA init falls back
// to CPU rather than aborting.
func NewOptions() (*ort.SessionOptions, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("session options: %w", err)
	}
	opts.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableAll)

	usedGPU := false
	if os.Getenv("CLARO_GPU") == "1" {
		cudaOpts, cudaErr := ort.NewCUDAProviderOptions()
		if cudaErr == nil {
			err = opts.AppendExecutionProviderCUDA(cudaOpts)
			cudaOpts.Destroy()
			if err == nil {
				usedGPU = true
			}
		}
	}
	if !usedGPU {
		opts.SetIntraOpNumThreads(4)
		opts.SetInterOpNumThreads(1)
	}
	return opts, nil
}
