package weights

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchiveSaveOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.safetensors")

	a := &Archive{Tensors: map[string]*Tensor{
		"conv.weight": {Data: []float32{0.25, -1.5, 3, 0}, Shape: []int{2, 2}},
		"conv.bias":   {Data: []float32{7}, Shape: []int{1}},
	}}
	require.NoError(t, a.Save(path))

	b, err := Open(path)
	require.NoError(t, err)
	require.Len(t, b.Tensors, 2)
	assert.Equal(t, []int{2, 2}, b.Tensors["conv.weight"].Shape)
	assert.Equal(t, []float32{0.25, -1.5, 3, 0}, b.Tensors["conv.weight"].Data)
	assert.Equal(t, []float32{7}, b.Tensors["conv.bias"].Data)
}

func TestOpenRejectsTruncated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.safetensors")
	require.NoError(t, os.WriteFile(path, []byte{1, 2, 3}, 0o644))
	_, err := Open(path)
	assert.Error(t, err)
}

func TestStagePassthrough(t *testing.T) {
	dir, err := Stage("/models/unet", "", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, "/models/unet", dir)
}

func TestStageAlternateDir(t *testing.T) {
	alt := t.TempDir()
	dir, err := Stage("/models/unet", alt, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, alt, dir)
}

func TestStageMergesLoRA(t *testing.T) {
	baseDir := t.TempDir()
	base := &Archive{Tensors: map[string]*Tensor{
		"attn.to_q.weight": {Data: []float32{1, 0, 0, 1}, Shape: []int{2, 2}},
	}}
	require.NoError(t, base.Save(filepath.Join(baseDir, unetArchive)))

	loraPath := filepath.Join(t.TempDir(), "style.safetensors")
	lora := &Archive{Tensors: map[string]*Tensor{
		"lora_unet_attn_to_q.lora_down.weight": {Data: []float32{1, 1}, Shape: []int{1, 2}},
		"lora_unet_attn_to_q.lora_up.weight":   {Data: []float32{1, 1}, Shape: []int{2, 1}},
	}}
	require.NoError(t, lora.Save(loraPath))

	staged, err := Stage(baseDir, loraPath, 1, 1)
	require.NoError(t, err)
	assert.NotEqual(t, baseDir, staged)

	merged, err := Open(filepath.Join(staged, unetArchive))
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{2, 1, 1, 2}, merged.Tensors["attn.to_q.weight"].Data, 1e-6)

	// Base archive on disk is untouched.
	orig, err := Open(filepath.Join(baseDir, unetArchive))
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0, 1}, orig.Tensors["attn.to_q.weight"].Data)
}
