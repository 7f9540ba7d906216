package diffusion

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// localDecoder expands every latent value into an 8x8 pixel block with a
// fixed affine mapping, averaged over the four latent channels. Purely
// local, so a tiled decode must reproduce the full decode exactly.
type localDecoder struct {
	calls    int
	maxTileW int
}

func (d *localDecoder) Decode(latent []float32, w, h int) ([]float32, error) {
	d.calls++
	if w > d.maxTileW {
		d.maxTileW = w
	}
	W, H := w*8, h*8
	out := make([]float32, 3*W*H)
	for ly := 0; ly < h; ly++ {
		for lx := 0; lx < w; lx++ {
			var v float32
			for c := 0; c < latentChannels; c++ {
				v += latent[c*h*w+ly*w+lx]
			}
			v = v/latentChannels*0.5 + 0.1
			for dy := 0; dy < 8; dy++ {
				for dx := 0; dx < 8; dx++ {
					pi := (ly*8+dy)*W + lx*8 + dx
					out[0*W*H+pi] = v
					out[1*W*H+pi] = -v
					out[2*W*H+pi] = v * 2
				}
			}
		}
	}
	return out, nil
}

func randomLatent(lw, lh int, seed int64) []float32 {
	rng := rand.New(rand.NewSource(seed))
	latent := make([]float32, latentChannels*lh*lw)
	for i := range latent {
		latent[i] = float32(rng.NormFloat64())
	}
	return latent
}

func TestTiledDecodeMatchesFullDecode(t *testing.T) {
	const lw, lh = 48, 40
	latent := randomLatent(lw, lh, 7)

	full, err := (&localDecoder{}).Decode(latent, lw, lh)
	require.NoError(t, err)

	for _, tileSize := range []int{16, 24, 32} {
		dec := &localDecoder{}
		tiled, err := TiledDecode(dec, latent, lw, lh, tileSize)
		require.NoError(t, err)
		require.Len(t, tiled, len(full))

		for i := range full {
			assert.InDelta(t, full[i], tiled[i], 1e-4, "tile size %d, index %d", tileSize, i)
		}
		assert.Greater(t, dec.calls, 1, "tile size %d should decode multiple tiles", tileSize)
		assert.LessOrEqual(t, dec.maxTileW, tileSize, "tile width must be bounded by the tile size")
	}
}

func TestTiledDecodeSingleTileFallsThrough(t *testing.T) {
	const lw, lh = 16, 16
	latent := randomLatent(lw, lh, 3)
	dec := &localDecoder{}
	out, err := TiledDecode(dec, latent, lw, lh, 32)
	require.NoError(t, err)
	assert.Equal(t, 1, dec.calls)
	assert.Len(t, out, 3*lw*8*lh*8)
}

func TestTiledDecodeRejectsBadTileSize(t *testing.T) {
	_, err := TiledDecode(&localDecoder{}, randomLatent(8, 8, 1), 8, 8, 0)
	assert.Error(t, err)
}

func TestExtractTile(t *testing.T) {
	const lw, lh = 4, 3
	latent := make([]float32, latentChannels*lh*lw)
	for i := range latent {
		latent[i] = float32(i)
	}
	tile := extractTile(latent, lw, lh, 1, 1, 2, 2)
	require.Len(t, tile, latentChannels*4)
	// Channel 0 window rows: (1,1)=5,(2,1)=6 and (1,2)=9,(2,2)=10.
	assert.Equal(t, []float32{5, 6, 9, 10}, tile[:4])
}
