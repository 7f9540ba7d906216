package diffusion

import "fmt"

// Tiled VAE decoding. Decoding a latent in one shot allocates activation
// memory proportional to the output resolution; decoding overlapping
// spatial tiles bounds peak memory by the tile size instead. Overlap
// regions are blended with linear ramps so tile boundaries stay seamless;
// tiling is a memory optimization, not a semantic change.

// tileOverlapDivisor: overlap is a quarter of the tile size, in latent units.
const tileOverlapDivisor = 4

// TiledDecode decodes a [1,4,lh,lw] latent in tiles of tileSize (latent
// units) and reassembles the [1,3,8*lh,8*lw] image tensor with blended
// borders. Falls back to a single full decode when the latent already fits
// in one tile.
func TiledDecode(dec Decoder, latent []float32, lw, lh, tileSize int) ([]float32, error) {
	if tileSize <= 0 {
		return nil, fmt.Errorf("tile size %d out of range", tileSize)
	}
	if tileSize >= lw && tileSize >= lh {
		return dec.Decode(latent, lw, lh)
	}

	overlap := tileSize / tileOverlapDivisor
	if overlap < 1 {
		overlap = 1
	}
	step := tileSize - overlap
	if step < 1 {
		step = 1
	}

	W, H := lw*8, lh*8
	acc := make([]float32, 3*W*H)
	norm := make([]float32, W*H)
	rampPx := overlap * 8

	for y0 := 0; ; y0 += step {
		y1 := y0 + tileSize
		if y1 >= lh {
			y1 = lh
			if y1-tileSize > 0 {
				y0 = y1 - tileSize
			} else {
				y0 = 0
			}
		}
		for x0 := 0; ; x0 += step {
			x1 := x0 + tileSize
			if x1 >= lw {
				x1 = lw
				if x1-tileSize > 0 {
					x0 = x1 - tileSize
				} else {
					x0 = 0
				}
			}

			tw, th := x1-x0, y1-y0
			tile := extractTile(latent, lw, lh, x0, y0, tw, th)
			decoded, err := dec.Decode(tile, tw, th)
			if err != nil {
				return nil, fmt.Errorf("tile (%d,%d): %w", x0, y0, err)
			}

			pw, ph := tw*8, th*8
			px0, py0 := x0*8, y0*8
			for y := 0; y < ph; y++ {
				wy := rampWeight(y, ph, rampPx)
				for x := 0; x < pw; x++ {
					w := wy * rampWeight(x, pw, rampPx)
					gi := (py0+y)*W + (px0 + x)
					for c := 0; c < 3; c++ {
						acc[c*W*H+gi] += w * decoded[c*ph*pw+y*pw+x]
					}
					norm[gi] += w
				}
			}

			if x1 == lw {
				break
			}
		}
		if y1 == lh {
			break
		}
	}

	for c := 0; c < 3; c++ {
		for i, n := range norm {
			acc[c*W*H+i] /= n
		}
	}
	return acc, nil
}

// extractTile copies a [1,4,th,tw] latent window starting at (x0,y0).
func extractTile(latent []float32, lw, lh, x0, y0, tw, th int) []float32 {
	tile := make([]float32, latentChannels*th*tw)
	for c := 0; c < latentChannels; c++ {
		for y := 0; y < th; y++ {
			src := c*lh*lw + (y0+y)*lw + x0
			dst := c*th*tw + y*tw
			copy(tile[dst:dst+tw], latent[src:src+tw])
		}
	}
	return tile
}

// rampWeight rises linearly from a tile edge over rampPx pixels and is
// never zero, so normalization stays well defined at image borders.
func rampWeight(local, size, rampPx int) float32 {
	d := local + 1
	if size-local < d {
		d = size - local
	}
	if d > rampPx {
		d = rampPx
	}
	return float32(d)
}
