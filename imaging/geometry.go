package imaging

import (
	"fmt"
	"image"

	xdraw "golang.org/x/image/draw"
)

// latentFactor is the downsampling factor of the backbone's latent space.
// Working dimensions handed to the pipeline must be multiples of it.
const latentFactor = 8

// Geometry records the pre-normalization shape of an image so the final
// output can be restored to the exact target scale.
type Geometry struct {
	OrigW, OrigH int
	Upscale      int
	Resized      bool
}

// Normalize prepares an input image for the diffusion backbone:
//
//  1. record the original dimensions,
//  2. scale by the integer upscale factor (nearest neighbour, deterministic),
//  3. if the shorter side is still below minProcessSize, bilinearly resize so
//     the shorter side reaches it, preserving aspect ratio,
//  4. truncate both dimensions down to the nearest multiple of 8. Rounding
//     down never invents border content.
//
// Resized is always true in the returned Geometry: the truncation step runs
// unconditionally and Restore must always resize the output back.
func Normalize(img image.Image, upscale, minProcessSize int) (*image.RGBA, Geometry, error) {
	bounds := img.Bounds()
	geo := Geometry{OrigW: bounds.Dx(), OrigH: bounds.Dy(), Upscale: upscale}

	if upscale < 1 {
		return nil, geo, fmt.Errorf("upscale factor %d out of range", upscale)
	}

	w := geo.OrigW * upscale
	h := geo.OrigH * upscale
	work := Resize(img, w, h, xdraw.NearestNeighbor)

	if min(w, h) < minProcessSize {
		if w < h {
			h = h * minProcessSize / w
			w = minProcessSize
		} else {
			w = w * minProcessSize / h
			h = minProcessSize
		}
		work = Resize(work, w, h, xdraw.BiLinear)
	}

	w8 := w / latentFactor * latentFactor
	h8 := h / latentFactor * latentFactor
	if w8 == 0 || h8 == 0 {
		return nil, geo, fmt.Errorf("image %dx%d degenerates to %dx%d after normalization", geo.OrigW, geo.OrigH, w8, h8)
	}
	if w8 != w || h8 != h {
		work = Resize(work, w8, h8, xdraw.BiLinear)
	}

	geo.Resized = true
	return work, geo, nil
}

// Restore resizes a generated image back to the exact upscaled original
// dimensions recorded at normalization time.
func Restore(img image.Image, geo Geometry) *image.RGBA {
	return Resize(img, geo.OrigW*geo.Upscale, geo.OrigH*geo.Upscale, xdraw.BiLinear)
}
