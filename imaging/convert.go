// Package imaging holds the pixel-space half of the pipeline: geometry
// normalization for the diffusion backbone, tensor conversion, the wavelet
// color fix and the grayscale luma/chroma reassembly.
package imaging

import (
	"image"
	"image/color"

	xdraw "golang.org/x/image/draw"
)

// ToRGBA converts any decoded image to RGBA without touching pixel values.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	bounds := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	xdraw.Draw(rgba, rgba.Bounds(), img, bounds.Min, xdraw.Src)
	return rgba
}

// Resize scales img to dstW x dstH with the given interpolator.
func Resize(img image.Image, dstW, dstH int, scaler xdraw.Scaler) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	scaler.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	return dst
}

// GrayscaleRGB collapses an image to its luma and replicates it across all
// three channels, matching an L→RGB conversion.
func GrayscaleRGB(img image.Image) *image.RGBA {
	src := ToRGBA(img)
	bounds := src.Bounds()
	W, H := bounds.Dx(), bounds.Dy()
	out := image.NewRGBA(image.Rect(0, 0, W, H))
	for y := 0; y < H; y++ {
		for x := 0; x < W; x++ {
			c := src.RGBAAt(x+bounds.Min.X, y+bounds.Min.Y)
			l := clamp8(0.299*float32(c.R) + 0.587*float32(c.G) + 0.114*float32(c.B))
			out.SetRGBA(x, y, color.RGBA{R: l, G: l, B: l, A: 255})
		}
	}
	return out
}

// ToTensor converts an image to a [1,3,H,W] float32 tensor in [-1,1],
// the value range the diffusion backbone was trained on.
func ToTensor(img *image.RGBA) ([]float32, int, int) {
	bounds := img.Bounds()
	W, H := bounds.Dx(), bounds.Dy()
	data := make([]float32, 3*H*W)
	for y := 0; y < H; y++ {
		for x := 0; x < W; x++ {
			c := img.RGBAAt(x+bounds.Min.X, y+bounds.Min.Y)
			data[0*H*W+y*W+x] = float32(c.R)/127.5 - 1
			data[1*H*W+y*W+x] = float32(c.G)/127.5 - 1
			data[2*H*W+y*W+x] = float32(c.B)/127.5 - 1
		}
	}
	return data, W, H
}

// FromTensor converts a [1,3,H,W] float32 tensor in [-1,1] back to RGBA.
func FromTensor(data []float32, H, W int) *image.RGBA {
	rgba := image.NewRGBA(image.Rect(0, 0, W, H))
	for y := 0; y < H; y++ {
		for x := 0; x < W; x++ {
			r := data[0*H*W+y*W+x]
			g := data[1*H*W+y*W+x]
			b := data[2*H*W+y*W+x]
			rgba.SetRGBA(x, y, color.RGBA{
				R: clampUnit((r + 1) / 2),
				G: clampUnit((g + 1) / 2),
				B: clampUnit((b + 1) / 2),
				A: 255,
			})
		}
	}
	return rgba
}

// planes splits an RGBA image into three float32 planes in [0,1].
func planes(img *image.RGBA) ([3][]float32, int, int) {
	bounds := img.Bounds()
	W, H := bounds.Dx(), bounds.Dy()
	var p [3][]float32
	for c := range p {
		p[c] = make([]float32, W*H)
	}
	for y := 0; y < H; y++ {
		for x := 0; x < W; x++ {
			c := img.RGBAAt(x+bounds.Min.X, y+bounds.Min.Y)
			p[0][y*W+x] = float32(c.R) / 255
			p[1][y*W+x] = float32(c.G) / 255
			p[2][y*W+x] = float32(c.B) / 255
		}
	}
	return p, W, H
}

// fromPlanes recombines [0,1] float planes into an RGBA image.
func fromPlanes(p [3][]float32, W, H int) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, W, H))
	for y := 0; y < H; y++ {
		for x := 0; x < W; x++ {
			out.SetRGBA(x, y, color.RGBA{
				R: clampUnit(p[0][y*W+x]),
				G: clampUnit(p[1][y*W+x]),
				B: clampUnit(p[2][y*W+x]),
				A: 255,
			})
		}
	}
	return out
}

// clampUnit maps [0,1] to a byte.
func clampUnit(v float32) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}

// clamp8 clamps a [0,255] float to a byte.
func clamp8(v float32) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v + 0.5)
}
