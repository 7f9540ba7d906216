package imaging

import (
	"image"
	"image/color"

	xdraw "golang.org/x/image/draw"
)

// RecolorChroma reassembles a colorized restoration of a grayscale input.
//
// The grayscale original is the authentic luma signal; the generated image
// contributes only chroma. The generated image is resized to the original's
// dimensions, both are taken to luma/chroma space, and the original's luma
// is recombined with the generated chroma.
func RecolorChroma(original, generated *image.RGBA) *image.RGBA {
	ob := original.Bounds()
	W, H := ob.Dx(), ob.Dy()

	gb := generated.Bounds()
	if gb.Dx() != W || gb.Dy() != H {
		generated = Resize(generated, W, H, xdraw.BiLinear)
	}

	out := image.NewRGBA(image.Rect(0, 0, W, H))
	for y := 0; y < H; y++ {
		for x := 0; x < W; x++ {
			oc := original.RGBAAt(x+ob.Min.X, y+ob.Min.Y)
			gc := generated.RGBAAt(x, y)

			origY, _, _ := color.RGBToYCbCr(oc.R, oc.G, oc.B)
			_, genCb, genCr := color.RGBToYCbCr(gc.R, gc.G, gc.B)

			r, g, b := color.YCbCrToRGB(origY, genCb, genCr)
			out.SetRGBA(x, y, color.RGBA{R: r, G: g, B: b, A: 255})
		}
	}
	return out
}
