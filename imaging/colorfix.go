package imaging

import (
	"image"

	xdraw "golang.org/x/image/draw"
)

// Wavelet color fix.
//
// Diffusion sampling drifts global color and luminance. The conditioning
// image's low-frequency band is trustworthy for color while structure and
// detail must come from the generated image, so the generated image's
// low-frequency band is replaced with the conditioning image's.
//
// The decomposition is the usual à-trous construction: repeated 3x3
// Gaussian blurs with doubling dilation, accumulating the per-level
// residual as the high-frequency band.

const colorFixLevels = 5

// WaveletColorFix transplants the reference's low-frequency content onto
// the generated image's high-frequency content. The reference is resized
// to the generated image's dimensions first.
func WaveletColorFix(generated, reference *image.RGBA) *image.RGBA {
	gb := generated.Bounds()
	W, H := gb.Dx(), gb.Dy()

	rb := reference.Bounds()
	if rb.Dx() != W || rb.Dy() != H {
		reference = Resize(reference, W, H, xdraw.BiLinear)
	}

	genP, _, _ := planes(generated)
	refP, _, _ := planes(reference)

	var out [3][]float32
	for c := 0; c < 3; c++ {
		genHigh, _ := waveletDecompose(genP[c], W, H, colorFixLevels)
		_, refLow := waveletDecompose(refP[c], W, H, colorFixLevels)
		plane := make([]float32, W*H)
		for i := range plane {
			plane[i] = genHigh[i] + refLow[i]
		}
		out[c] = plane
	}
	return fromPlanes(out, W, H)
}

// waveletDecompose splits a plane into (high, low) bands over the given
// number of levels. high + low reconstructs the input exactly.
func waveletDecompose(plane []float32, W, H, levels int) (high, low []float32) {
	high = make([]float32, W*H)
	cur := append([]float32(nil), plane...)
	for i := 1; i <= levels; i++ {
		radius := 1 << (i - 1)
		blurred := waveletBlur(cur, W, H, radius)
		for j := range high {
			high[j] += cur[j] - blurred[j]
		}
		cur = blurred
	}
	return high, cur
}

// waveletBlur applies a 3x3 Gaussian kernel with the given dilation.
// Borders replicate the edge pixel.
var waveletKernel = [3][3]float32{
	{0.0625, 0.125, 0.0625},
	{0.125, 0.25, 0.125},
	{0.0625, 0.125, 0.0625},
}

func waveletBlur(plane []float32, W, H, radius int) []float32 {
	out := make([]float32, W*H)
	for y := 0; y < H; y++ {
		for x := 0; x < W; x++ {
			var sum float32
			for ky := -1; ky <= 1; ky++ {
				sy := clampIndex(y+ky*radius, H)
				for kx := -1; kx <= 1; kx++ {
					sx := clampIndex(x+kx*radius, W)
					sum += waveletKernel[ky+1][kx+1] * plane[sy*W+sx]
				}
			}
			out[y*W+x] = sum
		}
	}
	return out
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
