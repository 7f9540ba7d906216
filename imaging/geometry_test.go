package imaging

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(x * 7 % 256),
				G: uint8(y * 13 % 256),
				B: uint8((x + y) % 256),
				A: 255,
			})
		}
	}
	return img
}

func TestNormalizeDivisibility(t *testing.T) {
	cases := []struct {
		name        string
		w, h        int
		upscale     int
		processSize int
	}{
		{"small square", 100, 100, 4, 768},
		{"landscape", 123, 77, 4, 768},
		{"already large", 300, 200, 4, 512},
		{"portrait floor resize", 50, 200, 2, 512},
		{"upscale 1", 640, 480, 1, 512},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			work, geo, err := Normalize(testImage(tc.w, tc.h), tc.upscale, tc.processSize)
			require.NoError(t, err)

			b := work.Bounds()
			assert.Zero(t, b.Dx()%8, "width %d not divisible by 8", b.Dx())
			assert.Zero(t, b.Dy()%8, "height %d not divisible by 8", b.Dy())
			assert.GreaterOrEqual(t, min(b.Dx(), b.Dy()), tc.processSize-8,
				"shorter side fell below the processing floor by more than truncation allows")
			assert.True(t, geo.Resized)
			assert.Equal(t, tc.w, geo.OrigW)
			assert.Equal(t, tc.h, geo.OrigH)
		})
	}
}

func TestGeometryRoundTrip(t *testing.T) {
	for _, upscale := range []int{1, 2, 4} {
		work, geo, err := Normalize(testImage(123, 61), upscale, 768)
		require.NoError(t, err)

		restored := Restore(work, geo)
		b := restored.Bounds()
		assert.Equal(t, 123*upscale, b.Dx())
		assert.Equal(t, 61*upscale, b.Dy())
	}
}

func TestNormalizeRejectsDegenerate(t *testing.T) {
	// 1x1 at upscale 1 with no floor resize truncates to zero.
	_, _, err := Normalize(testImage(1, 1), 1, 0)
	assert.Error(t, err)
}

func TestNormalizeRejectsBadUpscale(t *testing.T) {
	_, _, err := Normalize(testImage(10, 10), 0, 768)
	assert.Error(t, err)
}

func TestTensorRoundTrip(t *testing.T) {
	img := testImage(16, 8)
	data, w, h := ToTensor(img)
	require.Equal(t, 16, w)
	require.Equal(t, 8, h)
	require.Len(t, data, 3*16*8)

	back := FromTensor(data, h, w)
	for y := 0; y < 8; y++ {
		for x := 0; x < 16; x++ {
			want := img.RGBAAt(x, y)
			got := back.RGBAAt(x, y)
			assert.InDelta(t, want.R, got.R, 1)
			assert.InDelta(t, want.G, got.G, 1)
			assert.InDelta(t, want.B, got.B, 1)
		}
	}
}

func TestGrayscaleRGB(t *testing.T) {
	img := GrayscaleRGB(testImage(8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			c := img.RGBAAt(x, y)
			assert.Equal(t, c.R, c.G)
			assert.Equal(t, c.G, c.B)
		}
	}
}
