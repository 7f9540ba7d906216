package diffusion

import (
	"math"
	"math/rand"
)

// gaussianNoise fills a latent-sized buffer with unit normal samples via
// Box–Muller, drawing from the run's RNG so repeated calls advance the
// stream deterministically.
func gaussianNoise(rng *rand.Rand, n, c, h, w int) []float32 {
	size := n * c * h * w
	data := make([]float32, size)
	for i := 0; i < size-1; i += 2 {
		u1 := rng.Float64()
		u2 := rng.Float64()
		for u1 == 0 {
			u1 = rng.Float64()
		}
		r := math.Sqrt(-2 * math.Log(u1))
		theta := 2 * math.Pi * u2
		data[i] = float32(r * math.Cos(theta))
		data[i+1] = float32(r * math.Sin(theta))
	}
	if size%2 == 1 {
		u1 := rng.Float64()
		u2 := rng.Float64()
		for u1 == 0 {
			u1 = rng.Float64()
		}
		data[size-1] = float32(math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2))
	}
	return data
}
