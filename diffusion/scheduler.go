// Package diffusion runs the guided denoising loop: classifier-free
// guidance over a ControlNet-conditioned UNet, deterministic DDIM
// stepping, and latent-to-pixel decoding with optional spatial tiling.
package diffusion

import "math"

// DDIMScheduler implements deterministic DDIM sampling (eta=0).
type DDIMScheduler struct {
	alphasCumprod     []float64
	numTrainTimesteps int
	numInferenceSteps int
}

// NewDDIMScheduler creates a scheduler with the scaled_linear beta
// schedule: betas = linspace(sqrt(start), sqrt(end), steps)^2.
func NewDDIMScheduler(numTrain int, betaStart, betaEnd float64) *DDIMScheduler {
	betas := make([]float64, numTrain)
	sqrtStart := math.Sqrt(betaStart)
	sqrtEnd := math.Sqrt(betaEnd)
	for i := 0; i < numTrain; i++ {
		beta := sqrtStart + float64(i)/float64(numTrain-1)*(sqrtEnd-sqrtStart)
		betas[i] = beta * beta
	}

	alphasCumprod := make([]float64, numTrain)
	prod := 1.0
	for i := 0; i < numTrain; i++ {
		prod *= 1.0 - betas[i]
		alphasCumprod[i] = prod
	}

	return &DDIMScheduler{
		alphasCumprod:     alphasCumprod,
		numTrainTimesteps: numTrain,
	}
}

// DefaultScheduler matches the backbone's training configuration.
func DefaultScheduler() *DDIMScheduler {
	return NewDDIMScheduler(1000, 0.00085, 0.012)
}

// SetTimesteps returns the DDIM timestep schedule, largest first.
// With steps_offset=1 the schedule is [T-step+1, T-2*step+1, ..., 1].
func (s *DDIMScheduler) SetTimesteps(numSteps int) []int {
	s.numInferenceSteps = numSteps
	stepRatio := s.numTrainTimesteps / numSteps
	timesteps := make([]int, numSteps)
	for i := 0; i < numSteps; i++ {
		timesteps[i] = (numSteps-1-i)*stepRatio + 1
	}
	return timesteps
}

// Step performs one DDIM denoising step (eta=0, no added noise):
//
//	pred_x0 = (sample - sqrt(1-alpha_t) * noise_pred) / sqrt(alpha_t)
//	prev_sample = sqrt(alpha_prev) * pred_x0 + sqrt(1-alpha_prev) * noise_pred
func (s *DDIMScheduler) Step(noisePred []float32, timestep int, sample []float32) []float32 {
	stepRatio := s.numTrainTimesteps / s.numInferenceSteps
	prevTimestep := timestep - stepRatio

	alphaT := s.alphasCumprod[timestep]
	var alphaPrev float64
	if prevTimestep >= 0 {
		alphaPrev = s.alphasCumprod[prevTimestep]
	} else {
		// set_alpha_to_one=false: use alphas_cumprod[0]
		alphaPrev = s.alphasCumprod[0]
	}

	sqrtAlphaT := float32(math.Sqrt(alphaT))
	sqrtOneMinusAlphaT := float32(math.Sqrt(1.0 - alphaT))
	sqrtAlphaPrev := float32(math.Sqrt(alphaPrev))
	sqrtOneMinusAlphaPrev := float32(math.Sqrt(1.0 - alphaPrev))

	out := make([]float32, len(sample))
	for i := range sample {
		predX0 := (sample[i] - sqrtOneMinusAlphaT*noisePred[i]) / sqrtAlphaT
		out[i] = sqrtAlphaPrev*predX0 + sqrtOneMinusAlphaPrev*noisePred[i]
	}
	return out
}
