package diffusion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetTimestepsSchedule(t *testing.T) {
	s := DefaultScheduler()
	ts := s.SetTimesteps(20)
	require.Len(t, ts, 20)

	// Largest timestep first, strictly decreasing, ends at 1 (steps_offset=1).
	assert.Equal(t, 951, ts[0])
	assert.Equal(t, 1, ts[len(ts)-1])
	for i := 1; i < len(ts); i++ {
		assert.Less(t, ts[i], ts[i-1])
	}
}

func TestStepIsDeterministic(t *testing.T) {
	s := DefaultScheduler()
	s.SetTimesteps(20)

	sample := []float32{0.5, -0.25, 1.0}
	noise := []float32{0.1, 0.2, -0.3}

	a := s.Step(noise, 951, sample)
	b := s.Step(noise, 951, sample)
	assert.Equal(t, a, b)

	// Input sample is untouched.
	assert.Equal(t, []float32{0.5, -0.25, 1.0}, sample)
}

func TestStepZeroNoiseRecoversScaledSample(t *testing.T) {
	// With noise_pred == 0, pred_x0 = sample/sqrt(alpha_t) and the update is
	// a pure rescale by sqrt(alpha_prev/alpha_t) > 1 for t > prev.
	s := DefaultScheduler()
	s.SetTimesteps(20)

	sample := []float32{1.0}
	out := s.Step([]float32{0}, 951, sample)
	require.Len(t, out, 1)
	assert.Greater(t, out[0], sample[0])
}
