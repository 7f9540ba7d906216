package prompt

import (
	"errors"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClassifier struct {
	class string
	conf  float32
	err   error
}

func (f fakeClassifier) Predict(image.Image) (string, float32, error) {
	return f.class, f.conf, f.err
}

type fakeDetector struct {
	classes []int
	confs   []float32
	names   []string
}

func (f fakeDetector) Detect(image.Image) ([]int, []float32, []string, error) {
	return f.classes, f.confs, f.names, nil
}

type fakeCaptioner struct {
	caption string
}

func (f fakeCaptioner) Generate(image.Image) (string, error) {
	return f.caption, nil
}

var testImg = image.NewRGBA(image.Rect(0, 0, 4, 4))

func TestClassificationPrompt(t *testing.T) {
	cases := []struct {
		name  string
		class string
		conf  float32
		base  string
		want  string
	}{
		{"below threshold contributes nothing", "cat", 0.05, "", ""},
		{"confident class", "cat", 0.5, "", "cat, "},
		{"confident class with base", "cat", 0.5, "a photo", "a photo, cat, "},
		{"exactly at threshold", "dog", 0.10, "", "dog, "},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := NewSynthesizer(ModeClassification, fakeClassifier{class: tc.class, conf: tc.conf}, nil, nil)
			require.NoError(t, err)
			got, err := s.Synthesize(testImg, tc.base)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestClassificationError(t *testing.T) {
	s, err := NewSynthesizer(ModeClassification, fakeClassifier{err: errors.New("boom")}, nil, nil)
	require.NoError(t, err)
	_, err = s.Synthesize(testImg, "")
	assert.Error(t, err)
}

func TestDetectionPrompt(t *testing.T) {
	det := fakeDetector{
		classes: []int{0, 2, 0, 0},
		confs:   []float32{0.9, 0.8, 0.7, 0.6},
		names:   []string{"person", "bicycle", "car"},
	}
	s, err := NewSynthesizer(ModeDetection, nil, det, nil)
	require.NoError(t, err)

	got, err := s.Synthesize(testImg, "")
	require.NoError(t, err)
	assert.Equal(t, "3 person, 1 car, ", got)

	got, err = s.Synthesize(testImg, "street scene")
	require.NoError(t, err)
	assert.Equal(t, "street scene, 3 person, 1 car, ", got)
}

func TestDetectionEmptyResult(t *testing.T) {
	s, err := NewSynthesizer(ModeDetection, nil, fakeDetector{names: []string{"person"}}, nil)
	require.NoError(t, err)
	got, err := s.Synthesize(testImg, "")
	require.NoError(t, err)
	assert.Equal(t, "", got)
}

func TestCaptionSubstitution(t *testing.T) {
	s, err := NewSynthesizer(ModeCaption, nil, nil, fakeCaptioner{caption: "a blurry photo of a noisy road"})
	require.NoError(t, err)

	got, err := s.Synthesize(testImg, "")
	require.NoError(t, err)
	assert.Equal(t, "a clear photo of a clean road, ", got)

	got, err = s.Synthesize(testImg, "winter")
	require.NoError(t, err)
	assert.Equal(t, "a clear photo of a clean road, winter", got)
}

func TestModeNonePassesBaseVerbatim(t *testing.T) {
	s, err := NewSynthesizer(ModeNone, nil, nil, nil)
	require.NoError(t, err)

	got, err := s.Synthesize(testImg, "")
	require.NoError(t, err)
	assert.Equal(t, "", got)

	got, err = s.Synthesize(testImg, "a dog")
	require.NoError(t, err)
	assert.Equal(t, "a dog", got)
}

func TestNewSynthesizerFailsFast(t *testing.T) {
	_, err := NewSynthesizer(ModeClassification, nil, nil, nil)
	assert.Error(t, err)
	_, err = NewSynthesizer(ModeDetection, nil, nil, nil)
	assert.Error(t, err)
	_, err = NewSynthesizer(ModeCaption, nil, nil, nil)
	assert.Error(t, err)
	_, err = NewSynthesizer(Mode("telepathy"), nil, nil, nil)
	assert.Error(t, err)
}

func TestNonMaxSuppress(t *testing.T) {
	dets := []detection{
		{class: 0, confidence: 0.9, x1: 0, y1: 0, x2: 10, y2: 10},
		{class: 0, confidence: 0.8, x1: 1, y1: 1, x2: 11, y2: 11}, // overlaps first
		{class: 0, confidence: 0.7, x1: 50, y1: 50, x2: 60, y2: 60},
		{class: 1, confidence: 0.6, x1: 0, y1: 0, x2: 10, y2: 10}, // other class, same box
	}
	kept := nonMaxSuppress(dets, 0.45)
	require.Len(t, kept, 3)
	assert.Equal(t, float32(0.9), kept[0].confidence)
	assert.Equal(t, float32(0.7), kept[1].confidence)
	assert.Equal(t, 1, kept[2].class)
}
