// Package prompt turns an input image into the text guidance string for
// the diffusion pipeline, using one of three interchangeable perception
// backends (classifier, detector, captioner) or none at all.
package prompt

import (
	"fmt"
	"image"
	"strings"
)

// Mode selects the perception backend.
type Mode string

const (
	ModeNone           Mode = ""
	ModeClassification Mode = "classification"
	ModeDetection      Mode = "detection"
	ModeCaption        Mode = "caption"
)

// classifyThreshold is the minimum top-1 confidence for a classification
// result to contribute to the prompt.
const classifyThreshold = 0.10

// Caption models describe the degraded input; the prompt should describe
// the desired clean output.
var captionSubstitutions = strings.NewReplacer(
	"blurry", "clear",
	"noisy", "clean",
)

// Classifier is a frozen single-label image classifier.
type Classifier interface {
	Predict(img image.Image) (class string, confidence float32, err error)
}

// Detector is a frozen object detector reporting one entry per instance.
type Detector interface {
	Detect(img image.Image) (classes []int, confidences []float32, names []string, err error)
}

// Captioner is a frozen image captioning model.
type Captioner interface {
	Generate(img image.Image) (caption string, err error)
}

// Synthesizer composes guidance prompts. The backend is chosen once at
// construction; an unloadable backend is a configuration error surfaced
// before any image is processed.
type Synthesizer struct {
	mode       Mode
	classifier Classifier
	detector   Detector
	captioner  Captioner
}

// NewSynthesizer builds a synthesizer with explicit backends. Backends not
// required by the mode may be nil.
func NewSynthesizer(mode Mode, classifier Classifier, detector Detector, captioner Captioner) (*Synthesizer, error) {
	switch mode {
	case ModeNone:
	case ModeClassification:
		if classifier == nil {
			return nil, fmt.Errorf("classification mode requires a classifier")
		}
	case ModeDetection:
		if detector == nil {
			return nil, fmt.Errorf("detection mode requires a detector")
		}
	case ModeCaption:
		if captioner == nil {
			return nil, fmt.Errorf("caption mode requires a captioner")
		}
	default:
		return nil, fmt.Errorf("unknown prompt mode %q", mode)
	}
	return &Synthesizer{mode: mode, classifier: classifier, detector: detector, captioner: captioner}, nil
}

// Synthesize builds the guidance prompt for one image. Empty components are
// skipped without introducing stray separators.
func (s *Synthesizer) Synthesize(img image.Image, base string) (string, error) {
	switch s.mode {
	case ModeClassification:
		class, conf, err := s.classifier.Predict(img)
		if err != nil {
			return "", fmt.Errorf("classify: %w", err)
		}
		if conf < classifyThreshold {
			return "", nil
		}
		if base == "" {
			return class + ", ", nil
		}
		return base + ", " + class + ", ", nil

	case ModeDetection:
		classes, _, names, err := s.detector.Detect(img)
		if err != nil {
			return "", fmt.Errorf("detect: %w", err)
		}
		var sb strings.Builder
		counts := make(map[string]int)
		var order []string
		for _, cls := range classes {
			name := names[cls]
			if counts[name] == 0 {
				order = append(order, name)
			}
			counts[name]++
		}
		for _, name := range order {
			fmt.Fprintf(&sb, "%d %s, ", counts[name], name)
		}
		if base == "" {
			return sb.String(), nil
		}
		return base + ", " + sb.String(), nil

	case ModeCaption:
		caption, err := s.captioner.Generate(img)
		if err != nil {
			return "", fmt.Errorf("caption: %w", err)
		}
		caption = captionSubstitutions.Replace(caption)
		if caption == "" {
			return base, nil
		}
		if base == "" {
			return caption + ", ", nil
		}
		return caption + ", " + base, nil

	default:
		return base, nil
	}
}
