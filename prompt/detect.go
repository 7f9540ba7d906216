package prompt

import (
	"fmt"
	"image"
	"path/filepath"
	"sort"

	"github.com/nfnt/resize"
	ort "github.com/yalue/onnxruntime_go"

	"claro/onnx"
)

// ONNXDetector runs a YOLO-style detector exported to ONNX. The model
// directory holds model.onnx plus labels.txt with the class names.
//
// Output layout is the common [1, N, 5+C] candidate format: box (cx, cy,
// w, h), objectness, then per-class scores.
type ONNXDetector struct {
	session *onnx.Session
	labels  []string
	size    int

	confThreshold float32
	iouThreshold  float32
}

// NewONNXDetector loads the detector session and its label set.
func NewONNXDetector(dir string, opts *ort.SessionOptions) (*ONNXDetector, error) {
	labels, err := readLabels(filepath.Join(dir, "labels.txt"))
	if err != nil {
		return nil, fmt.Errorf("detector labels: %w", err)
	}
	sess, err := onnx.NewSession(filepath.Join(dir, "model.onnx"), opts)
	if err != nil {
		return nil, fmt.Errorf("detector session: %w", err)
	}
	return &ONNXDetector{
		session:       sess,
		labels:        labels,
		size:          640,
		confThreshold: 0.25,
		iouThreshold:  0.45,
	}, nil
}

type detection struct {
	class      int
	confidence float32
	x1, y1     float32
	x2, y2     float32
}

// Detect returns one entry per surviving instance, confidence-ordered,
// plus the full label set for name lookup.
func (d *ONNXDetector) Detect(img image.Image) ([]int, []float32, []string, error) {
	input := d.preprocess(img)
	outputs, err := d.session.Run([]onnx.Value{{
		Floats: input,
		Shape:  []int64{1, 3, int64(d.size), int64(d.size)},
	}})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("detector run: %w", err)
	}

	raw := outputs[0]
	stride := 5 + len(d.labels)
	if len(raw)%stride != 0 {
		return nil, nil, nil, fmt.Errorf("detector output length %d not divisible by %d", len(raw), stride)
	}

	var candidates []detection
	for i := 0; i+stride <= len(raw); i += stride {
		obj := raw[i+4]
		if obj < d.confThreshold {
			continue
		}
		best := 0
		bestScore := raw[i+5]
		for c := 1; c < len(d.labels); c++ {
			if raw[i+5+c] > bestScore {
				bestScore = raw[i+5+c]
				best = c
			}
		}
		conf := obj * bestScore
		if conf < d.confThreshold {
			continue
		}
		cx, cy, w, h := raw[i], raw[i+1], raw[i+2], raw[i+3]
		candidates = append(candidates, detection{
			class:      best,
			confidence: conf,
			x1:         cx - w/2,
			y1:         cy - h/2,
			x2:         cx + w/2,
			y2:         cy + h/2,
		})
	}

	kept := nonMaxSuppress(candidates, d.iouThreshold)

	classes := make([]int, len(kept))
	confs := make([]float32, len(kept))
	for i, det := range kept {
		classes[i] = det.class
		confs[i] = det.confidence
	}
	return classes, confs, d.labels, nil
}

// preprocess resizes to the detector input and scales pixels to [0,1].
func (d *ONNXDetector) preprocess(img image.Image) []float32 {
	thumb := resize.Resize(uint(d.size), uint(d.size), img, resize.Bilinear)
	data := make([]float32, 3*d.size*d.size)
	for y := 0; y < d.size; y++ {
		for x := 0; x < d.size; x++ {
			r, g, b, _ := thumb.At(x, y).RGBA()
			data[0*d.size*d.size+y*d.size+x] = float32(r>>8) / 255
			data[1*d.size*d.size+y*d.size+x] = float32(g>>8) / 255
			data[2*d.size*d.size+y*d.size+x] = float32(b>>8) / 255
		}
	}
	return data
}

// Destroy releases the session.
func (d *ONNXDetector) Destroy() {
	d.session.Destroy()
}

// nonMaxSuppress keeps the highest-confidence detection of each
// overlapping cluster, per class.
func nonMaxSuppress(dets []detection, iouThreshold float32) []detection {
	sort.SliceStable(dets, func(i, j int) bool {
		return dets[i].confidence > dets[j].confidence
	})
	var kept []detection
	for _, cand := range dets {
		suppressed := false
		for _, k := range kept {
			if k.class == cand.class && iou(k, cand) > iouThreshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, cand)
		}
	}
	return kept
}

func iou(a, b detection) float32 {
	ix1 := max32(a.x1, b.x1)
	iy1 := max32(a.y1, b.y1)
	ix2 := min32(a.x2, b.x2)
	iy2 := min32(a.y2, b.y2)
	iw := ix2 - ix1
	ih := iy2 - iy1
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := iw * ih
	areaA := (a.x2 - a.x1) * (a.y2 - a.y1)
	areaB := (b.x2 - b.x1) * (b.y2 - b.y1)
	union := areaA + areaB - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func max32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

func min32(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}
