package prompt

import (
	"bufio"
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"

	"github.com/nfnt/resize"
	ort "github.com/yalue/onnxruntime_go"

	"claro/onnx"
)

// ONNXClassifier runs a frozen ImageNet-style classifier exported to ONNX.
// The model directory holds model.onnx plus labels.txt (one class per line).
type ONNXClassifier struct {
	session *onnx.Session
	labels  []string
	size    int
}

// ImageNet normalization constants.
var (
	classifyMean = [3]float32{0.485, 0.456, 0.406}
	classifyStd  = [3]float32{0.229, 0.224, 0.225}
)

// NewONNXClassifier loads the classifier session and its label set.
func NewONNXClassifier(dir string, opts *ort.SessionOptions) (*ONNXClassifier, error) {
	labels, err := readLabels(filepath.Join(dir, "labels.txt"))
	if err != nil {
		return nil, fmt.Errorf("classifier labels: %w", err)
	}
	sess, err := onnx.NewSession(filepath.Join(dir, "model.onnx"), opts)
	if err != nil {
		return nil, fmt.Errorf("classifier session: %w", err)
	}
	return &ONNXClassifier{session: sess, labels: labels, size: 224}, nil
}

// Predict returns the top-1 class and its softmax confidence.
func (c *ONNXClassifier) Predict(img image.Image) (string, float32, error) {
	input := c.preprocess(img)
	outputs, err := c.session.Run([]onnx.Value{{
		Floats: input,
		Shape:  []int64{1, 3, int64(c.size), int64(c.size)},
	}})
	if err != nil {
		return "", 0, fmt.Errorf("classifier run: %w", err)
	}
	logits := outputs[0]
	if len(logits) == 0 {
		return "", 0, fmt.Errorf("classifier produced no logits")
	}

	// Softmax over logits, tracking the argmax.
	maxLogit := logits[0]
	best := 0
	for i, v := range logits {
		if v > maxLogit {
			maxLogit = v
			best = i
		}
	}
	var sum float64
	for _, v := range logits {
		sum += math.Exp(float64(v - maxLogit))
	}
	conf := float32(1.0 / sum)

	if best >= len(c.labels) {
		return "", 0, fmt.Errorf("class id %d outside label set (%d labels)", best, len(c.labels))
	}
	return c.labels[best], conf, nil
}

// preprocess resizes to the model's input size and applies ImageNet
// normalization, NCHW layout.
func (c *ONNXClassifier) preprocess(img image.Image) []float32 {
	thumb := resize.Resize(uint(c.size), uint(c.size), img, resize.Bilinear)
	data := make([]float32, 3*c.size*c.size)
	for y := 0; y < c.size; y++ {
		for x := 0; x < c.size; x++ {
			r, g, b, _ := thumb.At(x, y).RGBA()
			data[0*c.size*c.size+y*c.size+x] = (float32(r>>8)/255 - classifyMean[0]) / classifyStd[0]
			data[1*c.size*c.size+y*c.size+x] = (float32(g>>8)/255 - classifyMean[1]) / classifyStd[1]
			data[2*c.size*c.size+y*c.size+x] = (float32(b>>8)/255 - classifyMean[2]) / classifyStd[2]
		}
	}
	return data
}

// Destroy releases the session.
func (c *ONNXClassifier) Destroy() {
	c.session.Destroy()
}

func readLabels(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var labels []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line != "" {
			labels = append(labels, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("%s: empty label file", path)
	}
	return labels, nil
}
