package prompt

import (
	"fmt"
	"image"
	"path/filepath"

	"github.com/nfnt/resize"
	ort "github.com/yalue/onnxruntime_go"

	"claro/onnx"
)

// ONNXCaptioner runs an encoder/decoder captioning model exported to ONNX.
// The model directory holds encoder.onnx (pixels → visual embedding),
// decoder.onnx (token IDs + visual embedding → next-token logits) and the
// tokenizer files. Decoding is greedy.
type ONNXCaptioner struct {
	encoder   *onnx.Session
	decoder   *onnx.Session
	tokenizer *Tokenizer
	size      int
	maxTokens int
}

// NewONNXCaptioner loads the caption model pair and tokenizer.
func NewONNXCaptioner(dir string, opts *ort.SessionOptions) (*ONNXCaptioner, error) {
	tok, err := LoadTokenizer(filepath.Join(dir, "tokenizer"))
	if err != nil {
		return nil, fmt.Errorf("captioner tokenizer: %w", err)
	}
	enc, err := onnx.NewSession(filepath.Join(dir, "encoder.onnx"), opts)
	if err != nil {
		return nil, fmt.Errorf("captioner encoder: %w", err)
	}
	dec, err := onnx.NewSession(filepath.Join(dir, "decoder.onnx"), opts)
	if err != nil {
		enc.Destroy()
		return nil, fmt.Errorf("captioner decoder: %w", err)
	}
	return &ONNXCaptioner{
		encoder:   enc,
		decoder:   dec,
		tokenizer: tok,
		size:      384,
		maxTokens: 30,
	}, nil
}

// Generate produces the first candidate caption for the image.
func (c *ONNXCaptioner) Generate(img image.Image) (string, error) {
	pixels := c.preprocess(img)
	encoded, err := c.encoder.Run([]onnx.Value{{
		Floats: pixels,
		Shape:  []int64{1, 3, int64(c.size), int64(c.size)},
	}})
	if err != nil {
		return "", fmt.Errorf("caption encoder run: %w", err)
	}
	visual := encoded[0]
	// Visual embedding is [1, seq, dim]; the decoder consumes it as-is.
	visualShape := []int64{1, int64(len(visual) / visualDim), visualDim}

	ids := []int64{int64(c.tokenizer.BOS)}
	for len(ids) < c.maxTokens {
		outputs, err := c.decoder.Run([]onnx.Value{
			{Ints: ids, Shape: []int64{1, int64(len(ids))}},
			{Floats: visual, Shape: visualShape},
		})
		if err != nil {
			return "", fmt.Errorf("caption decoder run: %w", err)
		}
		logits := outputs[0]
		vocab := len(logits) / len(ids)
		// Greedy: argmax of the last position.
		last := logits[(len(ids)-1)*vocab:]
		next := 0
		for i := 1; i < len(last); i++ {
			if last[i] > last[next] {
				next = i
			}
		}
		if next == c.tokenizer.EOS {
			break
		}
		ids = append(ids, int64(next))
	}

	decoded := make([]int, len(ids))
	for i, id := range ids {
		decoded[i] = int(id)
	}
	return c.tokenizer.Decode(decoded), nil
}

// visualDim is the embedding width of the exported caption encoder.
const visualDim = 768

// preprocess resizes to the encoder input and scales pixels to [0,1].
func (c *ONNXCaptioner) preprocess(img image.Image) []float32 {
	thumb := resize.Resize(uint(c.size), uint(c.size), img, resize.Bilinear)
	data := make([]float32, 3*c.size*c.size)
	for y := 0; y < c.size; y++ {
		for x := 0; x < c.size; x++ {
			r, g, b, _ := thumb.At(x, y).RGBA()
			data[0*c.size*c.size+y*c.size+x] = float32(r>>8) / 255
			data[1*c.size*c.size+y*c.size+x] = float32(g>>8) / 255
			data[2*c.size*c.size+y*c.size+x] = float32(b>>8) / 255
		}
	}
	return data
}

// Destroy releases both sessions.
func (c *ONNXCaptioner) Destroy() {
	c.encoder.Destroy()
	c.decoder.Destroy()
}
