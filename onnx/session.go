package onnx

import (
	"encoding/binary"
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
)

// Value is one session input: either float data (converted to fp16 when the
// graph expects half precision) or int64 data (token IDs, timesteps).
type Value struct {
	Floats []float32
	Ints   []int64
	Shape  []int64
}

// Session wraps a DynamicAdvancedSession together with the input/output
// metadata inspected from the graph, so callers can feed plain float32
// slices regardless of the exported precision.
type Session struct {
	sess    *ort.DynamicAdvancedSession
	inputs  []ort.InputOutputInfo
	outputs []ort.InputOutputInfo
}

// NewSession inspects the model at path and creates an inference session.
func NewSession(path string, opts *ort.SessionOptions) (*Session, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", path, err)
	}
	inNames := make([]string, len(inputs))
	for i, in := range inputs {
		inNames[i] = in.Name
	}
	outNames := make([]string, len(outputs))
	for i, out := range outputs {
		outNames[i] = out.Name
	}
	sess, err := ort.NewDynamicAdvancedSession(path, inNames, outNames, opts)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", path, err)
	}
	return &Session{sess: sess, inputs: inputs, outputs: outputs}, nil
}

// NumInputs reports how many inputs the graph declares.
func (s *Session) NumInputs() int { return len(s.inputs) }

// NumOutputs reports how many outputs the graph declares.
func (s *Session) NumOutputs() int { return len(s.outputs) }

// InputName returns the declared name of input i.
func (s *Session) InputName(i int) string { return s.inputs[i].Name }

// Run executes the session. Inputs are matched positionally against the
// graph's declared inputs and converted to the declared element type.
// All outputs come back as float32.
func (s *Session) Run(values []Value) ([][]float32, error) {
	if len(values) != len(s.inputs) {
		return nil, fmt.Errorf("expected %d inputs, got %d", len(s.inputs), len(values))
	}

	tensors := make([]ort.Value, len(values))
	defer func() {
		for _, t := range tensors {
			if t != nil {
				t.Destroy()
			}
		}
	}()
	for i, v := range values {
		t, err := makeTensor(v, s.inputs[i].DataType)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", s.inputs[i].Name, err)
		}
		tensors[i] = t
	}

	outputs := make([]ort.Value, len(s.outputs))
	if err := s.sess.Run(tensors, outputs); err != nil {
		return nil, fmt.Errorf("run: %w", err)
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	results := make([][]float32, len(outputs))
	for i, o := range outputs {
		data, err := extractFloat32(o)
		if err != nil {
			return nil, fmt.Errorf("output %s: %w", s.outputs[i].Name, err)
		}
		results[i] = data
	}
	return results, nil
}

// Destroy releases the underlying session.
func (s *Session) Destroy() {
	if s.sess != nil {
		s.sess.Destroy()
		s.sess = nil
	}
}

// makeTensor creates an ORT value from a Value, converting to the element
// type the graph declares.
func makeTensor(v Value, dtype ort.TensorElementDataType) (ort.Value, error) {
	shape := ort.NewShape(v.Shape...)
	if v.Ints != nil {
		switch dtype {
		case ort.TensorElementDataTypeInt32:
			ints := make([]int32, len(v.Ints))
			for i, x := range v.Ints {
				ints[i] = int32(x)
			}
			return ort.NewTensor(shape, ints)
		case ort.TensorElementDataTypeFloat:
			floats := make([]float32, len(v.Ints))
			for i, x := range v.Ints {
				floats[i] = float32(x)
			}
			return ort.NewTensor(shape, floats)
		default:
			return ort.NewTensor(shape, v.Ints)
		}
	}
	switch dtype {
	case ort.TensorElementDataTypeFloat16:
		return ort.NewCustomDataTensor(shape, Float32ToFP16Bytes(v.Floats), ort.TensorElementDataTypeFloat16)
	default:
		return ort.NewTensor(shape, v.Floats)
	}
}

// extractFloat32 pulls float32 data out of an output tensor, converting
// from half precision when necessary.
func extractFloat32(v ort.Value) ([]float32, error) {
	if t, ok := v.(*ort.Tensor[float32]); ok {
		src := t.GetData()
		result := make([]float32, len(src))
		copy(result, src)
		return result, nil
	}
	if t, ok := v.(*ort.Tensor[uint16]); ok {
		src := t.GetData()
		result := make([]float32, len(src))
		for i, bits := range src {
			result[i] = FP16ToFloat32(bits)
		}
		return result, nil
	}
	if t, ok := v.(*ort.CustomDataTensor); ok {
		raw := t.GetData()
		n := len(raw) / 2
		result := make([]float32, n)
		for i := 0; i < n; i++ {
			bits := binary.LittleEndian.Uint16(raw[i*2 : i*2+2])
			result[i] = FP16ToFloat32(bits)
		}
		return result, nil
	}
	return nil, fmt.Errorf("unsupported output tensor type %T", v)
}
