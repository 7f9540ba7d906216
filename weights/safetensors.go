package weights

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"

	"claro/onnx"
)

// tensorInfo describes one tensor in a safetensors header.
type tensorInfo struct {
	Dtype       string `json:"dtype"`
	Shape       []int  `json:"shape"`
	DataOffsets [2]int `json:"data_offsets"`
}

// Archive is an in-memory weight set keyed by tensor name.
type Archive struct {
	Tensors map[string]*Tensor
}

// Open reads and decodes a safetensors file. F16 tensors are widened to
// float32 on load.
func Open(path string) (*Archive, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) < 8 {
		return nil, fmt.Errorf("%s: file too small (%d bytes)", path, len(data))
	}

	headerLen := binary.LittleEndian.Uint64(data[:8])
	if int(headerLen)+8 > len(data) {
		return nil, fmt.Errorf("%s: header length %d exceeds file size %d", path, headerLen, len(data))
	}
	headerJSON := data[8 : 8+headerLen]
	blob := data[8+headerLen:]

	// Header may contain a __metadata__ key which is not a tensor.
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(headerJSON, &raw); err != nil {
		return nil, fmt.Errorf("%s: parse header: %w", path, err)
	}

	tensors := make(map[string]*Tensor, len(raw))
	for name, v := range raw {
		if name == "__metadata__" {
			continue
		}
		var info tensorInfo
		if err := json.Unmarshal(v, &info); err != nil {
			return nil, fmt.Errorf("%s: parse tensor %s: %w", path, name, err)
		}
		t, err := decodeTensor(blob, info)
		if err != nil {
			return nil, fmt.Errorf("%s: tensor %s: %w", path, name, err)
		}
		tensors[name] = t
	}
	return &Archive{Tensors: tensors}, nil
}

func decodeTensor(blob []byte, info tensorInfo) (*Tensor, error) {
	if info.DataOffsets[1] > len(blob) || info.DataOffsets[0] > info.DataOffsets[1] {
		return nil, fmt.Errorf("data offsets [%d,%d] out of range", info.DataOffsets[0], info.DataOffsets[1])
	}
	raw := blob[info.DataOffsets[0]:info.DataOffsets[1]]

	numel := 1
	for _, s := range info.Shape {
		numel *= s
	}
	data := make([]float32, numel)

	switch info.Dtype {
	case "F32":
		for i := 0; i < numel; i++ {
			data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	case "F16":
		for i := 0; i < numel; i++ {
			data[i] = onnx.FP16ToFloat32(binary.LittleEndian.Uint16(raw[i*2:]))
		}
	case "I64":
		for i := 0; i < numel; i++ {
			data[i] = float32(int64(binary.LittleEndian.Uint64(raw[i*8:])))
		}
	default:
		return nil, fmt.Errorf("unsupported dtype %q", info.Dtype)
	}
	return &Tensor{Data: data, Shape: info.Shape}, nil
}

// Save writes the archive as float32 safetensors. Tensor names are sorted
// so the output is byte-reproducible for identical inputs.
func (a *Archive) Save(path string) error {
	names := make([]string, 0, len(a.Tensors))
	for name := range a.Tensors {
		names = append(names, name)
	}
	sort.Strings(names)

	header := make(map[string]tensorInfo, len(names))
	offset := 0
	for _, name := range names {
		t := a.Tensors[name]
		size := t.Numel() * 4
		shape := t.Shape
		if shape == nil {
			shape = []int{}
		}
		header[name] = tensorInfo{
			Dtype:       "F32",
			Shape:       shape,
			DataOffsets: [2]int{offset, offset + size},
		}
		offset += size
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(headerJSON)))
	if _, err := f.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := f.Write(headerJSON); err != nil {
		return err
	}

	buf := make([]byte, 0, 1<<16)
	for _, name := range names {
		t := a.Tensors[name]
		buf = buf[:0]
		for _, v := range t.Data {
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], math.Float32bits(v))
			buf = append(buf, b[:]...)
		}
		if _, err := f.Write(buf); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}
