package model

import (
	"fmt"
	"math"

	bfloat16 "github.com/d4l3k/go-bfloat16"
	"github.com/pdevine/tensor"
	"github.com/x448/float16"

	"github.com/noxlabs/noxrun/internal/gguf"
	"github.com/noxlabs/noxrun/internal/nerr"
)

// QuantizedBlock is an undecoded weight tensor whose element type this
// module does not materialise to float32 — spec.md's "quantized matrix
// kernels are assumed to be provided by an external tensor library"
// applies here. The raw bytes and shape are kept so a real backend can be
// swapped in without re-reading the file.
type QuantizedBlock struct {
	Name  string
	Type  gguf.TensorType
	Shape []int
	Raw   []byte
}

// tensorSet is a name-indexed view over a model's materialised weights.
// Dense float tensors are decoded eagerly (F32/F16/BF16 are all small
// enough per-tensor to afford this); quantized blocks stay opaque.
type tensorSet struct {
	dense     map[string]*tensor.Dense
	quantized map[string]*QuantizedBlock
}

func loadTensorSet(f *gguf.File) (*tensorSet, error) {
	ts := &tensorSet{
		dense:     make(map[string]*tensor.Dense),
		quantized: make(map[string]*QuantizedBlock),
	}

	for _, info := range f.Content.Tensors {
		raw, err := f.TensorBytes(info)
		if err != nil {
			return nil, err
		}

		shape := make([]int, len(info.Shape))
		for i, d := range info.Shape {
			shape[i] = int(d)
		}

		switch info.Type {
		case gguf.TensorF32:
			data := make([]float32, len(raw)/4)
			for i := range data {
				data[i] = decodeF32(raw[i*4 : i*4+4])
			}
			ts.dense[info.Name] = tensor.New(tensor.WithShape(reverse(shape)...), tensor.WithBacking(data))
		case gguf.TensorF16:
			data := make([]float32, len(raw)/2)
			for i := range data {
				bits := uint16(raw[i*2]) | uint16(raw[i*2+1])<<8
				data[i] = float16.Frombits(bits).Float32()
			}
			ts.dense[info.Name] = tensor.New(tensor.WithShape(reverse(shape)...), tensor.WithBacking(data))
		case gguf.TensorBF16:
			decoded := bfloat16.DecodeFloat32(raw)
			ts.dense[info.Name] = tensor.New(tensor.WithShape(reverse(shape)...), tensor.WithBacking(decoded))
		default:
			ts.quantized[info.Name] = &QuantizedBlock{
				Name:  info.Name,
				Type:  info.Type,
				Shape: shape,
				Raw:   raw,
			}
		}
	}

	return ts, nil
}

// Dense returns a decoded float32 tensor by exact GGUF name, or an error
// wrapping nerr.ErrInference if the name is absent or still quantized (the
// reference backend cannot run quantized kernels itself).
func (ts *tensorSet) Dense(name string) (*tensor.Dense, error) {
	if d, ok := ts.dense[name]; ok {
		return d, nil
	}
	if _, ok := ts.quantized[name]; ok {
		return nil, &nerr.InferenceError{Detail: fmt.Sprintf("tensor %q is quantized (%s); reference backend requires an external dequantizing kernel", name, "non-float")}
	}
	return nil, &nerr.InferenceError{Detail: fmt.Sprintf("tensor %q not found", name)}
}

func reverse(s []int) []int {
	out := make([]int, len(s))
	for i, v := range s {
		out[len(s)-1-i] = v
	}
	return out
}

func decodeF32(b []byte) float32 {
	bits := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
	return math.Float32frombits(bits)
}
