package model

import (
	"fmt"

	"github.com/pdevine/tensor"

	"github.com/noxlabs/noxrun/internal/nerr"
)

// asSlice unwraps a *tensor.Dense built with a []float32 backing array.
// Every weight this package materialises (loadTensorSet) uses that
// backing, so the type assertion always succeeds for tensors obtained
// through tensorSet.Dense.
func asSlice(d *tensor.Dense) []float32 {
	data, _ := d.Data().([]float32)
	return data
}

// rowAt returns the width-wide row starting at index idx*width within d's
// flat backing slice — used for the embedding table lookup.
func rowAt(d *tensor.Dense, idx, width int) ([]float32, error) {
	data := asSlice(d)
	start := idx * width
	if start < 0 || start+width > len(data) {
		return nil, &nerr.InferenceError{Detail: fmt.Sprintf("token id %d out of range for embedding table of %d rows", idx, len(data)/width)}
	}
	row := make([]float32, width)
	copy(row, data[start:start+width])
	return row, nil
}
