package tensor

import (
	"fmt"
	"math/rand"
)

// NewTensor wraps data (row-major) in a tensor of the given shape. The slice
// is not copied. A nil data slice allocates zeros.
func NewTensor(shape []int, dtype DType, data []float64) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	numElems := calculateNumElements(shape)
	if data == nil {
		data = make([]float64, numElems)
	}
	if len(data) != numElems {
		return nil, fmt.Errorf("data length %d does not match tensor size %d", len(data), numElems)
	}

	t := &Tensor{
		Shape:    copyShape(shape),
		Strides:  calculateStrides(shape),
		DType:    dtype,
		Data:     data,
		NumElems: numElems,
	}
	if dtype == Float32 {
		roundToFloat32(t.Data)
	}
	return t, nil
}

func Zeros(shape []int, dtype DType) (*Tensor, error) {
	return NewTensor(shape, dtype, nil)
}

func Full(shape []int, value float64, dtype DType) (*Tensor, error) {
	t, err := NewTensor(shape, dtype, nil)
	if err != nil {
		return nil, err
	}
	for i := range t.Data {
		t.Data[i] = value
	}
	if dtype == Float32 {
		roundToFloat32(t.Data)
	}
	return t, nil
}

// RandomNormal draws every element from N(mean, std) using rng.
func RandomNormal(shape []int, mean, std float64, dtype DType, rng *rand.Rand) (*Tensor, error) {
	t, err := NewTensor(shape, dtype, nil)
	if err != nil {
		return nil, err
	}
	for i := range t.Data {
		t.Data[i] = rng.NormFloat64()*std + mean
	}
	if dtype == Float32 {
		roundToFloat32(t.Data)
	}
	return t, nil
}

func roundToFloat32(values []float64) {
	for i, v := range values {
		values[i] = float64(float32(v))
	}
}

// FromColumnMajor builds a tensor from data laid out in Fortran order,
// where the first index varies fastest.
func FromColumnMajor(shape []int, dtype DType, data []float64) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	if len(data) != calculateNumElements(shape) {
		return nil, fmt.Errorf("data length %d does not match tensor size %d", len(data), calculateNumElements(shape))
	}
	strides := calculateStrides(shape)
	out := make([]float64, len(data))
	idx := make([]int, len(shape))
	for _, v := range data {
		off := 0
		for i, x := range idx {
			off += x * strides[i]
		}
		out[off] = v
		for i := range idx {
			idx[i]++
			if idx[i] < shape[i] {
				break
			}
			idx[i] = 0
		}
	}
	return NewTensor(shape, dtype, out)
}
