package tensor

import (
	"fmt"
	"math"
)

// Reshape returns a new tensor with the same data but different shape.
// The new shape must have the same total number of elements; one
// dimension may be -1 and is then inferred.
func (t *Tensor) Reshape(newShape []int) (*Tensor, error) {
	shape := copyShape(newShape)
	newNumElems := 1
	negOneIdx := -1

	for i, dim := range shape {
		switch {
		case dim == -1:
			if negOneIdx >= 0 {
				return nil, fmt.Errorf("only one dimension can be -1")
			}
			negOneIdx = i
		case dim < 0:
			return nil, fmt.Errorf("negative dimension %d at index %d is not allowed (only -1 is allowed)", dim, i)
		default:
			newNumElems *= dim
		}
	}

	if negOneIdx >= 0 {
		if newNumElems == 0 || t.NumElems%newNumElems != 0 {
			return nil, fmt.Errorf("cannot reshape tensor of size %d into shape %v", t.NumElems, newShape)
		}
		shape[negOneIdx] = t.NumElems / newNumElems
		newNumElems *= shape[negOneIdx]
	}

	if newNumElems != t.NumElems {
		return nil, fmt.Errorf("cannot reshape tensor of size %d into shape %v (size %d)", t.NumElems, newShape, newNumElems)
	}

	return &Tensor{
		Shape:    shape,
		Strides:  calculateStrides(shape),
		DType:    t.DType,
		Data:     t.Data, // shared
		NumElems: t.NumElems,
	}, nil
}

func (t *Tensor) Clone() *Tensor {
	data := make([]float64, len(t.Data))
	copy(data, t.Data)
	return &Tensor{
		Shape:    copyShape(t.Shape),
		Strides:  copyShape(t.Strides),
		DType:    t.DType,
		Data:     data,
		NumElems: t.NumElems,
	}
}

// ToFloat32 returns a Float32 copy of t, rounding every value through
// float32.
func (t *Tensor) ToFloat32() *Tensor {
	out := t.Clone()
	out.DType = Float32
	roundToFloat32(out.Data)
	return out
}

// Float32Data returns the values of t converted to float32.
func (t *Tensor) Float32Data() []float32 {
	out := make([]float32, len(t.Data))
	for i, v := range t.Data {
		out[i] = float32(v)
	}
	return out
}

func (t *Tensor) offset(indices []int) (int, error) {
	if len(indices) != len(t.Shape) {
		return 0, fmt.Errorf("expected %d indices, got %d", len(t.Shape), len(indices))
	}
	off := 0
	for i, idx := range indices {
		if idx < 0 || idx >= t.Shape[i] {
			return 0, fmt.Errorf("index %d out of range [0, %d) on axis %d", idx, t.Shape[i], i)
		}
		off += idx * t.Strides[i]
	}
	return off, nil
}

func (t *Tensor) At(indices ...int) (float64, error) {
	off, err := t.offset(indices)
	if err != nil {
		return 0, err
	}
	return t.Data[off], nil
}

func (t *Tensor) SetAt(value float64, indices ...int) error {
	off, err := t.offset(indices)
	if err != nil {
		return err
	}
	if t.DType == Float32 {
		value = float64(float32(value))
	}
	t.Data[off] = value
	return nil
}

func (t *Tensor) Dim() int {
	return len(t.Shape)
}

// Len is the size of the leading axis.
func (t *Tensor) Len() int {
	if len(t.Shape) == 0 {
		return 0
	}
	return t.Shape[0]
}

// RowSize is the number of elements in one slice along the leading axis.
func (t *Tensor) RowSize() int {
	if len(t.Shape) == 0 {
		return 0
	}
	return calculateNumElements(t.Shape[1:])
}

// Row returns the i-th slice along the leading axis as a view into t.Data.
func (t *Tensor) Row(i int) []float64 {
	size := t.RowSize()
	return t.Data[i*size : (i+1)*size]
}

// Take gathers the rows at indices (leading axis) into a new tensor.
func (t *Tensor) Take(indices []int) (*Tensor, error) {
	shape := copyShape(t.Shape)
	shape[0] = len(indices)
	out, err := NewTensor(shape, t.DType, nil)
	if err != nil {
		return nil, err
	}
	size := t.RowSize()
	for i, idx := range indices {
		if idx < 0 || idx >= t.Len() {
			return nil, fmt.Errorf("row index %d out of range [0, %d)", idx, t.Len())
		}
		copy(out.Data[i*size:(i+1)*size], t.Row(idx))
	}
	return out, nil
}

// Concat joins tensors along the leading axis. All inputs must agree on
// every other axis. The result is Float32 only if every input is.
func Concat(tensors ...*Tensor) (*Tensor, error) {
	if len(tensors) == 0 {
		return nil, fmt.Errorf("nothing to concatenate")
	}
	first := tensors[0]
	total := 0
	dtype := Float32
	for i, t := range tensors {
		if !SameTrailingShape(first, t) {
			return nil, fmt.Errorf("shape mismatch at input %d: %v vs %v", i, t.Shape, first.Shape)
		}
		if t.DType != Float32 {
			dtype = Float64
		}
		total += t.Len()
	}

	shape := copyShape(first.Shape)
	shape[0] = total
	data := make([]float64, 0, calculateNumElements(shape))
	for _, t := range tensors {
		data = append(data, t.Data...)
	}
	return &Tensor{
		Shape:    shape,
		Strides:  calculateStrides(shape),
		DType:    dtype,
		Data:     data,
		NumElems: len(data),
	}, nil
}

// AllClose reports whether t and other have equal shapes and all values
// within tol of each other.
func (t *Tensor) AllClose(other *Tensor, tol float64) bool {
	if len(t.Shape) != len(other.Shape) {
		return false
	}
	for i := range t.Shape {
		if t.Shape[i] != other.Shape[i] {
			return false
		}
	}
	for i := range t.Data {
		if math.Abs(t.Data[i]-other.Data[i]) > tol {
			return false
		}
	}
	return true
}
