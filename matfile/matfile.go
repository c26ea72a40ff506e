// Package matfile reads and writes numeric arrays in MATLAB Level 5 MAT
// files (the format written by scipy.io.savemat and MATLAB up to v7).
// Version 7.3 files are HDF5 containers and are not supported.
package matfile

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrNotMAT      = errors.New("not a MAT-file")
	ErrHDF5        = errors.New("MAT v7.3 (HDF5) files are not supported")
	ErrMalformed   = errors.New("malformed MAT-file")
	ErrUnsupported = errors.New("unsupported MAT array")
)

// Data element types.
const (
	miINT8       = 1
	miUINT8      = 2
	miINT16      = 3
	miUINT16     = 4
	miINT32      = 5
	miUINT32     = 6
	miSINGLE     = 7
	miDOUBLE     = 9
	miINT64      = 12
	miUINT64     = 13
	miMATRIX     = 14
	miCOMPRESSED = 15
)

const headerSize = 128

// Class is the MATLAB array class.
type Class uint8

const (
	Cell   Class = 1
	Struct Class = 2
	Object Class = 3
	Char   Class = 4
	Sparse Class = 5
	Double Class = 6
	Single Class = 7
	Int8   Class = 8
	Uint8  Class = 9
	Int16  Class = 10
	Uint16 Class = 11
	Int32  Class = 12
	Uint32 Class = 13
	Int64  Class = 14
	Uint64 Class = 15
)

func (c Class) String() string {
	names := map[Class]string{
		Cell: "cell", Struct: "struct", Object: "object", Char: "char", Sparse: "sparse",
		Double: "double", Single: "single", Int8: "int8", Uint8: "uint8", Int16: "int16",
		Uint16: "uint16", Int32: "int32", Uint32: "uint32", Int64: "int64", Uint64: "uint64",
	}
	if n, ok := names[c]; ok {
		return n
	}
	return fmt.Sprintf("class(%d)", uint8(c))
}

// Numeric reports whether arrays of class c can be decoded to numbers.
func (c Class) Numeric() bool {
	return c >= Double && c <= Uint64
}

// Array is a named numeric array. Data is stored row-major (C order) so
// that Dims read left to right index from the slowest to the fastest axis,
// the same layout numpy uses after scipy.io.loadmat.
type Array struct {
	Name  string
	Class Class
	Dims  []int
	Data  []float64
}

// Len is the number of elements described by Dims.
func (a *Array) Len() int {
	n := 1
	for _, d := range a.Dims {
		n *= d
	}
	return n
}

// File is the decoded content of a MAT-file.
type File struct {
	Header string
	arrays map[string]*Array
	names  []string
}

// Get returns the array stored under name.
func (f *File) Get(name string) (*Array, bool) {
	a, ok := f.arrays[name]
	return a, ok
}

// Names lists the numeric arrays in file order.
func (f *File) Names() []string {
	return append([]string(nil), f.names...)
}

// columnToRow reorders column-major data with the given dims into row-major.
func columnToRow(data []float64, dims []int) []float64 {
	if len(dims) < 2 {
		return data
	}
	out := make([]float64, len(data))
	rowStrides := make([]int, len(dims))
	stride := 1
	for i := len(dims) - 1; i >= 0; i-- {
		rowStrides[i] = stride
		stride *= dims[i]
	}
	idx := make([]int, len(dims))
	for colOffset := range data {
		rowOffset := 0
		for i, v := range idx {
			rowOffset += v * rowStrides[i]
		}
		out[rowOffset] = data[colOffset]
		// column-major: first index varies fastest
		for i := range idx {
			idx[i]++
			if idx[i] < dims[i] {
				break
			}
			idx[i] = 0
		}
	}
	return out
}

// rowToColumn is the inverse of columnToRow.
func rowToColumn(data []float64, dims []int) []float64 {
	if len(dims) < 2 {
		return data
	}
	out := make([]float64, len(data))
	colStrides := make([]int, len(dims))
	stride := 1
	for i := range dims {
		colStrides[i] = stride
		stride *= dims[i]
	}
	idx := make([]int, len(dims))
	for rowOffset := range data {
		colOffset := 0
		for i, v := range idx {
			colOffset += v * colStrides[i]
		}
		out[colOffset] = data[rowOffset]
		for i := len(idx) - 1; i >= 0; i-- {
			idx[i]++
			if idx[i] < dims[i] {
				break
			}
			idx[i] = 0
		}
	}
	return out
}
