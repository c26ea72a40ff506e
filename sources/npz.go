package sources

import (
	"strings"

	"github.com/jdirani/mneflow/tensor"
	"github.com/klauspost/compress/zip"
	"github.com/pkg/errors"
	"github.com/sbinet/npyio/npy"
	"github.com/spf13/afero"
)

// readNpz decodes the requested entries of a numpy .npz archive. Entries
// in Fortran order are converted to row-major.
func readNpz(fs afero.Fs, path string, keys []string) (map[string]*array, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to stat %s", path)
	}
	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open npz archive %s", path)
	}

	wanted := make(map[string]bool, len(keys))
	for _, k := range keys {
		wanted[k] = true
	}
	out := make(map[string]*array, len(keys))
	for _, entry := range zr.File {
		name := strings.TrimSuffix(entry.Name, ".npy")
		if !wanted[name] {
			continue
		}
		arr, err := readNpyEntry(entry)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: entry %q", path, entry.Name)
		}
		out[name] = arr
	}
	return out, nil
}

func readNpyEntry(entry *zip.File) (*array, error) {
	rc, err := entry.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	r, err := npy.NewReader(rc)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read npy header")
	}
	descr := r.Header.Descr
	data, dtype, err := readNpyData(r, descr.Type)
	if err != nil {
		return nil, err
	}

	shape := descr.Shape
	if len(shape) == 0 {
		shape = []int{1}
	}
	if descr.Fortran {
		t, err := tensor.FromColumnMajor(shape, tensor.Float64, data)
		if err != nil {
			return nil, err
		}
		data = t.Data
	}
	return &array{shape: shape, dtype: dtype, data: data}, nil
}

// readNpyData reads the payload into a slice of the stored element type and
// widens it to float64.
func readNpyData(r *npy.Reader, descr string) ([]float64, tensor.DType, error) {
	kind := strings.TrimLeft(descr, "<>|=")
	switch kind {
	case "f8":
		var v []float64
		err := r.Read(&v)
		return v, tensor.Float64, err
	case "f4":
		var v []float32
		if err := r.Read(&v); err != nil {
			return nil, 0, err
		}
		out := make([]float64, len(v))
		for i, x := range v {
			out[i] = float64(x)
		}
		return out, tensor.Float32, nil
	case "i8":
		var v []int64
		if err := r.Read(&v); err != nil {
			return nil, 0, err
		}
		return widen(v), tensor.Float64, nil
	case "i4":
		var v []int32
		if err := r.Read(&v); err != nil {
			return nil, 0, err
		}
		return widen(v), tensor.Float64, nil
	case "i2":
		var v []int16
		if err := r.Read(&v); err != nil {
			return nil, 0, err
		}
		return widen(v), tensor.Float64, nil
	case "i1":
		var v []int8
		if err := r.Read(&v); err != nil {
			return nil, 0, err
		}
		return widen(v), tensor.Float64, nil
	case "u8":
		var v []uint64
		if err := r.Read(&v); err != nil {
			return nil, 0, err
		}
		return widen(v), tensor.Float64, nil
	case "u4":
		var v []uint32
		if err := r.Read(&v); err != nil {
			return nil, 0, err
		}
		return widen(v), tensor.Float64, nil
	case "u2":
		var v []uint16
		if err := r.Read(&v); err != nil {
			return nil, 0, err
		}
		return widen(v), tensor.Float64, nil
	case "u1":
		var v []uint8
		if err := r.Read(&v); err != nil {
			return nil, 0, err
		}
		return widen(v), tensor.Float64, nil
	}
	return nil, 0, errors.Wrapf(ErrBadArray, "unsupported dtype %q", descr)
}

type number interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

func widen[T number](v []T) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
