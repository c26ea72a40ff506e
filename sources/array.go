package sources

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/jdirani/mneflow/matfile"
	"github.com/jdirani/mneflow/tensor"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// ArrayFile is a .mat or .npz file holding a signal array under Keys.X and
// event codes under Keys.Y.
type ArrayFile struct {
	Fs   afero.Fs
	Path string
	Keys ArrayKeys
}

func (s *ArrayFile) Name() string { return s.Path }

// array is a decoded numeric variable in row-major order.
type array struct {
	shape []int
	dtype tensor.DType
	data  []float64
}

func (s *ArrayFile) open(ctx context.Context, keys ...string) (map[string]*array, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var (
		arrays map[string]*array
		err    error
	)
	switch strings.ToLower(filepath.Ext(s.Path)) {
	case ".mat":
		arrays, err = s.readMat(keys)
	case ".npz":
		arrays, err = readNpz(s.Fs, s.Path, keys)
	default:
		return nil, errors.Wrapf(ErrUnsupportedExtension, "%s", s.Path)
	}
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		if _, ok := arrays[k]; !ok {
			return nil, errors.Wrapf(ErrMissingKey, "%q in %s", k, s.Path)
		}
	}
	return arrays, nil
}

func (s *ArrayFile) readMat(keys []string) (map[string]*array, error) {
	f, err := s.Fs.Open(s.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", s.Path)
	}
	defer f.Close()

	mf, err := matfile.Read(f)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", s.Path)
	}
	out := make(map[string]*array, len(keys))
	for _, k := range keys {
		arr, ok := mf.Get(k)
		if !ok {
			continue
		}
		dtype := tensor.Float64
		if arr.Class == matfile.Single {
			dtype = tensor.Float32
		}
		out[k] = &array{shape: arr.Dims, dtype: dtype, data: arr.Data}
	}
	return out, nil
}

func (s *ArrayFile) Load(ctx context.Context) (*Trials, error) {
	arrays, err := s.open(ctx, s.Keys.X, s.Keys.Y)
	if err != nil {
		return nil, err
	}
	sig := arrays[s.Keys.X]
	x, err := tensor.NewTensor(sig.shape, sig.dtype, sig.data)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: %q", s.Path, s.Keys.X)
	}
	codes, err := labelCodes(arrays[s.Keys.Y].data, s.Keys.Y)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", s.Path)
	}
	return checkTrials(s.Path, x, codes)
}

func (s *ArrayFile) Codes(ctx context.Context) ([]int64, error) {
	arrays, err := s.open(ctx, s.Keys.Y)
	if err != nil {
		return nil, err
	}
	codes, err := labelCodes(arrays[s.Keys.Y].data, s.Keys.Y)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", s.Path)
	}
	return codes, nil
}
