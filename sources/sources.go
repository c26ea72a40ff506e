// Package sources turns the supported input kinds into (trial, channel,
// time) arrays with one event code per trial.
package sources

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/jdirani/mneflow/fiff"
	"github.com/jdirani/mneflow/tensor"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

var (
	ErrUnsupportedInputType = errors.New("unsupported input type")
	ErrUnsupportedExtension = errors.New("array inputs must be .mat or .npz files")
	ErrMissingKey           = errors.New("array key not found")
	ErrBadArray             = errors.New("array has an unexpected shape or type")
)

// Trials is the content of one source.
type Trials struct {
	X     *tensor.Tensor
	Codes []int64
}

// Source is one input of the corpus pipeline.
type Source interface {
	Name() string
	Load(ctx context.Context) (*Trials, error)
}

// CodeLister is implemented by sources that can report their event codes
// without materializing the signal.
type CodeLister interface {
	Codes(ctx context.Context) ([]int64, error)
}

// Codes returns the event codes of src, through CodeLister when available.
func Codes(ctx context.Context, src Source) ([]int64, error) {
	if cl, ok := src.(CodeLister); ok {
		return cl.Codes(ctx)
	}
	trials, err := src.Load(ctx)
	if err != nil {
		return nil, err
	}
	return trials.Codes, nil
}

// InputType is the tag that decides how a path is interpreted.
type InputType string

const (
	InputArray  InputType = "array"
	InputEpochs InputType = "epochs"
)

// ArrayKeys names the variables holding the signal and the event codes.
type ArrayKeys struct {
	X string `yaml:"X" json:"X"`
	Y string `yaml:"y" json:"y"`
}

// Config selects how paths become sources.
type Config struct {
	InputType InputType  `yaml:"input_type" json:"input_type"`
	ArrayKeys ArrayKeys  `yaml:"array_keys" json:"array_keys"`
	Picks     fiff.Picks `yaml:"picks" json:"picks"`
}

// DefaultConfig reads arrays stored under "X" and "y".
func DefaultConfig() Config {
	return Config{
		InputType: InputArray,
		ArrayKeys: ArrayKeys{X: "X", Y: "y"},
	}
}

// Validate checks the input type and keys.
func (c Config) Validate() error {
	switch c.InputType {
	case InputArray:
		if c.ArrayKeys.X == "" || c.ArrayKeys.Y == "" {
			return errors.New("array_keys must name both X and y")
		}
	case InputEpochs:
	default:
		return errors.Wrapf(ErrUnsupportedInputType, "%q", c.InputType)
	}
	return nil
}

// FromPath builds the source for path according to cfg.InputType.
func FromPath(fs afero.Fs, path string, cfg Config) (Source, error) {
	switch cfg.InputType {
	case InputArray:
		switch strings.ToLower(filepath.Ext(path)) {
		case ".mat", ".npz":
		default:
			return nil, errors.Wrapf(ErrUnsupportedExtension, "%s", path)
		}
		return &ArrayFile{Fs: fs, Path: path, Keys: cfg.ArrayKeys}, nil
	case InputEpochs:
		return &EpochsFile{Fs: fs, Path: path, Picks: cfg.Picks}, nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedInputType, "%q for %s", cfg.InputType, path)
	}
}

// FromPaths applies FromPath to every path.
func FromPaths(fs afero.Fs, paths []string, cfg Config) ([]Source, error) {
	out := make([]Source, 0, len(paths))
	for _, p := range paths {
		src, err := FromPath(fs, p, cfg)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, nil
}

// labelCodes flattens a label array to integer codes.
func labelCodes(values []float64, name string) ([]int64, error) {
	codes := make([]int64, len(values))
	for i, v := range values {
		c := int64(v)
		if float64(c) != v {
			return nil, errors.Wrapf(ErrBadArray, "label %q has non-integral value %g at %d", name, v, i)
		}
		codes[i] = c
	}
	return codes, nil
}

func checkTrials(name string, x *tensor.Tensor, codes []int64) (*Trials, error) {
	if x.Dim() != 3 {
		return nil, errors.Wrapf(ErrBadArray, "%s: signal must be (trial, channel, time), got shape %v", name, x.Shape)
	}
	if x.Len() != len(codes) {
		return nil, errors.Wrapf(ErrBadArray, "%s: %d trials but %d labels", name, x.Len(), len(codes))
	}
	return &Trials{X: x, Codes: codes}, nil
}
