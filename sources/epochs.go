package sources

import (
	"context"
	"fmt"

	"github.com/jdirani/mneflow/fiff"
	"github.com/jdirani/mneflow/tensor"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

type epochsSource struct {
	name   string
	epochs *fiff.Epochs
}

// FromEpochs wraps epochs already in memory.
func FromEpochs(name string, ep *fiff.Epochs) Source {
	if name == "" {
		name = fmt.Sprintf("epochs(%d x %d x %d)", ep.NEpochs, ep.NChannels(), ep.NTimes)
	}
	return &epochsSource{name: name, epochs: ep}
}

func (s *epochsSource) Name() string { return s.name }

func (s *epochsSource) Load(ctx context.Context) (*Trials, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return epochsTrials(s.name, s.epochs)
}

func (s *epochsSource) Codes(ctx context.Context) ([]int64, error) {
	return s.epochs.Codes(), nil
}

func epochsTrials(name string, ep *fiff.Epochs) (*Trials, error) {
	data := make([]float64, len(ep.Data))
	copy(data, ep.Data)
	x, err := tensor.NewTensor([]int{ep.NEpochs, ep.NChannels(), ep.NTimes}, tensor.Float64, data)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", name)
	}
	return checkTrials(name, x, ep.Codes())
}

// EpochsFile is an MNE epochs file on disk. Event codes are taken before
// Picks are applied.
type EpochsFile struct {
	Fs    afero.Fs
	Path  string
	Picks fiff.Picks
}

func (s *EpochsFile) Name() string { return s.Path }

func (s *EpochsFile) read(ctx context.Context) (*fiff.Epochs, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := s.Fs.Open(s.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open epochs file %s", s.Path)
	}
	defer f.Close()

	ep, err := fiff.ReadEpochs(f)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read epochs file %s", s.Path)
	}
	return ep, nil
}

func (s *EpochsFile) Load(ctx context.Context) (*Trials, error) {
	ep, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	if !s.Picks.IsZero() {
		idx, err := s.Picks.Select(&ep.Info)
		if err != nil {
			return nil, errors.Wrapf(err, "%s", s.Path)
		}
		if ep, err = ep.Pick(idx); err != nil {
			return nil, errors.Wrapf(err, "%s", s.Path)
		}
	}
	return epochsTrials(s.Path, ep)
}

func (s *EpochsFile) Codes(ctx context.Context) ([]int64, error) {
	ep, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	return ep.Codes(), nil
}
