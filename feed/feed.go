// Package feed switches a training loop between a training and a
// validation batch stream. Each stream is read ahead by its own prefetcher,
// so the inactive side keeps its position and its queued batches.
package feed

import (
	"context"
	"io"

	"github.com/jdirani/mneflow/async"
	"github.com/jdirani/mneflow/dataset"
	"github.com/pkg/errors"
)

// ErrNotShufflable is returned by Shuffle when the training source cannot
// change its shuffle buffer.
var ErrNotShufflable = errors.New("training source does not support shuffling")

// Handle names one side of the feed.
type Handle int

const (
	Train Handle = iota
	Validation
)

func (h Handle) String() string {
	switch h {
	case Train:
		return "train"
	case Validation:
		return "validation"
	default:
		return "unknown"
	}
}

func (h Handle) valid() bool {
	return h == Train || h == Validation
}

// Source is an ordered, restartable batch stream.
type Source interface {
	Next(ctx context.Context) (*dataset.Batch, error)
	Reset() error
}

// Shuffler is implemented by sources whose shuffle buffer can be changed
// while they are being read.
type Shuffler interface {
	Shuffle(buffer int) error
}

// Options configures a Feed.
type Options struct {
	// Depth is the number of batches read ahead per side; 0 reads on demand.
	Depth int `yaml:"prefetch" json:"prefetch"`
}

// DefaultOptions reads two batches ahead on each side.
func DefaultOptions() Options {
	return Options{Depth: 2}
}

// Feed holds the two prefetched sides and the currently selected one. The
// active handle is owned by the caller; Feed is not meant to be switched
// from several goroutines at once.
type Feed struct {
	sources [2]Source
	sides   [2]*async.Prefetcher
	active  Handle
}

// New starts prefetching both sources. The training side is active.
func New(train, val Source, opts Options) (*Feed, error) {
	if train == nil || val == nil {
		return nil, errors.New("feed needs both a training and a validation source")
	}
	f := &Feed{sources: [2]Source{train, val}, active: Train}
	for h, src := range f.sources {
		p, err := async.NewPrefetcher(src, async.PrefetcherConfig{Depth: opts.Depth})
		if err != nil {
			f.Close()
			return nil, errors.Wrapf(err, "failed to create %s prefetcher", Handle(h))
		}
		if err := p.Start(); err != nil {
			f.Close()
			return nil, errors.Wrapf(err, "failed to start %s prefetcher", Handle(h))
		}
		f.sides[h] = p
	}
	return f, nil
}

// Select makes h the side Next reads from.
func (f *Feed) Select(h Handle) error {
	if !h.valid() {
		return errors.Errorf("invalid feed handle %d", int(h))
	}
	f.active = h
	return nil
}

// Active returns the selected side.
func (f *Feed) Active() Handle {
	return f.active
}

// Next returns the next batch of the active side.
func (f *Feed) Next(ctx context.Context) (*dataset.Batch, error) {
	batch, err := f.sides[f.active].GetBatch(ctx)
	if err != nil {
		if err == io.EOF {
			return nil, err
		}
		return nil, errors.Wrapf(err, "failed to read %s batch", f.active)
	}
	return batch, nil
}

// Reset restarts side h from its first batch, dropping anything queued.
func (f *Feed) Reset(h Handle) error {
	if !h.valid() {
		return errors.Errorf("invalid feed handle %d", int(h))
	}
	return f.sides[h].Reset()
}

// Shuffle sets the shuffle buffer of the training source. Batches already
// read ahead keep their order; the validation side is untouched.
func (f *Feed) Shuffle(buffer int) error {
	s, ok := f.sources[Train].(Shuffler)
	if !ok {
		return ErrNotShufflable
	}
	return s.Shuffle(buffer)
}

// Stats reports the prefetcher state of side h.
func (f *Feed) Stats(h Handle) async.PrefetcherStats {
	return f.sides[h].Stats()
}

// Close stops both prefetchers and closes sources that are io.Closers.
func (f *Feed) Close() error {
	var first error
	for h, p := range f.sides {
		if p != nil {
			if err := p.Stop(); err != nil && first == nil {
				first = err
			}
		}
		if c, ok := f.sources[h].(io.Closer); ok {
			if err := c.Close(); err != nil && first == nil {
				first = errors.Wrapf(err, "failed to close %s source", Handle(h))
			}
		}
	}
	return first
}
