package dataset

import (
	"context"
	"io"
	"math/rand"
	"sync"

	"github.com/jdirani/mneflow/tensor"
	"github.com/jdirani/mneflow/tfrecord"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// ErrEmpty is returned when a repeating sequence has no records at all.
var ErrEmpty = errors.New("record files contain no trials")

// Batch is a group of trials with their class indices.
type Batch struct {
	X *tensor.Tensor // (trial, channel, time)
	Y []int64
}

// Len is the number of trials in the batch.
func (b *Batch) Len() int {
	return len(b.Y)
}

type trial struct {
	x []float32
	y int64
}

// SequenceOptions configures a Sequence.
type SequenceOptions struct {
	// BatchSize trials per batch; 0 yields one batch per pass.
	BatchSize int
	// Repeat restarts from the first file when a pass ends.
	Repeat bool
	// ShuffleBuffer > 0 shuffles records through a buffer of that size.
	ShuffleBuffer int
	Rand          *rand.Rand
	Records       tfrecord.Options
	// Cache serves files already decoded by an earlier pass.
	Cache *FileCache
}

// Sequence streams trials out of record files as batches. Shuffling uses a
// bounded buffer: each trial is drawn at random from the next
// ShuffleBuffer records of the pass.
type Sequence struct {
	fs    afero.Fs
	paths []string
	nCh   int
	nT    int
	opts  SequenceOptions

	mu      sync.Mutex
	fileIdx int
	file    afero.File
	reader  *tfrecord.Reader
	buffer  []trial
	drained bool
	yielded int

	// cached replays a file from the cache; pending collects a file being
	// read for the cache.
	cached    []trial
	cachedPos int
	pending   []trial
}

// NewSequence reads records of nCh x nT trials from paths, in order.
func NewSequence(fs afero.Fs, paths []string, nCh, nT int, opts SequenceOptions) (*Sequence, error) {
	if nCh <= 0 || nT <= 0 {
		return nil, errors.Errorf("invalid trial shape (%d, %d)", nCh, nT)
	}
	if opts.BatchSize < 0 {
		return nil, errors.Errorf("batch size must be non-negative, got %d", opts.BatchSize)
	}
	if opts.ShuffleBuffer > 0 && opts.Rand == nil {
		return nil, errors.New("shuffling needs a random source")
	}
	return &Sequence{
		fs:    fs,
		paths: append([]string(nil), paths...),
		nCh:   nCh,
		nT:    nT,
		opts:  opts,
	}, nil
}

// Paths lists the record files of the sequence.
func (s *Sequence) Paths() []string {
	return append([]string(nil), s.paths...)
}

// Next returns the next batch. A pass that ends mid-batch yields a short
// batch. Without Repeat, io.EOF follows the last batch.
func (s *Sequence) Next(ctx context.Context) (*Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var trials []trial
	for s.opts.BatchSize == 0 || len(trials) < s.opts.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tr, err := s.nextTrial()
		if err == io.EOF {
			if len(trials) > 0 {
				s.endPass()
				break
			}
			if !s.opts.Repeat {
				return nil, io.EOF
			}
			if s.yielded == 0 {
				return nil, ErrEmpty
			}
			s.endPass()
			if err := s.rewind(); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		trials = append(trials, tr)
		s.yielded++
	}
	return s.assemble(trials)
}

// endPass marks the end of the data so the next call restarts the files
// (with Repeat) or reports io.EOF.
func (s *Sequence) endPass() {
	s.drained = true
}

func (s *Sequence) assemble(trials []trial) (*Batch, error) {
	size := s.nCh * s.nT
	data := make([]float64, len(trials)*size)
	y := make([]int64, len(trials))
	for i, tr := range trials {
		for j, v := range tr.x {
			data[i*size+j] = float64(v)
		}
		y[i] = tr.y
	}
	x, err := tensor.NewTensor([]int{len(trials), s.nCh, s.nT}, tensor.Float32, data)
	if err != nil {
		return nil, err
	}
	return &Batch{X: x, Y: y}, nil
}

func (s *Sequence) nextTrial() (trial, error) {
	if s.drained {
		if !s.opts.Repeat {
			return trial{}, io.EOF
		}
		if err := s.rewind(); err != nil {
			return trial{}, err
		}
	}
	if s.opts.ShuffleBuffer <= 0 {
		return s.readTrial()
	}

	for len(s.buffer) < s.opts.ShuffleBuffer {
		tr, err := s.readTrial()
		if err == io.EOF {
			break
		}
		if err != nil {
			return trial{}, err
		}
		s.buffer = append(s.buffer, tr)
	}
	if len(s.buffer) == 0 {
		return trial{}, io.EOF
	}
	j := s.opts.Rand.Intn(len(s.buffer))
	tr := s.buffer[j]
	last := len(s.buffer) - 1
	s.buffer[j] = s.buffer[last]
	s.buffer = s.buffer[:last]
	return tr, nil
}

func (s *Sequence) readTrial() (trial, error) {
	for {
		if s.cached != nil {
			if s.cachedPos < len(s.cached) {
				tr := s.cached[s.cachedPos]
				s.cachedPos++
				return tr, nil
			}
			s.cached = nil
			s.fileIdx++
			continue
		}
		if s.reader == nil {
			if s.fileIdx >= len(s.paths) {
				return trial{}, io.EOF
			}
			path := s.paths[s.fileIdx]
			if trials, ok := s.opts.Cache.get(path); ok {
				if len(trials) == 0 {
					s.fileIdx++
				} else {
					s.cached, s.cachedPos = trials, 0
				}
				continue
			}
			if err := s.open(path); err != nil {
				return trial{}, err
			}
		}
		ex, err := s.reader.ReadExample()
		if err == io.EOF {
			s.opts.Cache.put(s.paths[s.fileIdx], s.pending)
			s.closeFile()
			s.fileIdx++
			continue
		}
		if err != nil {
			return trial{}, errors.Wrapf(err, "failed to read %s", s.paths[s.fileIdx])
		}
		x, y, err := ex.Trial()
		if err != nil {
			return trial{}, errors.Wrapf(err, "failed to decode %s", s.paths[s.fileIdx])
		}
		if len(x) != s.nCh*s.nT {
			return trial{}, errors.Errorf("%s: trial has %d values, expected %d x %d", s.paths[s.fileIdx], len(x), s.nCh, s.nT)
		}
		tr := trial{x: x, y: y}
		if s.opts.Cache != nil {
			s.pending = append(s.pending, tr)
		}
		return tr, nil
	}
}

func (s *Sequence) open(path string) error {
	f, err := s.fs.Open(path)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", path)
	}
	r, err := tfrecord.NewReader(f, s.opts.Records)
	if err != nil {
		f.Close()
		return errors.Wrapf(err, "failed to open %s", path)
	}
	s.file, s.reader = f, r
	return nil
}

func (s *Sequence) closeFile() {
	if s.reader != nil {
		s.reader.Close()
	}
	if s.file != nil {
		s.file.Close()
	}
	s.file, s.reader = nil, nil
	s.pending = nil
}

func (s *Sequence) rewind() error {
	s.closeFile()
	s.cached = nil
	s.fileIdx = 0
	s.buffer = s.buffer[:0]
	s.drained = false
	return nil
}

// Reset restarts the sequence from the first record of the first file.
func (s *Sequence) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.yielded = 0
	return s.rewind()
}

// Shuffle changes the shuffle buffer size; it applies to the records not
// yet drawn. A buffer of 0 disables shuffling.
func (s *Sequence) Shuffle(buffer int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if buffer > 0 && s.opts.Rand == nil {
		return errors.New("shuffling needs a random source")
	}
	s.opts.ShuffleBuffer = buffer
	return nil
}

func (s *Sequence) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeFile()
	return nil
}
