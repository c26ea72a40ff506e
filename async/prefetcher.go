// Package async overlaps batch loading with training by reading batches
// ahead of the consumer on a background goroutine.
package async

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/jdirani/mneflow/dataset"
	"github.com/pkg/errors"
)

// ErrStopped is returned by GetBatch once the prefetcher has been stopped.
var ErrStopped = errors.New("prefetcher is stopped")

// BatchSource produces batches in order and can restart from the beginning.
type BatchSource interface {
	Next(ctx context.Context) (*dataset.Batch, error)
	Reset() error
}

type result struct {
	batch *dataset.Batch
	err   error
}

// PrefetcherConfig holds configuration for a Prefetcher.
type PrefetcherConfig struct {
	// Depth is the number of batches read ahead. 0 reads synchronously in
	// GetBatch.
	Depth int
}

// Prefetcher reads batches from a source on a single worker so that batch
// order is preserved. An error from the source, io.EOF included, is
// delivered after every batch read before it and is then returned by every
// call until Reset.
type Prefetcher struct {
	source BatchSource
	depth  int

	mutex      sync.Mutex
	results    chan result
	cancel     context.CancelFunc
	done       chan struct{}
	isRunning  bool
	err        error
	generation uint64

	produced uint64
	consumed uint64
}

// NewPrefetcher wraps source. Call Start before GetBatch.
func NewPrefetcher(source BatchSource, config PrefetcherConfig) (*Prefetcher, error) {
	if source == nil {
		return nil, errors.New("batch source cannot be nil")
	}
	if config.Depth < 0 {
		return nil, errors.Errorf("prefetch depth must be non-negative, got %d", config.Depth)
	}
	return &Prefetcher{source: source, depth: config.Depth, generation: 1}, nil
}

// Start launches the background worker.
func (p *Prefetcher) Start() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.isRunning {
		return errors.New("prefetcher is already running")
	}
	p.startLocked()
	return nil
}

func (p *Prefetcher) startLocked() {
	p.isRunning = true
	if p.depth == 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.results = make(chan result, p.depth)
	p.done = make(chan struct{})
	go p.worker(ctx, p.results, p.done)
}

// Stop halts the worker and discards queued batches.
func (p *Prefetcher) Stop() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.stopLocked()
	return nil
}

func (p *Prefetcher) stopLocked() {
	if !p.isRunning {
		return
	}
	p.isRunning = false
	if p.depth == 0 {
		return
	}
	p.cancel()
	<-p.done
	for range p.results {
	}
}

// Reset stops the worker, restarts the source and, if the prefetcher was
// running, starts reading again from the first batch. Sticky errors are
// cleared.
func (p *Prefetcher) Reset() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	wasRunning := p.isRunning
	p.stopLocked()
	if err := p.source.Reset(); err != nil {
		return errors.Wrap(err, "failed to reset batch source")
	}
	p.err = nil
	p.generation++
	if wasRunning {
		p.startLocked()
	}
	return nil
}

// GetBatch returns the next batch, blocking until one is ready or ctx is
// done.
func (p *Prefetcher) GetBatch(ctx context.Context) (*dataset.Batch, error) {
	p.mutex.Lock()
	if p.err != nil {
		err := p.err
		p.mutex.Unlock()
		return nil, err
	}
	if !p.isRunning {
		p.mutex.Unlock()
		return nil, ErrStopped
	}
	if p.depth == 0 {
		defer p.mutex.Unlock()
		batch, err := p.source.Next(ctx)
		if err != nil {
			if ctx.Err() == nil {
				p.err = err
			}
			return nil, err
		}
		atomic.AddUint64(&p.produced, 1)
		atomic.AddUint64(&p.consumed, 1)
		return batch, nil
	}
	results := p.results
	p.mutex.Unlock()

	select {
	case r, ok := <-results:
		return p.receive(r, ok)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryGetBatch returns a queued batch without blocking, or nil if none is
// ready. A synchronous prefetcher always reads.
func (p *Prefetcher) TryGetBatch() (*dataset.Batch, error) {
	p.mutex.Lock()
	if p.depth == 0 || p.err != nil || !p.isRunning {
		p.mutex.Unlock()
		return p.GetBatch(context.Background())
	}
	results := p.results
	p.mutex.Unlock()

	select {
	case r, ok := <-results:
		return p.receive(r, ok)
	default:
		return nil, nil
	}
}

func (p *Prefetcher) receive(r result, ok bool) (*dataset.Batch, error) {
	if !ok {
		return nil, ErrStopped
	}
	if r.err != nil {
		p.mutex.Lock()
		p.err = r.err
		p.mutex.Unlock()
		return nil, r.err
	}
	atomic.AddUint64(&p.consumed, 1)
	return r.batch, nil
}

// worker runs in background and reads batches until the source fails or
// the context is cancelled.
func (p *Prefetcher) worker(ctx context.Context, results chan<- result, done chan<- struct{}) {
	defer close(done)
	defer close(results)

	for {
		batch, err := p.source.Next(ctx)
		if ctx.Err() != nil {
			return
		}
		select {
		case results <- result{batch: batch, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
		atomic.AddUint64(&p.produced, 1)
	}
}

// Stats returns statistics about the prefetcher.
func (p *Prefetcher) Stats() PrefetcherStats {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	stats := PrefetcherStats{
		IsRunning:       p.isRunning,
		BatchesProduced: atomic.LoadUint64(&p.produced),
		BatchesConsumed: atomic.LoadUint64(&p.consumed),
		Depth:           p.depth,
		Generation:      p.generation,
	}
	if p.isRunning && p.results != nil {
		stats.QueuedBatches = len(p.results)
	}
	return stats
}

// PrefetcherStats provides statistics about the prefetcher.
type PrefetcherStats struct {
	IsRunning       bool
	BatchesProduced uint64
	BatchesConsumed uint64
	QueuedBatches   int
	Depth           int
	Generation      uint64
}
