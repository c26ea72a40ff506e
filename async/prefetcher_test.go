package async

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/jdirani/mneflow/dataset"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingSource yields batches whose single label is the batch number,
// then io.EOF after limit batches.
type countingSource struct {
	mutex  sync.Mutex
	next   int64
	limit  int64
	resets int
	fail   error
}

func (s *countingSource) Next(ctx context.Context) (*dataset.Batch, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.fail != nil && s.next == s.limit {
		return nil, s.fail
	}
	if s.next >= s.limit {
		return nil, io.EOF
	}
	b := &dataset.Batch{Y: []int64{s.next}}
	s.next++
	return b, nil
}

func (s *countingSource) Reset() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.next = 0
	s.resets++
	return nil
}

func drain(t *testing.T, p *Prefetcher) ([]int64, error) {
	t.Helper()
	var got []int64
	for {
		b, err := p.GetBatch(context.Background())
		if err != nil {
			return got, err
		}
		got = append(got, b.Y[0])
	}
}

func TestPrefetcherOrder(t *testing.T) {
	for _, depth := range []int{0, 1, 3} {
		src := &countingSource{limit: 5}
		p, err := NewPrefetcher(src, PrefetcherConfig{Depth: depth})
		require.NoError(t, err)
		require.NoError(t, p.Start())

		got, err := drain(t, p)
		assert.Equal(t, io.EOF, err)
		assert.Equal(t, []int64{0, 1, 2, 3, 4}, got, "depth %d", depth)

		// io.EOF sticks until Reset
		_, err = p.GetBatch(context.Background())
		assert.Equal(t, io.EOF, err)

		require.NoError(t, p.Reset())
		b, err := p.GetBatch(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(0), b.Y[0])
		assert.Equal(t, 1, src.resets)
		assert.Equal(t, uint64(2), p.Stats().Generation)

		require.NoError(t, p.Stop())
	}
}

func TestPrefetcherErrors(t *testing.T) {
	boom := errors.New("boom")
	src := &countingSource{limit: 2, fail: boom}
	p, err := NewPrefetcher(src, PrefetcherConfig{Depth: 2})
	require.NoError(t, err)
	require.NoError(t, p.Start())
	defer p.Stop()

	got, err := drain(t, p)
	assert.Equal(t, []int64{0, 1}, got)
	assert.Equal(t, boom, err)
}

func TestPrefetcherLifecycle(t *testing.T) {
	t.Run("config", func(t *testing.T) {
		_, err := NewPrefetcher(nil, PrefetcherConfig{})
		assert.Error(t, err)
		_, err = NewPrefetcher(&countingSource{}, PrefetcherConfig{Depth: -1})
		assert.Error(t, err)
	})

	t.Run("not started", func(t *testing.T) {
		p, err := NewPrefetcher(&countingSource{limit: 1}, PrefetcherConfig{Depth: 1})
		require.NoError(t, err)
		_, err = p.GetBatch(context.Background())
		assert.Equal(t, ErrStopped, err)
	})

	t.Run("double start", func(t *testing.T) {
		p, err := NewPrefetcher(&countingSource{limit: 1}, PrefetcherConfig{Depth: 1})
		require.NoError(t, err)
		require.NoError(t, p.Start())
		assert.Error(t, p.Start())
		require.NoError(t, p.Stop())
		require.NoError(t, p.Stop())
		assert.False(t, p.Stats().IsRunning)
	})

	t.Run("fills queue ahead of the consumer", func(t *testing.T) {
		p, err := NewPrefetcher(&countingSource{limit: 100}, PrefetcherConfig{Depth: 3})
		require.NoError(t, err)
		require.NoError(t, p.Start())
		defer p.Stop()

		assert.Eventually(t, func() bool {
			return p.Stats().QueuedBatches == 3
		}, time.Second, time.Millisecond)

		b, err := p.TryGetBatch()
		require.NoError(t, err)
		require.NotNil(t, b)
		assert.Equal(t, int64(0), b.Y[0])
	})

	t.Run("cancelled wait", func(t *testing.T) {
		blocked := &countingSource{limit: 0, fail: nil}
		p, err := NewPrefetcher(blocked, PrefetcherConfig{Depth: 1})
		require.NoError(t, err)
		require.NoError(t, p.Start())
		defer p.Stop()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err = p.GetBatch(ctx)
		// either the EOF is already queued or the wait is cancelled
		assert.True(t, err == io.EOF || errors.Is(err, context.Canceled))
	})
}
