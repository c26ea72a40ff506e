package feed

import (
	"context"
	"io"
	"testing"

	"github.com/jdirani/mneflow/dataset"
	"github.com/jdirani/mneflow/pipeline"
	"github.com/jdirani/mneflow/tensor"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// listSource replays fixed labels, one per batch, then io.EOF.
type listSource struct {
	labels []int64
	pos    int
	closed bool
}

func (s *listSource) Next(ctx context.Context) (*dataset.Batch, error) {
	if s.pos >= len(s.labels) {
		return nil, io.EOF
	}
	b := &dataset.Batch{Y: []int64{s.labels[s.pos]}}
	s.pos++
	return b, nil
}

func (s *listSource) Reset() error {
	s.pos = 0
	return nil
}

func (s *listSource) Close() error {
	s.closed = true
	return nil
}

func next(t *testing.T, f *Feed) int64 {
	t.Helper()
	b, err := f.Next(context.Background())
	require.NoError(t, err)
	return b.Y[0]
}

func TestFeedSwitching(t *testing.T) {
	for _, depth := range []int{0, 2} {
		train := &listSource{labels: []int64{1, 2, 3, 4}}
		val := &listSource{labels: []int64{10, 20}}
		f, err := New(train, val, Options{Depth: depth})
		require.NoError(t, err)

		assert.Equal(t, Train, f.Active())
		assert.Equal(t, int64(1), next(t, f))
		assert.Equal(t, int64(2), next(t, f))

		require.NoError(t, f.Select(Validation))
		assert.Equal(t, Validation, f.Active())
		assert.Equal(t, int64(10), next(t, f))

		// the training side resumes where it left off
		require.NoError(t, f.Select(Train))
		assert.Equal(t, int64(3), next(t, f))

		require.NoError(t, f.Select(Validation))
		assert.Equal(t, int64(20), next(t, f))
		_, err = f.Next(context.Background())
		assert.Equal(t, io.EOF, err)

		require.NoError(t, f.Reset(Validation))
		assert.Equal(t, int64(10), next(t, f))

		require.NoError(t, f.Select(Train))
		assert.Equal(t, int64(4), next(t, f))

		require.NoError(t, f.Close())
		assert.True(t, train.closed)
		assert.True(t, val.closed)
	}
}

func TestFeedHandles(t *testing.T) {
	f, err := New(&listSource{}, &listSource{}, DefaultOptions())
	require.NoError(t, err)
	defer f.Close()

	assert.Error(t, f.Select(Handle(7)))
	assert.Error(t, f.Reset(Handle(-1)))
	assert.Equal(t, Train, f.Active())
	assert.Equal(t, "validation", Validation.String())

	// listSource cannot shuffle
	assert.Equal(t, ErrNotShufflable, f.Shuffle(10))

	_, err = New(nil, &listSource{}, DefaultOptions())
	assert.Error(t, err)
	_, err = New(&listSource{}, &listSource{}, Options{Depth: -1})
	assert.Error(t, err)
}

func TestFeedOverRecords(t *testing.T) {
	fs := afero.NewMemMapFs()
	write := func(path string, labels ...int64) {
		x, err := tensor.Zeros([]int{len(labels), 1, 2}, tensor.Float32)
		require.NoError(t, err)
		for i, l := range labels {
			x.Row(i)[0] = float64(l)
		}
		require.NoError(t, pipeline.WriteRecords(fs, path, x, labels, pipeline.DefaultOptions().Options))
	}
	write("/c/train.tfrecord", 0, 1, 2, 3, 4, 5)
	write("/c/val.tfrecord", 9, 8)

	meta := &pipeline.Meta{
		TrainPaths: []string{"/c/train.tfrecord"},
		ValPaths:   []string{"/c/val.tfrecord"},
		NChannels:  1,
		NTimes:     2,
	}
	ds, err := dataset.New(fs, meta, dataset.Config{TrainBatch: 4, Prefetch: 2}, nil)
	require.NoError(t, err)

	f, err := New(ds.Train, ds.Val, Options{Depth: 2})
	require.NoError(t, err)
	defer f.Close()

	b, err := f.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1, 2, 3}, b.Y)

	require.NoError(t, f.Select(Validation))
	b, err = f.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{9, 8}, b.Y)
	assert.Equal(t, []int{2, 1, 2}, b.X.Shape)

	// the training sequence repeats, so shuffling only changes the order
	// of records not yet drawn
	require.NoError(t, f.Shuffle(3))
	require.NoError(t, f.Select(Train))
	seen := map[int64]int{}
	for i := 0; i < 3; i++ {
		b, err = f.Next(context.Background())
		require.NoError(t, err)
		for _, y := range b.Y {
			seen[y]++
		}
	}
	for y := int64(0); y < 6; y++ {
		assert.Contains(t, seen, y)
	}
}
