package preprocessing

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/jdirani/mneflow/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func indexedTrials(t *testing.T, n int) (*tensor.Tensor, []int64) {
	t.Helper()
	data := make([]float64, n*2)
	y := make([]int64, n)
	for i := 0; i < n; i++ {
		data[2*i] = float64(i)
		data[2*i+1] = float64(-i)
		y[i] = int64(i)
	}
	x, err := tensor.NewTensor([]int{n, 1, 2}, tensor.Float64, data)
	require.NoError(t, err)
	return x, y
}

func TestValidationSize(t *testing.T) {
	assert.Equal(t, 2, ValidationSize(10, 0.2))
	assert.Equal(t, 0, ValidationSize(10, 0))
	assert.Equal(t, 10, ValidationSize(10, 1))
	assert.Equal(t, 2, ValidationSize(5, 0.5))
	assert.Equal(t, 4, ValidationSize(7, 0.5))
	assert.Equal(t, 0, ValidationSize(1, 0.2))
}

func TestSplitSets(t *testing.T) {
	t.Run("sizes and disjoint cover", func(t *testing.T) {
		x, y := indexedTrials(t, 10)
		split, err := SplitSets(x, y, 0.2, rand.New(rand.NewSource(1)))
		require.NoError(t, err)

		assert.Equal(t, 2, split.XVal.Len())
		assert.Equal(t, 8, split.XTrain.Len())
		assert.Len(t, split.YVal, 2)
		assert.Len(t, split.YTrain, 8)

		all := append(append([]int{}, split.ValIndices...), split.TrainIndices...)
		sort.Ints(all)
		for i, idx := range all {
			assert.Equal(t, i, idx)
		}
	})

	t.Run("trials travel with their labels", func(t *testing.T) {
		x, y := indexedTrials(t, 9)
		split, err := SplitSets(x, y, 0.3, rand.New(rand.NewSource(7)))
		require.NoError(t, err)
		for i, label := range split.YTrain {
			assert.Equal(t, float64(label), split.XTrain.Row(i)[0])
		}
		for i, label := range split.YVal {
			assert.Equal(t, float64(label), split.XVal.Row(i)[0])
		}
	})

	t.Run("seeded split is reproducible", func(t *testing.T) {
		x, y := indexedTrials(t, 20)
		a, err := SplitSets(x, y, 0.25, rand.New(rand.NewSource(99)))
		require.NoError(t, err)
		b, err := SplitSets(x, y, 0.25, rand.New(rand.NewSource(99)))
		require.NoError(t, err)
		assert.Equal(t, a.ValIndices, b.ValIndices)
		assert.Equal(t, a.YTrain, b.YTrain)
	})

	t.Run("single trial keeps everything for training", func(t *testing.T) {
		x, y := indexedTrials(t, 1)
		split, err := SplitSets(x, y, 0.2, nil)
		require.NoError(t, err)
		assert.Equal(t, 0, split.XVal.Len())
		assert.Equal(t, 1, split.XTrain.Len())
	})

	t.Run("invalid arguments", func(t *testing.T) {
		x, y := indexedTrials(t, 4)
		_, err := SplitSets(x, y[:3], 0.2, nil)
		assert.Error(t, err)
		_, err = SplitSets(x, y, 1.5, nil)
		assert.Error(t, err)
		_, err = SplitSets(x, y, -0.1, nil)
		assert.Error(t, err)
	})
}
