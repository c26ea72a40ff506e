package preprocessing

import (
	"math"
	"math/rand"
	"testing"

	"github.com/jdirani/mneflow/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"
)

func groupMean(x *tensor.Tensor, trial int, channels []int) float64 {
	nTimes := x.Shape[2]
	row := x.Row(trial)
	var sum float64
	for _, ch := range channels {
		for _, v := range row[ch*nTimes : (ch+1)*nTimes] {
			sum += v
		}
	}
	return sum / float64(len(channels)*nTimes)
}

func TestChannelGroups(t *testing.T) {
	t.Run("vectorview", func(t *testing.T) {
		groups := ChannelGroups(VectorviewChannels)
		require.Len(t, groups, 2)
		assert.Len(t, groups[0], 102)
		assert.Len(t, groups[1], 204)
		assert.Equal(t, []int{2, 5, 8}, groups[0][:3])
		assert.Equal(t, []int{0, 1, 3, 4}, groups[1][:4])

		seen := make(map[int]bool)
		for _, g := range groups {
			for _, ch := range g {
				assert.False(t, seen[ch], "channel %d in two groups", ch)
				seen[ch] = true
			}
		}
		assert.Len(t, seen, VectorviewChannels)
	})

	t.Run("other layouts", func(t *testing.T) {
		groups := ChannelGroups(64)
		require.Len(t, groups, 1)
		assert.Len(t, groups[0], 64)
	})
}

func TestScaleToBaseline(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	t.Run("shape preserved and input untouched", func(t *testing.T) {
		x, err := tensor.RandomNormal([]int{3, 4, 20}, 5, 2, tensor.Float64, rng)
		require.NoError(t, err)
		before := x.Clone()

		out, err := ScaleToBaseline(x, Baseline{})
		require.NoError(t, err)
		assert.Equal(t, x.Shape, out.Shape)
		assert.True(t, x.AllClose(before, 0))

		for trial := 0; trial < 3; trial++ {
			assert.InDelta(t, 0, groupMean(out, trial, []int{0, 1, 2, 3}), 1e-9)
		}
	})

	t.Run("baseline window statistics apply to the whole trial", func(t *testing.T) {
		// one channel: baseline [0,2) = {1,3} -> mean 2, std 1
		x, err := tensor.NewTensor([]int{1, 1, 4}, tensor.Float64, []float64{1, 3, 5, 7})
		require.NoError(t, err)
		out, err := ScaleToBaseline(x, BaselineUntil(2))
		require.NoError(t, err)
		assert.Equal(t, []float64{-1, 1, 3, 5}, out.Data)

		out, err = ScaleToBaseline(x, BaselineRange(2, 4))
		require.NoError(t, err)
		assert.Equal(t, []float64{-5, -3, -1, 1}, out.Data)
	})

	t.Run("vectorview groups do not share statistics", func(t *testing.T) {
		x, err := tensor.RandomNormal([]int{2, VectorviewChannels, 30}, 0, 1, tensor.Float64, rng)
		require.NoError(t, err)
		groups := ChannelGroups(VectorviewChannels)

		reference, err := ScaleToBaseline(x, BaselineUntil(10))
		require.NoError(t, err)

		shifted := x.Clone()
		nTimes := 30
		for trial := 0; trial < 2; trial++ {
			row := shifted.Row(trial)
			for _, ch := range groups[0] {
				for i := ch * nTimes; i < (ch+1)*nTimes; i++ {
					row[i] += 1e4
				}
			}
		}
		out, err := ScaleToBaseline(shifted, BaselineUntil(10))
		require.NoError(t, err)

		for trial := 0; trial < 2; trial++ {
			assert.InDelta(t,
				groupMean(reference, trial, groups[1]),
				groupMean(out, trial, groups[1]), 1e-12)
		}
	})

	t.Run("zero variance is not trapped", func(t *testing.T) {
		x, err := tensor.Full([]int{1, 2, 5}, 3, tensor.Float64)
		require.NoError(t, err)
		out, err := ScaleToBaseline(x, Baseline{})
		require.NoError(t, err)
		assert.True(t, math.IsNaN(out.Data[0]))
	})

	t.Run("invalid window", func(t *testing.T) {
		x, err := tensor.NewTensor([]int{1, 1, 4}, tensor.Float64, nil)
		require.NoError(t, err)
		_, err = ScaleToBaseline(x, BaselineRange(3, 3))
		assert.Error(t, err)
		_, err = ScaleToBaseline(x, BaselineUntil(5))
		assert.Error(t, err)
	})

	t.Run("rank check", func(t *testing.T) {
		x, err := tensor.NewTensor([]int{2, 4}, tensor.Float64, nil)
		require.NoError(t, err)
		_, err = ScaleToBaseline(x, Baseline{})
		assert.Error(t, err)
	})
}

func TestBaselineYAML(t *testing.T) {
	var cfg struct {
		A Baseline `yaml:"a"`
		B Baseline `yaml:"b"`
		C Baseline `yaml:"c"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("a: 36\nb: [10, 50]\nc: null\n"), &cfg))
	assert.Equal(t, BaselineUntil(36), cfg.A)
	assert.Equal(t, BaselineRange(10, 50), cfg.B)
	assert.True(t, cfg.C.IsFull())

	assert.Error(t, yaml.Unmarshal([]byte("a: [1, 2, 3]\n"), &cfg))
}
