package optimizer

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// quadratic returns the gradient of sum((p - target)^2).
func quadratic(params [][]float64, target float64) [][]float64 {
	grads := make([][]float64, len(params))
	for i, p := range params {
		grads[i] = make([]float64, len(p))
		for j, v := range p {
			grads[i][j] = 2 * (v - target)
		}
	}
	return grads
}

func TestOptimizersConverge(t *testing.T) {
	shapes := [][]int{{2, 2}, {3}}
	configs := []Config{
		{Name: "sgd", LearningRate: 0.1},
		{Name: "sgd", LearningRate: 0.05, Momentum: 0.9},
		{Name: "adam", LearningRate: 0.05},
		{Name: "rmsprop", LearningRate: 0.01},
		{Name: "rmsprop", LearningRate: 0.005, Momentum: 0.5},
	}
	for _, config := range configs {
		t.Run(config.Name, func(t *testing.T) {
			opt, err := New(config, shapes)
			require.NoError(t, err)

			params := [][]float64{{1, -1, 2, 0}, {3, 3, -3}}
			for i := 0; i < 2000; i++ {
				require.NoError(t, opt.Step(params, quadratic(params, 0.5)))
			}
			for _, p := range params {
				for _, v := range p {
					assert.InDelta(t, 0.5, v, 0.1)
				}
			}
			assert.Equal(t, uint64(2000), opt.GetStepCount())
		})
	}
}

func TestSGDStep(t *testing.T) {
	t.Run("vanilla", func(t *testing.T) {
		sgd, err := NewSGDOptimizer(SGDConfig{LearningRate: 0.5}, [][]int{{2}})
		require.NoError(t, err)
		params := [][]float64{{1, 2}}
		grads := [][]float64{{2, -2}}
		require.NoError(t, sgd.Step(params, grads))
		assert.Equal(t, []float64{0, 3}, params[0])
		// gradients are not modified
		assert.Equal(t, []float64{2, -2}, grads[0])
	})

	t.Run("momentum accumulates", func(t *testing.T) {
		sgd, err := NewSGDOptimizer(SGDConfig{LearningRate: 1, Momentum: 0.5}, [][]int{{1}})
		require.NoError(t, err)
		params := [][]float64{{0}}
		require.NoError(t, sgd.Step(params, [][]float64{{1}}))
		require.NoError(t, sgd.Step(params, [][]float64{{1}}))
		// v1 = 1, v2 = 1.5
		assert.InDelta(t, -2.5, params[0][0], 1e-12)
	})

	t.Run("invalid config", func(t *testing.T) {
		_, err := NewSGDOptimizer(SGDConfig{LearningRate: -1}, [][]int{{1}})
		assert.Error(t, err)
		_, err = NewSGDOptimizer(SGDConfig{Momentum: 2}, [][]int{{1}})
		assert.Error(t, err)
		_, err = NewSGDOptimizer(DefaultSGDConfig(), nil)
		assert.Error(t, err)
	})

	t.Run("buffer mismatch", func(t *testing.T) {
		sgd, err := NewSGDOptimizer(DefaultSGDConfig(), [][]int{{2}})
		require.NoError(t, err)
		assert.Error(t, sgd.Step([][]float64{{1}}, [][]float64{{1}}))
		assert.Error(t, sgd.Step([][]float64{{1, 2}}, nil))
	})
}

func TestAdamFirstStep(t *testing.T) {
	adam, err := NewAdamOptimizer(DefaultAdamConfig(), [][]int{{3}})
	require.NoError(t, err)
	params := [][]float64{{0, 0, 0}}
	require.NoError(t, adam.Step(params, [][]float64{{4, -0.1, 0}}))

	// the bias-corrected first step moves every weight by about lr against
	// the sign of its gradient
	assert.InDelta(t, -0.001, params[0][0], 1e-6)
	assert.InDelta(t, 0.001, params[0][1], 1e-6)
	assert.Equal(t, 0.0, params[0][2])
}

func TestOptimizerState(t *testing.T) {
	shapes := [][]int{{2}, {1}}
	for _, config := range []Config{
		{Name: "sgd", Momentum: 0.9},
		{Name: "adam"},
		{Name: "rmsprop", Momentum: 0.9},
	} {
		t.Run(config.Name, func(t *testing.T) {
			opt, err := New(config, shapes)
			require.NoError(t, err)
			params := [][]float64{{1, 2}, {3}}
			for i := 0; i < 3; i++ {
				require.NoError(t, opt.Step(params, quadratic(params, 0)))
			}

			state, err := opt.GetState()
			require.NoError(t, err)

			// checkpoints store the state as JSON
			raw, err := json.Marshal(state)
			require.NoError(t, err)
			var decoded OptimizerState
			require.NoError(t, json.Unmarshal(raw, &decoded))

			restored, err := New(config, shapes)
			require.NoError(t, err)
			require.NoError(t, restored.LoadState(&decoded))
			assert.Equal(t, uint64(3), restored.GetStepCount())

			// both continue identically
			a := [][]float64{{1, 2}, {3}}
			b := [][]float64{{1, 2}, {3}}
			require.NoError(t, opt.Step(a, quadratic(a, 0)))
			require.NoError(t, restored.Step(b, quadratic(b, 0)))
			assert.Equal(t, a, b)
		})
	}

	t.Run("type mismatch", func(t *testing.T) {
		sgd, err := New(Config{Name: "sgd"}, shapes)
		require.NoError(t, err)
		state, err := sgd.GetState()
		require.NoError(t, err)
		adam, err := New(Config{Name: "adam"}, shapes)
		require.NoError(t, err)
		assert.Error(t, adam.LoadState(state))
		assert.Error(t, adam.LoadState(nil))
	})

	t.Run("bad buffer index", func(t *testing.T) {
		adam, err := New(Config{Name: "adam"}, shapes)
		require.NoError(t, err)
		state, err := adam.GetState()
		require.NoError(t, err)
		state.StateData[0].Name = "m_9"
		assert.Error(t, adam.LoadState(state))
	})
}

func TestNew(t *testing.T) {
	opt, err := New(DefaultConfig(), [][]int{{1}})
	require.NoError(t, err)
	adam, ok := opt.(*AdamOptimizerState)
	require.True(t, ok)
	assert.Equal(t, 3e-4, adam.LearningRate)

	opt.UpdateLearningRate(0.1)
	assert.Equal(t, 0.1, adam.LearningRate)

	_, err = New(Config{Name: "lbfgs"}, [][]int{{1}})
	assert.Error(t, err)

	assert.Equal(t, 2, extractBufferIndex("squared_grad_avg_2"))
	assert.Equal(t, -1, extractBufferIndex("momentum"))
	assert.Equal(t, 1.0, extractFloatParam(nil, "x", 1))
	assert.Equal(t, uint64(7), extractUint64Param(map[string]interface{}{"n": float64(7)}, "n", 0))
}
