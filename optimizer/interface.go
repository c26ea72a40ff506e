// Package optimizer updates model parameters from their gradients. Every
// optimizer can export its state for checkpoints and restore it.
package optimizer

import (
	"fmt"
	"strings"

	"github.com/jdirani/mneflow/checkpoints"
)

// Optimizer defines the common interface for all optimizers
type Optimizer interface {
	// Step applies one update. params and grads are parallel: grads[i]
	// has the length of params[i], and params[i] is updated in place.
	Step(params, grads [][]float64) error

	// GetState extracts optimizer state for checkpointing
	GetState() (*OptimizerState, error)

	// LoadState restores optimizer state from checkpoint
	LoadState(state *OptimizerState) error

	// GetStepCount returns the current optimization step number
	GetStepCount() uint64

	// UpdateLearningRate updates the learning rate
	UpdateLearningRate(lr float64)
}

// OptimizerState is the serialized optimizer state stored in checkpoints.
type OptimizerState = checkpoints.OptimizerState

// Config selects and configures an optimizer by name.
type Config struct {
	Name         string  `yaml:"optimizer" json:"optimizer"`
	LearningRate float64 `yaml:"learn_rate" json:"learn_rate"`
	Momentum     float64 `yaml:"momentum" json:"momentum"`
	WeightDecay  float64 `yaml:"weight_decay" json:"weight_decay"`
}

// DefaultConfig is Adam with a learning rate of 3e-4.
func DefaultConfig() Config {
	return Config{Name: "adam", LearningRate: 3e-4}
}

// New builds the optimizer named in config for parameters of the given
// shapes. Unset hyperparameters take the optimizer's defaults.
func New(config Config, weightShapes [][]int) (Optimizer, error) {
	switch strings.ToLower(config.Name) {
	case "adam", "":
		c := DefaultAdamConfig()
		c.LearningRate = orDefault(config.LearningRate, c.LearningRate)
		c.WeightDecay = config.WeightDecay
		return NewAdamOptimizer(c, weightShapes)
	case "sgd":
		c := DefaultSGDConfig()
		c.LearningRate = orDefault(config.LearningRate, c.LearningRate)
		c.Momentum = config.Momentum
		c.WeightDecay = config.WeightDecay
		return NewSGDOptimizer(c, weightShapes)
	case "rmsprop":
		c := DefaultRMSPropConfig()
		c.LearningRate = orDefault(config.LearningRate, c.LearningRate)
		c.Momentum = config.Momentum
		c.WeightDecay = config.WeightDecay
		return NewRMSPropOptimizer(c, weightShapes)
	default:
		return nil, fmt.Errorf("unknown optimizer %q", config.Name)
	}
}

func orDefault(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

// extractBufferIndex extracts the buffer index from state tensor names like "momentum_0", "v_1"
func extractBufferIndex(name string) int {
	var idx int
	lastUnderscoreIdx := strings.LastIndexByte(name, '_')
	if lastUnderscoreIdx == -1 {
		return -1
	}
	if n, err := fmt.Sscanf(name[lastUnderscoreIdx+1:], "%d", &idx); n == 1 && err == nil {
		return idx
	}
	return -1
}

// validateStateType ensures the state type matches the optimizer
func validateStateType(optimizerType string, state *OptimizerState) error {
	if state == nil {
		return fmt.Errorf("optimizer state is nil")
	}
	if state.Type != optimizerType {
		return fmt.Errorf("state type mismatch: expected %s, got %s", optimizerType, state.Type)
	}
	return nil
}

func calculateTensorSize(shape []int) int {
	size := 1
	for _, dim := range shape {
		size *= dim
	}
	return size
}

// allocateBuffers returns one zeroed buffer per weight shape.
func allocateBuffers(weightShapes [][]int) [][]float64 {
	buffers := make([][]float64, len(weightShapes))
	for i, shape := range weightShapes {
		buffers[i] = make([]float64, calculateTensorSize(shape))
	}
	return buffers
}

// checkStep validates a Step call against the optimizer's buffer sizes.
func checkStep(sizes []int, params, grads [][]float64) error {
	if len(params) != len(sizes) || len(grads) != len(sizes) {
		return fmt.Errorf("expected %d parameter and gradient buffers, got %d and %d",
			len(sizes), len(params), len(grads))
	}
	for i, size := range sizes {
		if len(params[i]) != size || len(grads[i]) != size {
			return fmt.Errorf("buffer %d: expected %d elements, got %d parameters and %d gradients",
				i, size, len(params[i]), len(grads[i]))
		}
	}
	return nil
}
