package optimizer

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// AdamOptimizerState holds Adam hyperparameters and moment estimates.
type AdamOptimizerState struct {
	// Hyperparameters
	LearningRate float64
	Beta1        float64 // Momentum decay (typically 0.9)
	Beta2        float64 // Variance decay (typically 0.999)
	Epsilon      float64 // Small constant to prevent division by zero (typically 1e-8)
	WeightDecay  float64 // L2 regularization coefficient

	MomentumBuffers [][]float64 // First moment for each weight tensor
	VarianceBuffers [][]float64 // Second moment for each weight tensor

	// Step tracking for bias correction
	StepCount uint64

	bufferSizes []int
}

// AdamConfig holds configuration for Adam optimizer
type AdamConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	WeightDecay  float64
}

// DefaultAdamConfig returns default Adam optimizer configuration
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
	}
}

// NewAdamOptimizer creates an Adam optimizer for weights of the given shapes.
func NewAdamOptimizer(config AdamConfig, weightShapes [][]int) (*AdamOptimizerState, error) {
	if len(weightShapes) == 0 {
		return nil, fmt.Errorf("no weight shapes provided")
	}
	if config.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate cannot be negative: %f", config.LearningRate)
	}
	if config.Beta1 < 0 || config.Beta1 >= 1 || config.Beta2 < 0 || config.Beta2 >= 1 {
		return nil, fmt.Errorf("betas must be in [0, 1): %f, %f", config.Beta1, config.Beta2)
	}
	if config.Epsilon <= 0 {
		return nil, fmt.Errorf("epsilon must be positive: %g", config.Epsilon)
	}

	adam := &AdamOptimizerState{
		LearningRate:    config.LearningRate,
		Beta1:           config.Beta1,
		Beta2:           config.Beta2,
		Epsilon:         config.Epsilon,
		WeightDecay:     config.WeightDecay,
		MomentumBuffers: allocateBuffers(weightShapes),
		VarianceBuffers: allocateBuffers(weightShapes),
		bufferSizes:     make([]int, len(weightShapes)),
	}
	for i, shape := range weightShapes {
		adam.bufferSizes[i] = calculateTensorSize(shape)
	}
	return adam, nil
}

// Step performs a single Adam update with bias correction.
func (adam *AdamOptimizerState) Step(params, grads [][]float64) error {
	if err := checkStep(adam.bufferSizes, params, grads); err != nil {
		return err
	}
	adam.StepCount++

	t := float64(adam.StepCount)
	correction1 := 1 - math.Pow(adam.Beta1, t)
	correction2 := 1 - math.Pow(adam.Beta2, t)
	stepSize := adam.LearningRate / correction1

	for i, p := range params {
		m, v := adam.MomentumBuffers[i], adam.VarianceBuffers[i]
		floats.Scale(adam.Beta1, m)
		floats.Scale(adam.Beta2, v)
		for j, g := range grads[i] {
			if adam.WeightDecay > 0 {
				g += adam.WeightDecay * p[j]
			}
			m[j] += (1 - adam.Beta1) * g
			v[j] += (1 - adam.Beta2) * g * g
			p[j] -= stepSize * m[j] / (math.Sqrt(v[j]/correction2) + adam.Epsilon)
		}
	}
	return nil
}

// UpdateLearningRate updates the learning rate
func (adam *AdamOptimizerState) UpdateLearningRate(newLR float64) {
	adam.LearningRate = newLR
}

// GetStepCount returns the current step count
func (adam *AdamOptimizerState) GetStepCount() uint64 {
	return adam.StepCount
}

// GetState extracts optimizer state for checkpointing
func (adam *AdamOptimizerState) GetState() (*OptimizerState, error) {
	stateData := extractBufferStates(adam.MomentumBuffers, "m", "m")
	stateData = append(stateData, extractBufferStates(adam.VarianceBuffers, "v", "v")...)
	return &OptimizerState{
		Type: "Adam",
		Parameters: map[string]interface{}{
			"learning_rate": adam.LearningRate,
			"beta1":         adam.Beta1,
			"beta2":         adam.Beta2,
			"epsilon":       adam.Epsilon,
			"weight_decay":  adam.WeightDecay,
			"step_count":    adam.StepCount,
		},
		StateData: stateData,
	}, nil
}

// LoadState restores optimizer state from checkpoint
func (adam *AdamOptimizerState) LoadState(state *OptimizerState) error {
	if err := validateStateType("Adam", state); err != nil {
		return err
	}

	adam.LearningRate = extractFloatParam(state.Parameters, "learning_rate", adam.LearningRate)
	adam.Beta1 = extractFloatParam(state.Parameters, "beta1", adam.Beta1)
	adam.Beta2 = extractFloatParam(state.Parameters, "beta2", adam.Beta2)
	adam.Epsilon = extractFloatParam(state.Parameters, "epsilon", adam.Epsilon)
	adam.WeightDecay = extractFloatParam(state.Parameters, "weight_decay", adam.WeightDecay)
	adam.StepCount = extractUint64Param(state.Parameters, "step_count", adam.StepCount)

	for _, tensor := range state.StateData {
		var err error
		switch tensor.StateType {
		case "m":
			err = restoreBufferState(adam.MomentumBuffers, tensor)
		case "v":
			err = restoreBufferState(adam.VarianceBuffers, tensor)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
