package optimizer

import (
	"fmt"
	"math"
)

// RMSPropOptimizerState holds RMSProp hyperparameters and running averages.
type RMSPropOptimizerState struct {
	// Hyperparameters
	LearningRate float64
	Alpha        float64 // Smoothing constant (typically 0.99)
	Epsilon      float64 // Small constant to prevent division by zero (typically 1e-8)
	WeightDecay  float64 // L2 regularization coefficient
	Momentum     float64 // Momentum coefficient (0.0 for no momentum)
	Centered     bool    // Whether to use centered RMSProp (subtract mean of gradients)

	SquaredGradAvgBuffers [][]float64 // Running average of squared gradients
	MomentumBuffers       [][]float64 // Only if momentum > 0
	GradientAvgBuffers    [][]float64 // Only if centered

	// Step tracking
	StepCount uint64

	bufferSizes []int
}

// RMSPropConfig holds configuration for RMSProp optimizer
type RMSPropConfig struct {
	LearningRate float64
	Alpha        float64
	Epsilon      float64
	WeightDecay  float64
	Momentum     float64
	Centered     bool
}

// DefaultRMSPropConfig returns default RMSProp optimizer configuration
func DefaultRMSPropConfig() RMSPropConfig {
	return RMSPropConfig{
		LearningRate: 0.01,
		Alpha:        0.99,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
		Momentum:     0.0,
		Centered:     false,
	}
}

// NewRMSPropOptimizer creates an RMSProp optimizer for weights of the given
// shapes.
func NewRMSPropOptimizer(config RMSPropConfig, weightShapes [][]int) (*RMSPropOptimizerState, error) {
	if len(weightShapes) == 0 {
		return nil, fmt.Errorf("no weight shapes provided")
	}
	if config.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate cannot be negative: %f", config.LearningRate)
	}
	if config.Alpha < 0 || config.Alpha >= 1 {
		return nil, fmt.Errorf("alpha must be in [0, 1): %f", config.Alpha)
	}
	if config.Momentum < 0 {
		return nil, fmt.Errorf("momentum cannot be negative: %f", config.Momentum)
	}

	rmsprop := &RMSPropOptimizerState{
		LearningRate:          config.LearningRate,
		Alpha:                 config.Alpha,
		Epsilon:               config.Epsilon,
		WeightDecay:           config.WeightDecay,
		Momentum:              config.Momentum,
		Centered:              config.Centered,
		SquaredGradAvgBuffers: allocateBuffers(weightShapes),
		bufferSizes:           make([]int, len(weightShapes)),
	}
	for i, shape := range weightShapes {
		rmsprop.bufferSizes[i] = calculateTensorSize(shape)
	}
	if config.Momentum > 0 {
		rmsprop.MomentumBuffers = allocateBuffers(weightShapes)
	}
	if config.Centered {
		rmsprop.GradientAvgBuffers = allocateBuffers(weightShapes)
	}
	return rmsprop, nil
}

// Step performs a single RMSProp update.
func (rmsprop *RMSPropOptimizerState) Step(params, grads [][]float64) error {
	if err := checkStep(rmsprop.bufferSizes, params, grads); err != nil {
		return err
	}
	rmsprop.StepCount++

	a := rmsprop.Alpha
	for i, p := range params {
		sq := rmsprop.SquaredGradAvgBuffers[i]
		for j, g := range grads[i] {
			if rmsprop.WeightDecay > 0 {
				g += rmsprop.WeightDecay * p[j]
			}
			sq[j] = a*sq[j] + (1-a)*g*g
			avg := sq[j]
			if rmsprop.Centered {
				ga := rmsprop.GradientAvgBuffers[i]
				ga[j] = a*ga[j] + (1-a)*g
				avg -= ga[j] * ga[j]
			}
			update := g / (math.Sqrt(avg) + rmsprop.Epsilon)
			if rmsprop.MomentumBuffers != nil {
				buf := rmsprop.MomentumBuffers[i]
				buf[j] = rmsprop.Momentum*buf[j] + update
				update = buf[j]
			}
			p[j] -= rmsprop.LearningRate * update
		}
	}
	return nil
}

// UpdateLearningRate updates the learning rate
func (rmsprop *RMSPropOptimizerState) UpdateLearningRate(newLR float64) {
	rmsprop.LearningRate = newLR
}

// GetStepCount returns the current step count
func (rmsprop *RMSPropOptimizerState) GetStepCount() uint64 {
	return rmsprop.StepCount
}

// GetState extracts optimizer state for checkpointing
func (rmsprop *RMSPropOptimizerState) GetState() (*OptimizerState, error) {
	stateData := extractBufferStates(rmsprop.SquaredGradAvgBuffers, "squared_grad_avg", "squared_grad_avg")
	stateData = append(stateData, extractBufferStates(rmsprop.MomentumBuffers, "momentum", "momentum")...)
	stateData = append(stateData, extractBufferStates(rmsprop.GradientAvgBuffers, "gradient_avg", "gradient_avg")...)
	return &OptimizerState{
		Type: "RMSProp",
		Parameters: map[string]interface{}{
			"learning_rate": rmsprop.LearningRate,
			"alpha":         rmsprop.Alpha,
			"epsilon":       rmsprop.Epsilon,
			"weight_decay":  rmsprop.WeightDecay,
			"momentum":      rmsprop.Momentum,
			"centered":      rmsprop.Centered,
			"step_count":    rmsprop.StepCount,
		},
		StateData: stateData,
	}, nil
}

// LoadState restores optimizer state from checkpoint. The momentum and
// centering layout must match the optimizer's configuration.
func (rmsprop *RMSPropOptimizerState) LoadState(state *OptimizerState) error {
	if err := validateStateType("RMSProp", state); err != nil {
		return err
	}

	rmsprop.LearningRate = extractFloatParam(state.Parameters, "learning_rate", rmsprop.LearningRate)
	rmsprop.Alpha = extractFloatParam(state.Parameters, "alpha", rmsprop.Alpha)
	rmsprop.Epsilon = extractFloatParam(state.Parameters, "epsilon", rmsprop.Epsilon)
	rmsprop.WeightDecay = extractFloatParam(state.Parameters, "weight_decay", rmsprop.WeightDecay)
	rmsprop.StepCount = extractUint64Param(state.Parameters, "step_count", rmsprop.StepCount)

	for _, tensor := range state.StateData {
		var buffers [][]float64
		switch tensor.StateType {
		case "squared_grad_avg":
			buffers = rmsprop.SquaredGradAvgBuffers
		case "momentum":
			buffers = rmsprop.MomentumBuffers
		case "gradient_avg":
			buffers = rmsprop.GradientAvgBuffers
		default:
			continue
		}
		if buffers == nil {
			return fmt.Errorf("%s buffers not allocated", tensor.StateType)
		}
		if err := restoreBufferState(buffers, tensor); err != nil {
			return err
		}
	}
	return nil
}
