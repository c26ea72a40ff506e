package optimizer

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// SGDOptimizerState holds SGD hyperparameters and momentum buffers.
type SGDOptimizerState struct {
	// Hyperparameters
	LearningRate float64
	Momentum     float64 // Momentum coefficient (0 for vanilla SGD)
	WeightDecay  float64 // L2 regularization coefficient
	Nesterov     bool    // Whether to use Nesterov momentum

	// Momentum buffers (only if momentum > 0)
	MomentumBuffers [][]float64

	// Step tracking
	StepCount uint64

	bufferSizes []int
	scratch     []float64
}

// SGDConfig holds configuration for SGD optimizer
type SGDConfig struct {
	LearningRate float64
	Momentum     float64
	WeightDecay  float64
	Nesterov     bool
}

// DefaultSGDConfig returns default SGD optimizer configuration
func DefaultSGDConfig() SGDConfig {
	return SGDConfig{
		LearningRate: 0.01,
		Momentum:     0.0,
		WeightDecay:  0.0,
		Nesterov:     false,
	}
}

// NewSGDOptimizer creates an SGD optimizer for weights of the given shapes.
func NewSGDOptimizer(config SGDConfig, weightShapes [][]int) (*SGDOptimizerState, error) {
	if len(weightShapes) == 0 {
		return nil, fmt.Errorf("no weight shapes provided")
	}
	if config.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate cannot be negative: %f", config.LearningRate)
	}
	if config.Momentum < 0 {
		return nil, fmt.Errorf("momentum cannot be negative: %f", config.Momentum)
	}
	if config.Momentum > 1.0 {
		return nil, fmt.Errorf("momentum cannot be greater than 1.0: %f", config.Momentum)
	}
	if config.WeightDecay < 0 {
		return nil, fmt.Errorf("weight decay cannot be negative: %f", config.WeightDecay)
	}

	sgd := &SGDOptimizerState{
		LearningRate: config.LearningRate,
		Momentum:     config.Momentum,
		WeightDecay:  config.WeightDecay,
		Nesterov:     config.Nesterov,
		bufferSizes:  make([]int, len(weightShapes)),
	}
	for i, shape := range weightShapes {
		sgd.bufferSizes[i] = calculateTensorSize(shape)
	}

	// Only allocate momentum buffers if momentum > 0
	if config.Momentum > 0 {
		sgd.MomentumBuffers = allocateBuffers(weightShapes)
	}
	return sgd, nil
}

// Step performs a single SGD update.
func (sgd *SGDOptimizerState) Step(params, grads [][]float64) error {
	if err := checkStep(sgd.bufferSizes, params, grads); err != nil {
		return err
	}
	sgd.StepCount++

	for i := range params {
		g := sgd.gradient(params[i], grads[i])
		if sgd.MomentumBuffers != nil {
			v := sgd.MomentumBuffers[i]
			floats.Scale(sgd.Momentum, v)
			floats.Add(v, g)
			if sgd.Nesterov {
				floats.AddScaled(g, sgd.Momentum, v)
			} else {
				copy(g, v)
			}
		}
		floats.AddScaled(params[i], -sgd.LearningRate, g)
	}
	return nil
}

// gradient returns grad plus the weight decay term in a scratch buffer.
func (sgd *SGDOptimizerState) gradient(param, grad []float64) []float64 {
	if cap(sgd.scratch) < len(grad) {
		sgd.scratch = make([]float64, len(grad))
	}
	g := sgd.scratch[:len(grad)]
	copy(g, grad)
	if sgd.WeightDecay > 0 {
		floats.AddScaled(g, sgd.WeightDecay, param)
	}
	return g
}

// UpdateLearningRate updates the learning rate
func (sgd *SGDOptimizerState) UpdateLearningRate(newLR float64) {
	sgd.LearningRate = newLR
}

// GetStepCount returns the current step count
func (sgd *SGDOptimizerState) GetStepCount() uint64 {
	return sgd.StepCount
}

// GetState extracts optimizer state for checkpointing
func (sgd *SGDOptimizerState) GetState() (*OptimizerState, error) {
	return &OptimizerState{
		Type: "SGD",
		Parameters: map[string]interface{}{
			"learning_rate": sgd.LearningRate,
			"momentum":      sgd.Momentum,
			"weight_decay":  sgd.WeightDecay,
			"nesterov":      sgd.Nesterov,
			"step_count":    sgd.StepCount,
		},
		StateData: extractBufferStates(sgd.MomentumBuffers, "momentum", "momentum"),
	}, nil
}

// LoadState restores optimizer state from checkpoint
func (sgd *SGDOptimizerState) LoadState(state *OptimizerState) error {
	if err := validateStateType("SGD", state); err != nil {
		return err
	}

	sgd.LearningRate = extractFloatParam(state.Parameters, "learning_rate", sgd.LearningRate)
	sgd.Momentum = extractFloatParam(state.Parameters, "momentum", sgd.Momentum)
	sgd.WeightDecay = extractFloatParam(state.Parameters, "weight_decay", sgd.WeightDecay)
	sgd.Nesterov = extractBoolParam(state.Parameters, "nesterov", sgd.Nesterov)
	sgd.StepCount = extractUint64Param(state.Parameters, "step_count", sgd.StepCount)

	for _, tensor := range state.StateData {
		if tensor.StateType != "momentum" {
			continue
		}
		if sgd.MomentumBuffers == nil {
			sgd.MomentumBuffers = make([][]float64, len(sgd.bufferSizes))
			for i, size := range sgd.bufferSizes {
				sgd.MomentumBuffers[i] = make([]float64, size)
			}
		}
		if err := restoreBufferState(sgd.MomentumBuffers, tensor); err != nil {
			return err
		}
	}
	return nil
}
