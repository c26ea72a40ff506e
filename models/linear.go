package models

import (
	"math"
	"math/rand"

	"github.com/jdirani/mneflow/checkpoints"
	"github.com/jdirani/mneflow/dataset"
	"github.com/jdirani/mneflow/optimizer"
	"github.com/jdirani/mneflow/tensor"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

var linearWeightNames = []string{"dense.weight", "dense.bias"}

// LinearConfig holds the hyperparameters of the linear classifier.
type LinearConfig struct {
	// Dropout is the fraction of input features dropped during training.
	Dropout  float64 `yaml:"dropout" json:"dropout"`
	L1Lambda float64 `yaml:"l1_lambda" json:"l1_lambda"`
	// NonlinOut names the output nonlinearity; logits are fed to softmax
	// cross entropy either way.
	NonlinOut string           `yaml:"nonlin_out" json:"nonlin_out"`
	Init      string           `yaml:"init" json:"init"`
	Optimizer optimizer.Config `yaml:",inline" json:"optimizer"`
}

// DefaultLinearConfig returns the settings used by the command line tool.
func DefaultLinearConfig() LinearConfig {
	return LinearConfig{
		Dropout:   0.5,
		L1Lambda:  3e-4,
		NonlinOut: "identity",
		Init:      "glorot_uniform",
		Optimizer: optimizer.DefaultConfig(),
	}
}

func (c LinearConfig) Validate() error {
	if c.Dropout < 0 || c.Dropout >= 1 || math.IsNaN(c.Dropout) {
		return errors.Errorf("dropout must be in [0, 1), got %g", c.Dropout)
	}
	if c.L1Lambda < 0 {
		return errors.Errorf("l1_lambda must be non-negative, got %g", c.L1Lambda)
	}
	if c.Optimizer.LearningRate < 0 {
		return errors.Errorf("learn_rate must be non-negative, got %g", c.Optimizer.LearningRate)
	}
	if _, err := InitializerByName(c.Init); err != nil {
		return err
	}
	return nil
}

// Linear is a dense softmax classifier over the flattened (channel, time)
// trial with optional input dropout and an L1 penalty on the weights.
type Linear struct {
	nChannels int
	nTimes    int
	nClasses  int
	config    LinearConfig

	weights *tensor.Tensor // (nChannels*nTimes, nClasses)
	bias    *tensor.Tensor // (nClasses)

	opt         optimizer.Optimizer
	loss        *CrossEntropyLoss
	initializer Initializer
	rng         *rand.Rand
}

// NewLinear builds a zero-initialized classifier; call Init before
// training.
func NewLinear(nChannels, nTimes, nClasses int, config LinearConfig) (*Linear, error) {
	if nChannels <= 0 || nTimes <= 0 {
		return nil, errors.Errorf("invalid input shape (%d, %d)", nChannels, nTimes)
	}
	if nClasses < 2 {
		return nil, errors.Errorf("a classifier needs at least 2 classes, got %d", nClasses)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	initializer, err := InitializerByName(config.Init)
	if err != nil {
		return nil, err
	}

	m := &Linear{
		nChannels:   nChannels,
		nTimes:      nTimes,
		nClasses:    nClasses,
		config:      config,
		loss:        NewCrossEntropyLoss("mean"),
		initializer: initializer,
	}
	if m.weights, err = tensor.Zeros([]int{nChannels * nTimes, nClasses}, tensor.Float64); err != nil {
		return nil, err
	}
	if m.bias, err = tensor.Zeros([]int{nClasses}, tensor.Float64); err != nil {
		return nil, err
	}
	if err := m.resetOptimizer(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Linear) resetOptimizer() error {
	opt, err := optimizer.New(m.config.Optimizer, [][]int{m.weights.Shape, m.bias.Shape})
	if err != nil {
		return errors.Wrap(err, "failed to create optimizer")
	}
	m.opt = opt
	return nil
}

func (m *Linear) Scope() string {
	return "linear"
}

// Init draws fresh weights from rng, zeroes the bias and resets the
// optimizer. rng also drives dropout.
func (m *Linear) Init(rng *rand.Rand) error {
	if rng == nil {
		return errors.New("initialization needs a random source")
	}
	m.rng = rng
	m.initializer.Set(m.weights.Data, m.nChannels*m.nTimes, m.nClasses, rng)
	for i := range m.bias.Data {
		m.bias.Data[i] = 0
	}
	return m.resetOptimizer()
}

// forward returns the (possibly dropped-out) inputs and class
// probabilities of every trial.
func (m *Linear) forward(batch *dataset.Batch, dropout float64) ([][]float64, []float64, error) {
	if err := checkBatch(batch, m.nChannels, m.nTimes, m.nClasses); err != nil {
		return nil, nil, err
	}
	if dropout > 0 && m.rng == nil {
		return nil, nil, ErrNotInitialized
	}

	n := batch.Len()
	inputs := make([][]float64, n)
	logits := make([]float64, n*m.nClasses)
	for i := 0; i < n; i++ {
		in := batch.X.Row(i)
		if dropout > 0 {
			in = m.dropout(in, dropout)
		}
		inputs[i] = in

		out := logits[i*m.nClasses : (i+1)*m.nClasses]
		copy(out, m.bias.Data)
		for j, v := range in {
			if v != 0 {
				floats.AddScaled(out, v, m.weights.Data[j*m.nClasses:(j+1)*m.nClasses])
			}
		}
	}
	return inputs, Softmax(logits, m.nClasses), nil
}

// dropout zeroes each feature with probability rate and scales the kept
// ones by 1/(1-rate).
func (m *Linear) dropout(in []float64, rate float64) []float64 {
	out := make([]float64, len(in))
	scale := 1 / (1 - rate)
	for j, v := range in {
		if m.rng.Float64() >= rate {
			out[j] = v * scale
		}
	}
	return out
}

func (m *Linear) penalty() float64 {
	if m.config.L1Lambda == 0 {
		return 0
	}
	return m.config.L1Lambda * floats.Norm(m.weights.Data, 1)
}

// TrainStep computes loss and accuracy on batch and applies one optimizer
// update. The returned values are those before the update.
func (m *Linear) TrainStep(batch *dataset.Batch, dropout float64) (float64, float64, error) {
	inputs, probs, err := m.forward(batch, dropout)
	if err != nil {
		return 0, 0, err
	}
	loss, err := m.loss.Forward(probs, batch.Y, m.nClasses)
	if err != nil {
		return 0, 0, err
	}
	loss += m.penalty()
	acc := Accuracy(probs, batch.Y, m.nClasses)

	dLogits, err := m.loss.Backward(probs, batch.Y, m.nClasses)
	if err != nil {
		return 0, 0, err
	}
	gW := make([]float64, len(m.weights.Data))
	gb := make([]float64, m.nClasses)
	for i, in := range inputs {
		d := dLogits[i*m.nClasses : (i+1)*m.nClasses]
		floats.Add(gb, d)
		for j, v := range in {
			if v != 0 {
				floats.AddScaled(gW[j*m.nClasses:(j+1)*m.nClasses], v, d)
			}
		}
	}
	if m.config.L1Lambda > 0 {
		for j, w := range m.weights.Data {
			switch {
			case w > 0:
				gW[j] += m.config.L1Lambda
			case w < 0:
				gW[j] -= m.config.L1Lambda
			}
		}
	}

	if err := m.opt.Step([][]float64{m.weights.Data, m.bias.Data}, [][]float64{gW, gb}); err != nil {
		return 0, 0, errors.Wrap(err, "failed to apply optimizer step")
	}
	return loss, acc, nil
}

// Evaluate returns loss and accuracy on batch without dropout.
func (m *Linear) Evaluate(batch *dataset.Batch) (float64, float64, error) {
	_, probs, err := m.forward(batch, 0)
	if err != nil {
		return 0, 0, err
	}
	loss, err := m.loss.Forward(probs, batch.Y, m.nClasses)
	if err != nil {
		return 0, 0, err
	}
	return loss + m.penalty(), Accuracy(probs, batch.Y, m.nClasses), nil
}

// Predict returns class probabilities of shape (trial, class).
func (m *Linear) Predict(batch *dataset.Batch) (*tensor.Tensor, error) {
	_, probs, err := m.forward(batch, 0)
	if err != nil {
		return nil, err
	}
	return tensor.NewTensor([]int{batch.Len(), m.nClasses}, tensor.Float64, probs)
}

func (m *Linear) Weights() ([]checkpoints.WeightTensor, error) {
	return checkpoints.ExtractWeightsFromTensors(linearWeightNames, []*tensor.Tensor{m.weights, m.bias})
}

func (m *Linear) SetWeights(weights []checkpoints.WeightTensor) error {
	return checkpoints.LoadWeightsIntoTensors(weights, linearWeightNames, []*tensor.Tensor{m.weights, m.bias})
}

func (m *Linear) OptimizerState() (*checkpoints.OptimizerState, error) {
	return m.opt.GetState()
}

func (m *Linear) LoadOptimizerState(state *checkpoints.OptimizerState) error {
	return m.opt.LoadState(state)
}

func (m *Linear) Hyperparams() Hyperparams {
	return Hyperparams{
		Architecture: "linear",
		NumClasses:   m.nClasses,
		NChannels:    m.nChannels,
		NTimes:       m.nTimes,
		L1Lambda:     m.config.L1Lambda,
		LearnRate:    m.config.Optimizer.LearningRate,
		Dropout:      m.config.Dropout,
		NonlinOut:    m.config.NonlinOut,
		Optimizer:    m.config.Optimizer.Name,
	}
}
