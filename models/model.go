// Package models holds trainable classifiers over (trial, channel, time)
// batches.
package models

import (
	"math/rand"
	"strconv"

	"github.com/jdirani/mneflow/checkpoints"
	"github.com/jdirani/mneflow/dataset"
	"github.com/jdirani/mneflow/tensor"
	"github.com/pkg/errors"
)

// ErrNotInitialized is returned when a model is used before Init.
var ErrNotInitialized = errors.New("model is not initialized")

// Model is what the trainer drives. TrainStep runs one optimization step
// with the given dropout rate; Evaluate and Predict run without dropout.
type Model interface {
	// Scope names the model in checkpoint paths.
	Scope() string
	Init(rng *rand.Rand) error
	TrainStep(batch *dataset.Batch, dropout float64) (loss, acc float64, err error)
	Evaluate(batch *dataset.Batch) (loss, acc float64, err error)
	// Predict returns class probabilities of shape (trial, class).
	Predict(batch *dataset.Batch) (*tensor.Tensor, error)
	Weights() ([]checkpoints.WeightTensor, error)
	SetWeights(weights []checkpoints.WeightTensor) error
	Hyperparams() Hyperparams
}

// Stateful models expose their optimizer state for checkpoints.
type Stateful interface {
	OptimizerState() (*checkpoints.OptimizerState, error)
	LoadOptimizerState(state *checkpoints.OptimizerState) error
}

// Hyperparams describes a model for checkpoints and the training log.
// Fields that do not apply to an architecture stay zero.
type Hyperparams struct {
	Architecture string
	NumClasses   int
	NChannels    int
	NTimes       int
	L1Lambda     float64
	NLatent      int
	LearnRate    float64
	Dropout      float64
	NonlinIn     string
	NonlinHid    string
	NonlinOut    string
	FilterLength int
	Pooling      int
	Stride       int
	Optimizer    string
}

// Info converts h into checkpoint model information.
func (h Hyperparams) Info(scope, dataID string) checkpoints.ModelInfo {
	return checkpoints.ModelInfo{
		Architecture: h.Architecture,
		Scope:        scope,
		DataID:       dataID,
		InputShape:   []int{h.NChannels, h.NTimes},
		NumClasses:   h.NumClasses,
		Params: map[string]string{
			"dropout":    strconv.FormatFloat(h.Dropout, 'g', -1, 64),
			"l1_lambda":  strconv.FormatFloat(h.L1Lambda, 'g', -1, 64),
			"learn_rate": strconv.FormatFloat(h.LearnRate, 'g', -1, 64),
			"nonlin_out": h.NonlinOut,
			"optimizer":  h.Optimizer,
		},
	}
}

// checkBatch validates that batch matches the model's input layout.
func checkBatch(batch *dataset.Batch, nChannels, nTimes, nClasses int) error {
	if batch == nil || batch.X == nil {
		return errors.New("batch is empty")
	}
	if batch.X.Dim() != 3 || batch.X.Shape[1] != nChannels || batch.X.Shape[2] != nTimes {
		return errors.Errorf("expected (trial, %d, %d) batch, got %v", nChannels, nTimes, batch.X.Shape)
	}
	if batch.X.Shape[0] != len(batch.Y) {
		return errors.Errorf("batch has %d trials but %d labels", batch.X.Shape[0], len(batch.Y))
	}
	if batch.X.Shape[0] == 0 {
		return errors.New("batch has no trials")
	}
	for _, y := range batch.Y {
		if y < 0 || y >= int64(nClasses) {
			return errors.Errorf("label %d out of range [0, %d)", y, nClasses)
		}
	}
	return nil
}
