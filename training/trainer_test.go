package training

import (
	"bytes"
	"context"
	"io"
	"math"
	"math/rand"
	"testing"

	"github.com/jdirani/mneflow/checkpoints"
	"github.com/jdirani/mneflow/dataset"
	"github.com/jdirani/mneflow/feed"
	"github.com/jdirani/mneflow/models"
	"github.com/jdirani/mneflow/tensor"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedModel replays fixed validation losses. Its single weight counts
// the training steps taken, so restoring a checkpoint is observable.
type scriptedModel struct {
	valLosses []float64
	evals     int
	steps     float64
	dropout   float64
	// predictedAt holds the weight at every Predict call.
	predictedAt []float64
}

func (m *scriptedModel) Scope() string { return "scripted" }

func (m *scriptedModel) Init(rng *rand.Rand) error {
	m.steps = 0
	m.evals = 0
	return nil
}

func (m *scriptedModel) TrainStep(batch *dataset.Batch, dropout float64) (float64, float64, error) {
	m.steps++
	m.dropout = dropout
	return 1 / m.steps, 0.5, nil
}

func (m *scriptedModel) Evaluate(batch *dataset.Batch) (float64, float64, error) {
	i := m.evals
	if i >= len(m.valLosses) {
		i = len(m.valLosses) - 1
	}
	m.evals++
	return m.valLosses[i], 1 - m.valLosses[i]/10, nil
}

// Predict is right for every trial except those labelled 2.
func (m *scriptedModel) Predict(batch *dataset.Batch) (*tensor.Tensor, error) {
	m.predictedAt = append(m.predictedAt, m.steps)
	probs := make([]float64, 3*len(batch.Y))
	for i, y := range batch.Y {
		if y == 2 {
			probs[i*3] = 1
		} else {
			probs[i*3+int(y)] = 1
		}
	}
	return tensor.NewTensor([]int{len(batch.Y), 3}, tensor.Float64, probs)
}

func (m *scriptedModel) Weights() ([]checkpoints.WeightTensor, error) {
	return []checkpoints.WeightTensor{{Name: "w", Shape: []int{1}, Data: []float64{m.steps}}}, nil
}

func (m *scriptedModel) SetWeights(w []checkpoints.WeightTensor) error {
	m.steps = w[0].Data[0]
	return nil
}

func (m *scriptedModel) Hyperparams() models.Hyperparams {
	return models.Hyperparams{Architecture: "scripted", NumClasses: 3, Dropout: 0.25, LearnRate: 0.1}
}

// fakeFeed hands out one-trial batches and records how it is driven.
type fakeFeed struct {
	active   feed.Handle
	reads    map[feed.Handle]int
	shuffles []int
	failAt   int
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{reads: make(map[feed.Handle]int), failAt: -1}
}

func (f *fakeFeed) Select(h feed.Handle) error {
	f.active = h
	return nil
}

func (f *fakeFeed) Next(ctx context.Context) (*dataset.Batch, error) {
	if f.active == feed.Train && f.reads[feed.Train] == f.failAt {
		return nil, errors.New("disk on fire")
	}
	f.reads[f.active]++
	return &dataset.Batch{Y: []int64{0}}, nil
}

func (f *fakeFeed) Shuffle(buffer int) error {
	f.shuffles = append(f.shuffles, buffer)
	return nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.NIter = 100
	cfg.EvalStep = 10
	cfg.EarlyStopping = 2
	cfg.MinDelta = 0.01
	cfg.ShuffleBuffer = 7
	cfg.ModelPath = "/models/"
	return cfg
}

func TestTrainEarlyStopping(t *testing.T) {
	fs := afero.NewMemMapFs()
	model := &scriptedModel{valLosses: []float64{1.0, 0.5, 0.495, 0.7}}
	f := newFakeFeed()
	collector := NewVisualizationCollector("scripted")

	trainer, err := NewTrainer(model, f, testConfig(), WithFs(fs), WithCollector(collector))
	require.NoError(t, err)
	assert.Equal(t, Idle, trainer.State())
	assert.Equal(t, "/models/scripted-data", trainer.CheckpointPath())

	res, err := trainer.Train(context.Background())
	require.NoError(t, err)

	assert.Equal(t, EarlyStopped, res.State)
	assert.Equal(t, EarlyStopped, trainer.State())
	assert.Equal(t, 31, res.Steps)
	assert.Equal(t, 0.5, res.MinValLoss)
	assert.Equal(t, 10, res.BestStep)
	assert.InDelta(t, 0.95, res.ValAcc, 1e-12)
	assert.Equal(t, 0.25, model.dropout)

	// the weights of iteration 10 are back in place
	assert.Equal(t, 11.0, model.steps)

	require.Len(t, res.History, 4)
	improved := []bool{true, true, false, false}
	patience := []int{0, 0, 1, 2}
	for i, e := range res.History {
		assert.Equal(t, i*10, e.Step)
		assert.Equal(t, improved[i], e.Improved, "evaluation %d", i)
		assert.Equal(t, patience[i], e.Patience, "evaluation %d", i)
	}
	assert.Equal(t, 4, collector.Len())

	assert.Equal(t, []int{7, 7, 7, 7}, f.shuffles)
	assert.Equal(t, 31, f.reads[feed.Train])
	assert.Equal(t, 4, f.reads[feed.Validation])

	ckpt, err := checkpoints.NewCheckpointSaver(fs, checkpoints.FormatJSON).LoadCheckpoint(res.Checkpoint)
	require.NoError(t, err)
	assert.Equal(t, 10, ckpt.TrainingState.Step)
	assert.Equal(t, 0.5, ckpt.TrainingState.BestLoss)
	assert.Equal(t, "scripted", ckpt.Model.Scope)
	assert.Equal(t, "data", ckpt.Model.DataID)
}

func TestTrainCompleted(t *testing.T) {
	model := &scriptedModel{valLosses: []float64{3, 2, 1}}
	cfg := testConfig()
	cfg.NIter = 25

	var out bytes.Buffer
	trainer, err := NewTrainer(model, newFakeFeed(), cfg, WithFs(afero.NewMemMapFs()), WithProgress(&out))
	require.NoError(t, err)
	res, err := trainer.Train(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Completed, res.State)
	assert.Equal(t, 25, res.Steps)
	assert.Equal(t, 1.0, res.MinValLoss)
	assert.Equal(t, 20, res.BestStep)
	assert.Len(t, res.History, 3)
	// the final weights are kept when the horizon is reached
	assert.Equal(t, 25.0, model.steps)
	assert.Contains(t, out.String(), "25/25")

	t.Run("load restores the best checkpoint", func(t *testing.T) {
		ckpt, err := trainer.Load()
		require.NoError(t, err)
		assert.Equal(t, 21.0, model.steps)
		assert.Equal(t, 20, ckpt.TrainingState.Step)
	})
}

func TestTrainWithoutImprovement(t *testing.T) {
	fs := afero.NewMemMapFs()
	model := &scriptedModel{valLosses: []float64{math.NaN()}}
	cfg := testConfig()
	cfg.EarlyStopping = 1

	trainer, err := NewTrainer(model, newFakeFeed(), cfg, WithFs(fs))
	require.NoError(t, err)
	res, err := trainer.Train(context.Background())
	require.NoError(t, err)

	assert.Equal(t, EarlyStopped, res.State)
	assert.Equal(t, 1, res.Steps)
	assert.Equal(t, -1, res.BestStep)
	assert.Equal(t, 1.0, model.steps)

	exists, err := afero.Exists(fs, res.Checkpoint)
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = trainer.Load()
	assert.True(t, errors.Is(err, checkpoints.ErrNotFound))
}

func TestTrainErrors(t *testing.T) {
	model := &scriptedModel{valLosses: []float64{1}}

	t.Run("constructor", func(t *testing.T) {
		_, err := NewTrainer(nil, newFakeFeed(), testConfig())
		assert.Error(t, err)
		evaluator, err := NewTrainer(model, nil, testConfig())
		require.NoError(t, err)
		_, err = evaluator.Train(context.Background())
		assert.Error(t, err)

		cfg := testConfig()
		cfg.EvalStep = 0
		_, err = NewTrainer(model, newFakeFeed(), cfg)
		assert.Error(t, err)
	})

	t.Run("feed failure", func(t *testing.T) {
		f := newFakeFeed()
		f.failAt = 5
		trainer, err := NewTrainer(model, f, testConfig(), WithFs(afero.NewMemMapFs()))
		require.NoError(t, err)
		_, err = trainer.Train(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "disk on fire")
		assert.Equal(t, Idle, trainer.State())
	})

	t.Run("cancelled", func(t *testing.T) {
		trainer, err := NewTrainer(model, newFakeFeed(), testConfig(), WithFs(afero.NewMemMapFs()))
		require.NoError(t, err)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err = trainer.Train(ctx)
		assert.Equal(t, context.Canceled, err)
	})
}

// batchList yields fixed label batches, then io.EOF.
type batchList struct {
	batches [][]int64
	pos     int
}

func (b *batchList) Next(ctx context.Context) (*dataset.Batch, error) {
	if b.pos >= len(b.batches) {
		return nil, io.EOF
	}
	y := b.batches[b.pos]
	b.pos++
	return &dataset.Batch{Y: y}, nil
}

func TestEvaluate(t *testing.T) {
	model := &scriptedModel{valLosses: []float64{1}}
	trainer, err := NewTrainer(model, newFakeFeed(), testConfig())
	require.NoError(t, err)

	t.Run("accuracy over all batches", func(t *testing.T) {
		acc, err := trainer.EvaluatePerformance(context.Background(),
			&batchList{batches: [][]int64{{0, 1}, {2, 1}}})
		require.NoError(t, err)
		assert.Equal(t, 0.75, acc)
	})

	t.Run("predictions line up with labels", func(t *testing.T) {
		probs, yTrue, err := trainer.Predict(context.Background(),
			&batchList{batches: [][]int64{{1}, {2, 0}}})
		require.NoError(t, err)
		assert.Equal(t, []int{3, 3}, probs.Shape)
		assert.Equal(t, []int64{1, 2, 0}, yTrue)

		cm, err := ComputeConfusionMatrix(yTrue, Argmax(probs.Data, 3), 3)
		require.NoError(t, err)
		assert.Equal(t, 1, cm.Matrix[2][0])
	})

	t.Run("empty source", func(t *testing.T) {
		_, err := trainer.EvaluatePerformance(context.Background(), &batchList{})
		assert.Error(t, err)
	})

	t.Run("realtime", func(t *testing.T) {
		_, err := trainer.EvaluateRealtime(context.Background(), &batchList{}, 1)
		assert.Equal(t, ErrNotImplemented, err)
	})
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "early_stopped", EarlyStopped.String())
	assert.Equal(t, "completed", Completed.String())
	assert.Equal(t, "unknown", State(9).String())
}
