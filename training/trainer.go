// Package training runs the optimization loop with periodic validation,
// best-model checkpointing and early stopping, and evaluates trained
// models on record files.
package training

import (
	"context"
	"io"
	"math"
	"math/rand"
	"time"

	"github.com/jdirani/mneflow/checkpoints"
	"github.com/jdirani/mneflow/dataset"
	"github.com/jdirani/mneflow/feed"
	"github.com/jdirani/mneflow/models"
	"github.com/jdirani/mneflow/tensor"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// ErrNotImplemented is returned by evaluation modes that are not available.
var ErrNotImplemented = errors.New("not implemented")

// State is the lifecycle of a training run.
type State int

const (
	Idle State = iota
	Running
	EarlyStopped
	Completed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case EarlyStopped:
		return "early_stopped"
	case Completed:
		return "completed"
	default:
		return "unknown"
	}
}

// Config holds configuration for training
type Config struct {
	// NIter is the maximum number of training iterations.
	NIter int `yaml:"n_iter" json:"n_iter"`
	// EvalStep is the number of iterations between validations.
	EvalStep int `yaml:"eval_step" json:"eval_step"`
	// MinDelta is the decrease of validation loss that counts as an
	// improvement.
	MinDelta float64 `yaml:"min_delta" json:"min_delta"`
	// EarlyStopping is the number of validations without improvement
	// after which training stops.
	EarlyStopping int `yaml:"early_stopping" json:"early_stopping"`
	// ShuffleBuffer reshuffles the training feed at every validation.
	ShuffleBuffer int `yaml:"shuffle_buffer" json:"shuffle_buffer"`

	ModelPath        string                       `yaml:"model_path" json:"model_path"`
	DataID           string                       `yaml:"data_id" json:"data_id"`
	CheckpointFormat checkpoints.CheckpointFormat `yaml:"checkpoint_format" json:"checkpoint_format"`
}

// DefaultConfig returns 3000 iterations validated every 250 with a
// patience of 3.
func DefaultConfig() Config {
	return Config{
		NIter:         3000,
		EvalStep:      250,
		MinDelta:      1e-6,
		EarlyStopping: 3,
		ShuffleBuffer: 10000,
		ModelPath:     "./",
		DataID:        "data",
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.NIter <= 0 {
		return errors.Errorf("n_iter must be positive, got %d", c.NIter)
	}
	if c.EvalStep <= 0 {
		return errors.Errorf("eval_step must be positive, got %d", c.EvalStep)
	}
	if c.EarlyStopping <= 0 {
		return errors.Errorf("early_stopping must be positive, got %d", c.EarlyStopping)
	}
	if c.MinDelta < 0 || math.IsNaN(c.MinDelta) {
		return errors.Errorf("min_delta must be non-negative, got %g", c.MinDelta)
	}
	if c.ShuffleBuffer < 0 {
		return errors.Errorf("shuffle_buffer must be non-negative, got %d", c.ShuffleBuffer)
	}
	return nil
}

// Feed is the switchable train/validation batch stream the trainer pulls
// from.
type Feed interface {
	Select(h feed.Handle) error
	Next(ctx context.Context) (*dataset.Batch, error)
	Shuffle(buffer int) error
}

// BatchSource is a finite batch stream ending in io.EOF.
type BatchSource interface {
	Next(ctx context.Context) (*dataset.Batch, error)
}

// Evaluation is one validation point of a training run.
type Evaluation struct {
	Step      int
	TrainLoss float64
	TrainAcc  float64
	ValLoss   float64
	ValAcc    float64
	Improved  bool
	Patience  int
}

// Result summarizes a training run.
type Result struct {
	State State
	// Steps is the number of training iterations run.
	Steps      int
	MinValLoss float64
	// ValAcc is the validation accuracy at the best evaluation.
	ValAcc     float64
	BestStep   int
	Checkpoint string
	History    []Evaluation
	Duration   time.Duration
}

// Option configures a Trainer.
type Option func(*Trainer)

// WithFs stores checkpoints on fs instead of the OS filesystem.
func WithFs(fs afero.Fs) Option {
	return func(t *Trainer) { t.fs = fs }
}

// WithLogger logs evaluations and the stop reason to logger.
func WithLogger(logger *zap.Logger) Option {
	return func(t *Trainer) { t.logger = logger }
}

// WithRand draws initial weights and dropout masks from rng.
func WithRand(rng *rand.Rand) Option {
	return func(t *Trainer) { t.rng = rng }
}

// WithProgress renders a progress bar to out.
func WithProgress(out io.Writer) Option {
	return func(t *Trainer) { t.progress = out }
}

// WithCollector records every evaluation into vc.
func WithCollector(vc *VisualizationCollector) Option {
	return func(t *Trainer) { t.collector = vc }
}

// Trainer drives a model over a feed. A Trainer is not safe for
// concurrent use.
type Trainer struct {
	model     models.Model
	feed      Feed
	config    Config
	fs        afero.Fs
	logger    *zap.Logger
	rng       *rand.Rand
	progress  io.Writer
	collector *VisualizationCollector
	saver     *checkpoints.CheckpointSaver

	state  State
	result Result
}

// NewTrainer creates a Trainer. The feed may be nil for a trainer that
// only loads and evaluates checkpoints.
func NewTrainer(model models.Model, f Feed, config Config, opts ...Option) (*Trainer, error) {
	if model == nil {
		return nil, errors.New("model cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	t := &Trainer{model: model, feed: f, config: config}
	for _, opt := range opts {
		opt(t)
	}
	if t.fs == nil {
		t.fs = afero.NewOsFs()
	}
	if t.logger == nil {
		t.logger = zap.NewNop()
	}
	if t.rng == nil {
		t.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	t.saver = checkpoints.NewCheckpointSaver(t.fs, config.CheckpointFormat)
	return t, nil
}

// CheckpointPath is where the best weights of this model and data set are
// kept.
func (t *Trainer) CheckpointPath() string {
	return checkpoints.Path(t.config.ModelPath, t.model.Scope(), t.config.DataID)
}

// State reports the lifecycle state of the last run.
func (t *Trainer) State() State {
	return t.state
}

// History returns the evaluations of the last run.
func (t *Trainer) History() []Evaluation {
	return append([]Evaluation(nil), t.result.History...)
}

// Train initializes the model and runs up to NIter iterations. Every
// EvalStep iterations, starting with the first, the training feed is
// reshuffled and one validation batch is evaluated. An evaluation whose
// loss is at least MinDelta below the best so far saves a checkpoint and
// resets patience; otherwise patience grows, and when it reaches
// EarlyStopping the best weights are restored and training stops. Running
// the full horizon keeps the final, not the best, weights.
func (t *Trainer) Train(ctx context.Context) (*Result, error) {
	if t.feed == nil {
		return nil, errors.New("training needs a feed")
	}
	start := time.Now()
	t.state = Running
	t.result = Result{MinValLoss: math.Inf(1), BestStep: -1, Checkpoint: t.CheckpointPath()}

	if err := t.model.Init(t.rng); err != nil {
		t.state = Idle
		return nil, errors.Wrap(err, "failed to initialize model")
	}

	hp := t.model.Hyperparams()
	var bar *ProgressBar
	if t.progress != nil {
		bar = NewProgressBar(t.progress, t.model.Scope(), t.config.NIter)
	}

	patience := 0
	i := 0
	for ; i < t.config.NIter; i++ {
		if err := ctx.Err(); err != nil {
			return t.fail(err)
		}
		if err := t.feed.Select(feed.Train); err != nil {
			return t.fail(err)
		}
		batch, err := t.feed.Next(ctx)
		if err != nil {
			return t.fail(errors.Wrapf(err, "failed to read training batch at iteration %d", i))
		}
		trainLoss, trainAcc, err := t.model.TrainStep(batch, hp.Dropout)
		if err != nil {
			return t.fail(errors.Wrapf(err, "training step %d failed", i))
		}

		if i%t.config.EvalStep != 0 {
			if bar != nil {
				bar.Update(i+1, nil)
			}
			continue
		}

		eval, err := t.evaluate(ctx, i, trainLoss, trainAcc)
		if err != nil {
			return t.fail(err)
		}
		if eval.ValLoss <= t.result.MinValLoss-t.config.MinDelta {
			eval.Improved = true
			patience = 0
			t.result.MinValLoss = eval.ValLoss
			t.result.ValAcc = eval.ValAcc
			t.result.BestStep = i
			if err := t.save(i, eval, patience); err != nil {
				return t.fail(err)
			}
		} else {
			patience++
			t.logger.Info("validation loss did not improve",
				zap.Int("iteration", i), zap.Int("patience", patience))
		}
		eval.Patience = patience
		t.record(eval)
		if bar != nil {
			bar.Update(i+1, map[string]float64{"loss": trainLoss, "val_loss": eval.ValLoss, "val_acc": eval.ValAcc})
		}

		if patience >= t.config.EarlyStopping {
			t.state = EarlyStopped
			i++
			break
		}
	}
	if bar != nil {
		bar.Finish(i)
	}

	t.result.Steps = i
	if t.state == EarlyStopped {
		if t.result.BestStep < 0 {
			t.logger.Warn("early stopping without an improvement, keeping current weights")
		} else if _, err := t.restore(); err != nil {
			return t.fail(err)
		}
		t.logger.Info("early stopping",
			zap.Int("iteration", i-1),
			zap.Float64("min_val_loss", t.result.MinValLoss),
			zap.Float64("val_acc", t.result.ValAcc))
	} else {
		t.state = Completed
		t.logger.Info("training completed",
			zap.Int("iterations", i),
			zap.Float64("min_val_loss", t.result.MinValLoss),
			zap.Float64("val_acc", t.result.ValAcc))
	}
	t.result.State = t.state
	t.result.Duration = time.Since(start)
	res := t.result
	res.History = t.History()
	return &res, nil
}

func (t *Trainer) fail(err error) (*Result, error) {
	t.state = Idle
	return nil, err
}

func (t *Trainer) evaluate(ctx context.Context, i int, trainLoss, trainAcc float64) (Evaluation, error) {
	if err := t.feed.Shuffle(t.config.ShuffleBuffer); err != nil && err != feed.ErrNotShufflable {
		return Evaluation{}, errors.Wrap(err, "failed to reshuffle training data")
	}
	if err := t.feed.Select(feed.Validation); err != nil {
		return Evaluation{}, err
	}
	batch, err := t.feed.Next(ctx)
	if err != nil {
		return Evaluation{}, errors.Wrapf(err, "failed to read validation batch at iteration %d", i)
	}
	valLoss, valAcc, err := t.model.Evaluate(batch)
	if err != nil {
		return Evaluation{}, errors.Wrapf(err, "validation at iteration %d failed", i)
	}
	t.logger.Info("evaluation",
		zap.Int("iteration", i),
		zap.Float64("train_loss", trainLoss),
		zap.Float64("train_acc", trainAcc),
		zap.Float64("val_loss", valLoss),
		zap.Float64("val_acc", valAcc))
	return Evaluation{
		Step:      i,
		TrainLoss: trainLoss,
		TrainAcc:  trainAcc,
		ValLoss:   valLoss,
		ValAcc:    valAcc,
	}, nil
}

func (t *Trainer) record(e Evaluation) {
	t.result.History = append(t.result.History, e)
	if t.collector != nil {
		t.collector.Record(e)
	}
}

// save overwrites the checkpoint with the current weights.
func (t *Trainer) save(step int, e Evaluation, patience int) error {
	weights, err := t.model.Weights()
	if err != nil {
		return errors.Wrap(err, "failed to extract weights")
	}
	hp := t.model.Hyperparams()
	ckpt := &checkpoints.Checkpoint{
		Model:   hp.Info(t.model.Scope(), t.config.DataID),
		Weights: weights,
		TrainingState: checkpoints.TrainingState{
			Step:         step,
			LearningRate: hp.LearnRate,
			BestLoss:     e.ValLoss,
			BestAccuracy: e.ValAcc,
			TotalSteps:   t.config.NIter,
			Patience:     patience,
		},
	}
	if s, ok := t.model.(models.Stateful); ok {
		if ckpt.OptimizerState, err = s.OptimizerState(); err != nil {
			return errors.Wrap(err, "failed to extract optimizer state")
		}
	}
	path := t.CheckpointPath()
	if err := t.saver.SaveCheckpoint(ckpt, path); err != nil {
		return errors.Wrapf(err, "failed to save checkpoint %s", path)
	}
	t.logger.Debug("saved checkpoint", zap.String("path", path), zap.Int("iteration", step))
	return nil
}

// restore loads the checkpoint into the model and returns it.
func (t *Trainer) restore() (*checkpoints.Checkpoint, error) {
	path := t.CheckpointPath()
	ckpt, err := t.saver.LoadCheckpoint(path)
	if err != nil {
		return nil, err
	}
	if err := t.model.SetWeights(ckpt.Weights); err != nil {
		return nil, errors.Wrapf(err, "failed to restore weights from %s", path)
	}
	if s, ok := t.model.(models.Stateful); ok && ckpt.OptimizerState != nil {
		if err := s.LoadOptimizerState(ckpt.OptimizerState); err != nil {
			return nil, errors.Wrapf(err, "failed to restore optimizer state from %s", path)
		}
	}
	return ckpt, nil
}

// Load restores the best checkpoint of this model and data set.
func (t *Trainer) Load() (*checkpoints.Checkpoint, error) {
	ckpt, err := t.restore()
	if err != nil {
		return nil, err
	}
	t.result.MinValLoss = ckpt.TrainingState.BestLoss
	t.result.ValAcc = ckpt.TrainingState.BestAccuracy
	t.result.BestStep = ckpt.TrainingState.Step
	return ckpt, nil
}

// EvaluatePerformance returns the accuracy of the model over every batch
// of src.
func (t *Trainer) EvaluatePerformance(ctx context.Context, src BatchSource) (float64, error) {
	probs, yTrue, err := t.Predict(ctx, src)
	if err != nil {
		return 0, err
	}
	if len(yTrue) == 0 {
		return 0, errors.New("no trials to evaluate")
	}
	nClasses := probs.Shape[1]
	return models.Accuracy(probs.Data, yTrue, nClasses), nil
}

// Predict returns class probabilities (trial, class) and true labels for
// every batch of src.
func (t *Trainer) Predict(ctx context.Context, src BatchSource) (*tensor.Tensor, []int64, error) {
	var parts []*tensor.Tensor
	var yTrue []int64
	for {
		batch, err := src.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to read evaluation batch")
		}
		probs, err := t.model.Predict(batch)
		if err != nil {
			return nil, nil, err
		}
		parts = append(parts, probs)
		yTrue = append(yTrue, batch.Y...)
	}
	if len(parts) == 0 {
		return nil, nil, errors.New("no trials to evaluate")
	}
	probs, err := tensor.Concat(parts...)
	if err != nil {
		return nil, nil, err
	}
	return probs, yTrue, nil
}

// EvaluateRealtime would evaluate while updating the model batch by batch.
func (t *Trainer) EvaluateRealtime(ctx context.Context, src BatchSource, stepSize int) ([]float64, error) {
	return nil, ErrNotImplemented
}
