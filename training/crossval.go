package training

import (
	"context"
	"math/rand"
	"strconv"

	"github.com/jdirani/mneflow/dataset"
	"github.com/jdirani/mneflow/feed"
	"github.com/jdirani/mneflow/models"
	"github.com/jdirani/mneflow/pipeline"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// CrossValidation configures LeaveOneOut.
type CrossValidation struct {
	Fs       afero.Fs
	Meta     *pipeline.Meta
	Dataset  dataset.Config
	Feed     feed.Options
	Training Config
	// NewModel builds a fresh, uninitialized model for every fold.
	NewModel func() (models.Model, error)
	// LogPath receives one training log row per fold; empty disables it.
	LogPath string
	Logger  *zap.Logger
	Rand    *rand.Rand
}

// FoldResult is the outcome of holding out one shard.
type FoldResult struct {
	Fold     int
	HeldOut  []string
	Result   *Result
	TestInit float64
}

// LeaveOneOut trains once per shard with that shard held out, then
// reports the accuracy of the best checkpoint on the held-out train and
// validation files.
func LeaveOneOut(ctx context.Context, cv CrossValidation) ([]FoldResult, error) {
	meta := cv.Meta
	if meta == nil {
		return nil, errors.New("cross-validation needs corpus metadata")
	}
	if len(meta.TrainPaths) < 2 {
		return nil, errors.Errorf("leave-one-out needs at least 2 shards, got %d", len(meta.TrainPaths))
	}
	if len(meta.ValPaths) != len(meta.TrainPaths) {
		return nil, errors.Errorf("corpus has %d training files but %d validation files", len(meta.TrainPaths), len(meta.ValPaths))
	}
	if cv.NewModel == nil {
		return nil, errors.New("cross-validation needs a model constructor")
	}
	if cv.Fs == nil {
		cv.Fs = afero.NewOsFs()
	}
	if cv.Logger == nil {
		cv.Logger = zap.NewNop()
	}
	if cv.Rand == nil {
		cv.Rand = rand.New(rand.NewSource(1))
	}

	var results []FoldResult
	for i := range meta.TrainPaths {
		fold, err := runFold(ctx, cv, i)
		if err != nil {
			return results, errors.Wrapf(err, "fold %d", i)
		}
		results = append(results, *fold)
	}
	return results, nil
}

func runFold(ctx context.Context, cv CrossValidation, i int) (*FoldResult, error) {
	meta := cv.Meta
	foldMeta := *meta
	foldMeta.TrainPaths = without(meta.TrainPaths, i)
	foldMeta.ValPaths = without(meta.ValPaths, i)
	heldOut := []string{meta.TrainPaths[i], meta.ValPaths[i]}

	logger := cv.Logger.With(zap.Int("fold", i))
	logger.Info("holding out shard", zap.Strings("paths", heldOut))

	// the training sequence shuffles on the prefetch goroutine, so it
	// gets its own source
	dataRng := rand.New(rand.NewSource(cv.Rand.Int63()))
	modelRng := rand.New(rand.NewSource(cv.Rand.Int63()))

	ds, err := dataset.New(cv.Fs, &foldMeta, cv.Dataset, dataRng)
	if err != nil {
		return nil, err
	}
	f, err := feed.New(ds.Train, ds.Val, cv.Feed)
	if err != nil {
		ds.Close()
		return nil, err
	}
	defer f.Close()

	model, err := cv.NewModel()
	if err != nil {
		return nil, errors.Wrap(err, "failed to build model")
	}
	cfg := cv.Training
	cfg.DataID = cfg.DataID + "-loso" + strconv.Itoa(i)
	trainer, err := NewTrainer(model, f, cfg,
		WithFs(cv.Fs), WithLogger(logger), WithRand(modelRng))
	if err != nil {
		return nil, err
	}
	res, err := trainer.Train(ctx)
	if err != nil {
		return nil, err
	}

	if res.BestStep >= 0 {
		if _, err := trainer.Load(); err != nil {
			return nil, errors.Wrap(err, "failed to restore best checkpoint")
		}
	}

	test, err := dataset.Open(cv.Fs, heldOut, &foldMeta, 0)
	if err != nil {
		return nil, err
	}
	defer test.Close()
	acc, err := trainer.EvaluatePerformance(ctx, test)
	if err != nil {
		return nil, errors.Wrap(err, "failed to evaluate held-out shard")
	}
	logger.Info("held-out accuracy", zap.Float64("test_init", acc), zap.Float64("val_acc", res.ValAcc))

	if cv.LogPath != "" {
		row := NewLogRow(strconv.Itoa(i), model.Hyperparams(), cfg, cv.Dataset.TrainBatch, res)
		row.SetTestInit(acc)
		if _, err := AppendLog(cv.Fs, cv.LogPath, row); err != nil {
			return nil, err
		}
	}
	return &FoldResult{Fold: i, HeldOut: heldOut, Result: res, TestInit: acc}, nil
}

func without(paths []string, i int) []string {
	out := make([]string, 0, len(paths)-1)
	out = append(out, paths[:i]...)
	return append(out, paths[i+1:]...)
}
