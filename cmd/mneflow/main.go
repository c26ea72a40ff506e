package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/dustin/go-humanize"
	"github.com/jdirani/mneflow/config"
	"github.com/jdirani/mneflow/dataset"
	"github.com/jdirani/mneflow/feed"
	"github.com/jdirani/mneflow/logging"
	"github.com/jdirani/mneflow/models"
	"github.com/jdirani/mneflow/pipeline"
	"github.com/jdirani/mneflow/sources"
	"github.com/jdirani/mneflow/training"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

func fail(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "mneflow:", err)
		os.Exit(1)
	}
}

type produceCmd struct {
	Inputs   []string `arg:"positional,required" help:"input files (.mat, .npz or -epo.fif)"`
	SavePath string   `arg:"--savepath" help:"directory for record files, overrides the config"`
	OutName  string   `arg:"--out-name" help:"record file prefix, overrides the config"`
}

type trainCmd struct {
	Meta        string   `arg:"positional,required" help:"corpus metadata written by produce"`
	SID         string   `arg:"--sid" help:"subject id written to the training log"`
	Test        []string `arg:"--test,separate" help:"held-out record files evaluated after training"`
	Plot        string   `arg:"--plot" help:"write learning curves to this image path"`
	LeaveOneOut bool     `arg:"--loso" help:"hold out each shard in turn"`
	Progress    bool     `arg:"--progress" help:"draw a progress bar on stderr"`
}

type evaluateCmd struct {
	Meta    string   `arg:"positional,required" help:"corpus metadata written by produce"`
	Records []string `arg:"positional" help:"record files to evaluate, defaults to the validation files"`
}

type args struct {
	Config   string       `arg:"-c,--config" help:"YAML configuration file"`
	Seed     int64        `arg:"--seed" help:"random seed for shuffling and initialization, 0 uses the clock"`
	Produce  *produceCmd  `arg:"subcommand:produce" help:"write sharded record files from raw inputs"`
	Train    *trainCmd    `arg:"subcommand:train" help:"train the linear classifier on a corpus"`
	Evaluate *evaluateCmd `arg:"subcommand:evaluate" help:"score a saved checkpoint on record files"`
}

func (args) Description() string {
	return "mneflow turns MEG/EEG epochs into record files and trains classifiers on them"
}

func main() {
	var a args
	p := arg.MustParse(&a)
	if p.Subcommand() == nil {
		p.Fail("missing subcommand: produce, train or evaluate")
	}

	fail(run(afero.NewOsFs(), a))
}

// run executes the selected subcommand. Errors are returned rather than
// exiting so the deferred logger flush always happens.
func run(fs afero.Fs, a args) error {
	cfg := config.Default()
	if a.Config != "" {
		var err error
		if cfg, err = config.Load(fs, a.Config); err != nil {
			return err
		}
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	seed := a.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch {
	case a.Produce != nil:
		return produce(ctx, fs, cfg, a.Produce, logger, rng)
	case a.Train != nil:
		return train(ctx, fs, cfg, a.Train, logger, rng)
	case a.Evaluate != nil:
		return evaluate(ctx, fs, cfg, a.Evaluate, logger)
	}
	return errors.New("missing subcommand: produce, train or evaluate")
}

func metaPath(savePath, outName string) string {
	return filepath.Join(savePath, outName+"_meta.json")
}

func produce(ctx context.Context, fs afero.Fs, cfg *config.Config, cmd *produceCmd, logger *zap.Logger, rng *rand.Rand) error {
	opts := cfg.Pipeline
	if cmd.SavePath != "" {
		opts.SavePath = cmd.SavePath
	}
	if cmd.OutName != "" {
		opts.OutName = cmd.OutName
	}
	opts.Fs = fs
	opts.Logger = logger
	if opts.Seed == 0 {
		opts.Rand = rng
	}

	inputs, err := sources.FromPaths(fs, cmd.Inputs, cfg.Sources)
	if err != nil {
		return err
	}
	meta, err := pipeline.ProduceTFRecords(ctx, inputs, opts)
	if err != nil {
		return err
	}
	path := metaPath(opts.SavePath, opts.OutName)
	if err := pipeline.SaveMeta(fs, path, meta); err != nil {
		return err
	}

	var total int64
	for _, files := range [][]string{meta.TrainPaths, meta.ValPaths, meta.OrigPaths} {
		for _, f := range files {
			if st, err := fs.Stat(f); err == nil {
				total += st.Size()
			}
		}
	}
	fmt.Printf("wrote %d shards (%s, %d classes, %d x %d) described by %s\n",
		len(meta.Shards), humanize.Bytes(uint64(total)), meta.NClasses, meta.NChannels, meta.NTimes, path)
	return nil
}

func newModel(cfg *config.Config, meta *pipeline.Meta) func() (models.Model, error) {
	return func() (models.Model, error) {
		return models.NewLinear(meta.NChannels, meta.NTimes, meta.NClasses, cfg.Model)
	}
}

func train(ctx context.Context, fs afero.Fs, cfg *config.Config, cmd *trainCmd, logger *zap.Logger, rng *rand.Rand) error {
	meta, err := pipeline.LoadMeta(fs, cmd.Meta)
	if err != nil {
		return err
	}
	logPath := cfg.Pipeline.SavePath
	if logPath == "" {
		logPath = filepath.Dir(cmd.Meta)
	}

	if cmd.LeaveOneOut {
		folds, err := training.LeaveOneOut(ctx, training.CrossValidation{
			Fs:       fs,
			Meta:     meta,
			Dataset:  cfg.Dataset,
			Feed:     cfg.FeedOptions(),
			Training: cfg.Training,
			NewModel: newModel(cfg, meta),
			LogPath:  logPath,
			Logger:   logger,
			Rand:     rng,
		})
		for _, fold := range folds {
			fmt.Printf("fold %d: val_acc %.4f test_init %.4f (%s after %d iterations)\n",
				fold.Fold, fold.Result.ValAcc, fold.TestInit, fold.Result.State, fold.Result.Steps)
		}
		return err
	}

	ds, err := dataset.New(fs, meta, cfg.Dataset, rand.New(rand.NewSource(rng.Int63())))
	if err != nil {
		return err
	}
	f, err := feed.New(ds.Train, ds.Val, cfg.FeedOptions())
	if err != nil {
		ds.Close()
		return err
	}
	defer f.Close()

	model, err := newModel(cfg, meta)()
	if err != nil {
		return err
	}
	collector := training.NewVisualizationCollector(model.Scope())
	opts := []training.Option{
		training.WithFs(fs),
		training.WithLogger(logger),
		training.WithRand(rand.New(rand.NewSource(rng.Int63()))),
		training.WithCollector(collector),
	}
	if cmd.Progress {
		opts = append(opts, training.WithProgress(os.Stderr))
	}
	trainer, err := training.NewTrainer(model, f, cfg.Training, opts...)
	if err != nil {
		return err
	}
	res, err := trainer.Train(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%s after %d iterations in %s: min val_loss %.4f, val_acc %.4f, checkpoint %s\n",
		res.State, res.Steps, res.Duration.Round(time.Millisecond), res.MinValLoss, res.ValAcc, res.Checkpoint)

	row := training.NewLogRow(cmd.SID, model.Hyperparams(), cfg.Training, cfg.Dataset.TrainBatch, res)
	if len(cmd.Test) > 0 {
		test, err := dataset.Open(fs, cmd.Test, meta, cfg.Dataset.ValBatch)
		if err != nil {
			return err
		}
		defer test.Close()
		acc, err := trainer.EvaluatePerformance(ctx, test)
		if err != nil {
			return err
		}
		row.SetTestInit(acc)
		fmt.Printf("test accuracy %.4f on %s\n", acc, strings.Join(cmd.Test, ", "))
	}
	path, err := training.AppendLog(fs, logPath, row)
	if err != nil {
		return err
	}
	logger.Info("appended training log", zap.String("path", path))

	if cmd.Plot != "" {
		paths, err := collector.SaveTrainingCurves(fs, cmd.Plot)
		if err != nil {
			return err
		}
		logger.Info("saved learning curves", zap.Strings("paths", paths))
	}
	return nil
}

func evaluate(ctx context.Context, fs afero.Fs, cfg *config.Config, cmd *evaluateCmd, logger *zap.Logger) error {
	meta, err := pipeline.LoadMeta(fs, cmd.Meta)
	if err != nil {
		return err
	}
	model, err := newModel(cfg, meta)()
	if err != nil {
		return err
	}
	trainer, err := training.NewTrainer(model, nil, cfg.Training, training.WithFs(fs), training.WithLogger(logger))
	if err != nil {
		return err
	}
	ckpt, err := trainer.Load()
	if err != nil {
		return err
	}
	logger.Info("loaded checkpoint",
		zap.String("path", trainer.CheckpointPath()),
		zap.Int("iteration", ckpt.TrainingState.Step),
		zap.Float64("val_loss", ckpt.TrainingState.BestLoss))

	records := cmd.Records
	if len(records) == 0 {
		records = meta.ValPaths
	}
	seq, err := dataset.Open(fs, records, meta, cfg.Dataset.ValBatch)
	if err != nil {
		return err
	}
	defer seq.Close()

	probs, yTrue, err := trainer.Predict(ctx, seq)
	if err != nil {
		return err
	}
	cm, err := training.ComputeConfusionMatrix(yTrue, training.Argmax(probs.Data, meta.NClasses), meta.NClasses)
	if err != nil {
		return err
	}
	printConfusion(cm, meta)
	return nil
}

func printConfusion(cm *training.ConfusionMatrix, meta *pipeline.Meta) {
	fmt.Printf("accuracy %.4f over %s trials\n", cm.GetAccuracy(), humanize.Comma(int64(cm.TotalSamples)))
	fmt.Printf("macro precision %.4f, macro recall %.4f, macro F1 %.4f\n",
		cm.GetMetric(training.MacroPrecision), cm.GetMetric(training.MacroRecall), cm.GetMetric(training.MacroF1))

	fmt.Printf("%10s", "true\\pred")
	for j := 0; j < cm.NumClasses; j++ {
		fmt.Printf("%8d", meta.OrigClasses[j])
	}
	fmt.Println()
	for i, row := range cm.Normalized() {
		fmt.Printf("%10d", meta.OrigClasses[i])
		for _, v := range row {
			fmt.Printf("%8.2f", v)
		}
		fmt.Println()
	}
}
