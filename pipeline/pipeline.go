// Package pipeline converts epoched recordings into sharded TFRecord
// files split into training and validation partitions.
package pipeline

import (
	"context"
	"math/rand"

	"github.com/dustin/go-humanize"
	"github.com/jdirani/mneflow/preprocessing"
	"github.com/jdirani/mneflow/sources"
	"github.com/jdirani/mneflow/tensor"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// producer holds the state of one ProduceTFRecords run.
type producer struct {
	opts    Options
	fs      afero.Fs
	log     *zap.Logger
	rng     *rand.Rand
	mapping *preprocessing.LabelMapping
	meta    *Meta

	// running shard
	parts   []*tensor.Tensor
	codes   []int64
	names   []string
	shard   int
	counted map[int]int
}

// ProduceTFRecords loads every input, optionally augments and scales it,
// accumulates SaveBatch inputs per shard and writes each shard as train,
// validation and optionally unsplit record files. Any error aborts the run
// and no metadata is returned.
func ProduceTFRecords(ctx context.Context, inputs []sources.Source, opts Options) (*Meta, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		return nil, errors.New("no inputs")
	}

	p := &producer{
		opts:    opts,
		fs:      opts.fs(),
		log:     opts.logger(),
		rng:     opts.rng(),
		meta:    newMeta(),
		counted: make(map[int]int),
	}
	p.meta.LabelScope = opts.LabelScope
	p.meta.Compression = opts.Compression

	if opts.LabelScope == CorpusScope {
		if err := p.buildMapping(ctx, inputs); err != nil {
			return nil, err
		}
	}

	pending := 0
	for i, src := range inputs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := p.add(ctx, src); err != nil {
			return nil, err
		}
		pending++
		if pending == opts.SaveBatch || i == len(inputs)-1 {
			if err := p.flush(); err != nil {
				return nil, err
			}
			pending = 0
		}
	}
	p.finish()
	return p.meta, nil
}

// buildMapping fixes the corpus-wide label mapping, from the configured
// classes or from a code-only pass over the inputs.
func (p *producer) buildMapping(ctx context.Context, inputs []sources.Source) error {
	codes := p.opts.Classes
	if len(codes) == 0 {
		for _, src := range inputs {
			if err := ctx.Err(); err != nil {
				return err
			}
			c, err := sources.Codes(ctx, src)
			if err != nil {
				return errors.Wrapf(err, "failed to list event codes of %s", src.Name())
			}
			codes = append(codes, c...)
		}
	}
	mapping, err := preprocessing.NewLabelMapping(codes)
	if err != nil {
		return errors.Wrap(err, "failed to build label mapping")
	}
	p.mapping = mapping
	p.log.Info("label mapping", zap.Int("n_classes", mapping.NumClasses()), zap.Int64s("codes", mapping.Classes()))
	return nil
}

func (p *producer) add(ctx context.Context, src sources.Source) error {
	trials, err := src.Load(ctx)
	if err != nil {
		return errors.Wrapf(err, "failed to load %s", src.Name())
	}
	x, codes := trials.X, trials.Codes

	if p.opts.Augment {
		if x, codes, err = preprocessing.SlidingWindows(x, codes, p.opts.AugmentOptions); err != nil {
			return errors.Wrapf(err, "failed to augment %s", src.Name())
		}
	}
	if p.opts.Scale {
		if x, err = preprocessing.ScaleToBaseline(x, p.opts.ScaleInterval); err != nil {
			return errors.Wrapf(err, "failed to scale %s", src.Name())
		}
	}
	if len(p.parts) > 0 && !tensor.SameTrailingShape(p.parts[0], x) {
		return errors.Errorf("%s has shape %v, shard %d holds %v", src.Name(), x.Shape, p.shard, p.parts[0].Shape)
	}

	p.parts = append(p.parts, x)
	p.codes = append(p.codes, codes...)
	p.names = append(p.names, src.Name())
	p.log.Info("loaded source",
		zap.String("source", src.Name()),
		zap.Ints("shape", x.Shape),
		zap.Int("shard", p.shard))
	return nil
}

func (p *producer) labels() (*preprocessing.LabelSet, error) {
	if p.mapping != nil {
		return p.mapping.Produce(p.codes)
	}
	return preprocessing.ProduceLabels(p.codes)
}

func (p *producer) flush() error {
	x, err := tensor.Concat(p.parts...)
	if err != nil {
		return errors.Wrapf(err, "failed to assemble shard %d", p.shard)
	}
	set, err := p.labels()
	if err != nil {
		return errors.Wrapf(err, "failed to derive labels of shard %d", p.shard)
	}
	x = x.ToFloat32()

	if p.mapping == nil {
		p.meta.ClassProportions = set.Proportions
		p.meta.OrigClasses = set.OrigClasses
		p.meta.NClasses = len(set.Proportions)
	}
	p.meta.NChannels, p.meta.NTimes = x.Shape[1], x.Shape[2]

	split, err := preprocessing.SplitSets(x, set.Labels, p.opts.ValSize, p.rng)
	if err != nil {
		return errors.Wrapf(err, "failed to split shard %d", p.shard)
	}

	info := ShardInfo{
		Index:       p.shard,
		Sources:     p.names,
		NTrials:     x.Len(),
		NTrain:      split.XTrain.Len(),
		NVal:        split.XVal.Len(),
		TrainPath:   RecordPath(p.opts.SavePath, p.opts.OutName, partTrain, p.shard),
		ValPath:     RecordPath(p.opts.SavePath, p.opts.OutName, partVal, p.shard),
		ClassCounts: set.Counts,
	}
	if err := p.write(info.TrainPath, split.XTrain, split.YTrain); err != nil {
		return err
	}
	p.meta.TrainPaths = append(p.meta.TrainPaths, info.TrainPath)
	if err := p.write(info.ValPath, split.XVal, split.YVal); err != nil {
		return err
	}
	p.meta.ValPaths = append(p.meta.ValPaths, info.ValPath)
	if p.opts.SaveOrig {
		info.OrigPath = RecordPath(p.opts.SavePath, p.opts.OutName, partOrig, p.shard)
		if err := p.write(info.OrigPath, x, set.Labels); err != nil {
			return err
		}
		p.meta.OrigPaths = append(p.meta.OrigPaths, info.OrigPath)
	}
	p.meta.Shards = append(p.meta.Shards, info)

	for class, n := range set.Counts {
		p.counted[class] += n
	}
	p.log.Info("wrote shard",
		zap.Int("shard", p.shard),
		zap.Int("trials", info.NTrials),
		zap.Int("train", info.NTrain),
		zap.Int("val", info.NVal))

	p.parts, p.codes, p.names = nil, nil, nil
	p.shard++
	return nil
}

func (p *producer) write(path string, x *tensor.Tensor, y []int64) error {
	written, err := writeRecords(p.fs, path, x, y, p.opts.Options)
	if err != nil {
		return err
	}
	fields := []zap.Field{
		zap.String("path", path),
		zap.Int("records", len(y)),
		zap.String("framed", humanize.Bytes(uint64(written))),
	}
	if st, err := p.fs.Stat(path); err == nil {
		fields = append(fields, zap.String("size", humanize.Bytes(uint64(st.Size()))))
	}
	p.log.Debug("wrote records", fields...)
	return nil
}

// finish fills the corpus-wide label bookkeeping.
func (p *producer) finish() {
	if p.mapping == nil {
		return
	}
	p.meta.NClasses = p.mapping.NumClasses()
	p.meta.OrigClasses = p.mapping.OrigClasses()
	p.meta.ClassProportions = preprocessing.Proportions(p.counted)
}
