// Package dataset reads corpora written by the pipeline package back into
// batched (trial, channel, time) tensors.
package dataset

import (
	"math/rand"

	"github.com/jdirani/mneflow/pipeline"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// Config sizes the training and validation sequences.
type Config struct {
	// TrainBatch is the training batch size (n_batch).
	TrainBatch int `yaml:"n_batch" json:"n_batch"`
	// ValBatch is the validation batch size; 0 evaluates the whole
	// validation set at once.
	ValBatch int `yaml:"val_batch" json:"val_batch"`
	// ShuffleBuffer is the initial training shuffle buffer; 0 keeps file order.
	ShuffleBuffer int `yaml:"shuffle_buffer" json:"shuffle_buffer"`
	// Prefetch is the number of batches buffered ahead per side.
	Prefetch int `yaml:"prefetch" json:"prefetch"`
	// CacheFiles keeps that many decoded record files in memory; 0
	// re-reads every file on every pass.
	CacheFiles int `yaml:"cache_files" json:"cache_files"`
}

// DefaultConfig trains on batches of 50 trials and validates on the whole
// validation set at once.
func DefaultConfig() Config {
	return Config{
		TrainBatch: 50,
		Prefetch:   2,
	}
}

func (c Config) Validate() error {
	if c.TrainBatch < 0 || c.ValBatch < 0 {
		return errors.Errorf("batch sizes must be non-negative, got %d and %d", c.TrainBatch, c.ValBatch)
	}
	if c.ShuffleBuffer < 0 {
		return errors.Errorf("shuffle_buffer must be non-negative, got %d", c.ShuffleBuffer)
	}
	if c.Prefetch < 0 {
		return errors.Errorf("prefetch must be non-negative, got %d", c.Prefetch)
	}
	if c.CacheFiles < 0 {
		return errors.Errorf("cache_files must be non-negative, got %d", c.CacheFiles)
	}
	return nil
}

// Dataset pairs the repeating training and validation sequences of a corpus.
type Dataset struct {
	Meta  *pipeline.Meta
	Train *Sequence
	Val   *Sequence
	// Cache is shared by both sequences; nil when caching is off.
	Cache *FileCache
}

// New opens the train and validation files listed in meta. Both sequences
// repeat; training is shuffled through cfg.ShuffleBuffer.
func New(fs afero.Fs, meta *pipeline.Meta, cfg Config, rng *rand.Rand) (*Dataset, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(meta.TrainPaths) == 0 {
		return nil, errors.New("metadata lists no training files")
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	var cache *FileCache
	if cfg.CacheFiles > 0 {
		var err error
		if cache, err = NewFileCache(cfg.CacheFiles); err != nil {
			return nil, err
		}
	}
	train, err := NewSequence(fs, meta.TrainPaths, meta.NChannels, meta.NTimes, SequenceOptions{
		BatchSize:     cfg.TrainBatch,
		Repeat:        true,
		ShuffleBuffer: cfg.ShuffleBuffer,
		Rand:          rng,
		Records:       meta.RecordOptions(),
		Cache:         cache,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open training records")
	}
	val, err := NewSequence(fs, meta.ValPaths, meta.NChannels, meta.NTimes, SequenceOptions{
		BatchSize: cfg.ValBatch,
		Repeat:    true,
		Records:   meta.RecordOptions(),
		Cache:     cache,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open validation records")
	}
	return &Dataset{Meta: meta, Train: train, Val: val, Cache: cache}, nil
}

// Open reads arbitrary record files of the corpus shape once, in order,
// for evaluation and prediction.
func Open(fs afero.Fs, paths []string, meta *pipeline.Meta, batchSize int) (*Sequence, error) {
	return NewSequence(fs, paths, meta.NChannels, meta.NTimes, SequenceOptions{
		BatchSize: batchSize,
		Records:   meta.RecordOptions(),
	})
}

func (d *Dataset) Close() error {
	d.Train.Close()
	return d.Val.Close()
}
