package pipeline

import (
	"math/rand"
	"time"

	"github.com/jdirani/mneflow/preprocessing"
	"github.com/jdirani/mneflow/tfrecord"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Task is the kind of target the records carry.
type Task string

const (
	Classification Task = "classification"
	Regression     Task = "regression"
)

// LabelScope decides which trials share one label mapping.
type LabelScope string

const (
	// CorpusScope maps raw codes once for the whole corpus.
	CorpusScope LabelScope = "corpus"
	// ShardScope derives a fresh mapping for every shard.
	ShardScope LabelScope = "shard"
)

// ErrNotImplemented is returned for tasks the pipeline cannot produce yet.
var ErrNotImplemented = errors.New("not implemented")

// Options configures ProduceTFRecords.
type Options struct {
	Task          Task                   `yaml:"task" json:"task"`
	Scale         bool                   `yaml:"scale" json:"scale"`
	ScaleInterval preprocessing.Baseline `yaml:"scale_interval" json:"-"`
	Augment       bool                   `yaml:"augment" json:"augment"`

	preprocessing.AugmentOptions `yaml:",inline"`

	SaveBatch  int        `yaml:"savebatch" json:"savebatch"`
	ValSize    float64    `yaml:"val_size" json:"val_size"`
	SaveOrig   bool       `yaml:"save_orig" json:"save_orig"`
	SavePath   string     `yaml:"savepath" json:"savepath"`
	OutName    string     `yaml:"out_name" json:"out_name"`
	LabelScope LabelScope `yaml:"label_scope" json:"label_scope"`
	Classes    []int64    `yaml:"classes" json:"classes,omitempty"`

	tfrecord.Options `yaml:",inline"`

	// Seed makes the train/validation split reproducible; 0 seeds from the clock.
	Seed int64 `yaml:"seed" json:"seed"`

	Fs     afero.Fs    `yaml:"-" json:"-"`
	Logger *zap.Logger `yaml:"-" json:"-"`
	Rand   *rand.Rand  `yaml:"-" json:"-"`
}

// DefaultOptions writes one source per shard and holds out 20% for
// validation.
func DefaultOptions() Options {
	return Options{
		Task:       Classification,
		SaveBatch:  1,
		ValSize:    0.2,
		OutName:    "data",
		LabelScope: CorpusScope,
		AugmentOptions: preprocessing.AugmentOptions{
			SegLen: 500,
			Stride: 7,
		},
	}
}

// Validate checks the options that do not depend on the inputs.
func (o *Options) Validate() error {
	switch o.Task {
	case Classification:
	case Regression:
		return errors.Wrap(ErrNotImplemented, "regression targets")
	default:
		return errors.Errorf("unknown task %q", o.Task)
	}
	switch o.LabelScope {
	case CorpusScope, ShardScope:
	default:
		return errors.Errorf("unknown label_scope %q", o.LabelScope)
	}
	if o.LabelScope == ShardScope && len(o.Classes) > 0 {
		return errors.New("classes can only be fixed with label_scope corpus")
	}
	if o.SaveBatch < 1 {
		return errors.Errorf("savebatch must be at least 1, got %d", o.SaveBatch)
	}
	if o.ValSize < 0 || o.ValSize > 1 {
		return errors.Errorf("val_size must be in [0, 1], got %g", o.ValSize)
	}
	if o.OutName == "" {
		return errors.New("out_name is required")
	}
	if o.Augment && (o.SegLen <= 0 || o.Stride <= 0) {
		return errors.Errorf("augmentation needs positive aug_seg_len and aug_stride, got %d and %d", o.SegLen, o.Stride)
	}
	return nil
}

func (o *Options) fs() afero.Fs {
	if o.Fs == nil {
		return afero.NewOsFs()
	}
	return o.Fs
}

func (o *Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

func (o *Options) rng() *rand.Rand {
	if o.Rand != nil {
		return o.Rand
	}
	seed := o.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}
