package pipeline

import (
	"encoding/json"
	"path/filepath"

	"github.com/jdirani/mneflow/tfrecord"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// ShardInfo records what went into one shard.
type ShardInfo struct {
	Index       int         `json:"index" yaml:"index"`
	Sources     []string    `json:"sources" yaml:"sources"`
	NTrials     int         `json:"n_trials" yaml:"n_trials"`
	NTrain      int         `json:"n_train" yaml:"n_train"`
	NVal        int         `json:"n_val" yaml:"n_val"`
	TrainPath   string      `json:"train_path" yaml:"train_path"`
	ValPath     string      `json:"val_path" yaml:"val_path"`
	OrigPath    string      `json:"orig_path,omitempty" yaml:"orig_path,omitempty"`
	ClassCounts map[int]int `json:"class_counts" yaml:"class_counts"`
}

// Meta describes a produced corpus. Shapes come from the last shard
// written; every shard shares them when inputs are uniform.
type Meta struct {
	TrainPaths       []string             `json:"train_paths" yaml:"train_paths"`
	ValPaths         []string             `json:"val_paths" yaml:"val_paths"`
	OrigPaths        []string             `json:"orig_paths" yaml:"orig_paths"`
	NChannels        int                  `json:"n_ch" yaml:"n_ch"`
	NTimes           int                  `json:"n_t" yaml:"n_t"`
	NClasses         int                  `json:"n_classes" yaml:"n_classes"`
	ClassProportions map[int]float64      `json:"class_proportions" yaml:"class_proportions"`
	OrigClasses      map[int]int64        `json:"orig_classes" yaml:"orig_classes"`
	LabelScope       LabelScope           `json:"label_scope" yaml:"label_scope"`
	Compression      tfrecord.Compression `json:"compression" yaml:"compression"`
	Shards           []ShardInfo          `json:"shards" yaml:"shards"`
}

func newMeta() *Meta {
	return &Meta{
		TrainPaths: []string{},
		ValPaths:   []string{},
		OrigPaths:  []string{},
	}
}

// RecordOptions returns the options needed to read the corpus files.
func (m *Meta) RecordOptions() tfrecord.Options {
	return tfrecord.Options{Compression: m.Compression}
}

// SaveMeta writes m as indented JSON.
func SaveMeta(fs afero.Fs, path string, m *Meta) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode metadata")
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrapf(err, "failed to create %s", filepath.Dir(path))
	}
	return errors.Wrapf(afero.WriteFile(fs, path, data, 0644), "failed to write metadata %s", path)
}

// LoadMeta reads metadata written by SaveMeta.
func LoadMeta(fs afero.Fs, path string) (*Meta, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read metadata %s", path)
	}
	m := &Meta{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, errors.Wrapf(err, "failed to decode metadata %s", path)
	}
	return m, nil
}
