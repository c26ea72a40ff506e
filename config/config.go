// Package config loads the YAML file shared by the mneflow commands.
package config

import (
	"github.com/jdirani/mneflow/dataset"
	"github.com/jdirani/mneflow/feed"
	"github.com/jdirani/mneflow/logging"
	"github.com/jdirani/mneflow/models"
	"github.com/jdirani/mneflow/pipeline"
	"github.com/jdirani/mneflow/sources"
	"github.com/jdirani/mneflow/training"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v2"
)

// Config is the whole configuration surface. Input and corpus options sit
// at the top level; the remaining concerns have their own sections.
type Config struct {
	Sources  sources.Config   `yaml:",inline"`
	Pipeline pipeline.Options `yaml:",inline"`

	Dataset  dataset.Config      `yaml:"dataset"`
	Model    models.LinearConfig `yaml:"model"`
	Training training.Config     `yaml:"training"`
	Logging  logging.Config      `yaml:"logging"`
}

// Default returns the configuration used when a key is absent.
func Default() *Config {
	return &Config{
		Sources:  sources.DefaultConfig(),
		Pipeline: pipeline.DefaultOptions(),
		Dataset:  dataset.DefaultConfig(),
		Model:    models.DefaultLinearConfig(),
		Training: training.DefaultConfig(),
		Logging:  logging.DefaultConfig(),
	}
}

// Parse decodes data over the defaults and validates the result. Unknown
// keys are rejected.
func Parse(data []byte) (*Config, error) {
	c := Default()
	if err := yaml.UnmarshalStrict(data, c); err != nil {
		return nil, errors.Wrap(err, "failed to decode config")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Load reads and parses the config file at path.
func Load(fs afero.Fs, path string) (*Config, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config %s", path)
	}
	c, err := Parse(data)
	return c, errors.Wrapf(err, "config %s", path)
}

// Validate checks every section.
func (c *Config) Validate() error {
	checks := []struct {
		section string
		check   func() error
	}{
		{"inputs", c.Sources.Validate},
		{"corpus", c.Pipeline.Validate},
		{"dataset", c.Dataset.Validate},
		{"model", c.Model.Validate},
		{"training", c.Training.Validate},
		{"logging", c.Logging.Validate},
	}
	for _, s := range checks {
		if err := s.check(); err != nil {
			return errors.Wrapf(err, "invalid %s configuration", s.section)
		}
	}
	return nil
}

// FeedOptions sizes the train and validation prefetchers.
func (c *Config) FeedOptions() feed.Options {
	return feed.Options{Depth: c.Dataset.Prefetch}
}

// Marshal encodes c as YAML.
func (c *Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	return data, errors.Wrap(err, "failed to encode config")
}
