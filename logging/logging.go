// Package logging builds the zap loggers used by the command line tools.
package logging

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the log level and encoding.
type Config struct {
	// Level is the minimum level written: debug, info, warn or error.
	Level string `yaml:"level" json:"level"`
	// Format is "json" or "console".
	Format string `yaml:"format" json:"format"`
}

// DefaultConfig logs info and above as JSON.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "json"}
}

func (c Config) Validate() error {
	if _, err := c.level(); err != nil {
		return err
	}
	switch c.Format {
	case "", "json", "console":
		return nil
	}
	return errors.Errorf("unknown log format %q", c.Format)
}

func (c Config) level() (zapcore.Level, error) {
	var lvl zapcore.Level
	if c.Level == "" {
		return zapcore.InfoLevel, nil
	}
	if err := lvl.UnmarshalText([]byte(c.Level)); err != nil {
		return lvl, errors.Wrapf(err, "invalid log level %q", c.Level)
	}
	return lvl, nil
}

// New returns a logger with RFC3339 timestamps and caller information that
// writes errors to stderr and everything else to stdout.
func New(c Config) (*zap.Logger, error) {
	return NewWithWriters(c, os.Stdout, os.Stderr)
}

// NewWithWriters is New with explicit destinations for the two streams.
func NewWithWriters(c Config, stdout, stderr io.Writer) (*zap.Logger, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	minLevel, _ := c.level()

	isErrorLevel := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl >= zapcore.ErrorLevel && lvl >= minLevel
	})
	isInfoLevel := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl < zapcore.ErrorLevel && lvl >= minLevel
	})
	stdoutWriter := zapcore.Lock(zapcore.AddSync(stdout))
	stderrWriter := zapcore.Lock(zapcore.AddSync(stderr))

	config := zap.NewProductionEncoderConfig()
	config.EncodeTime = zapcore.RFC3339TimeEncoder
	var encoder zapcore.Encoder
	if c.Format == "console" {
		config.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(config)
	} else {
		encoder = zapcore.NewJSONEncoder(config)
	}

	core := zapcore.NewTee(
		zapcore.NewCore(encoder, stderrWriter, isErrorLevel),
		zapcore.NewCore(encoder, stdoutWriter, isInfoLevel),
	)
	return zap.New(core, zap.AddCaller()), nil
}
