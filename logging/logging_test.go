package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSplitStreams(t *testing.T) {
	var stdout, stderr bytes.Buffer
	logger, err := NewWithWriters(DefaultConfig(), &stdout, &stderr)
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("evaluation", zap.Int("iteration", 250))
	logger.Error("failed")
	require.NoError(t, logger.Sync())

	assert.NotContains(t, stdout.String(), "hidden")
	assert.NotContains(t, stdout.String(), "failed")
	assert.Contains(t, stderr.String(), "failed")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &entry))
	assert.Equal(t, "evaluation", entry["msg"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, float64(250), entry["iteration"])
	assert.Contains(t, entry, "caller")
	// RFC3339 timestamps are strings
	_, ok := entry["ts"].(string)
	assert.True(t, ok)
}

func TestLevelAndFormat(t *testing.T) {
	var stdout, stderr bytes.Buffer
	logger, err := NewWithWriters(Config{Level: "warn", Format: "console"}, &stdout, &stderr)
	require.NoError(t, err)
	logger.Info("quiet")
	logger.Warn("shard skipped")
	require.NoError(t, logger.Sync())

	assert.Equal(t, 1, strings.Count(stdout.String(), "\n"))
	assert.Contains(t, stdout.String(), "WARN")
	assert.Contains(t, stdout.String(), "shard skipped")
	assert.Empty(t, stderr.String())

	_, err = NewWithWriters(Config{Level: "loud"}, &stdout, &stderr)
	assert.Error(t, err)
	_, err = NewWithWriters(Config{Format: "xml"}, &stdout, &stderr)
	assert.Error(t, err)
}
