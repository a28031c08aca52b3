package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quotaguard/internal/models"
	"quotaguard/internal/version"
)

var testVersion = version.Info{Version: "1.0.0", GitCommit: "abc1234", InstanceID: "i-1"}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input     string
		expected  slog.Level
		expectErr bool
	}{
		{input: "debug", expected: slog.LevelDebug},
		{input: "INFO", expected: slog.LevelInfo},
		{input: "warn", expected: slog.LevelWarn},
		{input: "warning", expected: slog.LevelWarn},
		{input: "error", expected: slog.LevelError},
		{input: "trace", expectErr: true},
		{input: "", expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			level, err := parseLevel(tt.input)
			if tt.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, level)
		})
	}
}

func TestNew_JSONCarriesBuildFields(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, models.LoggingConfig{Level: "info", Format: "json"}, testVersion)
	require.NoError(t, err)

	log.Info("window rolled", "remaining_reads", 12000)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "window rolled", record["msg"])
	assert.Equal(t, "quotaguard", record["service"])
	assert.Equal(t, "1.0.0", record["version"])
	assert.Equal(t, "abc1234", record["git_commit"])
	assert.Equal(t, "i-1", record["instance_id"])
	assert.EqualValues(t, 12000, record["remaining_reads"])
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, models.LoggingConfig{Level: "warn", Format: "text"}, testVersion)
	require.NoError(t, err)

	log.Info("hidden")
	assert.Zero(t, buf.Len())

	log.Warn("shown")
	assert.Contains(t, buf.String(), "msg=shown")
}

func TestNew_InvalidLevel(t *testing.T) {
	_, err := New(&bytes.Buffer{}, models.LoggingConfig{Level: "loud"}, testVersion)
	assert.Error(t, err)
}

func TestSetup_Stdout(t *testing.T) {
	log, closer, err := Setup(models.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, testVersion)
	require.NoError(t, err)
	assert.Nil(t, closer)
	assert.NotNil(t, log)
}

func TestSetup_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quotaguard.log")
	log, closer, err := Setup(models.LoggingConfig{Level: "debug", Format: "json", Output: "file", FilePath: path}, testVersion)
	require.NoError(t, err)
	require.NotNil(t, closer)

	log.Debug("seeded from storage", "task", "locations")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"task":"locations"`)
}

func TestSetup_FileErrors(t *testing.T) {
	_, _, err := Setup(models.LoggingConfig{Level: "info", Output: "file"}, testVersion)
	assert.Error(t, err)

	_, _, err = Setup(models.LoggingConfig{Level: "info", Output: "file", FilePath: filepath.Join(t.TempDir(), "missing", "x.log")}, testVersion)
	assert.Error(t, err)
}

func TestSetup_InvalidLevelClosesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "q.log")
	_, closer, err := Setup(models.LoggingConfig{Level: "nope", Output: "file", FilePath: path}, testVersion)
	assert.Error(t, err)
	assert.Nil(t, closer)
}

func TestDiscard(t *testing.T) {
	assert.NotPanics(t, func() { Discard().Error("dropped") })
}
