package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func keepDefault(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
}

func TestNewWritesJSONToFile(t *testing.T) {
	keepDefault(t)

	var stderr bytes.Buffer
	path := filepath.Join(t.TempDir(), "memelib.log")

	logger, cleanup, err := newLogger(&stderr, Options{Service: "memelib", Level: "info", File: path})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("template created", "template_id", 7)
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, stderr.String(), string(data))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &entry))
	assert.Equal(t, "template created", entry["msg"])
	assert.Equal(t, "memelib", entry["service"])
	assert.Equal(t, 7.0, entry["template_id"])
	assert.Same(t, logger, slog.Default())
}

func TestNewTextFormat(t *testing.T) {
	keepDefault(t)

	var stderr bytes.Buffer
	logger, cleanup, err := newLogger(&stderr, Options{Service: "memelib-seed", Format: "TEXT"})
	require.NoError(t, err)
	defer cleanup()

	logger.Info("seeding")
	assert.Contains(t, stderr.String(), "msg=seeding")
	assert.Contains(t, stderr.String(), "service=memelib-seed")
}

func TestNewWithoutService(t *testing.T) {
	keepDefault(t)

	var stderr bytes.Buffer
	logger, cleanup, err := newLogger(&stderr, Options{})
	require.NoError(t, err)
	defer cleanup()

	logger.Info("plain")
	assert.NotContains(t, stderr.String(), "service")
}

func TestNewErrors(t *testing.T) {
	_, _, err := New(Options{File: filepath.Join(t.TempDir(), "missing", "x.log")})
	assert.Error(t, err)

	_, _, err = New(Options{Format: "xml"})
	assert.ErrorContains(t, err, "unknown log format")
}
