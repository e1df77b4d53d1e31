package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesServiceAndModule(t *testing.T) {
	var buf bytes.Buffer
	l := NewFromConfig(Config{Service: "pricing", Module: "segment", Level: "info", Writer: &buf})

	l.Named("classifier").Info("classified", "products", 3)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "pricing", rec["service"])
	assert.Equal(t, "segment", rec["module"])
	assert.Equal(t, "classifier", rec["component"])
	assert.Contains(t, rec, "timestamp")
	assert.EqualValues(t, 3, rec["products"])
}

func TestSetLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	l := NewFromConfig(Config{Service: "pricing", Module: "test", Level: "info", Writer: &buf})

	l.DebugContext(context.Background(), "hidden")
	assert.Zero(t, buf.Len())

	SetLevel("debug")
	defer SetLevel("info")
	l.DebugContext(context.Background(), "visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARNING"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestTeeWritesEveryOutput(t *testing.T) {
	var jsonBuf, textBuf bytes.Buffer
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	l := slog.New(tee(slog.NewJSONHandler(&jsonBuf, opts), slog.NewTextHandler(&textBuf, opts))).With("run_id", "RUN1")

	l.Info("analysis completed", "products", 2)
	l.Debug("dropped")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(jsonBuf.Bytes(), &rec))
	assert.Equal(t, "RUN1", rec["run_id"])
	assert.Contains(t, textBuf.String(), "products=2")
	assert.NotContains(t, textBuf.String(), "dropped")
}

func TestFileOutputRotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pricing.log")
	l := NewFromConfig(Config{Service: "pricing", Module: "file", Level: "info", File: path, MaxSize: 1})
	l.Info("written to file")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
}
