package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
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

func TestJSONFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewJSON(&buf, slog.LevelDebug).WithRun("r1").WithFile("a.idpDB").WithStage("merge")
	l.Debug("step done", "rows", 3)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "r1", rec["run"])
	assert.Equal(t, "a.idpDB", rec["file"])
	assert.Equal(t, "merge", rec["stage"])
	assert.Equal(t, float64(3), rec["rows"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewText(&buf, slog.LevelWarn)
	l.Info("hidden")
	assert.Empty(t, buf.String())
	l.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
	l := Nop()
	assert.Same(t, l, OrNop(l))
}
