package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_WritesDataField(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Output: &buf, Level: "info", Service: "test"})

	l.With("component", "ws").Info("connected", map[string]interface{}{"gameId": "g1"})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "connected", entry["message"])
	assert.Equal(t, "test", entry["service"])
	assert.Equal(t, "ws", entry["component"])
	assert.Equal(t, map[string]interface{}{"gameId": "g1"}, entry["data"])
}

func TestLogger_ErrorArgument(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Output: &buf})

	l.Error("dial failed", errors.New("refused"))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "refused", entry["error"])
	assert.NotContains(t, entry, "data")
}

func TestLogger_LevelFilter(t *testing.T) {
	t.Setenv("DEBUG", "")
	var buf bytes.Buffer
	l := New(Config{Output: &buf, Level: "warn"})

	l.Info("skipped")
	l.Debug("skipped too")
	assert.Zero(t, buf.Len())

	l.Warn("kept")
	assert.Contains(t, buf.String(), "kept")
}
