package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"likegrab/pkg/config"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestNewWithWriterFields(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWithWriter(&buf, "debug")
	require.NoError(t, err)

	log.WithField("strategy", "paid_api").
		WithFields(map[string]interface{}{"batch": 3, "wait": 2 * time.Second}).
		WithError(errors.New("boom")).
		Info("batch failed")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "info", lines[0]["level"])
	assert.Equal(t, "batch failed", lines[0]["message"])
	assert.Equal(t, "paid_api", lines[0]["strategy"])
	assert.Equal(t, float64(3), lines[0]["batch"])
	assert.Equal(t, "boom", lines[0]["error"])
	assert.Equal(t, "likegrab", lines[0]["app"])
}

func TestWithFieldDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	parent, err := NewWithWriter(&buf, "info")
	require.NoError(t, err)

	_ = parent.WithField("child", true)
	parent.Info("plain")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	_, ok := lines[0]["child"]
	assert.False(t, ok)
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWithWriter(&buf, "warn")
	require.NoError(t, err)

	log.Debug("hidden")
	log.Info("hidden")
	log.WarnWithFields("shown", map[string]interface{}{"k": "v"})

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "shown", lines[0]["message"])
}

func TestInvalidLevel(t *testing.T) {
	_, err := NewWithWriter(&bytes.Buffer{}, "chatty")
	assert.Error(t, err)

	_, err = New(&config.LoggingConfig{Level: "chatty"})
	assert.Error(t, err)
}

func TestNewWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "run.log")
	log, err := New(&config.LoggingConfig{Level: "info", File: path})
	require.NoError(t, err)

	log.InfoWithFields("written", map[string]interface{}{"post_id": "1"})

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"post_id":"1"`)
}

func TestPolicyViolationHelper(t *testing.T) {
	tl := NewTestLogger()
	LogPolicyViolation(tl, "disallowed_host", "42", 0, "evil.example")

	msgs := tl.FindByField("event", "security")
	require.Len(t, msgs, 1)
	assert.Equal(t, "WARN", msgs[0].Level)
	assert.Equal(t, "disallowed_host", msgs[0].Fields["violation"])
}

func TestTestLoggerSharesSink(t *testing.T) {
	tl := NewTestLogger()
	tl.WithField("component", "downloader").Info("started")

	assert.True(t, tl.HasMessage("started"))
	assert.Len(t, tl.GetMessagesByLevel("INFO"), 1)
	assert.Equal(t, "downloader", tl.GetMessages()[0].Fields["component"])
}

func TestNopLogger(t *testing.T) {
	log := NewNopLogger()
	log.WithField("a", 1).WithError(errors.New("x")).Error("nothing")
	assert.Nil(t, log.GetZerolog())
}
