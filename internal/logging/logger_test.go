package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classchat/classchat/internal/config"
)

func newTestLogger(level, format string) (*Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	logger := &Logger{
		level:  parseLogLevel(level),
		format: format,
		output: buf,
		fields: make(map[string]interface{}),
	}

	return logger, buf
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, parseLogLevel("debug"))
	assert.Equal(t, WarnLevel, parseLogLevel("warning"))
	assert.Equal(t, InfoLevel, parseLogLevel("unknown"))
}

func TestLevelFiltering(t *testing.T) {
	logger, buf := newTestLogger("warn", "text")

	logger.Info("not shown")
	assert.Empty(t, buf.String())

	logger.Warn("shown")
	assert.Contains(t, buf.String(), "WARN")
	assert.Contains(t, buf.String(), "shown")
}

func TestJSONFormat(t *testing.T) {
	logger, buf := newTestLogger("info", "json")

	logger.WithField("session", "abc").Infof("processed %d rows", 3)

	var entry LogEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "INFO", entry.Level)
	assert.Equal(t, "processed 3 rows", entry.Message)
	assert.Equal(t, "abc", entry.Fields["session"])
}

func TestWithErrorAndFields(t *testing.T) {
	logger, buf := newTestLogger("debug", "text")

	logger.WithError(errors.New("boom")).Debug("turn failed")
	assert.Contains(t, buf.String(), "error=boom")

	buf.Reset()
	logger.WithFields(map[string]interface{}{"a": 1, "b": "x"}).Info("msg")
	assert.Contains(t, buf.String(), "a=1")
	assert.Contains(t, buf.String(), "b=x")
}

func TestErrorWithErr(t *testing.T) {
	logger, buf := newTestLogger("info", "text")

	logger.ErrorWithErr("query failed", errors.New("timeout"))
	assert.Contains(t, buf.String(), "ERROR")
	assert.Contains(t, buf.String(), "error=timeout")
}

func TestNewLoggerInvalidOutput(t *testing.T) {
	_, err := NewLogger(config.LoggingConfig{Level: "info", Format: "text", Output: "pipe"})
	assert.Error(t, err)
}
