package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		config    *Config
		checkFunc func(t *testing.T, logger *Logger, output *bytes.Buffer)
	}{
		{
			name:   "json format with debug level",
			config: &Config{Level: "debug", Format: "json"},
			checkFunc: func(t *testing.T, logger *Logger, output *bytes.Buffer) {
				logger.Debug("recording started", slog.String("url", "https://example.com/a"))

				var logEntry map[string]interface{}
				require.NoError(t, json.Unmarshal(output.Bytes(), &logEntry))

				assert.Equal(t, "DEBUG", logEntry["level"])
				assert.Equal(t, "recording started", logEntry["msg"])
				assert.Equal(t, "https://example.com/a", logEntry["url"])
				assert.Contains(t, logEntry, "time")
			},
		},
		{
			name:   "json format with warn level drops info",
			config: &Config{Level: "warn", Format: "json"},
			checkFunc: func(t *testing.T, logger *Logger, output *bytes.Buffer) {
				logger.Info("info message")
				logger.Warn("message nacked", slog.Bool("requeue", false))

				lines := strings.Split(strings.TrimSpace(output.String()), "\n")
				assert.Len(t, lines, 1)

				var logEntry map[string]interface{}
				require.NoError(t, json.Unmarshal([]byte(lines[0]), &logEntry))

				assert.Equal(t, "WARN", logEntry["level"])
				assert.Equal(t, false, logEntry["requeue"])
			},
		},
		{
			name:   "console format",
			config: &Config{Level: "info", Format: "console", TimeFormat: time.RFC3339},
			checkFunc: func(t *testing.T, logger *Logger, output *bytes.Buffer) {
				logger.Info("console test")

				// tint prints "INF" rather than "INFO"
				assert.Contains(t, output.String(), "INF")
				assert.Contains(t, output.String(), "console test")
			},
		},
		{
			name:   "unknown format falls back to json",
			config: &Config{Level: "info", Format: "logfmt"},
			checkFunc: func(t *testing.T, logger *Logger, output *bytes.Buffer) {
				logger.Info("fallback")

				var logEntry map[string]interface{}
				require.NoError(t, json.Unmarshal(output.Bytes(), &logEntry))
				assert.Equal(t, "fallback", logEntry["msg"])
			},
		},
		{
			name:   "with source location enabled",
			config: &Config{Level: "info", Format: "json", EnableSource: true},
			checkFunc: func(t *testing.T, logger *Logger, output *bytes.Buffer) {
				logger.Info("message with source")

				var logEntry map[string]interface{}
				require.NoError(t, json.Unmarshal(output.Bytes(), &logEntry))

				require.Contains(t, logEntry, "source")
				source := logEntry["source"].(map[string]interface{})
				assert.Contains(t, source, "file")
				assert.Contains(t, source, "line")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output := &bytes.Buffer{}

			cfg := *tt.config
			cfg.writer = output

			logger, err := New(&cfg)
			require.NoError(t, err)
			require.NotNil(t, logger)

			tt.checkFunc(t, logger, output)
		})
	}
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.log")

	logger, err := New(&Config{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)

	logger.Info("written to file", slog.String("queue", "recordings"))
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"queue":"recordings"`)
}

func TestNew_FileOutputError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "worker.log")

	logger, err := New(&Config{Output: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open log file")
	assert.Nil(t, logger)
}

func TestNewDefault(t *testing.T) {
	logger := NewDefault()
	require.NotNil(t, logger)
	assert.NotNil(t, logger.Logger)
	assert.NoError(t, logger.Close())
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"DEBUG", slog.LevelInfo}, // case-sensitive
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLevel(tt.level))
		})
	}
}

func TestLogger_WithGroup(t *testing.T) {
	output := &bytes.Buffer{}

	logger, err := New(&Config{Level: "info", Format: "json", writer: output})
	require.NoError(t, err)

	logger.WithGroup("job").Info("test message", slog.String("url", "https://example.com"))

	var logEntry map[string]interface{}
	require.NoError(t, json.Unmarshal(output.Bytes(), &logEntry))

	group := logEntry["job"].(map[string]interface{})
	assert.Equal(t, "https://example.com", group["url"])
}

func TestLogger_With(t *testing.T) {
	output := &bytes.Buffer{}

	logger, err := New(&Config{Level: "info", Format: "json", writer: output})
	require.NoError(t, err)

	logger.With(slog.String("service", "worker"), slog.Int("prefetch", 1)).Info("operation complete")

	var logEntry map[string]interface{}
	require.NoError(t, json.Unmarshal(output.Bytes(), &logEntry))

	assert.Equal(t, "worker", logEntry["service"])
	assert.Equal(t, float64(1), logEntry["prefetch"]) // JSON numbers are float64
}

func TestDiscard(t *testing.T) {
	assert.NotPanics(t, func() {
		Discard().Error("dropped", slog.String("key", "value"))
	})
}
