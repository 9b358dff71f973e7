package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/tvrec/internal/config"
)

func newTestLogger(buf *bytes.Buffer, level string) *slog.Logger {
	return NewLoggerWithWriter(config.LoggingConfig{Level: level, Format: "json"}, buf)
}

func TestNewLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf, "info")
	logger.Info("test message", slog.String("key", "value"))

	output := buf.String()
	assert.Contains(t, output, "test message")
	assert.Contains(t, output, `"key":"value"`)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal([]byte(output), &parsed))
}

func TestNewLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "text"}, &buf)
	logger.Info("test message", slog.String("key", "value"))

	assert.Contains(t, buf.String(), "test message")
	assert.Contains(t, buf.String(), "key=value")
}

func TestNewLogger_Levels(t *testing.T) {
	tests := []struct {
		name        string
		configLevel string
		logLevel    slog.Level
		shouldLog   bool
	}{
		{"debug logs at debug level", "debug", slog.LevelDebug, true},
		{"info does not log debug", "info", slog.LevelDebug, false},
		{"info logs at info level", "info", slog.LevelInfo, true},
		{"warn does not log info", "warn", slog.LevelInfo, false},
		{"error logs at error level", "error", slog.LevelError, true},
		{"trace logs at trace level", "trace", LevelTrace, true},
		{"debug does not log trace", "debug", LevelTrace, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := newTestLogger(&buf, tt.configLevel)
			logger.Log(context.Background(), tt.logLevel, "test")

			if tt.shouldLog {
				assert.NotEmpty(t, buf.String())
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestTraceLevelDisplay(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf, "trace")
	logger.Log(context.Background(), LevelTrace, "trace message")

	assert.Contains(t, buf.String(), `"level":"TRACE"`)
	assert.NotContains(t, buf.String(), "DEBUG-4")
}

func TestNewLogger_CustomTimeFormat(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.LoggingConfig{Level: "info", Format: "json", TimeFormat: "2006-01-02"}
	NewLoggerWithWriter(cfg, &buf).Info("test message")

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &parsed))
	_, err := time.Parse("2006-01-02", parsed["time"].(string))
	assert.NoError(t, err)
}

func TestChainedWith(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf, "info")

	WithComponent(WithCorrelationID(WithOperation(logger, "record"), "42:7"), "recorder").Info("chained")

	output := buf.String()
	assert.Contains(t, output, `"operation":"record"`)
	assert.Contains(t, output, `"correlation_id":"42:7"`)
	assert.Contains(t, output, `"component":"recorder"`)
}

func TestWithError(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf, "info")

	WithError(logger, errors.New("boom")).Info("failed")
	assert.Contains(t, buf.String(), `"error":"boom"`)

	assert.Same(t, logger, WithError(logger, nil))
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, slog.Default(), LoggerFromContext(ctx))
	assert.Empty(t, RequestIDFromContext(ctx))
	assert.Empty(t, CorrelationIDFromContext(ctx))

	var buf bytes.Buffer
	logger := newTestLogger(&buf, "info")
	ctx = ContextWithLogger(ctx, logger)
	ctx = ContextWithRequestID(ctx, "req-1")
	ctx = ContextWithCorrelationID(ctx, "corr-1")

	assert.Same(t, logger, LoggerFromContext(ctx))
	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	assert.Equal(t, "corr-1", CorrelationIDFromContext(ctx))
}

func TestTimedOperationWithError(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		var buf bytes.Buffer
		logger := newTestLogger(&buf, "info")

		var err error
		done := TimedOperationWithError(context.Background(), logger, "refresh", &err)
		done()

		assert.Contains(t, buf.String(), "operation completed")
		assert.Contains(t, buf.String(), `"operation":"refresh"`)
	})

	t.Run("failure", func(t *testing.T) {
		var buf bytes.Buffer
		logger := newTestLogger(&buf, "info")

		var err error
		done := TimedOperationWithError(context.Background(), logger, "refresh", &err)
		err = errors.New("fetch failed")
		done()

		assert.Contains(t, buf.String(), "operation failed")
		assert.Contains(t, buf.String(), "fetch failed")
	})
}

func TestSensitiveFieldRedaction(t *testing.T) {
	for _, field := range []string{"password", "secret", "token", "api_key", "Credential"} {
		t.Run(field, func(t *testing.T) {
			var buf bytes.Buffer
			newTestLogger(&buf, "info").Info("test", slog.String(field, "s3cr3t-value"))
			assert.NotContains(t, buf.String(), "s3cr3t-value")
		})
	}
}

func TestConfiguredValueRedaction(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.LoggingConfig{Level: "info", Format: "json", Redact: []string{"123456:ABCDEF"}}
	logger := NewLoggerWithWriter(cfg, &buf)

	logger.Info("upload failed",
		slog.String("error", `Post "http://localhost:8081/bot123456:ABCDEF/sendVideo": EOF`),
		slog.String("file", "show.mkv"),
	)

	assert.NotContains(t, buf.String(), "123456:ABCDEF")
	assert.Contains(t, buf.String(), "show.mkv")
}

func TestURLParameterRedaction(t *testing.T) {
	var buf bytes.Buffer
	newTestLogger(&buf, "info").Info("request",
		slog.String("url", "http://example.com/live.m3u?username=admin&password=hunter2&token=abc123"))

	output := buf.String()
	assert.NotContains(t, output, "hunter2")
	assert.NotContains(t, output, "abc123")
	assert.Contains(t, output, "username=admin")
	assert.Contains(t, output, "password="+RedactedMarker)
}

func TestRedactQuery(t *testing.T) {
	assert.Equal(t, "http://x/?a=1&token=[REDACTED]", RedactQuery("http://x/?a=1&token=zzz"))
	assert.Equal(t, "http://x/?page=1", RedactQuery("http://x/?page=1"))
}

func TestNonSensitiveDataNotRedacted(t *testing.T) {
	var buf bytes.Buffer
	newTestLogger(&buf, "info").Info("test",
		slog.String("username", "john"),
		slog.String("url", "http://example.com/a.m3u8"),
		slog.Int("count", 42),
	)

	output := buf.String()
	assert.Contains(t, output, "john")
	assert.Contains(t, output, "http://example.com/a.m3u8")
	assert.Contains(t, output, "42")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelTrace, parseLevel("trace"))
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}
