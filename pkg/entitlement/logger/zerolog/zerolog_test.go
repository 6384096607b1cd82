package zerolog

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/payrecon/pkg/entitlement"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLogger_ImplementsInterface(t *testing.T) {
	var _ entitlement.Logger = NewLogger(nil)
}

func TestLogger_Levels(t *testing.T) {
	tests := []struct {
		name  string
		log   func(l *Logger)
		level string
	}{
		{"debug", func(l *Logger) { l.Debug("m", entitlement.Field{Key: "k", Value: "v"}) }, "debug"},
		{"info", func(l *Logger) { l.Info("m", entitlement.Field{Key: "k", Value: "v"}) }, "info"},
		{"warn", func(l *Logger) { l.Warn("m", entitlement.Field{Key: "k", Value: "v"}) }, "warn"},
		{"error", func(l *Logger) { l.Error("m", entitlement.Field{Key: "k", Value: "v"}) }, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			zlog := zerolog.New(&out)
			tt.log(NewLogger(&zlog))

			entry := decodeLine(t, &out)
			assert.Equal(t, tt.level, entry["level"])
			assert.Equal(t, "m", entry["message"])
			assert.Equal(t, "v", entry["k"])
		})
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var out bytes.Buffer
	zlog := zerolog.New(&out).Level(zerolog.WarnLevel)
	logger := NewLogger(&zlog)

	logger.Debug("dropped")
	logger.Info("dropped")
	assert.Zero(t, out.Len())

	logger.Warn("kept")
	assert.NotZero(t, out.Len())
}

func TestLogger_ErrorField(t *testing.T) {
	var out bytes.Buffer
	zlog := zerolog.New(&out)
	NewLogger(&zlog).Error("failed", entitlement.Field{Key: "error", Value: errors.New("boom")})

	entry := decodeLine(t, &out)
	assert.Equal(t, "boom", entry["error"])
}

func TestLogger_With(t *testing.T) {
	var out bytes.Buffer
	zlog := zerolog.New(&out)
	child := NewLogger(&zlog).With(entitlement.Field{Key: "component", Value: "webhook"})

	child.Info("hello", entitlement.Field{Key: "project_id", Value: 42})

	entry := decodeLine(t, &out)
	assert.Equal(t, "webhook", entry["component"])
	assert.Equal(t, float64(42), entry["project_id"])
}
