package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLoggerLevels(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := NewFromZap(zap.New(core))

	logger.Debugf("hidden %d", 1)
	logger.Printf("stored key %q", "a")
	logger.Errorf("store failed: %v", "timeout")

	entries := logs.AllUntimed()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, `stored key "a"`, entries[0].Message)
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, "store failed: timeout", entries[1].Message)
}

func TestNewZapLogger(t *testing.T) {
	t.Run("writes to the given writer", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := NewZapLogger("debug", &buf)
		require.NoError(t, err)

		logger.Named("bridge").Debugf("get size=%d", 3)
		require.NoError(t, logger.Sync())

		assert.Contains(t, buf.String(), "DEBUG")
		assert.Contains(t, buf.String(), "bridge")
		assert.Contains(t, buf.String(), "get size=3")
	})

	t.Run("rejects unknown level", func(t *testing.T) {
		_, err := NewZapLogger("chatty", &bytes.Buffer{})
		assert.Error(t, err)
	})

	t.Run("level names are case insensitive", func(t *testing.T) {
		lvl, err := ParseLevel("WARN")
		require.NoError(t, err)
		assert.Equal(t, zapcore.WarnLevel, lvl)
	})
}
