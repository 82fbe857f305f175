package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewLogger(t *testing.T) {
	for _, format := range []string{"json", "text"} {
		t.Run(format, func(t *testing.T) {
			logger, err := NewLogger(Config{Level: "debug", Format: format})
			require.NoError(t, err)
			require.NotNil(t, logger)
			assert.True(t, logger.Core().Enabled(zap.DebugLevel))
		})
	}
}

func TestNewLogger_LevelFiltering(t *testing.T) {
	logger, err := NewLogger(Config{Level: "warn", Format: "json"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.InfoLevel))
	assert.True(t, logger.Core().Enabled(zap.WarnLevel))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zap.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zap.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zap.InfoLevel, ParseLevel("bogus"))
}

func TestLevelString_RoundTrip(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		assert.Equal(t, level, LevelString(ParseLevel(level)))
	}
}
