package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestIsValidLogLevel(t *testing.T) {
	assert.True(t, IsValidLogLevel("debug"))
	assert.True(t, IsValidLogLevel("WARN"))
	assert.False(t, IsValidLogLevel("verbose"))
	assert.False(t, IsValidLogLevel(""))
}

func TestBuildLogger(t *testing.T) {
	logger, err := BuildLogger("debug", "prod")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger, err = BuildLogger("not-a-level", "dev")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
	l := BootstrapLogger()
	assert.Same(t, l, OrNop(l))
}
