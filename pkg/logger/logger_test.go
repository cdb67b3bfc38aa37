package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	for _, debug := range []bool{true, false} {
		l, err := New(debug)
		require.NoError(t, err)
		assert.Equal(t, debug, l.Desugar().Core().Enabled(zapcore.DebugLevel))
		assert.True(t, l.Desugar().Core().Enabled(zapcore.InfoLevel))
	}
}

func TestNop(t *testing.T) {
	l := Nop()
	assert.False(t, l.Desugar().Core().Enabled(zapcore.ErrorLevel))
	l.Infow("discarded", "k", "v")
}
