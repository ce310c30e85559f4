package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestBuild(t *testing.T) {
	tests := []struct {
		level    string
		encoding string
		wantErr  bool
		enabled  zapcore.Level
	}{
		{"debug", "console", false, zapcore.DebugLevel},
		{"info", "json", false, zapcore.InfoLevel},
		{"warn", "json", false, zapcore.WarnLevel},
		{"loud", "json", true, 0},
		{"info", "xml", true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.level+"/"+tt.encoding, func(t *testing.T) {
			logger, err := Build(tt.level, tt.encoding)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, logger.Core().Enabled(tt.enabled))
			assert.False(t, logger.Core().Enabled(tt.enabled-1))
		})
	}
}

func TestNewReadsEnvironment(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("LOG_ENCODING", "console")

	logger, err := New()
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.WarnLevel))
	assert.True(t, logger.Core().Enabled(zapcore.ErrorLevel))
}
