package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/rcliao/memory-relay/internal/config"
)

func TestNew_Levels(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.LoggingConfig
		verbose bool
		want    zapcore.Level
	}{
		{"default", config.LoggingConfig{}, false, zapcore.InfoLevel},
		{"warn", config.LoggingConfig{Level: "warn"}, false, zapcore.WarnLevel},
		{"verbose wins", config.LoggingConfig{Level: "error"}, true, zapcore.DebugLevel},
		{"development", config.LoggingConfig{Level: "debug", Development: true}, false, zapcore.DebugLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg, tt.verbose)
			require.NoError(t, err)
			assert.True(t, logger.Core().Enabled(tt.want))
			if tt.want > zapcore.DebugLevel {
				assert.False(t, logger.Core().Enabled(tt.want-1))
			}
		})
	}
}

func TestNew_BadLevel(t *testing.T) {
	_, err := New(config.LoggingConfig{Level: "loud"}, false)
	assert.Error(t, err)
}
