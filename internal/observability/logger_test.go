package observability

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"", zapcore.InfoLevel},
		{"debug", zapcore.DebugLevel},
		{"INFO", zapcore.InfoLevel},
		{"warning", zapcore.WarnLevel},
		{" error ", zapcore.ErrorLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNewLogger_Profiles(t *testing.T) {
	for _, profile := range []string{"", "structured", "CONSOLE"} {
		logger, err := NewLogger(Config{Level: "info", Profile: profile})
		require.NoError(t, err, profile)
		assert.NotNil(t, logger)
	}

	_, err := NewLogger(Config{Profile: "fancy"})
	assert.Error(t, err)
}

func TestNewLogger_FileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "texttailor.log")

	logger, err := NewLogger(Config{
		Level:   "debug",
		Service: "texttailor",
		File:    FileConfig{Path: path, MaxSizeMB: 1, MaxBackups: 1},
	})
	require.NoError(t, err)

	logger.Info("Job started", zap.String("job_id", "abc"))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"Job started"`)
	assert.Contains(t, string(data), `"job_id":"abc"`)
	assert.Contains(t, string(data), `"service":"texttailor"`)
}

func TestInitLoggers(t *testing.T) {
	origCLI, origServer := CLILogger, ServerLogger
	t.Cleanup(func() {
		CLILogger, ServerLogger = origCLI, origServer
	})

	InitCLILogger("test", false)
	assert.False(t, CLILogger.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, CLILogger.Core().Enabled(zapcore.InfoLevel))

	InitCLILogger("test", true)
	assert.True(t, CLILogger.Core().Enabled(zapcore.DebugLevel))

	require.NoError(t, InitServerLogger(Config{Level: "warn", Profile: ProfileStructured}))
	assert.False(t, ServerLogger.Core().Enabled(zapcore.InfoLevel))

	assert.Error(t, InitServerLogger(Config{Level: "nope"}))
}
