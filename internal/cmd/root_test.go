package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetVersionInfo(t *testing.T) {
	// Save original values
	origVersion := versionInfo.Version
	origCommit := versionInfo.Commit
	origBuildDate := versionInfo.BuildDate
	defer func() {
		versionInfo.Version = origVersion
		versionInfo.Commit = origCommit
		versionInfo.BuildDate = origBuildDate
	}()

	tests := []struct {
		name      string
		version   string
		commit    string
		buildDate string
	}{
		{
			name:      "set all values",
			version:   "1.0.0",
			commit:    "abc123",
			buildDate: "2024-01-15",
		},
		{
			name:      "set dev version",
			version:   "dev",
			commit:    "HEAD",
			buildDate: "unknown",
		},
		{
			name:      "set empty values",
			version:   "",
			commit:    "",
			buildDate: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetVersionInfo(tt.version, tt.commit, tt.buildDate)

			assert.Equal(t, tt.version, versionInfo.Version)
			assert.Equal(t, tt.commit, versionInfo.Commit)
			assert.Equal(t, tt.buildDate, versionInfo.BuildDate)
		})
	}
}

func TestGetAppIdentity(t *testing.T) {
	t.Run("returns nil before init", func(t *testing.T) {
		// Save and restore
		orig := appIdentity
		appIdentity = nil
		defer func() { appIdentity = orig }()

		result := GetAppIdentity()
		assert.Nil(t, result)
	})

	t.Run("returns identity after set", func(t *testing.T) {
		// If appIdentity is already set from other tests, verify it returns
		if appIdentity != nil {
			result := GetAppIdentity()
			assert.NotNil(t, result)
			assert.Equal(t, appIdentity, result)
		}
	})
}

func TestSetDefaults(t *testing.T) {
	// Reset viper for clean test
	v := viper.New()
	viper.Reset()
	defer func() {
		// Restore defaults
		viper.Reset()
		_ = v
	}()

	// Call setDefaults
	setDefaults()

	// Verify server defaults
	assert.Equal(t, "localhost", viper.GetString("server.host"))
	assert.Equal(t, 8080, viper.GetInt("server.port"))
	assert.Equal(t, "30s", viper.GetString("server.read_timeout"))
	assert.Equal(t, "30s", viper.GetString("server.write_timeout"))
	assert.Equal(t, "120s", viper.GetString("server.idle_timeout"))
	assert.Equal(t, "10s", viper.GetString("server.shutdown_timeout"))

	// Verify logging defaults
	assert.Equal(t, "info", viper.GetString("logging.level"))
	assert.Equal(t, "structured", viper.GetString("logging.profile"))

	// Verify job defaults
	assert.Equal(t, "5m", viper.GetString("jobs.cleanup_delay"))
	assert.Equal(t, "15s", viper.GetString("jobs.heartbeat_interval"))

	// Verify ghost defaults
	assert.Equal(t, "v5.0", viper.GetString("ghost.api_version"))
	assert.Equal(t, 30, viper.GetInt("ghost.page_size"))
	assert.Equal(t, 4, viper.GetInt("ghost.concurrency"))

	// Verify health defaults
	assert.True(t, viper.GetBool("health.enabled"))

	// Verify debug defaults
	assert.False(t, viper.GetBool("debug.enabled"))
}

func TestExitError(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		message string
		err     error
		want    string
	}{
		{
			name:    "basic error",
			code:    1,
			message: "Something failed",
			err:     assert.AnError,
			want:    "Something failed",
		},
		{
			name:    "includes exit code",
			code:    foundry.ExitExternalServiceUnavailable,
			message: "Ghost unreachable",
			err:     assert.AnError,
			want:    fmt.Sprintf("exit code %d", foundry.ExitExternalServiceUnavailable),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := exitError(tt.code, tt.message, tt.err)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.ErrorIs(t, err, assert.AnError)
			assert.Equal(t, tt.code, ExitCode(err))
		})
	}
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(errors.New("plain")))

	wrapped := fmt.Errorf("outer: %w", exitError(foundry.ExitInvalidArgument, "bad flag", assert.AnError))
	assert.Equal(t, foundry.ExitInvalidArgument, ExitCode(wrapped))
}

func TestVersionCommand(t *testing.T) {
	orig := versionInfo
	defer func() { versionInfo = orig }()
	SetVersionInfo("1.2.3", "abc123", "2026-01-02")

	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	defer versionCmd.SetOut(nil)

	versionJSON = true
	defer func() { versionJSON = false }()
	require.NoError(t, versionCmd.RunE(versionCmd, nil))

	var info map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &info))
	assert.Equal(t, "1.2.3", info["version"])
	assert.Equal(t, "abc123", info["commit"])
	assert.Equal(t, "2026-01-02", info["build_date"])
}
