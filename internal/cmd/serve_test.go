package cmd

import (
	"context"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/texttailor/internal/config"
	"github.com/3leaps/texttailor/pkg/jobregistry"
	"github.com/3leaps/texttailor/pkg/snapshot"
)

func TestSignalHealthChecker(t *testing.T) {
	checker := signalHealthChecker{}

	t.Run("always returns nil", func(t *testing.T) {
		err := checker.CheckHealth(context.Background())
		assert.NoError(t, err)
	})
}

func TestRegistryHealthChecker(t *testing.T) {
	assert.Error(t, registryHealthChecker{}.CheckHealth(context.Background()))

	reg := jobregistry.New()
	checker := registryHealthChecker{registry: reg}
	assert.NoError(t, checker.CheckHealth(context.Background()))

	reg.Close()
	err := checker.CheckHealth(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}

func TestServeOverrides(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.Flags().StringVar(&serveHost, "host", "", "")
	cmd.Flags().IntVar(&servePort, "port", 0, "")

	assert.Empty(t, serveOverrides(cmd))

	require.NoError(t, cmd.Flags().Set("port", "3000"))
	out := serveOverrides(cmd)
	assert.Equal(t, map[string]any{"server": map[string]any{"port": 3000}}, out)
}

func TestSnapshotConfigFromApp(t *testing.T) {
	got := snapshotConfigFromApp(config.SnapshotConfig{Backend: "file"})
	assert.Equal(t, snapshot.BackendFile, got.Backend)
	assert.Equal(t, config.DefaultSnapshotDir(), got.Dir)

	got = snapshotConfigFromApp(config.SnapshotConfig{Backend: "s3", Bucket: "snaps", Region: "eu-west-1", Prefix: "prod"})
	assert.Equal(t, "snaps", got.S3.Bucket)
	assert.Equal(t, "eu-west-1", got.S3.Region)
	assert.Equal(t, "prod", got.Prefix)
	assert.Empty(t, got.Dir)
}

func TestIdentityHealthChecker(t *testing.T) {
	tests := []struct {
		name       string
		binaryName string
		envPrefix  string
		configName string
		wantErr    bool
		errContain string
	}{
		{
			name:       "all fields valid",
			binaryName: "myapp",
			envPrefix:  "MYAPP",
			configName: "myapp",
			wantErr:    false,
		},
		{
			name:       "missing binary name",
			binaryName: "",
			envPrefix:  "MYAPP",
			configName: "myapp",
			wantErr:    true,
			errContain: "missing binary name",
		},
		{
			name:       "missing env prefix",
			binaryName: "myapp",
			envPrefix:  "",
			configName: "myapp",
			wantErr:    true,
			errContain: "missing env prefix",
		},
		{
			name:       "missing config name",
			binaryName: "myapp",
			envPrefix:  "MYAPP",
			configName: "",
			wantErr:    true,
			errContain: "missing config name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := identityHealthChecker{
				binaryName: tt.binaryName,
				envPrefix:  tt.envPrefix,
				configName: tt.configName,
			}

			err := checker.CheckHealth(context.Background())
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContain)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
