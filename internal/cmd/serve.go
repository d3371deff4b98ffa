package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/texttailor/internal/config"
	"github.com/3leaps/texttailor/internal/observability"
	"github.com/3leaps/texttailor/internal/server"
	"github.com/3leaps/texttailor/internal/server/handlers"
	"github.com/3leaps/texttailor/pkg/contentjob"
	"github.com/3leaps/texttailor/pkg/ghost"
	"github.com/3leaps/texttailor/pkg/jobregistry"
	"github.com/3leaps/texttailor/pkg/snapshot"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the HTTP API.

Clients start jobs with POST /replace-text and follow them on
GET /job-progress/{jobId} as server-sent events. Configuration comes from
config/texttailor.yaml, ~/.config/texttailor/config.yaml and TEXTTAILOR_*
environment variables; flags override both.

Examples:
  texttailor serve
  texttailor serve --port 3000
  TEXTTAILOR_SNAPSHOT_BACKEND=file texttailor serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (default from config: localhost)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Listen port (default from config: 8080)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx, serveOverrides(cmd))
	if err != nil {
		observability.CLILogger.Error("Failed to load config", zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	if err := observability.InitServerLogger(observability.Config{
		Level:   cfg.Logging.Level,
		Profile: cfg.Logging.Profile,
		Service: identityName(),
		File: observability.FileConfig{
			Path:       cfg.Logging.File.Path,
			MaxSizeMB:  cfg.Logging.File.MaxSizeMB,
			MaxAgeDays: cfg.Logging.File.MaxAgeDays,
			MaxBackups: cfg.Logging.File.MaxBackups,
			Compress:   cfg.Logging.File.Compress,
		},
	}); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid logging configuration", err)
	}
	logger := observability.ServerLogger
	defer func() { _ = logger.Sync() }()

	snaps, err := snapshot.Open(ctx, snapshotConfigFromApp(cfg.Snapshot))
	if err != nil {
		logger.Error("Failed to open snapshot store", zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to open snapshot store", err)
	}
	if snaps != nil {
		defer func() { _ = snaps.Close() }()
	}

	reg := jobregistry.New(
		jobregistry.WithCleanupDelay(cfg.Jobs.CleanupDelay),
		jobregistry.WithSubscriberBuffer(cfg.Jobs.SubscriberBuffer),
		jobregistry.WithLogger(logger),
	)

	handlers.SetVersionInfo(versionInfo.Version, versionInfo.Commit, versionInfo.BuildDate)
	if cfg.Health.Enabled {
		handlers.InitHealthManager(versionInfo.Version)
		hm := handlers.GetHealthManager()
		hm.RegisterChecker("signals", signalHealthChecker{})
		if id := GetAppIdentity(); id != nil {
			hm.RegisterChecker("identity", identityHealthChecker{
				binaryName: id.BinaryName,
				envPrefix:  id.EnvPrefix,
				configName: id.ConfigName,
			})
		}
		hm.RegisterChecker("jobs", registryHealthChecker{registry: reg})
	}

	jobCfg := contentjob.DefaultConfig()
	jobCfg.Concurrency = cfg.Ghost.Concurrency
	jobCfg.PageSize = cfg.Ghost.PageSize

	srv := server.New(cfg.Server.Host, cfg.Server.Port,
		server.WithRegistry(reg),
		server.WithLogger(logger),
		server.WithCORSOrigins(cfg.Server.CORSOrigins),
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout),
		server.WithDebug(cfg.Debug.Enabled),
		server.WithJobsOptions(
			handlers.WithGhostConfig(ghost.Config{
				APIVersion: cfg.Ghost.APIVersion,
				Timeout:    cfg.Ghost.Timeout,
				RateLimit:  cfg.Ghost.RateLimit,
				UserAgent:  userAgent(),
				Logger:     logger,
			}),
			handlers.WithJobOptions(contentjob.Options{
				Config:    jobCfg,
				Snapshots: snaps,
				Logger:    logger,
			}),
			handlers.WithHeartbeat(cfg.Jobs.HeartbeatInterval),
		),
	)

	logger.Info("Starting server",
		zap.String("addr", srv.Addr()),
		zap.String("version", versionInfo.Version),
		zap.String("snapshot_backend", cfg.Snapshot.Backend))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		reg.Close()
		if err != nil {
			logger.Error("Server failed", zap.Error(err))
			return exitError(foundry.ExitExternalServiceUnavailable, "Server failed", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down", zap.Int("active_jobs", reg.Active()))

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Jobs first: open progress streams then end with a cancel event
	// before the listener goes away.
	var errs []error
	if err := reg.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("jobs: %w", err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		logger.Warn("Unclean shutdown", zap.Error(err))
		return exitError(foundry.ExitSignalInt, "Shutdown incomplete", err)
	}

	logger.Info("Server stopped")
	return nil
}

// serveOverrides turns explicitly set flags into config overrides.
func serveOverrides(cmd *cobra.Command) map[string]any {
	listen := map[string]any{}
	if cmd.Flags().Changed("host") {
		listen["host"] = serveHost
	}
	if cmd.Flags().Changed("port") {
		listen["port"] = servePort
	}
	out := map[string]any{}
	if len(listen) > 0 {
		out["server"] = listen
	}
	if verbose {
		out["logging"] = map[string]any{"level": "debug"}
	}
	return out
}

func snapshotConfigFromApp(c config.SnapshotConfig) snapshot.Config {
	dir := c.Dir
	if dir == "" && c.Backend == string(snapshot.BackendFile) {
		dir = config.DefaultSnapshotDir()
	}
	return snapshot.Config{
		Backend: snapshot.Backend(c.Backend),
		Dir:     dir,
		Prefix:  c.Prefix,
		S3: snapshot.S3Config{
			Bucket:   c.Bucket,
			Region:   c.Region,
			Endpoint: c.Endpoint,
			Profile:  c.Profile,
		},
	}
}

func userAgent() string {
	return identityName() + "/" + versionInfo.Version
}

// signalHealthChecker reports the signal handler as installed.
type signalHealthChecker struct{}

func (signalHealthChecker) CheckHealth(ctx context.Context) error {
	return nil
}

// identityHealthChecker verifies the app identity is complete.
type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (c identityHealthChecker) CheckHealth(ctx context.Context) error {
	if c.binaryName == "" {
		return fmt.Errorf("missing binary name")
	}
	if c.envPrefix == "" {
		return fmt.Errorf("missing env prefix")
	}
	if c.configName == "" {
		return fmt.Errorf("missing config name")
	}
	return nil
}

// registryHealthChecker fails once the job registry stops accepting jobs.
type registryHealthChecker struct {
	registry *jobregistry.Registry
}

func (c registryHealthChecker) CheckHealth(ctx context.Context) error {
	if c.registry == nil {
		return fmt.Errorf("job registry not initialized")
	}
	if c.registry.Closed() {
		return fmt.Errorf("job registry closed")
	}
	return nil
}
