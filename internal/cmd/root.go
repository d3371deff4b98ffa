// Package cmd implements the texttailor command line.
package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/3leaps/texttailor/internal/config"
	"github.com/3leaps/texttailor/internal/observability"
)

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "unknown",
	BuildDate: "unknown",
}

// appIdentity is set during root initialization.
var appIdentity *config.AppIdentity

var (
	cfgFile  string
	verbose  bool
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "texttailor",
	Short: "Find and replace text across a Ghost site",
	Long: `texttailor rewrites text in the posts and pages of a Ghost site.

It walks every article through the Admin API, replaces text in titles,
excerpts and Lexical content, and reports exact counts per job. Run it
once from the command line, or start the HTTP service and drive jobs
with progress streamed over server-sent events.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initIdentity()
		initConfig()
		observability.InitCLILogger(identityName(), verbose)
	},
}

// SetVersionInfo records build metadata injected by the linker.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// GetAppIdentity returns the identity resolved at startup, or nil before
// the root command has run.
func GetAppIdentity() *config.AppIdentity {
	return appIdentity
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return 0
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	return ExitCode(err)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ./config/texttailor.yaml or ~/.config/texttailor/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initIdentity() {
	if appIdentity != nil {
		return
	}
	id := config.DefaultIdentity
	appIdentity = &id
}

func identityName() string {
	if appIdentity != nil && appIdentity.BinaryName != "" {
		return appIdentity.BinaryName
	}
	return config.AppName
}

func initConfig() {
	setDefaults()

	prefix := config.DefaultIdentity.EnvPrefix
	if appIdentity != nil && appIdentity.EnvPrefix != "" {
		prefix = appIdentity.EnvPrefix
	}
	viper.SetEnvPrefix(strings.TrimSuffix(prefix, "_"))
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		config.SetConfigFile(cfgFile)
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: cannot read config file %s: %v\n", cfgFile, err)
		}
	}

	if strings.EqualFold(viper.GetString("logging.level"), "debug") {
		verbose = true
	}
}

// setDefaults seeds the global viper instance used for CLI flags.
func setDefaults() {
	viper.SetDefault("server.host", "localhost")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.shutdown_timeout", "10s")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.profile", "structured")

	viper.SetDefault("jobs.cleanup_delay", "5m")
	viper.SetDefault("jobs.heartbeat_interval", "15s")

	viper.SetDefault("ghost.api_version", "v5.0")
	viper.SetDefault("ghost.page_size", 30)
	viper.SetDefault("ghost.concurrency", 4)

	viper.SetDefault("health.enabled", true)
	viper.SetDefault("debug.enabled", false)
}

// ExitCodeError carries the exit code a command failed with.
type ExitCodeError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitCodeError) Error() string {
	return fmt.Sprintf("%s: %v (exit code %d)", e.Message, e.Err, e.Code)
}

func (e *ExitCodeError) Unwrap() error {
	return e.Err
}

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return &ExitCodeError{Code: code, Message: message, Err: err}
}

// ExitCode maps an error returned by a command to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ece *ExitCodeError
	if errors.As(err, &ece) {
		return ece.Code
	}
	return 1
}

// ExitWithCode logs msg and terminates the process with code.
func ExitWithCode(logger *zap.Logger, code int, msg string, err error) {
	if logger != nil {
		logger.Error(msg, zap.Int("exit_code", code), zap.Error(err))
		_ = logger.Sync()
	}
	os.Exit(code)
}
