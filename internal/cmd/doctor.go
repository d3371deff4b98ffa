package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/texttailor/internal/config"
	errwrap "github.com/3leaps/texttailor/internal/errors"
	"github.com/3leaps/texttailor/internal/observability"
	"github.com/3leaps/texttailor/pkg/ghost"
)

var (
	doctorURL      string
	doctorAdminKey string
	doctorSnapshot string
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the system and suggest fixes for common issues.

Examples:
  texttailor doctor                                   # Environment and config
  texttailor doctor --url https://demo.ghost.io       # Also check the Ghost site and admin key
  texttailor doctor --snapshot s3                     # Also check AWS credentials for snapshots`,
	Run: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().StringVar(&doctorURL, "url", "", "Ghost admin URL to check")
	doctorCmd.Flags().StringVar(&doctorAdminKey, "admin-key", "", "Admin API key (default: $"+DefaultAdminKeyEnv+")")
	doctorCmd.Flags().StringVar(&doctorSnapshot, "snapshot", "", "Check a snapshot backend (s3)")
}

func runDoctor(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	identity := GetAppIdentity()
	bannerName := "doctor"
	if identity != nil && identity.BinaryName != "" {
		bannerName = identity.BinaryName + " doctor"
	}
	observability.CLILogger.Info("=== " + bannerName + " ===")
	observability.CLILogger.Info("")
	observability.CLILogger.Info("Running diagnostic checks...")
	observability.CLILogger.Info("")

	allChecks := true
	checkNum := 1
	totalChecks := 5
	if doctorURL != "" {
		totalChecks += 2
	}
	if doctorSnapshot == "s3" {
		totalChecks += 2
	}

	// Check 1: Go version
	goVersion := runtime.Version()
	if goVersion >= "go1.23" {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking Go version... ✅ %s", checkNum, totalChecks, goVersion),
			zap.String("go_version", goVersion))
	} else {
		observability.CLILogger.Warn(fmt.Sprintf("[%d/%d] Checking Go version... ⚠️  %s (recommended: go1.23+)", checkNum, totalChecks, goVersion),
			zap.String("go_version", goVersion))
		allChecks = false
	}
	checkNum++

	// Check 2: Gofulmen and Crucible
	version := crucible.GetVersion()
	if version.Gofulmen != "" {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking Gofulmen access... ✅ v%s (crucible v%s)", checkNum, totalChecks, version.Gofulmen, version.Crucible),
			zap.String("gofulmen_version", version.Gofulmen),
			zap.String("crucible_version", version.Crucible))
	} else {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking Gofulmen access... ❌ Cannot access Gofulmen", checkNum, totalChecks))
		allChecks = false
	}
	checkNum++

	// Check 3: Configuration
	cfg, err := config.Load(ctx)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking configuration... ❌ Invalid configuration", checkNum, totalChecks),
			zap.Error(err))
		allChecks = false
	} else {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking configuration... ✅ %s", checkNum, totalChecks, cfg.Server.Addr()),
			zap.String("snapshot_backend", cfg.Snapshot.Backend),
			zap.Int("ghost_concurrency", cfg.Ghost.Concurrency))
	}
	checkNum++

	// Check 4: Data directory
	dataDir := config.GetAppDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking data directory... ❌ Cannot create %s", checkNum, totalChecks, dataDir),
			zap.Error(err))
		ExitWithCode(observability.CLILogger, foundry.ExitFileWriteError, "Cannot create data directory",
			errwrap.WrapInternal(ctx, err, "Cannot create data directory"))
	}
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking data directory... ✅ %s", checkNum, totalChecks, dataDir),
		zap.String("data_dir", dataDir))
	checkNum++

	// Check 5: Environment
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking environment... ✅ %s/%s", checkNum, totalChecks, runtime.GOOS, runtime.GOARCH),
		zap.String("os", runtime.GOOS),
		zap.String("arch", runtime.GOARCH))
	checkNum++

	if doctorURL != "" {
		var ok bool
		checkNum, ok = runGhostChecks(ctx, checkNum, totalChecks)
		allChecks = allChecks && ok
	}

	if doctorSnapshot == "s3" {
		allChecks = runS3Checks(ctx, checkNum, totalChecks, allChecks)
	}

	observability.CLILogger.Info("")
	if allChecks {
		observability.CLILogger.Info(fmt.Sprintf("✅ All checks passed! Your %s installation is healthy.", bannerName))
	} else {
		observability.CLILogger.Warn("⚠️  Some checks failed. Review the output above for details.")
	}
	observability.CLILogger.Info("")
	observability.CLILogger.Info("=== End Diagnostics ===")
}

// runGhostChecks verifies the site answers and the admin key is accepted.
func runGhostChecks(ctx context.Context, checkNum, totalChecks int) (int, bool) {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("Ghost Checks:")

	key := doctorAdminKey
	if key == "" {
		key = os.Getenv(DefaultAdminKeyEnv)
	}
	client, err := ghost.New(ghost.Config{
		URL:       doctorURL,
		AdminKey:  key,
		UserAgent: userAgent(),
		Logger:    observability.CLILogger,
	})
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking Ghost connection... ❌ Invalid connection settings", checkNum, totalChecks),
			zap.Error(err))
		printGhostKeyHelp()
		return checkNum + 2, false
	}

	site, err := client.Site(ctx)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking Ghost site... ❌ %s unreachable", checkNum, totalChecks, doctorURL),
			zap.Error(err))
		return checkNum + 2, false
	}
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking Ghost site... ✅ %s (Ghost %s)", checkNum, totalChecks, site.Title, site.Version),
		zap.String("site_url", site.URL))
	checkNum++

	page, err := client.Browse(ctx, ghost.ResourcePosts, ghost.BrowseParams{Limit: 1, Formats: []string{"plaintext"}})
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking admin key... ❌ Request rejected", checkNum, totalChecks),
			zap.Error(err))
		if ghost.IsUnauthorized(err) {
			printGhostKeyHelp()
		}
		return checkNum + 1, false
	}
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking admin key... ✅ %d posts visible", checkNum, totalChecks, page.Pagination.Total))
	return checkNum + 1, true
}

// runS3Checks runs checks for the s3 snapshot backend.
func runS3Checks(ctx context.Context, checkNum, totalChecks int, allChecks bool) bool {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("S3 Snapshot Checks:")

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking AWS credentials... ❌ Cannot load AWS config", checkNum, totalChecks),
			zap.Error(err))
		printAWSCredentialsHelp()
		return false
	}

	creds, err := cfg.Credentials.Retrieve(ctx)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking AWS credentials... ❌ Cannot retrieve credentials", checkNum, totalChecks),
			zap.Error(err))
		printAWSCredentialsHelp()
		return false
	}

	maskedKey := maskAccessKey(creds.AccessKeyID)
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking AWS credentials... ✅ Found credentials", checkNum, totalChecks),
		zap.String("access_key", maskedKey),
		zap.String("source", creds.Source))
	checkNum++

	source := creds.Source
	if source == "" {
		source = "unknown"
	}
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking credential source... ✅ %s", checkNum, totalChecks, source),
		zap.String("credential_source", source))

	return allChecks
}

// maskAccessKey masks all but the last 4 characters of an access key.
func maskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

func printGhostKeyHelp() {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("To create an Admin API key:")
	observability.CLILogger.Info("  1. In Ghost Admin open Settings > Integrations > Add custom integration")
	observability.CLILogger.Info("  2. Copy the Admin API key (id:secret)")
	observability.CLILogger.Info("  3. Pass it with --admin-key or export " + DefaultAdminKeyEnv)
	observability.CLILogger.Info("")
}

// printAWSCredentialsHelp prints help for configuring AWS credentials.
func printAWSCredentialsHelp() {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("To configure AWS credentials:")
	observability.CLILogger.Info("  1. Set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY environment variables, or")
	observability.CLILogger.Info("  2. Run 'aws configure' to set up a profile, or")
	observability.CLILogger.Info("  3. Use IAM role when running on AWS infrastructure")
	observability.CLILogger.Info("")
	observability.CLILogger.Info("For S3-compatible storage (MinIO, Wasabi, etc.), also set:")
	observability.CLILogger.Info("  - snapshot.endpoint in config or TEXTTAILOR_SNAPSHOT_ENDPOINT")
	observability.CLILogger.Info("")
}
