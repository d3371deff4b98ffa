package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/3leaps/texttailor/internal/config"
	"github.com/3leaps/texttailor/internal/observability"
	"github.com/3leaps/texttailor/pkg/contentjob"
	"github.com/3leaps/texttailor/pkg/ghost"
	"github.com/3leaps/texttailor/pkg/jobregistry"
	"github.com/3leaps/texttailor/pkg/manifest"
	"github.com/3leaps/texttailor/pkg/match"
	"github.com/3leaps/texttailor/pkg/output"
	"github.com/3leaps/texttailor/pkg/snapshot"
)

// DefaultAdminKeyEnv is read when neither --admin-key nor a manifest key is given.
const DefaultAdminKeyEnv = "TEXTTAILOR_ADMIN_KEY"

var replaceCmd = &cobra.Command{
	Use:   "replace",
	Short: "Replace text across posts and pages",
	Long: `Replace text in every post and page of a Ghost site.

Run a single replacement from flags, or a batch of rules from a YAML or
JSON manifest. Rules run in order; each rule starts one job per collection
and the jobs of a rule run concurrently. Records are written as JSONL.

Examples:
  texttailor replace --url https://demo.ghost.io --find "Acme Corp" --replace "Acme Inc."
  texttailor replace --url https://demo.ghost.io --find foo --replace bar --tag news --dry-run
  texttailor replace --manifest rules.yaml --output file:results.jsonl
  texttailor replace --manifest rules.yaml --plan`,
	RunE: runReplace,
}

var (
	replaceManifestPath string
	replaceURL          string
	replaceAdminKey     string
	replaceAdminKeyEnv  string
	replaceFind         string
	replaceWith         string
	replaceFilter       string
	replaceTag          string
	replaceResources    []string
	replaceIncludes     []string
	replaceExcludes     []string
	replaceStatuses     []string
	replaceConcurrency  int
	replacePageSize     int
	replaceRateLimit    float64
	replaceDryRun       bool
	replacePlan         bool
	replaceSnapshot     string
	replaceSnapshotDir  string
	replaceSnapshotBkt  string
	replaceSnapshotPfx  string
	replaceOutput       string
	replaceQuiet        bool
)

// replaceJobRetainTime keeps finished jobs readable after their stream ends.
var replaceJobRetainTime = time.Minute

func init() {
	rootCmd.AddCommand(replaceCmd)
	registerReplaceFlags(replaceCmd)
}

// registerReplaceFlags binds the replace flags to cmd, resetting their
// variables to defaults.
func registerReplaceFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&replaceManifestPath, "manifest", "m", "", "Path to rules manifest (YAML or JSON)")
	f.StringVar(&replaceURL, "url", "", "Ghost admin URL")
	f.StringVar(&replaceAdminKey, "admin-key", "", "Admin API key (id:secret)")
	f.StringVar(&replaceAdminKeyEnv, "admin-key-env", DefaultAdminKeyEnv, "Environment variable holding the Admin API key")
	f.StringVar(&replaceFind, "find", "", "Text to replace")
	f.StringVar(&replaceWith, "replace", "", "Replacement text (may be empty)")
	f.StringVar(&replaceFilter, "filter", "", "Ghost NQL filter selecting articles")
	f.StringVar(&replaceTag, "tag", "", "Only rewrite articles with this tag slug")
	f.StringSliceVar(&replaceResources, "resource", nil, "Collections to rewrite (posts, pages)")
	f.StringSliceVar(&replaceIncludes, "include", nil, "Slug globs to include")
	f.StringSliceVar(&replaceExcludes, "exclude", nil, "Slug globs to exclude")
	f.StringSliceVar(&replaceStatuses, "status", nil, "Article statuses to rewrite (published, draft, scheduled)")
	f.IntVar(&replaceConcurrency, "concurrency", 0, "Articles rewritten in parallel per page")
	f.IntVar(&replacePageSize, "page-size", 0, "Articles fetched per page (1-100)")
	f.Float64Var(&replaceRateLimit, "rate-limit", 0, "Maximum Ghost requests per second (0 = unlimited)")
	f.BoolVar(&replaceDryRun, "dry-run", false, "Count and report changes without editing")
	f.BoolVar(&replacePlan, "plan", false, "Validate and show the plan without contacting Ghost")
	f.StringVar(&replaceSnapshot, "snapshot", "", "Snapshot backend before each edit (none, file, s3)")
	f.StringVar(&replaceSnapshotDir, "snapshot-dir", "", "Directory for the file snapshot backend")
	f.StringVar(&replaceSnapshotBkt, "snapshot-bucket", "", "Bucket for the s3 snapshot backend")
	f.StringVar(&replaceSnapshotPfx, "snapshot-prefix", "", "Key prefix for snapshots")
	f.StringVarP(&replaceOutput, "output", "o", "", "Output destination (stdout or file:/path)")
	f.BoolVarP(&replaceQuiet, "quiet", "q", false, "Suppress progress records")
}

func runReplace(cmd *cobra.Command, args []string) error {
	m, err := loadReplaceManifest(cmd)
	if err != nil {
		observability.CLILogger.Error("Invalid replace request", zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid replace request", err)
	}

	if replacePlan {
		return showReplacePlan(cmd.OutOrStdout(), m)
	}
	return executeReplace(cmd.Context(), m)
}

// loadReplaceManifest reads --manifest, or builds a one-rule manifest from
// flags. Flags that were set explicitly override manifest values.
func loadReplaceManifest(cmd *cobra.Command) (*manifest.Manifest, error) {
	var m *manifest.Manifest
	if replaceManifestPath != "" {
		loaded, err := manifest.Load(replaceManifestPath)
		if err != nil {
			return nil, err
		}
		m = loaded
	} else {
		built, err := buildManifestFromFlags()
		if err != nil {
			return nil, err
		}
		m = built
	}

	flags := cmd.Flags()
	if flags.Changed("url") {
		m.Connection.URL = replaceURL
	}
	if flags.Changed("admin-key") {
		m.Connection.AdminKey = replaceAdminKey
	}
	if flags.Changed("resource") {
		m.Resources = replaceResources
	}
	if flags.Changed("concurrency") {
		m.Run.Concurrency = replaceConcurrency
	}
	if flags.Changed("page-size") {
		m.Run.PageSize = replacePageSize
	}
	if flags.Changed("rate-limit") {
		m.Run.RateLimit = replaceRateLimit
	}
	if replaceDryRun {
		m.Run.DryRun = true
	}
	if flags.Changed("snapshot") {
		m.Snapshot.Backend = replaceSnapshot
	}
	if flags.Changed("snapshot-dir") {
		m.Snapshot.Dir = replaceSnapshotDir
	}
	if flags.Changed("snapshot-bucket") {
		m.Snapshot.Bucket = replaceSnapshotBkt
	}
	if flags.Changed("snapshot-prefix") {
		m.Snapshot.Prefix = replaceSnapshotPfx
	}
	if replaceOutput != "" {
		m.Output.Destination = replaceOutput
	}
	if replaceQuiet {
		enabled := false
		m.Output.Progress = &enabled
	}

	m.ApplyDefaults()
	if err := manifest.Validate(m); err != nil {
		return nil, err
	}
	return m, nil
}

// buildManifestFromFlags turns the single-rule flags into a manifest.
func buildManifestFromFlags() (*manifest.Manifest, error) {
	if replaceURL == "" {
		return nil, errors.New("--url is required without --manifest")
	}
	if replaceFind == "" {
		return nil, errors.New("--find is required without --manifest")
	}

	m := &manifest.Manifest{
		Version: manifest.DefaultVersion,
		Connection: manifest.ConnectionConfig{
			URL:      replaceURL,
			AdminKey: replaceAdminKey,
		},
		Resources: replaceResources,
		Rules: []manifest.Rule{{
			Find:    replaceFind,
			Replace: replaceWith,
			Filter:  tagFilter(replaceTag, replaceFilter),
		}},
	}
	if m.Connection.AdminKey == "" {
		m.Connection.AdminKeyEnv = replaceAdminKeyEnv
	}

	if len(replaceIncludes) > 0 || len(replaceExcludes) > 0 || len(replaceStatuses) > 0 {
		m.Match = &match.FilterConfig{Status: replaceStatuses}
		if len(replaceIncludes) > 0 || len(replaceExcludes) > 0 {
			m.Match.Slugs = &match.Config{Includes: replaceIncludes, Excludes: replaceExcludes}
		}
	}
	return m, nil
}

// tagFilter combines a tag selector with a raw NQL filter.
func tagFilter(tag, filter string) string {
	var tagClause string
	if tag = strings.TrimSpace(tag); tag != "" {
		tagClause = ghost.FilterEquals("tag", tag)
	}
	return ghost.FilterAnd(tagClause, filter)
}

// showReplacePlan displays what would be rewritten without contacting Ghost.
func showReplacePlan(w io.Writer, m *manifest.Manifest) error {
	fmt.Fprintln(w, "=== Replace Plan ===")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Site:        %s\n", m.Connection.URL)
	fmt.Fprintf(w, "API Version: %s\n", m.Connection.APIVersion)
	fmt.Fprintf(w, "Resources:   %s\n", strings.Join(m.Resources, ", "))
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Rules:")
	for i, r := range m.Rules {
		fmt.Fprintf(w, "  %d. %q -> %q\n", i+1, r.Find, r.Replace)
		if r.Filter != "" {
			fmt.Fprintf(w, "     filter: %s\n", r.Filter)
		}
	}
	fmt.Fprintln(w)

	if m.Match != nil {
		fmt.Fprintln(w, "Match:")
		if m.Match.Slugs != nil {
			if len(m.Match.Slugs.Includes) > 0 {
				fmt.Fprintf(w, "  Include:   %s\n", strings.Join(m.Match.Slugs.Includes, ", "))
			}
			if len(m.Match.Slugs.Excludes) > 0 {
				fmt.Fprintf(w, "  Exclude:   %s\n", strings.Join(m.Match.Slugs.Excludes, ", "))
			}
		}
		if len(m.Match.Status) > 0 {
			fmt.Fprintf(w, "  Status:    %s\n", strings.Join(m.Match.Status, ", "))
		}
		if m.Match.Updated != nil {
			fmt.Fprintf(w, "  Updated:   after=%s before=%s\n", m.Match.Updated.After, m.Match.Updated.Before)
		}
		if m.Match.TitleRegex != "" {
			fmt.Fprintf(w, "  Title:     %s\n", m.Match.TitleRegex)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Concurrency: %d\n", m.Run.Concurrency)
	fmt.Fprintf(w, "Page Size:   %d\n", m.Run.PageSize)
	if m.Run.RateLimit > 0 {
		fmt.Fprintf(w, "Rate Limit:  %.1f req/s\n", m.Run.RateLimit)
	}
	fmt.Fprintf(w, "Dry Run:     %v\n", m.Run.DryRun)
	fmt.Fprintf(w, "Snapshot:    %s\n", m.Snapshot.Backend)
	fmt.Fprintf(w, "Output:      %s\n", m.Output.Destination)
	fmt.Fprintf(w, "Progress:    %v\n", m.Output.ProgressEnabled())
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Manifest validated successfully. Remove --plan to execute.")
	return nil
}

// executeReplace runs every rule of m in order.
func executeReplace(ctx context.Context, m *manifest.Manifest) error {
	log := observability.CLILogger
	runID := uuid.NewString()

	adminKey, err := m.Connection.ResolveAdminKey()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Missing admin key", err)
	}

	client, err := ghost.New(ghost.Config{
		URL:        m.Connection.URL,
		AdminKey:   adminKey,
		APIVersion: m.Connection.APIVersion,
		RateLimit:  m.Run.RateLimit,
		UserAgent:  userAgent(),
		Logger:     log,
	})
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid Ghost connection", err)
	}

	filter, err := m.Filter()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid match section", err)
	}

	storeCfg := m.Snapshot.StoreConfig()
	if storeCfg.Backend == snapshot.BackendFile && storeCfg.Dir == "" {
		storeCfg.Dir = config.DefaultSnapshotDir()
	}
	snaps, err := snapshot.Open(ctx, storeCfg)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to open snapshot store", err)
	}
	if snaps != nil {
		defer func() { _ = snaps.Close() }()
	}

	writer, cleanup, err := createWriter(m.Output.Destination, runID)
	if err != nil {
		log.Error("Failed to create writer", zap.Error(err))
		return exitError(foundry.ExitFileWriteError, "Failed to create output", err)
	}
	defer cleanup()

	reg := jobregistry.New(
		jobregistry.WithLogger(log),
		jobregistry.WithCleanupDelay(replaceJobRetainTime),
	)
	defer reg.Close()

	jobCfg := m.Run.JobConfig()
	jobCfg.Quiet = !m.Output.ProgressEnabled()
	opts := contentjob.Options{
		Config:    jobCfg,
		Filter:    filter,
		Snapshots: snaps,
		Output:    writer,
		Logger:    log,
	}

	var failed []string
	for i, rule := range m.Rules {
		if ctx.Err() != nil {
			break
		}
		ids, err := contentjob.Launch(reg, client, rule.Request(), opts, m.GhostResources()...)
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, fmt.Sprintf("Rule %d rejected", i+1), err)
		}
		log.Info("Rule started",
			zap.Int("rule", i+1),
			zap.String("find", rule.Find),
			zap.Strings("job_ids", ids),
			zap.Bool("dry_run", jobCfg.DryRun))

		results, err := followJobs(ctx, reg, ids, writer, m.Output.ProgressEnabled())
		if err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
		}
		for _, snap := range results {
			fields := []zap.Field{
				zap.Int("rule", i+1),
				zap.String("job_id", snap.ID),
				zap.String("resource", snap.Name),
				zap.String("status", string(snap.Status)),
			}
			switch snap.Status {
			case jobregistry.StatusComplete:
				log.Info("Job completed", append(fields, zap.Any("stats", snap.Stats))...)
			default:
				log.Warn("Job did not complete", append(fields, zap.String("message", snap.Message))...)
				failed = append(failed, snap.ID)
			}
		}
	}

	if ctx.Err() != nil {
		log.Warn("Replace cancelled", zap.String("run_id", runID))
		return exitError(foundry.ExitSignalInt, "Replace cancelled", ctx.Err())
	}
	if len(failed) > 0 {
		return exitError(foundry.ExitExternalServiceUnavailable, "Replace failed",
			fmt.Errorf("%d job(s) failed: %s", len(failed), strings.Join(failed, ", ")))
	}
	return nil
}

// followJobs streams the lifecycle events of ids into w until every job is
// terminal, and returns their final snapshots in the order of ids.
// Cancelling ctx cancels the jobs; their cancel events are still written.
func followJobs(ctx context.Context, reg *jobregistry.Registry, ids []string, w *output.JSONLWriter, progress bool) ([]jobregistry.Snapshot, error) {
	stop := context.AfterFunc(ctx, func() {
		for _, id := range ids {
			reg.Cancel(id)
		}
	})
	defer stop()

	streamCtx := context.WithoutCancel(ctx)
	var g errgroup.Group
	for _, id := range ids {
		snap, ok := reg.Get(id)
		if !ok {
			continue
		}
		jw := w.WithJob(id, snap.Name)
		g.Go(func() error {
			return jobregistry.Stream(streamCtx, reg, id, jobregistry.SinkFunc(func(ev jobregistry.Event) error {
				if ev.Type == jobregistry.EventProgress && !progress {
					return nil
				}
				return jw.WriteEvent(streamCtx, &output.EventRecord{
					Event:    string(ev.Type),
					Status:   string(ev.Status),
					Progress: ev.Progress,
					Message:  ev.Message,
					Stats:    ev.Stats,
				})
			}))
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, jobregistry.ErrJobNotFound) {
		return nil, err
	}

	out := make([]jobregistry.Snapshot, 0, len(ids))
	for _, id := range ids {
		if snap, ok := reg.Get(id); ok {
			out = append(out, snap)
		}
	}
	return out, nil
}

// createWriter creates an output writer for dest ("stdout" or "file:path").
// Returns the writer, a cleanup function, and any error.
func createWriter(dest, runID string) (*output.JSONLWriter, func(), error) {
	if dest == "" || dest == "stdout" {
		w := output.NewJSONLWriter(os.Stdout, runID, "")
		return w, func() { _ = w.Close() }, nil
	}

	path := strings.TrimPrefix(dest, "file:")
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file %s: %w", path, err)
	}

	w := output.NewJSONLWriter(f, runID, "")
	cleanup := func() {
		_ = w.Close()
		_ = f.Close()
	}
	return w, cleanup, nil
}
