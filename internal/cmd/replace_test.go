package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/texttailor/pkg/ghost"
	"github.com/3leaps/texttailor/pkg/jobregistry"
	"github.com/3leaps/texttailor/pkg/manifest"
	"github.com/3leaps/texttailor/pkg/match"
	"github.com/3leaps/texttailor/pkg/output"
	"github.com/3leaps/texttailor/test/ghosttest"
)

// newReplaceTestCmd returns a command carrying fresh replace flags and
// restores the defaults when the test ends.
func newReplaceTestCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "replace"}
	registerReplaceFlags(cmd)
	t.Cleanup(func() { registerReplaceFlags(&cobra.Command{}) })
	require.NoError(t, cmd.Flags().Parse(args))
	return cmd
}

func readRecords(t *testing.T, path string) []output.Record {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	var out []output.Record
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 1<<20), 1<<20)
	for sc.Scan() {
		var rec output.Record
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		out = append(out, rec)
	}
	require.NoError(t, sc.Err())
	return out
}

func eventsByResource(t *testing.T, recs []output.Record) map[string][]output.EventRecord {
	t.Helper()
	out := map[string][]output.EventRecord{}
	for _, rec := range recs {
		if rec.Type != output.TypeEvent {
			continue
		}
		var ev output.EventRecord
		require.NoError(t, json.Unmarshal(rec.Data, &ev))
		out[rec.Resource] = append(out[rec.Resource], ev)
	}
	return out
}

func TestShowReplacePlan(t *testing.T) {
	progress := false
	tests := []struct {
		name     string
		manifest *manifest.Manifest
		contains []string
	}{
		{
			name: "single rule",
			manifest: &manifest.Manifest{
				Connection: manifest.ConnectionConfig{URL: "https://demo.ghost.io", APIVersion: "v5.0"},
				Resources:  []string{"posts", "pages"},
				Rules:      []manifest.Rule{{Find: "Acme Corp", Replace: "Acme Inc."}},
				Run:        manifest.RunConfig{Concurrency: 4, PageSize: 30},
				Snapshot:   manifest.SnapshotConfig{Backend: "none"},
				Output:     manifest.OutputConfig{Destination: "stdout"},
			},
			contains: []string{
				"=== Replace Plan ===",
				"Site:        https://demo.ghost.io",
				"Resources:   posts, pages",
				`1. "Acme Corp" -> "Acme Inc."`,
				"Concurrency: 4",
				"Page Size:   30",
				"Snapshot:    none",
				"Progress:    true",
			},
		},
		{
			name: "filters, match and rate limit",
			manifest: &manifest.Manifest{
				Connection: manifest.ConnectionConfig{URL: "https://demo.ghost.io"},
				Resources:  []string{"posts"},
				Rules: []manifest.Rule{
					{Find: "old", Replace: "new", Filter: "tag:'news'"},
					{Find: "gone"},
				},
				Match: &match.FilterConfig{
					Slugs:      &match.Config{Includes: []string{"2024-*"}, Excludes: []string{"legal-*"}},
					Status:     []string{"published"},
					Updated:    &match.DateFilterConfig{After: "2024-01-01"},
					TitleRegex: "^Weekly",
				},
				Run:    manifest.RunConfig{Concurrency: 2, PageSize: 10, RateLimit: 5, DryRun: true},
				Output: manifest.OutputConfig{Destination: "file:out.jsonl", Progress: &progress},
			},
			contains: []string{
				"filter: tag:'news'",
				`2. "gone" -> ""`,
				"Include:   2024-*",
				"Exclude:   legal-*",
				"Status:    published",
				"Updated:   after=2024-01-01 before=",
				"Title:     ^Weekly",
				"Rate Limit:  5.0 req/s",
				"Dry Run:     true",
				"Output:      file:out.jsonl",
				"Progress:    false",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, showReplacePlan(&buf, tt.manifest))
			for _, want := range tt.contains {
				assert.Contains(t, buf.String(), want, "output should contain %q", want)
			}
		})
	}
}

func TestTagFilter(t *testing.T) {
	tests := []struct {
		tag, filter, want string
	}{
		{"", "", ""},
		{"news", "", "tag:'news'"},
		{"", "status:published", "status:published"},
		{"news", "status:published", "tag:'news'+status:published"},
		{"it's", "", `tag:'it\'s'`},
	}
	for _, tt := range tests {
		t.Run(tt.tag+"|"+tt.filter, func(t *testing.T) {
			assert.Equal(t, tt.want, tagFilter(tt.tag, tt.filter))
		})
	}
}

func TestLoadReplaceManifest_FromFlags(t *testing.T) {
	cmd := newReplaceTestCmd(t,
		"--url", "https://demo.ghost.io",
		"--find", "Acme Corp",
		"--replace", "Acme Inc.",
		"--tag", "news",
		"--exclude", "legal-*",
		"--quiet",
	)

	m, err := loadReplaceManifest(cmd)
	require.NoError(t, err)

	assert.Equal(t, manifest.DefaultVersion, m.Version)
	assert.Equal(t, DefaultAdminKeyEnv, m.Connection.AdminKeyEnv)
	assert.Equal(t, []string{"posts", "pages"}, m.Resources)
	require.Len(t, m.Rules, 1)
	assert.Equal(t, "Acme Corp", m.Rules[0].Find)
	assert.Equal(t, "Acme Inc.", m.Rules[0].Replace)
	assert.Equal(t, "tag:'news'", m.Rules[0].Filter)
	require.NotNil(t, m.Match)
	assert.Equal(t, []string{"legal-*"}, m.Match.Slugs.Excludes)
	assert.False(t, m.Output.ProgressEnabled())
	assert.Equal(t, "none", m.Snapshot.Backend)
}

func TestLoadReplaceManifest_FlagErrors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"missing url", []string{"--find", "x"}, "--url"},
		{"missing find", []string{"--url", "https://demo.ghost.io"}, "--find"},
		{"bad resource", []string{"--url", "https://demo.ghost.io", "--find", "x", "--resource", "tags"}, "resources"},
		{"bad page size", []string{"--url", "https://demo.ghost.io", "--find", "x", "--page-size", "500"}, "page_size"},
		{"bad snapshot", []string{"--url", "https://demo.ghost.io", "--find", "x", "--snapshot", "ftp"}, "backend"},
		{"bad admin key", []string{"--url", "https://demo.ghost.io", "--find", "x", "--admin-key", "nope"}, "admin_key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newReplaceTestCmd(t, tt.args...)
			_, err := loadReplaceManifest(cmd)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadReplaceManifest_FileWithOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`version: "1.0"
connection:
  url: https://demo.ghost.io
  admin_key_env: SITE_KEY
rules:
  - find: one
    replace: two
  - find: three
run:
  concurrency: 2
`), 0o644))

	cmd := newReplaceTestCmd(t, "--manifest", path, "--concurrency", "8", "--resource", "pages", "--dry-run", "-o", "file:out.jsonl")
	m, err := loadReplaceManifest(cmd)
	require.NoError(t, err)

	assert.Len(t, m.Rules, 2)
	assert.Equal(t, "SITE_KEY", m.Connection.AdminKeyEnv)
	assert.Equal(t, 8, m.Run.Concurrency)
	assert.Equal(t, []string{"pages"}, m.Resources)
	assert.True(t, m.Run.DryRun)
	assert.Equal(t, "file:out.jsonl", m.Output.Destination)
}

func TestCreateWriter_Stdout(t *testing.T) {
	for _, dest := range []string{"stdout", ""} {
		writer, cleanup, err := createWriter(dest, "run-id")
		require.NoError(t, err)
		require.NotNil(t, writer)
		require.NotNil(t, cleanup)
		cleanup()
	}
}

func TestCreateWriter_FilePrefix(t *testing.T) {
	outPath := filepath.Join(t.TempDir(), "output.jsonl")

	writer, cleanup, err := createWriter("file:"+outPath, "run-id")
	require.NoError(t, err)
	require.NotNil(t, writer)

	_, err = os.Stat(outPath)
	require.NoError(t, err)
	cleanup()
}

func TestCreateWriter_InvalidPath(t *testing.T) {
	_, _, err := createWriter("file:/nonexistent/deeply/nested/path/output.jsonl", "run-id")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create output file")
}

func newSiteManifest(srv *ghosttest.Server, out string, rules ...manifest.Rule) *manifest.Manifest {
	m := &manifest.Manifest{
		Version:    manifest.DefaultVersion,
		Connection: manifest.ConnectionConfig{URL: srv.URL, AdminKey: ghosttest.AdminKey},
		Rules:      rules,
		Output:     manifest.OutputConfig{Destination: "file:" + out},
	}
	m.ApplyDefaults()
	return m
}

func TestExecuteReplace_RewritesPostsAndPages(t *testing.T) {
	srv := ghosttest.New(t)
	srv.SetArticles(ghost.ResourcePosts,
		ghosttest.NewArticle("p1", "Acme Corp news", nil, "Welcome to Acme Corp."),
		ghosttest.NewArticle("p2", "Unrelated", nil, "Nothing here."),
	)
	srv.SetArticles(ghost.ResourcePages, ghosttest.NewArticle("g1", "About", nil, "Acme Corp was founded"))

	out := filepath.Join(t.TempDir(), "out.jsonl")
	m := newSiteManifest(srv, out, manifest.Rule{Find: "Acme Corp", Replace: "Acme Inc."})

	require.NoError(t, executeReplace(context.Background(), m))

	assert.Len(t, srv.Edits(ghost.ResourcePosts), 1)
	assert.Len(t, srv.Edits(ghost.ResourcePages), 1)
	stored, ok := srv.Article(ghost.ResourcePosts, "p1")
	require.True(t, ok)
	assert.Equal(t, "Acme Inc. news", stored.Title)

	events := eventsByResource(t, readRecords(t, out))
	for _, res := range []string{"posts", "pages"} {
		evs := events[res]
		require.NotEmpty(t, evs, res)
		last := evs[len(evs)-1]
		assert.Equal(t, string(jobregistry.EventComplete), last.Event, res)
		assert.Equal(t, 100, last.Progress, res)
	}
}

func TestExecuteReplace_RulesRunInOrder(t *testing.T) {
	srv := ghosttest.New(t)
	srv.SetArticles(ghost.ResourcePosts, ghosttest.NewArticle("p1", "alpha", nil, "alpha"))
	srv.SetArticles(ghost.ResourcePages)

	out := filepath.Join(t.TempDir(), "out.jsonl")
	m := newSiteManifest(srv, out,
		manifest.Rule{Find: "alpha", Replace: "beta"},
		manifest.Rule{Find: "beta", Replace: "gamma"},
	)

	require.NoError(t, executeReplace(context.Background(), m))

	stored, ok := srv.Article(ghost.ResourcePosts, "p1")
	require.True(t, ok)
	assert.Equal(t, "gamma", stored.Title)
	assert.Len(t, srv.Edits(ghost.ResourcePosts), 2)
}

func TestExecuteReplace_QuietDropsProgress(t *testing.T) {
	srv := ghosttest.New(t)
	srv.SetArticles(ghost.ResourcePosts, ghosttest.NewArticle("p1", "foo", nil, "foo"))
	srv.SetArticles(ghost.ResourcePages)

	out := filepath.Join(t.TempDir(), "out.jsonl")
	m := newSiteManifest(srv, out, manifest.Rule{Find: "foo", Replace: "bar"})
	progress := false
	m.Output.Progress = &progress

	require.NoError(t, executeReplace(context.Background(), m))

	for _, rec := range readRecords(t, out) {
		assert.NotEqual(t, output.TypeProgress, rec.Type)
		if rec.Type == output.TypeEvent {
			var ev output.EventRecord
			require.NoError(t, json.Unmarshal(rec.Data, &ev))
			assert.NotEqual(t, string(jobregistry.EventProgress), ev.Event)
		}
	}
}

func TestExecuteReplace_DryRunLeavesSiteUntouched(t *testing.T) {
	srv := ghosttest.New(t)
	srv.SetArticles(ghost.ResourcePosts, ghosttest.NewArticle("p1", "foo", nil, "foo"))
	srv.SetArticles(ghost.ResourcePages)

	out := filepath.Join(t.TempDir(), "out.jsonl")
	m := newSiteManifest(srv, out, manifest.Rule{Find: "foo", Replace: "bar"})
	m.Run.DryRun = true

	require.NoError(t, executeReplace(context.Background(), m))
	assert.Empty(t, srv.Edits(ghost.ResourcePosts))
}

func TestExecuteReplace_BrowseFailureSetsExitCode(t *testing.T) {
	srv := ghosttest.New(t)
	srv.SetArticles(ghost.ResourcePosts)
	srv.SetArticles(ghost.ResourcePages)
	srv.FailBrowse(ghost.ResourcePages, 500)

	out := filepath.Join(t.TempDir(), "out.jsonl")
	m := newSiteManifest(srv, out, manifest.Rule{Find: "foo", Replace: "bar"})

	err := executeReplace(context.Background(), m)
	require.Error(t, err)
	assert.Equal(t, foundry.ExitExternalServiceUnavailable, ExitCode(err))

	events := eventsByResource(t, readRecords(t, out))
	require.NotEmpty(t, events["pages"])
	assert.Equal(t, string(jobregistry.EventError), events["pages"][len(events["pages"])-1].Event)
	require.NotEmpty(t, events["posts"])
	assert.Equal(t, string(jobregistry.EventComplete), events["posts"][len(events["posts"])-1].Event)
}

func TestExecuteReplace_MissingAdminKey(t *testing.T) {
	m := &manifest.Manifest{
		Version:    manifest.DefaultVersion,
		Connection: manifest.ConnectionConfig{URL: "https://demo.ghost.io", AdminKeyEnv: "TEXTTAILOR_TEST_UNSET_KEY"},
		Rules:      []manifest.Rule{{Find: "x"}},
	}
	m.ApplyDefaults()

	err := executeReplace(context.Background(), m)
	require.Error(t, err)
	assert.Equal(t, foundry.ExitInvalidArgument, ExitCode(err))
	assert.Contains(t, err.Error(), "TEXTTAILOR_TEST_UNSET_KEY")
}

func TestFollowJobs_CancelWritesCancelEvents(t *testing.T) {
	reg := jobregistry.New()
	defer reg.Close()

	started := make(chan struct{})
	id := reg.Create(func(ctx context.Context, hooks *jobregistry.Hooks) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}, jobregistry.WithName("posts"))
	<-started

	var buf bytes.Buffer
	w := output.NewJSONLWriter(&buf, "run", "")

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	results, err := followJobs(ctx, reg, []string{id}, w, true)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, jobregistry.StatusCancelled, results[0].Status)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var last output.Record
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &last))
	var ev output.EventRecord
	require.NoError(t, json.Unmarshal(last.Data, &ev))
	assert.Equal(t, string(jobregistry.EventCancel), ev.Event)
	assert.Equal(t, jobregistry.CancelledMessage, ev.Message)
	assert.Equal(t, "posts", last.Resource)
}
