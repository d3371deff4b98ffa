// Package contentjob runs a text replacement across one Ghost collection.
//
// A Runner pages through the collection, rewrites each article with
// textreplace.Engine and persists the articles that changed. It reports
// page-based progress to a jobregistry job and tallies the outcome.
package contentjob

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/3leaps/texttailor/pkg/ghost"
	"github.com/3leaps/texttailor/pkg/jobregistry"
	"github.com/3leaps/texttailor/pkg/match"
	"github.com/3leaps/texttailor/pkg/output"
	"github.com/3leaps/texttailor/pkg/snapshot"
	"github.com/3leaps/texttailor/pkg/textreplace"
)

// Config configures runner behavior.
type Config struct {
	// Concurrency is the number of articles of one page rewritten in
	// parallel. Pages are processed one after another.
	// Default: 4
	Concurrency int

	// PageSize is the browse limit.
	// Default: 30
	PageSize int

	// Order is an optional browse order (e.g., "published_at asc").
	Order string

	// MaxDepth bounds the Lexical tree walk.
	// Default: textreplace.DefaultMaxDepth
	MaxDepth int

	// DryRun rewrites in memory and reports, but never calls Edit.
	DryRun bool

	// Quiet suppresses progress records. Job progress is still reported.
	Quiet bool
}

// DefaultConfig returns the default runner configuration.
func DefaultConfig() Config {
	return Config{
		Concurrency: 4,
		PageSize:    ghost.DefaultPageSize,
		MaxDepth:    textreplace.DefaultMaxDepth,
	}
}

// Reporter receives progress for the job a Runner executes.
// *jobregistry.Hooks satisfies it.
type Reporter interface {
	JobID() string
	Progress(percent int)
}

// Summary contains aggregate statistics from a finished run.
type Summary struct {
	// Tally is the aggregate of every article's tally.
	Tally textreplace.Tally

	// Articles is the number of articles browsed.
	Articles int64

	// Skipped is the number of articles excluded by the filter.
	Skipped int64

	// Pages is the number of pages processed.
	Pages int

	// Duration is the total time spent.
	Duration time.Duration
}

// Stats returns the summary reported as the job's completion stats.
func (s *Summary) Stats() textreplace.Summary {
	return s.Tally.Summarize()
}

// Runner executes one replacement against one collection.
//
// Runner is safe for single use only. Create a new Runner for each job.
type Runner struct {
	store    Store
	resource ghost.Resource
	req      Request
	config   Config
	engine   textreplace.Engine

	filter    *match.CompositeFilter
	snapshots *snapshot.Snapshotter
	writer    output.Writer
	jsonl     *output.JSONLWriter
	logger    *zap.Logger

	mu    sync.Mutex
	tally textreplace.Tally

	articles atomic.Int64
	skipped  atomic.Int64
}

// New creates a runner.
//
// Use the With* methods to add a filter, snapshots, output or a logger
// after creation.
func New(store Store, resource ghost.Resource, req Request, cfg Config) *Runner {
	def := DefaultConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = def.MaxDepth
	}

	return &Runner{
		store:    store,
		resource: resource,
		req:      req,
		config:   cfg,
		engine:   textreplace.Engine{Key: textreplace.KeyText, MaxDepth: cfg.MaxDepth},
		writer:   output.Discard,
		logger:   zap.NewNop(),
	}
}

// WithFilter sets an article filter. Articles that do not match are
// skipped without being rewritten.
func (r *Runner) WithFilter(f *match.CompositeFilter) *Runner {
	r.filter = f
	return r
}

// WithSnapshots stores every article before it is edited.
func (r *Runner) WithSnapshots(s *snapshot.Snapshotter) *Runner {
	r.snapshots = s
	return r
}

// WithWriter sets the record writer.
func (r *Runner) WithWriter(w output.Writer) *Runner {
	if w != nil {
		r.writer = w
	}
	return r
}

// WithJSONL writes records through a per-job view of w, stamped with the
// job id known only once the job starts.
func (r *Runner) WithJSONL(w *output.JSONLWriter) *Runner {
	r.jsonl = w
	return r
}

// WithLogger sets the logger.
func (r *Runner) WithLogger(l *zap.Logger) *Runner {
	if l != nil {
		r.logger = l
	}
	return r
}

// Task adapts the runner to a registry task. The job completes with the
// run's Stats.
func (r *Runner) Task() jobregistry.TaskFunc {
	return func(ctx context.Context, h *jobregistry.Hooks) error {
		sum, err := r.Run(ctx, h)
		if err != nil {
			return err
		}
		h.Complete(sum.Stats())
		return nil
	}
}

// Run pages through the collection and rewrites every article.
//
// Cancellation is checked before each page; a cancelled run returns the
// context error with a partial summary. A browse failure aborts the run.
// Edit failures are counted in Tally.ErrorCount and the run continues.
func (r *Runner) Run(ctx context.Context, rep Reporter) (*Summary, error) {
	start := time.Now()
	jobID := rep.JobID()
	if r.jsonl != nil {
		r.writer = r.jsonl.WithJob(jobID, string(r.resource))
	}
	log := r.logger.With(zap.String("job_id", jobID), zap.String("resource", string(r.resource)))

	if err := r.req.Validate(); err != nil {
		return nil, err
	}

	r.writeProgress(ctx, &output.ProgressRecord{Phase: output.PhaseStarting})

	page, pages := 1, 0
	for {
		if err := ctx.Err(); err != nil {
			log.Info("Run cancelled", zap.Int("page", page))
			return r.summary(pages, time.Since(start)), err
		}

		result, err := r.store.Browse(ctx, ghost.BrowseParams{
			Page:   page,
			Limit:  r.config.PageSize,
			Filter: r.req.Filter,
			Order:  r.config.Order,
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return r.summary(pages, time.Since(start)), ctxErr
			}
			_ = r.writer.WriteError(ctx, &output.ErrorRecord{Code: errorCode(err), Message: err.Error(), Page: page})
			return nil, fmt.Errorf("browse %s page %d: %w", r.resource, page, err)
		}

		r.processPage(ctx, jobID, page, result.Articles, log)

		pages = page
		total := result.Pagination.Pages
		percent := 100
		if total > 0 {
			percent = min(page*100/total, 100)
		}
		rep.Progress(percent)
		r.writeProgress(ctx, &output.ProgressRecord{
			Phase:   output.PhaseRewriting,
			Page:    page,
			Pages:   total,
			Percent: percent,
			Tally:   r.currentTally(),
		})

		if !result.Pagination.HasNext() {
			break
		}
		page = *result.Pagination.Next
	}

	sum := r.summary(pages, time.Since(start))
	stats := sum.Stats()
	if stats.Discrepancy {
		log.Warn("Not every match could be replaced",
			zap.Int("match_count", stats.MatchCount),
			zap.Int("replaced_count", stats.ReplacedCount),
			zap.Int("unreplaced_count", stats.UnreplacedCount))
	}
	log.Info("Run complete",
		zap.Int("articles", stats.ArticleCount),
		zap.Int("errors", stats.ErrorCount),
		zap.Int("pages", pages),
		zap.Duration("duration", sum.Duration))

	_ = r.writer.WriteSummary(ctx, &output.SummaryRecord{
		Summary:       stats,
		Target:        r.req.Target,
		Replacement:   r.req.Replacement,
		Articles:      sum.Articles,
		Pages:         sum.Pages,
		Duration:      sum.Duration,
		DurationHuman: sum.Duration.Round(time.Millisecond).String(),
	})
	return sum, nil
}

func (r *Runner) writeProgress(ctx context.Context, rec *output.ProgressRecord) {
	if r.config.Quiet {
		return
	}
	_ = r.writer.WriteProgress(ctx, rec)
}

func (r *Runner) processPage(ctx context.Context, jobID string, page int, articles []ghost.Article, log *zap.Logger) {
	var g errgroup.Group
	g.SetLimit(r.config.Concurrency)
	for i := range articles {
		a := articles[i]
		g.Go(func() error {
			t := r.processArticle(ctx, jobID, page, a, log)
			r.mu.Lock()
			r.tally = r.tally.Add(t)
			r.mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
}

// processArticle rewrites and persists one article. Failures are reported
// in the returned tally rather than as errors.
func (r *Runner) processArticle(ctx context.Context, jobID string, page int, a ghost.Article, log *zap.Logger) textreplace.Tally {
	r.articles.Add(1)
	rec := &output.ArticleRecord{ID: a.ID, Slug: a.Slug, Title: a.Title}

	if !r.filter.Match(&a) {
		r.skipped.Add(1)
		rec.Outcome = output.ArticleSkipped
		_ = r.writer.WriteArticle(ctx, rec)
		return textreplace.Tally{}
	}

	fail := func(code string, err error) textreplace.Tally {
		log.Warn("Article not updated", zap.String("article_id", a.ID), zap.String("slug", a.Slug), zap.Error(err))
		_ = r.writer.WriteError(ctx, &output.ErrorRecord{Code: code, Message: err.Error(), ArticleID: a.ID, Page: page})
		rec.Outcome = output.ArticleFailed
		_ = r.writer.WriteArticle(ctx, rec)
		return textreplace.Tally{ErrorCount: 1}
	}

	tree, err := textreplace.DecodeLexical(a.Lexical)
	if err != nil {
		return fail(output.ErrCodeInternal, err)
	}
	doc := &textreplace.Document{
		Title:     a.Title,
		Excerpt:   a.CustomExcerpt,
		Tree:      tree,
		PlainText: a.Plaintext,
	}

	t, err := r.engine.Rewrite(doc, r.req.Target, r.req.Replacement)
	if err != nil {
		return fail(output.ErrCodeInternal, err).Add(t)
	}
	rec.Matches, rec.Replaced = t.MatchCount, t.ReplacedCount
	rec.Title = doc.Title

	if t.ReplacedCount == 0 {
		rec.Outcome = output.ArticleUnchanged
		_ = r.writer.WriteArticle(ctx, rec)
		return t
	}
	if r.config.DryRun {
		rec.Outcome = output.ArticleDryRun
		_ = r.writer.WriteArticle(ctx, rec)
		return t
	}

	if r.snapshots != nil {
		key, err := r.snapshots.Save(ctx, jobID, r.resource, a)
		if err != nil {
			return fail(output.ErrCodeSnapshot, err).Add(t)
		}
		rec.SnapshotKey = key
	}

	lexical, err := textreplace.EncodeLexical(doc.Tree)
	if err != nil {
		return fail(output.ErrCodeInternal, err).Add(t)
	}

	edited := a
	edited.Title = doc.Title
	edited.CustomExcerpt = doc.Excerpt
	edited.Lexical = lexical
	if _, err := r.store.Edit(ctx, edited); err != nil {
		return fail(errorCode(err), err).Add(t)
	}

	t.ArticleCount = 1
	rec.Outcome = output.ArticleUpdated
	_ = r.writer.WriteArticle(ctx, rec)
	return t
}

func (r *Runner) currentTally() textreplace.Tally {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tally
}

func (r *Runner) summary(pages int, d time.Duration) *Summary {
	return &Summary{
		Tally:    r.currentTally(),
		Articles: r.articles.Load(),
		Skipped:  r.skipped.Load(),
		Pages:    pages,
		Duration: d,
	}
}
