// Package output provides JSONL output for rewrite jobs.
//
// Output is structured as typed record envelopes containing per-article
// results, errors, progress updates and summaries. Each line is a
// self-contained JSON object that can be parsed independently.
package output

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/3leaps/texttailor/pkg/textreplace"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: texttailor.<type>.v<version>
const (
	// TypeArticle identifies per-article result records.
	TypeArticle = "texttailor.article.v1"

	// TypeError identifies error records.
	TypeError = "texttailor.error.v1"

	// TypeProgress identifies progress update records.
	TypeProgress = "texttailor.progress.v1"

	// TypeSummary identifies final summary records.
	TypeSummary = "texttailor.summary.v1"

	// TypeEvent identifies job lifecycle events.
	TypeEvent = "texttailor.event.v1"
)

// Record is the envelope for all JSONL output.
//
// Each line of JSONL output contains a Record with a type-specific
// payload in the Data field. The type field determines how to
// interpret the Data payload.
type Record struct {
	// Type identifies the record type (e.g., "texttailor.article.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// JobID is the correlation ID for this job.
	JobID string `json:"job_id"`

	// Resource is the Ghost collection the job rewrites (posts, pages).
	Resource string `json:"resource"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// Article outcomes.
const (
	ArticleUpdated   = "updated"
	ArticleUnchanged = "unchanged"
	ArticleSkipped   = "skipped"
	ArticleFailed    = "failed"
	ArticleDryRun    = "dry_run"
)

// ArticleRecord is the data payload for one processed article.
type ArticleRecord struct {
	// ID is the Ghost object id.
	ID string `json:"id"`

	// Slug is the article slug.
	Slug string `json:"slug,omitempty"`

	// Title is the article title after the rewrite.
	Title string `json:"title,omitempty"`

	// Outcome is one of the Article* constants.
	Outcome string `json:"outcome"`

	// Matches is the number of occurrences found in the plain-text projection.
	Matches int `json:"matches"`

	// Replaced is the number of replacements made in the stored content.
	Replaced int `json:"replaced"`

	// SnapshotKey locates the pre-edit snapshot, if one was taken.
	SnapshotKey string `json:"snapshot_key,omitempty"`
}

// ErrorRecord is the data payload for errors.
//
// Errors are emitted as records rather than failing the entire job,
// allowing partial results when some edits fail.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// ArticleID is the article related to this error, if applicable.
	ArticleID string `json:"article_id,omitempty"`

	// Page is the browse page being processed when the error occurred.
	Page int `json:"page,omitempty"`

	// Details contains additional error context.
	Details any `json:"details,omitempty"`
}

// Error codes for ErrorRecord.
const (
	// ErrCodeUnauthorized indicates the admin key was rejected.
	ErrCodeUnauthorized = "UNAUTHORIZED"

	// ErrCodeNotFound indicates the article no longer exists.
	ErrCodeNotFound = "NOT_FOUND"

	// ErrCodeConflict indicates the article changed since it was read.
	ErrCodeConflict = "CONFLICT"

	// ErrCodeThrottled indicates rate limiting.
	ErrCodeThrottled = "THROTTLED"

	// ErrCodeSnapshot indicates the pre-edit snapshot could not be stored.
	ErrCodeSnapshot = "SNAPSHOT_FAILED"

	// ErrCodeInternal indicates an unexpected internal error.
	ErrCodeInternal = "INTERNAL"
)

// ProgressRecord is the data payload for progress updates.
type ProgressRecord struct {
	// Phase indicates the current job phase.
	Phase string `json:"phase"`

	// Page is the last browse page processed.
	Page int `json:"page"`

	// Pages is the total page count reported by Ghost.
	Pages int `json:"pages"`

	// Percent is the job progress (0-100).
	Percent int `json:"percent"`

	// Tally is the running total so far.
	Tally textreplace.Tally `json:"tally"`
}

// Progress phase constants.
const (
	// PhaseStarting indicates the job is initializing.
	PhaseStarting = "starting"

	// PhaseRewriting indicates pages are being processed.
	PhaseRewriting = "rewriting"

	// PhaseComplete indicates the job has finished.
	PhaseComplete = "complete"
)

// SummaryRecord is the data payload for final summaries.
type SummaryRecord struct {
	textreplace.Summary

	// Target is the text that was searched for.
	Target string `json:"target"`

	// Replacement is the text it was replaced with.
	Replacement string `json:"replacement"`

	// Articles is the number of articles browsed.
	Articles int64 `json:"articles"`

	// Pages is the number of pages browsed.
	Pages int `json:"pages"`

	// Duration is the total job duration.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`
}

// EventRecord is the data payload for job lifecycle events observed
// through the registry.
type EventRecord struct {
	Event    string `json:"event"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Message  string `json:"message,omitempty"`
	Stats    any    `json:"stats,omitempty"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
