// Package snapshot keeps a copy of each article as it was before a rewrite.
//
// Snapshots are JSON records stored under
//
//	<prefix>/<job_id>/<resource>/<article_id>.json
//
// in a Store: a local directory or an S3 (or S3-compatible) bucket.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/3leaps/texttailor/pkg/ghost"
)

// Sentinel errors for store operations.
var (
	// ErrNotFound indicates the snapshot does not exist.
	ErrNotFound = errors.New("snapshot not found")

	// ErrAccessDenied indicates insufficient permissions on the store.
	ErrAccessDenied = errors.New("access denied")

	// ErrUnavailable indicates the store could not be reached.
	ErrUnavailable = errors.New("snapshot store unavailable")
)

// Backend names a Store implementation.
type Backend string

const (
	BackendNone Backend = "none"
	BackendFile Backend = "file"
	BackendS3   Backend = "s3"
)

// Store persists opaque snapshot blobs by key. Implementations must be
// safe for concurrent use.
type Store interface {
	Put(ctx context.Context, key string, body []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// StoreError wraps store-specific errors with context.
type StoreError struct {
	Op      string
	Backend Backend
	Key     string
	Err     error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s snapshot %s: %s: %v", e.Backend, e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("%s snapshot %s: %v", e.Backend, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsNotFound returns true if the error indicates a missing snapshot.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Record is one stored snapshot.
type Record struct {
	JobID    string         `json:"job_id"`
	Resource ghost.Resource `json:"resource"`
	TakenAt  time.Time      `json:"taken_at"`
	Article  ghost.Article  `json:"article"`
}

// Snapshotter writes and reads Records through a Store.
type Snapshotter struct {
	store  Store
	prefix string
	now    func() time.Time
}

// New creates a Snapshotter. prefix is prepended to every key.
func New(store Store, prefix string) *Snapshotter {
	return &Snapshotter{
		store:  store,
		prefix: strings.Trim(prefix, "/"),
		now:    time.Now,
	}
}

// Key returns the storage key for an article of a job.
func (s *Snapshotter) Key(jobID string, resource ghost.Resource, articleID string) string {
	return path.Join(s.JobPrefix(jobID), string(resource), articleID+".json")
}

// JobPrefix returns the key prefix holding every snapshot of a job.
func (s *Snapshotter) JobPrefix(jobID string) string {
	if s.prefix == "" {
		return jobID
	}
	return path.Join(s.prefix, jobID)
}

// Save stores the article as it is now and returns its key.
func (s *Snapshotter) Save(ctx context.Context, jobID string, resource ghost.Resource, a ghost.Article) (string, error) {
	rec := Record{
		JobID:    jobID,
		Resource: resource,
		TakenAt:  s.now().UTC(),
		Article:  a,
	}
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	b = append(b, '\n')

	key := s.Key(jobID, resource, a.ID)
	if err := s.store.Put(ctx, key, b); err != nil {
		return "", err
	}
	return key, nil
}

// Load reads a snapshot by key.
func (s *Snapshotter) Load(ctx context.Context, key string) (*Record, error) {
	b, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("parse snapshot %s: %w", key, err)
	}
	return &rec, nil
}

// ListJob returns the keys of every snapshot taken by a job, sorted.
func (s *Snapshotter) ListJob(ctx context.Context, jobID string) ([]string, error) {
	return s.store.List(ctx, s.JobPrefix(jobID)+"/")
}

// Close releases the underlying store.
func (s *Snapshotter) Close() error {
	return s.store.Close()
}
