package contentjob

import (
	"context"
	"errors"
	"strings"

	"github.com/3leaps/texttailor/pkg/ghost"
	"github.com/3leaps/texttailor/pkg/output"
)

// Store is the content store a Runner reads from and writes to. It is
// scoped to one collection; *ghost.ResourceClient satisfies it.
type Store interface {
	// Browse returns one page of articles. Pagination.Next is nil on the
	// last page.
	Browse(ctx context.Context, params ghost.BrowseParams) (*ghost.Page, error)

	// Edit persists an article and returns the stored version.
	Edit(ctx context.Context, a ghost.Article) (*ghost.Article, error)
}

var _ Store = (*ghost.ResourceClient)(nil)

// Request describes one replacement.
type Request struct {
	// Target is the text to search for. Required.
	Target string `json:"textToReplace" yaml:"find"`

	// Replacement is substituted for every occurrence of Target. May be empty.
	Replacement string `json:"replacementText" yaml:"replace"`

	// Filter is an optional Ghost NQL filter applied to browse.
	Filter string `json:"filter,omitempty" yaml:"filter,omitempty"`
}

// ErrEmptyTarget is returned when a request has no text to replace.
var ErrEmptyTarget = errors.New("text to replace is required")

// Validate checks the request.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Target) == "" {
		return ErrEmptyTarget
	}
	return nil
}

// errorCode classifies an edit or snapshot failure for output records.
func errorCode(err error) string {
	switch {
	case ghost.IsConflict(err):
		return output.ErrCodeConflict
	case ghost.IsNotFound(err):
		return output.ErrCodeNotFound
	case ghost.IsUnauthorized(err):
		return output.ErrCodeUnauthorized
	case ghost.IsThrottled(err):
		return output.ErrCodeThrottled
	default:
		return output.ErrCodeInternal
	}
}
