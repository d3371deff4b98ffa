// Package match selects which articles a rewrite touches.
//
// A Matcher evaluates slug globs (doublestar syntax); Filters narrow the
// selection further by status, update time or title.
package match

import (
	"errors"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Matcher evaluates glob patterns against article slugs.
//
// A slug matches when it matches at least one include pattern (or no
// includes are configured) and no exclude pattern. The Matcher is safe for
// concurrent use after creation.
type Matcher struct {
	includes []string
	excludes []string
}

// Config configures a Matcher.
type Config struct {
	// Includes are slug globs of which at least one must match.
	// Empty matches every slug.
	Includes []string `json:"include,omitempty" yaml:"include,omitempty"`

	// Excludes are slug globs of which none may match.
	Excludes []string `json:"exclude,omitempty" yaml:"exclude,omitempty"`
}

// IsZero reports whether the config selects every slug.
func (c Config) IsZero() bool {
	return len(c.Includes) == 0 && len(c.Excludes) == 0
}

// ErrInvalidPattern is returned when a pattern cannot be compiled.
var ErrInvalidPattern = errors.New("invalid glob pattern")

// PatternError wraps pattern-related errors with context.
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return "pattern " + e.Pattern + ": " + e.Err.Error()
}

func (e *PatternError) Unwrap() error {
	return e.Err
}

// New validates the patterns and returns a Matcher.
func New(cfg Config) (*Matcher, error) {
	includes, err := compile(cfg.Includes)
	if err != nil {
		return nil, err
	}
	excludes, err := compile(cfg.Excludes)
	if err != nil {
		return nil, err
	}
	return &Matcher{includes: includes, excludes: excludes}, nil
}

func compile(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !doublestar.ValidatePattern(p) {
			return nil, &PatternError{Pattern: p, Err: ErrInvalidPattern}
		}
		out = append(out, p)
	}
	return out, nil
}

// Match reports whether slug is selected.
func (m *Matcher) Match(slug string) bool {
	if m == nil {
		return true
	}
	if len(m.includes) > 0 && !matchAny(m.includes, slug) {
		return false
	}
	return !matchAny(m.excludes, slug)
}

func matchAny(patterns []string, slug string) bool {
	for _, p := range patterns {
		// Patterns are validated in New, so Match cannot fail here.
		if ok, _ := doublestar.Match(p, slug); ok {
			return true
		}
	}
	return false
}

// IncludePatterns returns the include patterns.
func (m *Matcher) IncludePatterns() []string {
	return append([]string(nil), m.includes...)
}

// ExcludePatterns returns the exclude patterns.
func (m *Matcher) ExcludePatterns() []string {
	return append([]string(nil), m.excludes...)
}
