package match

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/3leaps/texttailor/pkg/ghost"
)

// Filter evaluates whether an article passes filter criteria.
type Filter interface {
	// Match returns true if the article passes the filter.
	Match(a *ghost.Article) bool

	// String returns a human-readable description of the filter.
	String() string
}

// FilterConfig holds filter criteria from a manifest or CLI flags.
type FilterConfig struct {
	// Slugs selects articles by slug globs.
	Slugs *Config `json:"slugs,omitempty" yaml:"slugs,omitempty"`

	// Status lists allowed article statuses (published, draft, scheduled).
	Status []string `json:"status,omitempty" yaml:"status,omitempty"`

	// Updated specifies an updated_at range.
	Updated *DateFilterConfig `json:"updated,omitempty" yaml:"updated,omitempty"`

	// TitleRegex is applied to article titles.
	TitleRegex string `json:"title_regex,omitempty" yaml:"title_regex,omitempty"`
}

// DateFilterConfig specifies date range constraints.
type DateFilterConfig struct {
	// After keeps articles updated at or after this time (inclusive).
	// Supports ISO 8601: "2024-01-15" or "2024-01-15T10:30:00Z".
	After string `json:"after,omitempty" yaml:"after,omitempty"`

	// Before keeps articles updated before this time (exclusive).
	Before string `json:"before,omitempty" yaml:"before,omitempty"`
}

// Filter errors.
var (
	ErrInvalidDate   = errors.New("invalid date value")
	ErrInvalidRegex  = errors.New("invalid regex pattern")
	ErrInvalidStatus = errors.New("invalid status")
)

var knownStatuses = []string{"published", "draft", "scheduled", "sent"}

// SlugFilter adapts a Matcher to Filter.
type SlugFilter struct {
	m *Matcher
}

// Match returns true if the slug is selected.
func (f *SlugFilter) Match(a *ghost.Article) bool {
	return f.m.Match(a.Slug)
}

// String returns a human-readable description.
func (f *SlugFilter) String() string {
	parts := []string{}
	if inc := f.m.IncludePatterns(); len(inc) > 0 {
		parts = append(parts, "include "+strings.Join(inc, ","))
	}
	if exc := f.m.ExcludePatterns(); len(exc) > 0 {
		parts = append(parts, "exclude "+strings.Join(exc, ","))
	}
	return "slug: " + strings.Join(parts, "; ")
}

// StatusFilter keeps articles with one of the given statuses.
type StatusFilter struct {
	statuses []string
}

// NewStatusFilter validates statuses. Returns nil if none are given.
func NewStatusFilter(statuses []string) (*StatusFilter, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	f := &StatusFilter{}
	for _, s := range statuses {
		s = strings.ToLower(strings.TrimSpace(s))
		if !slices.Contains(knownStatuses, s) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, s)
		}
		f.statuses = append(f.statuses, s)
	}
	return f, nil
}

// Match returns true if the article status is allowed.
func (f *StatusFilter) Match(a *ghost.Article) bool {
	return slices.Contains(f.statuses, a.Status)
}

// String returns a human-readable description.
func (f *StatusFilter) String() string {
	return "status: " + strings.Join(f.statuses, ",")
}

// DateFilter filters articles by updated_at range.
type DateFilter struct {
	after  time.Time // zero means no after constraint
	before time.Time // zero means no before constraint
}

// NewDateFilter creates a date filter from config.
// Returns nil if no date constraints are specified.
func NewDateFilter(cfg *DateFilterConfig) (*DateFilter, error) {
	if cfg == nil || (cfg.After == "" && cfg.Before == "") {
		return nil, nil
	}

	f := &DateFilter{}
	if cfg.After != "" {
		t, err := ParseDate(cfg.After)
		if err != nil {
			return nil, fmt.Errorf("after date: %w", err)
		}
		f.after = t
	}
	if cfg.Before != "" {
		t, err := ParseDate(cfg.Before)
		if err != nil {
			return nil, fmt.Errorf("before date: %w", err)
		}
		f.before = t
	}

	if !f.after.IsZero() && !f.before.IsZero() && !f.after.Before(f.before) {
		return nil, fmt.Errorf("%w: after (%s) >= before (%s)", ErrInvalidDate, f.after, f.before)
	}
	return f, nil
}

// Match returns true if the article was updated within range. Articles
// with an unparseable updated_at never match a date filter.
func (f *DateFilter) Match(a *ghost.Article) bool {
	updated, err := ParseDate(a.UpdatedAt)
	if err != nil {
		return false
	}
	if !f.after.IsZero() && updated.Before(f.after) {
		return false
	}
	if !f.before.IsZero() && !updated.Before(f.before) {
		return false
	}
	return true
}

// String returns a human-readable description.
func (f *DateFilter) String() string {
	switch {
	case !f.after.IsZero() && !f.before.IsZero():
		return fmt.Sprintf("updated: %s to %s", f.after.Format("2006-01-02"), f.before.Format("2006-01-02"))
	case !f.after.IsZero():
		return fmt.Sprintf("updated: on/after %s", f.after.Format("2006-01-02"))
	default:
		return fmt.Sprintf("updated: before %s", f.before.Format("2006-01-02"))
	}
}

// RegexFilter filters articles by title.
type RegexFilter struct {
	pattern *regexp.Regexp
	raw     string
}

// NewRegexFilter creates a title regex filter. Returns nil if pattern is empty.
func NewRegexFilter(pattern string) (*RegexFilter, error) {
	if pattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRegex, err)
	}
	return &RegexFilter{pattern: re, raw: pattern}, nil
}

// Match returns true if the title matches.
func (f *RegexFilter) Match(a *ghost.Article) bool {
	return f.pattern.MatchString(a.Title)
}

// String returns a human-readable description.
func (f *RegexFilter) String() string {
	return "title_regex: " + f.raw
}

// CompositeFilter combines filters with AND semantics.
type CompositeFilter struct {
	filters []Filter
}

// NewFilterFromConfig builds a CompositeFilter. Returns nil if nothing is
// configured, and a nil *CompositeFilter matches every article.
func NewFilterFromConfig(cfg *FilterConfig) (*CompositeFilter, error) {
	if cfg == nil {
		return nil, nil
	}

	var filters []Filter

	if cfg.Slugs != nil && !cfg.Slugs.IsZero() {
		m, err := New(*cfg.Slugs)
		if err != nil {
			return nil, err
		}
		filters = append(filters, &SlugFilter{m: m})
	}

	statusFilter, err := NewStatusFilter(cfg.Status)
	if err != nil {
		return nil, err
	}
	if statusFilter != nil {
		filters = append(filters, statusFilter)
	}

	dateFilter, err := NewDateFilter(cfg.Updated)
	if err != nil {
		return nil, err
	}
	if dateFilter != nil {
		filters = append(filters, dateFilter)
	}

	regexFilter, err := NewRegexFilter(cfg.TitleRegex)
	if err != nil {
		return nil, err
	}
	if regexFilter != nil {
		filters = append(filters, regexFilter)
	}

	if len(filters) == 0 {
		return nil, nil
	}
	return &CompositeFilter{filters: filters}, nil
}

// Match returns true if all filters pass.
func (f *CompositeFilter) Match(a *ghost.Article) bool {
	if f == nil {
		return true
	}
	for _, filter := range f.filters {
		if !filter.Match(a) {
			return false
		}
	}
	return true
}

// String returns a human-readable description.
func (f *CompositeFilter) String() string {
	if f == nil || len(f.filters) == 0 {
		return "no filters"
	}
	parts := make([]string, len(f.filters))
	for i, filter := range f.filters {
		parts[i] = filter.String()
	}
	return strings.Join(parts, ", ")
}

// ParseDate parses ISO 8601 dates and Ghost timestamps.
//
// Supported formats:
//   - Date only: "2024-01-15" (start of day UTC)
//   - Datetime: "2024-01-15T10:30:00Z", "2024-01-15T10:30:00.000Z"
//   - Datetime with offset: "2024-01-15T10:30:00+05:00"
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrInvalidDate
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
}
