// Package textreplace rewrites text inside Ghost articles.
//
// The package has three layers:
//   - Replacer: substring replacement with a running count of replacements
//   - MutateByKey: in-place rewrite of every value under a key in a decoded
//     JSON tree (maps and slices of arbitrary depth)
//   - Engine: composes both to rewrite an article's title, excerpt and
//     Lexical tree, returning a per-document Tally
package textreplace

import "strings"

// Replacer replaces substrings and counts every replacement it makes.
//
// One Replacer is shared across all strings of a document (title, excerpt
// and every Lexical text leaf) so Count reports the document total.
// A Replacer is not safe for concurrent use.
type Replacer struct {
	count int
}

// NewReplacer returns a Replacer with a zero count.
func NewReplacer() *Replacer {
	return &Replacer{}
}

// Replace returns a copy of *s with every non-overlapping occurrence of
// target replaced by replacement. A nil s yields nil and leaves the count
// untouched.
func (r *Replacer) Replace(s *string, target, replacement string) *string {
	if s == nil {
		return nil
	}
	out := r.ReplaceString(*s, target, replacement)
	return &out
}

// ReplaceString is Replace for plain strings.
func (r *Replacer) ReplaceString(s, target, replacement string) string {
	if target == "" || s == "" {
		return s
	}
	n := strings.Count(s, target)
	if n == 0 {
		return s
	}
	r.count += n
	return strings.ReplaceAll(s, target, replacement)
}

// Count returns the number of replacements made since creation or the last Reset.
func (r *Replacer) Count() int {
	return r.count
}

// Reset clears the running count.
func (r *Replacer) Reset() {
	r.count = 0
}

// CountMatches counts non-overlapping occurrences of target in text.
// An empty target never matches.
func CountMatches(text, target string) int {
	if target == "" {
		return 0
	}
	return strings.Count(text, target)
}
