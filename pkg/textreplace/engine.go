package textreplace

import (
	"strings"
)

// Document is the mutable view of one article handed to the Engine.
type Document struct {
	Title   string
	Excerpt *string

	// Tree is a decoded Lexical document (see DecodeLexical).
	Tree any

	// PlainText is the content store's own plain-text rendering of Tree.
	// When set it replaces FlattenText(Tree) in the match count.
	PlainText *string
}

// Projection returns the text a reader would see: title, excerpt and body
// joined by newlines. Matches are counted against this string.
func (d *Document) Projection() string {
	parts := make([]string, 0, 3)
	parts = append(parts, d.Title)
	if d.Excerpt != nil {
		parts = append(parts, *d.Excerpt)
	}
	if d.PlainText != nil {
		parts = append(parts, *d.PlainText)
	} else if d.Tree != nil {
		parts = append(parts, FlattenText(d.Tree))
	}
	return strings.Join(parts, "\n")
}

// Engine rewrites documents. The zero value is ready to use.
type Engine struct {
	// Key is the tree key whose string values are rewritten. Defaults to "text".
	Key string

	// MaxDepth bounds the tree walk. Defaults to DefaultMaxDepth.
	MaxDepth int
}

// Rewrite replaces every occurrence of target in doc, in place.
//
// MatchCount comes from the plain-text projection, ReplacedCount from the
// replacements actually made. The two differ when a match spans several
// text leaves (a phrase split across formatting runs); such a match is
// counted but cannot be replaced leaf by leaf.
//
// A document with no match is left untouched and the tree is not walked.
// ArticleCount and ErrorCount are set by the caller once it knows whether
// the rewritten document was persisted.
func (e *Engine) Rewrite(doc *Document, target, replacement string) (Tally, error) {
	var tally Tally
	if doc == nil || target == "" {
		return tally, nil
	}

	tally.MatchCount = CountMatches(doc.Projection(), target)
	if tally.MatchCount == 0 {
		return tally, nil
	}

	key := e.Key
	if key == "" {
		key = KeyText
	}

	r := NewReplacer()
	if doc.Tree != nil {
		err := MutateByKeyDepth(doc.Tree, key, func(v any) any {
			s, ok := v.(string)
			if !ok {
				return v
			}
			return r.ReplaceString(s, target, replacement)
		}, e.MaxDepth)
		if err != nil {
			tally.ReplacedCount = r.Count()
			return tally, err
		}
	}
	doc.Title = r.ReplaceString(doc.Title, target, replacement)
	doc.Excerpt = r.Replace(doc.Excerpt, target, replacement)

	tally.ReplacedCount = r.Count()
	return tally, nil
}
