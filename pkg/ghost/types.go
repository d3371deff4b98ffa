// Package ghost is a small client for the Ghost Admin API.
//
// It covers what a bulk text rewrite needs: paginated browse of posts and
// pages, editing a single article, and a site check for connectivity
// checks. Requests are authenticated with short-lived Admin API tokens
// (HS256 JWTs signed with the admin key secret).
package ghost

import "strconv"

// Resource is an Admin API collection.
type Resource string

const (
	ResourcePosts Resource = "posts"
	ResourcePages Resource = "pages"
)

// Valid reports whether r is a supported collection.
func (r Resource) Valid() bool {
	return r == ResourcePosts || r == ResourcePages
}

// Article is a post or page as exchanged with the Admin API. Only the
// fields the rewrite touches or needs for display are modelled.
type Article struct {
	ID            string  `json:"id"`
	UUID          string  `json:"uuid,omitempty"`
	Title         string  `json:"title"`
	Slug          string  `json:"slug,omitempty"`
	Status        string  `json:"status,omitempty"`
	CustomExcerpt *string `json:"custom_excerpt"`
	Lexical       string  `json:"lexical,omitempty"`
	Plaintext     *string `json:"plaintext,omitempty"`
	URL           string  `json:"url,omitempty"`
	UpdatedAt     string  `json:"updated_at,omitempty"`
}

// Pagination mirrors meta.pagination of a browse response.
type Pagination struct {
	Page  int  `json:"page"`
	Limit int  `json:"limit"`
	Pages int  `json:"pages"`
	Total int  `json:"total"`
	Next  *int `json:"next"`
	Prev  *int `json:"prev"`
}

// HasNext reports whether another page follows.
func (p Pagination) HasNext() bool {
	return p.Next != nil
}

// BrowseParams selects one page of a collection.
type BrowseParams struct {
	Page   int
	Limit  int
	Filter string
	Order  string

	// Formats lists the content formats to include. Empty means
	// DefaultFormats.
	Formats []string
}

// DefaultFormats requests the Lexical source plus Ghost's plain-text
// rendering of it.
var DefaultFormats = []string{"lexical", "plaintext"}

// DefaultPageSize is the browse limit used when none is given.
const DefaultPageSize = 30

func (p BrowseParams) page() string {
	if p.Page < 1 {
		return "1"
	}
	return strconv.Itoa(p.Page)
}

func (p BrowseParams) limit() string {
	if p.Limit < 1 {
		return strconv.Itoa(DefaultPageSize)
	}
	return strconv.Itoa(p.Limit)
}

// Page is one browse result.
type Page struct {
	Articles   []Article
	Pagination Pagination
}

// Site is the public summary returned by the site endpoint.
type Site struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Version string `json:"version"`
}
