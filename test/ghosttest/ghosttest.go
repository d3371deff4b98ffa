// Package ghosttest provides an in-memory Ghost Admin API for tests.
//
// The fake serves browse, edit and site endpoints for posts and pages,
// verifies Admin API tokens against AdminKey, and records every edit.
// Failures can be injected per collection (browse) or per article (edit).
//
// Usage:
//
//	func TestRewrite(t *testing.T) {
//	    srv := ghosttest.New(t)
//	    srv.SetArticles(ghost.ResourcePosts, ghosttest.NewArticle("p1", "foo", nil, "the foo is..."))
//	    client, _ := ghost.New(ghost.Config{URL: srv.URL, AdminKey: ghosttest.AdminKey})
//	    // ... test code ...
//	}
package ghosttest

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/3leaps/texttailor/pkg/ghost"
)

const (
	// AdminKeyID is the id half of AdminKey.
	AdminKeyID = "0123456789abcdef01234567"

	// AdminKeySecret is the hex secret half of AdminKey.
	AdminKeySecret = "0123456789abcdef012345670123456789abcdef012345670123456789abcdef"

	// AdminKey is the only key the fake accepts.
	AdminKey = AdminKeyID + ":" + AdminKeySecret
)

// BrowseHook runs before a browse page is served. Returning a non-zero
// status fails the request with it.
type BrowseHook func(r ghost.Resource, page int) int

// Server is a fake Ghost Admin API.
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	articles    map[ghost.Resource][]ghost.Article
	edits       map[ghost.Resource][]ghost.Article
	browses     map[ghost.Resource]int
	browseFail  map[ghost.Resource]int
	editFail    map[string]int
	browseHook  BrowseHook
	lastQueries map[ghost.Resource]map[string]string
}

// New starts a fake server and registers its shutdown with t.
func New(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		articles:    make(map[ghost.Resource][]ghost.Article),
		edits:       make(map[ghost.Resource][]ghost.Article),
		browses:     make(map[ghost.Resource]int),
		browseFail:  make(map[ghost.Resource]int),
		editFail:    make(map[string]int),
		lastQueries: make(map[ghost.Resource]map[string]string),
	}

	r := chi.NewRouter()
	r.Get("/ghost/api/admin/site/", s.handleSite)
	r.Group(func(r chi.Router) {
		r.Use(s.requireToken)
		r.Get("/ghost/api/admin/{resource}/", s.handleBrowse)
		r.Put("/ghost/api/admin/{resource}/{id}/", s.handleEdit)
	})

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// NewArticle builds an article whose Lexical body has one paragraph per
// entry in paragraphs.
func NewArticle(id, title string, excerpt *string, paragraphs ...string) ghost.Article {
	return ghost.Article{
		ID:            id,
		Slug:          id,
		Title:         title,
		CustomExcerpt: excerpt,
		Lexical:       Lexical(paragraphs...),
		UpdatedAt:     "2025-01-01T00:00:00.000Z",
	}
}

// Lexical renders paragraphs as a serialized Lexical document.
func Lexical(paragraphs ...string) string {
	children := make([]map[string]any, 0, len(paragraphs))
	for _, p := range paragraphs {
		children = append(children, map[string]any{
			"type":     "paragraph",
			"version":  1,
			"children": []map[string]any{{"type": "extended-text", "version": 1, "format": 0, "text": p}},
		})
	}
	b, _ := json.Marshal(map[string]any{"root": map[string]any{"type": "root", "version": 1, "children": children}})
	return string(b)
}

// SetArticles replaces the contents of a collection.
func (s *Server) SetArticles(r ghost.Resource, articles ...ghost.Article) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.articles[r] = append([]ghost.Article(nil), articles...)
}

// Article returns the stored version of an article.
func (s *Server) Article(r ghost.Resource, id string) (ghost.Article, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.articles[r] {
		if a.ID == id {
			return a, true
		}
	}
	return ghost.Article{}, false
}

// Edits returns every edit received for a collection, in order.
func (s *Server) Edits(r ghost.Resource) []ghost.Article {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ghost.Article(nil), s.edits[r]...)
}

// Browses returns how many browse requests a collection received.
func (s *Server) Browses(r ghost.Resource) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.browses[r]
}

// LastQuery returns the query parameters of the latest browse.
func (s *Server) LastQuery(r ghost.Resource) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastQueries[r]
}

// FailBrowse makes every browse of r answer with status.
func (s *Server) FailBrowse(r ghost.Resource, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.browseFail[r] = status
}

// FailEdit makes edits of article id answer with status.
func (s *Server) FailEdit(id string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.editFail[id] = status
}

// OnBrowse installs a hook run before each browse page.
func (s *Server) OnBrowse(h BrowseHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.browseHook = h
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	secret, _ := hex.DecodeString(AdminKeySecret)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Ghost ")
		if !ok {
			writeError(w, http.StatusUnauthorized, "UnauthorizedError", "Authorization header format is \"Authorization: Ghost [token]\"")
			return
		}
		token, err := jwt.Parse(raw, func(tok *jwt.Token) (any, error) {
			if kid, _ := tok.Header["kid"].(string); kid != AdminKeyID {
				return nil, fmt.Errorf("unknown kid %q", kid)
			}
			return secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}), jwt.WithAudience("/admin/"), jwt.WithExpirationRequired())
		if err != nil || !token.Valid {
			writeError(w, http.StatusUnauthorized, "UnauthorizedError", "Invalid token")
			return
		}
		if r.Header.Get("Accept-Version") == "" {
			writeError(w, http.StatusBadRequest, "BadRequestError", "Accept-Version header is required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleSite(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"site": ghost.Site{Title: "Fake Ghost", URL: s.URL, Version: "5.0"},
	})
}

func resourceParam(w http.ResponseWriter, r *http.Request) (ghost.Resource, bool) {
	res := ghost.Resource(chi.URLParam(r, "resource"))
	if !res.Valid() {
		writeError(w, http.StatusNotFound, "NotFoundError", "Resource not found")
		return "", false
	}
	return res, true
}

func (s *Server) handleBrowse(w http.ResponseWriter, r *http.Request) {
	res, ok := resourceParam(w, r)
	if !ok {
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 {
		limit = 15
	}

	s.mu.Lock()
	s.browses[res]++
	q := map[string]string{}
	for k := range r.URL.Query() {
		q[k] = r.URL.Query().Get(k)
	}
	s.lastQueries[res] = q
	failStatus := s.browseFail[res]
	hook := s.browseHook
	s.mu.Unlock()

	if hook != nil {
		if status := hook(res, page); status != 0 {
			failStatus = status
		}
	}
	if failStatus != 0 {
		writeError(w, failStatus, "InternalServerError", "browse failed")
		return
	}

	s.mu.Lock()
	all := append([]ghost.Article(nil), s.articles[res]...)
	s.mu.Unlock()

	pages := (len(all) + limit - 1) / limit
	if pages == 0 {
		pages = 1
	}
	start := min((page-1)*limit, len(all))
	end := min(start+limit, len(all))

	var next, prev *int
	if page < pages {
		n := page + 1
		next = &n
	}
	if page > 1 {
		p := page - 1
		prev = &p
	}

	writeJSON(w, http.StatusOK, map[string]any{
		string(res): all[start:end],
		"meta": map[string]any{"pagination": ghost.Pagination{
			Page: page, Limit: limit, Pages: pages, Total: len(all), Next: next, Prev: prev,
		}},
	})
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	res, ok := resourceParam(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	var body map[string][]ghost.Article
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body[string(res)]) != 1 {
		writeError(w, http.StatusUnprocessableEntity, "ValidationError", "Expected one "+string(res)+" entry")
		return
	}
	in := body[string(res)][0]

	s.mu.Lock()
	defer s.mu.Unlock()

	if status := s.editFail[id]; status != 0 {
		errType := "InternalServerError"
		if status == http.StatusConflict {
			errType = "UpdateCollisionError"
		}
		writeError(w, status, errType, "edit failed")
		return
	}

	for i, a := range s.articles[res] {
		if a.ID != id {
			continue
		}
		if in.UpdatedAt != a.UpdatedAt {
			writeError(w, http.StatusConflict, "UpdateCollisionError", "Saving failed! Someone else is editing this post.")
			return
		}
		in.ID = id
		a.Title = in.Title
		a.CustomExcerpt = in.CustomExcerpt
		if in.Lexical != "" {
			a.Lexical = in.Lexical
		}
		a.Plaintext = nil
		a.UpdatedAt = time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
		s.articles[res][i] = a
		s.edits[res] = append(s.edits[res], in)
		writeJSON(w, http.StatusOK, map[string]any{string(res): []ghost.Article{a}})
		return
	}
	writeError(w, http.StatusNotFound, "NotFoundError", "Resource not found")
}

// IDs returns the ids of a collection, sorted.
func (s *Server) IDs(r ghost.Resource) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.articles[r]))
	for _, a := range s.articles[r] {
		ids = append(ids, a.ID)
	}
	sort.Strings(ids)
	return ids
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, map[string]any{
		"errors": []map[string]any{{"message": message, "type": errType}},
	})
}
