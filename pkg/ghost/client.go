package ghost

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultAPIVersion is sent as Accept-Version.
const DefaultAPIVersion = "v5.0"

// DefaultTimeout bounds a single HTTP request.
const DefaultTimeout = 30 * time.Second

const adminPath = "/ghost/api/admin/"

// Config configures a Client.
type Config struct {
	// URL is the site's admin URL (e.g., https://example.ghost.io). Required.
	URL string

	// AdminKey is the "<id>:<hex secret>" Admin API key. Required.
	AdminKey string

	// APIVersion is sent as Accept-Version. Default: v5.0
	APIVersion string

	// Timeout bounds each request. Ignored when HTTPClient is set.
	// Default: 30s
	Timeout time.Duration

	// RateLimit is the maximum requests per second. Zero means unlimited.
	RateLimit float64

	// UserAgent is sent with every request when set.
	UserAgent string

	// HTTPClient overrides the transport, mostly for tests.
	HTTPClient *http.Client

	// Logger receives request-level debug logs. Default: no-op.
	Logger *zap.Logger
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return &ConfigError{Field: "URL", Message: "admin URL is required"}
	}
	u, err := url.Parse(strings.TrimSpace(c.URL))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return &ConfigError{Field: "URL", Message: "must be an absolute http(s) URL"}
	}
	if strings.TrimSpace(c.AdminKey) == "" {
		return &ConfigError{Field: "AdminKey", Message: "admin key is required"}
	}
	if c.RateLimit < 0 {
		return &ConfigError{Field: "RateLimit", Message: "must not be negative"}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "ghost config: " + e.Field + ": " + e.Message
}

// Client talks to one Ghost site. It is safe for concurrent use.
type Client struct {
	base       *url.URL
	apiVersion string
	userAgent  string
	http       *http.Client
	tokens     *tokenSource
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// New creates a client. The admin key is parsed up front so a malformed key
// fails here rather than on the first request.
func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	key, err := ParseAdminKey(cfg.AdminKey)
	if err != nil {
		return nil, err
	}

	base, _ := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.URL), "/"))

	c := &Client{
		base:       base,
		apiVersion: cfg.APIVersion,
		userAgent:  cfg.UserAgent,
		http:       cfg.HTTPClient,
		tokens:     newTokenSource(key),
		logger:     cfg.Logger,
	}
	if c.apiVersion == "" {
		c.apiVersion = DefaultAPIVersion
	}
	if c.http == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		c.http = &http.Client{Timeout: timeout}
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return c, nil
}

// BaseURL returns the site URL the client targets.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Browse fetches one page of a collection.
func (c *Client) Browse(ctx context.Context, resource Resource, params BrowseParams) (*Page, error) {
	if !resource.Valid() {
		return nil, &APIError{Op: "Browse", Resource: resource, Err: ErrValidation, Message: "unsupported resource"}
	}

	q := url.Values{}
	q.Set("page", params.page())
	q.Set("limit", params.limit())
	formats := params.Formats
	if len(formats) == 0 {
		formats = DefaultFormats
	}
	q.Set("formats", strings.Join(formats, ","))
	if params.Filter != "" {
		q.Set("filter", params.Filter)
	}
	if params.Order != "" {
		q.Set("order", params.Order)
	}

	raw := map[string]json.RawMessage{}
	if err := c.do(ctx, "Browse", resource, "", http.MethodGet, string(resource)+"/", q, nil, &raw); err != nil {
		return nil, err
	}

	page := &Page{}
	if body, ok := raw[string(resource)]; ok {
		if err := json.Unmarshal(body, &page.Articles); err != nil {
			return nil, decodeError("Browse", resource, "", err)
		}
	}
	if body, ok := raw["meta"]; ok {
		var meta struct {
			Pagination Pagination `json:"pagination"`
		}
		if err := json.Unmarshal(body, &meta); err != nil {
			return nil, decodeError("Browse", resource, "", err)
		}
		page.Pagination = meta.Pagination
	}
	return page, nil
}

// editable is the subset of fields sent on edit. Ghost uses updated_at to
// detect concurrent modification.
type editable struct {
	Title         string  `json:"title"`
	CustomExcerpt *string `json:"custom_excerpt"`
	Lexical       string  `json:"lexical,omitempty"`
	UpdatedAt     string  `json:"updated_at"`
}

// Edit persists title, excerpt and Lexical content of an article and
// returns the stored version.
func (c *Client) Edit(ctx context.Context, resource Resource, a Article) (*Article, error) {
	if !resource.Valid() {
		return nil, &APIError{Op: "Edit", Resource: resource, ID: a.ID, Err: ErrValidation, Message: "unsupported resource"}
	}
	if a.ID == "" {
		return nil, &APIError{Op: "Edit", Resource: resource, Err: ErrValidation, Message: "article id is required"}
	}

	body := map[string][]editable{
		string(resource): {{
			Title:         a.Title,
			CustomExcerpt: a.CustomExcerpt,
			Lexical:       a.Lexical,
			UpdatedAt:     a.UpdatedAt,
		}},
	}

	var out map[string][]Article
	path := string(resource) + "/" + url.PathEscape(a.ID) + "/"
	if err := c.do(ctx, "Edit", resource, a.ID, http.MethodPut, path, nil, body, &out); err != nil {
		return nil, err
	}
	saved := out[string(resource)]
	if len(saved) == 0 {
		return nil, &APIError{Op: "Edit", Resource: resource, ID: a.ID, Err: ErrUnavailable, Message: "empty response"}
	}
	return &saved[0], nil
}

// Site fetches the site summary. The endpoint needs no token, so a
// successful call proves reachability only.
func (c *Client) Site(ctx context.Context) (*Site, error) {
	var out struct {
		Site Site `json:"site"`
	}
	if err := c.do(ctx, "Site", "", "", http.MethodGet, "site/", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out.Site, nil
}

// Resource binds the client to one collection.
func (c *Client) Resource(r Resource) *ResourceClient {
	return &ResourceClient{client: c, resource: r}
}

// ResourceClient is a Client bound to posts or pages.
type ResourceClient struct {
	client   *Client
	resource Resource
}

// Name returns the bound collection.
func (rc *ResourceClient) Name() Resource {
	return rc.resource
}

// Browse fetches one page of the bound collection.
func (rc *ResourceClient) Browse(ctx context.Context, params BrowseParams) (*Page, error) {
	return rc.client.Browse(ctx, rc.resource, params)
}

// Edit persists an article of the bound collection.
func (rc *ResourceClient) Edit(ctx context.Context, a Article) (*Article, error) {
	return rc.client.Edit(ctx, rc.resource, a)
}

func (c *Client) do(ctx context.Context, op string, resource Resource, id, method, path string, query url.Values, in, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + adminPath + path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("ghost %s: encode request: %w", op, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("ghost %s: build request: %w", op, err)
	}
	token, err := c.tokens.Token()
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Ghost "+token)
	req.Header.Set("Accept-Version", c.apiVersion)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &APIError{Op: op, Resource: resource, ID: id, Err: ErrUnavailable, Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	c.logger.Debug("Ghost request",
		zap.String("method", method),
		zap.String("path", u.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return responseError(op, resource, id, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return decodeError(op, resource, id, err)
	}
	return nil
}

// errorBody is Ghost's error envelope.
type errorBody struct {
	Errors []struct {
		Message string `json:"message"`
		Context string `json:"context"`
		Type    string `json:"type"`
	} `json:"errors"`
}

func responseError(op string, resource Resource, id string, resp *http.Response) error {
	apiErr := &APIError{Op: op, Resource: resource, ID: id, Status: resp.StatusCode}

	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var eb errorBody
	if json.Unmarshal(b, &eb) == nil && len(eb.Errors) > 0 {
		first := eb.Errors[0]
		apiErr.Type = first.Type
		apiErr.Message = first.Message
		if first.Context != "" {
			apiErr.Message += " (" + first.Context + ")"
		}
	} else if text := strings.TrimSpace(string(b)); text != "" && len(text) < 512 {
		apiErr.Message = text
	}
	apiErr.Err = sentinelForStatus(resp.StatusCode, apiErr.Type)
	return apiErr
}

func decodeError(op string, resource Resource, id string, err error) error {
	var syntaxErr *json.SyntaxError
	msg := "decode response: " + err.Error()
	if errors.As(err, &syntaxErr) {
		msg = fmt.Sprintf("decode response: invalid JSON at offset %d", syntaxErr.Offset)
	}
	return &APIError{Op: op, Resource: resource, ID: id, Err: ErrUnavailable, Message: msg}
}
