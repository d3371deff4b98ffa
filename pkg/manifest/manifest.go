// Package manifest provides loading and validation of texttailor rules
// manifests.
//
// A rules manifest is a YAML or JSON file that describes a batch of text
// replacements against one Ghost site: the connection, the collections to
// rewrite, the rules (applied in order, one job per rule and collection),
// article selection, run behavior, snapshots and output.
//
// Manifests are validated against a JSON Schema before execution. The
// schema enforces strict typing and disallows unknown properties.
//
// Example manifest (YAML):
//
//	version: "1.0"
//	connection:
//	  url: https://demo.ghost.io
//	  admin_key_env: GHOST_ADMIN_KEY
//	resources: [posts, pages]
//	rules:
//	  - find: "Acme Corp"
//	    replace: "Acme Inc."
//	  - find: "http://old.example.com"
//	    replace: "https://example.com"
//	    filter: "tag:archive"
//	match:
//	  slugs:
//	    exclude: ["legal-*"]
//	run:
//	  concurrency: 4
//	snapshot:
//	  backend: file
//	  dir: ./snapshots
package manifest

import (
	"fmt"
	"os"
	"strings"

	"github.com/3leaps/texttailor/pkg/contentjob"
	"github.com/3leaps/texttailor/pkg/ghost"
	"github.com/3leaps/texttailor/pkg/match"
	"github.com/3leaps/texttailor/pkg/snapshot"
)

// Manifest represents a validated rules manifest.
type Manifest struct {
	// Schema is an optional JSON Schema reference for editor support.
	// Example: "https://schemas.3leaps.dev/texttailor/v1.0.0/rules-manifest.schema.json"
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// Version is the manifest schema version. Must be "1.0".
	Version string `json:"version" yaml:"version"`

	// Connection configures the Ghost site.
	Connection ConnectionConfig `json:"connection" yaml:"connection"`

	// Resources lists the collections to rewrite. Default: posts, pages.
	Resources []string `json:"resources,omitempty" yaml:"resources,omitempty"`

	// Rules are the replacements, applied in order.
	Rules []Rule `json:"rules" yaml:"rules"`

	// Match narrows which articles are rewritten (optional).
	Match *match.FilterConfig `json:"match,omitempty" yaml:"match,omitempty"`

	// Run configures run behavior (optional).
	Run RunConfig `json:"run,omitempty" yaml:"run,omitempty"`

	// Snapshot configures pre-edit snapshots (optional).
	Snapshot SnapshotConfig `json:"snapshot,omitempty" yaml:"snapshot,omitempty"`

	// Output configures output destination (optional).
	Output OutputConfig `json:"output,omitempty" yaml:"output,omitempty"`
}

// ConnectionConfig configures the Ghost site connection.
type ConnectionConfig struct {
	// URL is the site's admin URL.
	URL string `json:"url" yaml:"url"`

	// AdminKey is the Admin API key. Prefer AdminKeyEnv so the key stays
	// out of the manifest.
	AdminKey string `json:"admin_key,omitempty" yaml:"admin_key,omitempty"`

	// AdminKeyEnv names an environment variable holding the Admin API key.
	AdminKeyEnv string `json:"admin_key_env,omitempty" yaml:"admin_key_env,omitempty"`

	// APIVersion is sent as Accept-Version. Default: ghost.DefaultAPIVersion.
	APIVersion string `json:"api_version,omitempty" yaml:"api_version,omitempty"`
}

// ResolveAdminKey returns AdminKey, or the value of AdminKeyEnv.
func (c ConnectionConfig) ResolveAdminKey() (string, error) {
	if c.AdminKey != "" {
		return c.AdminKey, nil
	}
	if c.AdminKeyEnv != "" {
		if v := strings.TrimSpace(os.Getenv(c.AdminKeyEnv)); v != "" {
			return v, nil
		}
		return "", fmt.Errorf("environment variable %s is not set", c.AdminKeyEnv)
	}
	return "", fmt.Errorf("connection requires admin_key or admin_key_env")
}

// Rule is one replacement.
type Rule struct {
	// Find is the text to search for.
	Find string `json:"find" yaml:"find"`

	// Replace is substituted for every occurrence. May be empty.
	Replace string `json:"replace,omitempty" yaml:"replace,omitempty"`

	// Filter is an optional Ghost NQL filter for this rule.
	Filter string `json:"filter,omitempty" yaml:"filter,omitempty"`
}

// Request converts the rule to a contentjob request.
func (r Rule) Request() contentjob.Request {
	return contentjob.Request{Target: r.Find, Replacement: r.Replace, Filter: r.Filter}
}

// RunConfig configures run behavior.
type RunConfig struct {
	// Concurrency is the number of articles rewritten in parallel per page.
	// Range: 1-32. Default: 4.
	Concurrency int `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`

	// PageSize is the browse limit. Range: 1-100. Default: 30.
	PageSize int `json:"page_size,omitempty" yaml:"page_size,omitempty"`

	// RateLimit is the maximum Ghost requests per second (0 = unlimited).
	RateLimit float64 `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`

	// DryRun reports what would change without editing.
	DryRun bool `json:"dry_run,omitempty" yaml:"dry_run,omitempty"`
}

// JobConfig converts the run section to a contentjob configuration.
func (r RunConfig) JobConfig() contentjob.Config {
	cfg := contentjob.DefaultConfig()
	if r.Concurrency > 0 {
		cfg.Concurrency = r.Concurrency
	}
	if r.PageSize > 0 {
		cfg.PageSize = r.PageSize
	}
	cfg.DryRun = r.DryRun
	return cfg
}

// SnapshotConfig configures pre-edit snapshots.
type SnapshotConfig struct {
	Backend  string `json:"backend,omitempty" yaml:"backend,omitempty"`
	Dir      string `json:"dir,omitempty" yaml:"dir,omitempty"`
	Prefix   string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Bucket   string `json:"bucket,omitempty" yaml:"bucket,omitempty"`
	Region   string `json:"region,omitempty" yaml:"region,omitempty"`
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Profile  string `json:"profile,omitempty" yaml:"profile,omitempty"`
}

// StoreConfig converts the section to a snapshot configuration.
func (s SnapshotConfig) StoreConfig() snapshot.Config {
	return snapshot.Config{
		Backend: snapshot.Backend(s.Backend),
		Dir:     s.Dir,
		Prefix:  s.Prefix,
		S3: snapshot.S3Config{
			Bucket:   s.Bucket,
			Region:   s.Region,
			Endpoint: s.Endpoint,
			Profile:  s.Profile,
		},
	}
}

// OutputConfig configures output destination.
type OutputConfig struct {
	// Destination is the output target.
	// Values: "stdout" or "file:/path/to/output.jsonl"
	// Default: "stdout".
	Destination string `json:"destination,omitempty" yaml:"destination,omitempty"`

	// Progress enables progress record emission.
	// Default: true.
	Progress *bool `json:"progress,omitempty" yaml:"progress,omitempty"`
}

// Default values for optional configuration fields.
const (
	// DefaultVersion is the current manifest schema version.
	DefaultVersion = "1.0"

	// DefaultDestination is the default output destination.
	DefaultDestination = "stdout"

	// DefaultProgress is the default value for progress emission.
	DefaultProgress = true

	// DefaultSnapshotBackend disables snapshots.
	DefaultSnapshotBackend = "none"
)

// ApplyDefaults fills in default values for optional fields.
func (m *Manifest) ApplyDefaults() {
	if len(m.Resources) == 0 {
		for _, r := range contentjob.DefaultResources {
			m.Resources = append(m.Resources, string(r))
		}
	}
	if m.Connection.APIVersion == "" {
		m.Connection.APIVersion = ghost.DefaultAPIVersion
	}

	def := contentjob.DefaultConfig()
	if m.Run.Concurrency == 0 {
		m.Run.Concurrency = def.Concurrency
	}
	if m.Run.PageSize == 0 {
		m.Run.PageSize = def.PageSize
	}
	// RateLimit: 0 is a valid value (unlimited), so no default needed

	if m.Snapshot.Backend == "" {
		m.Snapshot.Backend = DefaultSnapshotBackend
	}

	if m.Output.Destination == "" {
		m.Output.Destination = DefaultDestination
	}
	if m.Output.Progress == nil {
		defaultProgress := DefaultProgress
		m.Output.Progress = &defaultProgress
	}
}

// GhostResources returns Resources as ghost.Resource values.
func (m *Manifest) GhostResources() []ghost.Resource {
	out := make([]ghost.Resource, 0, len(m.Resources))
	for _, r := range m.Resources {
		out = append(out, ghost.Resource(r))
	}
	return out
}

// ProgressEnabled returns whether progress records should be emitted.
// Returns the configured value, or DefaultProgress if not set.
func (o *OutputConfig) ProgressEnabled() bool {
	if o.Progress == nil {
		return DefaultProgress
	}
	return *o.Progress
}

// Filter compiles the match section. Returns nil when nothing is configured.
func (m *Manifest) Filter() (*match.CompositeFilter, error) {
	return match.NewFilterFromConfig(m.Match)
}
