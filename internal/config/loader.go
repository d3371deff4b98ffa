package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// AppName is the binary and config name.
const AppName = "texttailor"

// AppIdentity names the application for config discovery and env mapping.
type AppIdentity struct {
	BinaryName string
	EnvPrefix  string
	ConfigName string
}

// DefaultIdentity is the identity Load installs when none is set.
var DefaultIdentity = AppIdentity{
	BinaryName: AppName,
	EnvPrefix:  "TEXTTAILOR_",
	ConfigName: AppName,
}

var (
	configMu     sync.RWMutex
	appIdentity  *AppIdentity
	appConfig    *Config
	explicitFile string
)

// SetConfigFile makes Load read path instead of searching for a config
// file. An empty path restores the search.
func SetConfigFile(path string) {
	configMu.Lock()
	explicitFile = path
	configMu.Unlock()
}

// EnvSpec maps one environment variable to a config path.
type EnvSpec struct {
	Name string
	Path []string
}

// Key returns the dotted viper key of the spec.
func (s EnvSpec) Key() string {
	return strings.Join(s.Path, ".")
}

var envBindings = []struct {
	suffix string
	path   []string
}{
	{"HOST", []string{"server", "host"}},
	{"PORT", []string{"server", "port"}},
	{"READ_TIMEOUT", []string{"server", "read_timeout"}},
	{"WRITE_TIMEOUT", []string{"server", "write_timeout"}},
	{"IDLE_TIMEOUT", []string{"server", "idle_timeout"}},
	{"SHUTDOWN_TIMEOUT", []string{"server", "shutdown_timeout"}},
	{"CORS_ORIGINS", []string{"server", "cors_origins"}},
	{"LOG_LEVEL", []string{"logging", "level"}},
	{"LOG_PROFILE", []string{"logging", "profile"}},
	{"LOG_FILE", []string{"logging", "file", "path"}},
	{"JOB_CLEANUP_DELAY", []string{"jobs", "cleanup_delay"}},
	{"JOB_SUBSCRIBER_BUFFER", []string{"jobs", "subscriber_buffer"}},
	{"JOB_HEARTBEAT_INTERVAL", []string{"jobs", "heartbeat_interval"}},
	{"GHOST_API_VERSION", []string{"ghost", "api_version"}},
	{"GHOST_PAGE_SIZE", []string{"ghost", "page_size"}},
	{"GHOST_RATE_LIMIT", []string{"ghost", "rate_limit"}},
	{"GHOST_CONCURRENCY", []string{"ghost", "concurrency"}},
	{"GHOST_TIMEOUT", []string{"ghost", "timeout"}},
	{"SNAPSHOT_BACKEND", []string{"snapshot", "backend"}},
	{"SNAPSHOT_DIR", []string{"snapshot", "dir"}},
	{"SNAPSHOT_PREFIX", []string{"snapshot", "prefix"}},
	{"SNAPSHOT_BUCKET", []string{"snapshot", "bucket"}},
	{"SNAPSHOT_REGION", []string{"snapshot", "region"}},
	{"SNAPSHOT_ENDPOINT", []string{"snapshot", "endpoint"}},
	{"SNAPSHOT_PROFILE", []string{"snapshot", "profile"}},
	{"HEALTH_ENABLED", []string{"health", "enabled"}},
	{"DEBUG_ENABLED", []string{"debug", "enabled"}},
}

// getEnvSpecs returns the env var mappings for the current identity.
func getEnvSpecs() []EnvSpec {
	configMu.RLock()
	id := appIdentity
	configMu.RUnlock()
	if id == nil {
		return []EnvSpec{}
	}

	specs := make([]EnvSpec, 0, len(envBindings))
	for _, b := range envBindings {
		specs = append(specs, EnvSpec{Name: id.EnvPrefix + b.suffix, Path: b.path})
	}
	return specs
}

// Load builds the configuration and stores it for GetConfig. Each
// override map is applied on top of everything else, in order.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	configMu.Lock()
	if appIdentity == nil {
		id := DefaultIdentity
		appIdentity = &id
	}
	configMu.Unlock()

	v := viper.New()
	applyDefaults(v)

	if path := findConfigFile(); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Key(), spec.Name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", spec.Name, err)
		}
	}

	for _, override := range overrides {
		for key, value := range flatten("", override) {
			v.Set(key, value)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()

	return &cfg, nil
}

// GetConfig returns the configuration from the last successful Load, or
// nil before the first one.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "STRUCTURED")
	v.SetDefault("logging.file.path", "")
	v.SetDefault("logging.file.max_size_mb", 20)
	v.SetDefault("logging.file.max_age_days", 14)
	v.SetDefault("logging.file.max_backups", 10)
	v.SetDefault("logging.file.compress", false)

	v.SetDefault("jobs.cleanup_delay", 5*time.Minute)
	v.SetDefault("jobs.subscriber_buffer", 64)
	v.SetDefault("jobs.heartbeat_interval", 15*time.Second)

	v.SetDefault("ghost.api_version", "v5.0")
	v.SetDefault("ghost.page_size", 30)
	v.SetDefault("ghost.rate_limit", 0.0)
	v.SetDefault("ghost.concurrency", 4)
	v.SetDefault("ghost.timeout", 30*time.Second)

	v.SetDefault("snapshot.backend", "none")
	v.SetDefault("snapshot.dir", "")
	v.SetDefault("snapshot.prefix", "")
	v.SetDefault("snapshot.bucket", "")
	v.SetDefault("snapshot.region", "")
	v.SetDefault("snapshot.endpoint", "")
	v.SetDefault("snapshot.profile", "")

	v.SetDefault("health.enabled", true)
	v.SetDefault("debug.enabled", false)
}

// flatten turns nested override maps into dotted viper keys so that each
// leaf is set individually and siblings keep their lower-layer values.
func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = val
	}
	return out
}

// findConfigFile returns the first existing config file: the project-local
// config/<name>.yaml, then the user config paths.
func findConfigFile() string {
	configMu.RLock()
	explicit := explicitFile
	configMu.RUnlock()
	if explicit != "" {
		return explicit
	}

	var candidates []string
	if root, err := findProjectRoot(); err == nil {
		candidates = append(candidates, filepath.Join(root, "config", configName()+".yaml"))
	}
	candidates = append(candidates, getUserConfigPaths()...)

	for _, path := range candidates {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

func configName() string {
	configMu.RLock()
	defer configMu.RUnlock()
	if appIdentity == nil {
		return AppName
	}
	return appIdentity.ConfigName
}

// getUserConfigPaths lists per-user config locations, most specific first.
func getUserConfigPaths() []string {
	configMu.RLock()
	id := appIdentity
	configMu.RUnlock()
	if id == nil {
		return []string{}
	}

	var paths []string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		paths = append(paths, filepath.Join(xdg, id.ConfigName, "config.yaml"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", id.ConfigName, "config.yaml"))
	}
	return paths
}

// ciBoundaryVars name the checkout root on common CI systems.
var ciBoundaryVars = []string{
	"TEXTTAILOR_WORKSPACE_ROOT",
	"GITHUB_WORKSPACE",
	"CI_PROJECT_DIR",
	"WORKSPACE",
}

// findProjectRoot walks up from the working directory to the nearest
// go.mod. On CI the walk is bounded by the workspace root when one is
// advertised; otherwise, or when no go.mod is found, the working
// directory itself is returned.
func findProjectRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	if isCI() {
		for _, name := range ciBoundaryVars {
			boundary := os.Getenv(name)
			if boundary == "" || !filepath.IsAbs(boundary) {
				continue
			}
			if info, err := os.Stat(boundary); err != nil || !info.IsDir() {
				continue
			}
			if !within(cwd, boundary) {
				continue
			}
			if root, ok := walkToModule(cwd, boundary); ok {
				return root, nil
			}
		}
	}

	if root, ok := walkToModule(cwd, ""); ok {
		return root, nil
	}
	return cwd, nil
}

func isCI() bool {
	return os.Getenv("CI") == "true" || os.Getenv("GITHUB_ACTIONS") == "true"
}

func within(path, boundary string) bool {
	rel, err := filepath.Rel(boundary, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}

// walkToModule searches dir and its parents for go.mod, stopping at
// boundary when set.
func walkToModule(dir, boundary string) (string, bool) {
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, true
		}
		if boundary != "" && filepath.Clean(dir) == filepath.Clean(boundary) {
			return "", false
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}
