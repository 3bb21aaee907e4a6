package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// AppName is used for config, data and keyring locations
	AppName = "pkgmirror"

	// EnvPrefix prefixes every environment override
	EnvPrefix = "PKGMIRROR_"

	// MaxPageSize is the largest page the npm search endpoint serves
	MaxPageSize = 250
)

// Config holds all configuration options for the mirror
type Config struct {
	// Remote registry endpoints
	Registry RegistryConfig `yaml:"registry" json:"registry"`

	// Request pacing
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Search harvesting
	Harvest HarvestConfig `yaml:"harvest" json:"harvest"`

	// Artifact mirroring
	Mirror MirrorConfig `yaml:"mirror" json:"mirror"`

	// Progress persistence
	Checkpoint CheckpointConfig `yaml:"checkpoint" json:"checkpoint"`

	// Count snapshots
	Report ReportConfig `yaml:"report" json:"report"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// RegistryConfig holds registry endpoints and client identity
type RegistryConfig struct {
	SearchURL   string        `yaml:"search_url" json:"search_url"`
	RegistryURL string        `yaml:"registry_url" json:"registry_url"`
	UserAgent   string        `yaml:"user_agent" json:"user_agent"`
	Token       string        `yaml:"token" json:"token"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`
}

// RateLimitConfig holds request pacing configuration
type RateLimitConfig struct {
	// InterRequestDelayMs is slept after every remote call
	InterRequestDelayMs int `yaml:"inter_request_delay_ms" json:"inter_request_delay_ms"`
	// RequestsPerMinute is an optional hard ceiling; 0 disables it
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute"`
}

// HarvestConfig holds search harvesting configuration
type HarvestConfig struct {
	Queries        []string `yaml:"queries" json:"queries"`
	PageSize       int      `yaml:"page_size" json:"page_size"`
	FlushThreshold int      `yaml:"flush_threshold" json:"flush_threshold"`
	ResultsDir     string   `yaml:"results_dir" json:"results_dir"`
	ProgressFile   string   `yaml:"progress_file" json:"progress_file"`
	CatalogFile    string   `yaml:"catalog_file" json:"catalog_file"`
}

// MirrorConfig holds artifact mirroring configuration
type MirrorConfig struct {
	Directory       string        `yaml:"directory" json:"directory"`
	VersionsToKeep  int           `yaml:"versions_to_keep" json:"versions_to_keep"`
	ProgressFile    string        `yaml:"progress_file" json:"progress_file"`
	DownloadTimeout time.Duration `yaml:"download_timeout" json:"download_timeout"`
}

// CheckpointConfig holds progress persistence configuration
type CheckpointConfig struct {
	MaxSaveFailures int  `yaml:"max_save_failures" json:"max_save_failures"`
	BackupOnReset   bool `yaml:"backup_on_reset" json:"backup_on_reset"`
}

// ReportConfig holds count snapshot configuration
type ReportConfig struct {
	CountsDir  string `yaml:"counts_dir" json:"counts_dir"`
	MaxRetries int    `yaml:"max_retries" json:"max_retries"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	File     string `yaml:"file" json:"file"`
	ErrorLog string `yaml:"error_log" json:"error_log"`
}

// DefaultQueries is the search vocabulary used to enumerate the registry
var DefaultQueries = []string{
	"js", "lib", "db", "node", "react", "vue", "angular", "ts", "api", "web",
	"ui", "app", "tool", "test", "server", "client", "data", "util", "utils",
	"core", "plugin", "module",
	"express", "next", "nest", "webpack", "babel", "eslint", "redux", "mobx",
	"graphql", "prisma", "mongoose",
	"component", "middleware", "framework", "starter", "boilerplate",
	"template", "sdk", "cli", "package", "toolkit",
	"auth", "database", "cache", "queue", "stream", "crypto", "format",
	"parse", "convert", "transform", "validate",
	"aws", "azure", "google", "firebase", "mongo", "postgres", "redis",
	"docker", "kubernetes", "cloud",
	"dev", "build", "deploy", "monitor", "debug", "log", "config", "env",
	"security", "performance",
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	queries := make([]string, len(DefaultQueries))
	copy(queries, DefaultQueries)

	return &Config{
		Registry: RegistryConfig{
			SearchURL:   "https://registry.npmjs.org/-/v1/search",
			RegistryURL: "https://registry.npmjs.org",
			UserAgent:   "pkgmirror/1.0",
			Timeout:     60 * time.Second,
		},
		RateLimit: RateLimitConfig{
			InterRequestDelayMs: 1000,
			RequestsPerMinute:   0,
		},
		Harvest: HarvestConfig{
			Queries:        queries,
			PageSize:       MaxPageSize,
			FlushThreshold: MaxPageSize,
			ResultsDir:     "search-results",
			ProgressFile:   "search-progress.json",
			CatalogFile:    "packages-list.json",
		},
		Mirror: MirrorConfig{
			Directory:       "npm-mirror",
			VersionsToKeep:  20,
			ProgressFile:    "download-progress.json",
			DownloadTimeout: 10 * time.Minute,
		},
		Checkpoint: CheckpointConfig{
			MaxSaveFailures: 3,
			BackupOnReset:   true,
		},
		Report: ReportConfig{
			CountsDir:  "package-counts",
			MaxRetries: 3,
		},
		Logging: LoggingConfig{
			Level:    "info",
			File:     "",
			ErrorLog: "error.log",
		},
	}
}

// InterRequestDelay returns the configured delay as a duration
func (r RateLimitConfig) InterRequestDelay() time.Duration {
	return time.Duration(r.InterRequestDelayMs) * time.Millisecond
}

// LoadFromEnv applies PKGMIRROR_* variables. Malformed integers are
// reported together.
func (c *Config) LoadFromEnv() error {
	strs := map[string]*string{
		"SEARCH_URL":     &c.Registry.SearchURL,
		"REGISTRY_URL":   &c.Registry.RegistryURL,
		"USER_AGENT":     &c.Registry.UserAgent,
		"REGISTRY_TOKEN": &c.Registry.Token,
		"MIRROR_DIR":     &c.Mirror.Directory,
		"LOG_LEVEL":      &c.Logging.Level,
		"LOG_FILE":       &c.Logging.File,
	}
	ints := map[string]*int{
		"INTER_REQUEST_DELAY_MS": &c.RateLimit.InterRequestDelayMs,
		"REQUESTS_PER_MINUTE":    &c.RateLimit.RequestsPerMinute,
		"PAGE_SIZE":              &c.Harvest.PageSize,
		"FLUSH_THRESHOLD":        &c.Harvest.FlushThreshold,
		"VERSIONS_TO_KEEP":       &c.Mirror.VersionsToKeep,
	}

	for name, dst := range strs {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}

	// range checks are left to Validate
	var errs []error
	for name, dst := range ints {
		v := os.Getenv(EnvPrefix + name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid %s%s: %q", EnvPrefix, name, v))
			continue
		}
		*dst = n
	}

	if queries := os.Getenv(EnvPrefix + "QUERIES"); queries != "" {
		c.Harvest.Queries = splitList(queries)
	}
	return errors.Join(errs...)
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	locations := []string{
		".pkgmirror.yaml",
		".pkgmirror.yml",
		filepath.Join(xdg.ConfigHome, AppName, "config.yaml"),
		filepath.Join(xdg.ConfigHome, AppName, "config.yml"),
		filepath.Join(xdg.Home, ".pkgmirror.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	// Registry
	if err := validateURL("registry.search_url", c.Registry.SearchURL); err != nil {
		errs = append(errs, err)
	}
	if err := validateURL("registry.registry_url", c.Registry.RegistryURL); err != nil {
		errs = append(errs, err)
	}
	if c.Registry.Timeout <= 0 {
		errs = append(errs, errors.New("registry timeout must be positive"))
	}

	// Pacing
	if c.RateLimit.InterRequestDelayMs < 0 {
		errs = append(errs, errors.New("inter-request delay cannot be negative"))
	}
	if c.RateLimit.RequestsPerMinute < 0 {
		errs = append(errs, errors.New("requests per minute cannot be negative"))
	}

	// Harvest
	if len(c.Harvest.Queries) == 0 {
		errs = append(errs, errors.New("at least one search query is required"))
	}
	seen := make(map[string]bool, len(c.Harvest.Queries))
	for _, q := range c.Harvest.Queries {
		if strings.TrimSpace(q) == "" {
			errs = append(errs, errors.New("search queries cannot be blank"))
			break
		}
		if seen[q] {
			errs = append(errs, fmt.Errorf("duplicate search query %q", q))
		}
		seen[q] = true
	}
	if c.Harvest.PageSize <= 0 || c.Harvest.PageSize > MaxPageSize {
		errs = append(errs, fmt.Errorf("page size must be between 1 and %d", MaxPageSize))
	}
	if c.Harvest.FlushThreshold <= 0 {
		errs = append(errs, errors.New("flush threshold must be positive"))
	}
	if c.Harvest.ResultsDir == "" {
		errs = append(errs, errors.New("results directory is required"))
	}
	if c.Harvest.ProgressFile == "" {
		errs = append(errs, errors.New("harvest progress file is required"))
	}
	if c.Harvest.CatalogFile == "" {
		errs = append(errs, errors.New("catalog file is required"))
	}

	// Mirror
	if c.Mirror.Directory == "" {
		errs = append(errs, errors.New("mirror directory is required"))
	}
	if c.Mirror.VersionsToKeep <= 0 {
		errs = append(errs, errors.New("versions to keep must be positive"))
	}
	if c.Mirror.ProgressFile == "" {
		errs = append(errs, errors.New("mirror progress file is required"))
	}
	if c.Mirror.ProgressFile == c.Harvest.ProgressFile {
		errs = append(errs, errors.New("mirror and harvest progress files must differ"))
	}
	if c.Mirror.DownloadTimeout <= 0 {
		errs = append(errs, errors.New("download timeout must be positive"))
	}

	// Checkpoint
	if c.Checkpoint.MaxSaveFailures < 1 {
		errs = append(errs, errors.New("max checkpoint save failures must be at least 1"))
	}

	// Report
	if c.Report.CountsDir == "" {
		errs = append(errs, errors.New("counts directory is required"))
	}
	if c.Report.MaxRetries < 0 {
		errs = append(errs, errors.New("max retries cannot be negative"))
	}

	// Logging
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}
	if c.Logging.ErrorLog == "" {
		errs = append(errs, errors.New("error log path is required"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if searchURL, ok := flags["search-url"].(string); ok && searchURL != "" {
		c.Registry.SearchURL = searchURL
	}
	if registryURL, ok := flags["registry-url"].(string); ok && registryURL != "" {
		c.Registry.RegistryURL = registryURL
	}
	if delay, ok := flags["delay-ms"].(int); ok && delay >= 0 {
		c.RateLimit.InterRequestDelayMs = delay
	}
	if rpm, ok := flags["rate-limit"].(int); ok && rpm >= 0 {
		c.RateLimit.RequestsPerMinute = rpm
	}
	if pageSize, ok := flags["page-size"].(int); ok && pageSize > 0 {
		c.Harvest.PageSize = pageSize
	}
	if threshold, ok := flags["flush-threshold"].(int); ok && threshold > 0 {
		c.Harvest.FlushThreshold = threshold
	}
	if queries, ok := flags["queries"].([]string); ok && len(queries) > 0 {
		c.Harvest.Queries = queries
	}
	if mirrorDir, ok := flags["mirror-dir"].(string); ok && mirrorDir != "" {
		c.Mirror.Directory = mirrorDir
	}
	if versions, ok := flags["versions"].(int); ok && versions > 0 {
		c.Mirror.VersionsToKeep = versions
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
	if logFile, ok := flags["log-file"].(string); ok && logFile != "" {
		c.Logging.File = logFile
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(xdg.Home, ".pkgmirror.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

func validateURL(name, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", name)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL", name)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
