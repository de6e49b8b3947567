package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v6"
)

// Config holds application configuration.
type Config struct {
	// LogLevel controls zerolog verbosity: trace, debug, info, warn, error.
	LogLevel string `json:"log_level,omitempty" env:"LOG_LEVEL"`

	// MaxContentChars is the maximum character count for message content.
	MaxContentChars int `json:"max_content_chars" env:"MAX_CONTENT_CHARS"`

	// MaxUploadBytes is the maximum size of a single file upload.
	MaxUploadBytes int64 `json:"max_upload_bytes" env:"MAX_UPLOAD_BYTES"`

	// AllowedPaths is an allowlist of directories for export operations.
	// Paths outside <baseDir>/exports require either being in this list or
	// AllowUnsafePaths=true. Paths should be absolute (relative paths are
	// ignored).
	AllowedPaths []string `json:"allowed_paths,omitempty" env:"ALLOWED_PATHS" envSeparator:":"`

	// AllowUnsafePaths disables directory restrictions for export.
	// When true, any directory is allowed (but symlink and extension checks
	// still apply).
	AllowUnsafePaths bool `json:"allow_unsafe_paths,omitempty" env:"ALLOW_UNSAFE_PATHS"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// If set to 1, all database access is serialized (reduces "database is
	// locked" errors). 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty" env:"DB_MAX_OPEN_CONNS"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	// 0 means use sql.DB default. Typically set equal to DBMaxOpenConns.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty" env:"DB_MAX_IDLE_CONNS"`

	// HTTPBind is the bind address for the JSON API server.
	HTTPBind string `json:"http_bind,omitempty" env:"HTTP_BIND"`

	// HTTPPort is the listen port for the JSON API server.
	HTTPPort int `json:"http_port,omitempty" env:"HTTP_PORT"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	// Unknown tool names are logged as warnings.
	DisabledTools []string `json:"disabled_tools,omitempty" env:"DISABLED_TOOLS" envSeparator:","`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:        "info",
		MaxContentChars: 200000,
		MaxUploadBytes:  64 << 20,
		HTTPBind:        "127.0.0.1",
		HTTPPort:        7483,
	}
}

// Load loads configuration from baseDir/config.json, then applies VELLUM_*
// environment variable overrides. Returns default config if the file doesn't
// exist. The baseDir parameter allows tests to use t.TempDir() instead of
// ~/.vellum.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFile(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	if err := env.Parse(cfg, env.Options{Prefix: "VELLUM_"}); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.LogLevel = overlay.LogLevel
	if result.LogLevel == "" {
		result.LogLevel = base.LogLevel
	}

	result.MaxContentChars = overlay.MaxContentChars
	if result.MaxContentChars == 0 {
		result.MaxContentChars = base.MaxContentChars
	}

	result.MaxUploadBytes = overlay.MaxUploadBytes
	if result.MaxUploadBytes == 0 {
		result.MaxUploadBytes = base.MaxUploadBytes
	}

	result.DBMaxOpenConns = overlay.DBMaxOpenConns
	if result.DBMaxOpenConns == 0 {
		result.DBMaxOpenConns = base.DBMaxOpenConns
	}

	result.DBMaxIdleConns = overlay.DBMaxIdleConns
	if result.DBMaxIdleConns == 0 {
		result.DBMaxIdleConns = base.DBMaxIdleConns
	}

	result.HTTPBind = overlay.HTTPBind
	if result.HTTPBind == "" {
		result.HTTPBind = base.HTTPBind
	}

	result.HTTPPort = overlay.HTTPPort
	if result.HTTPPort == 0 {
		result.HTTPPort = base.HTTPPort
	}

	// Booleans: overlay wins if true, else base
	result.AllowUnsafePaths = base.AllowUnsafePaths || overlay.AllowUnsafePaths

	// Arrays: merge and deduplicate
	result.AllowedPaths = mergeStringSlice(base.AllowedPaths, overlay.AllowedPaths)
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
