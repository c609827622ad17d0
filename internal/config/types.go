package config

import "github.com/mattjoyce/pwb/internal/cwl"

// Config represents the complete pwb configuration.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	State   StateConfig   `yaml:"state"`
	API     APIConfig     `yaml:"api,omitempty"`
	Engine  EngineConfig  `yaml:"engine"`
	Export  ExportConfig  `yaml:"export"`

	// SourceFile is the absolute path the config was loaded from, empty for
	// Defaults().
	SourceFile string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// StateConfig selects the step database.
type StateConfig struct {
	Driver string `yaml:"driver"` // sqlite | postgres
	Path   string `yaml:"path"`   // sqlite file
	DSN    string `yaml:"dsn"`    // postgres connection string
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Listen      string        `yaml:"listen"`
	EventBuffer int           `yaml:"event_buffer"`
	Auth        APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is a single bearer token with full access.
	// Prefer Tokens for scoped access.
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// EngineConfig bounds execution caches.
type EngineConfig struct {
	SessionCacheSize int `yaml:"session_cache_size"`
	MaxParallel      int `yaml:"max_parallel"`
}

// ExportConfig controls CWL export.
type ExportConfig struct {
	Image   string   `yaml:"image"`
	Version string   `yaml:"version"`
	Dir     string   `yaml:"dir"`
	S3      S3Config `yaml:"s3,omitempty"`
}

// S3Config is the optional object store sink for exports.
type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
	Prefix    string `yaml:"prefix"`
}

// Enabled reports whether an S3 sink is configured.
func (s S3Config) Enabled() bool {
	return s.Endpoint != "" && s.Bucket != ""
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "pwb",
			LogLevel:  "info",
			LogFormat: "json",
		},
		State: StateConfig{
			Driver: "sqlite",
			Path:   "./data/pwb.db",
		},
		API: APIConfig{
			Enabled:     false,
			Listen:      "127.0.0.1:8080",
			EventBuffer: 256,
		},
		Engine: EngineConfig{
			SessionCacheSize: 128,
			MaxParallel:      8,
		},
		Export: ExportConfig{
			Image:   cwl.DefaultImage,
			Version: cwl.DefaultVersion,
			Dir:     "./exports",
		},
	}
}
