package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/brettbedarf/tempofs/internal/util"
	"gopkg.in/yaml.v3"
)

// Config contains runtime configuration values for the filesystem.
type Config struct {
	MountOptions
	LogLvl util.LogLevel

	RequestTimeout      float64 // Per-request timeout in seconds for all HTTP calls (Default 30)
	MaxRedirects        int     // Redirect hops followed before giving up (Default 5)
	MaxFullResponseSize int64   // Largest ignored-range full body sliced locally; 0 disables (Default 16MB)
	MaxMaterializeSize  int64   // Cap on fallback full downloads; 0 is unbounded (Default 0)
	ProbeOnStat         bool    // Probe on getattr so sizes are accurate before the first read (Default true)
	RequestsPerSecond   float64 // Outbound request rate limit; 0 is unlimited (Default 0)
	RequestBurst        int     // Burst allowed by the rate limiter (Default 1)
	MaxIdleConnsPerHost int     // Keep-alive pool size per remote host (Default 16)
	UserAgent           string  // User-Agent sent unless overridden by entry headers (Default "tempofs")
	// NOTE: Low-level FUSE config (strongly recommend defaults unless you really know what you're doing):

	MaxFH        int     // Maximum file handle value for FUSE compatibility (Default 2147483647)
	MaxReadAhead int     // Kernel readahead per FUSE request (Default 128KB)
	AttrTimeout  float64 // Attribute cache timeout in seconds (Default 1.0)
	EntryTimeout float64 // Directory entry cache timeout in seconds (Default 1.0)
	DirectIO     bool    // Whether to bypass page cache for HTTP files (Default true)
}

// RequestTimeoutDuration returns RequestTimeout as a [time.Duration].
func (c *Config) RequestTimeoutDuration() time.Duration {
	return time.Duration(c.RequestTimeout * float64(time.Second))
}

// Validate reports the first invalid field, if any.
func (c *Config) Validate() error {
	switch {
	case c.RequestTimeout <= 0:
		return errors.New("request_timeout must be positive")
	case c.MaxRedirects < 0:
		return errors.New("max_redirects must not be negative")
	case c.MaxFullResponseSize < 0:
		return errors.New("max_full_response_size must not be negative")
	case c.MaxMaterializeSize < 0:
		return errors.New("max_materialize_size must not be negative")
	case c.RequestsPerSecond < 0:
		return errors.New("requests_per_second must not be negative")
	case c.MaxFH <= 0:
		return errors.New("max_fh must be positive")
	}
	return nil
}

// ConfigOverride uses pointer fields to distinguish between unset and zero values
// when loading partial configuration. See [Config] for field descriptions.
type ConfigOverride struct {
	FsName *string `yaml:"fs_name,omitempty" json:"fs_name,omitempty"`
	Name   *string `yaml:"name,omitempty" json:"name,omitempty"`
	Debug  *bool   `yaml:"fuse_debug,omitempty" json:"fuse_debug,omitempty"`
	// LogLvl is a 1 (error) to 5 (trace) verbosity, not a [util.LogLevel]
	LogLvl *int `yaml:"log_level,omitempty" json:"log_level,omitempty"`

	RequestTimeout      *float64 `yaml:"request_timeout,omitempty" json:"request_timeout,omitempty"`
	MaxRedirects        *int     `yaml:"max_redirects,omitempty" json:"max_redirects,omitempty"`
	MaxFullResponseSize *int64   `yaml:"max_full_response_size,omitempty" json:"max_full_response_size,omitempty"`
	MaxMaterializeSize  *int64   `yaml:"max_materialize_size,omitempty" json:"max_materialize_size,omitempty"`
	ProbeOnStat         *bool    `yaml:"probe_on_stat,omitempty" json:"probe_on_stat,omitempty"`
	RequestsPerSecond   *float64 `yaml:"requests_per_second,omitempty" json:"requests_per_second,omitempty"`
	RequestBurst        *int     `yaml:"request_burst,omitempty" json:"request_burst,omitempty"`
	MaxIdleConnsPerHost *int     `yaml:"max_idle_conns_per_host,omitempty" json:"max_idle_conns_per_host,omitempty"`
	UserAgent           *string  `yaml:"user_agent,omitempty" json:"user_agent,omitempty"`

	MaxFH        *int     `yaml:"max_fh,omitempty" json:"max_fh,omitempty"`
	MaxReadAhead *int     `yaml:"max_read_ahead,omitempty" json:"max_read_ahead,omitempty"`
	AttrTimeout  *float64 `yaml:"attr_timeout,omitempty" json:"attr_timeout,omitempty"`
	EntryTimeout *float64 `yaml:"entry_timeout,omitempty" json:"entry_timeout,omitempty"`
	DirectIO     *bool    `yaml:"direct_io,omitempty" json:"direct_io,omitempty"`
}

// NewDefaultConfig creates a new Config with all default values.
func NewDefaultConfig() *Config {
	return &Config{
		MountOptions: MountOptions{
			FsName: DefaultFsName,
			Name:   DefaultName,
		},
		LogLvl:              DefaultLogLvl,
		RequestTimeout:      DefaultRequestTimeout,
		MaxRedirects:        DefaultMaxRedirects,
		MaxFullResponseSize: DefaultMaxFullResponseSize,
		MaxMaterializeSize:  DefaultMaxMaterializeSize,
		ProbeOnStat:         DefaultProbeOnStat,
		RequestsPerSecond:   DefaultRequestsPerSecond,
		RequestBurst:        DefaultRequestBurst,
		MaxIdleConnsPerHost: DefaultMaxIdleConnsPerHost,
		UserAgent:           DefaultUserAgent,
		MaxFH:               DefaultMaxFH,
		MaxReadAhead:        DefaultMaxReadAhead,
		AttrTimeout:         DefaultAttrTimeout,
		EntryTimeout:        DefaultEntryTimeout,
		DirectIO:            DefaultDirectIO,
	}
}

// NewConfig returns the defaults with override applied. A nil override
// yields the defaults.
func NewConfig(override *ConfigOverride) *Config {
	cfg := NewDefaultConfig()
	if override != nil {
		cfg.Merge(override)
	}
	return cfg
}

// Merge applies non-nil values from override onto this Config.
// This allows partial configuration updates while preserving existing values.
func (c *Config) Merge(override *ConfigOverride) {
	if override.FsName != nil {
		c.FsName = *override.FsName
	}
	if override.Name != nil {
		c.Name = *override.Name
	}
	if override.Debug != nil {
		c.Debug = *override.Debug
	}
	if override.LogLvl != nil {
		c.LogLvl = VerbosityToLogLevel(*override.LogLvl)
	}
	if override.RequestTimeout != nil {
		c.RequestTimeout = *override.RequestTimeout
	}
	if override.MaxRedirects != nil {
		c.MaxRedirects = *override.MaxRedirects
	}
	if override.MaxFullResponseSize != nil {
		c.MaxFullResponseSize = *override.MaxFullResponseSize
	}
	if override.MaxMaterializeSize != nil {
		c.MaxMaterializeSize = *override.MaxMaterializeSize
	}
	if override.ProbeOnStat != nil {
		c.ProbeOnStat = *override.ProbeOnStat
	}
	if override.RequestsPerSecond != nil {
		c.RequestsPerSecond = *override.RequestsPerSecond
	}
	if override.RequestBurst != nil {
		c.RequestBurst = *override.RequestBurst
	}
	if override.MaxIdleConnsPerHost != nil {
		c.MaxIdleConnsPerHost = *override.MaxIdleConnsPerHost
	}
	if override.UserAgent != nil {
		c.UserAgent = *override.UserAgent
	}
	if override.MaxFH != nil {
		c.MaxFH = *override.MaxFH
	}
	if override.MaxReadAhead != nil {
		c.MaxReadAhead = *override.MaxReadAhead
	}
	if override.AttrTimeout != nil {
		c.AttrTimeout = *override.AttrTimeout
	}
	if override.EntryTimeout != nil {
		c.EntryTimeout = *override.EntryTimeout
	}
	if override.DirectIO != nil {
		c.DirectIO = *override.DirectIO
	}
}

// LoadConfigOverrideFile loads configuration overrides from a file without merging.
// Supports both YAML (.yaml, .yml) and JSON (.json) formats.
func LoadConfigOverrideFile(path string) (*ConfigOverride, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var override ConfigOverride

	// Determine format by file extension
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown config file extension: %s", path)
	}

	return &override, nil
}

// NewConfigFromFile creates a new Config by merging file overrides with defaults.
// This is a convenience function that combines NewDefaultConfig, LoadConfigOverrideFile, and Merge.
func NewConfigFromFile(path string) (*Config, error) {
	override, err := LoadConfigOverrideFile(path)
	if err != nil {
		return nil, err
	}
	cfg := NewConfig(override)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}
