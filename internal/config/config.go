package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the gateway configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Backend BackendConfig `toml:"backend"`
	Cache   CacheConfig   `toml:"cache"`
	Logging LoggingConfig `toml:"logging"`
}

// ServerConfig contains listen settings for the gateway's own HTTP server.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// BackendConfig contains settings for the companion backend the bridge talks to.
type BackendConfig struct {
	URL            string `toml:"url"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	MaxConns       int    `toml:"max_connections"`
	MaxPerHost     int    `toml:"max_per_host"`
	CatalogRetries int    `toml:"catalog_retries"`
}

// CacheConfig contains resource read-cache settings.
type CacheConfig struct {
	TTLSeconds int `toml:"ttl_seconds"`
	MaxEntries int `toml:"max_entries"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level      string   `toml:"level"`
	Outputs    []string `toml:"outputs"`
	FilePath   string   `toml:"file_path"`
	MaxSizeMB  int      `toml:"max_size_mb"`
	MaxBackups int      `toml:"max_backups"`
}

// LoadFromFiles loads configuration from multiple files with priority:
// defaults -> file1 -> file2 -> ... -> env. Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies COMPANION_* environment variable overrides.
func applyEnvOverrides(config *Config) {
	if port := os.Getenv("COMPANION_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("COMPANION_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if url := os.Getenv("COMPANION_BACKEND_URL"); url != "" {
		config.Backend.URL = url
	}
	if key := os.Getenv("COMPANION_BACKEND_API_KEY"); key != "" {
		config.Backend.APIKey = key
	}
	if level := os.Getenv("COMPANION_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config.
func ApplyFlagOverrides(config *Config, port int, host, backendURL string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
	if backendURL != "" {
		config.Backend.URL = backendURL
	}
}

// Validate checks mandatory fields and returns a list of human-readable issues.
func (c *Config) Validate() []string {
	var issues []string

	if c.Backend.URL == "" {
		issues = append(issues, "backend.url is required (the companion backend base URL)")
	} else if !strings.HasPrefix(c.Backend.URL, "http://") && !strings.HasPrefix(c.Backend.URL, "https://") {
		issues = append(issues, fmt.Sprintf("backend.url %q must start with http:// or https://", c.Backend.URL))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		issues = append(issues, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
	}
	if c.Backend.MaxConns > 0 && c.Backend.MaxPerHost > c.Backend.MaxConns {
		issues = append(issues, "backend.max_per_host cannot exceed backend.max_connections")
	}

	return issues
}
