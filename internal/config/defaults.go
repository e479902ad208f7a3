package config

// NewDefaultConfig creates a configuration with default values.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 4310,
		},
		Backend: BackendConfig{
			URL:            "http://localhost:4311",
			TimeoutSeconds: 30,
			MaxConns:       32,
			MaxPerHost:     8,
			CatalogRetries: 3,
		},
		Cache: CacheConfig{
			TTLSeconds: 30,
			MaxEntries: 256,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Outputs: []string{"console"},
		},
	}
}
