package config

import "github.com/hyperjump/indexdef/internal/indexconfig"

const (
	DefaultDatabasePath = "/usr/local/var/indexdef/data/metastore.db"
	DefaultRateLimit    = 60
	DefaultMaxBodyBytes = 10 << 20
	DefaultDebounceMS   = 400
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 7280
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = DefaultDatabasePath
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = append([]string(nil), indexconfig.ConfigExtensions...)
	}
	if cfg.Watch.DebounceMS == 0 {
		cfg.Watch.DebounceMS = DefaultDebounceMS
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
	if cfg.API.RateLimit == 0 {
		cfg.API.RateLimit = DefaultRateLimit
	}
	if cfg.API.MaxBodyBytes == 0 {
		cfg.API.MaxBodyBytes = DefaultMaxBodyBytes
	}
}
