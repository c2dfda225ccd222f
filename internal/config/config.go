// Package config loads configuration from environment variables and an
// optional YAML file describing the browsing panels.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all server configuration.
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// TLS (optional, if both set the server uses HTTPS)
	TLSCertFile string
	TLSKeyFile  string

	// Sessions
	SessionSecret      string
	SessionMaxAge      time.Duration
	SessionDatabaseURL string // empty keeps sessions in memory

	// OIDC (optional, disabled when the issuer is empty)
	OIDCIssuerURL     string
	OIDCClientID      string
	OIDCClientSecret  string
	OIDCRedirectURL   string
	OIDCScopes        []string
	OIDCUsernameClaim string
	OIDCEndSessionURL string

	// Backends
	StagerEndpoint    string
	RDMWebDAVEndpoint string
	RDMPublicKeyFile  string

	// Job submission
	JobsPerMinute        int  // 0 = unlimited
	LegacySubstringMatch bool // ancestor matching by substring instead of path segments

	// UI text and panel modules
	ConfigFile string
	UI         UI
}

// Load reads configuration from environment variables with defaults, then
// merges the YAML file named by CONFIG_FILE if set.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:           envOr("LISTEN_ADDR", ":3080"),
		MetricsAddr:          envOr("METRICS_ADDR", ":9090"),
		LogLevel:             envOr("LOG_LEVEL", "info"),
		LogFormat:            envOr("LOG_FORMAT", "json"),
		TLSCertFile:          envOr("TLS_CERT_FILE", ""),
		TLSKeyFile:           envOr("TLS_KEY_FILE", ""),
		SessionSecret:        envOr("SESSION_SECRET", ""),
		SessionMaxAge:        envDuration("SESSION_MAX_AGE", 4*time.Hour),
		SessionDatabaseURL:   envOr("SESSION_DATABASE_URL", ""),
		OIDCIssuerURL:        envOr("OIDC_ISSUER_URL", ""),
		OIDCClientID:         envOr("OIDC_CLIENT_ID", ""),
		OIDCClientSecret:     envOr("OIDC_CLIENT_SECRET", ""),
		OIDCRedirectURL:      envOr("OIDC_REDIRECT_URL", ""),
		OIDCScopes:           envList("OIDC_SCOPES", []string{"openid", "profile", "email", "offline_access", "urn:dccn:identity:uid"}),
		OIDCUsernameClaim:    envOr("OIDC_USERNAME_CLAIM", "urn:dccn:uid"),
		OIDCEndSessionURL:    envOr("OIDC_END_SESSION_URL", ""),
		StagerEndpoint:       envOr("STAGER_ENDPOINT", "http://localhost:3000"),
		RDMWebDAVEndpoint:    envOr("RDM_WEBDAV_ENDPOINT", "https://webdav.data.donders.ru.nl"),
		RDMPublicKeyFile:     envOr("RDM_PUBLIC_KEY_FILE", ""),
		JobsPerMinute:        envInt("JOBS_PER_MINUTE", 0),
		LegacySubstringMatch: envBool("LEGACY_SUBSTRING_MATCH", false),
		ConfigFile:           envOr("CONFIG_FILE", ""),
		UI:                   DefaultUI(),
	}

	if cfg.SessionSecret == "" {
		return nil, fmt.Errorf("SESSION_SECRET is required")
	}
	if cfg.OIDCIssuerURL != "" && cfg.OIDCClientID == "" {
		return nil, fmt.Errorf("OIDC_CLIENT_ID is required when OIDC_ISSUER_URL is set")
	}
	if cfg.JobsPerMinute < 0 {
		return nil, fmt.Errorf("JOBS_PER_MINUTE must not be negative")
	}

	if cfg.ConfigFile != "" {
		ui, err := LoadUI(cfg.ConfigFile)
		if err != nil {
			return nil, err
		}
		cfg.UI = ui
	}

	return cfg, nil
}

// TLSEnabled reports whether both certificate and key are configured.
func (c *Config) TLSEnabled() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// envList splits a comma or space separated value.
func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return strings.FieldsFunc(v, func(r rune) bool {
		return r == ',' || r == ' '
	})
}
