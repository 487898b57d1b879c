// Copyright 2025 The N8N2MCP Authors
// SPDX-License-Identifier: BUSL-1.1

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultPort matches the port the router has always listened on.
	DefaultPort = "6545"

	// DefaultPrefix is the reserved path prefix claimed by the gateway.
	DefaultPrefix = "/mcp"

	// DefaultDetailTimeout bounds engine detail and log lookups.
	DefaultDetailTimeout = 10 * time.Second

	// DefaultExecutionTimeout bounds engine workflow runs.
	DefaultExecutionTimeout = 30 * time.Second

	// DefaultNotifyChannel is the Redis channel for registry changes.
	DefaultNotifyChannel = "n8n2mcp:registry"
)

// Extractor kinds for the engine session.
const (
	ExtractorEnv   = "env"
	ExtractorLogin = "login"
)

// Config is the process configuration of the router.
type Config struct {
	Host   string
	Port   string
	Prefix string

	DatabaseURL   string
	RedisURL      string
	NotifyChannel string

	AdminJWTSecret string
	CORSOrigins    []string

	Engine EngineConfig

	// ConfigFile is the YAML file that was applied, if any.
	ConfigFile string
}

// EngineConfig describes how to reach the remote workflow engine.
type EngineConfig struct {
	URL    string
	APIKey string

	// SecretARN, when set, names an AWS Secrets Manager secret holding
	// api_key, username and password for the engine.
	SecretARN string
	AWSRegion string

	Extractor    string
	Username     string
	Password     string
	SessionToken string
	BrowserID    string

	DetailTimeout    time.Duration
	ExecutionTimeout time.Duration
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
}

// Load builds the configuration from environment variables and then applies
// the YAML config file (ROUTER_CONFIG_FILE or a default location) on top.
// Configuration priority: Config File > Environment Variables > defaults.
func Load() (*Config, error) {
	cfg := FromEnv()

	path := os.Getenv("ROUTER_CONFIG_FILE")
	if path == "" {
		for _, candidate := range []string{"./router.yaml", "./config/router.yaml", "/etc/n8n2mcp/router.yaml"} {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	if path != "" {
		loader, err := NewYAMLConfigFileLoader(path)
		if err != nil {
			return nil, err
		}
		loader.Apply(cfg)
		cfg.ConfigFile = path
	}

	return cfg, nil
}

// FromEnv reads the configuration from environment variables only.
func FromEnv() *Config {
	cfg := &Config{
		Host:           getEnv("HOST", "0.0.0.0"),
		Port:           getEnv("PORT", DefaultPort),
		Prefix:         NormalizePrefix(getEnv("MCP_PREFIX", DefaultPrefix)),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		NotifyChannel:  getEnv("REGISTRY_NOTIFY_CHANNEL", DefaultNotifyChannel),
		AdminJWTSecret: os.Getenv("ADMIN_JWT_SECRET"),
		CORSOrigins:    splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		Engine: EngineConfig{
			URL:              firstEnv("N8N_INSTANCE_URL", "N8N_BASE_URL"),
			APIKey:           firstEnv("N8N_API_KEY", "X_N8N_API_KEY"),
			SecretARN:        os.Getenv("ENGINE_SECRET_ARN"),
			AWSRegion:        os.Getenv("AWS_REGION"),
			Extractor:        strings.ToLower(getEnv("ENGINE_SESSION_EXTRACTOR", ExtractorEnv)),
			Username:         os.Getenv("N8N_USERNAME"),
			Password:         os.Getenv("N8N_PASSWORD"),
			SessionToken:     os.Getenv("N8N_AUTH"),
			BrowserID:        os.Getenv("N8N_BROWSER_ID"),
			DetailTimeout:    getDuration("ENGINE_DETAIL_TIMEOUT", DefaultDetailTimeout),
			ExecutionTimeout: getDuration("ENGINE_EXECUTION_TIMEOUT", DefaultExecutionTimeout),
		},
	}
	return cfg
}

// NormalizePrefix ensures the prefix starts with "/" and has no trailing "/".
func NormalizePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		return DefaultPrefix
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return prefix
}

// Validate reports settings the router cannot start without.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port must not be empty")
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("invalid port %q: %w", c.Port, err)
	}
	switch c.Engine.Extractor {
	case ExtractorEnv, ExtractorLogin:
	default:
		return fmt.Errorf("unknown engine session extractor %q", c.Engine.Extractor)
	}
	if c.Engine.DetailTimeout <= 0 || c.Engine.ExecutionTimeout <= 0 {
		return fmt.Errorf("engine timeouts must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if value := os.Getenv(key); value != "" {
			return value
		}
	}
	return ""
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
