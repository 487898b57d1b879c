// Copyright 2025 The N8N2MCP Authors
// SPDX-License-Identifier: BUSL-1.1

package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFile represents the root structure of a router configuration file
type ConfigFile struct {
	Version  string             `yaml:"version"`
	Server   ServerFileConfig   `yaml:"server,omitempty"`
	Registry RegistryFileConfig `yaml:"registry,omitempty"`
	Admin    AdminFileConfig    `yaml:"admin,omitempty"`
	Engine   EngineFileConfig   `yaml:"engine,omitempty"`
}

// ServerFileConfig holds listener settings
type ServerFileConfig struct {
	Host        string   `yaml:"host,omitempty"`
	Port        string   `yaml:"port,omitempty"`
	Prefix      string   `yaml:"prefix,omitempty"`
	CORSOrigins []string `yaml:"cors_allowed_origins,omitempty"`
}

// RegistryFileConfig holds durable store and change-notification settings
type RegistryFileConfig struct {
	DatabaseURL   string `yaml:"database_url,omitempty"`
	RedisURL      string `yaml:"redis_url,omitempty"`
	NotifyChannel string `yaml:"notify_channel,omitempty"`
}

// AdminFileConfig holds admin API settings
type AdminFileConfig struct {
	JWTSecret string `yaml:"jwt_secret,omitempty"`
}

// EngineFileConfig holds remote workflow-engine settings
type EngineFileConfig struct {
	URL                string `yaml:"url,omitempty"`
	APIKey             string `yaml:"api_key,omitempty"`
	SecretARN          string `yaml:"secret_arn,omitempty"`
	AWSRegion          string `yaml:"aws_region,omitempty"`
	SessionExtractor   string `yaml:"session_extractor,omitempty"`
	Username           string `yaml:"username,omitempty"`
	Password           string `yaml:"password,omitempty"`
	SessionToken       string `yaml:"session_token,omitempty"`
	BrowserID          string `yaml:"browser_id,omitempty"`
	DetailTimeoutMs    int    `yaml:"detail_timeout_ms,omitempty"`
	ExecutionTimeoutMs int    `yaml:"execution_timeout_ms,omitempty"`
}

// YAMLConfigFileLoader loads router configuration from a YAML file
type YAMLConfigFileLoader struct {
	filePath string
	config   *ConfigFile
}

// NewYAMLConfigFileLoader creates a new YAML config file loader
func NewYAMLConfigFileLoader(filePath string) (*YAMLConfigFileLoader, error) {
	loader := &YAMLConfigFileLoader{
		filePath: filePath,
	}

	if err := loader.reload(); err != nil {
		return nil, err
	}

	return loader, nil
}

// reload reads and parses the configuration file
func (l *YAMLConfigFileLoader) reload() error {
	data, err := os.ReadFile(l.filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", l.filePath, err)
	}

	expanded := expandEnvVars(string(data))

	var config ConfigFile
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := ValidateConfigFile(&config); err != nil {
		return err
	}

	l.config = &config
	return nil
}

// File returns the parsed file.
func (l *YAMLConfigFileLoader) File() *ConfigFile {
	return l.config
}

// Apply overlays every value set in the file onto cfg.
func (l *YAMLConfigFileLoader) Apply(cfg *Config) {
	f := l.config
	if f == nil {
		return
	}

	setString(&cfg.Host, f.Server.Host)
	setString(&cfg.Port, f.Server.Port)
	if f.Server.Prefix != "" {
		cfg.Prefix = NormalizePrefix(f.Server.Prefix)
	}
	if len(f.Server.CORSOrigins) > 0 {
		cfg.CORSOrigins = f.Server.CORSOrigins
	}

	setString(&cfg.DatabaseURL, f.Registry.DatabaseURL)
	setString(&cfg.RedisURL, f.Registry.RedisURL)
	setString(&cfg.NotifyChannel, f.Registry.NotifyChannel)
	setString(&cfg.AdminJWTSecret, f.Admin.JWTSecret)

	e := &cfg.Engine
	setString(&e.URL, f.Engine.URL)
	setString(&e.APIKey, f.Engine.APIKey)
	setString(&e.SecretARN, f.Engine.SecretARN)
	setString(&e.AWSRegion, f.Engine.AWSRegion)
	setString(&e.Extractor, strings.ToLower(f.Engine.SessionExtractor))
	setString(&e.Username, f.Engine.Username)
	setString(&e.Password, f.Engine.Password)
	setString(&e.SessionToken, f.Engine.SessionToken)
	setString(&e.BrowserID, f.Engine.BrowserID)
	if f.Engine.DetailTimeoutMs > 0 {
		e.DetailTimeout = time.Duration(f.Engine.DetailTimeoutMs) * time.Millisecond
	}
	if f.Engine.ExecutionTimeoutMs > 0 {
		e.ExecutionTimeout = time.Duration(f.Engine.ExecutionTimeoutMs) * time.Millisecond
	}
}

func setString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

// envVarRegex matches ${VAR_NAME} or $VAR_NAME patterns
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars expands environment variable references in the string.
// Supports ${VAR_NAME}, $VAR_NAME and ${VAR_NAME:-default}; undefined
// variables expand to the empty string.
func expandEnvVars(content string) string {
	return envVarRegex.ReplaceAllStringFunc(content, func(match string) string {
		var varName string
		if strings.HasPrefix(match, "${") {
			varName = match[2 : len(match)-1]
		} else {
			varName = match[1:]
		}

		defaultVal := ""
		if idx := strings.Index(varName, ":-"); idx != -1 {
			defaultVal = varName[idx+2:]
			varName = varName[:idx]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultVal
	})
}

// ValidateConfigFile validates the structure of a config file
func ValidateConfigFile(config *ConfigFile) error {
	if config.Version == "" {
		return fmt.Errorf("config file must specify a version")
	}

	switch strings.ToLower(config.Engine.SessionExtractor) {
	case "", ExtractorEnv, ExtractorLogin:
	default:
		return fmt.Errorf("engine.session_extractor has invalid value '%s'", config.Engine.SessionExtractor)
	}

	if config.Engine.DetailTimeoutMs < 0 || config.Engine.ExecutionTimeoutMs < 0 {
		return fmt.Errorf("engine timeouts must not be negative")
	}

	return nil
}

// GenerateExampleConfigFile returns an annotated example configuration file
func GenerateExampleConfigFile() string {
	return `# Router configuration
# Environment variables can be referenced using ${VAR_NAME} or ${VAR_NAME:-default} syntax

version: "1.0"

server:
  host: 0.0.0.0
  port: "6545"
  prefix: /mcp
  cors_allowed_origins: ["*"]

registry:
  database_url: ${DATABASE_URL}
  redis_url: ${REDIS_URL:-}

admin:
  jwt_secret: ${ADMIN_JWT_SECRET:-}

engine:
  url: ${N8N_INSTANCE_URL}
  api_key: ${N8N_API_KEY}
  session_extractor: login
  username: ${N8N_USERNAME}
  password: ${N8N_PASSWORD}
  detail_timeout_ms: 10000
  execution_timeout_ms: 30000
`
}
