package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// YAMLConfig represents the top-level keygate configuration file.
type YAMLConfig struct {
	Server  ServerConfig  `yaml:"server"`
	Store   StoreConfig   `yaml:"store"`
	Auth    AuthConfig    `yaml:"auth"`
	Keys    KeysYAML      `yaml:"keys"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host            string     `yaml:"host"`
	Port            int        `yaml:"port"`
	ShutdownTimeout string     `yaml:"shutdown_timeout"`
	RatePerMinute   int        `yaml:"rate_per_minute"`
	CORS            CORSConfig `yaml:"cors"`
}

// CORSConfig controls cross-origin resource sharing settings.
type CORSConfig struct {
	Origins []string `yaml:"origins"`
	Methods []string `yaml:"methods"`
}

// StoreConfig selects the backing database for keys, scopes, and audit
// events. Driver is one of sqlite, postgres, mysql, mssql, oracle.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// AuthConfig controls the admin session tokens.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	JWTExpiry string `yaml:"jwt_expiry"`
}

// KeysYAML mirrors the key settings in the YAML file.
type KeysYAML struct {
	Prefix               string `yaml:"prefix"`
	PublicIDLength       int    `yaml:"public_id_length"`
	PrivateSecretLength  int    `yaml:"private_secret_length"`
	LogKeyUsage          *bool  `yaml:"log_key_usage,omitempty"`
	EnableQueryParamAuth bool   `yaml:"enable_query_param_auth"`
	AuthScheme           string `yaml:"auth_scheme"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadYAMLConfig reads and parses a YAML configuration file. Environment
// variables referenced as ${VAR_NAME} in the file are expanded before
// parsing.
func LoadYAMLConfig(path string) (*YAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	content := os.ExpandEnv(string(data))

	var cfg YAMLConfig
	if err := yaml.Unmarshal([]byte(content), &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return &cfg, nil
}

// DefaultYAMLConfig returns a YAMLConfig pre-filled with sensible defaults.
func DefaultYAMLConfig() *YAMLConfig {
	logUsage := true
	return &YAMLConfig{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: "30s",
			RatePerMinute:   600,
			CORS: CORSConfig{
				Origins: []string{"*"},
				Methods: []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
			},
		},
		Store: StoreConfig{
			Driver: "sqlite",
		},
		Auth: AuthConfig{
			JWTExpiry: "24h",
		},
		Keys: KeysYAML{
			Prefix:              DefaultKeyPrefix,
			PublicIDLength:      DefaultPublicIDLength,
			PrivateSecretLength: DefaultPrivateSecretLength,
			LogKeyUsage:         &logUsage,
			AuthScheme:          DefaultAuthScheme,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// WriteDefaultConfig writes the default configuration to a YAML file.
func WriteDefaultConfig(path string) error {
	cfg := DefaultYAMLConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// KeysSettings converts the YAML keys section to the immutable Keys struct,
// filling defaults for zero values.
func (y *YAMLConfig) KeysSettings() (Keys, error) {
	k := DefaultKeys()
	if y.Keys.Prefix != "" {
		k.Prefix = y.Keys.Prefix
	}
	if y.Keys.PublicIDLength != 0 {
		k.PublicIDLength = y.Keys.PublicIDLength
	}
	if y.Keys.PrivateSecretLength != 0 {
		k.PrivateSecretLength = y.Keys.PrivateSecretLength
	}
	if y.Keys.LogKeyUsage != nil {
		k.LogKeyUsage = *y.Keys.LogKeyUsage
	}
	k.EnableQueryParamAuth = y.Keys.EnableQueryParamAuth
	if y.Keys.AuthScheme != "" {
		k.AuthScheme = y.Keys.AuthScheme
	}
	if err := k.Validate(); err != nil {
		return Keys{}, err
	}
	return k, nil
}
