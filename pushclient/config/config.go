package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/tinywideclouds/go-apns-client/pkg/apns"
)

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type TokenConfig struct {
	KeyPath    string
	KeyContent string
	KeyID      string
	TeamID     string
}

type CertificateConfig struct {
	Path       string
	Passphrase string
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	Environment apns.Environment
	Timeout     time.Duration
	RootCAPath  string
	Topic       string

	Token       TokenConfig
	Certificate CertificateConfig
	Redis       RedisConfig
}

// AuthConfig returns the credentials in the form apns.NewAuthenticator takes.
func (c *Config) AuthConfig() apns.AuthConfig {
	auth := apns.AuthConfig{
		KeyPath:        c.Token.KeyPath,
		KeyID:          c.Token.KeyID,
		TeamID:         c.Token.TeamID,
		CertPath:       c.Certificate.Path,
		CertPassphrase: c.Certificate.Passphrase,
	}
	if c.Token.KeyContent != "" {
		auth.KeyContent = []byte(c.Token.KeyContent)
	}
	return auth
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	if val := os.Getenv("APNS_ENVIRONMENT"); val != "" {
		logger.Debug("Overriding config value", "key", "APNS_ENVIRONMENT", "source", "env")
		cfg.Environment = apns.Environment(val)
	}
	if val := os.Getenv("APNS_TIMEOUT"); val != "" {
		timeout, err := time.ParseDuration(val)
		if err != nil {
			return nil, fmt.Errorf("invalid APNS_TIMEOUT %q: %w", val, err)
		}
		logger.Debug("Overriding config value", "key", "APNS_TIMEOUT", "source", "env")
		cfg.Timeout = timeout
	}
	if val := os.Getenv("APNS_ROOT_CA_PATH"); val != "" {
		logger.Debug("Overriding config value", "key", "APNS_ROOT_CA_PATH", "source", "env")
		cfg.RootCAPath = val
	}
	if val := os.Getenv("APNS_TOPIC"); val != "" {
		logger.Debug("Overriding config value", "key", "APNS_TOPIC", "source", "env")
		cfg.Topic = val
	}

	// Token Overrides
	if val := os.Getenv("APNS_KEY_PATH"); val != "" {
		logger.Debug("Overriding config value", "key", "APNS_KEY_PATH", "source", "env")
		cfg.Token.KeyPath = val
	}
	if val := os.Getenv("APNS_KEY_CONTENT"); val != "" {
		logger.Debug("Overriding config value", "key", "APNS_KEY_CONTENT", "source", "env")
		cfg.Token.KeyContent = val
	}
	if val := os.Getenv("APNS_KEY_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "APNS_KEY_ID", "source", "env")
		cfg.Token.KeyID = val
	}
	if val := os.Getenv("APNS_TEAM_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "APNS_TEAM_ID", "source", "env")
		cfg.Token.TeamID = val
	}

	// Certificate Overrides
	if val := os.Getenv("APNS_CERT_PATH"); val != "" {
		logger.Debug("Overriding config value", "key", "APNS_CERT_PATH", "source", "env")
		cfg.Certificate.Path = val
	}
	if val := os.Getenv("APNS_CERT_PASSPHRASE"); val != "" {
		logger.Debug("Overriding config value", "key", "APNS_CERT_PASSPHRASE", "source", "env")
		cfg.Certificate.Passphrase = val
	}

	// Redis Overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Redis.Enabled = enabled
	}

	// 2. Final Validation
	if cfg.Environment == "" {
		cfg.Environment = apns.Development
	}
	if cfg.Environment.URL() == "" {
		return nil, fmt.Errorf("environment must be %q or %q, got %q", apns.Production, apns.Development, cfg.Environment)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = apns.DefaultTimeout
	}
	if err := validateAuth(cfg); err != nil {
		return nil, err
	}
	if cfg.Redis.Enabled && cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis.addr is required when redis is enabled (set via YAML or REDIS_ADDR env var)")
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}

// validateAuth requires exactly one complete authentication mode.
func validateAuth(cfg *Config) error {
	t := cfg.Token
	tokenAny := t.KeyPath != "" || t.KeyContent != "" || t.KeyID != "" || t.TeamID != ""
	certAny := cfg.Certificate.Path != "" || cfg.Certificate.Passphrase != ""

	switch {
	case tokenAny && certAny:
		return fmt.Errorf("configure either token or certificate authentication, not both")
	case certAny:
		if cfg.Certificate.Path == "" {
			return fmt.Errorf("certificate.path is required (set via YAML or APNS_CERT_PATH env var)")
		}
	case tokenAny:
		if t.KeyPath == "" && t.KeyContent == "" {
			return fmt.Errorf("token.key_path or token.key_content is required (set via YAML or APNS_KEY_PATH/APNS_KEY_CONTENT env var)")
		}
		if t.KeyPath != "" && t.KeyContent != "" {
			return fmt.Errorf("token.key_path and token.key_content are mutually exclusive")
		}
		if t.KeyID == "" || t.TeamID == "" {
			return fmt.Errorf("token.key_id and token.team_id are required (set via YAML or APNS_KEY_ID/APNS_TEAM_ID env vars)")
		}
	default:
		return fmt.Errorf("no APNs credentials configured")
	}
	return nil
}
