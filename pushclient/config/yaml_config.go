package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-apns-client/pkg/apns"
)

type YamlTokenConfig struct {
	KeyPath    string `yaml:"key_path"`
	KeyContent string `yaml:"key_content"`
	KeyID      string `yaml:"key_id"`
	TeamID     string `yaml:"team_id"`
}

type YamlCertificateConfig struct {
	Path       string `yaml:"path"`
	Passphrase string `yaml:"passphrase"`
}

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	Environment       string                `yaml:"environment"`
	Timeout           string                `yaml:"timeout"`
	RootCAPath        string                `yaml:"root_ca_path"`
	Topic             string                `yaml:"topic"`
	TokenConfig       YamlTokenConfig       `yaml:"token"`
	CertificateConfig YamlCertificateConfig `yaml:"certificate"`
	RedisConfig       YamlRedisConfig       `yaml:"redis"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	cfg := &Config{
		Environment: apns.Environment(baseCfg.Environment),
		RootCAPath:  baseCfg.RootCAPath,
		Topic:       baseCfg.Topic,
		Token: TokenConfig{
			KeyPath:    baseCfg.TokenConfig.KeyPath,
			KeyContent: baseCfg.TokenConfig.KeyContent,
			KeyID:      baseCfg.TokenConfig.KeyID,
			TeamID:     baseCfg.TokenConfig.TeamID,
		},
		Certificate: CertificateConfig{
			Path:       baseCfg.CertificateConfig.Path,
			Passphrase: baseCfg.CertificateConfig.Passphrase,
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
		},
	}

	if baseCfg.Timeout != "" {
		timeout, err := time.ParseDuration(baseCfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout %q: %w", baseCfg.Timeout, err)
		}
		cfg.Timeout = timeout
	}

	logger.Debug("YAML config mapping complete",
		"environment", cfg.Environment,
		"topic", cfg.Topic,
		"redis_enabled", cfg.Redis.Enabled,
	)

	return cfg, nil
}
