package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default configuration file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port               string `yaml:"port"`
	DatabaseURL        string `yaml:"databaseURL"`
	LogLevel           string `yaml:"logLevel"`
	RedisAddr          string `yaml:"redisAddr"`
	RedisPassword      string `yaml:"redisPassword"`
	EventStream        string `yaml:"eventStream"`
	IdentityServiceURL string `yaml:"identityServiceURL"`
	IdentityToken      string `yaml:"identityToken"`
	JWKSURL            string `yaml:"jwksURL"`
	JWTIssuer          string `yaml:"jwtIssuer"`
	JWTAudience        string `yaml:"jwtAudience"`
	JWTLeeway          string `yaml:"jwtLeeway"`
}

// Load reads config from path (defaults to config.yaml). Secrets may be
// overridden through the environment.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("IDENTITY_TOKEN"); v != "" {
		cfg.IdentityToken = v
	}
	if cfg.EventStream == "" {
		cfg.EventStream = "messaging:events"
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ParseJWTLeeway parses the configured leeway; empty means the verifier
// default.
func ParseJWTLeeway(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	leeway, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse jwtLeeway: %w", err)
	}
	if leeway < 0 {
		return 0, errors.New("jwtLeeway must not be negative")
	}
	return leeway, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.IdentityServiceURL == "" {
		return errors.New("config: identityServiceURL is required (set in config.yaml)")
	}
	if cfg.JWKSURL == "" {
		return errors.New("config: jwksURL is required (set in config.yaml)")
	}
	return nil
}
