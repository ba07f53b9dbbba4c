package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds the server settings resolved from the environment, an optional
// .env file and an optional config file.
type Config struct {
	Env            string        `mapstructure:"env"`
	Port           string        `mapstructure:"port"`
	DatabasePath   string        `mapstructure:"database_path"`
	LogLevel       string        `mapstructure:"log_level"`
	JWTSecret      string        `mapstructure:"jwt_secret"`
	SessionTTL     time.Duration `mapstructure:"session_ttl"`
	CodePrefix     string        `mapstructure:"connection_code_prefix"`
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes"`
	PendingCodeTTL time.Duration `mapstructure:"pending_code_ttl"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	DevAPIKey      string        `mapstructure:"dev_api_key"`
	DevAPISecret   string        `mapstructure:"dev_api_secret"`
	DevUserID      string        `mapstructure:"dev_user_id"`
}

var defaults = map[string]any{
	"env":                    "development",
	"port":                   "8080",
	"database_path":          "journal.db",
	"log_level":              "info",
	"jwt_secret":             "tradejournal-dev-secret",
	"session_ttl":            "24h",
	"connection_code_prefix": "TJ",
	"max_upload_bytes":       5 << 20,
	"pending_code_ttl":       "168h",
	"sweep_interval":         "5m",
	"dev_api_key":            "",
	"dev_api_secret":         "",
	"dev_user_id":            "",
}

// Load reads configuration. path may be empty, in which case only the
// environment (and a .env file in the working directory) is consulted.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("failed to load .env file")
	}

	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
		// Keys map one-to-one onto upper-cased environment variables.
		if err := v.BindEnv(key, strings.ToUpper(key)); err != nil {
			return nil, fmt.Errorf("binding env for %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
		)
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Port == "" {
		return errors.New("port must not be empty")
	}
	if c.DatabasePath == "" {
		return errors.New("database_path must not be empty")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max_upload_bytes must be positive, got %d", c.MaxUploadBytes)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session_ttl must be positive, got %s", c.SessionTTL)
	}
	if c.PendingCodeTTL <= 0 || c.SweepInterval <= 0 {
		return fmt.Errorf("pending_code_ttl and sweep_interval must be positive, got %s and %s", c.PendingCodeTTL, c.SweepInterval)
	}
	if c.IsProduction() && c.JWTSecret == defaults["jwt_secret"] {
		return errors.New("jwt_secret must be set in production")
	}
	if c.DevAPIKey != "" && c.DevUserID == "" {
		return errors.New("dev_user_id is required when dev_api_key is set")
	}
	// Codes are matched upper-cased, so the prefix is stored that way too
	c.CodePrefix = strings.ToUpper(strings.TrimSpace(c.CodePrefix))
	if !validPrefix(c.CodePrefix) {
		return fmt.Errorf("invalid connection_code_prefix %q", c.CodePrefix)
	}
	return nil
}

// validPrefix accepts 1 to 8 characters of A-Z and 0-9
func validPrefix(p string) bool {
	if p == "" || len(p) > 8 {
		return false
	}
	for i := 0; i < len(p); i++ {
		if (p[i] < 'A' || p[i] > 'Z') && (p[i] < '0' || p[i] > '9') {
			return false
		}
	}
	return true
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
