// Package config loads the process configuration once at startup. The
// resulting Config is a plain value handed to every component that needs it;
// nothing reads the environment after Load returns.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/fidelis-church/fidelis-backend/internal/fidelity"
)

const defaultJWTSecret = "dev-secret-change-me"

// Config captures runtime configuration values for the API and the admin CLI.
type Config struct {
	Env            string
	Port           string
	DatabaseURL    string
	DBMaxOpenConns int
	AutoMigrate    bool

	JWTSecret string
	JWTIssuer string
	TokenTTL  time.Duration

	AllowedOrigins []string
	WebhookSecret  string

	LogLevel string
	LogDev   bool

	// Per client IP limits for unauthenticated endpoints (login, self-registration, RSVP).
	PublicRatePerMinute int
	PublicRateBurst     int

	Fidelity fidelity.Weights
}

var (
	ErrMissingDatabaseURL = errors.New("DATABASE_URL is required")
	ErrWeakJWTSecret      = errors.New("JWT_SECRET must be at least 16 characters")
	ErrDefaultJWTSecret   = errors.New("JWT_SECRET must be set outside development")
)

// New returns a viper instance carrying every default. Environment variables
// override defaults, and an optional YAML file named by CONFIG_FILE sits in
// between.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault("env", "development")
	v.SetDefault("port", "5050")
	v.SetDefault("database_url", "")
	v.SetDefault("db_max_open_conns", 20)
	v.SetDefault("auto_migrate", true)
	v.SetDefault("jwt_secret", defaultJWTSecret)
	v.SetDefault("jwt_issuer", "fidelis.api")
	v.SetDefault("token_ttl", 6*time.Hour)
	v.SetDefault("allowed_origins", []string{
		"http://localhost:5173",
		"http://localhost:5174",
	})
	v.SetDefault("webhook_secret", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_dev", false)
	v.SetDefault("public_rate_per_minute", 30)
	v.SetDefault("public_rate_burst", 10)
	v.SetDefault("fidelity_sunday_weight", fidelity.DefaultWeights.Dimanche)
	v.SetDefault("fidelity_thursday_weight", fidelity.DefaultWeights.Jeudi)
	v.SetDefault("config_file", "")
	v.AutomaticEnv()
	return v
}

// Load reads .env.local (if present), the optional config file and the
// environment, then validates the result.
func Load() (Config, error) {
	_ = godotenv.Load(".env.local")

	v := New()
	if path := v.GetString("config_file"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}
	return FromViper(v)
}

// FromViper builds and validates a Config from an already populated viper.
func FromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		Env:                 strings.ToLower(v.GetString("env")),
		Port:                v.GetString("port"),
		DatabaseURL:         strings.TrimSpace(v.GetString("database_url")),
		DBMaxOpenConns:      v.GetInt("db_max_open_conns"),
		AutoMigrate:         v.GetBool("auto_migrate"),
		JWTSecret:           v.GetString("jwt_secret"),
		JWTIssuer:           v.GetString("jwt_issuer"),
		TokenTTL:            v.GetDuration("token_ttl"),
		AllowedOrigins:      stringList(v, "allowed_origins"),
		WebhookSecret:       v.GetString("webhook_secret"),
		LogLevel:            v.GetString("log_level"),
		LogDev:              v.GetBool("log_dev"),
		PublicRatePerMinute: v.GetInt("public_rate_per_minute"),
		PublicRateBurst:     v.GetInt("public_rate_burst"),
		Fidelity: fidelity.Weights{
			Dimanche: v.GetFloat64("fidelity_sunday_weight"),
			Jeudi:    v.GetFloat64("fidelity_thursday_weight"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return ErrMissingDatabaseURL
	}
	if len(c.JWTSecret) < 16 {
		return ErrWeakJWTSecret
	}
	if c.Env != "development" && c.Env != "test" && c.JWTSecret == defaultJWTSecret {
		return ErrDefaultJWTSecret
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive, got %s", c.TokenTTL)
	}
	if c.PublicRatePerMinute <= 0 || c.PublicRateBurst <= 0 {
		return errors.New("PUBLIC_RATE_PER_MINUTE and PUBLIC_RATE_BURST must be positive")
	}
	if err := c.Fidelity.Validate(); err != nil {
		return err
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	return "0.0.0.0:" + c.Port
}

// stringList accepts both YAML lists and comma separated env values.
func stringList(v *viper.Viper, key string) []string {
	var out []string
	for _, item := range v.GetStringSlice(key) {
		out = append(out, splitAndTrim(item)...)
	}
	return out
}

func splitAndTrim(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
