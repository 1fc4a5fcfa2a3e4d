// Package config loads settings from the environment, with an optional .env
// file for local development.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// devJWTSecret signs sessions when JWT_SECRET is unset outside production.
const devJWTSecret = "dev-only-insecure-secret"

type Config struct {
	AppEnv         string `mapstructure:"APP_ENV"`
	Port           string `mapstructure:"PORT"`
	DatabaseURL    string `mapstructure:"DATABASE_URL"`
	StorageBackend string `mapstructure:"STORAGE_BACKEND"`

	JWTSecret  string        `mapstructure:"JWT_SECRET"`
	SessionTTL time.Duration `mapstructure:"SESSION_TTL"`

	OTPTTL           time.Duration `mapstructure:"OTP_TTL"`
	OTPSendLimit     int           `mapstructure:"OTP_SEND_LIMIT"`
	OTPSendWindow    time.Duration `mapstructure:"OTP_SEND_WINDOW"`
	OTPSweepSchedule string        `mapstructure:"OTP_SWEEP_SCHEDULE"`
	OTPRetention     time.Duration `mapstructure:"OTP_RETENTION"`

	ReconcileSchedule string `mapstructure:"RECONCILE_SCHEDULE"`

	NATSURL       string `mapstructure:"NATS_URL"`
	RedisURL      string `mapstructure:"REDIS_URL"`
	SMSGatewayURL string `mapstructure:"SMS_GATEWAY_URL"`
	SMSAsync      bool   `mapstructure:"SMS_ASYNC"`

	CORSAllowedOrigins []string `mapstructure:"CORS_ALLOWED_ORIGINS"`
}

var keys = []string{
	"APP_ENV", "PORT", "DATABASE_URL", "STORAGE_BACKEND",
	"JWT_SECRET", "SESSION_TTL",
	"OTP_TTL", "OTP_SEND_LIMIT", "OTP_SEND_WINDOW", "OTP_SWEEP_SCHEDULE", "OTP_RETENTION",
	"RECONCILE_SCHEDULE",
	"NATS_URL", "REDIS_URL", "SMS_GATEWAY_URL", "SMS_ASYNC",
	"CORS_ALLOWED_ORIGINS",
}

// Load reads .env when present, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	viper.SetDefault("APP_ENV", EnvDevelopment)
	viper.SetDefault("PORT", "8080")
	viper.SetDefault("SESSION_TTL", 24*time.Hour)
	viper.SetDefault("OTP_TTL", 10*time.Minute)
	viper.SetDefault("OTP_SEND_LIMIT", 5)
	viper.SetDefault("OTP_SEND_WINDOW", 15*time.Minute)
	viper.SetDefault("OTP_SWEEP_SCHEDULE", "@every 1h")
	viper.SetDefault("OTP_RETENTION", 24*time.Hour)
	viper.SetDefault("RECONCILE_SCHEDULE", "0 3 * * *") // 03:00 daily
	viper.SetDefault("SMS_ASYNC", false)
	viper.SetDefault("CORS_ALLOWED_ORIGINS", []string{"*"})
	viper.AutomaticEnv()

	for _, k := range keys {
		_ = viper.BindEnv(k)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() error {
	c.AppEnv = strings.ToLower(strings.TrimSpace(c.AppEnv))
	if c.AppEnv != EnvDevelopment && c.AppEnv != EnvProduction {
		return fmt.Errorf("APP_ENV must be %q or %q, got %q", EnvDevelopment, EnvProduction, c.AppEnv)
	}

	c.StorageBackend = strings.ToLower(strings.TrimSpace(c.StorageBackend))
	if c.StorageBackend == "" {
		c.StorageBackend = BackendMemory
		if c.DatabaseURL != "" {
			c.StorageBackend = BackendPostgres
		}
	}
	switch c.StorageBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres backend")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be %q or %q, got %q", BackendPostgres, BackendMemory, c.StorageBackend)
	}

	if c.JWTSecret == "" {
		if c.IsProduction() {
			return errors.New("JWT_SECRET is required in production")
		}
		c.JWTSecret = devJWTSecret
	}
	if c.SMSAsync && c.StorageBackend != BackendPostgres {
		return errors.New("SMS_ASYNC needs the postgres backend for its job queue")
	}
	if c.OTPTTL <= 0 || c.SessionTTL <= 0 {
		return errors.New("OTP_TTL and SESSION_TTL must be positive")
	}
	if c.OTPSendLimit < 0 {
		return errors.New("OTP_SEND_LIMIT must not be negative")
	}
	return nil
}

func (c *Config) IsProduction() bool { return c.AppEnv == EnvProduction }

// EchoOTP reports whether issued codes may be returned in API responses.
func (c *Config) EchoOTP() bool { return !c.IsProduction() }
