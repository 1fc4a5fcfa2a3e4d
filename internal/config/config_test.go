package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func resetEnv(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	resetEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AppEnv != EnvDevelopment || cfg.Port != "8080" {
		t.Errorf("env/port: %q %q", cfg.AppEnv, cfg.Port)
	}
	if cfg.StorageBackend != BackendMemory {
		t.Errorf("backend: got %q", cfg.StorageBackend)
	}
	if cfg.OTPTTL != 10*time.Minute || cfg.SessionTTL != 24*time.Hour {
		t.Errorf("ttls: %s %s", cfg.OTPTTL, cfg.SessionTTL)
	}
	if cfg.OTPSendLimit != 5 || cfg.OTPSendWindow != 15*time.Minute {
		t.Errorf("limit: %d per %s", cfg.OTPSendLimit, cfg.OTPSendWindow)
	}
	if cfg.JWTSecret == "" || !cfg.EchoOTP() {
		t.Error("development should get a secret and echo codes")
	}
}

func TestLoad_FromEnv(t *testing.T) {
	resetEnv(t)
	t.Setenv("APP_ENV", "Production")
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost:5432/lc?sslmode=disable")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("OTP_TTL", "5m")
	t.Setenv("OTP_SEND_LIMIT", "3")
	t.Setenv("SMS_ASYNC", "true")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.IsProduction() || cfg.EchoOTP() {
		t.Error("expected production without code echo")
	}
	if cfg.StorageBackend != BackendPostgres {
		t.Errorf("backend: got %q", cfg.StorageBackend)
	}
	if cfg.OTPTTL != 5*time.Minute || cfg.OTPSendLimit != 3 || !cfg.SMSAsync {
		t.Errorf("otp settings: %+v", cfg)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.example" {
		t.Errorf("cors: %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"production without secret", map[string]string{"APP_ENV": "production"}, "JWT_SECRET"},
		{"postgres without url", map[string]string{"STORAGE_BACKEND": "postgres"}, "DATABASE_URL"},
		{"unknown backend", map[string]string{"STORAGE_BACKEND": "mongo"}, "STORAGE_BACKEND"},
		{"unknown env", map[string]string{"APP_ENV": "staging"}, "APP_ENV"},
		{"async sms on memory", map[string]string{"SMS_ASYNC": "true"}, "SMS_ASYNC"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should mention %s", err, tt.want)
			}
		})
	}
}
