package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		App:   AppConfig{Env: "local", Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "app", Name: "voicegate", SSLMode: "disable"},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret", AccessTokenTTL: 15 * time.Minute},
		Telephony: TelephonyConfig{
			PublicHost: "gw.example.com",
		},
	}
}

func TestValidateOK(t *testing.T) {
	c := validConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateRequiresPublicHost(t *testing.T) {
	c := validConfig()
	c.Telephony.PublicHost = ""
	err := c.Validate()
	if err == nil || !strings.Contains(err.Error(), "PUBLIC_HOST") {
		t.Fatalf("expected PUBLIC_HOST error, got %v", err)
	}
}

func TestValidateRejectsPublicHostWithScheme(t *testing.T) {
	c := validConfig()
	c.Telephony.PublicHost = "https://gw.example.com"
	err := c.Validate()
	if err == nil || !strings.Contains(err.Error(), "bare host") {
		t.Fatalf("expected bare host error, got %v", err)
	}
}

func TestValidateProductionRequiresSSLMode(t *testing.T) {
	c := validConfig()
	c.App.Env = "production"
	c.DB.SSLMode = ""
	c.Auth.JWTIssuer = "voicegate"
	c.Auth.JWTAudience = "voicegate-api"
	err := c.Validate()
	if err == nil || !strings.Contains(err.Error(), "DB_SSLMODE") {
		t.Fatalf("expected DB_SSLMODE error, got %v", err)
	}
}

func TestValidateDefaultsSSLModeOutsideProduction(t *testing.T) {
	c := validConfig()
	c.DB.SSLMode = ""
	if err := c.Validate(); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected disable default, got %q", c.DB.SSLMode)
	}
}

func TestValidateCollectsMultipleErrors(t *testing.T) {
	c := Config{}
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected error")
	}
	for _, want := range []string{"APP_ENV", "DB_HOST", "REDIS_HOST", "JWT_SECRET", "PUBLIC_HOST"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in error, got %v", want, err)
		}
	}
}
