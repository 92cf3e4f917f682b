package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validLocal() Config {
	return Config{
		App:  AppConfig{Env: "local", Port: 8080},
		Auth: AuthConfig{JWTSecret: "secret"},
	}
}

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "APP_ENV is required") || !strings.Contains(err.Error(), "JWT_SECRET is required") {
		t.Fatalf("expected aggregated errors, got %v", err)
	}
}

func TestValidate_LocalDefaults(t *testing.T) {
	c := validLocal()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.Storage.Driver != StorageMemory {
		t.Fatalf("expected memory storage default, got %q", c.Storage.Driver)
	}
	if c.Realtime.Relay != RelayNone {
		t.Fatalf("expected relay none, got %q", c.Realtime.Relay)
	}
	if c.Dispatch.DefaultWrapUp != 30*time.Second {
		t.Fatalf("expected 30s wrap-up default, got %s", c.Dispatch.DefaultWrapUp)
	}
	if c.Telephony.Timeout != 10*time.Second {
		t.Fatalf("expected 10s telephony timeout, got %s", c.Telephony.Timeout)
	}
	if c.Auth.AccessTokenTTL != 15*time.Minute {
		t.Fatalf("expected access ttl default, got %s", c.Auth.AccessTokenTTL)
	}
}

func TestValidate_ProductionRequiresPostgresAndSSLMode(t *testing.T) {
	c := Config{
		App:     AppConfig{Env: "production", Port: 8080},
		Storage: StorageConfig{Driver: StoragePostgres},
		DB:      DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "dispatch"},
		Auth:    AuthConfig{JWTSecret: "secret", JWTIssuer: "iss", JWTAudience: "aud"},
	}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}

	c.Storage.Driver = StorageMemory
	c.DB.SSLMode = "require"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for memory storage in production")
	}
}

func TestValidate_PostgresLocalDefaultsSSLMode(t *testing.T) {
	c := validLocal()
	c.Storage.Driver = StoragePostgres
	c.DB = DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "dispatch"}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
}

func TestValidate_RedisRelayRequiresHost(t *testing.T) {
	c := validLocal()
	c.Realtime.Relay = RelayRedis
	c.Redis.Port = 6379
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for redis relay without host")
	}
	c.Redis.Host = "localhost"
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.Realtime.RelayChannel != "dispatch:events" {
		t.Fatalf("unexpected relay channel %q", c.Realtime.RelayChannel)
	}
}

func TestValidate_RejectsBadTelephonyURL(t *testing.T) {
	c := validLocal()
	c.Telephony.BaseURL = "ftp://pbx"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for non-http telephony url")
	}
}

func TestLoad_ReadsEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	body := strings.Join([]string{
		"APP_ENV=local",
		"APP_PORT=9090",
		"JWT_SECRET=from-file",
		"DISPATCH_WRAP_UP_SECONDS=5",
		"REALTIME_ALLOWED_ORIGINS=http://a.test, http://b.test",
	}, "\n")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	for _, k := range []string{"APP_ENV", "APP_PORT", "JWT_SECRET", "DISPATCH_WRAP_UP_SECONDS", "REALTIME_ALLOWED_ORIGINS", "STORAGE_DRIVER", "REALTIME_RELAY"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.App.Port != 9090 || c.Auth.JWTSecret != "from-file" {
		t.Fatalf("unexpected config %+v", c.App)
	}
	if c.Dispatch.DefaultWrapUp != 5*time.Second {
		t.Fatalf("expected 5s wrap-up, got %s", c.Dispatch.DefaultWrapUp)
	}
	if len(c.Realtime.AllowedOrigins) != 2 || c.Realtime.AllowedOrigins[1] != "http://b.test" {
		t.Fatalf("unexpected origins %v", c.Realtime.AllowedOrigins)
	}
}

func TestLoad_RejectsNonIntegerPort(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("APP_PORT", "eighty")
	t.Setenv("JWT_SECRET", "s")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected parse error")
	}
}
