package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CONFIG_FILE", "PORT", "STORE_DRIVER", "STORE_TIMEOUT", "MONGO_URI", "MONGO_DB_NAME",
		"SESSIONS_COLLECTION", "POSTGRES_HOST", "POSTGRES_DB", "SQLITE_PATH", "REDIS_ADDR",
		"REDIS_CHANNEL", "SCORING_POLICY", "REAPER_ENABLED", "REAPER_SCHEDULE",
		"REAPER_IDLE_AFTER", "CORS_ALLOWED_ORIGINS",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	if cfg.StoreDriver != DriverMemory {
		t.Fatalf("expected memory driver, got %s", cfg.StoreDriver)
	}
	if cfg.Port != "8080" {
		t.Fatalf("expected port 8080, got %s", cfg.Port)
	}
	if cfg.StoreTimeout != 5*time.Second {
		t.Fatalf("expected 5s store timeout, got %s", cfg.StoreTimeout)
	}
	if cfg.RedisChannel != "session_finalized" {
		t.Fatalf("expected session_finalized channel, got %s", cfg.RedisChannel)
	}
	if !cfg.Reaper.Enabled || cfg.Reaper.IdleAfter != 30*time.Minute {
		t.Fatalf("unexpected reaper defaults %+v", cfg.Reaper)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_DRIVER", "SQLITE")
	t.Setenv("SQLITE_PATH", "/tmp/sessions.db")
	t.Setenv("STORE_TIMEOUT", "750ms")
	t.Setenv("REAPER_ENABLED", "false")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://localhost:5173, https://proctor.example.com")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	if cfg.StoreDriver != DriverSQLite || cfg.SQLitePath != "/tmp/sessions.db" {
		t.Fatalf("unexpected store settings %s %s", cfg.StoreDriver, cfg.SQLitePath)
	}
	if cfg.StoreTimeout != 750*time.Millisecond {
		t.Fatalf("expected 750ms, got %s", cfg.StoreTimeout)
	}
	if cfg.Reaper.Enabled {
		t.Fatal("expected reaper disabled")
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://proctor.example.com" {
		t.Fatalf("unexpected origins %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "proctoring.yaml")
	data := []byte(`
port: "9090"
store_driver: postgres
postgres:
  host: db.internal
  db_name: sessions
reaper:
  enabled: true
  schedule: "@every 5m"
  idle_after: 45m
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "7070")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	if cfg.Port != "7070" {
		t.Fatalf("expected env to win over file, got port %s", cfg.Port)
	}
	if cfg.StoreDriver != DriverPostgres || cfg.Postgres.Host != "db.internal" || cfg.Postgres.DBName != "sessions" {
		t.Fatalf("unexpected postgres settings %+v", cfg.Postgres)
	}
	if cfg.Postgres.Port != "5432" {
		t.Fatalf("expected default postgres port to survive overlay, got %s", cfg.Postgres.Port)
	}
	if cfg.Reaper.Schedule != "@every 5m" || cfg.Reaper.IdleAfter != 45*time.Minute {
		t.Fatalf("unexpected reaper settings %+v", cfg.Reaper)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown driver":   {"STORE_DRIVER": "cassandra"},
		"bad timeout":      {"STORE_TIMEOUT": "soon"},
		"negative timeout": {"STORE_TIMEOUT": "-1s"},
		"bad bool":         {"REAPER_ENABLED": "maybe"},
		"zero idle":        {"REAPER_IDLE_AFTER": "0s"},
		"missing file":     {"CONFIG_FILE": "/nonexistent/proctoring.yaml"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := LoadConfig(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{Host: "h", Port: "1", User: "u", Password: "p", DBName: "d", SSLMode: "disable"}
	want := "host=h user=u password=p dbname=d port=1 sslmode=disable"
	if got := p.DSN(); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("UNIT_TEST_ENV", "value")
	if got := getEnvOrDefault("UNIT_TEST_ENV", "fallback"); got != "value" {
		t.Fatalf("expected env value, got %s", got)
	}

	t.Setenv("UNIT_TEST_ENV", "")
	if got := getEnvOrDefault("UNIT_TEST_ENV", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback value, got %s", got)
	}
}
