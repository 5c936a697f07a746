package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/opensource-finance/avia/internal/domain"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(Options{EnvFiles: []string{}, Getenv: envMap(nil)})
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if diff := cmp.Diff(domain.DefaultConfig(), cfg); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadTier(t *testing.T) {
	tests := []struct {
		tier    string
		repo    string
		cache   string
		bus     string
		wantErr bool
	}{
		{"community", "sqlite", "memory", "channel", false},
		{"pro", "postgres", "redis", "nats", false},
		{"enterprise", "postgres", "redis", "kafka", false},
		{"platinum", "", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.tier, func(t *testing.T) {
			cfg, err := Load(Options{EnvFiles: []string{}, Getenv: envMap(map[string]string{"AVIA_TIER": tt.tier})})
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("load failed: %v", err)
			}
			if cfg.Repository.Driver != tt.repo || cfg.Cache.Type != tt.cache || cfg.EventBus.Type != tt.bus {
				t.Errorf("expected %s/%s/%s, got %s/%s/%s", tt.repo, tt.cache, tt.bus,
					cfg.Repository.Driver, cfg.Cache.Type, cfg.EventBus.Type)
			}
		})
	}
}

func TestLoadPrecedence(t *testing.T) {
	path := writeFile(t, "avia.yaml", `
server:
  port: 9000
scoring:
  modelDir: /srv/models
  cacheTtl: 2m
logging:
  format: text
`)

	cfg, err := Load(Options{
		Path:     path,
		EnvFiles: []string{},
		Getenv: envMap(map[string]string{
			"AVIA_PORT":          "9100",
			"AVIA_KAFKA_BROKERS": "a:9092, b:9092",
			"AVIA_SESSION_TTL":   "1h",
			"AVIA_DEBUG":         "true",
		}),
	})
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Server.Port != 9100 {
		t.Errorf("expected env port 9100, got %d", cfg.Server.Port)
	}
	if cfg.Scoring.ModelDir != "/srv/models" || cfg.Scoring.CacheTTL != 2*time.Minute {
		t.Errorf("expected file scoring settings, got %+v", cfg.Scoring)
	}
	if cfg.Logging.Format != "text" || cfg.Logging.Level != "debug" {
		t.Errorf("unexpected logging %+v", cfg.Logging)
	}
	if diff := cmp.Diff([]string{"a:9092", "b:9092"}, cfg.EventBus.KafkaBrokers); diff != "" {
		t.Errorf("brokers mismatch (-want +got):\n%s", diff)
	}
	if cfg.Auth.SessionTTL != time.Hour {
		t.Errorf("expected 1h session TTL, got %v", cfg.Auth.SessionTTL)
	}
	if cfg.Repository.Driver != "sqlite" {
		t.Errorf("expected untouched default driver, got %s", cfg.Repository.Driver)
	}
}

func TestLoadFileErrors(t *testing.T) {
	t.Run("UnknownField", func(t *testing.T) {
		path := writeFile(t, "bad.yaml", "server:\n  prot: 9000\n")
		if _, err := Load(Options{Path: path, EnvFiles: []string{}, Getenv: envMap(nil)}); err == nil {
			t.Error("expected error for unknown field")
		}
	})

	t.Run("Missing", func(t *testing.T) {
		if _, err := Load(Options{Path: "/nonexistent/avia.yaml", EnvFiles: []string{}, Getenv: envMap(nil)}); err == nil {
			t.Error("expected error for missing file")
		}
	})

	t.Run("Empty", func(t *testing.T) {
		path := writeFile(t, "empty.yaml", "")
		if _, err := Load(Options{Path: path, EnvFiles: []string{}, Getenv: envMap(nil)}); err != nil {
			t.Errorf("expected empty file to be accepted, got %v", err)
		}
	})
}

func TestLoadEnvErrors(t *testing.T) {
	_, err := Load(Options{EnvFiles: []string{}, Getenv: envMap(map[string]string{
		"AVIA_PORT":        "eighty",
		"AVIA_SESSION_TTL": "forever",
	})})
	if err == nil {
		t.Fatal("expected parse errors")
	}
	for _, key := range []string{"AVIA_PORT", "AVIA_SESSION_TTL"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("expected error to mention %s, got %v", key, err)
		}
	}
}

func TestLoadDotEnv(t *testing.T) {
	const key = "AVIA_SERVICE_NAME"
	if _, ok := os.LookupEnv(key); ok {
		t.Skipf("%s already set", key)
	}
	t.Cleanup(func() { os.Unsetenv(key) })

	path := writeFile(t, ".env", key+"=avia-test\n")
	cfg, err := Load(Options{EnvFiles: []string{path, filepath.Join(t.TempDir(), "missing.env")}})
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Tracing.ServiceName != "avia-test" {
		t.Errorf("expected service name from .env, got %s", cfg.Tracing.ServiceName)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.Config)
		want   string
	}{
		{"port", func(c *domain.Config) { c.Server.Port = 0 }, "port"},
		{"driver", func(c *domain.Config) { c.Repository.Driver = "mysql" }, "repository driver"},
		{"redis", func(c *domain.Config) { c.Cache.Type = "redis"; c.Cache.RedisAddr = "" }, "redis address"},
		{"kafka", func(c *domain.Config) { c.EventBus.Type = "kafka"; c.EventBus.KafkaBrokers = nil }, "kafka brokers"},
		{"bus", func(c *domain.Config) { c.EventBus.Type = "rabbitmq" }, "event bus"},
		{"workers", func(c *domain.Config) { c.Scoring.RuleWorkers = 0 }, "rule workers"},
		{"upload", func(c *domain.Config) { c.Upload.MaxBytes = 0 }, "upload size"},
		{"format", func(c *domain.Config) { c.Logging.Format = "xml" }, "log format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := domain.DefaultConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}

	if err := Validate(domain.EnterpriseConfig()); err != nil {
		t.Errorf("expected enterprise defaults to validate, got %v", err)
	}
}
