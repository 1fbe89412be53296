// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, and duration parsing

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeConfig writes a config file to a temp dir and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"

database:
  path: "./test.db"

auth:
  jwt_secret: "session-secret"
  identity_secret: "identity-secret"
  worker_key: "worker-key"
  health_key: "health-key"
  session_ttl: "12h"

worker:
  poll_interval: "500ms"
  reply_timeout: "90s"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}
	if cfg.Auth.JWTSecret != "session-secret" {
		t.Errorf("Auth.JWTSecret = %q, want %q", cfg.Auth.JWTSecret, "session-secret")
	}
	if cfg.Auth.SessionTTL != 12*time.Hour {
		t.Errorf("Auth.SessionTTL = %v, want %v", cfg.Auth.SessionTTL, 12*time.Hour)
	}
	if cfg.Worker.PollInterval != 500*time.Millisecond {
		t.Errorf("Worker.PollInterval = %v, want %v", cfg.Worker.PollInterval, 500*time.Millisecond)
	}
	if cfg.Worker.ReplyTimeout != 90*time.Second {
		t.Errorf("Worker.ReplyTimeout = %v, want %v", cfg.Worker.ReplyTimeout, 90*time.Second)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
}

func TestLoad_Defaults(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "localhost:8080"
database:
  path: "./test.db"
auth:
  jwt_secret: "s"
  identity_secret: "i"
  worker_key: "w"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Auth.SessionTTL != DefaultSessionTTL {
		t.Errorf("Auth.SessionTTL = %v, want default %v", cfg.Auth.SessionTTL, DefaultSessionTTL)
	}
	if cfg.Worker.PollInterval != DefaultPollInterval {
		t.Errorf("Worker.PollInterval = %v, want default %v", cfg.Worker.PollInterval, DefaultPollInterval)
	}
	if cfg.Worker.ReplyTimeout != DefaultReplyTimeout {
		t.Errorf("Worker.ReplyTimeout = %v, want default %v", cfg.Worker.ReplyTimeout, DefaultReplyTimeout)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_JWT_SECRET", "expanded-secret")

	configPath := writeConfig(t, `
server:
  http_addr: "localhost:8080"
database:
  path: "./test.db"
auth:
  jwt_secret: "${TEST_JWT_SECRET}"
  identity_secret: "i"
  worker_key: "w"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Auth.JWTSecret != "expanded-secret" {
		t.Errorf("Auth.JWTSecret = %q, want %q", cfg.Auth.JWTSecret, "expanded-secret")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("Load() expected error for missing file")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "localhost:8080"
database:
  path: "./test.db"
auth:
  jwt_secret: "s"
  identity_secret: "i"
  worker_key: "w"
worker:
  reply_timeout: "not-a-duration"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "reply_timeout") {
		t.Errorf("error = %v, want mention of reply_timeout", err)
	}
}

func TestValidate_RequiredFields(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing http_addr",
			yaml: "database:\n  path: ./test.db\nauth:\n  jwt_secret: s\n  identity_secret: i\n  worker_key: w\n",
			want: "server.http_addr",
		},
		{
			name: "missing database path",
			yaml: "server:\n  http_addr: localhost:8080\nauth:\n  jwt_secret: s\n  identity_secret: i\n  worker_key: w\n",
			want: "database.path",
		},
		{
			name: "missing jwt secret",
			yaml: "server:\n  http_addr: localhost:8080\ndatabase:\n  path: ./test.db\nauth:\n  identity_secret: i\n  worker_key: w\n",
			want: "auth.jwt_secret",
		},
		{
			name: "missing worker key",
			yaml: "server:\n  http_addr: localhost:8080\ndatabase:\n  path: ./test.db\nauth:\n  jwt_secret: s\n  identity_secret: i\n",
			want: "auth.worker_key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := writeConfig(t, tt.yaml)
			_, err := Load(configPath)
			if err == nil {
				t.Fatal("Load() expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}
