package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), DefaultFileName)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") failed: %v", err)
	}

	if cfg.Ports.RangeStart != DefaultPortRangeStart || cfg.Ports.RangeEnd != DefaultPortRangeEnd {
		t.Errorf("Unexpected port range: %+v", cfg.Ports)
	}
	if cfg.RateLimit.Backend != BackendMemory || cfg.RateLimit.Window != time.Minute {
		t.Errorf("Unexpected rate limit defaults: %+v", cfg.RateLimit)
	}
	if cfg.Health.Interval != 10*time.Second || cfg.Health.Backoff != 30*time.Second {
		t.Errorf("Unexpected health defaults: %+v", cfg.Health)
	}
	if cfg.Transitions.Enforce {
		t.Error("Transition enforcement should be off by default")
	}
	if cfg.Addr() != "127.0.0.1:8090" {
		t.Errorf("Addr() = %s", cfg.Addr())
	}
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
state_dir: /var/lib/agentbox
listen:
  port: 9000
ports:
  range_start: 41000
  range_end: 41099
rate_limit:
  max_requests: 10
  window: 30s
allow_list:
  - 10.0.0.0/8
  - 192.0.2.1
trusted_proxies:
  - 127.0.0.1
builds:
  max_concurrent: 5
health:
  interval: 5s
  backoff: 1m
transitions:
  enforce: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.StateDir != "/var/lib/agentbox" {
		t.Errorf("StateDir = %s", cfg.StateDir)
	}
	if cfg.Listen.Port != 9000 || cfg.Listen.Host != DefaultHost {
		t.Errorf("Listen = %+v", cfg.Listen)
	}
	if cfg.Ports.RangeStart != 41000 || cfg.Ports.RangeEnd != 41099 {
		t.Errorf("Ports = %+v", cfg.Ports)
	}
	if cfg.RateLimit.MaxRequests != 10 || cfg.RateLimit.Window != 30*time.Second {
		t.Errorf("RateLimit = %+v", cfg.RateLimit)
	}
	if len(cfg.AllowList) != 2 {
		t.Errorf("AllowList = %v", cfg.AllowList)
	}
	if len(cfg.TrustedProxies) != 1 || cfg.TrustedProxies[0] != "127.0.0.1" {
		t.Errorf("TrustedProxies = %v", cfg.TrustedProxies)
	}
	if cfg.Builds.MaxConcurrent != 5 {
		t.Errorf("Builds = %+v", cfg.Builds)
	}
	if cfg.Health.Interval != 5*time.Second || cfg.Health.Backoff != time.Minute || cfg.Health.DefaultTimeout != DefaultHealthTimeout {
		t.Errorf("Health = %+v", cfg.Health)
	}
	if !cfg.Transitions.Enforce {
		t.Error("Transitions.Enforce should be true")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "listen:\n  port: 9000\n")

	t.Setenv("AGENTBOX_PORT", "9100")
	t.Setenv("AGENTBOX_STATE_DIR", "/tmp/agentbox-state")
	t.Setenv("AGENTBOX_ALLOW_LIST", "10.0.0.0/8, ,192.0.2.0/24")
	t.Setenv("AGENTBOX_TRUSTED_PROXIES", "127.0.0.1,::1")
	t.Setenv("AGENTBOX_RATE_LIMIT_WINDOW", "2m")
	t.Setenv("AGENTBOX_ENFORCE_TRANSITIONS", "true")
	t.Setenv("GITHUB_TOKEN", "from-github-token")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Listen.Port != 9100 {
		t.Errorf("Env should override file port, got %d", cfg.Listen.Port)
	}
	if cfg.StateDir != "/tmp/agentbox-state" {
		t.Errorf("StateDir = %s", cfg.StateDir)
	}
	if len(cfg.AllowList) != 2 || cfg.AllowList[1] != "192.0.2.0/24" {
		t.Errorf("AllowList = %v", cfg.AllowList)
	}
	if len(cfg.TrustedProxies) != 2 || cfg.TrustedProxies[1] != "::1" {
		t.Errorf("TrustedProxies = %v", cfg.TrustedProxies)
	}
	if cfg.RateLimit.Window != 2*time.Minute {
		t.Errorf("Window = %v", cfg.RateLimit.Window)
	}
	if !cfg.Transitions.Enforce {
		t.Error("Transitions.Enforce should come from env")
	}
	if cfg.GitHub.Token != "from-github-token" {
		t.Errorf("GitHub.Token = %q", cfg.GitHub.Token)
	}

	t.Setenv("AGENTBOX_GITHUB_TOKEN", "from-agentbox")
	cfg, _ = Load(path)
	if cfg.GitHub.Token != "from-agentbox" {
		t.Errorf("AGENTBOX_GITHUB_TOKEN should win, got %q", cfg.GitHub.Token)
	}
}

func TestLoad_BadEnv(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"AGENTBOX_PORT", "eighty"},
		{"AGENTBOX_HEALTH_INTERVAL", "soon"},
		{"AGENTBOX_ENFORCE_TRANSITIONS", "maybe"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(""); err == nil || !strings.Contains(err.Error(), tt.key) {
				t.Errorf("Expected error naming %s, got %v", tt.key, err)
			}
		})
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
	if _, err := Load(writeConfig(t, "ports: [unclosed")); err == nil {
		t.Error("Expected error for malformed YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid defaults", func(c *Config) {}, ""},
		{"inverted range", func(c *Config) { c.Ports.RangeStart, c.Ports.RangeEnd = 41000, 40000 }, "range_end"},
		{"privileged range", func(c *Config) { c.Ports.RangeStart = 80 }, "ports range"},
		{"listen inside range", func(c *Config) { c.Listen.Port = 40010 }, "inside the deployment port range"},
		{"bad port", func(c *Config) { c.Listen.Port = 0 }, "listen.port"},
		{"unknown backend", func(c *Config) { c.RateLimit.Backend = "memcached" }, "rate_limit.backend"},
		{"redis without addr", func(c *Config) { c.RateLimit.Backend = BackendRedis }, "redis_addr"},
		{"no builds", func(c *Config) { c.Builds.MaxConcurrent = 0 }, "max_concurrent"},
		{"zero window", func(c *Config) { c.RateLimit.Window = 0 }, "window"},
		{"backoff shorter than interval", func(c *Config) { c.Health.Backoff = time.Second }, "backoff"},
		{"weak webhook secret", func(c *Config) { c.Webhook.Secret = "secret" }, "webhook.secret"},
		{"weak admin token", func(c *Config) { c.Admin.Token = "changeme-changeme-changeme-changeme" }, "admin.token"},
		{"empty state dir", func(c *Config) { c.StateDir = "" }, "state_dir"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			problems := strings.Join(cfg.Validate(), "\n")

			if tt.wantErr == "" {
				if problems != "" {
					t.Errorf("Expected no problems, got:\n%s", problems)
				}
				return
			}
			if !strings.Contains(problems, tt.wantErr) {
				t.Errorf("Expected a problem mentioning %q, got:\n%s", tt.wantErr, problems)
			}
		})
	}
}
