// Package config loads the control-plane configuration: YAML file, then
// AGENTBOX_* environment overrides, then validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"agentbox/internal/model"
	"agentbox/internal/security"
)

const (
	DefaultFileName = "agentbox.yaml"

	DefaultStateDir  = "./state"
	DefaultHistoryDB = "./agentbox.db"
	DefaultLogFile   = "./agentbox.log"
	DefaultHost      = "127.0.0.1"
	DefaultPort      = 8090

	DefaultPortRangeStart = 40000
	DefaultPortRangeEnd   = 40999

	DefaultRateLimitMax    = 60
	DefaultRateLimitWindow = time.Minute
	DefaultMaxBuilds       = 3

	DefaultHealthInterval = 10 * time.Second
	DefaultHealthBackoff  = 30 * time.Second
	DefaultHealthTimeout  = 10 * time.Second

	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config is the whole agentbox.yaml file.
type Config struct {
	StateDir       string            `yaml:"state_dir"`
	HistoryDB      string            `yaml:"history_db"`
	LogFile        string            `yaml:"log_file"`
	Listen         ListenConfig      `yaml:"listen"`
	Ports          PortsConfig       `yaml:"ports"`
	RateLimit      RateLimitConfig   `yaml:"rate_limit"`
	AllowList      []string          `yaml:"allow_list"`
	// TrustedProxies are the only peers whose X-Forwarded-For and X-Real-IP
	// headers identify the client. Empty trusts every peer, which lets a
	// direct caller claim an allow-listed address.
	TrustedProxies []string          `yaml:"trusted_proxies"`
	Builds         BuildsConfig      `yaml:"builds"`
	Health         HealthConfig      `yaml:"health"`
	Transitions    TransitionsConfig `yaml:"transitions"`
	GitHub         GitHubConfig      `yaml:"github"`
	Webhook        WebhookConfig     `yaml:"webhook"`
	Admin          AdminConfig       `yaml:"admin"`
}

type ListenConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// PortsConfig is the inclusive range blue/green port pairs come from.
type PortsConfig struct {
	RangeStart int `yaml:"range_start"`
	RangeEnd   int `yaml:"range_end"`
}

type RateLimitConfig struct {
	MaxRequests   int           `yaml:"max_requests"`
	Window        time.Duration `yaml:"window"`
	Backend       string        `yaml:"backend"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
}

type BuildsConfig struct {
	MaxConcurrent int `yaml:"max_concurrent"`
}

type HealthConfig struct {
	Interval       time.Duration `yaml:"interval"`
	Backoff        time.Duration `yaml:"backoff"`
	DefaultTimeout time.Duration `yaml:"default_timeout"`
}

// TransitionsConfig turns on state-transition checks in the store.
type TransitionsConfig struct {
	Enforce bool `yaml:"enforce"`
}

type GitHubConfig struct {
	Token   string `yaml:"token"`
	BaseURL string `yaml:"base_url"`
}

// WebhookConfig enables the push webhook when Secret is set.
type WebhookConfig struct {
	Secret string `yaml:"secret"`
}

// AdminConfig enables the mutating admin routes when Token is set.
type AdminConfig struct {
	Token string `yaml:"token"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	return &Config{
		StateDir:  DefaultStateDir,
		HistoryDB: DefaultHistoryDB,
		LogFile:   DefaultLogFile,
		Listen:    ListenConfig{Host: DefaultHost, Port: DefaultPort},
		Ports:     PortsConfig{RangeStart: DefaultPortRangeStart, RangeEnd: DefaultPortRangeEnd},
		RateLimit: RateLimitConfig{
			MaxRequests: DefaultRateLimitMax,
			Window:      DefaultRateLimitWindow,
			Backend:     BackendMemory,
		},
		Builds: BuildsConfig{MaxConcurrent: DefaultMaxBuilds},
		Health: HealthConfig{
			Interval:       DefaultHealthInterval,
			Backoff:        DefaultHealthBackoff,
			DefaultTimeout: DefaultHealthTimeout,
		},
	}
}

// Load reads path over the defaults (an empty path skips the file), applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	if problems := cfg.Validate(); len(problems) > 0 {
		return nil, fmt.Errorf("invalid configuration:\n%s", strings.Join(problems, "\n"))
	}

	return cfg, nil
}

// ApplyEnv overrides fields from AGENTBOX_* variables. GITHUB_TOKEN is
// honoured when AGENTBOX_GITHUB_TOKEN is unset.
func (c *Config) ApplyEnv() error {
	setString(&c.StateDir, "AGENTBOX_STATE_DIR")
	setString(&c.HistoryDB, "AGENTBOX_HISTORY_DB")
	setString(&c.LogFile, "AGENTBOX_LOG_FILE")
	setString(&c.Listen.Host, "AGENTBOX_HOST")
	setString(&c.RateLimit.Backend, "AGENTBOX_RATE_LIMIT_BACKEND")
	setString(&c.RateLimit.RedisAddr, "AGENTBOX_REDIS_ADDR")
	setString(&c.RateLimit.RedisPassword, "AGENTBOX_REDIS_PASSWORD")
	setString(&c.GitHub.Token, "GITHUB_TOKEN")
	setString(&c.GitHub.Token, "AGENTBOX_GITHUB_TOKEN")
	setString(&c.Webhook.Secret, "AGENTBOX_WEBHOOK_SECRET")
	setString(&c.Admin.Token, "AGENTBOX_ADMIN_TOKEN")

	if v := os.Getenv("AGENTBOX_ALLOW_LIST"); v != "" {
		c.AllowList = splitList(v)
	}
	if v := os.Getenv("AGENTBOX_TRUSTED_PROXIES"); v != "" {
		c.TrustedProxies = splitList(v)
	}

	ints := []struct {
		dst *int
		key string
	}{
		{&c.Listen.Port, "AGENTBOX_PORT"},
		{&c.Ports.RangeStart, "AGENTBOX_PORT_RANGE_START"},
		{&c.Ports.RangeEnd, "AGENTBOX_PORT_RANGE_END"},
		{&c.RateLimit.MaxRequests, "AGENTBOX_RATE_LIMIT_MAX"},
		{&c.RateLimit.RedisDB, "AGENTBOX_REDIS_DB"},
		{&c.Builds.MaxConcurrent, "AGENTBOX_MAX_BUILDS"},
	}
	for _, i := range ints {
		if err := setInt(i.dst, i.key); err != nil {
			return err
		}
	}

	durations := []struct {
		dst *time.Duration
		key string
	}{
		{&c.RateLimit.Window, "AGENTBOX_RATE_LIMIT_WINDOW"},
		{&c.Health.Interval, "AGENTBOX_HEALTH_INTERVAL"},
		{&c.Health.Backoff, "AGENTBOX_HEALTH_BACKOFF"},
		{&c.Health.DefaultTimeout, "AGENTBOX_HEALTH_TIMEOUT"},
	}
	for _, d := range durations {
		if err := setDuration(d.dst, d.key); err != nil {
			return err
		}
	}

	if v := os.Getenv("AGENTBOX_ENFORCE_TRANSITIONS"); v != "" {
		enforce, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid AGENTBOX_ENFORCE_TRANSITIONS %q: %w", v, err)
		}
		c.Transitions.Enforce = enforce
	}

	return nil
}

// Validate returns every problem found. An empty result means the
// configuration is usable.
func (c *Config) Validate() []string {
	var problems []string

	if c.StateDir == "" {
		problems = append(problems, "  - state_dir is required")
	}
	if c.HistoryDB == "" {
		problems = append(problems, "  - history_db is required")
	}
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		problems = append(problems, fmt.Sprintf("  - listen.port must be between 1 and 65535, got %d", c.Listen.Port))
	}

	if c.Ports.RangeStart < model.MinPort || c.Ports.RangeEnd > model.MaxPort {
		problems = append(problems, fmt.Sprintf("  - ports range must lie within %d-%d, got %d-%d",
			model.MinPort, model.MaxPort, c.Ports.RangeStart, c.Ports.RangeEnd))
	} else if c.Ports.RangeEnd <= c.Ports.RangeStart {
		problems = append(problems, fmt.Sprintf("  - ports.range_end (%d) must be greater than ports.range_start (%d)",
			c.Ports.RangeEnd, c.Ports.RangeStart))
	}
	if c.Listen.Port >= c.Ports.RangeStart && c.Listen.Port <= c.Ports.RangeEnd {
		problems = append(problems, fmt.Sprintf("  - listen.port %d falls inside the deployment port range", c.Listen.Port))
	}

	if c.RateLimit.MaxRequests < 0 {
		problems = append(problems, "  - rate_limit.max_requests cannot be negative")
	}
	if c.RateLimit.Window <= 0 {
		problems = append(problems, "  - rate_limit.window must be positive")
	}
	switch c.RateLimit.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.RateLimit.RedisAddr == "" {
			problems = append(problems, "  - rate_limit.redis_addr is required for the redis backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("  - rate_limit.backend must be %q or %q, got %q",
			BackendMemory, BackendRedis, c.RateLimit.Backend))
	}

	if c.Builds.MaxConcurrent < 1 {
		problems = append(problems, fmt.Sprintf("  - builds.max_concurrent must be at least 1, got %d", c.Builds.MaxConcurrent))
	}

	if c.Health.Interval <= 0 || c.Health.Backoff <= 0 || c.Health.DefaultTimeout <= 0 {
		problems = append(problems, "  - health.interval, health.backoff and health.default_timeout must be positive")
	} else if c.Health.Backoff < c.Health.Interval {
		problems = append(problems, "  - health.backoff should not be shorter than health.interval")
	}

	if c.Webhook.Secret != "" {
		if err := security.ValidateToken(c.Webhook.Secret); err != nil {
			problems = append(problems, fmt.Sprintf("  - webhook.secret: %v", err))
		}
	}
	if c.Admin.Token != "" {
		if err := security.ValidateToken(c.Admin.Token); err != nil {
			problems = append(problems, fmt.Sprintf("  - admin.token: %v", err))
		}
	}

	return problems
}

// Addr returns host:port for the HTTP listener.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Listen.Host, c.Listen.Port)
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = d
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
