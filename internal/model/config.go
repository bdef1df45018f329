package model

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"agentbox/internal/security"
)

const (
	DefaultBranch          = "main"
	DefaultHealthPath      = "/health"
	DefaultExpectedStatus  = 200
	DefaultProbeTimeoutSec = 10

	MinProbeTimeoutSec = 1
	MaxProbeTimeoutSec = 600
	MaxGraceSec        = 3600
	MaxStartupDelaySec = 60
)

// ErrInvalidConfig is wrapped by every DeploymentConfig validation failure.
var ErrInvalidConfig = errors.New("invalid deployment config")

// DeploymentConfig is the immutable description of what to deploy.
// Build one with NewDeploymentConfig so that it is validated and defaulted.
type DeploymentConfig struct {
	DeploymentID    string            `json:"deployment_id"`
	RepoURL         string            `json:"repo_url"`
	Branch          string            `json:"branch"`
	Subdir          string            `json:"subdir,omitempty"`
	HealthPath      string            `json:"health_path"`
	ExpectedStatus  int               `json:"expected_status"`
	InternalPort    int               `json:"internal_port"`
	Env             []string          `json:"env,omitempty"`
	BuildArgs       []string          `json:"build_args,omitempty"`
	ProbeTimeoutSec int               `json:"probe_timeout_sec"`
	GraceSec        int               `json:"grace_sec"`
	StartupDelaySec int               `json:"startup_delay_sec"`
	Labels          map[string]string `json:"labels,omitempty"`
}

// NewDeploymentConfig applies defaults to c, validates it and returns a copy
// that shares no slices or maps with the input.
func NewDeploymentConfig(c DeploymentConfig) (DeploymentConfig, error) {
	if c.Branch == "" {
		c.Branch = DefaultBranch
	}
	if c.HealthPath == "" {
		c.HealthPath = DefaultHealthPath
	}
	if c.ExpectedStatus == 0 {
		c.ExpectedStatus = DefaultExpectedStatus
	}
	if c.ProbeTimeoutSec == 0 {
		c.ProbeTimeoutSec = DefaultProbeTimeoutSec
	}

	if problems := c.Validate(); len(problems) > 0 {
		return DeploymentConfig{}, fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}

	return c.Clone(), nil
}

// Validate returns every problem found in c. An empty result means the
// config is acceptable.
func (c DeploymentConfig) Validate() []string {
	var problems []string

	if err := security.ValidateDeploymentID(c.DeploymentID); err != nil {
		problems = append(problems, fmt.Sprintf("deployment_id: %v", err))
	}

	if err := security.ValidateGitURL(c.RepoURL); err != nil {
		problems = append(problems, fmt.Sprintf("repo_url must look like https://github.com/<owner>/<repo>: %v", err))
	}

	if err := security.ValidateBranchName(c.Branch); err != nil {
		problems = append(problems, fmt.Sprintf("branch: %v", err))
	}

	if c.Subdir != "" && (strings.HasPrefix(c.Subdir, "/") || strings.Contains(c.Subdir, "..")) {
		problems = append(problems, fmt.Sprintf("subdir %q must be a relative path inside the repository", c.Subdir))
	}

	if !strings.HasPrefix(c.HealthPath, "/") {
		problems = append(problems, fmt.Sprintf("health_path must start with '/', got %q", c.HealthPath))
	}

	if c.ExpectedStatus < 100 || c.ExpectedStatus > 599 {
		problems = append(problems, fmt.Sprintf("expected_status must be an HTTP status code, got %d", c.ExpectedStatus))
	}

	if c.InternalPort < 1 || c.InternalPort > 65535 {
		problems = append(problems, fmt.Sprintf("internal_port must be between 1 and 65535, got %d", c.InternalPort))
	}

	for i, entry := range c.Env {
		if !strings.Contains(entry, "=") {
			problems = append(problems, fmt.Sprintf("env[%d] must be KEY=VALUE", i))
		}
	}
	for i, entry := range c.BuildArgs {
		if !strings.Contains(entry, "=") {
			problems = append(problems, fmt.Sprintf("build_args[%d] must be KEY=VALUE", i))
		}
	}

	if c.ProbeTimeoutSec < MinProbeTimeoutSec || c.ProbeTimeoutSec > MaxProbeTimeoutSec {
		problems = append(problems, fmt.Sprintf("probe_timeout_sec must be between %d and %d, got %d",
			MinProbeTimeoutSec, MaxProbeTimeoutSec, c.ProbeTimeoutSec))
	}
	if c.GraceSec < 0 || c.GraceSec > MaxGraceSec {
		problems = append(problems, fmt.Sprintf("grace_sec must be between 0 and %d, got %d", MaxGraceSec, c.GraceSec))
	}
	if c.StartupDelaySec < 0 || c.StartupDelaySec > MaxStartupDelaySec {
		problems = append(problems, fmt.Sprintf("startup_delay_sec must be between 0 and %d, got %d", MaxStartupDelaySec, c.StartupDelaySec))
	}

	return problems
}

// Clone returns a deep copy of c.
func (c DeploymentConfig) Clone() DeploymentConfig {
	c.Env = slices.Clone(c.Env)
	c.BuildArgs = slices.Clone(c.BuildArgs)
	c.Labels = maps.Clone(c.Labels)
	return c
}

// Equal reports whether two configs carry the same values.
func (c DeploymentConfig) Equal(other DeploymentConfig) bool {
	return c.DeploymentID == other.DeploymentID &&
		c.RepoURL == other.RepoURL &&
		c.Branch == other.Branch &&
		c.Subdir == other.Subdir &&
		c.HealthPath == other.HealthPath &&
		c.ExpectedStatus == other.ExpectedStatus &&
		c.InternalPort == other.InternalPort &&
		slices.Equal(c.Env, other.Env) &&
		slices.Equal(c.BuildArgs, other.BuildArgs) &&
		c.ProbeTimeoutSec == other.ProbeTimeoutSec &&
		c.GraceSec == other.GraceSec &&
		c.StartupDelaySec == other.StartupDelaySec &&
		maps.Equal(c.Labels, other.Labels)
}
