package security

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

const maxDeploymentIDLength = 50

var (
	// Safe patterns for validation
	gitURLPattern       = regexp.MustCompile(`^https://github\.com/[a-zA-Z0-9_.-]+/[a-zA-Z0-9_.-]+(?:\.git)?/?$`)
	branchPattern       = regexp.MustCompile(`^[a-zA-Z0-9/_.-]+$`)
	deploymentIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// ValidateGitURL ensures URL is an HTTPS GitHub repository URL.
func ValidateGitURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if u.Scheme != "https" || u.Host != "github.com" {
		return fmt.Errorf("only GitHub HTTPS URLs allowed, got %s://%s", u.Scheme, u.Host)
	}

	if strings.Contains(rawURL, "..") || !gitURLPattern.MatchString(rawURL) {
		return fmt.Errorf("URL contains invalid characters or format")
	}

	return nil
}

// SplitGitURL returns the owner and repository name of a GitHub URL.
func SplitGitURL(rawURL string) (owner, repo string, err error) {
	if err := ValidateGitURL(rawURL); err != nil {
		return "", "", err
	}
	path := strings.Trim(strings.TrimPrefix(rawURL, "https://github.com/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("expected https://github.com/<owner>/<repo>, got %s", rawURL)
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), nil
}

// ValidateBranchName ensures branch name is safe for git operations.
func ValidateBranchName(branch string) error {
	if branch == "" {
		return fmt.Errorf("branch name cannot be empty")
	}
	if strings.HasPrefix(branch, "-") {
		return fmt.Errorf("branch name cannot start with '-'")
	}
	if !branchPattern.MatchString(branch) {
		return fmt.Errorf("branch name contains invalid characters")
	}
	return nil
}

// ValidateDeploymentID ensures a deployment id is safe for use in file
// names and URLs.
func ValidateDeploymentID(id string) error {
	if id == "" {
		return fmt.Errorf("deployment id cannot be empty")
	}
	if len(id) > maxDeploymentIDLength {
		return fmt.Errorf("deployment id longer than %d characters", maxDeploymentIDLength)
	}
	if !deploymentIDPattern.MatchString(id) {
		return fmt.Errorf("deployment id contains invalid characters (only a-z, A-Z, 0-9, _, - allowed)")
	}
	return nil
}
