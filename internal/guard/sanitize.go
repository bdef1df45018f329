package guard

import (
	"strings"
	"unicode/utf8"
)

const (
	githubPrefix   = "https://github.com/"
	maxValueLength = 1000
)

// deniedEnvKeys could redirect the runtime environment of a container.
var deniedEnvKeys = map[string]bool{
	"PATH":            true,
	"HOME":            true,
	"USER":            true,
	"SHELL":           true,
	"PWD":             true,
	"LD_PRELOAD":      true,
	"LD_LIBRARY_PATH": true,
	"PYTHONPATH":      true,
	"PYTHONHOME":      true,
	"NODE_OPTIONS":    true,
	"DOCKER_HOST":     true,
}

// deniedBuildArgKeys are predefined by the image builder or change how it
// reaches the network.
var deniedBuildArgKeys = map[string]bool{
	"DOCKER_BUILDKIT":       true,
	"BUILDKIT_INLINE_CACHE": true,
	"BUILDPLATFORM":         true,
	"TARGETPLATFORM":        true,
	"TARGETOS":              true,
	"TARGETARCH":            true,
	"HTTP_PROXY":            true,
	"HTTPS_PROXY":           true,
	"FTP_PROXY":             true,
	"NO_PROXY":              true,
	"ALL_PROXY":             true,
}

// ValidateRepoURL accepts https://github.com/ URLs whose path holds no
// traversal or doubled separators.
func ValidateRepoURL(rawURL string) bool {
	rest, ok := strings.CutPrefix(rawURL, githubPrefix)
	if !ok || rest == "" {
		return false
	}
	for _, bad := range []string{"..", "~", "//", `\`} {
		if strings.Contains(rest, bad) {
			return false
		}
	}
	return true
}

// SanitizeEnv keeps well-formed KEY=VALUE entries whose key is not on the
// environment deny-list. Long values are truncated.
func SanitizeEnv(entries []string) []string {
	return sanitize(entries, deniedEnvKeys)
}

// SanitizeBuildArgs is SanitizeEnv for image build arguments, which also
// drop builder-reserved keys.
func SanitizeBuildArgs(entries []string) []string {
	return sanitize(entries, deniedEnvKeys, deniedBuildArgKeys)
}

func sanitize(entries []string, denied ...map[string]bool) []string {
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		key, value, ok := strings.Cut(entry, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		if isDenied(key, denied) {
			continue
		}
		value = truncate(value, maxValueLength)
		out = append(out, key+"="+value)
	}
	return out
}

func isDenied(key string, lists []map[string]bool) bool {
	upper := strings.ToUpper(key)
	for _, list := range lists {
		if list[upper] {
			return true
		}
	}
	return false
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
