// Package cmdutil parses and formats KEY=VALUE assignment lists such as
// container environments and image build arguments.
package cmdutil

import (
	"fmt"
	"strings"

	"github.com/kballard/go-shellquote"
)

// ParseAssignments splits a shell-quoted string into KEY=VALUE entries.
//
// Example:
//
//	`A=1 B='two words'` -> ["A=1", "B=two words"]
func ParseAssignments(s string) ([]string, error) {
	parts, err := shellquote.Split(s)
	if err != nil {
		return nil, fmt.Errorf("failed to parse assignments: %w", err)
	}
	for _, part := range parts {
		if !strings.Contains(part, "=") {
			return nil, fmt.Errorf("assignment %q is missing '='", part)
		}
	}
	return parts, nil
}

// ParseAssignmentList accepts either format found in YAML or JSON input:
//   - String format: "A=1 B='two words'"
//   - List format: ["A=1", "B=two words"]
//
// Entries are returned as given, malformed ones included; callers sanitize
// them. Only a string that cannot be split is an error.
func ParseAssignmentList(v interface{}) ([]string, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case string:
		parts, err := shellquote.Split(v)
		if err != nil {
			return nil, fmt.Errorf("failed to parse assignments: %w", err)
		}
		return parts, nil
	case []string:
		return v, nil
	case []interface{}:
		out := make([]string, len(v))
		for i, item := range v {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("assignment list item %d is not a string: %T", i, item)
			}
			out[i] = str
		}
		return out, nil
	default:
		return nil, fmt.Errorf("invalid assignment list type: %T (must be string or list)", v)
	}
}

// FormatAssignments renders entries as one shell-quoted line for logging.
func FormatAssignments(entries []string) string {
	if len(entries) == 0 {
		return "<none>"
	}
	return shellquote.Join(entries...)
}

// RedactAssignments replaces the values of entries whose key looks secret.
func RedactAssignments(entries []string) []string {
	out := make([]string, len(entries))
	for i, entry := range entries {
		key, _, ok := strings.Cut(entry, "=")
		if ok && looksSecret(key) {
			out[i] = key + "=***REDACTED***"
		} else {
			out[i] = entry
		}
	}
	return out
}

func looksSecret(key string) bool {
	upper := strings.ToUpper(key)
	for _, marker := range []string{"SECRET", "TOKEN", "PASSWORD", "PASSWD", "KEY", "CREDENTIAL"} {
		if strings.Contains(upper, marker) {
			return true
		}
	}
	return false
}
