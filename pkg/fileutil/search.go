// Package fileutil locates configuration and state on disk.
package fileutil

import (
	"os"
	"path/filepath"
)

// SystemConfigDir holds the system-wide configuration.
const SystemConfigDir = "/etc/agentbox"

// DefaultConfigPaths returns the config search order for filename:
// ./<filename>, ./config/<filename>, then /etc/agentbox/<filename>.
func DefaultConfigPaths(filename string) []string {
	return []string{
		filepath.Join(".", filename),
		filepath.Join(".", "config", filename),
		filepath.Join(SystemConfigDir, filename),
	}
}

// SearchPathsOptional returns the first path that exists as a regular
// file, or "" when none does.
func SearchPathsOptional(paths []string) string {
	for _, path := range paths {
		if FileExists(path) {
			return path
		}
	}
	return ""
}

// FindConfigOptional searches the default locations for filename.
func FindConfigOptional(filename string) string {
	return SearchPathsOptional(DefaultConfigPaths(filename))
}

// FileExists checks if a file exists and is not a directory.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// DirExists checks if a directory exists.
func DirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
