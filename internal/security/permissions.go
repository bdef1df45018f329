package security

import (
	"fmt"
	"os"
)

const (
	// PermStateFile is for persisted deployment records.
	// rw-r----- (0640): owner can read/write, group can read, others have no access.
	PermStateFile os.FileMode = 0640

	// PermLogFile is for log files that may contain deployment information.
	PermLogFile os.FileMode = 0640

	// PermDBFile is for the operation history database.
	PermDBFile os.FileMode = 0640

	// PermDirectory is for the state and log directories.
	// rwxr-x--- (0750): owner can read/write/execute, group can read/execute, others have no access.
	PermDirectory os.FileMode = 0750
)

// OpenAppendFile opens path for appending with the given permissions,
// creating it if needed. Permissions are set explicitly to bypass umask.
func OpenAppendFile(path string, perm os.FileMode) (*os.File, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, perm)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	if err := os.Chmod(path, perm); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to set file permissions: %w", err)
	}

	return file, nil
}

// CreateSecureDir creates a directory (and parents) and forces its
// permissions, since MkdirAll is subject to umask.
func CreateSecureDir(path string, perm os.FileMode) error {
	if err := os.MkdirAll(path, perm); err != nil {
		return fmt.Errorf("failed to create secure directory: %w", err)
	}

	if err := os.Chmod(path, perm); err != nil {
		return fmt.Errorf("failed to set directory permissions: %w", err)
	}

	return nil
}

// IsWorldReadable checks if a file is readable by others.
func IsWorldReadable(perm os.FileMode) bool {
	return perm&0004 != 0
}

// IsWorldWritable checks if a file is writable by others.
func IsWorldWritable(perm os.FileMode) bool {
	return perm&0002 != 0
}

// ValidateSecurePermissions rejects world-readable or world-writable files.
// Used for config files that may carry the admin token.
func ValidateSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	perm := info.Mode().Perm()

	if IsWorldReadable(perm) {
		return fmt.Errorf("file %s is world-readable (%04o), which is insecure for sensitive data", path, perm)
	}

	if IsWorldWritable(perm) {
		return fmt.Errorf("file %s is world-writable (%04o), which is a serious security risk", path, perm)
	}

	return nil
}
