package security

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPermissionConstants(t *testing.T) {
	for name, perm := range map[string]os.FileMode{
		"PermStateFile": PermStateFile,
		"PermLogFile":   PermLogFile,
		"PermDBFile":    PermDBFile,
		"PermDirectory": PermDirectory,
	} {
		if IsWorldReadable(perm) || IsWorldWritable(perm) {
			t.Errorf("%s = %04o grants access to others", name, perm)
		}
	}
}

func TestOpenAppendFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")

	file, err := OpenAppendFile(path, PermLogFile)
	if err != nil {
		t.Fatalf("OpenAppendFile() error = %v", err)
	}
	if _, err := file.WriteString("first\n"); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	file.Close()

	file, err = OpenAppendFile(path, PermLogFile)
	if err != nil {
		t.Fatalf("OpenAppendFile() second open error = %v", err)
	}
	file.WriteString("second\n")
	file.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "first\nsecond\n" {
		t.Errorf("file content = %q, want appended lines", data)
	}

	info, _ := os.Stat(path)
	if info.Mode().Perm() != PermLogFile {
		t.Errorf("perm = %04o, want %04o", info.Mode().Perm(), PermLogFile)
	}
}

func TestCreateSecureDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b", "state")

	if err := CreateSecureDir(dir, PermDirectory); err != nil {
		t.Fatalf("CreateSecureDir() error = %v", err)
	}

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if !info.IsDir() {
		t.Error("expected a directory")
	}
	if info.Mode().Perm() != PermDirectory {
		t.Errorf("perm = %04o, want %04o", info.Mode().Perm(), PermDirectory)
	}
}

func TestValidateSecurePermissions(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name    string
		perm    os.FileMode
		wantErr bool
	}{
		{"owner only", 0600, false},
		{"group readable", 0640, false},
		{"world readable", 0644, true},
		{"world writable", 0602, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(tmpDir, tt.name)
			if err := os.WriteFile(path, []byte("x"), tt.perm); err != nil {
				t.Fatalf("WriteFile() error = %v", err)
			}
			os.Chmod(path, tt.perm)

			err := ValidateSecurePermissions(path)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSecurePermissions() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateSecurePermissions_NonexistentFile(t *testing.T) {
	if err := ValidateSecurePermissions("/nonexistent/agentbox.yaml"); err == nil {
		t.Error("expected error for nonexistent file")
	}
}
