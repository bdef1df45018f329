package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"agentbox/internal/model"
	"agentbox/internal/security"
)

const recordExt = ".json"

// Persister stores one durable record per deployment id.
type Persister interface {
	Save(r *model.Record) error
	Delete(id string) error
	// LoadAll returns every readable record plus one error per record that
	// could not be read. A bad record never hides the good ones.
	LoadAll() ([]*model.Record, []error)
}

// FilePersister keeps each record as <state_dir>/<deployment_id>.json.
type FilePersister struct {
	dir string
}

// NewFilePersister creates the state directory if needed.
func NewFilePersister(dir string) (*FilePersister, error) {
	if dir == "" {
		return nil, fmt.Errorf("state directory is required")
	}
	if err := security.CreateSecureDir(dir, security.PermDirectory); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &FilePersister{dir: dir}, nil
}

// Dir returns the state directory.
func (p *FilePersister) Dir() string {
	return p.dir
}

func (p *FilePersister) path(id string) string {
	return filepath.Join(p.dir, id+recordExt)
}

// Save writes the record atomically: a temp file in the same directory is
// renamed over the previous version.
func (p *FilePersister) Save(r *model.Record) error {
	if err := security.ValidateDeploymentID(r.ID()); err != nil {
		return fmt.Errorf("refusing to persist record: %w", err)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode record %s: %w", r.ID(), err)
	}

	tmp, err := os.CreateTemp(p.dir, "."+r.ID()+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write record %s: %w", r.ID(), err)
	}
	if err := tmp.Chmod(security.PermStateFile); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set permissions on record %s: %w", r.ID(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close record %s: %w", r.ID(), err)
	}

	if err := os.Rename(tmpName, p.path(r.ID())); err != nil {
		return fmt.Errorf("failed to replace record %s: %w", r.ID(), err)
	}
	return nil
}

// Delete removes the record file. A missing file is not an error.
func (p *FilePersister) Delete(id string) error {
	if err := security.ValidateDeploymentID(id); err != nil {
		return fmt.Errorf("refusing to delete record: %w", err)
	}
	if err := os.Remove(p.path(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete record %s: %w", id, err)
	}
	return nil
}

// LoadAll reads every *.json file in the state directory in name order.
func (p *FilePersister) LoadAll() ([]*model.Record, []error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return nil, []error{fmt.Errorf("failed to read state directory: %w", err)}
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, recordExt) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var records []*model.Record
	var errs []error
	for _, name := range names {
		r, err := p.load(filepath.Join(p.dir, name))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		if want := strings.TrimSuffix(name, recordExt); r.ID() != want {
			errs = append(errs, fmt.Errorf("%s: record id %q does not match file name", name, r.ID()))
			continue
		}
		records = append(records, r)
	}
	return records, errs
}

func (p *FilePersister) load(path string) (*model.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read record: %w", err)
	}

	var r model.Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	if problems := r.Config.Validate(); len(problems) > 0 {
		return nil, fmt.Errorf("%w: %s", model.ErrInvalidConfig, strings.Join(problems, "; "))
	}
	if !r.State.Valid() {
		return nil, fmt.Errorf("unknown state %q", r.State)
	}
	if !r.ActiveColor.Valid() {
		r.ActiveColor = model.ColorBlue
	}
	if !r.HealthStatus.Valid() {
		r.HealthStatus = model.HealthUnknown
	}
	// Keep the operation fields consistent with each other.
	if !r.OperationInProgress || r.CurrentOperation == nil || r.OperationStartedAt == nil {
		r.OperationInProgress = false
		r.CurrentOperation = nil
		r.OperationStartedAt = nil
	}
	return &r, nil
}
