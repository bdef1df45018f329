package store

import (
	"os"
	"path/filepath"
	"testing"

	"agentbox/internal/model"
	"agentbox/internal/security"
)

func TestFilePersister_SaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	p, err := NewFilePersister(dir)
	if err != nil {
		t.Fatalf("NewFilePersister failed: %v", err)
	}

	r := testRecord(t, "demo")
	r.Ports = &model.PortAllocation{BluePort: 40000, GreenPort: 40001}
	r.AddEvent(r.CreatedAt, model.EventCreated, "created", nil)
	if err := p.Save(r); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, "demo.json"))
	if err != nil {
		t.Fatalf("Record file missing: %v", err)
	}
	if info.Mode().Perm() != security.PermStateFile {
		t.Errorf("Expected mode %o, got %o", security.PermStateFile, info.Mode().Perm())
	}

	records, errs := p.LoadAll()
	if len(errs) != 0 {
		t.Fatalf("Unexpected load errors: %v", errs)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	got := records[0]
	if !got.Config.Equal(r.Config) || *got.Ports != *r.Ports || got.Events.Len() != 1 {
		t.Errorf("Round trip mismatch: got %+v", got)
	}
}

func TestFilePersister_LoadSkipsBadRecords(t *testing.T) {
	dir := t.TempDir()
	p, _ := NewFilePersister(dir)

	if err := p.Save(testRecord(t, "good")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	bad := map[string]string{
		"corrupt.json":  "{not json",
		"badstate.json": `{"config":{"deployment_id":"badstate","repo_url":"https://github.com/a/b","branch":"main","health_path":"/health","expected_status":200,"internal_port":80,"probe_timeout_sec":10},"state":"exploded"}`,
		"renamed.json":  `{"config":{"deployment_id":"other","repo_url":"https://github.com/a/b","branch":"main","health_path":"/health","expected_status":200,"internal_port":80,"probe_timeout_sec":10},"state":"idle"}`,
	}
	for name, body := range bad {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	// Ignored entirely
	os.WriteFile(filepath.Join(dir, ".demo-123.tmp"), []byte("partial"), 0o600)
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0o600)

	records, errs := p.LoadAll()
	if len(records) != 1 || records[0].ID() != "good" {
		t.Errorf("Expected only the good record, got %d records", len(records))
	}
	if len(errs) != 3 {
		t.Errorf("Expected 3 load errors, got %d: %v", len(errs), errs)
	}
}

func TestFilePersister_Delete(t *testing.T) {
	p, _ := NewFilePersister(t.TempDir())

	p.Save(testRecord(t, "demo"))
	if err := p.Delete("demo"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := p.Delete("demo"); err != nil {
		t.Errorf("Deleting a missing record should not fail: %v", err)
	}
	if err := p.Delete("../escape"); err == nil {
		t.Error("Delete should reject unsafe ids")
	}
}

func TestFilePersister_NormalizesOperationFields(t *testing.T) {
	dir := t.TempDir()
	p, _ := NewFilePersister(dir)

	body := `{"config":{"deployment_id":"demo","repo_url":"https://github.com/a/b","branch":"main","health_path":"/health","expected_status":200,"internal_port":80,"probe_timeout_sec":10},"state":"building","operation_in_progress":true}`
	os.WriteFile(filepath.Join(dir, "demo.json"), []byte(body), 0o600)

	records, errs := p.LoadAll()
	if len(errs) != 0 || len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d (errors %v)", len(records), errs)
	}
	r := records[0]
	if r.OperationInProgress || r.CurrentOperation != nil {
		t.Errorf("Half-set operation fields should be cleared, got %+v", r)
	}
	if r.ActiveColor != model.ColorBlue || r.HealthStatus != model.HealthUnknown {
		t.Errorf("Expected defaults for missing color and health, got %s/%s", r.ActiveColor, r.HealthStatus)
	}
}

func TestStore_OpenReloadsState(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir, WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	s.Create(testRecord(t, "a"))
	s.Create(testRecord(t, "b"))
	alloc, _ := s.AllocatePorts(40000, 40010)
	s.Update("a", model.Patch{Ports: &alloc, State: model.Ptr(model.StatePromoted)})
	s.Delete("b")

	os.WriteFile(filepath.Join(dir, "junk.json"), []byte("]["), 0o600)

	reopened, err := Open(dir, WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	list := reopened.List()
	if len(list) != 1 || list[0].ID() != "a" {
		t.Fatalf("Expected only record a after reload, got %d records", len(list))
	}
	if list[0].State != model.StatePromoted {
		t.Errorf("Expected state promoted, got %s", list[0].State)
	}
	if !reopened.IsPortAllocated(40000) || !reopened.IsPortAllocated(40001) {
		t.Error("Reloaded ports should be marked allocated")
	}
	if next, _ := reopened.AllocatePorts(40000, 40010); next.BluePort != 40002 {
		t.Errorf("Expected next allocation at 40002, got %+v", next)
	}
}
