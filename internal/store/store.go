// Package store is the single source of truth for deployment records.
//
// All in-memory mutation (records, the port pool, operation flags) happens
// under one global mutex. Durable writes happen after that mutex is
// released, so a slow disk never blocks readers. Writes for the same
// deployment are sequenced so an older snapshot can never overwrite a newer
// one on disk.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"agentbox/internal/history"
	"agentbox/internal/model"
)

var (
	ErrNotFound          = errors.New("deployment not found")
	ErrExists            = errors.New("deployment already exists")
	ErrIllegalTransition = errors.New("illegal state transition")
	ErrPortConflict      = errors.New("port already allocated to another deployment")
	ErrOperationActive   = errors.New("operation already in progress")
	ErrNoOperation       = errors.New("no operation in progress")
)

const recordTimeout = 5 * time.Second

// OperationRecorder receives one entry per completed operation.
type OperationRecorder interface {
	RecordOperation(ctx context.Context, rec *history.OperationRecord) (int64, error)
}

// Stats counts records by coarse category.
type Stats struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Building int `json:"building"`
	Failed   int `json:"failed"`
	Locked   int `json:"locked"`
}

// Store holds deployment records in memory and mirrors them to a Persister.
type Store struct {
	mu        sync.Mutex
	records   map[string]*model.Record
	allocated map[int]string // port -> owning deployment id, "" while unbound
	seq       uint64
	versions  map[string]uint64

	// saveMu orders durable writes; written holds the last version flushed
	// per id (or the tombstone version after a delete).
	saveMu  sync.Mutex
	written map[string]uint64

	locks       *lockSet
	persister   Persister
	recorder    OperationRecorder
	transitions Transitions
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithPersister mirrors every mutation to p.
func WithPersister(p Persister) Option {
	return func(s *Store) { s.persister = p }
}

// WithOperationRecorder records completed operations to r.
func WithOperationRecorder(r OperationRecorder) Option {
	return func(s *Store) { s.recorder = r }
}

// WithTransitions rejects state writes not allowed by t. A nil table leaves
// transition legality to the caller.
func WithTransitions(t Transitions) Option {
	return func(s *Store) { s.transitions = t }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty store. Call Load to populate it from the persister.
func New(opts ...Option) *Store {
	s := &Store{
		records:   make(map[string]*model.Record),
		allocated: make(map[int]string),
		versions:  make(map[string]uint64),
		written:   make(map[string]uint64),
		locks:     newLockSet(),
		logger:    slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "store")
	return s
}

// Open creates a file-backed store rooted at dir and loads existing records.
func Open(dir string, opts ...Option) (*Store, error) {
	p, err := NewFilePersister(dir)
	if err != nil {
		return nil, err
	}
	s := New(append([]Option{WithPersister(p)}, opts...)...)
	s.Load()
	return s, nil
}

// Load reads every record from the persister. Records that fail to load are
// logged and skipped. It returns the number of records loaded.
func (s *Store) Load() int {
	if s.persister == nil {
		return 0
	}

	records, errs := s.persister.LoadAll()
	for _, err := range errs {
		s.logger.Error("Failed to load deployment record", "error", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	loaded := 0
	for _, r := range records {
		id := r.ID()
		if _, exists := s.records[id]; exists {
			s.logger.Warn("Skipping duplicate deployment record", "deployment_id", id)
			continue
		}
		if r.Ports != nil {
			if owner, conflict := s.portOwnerConflict(*r.Ports, id); conflict {
				s.logger.Error("Dropping port allocation that collides with another deployment",
					"deployment_id", id, "owner", owner, "ports", r.Ports.Ports())
				r.Ports = nil
			} else {
				s.bindPorts(*r.Ports, id)
			}
		}
		s.records[id] = r
		s.locks.add(id)
		s.seq++
		s.versions[id] = s.seq
		loaded++
	}

	s.logger.Info("Loaded deployment records", "count", loaded, "errors", len(errs))
	return loaded
}

// Get returns a copy of the record for id.
func (s *Store) Get(id string) (*model.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

// List returns copies of all records ordered by id.
func (s *Store) List() []*model.Record {
	s.mu.Lock()
	out := make([]*model.Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.Clone())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Create registers a new record. It returns false if the record is invalid,
// the id is taken or the record's ports belong to another deployment.
func (s *Store) Create(r *model.Record) bool {
	if err := s.CreateErr(r); err != nil {
		s.logger.Warn("Create rejected", "deployment_id", r.ID(), "error", err)
		return false
	}
	return true
}

// CreateErr is Create with the rejection reason.
func (s *Store) CreateErr(r *model.Record) error {
	if r == nil {
		return fmt.Errorf("nil record")
	}
	if problems := r.Config.Validate(); len(problems) > 0 {
		return fmt.Errorf("%w: %s", model.ErrInvalidConfig, strings.Join(problems, "; "))
	}
	if r.Ports != nil {
		if err := r.Ports.Validate(); err != nil {
			return fmt.Errorf("invalid ports: %w", err)
		}
	}
	id := r.ID()

	s.mu.Lock()
	if _, exists := s.records[id]; exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrExists, id)
	}
	if r.Ports != nil {
		if owner, conflict := s.portOwnerConflict(*r.Ports, id); conflict {
			s.mu.Unlock()
			return fmt.Errorf("%w: %v held by %s", ErrPortConflict, r.Ports.Ports(), owner)
		}
	}

	rec := r.Clone()
	now := s.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.State == "" {
		rec.State = model.StateIdle
	}
	if rec.ActiveColor == "" {
		rec.ActiveColor = model.ColorBlue
	}
	if rec.HealthStatus == "" {
		rec.HealthStatus = model.HealthUnknown
	}
	rec.AddEvent(now, model.EventCreated, "deployment created",
		map[string]any{"repo_url": rec.Config.RepoURL, "branch": rec.Config.Branch})

	if rec.Ports != nil {
		s.bindPorts(*rec.Ports, id)
	}
	s.records[id] = rec
	s.locks.add(id)
	snapshot, version := s.snapshotLocked(id)
	s.mu.Unlock()

	s.logger.Info("Deployment created", "deployment_id", id)
	s.persist(snapshot, version)
	return nil
}

// Update applies patch to the record for id. It returns false when the id
// is unknown, the patch is invalid, or the state change is not allowed.
func (s *Store) Update(id string, patch model.Patch) bool {
	if err := s.UpdateErr(id, patch); err != nil {
		s.logger.Warn("Update rejected", "deployment_id", id, "error", err)
		return false
	}
	return true
}

// UpdateErr is Update with the rejection reason.
func (s *Store) UpdateErr(id string, patch model.Patch) error {
	if err := patch.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	r, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if patch.State != nil && s.transitions != nil && !s.transitions.Allowed(r.State, *patch.State) {
		from := r.State
		s.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, *patch.State)
	}
	if patch.Ports != nil {
		if owner, conflict := s.portOwnerConflict(*patch.Ports, id); conflict {
			s.mu.Unlock()
			return fmt.Errorf("%w: %v held by %s", ErrPortConflict, patch.Ports.Ports(), owner)
		}
	}

	// Replacing or clearing ports returns the old pair to the pool.
	portsChanged := patch.Ports != nil && (r.Ports == nil || *patch.Ports != *r.Ports)
	if r.Ports != nil && (patch.ClearPorts || portsChanged) {
		s.releasePorts(*r.Ports)
	}
	if patch.Ports != nil {
		s.bindPorts(*patch.Ports, id)
	}

	now := s.now()
	patch.Apply(r, now)
	if portsChanged {
		r.AddEvent(now, model.EventPortsAllocated,
			fmt.Sprintf("ports %d/%d bound", patch.Ports.BluePort, patch.Ports.GreenPort),
			map[string]any{"blue_port": patch.Ports.BluePort, "green_port": patch.Ports.GreenPort})
	}
	snapshot, version := s.snapshotLocked(id)
	s.mu.Unlock()

	s.persist(snapshot, version)
	return nil
}

// Delete removes the record for id, frees its ports and deletes its durable
// copy. It returns false if the id is unknown.
func (s *Store) Delete(id string) bool {
	if err := s.DeleteErr(id); err != nil {
		s.logger.Warn("Delete rejected", "deployment_id", id, "error", err)
		return false
	}
	return true
}

// DeleteErr is Delete with the rejection reason.
func (s *Store) DeleteErr(id string) error {
	s.mu.Lock()
	r, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	now := s.now()
	from := r.State
	if r.Ports != nil {
		s.releasePorts(*r.Ports)
	}
	delete(s.records, id)
	delete(s.versions, id)
	s.locks.remove(id)
	s.seq++
	tombstone := s.seq
	s.mu.Unlock()

	s.saveMu.Lock()
	s.written[id] = tombstone
	if s.persister != nil {
		if err := s.persister.Delete(id); err != nil {
			s.logger.Error("Failed to delete persisted record", "deployment_id", id, "error", err)
		}
	}
	s.saveMu.Unlock()

	s.record(&history.OperationRecord{
		DeploymentID: id,
		Operation:    "delete",
		Status:       string(model.StateDeleted),
		StartedAt:    now,
		CompletedAt:  &now,
		FinalState:   stringPtr(string(from)),
	})

	s.logger.Info("Deployment deleted", "deployment_id", id)
	return nil
}

// LockForOperation marks id as busy with operation. It fails if the id is
// unknown or another operation is already in progress.
func (s *Store) LockForOperation(id, operation string) bool {
	if err := s.LockForOperationErr(id, operation); err != nil {
		s.logger.Warn("Lock rejected", "deployment_id", id, "operation", operation, "error", err)
		return false
	}
	return true
}

// LockForOperationErr is LockForOperation with the rejection reason.
func (s *Store) LockForOperationErr(id, operation string) error {
	if operation == "" {
		return fmt.Errorf("operation name is required")
	}

	s.mu.Lock()
	r, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if r.OperationInProgress {
		current := *r.CurrentOperation
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrOperationActive, current)
	}

	now := s.now()
	r.BeginOperation(operation, now)
	r.AddEvent(now, model.EventOperationStarted, fmt.Sprintf("%s started", operation),
		map[string]any{"operation": operation})
	snapshot, version := s.snapshotLocked(id)
	s.mu.Unlock()

	s.logger.Info("Operation started", "deployment_id", id, "operation", operation)
	s.persist(snapshot, version)
	return nil
}

// UnlockAfterOperation clears the operation flag and records the outcome.
// Unknown ids and records with no operation in progress are logged and
// ignored.
func (s *Store) UnlockAfterOperation(id string, success bool) {
	if _, err := s.UnlockAfterOperationErr(id, success); err != nil {
		s.logger.Warn("Unlock ignored", "deployment_id", id, "error", err)
	}
}

// UnlockAfterOperationErr is UnlockAfterOperation returning the operation
// that was ended.
func (s *Store) UnlockAfterOperationErr(id string, success bool) (string, error) {
	s.mu.Lock()
	r, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !r.OperationInProgress {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrNoOperation, id)
	}

	now := s.now()
	var startedAt time.Time
	if r.OperationStartedAt != nil {
		startedAt = *r.OperationStartedAt
	}
	operation, elapsed := r.EndOperation(now)

	eventType, status := model.EventOperationCompleted, "success"
	if !success {
		eventType, status = model.EventOperationFailed, "failed"
	}
	r.AddEvent(now, eventType, fmt.Sprintf("%s %s", operation, status), map[string]any{
		"operation":        operation,
		"success":          success,
		"duration_seconds": elapsed.Seconds(),
	})
	finalState := string(r.State)
	snapshot, version := s.snapshotLocked(id)
	s.mu.Unlock()

	s.logger.Info("Operation finished", "deployment_id", id, "operation", operation,
		"success", success, "duration_ms", elapsed.Milliseconds())
	s.persist(snapshot, version)

	if startedAt.IsZero() {
		startedAt = now
	}
	duration := elapsed.Seconds()
	s.record(&history.OperationRecord{
		DeploymentID:    id,
		Operation:       operation,
		Status:          status,
		StartedAt:       startedAt,
		CompletedAt:     &now,
		DurationSeconds: &duration,
		FinalState:      &finalState,
	})
	return operation, nil
}

// IsLocked reports whether an operation is in progress for id.
func (s *Store) IsLocked(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	return ok && r.OperationInProgress
}

// TryLockDeployment acquires the per-deployment mutex without blocking.
// It returns false for unknown ids or when the mutex is held. The store does
// not consult this mutex itself; it exists for callers sequencing
// multi-step work on one deployment.
func (s *Store) TryLockDeployment(id string) bool {
	return s.locks.tryLock(id)
}

// UnlockDeployment releases the per-deployment mutex.
func (s *Store) UnlockDeployment(id string) {
	s.locks.unlock(id)
}

// Stats counts records by category.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st Stats
	for _, r := range s.records {
		st.Total++
		switch {
		case r.State.IsActive():
			st.Active++
		case r.State == model.StateBuilding:
			st.Building++
		case r.State == model.StateFailed:
			st.Failed++
		}
		if r.OperationInProgress {
			st.Locked++
		}
	}
	return st
}

// CountByState returns how many records are in each state.
func (s *Store) CountByState() map[model.State]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[model.State]int, len(model.AllStates))
	for _, r := range s.records {
		counts[r.State]++
	}
	return counts
}

// snapshotLocked bumps the version of id and returns a copy to persist.
// Callers hold s.mu.
func (s *Store) snapshotLocked(id string) (*model.Record, uint64) {
	s.seq++
	s.versions[id] = s.seq
	return s.records[id].Clone(), s.seq
}

// persist writes snapshot unless a newer version (or a delete) for the same
// id has already been flushed. Failures are logged: memory is already
// committed and the next successful write brings disk back in line.
func (s *Store) persist(snapshot *model.Record, version uint64) {
	if s.persister == nil {
		return
	}
	id := snapshot.ID()

	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	if s.written[id] >= version {
		return
	}
	if err := s.persister.Save(snapshot); err != nil {
		s.logger.Error("Failed to persist deployment record", "deployment_id", id, "error", err)
		return
	}
	s.written[id] = version
}

func (s *Store) record(rec *history.OperationRecord) {
	if s.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if _, err := s.recorder.RecordOperation(ctx, rec); err != nil {
		s.logger.Error("Failed to record operation history", "deployment_id", rec.DeploymentID, "error", err)
	}
}

func stringPtr(s string) *string {
	return &s
}
