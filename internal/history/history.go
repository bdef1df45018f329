// Package history keeps an append-only SQLite log of deployment operations.
// It outlives the deployment records themselves: deleting a deployment
// removes its record but not its operation history.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// History manages operation history in SQLite
type History struct {
	db *sql.DB
}

// NewHistory opens (or creates) the history database at dbPath.
func NewHistory(dbPath string) (*History, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite has a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	h := &History{db: db}

	if err := h.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return h, nil
}

// Close closes the database connection
func (h *History) Close() error {
	return h.db.Close()
}

func (h *History) initSchema() error {
	_, err := h.db.Exec(`
		CREATE TABLE IF NOT EXISTS operations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			deployment_id TEXT NOT NULL,
			operation TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at TEXT NOT NULL,
			completed_at TEXT,
			duration_seconds REAL,
			final_state TEXT,
			error_message TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	_, err = h.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_deployment_id
		ON operations(deployment_id, id DESC)
	`)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}

// RecordOperation appends an operation and returns its row id.
func (h *History) RecordOperation(ctx context.Context, record *OperationRecord) (int64, error) {
	startedAt := record.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}

	var completedAt *string
	if record.CompletedAt != nil {
		formatted := record.CompletedAt.UTC().Format(time.RFC3339Nano)
		completedAt = &formatted
	}

	result, err := h.db.ExecContext(ctx, `
		INSERT INTO operations
		(deployment_id, operation, status, started_at, completed_at,
		 duration_seconds, final_state, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.DeploymentID,
		record.Operation,
		record.Status,
		startedAt.UTC().Format(time.RFC3339Nano),
		completedAt,
		record.DurationSeconds,
		record.FinalState,
		record.ErrorMessage,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert operation record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}

	return id, nil
}

// GetLatestOperation returns the most recent operation for a deployment, or
// nil if there is none.
func (h *History) GetLatestOperation(ctx context.Context, deploymentID string) (*OperationRecord, error) {
	row := h.db.QueryRowContext(ctx, `
		SELECT id, deployment_id, operation, status, started_at, completed_at,
		       duration_seconds, final_state, error_message
		FROM operations
		WHERE deployment_id = ?
		ORDER BY id DESC
		LIMIT 1
	`, deploymentID)

	record, err := scanOperationRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest operation: %w", err)
	}

	return record, nil
}

// GetOperationHistory returns up to limit operations for a deployment,
// newest first.
func (h *History) GetOperationHistory(ctx context.Context, deploymentID string, limit int) ([]OperationRecord, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT id, deployment_id, operation, status, started_at, completed_at,
		       duration_seconds, final_state, error_message
		FROM operations
		WHERE deployment_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, deploymentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query operation history: %w", err)
	}
	defer rows.Close()

	records := []OperationRecord{}
	for rows.Next() {
		record, err := scanOperationRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation record: %w", err)
		}
		records = append(records, *record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return records, nil
}

// GetLatestPerDeployment returns the latest operation of every deployment
// that has one.
func (h *History) GetLatestPerDeployment(ctx context.Context) (map[string]*OperationRecord, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT o.id, o.deployment_id, o.operation, o.status, o.started_at,
		       o.completed_at, o.duration_seconds, o.final_state, o.error_message
		FROM operations o
		INNER JOIN (
			SELECT deployment_id, MAX(id) AS max_id
			FROM operations
			GROUP BY deployment_id
		) latest
		ON o.id = latest.max_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest operations: %w", err)
	}
	defer rows.Close()

	result := make(map[string]*OperationRecord)
	for rows.Next() {
		record, err := scanOperationRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation record: %w", err)
		}
		result[record.DeploymentID] = record
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return result, nil
}

// scanner is an interface that both *sql.Row and *sql.Rows implement
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOperationRecord(s scanner) (*OperationRecord, error) {
	var record OperationRecord
	var startedAtStr string
	var completedAtStr sql.NullString
	var duration sql.NullFloat64
	var finalState, errorMessage sql.NullString

	err := s.Scan(
		&record.ID,
		&record.DeploymentID,
		&record.Operation,
		&record.Status,
		&startedAtStr,
		&completedAtStr,
		&duration,
		&finalState,
		&errorMessage,
	)
	if err != nil {
		return nil, err
	}

	startedAt, err := time.Parse(time.RFC3339Nano, startedAtStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse started_at timestamp: %w", err)
	}
	record.StartedAt = startedAt

	if completedAtStr.Valid {
		completedAt, err := time.Parse(time.RFC3339Nano, completedAtStr.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse completed_at timestamp: %w", err)
		}
		record.CompletedAt = &completedAt
	}
	if duration.Valid {
		record.DurationSeconds = &duration.Float64
	}
	if finalState.Valid {
		record.FinalState = &finalState.String
	}
	if errorMessage.Valid {
		record.ErrorMessage = &errorMessage.String
	}

	return &record, nil
}
