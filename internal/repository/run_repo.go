// Package repository provides persistence for reconciliation run history.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/donorsync/reconcile-api/internal/models"
)

// SQLiteRunRepository implements run-history persistence for SQLite.
type SQLiteRunRepository struct {
	db *sql.DB
}

// NewSQLiteRunRepository creates a new SQLite run repository.
func NewSQLiteRunRepository(db *sql.DB) *SQLiteRunRepository {
	return &SQLiteRunRepository{db: db}
}

// Create records a completed run. The full summary is stored as JSON so the
// API can replay past runs without re-reading report files from disk.
func (r *SQLiteRunRepository) Create(ctx context.Context, run *models.RunSummary) error {
	summaryJSON, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run summary: %w", err)
	}

	query := `
		INSERT INTO runs (id, started_at, elapsed_seconds, days, total_matched,
			total_unmatched, clients_with_errors, email_sent, report_dir, summary_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		run.ID,
		run.Timestamp.Format(time.RFC3339),
		run.ElapsedSeconds,
		run.Days,
		run.Totals.Matched,
		run.Totals.Unmatched,
		run.Totals.Errors,
		boolToInt(run.EmailSent),
		run.ReportDir,
		string(summaryJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// GetByID returns the full summary of a single run, or nil when not found.
func (r *SQLiteRunRepository) GetByID(ctx context.Context, id string) (*models.RunSummary, error) {
	row := r.db.QueryRowContext(ctx, `SELECT summary_json FROM runs WHERE id = ?`, id)

	var raw string
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	return unmarshalRun(raw)
}

// Latest returns the most recent run, or nil when no runs exist.
func (r *SQLiteRunRepository) Latest(ctx context.Context) (*models.RunSummary, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT summary_json FROM runs ORDER BY started_at DESC LIMIT 1`)

	var raw string
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query latest run: %w", err)
	}
	return unmarshalRun(raw)
}

// List returns runs in reverse chronological order.
func (r *SQLiteRunRepository) List(ctx context.Context, limit int) ([]*models.RunSummary, error) {
	if limit < 1 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT summary_json FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.RunSummary
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run, err := unmarshalRun(raw)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func unmarshalRun(raw string) (*models.RunSummary, error) {
	var run models.RunSummary
	if err := json.Unmarshal([]byte(raw), &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run summary: %w", err)
	}
	return &run, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
