// Package store provides persistent storage for applications and pipeline
// state in sqlite. One database file holds everything the server needs to
// resume after a restart.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/resilient-vitality/conveyor/internal/app"
	"github.com/resilient-vitality/conveyor/internal/pipeline"
)

// PipelineStatus is the lifecycle state of a persisted pipeline.
type PipelineStatus string

const (
	// StatusRunning marks pipelines with work left; the scheduler reloads
	// these on startup.
	StatusRunning  PipelineStatus = "running"
	StatusComplete PipelineStatus = "complete"
	StatusFailed   PipelineStatus = "failed"
	// StatusArchived marks finished pipelines swept by the archive job.
	StatusArchived PipelineStatus = "archived"
)

// PipelineRecord is one persisted pipeline with its full snapshot.
type PipelineRecord struct {
	ID        string
	Repo      string
	Status    PipelineStatus
	Pipeline  *pipeline.Pipeline
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store provides persistent storage for applications and pipelines
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the database at path and migrates it
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	store, err := NewStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewStore creates a store using an existing database connection
func NewStore(db *sql.DB) (*Store, error) {
	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate tables: %w", err)
	}
	return store, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates necessary tables
func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS applications (
			repo TEXT PRIMARY KEY,
			config TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS pipelines (
			id TEXT PRIMARY KEY,
			repo TEXT NOT NULL,
			status TEXT NOT NULL,
			snapshot TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pipelines_repo ON pipelines(repo)`,
		`CREATE INDEX IF NOT EXISTS idx_pipelines_status ON pipelines(status)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// SaveApplication inserts or replaces the application registered for a repo
func (s *Store) SaveApplication(ctx context.Context, repo string, application *app.Application) error {
	config, err := json.Marshal(application)
	if err != nil {
		return fmt.Errorf("failed to marshal application: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO applications (repo, config, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(repo) DO UPDATE SET
			config = excluded.config,
			updated_at = excluded.updated_at
	`, repo, string(config), time.Now().UTC())
	return err
}

// ApplicationByRepo retrieves the application for a clone URL, or nil when
// the repo is not registered
func (s *Store) ApplicationByRepo(ctx context.Context, repo string) (*app.Application, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT config FROM applications WHERE repo = ?
	`, repo)

	var config string
	if err := row.Scan(&config); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	var application app.Application
	if err := json.Unmarshal([]byte(config), &application); err != nil {
		return nil, fmt.Errorf("failed to unmarshal application for %s: %w", repo, err)
	}
	return &application, nil
}

// ListApplicationRepos retrieves all registered clone URLs
func (s *Store) ListApplicationRepos(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT repo FROM applications ORDER BY repo`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var repos []string
	for rows.Next() {
		var repo string
		if err := rows.Scan(&repo); err != nil {
			return nil, err
		}
		repos = append(repos, repo)
	}
	return repos, rows.Err()
}

// SavePipeline inserts or replaces a pipeline record with its snapshot
func (s *Store) SavePipeline(ctx context.Context, rec *PipelineRecord) error {
	snapshot, err := json.Marshal(rec.Pipeline)
	if err != nil {
		return fmt.Errorf("failed to marshal pipeline snapshot: %w", err)
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pipelines (id, repo, status, snapshot, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			snapshot = excluded.snapshot,
			updated_at = excluded.updated_at
	`, rec.ID, rec.Repo, string(rec.Status), string(snapshot), rec.CreatedAt, rec.UpdatedAt)
	return err
}

// GetPipeline retrieves a pipeline record by ID, or nil when unknown
func (s *Store) GetPipeline(ctx context.Context, id string) (*PipelineRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, repo, status, snapshot, created_at, updated_at
		FROM pipelines WHERE id = ?
	`, id)
	return scanPipeline(row)
}

// ActivePipelines retrieves all pipelines with work left, oldest first
func (s *Store) ActivePipelines(ctx context.Context) ([]*PipelineRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, repo, status, snapshot, created_at, updated_at
		FROM pipelines WHERE status = ?
		ORDER BY created_at
	`, string(StatusRunning))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var records []*PipelineRecord
	for rows.Next() {
		rec, err := scanPipelineRow(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ArchiveFinished marks complete and failed pipelines older than the cutoff
// as archived, returning how many rows changed
func (s *Store) ArchiveFinished(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pipelines SET status = ?, updated_at = ?
		WHERE status IN (?, ?) AND updated_at < ?
	`, string(StatusArchived), time.Now().UTC(), string(StatusComplete), string(StatusFailed), before.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPipeline(row *sql.Row) (*PipelineRecord, error) {
	rec, err := scanPipelineRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

func scanPipelineRow(row rowScanner) (*PipelineRecord, error) {
	var rec PipelineRecord
	var status, snapshot string
	if err := row.Scan(&rec.ID, &rec.Repo, &status, &snapshot, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Status = PipelineStatus(status)

	var p pipeline.Pipeline
	if err := json.Unmarshal([]byte(snapshot), &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot for pipeline %s: %w", rec.ID, err)
	}
	rec.Pipeline = &p
	return &rec, nil
}
