package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore persists task outputs and the run journal in SQLite. It
// implements engine.OutputStore and engine.RunJournal.
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{
		path: cfg.Path,
		cfg:  cfg,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Foreign keys are a connection-level setting
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// GetOutput returns the cached output for an identity key and invalidator.
func (s *SQLiteStore) GetOutput(ctx context.Context, identityKey, invalidator string) (json.RawMessage, bool, error) {
	query := `
		SELECT output
		FROM task_outputs
		WHERE identity_key = ? AND invalidator = ?
	`

	var output string
	err := s.db.QueryRowContext(ctx, query, identityKey, invalidator).Scan(&output)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get output for %s: %w", identityKey, err)
	}

	return json.RawMessage(output), true, nil
}

// PutOutput persists a task output. An existing (identity, invalidator)
// record is left unchanged.
func (s *SQLiteStore) PutOutput(ctx context.Context, record engine.TaskRecord) error {
	query := `
		INSERT OR IGNORE INTO task_outputs (identity_key, invalidator, kind, output, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, query,
		record.IdentityKey,
		record.Invalidator,
		record.Kind,
		string(record.Output),
		createdAt,
	)

	if err != nil {
		return fmt.Errorf("failed to put output for %s: %w", record.IdentityKey, err)
	}

	return nil
}

// RunStarted records a new run in the journal.
func (s *SQLiteStore) RunStarted(ctx context.Context, runID string, startedAt time.Time, taskCount int) error {
	query := `
		INSERT INTO runs (id, status, started_at, task_count, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		runID,
		RunStatusRunning,
		startedAt.UTC(),
		taskCount,
		time.Now().UTC(),
	)

	if err != nil {
		return fmt.Errorf("failed to record run start: %w", err)
	}

	return nil
}

// TaskCompleted appends a finished task to the run's journal.
func (s *SQLiteStore) TaskCompleted(ctx context.Context, runID string, report engine.TaskReport) error {
	query := `
		INSERT INTO run_tasks (run_id, identity_key, kind, status, error, attempts, duration_ms, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	var errMsg *string
	if report.Error != "" {
		errMsg = &report.Error
	}

	_, err := s.db.ExecContext(ctx, query,
		runID,
		report.IdentityKey,
		report.Kind,
		string(report.Status),
		errMsg,
		report.Attempts,
		report.Duration.Milliseconds(),
		time.Now().UTC(),
	)

	if err != nil {
		return fmt.Errorf("failed to record task completion: %w", err)
	}

	return nil
}

// RunCompleted finalizes the run record with outcome counts.
func (s *SQLiteStore) RunCompleted(ctx context.Context, report *engine.RunReport) error {
	status := RunStatusCompleted
	if report.HasFailures() {
		status = RunStatusFailed
	}

	query := `
		UPDATE runs
		SET status = ?, completed_at = ?, succeeded = ?, cached = ?, failed = ?, skipped = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		status,
		report.CompletedAt.UTC(),
		len(report.Succeeded),
		len(report.Cached),
		len(report.Failed),
		len(report.Skipped),
		report.RunID,
	)

	if err != nil {
		return fmt.Errorf("failed to record run completion: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run not found: %s", report.RunID)
	}

	return nil
}

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `
		SELECT id, status, started_at, completed_at, task_count, succeeded, cached, failed, skipped, created_at
		FROM runs
		WHERE id = ?
	`

	run := &Run{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID,
		&run.Status,
		&run.StartedAt,
		&run.CompletedAt,
		&run.TaskCount,
		&run.Succeeded,
		&run.Cached,
		&run.Failed,
		&run.Skipped,
		&run.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// ListRuns lists runs with pagination, most recent first
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	query := `
		SELECT id, status, started_at, completed_at, task_count, succeeded, cached, failed, skipped, created_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run := &Run{}
		err := rows.Scan(
			&run.ID,
			&run.Status,
			&run.StartedAt,
			&run.CompletedAt,
			&run.TaskCount,
			&run.Succeeded,
			&run.Cached,
			&run.Failed,
			&run.Skipped,
			&run.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// ListRunTasks lists the journaled tasks for a run in completion order
func (s *SQLiteStore) ListRunTasks(ctx context.Context, runID string) ([]*RunTask, error) {
	query := `
		SELECT id, run_id, identity_key, kind, status, error, attempts, duration_ms, completed_at
		FROM run_tasks
		WHERE run_id = ?
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list run tasks: %w", err)
	}
	defer rows.Close()

	tasks := []*RunTask{}
	for rows.Next() {
		task := &RunTask{}
		err := rows.Scan(
			&task.ID,
			&task.RunID,
			&task.IdentityKey,
			&task.Kind,
			&task.Status,
			&task.Error,
			&task.Attempts,
			&task.DurationMS,
			&task.CompletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run task: %w", err)
		}
		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run tasks: %w", err)
	}

	return tasks, nil
}

// PruneOutputs deletes cached outputs older than the cutoff and returns
// the number removed.
func (s *SQLiteStore) PruneOutputs(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM task_outputs WHERE created_at < ?`

	result, err := s.db.ExecContext(ctx, query, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune outputs: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
