package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/crmarques/reconctl/faults"
	"github.com/crmarques/reconctl/journal"
	"github.com/crmarques/reconctl/reconciler"
	"github.com/crmarques/reconctl/resource"
)

var _ journal.Store = (*Journal)(nil)

const timeLayout = time.RFC3339Nano

// Journal records apply runs in a SQLite database.
type Journal struct {
	db *sql.DB
}

// Open creates the database file and its parent directory when missing.
// ":memory:" keeps the journal in process.
func Open(path string) (*Journal, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, faults.NewValidationError("journal.path is required", nil)
	}

	dsn := path
	if path != ":memory:" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, faults.NewValidationError("journal.path is invalid", err)
		}
		if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
			return nil, faults.NewInternalError("failed to create journal directory", err)
		}
		dsn = absPath
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, faults.NewInternalError("failed to open journal", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	j := &Journal{db: db}
	if err := j.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

func (j *Journal) migrate(ctx context.Context) error {
	statements := []string{
		`PRAGMA foreign_keys = ON`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			status TEXT NOT NULL,
			total INTEGER NOT NULL,
			attempted INTEGER NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS runs_started_at ON runs (started_at)`,
		`CREATE TABLE IF NOT EXISTS failures (
			run_id TEXT NOT NULL REFERENCES runs (run_id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			operation TEXT NOT NULL,
			identity TEXT NOT NULL,
			category TEXT NOT NULL,
			message TEXT NOT NULL,
			PRIMARY KEY (run_id, position)
		)`,
	}
	for _, statement := range statements {
		if _, err := j.db.ExecContext(ctx, statement); err != nil {
			return faults.NewInternalError("failed to migrate journal", err)
		}
	}
	return nil
}

func (j *Journal) Record(ctx context.Context, result reconciler.Result) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return faults.NewInternalError("failed to begin journal transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, kind, status, total, attempted, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		result.RunID,
		string(result.Kind),
		string(result.Status),
		result.Total,
		result.Attempted,
		result.StartedAt.UTC().Format(timeLayout),
		result.FinishedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return faults.NewConflictError(fmt.Sprintf("failed to record run %s", result.RunID), err)
	}

	for position, failure := range result.Failures {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO failures (run_id, position, operation, identity, category, message)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			result.RunID,
			position,
			string(failure.Operation),
			failure.Identity,
			string(reconciler.FailureCategory(failure)),
			failure.Message,
		)
		if err != nil {
			return faults.NewInternalError(fmt.Sprintf("failed to record failure of run %s", result.RunID), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return faults.NewInternalError("failed to commit journal transaction", err)
	}
	return nil
}

func (j *Journal) Recent(ctx context.Context, limit int) ([]reconciler.Result, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT run_id, kind, status, total, attempted, started_at, finished_at
		 FROM runs ORDER BY started_at DESC, run_id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, faults.NewInternalError("failed to query journal", err)
	}
	defer rows.Close()

	results := make([]reconciler.Result, 0, limit)
	for rows.Next() {
		var (
			result     reconciler.Result
			kind       string
			status     string
			startedAt  string
			finishedAt string
		)
		if err := rows.Scan(&result.RunID, &kind, &status, &result.Total, &result.Attempted, &startedAt, &finishedAt); err != nil {
			return nil, faults.NewInternalError("failed to read journal row", err)
		}
		result.Kind = resource.Kind(kind)
		result.Status = reconciler.Status(status)
		if result.StartedAt, err = time.Parse(timeLayout, startedAt); err != nil {
			return nil, faults.NewInternalError("journal holds an invalid start time", err)
		}
		if result.FinishedAt, err = time.Parse(timeLayout, finishedAt); err != nil {
			return nil, faults.NewInternalError("journal holds an invalid finish time", err)
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, faults.NewInternalError("failed to iterate journal rows", err)
	}
	rows.Close()

	for idx := range results {
		failures, err := j.failures(ctx, results[idx])
		if err != nil {
			return nil, err
		}
		results[idx].Failures = failures
	}
	return results, nil
}

func (j *Journal) failures(ctx context.Context, run reconciler.Result) ([]reconciler.Failure, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT operation, identity, category, message FROM failures WHERE run_id = ? ORDER BY position`,
		run.RunID,
	)
	if err != nil {
		return nil, faults.NewInternalError("failed to query journal failures", err)
	}
	defer rows.Close()

	var failures []reconciler.Failure
	for rows.Next() {
		var operation, identity, category, message string
		if err := rows.Scan(&operation, &identity, &category, &message); err != nil {
			return nil, faults.NewInternalError("failed to read journal failure", err)
		}
		failures = append(failures, reconciler.Failure{
			Kind:      run.Kind,
			Operation: reconciler.Operation(operation),
			Identity:  identity,
			Err:       faults.NewTypedError(faults.ErrorCategory(category), message, nil),
			Message:   message,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, faults.NewInternalError("failed to iterate journal failures", err)
	}
	return failures, nil
}
