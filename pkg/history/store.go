// Package history keeps past audit reports in a local SQLite database so
// runs can be listed and compared.
package history

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/user/hostaudit/pkg/engine"
	"github.com/user/hostaudit/pkg/report"
)

// ErrNotFound is returned for unknown run IDs.
var ErrNotFound = errors.New("run not found")

// Run is the summary row of one stored report.
type Run struct {
	RunID      string    `json:"run_id"`
	Host       string    `json:"host"`
	StartedAt  time.Time `json:"started_at"`
	Score      int       `json:"score"`
	High       int       `json:"high"`
	Medium     int       `json:"medium"`
	Low        int       `json:"low"`
	Remediated bool      `json:"remediated"`
	ExitCode   int       `json:"exit_code"`
}

// Store is the report history.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the history database at path and applies
// pending migrations.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := Migrate(db, -1); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores a finished report.
func (s *Store) Save(ctx context.Context, r *report.Report) error {
	var buf bytes.Buffer
	if err := report.WriteJSON(&buf, r); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `INSERT INTO runs
		(run_id, host, started_at, finished_at, score, high, medium, low, passed, remediated, exit_code, report)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Host, r.StartedAt.UTC(), r.FinishedAt.UTC(),
		r.Score.Value, r.Score.High, r.Score.Medium, r.Score.Low, r.Score.Passed,
		len(r.Outcomes) > 0, r.ExitCode(), buf.String())
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO findings (run_id, finding_id, module, severity, status, fix_id) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()
	for _, f := range r.Findings {
		if _, err := stmt.ExecContext(ctx, r.RunID, f.ID, f.ModuleName, string(f.Severity), string(f.Status), f.FixID); err != nil {
			return fmt.Errorf("insert finding %s: %w", f.ID, err)
		}
	}
	return tx.Commit()
}

// List returns the most recent runs first. limit <= 0 returns all.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	q := `SELECT run_id, host, started_at, score, high, medium, low, remediated, exit_code
		FROM runs ORDER BY started_at DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.RunID, &r.Host, &r.StartedAt, &r.Score, &r.High, &r.Medium, &r.Low, &r.Remediated, &r.ExitCode); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Get loads a stored report.
func (s *Store) Get(ctx context.Context, runID string) (*report.Report, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT report FROM runs WHERE run_id = ?`, runID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return nil, err
	}
	return report.ReadJSON([]byte(raw))
}

// Diff compares the failed findings of two stored runs. With empty IDs it
// compares the two most recent runs.
func (s *Store) Diff(ctx context.Context, baseID, currentID string) (engine.Diff, error) {
	if baseID == "" || currentID == "" {
		runs, err := s.List(ctx, 2)
		if err != nil {
			return engine.Diff{}, err
		}
		if len(runs) < 2 {
			return engine.Diff{}, fmt.Errorf("%w: need two runs to compare, have %d", ErrNotFound, len(runs))
		}
		currentID, baseID = runs[0].RunID, runs[1].RunID
	}
	base, err := s.Get(ctx, baseID)
	if err != nil {
		return engine.Diff{}, err
	}
	cur, err := s.Get(ctx, currentID)
	if err != nil {
		return engine.Diff{}, err
	}
	return engine.Compare(base.Findings, cur.Findings), nil
}

// Prune deletes all but the keep most recent runs.
func (s *Store) Prune(ctx context.Context, keep int) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE run_id NOT IN
		(SELECT run_id FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?)`, keep)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM findings WHERE run_id NOT IN (SELECT run_id FROM runs)`); err != nil {
		return int(n), err
	}
	return int(n), nil
}
