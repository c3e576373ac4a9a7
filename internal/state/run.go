package state

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ShayCichocki/issuepilot/pkg/models"
)

// RunStatus represents the status of a solve run.
type RunStatus string

const (
	RunActive      RunStatus = "active"
	RunCompleted   RunStatus = "completed"
	RunFailed      RunStatus = "failed"
	RunCanceled    RunStatus = "canceled"
	RunInterrupted RunStatus = "interrupted"
)

// Terminal reports whether the run has ended.
func (s RunStatus) Terminal() bool {
	return s != RunActive
}

// Run is one invocation of the solve command.
type Run struct {
	ID          string
	Repo        string
	Concurrency int
	DryRun      bool
	PID         int
	StartedAt   time.Time
	FinishedAt  *time.Time
	Status      RunStatus
	Error       string
}

// Result is one persisted work result.
type Result struct {
	RunID       string
	ItemKey     string
	Label       string
	Mode        models.Mode
	Slot        int
	Outcome     models.Outcome
	PRURL       string
	ErrorDetail string
	ExitCode    int
	Branch      string
	WorkDir     string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// CreateRun inserts a new run.
func (db *DB) CreateRun(r *Run) error {
	if r.Status == "" {
		r.Status = RunActive
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	_, err := db.Exec(`
		INSERT INTO runs (id, repo, concurrency, dry_run, pid, started_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Repo, r.Concurrency, r.DryRun, r.PID, formatTime(r.StartedAt), r.Status)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID. Returns nil, nil if not found.
func (db *DB) GetRun(id string) (*Run, error) {
	row := db.QueryRow(`
		SELECT id, repo, concurrency, dry_run, pid, started_at, finished_at, status, error
		FROM runs WHERE id = ?
	`, id)

	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// FinishRun records the terminal status of a run.
func (db *DB) FinishRun(id string, status RunStatus, errMsg string) error {
	result, err := db.Exec(`
		UPDATE runs SET status = ?, finished_at = ?, error = ?
		WHERE id = ?
	`, status, formatTime(time.Now()), nullString(errMsg), id)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("run not found: %s", id)
	}
	return nil
}

// ListRuns returns the most recent runs first. A non-positive limit
// returns every run.
func (db *DB) ListRuns(limit int) ([]Run, error) {
	query := `
		SELECT id, repo, concurrency, dry_run, pid, started_at, finished_at, status, error
		FROM runs ORDER BY started_at DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// activeRuns returns runs still marked active.
func (db *DB) activeRuns() ([]Run, error) {
	rows, err := db.Query(`
		SELECT id, repo, concurrency, dry_run, pid, started_at, finished_at, status, error
		FROM runs WHERE status = ?
	`, RunActive)
	if err != nil {
		return nil, fmt.Errorf("list active runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// RecordResult stores one final work result of runID.
func (db *DB) RecordResult(runID string, res models.WorkResult) error {
	_, err := db.Exec(`
		INSERT INTO results (run_id, item_key, label, mode, slot, outcome, pr_url,
			error_detail, exit_code, branch, working_dir, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, runID, res.Item.Key(), res.Item.Label(), res.Item.Mode, res.Slot, res.Outcome,
		nullString(res.PRURL), nullString(res.ErrorDetail), res.ExitCode,
		nullString(res.Item.BranchName), nullString(res.Item.WorkingDirectory),
		formatTime(res.StartedAt), formatTime(res.FinishedAt))
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

// ListResults returns the results of runID in the order they were recorded.
func (db *DB) ListResults(runID string) ([]Result, error) {
	rows, err := db.Query(`
		SELECT run_id, item_key, label, mode, slot, outcome, pr_url, error_detail,
			exit_code, branch, working_dir, started_at, finished_at
		FROM results WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var (
			r                                 Result
			prURL, detail, branch, workDir    sql.NullString
			startedAt, finishedAt, mode, outc string
		)
		if err := rows.Scan(&r.RunID, &r.ItemKey, &r.Label, &mode, &r.Slot, &outc,
			&prURL, &detail, &r.ExitCode, &branch, &workDir, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		r.Mode = models.Mode(mode)
		r.Outcome = models.Outcome(outc)
		r.PRURL = prURL.String
		r.ErrorDetail = detail.String
		r.Branch = branch.String
		r.WorkDir = workDir.String
		if r.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		if r.FinishedAt, err = parseTime(finishedAt); err != nil {
			return nil, fmt.Errorf("parse finished_at: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var (
		r          Run
		startedAt  string
		finishedAt sql.NullString
		status     string
		errMsg     sql.NullString
	)
	if err := s.Scan(&r.ID, &r.Repo, &r.Concurrency, &r.DryRun, &r.PID,
		&startedAt, &finishedAt, &status, &errMsg); err != nil {
		return nil, err
	}
	t, err := parseTime(startedAt)
	if err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	r.StartedAt = t
	r.FinishedAt = parseNullableTime(finishedAt)
	r.Status = RunStatus(status)
	r.Error = errMsg.String
	return &r, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
