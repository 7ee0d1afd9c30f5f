// Package history is the run ledger: one row per sync and one per tool
// command, kept in the SQLite database opened by package storage.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/tfsync/internal/log"
	"github.com/mattjoyce/tfsync/internal/tfvc"
)

const (
	defaultListLimit = 50
	maxErrorBytes    = 4 * 1024

	// timeFormat is fixed width so stored timestamps sort as text.
	timeFormat = "2006-01-02T15:04:05.000000000Z07:00"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// BeginRun inserts a running row and returns its ID.
func (s *Store) BeginRun(ctx context.Context, req BeginRequest) (string, error) {
	if req.Builder == "" {
		return "", fmt.Errorf("builder is empty")
	}

	id := uuid.NewString()
	now := time.Now().UTC().Format(timeFormat)

	_, err := s.db.ExecContext(ctx, `
INSERT INTO sync_runs(id, builder, worker, workspace, branch, mode, revision, status, started_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);
`, id, req.Builder, req.Worker, req.Workspace, req.Branch, req.Mode, req.Revision, StatusRunning, now)
	if err != nil {
		return "", fmt.Errorf("begin run: %w", err)
	}
	return id, nil
}

// RecordCommand appends one command to a run.
func (s *Store) RecordCommand(ctx context.Context, runID string, rec tfvc.CommandRecord) error {
	if runID == "" {
		return fmt.Errorf("runID is empty")
	}
	args, err := json.Marshal(rec.Args)
	if err != nil {
		return fmt.Errorf("encode args: %w", err)
	}

	var errVal any
	if rec.Err != "" {
		errVal = truncate(rec.Err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO sync_commands(run_id, seq, subcommand, args, policy, exit_code, timed_out, failed, duration_ms, error)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, runID, rec.Seq, rec.Subcommand(), string(args), rec.OnFailure.String(), rec.ExitCode,
		rec.TimedOut, rec.Failed, rec.Duration.Milliseconds(), errVal)
	if err != nil {
		return fmt.Errorf("record command %d: %w", rec.Seq, err)
	}
	return nil
}

// FinishRun marks a run terminal from the sync's outcome.
func (s *Store) FinishRun(ctx context.Context, runID string, report tfvc.Report, runErr error) error {
	if runID == "" {
		return fmt.Errorf("runID is empty")
	}

	status := StatusSucceeded
	var (
		lastError any
		decision  any = report.Decision.String()
	)
	if runErr != nil {
		status = StatusFailed
		if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
			status = StatusCancelled
		}
		lastError = truncate(runErr.Error())
		decision = nil
	}

	res, err := s.db.ExecContext(ctx, `
UPDATE sync_runs
SET status = ?, decision = ?, created = ?, commands = ?, finished_at = ?, last_error = ?
WHERE id = ?;
`, status, decision, report.Created, report.Commands, time.Now().UTC().Format(timeFormat), lastError, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRunNotFound
	}
	return nil
}

// GetRun returns a run with its commands in execution order.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, builder, worker, workspace, branch, mode, revision, status, decision, created, commands,
  started_at, finished_at, last_error
FROM sync_runs
WHERE id = ?;
`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT seq, subcommand, args, policy, exit_code, timed_out, failed, duration_ms, error
FROM sync_commands
WHERE run_id = ?
ORDER BY seq ASC;
`, runID)
	if err != nil {
		return nil, fmt.Errorf("list commands: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			c          Command
			argsS      string
			durationMs int64
			errS       sql.NullString
		)
		if err := rows.Scan(&c.Seq, &c.Subcommand, &argsS, &c.Policy, &c.ExitCode, &c.TimedOut, &c.Failed, &durationMs, &errS); err != nil {
			return nil, fmt.Errorf("scan command: %w", err)
		}
		if err := json.Unmarshal([]byte(argsS), &c.Args); err != nil {
			return nil, fmt.Errorf("decode args of command %d: %w", c.Seq, err)
		}
		c.Duration = time.Duration(durationMs) * time.Millisecond
		c.Error = errS.String
		run.Steps = append(run.Steps, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list commands: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (s *Store) ListRuns(ctx context.Context, f ListFilter) ([]Run, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, builder, worker, workspace, branch, mode, revision, status, decision, created, commands,
  started_at, finished_at, last_error
FROM sync_runs
WHERE (? = '' OR builder = ?) AND (? = '' OR status = ?)
ORDER BY started_at DESC, rowid DESC
LIMIT ?;
`, f.Builder, f.Builder, string(f.Status), string(f.Status), limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

// Prune deletes finished runs that started before now minus retention.
// Commands go with them.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-retention).Format(timeFormat)

	res, err := s.db.ExecContext(ctx, `
DELETE FROM sync_runs
WHERE started_at < ? AND status != ?;
`, cutoff, StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Recorder adapts the store to the sync engine's command hook for one run.
// Write failures are logged and never fail the sync.
func (s *Store) Recorder(runID string) tfvc.Recorder {
	return &runRecorder{store: s, runID: runID, logger: log.WithRun(runID)}
}

type runRecorder struct {
	store  *Store
	runID  string
	logger *slog.Logger
}

func (r *runRecorder) RecordCommand(ctx context.Context, rec tfvc.CommandRecord) {
	// Record even when the run's context is already cancelled.
	if err := r.store.RecordCommand(context.WithoutCancel(ctx), r.runID, rec); err != nil {
		r.logger.Warn("failed to record command", "seq", rec.Seq, "error", err)
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		r           Run
		revision    sql.NullString
		statusS     string
		decision    sql.NullString
		startedAtS  string
		finishedAtS sql.NullString
		lastError   sql.NullString
	)
	if err := row.Scan(
		&r.ID, &r.Builder, &r.Worker, &r.Workspace, &r.Branch, &r.Mode, &revision, &statusS, &decision,
		&r.Created, &r.Commands, &startedAtS, &finishedAtS, &lastError,
	); err != nil {
		return nil, err
	}

	r.Status = Status(statusS)
	r.Revision = revision.String
	r.Decision = decision.String
	if t, err := time.Parse(time.RFC3339Nano, startedAtS); err == nil {
		r.StartedAt = t
	}
	if finishedAtS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, finishedAtS.String); err == nil {
			r.FinishedAt = &t
		}
	}
	if lastError.Valid {
		r.LastError = &lastError.String
	}
	return &r, nil
}

func truncate(s string) string {
	if len(s) > maxErrorBytes {
		return s[:maxErrorBytes]
	}
	return s
}
