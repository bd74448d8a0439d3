// Package journal records request metadata in SQLite for inspection and
// crash recovery.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattjoyce/agentbridge/internal/worker"
)

const (
	maxStderrBytes = 64 * 1024
	defaultLimit   = 50
	maxLimit       = 1000
)

// timeFormat is fixed-width so stored timestamps compare lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

type Journal struct {
	db *sql.DB
}

func New(db *sql.DB) *Journal {
	return &Journal{db: db}
}

// Submitted records a newly accepted request as queued.
func (j *Journal) Submitted(ctx context.Context, id, conversationID string, textLength int, at time.Time) error {
	_, err := j.db.ExecContext(ctx, `
INSERT INTO agent_request(id, conversation_id, status, text_length, submitted_at)
VALUES(?, ?, ?, ?, ?);
`, id, conversationID, string(StatusQueued), textLength, formatTime(at))
	if err != nil {
		return fmt.Errorf("insert agent_request: %w", err)
	}
	return nil
}

// Started marks a request as running.
func (j *Journal) Started(ctx context.Context, id string, at time.Time) error {
	res, err := j.db.ExecContext(ctx, `
UPDATE agent_request SET status = ?, started_at = ?
WHERE id = ? AND status = ?;
`, string(StatusRunning), formatTime(at), id, string(StatusQueued))
	if err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	return requireRow(res, id)
}

// Completed records the terminal outcome of a request.
func (j *Journal) Completed(ctx context.Context, id string, result worker.Result, at time.Time) error {
	var exitCode any
	if result.ExitCode >= 0 && (result.Status == worker.StatusSucceeded || result.Status == worker.StatusFailed) {
		exitCode = result.ExitCode
	}
	var durationMS any
	if result.Duration > 0 {
		durationMS = result.Duration.Milliseconds()
	}

	res, err := j.db.ExecContext(ctx, `
UPDATE agent_request
SET status = ?, completed_at = ?, exit_code = ?, duration_ms = ?, reason = ?, stderr = ?
WHERE id = ?;
`, string(result.Status), formatTime(at), exitCode, durationMS,
		nullIfEmpty(result.Reason), nullIfEmpty(truncate(result.Stderr, maxStderrBytes)), id)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return requireRow(res, id)
}

// ReplyDelivered records whether the reply reached the chat transport.
func (j *Journal) ReplyDelivered(ctx context.Context, id string, deliveryErr error, at time.Time) error {
	status := ReplySent
	var errText any
	if deliveryErr != nil {
		status = ReplyFailed
		errText = deliveryErr.Error()
	}
	res, err := j.db.ExecContext(ctx, `
UPDATE agent_request SET reply_status = ?, reply_error = ?, replied_at = ?
WHERE id = ?;
`, status, errText, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("record reply: %w", err)
	}
	return requireRow(res, id)
}

const selectColumns = `id, conversation_id, status, text_length, submitted_at, started_at, completed_at,
  exit_code, duration_ms, reason, stderr, reply_status, reply_error, replied_at`

// Get returns one request by id.
func (j *Journal) Get(ctx context.Context, id string) (*Entry, error) {
	row := j.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM agent_request WHERE id = ?;`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// List returns requests newest first.
func (j *Journal) List(ctx context.Context, f Filter) ([]Entry, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	var where []string
	var args []any
	if f.ConversationID != "" {
		where = append(where, "conversation_id = ?")
		args = append(args, f.ConversationID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}

	q := `SELECT ` + selectColumns + ` FROM agent_request`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY submitted_at DESC, id DESC LIMIT ?;`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list agent_request: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agent_request: %w", err)
	}
	return out, nil
}

// Counts returns the number of rows per status.
func (j *Journal) Counts(ctx context.Context) (map[Status]int, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM agent_request GROUP BY status;`)
	if err != nil {
		return nil, fmt.Errorf("count agent_request: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[Status(status)] = n
	}
	return counts, rows.Err()
}

// Prune deletes terminal rows completed before now-retention. A zero
// retention keeps everything.
func (j *Journal) Prune(ctx context.Context, retention time.Duration, now time.Time) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := formatTime(now.Add(-retention))
	res, err := j.db.ExecContext(ctx, `
DELETE FROM agent_request
WHERE status NOT IN (?, ?) AND completed_at IS NOT NULL AND completed_at < ?;
`, string(StatusQueued), string(StatusRunning), cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune agent_request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// RecoverInterrupted marks rows left queued or running by a previous process
// as abandoned.
func (j *Journal) RecoverInterrupted(ctx context.Context, at time.Time) (int64, error) {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
UPDATE agent_request SET status = ?, completed_at = ?, reason = ?
WHERE status IN (?, ?);
`, string(StatusAbandoned), formatTime(at), "interrupted by restart",
		string(StatusQueued), string(StatusRunning))
	if err != nil {
		return 0, fmt.Errorf("abandon interrupted: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*Entry, error) {
	var (
		e                                    Entry
		status, submittedAt                  string
		startedAt, completedAt, repliedAt    sql.NullString
		reason, stderr, replyStatus, replyEr sql.NullString
		exitCode, durationMS                 sql.NullInt64
	)
	err := s.Scan(&e.ID, &e.ConversationID, &status, &e.TextLength, &submittedAt,
		&startedAt, &completedAt, &exitCode, &durationMS, &reason, &stderr,
		&replyStatus, &replyEr, &repliedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan agent_request: %w", err)
	}

	e.Status = Status(status)
	t, err := parseTime(submittedAt)
	if err != nil {
		return nil, fmt.Errorf("parse submitted_at: %w", err)
	}
	e.SubmittedAt = t

	if e.StartedAt, err = parseNullTime(startedAt); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if e.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, fmt.Errorf("parse completed_at: %w", err)
	}
	if e.RepliedAt, err = parseNullTime(repliedAt); err != nil {
		return nil, fmt.Errorf("parse replied_at: %w", err)
	}
	if exitCode.Valid {
		v := int(exitCode.Int64)
		e.ExitCode = &v
	}
	if durationMS.Valid {
		d := time.Duration(durationMS.Int64) * time.Millisecond
		e.Duration = &d
	}
	e.Reason = nullString(reason)
	e.Stderr = nullString(stderr)
	e.ReplyStatus = nullString(replyStatus)
	e.ReplyError = nullString(replyEr)
	return &e, nil
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeFormat, s)
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
