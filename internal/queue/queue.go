package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const maxErrorBytes = 4 * 1024

// Queue is the durable delivery queue backed by sqlite.
type Queue struct {
	db           *sql.DB
	dedupeWindow time.Duration
}

// New creates a Queue. A zero dedupeWindow disables deduplication.
func New(db *sql.DB, dedupeWindow time.Duration) *Queue {
	return &Queue{db: db, dedupeWindow: dedupeWindow}
}

// Enqueue records an authorized delivery and returns its id. When a
// dedupe key is supplied and another delivery with the same key arrived
// inside the dedupe window, the existing id is returned and no new row is
// written.
func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (string, error) {
	if req.Event == "" {
		return "", fmt.Errorf("event is empty")
	}

	if req.DedupeKey != "" && q.dedupeWindow > 0 {
		cutoff := time.Now().UTC().Add(-q.dedupeWindow).Format(time.RFC3339Nano)
		var existing string
		err := q.db.QueryRowContext(ctx, `
SELECT id FROM delivery_queue
WHERE dedupe_key = ? AND created_at >= ?
ORDER BY created_at DESC
LIMIT 1;
`, req.DedupeKey, cutoff).Scan(&existing)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("dedupe lookup: %w", err)
		}
	}

	id := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 4
	}

	_, err := q.db.ExecContext(ctx, `
INSERT INTO delivery_queue(
  id, github_delivery_id, event, payload, dedupe_key, status, attempt, max_attempts,
  received_from, created_at
)
VALUES(?, ?, ?, ?, ?, ?, 1, ?, ?, ?);
`, id, req.GitHubDeliveryID, req.Event, req.Payload, req.DedupeKey, StatusQueued, maxAttempts, req.ReceivedFrom, now)
	if err != nil {
		return "", fmt.Errorf("enqueue delivery: %w", err)
	}
	return id, nil
}

// Dequeue claims the oldest due delivery and marks it running. Returns
// (nil, nil) if nothing is due.
func (q *Queue) Dequeue(ctx context.Context) (*Delivery, error) {
	now := time.Now().UTC()
	nowS := now.Format(time.RFC3339Nano)

	row := q.db.QueryRowContext(ctx, `
WITH next AS (
  SELECT id
  FROM delivery_queue
  WHERE status = ? AND (next_retry_at IS NULL OR next_retry_at <= ?)
  ORDER BY created_at ASC, rowid ASC
  LIMIT 1
)
UPDATE delivery_queue
SET status = ?, started_at = ?
WHERE id IN (SELECT id FROM next)
RETURNING
  id, github_delivery_id, event, payload, dedupe_key, status, attempt, max_attempts,
  received_from, created_at, started_at, completed_at, next_retry_at, last_error;
`, StatusQueued, nowS, StatusRunning, nowS)

	d, err := scanDelivery(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue delivery: %w", err)
	}
	return d, nil
}

// Complete marks a delivery as delivered and archives it.
func (q *Queue) Complete(ctx context.Context, deliveryID string) error {
	return q.finish(ctx, deliveryID, StatusDelivered, nil)
}

// Fail records a handler failure. The delivery is requeued with
// exponential backoff until max attempts is reached, then marked dead and
// archived.
func (q *Queue) Fail(ctx context.Context, deliveryID string, cause string, backoffBase time.Duration) error {
	if deliveryID == "" {
		return fmt.Errorf("deliveryID is empty")
	}
	if len(cause) > maxErrorBytes {
		cause = cause[:maxErrorBytes]
	}

	var attempt, maxAttempts int
	err := q.db.QueryRowContext(ctx,
		"SELECT attempt, max_attempts FROM delivery_queue WHERE id = ?;", deliveryID,
	).Scan(&attempt, &maxAttempts)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrDeliveryNotFound
	}
	if err != nil {
		return fmt.Errorf("load delivery for failure: %w", err)
	}

	if attempt >= maxAttempts {
		return q.finish(ctx, deliveryID, StatusDead, &cause)
	}

	if backoffBase <= 0 {
		backoffBase = 30 * time.Second
	}
	retryAt := time.Now().UTC().Add(backoffBase << (attempt - 1)).Format(time.RFC3339Nano)

	_, err = q.db.ExecContext(ctx, `
UPDATE delivery_queue
SET status = ?, attempt = attempt + 1, next_retry_at = ?, last_error = ?
WHERE id = ?;
`, StatusQueued, retryAt, cause, deliveryID)
	if err != nil {
		return fmt.Errorf("requeue delivery: %w", err)
	}
	return nil
}

// Depth returns the number of deliveries still queued or running.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	var depth int
	err := q.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM delivery_queue WHERE status IN (?, ?);",
		StatusQueued, StatusRunning,
	).Scan(&depth)
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return depth, nil
}

// Recent returns the most recently archived deliveries, newest first.
func (q *Queue) Recent(ctx context.Context, limit int) ([]LogEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := q.db.QueryContext(ctx, `
SELECT id, event, status, attempt, created_at, completed_at, last_error
FROM delivery_log
ORDER BY completed_at DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query delivery log: %w", err)
	}
	defer rows.Close()

	var out []LogEntry
	for rows.Next() {
		var (
			e          LogEntry
			createdS   string
			completedS string
			lastError  sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Event, &e.Status, &e.Attempt, &createdS, &completedS, &lastError); err != nil {
			return nil, fmt.Errorf("scan delivery log: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, createdS); err == nil {
			e.CreatedAt = t
		}
		if t, err := time.Parse(time.RFC3339Nano, completedS); err == nil {
			e.CompletedAt = t
		}
		if lastError.Valid {
			e.LastError = &lastError.String
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// finish marks a delivery terminal and appends a row to delivery_log.
func (q *Queue) finish(ctx context.Context, deliveryID string, status Status, lastError *string) error {
	if deliveryID == "" {
		return fmt.Errorf("deliveryID is empty")
	}
	if status != StatusDelivered && status != StatusFailed && status != StatusDead {
		return fmt.Errorf("invalid terminal status: %q", status)
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		githubID     sql.NullString
		event        string
		attempt      int
		receivedFrom sql.NullString
		createdAt    string
	)
	err = tx.QueryRowContext(ctx, `
SELECT github_delivery_id, event, attempt, received_from, created_at
FROM delivery_queue
WHERE id = ?;
`, deliveryID).Scan(&githubID, &event, &attempt, &receivedFrom, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrDeliveryNotFound
	}
	if err != nil {
		return fmt.Errorf("load delivery for completion: %w", err)
	}

	completedAt := time.Now().UTC().Format(time.RFC3339Nano)

	_, err = tx.ExecContext(ctx, `
UPDATE delivery_queue
SET status = ?, completed_at = ?, last_error = ?
WHERE id = ?;
`, status, completedAt, lastError, deliveryID)
	if err != nil {
		return fmt.Errorf("update delivery completion: %w", err)
	}

	logID := fmt.Sprintf("%s-%d", deliveryID, attempt)
	_, err = tx.ExecContext(ctx, `
INSERT INTO delivery_log(
  id, github_delivery_id, event, status, attempt, received_from, created_at, completed_at, last_error
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);
`, logID, githubID, event, status, attempt, receivedFrom, createdAt, completedAt, lastError)
	if err != nil {
		return fmt.Errorf("insert delivery_log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func scanDelivery(row *sql.Row) (*Delivery, error) {
	var (
		d            Delivery
		githubID     sql.NullString
		payload      []byte
		dedupeKey    sql.NullString
		statusS      string
		receivedFrom sql.NullString
		createdAtS   string
		startedAtS   sql.NullString
		completedAtS sql.NullString
		nextRetryAtS sql.NullString
		lastError    sql.NullString
	)
	err := row.Scan(
		&d.ID, &githubID, &d.Event, &payload, &dedupeKey, &statusS, &d.Attempt, &d.MaxAttempts,
		&receivedFrom, &createdAtS, &startedAtS, &completedAtS, &nextRetryAtS, &lastError,
	)
	if err != nil {
		return nil, err
	}

	d.Status = Status(statusS)
	d.Payload = payload
	if githubID.Valid {
		d.GitHubDeliveryID = githubID.String
	}
	if dedupeKey.Valid {
		d.DedupeKey = dedupeKey.String
	}
	if receivedFrom.Valid {
		d.ReceivedFrom = receivedFrom.String
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAtS); err == nil {
		d.CreatedAt = t
	}
	if startedAtS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, startedAtS.String); err == nil {
			d.StartedAt = &t
		}
	}
	if completedAtS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, completedAtS.String); err == nil {
			d.CompletedAt = &t
		}
	}
	if nextRetryAtS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, nextRetryAtS.String); err == nil {
			d.NextRetryAt = &t
		}
	}
	if lastError.Valid {
		d.LastError = &lastError.String
	}
	return &d, nil
}
