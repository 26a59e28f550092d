package wardsync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"
)

const queueColumns = `queue_id, action, table_name, target_local_id, payload, idempotency_key,
	retry_count, dependency_waits, last_error, enqueued_at, last_attempt_at`

// enqueue appends a mutation. Callers hold s.mu.
func (s *Store) enqueue(ctx context.Context, q dbtx, action Action, table Table, localID int64, payload Payload) (int64, error) {
	if err := checkPayload(table, action, payload); err != nil {
		return 0, err
	}
	raw, err := EncodePayload(payload)
	if err != nil {
		return 0, err
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO sync_queue (action, table_name, target_local_id, payload, idempotency_key, enqueued_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, string(action), string(table), localID, string(raw), ulid.Make().String(), s.timestamp())
	if err != nil {
		return 0, fmt.Errorf("store: enqueue sync: %w", err)
	}
	return res.LastInsertId()
}

// Enqueue appends a mutation to the queue. The payload kind must match the
// (table, action) pair.
func (s *Store) Enqueue(ctx context.Context, action Action, table Table, localID int64, payload Payload) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}
	return s.enqueue(ctx, s.db, action, table, localID, payload)
}

func scanMutation(sc scanner) (*Mutation, error) {
	var (
		m           Mutation
		action      string
		table       string
		payload     string
		lastError   sql.NullString
		enqueuedAt  string
		lastAttempt sql.NullString
	)
	err := sc.Scan(&m.QueueID, &action, &table, &m.TargetLocalID, &payload, &m.IdempotencyKey,
		&m.RetryCount, &m.DependencyWaits, &lastError, &enqueuedAt, &lastAttempt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	m.Action = Action(action)
	m.Table = Table(table)
	m.LastError = lastError.String
	m.EnqueuedAt = parseTime(enqueuedAt)
	if lastAttempt.Valid {
		m.LastAttemptAt = parseTime(lastAttempt.String)
	}
	// A payload that fails to decode is left nil; the executor evicts the
	// entry as permanent when it reaches it.
	m.Payload, _ = DecodePayload([]byte(payload))
	return &m, nil
}

// ListPending returns every queued mutation in processing order. Queue IDs
// are never reused, so they order entries even when the wall clock steps
// backwards; enqueued_at is informational.
func (s *Store) ListPending(ctx context.Context) ([]Mutation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+queueColumns+` FROM sync_queue ORDER BY queue_id`)
	if err != nil {
		return nil, fmt.Errorf("store: list pending: %w", err)
	}
	defer rows.Close()

	var results []Mutation
	for rows.Next() {
		m, err := scanMutation(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *m)
	}
	return results, rows.Err()
}

// Mutation returns a single queued mutation.
func (s *Store) Mutation(ctx context.Context, queueID int64) (*Mutation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	return scanMutation(s.db.QueryRowContext(ctx,
		`SELECT `+queueColumns+` FROM sync_queue WHERE queue_id = ?`, queueID))
}

// PendingCount returns the number of queued mutations.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: pending count: %w", err)
	}
	return n, nil
}

// Ack removes a mutation after it has been applied remotely.
// Acknowledging an absent entry is a no-op.
func (s *Store) Ack(ctx context.Context, queueID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE queue_id = ?`, queueID); err != nil {
		return fmt.Errorf("store: ack %d: %w", queueID, err)
	}
	return nil
}

// MarkFailed records a failed attempt and returns the new retry count.
func (s *Store) MarkFailed(ctx context.Context, queueID int64, cause error) (int, error) {
	return s.bump(ctx, queueID, "retry_count", cause)
}

// MarkWaiting records that the mutation's parent has no server identity yet
// and returns the new wait count. Waits do not consume the retry allowance.
func (s *Store) MarkWaiting(ctx context.Context, queueID int64, cause error) (int, error) {
	return s.bump(ctx, queueID, "dependency_waits", cause)
}

func (s *Store) bump(ctx context.Context, queueID int64, column string, cause error) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	var count int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, fmt.Sprintf(`
			UPDATE sync_queue
			SET %[1]s = %[1]s + 1, last_error = ?, last_attempt_at = ?
			WHERE queue_id = ?
		`, column), nullString(msg), s.timestamp(), queueID)
		if err != nil {
			return fmt.Errorf("store: mark %s: %w", column, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: queue entry %d", ErrNotFound, queueID)
		}
		return tx.QueryRowContext(ctx,
			fmt.Sprintf(`SELECT %s FROM sync_queue WHERE queue_id = ?`, column), queueID).Scan(&count)
	})
	return count, err
}

// Evict removes a mutation from the queue and quarantines it in
// sync_failures. The entity is left unsynced.
func (s *Store) Evict(ctx context.Context, queueID int64, reason EvictionReason) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO sync_failures (queue_id, action, table_name, target_local_id, payload,
				retry_count, last_error, reason, enqueued_at, evicted_at)
			SELECT queue_id, action, table_name, target_local_id, payload,
				retry_count, last_error, ?, enqueued_at, ?
			FROM sync_queue WHERE queue_id = ?
		`, string(reason), s.timestamp(), queueID)
		if err != nil {
			return fmt.Errorf("store: evict %d: %w", queueID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: queue entry %d", ErrNotFound, queueID)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM sync_queue WHERE queue_id = ?`, queueID); err != nil {
			return fmt.Errorf("store: evict %d: %w", queueID, err)
		}
		return nil
	})
}

func scanFailure(sc scanner) (*Failure, error) {
	var (
		f         Failure
		action    string
		table     string
		payload   string
		lastError sql.NullString
		reason    string
		enqueued  string
		evicted   string
	)
	err := sc.Scan(&f.ID, &f.QueueID, &action, &table, &f.TargetLocalID, &payload,
		&f.RetryCount, &lastError, &reason, &enqueued, &evicted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	f.Action = Action(action)
	f.Table = Table(table)
	f.LastError = lastError.String
	f.Reason = EvictionReason(reason)
	f.EnqueuedAt = parseTime(enqueued)
	f.EvictedAt = parseTime(evicted)
	f.Payload, _ = DecodePayload([]byte(payload))
	return &f, nil
}

const failureColumns = `id, queue_id, action, table_name, target_local_id, payload,
	retry_count, last_error, reason, enqueued_at, evicted_at`

// Failures returns every quarantined mutation, oldest eviction first.
func (s *Store) Failures(ctx context.Context) ([]Failure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+failureColumns+` FROM sync_failures ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: list failures: %w", err)
	}
	defer rows.Close()

	var results []Failure
	for rows.Next() {
		f, err := scanFailure(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *f)
	}
	return results, rows.Err()
}

// Requeue moves a quarantined mutation back into the queue at its original
// position (its original queue ID) with a fresh idempotency key and zeroed
// counters. Create and
// update entries carry the live record's current snapshot.
// Returns the new queue ID.
func (s *Store) Requeue(ctx context.Context, failureID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	var queueID int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		f, err := scanFailure(tx.QueryRowContext(ctx,
			`SELECT `+failureColumns+` FROM sync_failures WHERE id = ?`, failureID))
		if err != nil {
			return fmt.Errorf("requeue failure %d: %w", failureID, err)
		}

		rec, err := getRecord(ctx, tx, f.Table, f.TargetLocalID)
		if err != nil {
			return fmt.Errorf("requeue failure %d: %w", failureID, err)
		}

		var payload Payload
		switch f.Action {
		case ActionDelete:
			payload = Tombstone{ServerID: rec.Bookkeeping().ServerID}
		default:
			payload = rec.Snapshot()
		}
		if err := checkPayload(f.Table, f.Action, payload); err != nil {
			return err
		}
		raw, err := EncodePayload(payload)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO sync_queue (queue_id, action, table_name, target_local_id, payload, idempotency_key, enqueued_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, f.QueueID, string(f.Action), string(f.Table), f.TargetLocalID, string(raw), ulid.Make().String(), formatTime(f.EnqueuedAt))
		if err != nil {
			return fmt.Errorf("store: requeue: %w", err)
		}
		queueID = f.QueueID

		_, err = tx.ExecContext(ctx, `DELETE FROM sync_failures WHERE id = ?`, failureID)
		return err
	})
	return queueID, err
}
