package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// EnqueueTask adds a pending task. MaxAttempts defaults to 3 and RunAfter to now.
func (q queries) EnqueueTask(ctx context.Context, t Task) error {
	now := formatTime(time.Now())
	runAfter := now
	if !t.RunAfter.IsZero() {
		runAfter = formatTime(t.RunAfter)
	}
	maxAttempts := t.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	payload := t.PayloadJSON
	if payload == "" {
		payload = "{}"
	}
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO tasks (id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', 0, ?, ?, ?, ?)`,
		t.ID, t.Type, payload, maxAttempts, runAfter, now, now,
	)
	if err != nil {
		return fmt.Errorf("enqueueing task %s: %w", t.Type, err)
	}
	return nil
}

// HasPendingTask reports whether a task with the same type and payload is
// queued and not yet claimed.
func (q queries) HasPendingTask(ctx context.Context, taskType, payload string) (bool, error) {
	var n int
	err := q.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE type = ? AND payload_json = ? AND status = 'pending'`,
		taskType, payload).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking pending %s task: %w", taskType, err)
	}
	return n > 0, nil
}

// ClaimNextTask marks the oldest runnable task of the given types as running
// and returns it. Returns nil when nothing is due.
func (s *Store) ClaimNextTask(ctx context.Context, types []string) (*Task, error) {
	if len(types) == 0 {
		return nil, nil
	}

	var claimed *Task
	err := s.InTx(ctx, func(tx *Tx) error {
		t, err := tx.claimNextTask(ctx, types)
		claimed = t
		return err
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (q queries) claimNextTask(ctx context.Context, types []string) (*Task, error) {
	now := formatTime(time.Now())
	placeholders := strings.Repeat(",?", len(types)-1)
	args := make([]any, 0, len(types)+1)
	args = append(args, now)
	for _, t := range types {
		args = append(args, t)
	}

	var t Task
	var runAfter, createdAt, updatedAt string
	var lastError sql.NullString
	err := q.q.QueryRowContext(ctx, `
		SELECT id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error
		FROM tasks
		WHERE status = 'pending' AND run_after <= ? AND type IN (?`+placeholders+`)
		ORDER BY run_after ASC, created_at ASC
		LIMIT 1`, args...,
	).Scan(&t.ID, &t.Type, &t.PayloadJSON, &t.Status, &t.Attempts, &t.MaxAttempts,
		&runAfter, &createdAt, &updatedAt, &lastError)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting next task: %w", err)
	}

	res, err := q.q.ExecContext(ctx, `UPDATE tasks SET status = 'running', updated_at = ? WHERE id = ? AND status = 'pending'`, now, t.ID)
	if err != nil {
		return nil, fmt.Errorf("updating task status: %w", err)
	}
	if err := affectedOne(res, ErrStale); err != nil {
		if errors.Is(err, ErrStale) {
			return nil, nil
		}
		return nil, err
	}

	t.Status = "running"
	t.LastError = lastError.String
	if t.RunAfter, err = parseTime("run_after", runAfter); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseTime("updated_at", now); err != nil {
		return nil, err
	}
	return &t, nil
}

func (q queries) CompleteTask(ctx context.Context, id string) error {
	res, err := q.q.ExecContext(ctx, `UPDATE tasks SET status = 'completed', updated_at = ? WHERE id = ?`, formatTime(time.Now()), id)
	if err != nil {
		return err
	}
	return affectedOne(res, ErrNotFound)
}

// FailTask records a failed attempt. The task is rescheduled with a
// 2^attempts second backoff until max_attempts is reached, then marked failed.
func (s *Store) FailTask(ctx context.Context, id string, errMsg string) error {
	return s.InTx(ctx, func(tx *Tx) error {
		var attempts, maxAttempts int
		err := tx.q.QueryRowContext(ctx, `SELECT attempts, max_attempts FROM tasks WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		attempts++

		if attempts >= maxAttempts {
			_, err = tx.q.ExecContext(ctx, `UPDATE tasks SET status = 'failed', attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
				attempts, errMsg, formatTime(now), id)
			return err
		}
		backoff := time.Duration(math.Pow(2, float64(attempts))) * time.Second
		_, err = tx.q.ExecContext(ctx, `UPDATE tasks SET status = 'pending', attempts = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, formatTime(now.Add(backoff)), formatTime(now), id)
		return err
	})
}

// TaskCounts returns the number of tasks per status.
func (q queries) TaskCounts(ctx context.Context) (map[string]int, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
