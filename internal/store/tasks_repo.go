package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"mailpilot/internal/core"
)

var ErrTaskNotFound = errors.New("task not found")

func (s *Store) InsertTask(ctx context.Context, task *core.Task) error {
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO tasks (id, profile_id, kind, status, priority, params, scheduled_at, started_at, completed_at, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, task.ID, task.ProfileID, task.Kind, task.Status, task.Priority, nullableJSON(task.Params),
		nullableTime(task.ScheduledAt), nullableTime(task.StartedAt), nullableTime(task.CompletedAt),
		nullableString(task.Error), task.CreatedAt.Format(time.RFC3339Nano), task.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*core.Task, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, profile_id, kind, status, priority, params, scheduled_at, started_at, completed_at, error, created_at, updated_at
		FROM tasks WHERE id = ?
	`, id)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return task, nil
}

func (s *Store) ListTasks(ctx context.Context, status *core.TaskStatus) ([]*core.Task, error) {
	var rows *sql.Rows
	var err error
	if status != nil {
		rows, err = s.DB.QueryContext(ctx, `
			SELECT id, profile_id, kind, status, priority, params, scheduled_at, started_at, completed_at, error, created_at, updated_at
			FROM tasks
			WHERE status = ?
			ORDER BY created_at DESC
		`, *status)
	} else {
		rows, err = s.DB.QueryContext(ctx, `
			SELECT id, profile_id, kind, status, priority, params, scheduled_at, started_at, completed_at, error, created_at, updated_at
			FROM tasks
			ORDER BY created_at DESC
		`)
	}
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// ListPendingTasks returns up to limit eligible pending tasks ordered by
// priority descending, then earliest schedule time with unscheduled tasks
// first.
func (s *Store) ListPendingTasks(ctx context.Context, now time.Time, limit int) ([]*core.Task, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, profile_id, kind, status, priority, params, scheduled_at, started_at, completed_at, error, created_at, updated_at
		FROM tasks
		WHERE status = ? AND (scheduled_at IS NULL OR scheduled_at <= ?)
		ORDER BY priority DESC, scheduled_at IS NOT NULL, scheduled_at ASC
		LIMIT ?
	`, core.TaskStatusPending, now.UTC().Format(time.RFC3339Nano), limit)
	if err != nil {
		return nil, fmt.Errorf("query pending tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// ClaimTask transitions one task from pending to running. The conditional
// update is the optimistic claim: it reports false without error when a
// concurrent caller already took the task.
func (s *Store) ClaimTask(ctx context.Context, id string, startedAt time.Time) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE tasks
		SET status = ?, started_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, core.TaskStatusRunning, startedAt.UTC().Format(time.RFC3339Nano),
		time.Now().UTC().Format(time.RFC3339Nano), id, core.TaskStatusPending)
	if err != nil {
		return false, fmt.Errorf("claim task: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// CountPendingTasks counts tasks that are currently eligible to be claimed.
func (s *Store) CountPendingTasks(ctx context.Context, now time.Time) (int, error) {
	var count int
	err := s.DB.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM tasks
		WHERE status = ? AND (scheduled_at IS NULL OR scheduled_at <= ?)
	`, core.TaskStatusPending, now.UTC().Format(time.RFC3339Nano)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending tasks: %w", err)
	}
	return count, nil
}

// MarkTaskCompleted stamps a terminal successful status.
func (s *Store) MarkTaskCompleted(ctx context.Context, id string, completedAt time.Time) error {
	return s.finishTask(ctx, id, core.TaskStatusCompleted, completedAt, nil)
}

// MarkTaskFailed stamps a terminal failed status with the error message.
func (s *Store) MarkTaskFailed(ctx context.Context, id string, completedAt time.Time, errMsg string) error {
	return s.finishTask(ctx, id, core.TaskStatusFailed, completedAt, &errMsg)
}

func (s *Store) finishTask(ctx context.Context, id string, status core.TaskStatus, completedAt time.Time, errMsg *string) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE tasks
		SET status = ?, completed_at = ?, error = ?, updated_at = ?
		WHERE id = ?
	`, status, completedAt.UTC().Format(time.RFC3339Nano), nullableString(errMsg),
		time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("finish task: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func collectTasks(rows *sql.Rows) ([]*core.Task, error) {
	var tasks []*core.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tasks, nil
}

func scanTask(scanner interface {
	Scan(dest ...any) error
}) (*core.Task, error) {
	var (
		id          string
		profileID   string
		kind        string
		status      string
		priority    int
		params      sql.NullString
		scheduledAt sql.NullString
		startedAt   sql.NullString
		completedAt sql.NullString
		errMsg      sql.NullString
		createdAt   string
		updatedAt   string
	)
	if err := scanner.Scan(&id, &profileID, &kind, &status, &priority, &params,
		&scheduledAt, &startedAt, &completedAt, &errMsg, &createdAt, &updatedAt); err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	task := &core.Task{
		ID:        id,
		ProfileID: profileID,
		Kind:      core.TaskKind(kind),
		Status:    core.TaskStatus(status),
		Priority:  priority,
	}
	if params.Valid {
		task.Params = json.RawMessage(params.String)
	}
	task.ScheduledAt = parseNullableTime(scheduledAt)
	task.StartedAt = parseNullableTime(startedAt)
	task.CompletedAt = parseNullableTime(completedAt)
	if errMsg.Valid {
		task.Error = &errMsg.String
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		task.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		task.UpdatedAt = t
	}
	return task, nil
}

func parseNullableTime(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	if t, err := time.Parse(time.RFC3339Nano, value.String); err == nil {
		return &t
	}
	return nil
}

func nullableString(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func nullableJSON(value json.RawMessage) any {
	if len(value) == 0 {
		return nil
	}
	return string(value)
}
