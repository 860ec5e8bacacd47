package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"mailpilot/internal/core"
)

// InsertActivityLog appends one audit record. The table is append-only;
// nothing in the core ever updates or deletes rows.
func (s *Store) InsertActivityLog(ctx context.Context, entry *core.ActivityLog) error {
	entry.CreatedAt = time.Now().UTC()
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO activity_logs (id, profile_id, task_id, action, details, duration_ms, success, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.ProfileID, entry.TaskID, entry.Action, nullableJSON(entry.Details),
		entry.DurationMS, boolToInt(entry.Success), entry.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert activity log: %w", err)
	}
	return nil
}

// ListActivityByProfile returns the newest activity for one profile.
func (s *Store) ListActivityByProfile(ctx context.Context, profileID string, limit, offset int) ([]*core.ActivityLog, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, profile_id, task_id, action, details, duration_ms, success, created_at
		FROM activity_logs
		WHERE profile_id = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, profileID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()
	return collectActivity(rows)
}

// ListActivityByTask returns the activity recorded for one task.
func (s *Store) ListActivityByTask(ctx context.Context, taskID string) ([]*core.ActivityLog, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, profile_id, task_id, action, details, duration_ms, success, created_at
		FROM activity_logs
		WHERE task_id = ?
		ORDER BY created_at DESC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list task activity: %w", err)
	}
	defer rows.Close()
	return collectActivity(rows)
}

func collectActivity(rows *sql.Rows) ([]*core.ActivityLog, error) {
	var entries []*core.ActivityLog
	for rows.Next() {
		entry, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func scanActivity(scanner interface {
	Scan(dest ...any) error
}) (*core.ActivityLog, error) {
	var (
		id         string
		profileID  string
		taskID     string
		action     string
		details    sql.NullString
		durationMS int64
		success    int
		createdAt  string
	)
	if err := scanner.Scan(&id, &profileID, &taskID, &action, &details, &durationMS, &success, &createdAt); err != nil {
		return nil, fmt.Errorf("scan activity log: %w", err)
	}
	entry := &core.ActivityLog{
		ID:         id,
		ProfileID:  profileID,
		TaskID:     taskID,
		Action:     core.TaskKind(action),
		DurationMS: durationMS,
		Success:    success != 0,
	}
	if details.Valid {
		entry.Details = json.RawMessage(details.String)
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		entry.CreatedAt = t
	}
	return entry, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
