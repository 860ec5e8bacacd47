package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"mailpilot/internal/core"
)

// ErrProfileNotFound aliases the core sentinel so queue and handlers agree
// on what a missing profile looks like.
var ErrProfileNotFound = core.ErrProfileNotFound

func (s *Store) InsertProfile(ctx context.Context, profile *core.Profile) error {
	now := time.Now().UTC()
	profile.CreatedAt = now
	profile.UpdatedAt = now
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO profiles (id, name, kind, email, password, recovery_email, status, last_run_at, health, health_message, health_checked_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, profile.ID, profile.Name, profile.Kind, profile.Credentials.Email, profile.Credentials.Password,
		nullableString(profile.Credentials.RecoveryEmail), profile.Status, nullableTime(profile.LastRunAt),
		profile.Health, nullableString(profile.HealthMessage), nullableTime(profile.HealthCheckedAt),
		profile.CreatedAt.Format(time.RFC3339Nano), profile.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert profile: %w", err)
	}
	return nil
}

func (s *Store) UpdateProfile(ctx context.Context, profile *core.Profile) error {
	profile.UpdatedAt = time.Now().UTC()
	res, err := s.DB.ExecContext(ctx, `
		UPDATE profiles
		SET name = ?, kind = ?, email = ?, password = ?, recovery_email = ?, status = ?, updated_at = ?
		WHERE id = ?
	`, profile.Name, profile.Kind, profile.Credentials.Email, profile.Credentials.Password,
		nullableString(profile.Credentials.RecoveryEmail), profile.Status,
		profile.UpdatedAt.Format(time.RFC3339Nano), profile.ID)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update profile rows: %w", err)
	}
	if rows == 0 {
		return ErrProfileNotFound
	}
	return nil
}

func (s *Store) DeleteProfile(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM profiles WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrProfileNotFound
	}
	return nil
}

func (s *Store) GetProfile(ctx context.Context, id string) (*core.Profile, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, name, kind, email, password, recovery_email, status, last_run_at, health, health_message, health_checked_at, created_at, updated_at
		FROM profiles WHERE id = ?
	`, id)
	profile, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	return profile, nil
}

func (s *Store) ListProfiles(ctx context.Context) ([]*core.Profile, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, name, kind, email, password, recovery_email, status, last_run_at, health, health_message, health_checked_at, created_at, updated_at
		FROM profiles
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query profiles: %w", err)
	}
	defer rows.Close()
	var profiles []*core.Profile
	for rows.Next() {
		profile, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, profile)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return profiles, nil
}

// UpdateProfileRunState records the profile's status transition around a
// task run. lastRunAt may be nil when marking the profile running.
func (s *Store) UpdateProfileRunState(ctx context.Context, id string, status core.ProfileStatus, lastRunAt *time.Time) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE profiles
		SET status = ?, last_run_at = COALESCE(?, last_run_at), updated_at = ?
		WHERE id = ?
	`, status, nullableTime(lastRunAt), time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("update profile run state: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrProfileNotFound
	}
	return nil
}

// UpdateProfileHealth stores the health classification from a status probe.
func (s *Store) UpdateProfileHealth(ctx context.Context, id string, health core.HealthStatus, message string, checkedAt time.Time) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE profiles
		SET health = ?, health_message = ?, health_checked_at = ?, updated_at = ?
		WHERE id = ?
	`, health, message, checkedAt.UTC().Format(time.RFC3339Nano),
		time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("update profile health: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrProfileNotFound
	}
	return nil
}

func scanProfile(scanner interface {
	Scan(dest ...any) error
}) (*core.Profile, error) {
	var (
		id              string
		name            string
		kind            string
		email           string
		password        string
		recoveryEmail   sql.NullString
		status          string
		lastRunAt       sql.NullString
		health          string
		healthMessage   sql.NullString
		healthCheckedAt sql.NullString
		createdAt       string
		updatedAt       string
	)
	if err := scanner.Scan(&id, &name, &kind, &email, &password, &recoveryEmail, &status,
		&lastRunAt, &health, &healthMessage, &healthCheckedAt, &createdAt, &updatedAt); err != nil {
		return nil, fmt.Errorf("scan profile: %w", err)
	}
	profile := &core.Profile{
		ID:   id,
		Name: name,
		Kind: core.ProfileKind(kind),
		Credentials: core.Credentials{
			Email:    email,
			Password: password,
		},
		Status: core.ProfileStatus(status),
		Health: core.HealthStatus(health),
	}
	if recoveryEmail.Valid {
		profile.Credentials.RecoveryEmail = &recoveryEmail.String
	}
	profile.LastRunAt = parseNullableTime(lastRunAt)
	if healthMessage.Valid {
		profile.HealthMessage = &healthMessage.String
	}
	profile.HealthCheckedAt = parseNullableTime(healthCheckedAt)
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		profile.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		profile.UpdatedAt = t
	}
	return profile, nil
}
