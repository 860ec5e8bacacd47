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

var ErrTimingProfileNotFound = errors.New("timing profile not found")

// DefaultTimingProfile returns the timing profile marked as default. The
// queue loads it once per batch.
func (s *Store) DefaultTimingProfile(ctx context.Context) (*core.TimingProfile, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, name, config, is_default, created_at
		FROM timing_profiles
		WHERE is_default = 1
		LIMIT 1
	`)
	profile, err := scanTimingProfile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTimingProfileNotFound
		}
		return nil, err
	}
	return profile, nil
}

// GetTimingProfileByName looks a timing profile up by its unique name.
func (s *Store) GetTimingProfileByName(ctx context.Context, name string) (*core.TimingProfile, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, name, config, is_default, created_at
		FROM timing_profiles
		WHERE name = ?
	`, name)
	profile, err := scanTimingProfile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTimingProfileNotFound
		}
		return nil, err
	}
	return profile, nil
}

func scanTimingProfile(scanner interface {
	Scan(dest ...any) error
}) (*core.TimingProfile, error) {
	var (
		id        string
		name      string
		config    string
		isDefault int
		createdAt string
	)
	if err := scanner.Scan(&id, &name, &config, &isDefault, &createdAt); err != nil {
		return nil, fmt.Errorf("scan timing profile: %w", err)
	}
	profile := &core.TimingProfile{
		ID:        id,
		Name:      name,
		IsDefault: isDefault != 0,
	}
	if err := json.Unmarshal([]byte(config), &profile.Config); err != nil {
		return nil, fmt.Errorf("decode timing config %s: %w", name, err)
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		profile.CreatedAt = t
	}
	return profile, nil
}
