package core

import (
	"encoding/json"
	"time"

	"mailpilot/internal/humanize"
)

// TaskKind identifies the automation sequence a task runs.
type TaskKind string

const (
	TaskKindLogin              TaskKind = "login"
	TaskKindCheckInbox         TaskKind = "check_inbox"
	TaskKindReadEmail          TaskKind = "read_email"
	TaskKindSendEmail          TaskKind = "send_email"
	TaskKindStarEmail          TaskKind = "star_email"
	TaskKindReplyToEmail       TaskKind = "reply_to_email"
	TaskKindReportToInbox      TaskKind = "report_to_inbox"
	TaskKindCheckAccountStatus TaskKind = "check_account_status"
	TaskKindSetupAccount       TaskKind = "setup_account"
)

// ValidTaskKind reports whether kind names a known automation sequence.
func ValidTaskKind(kind TaskKind) bool {
	switch kind {
	case TaskKindLogin, TaskKindCheckInbox, TaskKindReadEmail, TaskKindSendEmail,
		TaskKindStarEmail, TaskKindReplyToEmail, TaskKindReportToInbox,
		TaskKindCheckAccountStatus, TaskKindSetupAccount:
		return true
	}
	return false
}

// TaskStatus describes the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// ProfileKind distinguishes where a browser profile is hosted.
type ProfileKind string

const (
	ProfileKindCloud ProfileKind = "cloud"
	ProfileKindLocal ProfileKind = "local"
)

// ProfileStatus describes what a profile is currently doing.
type ProfileStatus string

const (
	ProfileStatusIdle    ProfileStatus = "idle"
	ProfileStatusRunning ProfileStatus = "running"
	ProfileStatusPaused  ProfileStatus = "paused"
	ProfileStatusError   ProfileStatus = "error"
)

// HealthStatus classifies the reachability of the webmail account behind a
// profile, as observed after a login attempt.
type HealthStatus string

const (
	HealthOK                   HealthStatus = "ok"
	HealthBlocked              HealthStatus = "blocked"
	HealthPasswordRequired     HealthStatus = "password_required"
	HealthVerificationRequired HealthStatus = "verification_required"
	HealthError                HealthStatus = "error"
	HealthUnknown              HealthStatus = "unknown"
)

// Credentials are the webmail account credentials attached to a profile.
type Credentials struct {
	Email         string
	Password      string
	RecoveryEmail *string
}

// Profile is a browser identity under automation. Identity and credentials
// are owned externally; the queue only mutates the run-state and health
// fields.
type Profile struct {
	ID              string
	Name            string
	Kind            ProfileKind
	Credentials     Credentials
	Status          ProfileStatus
	LastRunAt       *time.Time
	Health          HealthStatus
	HealthMessage   *string
	HealthCheckedAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Task is one unit of scheduled automation work against a profile.
type Task struct {
	ID          string
	ProfileID   string
	Kind        TaskKind
	Status      TaskStatus
	Priority    int
	Params      json.RawMessage
	ScheduledAt *time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Error       *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TaskResult is the outcome of running one task. It is not persisted as its
// own entity; the queue folds it into the task row and the activity log.
type TaskResult struct {
	Success  bool
	Duration time.Duration
	Payload  map[string]any
	Error    string
}

// BatchResult summarizes one batch invocation.
type BatchResult struct {
	ProcessedCount int
	FailedCount    int
	RemainingCount int
	HasMore        bool
}

// ActivityLog is one append-only audit record per processed task.
type ActivityLog struct {
	ID         string
	ProfileID  string
	TaskID     string
	Action     TaskKind
	Details    json.RawMessage
	DurationMS int64
	Success    bool
	CreatedAt  time.Time
}

// TimingProfile is a named set of delay ranges used to humanize browser
// interaction. Read-only at execution time; the queue loads one per batch.
type TimingProfile struct {
	ID        string
	Name      string
	Config    humanize.Config
	IsDefault bool
	CreatedAt time.Time
}
