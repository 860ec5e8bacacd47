package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mailpilot/internal/browser"
	"mailpilot/internal/humanize"
)

// Automator executes one task's action sequence against an open page.
type Automator interface {
	Execute(ctx context.Context, page browser.Page, timing *humanize.Timing, kind TaskKind, params json.RawMessage, creds Credentials) (map[string]any, error)
}

// Executor runs exactly one task against exactly one profile session. It
// owns the session lifecycle; the queue owns persistence of the result.
type Executor struct {
	sessions    browser.SessionManager
	automator   Automator
	logger      *slog.Logger
	taskTimeout time.Duration
}

// NewExecutor creates an executor. taskTimeout bounds the wall-clock time
// of one task, session open included; zero disables the bound.
func NewExecutor(sessions browser.SessionManager, automator Automator, logger *slog.Logger, taskTimeout time.Duration) *Executor {
	return &Executor{
		sessions:    sessions,
		automator:   automator,
		logger:      logger,
		taskTimeout: taskTimeout,
	}
}

// Run produces exactly one TaskResult per invocation. Every failure mode is
// normalized into the result; Run itself never returns an error to the
// caller.
func (e *Executor) Run(ctx context.Context, task *Task, profile *Profile, timing *humanize.Timing) TaskResult {
	if profile == nil {
		return TaskResult{Success: false, Error: "cannot run without a profile"}
	}

	if e.taskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.taskTimeout)
		defer cancel()
	}

	session, err := e.sessions.Open(ctx, profile.ID, browser.Kind(profile.Kind))
	if err != nil {
		return TaskResult{Success: false, Error: fmt.Sprintf("open session: %v", err)}
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			e.logger.Warn("close session", "profile_id", profile.ID, "err", closeErr)
		}
	}()

	started := time.Now()
	payload, err := e.automator.Execute(ctx, session.Page, timing, task.Kind, task.Params, profile.Credentials)
	duration := time.Since(started)

	if err != nil {
		msg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			msg = fmt.Sprintf("task timed out after %s", e.taskTimeout)
		}
		return TaskResult{Success: false, Duration: duration, Error: msg}
	}
	return TaskResult{Success: true, Duration: duration, Payload: payload}
}
