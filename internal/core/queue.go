package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"mailpilot/internal/humanize"
	"mailpilot/internal/notify"
)

// ErrProfileNotFound is returned by Store implementations when a profile id
// does not exist. Any other GetProfile error is treated as transient.
var ErrProfileNotFound = errors.New("profile not found")

// Store abstracts the persistence layer used by the task queue.
type Store interface {
	// Task operations
	ListPendingTasks(ctx context.Context, now time.Time, limit int) ([]*Task, error)
	ClaimTask(ctx context.Context, id string, startedAt time.Time) (bool, error)
	CountPendingTasks(ctx context.Context, now time.Time) (int, error)
	MarkTaskCompleted(ctx context.Context, id string, completedAt time.Time) error
	MarkTaskFailed(ctx context.Context, id string, completedAt time.Time, errMsg string) error

	// Profile operations
	GetProfile(ctx context.Context, id string) (*Profile, error)
	UpdateProfileRunState(ctx context.Context, id string, status ProfileStatus, lastRunAt *time.Time) error
	UpdateProfileHealth(ctx context.Context, id string, health HealthStatus, message string, checkedAt time.Time) error

	// Audit and timing
	InsertActivityLog(ctx context.Context, entry *ActivityLog) error
	DefaultTimingProfile(ctx context.Context) (*TimingProfile, error)
}

// TaskRunner runs one task end to end. Implemented by Executor.
type TaskRunner interface {
	Run(ctx context.Context, task *Task, profile *Profile, timing *humanize.Timing) TaskResult
}

// BatchOptions bound one batch invocation.
type BatchOptions struct {
	MaxTasksPerBatch   int
	MaxConcurrentTasks int
}

func (o BatchOptions) validate() error {
	if o.MaxTasksPerBatch < 1 {
		return fmt.Errorf("max tasks per batch must be at least 1")
	}
	if o.MaxConcurrentTasks < 1 {
		return fmt.Errorf("max concurrent tasks must be at least 1")
	}
	return nil
}

// Queue claims pending tasks in batches and runs them under a bounded
// concurrency ceiling. It is single-shot: the caller decides cadence and
// keeps invoking it while HasMore is set.
type Queue struct {
	store    Store
	runner   TaskRunner
	logger   *slog.Logger
	notifier notify.Notifier

	busy atomic.Bool
}

// NewQueue constructs a queue. notifier may be nil.
func NewQueue(store Store, runner TaskRunner, logger *slog.Logger, notifier notify.Notifier) *Queue {
	if notifier == nil {
		notifier = &notify.NoOpNotifier{}
	}
	return &Queue{
		store:    store,
		runner:   runner,
		logger:   logger,
		notifier: notifier,
	}
}

// Busy reports whether a batch is currently in flight.
func (q *Queue) Busy() bool {
	return q.busy.Load()
}

// Batch is the handle for one in-flight batch. Stop prevents tasks that
// have not started yet from launching; tasks already running finish
// normally and their claims are still resolved to a terminal state.
type Batch struct {
	stopped atomic.Bool
	done    chan struct{}
	result  BatchResult
	err     error
}

// Stop requests that no further tasks of this batch be launched.
func (b *Batch) Stop() {
	b.stopped.Store(true)
}

// Wait blocks until the batch has fully drained and returns its result.
func (b *Batch) Wait() (BatchResult, error) {
	<-b.done
	return b.result, b.err
}

// ProcessBatch runs one batch synchronously.
func (q *Queue) ProcessBatch(ctx context.Context, opts BatchOptions) (BatchResult, error) {
	batch, err := q.StartBatch(ctx, opts)
	if err != nil {
		return BatchResult{}, err
	}
	return batch.Wait()
}

// StartBatch validates the options and launches one batch, returning its
// handle. When a batch is already in flight on this queue instance the
// returned handle resolves immediately to an empty result instead of
// overlapping.
func (q *Queue) StartBatch(ctx context.Context, opts BatchOptions) (*Batch, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	batch := &Batch{done: make(chan struct{})}
	if !q.busy.CompareAndSwap(false, true) {
		q.logger.Info("batch already in flight, skipping")
		close(batch.done)
		return batch, nil
	}
	go func() {
		defer q.busy.Store(false)
		defer close(batch.done)
		batch.result, batch.err = q.runBatch(ctx, batch, opts)
	}()
	return batch, nil
}

func (q *Queue) runBatch(ctx context.Context, batch *Batch, opts BatchOptions) (BatchResult, error) {
	now := time.Now().UTC()
	candidates, err := q.store.ListPendingTasks(ctx, now, opts.MaxTasksPerBatch)
	if err != nil {
		return BatchResult{}, fmt.Errorf("list pending tasks: %w", err)
	}

	// Optimistic claim: a conditional per-row update excludes any task a
	// concurrent caller took first, without error.
	claimed := make([]*Task, 0, len(candidates))
	for _, task := range candidates {
		ok, err := q.store.ClaimTask(ctx, task.ID, now)
		if err != nil {
			return BatchResult{}, fmt.Errorf("claim task %s: %w", task.ID, err)
		}
		if ok {
			task.Status = TaskStatusRunning
			started := now
			task.StartedAt = &started
			claimed = append(claimed, task)
		}
	}

	if len(claimed) == 0 {
		remaining, err := q.store.CountPendingTasks(ctx, time.Now().UTC())
		if err != nil {
			return BatchResult{}, fmt.Errorf("count pending tasks: %w", err)
		}
		return BatchResult{ProcessedCount: 0, RemainingCount: remaining, HasMore: remaining > 0}, nil
	}

	timingCfg := q.loadTimingConfig(ctx)

	q.logger.Info("processing batch", "claimed", len(claimed), "concurrency", opts.MaxConcurrentTasks)

	var failed atomic.Int64
	if opts.MaxConcurrentTasks == 1 {
		for _, task := range claimed {
			if !q.runTask(ctx, batch, task, timingCfg) {
				failed.Add(1)
			}
		}
	} else {
		// Tasks sharing a profile are chained inside one slot so no two
		// of them ever drive the same profile concurrently.
		groups := groupByProfile(claimed)
		g := new(errgroup.Group)
		g.SetLimit(opts.MaxConcurrentTasks)
		for _, group := range groups {
			tasks := group
			g.Go(func() error {
				for _, task := range tasks {
					if !q.runTask(ctx, batch, task, timingCfg) {
						failed.Add(1)
					}
				}
				return nil
			})
		}
		// Task failures never surface here; they are folded into each
		// task's terminal state.
		_ = g.Wait()
	}

	remaining, err := q.store.CountPendingTasks(ctx, time.Now().UTC())
	if err != nil {
		return BatchResult{}, fmt.Errorf("count pending tasks: %w", err)
	}
	return BatchResult{
		ProcessedCount: len(claimed),
		FailedCount:    int(failed.Load()),
		RemainingCount: remaining,
		HasMore:        remaining > 0,
	}, nil
}

// runTask executes one claimed task and persists its terminal state, the
// profile transition and the audit record. Persistence failures are logged,
// never propagated: one task must not abort the batch. Returns whether the
// task succeeded.
func (q *Queue) runTask(ctx context.Context, batch *Batch, task *Task, timingCfg humanize.Config) bool {
	var result TaskResult
	var profile *Profile

	switch {
	case batch.stopped.Load():
		result = TaskResult{Success: false, Error: "batch stopped before execution"}
	default:
		var err error
		profile, err = q.store.GetProfile(ctx, task.ProfileID)
		switch {
		case errors.Is(err, ErrProfileNotFound):
			result = TaskResult{Success: false, Error: fmt.Sprintf("profile %s not found", task.ProfileID)}
			profile = nil
		case err != nil:
			result = TaskResult{Success: false, Error: fmt.Sprintf("load profile %s: %v", task.ProfileID, err)}
			profile = nil
		default:
			if err := q.store.UpdateProfileRunState(ctx, profile.ID, ProfileStatusRunning, nil); err != nil {
				q.logger.Warn("mark profile running", "profile_id", profile.ID, "err", err)
			}
			result = q.runner.Run(ctx, task, profile, humanize.New(timingCfg, nil))
		}
	}

	q.finalizeTask(ctx, task, profile, result)
	return result.Success
}

func (q *Queue) finalizeTask(ctx context.Context, task *Task, profile *Profile, result TaskResult) {
	finishedAt := time.Now().UTC()

	if result.Success {
		if err := q.store.MarkTaskCompleted(ctx, task.ID, finishedAt); err != nil {
			q.logger.Error("mark task completed", "task_id", task.ID, "err", err)
		}
	} else {
		if err := q.store.MarkTaskFailed(ctx, task.ID, finishedAt, result.Error); err != nil {
			q.logger.Error("mark task failed", "task_id", task.ID, "err", err)
		}
	}

	if profile != nil {
		status := ProfileStatusIdle
		if !result.Success {
			status = ProfileStatusError
		}
		if err := q.store.UpdateProfileRunState(ctx, profile.ID, status, &finishedAt); err != nil {
			q.logger.Error("update profile run state", "profile_id", profile.ID, "err", err)
		}
		if task.Kind == TaskKindCheckAccountStatus || task.Kind == TaskKindSetupAccount {
			q.recordHealth(ctx, profile, result, finishedAt)
		}
	}

	entry := &ActivityLog{
		ID:         NewID(),
		ProfileID:  task.ProfileID,
		TaskID:     task.ID,
		Action:     task.Kind,
		Details:    activityDetails(result),
		DurationMS: result.Duration.Milliseconds(),
		Success:    result.Success,
	}
	if err := q.store.InsertActivityLog(ctx, entry); err != nil {
		q.logger.Error("insert activity log", "task_id", task.ID, "err", err)
	}
}

// recordHealth persists the classification a status probe produced and
// notifies when the account needs attention. A probe that failed outright
// is recorded as health error.
func (q *Queue) recordHealth(ctx context.Context, profile *Profile, result TaskResult, checkedAt time.Time) {
	health := HealthUnknown
	message := "no classification in probe result"
	if !result.Success {
		health = HealthError
		message = result.Error
	} else if raw, ok := result.Payload["health"].(string); ok {
		health = HealthStatus(raw)
		if m, ok := result.Payload["message"].(string); ok {
			message = m
		}
	}
	if err := q.store.UpdateProfileHealth(ctx, profile.ID, health, message, checkedAt); err != nil {
		q.logger.Error("update profile health", "profile_id", profile.ID, "err", err)
		return
	}
	if health == HealthBlocked || health == HealthVerificationRequired {
		title := fmt.Sprintf("profile %s needs attention", profile.Name)
		if err := q.notifier.Send(ctx, title, fmt.Sprintf("%s: %s", health, message)); err != nil {
			q.logger.Warn("send health notification", "profile_id", profile.ID, "err", err)
		}
	}
}

func (q *Queue) loadTimingConfig(ctx context.Context) humanize.Config {
	profile, err := q.store.DefaultTimingProfile(ctx)
	if err != nil {
		q.logger.Warn("load default timing profile, using built-in", "err", err)
		return humanize.DefaultConfig()
	}
	return profile.Config
}

// groupByProfile buckets claimed tasks by profile id, preserving claim
// order both across and within groups.
func groupByProfile(tasks []*Task) [][]*Task {
	index := make(map[string]int)
	groups := make([][]*Task, 0, len(tasks))
	for _, task := range tasks {
		i, ok := index[task.ProfileID]
		if !ok {
			i = len(groups)
			index[task.ProfileID] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], task)
	}
	return groups
}

func activityDetails(result TaskResult) json.RawMessage {
	details := map[string]any{}
	if result.Payload != nil {
		details["payload"] = result.Payload
	}
	if result.Error != "" {
		details["error"] = result.Error
	}
	data, err := json.Marshal(details)
	if err != nil {
		return nil
	}
	return data
}
