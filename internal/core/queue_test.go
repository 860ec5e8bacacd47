package core_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailpilot/internal/core"
	"mailpilot/internal/humanize"
	"mailpilot/internal/store"
)

// fakeRunner stands in for the executor. started and gate, when set, let a
// test observe and hold task execution.
type fakeRunner struct {
	mu      sync.Mutex
	started chan string
	gate    chan struct{}
	fn      func(task *core.Task, profile *core.Profile) core.TaskResult
	ran     []string
}

func (r *fakeRunner) Run(ctx context.Context, task *core.Task, profile *core.Profile, timing *humanize.Timing) core.TaskResult {
	if r.started != nil {
		r.started <- task.ID
	}
	if r.gate != nil {
		<-r.gate
	}
	r.mu.Lock()
	r.ran = append(r.ran, task.ID)
	r.mu.Unlock()
	if r.fn != nil {
		return r.fn(task, profile)
	}
	return core.TaskResult{Success: true, Duration: time.Millisecond, Payload: map[string]any{"ok": true}}
}

func (r *fakeRunner) ranIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ran...)
}

type recordingNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (n *recordingNotifier) Send(ctx context.Context, title, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.titles = append(n.titles, title)
	return nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.DB.Close() })
	return st
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedProfile(t *testing.T, st *store.Store, name string) *core.Profile {
	t.Helper()
	profile := &core.Profile{
		ID:   core.NewID(),
		Name: name,
		Kind: core.ProfileKindCloud,
		Credentials: core.Credentials{
			Email:    name + "@example.com",
			Password: "secret",
		},
		Status: core.ProfileStatusIdle,
		Health: core.HealthUnknown,
	}
	require.NoError(t, st.InsertProfile(context.Background(), profile))
	return profile
}

func seedTask(t *testing.T, st *store.Store, profileID string, kind core.TaskKind, priority int) *core.Task {
	t.Helper()
	task := &core.Task{
		ID:        core.NewID(),
		ProfileID: profileID,
		Kind:      kind,
		Status:    core.TaskStatusPending,
		Priority:  priority,
	}
	require.NoError(t, st.InsertTask(context.Background(), task))
	return task
}

func TestProcessBatchRunsAllTasks(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	profile := seedProfile(t, st, "alpha")
	for i := 0; i < 3; i++ {
		seedTask(t, st, profile.ID, core.TaskKindCheckInbox, 0)
	}

	runner := &fakeRunner{}
	queue := core.NewQueue(st, runner, quietLogger(), nil)

	result, err := queue.ProcessBatch(ctx, core.BatchOptions{MaxTasksPerBatch: 10, MaxConcurrentTasks: 1})
	require.NoError(t, err)

	assert.Equal(t, 3, result.ProcessedCount)
	assert.Equal(t, 0, result.FailedCount)
	assert.Equal(t, 0, result.RemainingCount)
	assert.False(t, result.HasMore)
	assert.Len(t, runner.ranIDs(), 3)

	tasks, err := st.ListTasks(ctx, nil)
	require.NoError(t, err)
	for _, task := range tasks {
		assert.Equal(t, core.TaskStatusCompleted, task.Status)
		assert.NotNil(t, task.StartedAt)
		assert.NotNil(t, task.CompletedAt)
	}

	reloaded, err := st.GetProfile(ctx, profile.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ProfileStatusIdle, reloaded.Status)
	assert.NotNil(t, reloaded.LastRunAt)

	activity, err := st.ListActivityByProfile(ctx, profile.ID, 50, 0)
	require.NoError(t, err)
	assert.Len(t, activity, 3)
}

func TestProcessBatchHonorsBatchSize(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	profile := seedProfile(t, st, "alpha")
	for i := 0; i < 5; i++ {
		seedTask(t, st, profile.ID, core.TaskKindCheckInbox, 0)
	}

	queue := core.NewQueue(st, &fakeRunner{}, quietLogger(), nil)
	result, err := queue.ProcessBatch(ctx, core.BatchOptions{MaxTasksPerBatch: 2, MaxConcurrentTasks: 1})
	require.NoError(t, err)

	assert.Equal(t, 2, result.ProcessedCount)
	assert.Equal(t, 3, result.RemainingCount)
	assert.True(t, result.HasMore)
}

func TestProcessBatchClaimsHighestPriorityFirst(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	profile := seedProfile(t, st, "alpha")
	low := seedTask(t, st, profile.ID, core.TaskKindCheckInbox, 0)
	high := seedTask(t, st, profile.ID, core.TaskKindCheckInbox, 5)

	runner := &fakeRunner{}
	queue := core.NewQueue(st, runner, quietLogger(), nil)
	_, err := queue.ProcessBatch(ctx, core.BatchOptions{MaxTasksPerBatch: 1, MaxConcurrentTasks: 1})
	require.NoError(t, err)

	require.Len(t, runner.ranIDs(), 1)
	assert.Equal(t, high.ID, runner.ranIDs()[0])

	remaining, err := st.GetTask(ctx, low.ID)
	require.NoError(t, err)
	assert.Equal(t, core.TaskStatusPending, remaining.Status)
}

func TestFutureScheduledTasksAreNotEligible(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	profile := seedProfile(t, st, "alpha")

	future := time.Now().UTC().Add(time.Hour)
	task := &core.Task{
		ID:          core.NewID(),
		ProfileID:   profile.ID,
		Kind:        core.TaskKindCheckInbox,
		Status:      core.TaskStatusPending,
		ScheduledAt: &future,
	}
	require.NoError(t, st.InsertTask(ctx, task))

	queue := core.NewQueue(st, &fakeRunner{}, quietLogger(), nil)
	result, err := queue.ProcessBatch(ctx, core.BatchOptions{MaxTasksPerBatch: 10, MaxConcurrentTasks: 1})
	require.NoError(t, err)

	assert.Equal(t, 0, result.ProcessedCount)
	assert.Equal(t, 0, result.RemainingCount)
	assert.False(t, result.HasMore)
}

func TestFailedTaskMarksProfileError(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	profile := seedProfile(t, st, "alpha")
	task := seedTask(t, st, profile.ID, core.TaskKindCheckInbox, 0)

	runner := &fakeRunner{fn: func(*core.Task, *core.Profile) core.TaskResult {
		return core.TaskResult{Success: false, Error: "inbox never loaded"}
	}}
	queue := core.NewQueue(st, runner, quietLogger(), nil)
	result, err := queue.ProcessBatch(ctx, core.BatchOptions{MaxTasksPerBatch: 10, MaxConcurrentTasks: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, result.FailedCount)

	failed, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, core.TaskStatusFailed, failed.Status)
	require.NotNil(t, failed.Error)
	assert.Contains(t, *failed.Error, "inbox never loaded")

	reloaded, err := st.GetProfile(ctx, profile.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ProfileStatusError, reloaded.Status)

	activity, err := st.ListActivityByTask(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, activity, 1)
	assert.False(t, activity[0].Success)
}

func TestMissingProfileFailsTaskWithoutRunning(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	task := &core.Task{
		ID:        core.NewID(),
		ProfileID: "gone",
		Kind:      core.TaskKindCheckInbox,
		Status:    core.TaskStatusPending,
	}
	require.NoError(t, st.InsertTask(ctx, task))

	runner := &fakeRunner{}
	queue := core.NewQueue(st, runner, quietLogger(), nil)
	result, err := queue.ProcessBatch(ctx, core.BatchOptions{MaxTasksPerBatch: 10, MaxConcurrentTasks: 1})
	require.NoError(t, err)

	assert.Equal(t, 1, result.ProcessedCount)
	assert.Equal(t, 1, result.FailedCount)
	assert.Empty(t, runner.ranIDs())

	failed, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, core.TaskStatusFailed, failed.Status)
	require.NotNil(t, failed.Error)
	assert.Contains(t, *failed.Error, "not found")

	activity, err := st.ListActivityByTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Len(t, activity, 1)
}

// flakyProfileStore fails every profile lookup with a transient error.
type flakyProfileStore struct {
	*store.Store
}

func (s *flakyProfileStore) GetProfile(ctx context.Context, id string) (*core.Profile, error) {
	return nil, fmt.Errorf("database is locked")
}

func TestTransientProfileErrorIsNotReportedAsMissing(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	profile := seedProfile(t, st, "alpha")
	task := seedTask(t, st, profile.ID, core.TaskKindCheckInbox, 0)

	runner := &fakeRunner{}
	queue := core.NewQueue(&flakyProfileStore{st}, runner, quietLogger(), nil)
	result, err := queue.ProcessBatch(ctx, core.BatchOptions{MaxTasksPerBatch: 10, MaxConcurrentTasks: 1})
	require.NoError(t, err)

	assert.Equal(t, 1, result.FailedCount)
	assert.Empty(t, runner.ranIDs())

	failed, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, core.TaskStatusFailed, failed.Status)
	require.NotNil(t, failed.Error)
	assert.NotContains(t, *failed.Error, "not found")
	assert.Contains(t, *failed.Error, "database is locked")
}

func TestOverlappingBatchReturnsEmptyResult(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	profile := seedProfile(t, st, "alpha")
	seedTask(t, st, profile.ID, core.TaskKindCheckInbox, 0)

	runner := &fakeRunner{started: make(chan string, 1), gate: make(chan struct{})}
	queue := core.NewQueue(st, runner, quietLogger(), nil)

	opts := core.BatchOptions{MaxTasksPerBatch: 10, MaxConcurrentTasks: 1}
	first, err := queue.StartBatch(ctx, opts)
	require.NoError(t, err)
	<-runner.started

	overlap, err := queue.ProcessBatch(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, core.BatchResult{}, overlap)

	close(runner.gate)
	result, err := first.Wait()
	require.NoError(t, err)
	assert.Equal(t, 1, result.ProcessedCount)
}

func TestBatchStopFailsUnstartedTasks(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	profile := seedProfile(t, st, "alpha")
	seedTask(t, st, profile.ID, core.TaskKindCheckInbox, 0)
	seedTask(t, st, profile.ID, core.TaskKindCheckInbox, 0)

	runner := &fakeRunner{started: make(chan string, 2), gate: make(chan struct{})}
	queue := core.NewQueue(st, runner, quietLogger(), nil)

	batch, err := queue.StartBatch(ctx, core.BatchOptions{MaxTasksPerBatch: 10, MaxConcurrentTasks: 1})
	require.NoError(t, err)

	<-runner.started
	batch.Stop()
	close(runner.gate)

	result, err := batch.Wait()
	require.NoError(t, err)
	assert.Equal(t, 2, result.ProcessedCount)

	tasks, err := st.ListTasks(ctx, nil)
	require.NoError(t, err)
	statuses := map[core.TaskStatus]int{}
	for _, task := range tasks {
		statuses[task.Status]++
		assert.NotEqual(t, core.TaskStatusRunning, task.Status, "no claim may be left running")
	}
	assert.Equal(t, 1, statuses[core.TaskStatusCompleted])
	assert.Equal(t, 1, statuses[core.TaskStatusFailed])
}

func TestConcurrentQueuesNeverRunTaskTwice(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	alpha := seedProfile(t, st, "alpha")
	beta := seedProfile(t, st, "beta")
	total := 10
	for i := 0; i < total; i++ {
		profileID := alpha.ID
		if i%2 == 0 {
			profileID = beta.ID
		}
		seedTask(t, st, profileID, core.TaskKindCheckInbox, 0)
	}

	runner := &fakeRunner{}
	// Two queue instances share the store, like two processes would.
	q1 := core.NewQueue(st, runner, quietLogger(), nil)
	q2 := core.NewQueue(st, runner, quietLogger(), nil)

	opts := core.BatchOptions{MaxTasksPerBatch: total, MaxConcurrentTasks: 2}
	var wg sync.WaitGroup
	for _, q := range []*core.Queue{q1, q2} {
		wg.Add(1)
		go func(q *core.Queue) {
			defer wg.Done()
			_, err := q.ProcessBatch(ctx, opts)
			assert.NoError(t, err)
		}(q)
	}
	wg.Wait()

	ran := runner.ranIDs()
	seen := map[string]bool{}
	for _, id := range ran {
		assert.False(t, seen[id], "task %s ran twice", id)
		seen[id] = true
	}
	assert.Len(t, seen, total)

	tasks, err := st.ListTasks(ctx, nil)
	require.NoError(t, err)
	for _, task := range tasks {
		assert.Equal(t, core.TaskStatusCompleted, task.Status)
	}
}

func TestTasksOnOneProfileNeverOverlap(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	profile := seedProfile(t, st, "alpha")
	for i := 0; i < 4; i++ {
		seedTask(t, st, profile.ID, core.TaskKindCheckInbox, 0)
	}

	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0
	runner := &fakeRunner{fn: func(task *core.Task, p *core.Profile) core.TaskResult {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return core.TaskResult{Success: true}
	}}

	queue := core.NewQueue(st, runner, quietLogger(), nil)
	result, err := queue.ProcessBatch(ctx, core.BatchOptions{MaxTasksPerBatch: 10, MaxConcurrentTasks: 4})
	require.NoError(t, err)

	assert.Equal(t, 4, result.ProcessedCount)
	assert.Equal(t, 1, maxInFlight, "tasks of one profile must run sequentially")
}

func TestBatchNeverExceedsConcurrencyCeiling(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	for i := 0; i < 6; i++ {
		profile := seedProfile(t, st, fmt.Sprintf("profile-%d", i))
		seedTask(t, st, profile.ID, core.TaskKindCheckInbox, 0)
	}

	runner := &fakeRunner{started: make(chan string, 6), gate: make(chan struct{})}
	queue := core.NewQueue(st, runner, quietLogger(), nil)

	batch, err := queue.StartBatch(ctx, core.BatchOptions{MaxTasksPerBatch: 10, MaxConcurrentTasks: 2})
	require.NoError(t, err)

	// Two tasks on distinct profiles hold the gate at the same instant.
	first := <-runner.started
	second := <-runner.started
	assert.NotEqual(t, first, second)

	// With both slots held nothing else may start.
	select {
	case extra := <-runner.started:
		t.Fatalf("task %s started beyond the concurrency ceiling", extra)
	case <-time.After(50 * time.Millisecond):
	}

	close(runner.gate)
	result, err := batch.Wait()
	require.NoError(t, err)
	assert.Equal(t, 6, result.ProcessedCount)
	assert.Len(t, runner.ranIDs(), 6)
}

func TestStatusProbeRecordsHealthAndNotifies(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	profile := seedProfile(t, st, "alpha")
	seedTask(t, st, profile.ID, core.TaskKindCheckAccountStatus, 0)

	runner := &fakeRunner{fn: func(*core.Task, *core.Profile) core.TaskResult {
		return core.TaskResult{
			Success: true,
			Payload: map[string]any{"health": "blocked", "message": "account is suspended or disabled"},
		}
	}}
	notifier := &recordingNotifier{}
	queue := core.NewQueue(st, runner, quietLogger(), notifier)

	_, err := queue.ProcessBatch(ctx, core.BatchOptions{MaxTasksPerBatch: 10, MaxConcurrentTasks: 1})
	require.NoError(t, err)

	reloaded, err := st.GetProfile(ctx, profile.ID)
	require.NoError(t, err)
	assert.Equal(t, core.HealthBlocked, reloaded.Health)
	require.NotNil(t, reloaded.HealthMessage)
	assert.Contains(t, *reloaded.HealthMessage, "suspended")
	assert.NotNil(t, reloaded.HealthCheckedAt)

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	require.Len(t, notifier.titles, 1)
	assert.Contains(t, notifier.titles[0], "alpha")
}

func TestFailedStatusProbeRecordsHealthError(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	profile := seedProfile(t, st, "alpha")
	seedTask(t, st, profile.ID, core.TaskKindSetupAccount, 0)

	runner := &fakeRunner{fn: func(*core.Task, *core.Profile) core.TaskResult {
		return core.TaskResult{Success: false, Error: "open session: provider unreachable"}
	}}
	queue := core.NewQueue(st, runner, quietLogger(), nil)
	_, err := queue.ProcessBatch(ctx, core.BatchOptions{MaxTasksPerBatch: 10, MaxConcurrentTasks: 1})
	require.NoError(t, err)

	reloaded, err := st.GetProfile(ctx, profile.ID)
	require.NoError(t, err)
	assert.Equal(t, core.HealthError, reloaded.Health)
}

func TestInvalidBatchOptions(t *testing.T) {
	st := newTestStore(t)
	queue := core.NewQueue(st, &fakeRunner{}, quietLogger(), nil)

	_, err := queue.ProcessBatch(context.Background(), core.BatchOptions{MaxTasksPerBatch: 0, MaxConcurrentTasks: 1})
	assert.Error(t, err)

	_, err = queue.ProcessBatch(context.Background(), core.BatchOptions{MaxTasksPerBatch: 5, MaxConcurrentTasks: 0})
	assert.Error(t, err)
}
