package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailpilot/internal/api"
	"mailpilot/internal/core"
	"mailpilot/internal/humanize"
	"mailpilot/internal/store"
)

type okRunner struct{}

func (okRunner) Run(ctx context.Context, task *core.Task, profile *core.Profile, timing *humanize.Timing) core.TaskResult {
	return core.TaskResult{Success: true, Duration: time.Millisecond, Payload: map[string]any{"ok": true}}
}

type testEnv struct {
	store  *store.Store
	server *httptest.Server
}

func newTestEnv(t *testing.T, authToken string) *testEnv {
	t.Helper()
	st, err := store.Open(context.Background(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.DB.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	queue := core.NewQueue(st, okRunner{}, logger, nil)

	srv, err := api.NewServer("127.0.0.1:0", authToken, st, queue, logger)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{store: st, server: ts}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (e *testEnv) createProfile(t *testing.T) string {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/v1/profiles", map[string]any{
		"name": "alpha",
		"kind": "cloud",
		"credentials": map[string]any{
			"email":    "alpha@example.com",
			"password": "secret",
		},
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(body, &created))
	return created.ID
}

func TestCreateProfileOmitsPassword(t *testing.T) {
	env := newTestEnv(t, "")

	resp, body := env.do(t, http.MethodPost, "/v1/profiles", map[string]any{
		"name": "alpha",
		"credentials": map[string]any{
			"email":    "alpha@example.com",
			"password": "topsecret",
		},
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotContains(t, string(body), "topsecret")

	var created map[string]any
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, "alpha", created["name"])
	assert.Equal(t, "cloud", created["kind"], "kind defaults to cloud")
	assert.Equal(t, "unknown", created["health"])
}

func TestCreateProfileValidation(t *testing.T) {
	env := newTestEnv(t, "")

	resp, _ := env.do(t, http.MethodPost, "/v1/profiles", map[string]any{"name": ""}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/v1/profiles", map[string]any{
		"name": "x", "kind": "orbital",
		"credentials": map[string]any{"email": "a@b.com", "password": "p"},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTaskLifecycle(t *testing.T) {
	env := newTestEnv(t, "")
	profileID := env.createProfile(t)

	resp, body := env.do(t, http.MethodPost, "/v1/tasks", map[string]any{
		"profile_id": profileID,
		"kind":       "read_email",
		"params":     map[string]any{"email_index": 0},
		"priority":   2,
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var created struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, "pending", created.Status)

	resp, body = env.do(t, http.MethodGet, "/v1/tasks/"+created.ID, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.do(t, http.MethodDelete, "/v1/tasks/"+created.ID, nil, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/v1/tasks/"+created.ID, nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateTaskValidation(t *testing.T) {
	env := newTestEnv(t, "")
	profileID := env.createProfile(t)

	// Unknown kind
	resp, _ := env.do(t, http.MethodPost, "/v1/tasks", map[string]any{
		"profile_id": profileID, "kind": "defragment",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Missing required params for the kind
	resp, _ = env.do(t, http.MethodPost, "/v1/tasks", map[string]any{
		"profile_id": profileID, "kind": "send_email",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Unknown profile
	resp, _ = env.do(t, http.MethodPost, "/v1/tasks", map[string]any{
		"profile_id": "missing", "kind": "check_inbox",
	}, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Bad schedule format
	resp, _ = env.do(t, http.MethodPost, "/v1/tasks", map[string]any{
		"profile_id": profileID, "kind": "check_inbox", "scheduled_at": "tomorrow",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListTasksStatusFilter(t *testing.T) {
	env := newTestEnv(t, "")

	resp, _ := env.do(t, http.MethodGet, "/v1/tasks/?status=sideways", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := env.do(t, http.MethodGet, "/v1/tasks/?status=pending", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, "[]", string(body))
}

func TestProcessQueueEndpoint(t *testing.T) {
	env := newTestEnv(t, "")
	profileID := env.createProfile(t)

	resp, _ := env.do(t, http.MethodPost, "/v1/tasks", map[string]any{
		"profile_id": profileID, "kind": "check_inbox",
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := env.do(t, http.MethodPost, "/v1/queue/process", map[string]any{
		"max_tasks_per_batch":  5,
		"max_concurrent_tasks": 1,
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var result struct {
		ProcessedCount int  `json:"processed_count"`
		RemainingCount int  `json:"remaining_count"`
		HasMore        bool `json:"has_more"`
	}
	require.NoError(t, json.Unmarshal(body, &result))
	assert.Equal(t, 1, result.ProcessedCount)
	assert.Equal(t, 0, result.RemainingCount)
	assert.False(t, result.HasMore)

	resp, _ = env.do(t, http.MethodPost, "/v1/queue/process", map[string]any{
		"max_tasks_per_batch": 0, "max_concurrent_tasks": 1,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestQueueStatusEndpoint(t *testing.T) {
	env := newTestEnv(t, "")

	resp, body := env.do(t, http.MethodGet, "/v1/queue/status", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status struct {
		PendingCount int  `json:"pending_count"`
		Processing   bool `json:"processing"`
	}
	require.NoError(t, json.Unmarshal(body, &status))
	assert.Equal(t, 0, status.PendingCount)
	assert.False(t, status.Processing)
}

func TestProfileActivityEndpoint(t *testing.T) {
	env := newTestEnv(t, "")

	resp, _ := env.do(t, http.MethodGet, "/v1/profiles/missing/activity", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	profileID := env.createProfile(t)
	resp, body := env.do(t, http.MethodGet, "/v1/profiles/"+profileID+"/activity", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, "[]", string(body))
}

func TestUpdateProfilePauseResume(t *testing.T) {
	env := newTestEnv(t, "")
	profileID := env.createProfile(t)

	resp, body := env.do(t, http.MethodPatch, "/v1/profiles/"+profileID, map[string]any{"paused": true}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var updated map[string]any
	require.NoError(t, json.Unmarshal(body, &updated))
	assert.Equal(t, "paused", updated["status"])

	resp, body = env.do(t, http.MethodPatch, "/v1/profiles/"+profileID, map[string]any{"paused": false}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &updated))
	assert.Equal(t, "idle", updated["status"])
}

func TestAuthMiddleware(t *testing.T) {
	env := newTestEnv(t, "hunter2token")

	resp, _ := env.do(t, http.MethodGet, "/v1/profiles/", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/v1/profiles/", nil, map[string]string{
		"Authorization": "Bearer wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/v1/profiles/", nil, map[string]string{
		"Authorization": "Bearer hunter2token",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
