package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mailpilot/internal/core"
	"mailpilot/internal/store"

	"github.com/go-chi/chi/v5"
)

type createTaskRequest struct {
	ProfileID   string          `json:"profile_id"`
	Kind        string          `json:"kind"`
	Priority    int             `json:"priority"`
	Params      json.RawMessage `json:"params"`
	ScheduledAt *string         `json:"scheduled_at"`
}

type taskResponse struct {
	ID          string          `json:"id"`
	ProfileID   string          `json:"profile_id"`
	Kind        string          `json:"kind"`
	Status      string          `json:"status"`
	Priority    int             `json:"priority"`
	Params      json.RawMessage `json:"params,omitempty"`
	ScheduledAt *string         `json:"scheduled_at,omitempty"`
	StartedAt   *string         `json:"started_at,omitempty"`
	CompletedAt *string         `json:"completed_at,omitempty"`
	Error       *string         `json:"error,omitempty"`
	CreatedAt   string          `json:"created_at"`
	UpdatedAt   string          `json:"updated_at"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.ProfileID = strings.TrimSpace(req.ProfileID)
	if req.ProfileID == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "profile_id is required")
		return
	}
	kind := core.TaskKind(strings.TrimSpace(req.Kind))
	if !core.ValidTaskKind(kind) {
		writeError(w, http.StatusBadRequest, "invalid_input", "unknown task kind")
		return
	}

	if err := core.ValidateParams(kind, req.Params); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}

	if _, err := s.store.GetProfile(r.Context(), req.ProfileID); err != nil {
		if errors.Is(err, store.ErrProfileNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "profile not found")
		} else {
			s.logger.Error("get profile for task", "profile_id", req.ProfileID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to load profile")
		}
		return
	}

	var scheduledAt *time.Time
	if req.ScheduledAt != nil && strings.TrimSpace(*req.ScheduledAt) != "" {
		parsed, err := time.Parse(time.RFC3339, *req.ScheduledAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_input", "scheduled_at must be RFC3339")
			return
		}
		utc := parsed.UTC()
		scheduledAt = &utc
	}

	task := &core.Task{
		ID:          core.NewID(),
		ProfileID:   req.ProfileID,
		Kind:        kind,
		Status:      core.TaskStatusPending,
		Priority:    req.Priority,
		Params:      req.Params,
		ScheduledAt: scheduledAt,
	}

	if err := s.store.InsertTask(r.Context(), task); err != nil {
		s.logger.Error("insert task", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to insert task")
		return
	}

	writeJSON(w, http.StatusCreated, taskToResponse(task))
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	var statusFilter *core.TaskStatus
	if status := strings.TrimSpace(r.URL.Query().Get("status")); status != "" {
		st := core.TaskStatus(status)
		switch st {
		case core.TaskStatusPending, core.TaskStatusRunning, core.TaskStatusCompleted, core.TaskStatusFailed:
			statusFilter = &st
		default:
			writeError(w, http.StatusBadRequest, "invalid_input", "status must be pending, running, completed or failed")
			return
		}
	}
	tasks, err := s.store.ListTasks(r.Context(), statusFilter)
	if err != nil {
		s.logger.Error("list tasks", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list tasks")
		return
	}
	res := make([]taskResponse, 0, len(tasks))
	for _, t := range tasks {
		res = append(res, taskToResponse(t))
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	task, err := s.store.GetTask(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "task not found")
		} else {
			s.logger.Error("get task", "task_id", taskID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to load task")
		}
		return
	}
	writeJSON(w, http.StatusOK, taskToResponse(task))
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if err := s.store.DeleteTask(r.Context(), taskID); err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "task not found")
		} else {
			s.logger.Error("delete task", "task_id", taskID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to delete task")
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func taskToResponse(task *core.Task) taskResponse {
	return taskResponse{
		ID:          task.ID,
		ProfileID:   task.ProfileID,
		Kind:        string(task.Kind),
		Status:      string(task.Status),
		Priority:    task.Priority,
		Params:      task.Params,
		ScheduledAt: formatTimePtr(task.ScheduledAt),
		StartedAt:   formatTimePtr(task.StartedAt),
		CompletedAt: formatTimePtr(task.CompletedAt),
		Error:       task.Error,
		CreatedAt:   task.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   task.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	formatted := t.UTC().Format(time.RFC3339)
	return &formatted
}

func parseIntDefault(value string, def int) int {
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	payload := map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	}
	writeJSON(w, status, payload)
}
