package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"mailpilot/internal/core"
	"mailpilot/internal/store"

	"github.com/go-chi/chi/v5"
)

type activityResponse struct {
	ID         string          `json:"id"`
	ProfileID  string          `json:"profile_id"`
	TaskID     string          `json:"task_id"`
	Action     string          `json:"action"`
	Details    json.RawMessage `json:"details,omitempty"`
	DurationMS int64           `json:"duration_ms"`
	Success    bool            `json:"success"`
	CreatedAt  string          `json:"created_at"`
}

func (s *Server) handleProfileActivity(w http.ResponseWriter, r *http.Request) {
	profileID := chi.URLParam(r, "profileID")
	if _, err := s.store.GetProfile(r.Context(), profileID); err != nil {
		if errors.Is(err, store.ErrProfileNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "profile not found")
		} else {
			s.logger.Error("get profile for activity", "profile_id", profileID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to load profile")
		}
		return
	}

	limit := parseIntDefault(r.URL.Query().Get("limit"), 20)
	offset := parseIntDefault(r.URL.Query().Get("offset"), 0)
	entries, err := s.store.ListActivityByProfile(r.Context(), profileID, limit, offset)
	if err != nil {
		s.logger.Error("list activity", "profile_id", profileID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list activity")
		return
	}
	writeJSON(w, http.StatusOK, activityToResponses(entries))
}

func (s *Server) handleTaskActivity(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if _, err := s.store.GetTask(r.Context(), taskID); err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "task not found")
		} else {
			s.logger.Error("get task for activity", "task_id", taskID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to load task")
		}
		return
	}

	entries, err := s.store.ListActivityByTask(r.Context(), taskID)
	if err != nil {
		s.logger.Error("list activity", "task_id", taskID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list activity")
		return
	}
	writeJSON(w, http.StatusOK, activityToResponses(entries))
}

func activityToResponses(entries []*core.ActivityLog) []activityResponse {
	res := make([]activityResponse, 0, len(entries))
	for _, e := range entries {
		res = append(res, activityResponse{
			ID:         e.ID,
			ProfileID:  e.ProfileID,
			TaskID:     e.TaskID,
			Action:     string(e.Action),
			Details:    e.Details,
			DurationMS: e.DurationMS,
			Success:    e.Success,
			CreatedAt:  e.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return res
}
