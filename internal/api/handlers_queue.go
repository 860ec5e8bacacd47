package api

import (
	"encoding/json"
	"net/http"
	"time"

	"mailpilot/internal/core"
)

type processQueueRequest struct {
	MaxTasksPerBatch   int `json:"max_tasks_per_batch"`
	MaxConcurrentTasks int `json:"max_concurrent_tasks"`
}

type batchResponse struct {
	ProcessedCount int  `json:"processed_count"`
	RemainingCount int  `json:"remaining_count"`
	HasMore        bool `json:"has_more"`
}

func (s *Server) handleProcessQueue(w http.ResponseWriter, r *http.Request) {
	req := processQueueRequest{MaxTasksPerBatch: 10, MaxConcurrentTasks: 1}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
			return
		}
	}

	if req.MaxTasksPerBatch < 1 || req.MaxConcurrentTasks < 1 {
		writeError(w, http.StatusBadRequest, "invalid_input", "batch size and concurrency must be at least 1")
		return
	}

	result, err := s.queue.ProcessBatch(r.Context(), core.BatchOptions{
		MaxTasksPerBatch:   req.MaxTasksPerBatch,
		MaxConcurrentTasks: req.MaxConcurrentTasks,
	})
	if err != nil {
		s.logger.Error("process batch", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, batchResponse{
		ProcessedCount: result.ProcessedCount,
		RemainingCount: result.RemainingCount,
		HasMore:        result.HasMore,
	})
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	pending, err := s.store.CountPendingTasks(r.Context(), time.Now().UTC())
	if err != nil {
		s.logger.Error("count pending tasks", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to count pending tasks")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pending_count": pending,
		"processing":    s.queue.Busy(),
	})
}
