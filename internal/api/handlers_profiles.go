package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"mailpilot/internal/core"
	"mailpilot/internal/store"

	"github.com/go-chi/chi/v5"
)

type credentialsRequest struct {
	Email         string  `json:"email"`
	Password      string  `json:"password"`
	RecoveryEmail *string `json:"recovery_email"`
}

type createProfileRequest struct {
	Name        string             `json:"name"`
	Kind        string             `json:"kind"`
	Credentials credentialsRequest `json:"credentials"`
}

type updateProfileRequest struct {
	Name        *string             `json:"name"`
	Credentials *credentialsRequest `json:"credentials"`
	Paused      *bool               `json:"paused"`
}

// profileResponse deliberately omits the password.
type profileResponse struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Kind            string  `json:"kind"`
	Email           string  `json:"email"`
	RecoveryEmail   *string `json:"recovery_email,omitempty"`
	Status          string  `json:"status"`
	LastRunAt       *string `json:"last_run_at,omitempty"`
	Health          string  `json:"health"`
	HealthMessage   *string `json:"health_message,omitempty"`
	HealthCheckedAt *string `json:"health_checked_at,omitempty"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
}

func (s *Server) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	var req createProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "name is required")
		return
	}
	kind := core.ProfileKind(strings.TrimSpace(req.Kind))
	if kind == "" {
		kind = core.ProfileKindCloud
	}
	if kind != core.ProfileKindCloud && kind != core.ProfileKindLocal {
		writeError(w, http.StatusBadRequest, "invalid_input", "kind must be cloud or local")
		return
	}
	if strings.TrimSpace(req.Credentials.Email) == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "credentials.email is required")
		return
	}
	if req.Credentials.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "credentials.password is required")
		return
	}

	profile := &core.Profile{
		ID:   core.NewID(),
		Name: req.Name,
		Kind: kind,
		Credentials: core.Credentials{
			Email:         strings.TrimSpace(req.Credentials.Email),
			Password:      req.Credentials.Password,
			RecoveryEmail: req.Credentials.RecoveryEmail,
		},
		Status: core.ProfileStatusIdle,
		Health: core.HealthUnknown,
	}

	if err := s.store.InsertProfile(r.Context(), profile); err != nil {
		s.logger.Error("insert profile", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to insert profile")
		return
	}

	writeJSON(w, http.StatusCreated, profileToResponse(profile))
}

func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.store.ListProfiles(r.Context())
	if err != nil {
		s.logger.Error("list profiles", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list profiles")
		return
	}
	res := make([]profileResponse, 0, len(profiles))
	for _, p := range profiles {
		res = append(res, profileToResponse(p))
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	profileID := chi.URLParam(r, "profileID")
	profile, err := s.store.GetProfile(r.Context(), profileID)
	if err != nil {
		if errors.Is(err, store.ErrProfileNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "profile not found")
		} else {
			s.logger.Error("get profile", "profile_id", profileID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to load profile")
		}
		return
	}
	writeJSON(w, http.StatusOK, profileToResponse(profile))
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	profileID := chi.URLParam(r, "profileID")
	profile, err := s.store.GetProfile(r.Context(), profileID)
	if err != nil {
		if errors.Is(err, store.ErrProfileNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "profile not found")
		} else {
			s.logger.Error("get profile for update", "profile_id", profileID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to load profile")
		}
		return
	}

	var req updateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	if req.Name != nil {
		trimmed := strings.TrimSpace(*req.Name)
		if trimmed == "" {
			writeError(w, http.StatusBadRequest, "invalid_input", "name cannot be empty")
			return
		}
		profile.Name = trimmed
	}
	if req.Credentials != nil {
		if strings.TrimSpace(req.Credentials.Email) != "" {
			profile.Credentials.Email = strings.TrimSpace(req.Credentials.Email)
		}
		if req.Credentials.Password != "" {
			profile.Credentials.Password = req.Credentials.Password
		}
		if req.Credentials.RecoveryEmail != nil {
			profile.Credentials.RecoveryEmail = req.Credentials.RecoveryEmail
		}
	}
	if req.Paused != nil {
		// Pausing only makes sense from a settled state; a running
		// profile keeps its status until the queue releases it.
		switch {
		case *req.Paused && profile.Status != core.ProfileStatusRunning:
			profile.Status = core.ProfileStatusPaused
		case !*req.Paused && profile.Status == core.ProfileStatusPaused:
			profile.Status = core.ProfileStatusIdle
		}
	}

	if err := s.store.UpdateProfile(r.Context(), profile); err != nil {
		if errors.Is(err, store.ErrProfileNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "profile not found")
			return
		}
		s.logger.Error("update profile", "profile_id", profileID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to update profile")
		return
	}

	writeJSON(w, http.StatusOK, profileToResponse(profile))
}

func (s *Server) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	profileID := chi.URLParam(r, "profileID")
	if err := s.store.DeleteProfile(r.Context(), profileID); err != nil {
		if errors.Is(err, store.ErrProfileNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "profile not found")
		} else {
			s.logger.Error("delete profile", "profile_id", profileID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to delete profile")
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func profileToResponse(profile *core.Profile) profileResponse {
	return profileResponse{
		ID:              profile.ID,
		Name:            profile.Name,
		Kind:            string(profile.Kind),
		Email:           profile.Credentials.Email,
		RecoveryEmail:   profile.Credentials.RecoveryEmail,
		Status:          string(profile.Status),
		LastRunAt:       formatTimePtr(profile.LastRunAt),
		Health:          string(profile.Health),
		HealthMessage:   profile.HealthMessage,
		HealthCheckedAt: formatTimePtr(profile.HealthCheckedAt),
		CreatedAt:       profile.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:       profile.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
