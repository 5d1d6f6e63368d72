package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/terra-clan/roadmap-engine/internal/models"
)

// Response helpers

type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := apiResponse{
		Success: false,
		Error: &apiError{
			Code:    code,
			Message: message,
		},
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

// Health handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := map[string]func(context.Context) error{
		"database":    s.repo.Ping,
		"overlay":     s.overlays.HealthCheck,
		"broker":      s.broker.HealthCheck,
		"permissions": s.perms.HealthCheck,
	}

	for name, check := range checks {
		if err := check(r.Context()); err != nil {
			slog.Warn("readiness check failed", "check", name, "error", err)
			respondError(w, http.StatusServiceUnavailable, "not_ready", "service not ready: "+name)
			return
		}
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}

// actorID resolves the acting user: the X-Actor-ID header when the caller
// forwards one, else the API client's own name
func actorID(r *http.Request) string {
	if actor := r.Header.Get("X-Actor-ID"); actor != "" {
		return actor
	}
	if client := ClientFromContext(r.Context()); client != nil {
		return client.Name
	}
	return ""
}

// Projection handlers

func (s *Server) handleGetProjection(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if projectID == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "project id is required")
		return
	}

	svc := s.supervisor.Acquire(projectID, actorID(r))

	// Wait for the first build; a timed-out wait still returns the
	// loading snapshot rather than failing the request
	if err := svc.Wait(r.Context()); err != nil {
		slog.Debug("projection wait interrupted", "project_id", projectID, "error", err)
	}

	respondJSON(w, http.StatusOK, svc.Result())
}

func (s *Server) handleRefreshProjection(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if projectID == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "project id is required")
		return
	}

	svc := s.supervisor.Acquire(projectID, actorID(r))

	// The rebuild outlives the request; the caller polls or listens on
	// the events stream for the result
	go svc.Refresh(context.WithoutCancel(r.Context()))

	respondJSON(w, http.StatusAccepted, map[string]string{
		"status": string(models.ProjectionLoading),
	})
}

// Overlay handlers

func (s *Server) handleGetOverlay(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	respondJSON(w, http.StatusOK, s.overlays.Load(r.Context(), projectID))
}

func (s *Server) handleResetOverlay(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	respondJSON(w, http.StatusOK, s.overlays.Reset(r.Context(), projectID))
}

type collapseRequest struct {
	Collapsed *bool `json:"collapsed,omitempty"`
}

func (s *Server) handleTrackCollapse(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	trackID := chi.URLParam(r, "trackID")

	var req collapseRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	var state *models.OverlayState
	if req.Collapsed != nil {
		state = s.overlays.SetTrackCollapsed(r.Context(), projectID, trackID, *req.Collapsed)
	} else {
		state = s.overlays.ToggleTrackCollapsed(r.Context(), projectID, trackID)
	}

	respondJSON(w, http.StatusOK, state)
}

func (s *Server) handleSubtrackCollapse(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	subtrackID := chi.URLParam(r, "subtrackID")

	var req collapseRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	var state *models.OverlayState
	if req.Collapsed != nil {
		state = s.overlays.SetSubtrackCollapsed(r.Context(), projectID, subtrackID, *req.Collapsed)
	} else {
		state = s.overlays.ToggleSubtrackCollapsed(r.Context(), projectID, subtrackID)
	}

	respondJSON(w, http.StatusOK, state)
}

type highlightRequest struct {
	Highlighted bool `json:"highlighted"`
}

func (s *Server) handleTrackHighlight(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	trackID := chi.URLParam(r, "trackID")

	var req highlightRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	respondJSON(w, http.StatusOK, s.overlays.SetTrackHighlighted(r.Context(), projectID, trackID, req.Highlighted))
}

type focusRequest struct {
	TrackID string `json:"track_id"`
}

func (s *Server) handleFocus(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	var req focusRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	respondJSON(w, http.StatusOK, s.overlays.SetFocusedTrack(r.Context(), projectID, req.TrackID))
}

type viewModeRequest struct {
	Mode models.ViewMode `json:"mode"`
}

func (s *Server) handleViewMode(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	var req viewModeRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if !req.Mode.IsValid() {
		respondError(w, http.StatusBadRequest, "validation_error", "mode must be day, week or month")
		return
	}

	respondJSON(w, http.StatusOK, s.overlays.SetViewMode(r.Context(), projectID, req.Mode))
}

type dayViewRequest struct {
	Anchor string `json:"anchor"`
}

func (s *Server) handleEnterDayView(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	var req dayViewRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	day, err := parseDate(req.Anchor)
	if err != nil {
		respondError(w, http.StatusBadRequest, "validation_error", "anchor must be a date")
		return
	}

	respondJSON(w, http.StatusOK, s.overlays.EnterDayView(r.Context(), projectID, day))
}

func (s *Server) handleReturnToWeekView(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	respondJSON(w, http.StatusOK, s.overlays.ReturnToWeekView(r.Context(), projectID))
}

type anchorRequest struct {
	Date string `json:"date"`
}

func (s *Server) handleAnchorDate(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	var req anchorRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	date, err := parseDate(req.Date)
	if err != nil {
		respondError(w, http.StatusBadRequest, "validation_error", "date must be a date")
		return
	}

	respondJSON(w, http.StatusOK, s.overlays.SetAnchorDate(r.Context(), projectID, date))
}

type navigateRequest struct {
	Weeks  *int `json:"weeks,omitempty"`
	Months *int `json:"months,omitempty"`
	Today  bool `json:"today,omitempty"`
}

func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	var req navigateRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	var state *models.OverlayState
	switch {
	case req.Today:
		state = s.overlays.GoToToday(r.Context(), projectID)
	case req.Weeks != nil:
		state = s.overlays.ShiftWeeks(r.Context(), projectID, *req.Weeks)
	case req.Months != nil:
		state = s.overlays.ShiftMonths(r.Context(), projectID, *req.Months)
	default:
		respondError(w, http.StatusBadRequest, "validation_error", "one of weeks, months or today is required")
		return
	}

	respondJSON(w, http.StatusOK, state)
}

func (s *Server) handleExpandAll(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	respondJSON(w, http.StatusOK, s.overlays.ExpandAll(r.Context(), projectID))
}

type collapseManyRequest struct {
	TrackIDs []string `json:"track_ids"`
}

func (s *Server) handleCollapseMany(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	var req collapseManyRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if len(req.TrackIDs) == 0 {
		respondError(w, http.StatusBadRequest, "validation_error", "track_ids is required")
		return
	}

	respondJSON(w, http.StatusOK, s.overlays.CollapseTracks(r.Context(), projectID, req.TrackIDs))
}

// decodeBody decodes a JSON body, tolerating an empty one
func decodeBody(r *http.Request, dst interface{}) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// parseDate accepts a bare date or a full RFC 3339 timestamp
func parseDate(value string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, value)
}
