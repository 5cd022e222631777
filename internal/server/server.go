// Package server exposes the engine's read and mutation contracts over
// HTTP.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"rank_tracker/internal/aggregate"
	"rank_tracker/internal/apperr"
	"rank_tracker/internal/refresh"
	"rank_tracker/internal/storage"
)

// Deps carries the collaborators the handlers close over.
type Deps struct {
	Store  storage.Storage
	Agg    *aggregate.Aggregator
	Coord  *refresh.Coordinator
	Runner *refresh.Runner
	Log    *slog.Logger
}

// NewHandler builds the HTTP router.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/projects", handleCreateProject(deps))
	r.Get("/projects/{slug}", handleGetProject(deps))
	r.Patch("/projects/{slug}", handleUpdateProject(deps))
	r.Delete("/projects/{slug}", handleDeleteProject(deps))

	r.Get("/projects/{slug}/trackers", handleTrackersPage(deps))
	r.Get("/projects/{slug}/trackers/all", handleTrackersAll(deps))
	r.Post("/projects/{slug}/trackers", handleCreateTracker(deps))
	r.Patch("/trackers/{id}", handleUpdateTracker(deps))
	r.Delete("/trackers/{id}", handleDeleteTracker(deps))
	r.Get("/trackers/{id}/results", handleTrackerResults(deps))

	r.Post("/projects/{slug}/categories", handleCreateCategory(deps))
	r.Get("/projects/{slug}/categories", handleListCategories(deps))
	r.Delete("/categories/{id}", handleDeleteCategory(deps))

	r.Post("/projects/{slug}/targets", handleCreateTarget(deps))
	r.Get("/projects/{slug}/targets", handleListTargets(deps))
	r.Delete("/targets/{id}", handleDeleteTarget(deps))

	r.Get("/projects/{slug}/refresh", handleActiveRefresh(deps))
	r.Post("/projects/{slug}/refresh", handleOpenRefresh(deps))
	r.Post("/refresh/{id}/progress", handleRefreshProgress(deps))
	r.Post("/refresh/{id}/close", handleCloseRefresh(deps))
	r.Post("/projects/{slug}/refresh/run", handleRunRefresh(deps))

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the shared error kinds onto HTTP statuses. Only
// NotFound may be degraded to an empty state by UI callers; every other
// kind surfaces with its status.
func writeError(w http.ResponseWriter, log *slog.Logger, err error) {
	status := http.StatusInternalServerError
	kind := "internal_error"
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		status, kind = http.StatusNotFound, "not_found"
	case errors.Is(err, apperr.ErrConflict):
		status, kind = http.StatusConflict, "conflict"
	case errors.Is(err, apperr.ErrValidation):
		status, kind = http.StatusBadRequest, "invalid_request"
	case errors.Is(err, apperr.ErrTransient):
		status, kind = http.StatusServiceUnavailable, "transient"
	case errors.Is(err, apperr.ErrDispatch):
		status, kind = http.StatusBadGateway, "dispatch_failed"
	}
	if status == http.StatusInternalServerError {
		log.Error("request failed", "error", err)
	}
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"kind": kind, "message": err.Error()},
	})
}

// decodeBody decodes a JSON request body, rejecting unknown fields so the
// mutable surface of each entity stays closed.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode body: %w: %v", apperr.ErrValidation, err)
	}
	return nil
}
