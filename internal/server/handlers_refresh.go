package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"rank_tracker/internal/dates"
	"rank_tracker/internal/model"
)

type refreshDTO struct {
	ID             int64      `json:"id"`
	ProjectID      int64      `json:"projectId"`
	RefreshDate    string     `json:"refreshDate"`
	TotalCount     int        `json:"totalCount"`
	CompletedCount int        `json:"completedCount"`
	Active         bool       `json:"active"`
	StartedAt      time.Time  `json:"startedAt"`
	FinishedAt     *time.Time `json:"finishedAt,omitempty"`
}

func toRefreshDTO(tx *model.RefreshTransaction) refreshDTO {
	return refreshDTO{
		ID:             tx.ID,
		ProjectID:      tx.ProjectID,
		RefreshDate:    tx.RefreshDate,
		TotalCount:     tx.TotalCount,
		CompletedCount: tx.CompletedCount,
		Active:         tx.Active,
		StartedAt:      tx.StartedAt,
		FinishedAt:     tx.FinishedAt,
	}
}

// handleActiveRefresh returns the in-flight transaction, or a null body
// when the project is idle.
func handleActiveRefresh(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tx, err := deps.Coord.Active(r.Context(), chi.URLParam(r, "slug"))
		if err != nil {
			writeError(w, deps.Log, err)
			return
		}
		if tx == nil {
			writeJSON(w, http.StatusOK, nil)
			return
		}
		writeJSON(w, http.StatusOK, toRefreshDTO(tx))
	}
}

func handleOpenRefresh(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			RefreshDate string `json:"refreshDate"`
			TotalCount  int    `json:"totalCount"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, deps.Log, err)
			return
		}
		if req.RefreshDate == "" {
			req.RefreshDate = dates.Today()
		}
		tx, err := deps.Coord.Open(r.Context(), chi.URLParam(r, "slug"), req.RefreshDate, req.TotalCount)
		if err != nil {
			writeError(w, deps.Log, err)
			return
		}
		writeJSON(w, http.StatusCreated, toRefreshDTO(tx))
	}
}

func handleRefreshProgress(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, deps.Log, err)
			return
		}
		var req struct {
			Increment *int `json:"increment"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, deps.Log, err)
			return
		}
		// Absent means one step; an explicit 0 stays a no-op, and negative
		// values fail store-side validation.
		increment := 1
		if req.Increment != nil {
			increment = *req.Increment
		}
		tx, err := deps.Coord.Progress(r.Context(), id, increment)
		if err != nil {
			writeError(w, deps.Log, err)
			return
		}
		writeJSON(w, http.StatusOK, toRefreshDTO(tx))
	}
}

func handleCloseRefresh(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, deps.Log, err)
			return
		}
		if err := deps.Coord.Close(r.Context(), id); err != nil {
			writeError(w, deps.Log, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

// handleRunRefresh drives a full scrape-aggregate-notify cycle. A 409
// means a refresh is already running; callers must not retry blindly.
func handleRunRefresh(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			RefreshDate string `json:"refreshDate"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, deps.Log, err)
			return
		}
		if req.RefreshDate == "" {
			req.RefreshDate = dates.Today()
		}
		tx, err := deps.Runner.Run(r.Context(), chi.URLParam(r, "slug"), req.RefreshDate)
		if err != nil {
			writeError(w, deps.Log, err)
			return
		}
		writeJSON(w, http.StatusOK, toRefreshDTO(tx))
	}
}
