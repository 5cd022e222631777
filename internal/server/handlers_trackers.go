package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"rank_tracker/internal/aggregate"
	"rank_tracker/internal/apperr"
	"rank_tracker/internal/model"
)

const defaultPageLimit = 20

type analyticsDTO struct {
	Date             string  `json:"date"`
	SearchVolume     int64   `json:"searchVolume"`
	CompetitionIndex float64 `json:"competitionIndex"`
}

type rankResultDTO struct {
	BlogID      string `json:"blogId"`
	PostURL     string `json:"postUrl"`
	RankInBlock int    `json:"rankInBlock"`
	BlockName   string `json:"blockName"`
}

type trackerReportDTO struct {
	TrackerID int64                      `json:"trackerId"`
	Keyword   string                     `json:"keyword"`
	Active    bool                       `json:"active"`
	Category  *string                    `json:"category,omitempty"`
	Analytics *analyticsDTO              `json:"analytics,omitempty"`
	Results   map[string][]rankResultDTO `json:"results"`
}

func toReportDTO(r aggregate.TrackerReport) trackerReportDTO {
	dto := trackerReportDTO{
		TrackerID: r.Tracker.ID,
		Keyword:   r.Keyword.Name,
		Active:    r.Tracker.Active,
		Results:   make(map[string][]rankResultDTO, len(r.Results)),
	}
	if r.Category != nil {
		dto.Category = &r.Category.Name
	}
	if r.Analytics != nil {
		dto.Analytics = &analyticsDTO{
			Date:             r.Analytics.Date,
			SearchVolume:     r.Analytics.SearchVolume,
			CompetitionIndex: r.Analytics.CompetitionIndex,
		}
	}
	for date, rows := range r.Results {
		out := make([]rankResultDTO, 0, len(rows))
		for _, row := range rows {
			out = append(out, toResultDTO(row))
		}
		dto.Results[date] = out
	}
	return dto
}

func toResultDTO(r model.RankResult) rankResultDTO {
	return rankResultDTO{
		BlogID:      r.BlogID,
		PostURL:     r.PostURL,
		RankInBlock: r.RankInBlock,
		BlockName:   r.BlockName,
	}
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("bad %s %q: %w", key, raw, apperr.ErrValidation)
	}
	return v, nil
}

func handleTrackersPage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		offset, err := queryInt(r, "offset", 0)
		if err != nil {
			writeError(w, deps.Log, err)
			return
		}
		limit, err := queryInt(r, "limit", defaultPageLimit)
		if err != nil {
			writeError(w, deps.Log, err)
			return
		}

		page, err := deps.Agg.TrackersPage(r.Context(), chi.URLParam(r, "slug"), offset, limit)
		if err != nil {
			writeError(w, deps.Log, err)
			return
		}
		rows := make([]trackerReportDTO, 0, len(page.Rows))
		for _, rep := range page.Rows {
			rows = append(rows, toReportDTO(rep))
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"rows":       rows,
			"totalCount": page.TotalCount,
		})
	}
}

func handleTrackersAll(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reports, err := deps.Agg.TrackersAll(r.Context(), chi.URLParam(r, "slug"))
		if err != nil {
			writeError(w, deps.Log, err)
			return
		}
		rows := make([]trackerReportDTO, 0, len(reports))
		for _, rep := range reports {
			rows = append(rows, toReportDTO(rep))
		}
		writeJSON(w, http.StatusOK, rows)
	}
}

func handleCreateTracker(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Keyword    string `json:"keyword"`
			CategoryID *int64 `json:"categoryId"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, deps.Log, err)
			return
		}
		p, err := deps.Store.GetProjectBySlug(r.Context(), chi.URLParam(r, "slug"))
		if err != nil {
			writeError(w, deps.Log, err)
			return
		}
		kw, err := deps.Store.GetOrCreateKeyword(r.Context(), req.Keyword)
		if err != nil {
			writeError(w, deps.Log, err)
			return
		}
		t := model.KeywordTracker{
			ProjectID:  p.ID,
			KeywordID:  kw.ID,
			CategoryID: req.CategoryID,
			Active:     true,
		}
		if err := deps.Store.CreateTracker(r.Context(), &t); err != nil {
			writeError(w, deps.Log, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"id":      t.ID,
			"keyword": kw.Name,
		})
	}
}

func handleUpdateTracker(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, deps.Log, err)
			return
		}
		var req struct {
			Active        *bool  `json:"active"`
			CategoryID    *int64 `json:"categoryId"`
			ClearCategory bool   `json:"clearCategory"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, deps.Log, err)
			return
		}
		upd := model.TrackerUpdate{
			Active:        req.Active,
			CategoryID:    req.CategoryID,
			ClearCategory: req.ClearCategory,
		}
		if err := deps.Store.UpdateTracker(r.Context(), id, upd); err != nil {
			writeError(w, deps.Log, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

func handleDeleteTracker(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, deps.Log, err)
			return
		}
		if err := deps.Store.DeleteTracker(r.Context(), id); err != nil {
			writeError(w, deps.Log, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

// handleTrackerResults serves the raw result history of one tracker, kept
// reachable after soft deletion.
func handleTrackerResults(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, deps.Log, err)
			return
		}
		results, err := deps.Store.ResultsByTrackerID(r.Context(), id)
		if err != nil {
			writeError(w, deps.Log, err)
			return
		}
		out := make([]map[string]any, 0, len(results))
		for _, res := range results {
			out = append(out, map[string]any{
				"date":        res.Date,
				"blogId":      res.BlogID,
				"postUrl":     res.PostURL,
				"rankInBlock": res.RankInBlock,
				"blockName":   res.BlockName,
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}
