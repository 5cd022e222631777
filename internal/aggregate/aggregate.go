// Package aggregate joins tracker metadata, the latest analytics snapshot
// per keyword, and sparse rank-result rows into dense per-tracker date
// matrices.
package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"rank_tracker/internal/apperr"
	"rank_tracker/internal/dates"
	"rank_tracker/internal/model"
	"rank_tracker/internal/storage"
)

// TrackerReport is the aggregated view of one tracker: identity, the
// current analytics snapshot (nil when the keyword has none), and one
// result set per window date. Results always holds exactly the window's
// dates; a day without data maps to an empty, non-nil slice.
type TrackerReport struct {
	Tracker   model.KeywordTracker
	Keyword   model.Keyword
	Category  *model.KeywordCategory
	Analytics *model.AnalyticsSnapshot
	Results   map[string][]model.RankResult
}

// Page is one page of the table view.
type Page struct {
	Rows       []TrackerReport
	TotalCount int
}

// Aggregator builds TrackerReports for a project. It is a pure reader:
// no call mutates the store.
type Aggregator struct {
	store      storage.Storage
	windowDays int
	log        *slog.Logger
	now        func() time.Time
}

// New creates an Aggregator with the given trailing-window length.
func New(store storage.Storage, windowDays int, log *slog.Logger) *Aggregator {
	return &Aggregator{
		store:      store,
		windowDays: windowDays,
		log:        log,
		now:        time.Now,
	}
}

// SetNow overrides the clock (useful for testing window boundaries).
func (a *Aggregator) SetNow(now func() time.Time) {
	a.now = now
}

// Window returns the date window reports are currently built over.
func (a *Aggregator) Window() []string {
	return dates.Window(a.now(), a.windowDays)
}

// TrackersPage returns one page of aggregated trackers in creation order,
// plus the total live tracker count of the project. A missing project is
// ErrNotFound; a project with no trackers yields an empty page.
func (a *Aggregator) TrackersPage(ctx context.Context, slug string, offset, limit int) (*Page, error) {
	if offset < 0 || limit < 1 {
		return nil, fmt.Errorf("trackers page: bad offset/limit: %w", apperr.ErrValidation)
	}
	project, err := a.store.GetProjectBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}

	total, err := a.store.CountTrackers(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	trackers, err := a.store.ListTrackersPage(ctx, project.ID, offset, limit)
	if err != nil {
		return nil, err
	}

	rows, err := a.build(ctx, trackers)
	if err != nil {
		return nil, err
	}
	return &Page{Rows: rows, TotalCount: total}, nil
}

// TrackersAll returns every live tracker of the project, aggregated. Used
// for the unbounded statistics view; the join and window logic is the same
// as the paginated view, only the materialization scope differs.
func (a *Aggregator) TrackersAll(ctx context.Context, slug string) ([]TrackerReport, error) {
	project, err := a.store.GetProjectBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	trackers, err := a.store.ListTrackersAll(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	return a.build(ctx, trackers)
}

func (a *Aggregator) build(ctx context.Context, trackers []model.KeywordTracker) ([]TrackerReport, error) {
	reports := make([]TrackerReport, 0, len(trackers))
	if len(trackers) == 0 {
		return reports, nil
	}

	window := dates.Window(a.now(), a.windowDays)

	trackerIDs := make([]int64, 0, len(trackers))
	keywordIDs := make([]int64, 0, len(trackers))
	var categoryIDs []int64
	for _, t := range trackers {
		trackerIDs = append(trackerIDs, t.ID)
		keywordIDs = append(keywordIDs, t.KeywordID)
		if t.CategoryID != nil {
			categoryIDs = append(categoryIDs, *t.CategoryID)
		}
	}

	keywords, err := a.store.KeywordsByIDs(ctx, keywordIDs)
	if err != nil {
		return nil, err
	}
	categories, err := a.store.CategoriesByIDs(ctx, categoryIDs)
	if err != nil {
		return nil, err
	}
	analytics, err := a.store.LatestAnalytics(ctx, keywordIDs)
	if err != nil {
		return nil, err
	}

	var results []model.RankResult
	if len(window) > 0 {
		results, err = a.store.ResultsInWindow(ctx, trackerIDs, window[0], window[len(window)-1])
		if err != nil {
			return nil, err
		}
	}
	byTrackerDate := make(map[int64]map[string][]model.RankResult, len(trackers))
	for _, r := range results {
		m := byTrackerDate[r.TrackerID]
		if m == nil {
			m = make(map[string][]model.RankResult)
			byTrackerDate[r.TrackerID] = m
		}
		m[r.Date] = append(m[r.Date], r)
	}

	for _, t := range trackers {
		report := TrackerReport{
			Tracker: t,
			Keyword: keywords[t.KeywordID],
			Results: make(map[string][]model.RankResult, len(window)),
		}
		if t.CategoryID != nil {
			if c, ok := categories[*t.CategoryID]; ok {
				report.Category = &c
			}
		}
		if snap, ok := analytics[t.KeywordID]; ok {
			report.Analytics = &snap
		}
		for _, d := range window {
			rs := byTrackerDate[t.ID][d]
			if rs == nil {
				rs = []model.RankResult{}
			}
			report.Results[d] = rs
		}
		reports = append(reports, report)
	}

	a.log.Debug("aggregated trackers", "count", len(reports), "window_days", a.windowDays)
	return reports, nil
}
