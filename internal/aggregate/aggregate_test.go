package aggregate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"rank_tracker/internal/apperr"
	"rank_tracker/internal/dates"
	"rank_tracker/internal/model"
	"rank_tracker/internal/storage"
)

var discardLog = slog.New(slog.NewTextHandler(io.Discard, nil))

// Fixed "today" of 2024-01-03 in the window zone.
var testNow = func() time.Time {
	return time.Date(2024, 1, 3, 12, 0, 0, 0, dates.Zone)
}

func newTestStore(t *testing.T) *storage.SQLite {
	t.Helper()
	s, err := storage.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newAggregator(s *storage.SQLite, windowDays int) *Aggregator {
	a := New(s, windowDays, discardLog)
	a.SetNow(testNow)
	return a
}

func seedProject(t *testing.T, s *storage.SQLite, slug string) *model.Project {
	t.Helper()
	p := model.Project{Slug: slug, Name: "Project", Owner: "owner"}
	if err := s.CreateProject(context.Background(), &p); err != nil {
		t.Fatalf("create project: %v", err)
	}
	return &p
}

func seedTracker(t *testing.T, s *storage.SQLite, projectID int64, keyword string) (*model.KeywordTracker, *model.Keyword) {
	t.Helper()
	ctx := context.Background()
	kw, err := s.GetOrCreateKeyword(ctx, keyword)
	if err != nil {
		t.Fatalf("keyword: %v", err)
	}
	tr := model.KeywordTracker{ProjectID: projectID, KeywordID: kw.ID, Active: true}
	if err := s.CreateTracker(ctx, &tr); err != nil {
		t.Fatalf("create tracker: %v", err)
	}
	return &tr, kw
}

// TestDenseWindowScenario covers the canonical case: window of 3 days with
// a single result on the middle day must yield exactly three date keys,
// the blank days holding empty non-nil sets.
func TestDenseWindowScenario(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	p := seedProject(t, s, "p1")
	tr, _ := seedTracker(t, s, p.ID, "coffee")

	row := model.RankResult{
		TrackerID: tr.ID, Date: "2024-01-02",
		BlogID: "b1", PostURL: "https://b1/post", RankInBlock: 2, BlockName: "blogs",
	}
	if err := s.AddRankResults(ctx, []model.RankResult{row}); err != nil {
		t.Fatalf("add result: %v", err)
	}

	reports, err := newAggregator(s, 3).TrackersAll(ctx, "p1")
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("reports = %d, want 1", len(reports))
	}

	want := map[string][]model.RankResult{
		"2024-01-01": {},
		"2024-01-02": {row},
		"2024-01-03": {},
	}
	ignoreID := cmpopts.IgnoreFields(model.RankResult{}, "ID")
	if diff := cmp.Diff(want, reports[0].Results, ignoreID); diff != "" {
		t.Errorf("results mismatch (-want +got):\n%s", diff)
	}
	for d, rs := range reports[0].Results {
		if rs == nil {
			t.Errorf("date %s maps to nil, want empty slice", d)
		}
	}
}

// TestDenseWindowNoResults: a tracker with zero rows still yields every
// window date.
func TestDenseWindowNoResults(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	p := seedProject(t, s, "p1")
	seedTracker(t, s, p.ID, "coffee")

	const window = 30
	reports, err := newAggregator(s, window).TrackersAll(ctx, "p1")
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("reports = %d, want 1", len(reports))
	}
	if len(reports[0].Results) != window {
		t.Fatalf("date keys = %d, want %d", len(reports[0].Results), window)
	}
	for d, rs := range reports[0].Results {
		if rs == nil || len(rs) != 0 {
			t.Errorf("date %s = %v, want empty set", d, rs)
		}
	}
}

func TestLatestSnapshotSelection(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	p := seedProject(t, s, "p1")
	_, kw := seedTracker(t, s, p.ID, "coffee")

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	// Newest inserted first: selection must not depend on insert order.
	snaps := []model.AnalyticsSnapshot{
		{KeywordID: kw.ID, Date: "2024-01-03", SearchVolume: 900, CreatedAt: base.Add(48 * time.Hour)},
		{KeywordID: kw.ID, Date: "2024-01-01", SearchVolume: 100, CreatedAt: base},
		{KeywordID: kw.ID, Date: "2024-01-02", SearchVolume: 500, CreatedAt: base.Add(24 * time.Hour)},
	}
	for i := range snaps {
		if err := s.AddAnalytics(ctx, &snaps[i]); err != nil {
			t.Fatalf("add analytics: %v", err)
		}
	}

	reports, err := newAggregator(s, 3).TrackersAll(ctx, "p1")
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if reports[0].Analytics == nil {
		t.Fatal("analytics missing")
	}
	if got := reports[0].Analytics.SearchVolume; got != 900 {
		t.Errorf("latest volume = %d, want 900", got)
	}
}

func TestTrackersPage(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	p := seedProject(t, s, "p1")
	for _, w := range []string{"alpha", "bravo", "charlie", "delta"} {
		seedTracker(t, s, p.ID, w)
	}

	agg := newAggregator(s, 3)

	page, err := agg.TrackersPage(ctx, "p1", 0, 2)
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if page.TotalCount != 4 {
		t.Errorf("total = %d, want 4", page.TotalCount)
	}
	if len(page.Rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(page.Rows))
	}
	if page.Rows[0].Keyword.Name != "alpha" || page.Rows[1].Keyword.Name != "bravo" {
		t.Errorf("unexpected order: %s, %s", page.Rows[0].Keyword.Name, page.Rows[1].Keyword.Name)
	}

	// Last page may be short.
	page, err = agg.TrackersPage(ctx, "p1", 3, 2)
	if err != nil {
		t.Fatalf("last page: %v", err)
	}
	if len(page.Rows) != 1 || page.Rows[0].Keyword.Name != "delta" {
		t.Errorf("unexpected last page: %+v", page.Rows)
	}

	if _, err := agg.TrackersPage(ctx, "p1", -1, 2); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("negative offset = %v, want ErrValidation", err)
	}
}

// TestMissingProjectVsEmptyProject: "no such project" and "project with
// zero trackers" are distinct outcomes.
func TestMissingProjectVsEmptyProject(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedProject(t, s, "empty")

	agg := newAggregator(s, 3)

	if _, err := agg.TrackersAll(ctx, "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing project = %v, want ErrNotFound", err)
	}

	reports, err := agg.TrackersAll(ctx, "empty")
	if err != nil {
		t.Fatalf("empty project: %v", err)
	}
	if len(reports) != 0 {
		t.Errorf("reports = %d, want 0", len(reports))
	}

	page, err := agg.TrackersPage(ctx, "empty", 0, 10)
	if err != nil {
		t.Fatalf("empty page: %v", err)
	}
	if page.TotalCount != 0 || len(page.Rows) != 0 {
		t.Errorf("page = %+v, want empty", page)
	}
}

// TestSoftDeletedTrackerExcluded: deletion removes a tracker from both
// read modes while its keyword stays tracked elsewhere.
func TestSoftDeletedTrackerExcluded(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	p := seedProject(t, s, "p1")
	tr, _ := seedTracker(t, s, p.ID, "coffee")
	seedTracker(t, s, p.ID, "tea")

	if err := s.DeleteTracker(ctx, tr.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	agg := newAggregator(s, 3)
	reports, err := agg.TrackersAll(ctx, "p1")
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if len(reports) != 1 || reports[0].Keyword.Name != "tea" {
		t.Errorf("unexpected reports: %+v", reports)
	}

	page, err := agg.TrackersPage(ctx, "p1", 0, 10)
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if page.TotalCount != 1 {
		t.Errorf("total = %d, want 1", page.TotalCount)
	}
}

func TestZeroWindow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	p := seedProject(t, s, "p1")
	seedTracker(t, s, p.ID, "coffee")

	reports, err := newAggregator(s, 0).TrackersAll(ctx, "p1")
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if len(reports[0].Results) != 0 {
		t.Errorf("date keys = %d, want 0", len(reports[0].Results))
	}
}
