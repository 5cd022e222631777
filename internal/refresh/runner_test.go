package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"rank_tracker/internal/aggregate"
	"rank_tracker/internal/apperr"
	"rank_tracker/internal/dates"
	"rank_tracker/internal/model"
	"rank_tracker/internal/notify"
	"rank_tracker/internal/scraper"
	"rank_tracker/internal/storage"
)

type mockLookup struct {
	mu      sync.Mutex
	byWord  map[string][]scraper.Result
	failing map[string]bool
	calls   []string
}

func (m *mockLookup) Lookup(_ context.Context, keyword, _, _ string) ([]scraper.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, keyword)
	if m.failing[keyword] {
		return nil, fmt.Errorf("lookup %q: worker reported failure", keyword)
	}
	return m.byWord[keyword], nil
}

type mockDispatcher struct {
	mu       sync.Mutex
	failures int
	calls    int
	batches  [][]notify.Message
}

func (m *mockDispatcher) Dispatch(_ context.Context, _ string, msgs []notify.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failures > 0 {
		m.failures--
		return fmt.Errorf("dispatch: %w", apperr.ErrDispatch)
	}
	m.batches = append(m.batches, msgs)
	return nil
}

func seedTracker(t *testing.T, s *storage.SQLite, projectID int64, keyword string, active bool) *model.KeywordTracker {
	t.Helper()
	ctx := context.Background()
	kw, err := s.GetOrCreateKeyword(ctx, keyword)
	if err != nil {
		t.Fatalf("keyword: %v", err)
	}
	tr := model.KeywordTracker{ProjectID: projectID, KeywordID: kw.ID, Active: active}
	if err := s.CreateTracker(ctx, &tr); err != nil {
		t.Fatalf("create tracker: %v", err)
	}
	return &tr
}

func newTestRunner(s *storage.SQLite, lookup Lookuper, d BatchDispatcher) *Runner {
	agg := aggregate.New(s, 3, discardLog)
	agg.SetNow(func() time.Time {
		return time.Date(2024, 1, 3, 12, 0, 0, 0, dates.Zone)
	})
	coord := NewCoordinator(s, discardLog)
	return NewRunner(s, coord, lookup, agg, d, "rank-reports", 2, discardLog)
}

func TestRunnerFullCycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	p := seedProject(t, s, "p1")

	coffee := seedTracker(t, s, p.ID, "coffee", true)
	seedTracker(t, s, p.ID, "bravo", true)
	suspended := seedTracker(t, s, p.ID, "suspended", false)
	removed := seedTracker(t, s, p.ID, "removed", true)
	if err := s.DeleteTracker(ctx, removed.ID); err != nil {
		t.Fatalf("delete tracker: %v", err)
	}

	for _, phone := range []string{"010-1111", "010-2222"} {
		target := model.MessageTarget{ProjectID: p.ID, PhoneNumber: phone, Active: true}
		if err := s.CreateTarget(ctx, &target); err != nil {
			t.Fatalf("create target: %v", err)
		}
	}

	lookup := &mockLookup{
		byWord: map[string][]scraper.Result{
			"coffee": {{BlogID: "b1", PostURL: "https://b1/coffee", RankInBlock: 1, BlockName: "blogs"}},
		},
		failing: map[string]bool{"bravo": true},
	}
	dispatcher := &mockDispatcher{}

	tx, err := newTestRunner(s, lookup, dispatcher).Run(ctx, "p1", "2024-01-02")
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	// Only the live active trackers are scraped; a failed lookup still
	// counts toward completion.
	if tx.TotalCount != 2 || tx.CompletedCount != 2 {
		t.Errorf("counts = %d/%d, want 2/2", tx.CompletedCount, tx.TotalCount)
	}
	if tx.Active {
		t.Error("transaction still active")
	}
	for _, kw := range lookup.calls {
		if kw == "suspended" || kw == "removed" {
			t.Errorf("scraped ineligible keyword %q", kw)
		}
	}

	rows, err := s.ResultsByTrackerID(ctx, coffee.ID)
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if len(rows) != 1 || rows[0].Date != "2024-01-02" || rows[0].RankInBlock != 1 {
		t.Errorf("unexpected rows: %+v", rows)
	}
	if len(rows) > 0 && rows[0].PostURL != "https://b1/coffee" {
		t.Errorf("post url = %q", rows[0].PostURL)
	}

	if suspendedRows, _ := s.ResultsByTrackerID(ctx, suspended.ID); len(suspendedRows) != 0 {
		t.Errorf("suspended tracker has rows: %+v", suspendedRows)
	}

	// One batch, one message per active target.
	if len(dispatcher.batches) != 1 {
		t.Fatalf("batches = %d, want 1", len(dispatcher.batches))
	}
	if got := len(dispatcher.batches[0]); got != 2 {
		t.Errorf("batch size = %d, want 2", got)
	}

	// The project is idle again: a new cycle may start.
	if _, err := newTestRunner(s, lookup, dispatcher).Run(ctx, "p1", "2024-01-03"); err != nil {
		t.Fatalf("second run: %v", err)
	}
}

func TestRunnerConflictWhileActive(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	p := seedProject(t, s, "p1")
	seedTracker(t, s, p.ID, "coffee", true)

	if _, err := s.OpenRefresh(ctx, p.ID, "2024-01-02", 99); err != nil {
		t.Fatalf("open: %v", err)
	}

	r := newTestRunner(s, &mockLookup{}, &mockDispatcher{})
	if _, err := r.Run(ctx, "p1", "2024-01-02"); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("run during refresh = %v, want ErrConflict", err)
	}
}

func TestRunnerRetriesWholeBatch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	p := seedProject(t, s, "p1")
	seedTracker(t, s, p.ID, "coffee", true)

	target := model.MessageTarget{ProjectID: p.ID, PhoneNumber: "010-1111", Active: true}
	if err := s.CreateTarget(ctx, &target); err != nil {
		t.Fatalf("create target: %v", err)
	}

	dispatcher := &mockDispatcher{failures: 1}
	if _, err := newTestRunner(s, &mockLookup{}, dispatcher).Run(ctx, "p1", "2024-01-02"); err != nil {
		t.Fatalf("run: %v", err)
	}
	if dispatcher.calls != 2 {
		t.Errorf("dispatch calls = %d, want 2 (one failure, one retry)", dispatcher.calls)
	}
	if len(dispatcher.batches) != 1 || len(dispatcher.batches[0]) != 1 {
		t.Errorf("unexpected batches: %+v", dispatcher.batches)
	}
}

func TestRunnerSkipsDispatchWithoutTargets(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	p := seedProject(t, s, "p1")
	seedTracker(t, s, p.ID, "coffee", true)

	dispatcher := &mockDispatcher{}
	if _, err := newTestRunner(s, &mockLookup{}, dispatcher).Run(ctx, "p1", "2024-01-02"); err != nil {
		t.Fatalf("run: %v", err)
	}
	if dispatcher.calls != 0 {
		t.Errorf("dispatch calls = %d, want 0", dispatcher.calls)
	}
}
