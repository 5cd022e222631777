package storage

import (
	"context"
	"errors"
	"sync"
	"testing"

	"rank_tracker/internal/apperr"
)

func TestRefreshLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	p := newTestProject(t, s, "p1")

	tx, err := s.OpenRefresh(ctx, p.ID, "2024-01-01", 5)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !tx.Active || tx.CompletedCount != 0 {
		t.Fatalf("unexpected transaction: %+v", tx)
	}

	// A second open while one is active violates the invariant.
	if _, err := s.OpenRefresh(ctx, p.ID, "2024-01-01", 5); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("second open = %v, want ErrConflict", err)
	}

	active, err := s.ActiveRefresh(ctx, p.ID)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if active == nil || active.ID != tx.ID {
		t.Fatalf("active = %+v, want tx %d", active, tx.ID)
	}

	// Five progress reports reach the total and auto-close.
	for i := 0; i < 5; i++ {
		if _, err := s.AddRefreshProgress(ctx, tx.ID, 1); err != nil {
			t.Fatalf("progress %d: %v", i, err)
		}
	}
	done, err := s.GetRefresh(ctx, tx.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if done.Active {
		t.Error("transaction still active after reaching total")
	}
	if done.CompletedCount != 5 {
		t.Errorf("completed = %d, want 5", done.CompletedCount)
	}
	if done.FinishedAt == nil {
		t.Error("finished_at not set")
	}

	active, err = s.ActiveRefresh(ctx, p.ID)
	if err != nil {
		t.Fatalf("active after close: %v", err)
	}
	if active != nil {
		t.Errorf("active = %+v, want none", active)
	}

	// A third open succeeds once the previous cycle closed.
	if _, err := s.OpenRefresh(ctx, p.ID, "2024-01-02", 5); err != nil {
		t.Fatalf("reopen: %v", err)
	}
}

func TestCloseRefreshIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	p := newTestProject(t, s, "p1")

	tx, err := s.OpenRefresh(ctx, p.ID, "2024-01-01", 10)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := s.AddRefreshProgress(ctx, tx.ID, 3); err != nil {
		t.Fatalf("progress: %v", err)
	}

	if err := s.CloseRefresh(ctx, tx.ID); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := s.CloseRefresh(ctx, tx.ID); err != nil {
		t.Fatalf("second close: %v", err)
	}

	got, err := s.GetRefresh(ctx, tx.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.CompletedCount != 3 {
		t.Errorf("completed changed by second close: %d, want 3", got.CompletedCount)
	}
	if got.Active {
		t.Error("still active")
	}

	// Closing an unknown transaction is a real error, not a silent no-op.
	if err := s.CloseRefresh(ctx, 99999); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("close unknown = %v, want ErrNotFound", err)
	}
}

func TestProgressOnClosedIsNoOp(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	p := newTestProject(t, s, "p1")

	tx, err := s.OpenRefresh(ctx, p.ID, "2024-01-01", 10)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.CloseRefresh(ctx, tx.ID); err != nil {
		t.Fatalf("close: %v", err)
	}

	got, err := s.AddRefreshProgress(ctx, tx.ID, 1)
	if err != nil {
		t.Fatalf("progress after close: %v", err)
	}
	if got.CompletedCount != 0 {
		t.Errorf("completed = %d, want 0 (closed transactions stop counting)", got.CompletedCount)
	}

	if _, err := s.AddRefreshProgress(ctx, 99999, 1); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("progress unknown = %v, want ErrNotFound", err)
	}
}

// TestConcurrentOpenRefresh drives N simultaneous opens at one project:
// exactly one must win, the rest must see ErrConflict.
func TestConcurrentOpenRefresh(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	p := newTestProject(t, s, "p1")

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.OpenRefresh(ctx, p.ID, "2024-01-01", 3)
		}()
	}
	wg.Wait()

	var opened, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			opened++
		case errors.Is(err, apperr.ErrConflict):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if opened != 1 || conflicts != n-1 {
		t.Errorf("opened=%d conflicts=%d, want 1 and %d", opened, conflicts, n-1)
	}
}

// TestConcurrentProgress verifies increments never lose updates.
func TestConcurrentProgress(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	p := newTestProject(t, s, "p1")

	const workers = 10
	const perWorker = 5

	tx, err := s.OpenRefresh(ctx, p.ID, "2024-01-01", workers*perWorker)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				if _, err := s.AddRefreshProgress(ctx, tx.ID, 1); err != nil {
					t.Errorf("progress: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	got, err := s.GetRefresh(ctx, tx.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.CompletedCount != workers*perWorker {
		t.Errorf("completed = %d, want %d", got.CompletedCount, workers*perWorker)
	}
	if got.Active {
		t.Error("transaction still active after reaching total")
	}
}

func TestOpenRefreshValidation(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	p := newTestProject(t, s, "p1")

	if _, err := s.OpenRefresh(ctx, p.ID, "2024-01-01", -1); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("negative total = %v, want ErrValidation", err)
	}
}
