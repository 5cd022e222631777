// Package refresh owns the bulk-rescrape lifecycle: the per-project
// single-active-transaction invariant and the worker fan-out that fills a
// transaction.
package refresh

import (
	"context"
	"log/slog"

	"rank_tracker/internal/model"
	"rank_tracker/internal/storage"
)

// Coordinator opens, progresses, and closes refresh transactions. Mutual
// exclusion lives in the store's partial unique index, not here, so the
// coordinator stays correct across multiple service instances.
type Coordinator struct {
	store storage.Storage
	log   *slog.Logger
}

// NewCoordinator creates a Coordinator over the given store.
func NewCoordinator(store storage.Storage, log *slog.Logger) *Coordinator {
	return &Coordinator{store: store, log: log}
}

// Open starts a refresh transaction for the project with the given slug.
// A missing project is ErrNotFound and creates nothing; a refresh already
// running is ErrConflict, which callers must treat as "in progress", not
// retry.
func (c *Coordinator) Open(ctx context.Context, slug, refreshDate string, totalCount int) (*model.RefreshTransaction, error) {
	project, err := c.store.GetProjectBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	tx, err := c.store.OpenRefresh(ctx, project.ID, refreshDate, totalCount)
	if err != nil {
		return nil, err
	}
	c.log.Info("refresh opened", "project", slug, "tx_id", tx.ID, "total", totalCount)
	return tx, nil
}

// Progress adds increment to a transaction's completed count. This is the
// only mutator of completed_count; the increment happens in the store, so
// concurrent workers never lose updates. Reaching the expected total
// closes the transaction.
func (c *Coordinator) Progress(ctx context.Context, txID int64, increment int) (*model.RefreshTransaction, error) {
	tx, err := c.store.AddRefreshProgress(ctx, txID, increment)
	if err != nil {
		return nil, err
	}
	if !tx.Active && tx.FinishedAt != nil {
		c.log.Info("refresh complete", "tx_id", tx.ID, "completed", tx.CompletedCount)
	}
	return tx, nil
}

// Close force-closes a transaction, the recovery path for a stuck or
// crashed scraping run. Closing a closed transaction is a no-op success;
// workers racing on completion rely on that.
func (c *Coordinator) Close(ctx context.Context, txID int64) error {
	return c.store.CloseRefresh(ctx, txID)
}

// Active returns the project's running transaction, or (nil, nil) when
// none is in flight. This is the query progress UIs poll.
func (c *Coordinator) Active(ctx context.Context, slug string) (*model.RefreshTransaction, error) {
	project, err := c.store.GetProjectBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	return c.store.ActiveRefresh(ctx, project.ID)
}
