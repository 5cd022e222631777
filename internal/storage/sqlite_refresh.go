package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"rank_tracker/internal/apperr"
	"rank_tracker/internal/model"
)

// OpenRefresh inserts an active refresh transaction for a project. The
// ux_refresh_active partial unique index makes this the atomic point of
// mutual exclusion: a second open while one is active fails as
// ErrConflict, with no check-then-insert window.
func (s *SQLite) OpenRefresh(ctx context.Context, projectID int64, refreshDate string, totalCount int) (*model.RefreshTransaction, error) {
	if totalCount < 0 {
		return nil, fmt.Errorf("open refresh: negative total count: %w", apperr.ErrValidation)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tracker_result_refresh_transactions
		   (project_id, refresh_date, total_count, completed_count, active, started_at)
		 VALUES (?, ?, ?, 0, 1, ?)`,
		projectID, refreshDate, totalCount, now,
	)
	if err != nil {
		return nil, translate("open refresh", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	tx := &model.RefreshTransaction{
		ID:          id,
		ProjectID:   projectID,
		RefreshDate: refreshDate,
		TotalCount:  totalCount,
		Active:      true,
	}
	tx.StartedAt, _ = time.Parse(timeLayout, now)
	return tx, nil
}

// GetRefresh returns a refresh transaction by its ID.
func (s *SQLite) GetRefresh(ctx context.Context, id int64) (*model.RefreshTransaction, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, refresh_date, total_count, completed_count, active, started_at, finished_at
		 FROM tracker_result_refresh_transactions WHERE id = ?`, id,
	)
	tx, err := scanRefresh(row)
	if err != nil {
		return nil, translate("get refresh", err)
	}
	return tx, nil
}

// ActiveRefresh returns the project's active transaction, or (nil, nil)
// when none is running.
func (s *SQLite) ActiveRefresh(ctx context.Context, projectID int64) (*model.RefreshTransaction, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, refresh_date, total_count, completed_count, active, started_at, finished_at
		 FROM tracker_result_refresh_transactions WHERE project_id = ? AND active = 1`, projectID,
	)
	tx, err := scanRefresh(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, translate("active refresh", err)
	}
	return tx, nil
}

// AddRefreshProgress atomically adds increment to completed_count and
// auto-closes the transaction once the expected total is reached. Both
// steps are conditional single UPDATEs, so concurrent workers compose. The
// updated row is returned.
func (s *SQLite) AddRefreshProgress(ctx context.Context, id int64, increment int) (*model.RefreshTransaction, error) {
	if increment < 0 {
		return nil, fmt.Errorf("refresh progress: negative increment: %w", apperr.ErrValidation)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`UPDATE tracker_result_refresh_transactions
		 SET completed_count = completed_count + ?
		 WHERE id = ? AND active = 1`, increment, id,
	)
	if err != nil {
		return nil, translate("refresh progress", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("refresh progress: rows affected: %w", err)
	}
	if n == 0 {
		// Either the id is unknown or the transaction already closed.
		tx, getErr := s.getRefreshLocked(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return tx, nil
	}

	now := time.Now().UTC().Format(timeLayout)
	if _, err := s.db.ExecContext(ctx,
		`UPDATE tracker_result_refresh_transactions
		 SET active = 0, finished_at = ?
		 WHERE id = ? AND active = 1 AND completed_count >= total_count`, now, id,
	); err != nil {
		return nil, translate("refresh auto-close", err)
	}

	return s.getRefreshLocked(ctx, id)
}

// CloseRefresh force-closes a transaction. Closing an already-closed
// transaction is a no-op success and leaves completed_count untouched.
func (s *SQLite) CloseRefresh(ctx context.Context, id int64) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`UPDATE tracker_result_refresh_transactions
		 SET active = 0, finished_at = ?
		 WHERE id = ? AND active = 1`, now, id,
	)
	if err != nil {
		return translate("close refresh", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("close refresh: rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	// Distinguish "already closed" (success) from "no such transaction".
	if _, err := s.getRefreshLocked(ctx, id); err != nil {
		return fmt.Errorf("close refresh: %w", err)
	}
	return nil
}

// getRefreshLocked reads a transaction on an already-bounded context.
func (s *SQLite) getRefreshLocked(ctx context.Context, id int64) (*model.RefreshTransaction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, refresh_date, total_count, completed_count, active, started_at, finished_at
		 FROM tracker_result_refresh_transactions WHERE id = ?`, id,
	)
	tx, err := scanRefresh(row)
	if err != nil {
		return nil, translate("get refresh", err)
	}
	return tx, nil
}

// CreateTarget inserts a message target. The partial unique index on
// (project_id, phone_number) rejects a live duplicate as ErrConflict.
func (s *SQLite) CreateTarget(ctx context.Context, t *model.MessageTarget) error {
	if strings.TrimSpace(t.PhoneNumber) == "" {
		return fmt.Errorf("create target: empty phone number: %w", apperr.ErrValidation)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO message_targets (project_id, phone_number, active, deleted, created_at)
		 VALUES (?, ?, ?, 0, ?)`,
		t.ProjectID, t.PhoneNumber, boolToInt(t.Active), now,
	)
	if err != nil {
		return translate("insert target", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	t.ID = id
	t.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// ListActiveTargets returns the live, active targets of a project.
func (s *SQLite) ListActiveTargets(ctx context.Context, projectID int64) ([]model.MessageTarget, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, phone_number, active, deleted, created_at
		 FROM message_targets WHERE project_id = ? AND deleted = 0 AND active = 1 ORDER BY id`, projectID,
	)
	if err != nil {
		return nil, translate("query targets", err)
	}
	defer func() { _ = rows.Close() }()

	var targets []model.MessageTarget
	for rows.Next() {
		var t model.MessageTarget
		var active, deleted int
		var created string
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.PhoneNumber, &active, &deleted, &created); err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		t.Active = active == 1
		t.Deleted = deleted == 1
		t.CreatedAt, _ = time.Parse(timeLayout, created)
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

// DeleteTarget soft-deletes a message target.
func (s *SQLite) DeleteTarget(ctx context.Context, id int64) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`UPDATE message_targets SET deleted = 1 WHERE id = ? AND deleted = 0`, id,
	)
	if err != nil {
		return translate("delete target", err)
	}
	return requireRow("delete target", res)
}

func scanRefresh(row scannable) (*model.RefreshTransaction, error) {
	var tx model.RefreshTransaction
	var active int
	var started string
	var finished sql.NullString
	err := row.Scan(&tx.ID, &tx.ProjectID, &tx.RefreshDate, &tx.TotalCount, &tx.CompletedCount, &active, &started, &finished)
	if err != nil {
		return nil, err
	}
	tx.Active = active == 1
	tx.StartedAt, _ = time.Parse(timeLayout, started)
	if finished.Valid {
		t, _ := time.Parse(timeLayout, finished.String)
		tx.FinishedAt = &t
	}
	return &tx, nil
}
