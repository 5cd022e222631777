package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"rank_tracker/internal/model"
)

// CreateTracker inserts a new tracker and populates its ID and CreatedAt.
// The partial unique index on (project_id, keyword_id) rejects a live
// duplicate as ErrConflict.
func (s *SQLite) CreateTracker(ctx context.Context, t *model.KeywordTracker) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO keyword_trackers (project_id, keyword_id, category_id, active, deleted, created_at)
		 VALUES (?, ?, ?, ?, 0, ?)`,
		t.ProjectID, t.KeywordID, t.CategoryID, boolToInt(t.Active), now,
	)
	if err != nil {
		return translate("insert tracker", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	t.ID = id
	t.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// GetTracker returns a live tracker by its ID.
func (s *SQLite) GetTracker(ctx context.Context, id int64) (*model.KeywordTracker, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, keyword_id, category_id, active, deleted, created_at
		 FROM keyword_trackers WHERE id = ? AND deleted = 0`, id,
	)
	t, err := scanTracker(row)
	if err != nil {
		return nil, translate("get tracker", err)
	}
	return t, nil
}

// UpdateTracker applies the set fields of upd to a live tracker.
func (s *SQLite) UpdateTracker(ctx context.Context, id int64, upd model.TrackerUpdate) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	sets := make([]string, 0, 2)
	args := make([]any, 0, 3)
	if upd.Active != nil {
		sets = append(sets, "active = ?")
		args = append(args, boolToInt(*upd.Active))
	}
	switch {
	case upd.ClearCategory:
		sets = append(sets, "category_id = NULL")
	case upd.CategoryID != nil:
		sets = append(sets, "category_id = ?")
		args = append(args, *upd.CategoryID)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		`UPDATE keyword_trackers SET `+strings.Join(sets, ", ")+` WHERE id = ? AND deleted = 0`, args...,
	)
	if err != nil {
		return translate("update tracker", err)
	}
	return requireRow("update tracker", res)
}

// DeleteTracker soft-deletes a tracker. Its result history stays in place.
func (s *SQLite) DeleteTracker(ctx context.Context, id int64) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`UPDATE keyword_trackers SET deleted = 1 WHERE id = ? AND deleted = 0`, id,
	)
	if err != nil {
		return translate("delete tracker", err)
	}
	return requireRow("delete tracker", res)
}

// ListTrackersPage returns one page of a project's live trackers in
// creation order.
func (s *SQLite) ListTrackersPage(ctx context.Context, projectID int64, offset, limit int) ([]model.KeywordTracker, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, keyword_id, category_id, active, deleted, created_at
		 FROM keyword_trackers WHERE project_id = ? AND deleted = 0
		 ORDER BY id LIMIT ? OFFSET ?`, projectID, limit, offset,
	)
	if err != nil {
		return nil, translate("query trackers page", err)
	}
	defer func() { _ = rows.Close() }()
	return scanTrackers(rows)
}

// ListTrackersAll returns all live trackers of a project in creation order.
func (s *SQLite) ListTrackersAll(ctx context.Context, projectID int64) ([]model.KeywordTracker, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, keyword_id, category_id, active, deleted, created_at
		 FROM keyword_trackers WHERE project_id = ? AND deleted = 0 ORDER BY id`, projectID,
	)
	if err != nil {
		return nil, translate("query trackers", err)
	}
	defer func() { _ = rows.Close() }()
	return scanTrackers(rows)
}

// ListActiveTrackers returns the live trackers eligible for scraping.
func (s *SQLite) ListActiveTrackers(ctx context.Context, projectID int64) ([]model.KeywordTracker, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, keyword_id, category_id, active, deleted, created_at
		 FROM keyword_trackers WHERE project_id = ? AND deleted = 0 AND active = 1 ORDER BY id`, projectID,
	)
	if err != nil {
		return nil, translate("query active trackers", err)
	}
	defer func() { _ = rows.Close() }()
	return scanTrackers(rows)
}

// CountTrackers returns the number of live trackers in a project.
func (s *SQLite) CountTrackers(ctx context.Context, projectID int64) (int, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM keyword_trackers WHERE project_id = ? AND deleted = 0`, projectID,
	).Scan(&n)
	if err != nil {
		return 0, translate("count trackers", err)
	}
	return n, nil
}

// AddAnalytics appends one analytics snapshot. A zero CreatedAt is filled
// with the current time.
func (s *SQLite) AddAnalytics(ctx context.Context, a *model.AnalyticsSnapshot) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	created := a.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO keyword_analytics (keyword_id, date, search_volume, competition_index, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		a.KeywordID, a.Date, a.SearchVolume, a.CompetitionIndex, created.UTC().Format(timeLayout),
	)
	if err != nil {
		return translate("insert analytics", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	a.ID = id
	a.CreatedAt, _ = time.Parse(timeLayout, created.UTC().Format(timeLayout))
	return nil
}

// LatestAnalytics returns, per keyword, the single most recent snapshot.
// "Most recent" is strictly greatest created_at, ties broken by greatest
// date, then greatest id, so the result never depends on insert or scan
// order.
func (s *SQLite) LatestAnalytics(ctx context.Context, keywordIDs []int64) (map[int64]model.AnalyticsSnapshot, error) {
	out := make(map[int64]model.AnalyticsSnapshot, len(keywordIDs))
	if len(keywordIDs) == 0 {
		return out, nil
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, keyword_id, date, search_volume, competition_index, created_at
		 FROM keyword_analytics a
		 WHERE a.keyword_id IN (`+placeholders(len(keywordIDs))+`)
		   AND a.id = (SELECT b.id FROM keyword_analytics b
		               WHERE b.keyword_id = a.keyword_id
		               ORDER BY b.created_at DESC, b.date DESC, b.id DESC LIMIT 1)`,
		int64Args(keywordIDs)...,
	)
	if err != nil {
		return nil, translate("query latest analytics", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var a model.AnalyticsSnapshot
		var created string
		if err := rows.Scan(&a.ID, &a.KeywordID, &a.Date, &a.SearchVolume, &a.CompetitionIndex, &created); err != nil {
			return nil, fmt.Errorf("scan analytics: %w", err)
		}
		a.CreatedAt, _ = time.Parse(timeLayout, created)
		out[a.KeywordID] = a
	}
	return out, rows.Err()
}

// AddRankResults inserts a batch of rank results in one transaction.
func (s *SQLite) AddRankResults(ctx context.Context, results []model.RankResult) error {
	if len(results) == 0 {
		return nil
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return translate("begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i := range results {
		r := &results[i]
		res, err := tx.ExecContext(ctx,
			`INSERT INTO keyword_tracker_results (tracker_id, date, blog_id, post_url, rank_in_block, block_name)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			r.TrackerID, r.Date, r.BlogID, r.PostURL, r.RankInBlock, r.BlockName,
		)
		if err != nil {
			return translate("insert rank result", err)
		}
		if r.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}
	}
	return tx.Commit()
}

// ResultsInWindow returns the rank results of the given trackers with
// from <= date <= to, ordered by date then rank.
func (s *SQLite) ResultsInWindow(ctx context.Context, trackerIDs []int64, from, to string) ([]model.RankResult, error) {
	if len(trackerIDs) == 0 {
		return nil, nil
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	args := int64Args(trackerIDs)
	args = append(args, from, to)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tracker_id, date, blog_id, post_url, rank_in_block, block_name
		 FROM keyword_tracker_results
		 WHERE tracker_id IN (`+placeholders(len(trackerIDs))+`) AND date >= ? AND date <= ?
		 ORDER BY tracker_id, date, rank_in_block, id`, args...,
	)
	if err != nil {
		return nil, translate("query results", err)
	}
	defer func() { _ = rows.Close() }()
	return scanResults(rows)
}

// ResultsByTrackerID returns the full result history of one tracker. It
// deliberately skips the live filter: history of soft-deleted trackers
// stays reachable by id.
func (s *SQLite) ResultsByTrackerID(ctx context.Context, trackerID int64) ([]model.RankResult, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tracker_id, date, blog_id, post_url, rank_in_block, block_name
		 FROM keyword_tracker_results WHERE tracker_id = ?
		 ORDER BY date, rank_in_block, id`, trackerID,
	)
	if err != nil {
		return nil, translate("query tracker results", err)
	}
	defer func() { _ = rows.Close() }()
	return scanResults(rows)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanTracker(row scannable) (*model.KeywordTracker, error) {
	var t model.KeywordTracker
	var active, deleted int
	var category sql.NullInt64
	var created string
	err := row.Scan(&t.ID, &t.ProjectID, &t.KeywordID, &category, &active, &deleted, &created)
	if err != nil {
		return nil, err
	}
	t.Active = active == 1
	t.Deleted = deleted == 1
	if category.Valid {
		v := category.Int64
		t.CategoryID = &v
	}
	t.CreatedAt, _ = time.Parse(timeLayout, created)
	return &t, nil
}

func scanTrackers(rows *sql.Rows) ([]model.KeywordTracker, error) {
	var trackers []model.KeywordTracker
	for rows.Next() {
		t, err := scanTracker(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tracker: %w", err)
		}
		trackers = append(trackers, *t)
	}
	return trackers, rows.Err()
}

func scanResults(rows *sql.Rows) ([]model.RankResult, error) {
	var results []model.RankResult
	for rows.Next() {
		var r model.RankResult
		if err := rows.Scan(&r.ID, &r.TrackerID, &r.Date, &r.BlogID, &r.PostURL, &r.RankInBlock, &r.BlockName); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
