// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"

	"rank_tracker/internal/model"
)

// Storage is the interface for all persistence operations. Every read
// filters soft-deleted rows except ResultsByTrackerID, which serves the
// history of deleted trackers.
type Storage interface {
	CreateProject(ctx context.Context, p *model.Project) error
	GetProjectBySlug(ctx context.Context, slug string) (*model.Project, error)
	UpdateProject(ctx context.Context, id int64, upd model.ProjectUpdate) error
	DeleteProject(ctx context.Context, id int64) error

	GetOrCreateKeyword(ctx context.Context, name string) (*model.Keyword, error)
	KeywordsByIDs(ctx context.Context, ids []int64) (map[int64]model.Keyword, error)

	CreateCategory(ctx context.Context, c *model.KeywordCategory) error
	ListCategories(ctx context.Context, projectID int64) ([]model.KeywordCategory, error)
	CategoriesByIDs(ctx context.Context, ids []int64) (map[int64]model.KeywordCategory, error)
	DeleteCategory(ctx context.Context, id int64) error

	CreateTracker(ctx context.Context, t *model.KeywordTracker) error
	GetTracker(ctx context.Context, id int64) (*model.KeywordTracker, error)
	UpdateTracker(ctx context.Context, id int64, upd model.TrackerUpdate) error
	DeleteTracker(ctx context.Context, id int64) error
	ListTrackersPage(ctx context.Context, projectID int64, offset, limit int) ([]model.KeywordTracker, error)
	ListTrackersAll(ctx context.Context, projectID int64) ([]model.KeywordTracker, error)
	ListActiveTrackers(ctx context.Context, projectID int64) ([]model.KeywordTracker, error)
	CountTrackers(ctx context.Context, projectID int64) (int, error)

	AddAnalytics(ctx context.Context, a *model.AnalyticsSnapshot) error
	LatestAnalytics(ctx context.Context, keywordIDs []int64) (map[int64]model.AnalyticsSnapshot, error)

	AddRankResults(ctx context.Context, results []model.RankResult) error
	ResultsInWindow(ctx context.Context, trackerIDs []int64, from, to string) ([]model.RankResult, error)
	ResultsByTrackerID(ctx context.Context, trackerID int64) ([]model.RankResult, error)

	OpenRefresh(ctx context.Context, projectID int64, refreshDate string, totalCount int) (*model.RefreshTransaction, error)
	GetRefresh(ctx context.Context, id int64) (*model.RefreshTransaction, error)
	ActiveRefresh(ctx context.Context, projectID int64) (*model.RefreshTransaction, error)
	AddRefreshProgress(ctx context.Context, id int64, increment int) (*model.RefreshTransaction, error)
	CloseRefresh(ctx context.Context, id int64) error

	CreateTarget(ctx context.Context, t *model.MessageTarget) error
	ListActiveTargets(ctx context.Context, projectID int64) ([]model.MessageTarget, error)
	DeleteTarget(ctx context.Context, id int64) error

	Close() error
}
