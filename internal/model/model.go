// Package model defines the domain types used across the application.
package model

import "time"

// Project groups trackers, categories, and message targets under one owner.
// Slug is unique among non-deleted projects and immutable after creation.
type Project struct {
	ID        int64
	Slug      string
	Name      string
	Owner     string
	Deleted   bool
	CreatedAt time.Time
}

// Keyword is a globally unique search term, shared across projects and
// immutable once created.
type Keyword struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}

// KeywordCategory is a project-owned grouping of trackers.
type KeywordCategory struct {
	ID        int64
	ProjectID int64
	Name      string
	Deleted   bool
	CreatedAt time.Time
}

// KeywordTracker binds one keyword to one project. Active=false suspends
// scraping without touching history; trackers are soft-deleted, never
// removed, so their result rows stay queryable.
type KeywordTracker struct {
	ID         int64
	ProjectID  int64
	KeywordID  int64
	CategoryID *int64
	Active     bool
	Deleted    bool
	CreatedAt  time.Time
}

// AnalyticsSnapshot is one append-only measurement of a keyword's search
// volume and competition. The row with the greatest CreatedAt is "current".
type AnalyticsSnapshot struct {
	ID               int64
	KeywordID        int64
	Date             string
	SearchVolume     int64
	CompetitionIndex float64
	CreatedAt        time.Time
}

// RankResult is one matching post found for a tracker on one date. Absence
// of any row for a date means "not found that day", which is distinct from
// a rank of zero.
type RankResult struct {
	ID          int64
	TrackerID   int64
	Date        string
	BlogID      string
	PostURL     string
	RankInBlock int
	BlockName   string
}

// RefreshTransaction records one bulk rescrape cycle of a project. At most
// one row per project has Active=true at any time.
type RefreshTransaction struct {
	ID             int64
	ProjectID      int64
	RefreshDate    string
	TotalCount     int
	CompletedCount int
	Active         bool
	StartedAt      time.Time
	FinishedAt     *time.Time
}

// MessageTarget is a phone number subscribed to a project's refresh reports.
// PhoneNumber is unique per project among non-deleted targets.
type MessageTarget struct {
	ID          int64
	ProjectID   int64
	PhoneNumber string
	Active      bool
	Deleted     bool
	CreatedAt   time.Time
}

// TrackerUpdate enumerates the tracker fields a caller may change. Nil
// fields are left untouched. ClearCategory detaches the tracker from its
// category and wins over CategoryID when both are set.
type TrackerUpdate struct {
	Active        *bool
	CategoryID    *int64
	ClearCategory bool
}

// ProjectUpdate enumerates the project fields a caller may change. Slug is
// deliberately absent: it is immutable.
type ProjectUpdate struct {
	Name  *string
	Owner *string
}
