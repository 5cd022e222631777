package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"rank_tracker/internal/apperr"
	"rank_tracker/internal/model"
	"rank_tracker/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// DefaultTimeout bounds every store call unless overridden.
const DefaultTimeout = 5 * time.Second

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db      *sql.DB
	timeout time.Duration
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
// WAL mode and the busy timeout are carried in the DSN so every pooled
// connection gets them; a plain PRAGMA exec would configure only the one
// connection that happened to run it.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn+"?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db, timeout: DefaultTimeout}, nil
}

// SetTimeout overrides the per-call store timeout.
func (s *SQLite) SetTimeout(d time.Duration) {
	s.timeout = d
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// opCtx derives the bounded context every store call runs under.
func (s *SQLite) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// translate maps driver failures onto the shared error kinds: deadline,
// cancellation, and lock contention become ErrTransient, missing rows
// ErrNotFound, and unique constraint violations ErrConflict.
func translate(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w", op, apperr.ErrTransient)
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%s: %w", op, apperr.ErrNotFound)
	case isLocked(err):
		return fmt.Errorf("%s: %w", op, apperr.ErrTransient)
	case strings.Contains(strings.ToLower(err.Error()), "constraint"):
		return fmt.Errorf("%s: %w", op, apperr.ErrConflict)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// isLocked reports whether err is SQLite lock contention, which a caller
// may retry.
func isLocked(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "sqlite_busy") ||
		strings.Contains(msg, "database table is locked")
}

// CreateProject inserts a new project and populates its ID and CreatedAt.
// The partial unique index on slug makes this a single conditional insert:
// a live duplicate surfaces as ErrConflict, with no pre-check round trip.
func (s *SQLite) CreateProject(ctx context.Context, p *model.Project) error {
	if strings.TrimSpace(p.Slug) == "" {
		return fmt.Errorf("create project: empty slug: %w", apperr.ErrValidation)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (slug, name, owner, deleted, created_at) VALUES (?, ?, ?, 0, ?)`,
		p.Slug, p.Name, p.Owner, now,
	)
	if err != nil {
		return translate("insert project", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	p.ID = id
	p.Deleted = false
	p.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// GetProjectBySlug returns the live project with the given slug.
func (s *SQLite) GetProjectBySlug(ctx context.Context, slug string) (*model.Project, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, slug, name, owner, deleted, created_at
		 FROM projects WHERE slug = ? AND deleted = 0`, slug,
	)
	var p model.Project
	var deleted int
	var created string
	if err := row.Scan(&p.ID, &p.Slug, &p.Name, &p.Owner, &deleted, &created); err != nil {
		return nil, translate("get project", err)
	}
	p.Deleted = deleted == 1
	p.CreatedAt, _ = time.Parse(timeLayout, created)
	return &p, nil
}

// UpdateProject applies the non-nil fields of upd to a live project.
func (s *SQLite) UpdateProject(ctx context.Context, id int64, upd model.ProjectUpdate) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	sets := make([]string, 0, 2)
	args := make([]any, 0, 3)
	if upd.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *upd.Name)
	}
	if upd.Owner != nil {
		sets = append(sets, "owner = ?")
		args = append(args, *upd.Owner)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET `+strings.Join(sets, ", ")+` WHERE id = ? AND deleted = 0`, args...,
	)
	if err != nil {
		return translate("update project", err)
	}
	return requireRow("update project", res)
}

// DeleteProject soft-deletes a project. The slug becomes reusable.
func (s *SQLite) DeleteProject(ctx context.Context, id int64) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET deleted = 1 WHERE id = ? AND deleted = 0`, id,
	)
	if err != nil {
		return translate("delete project", err)
	}
	return requireRow("delete project", res)
}

// GetOrCreateKeyword returns the keyword with the given name, creating it
// if absent. Keywords are global and immutable, so a racing insert that
// loses to the unique index falls back to the winner's row.
func (s *SQLite) GetOrCreateKeyword(ctx context.Context, name string) (*model.Keyword, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("keyword: empty name: %w", apperr.ErrValidation)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	now := time.Now().UTC().Format(timeLayout)
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO keywords (name, created_at) VALUES (?, ?)`, name, now,
	); err != nil {
		return nil, translate("insert keyword", err)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM keywords WHERE name = ?`, name,
	)
	var k model.Keyword
	var created string
	if err := row.Scan(&k.ID, &k.Name, &created); err != nil {
		return nil, translate("get keyword", err)
	}
	k.CreatedAt, _ = time.Parse(timeLayout, created)
	return &k, nil
}

// KeywordsByIDs returns the keywords for the given ids, keyed by id.
func (s *SQLite) KeywordsByIDs(ctx context.Context, ids []int64) (map[int64]model.Keyword, error) {
	out := make(map[int64]model.Keyword, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, created_at FROM keywords WHERE id IN (`+placeholders(len(ids))+`)`,
		int64Args(ids)...,
	)
	if err != nil {
		return nil, translate("query keywords", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var k model.Keyword
		var created string
		if err := rows.Scan(&k.ID, &k.Name, &created); err != nil {
			return nil, fmt.Errorf("scan keyword: %w", err)
		}
		k.CreatedAt, _ = time.Parse(timeLayout, created)
		out[k.ID] = k
	}
	return out, rows.Err()
}

// CreateCategory inserts a new category and populates its ID and CreatedAt.
func (s *SQLite) CreateCategory(ctx context.Context, c *model.KeywordCategory) error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("create category: empty name: %w", apperr.ErrValidation)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO keyword_categories (project_id, name, deleted, created_at) VALUES (?, ?, 0, ?)`,
		c.ProjectID, c.Name, now,
	)
	if err != nil {
		return translate("insert category", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	c.ID = id
	c.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// ListCategories returns the live categories of a project.
func (s *SQLite) ListCategories(ctx context.Context, projectID int64) ([]model.KeywordCategory, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, name, deleted, created_at
		 FROM keyword_categories WHERE project_id = ? AND deleted = 0 ORDER BY id`, projectID,
	)
	if err != nil {
		return nil, translate("query categories", err)
	}
	defer func() { _ = rows.Close() }()
	return scanCategories(rows)
}

// CategoriesByIDs returns the live categories for the given ids, keyed by id.
func (s *SQLite) CategoriesByIDs(ctx context.Context, ids []int64) (map[int64]model.KeywordCategory, error) {
	out := make(map[int64]model.KeywordCategory, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, name, deleted, created_at
		 FROM keyword_categories WHERE deleted = 0 AND id IN (`+placeholders(len(ids))+`)`,
		int64Args(ids)...,
	)
	if err != nil {
		return nil, translate("query categories", err)
	}
	defer func() { _ = rows.Close() }()

	cats, err := scanCategories(rows)
	if err != nil {
		return nil, err
	}
	for _, c := range cats {
		out[c.ID] = c
	}
	return out, nil
}

// DeleteCategory soft-deletes a category. Trackers keep pointing at it;
// readers simply stop resolving the category name.
func (s *SQLite) DeleteCategory(ctx context.Context, id int64) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`UPDATE keyword_categories SET deleted = 1 WHERE id = ? AND deleted = 0`, id,
	)
	if err != nil {
		return translate("delete category", err)
	}
	return requireRow("delete category", res)
}

// requireRow converts a zero-row UPDATE into ErrNotFound.
func requireRow(op string, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, apperr.ErrNotFound)
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func scanCategories(rows *sql.Rows) ([]model.KeywordCategory, error) {
	var cats []model.KeywordCategory
	for rows.Next() {
		var c model.KeywordCategory
		var deleted int
		var created string
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.Name, &deleted, &created); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		c.Deleted = deleted == 1
		c.CreatedAt, _ = time.Parse(timeLayout, created)
		cats = append(cats, c)
	}
	return cats, rows.Err()
}
