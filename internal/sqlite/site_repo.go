package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/user/go-pubsync/internal/errs"
	"github.com/user/go-pubsync/internal/interfaces"
)

// ErrSiteExists is returned when creating a site whose id is taken.
var ErrSiteExists = errors.New("site already exists")

// SiteRepo implements [interfaces.SiteService] backed by SQLite.
type SiteRepo struct {
	DB *sql.DB

	// Environment names applied to sites created without their own.
	LiveEnvironment    string
	StagingEnvironment string

	Now func() time.Time
}

// GitLogEntry is one sandbox commit recorded for a site.
type GitLogEntry struct {
	CommitID   string
	Processed  bool
	RecordedAt time.Time
}

func (r *SiteRepo) Create(ctx context.Context, s interfaces.Site) (interfaces.Site, error) {
	if s.LiveEnvironment == "" {
		s.LiveEnvironment = r.LiveEnvironment
	}
	if s.StagingEnvironment == "" {
		s.StagingEnvironment = r.StagingEnvironment
	}
	if s.SandboxBranch == "" {
		s.SandboxBranch = "master"
	}

	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO sites (id, uuid, sandbox_branch, published_repo_created, live_environment, staging_environment, staging_enabled)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.UUID, s.SandboxBranch, boolInt(s.PublishedRepoCreated),
		s.LiveEnvironment, s.StagingEnvironment, boolInt(s.StagingEnabled),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return s, fmt.Errorf("site %q: %w", s.ID, ErrSiteExists)
		}
		return s, fmt.Errorf("insert site: %w", err)
	}
	return s, nil
}

func (r *SiteRepo) GetSite(ctx context.Context, siteID string) (interfaces.Site, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT id, uuid, sandbox_branch, published_repo_created, live_environment, staging_environment, staging_enabled
		 FROM sites WHERE id = ?`,
		siteID,
	)

	var s interfaces.Site
	if err := row.Scan(&s.ID, &s.UUID, &s.SandboxBranch, &s.PublishedRepoCreated,
		&s.LiveEnvironment, &s.StagingEnvironment, &s.StagingEnabled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return s, errs.Errorf(errs.KindSiteNotFound, "get site", "site %q", siteID)
		}
		return s, fmt.Errorf("scan site: %w", err)
	}
	return s, nil
}

func (r *SiteRepo) ListSites(ctx context.Context) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id FROM sites ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan site id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SetPublishedRepoCreated marks whether the site's published repository
// is expected to exist.
func (r *SiteRepo) SetPublishedRepoCreated(ctx context.Context, siteID string, created bool) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE sites SET published_repo_created = ? WHERE id = ?`,
		boolInt(created), siteID,
	)
	if err != nil {
		return fmt.Errorf("update site: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.Errorf(errs.KindSiteNotFound, "update site", "site %q", siteID)
	}
	return nil
}

func (r *SiteRepo) LastVerifiedCommit(ctx context.Context, siteID string) (string, error) {
	var commit string
	err := r.DB.QueryRowContext(ctx,
		`SELECT last_verified_commit FROM sites WHERE id = ?`, siteID,
	).Scan(&commit)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", errs.Errorf(errs.KindSiteNotFound, "last verified commit", "site %q", siteID)
		}
		return "", fmt.Errorf("scan last verified commit: %w", err)
	}
	return commit, nil
}

// SetLastVerifiedCommit overwrites the site's last verified commit.
func (r *SiteRepo) SetLastVerifiedCommit(ctx context.Context, siteID, commitID string) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE sites SET last_verified_commit = ? WHERE id = ?`, commitID, siteID,
	)
	if err != nil {
		return fmt.Errorf("update last verified commit: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.Errorf(errs.KindSiteNotFound, "set last verified commit", "site %q", siteID)
	}
	return nil
}

// RecordGitLog appends commitIDs (oldest first) to the site's git log and
// advances the last verified commit to the newest one. Commits already
// logged are skipped.
func (r *SiteRepo) RecordGitLog(ctx context.Context, siteID string, commitIDs []string) error {
	if len(commitIDs) == 0 {
		return nil
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := nowFunc(r.Now).Format(time.RFC3339Nano)
	for _, id := range commitIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO git_log (site_id, commit_id, processed, recorded_at) VALUES (?, ?, 1, ?)`,
			siteID, id, now,
		); err != nil {
			return fmt.Errorf("insert git log: %w", err)
		}
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE sites SET last_verified_commit = ? WHERE id = ?`,
		commitIDs[len(commitIDs)-1], siteID,
	)
	if err != nil {
		return fmt.Errorf("update last verified commit: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.Errorf(errs.KindSiteNotFound, "record git log", "site %q", siteID)
	}
	return tx.Commit()
}

// GitLog returns the site's recorded commits in recording order.
func (r *SiteRepo) GitLog(ctx context.Context, siteID string) ([]GitLogEntry, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT commit_id, processed, recorded_at FROM git_log WHERE site_id = ? ORDER BY id`, siteID,
	)
	if err != nil {
		return nil, fmt.Errorf("list git log: %w", err)
	}
	defer rows.Close()

	var entries []GitLogEntry
	for rows.Next() {
		var e GitLogEntry
		var recordedAt string
		if err := rows.Scan(&e.CommitID, &e.Processed, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan git log: %w", err)
		}
		if e.RecordedAt, err = time.Parse(time.RFC3339Nano, recordedAt); err != nil {
			return nil, fmt.Errorf("parse recorded_at: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
