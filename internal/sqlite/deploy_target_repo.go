package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrTargetNotFound is returned when a site has no recorded deploy target.
var ErrTargetNotFound = errors.New("deploy target not found")

// DeployTarget is a recorded deployment target for a site.
type DeployTarget struct {
	SiteID       string
	SearchEngine string
	CreatedAt    time.Time
}

// DeployTargetRepo stores deploy targets in SQLite.
type DeployTargetRepo struct {
	DB  *sql.DB
	Now func() time.Time
}

// Put records a target for the site, replacing any existing record.
func (r *DeployTargetRepo) Put(ctx context.Context, siteID, searchEngine string) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO deploy_targets (site_id, search_engine, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (site_id) DO UPDATE SET search_engine = excluded.search_engine, created_at = excluded.created_at`,
		siteID, searchEngine, nowFunc(r.Now).Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert deploy target: %w", err)
	}
	return nil
}

func (r *DeployTargetRepo) Get(ctx context.Context, siteID string) (DeployTarget, error) {
	var t DeployTarget
	var createdAt string
	err := r.DB.QueryRowContext(ctx,
		`SELECT site_id, search_engine, created_at FROM deploy_targets WHERE site_id = ?`, siteID,
	).Scan(&t.SiteID, &t.SearchEngine, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return t, fmt.Errorf("site %q: %w", siteID, ErrTargetNotFound)
		}
		return t, fmt.Errorf("scan deploy target: %w", err)
	}
	if t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return t, fmt.Errorf("parse created_at: %w", err)
	}
	return t, nil
}

// Delete removes the site's target. Deleting a missing target is not an
// error.
func (r *DeployTargetRepo) Delete(ctx context.Context, siteID string) error {
	if _, err := r.DB.ExecContext(ctx, `DELETE FROM deploy_targets WHERE site_id = ?`, siteID); err != nil {
		return fmt.Errorf("delete deploy target: %w", err)
	}
	return nil
}
