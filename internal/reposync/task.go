// Package reposync brings a site's database records up to date with the
// commits made to its sandbox repository since the last verified commit.
package reposync

import (
	"bufio"
	"context"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/user/go-pubsync/internal/content"
	"github.com/user/go-pubsync/internal/interfaces"
	"github.com/user/go-pubsync/internal/registry"
)

// TaskName identifies the task in logs and the scheduler.
const TaskName = "repository-sync"

// CommitLister lists sandbox commits made after a given commit.
type CommitLister interface {
	CommitsSince(ctx context.Context, siteID, commitID string) ([]string, error)
}

// Config holds the task settings.
type Config struct {
	Layout       content.Layout
	EveryNCycles int
	Offset       int
}

// Task is the repository to database sync task.
type Task struct {
	cfg     Config
	locks   *registry.Locks
	sites   interfaces.SiteService
	commits CommitLister
	log     zerolog.Logger
}

// NewTask returns a sync task with its own per-site locks.
func NewTask(cfg Config, sites interfaces.SiteService, commits CommitLister, logger zerolog.Logger) *Task {
	return &Task{
		cfg:     cfg,
		locks:   registry.NewLocks(),
		sites:   sites,
		commits: commits,
		log:     logger.With().Str("task", TaskName).Logger(),
	}
}

func (t *Task) Name() string      { return TaskName }
func (t *Task) EveryNCycles() int { return t.cfg.EveryNCycles }
func (t *Task) Offset() int       { return t.cfg.Offset }

// Execute records the sandbox commits made since the site's last verified
// commit. Sites whose SITE_UUID marker does not match are left alone.
func (t *Task) Execute(ctx context.Context, siteID string) error {
	log := t.log.With().Str("site", siteID).Logger()
	if !t.locks.TryLock(siteID) {
		log.Debug().Msg("another worker holds the site lock, abandoning this cycle")
		return nil
	}
	defer t.locks.Unlock(siteID)

	site, err := t.sites.GetSite(ctx, siteID)
	if err != nil {
		log.Error().Err(err).Msg("failed to sync database from repository")
		return err
	}

	if !t.CheckSiteUUID(siteID, site.UUID) {
		log.Debug().Msg("site UUID does not match local repository, skipping")
		return nil
	}

	last, err := t.sites.LastVerifiedCommit(ctx, siteID)
	if err != nil {
		log.Error().Err(err).Msg("failed to read last verified commit")
		return err
	}
	if last == "" {
		return nil
	}

	log.Debug().Str("commit", last).Msg("syncing database with repository from last processed commit")
	commits, err := t.commits.CommitsSince(ctx, siteID, last)
	if err != nil {
		log.Error().Err(err).Msg("failed to sync database from repository")
		return err
	}
	if len(commits) == 0 {
		return nil
	}

	if err := t.sites.RecordGitLog(ctx, siteID, commits); err != nil {
		log.Error().Err(err).Msg("failed to record git log")
		return err
	}
	log.Info().Int("commits", len(commits)).Msg("database synced with repository")
	return nil
}

// CheckSiteUUID reports whether the site's SITE_UUID file lists siteUUID.
// Lines starting with '#' are comments. An unreadable file never matches.
func (t *Task) CheckSiteUUID(siteID, siteUUID string) bool {
	path := t.cfg.Layout.UUIDFile(siteID)
	f, err := os.Open(path)
	if err != nil {
		t.log.Info().Err(err).Str("site", siteID).Msg("invalid site UUID, local copy will not be deleted")
		return false
	}
	defer f.Close()

	want, wantErr := uuid.Parse(siteUUID)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.HasPrefix(line, "#") {
			continue
		}
		if line == siteUUID && siteUUID != "" {
			return true
		}
		if wantErr == nil {
			if got, err := uuid.Parse(line); err == nil && got == want {
				return true
			}
		}
	}
	if err := scanner.Err(); err != nil {
		t.log.Info().Err(err).Str("site", siteID).Msg("invalid site UUID, local copy will not be deleted")
	}
	return false
}
