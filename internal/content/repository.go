// Package content implements the content repository contract on top of
// each site's sandbox git repository.
package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/rs/zerolog"

	"github.com/user/go-pubsync/internal/errs"
)

var (
	// ErrContentNotFound is returned by GetContent for a missing path.
	ErrContentNotFound = errors.New("content not found")
	// ErrCommitNotFound is returned by CommitsSince when the commit is not
	// in HEAD's history.
	ErrCommitNotFound = errors.New("commit not in history")
)

// GitRepository reads site content from the sandbox repositories.
type GitRepository struct {
	layout Layout
	log    zerolog.Logger
}

// NewGitRepository returns a content repository rooted at layout.
func NewGitRepository(layout Layout, logger zerolog.Logger) *GitRepository {
	return &GitRepository{
		layout: layout,
		log:    logger.With().Str("component", "content").Logger(),
	}
}

// Layout returns the repository layout.
func (g *GitRepository) Layout() Layout {
	return g.layout
}

// RepoFirstCommitID returns the root commit of the sandbox HEAD, or an
// empty string when the sandbox is missing or has no commits.
func (g *GitRepository) RepoFirstCommitID(_ context.Context, siteID string) string {
	r, err := git.PlainOpen(g.layout.SandboxDir(siteID))
	if err != nil {
		g.log.Debug().Err(err).Str("site", siteID).Msg("sandbox repository not available")
		return ""
	}
	head, err := r.Head()
	if err != nil {
		return ""
	}
	iter, err := r.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return ""
	}
	defer iter.Close()

	var first string
	err = iter.ForEach(func(c *object.Commit) error {
		if c.NumParents() == 0 {
			first = c.Hash.String()
		}
		return nil
	})
	if err != nil {
		g.log.Warn().Err(err).Str("site", siteID).Msg("failed to walk sandbox history")
		return ""
	}
	return first
}

// ContentExists reports whether path exists at the sandbox HEAD.
func (g *GitRepository) ContentExists(ctx context.Context, siteID, path string) bool {
	_, err := g.file(siteID, path)
	return err == nil
}

// GetContent opens path at the sandbox HEAD.
func (g *GitRepository) GetContent(_ context.Context, siteID, path string) (io.ReadCloser, error) {
	f, err := g.file(siteID, path)
	if err != nil {
		return nil, err
	}
	rc, err := f.Reader()
	if err != nil {
		return nil, errs.E(errs.KindGitAPI, "content.GetContent", err)
	}
	return rc, nil
}

func (g *GitRepository) file(siteID, path string) (*object.File, error) {
	const op = "content.file"
	r, err := git.PlainOpen(g.layout.SandboxDir(siteID))
	if err != nil {
		return nil, errs.E(errs.KindGitAPI, op, err)
	}
	head, err := r.Head()
	if err != nil {
		return nil, errs.E(errs.KindGitAPI, op, err)
	}
	commit, err := r.CommitObject(head.Hash())
	if err != nil {
		return nil, errs.E(errs.KindGitAPI, op, err)
	}
	f, err := commit.File(path)
	if errors.Is(err, object.ErrFileNotFound) {
		return nil, fmt.Errorf("%s in site %s: %w", path, siteID, ErrContentNotFound)
	}
	if err != nil {
		return nil, errs.E(errs.KindGitAPI, op, err)
	}
	return f, nil
}

// DeleteSite removes every repository of the site.
func (g *GitRepository) DeleteSite(_ context.Context, siteID string) error {
	if err := os.RemoveAll(g.layout.SiteDir(siteID)); err != nil {
		return fmt.Errorf("failed to delete site %s: %w", siteID, err)
	}
	g.log.Info().Str("site", siteID).Msg("deleted site repositories")
	return nil
}

// CommitsSince lists sandbox commits reachable from HEAD that are newer than
// commitID, oldest first. It fails with ErrCommitNotFound when commitID is
// not an ancestor of HEAD.
func (g *GitRepository) CommitsSince(_ context.Context, siteID, commitID string) ([]string, error) {
	const op = "content.CommitsSince"
	r, err := git.PlainOpen(g.layout.SandboxDir(siteID))
	if err != nil {
		return nil, errs.E(errs.KindGitAPI, op, err)
	}
	head, err := r.Head()
	if err != nil {
		return nil, errs.E(errs.KindGitAPI, op, err)
	}
	if head.Hash().String() == commitID {
		return nil, nil
	}

	iter, err := r.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, errs.E(errs.KindGitAPI, op, err)
	}
	defer iter.Close()

	stop := plumbing.NewHash(commitID)
	var newest []string
	found := false
	err = iter.ForEach(func(c *object.Commit) error {
		if c.Hash == stop {
			found = true
			return storer.ErrStop
		}
		newest = append(newest, c.Hash.String())
		return nil
	})
	if err != nil {
		return nil, errs.E(errs.KindGitAPI, op, err)
	}
	if !found {
		g.log.Warn().Str("site", siteID).Str("commit", commitID).Str("head", head.Hash().String()).
			Msg("last processed commit is not in the sandbox history")
		return nil, errs.E(errs.KindGitAPI, op, fmt.Errorf("%s: %w", commitID, ErrCommitNotFound))
	}

	out := make([]string, len(newest))
	for i, h := range newest {
		out[len(newest)-1-i] = h
	}
	return out, nil
}
