package publishsync

import (
	"context"
	"errors"
	"os"

	"github.com/user/go-pubsync/internal/errs"
	"github.com/user/go-pubsync/internal/gitrepo"
	"github.com/user/go-pubsync/internal/interfaces"
)

var errEmptySandbox = errors.New("sandbox repository has no history to publish")

// ensureRepository makes sure the published repository exists, cloning it
// from the sandbox when needed. Existence is answered by the confirmed set
// first, then by the sandbox history and the on-disk published repository.
// It reports whether a clone happened. A failed clone leaves no published
// directory behind.
func (t *Task) ensureRepository(ctx context.Context, site interfaces.Site) (bool, error) {
	const op = "publishsync.ensureRepository"
	log := t.log.With().Str("site", site.ID).Logger()

	if t.deps.Registry.IsConfirmed(site.ID) {
		return false, nil
	}

	dst := t.cfg.Layout.PublishedDir(site.ID)
	first := t.deps.Content.RepoFirstCommitID(ctx, site.ID)
	if first != "" && gitrepo.Exists(dst) {
		t.deps.Registry.Confirm(site.ID)
		return false, nil
	}

	if first == "" {
		log.Warn().Msg("sandbox repository has no history, published repository not created")
		return false, errs.E(errs.KindServiceLayer, op, errEmptySandbox)
	}

	if _, err := os.Stat(dst); err == nil {
		log.Warn().Str("path", dst).Msg("removing unusable published directory")
		if err := os.RemoveAll(dst); err != nil {
			return false, errs.E(errs.KindServiceLayer, op, err)
		}
	}

	log.Debug().Str("branch", site.SandboxBranch).Msg("creating published repository from sandbox")
	src := t.cfg.Layout.SandboxDir(site.ID)
	if err := t.clone(ctx, src, dst, site.SandboxBranch); err != nil {
		if errs.Is(err, errs.KindCrypto) {
			log.Error().Err(err).Msg("credential failure while creating published repository, rolling back")
		} else {
			log.Error().Err(err).Msg("failed to create published repository, rolling back")
		}
		t.rollback(site.ID)
		if errs.KindOf(err) == errs.KindUnknown {
			err = errs.E(errs.KindServiceLayer, op, err)
		}
		return false, err
	}

	t.deps.Registry.Confirm(site.ID)
	log.Info().Msg("created published repository")
	return true, nil
}

func (t *Task) rollback(siteID string) {
	t.deps.Registry.Forget(siteID)
	t.deps.Registry.DropRemotes(siteID)
	if err := os.RemoveAll(t.cfg.Layout.PublishedDir(siteID)); err != nil {
		t.log.Error().Err(err).Str("site", siteID).Msg("failed to remove published directory during rollback")
	}
}
