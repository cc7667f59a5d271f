package publishsync

import (
	"errors"

	"github.com/go-git/go-git/v5"

	"github.com/user/go-pubsync/internal/errs"
	"github.com/user/go-pubsync/internal/gitrepo"
	"github.com/user/go-pubsync/internal/interfaces"
)

// RemoteReport counts the remote configuration changes of one
// reconciliation.
type RemoteReport struct {
	Added   int `json:"added"`
	Updated int `json:"updated"`
	Removed int `json:"removed"`
}

// reconcileRemotes makes the repository's remotes match the given peers.
// Peers whose remote was already applied with the same URL are skipped.
// The first invalid URL or git failure aborts the reconciliation.
func (t *Task) reconcileRemotes(repo *git.Repository, siteID string, peers []interfaces.ClusterMember) (RemoteReport, error) {
	const op = "publishsync.reconcileRemotes"
	var report RemoteReport

	for _, peer := range peers {
		name := t.cfg.RemoteNames.Canonical(peer)
		url := peer.RemoteURL(siteID, t.cfg.Layout.Published)
		if recorded, ok := t.deps.Registry.RemoteURL(siteID, name); ok && recorded == url {
			continue
		}

		log := t.log.With().Str("site", siteID).Str("peer", name).Logger()

		if err := gitrepo.ValidateURL(url); err != nil {
			return report, errs.E(errs.KindInvalidRemoteURL, op, err)
		}

		existing, err := gitrepo.RemoteURLs(repo)
		if err != nil {
			return report, errs.E(errs.KindServiceLayer, op, err)
		}

		if legacy := t.cfg.RemoteNames.Legacy(peer); legacy != name {
			if _, ok := existing[legacy]; ok {
				if err := t.removeRemote(repo, legacy); err != nil {
					log.Warn().Err(err).Str("remote", legacy).Msg("failed to remove legacy remote")
				} else {
					report.Removed++
					log.Info().Str("remote", legacy).Msg("removed legacy remote")
				}
			}
		}

		if current, ok := existing[name]; ok {
			if current != url {
				if err := gitrepo.SetRemoteURL(repo, name, url); err != nil {
					return report, remoteError(op, err)
				}
				report.Updated++
				log.Info().Str("url", url).Msg("updated remote url")
			}
		} else {
			if err := gitrepo.AddRemote(repo, name, url); err != nil {
				return report, remoteError(op, err)
			}
			report.Added++
			log.Info().Str("url", url).Msg("added remote")
		}

		t.deps.Registry.RecordRemote(siteID, name, url)
	}
	return report, nil
}

func remoteError(op string, err error) error {
	if errors.Is(err, gitrepo.ErrInvalidURL) {
		return errs.E(errs.KindInvalidRemoteURL, op, err)
	}
	return errs.E(errs.KindServiceLayer, op, err)
}
