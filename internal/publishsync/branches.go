package publishsync

import (
	"context"
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"

	"github.com/user/go-pubsync/internal/errs"
	"github.com/user/go-pubsync/internal/gitrepo"
	"github.com/user/go-pubsync/internal/interfaces"
)

// Outcomes reported for a branch that was not merged.
const (
	OutcomeFailed        = "failed"
	OutcomeNotAdvertised = "not-advertised"
)

// syncBranches fetches every peer in order and merges each publishing
// environment branch from it. A peer whose fetch fails is skipped; a
// failing branch does not stop the others.
func (t *Task) syncBranches(ctx context.Context, repo *git.Repository, site interfaces.Site, peers []interfaces.ClusterMember) (map[string]string, []BranchResult) {
	var (
		peerErrors map[string]string
		results    []BranchResult
	)
	envs := site.Environments()

	for _, peer := range peers {
		remote := t.cfg.RemoteNames.Canonical(peer)
		log := t.log.With().Str("site", site.ID).Str("peer", remote).Logger()

		log.Debug().Str("address", peer.LocalAddress).Msg("fetching from cluster member")
		err := t.deps.Credentials.With(peer, func(auth transport.AuthMethod) error {
			return gitrepo.Fetch(ctx, repo, remote, auth)
		})
		if err != nil {
			log.Error().Err(err).Msg("failed to fetch published repository from peer")
			if peerErrors == nil {
				peerErrors = make(map[string]string)
			}
			peerErrors[remote] = err.Error()
			continue
		}

		for _, branch := range envs {
			res := t.syncBranch(ctx, repo, peer, remote, branch)
			if res.Error != "" {
				log.Error().Str("branch", branch).Str("error", res.Error).Msg("failed to update published branch from peer")
			} else {
				log.Debug().Str("branch", branch).Str("outcome", res.Outcome).Msg("published branch updated")
			}
			results = append(results, res)
		}
	}
	return peerErrors, results
}

func (t *Task) syncBranch(ctx context.Context, repo *git.Repository, peer interfaces.ClusterMember, remote, branch string) BranchResult {
	const op = "publishsync.syncBranch"
	res := BranchResult{Peer: remote, Branch: branch}
	fail := func(err error) BranchResult {
		res.Outcome = OutcomeFailed
		res.Error = err.Error()
		return res
	}

	if _, err := gitrepo.CheckoutBranch(repo, branch, remote); err != nil {
		return fail(errs.E(errs.KindGitAPI, op, err))
	}

	var refs []*plumbing.Reference
	err := t.deps.Credentials.With(peer, func(auth transport.AuthMethod) error {
		if err := gitrepo.Fetch(ctx, repo, remote, auth); err != nil {
			return err
		}
		var err error
		refs, err = gitrepo.AdvertisedRefs(ctx, repo, remote, auth)
		return err
	})
	if err != nil {
		if errs.KindOf(err) == errs.KindUnknown {
			err = errs.E(errs.KindGitAPI, op, err)
		}
		return fail(err)
	}

	ref, ok := gitrepo.FindAdvertisedRef(refs, branch)
	if !ok {
		res.Outcome = OutcomeNotAdvertised
		return res
	}

	outcome, hash, err := gitrepo.MergeTheirs(repo, branch, ref.Hash(), t.cfg.Merge)
	if err != nil {
		return fail(errs.E(errs.KindGitAPI, op, fmt.Errorf("merge %s from %s: %w", branch, remote, err)))
	}
	res.Outcome = outcome.String()
	res.Commit = hash.String()
	return res
}
