// Package publishsync keeps a node's per-site published repositories
// converged with the published repositories of every other cluster node.
//
// One Execute call runs a full cycle for one site: bootstrap the local
// repository if needed, reconcile git remotes against cluster membership,
// then fetch and merge every publishing environment branch from every peer.
// Failures are contained to the site (and, during branch sync, to a single
// peer/branch pair) and retried only by the next scheduled cycle.
package publishsync

import (
	"context"
	"errors"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/rs/zerolog"

	"github.com/user/go-pubsync/internal/cluster"
	"github.com/user/go-pubsync/internal/content"
	"github.com/user/go-pubsync/internal/errs"
	"github.com/user/go-pubsync/internal/gitrepo"
	"github.com/user/go-pubsync/internal/interfaces"
	"github.com/user/go-pubsync/internal/registry"
)

// TaskName identifies the task in logs and the scheduler.
const TaskName = "published-sync"

// ErrSiteBusy is returned when another cycle holds the site's lock.
var ErrSiteBusy = errors.New("site sync already running")

// Credentials runs fn with a freshly provisioned auth method for member.
type Credentials interface {
	With(member interfaces.ClusterMember, fn func(auth transport.AuthMethod) error) error
}

// CloneFunc clones branch of the repository at src into dst.
type CloneFunc func(ctx context.Context, src, dst, branch string) error

// Config holds the task settings.
type Config struct {
	Layout       content.Layout
	RemoteNames  cluster.RemoteNames
	Merge        gitrepo.MergeOptions
	EveryNCycles int
	Offset       int
}

// Deps are the collaborators of the task.
type Deps struct {
	Registry    *registry.Registry
	Topology    interfaces.TopologyProvider
	Sites       interfaces.SiteService
	Content     interfaces.ContentRepository
	Credentials Credentials
}

// Task is the cluster published repository sync task.
type Task struct {
	cfg          Config
	deps         Deps
	clone        CloneFunc
	removeRemote func(r *git.Repository, name string) error
	log          zerolog.Logger
}

// NewTask returns a sync task.
func NewTask(cfg Config, deps Deps, logger zerolog.Logger) *Task {
	return &Task{
		cfg:          cfg,
		deps:         deps,
		clone:        cloneRepository,
		removeRemote: gitrepo.RemoveRemote,
		log:          logger.With().Str("task", TaskName).Logger(),
	}
}

func cloneRepository(ctx context.Context, src, dst, branch string) error {
	_, err := gitrepo.Clone(ctx, src, dst, branch)
	return err
}

func (t *Task) Name() string      { return TaskName }
func (t *Task) EveryNCycles() int { return t.cfg.EveryNCycles }
func (t *Task) Offset() int       { return t.cfg.Offset }

// Report summarizes one cycle for a site.
type Report struct {
	Site         string            `json:"site"`
	Skipped      string            `json:"skipped,omitempty"`
	Bootstrapped bool              `json:"bootstrapped"`
	Remotes      RemoteReport      `json:"remotes"`
	RemoteError  string            `json:"remoteError,omitempty"`
	PeerErrors   map[string]string `json:"peerErrors,omitempty"`
	Branches     []BranchResult    `json:"branches,omitempty"`
}

// BranchResult is the outcome of syncing one branch from one peer.
type BranchResult struct {
	Peer    string `json:"peer"`
	Branch  string `json:"branch"`
	Outcome string `json:"outcome"`
	Commit  string `json:"commit,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Execute runs one cycle for siteID. A cycle skipped because the site is
// already being synced is not an error.
func (t *Task) Execute(ctx context.Context, siteID string) error {
	_, err := t.Sync(ctx, siteID)
	if errors.Is(err, ErrSiteBusy) {
		return nil
	}
	return err
}

// Sync runs one cycle for siteID and reports what it did.
func (t *Task) Sync(ctx context.Context, siteID string) (Report, error) {
	report := Report{Site: siteID}
	log := t.log.With().Str("site", siteID).Logger()

	if !t.deps.Registry.TryLock(siteID) {
		log.Debug().Msg("another worker holds the site lock, abandoning this cycle")
		return report, ErrSiteBusy
	}
	defer t.deps.Registry.Unlock(siteID)

	start := time.Now()
	log.Debug().Msg("sync started")
	defer func() {
		log.Debug().Dur("took", time.Since(start)).Msg("sync finished")
	}()

	if _, ok := t.deps.Topology.ClusterConfiguration(); !ok {
		report.Skipped = "cluster not configured"
		return report, nil
	}

	peers, err := t.deps.Topology.ClusterNodes(t.deps.Topology.LocalAddress())
	if err != nil {
		log.Error().Err(err).Msg("failed to resolve cluster nodes")
		return report, errs.E(errs.KindServiceLayer, "publishsync.Sync", err)
	}

	site, err := t.deps.Sites.GetSite(ctx, siteID)
	if err != nil {
		log.Error().Err(err).Msg("failed to load site")
		return report, err
	}

	if !site.PublishedRepoCreated {
		report.Skipped = "published repository not created"
		return report, nil
	}

	created, err := t.ensureRepository(ctx, site)
	if err != nil {
		return report, err
	}
	report.Bootstrapped = created

	repo, err := gitrepo.Open(t.cfg.Layout.PublishedDir(siteID))
	if err != nil {
		log.Error().Err(err).Msg("failed to open published repository")
		return report, errs.E(errs.KindServiceLayer, "publishsync.Sync", err)
	}

	report.Remotes, err = t.reconcileRemotes(repo, siteID, peers)
	if err != nil {
		log.Error().Err(err).Str("kind", string(errs.KindOf(err))).Msg("failed to reconcile remotes")
		report.RemoteError = err.Error()
	}

	report.PeerErrors, report.Branches = t.syncBranches(ctx, repo, site, peers)
	return report, nil
}
