package deployer

import (
	"context"

	"github.com/user/go-pubsync/internal/sqlite"
)

// Recording records targets in the local database instead of provisioning
// anything. It backs single-node and development setups.
type Recording struct {
	Targets *sqlite.DeployTargetRepo
}

func (r *Recording) Name() string { return "recording" }

func (r *Recording) CreateTargets(ctx context.Context, site, searchEngine string) error {
	return r.Targets.Put(ctx, site, searchEngine)
}

func (r *Recording) DeleteTargets(ctx context.Context, site string) error {
	return r.Targets.Delete(ctx, site)
}
