// Package deployer provisions deployment targets for sites. A Composite
// fans a request out to an ordered list of backends.
package deployer

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/user/go-pubsync/internal/interfaces"
)

// Named is implemented by deployers that report a name for logging.
type Named interface {
	Name() string
}

// Composite delegates to its deployers in order.
type Composite struct {
	deployers []interfaces.Deployer
	log       zerolog.Logger
}

// NewComposite returns a composite over deployers, in the given order.
func NewComposite(deployers []interfaces.Deployer, logger zerolog.Logger) *Composite {
	return &Composite{
		deployers: deployers,
		log:       logger.With().Str("component", "composite-deployer").Logger(),
	}
}

// CreateTargets creates the site's targets on every delegate in order. If
// one fails, targets already created by earlier delegates are deleted and
// the original error is returned.
func (c *Composite) CreateTargets(ctx context.Context, site, searchEngine string) error {
	created := 0
	for i, d := range c.deployers {
		if err := d.CreateTargets(ctx, site, searchEngine); err != nil {
			c.log.Error().Err(err).
				Str("site", site).
				Str("deployer", nameOf(i, d)).
				Int("rollback", created).
				Msg("target creation failed, rolling back")
			c.rollback(ctx, site, created)
			return err
		}
		created++
	}
	return nil
}

func (c *Composite) rollback(ctx context.Context, site string, n int) {
	for i := 0; i < n; i++ {
		d := c.deployers[i]
		if err := d.DeleteTargets(ctx, site); err != nil {
			c.log.Error().Err(err).
				Str("site", site).
				Str("deployer", nameOf(i, d)).
				Msg("rollback of created target failed")
		}
	}
}

// DeleteTargets deletes the site's targets on every delegate in order and
// stops at the first failure.
func (c *Composite) DeleteTargets(ctx context.Context, site string) error {
	for i, d := range c.deployers {
		if err := d.DeleteTargets(ctx, site); err != nil {
			c.log.Error().Err(err).Str("site", site).Str("deployer", nameOf(i, d)).Msg("target deletion failed")
			return err
		}
	}
	return nil
}

func nameOf(i int, d interfaces.Deployer) string {
	if n, ok := d.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%d:%T", i, d)
}
