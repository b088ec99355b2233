package orchestrator

import (
	"context"
	"fmt"

	"github.com/labpod/labpod/internal/model"
)

// canLaunch enforces the per-owner concurrency quota. It must run
// under the owner's lock so the count cannot move between the check
// and the insert. Error rows inside the grace window count against
// the quota; the registry applies the window.
func (o *Orchestrator) canLaunch(ctx context.Context, owner *model.User) error {
	limits := owner.Limits()

	active, err := o.registry.CountActiveEnvironments(ctx, owner.ID, o.cfg.ErrorGraceWindow)
	if err != nil {
		return fmt.Errorf("failed to count active environments: %w", err)
	}

	if active >= limits.MaxUserPods {
		o.metrics.IncQuotaRejected(string(owner.Tier))
		return fmt.Errorf("%w: %d of %d active environments", ErrQuotaExceeded, active, limits.MaxUserPods)
	}

	return nil
}
