package admission

import (
	"context"
	"fmt"

	"github.com/hangarlabs/hangar/pkg/log"
	"github.com/hangarlabs/hangar/pkg/runtime"
	"github.com/hangarlabs/hangar/pkg/types"
)

// ProjectCounter is the slice of the project store admission needs.
type ProjectCounter interface {
	CountProjectsByOwner(ctx context.Context, owner string) (int, error)
}

// ContainerCounter is the slice of the container runtime admission needs.
type ContainerCounter interface {
	ManagedCounts(ctx context.Context) (runtime.Counts, error)
}

// Config carries the global container budgets. Zero disables a budget.
type Config struct {
	// MaxContainers caps running user containers platform-wide.
	MaxContainers int
	// MaxCCHContainers caps running cch-class containers separately, so
	// ephemeral sandboxes cannot starve paying projects.
	MaxCCHContainers int
}

// Controller gates project creation and wake against per-account limits
// and global container budgets.
type Controller struct {
	projects   ProjectCounter
	containers ContainerCounter
	cfg        Config
}

// NewController creates an admission controller.
func NewController(projects ProjectCounter, containers ContainerCounter, cfg Config) *Controller {
	return &Controller{projects: projects, containers: containers, cfg: cfg}
}

// AdmitCreate decides whether the caller may create the named project.
// Per-account limits are tiered: basic accounts stop at the soft limit,
// pro and admin accounts at the hard one. CCH projects never count
// against the owner but are still subject to the global budgets.
func (c *Controller) AdmitCreate(ctx context.Context, claim *types.Claim, projectName string) error {
	if types.IsCCHProject(projectName) {
		return c.AdmitStart(ctx, projectName)
	}

	count, err := c.projects.CountProjectsByOwner(ctx, claim.Sub)
	if err != nil {
		return fmt.Errorf("failed to count projects for %s: %w", claim.Sub, err)
	}
	if count >= claim.ProjectLimit() {
		log.WithAccount(claim.Sub).Info().
			Int("count", count).
			Int("limit", claim.ProjectLimit()).
			Msg("Project creation rejected by account limit")
		return types.NewError(types.KindProjectLimitExceeded)
	}

	return c.AdmitStart(ctx, projectName)
}

// AdmitStart decides whether one more container for the named project
// fits the global budgets. It gates both fresh starts and traffic wakes.
func (c *Controller) AdmitStart(ctx context.Context, projectName string) error {
	if c.cfg.MaxContainers <= 0 && c.cfg.MaxCCHContainers <= 0 {
		return nil
	}

	counts, err := c.containers.ManagedCounts(ctx)
	if err != nil {
		return fmt.Errorf("failed to count running containers: %w", err)
	}

	if types.IsCCHProject(projectName) && c.cfg.MaxCCHContainers > 0 {
		if counts.RunningCCH >= c.cfg.MaxCCHContainers {
			log.WithProject(projectName).Warn().
				Int("running", counts.RunningCCH).
				Int("budget", c.cfg.MaxCCHContainers).
				Msg("CCH container budget exhausted")
			return types.NewError(types.KindCapacityExhausted)
		}
	}

	if c.cfg.MaxContainers > 0 && counts.Running >= c.cfg.MaxContainers {
		log.WithProject(projectName).Warn().
			Int("running", counts.Running).
			Int("budget", c.cfg.MaxContainers).
			Msg("Container budget exhausted")
		return types.NewError(types.KindCapacityExhausted)
	}

	return nil
}
