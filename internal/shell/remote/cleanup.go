package remote

import (
	"context"
	"log/slog"

	"github.com/parcade/dockhand/internal/core/deploy"
)

// =============================================================================
// Cleanup Coordinator
// =============================================================================

// Cleaner tears down everything a deployment created: the workload, the
// proxy rule, and the staging directory. Every removal tolerates "already
// absent"; only unrelated failures (permissions, reload) surface as
// CleanupError.
type Cleaner struct {
	runner     Runner
	executor   *Executor
	configurer *Configurer
	logger     *slog.Logger
}

// NewCleaner creates a cleanup coordinator sharing the executor's staging
// layout and the configurer's proxy paths.
func NewCleaner(runner Runner, executor *Executor, configurer *Configurer, logger *slog.Logger) *Cleaner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cleaner{
		runner:     runner,
		executor:   executor,
		configurer: configurer,
		logger:     logger.With("component", "cleaner"),
	}
}

// Teardown removes the workload named by a prior deployment. usesCompose
// selects the strategy recorded for that deployment.
func (c *Cleaner) Teardown(ctx context.Context, name, host string, usesCompose bool) error {
	staging := c.executor.StagingPath(name)

	if usesCompose {
		down := deploy.Script(
			deploy.NewCommand("cd", staging),
			deploy.NewCommand("docker", "compose", "--project-name", deploy.ProjectName(name), "down", "--remove-orphans", "--rmi", "local"),
		)
		if err := runTolerateAbsent(ctx, c.runner, down); err != nil {
			return &CleanupError{newStageError("cleanup", "compose down", err)}
		}
	} else {
		rm := deploy.NewCommand("docker", "rm", "-f", deploy.ContainerName(name))
		if err := runTolerateAbsent(ctx, c.runner, rm.String()); err != nil {
			return &CleanupError{newStageError("cleanup", "remove container", err)}
		}
		rmi := deploy.NewCommand("docker", "rmi", deploy.ImageName(name))
		if err := runTolerateAbsent(ctx, c.runner, rmi.String()); err != nil {
			return &CleanupError{newStageError("cleanup", "remove image", err)}
		}
	}

	c.logger.Info("removing proxy rule", "host", host)
	if err := c.configurer.Remove(ctx, host); err != nil {
		return err
	}

	c.logger.Info("removing staging directory", "staging", staging)
	rmStaging := deploy.NewCommand("rm", "-rf", staging)
	if err := runTolerateAbsent(ctx, c.runner, rmStaging.String()); err != nil {
		return &CleanupError{newStageError("cleanup", "remove staging dir", err)}
	}

	return nil
}
