package remote

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/parcade/dockhand/internal/core/artifact"
	"github.com/parcade/dockhand/internal/core/deploy"
)

// =============================================================================
// Deployment Executor
// =============================================================================

// Executor synchronizes the working copy to the remote staging path and
// (re)starts the workload. Re-running with unchanged source converges on
// exactly one running instance; prior containers are removed, never
// accumulated.
type Executor struct {
	runner      Runner
	stagingRoot string
	logger      *slog.Logger
}

// NewExecutor creates a deployment executor rooted at stagingRoot.
func NewExecutor(runner Runner, stagingRoot string, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		runner:      runner,
		stagingRoot: stagingRoot,
		logger:      logger.With("component", "executor"),
	}
}

// Deployment describes one workload to bring up.
type Deployment struct {
	// Name is the deterministic workload name derived from the repository.
	Name string

	// WorkDir is the local working copy to transfer.
	WorkDir string

	// Descriptor selects the strategy (compose vs direct build).
	Descriptor *artifact.BuildDescriptor

	// Env is extra container environment from the repo manifest.
	Env map[string]string

	// InternalPort and ExternalPort form the publish mapping for direct
	// container runs. Compose projects declare their own ports.
	InternalPort int
	ExternalPort int
}

// StagingPath returns the remote directory this deployment occupies.
func (e *Executor) StagingPath(name string) string {
	return deploy.StagingPath(e.stagingRoot, name)
}

// Execute transfers the artifact and starts the workload.
func (e *Executor) Execute(ctx context.Context, d Deployment) error {
	staging := e.StagingPath(d.Name)

	e.logger.Info("transferring working copy", "staging", staging)
	if err := e.runner.PushDir(ctx, d.WorkDir, staging, []string{".git"}); err != nil {
		return &TransferError{newStageError("deploy", "sync "+staging, err)}
	}

	if d.Descriptor.UsesCompose() {
		return e.executeCompose(ctx, d, staging)
	}
	return e.executeContainer(ctx, d, staging)
}

// executeCompose tears down any prior project at the path, then builds and
// starts detached. "Nothing to stop" counts as success.
func (e *Executor) executeCompose(ctx context.Context, d Deployment, staging string) error {
	project := deploy.ProjectName(d.Name)

	down := deploy.Script(
		deploy.NewCommand("cd", staging),
		deploy.NewCommand("docker", "compose", "--project-name", project, "down", "--remove-orphans"),
	)
	if err := runTolerateAbsent(ctx, e.runner, down); err != nil {
		return &DeployError{newStageError("deploy", "compose down", err)}
	}

	e.logger.Info("starting compose project", "project", project)
	up := deploy.Script(
		deploy.NewCommand("cd", staging),
		deploy.NewCommand("docker", "compose", "--project-name", project, "up", "--build", "--detach"),
	)
	if _, err := e.runner.Run(ctx, up); err != nil {
		return &DeployError{newStageError("deploy", "compose up", err)}
	}
	return nil
}

// executeContainer removes the previous container, builds the image from
// the discovered Dockerfile, and runs detached with a reboot-surviving
// restart policy.
func (e *Executor) executeContainer(ctx context.Context, d Deployment, staging string) error {
	name := deploy.ContainerName(d.Name)
	image := deploy.ImageName(d.Name)

	rm := deploy.NewCommand("docker", "rm", "-f", name)
	if err := runTolerateAbsent(ctx, e.runner, rm.String()); err != nil {
		return &DeployError{newStageError("deploy", "remove previous container", err)}
	}

	e.logger.Info("building image", "image", image, "dockerfile", d.Descriptor.Path)
	build := deploy.Script(
		deploy.NewCommand("cd", staging),
		deploy.NewCommand("docker", "build", "-t", image, "-f", d.Descriptor.Path, "."),
	)
	if _, err := e.runner.Run(ctx, build); err != nil {
		return &DeployError{newStageError("deploy", "build image", err)}
	}

	runArgs := []string{
		"run", "--detach",
		"--name", name,
		"--restart", "unless-stopped",
		"--publish", deploy.PortMapping(d.ExternalPort, d.InternalPort),
	}
	for _, k := range sortedKeys(d.Env) {
		runArgs = append(runArgs, "--env", fmt.Sprintf("%s=%s", k, d.Env[k]))
	}
	runArgs = append(runArgs, image)

	e.logger.Info("starting container", "container", name)
	if _, err := e.runner.Run(ctx, deploy.NewCommand("docker", runArgs...).String()); err != nil {
		return &DeployError{newStageError("deploy", "run container", err)}
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
