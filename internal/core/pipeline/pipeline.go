// Package pipeline defines the linear deployment pipeline: named stages,
// the context value threaded through them, and a runner that executes
// stages in strict order, stopping at the first failure.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/parcade/dockhand/internal/core/artifact"
	"github.com/parcade/dockhand/internal/core/request"
)

// =============================================================================
// Stages
// =============================================================================

// Stage names one step of the deployment pipeline.
type Stage string

const (
	StageValidate  Stage = "validate"
	StageFetch     Stage = "fetch"
	StageVerify    Stage = "verify"
	StageConnect   Stage = "connect"
	StageProvision Stage = "provision"
	StageDeploy    Stage = "deploy"
	StageProxy     Stage = "proxy"
	StageHealth    Stage = "health"

	// StageCleanup is a separate terminal transition, never part of the
	// deploy chain.
	StageCleanup Stage = "cleanup"
)

// Order is the deploy chain after input validation. Each stage is a one-way
// gate; no stage is re-entered automatically.
var Order = []Stage{
	StageFetch,
	StageVerify,
	StageConnect,
	StageProvision,
	StageDeploy,
	StageProxy,
	StageHealth,
}

// =============================================================================
// Context
// =============================================================================

// Context carries the state produced by completed stages. It replaces
// ambient process state (working directory changes, environment variables)
// with an explicit value handed to each stage.
type Context struct {
	// Request is the validated deployment request. Set before the run.
	Request *request.DeploymentRequest

	// WorkDir is the local working copy. Set by the fetch stage.
	WorkDir string

	// Descriptor is the discovered build artifact. Set by the verify stage.
	Descriptor *artifact.BuildDescriptor

	// Manifest holds optional repo-level overrides. Set by the verify stage.
	Manifest *artifact.Manifest
}

// =============================================================================
// Steps
// =============================================================================

// Step is one executable stage of the pipeline. Implementations live in
// internal/shell; this package only sequences them.
type Step interface {
	// Stage returns the stage this step implements.
	Stage() Stage

	// Run executes the stage, reading and extending the shared context.
	Run(ctx context.Context, pc *Context) error
}

// StepFunc adapts a function to the Step interface.
type StepFunc struct {
	Name Stage
	Fn   func(ctx context.Context, pc *Context) error
}

func (s StepFunc) Stage() Stage { return s.Name }

func (s StepFunc) Run(ctx context.Context, pc *Context) error { return s.Fn(ctx, pc) }

// =============================================================================
// Result
// =============================================================================

// Result is the terminal state of a pipeline run: either Succeeded, or
// FailedAt(stage, reason).
type Result struct {
	// Stage is the stage that failed; empty on success.
	Stage Stage

	// Err is the stage failure; nil on success.
	Err error

	// Completed lists stages that finished before the failure (or all
	// stages on success).
	Completed []Stage

	// Duration is the wall-clock time of the run.
	Duration time.Duration
}

// Succeeded reports whether every stage completed.
func (r Result) Succeeded() bool {
	return r.Err == nil
}

// Error renders the single-line failure summary required at the CLI surface.
func (r Result) Error() string {
	if r.Err == nil {
		return ""
	}
	return fmt.Sprintf("deployment failed at stage %q: %v", r.Stage, r.Err)
}

// =============================================================================
// Runner
// =============================================================================

// Runner executes steps sequentially. There is no retry and no automatic
// rollback: the first stage error ends the run, and the remote host keeps
// whatever state the last completed stage produced.
type Runner struct {
	steps  []Step
	logger *slog.Logger
}

// NewRunner creates a runner over the given steps.
func NewRunner(steps []Step, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		steps:  steps,
		logger: logger.With("component", "pipeline"),
	}
}

// Run executes every step in order against the shared context.
func (r *Runner) Run(ctx context.Context, pc *Context) Result {
	start := time.Now()
	completed := make([]Stage, 0, len(r.steps))

	for _, step := range r.steps {
		stage := step.Stage()
		stageStart := time.Now()
		r.logger.Info("stage started", "stage", string(stage))

		if err := ctx.Err(); err != nil {
			return Result{Stage: stage, Err: err, Completed: completed, Duration: time.Since(start)}
		}

		if err := step.Run(ctx, pc); err != nil {
			r.logger.Error("stage failed",
				"stage", string(stage),
				"error", redacted(pc, err),
				"elapsed", time.Since(stageStart),
			)
			return Result{Stage: stage, Err: err, Completed: completed, Duration: time.Since(start)}
		}

		r.logger.Info("stage completed", "stage", string(stage), "elapsed", time.Since(stageStart))
		completed = append(completed, stage)
	}

	return Result{Completed: completed, Duration: time.Since(start)}
}

// redacted strips the credential from error text before it reaches a log.
func redacted(pc *Context, err error) string {
	if pc == nil || pc.Request == nil {
		return err.Error()
	}
	return pc.Request.Redact(err.Error())
}
