package remote

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/parcade/dockhand/internal/core/artifact"
	"github.com/parcade/dockhand/internal/core/deploy"
)

// =============================================================================
// Deployment Validator
// =============================================================================

// Validator confirms the workload process is running and the public
// endpoint answers. Failure here does not roll anything back; it is
// reported as overall deployment failure.
type Validator struct {
	runner Runner
	client *http.Client
	logger *slog.Logger
}

// NewValidator creates a deployment validator. probeTimeout bounds the
// whole HTTP probe including connection setup.
func NewValidator(runner Runner, probeTimeout time.Duration, logger *slog.Logger) *Validator {
	if probeTimeout == 0 {
		probeTimeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		runner: runner,
		client: &http.Client{Timeout: probeTimeout},
		logger: logger.With("component", "validator"),
	}
}

// Validate checks process liveness, then probes the public address and
// expects a successful (2xx/3xx) status.
func (v *Validator) Validate(ctx context.Context, name string, desc *artifact.BuildDescriptor, probeURL string) error {
	if err := v.checkProcess(ctx, name, desc); err != nil {
		return err
	}
	return v.probe(ctx, probeURL)
}

// checkProcess verifies exactly the resource the executor created.
func (v *Validator) checkProcess(ctx context.Context, name string, desc *artifact.BuildDescriptor) error {
	var cmd string
	if desc.UsesCompose() {
		cmd = deploy.NewCommand("docker", "compose",
			"--project-name", deploy.ProjectName(name),
			"ps", "--status", "running", "--quiet",
		).String()
	} else {
		cmd = deploy.NewCommand("docker", "ps", "--quiet",
			"--filter", "name=^"+deploy.ContainerName(name)+"$",
			"--filter", "status=running",
		).String()
	}

	out, err := v.runner.Run(ctx, cmd)
	if err != nil {
		return &HealthError{newStageError("health", "list processes", err)}
	}
	if strings.TrimSpace(out.Stdout) == "" {
		return &HealthError{stageError{
			Stage:  "health",
			Op:     "process check",
			Output: fmt.Sprintf("workload %q is not running", name),
		}}
	}
	return nil
}

// probe issues an HTTP GET and accepts any non-error status line.
func (v *Validator) probe(ctx context.Context, url string) error {
	v.logger.Info("probing endpoint", "url", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &HealthError{stageError{Stage: "health", Op: "build probe request", Err: err}}
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return &HealthError{stageError{Stage: "health", Op: "probe " + url, Err: err}}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &HealthError{stageError{
			Stage:  "health",
			Op:     "probe " + url,
			Output: resp.Status,
		}}
	}

	v.logger.Info("endpoint healthy", "url", url, "status", resp.StatusCode)
	return nil
}
