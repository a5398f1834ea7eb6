package remote

import (
	"context"
	"log/slog"
	"strings"

	"github.com/parcade/dockhand/internal/core/deploy"
)

// =============================================================================
// Environment Provisioner
// =============================================================================

// Provisioner ensures the container runtime, its compose subsystem, and
// the reverse proxy are installed, running, and enabled on boot. Every
// check is idempotent: present packages are not reinstalled, but their
// services are still verified.
type Provisioner struct {
	runner      Runner
	user        string
	stagingRoot string
	logger      *slog.Logger
}

// NewProvisioner creates a provisioner for the given remote user.
func NewProvisioner(runner Runner, user, stagingRoot string, logger *slog.Logger) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{
		runner:      runner,
		user:        user,
		stagingRoot: stagingRoot,
		logger:      logger.With("component", "provisioner"),
	}
}

// Provision runs every environment check in order. Failures are fatal; no
// partial-provisioning recovery is attempted beyond surfacing the error.
func (p *Provisioner) Provision(ctx context.Context) error {
	if err := p.ensurePackage(ctx, "docker", "docker.io"); err != nil {
		return err
	}
	if err := p.ensureCompose(ctx); err != nil {
		return err
	}
	if err := p.ensureService(ctx, "docker"); err != nil {
		return err
	}
	if err := p.ensureDockerGroup(ctx); err != nil {
		return err
	}
	if err := p.ensurePackage(ctx, "nginx", "nginx"); err != nil {
		return err
	}
	if err := p.ensureService(ctx, "nginx"); err != nil {
		return err
	}
	if err := p.ensureStagingRoot(ctx); err != nil {
		return err
	}
	return nil
}

// ensureStagingRoot creates the deployment root and hands it to the remote
// user so later transfers need no elevation.
func (p *Provisioner) ensureStagingRoot(ctx context.Context) error {
	script := deploy.Script(
		deploy.NewCommand("mkdir", "-p", p.stagingRoot).WithSudo(),
		deploy.NewCommand("chown", p.user+":"+p.user, p.stagingRoot).WithSudo(),
	)
	if _, err := p.runner.Run(ctx, script); err != nil {
		return &ProvisionError{newStageError("provision", "prepare staging root", err)}
	}
	return nil
}

// ensurePackage installs pkg only when the binary is missing.
func (p *Provisioner) ensurePackage(ctx context.Context, binary, pkg string) error {
	present, err := exitZero(ctx, p.runner, deploy.NewCommand("command", "-v", binary).String())
	if err != nil {
		return &ProvisionError{newStageError("provision", "check "+binary, err)}
	}
	if present {
		p.logger.Debug("package already installed", "binary", binary)
		return nil
	}

	p.logger.Info("installing package", "package", pkg)
	script := deploy.Script(
		deploy.NewCommand("apt-get", "update", "-q").WithSudo(),
		deploy.NewCommand("env", "DEBIAN_FRONTEND=noninteractive", "apt-get", "install", "-y", "-q", pkg).WithSudo(),
	)
	if _, err := p.runner.Run(ctx, script); err != nil {
		return &ProvisionError{newStageError("provision", "install "+pkg, err)}
	}
	return nil
}

// ensureCompose installs the compose plugin when `docker compose` is absent.
func (p *Provisioner) ensureCompose(ctx context.Context) error {
	present, err := exitZero(ctx, p.runner, deploy.NewCommand("docker", "compose", "version").String())
	if err != nil {
		return &ProvisionError{newStageError("provision", "check docker compose", err)}
	}
	if present {
		return nil
	}

	p.logger.Info("installing compose plugin")
	script := deploy.Script(
		deploy.NewCommand("apt-get", "update", "-q").WithSudo(),
		deploy.NewCommand("env", "DEBIAN_FRONTEND=noninteractive", "apt-get", "install", "-y", "-q", "docker-compose-v2").WithSudo(),
	)
	if _, err := p.runner.Run(ctx, script); err != nil {
		return &ProvisionError{newStageError("provision", "install docker-compose-v2", err)}
	}
	return nil
}

// ensureService makes the unit active now and on boot. Safe to repeat.
func (p *Provisioner) ensureService(ctx context.Context, unit string) error {
	cmd := deploy.NewCommand("systemctl", "enable", "--now", unit).WithSudo()
	if _, err := p.runner.Run(ctx, cmd.String()); err != nil {
		return &ProvisionError{newStageError("provision", "enable "+unit, err)}
	}
	return nil
}

// ensureDockerGroup adds the remote user to the docker group when absent.
// Membership takes effect on the next session, not retroactively.
func (p *Provisioner) ensureDockerGroup(ctx context.Context) error {
	out, err := p.runner.Run(ctx, deploy.NewCommand("id", "-nG", p.user).String())
	if err != nil {
		return &ProvisionError{newStageError("provision", "check docker group", err)}
	}

	for _, group := range strings.Fields(out.Stdout) {
		if group == "docker" {
			return nil
		}
	}

	p.logger.Info("adding user to docker group", "user", p.user)
	cmd := deploy.NewCommand("usermod", "-aG", "docker", p.user).WithSudo()
	if _, err := p.runner.Run(ctx, cmd.String()); err != nil {
		return &ProvisionError{newStageError("provision", "usermod", err)}
	}
	return nil
}
