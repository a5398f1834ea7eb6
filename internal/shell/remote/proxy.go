package remote

import (
	"context"
	"log/slog"

	"github.com/parcade/dockhand/internal/core/deploy"
	"github.com/parcade/dockhand/internal/core/proxy"
)

// =============================================================================
// Proxy Configurer
// =============================================================================

// ProxyPaths locates the nginx configuration tree on the remote host.
type ProxyPaths struct {
	AvailableDir string // Default: /etc/nginx/sites-available
	EnabledDir   string // Default: /etc/nginx/sites-enabled
}

// DefaultProxyPaths returns the stock Debian/Ubuntu nginx layout.
func DefaultProxyPaths() ProxyPaths {
	return ProxyPaths{
		AvailableDir: "/etc/nginx/sites-available",
		EnabledDir:   "/etc/nginx/sites-enabled",
	}
}

// Configurer installs and removes reverse-proxy rules. A candidate config
// is validated with nginx -t before the reload; on validation failure the
// previous configuration is restored and stays in effect; a broken config
// is never reloaded.
type Configurer struct {
	runner Runner
	paths  ProxyPaths
	logger *slog.Logger
}

// NewConfigurer creates a proxy configurer.
func NewConfigurer(runner Runner, paths ProxyPaths, logger *slog.Logger) *Configurer {
	if paths.AvailableDir == "" || paths.EnabledDir == "" {
		paths = DefaultProxyPaths()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Configurer{
		runner: runner,
		paths:  paths,
		logger: logger.With("component", "proxy"),
	}
}

// Apply renders and installs the rule for the host, overwriting any prior
// rule for the same host.
func (c *Configurer) Apply(ctx context.Context, rule proxy.Rule) error {
	rendered, err := rule.Render()
	if err != nil {
		return &ProxyError{newStageError("proxy", "render rule", err)}
	}

	available := proxy.AvailablePath(c.paths.AvailableDir, rule.Host)
	enabled := proxy.EnabledPath(c.paths.EnabledDir, rule.Host)
	staged := "/tmp/" + proxy.ConfigName(rule.Host)
	backup := staged + ".prev"

	// Stage the candidate where no privileges are needed.
	if err := c.runner.Put(ctx, []byte(rendered), staged); err != nil {
		return &ProxyError{newStageError("proxy", "stage config", err)}
	}

	// Keep a copy of the active rule so a failed validation can restore it.
	hadPrevious, err := exitZero(ctx, c.runner, deploy.NewCommand("test", "-f", available).WithSudo().String())
	if err != nil {
		return &ProxyError{newStageError("proxy", "inspect active config", err)}
	}
	if hadPrevious {
		cp := deploy.NewCommand("cp", available, backup).WithSudo()
		if _, err := c.runner.Run(ctx, cp.String()); err != nil {
			return &ProxyError{newStageError("proxy", "back up active config", err)}
		}
	}

	install := deploy.Script(
		deploy.NewCommand("mv", staged, available).WithSudo(),
		deploy.NewCommand("ln", "-sf", available, enabled).WithSudo(),
	)
	if _, err := c.runner.Run(ctx, install); err != nil {
		return &ProxyError{newStageError("proxy", "install config", err)}
	}

	// Syntax gate. On failure, put the previous rule back before reporting.
	if _, err := c.runner.Run(ctx, deploy.NewCommand("nginx", "-t").WithSudo().String()); err != nil {
		c.restorePrevious(ctx, available, enabled, backup, hadPrevious)
		return &ProxyError{newStageError("proxy", "validate config", err)}
	}

	if hadPrevious {
		rmBackup := deploy.NewCommand("rm", "-f", backup).WithSudo()
		if _, err := c.runner.Run(ctx, rmBackup.String()); err != nil {
			c.logger.Warn("could not remove config backup", "path", backup)
		}
	}

	c.logger.Info("reloading proxy", "host", rule.Host)
	reload := deploy.NewCommand("systemctl", "reload", "nginx").WithSudo()
	if _, err := c.runner.Run(ctx, reload.String()); err != nil {
		return &ProxyError{newStageError("proxy", "reload", err)}
	}
	return nil
}

// restorePrevious undoes a failed install so the prior configuration stays
// active. Best effort: the validation error is what gets reported.
func (c *Configurer) restorePrevious(ctx context.Context, available, enabled, backup string, hadPrevious bool) {
	if hadPrevious {
		restore := deploy.Script(
			deploy.NewCommand("mv", backup, available).WithSudo(),
			deploy.NewCommand("ln", "-sf", available, enabled).WithSudo(),
		)
		if _, err := c.runner.Run(ctx, restore); err != nil {
			c.logger.Error("failed to restore previous proxy config", "path", available)
		}
		return
	}
	remove := deploy.NewCommand("rm", "-f", available, enabled).WithSudo()
	if _, err := c.runner.Run(ctx, remove.String()); err != nil {
		c.logger.Error("failed to remove rejected proxy config", "path", available)
	}
}

// Remove deletes the rule for a host and reloads. An absent rule is
// success, not failure.
func (c *Configurer) Remove(ctx context.Context, host string) error {
	available := proxy.AvailablePath(c.paths.AvailableDir, host)
	enabled := proxy.EnabledPath(c.paths.EnabledDir, host)

	remove := deploy.NewCommand("rm", "-f", enabled, available).WithSudo()
	if err := runTolerateAbsent(ctx, c.runner, remove.String()); err != nil {
		return &CleanupError{newStageError("cleanup", "remove proxy config", err)}
	}

	reload := deploy.NewCommand("systemctl", "reload", "nginx").WithSudo()
	if _, err := c.runner.Run(ctx, reload.String()); err != nil {
		return &CleanupError{newStageError("cleanup", "reload proxy", err)}
	}
	return nil
}
