package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/parcade/dockhand/internal/core/artifact"
	"github.com/parcade/dockhand/internal/core/deploy"
	"github.com/parcade/dockhand/internal/core/pipeline"
	"github.com/parcade/dockhand/internal/core/proxy"
	"github.com/parcade/dockhand/internal/core/request"
	"github.com/parcade/dockhand/internal/shell/remote"
	"github.com/parcade/dockhand/internal/shell/source"
	"github.com/parcade/dockhand/internal/shell/sshx"
	"github.com/parcade/dockhand/internal/shell/store"
)

// =============================================================================
// Root Command
// =============================================================================

// app holds the shared state the commands operate on.
type app struct {
	cfg     *cobraConfig
	config  *Config
	logger  *slog.Logger
	journal store.Journal
	prompt  *prompter
}

// cobraConfig holds flag values bound before command execution.
type cobraConfig struct {
	configPath string
	teardown   bool
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "dockhand",
		Short: "One-shot deployment of a containerized repository to a remote host",
		Long: `dockhand deploys a source repository to a remote server in one pass:
it fetches the repository, detects a build descriptor, provisions docker
and nginx over SSH, starts the workload, installs a reverse-proxy rule,
and verifies the deployment with an HTTP probe.

With no arguments it prompts for every deployment parameter. With
--teardown it removes the most recent deployment recorded for a host.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.teardown {
				return a.runTeardown(cmd.Context())
			}
			return a.runDeploy(cmd.Context())
		},
	}

	root.PersistentFlags().StringVar(&a.cfg.configPath, "config", "", "Path to config file")
	root.Flags().BoolVar(&a.cfg.teardown, "teardown", false, "Tear down the most recent deployment for a host")

	root.AddCommand(newHostCmd(a))
	root.AddCommand(newHistoryCmd(a))

	return root
}

// =============================================================================
// Deploy Flow
// =============================================================================

func (a *app) runDeploy(ctx context.Context) error {
	raw, err := a.prompt.collectDeployInput()
	if err != nil {
		return err
	}

	// Validation gates every side effect; nothing has touched the network
	// or filesystem yet.
	req, err := request.Validate(raw)
	if err != nil {
		return &exitError{code: ExitInputError, err: err}
	}

	name := deploy.RepoName(req.RepoURL)
	rec := &store.Record{
		ID:           uuid.NewString(),
		RepoURL:      req.RepoURL,
		RepoName:     name,
		Branch:       req.Branch,
		Host:         req.Host,
		SSHUser:      req.SSHUser,
		InternalPort: req.InternalPort,
		ExternalPort: req.ExternalPort,
	}
	if err := a.journal.Create(ctx, rec); err != nil {
		return &exitError{code: ExitJournalError, err: err}
	}

	pc := &pipeline.Context{Request: req}
	runner := pipeline.NewRunner(a.buildSteps(name, rec), a.logger)
	result := runner.Run(ctx, pc)

	if !result.Succeeded() {
		if err := a.journal.MarkFailed(ctx, rec.ID, string(result.Stage), req.Redact(result.Err.Error())); err != nil {
			a.logger.Warn("could not record failure", "error", err)
		}
		fmt.Fprintln(os.Stderr, req.Redact(result.Error()))
		return &exitError{code: ExitStageError, err: result.Err}
	}

	if err := a.journal.MarkSucceeded(ctx, rec.ID); err != nil {
		a.logger.Warn("could not record success", "error", err)
	}
	a.logger.Info("deployment succeeded",
		"repo", name,
		"host", req.Host,
		"duration", result.Duration.Round(time.Millisecond),
	)
	fmt.Printf("Deployed %s to %s\n", name, a.publicURL(req.Host, probePathSuffix(pc)))
	return nil
}

// publicURL is the address the proxy serves the workload on. The listen
// port only appears when it is not the HTTP default.
func (a *app) publicURL(host, path string) string {
	if p := a.config.Proxy.ListenPort; p != 0 && p != proxy.DefaultListenPort {
		return fmt.Sprintf("http://%s:%d%s", host, p, path)
	}
	return "http://" + host + path
}

// buildSteps assembles the stage chain. Each remote stage opens its own
// session and releases it on exit, successful or not.
func (a *app) buildSteps(name string, rec *store.Record) []pipeline.Step {
	fetcher := source.NewProvider(a.config.Source.CacheDir, a.logger)

	return []pipeline.Step{
		pipeline.StepFunc{Name: pipeline.StageFetch, Fn: func(ctx context.Context, pc *pipeline.Context) error {
			dir, err := fetcher.Fetch(ctx, pc.Request)
			if err != nil {
				return err
			}
			pc.WorkDir = dir
			return nil
		}},
		pipeline.StepFunc{Name: pipeline.StageVerify, Fn: a.verifyStep},
		pipeline.StepFunc{Name: pipeline.StageConnect, Fn: func(ctx context.Context, pc *pipeline.Context) error {
			// Pure liveness gate: a session that cannot be opened here
			// stops the pipeline before any provisioning happens.
			return a.withSession(ctx, pc.Request, func(*sshx.Session) error { return nil })
		}},
		pipeline.StepFunc{Name: pipeline.StageProvision, Fn: func(ctx context.Context, pc *pipeline.Context) error {
			return a.withSession(ctx, pc.Request, func(s *sshx.Session) error {
				return remote.NewProvisioner(s, pc.Request.SSHUser, a.config.Remote.StagingRoot, a.logger).Provision(ctx)
			})
		}},
		pipeline.StepFunc{Name: pipeline.StageDeploy, Fn: func(ctx context.Context, pc *pipeline.Context) error {
			rec.UsesCompose = pc.Descriptor.UsesCompose()
			// Persisted before the workload starts so a later teardown
			// picks the right strategy even if this run dies here.
			if err := a.journal.SetStrategy(ctx, rec.ID, rec.UsesCompose); err != nil {
				return err
			}
			return a.withSession(ctx, pc.Request, func(s *sshx.Session) error {
				return remote.NewExecutor(s, a.config.Remote.StagingRoot, a.logger).Execute(ctx, remote.Deployment{
					Name:         name,
					WorkDir:      pc.WorkDir,
					Descriptor:   pc.Descriptor,
					Env:          pc.Manifest.Env,
					InternalPort: pc.Request.InternalPort,
					ExternalPort: pc.Request.ExternalPort,
				})
			})
		}},
		pipeline.StepFunc{Name: pipeline.StageProxy, Fn: func(ctx context.Context, pc *pipeline.Context) error {
			return a.withSession(ctx, pc.Request, func(s *sshx.Session) error {
				return a.configurer(s).Apply(ctx, proxy.Rule{
					Host:         pc.Request.Host,
					ListenPort:   a.config.Proxy.ListenPort,
					UpstreamPort: pc.Request.ExternalPort,
				})
			})
		}},
		pipeline.StepFunc{Name: pipeline.StageHealth, Fn: func(ctx context.Context, pc *pipeline.Context) error {
			return a.withSession(ctx, pc.Request, func(s *sshx.Session) error {
				url := a.publicURL(pc.Request.Host, probePathSuffix(pc))
				return remote.NewValidator(s, a.config.Health.ProbeTimeout, a.logger).
					Validate(ctx, name, pc.Descriptor, url)
			})
		}},
	}
}

func probePathSuffix(pc *pipeline.Context) string {
	if pc.Manifest != nil {
		return pc.Manifest.ProbePath()
	}
	return "/"
}

// =============================================================================
// Teardown Flow
// =============================================================================

func (a *app) runTeardown(ctx context.Context) error {
	in, err := a.prompt.collectTeardownInput()
	if err != nil {
		return err
	}
	keyPath, err := request.ExpandKeyPath(in.KeyPath)
	if err != nil {
		return &exitError{code: ExitInputError, err: err}
	}

	rec, err := a.journal.LatestForHost(ctx, in.Host)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &exitError{code: ExitInputError,
				err: fmt.Errorf("no deployment recorded for host %s", in.Host)}
		}
		return &exitError{code: ExitJournalError, err: err}
	}
	a.logger.Info("tearing down",
		"repo", rec.RepoName,
		"host", rec.Host,
		"strategy", strategyName(rec.UsesCompose),
	)

	req := &request.DeploymentRequest{
		Host:    in.Host,
		SSHUser: in.SSHUser,
		KeyPath: keyPath,
	}
	err = a.withSession(ctx, req, func(s *sshx.Session) error {
		executor := remote.NewExecutor(s, a.config.Remote.StagingRoot, a.logger)
		cleaner := remote.NewCleaner(s, executor, a.configurer(s), a.logger)
		return cleaner.Teardown(ctx, rec.RepoName, rec.Host, rec.UsesCompose)
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "teardown failed: %v\n", err)
		return &exitError{code: ExitStageError, err: err}
	}

	if err := a.journal.MarkTornDown(ctx, rec.ID); err != nil {
		a.logger.Warn("could not record teardown", "error", err)
	}
	fmt.Printf("Tore down %s on %s\n", rec.RepoName, rec.Host)
	return nil
}

func strategyName(usesCompose bool) string {
	if usesCompose {
		return "compose"
	}
	return "container"
}

// =============================================================================
// Stage Helpers
// =============================================================================

// verifyStep detects the build descriptor and loads the optional repo
// manifest. Pure local inspection.
func (a *app) verifyStep(_ context.Context, pc *pipeline.Context) error {
	desc, err := artifact.Detect(pc.WorkDir)
	if err != nil {
		return err
	}
	pc.Descriptor = desc

	manifest, err := artifact.LoadManifest(pc.WorkDir)
	if err != nil {
		return err
	}
	pc.Manifest = manifest

	a.logger.Info("build descriptor found",
		"kind", desc.Kind,
		"path", desc.Path,
	)
	return nil
}

// withSession dials, runs fn, and always releases the session.
func (a *app) withSession(ctx context.Context, req *request.DeploymentRequest, fn func(*sshx.Session) error) error {
	session, err := sshx.Dial(ctx, sshx.Config{
		Host:           req.Host,
		Port:           a.config.Remote.Port,
		User:           req.SSHUser,
		KeyPath:        req.KeyPath,
		ConnectTimeout: a.config.Remote.ConnectTimeout,
		CommandTimeout: a.config.Remote.CommandTimeout,
	})
	if err != nil {
		return err
	}
	defer session.Close()
	return fn(session)
}

func (a *app) configurer(s *sshx.Session) *remote.Configurer {
	return remote.NewConfigurer(s, remote.ProxyPaths{
		AvailableDir: a.config.Proxy.AvailableDir,
		EnabledDir:   a.config.Proxy.EnabledDir,
	}, a.logger)
}
