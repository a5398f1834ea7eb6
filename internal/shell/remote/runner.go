// Package remote implements the pipeline stages that act on the target
// host: provisioning, deployment, proxy configuration, health validation,
// and teardown. Every stage speaks to the host through the Runner
// interface, implemented by sshx.Session.
package remote

import (
	"context"
	"errors"
	"strings"

	"github.com/parcade/dockhand/internal/shell/sshx"
)

// Runner is the remote command channel a stage operates through.
// sshx.Session is the production implementation.
type Runner interface {
	// Run executes a command line and returns its captured output.
	Run(ctx context.Context, cmd string) (sshx.Output, error)

	// PushDir synchronizes a local directory to a remote path.
	PushDir(ctx context.Context, localDir, remoteDir string, excludes []string) error

	// Put writes content to a remote file.
	Put(ctx context.Context, content []byte, remotePath string) error
}

var _ Runner = (*sshx.Session)(nil)

// absenceMarkers are remote error fragments that mean "resource already
// absent", which idempotent operations treat as success.
var absenceMarkers = []string{
	"no such container",
	"no such image",
	"no such file or directory",
	"not found",
	"no configuration file provided",
}

// runTolerateAbsent runs a command and swallows failures caused purely by
// the target resource not existing.
func runTolerateAbsent(ctx context.Context, r Runner, cmd string) error {
	_, err := r.Run(ctx, cmd)
	if err == nil {
		return nil
	}
	var cmdErr *sshx.CommandError
	if errors.As(err, &cmdErr) {
		lower := strings.ToLower(cmdErr.Output)
		for _, marker := range absenceMarkers {
			if strings.Contains(lower, marker) {
				return nil
			}
		}
	}
	return err
}

// exitZero reports whether a probe command succeeded, distinguishing
// "check ran and said no" from channel failures.
func exitZero(ctx context.Context, r Runner, cmd string) (bool, error) {
	_, err := r.Run(ctx, cmd)
	if err == nil {
		return true, nil
	}
	var cmdErr *sshx.CommandError
	if errors.As(err, &cmdErr) && cmdErr.ExitStatus > 0 {
		return false, nil
	}
	return false, err
}
