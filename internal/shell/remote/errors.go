package remote

import (
	"errors"
	"fmt"

	"github.com/parcade/dockhand/internal/shell/sshx"
)

// =============================================================================
// Error Types
// =============================================================================

// stageError carries the remote command's exit status and captured output
// for every remote stage failure.
type stageError struct {
	Stage  string
	Op     string
	Exit   int
	Output string
	Err    error
}

func (e *stageError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("%s: %s (exit %d): %s", e.Stage, e.Op, e.Exit, e.Output)
	}
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Op, e.Err)
}

func (e *stageError) Unwrap() error {
	return e.Err
}

// ProvisionError is a fatal environment provisioning failure.
type ProvisionError struct{ stageError }

// TransferError is a failed artifact synchronization, distinct from build
// and run failures because it is their precondition.
type TransferError struct{ stageError }

// DeployError is a failed build or workload start.
type DeployError struct{ stageError }

// ProxyError is a failed proxy configuration install, validation, or reload.
type ProxyError struct{ stageError }

// HealthError is a failed post-deployment verification.
type HealthError struct{ stageError }

// CleanupError is a teardown failure unrelated to resource absence.
type CleanupError struct{ stageError }

// newStageError extracts exit status and output when the cause is a remote
// command failure.
func newStageError(stage, op string, err error) stageError {
	se := stageError{Stage: stage, Op: op, Err: err}
	var cmdErr *sshx.CommandError
	if errors.As(err, &cmdErr) {
		se.Exit = cmdErr.ExitStatus
		se.Output = cmdErr.Output
	}
	return se
}
