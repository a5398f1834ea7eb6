package sshx

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrKeyRejected means the host refused the private key.
	ErrKeyRejected = errors.New("ssh key rejected")

	// ErrKeyUnreadable means the local private key cannot be read or parsed.
	ErrKeyUnreadable = errors.New("ssh key unreadable")

	// ErrHostUnreachable means the TCP connection could not be established.
	ErrHostUnreachable = errors.New("host unreachable")

	// ErrTimeout means a remote command exceeded its deadline.
	ErrTimeout = errors.New("command timed out")
)

// ConnectError wraps connectivity failures with the target address.
type ConnectError struct {
	Addr    string
	Message string
	Err     error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %s", e.Addr, e.Message)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// CommandError reports a remote command that ran and exited non-zero.
type CommandError struct {
	Cmd        string
	ExitStatus int
	Output     string
	Err        error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("remote command failed (exit %d): %s", e.ExitStatus, e.Cmd)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
