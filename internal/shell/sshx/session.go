// Package sshx implements the secure remote command channel: key-based
// authentication, remote command execution with captured exit status, and
// directory synchronization over the same connection.
package sshx

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/parcade/dockhand/internal/core/deploy"
)

// =============================================================================
// Configuration
// =============================================================================

// Config describes how to reach the remote host.
type Config struct {
	Host    string
	Port    int
	User    string
	KeyPath string

	ConnectTimeout time.Duration // Default: 10 seconds
	CommandTimeout time.Duration // Default: 2 minutes
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Port == 0 {
		out.Port = 22
	}
	if out.ConnectTimeout == 0 {
		out.ConnectTimeout = 10 * time.Second
	}
	if out.CommandTimeout == 0 {
		out.CommandTimeout = 2 * time.Minute
	}
	return out
}

// =============================================================================
// Session
// =============================================================================

// Output is the captured result of a remote command.
type Output struct {
	Stdout     string
	Stderr     string
	ExitStatus int
}

// Combined returns stdout and stderr joined for error reporting.
func (o Output) Combined() string {
	return strings.TrimSpace(o.Stdout + "\n" + o.Stderr)
}

// Session is a live, authenticated command channel to one host. It is owned
// by a single stage at a time and is not safe for concurrent use.
type Session struct {
	cfg    Config
	client *ssh.Client
}

// Dial opens a session and verifies it with a trivial liveness command.
// Failures are classified: unreadable or rejected key, unreachable host,
// or liveness timeout.
func Dial(ctx context.Context, cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	keyBytes, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, &ConnectError{Addr: addr, Message: "read private key: " + err.Error(), Err: ErrKeyUnreadable}
	}
	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, &ConnectError{Addr: addr, Message: "parse private key: " + err.Error(), Err: ErrKeyUnreadable}
	}

	clientCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // TODO: Store and verify host keys
		Timeout:         cfg.ConnectTimeout,
	}

	client, err := ssh.Dial("tcp", addr, clientCfg)
	if err != nil {
		return nil, classifyDialError(addr, err)
	}

	s := &Session{cfg: cfg, client: client}

	// Liveness gate: provisioning must never start against a channel that
	// cannot run commands.
	livenessCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if _, err := s.Run(livenessCtx, deploy.NewCommand("true").String()); err != nil {
		s.Close()
		return nil, &ConnectError{Addr: addr, Message: "liveness command failed", Err: err}
	}

	return s, nil
}

// classifyDialError distinguishes authentication failures from network ones.
func classifyDialError(addr string, err error) error {
	msg := err.Error()
	if strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "no supported methods remain") ||
		strings.Contains(msg, "handshake failed") {
		return &ConnectError{Addr: addr, Message: msg, Err: ErrKeyRejected}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ConnectError{Addr: addr, Message: msg, Err: ErrTimeout}
	}
	return &ConnectError{Addr: addr, Message: msg, Err: ErrHostUnreachable}
}

// Close releases the underlying connection.
func (s *Session) Close() error {
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

// Host returns the remote host address.
func (s *Session) Host() string {
	return s.cfg.Host
}

// =============================================================================
// Command Execution
// =============================================================================

// Run executes a command line on the remote host and captures its output
// and exit status. Exceeding the command timeout is a failure, not a silent
// continuation.
func (s *Session) Run(ctx context.Context, cmd string) (Output, error) {
	return s.run(ctx, cmd, nil)
}

func (s *Session) run(ctx context.Context, cmd string, stdin io.Reader) (Output, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return Output{}, fmt.Errorf("create SSH session: %w", err)
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr
	if stdin != nil {
		sess.Stdin = stdin
	}

	// The goroutine owns the buffers until it sends; the abandoning
	// branches below must not touch them while sess.Run may still write.
	done := make(chan runResult, 1)
	go func() {
		err := sess.Run(cmd)
		done <- runResult{
			out: Output{Stdout: stdout.String(), Stderr: stderr.String()},
			err: err,
		}
	}()

	return awaitRun(ctx, s.cfg.CommandTimeout, cmd, done)
}

type runResult struct {
	out Output
	err error
}

func awaitRun(ctx context.Context, timeout time.Duration, cmd string, done <-chan runResult) (Output, error) {
	select {
	case <-ctx.Done():
		return Output{}, &CommandError{Cmd: cmd, ExitStatus: -1, Err: ctx.Err()}
	case <-time.After(timeout):
		return Output{}, &CommandError{Cmd: cmd, ExitStatus: -1, Err: ErrTimeout}
	case res := <-done:
		out := res.out
		if res.err != nil {
			var exitErr *ssh.ExitError
			if errors.As(res.err, &exitErr) {
				out.ExitStatus = exitErr.ExitStatus()
				return out, &CommandError{Cmd: cmd, ExitStatus: out.ExitStatus, Output: out.Combined(), Err: res.err}
			}
			return out, &CommandError{Cmd: cmd, ExitStatus: -1, Output: out.Combined(), Err: res.err}
		}
		return out, nil
	}
}

// =============================================================================
// Directory Transfer
// =============================================================================

// PushDir synchronizes a local directory to a remote path by streaming a
// gzipped tarball into tar on the far side. Paths matching an exclude name
// (version-control metadata, typically) are skipped. The remote directory
// is recreated, so deleted files do not linger between deployments.
func (s *Session) PushDir(ctx context.Context, localDir, remoteDir string, excludes []string) error {
	var buf bytes.Buffer
	if err := writeTarball(&buf, localDir, excludes); err != nil {
		return fmt.Errorf("archive %s: %w", localDir, err)
	}

	script := deploy.Script(
		deploy.NewCommand("rm", "-rf", remoteDir),
		deploy.NewCommand("mkdir", "-p", remoteDir),
		deploy.NewCommand("tar", "-xzf", "-", "-C", remoteDir),
	)

	if _, err := s.run(ctx, script, &buf); err != nil {
		return err
	}
	return nil
}

// Put writes content to a file on the remote host. The parent directory
// must already exist; paths requiring elevated writes go through /tmp and
// a sudo move on the caller's side.
func (s *Session) Put(ctx context.Context, content []byte, remotePath string) error {
	cmd := deploy.NewCommand("cp", "/dev/stdin", remotePath).String()
	_, err := s.run(ctx, cmd, bytes.NewReader(content))
	return err
}

// writeTarball archives dir into w, skipping excluded top-level names at
// any depth.
func writeTarball(w io.Writer, dir string, excludes []string) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	excluded := make(map[string]struct{}, len(excludes))
	for _, e := range excludes {
		excluded[e] = struct{}{}
	}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if _, skip := excluded[d.Name()]; skip {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		// Symlinks and other irregular files are not part of a build context.
		if !info.Mode().IsRegular() && !d.IsDir() {
			return nil
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if d.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return err
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}
