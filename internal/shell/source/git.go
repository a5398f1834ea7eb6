// Package source materializes a local working copy of the target
// repository at the requested branch, shelling out to the git CLI with
// explicit argument vectors.
package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/parcade/dockhand/internal/core/deploy"
	"github.com/parcade/dockhand/internal/core/request"
)

// =============================================================================
// Errors
// =============================================================================

// ErrBranchNotFound means the requested branch does not exist upstream.
var ErrBranchNotFound = errors.New("branch not found")

// FetchError reports a failed clone, pull, or checkout. Output is already
// credential-redacted.
type FetchError struct {
	Repo   string
	Op     string
	Output string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %s failed: %s", e.Repo, e.Op, e.Output)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// =============================================================================
// Provider
// =============================================================================

// Provider fetches repositories into a local cache directory.
type Provider struct {
	// CacheDir is the root under which working copies live, one directory
	// per repository name.
	CacheDir string

	logger *slog.Logger
}

// NewProvider creates a source provider rooted at cacheDir.
func NewProvider(cacheDir string, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		CacheDir: cacheDir,
		logger:   logger.With("component", "source"),
	}
}

// WorkDir returns the canonical local path for a repository.
func (p *Provider) WorkDir(repoURL string) string {
	return filepath.Join(p.CacheDir, deploy.RepoName(repoURL))
}

// Fetch converges the local working copy on the tip of the requested
// branch: fresh clone when absent, fetch and reset when present. Running
// twice with the same request yields the same revision and never fails
// merely because the directory already exists.
func (p *Provider) Fetch(ctx context.Context, req *request.DeploymentRequest) (string, error) {
	dir := p.WorkDir(req.RepoURL)

	cloneURL, err := req.CloneURL()
	if err != nil {
		return "", &FetchError{Repo: req.RepoURL, Op: "prepare", Output: err.Error(), Err: err}
	}

	if _, statErr := os.Stat(filepath.Join(dir, ".git")); statErr == nil {
		p.logger.Info("updating existing working copy", "dir", dir, "branch", req.Branch)
		if err := p.update(ctx, req, dir, cloneURL); err != nil {
			return "", err
		}
		return dir, nil
	}

	p.logger.Info("cloning repository", "dir", dir, "branch", req.Branch)
	if err := os.MkdirAll(p.CacheDir, 0o755); err != nil {
		return "", &FetchError{Repo: req.RepoURL, Op: "clone", Output: err.Error(), Err: err}
	}
	if err := p.git(ctx, req, "", "clone", "--branch", req.Branch, "--single-branch", cloneURL, dir); err != nil {
		return "", err
	}
	return dir, nil
}

// update refreshes an existing working copy and switches to the branch.
func (p *Provider) update(ctx context.Context, req *request.DeploymentRequest, dir, cloneURL string) error {
	// The embedded credential may have rotated since the last run.
	if err := p.git(ctx, req, dir, "remote", "set-url", "origin", cloneURL); err != nil {
		return err
	}
	if err := p.git(ctx, req, dir, "fetch", "origin", req.Branch); err != nil {
		return err
	}
	if err := p.git(ctx, req, dir, "checkout", req.Branch); err != nil {
		return err
	}
	// Hard reset instead of merge: the cache mirrors upstream, local edits
	// have no business surviving.
	return p.git(ctx, req, dir, "reset", "--hard", "origin/"+req.Branch)
}

// Revision returns the working copy's current commit hash.
func (p *Provider) Revision(ctx context.Context, dir string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", dir, "rev-parse", "HEAD")
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("rev-parse %s: %w", dir, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// git runs one git command with explicit args, translating failures into
// redacted FetchErrors.
func (p *Provider) git(ctx context.Context, req *request.DeploymentRequest, dir string, args ...string) error {
	full := args
	if dir != "" {
		full = append([]string{"-C", dir}, args...)
	}

	cmd := exec.CommandContext(ctx, "git", full...)
	// Never fall back to an interactive credential prompt.
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined

	if err := cmd.Run(); err != nil {
		output := req.Redact(strings.TrimSpace(combined.String()))
		cause := err
		if isUnknownBranch(output) {
			cause = ErrBranchNotFound
		}
		return &FetchError{
			Repo:   req.RepoURL,
			Op:     "git " + args[0],
			Output: output,
			Err:    cause,
		}
	}
	return nil
}

func isUnknownBranch(output string) bool {
	lower := strings.ToLower(output)
	return strings.Contains(lower, "remote branch") && strings.Contains(lower, "not found") ||
		strings.Contains(lower, "couldn't find remote ref")
}
