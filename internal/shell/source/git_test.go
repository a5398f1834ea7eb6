package source

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/parcade/dockhand/internal/core/request"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// WorkDir Tests
// =============================================================================

func TestWorkDir_DerivedFromRepoName(t *testing.T) {
	p := NewProvider("/var/cache/dockhand", nil)
	got := p.WorkDir("https://example.com/acme/app.git")
	assert.Equal(t, filepath.Join("/var/cache/dockhand", "app"), got)
}

func TestWorkDir_Canonical(t *testing.T) {
	p := NewProvider("/cache", nil)
	assert.Equal(t,
		p.WorkDir("https://example.com/acme/app.git"),
		p.WorkDir("https://example.com/acme/app.git"),
	)
}

// =============================================================================
// Fetch Convergence Tests
// =============================================================================

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
}

func newFixtureRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	runGit(t, dir, "init", "-b", "main")
	runGit(t, dir, "config", "user.email", "ci@example.com")
	runGit(t, dir, "config", "user.name", "ci")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Dockerfile"), []byte("FROM alpine\n"), 0o644))
	runGit(t, dir, "add", ".")
	runGit(t, dir, "commit", "-m", "initial")
	return dir
}

func TestFetch_RerunYieldsSameRevision(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
	upstream := newFixtureRepo(t)

	p := NewProvider(t.TempDir(), nil)
	req := &request.DeploymentRequest{RepoURL: "file://" + upstream, Branch: "main"}
	ctx := context.Background()

	dir, err := p.Fetch(ctx, req)
	require.NoError(t, err)
	first, err := p.Revision(ctx, dir)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	// Second run converges in place: same directory, same tip, and the
	// existing working copy is not treated as an error.
	again, err := p.Fetch(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, dir, again)

	second, err := p.Revision(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestFetch_PicksUpNewCommits(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
	upstream := newFixtureRepo(t)

	p := NewProvider(t.TempDir(), nil)
	req := &request.DeploymentRequest{RepoURL: "file://" + upstream, Branch: "main"}
	ctx := context.Background()

	dir, err := p.Fetch(ctx, req)
	require.NoError(t, err)
	first, err := p.Revision(ctx, dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(upstream, "compose.yaml"), []byte("services: {}\n"), 0o644))
	runGit(t, upstream, "add", ".")
	runGit(t, upstream, "commit", "-m", "add compose file")

	_, err = p.Fetch(ctx, req)
	require.NoError(t, err)
	second, err := p.Revision(ctx, dir)
	require.NoError(t, err)
	assert.NotEqual(t, first, second, "working copy must follow the branch tip")
}

// =============================================================================
// Error Classification Tests
// =============================================================================

func TestIsUnknownBranch(t *testing.T) {
	cases := []struct {
		output string
		want   bool
	}{
		{"fatal: Remote branch missing-branch not found in upstream origin", true},
		{"fatal: couldn't find remote ref missing-branch", true},
		{"fatal: Authentication failed for 'https://example.com/app.git'", false},
		{"fatal: unable to access: Could not resolve host", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, isUnknownBranch(tc.output), tc.output)
	}
}

func TestFetchError_RedactedAndUnwraps(t *testing.T) {
	err := &FetchError{
		Repo:   "https://example.com/app.git",
		Op:     "git clone",
		Output: "fatal: repo [REDACTED]@example.com not found",
		Err:    ErrBranchNotFound,
	}
	assert.Contains(t, err.Error(), "git clone failed")
	assert.True(t, errors.Is(err, ErrBranchNotFound))
}

// CloneURL embedding is covered in core/request; here only the redaction
// contract matters: git output must pass through Redact before being stored.
func TestGitOutputRedaction(t *testing.T) {
	req := &request.DeploymentRequest{Credential: "tok123"}
	redacted := req.Redact("fatal: https://tok123@example.com/app.git not found")
	assert.NotContains(t, redacted, "tok123")
}
