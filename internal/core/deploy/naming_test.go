package deploy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// RepoName Tests
// =============================================================================

func TestRepoName_GitSuffix(t *testing.T) {
	got := RepoName("https://example.com/acme/app.git")
	assert.Equal(t, "app", got)
}

func TestRepoName_NoSuffix(t *testing.T) {
	got := RepoName("https://example.com/acme/webshop")
	assert.Equal(t, "webshop", got)
}

func TestRepoName_TrailingSlash(t *testing.T) {
	got := RepoName("https://example.com/acme/app.git/")
	assert.Equal(t, "app", got)
}

func TestRepoName_UppercaseAndSpaces(t *testing.T) {
	got := RepoName("https://example.com/acme/My App.git")
	assert.Equal(t, "my-app", got)
}

func TestRepoName_Empty(t *testing.T) {
	got := RepoName("")
	assert.Equal(t, "workload", got)
}

func TestRepoName_Deterministic(t *testing.T) {
	a := RepoName("https://example.com/acme/app.git")
	b := RepoName("https://example.com/acme/app.git")
	assert.Equal(t, a, b)
}

// =============================================================================
// Derived Name Tests
// =============================================================================

func TestDerivedNames(t *testing.T) {
	assert.Equal(t, "app", ContainerName("app"))
	assert.Equal(t, "app:latest", ImageName("app"))
	assert.Equal(t, "app", ProjectName("app"))
	assert.Equal(t, "/srv/dockhand/app", StagingPath("/srv/dockhand", "app"))
	assert.Equal(t, "8080:3000", PortMapping(8080, 3000))
}

// =============================================================================
// Command Tests
// =============================================================================

func TestCommand_PlainArgs(t *testing.T) {
	cmd := NewCommand("docker", "rm", "-f", "app")
	assert.Equal(t, "docker rm -f app", cmd.String())
}

func TestCommand_QuotesUnsafeArgs(t *testing.T) {
	cmd := NewCommand("rm", "-rf", "/srv/dockhand/evil; rm -rf /")
	assert.Equal(t, `rm -rf '/srv/dockhand/evil; rm -rf /'`, cmd.String())
}

func TestCommand_EscapesSingleQuotes(t *testing.T) {
	cmd := NewCommand("echo", "it's")
	assert.Equal(t, `echo 'it'\''s'`, cmd.String())
}

func TestCommand_WithSudo(t *testing.T) {
	cmd := NewCommand("systemctl", "reload", "nginx").WithSudo()
	assert.Equal(t, "sudo -n systemctl reload nginx", cmd.String())
}

func TestScript_JoinsWithAnd(t *testing.T) {
	s := Script(
		NewCommand("mkdir", "-p", "/srv/dockhand/app"),
		NewCommand("docker", "ps"),
	)
	assert.Equal(t, "mkdir -p /srv/dockhand/app && docker ps", s)
}

func TestQuote_EmptyString(t *testing.T) {
	assert.Equal(t, "''", Quote(""))
}
