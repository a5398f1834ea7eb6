package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/parcade/dockhand/internal/core/artifact"
	"github.com/parcade/dockhand/internal/core/proxy"
	"github.com/parcade/dockhand/internal/shell/sshx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Fake Runner
// =============================================================================

// response scripts the fake host's reaction to a command matching substr.
type response struct {
	substr string
	out    sshx.Output
	err    error
}

// fakeRunner records every command and answers from a script. Unmatched
// commands succeed with empty output.
type fakeRunner struct {
	script []response
	cmds   []string
	pushed []string
	put    map[string]string
}

func newFakeRunner(script ...response) *fakeRunner {
	return &fakeRunner{script: script, put: map[string]string{}}
}

func (f *fakeRunner) Run(_ context.Context, cmd string) (sshx.Output, error) {
	f.cmds = append(f.cmds, cmd)
	for _, r := range f.script {
		if strings.Contains(cmd, r.substr) {
			return r.out, r.err
		}
	}
	return sshx.Output{}, nil
}

func (f *fakeRunner) PushDir(_ context.Context, _, remoteDir string, _ []string) error {
	f.pushed = append(f.pushed, remoteDir)
	return nil
}

func (f *fakeRunner) Put(_ context.Context, content []byte, remotePath string) error {
	f.put[remotePath] = string(content)
	return nil
}

func (f *fakeRunner) ran(substr string) bool {
	for _, c := range f.cmds {
		if strings.Contains(c, substr) {
			return true
		}
	}
	return false
}

func cmdFailure(cmd string, exit int, output string) error {
	return &sshx.CommandError{Cmd: cmd, ExitStatus: exit, Output: output, Err: errors.New("exited")}
}

// =============================================================================
// Provisioner Tests
// =============================================================================

func TestProvision_SkipsInstallWhenPresent(t *testing.T) {
	r := newFakeRunner() // every check exits zero
	p := NewProvisioner(r, "deploy", "/srv/dockhand", nil)

	require.NoError(t, p.Provision(context.Background()))
	assert.False(t, r.ran("apt-get install"), "present packages must not be reinstalled")
	assert.True(t, r.ran("systemctl enable --now docker"), "service still verified")
	assert.True(t, r.ran("systemctl enable --now nginx"))
	assert.True(t, r.ran("chown deploy:deploy /srv/dockhand"), "staging root handed to the remote user")
}

func TestProvision_InstallsMissingDocker(t *testing.T) {
	r := newFakeRunner(
		response{substr: "command -v docker", err: cmdFailure("command -v docker", 1, "")},
	)
	p := NewProvisioner(r, "deploy", "/srv/dockhand", nil)

	require.NoError(t, p.Provision(context.Background()))
	assert.True(t, r.ran("apt-get install -y -q docker.io"))
}

func TestProvision_AddsUserToDockerGroup(t *testing.T) {
	r := newFakeRunner(
		response{substr: "id -nG", out: sshx.Output{Stdout: "deploy sudo adm\n"}},
	)
	p := NewProvisioner(r, "deploy", "/srv/dockhand", nil)

	require.NoError(t, p.Provision(context.Background()))
	assert.True(t, r.ran("usermod -aG docker deploy"))
}

func TestProvision_SkipsGroupWhenMember(t *testing.T) {
	r := newFakeRunner(
		response{substr: "id -nG", out: sshx.Output{Stdout: "deploy docker sudo\n"}},
	)
	p := NewProvisioner(r, "deploy", "/srv/dockhand", nil)

	require.NoError(t, p.Provision(context.Background()))
	assert.False(t, r.ran("usermod"))
}

func TestProvision_InstallFailureIsFatal(t *testing.T) {
	r := newFakeRunner(
		response{substr: "command -v docker", err: cmdFailure("command -v docker", 1, "")},
		response{substr: "apt-get", err: cmdFailure("apt-get", 100, "E: Unable to locate package")},
	)
	p := NewProvisioner(r, "deploy", "/srv/dockhand", nil)

	err := p.Provision(context.Background())
	var provErr *ProvisionError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, 100, provErr.Exit)
	assert.Contains(t, provErr.Output, "Unable to locate package")
}

// =============================================================================
// Executor Tests
// =============================================================================

func dockerfileDeployment() Deployment {
	return Deployment{
		Name:         "app",
		WorkDir:      "/local/app",
		Descriptor:   &artifact.BuildDescriptor{Kind: artifact.KindDockerfile, Path: "Dockerfile"},
		InternalPort: 8080,
		ExternalPort: 8080,
	}
}

func TestExecute_DockerfileStrategy(t *testing.T) {
	r := newFakeRunner()
	e := NewExecutor(r, "/srv/dockhand", nil)

	require.NoError(t, e.Execute(context.Background(), dockerfileDeployment()))

	assert.Equal(t, []string{"/srv/dockhand/app"}, r.pushed)
	assert.True(t, r.ran("docker rm -f app"))
	assert.True(t, r.ran("docker build -t app:latest -f Dockerfile ."))
	assert.True(t, r.ran("docker run --detach --name app --restart unless-stopped --publish 8080:8080 app:latest"))
}

func TestExecute_PassesManifestEnv(t *testing.T) {
	r := newFakeRunner()
	e := NewExecutor(r, "/srv/dockhand", nil)

	d := dockerfileDeployment()
	d.Env = map[string]string{"APP_MODE": "production", "DEBUG": "0"}
	require.NoError(t, e.Execute(context.Background(), d))

	assert.True(t, r.ran("--env APP_MODE=production"))
	assert.True(t, r.ran("--env DEBUG=0"))
}

func TestExecute_RemovePreviousToleratesAbsence(t *testing.T) {
	r := newFakeRunner(
		response{substr: "docker rm -f", err: cmdFailure("docker rm", 1, "Error: No such container: app")},
	)
	e := NewExecutor(r, "/srv/dockhand", nil)

	require.NoError(t, e.Execute(context.Background(), dockerfileDeployment()))
	assert.True(t, r.ran("docker build"))
}

func TestExecute_ComposeStrategy(t *testing.T) {
	r := newFakeRunner()
	e := NewExecutor(r, "/srv/dockhand", nil)

	d := dockerfileDeployment()
	d.Descriptor = &artifact.BuildDescriptor{Kind: artifact.KindCompose, Path: "docker-compose.yml"}
	require.NoError(t, e.Execute(context.Background(), d))

	assert.True(t, r.ran("docker compose --project-name app down --remove-orphans"))
	assert.True(t, r.ran("docker compose --project-name app up --build --detach"))
	assert.False(t, r.ran("docker run"), "compose projects must not also docker run")
}

func TestExecute_ComposeRerunConverges(t *testing.T) {
	r := newFakeRunner()
	e := NewExecutor(r, "/srv/dockhand", nil)

	d := dockerfileDeployment()
	d.Descriptor = &artifact.BuildDescriptor{Kind: artifact.KindCompose, Path: "compose.yaml"}
	require.NoError(t, e.Execute(context.Background(), d))
	require.NoError(t, e.Execute(context.Background(), d))

	// Every up is preceded by a down of the same project: one instance.
	var downs, ups int
	for _, c := range r.cmds {
		if strings.Contains(c, "down --remove-orphans") {
			downs++
		}
		if strings.Contains(c, "up --build --detach") {
			ups++
		}
	}
	assert.Equal(t, 2, downs)
	assert.Equal(t, 2, ups)
}

func TestExecute_BuildFailure(t *testing.T) {
	r := newFakeRunner(
		response{substr: "docker build", err: cmdFailure("docker build", 1, "failed to solve: dockerfile parse error")},
	)
	e := NewExecutor(r, "/srv/dockhand", nil)

	err := e.Execute(context.Background(), dockerfileDeployment())
	var deployErr *DeployError
	require.ErrorAs(t, err, &deployErr)
	assert.Contains(t, deployErr.Output, "dockerfile parse error")
}

func TestExecute_TransferFailureIsDistinct(t *testing.T) {
	r := newFakeRunner()
	e := NewExecutor(&failingPusher{r}, "/srv/dockhand", nil)

	err := e.Execute(context.Background(), dockerfileDeployment())
	var transferErr *TransferError
	require.ErrorAs(t, err, &transferErr)
	var deployErr *DeployError
	assert.False(t, errors.As(err, &deployErr))
}

type failingPusher struct{ *fakeRunner }

func (f *failingPusher) PushDir(context.Context, string, string, []string) error {
	return errors.New("connection reset")
}

// =============================================================================
// Configurer Tests
// =============================================================================

func testRule() proxy.Rule {
	return proxy.Rule{Host: "203.0.113.10", UpstreamPort: 8080}
}

func TestApply_InstallsValidatesReloads(t *testing.T) {
	r := newFakeRunner(
		response{substr: "test -f", err: cmdFailure("test", 1, "")}, // no previous rule
	)
	c := NewConfigurer(r, DefaultProxyPaths(), nil)

	require.NoError(t, c.Apply(context.Background(), testRule()))

	staged := r.put["/tmp/dockhand-203.0.113.10.conf"]
	assert.Contains(t, staged, "proxy_pass http://localhost:8080;")
	assert.True(t, r.ran("mv /tmp/dockhand-203.0.113.10.conf /etc/nginx/sites-available/dockhand-203.0.113.10.conf"))
	assert.True(t, r.ran("ln -sf"))
	assert.True(t, r.ran("nginx -t"))
	assert.True(t, r.ran("systemctl reload nginx"))
}

func TestApply_ValidationFailureRestoresPrevious(t *testing.T) {
	r := newFakeRunner(
		// A previous rule exists and the candidate fails validation.
		response{substr: "nginx -t", err: cmdFailure("nginx -t", 1, "nginx: configuration file test failed")},
	)
	c := NewConfigurer(r, DefaultProxyPaths(), nil)

	err := c.Apply(context.Background(), testRule())
	var proxyErr *ProxyError
	require.ErrorAs(t, err, &proxyErr)

	assert.True(t, r.ran("cp /etc/nginx/sites-available/dockhand-203.0.113.10.conf /tmp/dockhand-203.0.113.10.conf.prev"))
	assert.True(t, r.ran("mv /tmp/dockhand-203.0.113.10.conf.prev /etc/nginx/sites-available/dockhand-203.0.113.10.conf"),
		"previous config must be restored")
	assert.False(t, r.ran("systemctl reload nginx"), "a broken config must never be reloaded")
}

func TestApply_ValidationFailureWithNoPreviousRemovesCandidate(t *testing.T) {
	r := newFakeRunner(
		response{substr: "test -f", err: cmdFailure("test", 1, "")},
		response{substr: "nginx -t", err: cmdFailure("nginx -t", 1, "test failed")},
	)
	c := NewConfigurer(r, DefaultProxyPaths(), nil)

	err := c.Apply(context.Background(), testRule())
	require.Error(t, err)
	assert.True(t, r.ran("rm -f /etc/nginx/sites-available/dockhand-203.0.113.10.conf /etc/nginx/sites-enabled/dockhand-203.0.113.10.conf"))
	assert.False(t, r.ran("systemctl reload nginx"))
}

func TestRemove_ToleratesAbsentRule(t *testing.T) {
	r := newFakeRunner(
		response{substr: "rm -f /etc/nginx", err: cmdFailure("rm", 1, "No such file or directory")},
	)
	c := NewConfigurer(r, DefaultProxyPaths(), nil)

	require.NoError(t, c.Remove(context.Background(), "203.0.113.10"))
	assert.True(t, r.ran("systemctl reload nginx"))
}

func TestRemove_ReloadFailureIsCleanupError(t *testing.T) {
	r := newFakeRunner(
		response{substr: "systemctl reload nginx", err: cmdFailure("systemctl", 1, "job failed")},
	)
	c := NewConfigurer(r, DefaultProxyPaths(), nil)

	err := c.Remove(context.Background(), "h1")
	var cleanupErr *CleanupError
	require.ErrorAs(t, err, &cleanupErr)
}

// =============================================================================
// Validator Tests
// =============================================================================

func TestValidate_HealthyContainer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := newFakeRunner(
		response{substr: "docker ps", out: sshx.Output{Stdout: "abc123\n"}},
	)
	v := NewValidator(r, 0, nil)

	desc := &artifact.BuildDescriptor{Kind: artifact.KindDockerfile}
	require.NoError(t, v.Validate(context.Background(), "app", desc, srv.URL))
}

func TestValidate_ProcessAbsent(t *testing.T) {
	r := newFakeRunner() // empty docker ps output
	v := NewValidator(r, 0, nil)

	desc := &artifact.BuildDescriptor{Kind: artifact.KindDockerfile}
	err := v.Validate(context.Background(), "app", desc, "http://127.0.0.1:1")
	var healthErr *HealthError
	require.ErrorAs(t, err, &healthErr)
	assert.Contains(t, healthErr.Output, "not running")
}

func TestValidate_ComposeUsesComposePs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path == "/" {
			http.Redirect(w, req, "/login", http.StatusFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := newFakeRunner(
		response{substr: "docker compose", out: sshx.Output{Stdout: "deadbeef\n"}},
	)
	v := NewValidator(r, 0, nil)

	desc := &artifact.BuildDescriptor{Kind: artifact.KindCompose}
	require.NoError(t, v.Validate(context.Background(), "app", desc, srv.URL))
	assert.True(t, r.ran("docker compose --project-name app ps --status running --quiet"))
}

func TestValidate_ErrorStatusFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	r := newFakeRunner(
		response{substr: "docker ps", out: sshx.Output{Stdout: "abc123\n"}},
	)
	v := NewValidator(r, 0, nil)

	desc := &artifact.BuildDescriptor{Kind: artifact.KindDockerfile}
	err := v.Validate(context.Background(), "app", desc, srv.URL)
	var healthErr *HealthError
	require.ErrorAs(t, err, &healthErr)
}

// =============================================================================
// Cleaner Tests
// =============================================================================

func newCleaner(r Runner) *Cleaner {
	e := NewExecutor(r, "/srv/dockhand", nil)
	c := NewConfigurer(r, DefaultProxyPaths(), nil)
	return NewCleaner(r, e, c, nil)
}

func TestTeardown_Container(t *testing.T) {
	r := newFakeRunner()
	cl := newCleaner(r)

	require.NoError(t, cl.Teardown(context.Background(), "app", "203.0.113.10", false))
	assert.True(t, r.ran("docker rm -f app"))
	assert.True(t, r.ran("docker rmi app:latest"))
	assert.True(t, r.ran("rm -f /etc/nginx/sites-enabled/dockhand-203.0.113.10.conf"))
	assert.True(t, r.ran("systemctl reload nginx"))
	assert.True(t, r.ran("rm -rf /srv/dockhand/app"))
}

func TestTeardown_Compose(t *testing.T) {
	r := newFakeRunner()
	cl := newCleaner(r)

	require.NoError(t, cl.Teardown(context.Background(), "app", "h1", true))
	assert.True(t, r.ran("docker compose --project-name app down --remove-orphans --rmi local"))
	assert.False(t, r.ran("docker rm -f"))
}

func TestTeardown_NothingRunningSucceeds(t *testing.T) {
	r := newFakeRunner(
		response{substr: "docker rm -f", err: cmdFailure("docker rm", 1, "Error: No such container: app")},
		response{substr: "docker rmi", err: cmdFailure("docker rmi", 1, "Error: No such image: app:latest")},
	)
	cl := newCleaner(r)

	require.NoError(t, cl.Teardown(context.Background(), "app", "h1", false))
}

func TestTeardown_PermissionDeniedIsCleanupError(t *testing.T) {
	r := newFakeRunner(
		response{substr: "docker rm -f", err: cmdFailure("docker rm", 1, "permission denied while trying to connect")},
	)
	cl := newCleaner(r)

	err := cl.Teardown(context.Background(), "app", "h1", false)
	var cleanupErr *CleanupError
	require.ErrorAs(t, err, &cleanupErr)
}
