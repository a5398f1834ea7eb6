package artifact

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	full := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

const minimalCompose = `
services:
  web:
    image: nginx:alpine
    ports:
      - "8080:80"
`

// =============================================================================
// Detect Tests
// =============================================================================

func TestDetect_RootDockerfile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Dockerfile", "FROM alpine\n")

	desc, err := Detect(dir)
	require.NoError(t, err)
	assert.Equal(t, KindDockerfile, desc.Kind)
	assert.Equal(t, "Dockerfile", desc.Path)
	assert.False(t, desc.UsesCompose())
}

func TestDetect_DockerfileWinsOverCompose(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Dockerfile", "FROM alpine\n")
	writeFile(t, dir, "docker-compose.yml", minimalCompose)

	desc, err := Detect(dir)
	require.NoError(t, err)
	assert.Equal(t, KindDockerfile, desc.Kind)
}

func TestDetect_ComposeFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "docker-compose.yml", minimalCompose)

	desc, err := Detect(dir)
	require.NoError(t, err)
	assert.Equal(t, KindCompose, desc.Kind)
	assert.Equal(t, "docker-compose.yml", desc.Path)
	assert.True(t, desc.UsesCompose())
	assert.Equal(t, []int{8080}, desc.ComposePorts)
}

func TestDetect_ComposeYamlPrecedence(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "compose.yaml", minimalCompose)
	writeFile(t, dir, "docker-compose.yml", minimalCompose)

	desc, err := Detect(dir)
	require.NoError(t, err)
	assert.Equal(t, "compose.yaml", desc.Path)
}

func TestDetect_DevcontainerFallback(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, filepath.Join(".devcontainer", "Dockerfile"), "FROM alpine\n")

	desc, err := Detect(dir)
	require.NoError(t, err)
	assert.Equal(t, KindDevcontainer, desc.Kind)
	assert.Equal(t, filepath.Join(".devcontainer", "Dockerfile"), desc.Path)
}

func TestDetect_NothingFound(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "README.md", "# app\n")

	_, err := Detect(dir)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoDescriptor))
}

func TestDetect_InvalidComposeFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "compose.yaml", "services: [not a mapping\n")

	_, err := Detect(dir)
	require.Error(t, err)
	var artErr *Error
	assert.ErrorAs(t, err, &artErr)
}

// =============================================================================
// Manifest Tests
// =============================================================================

func TestLoadManifest_Missing(t *testing.T) {
	m, err := LoadManifest(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, m.Env)
	assert.Equal(t, "/", m.ProbePath())
}

func TestLoadManifest_Full(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ManifestFileName, "env:\n  APP_MODE: production\nhealth_path: /healthz\n")

	m, err := LoadManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, "production", m.Env["APP_MODE"])
	assert.Equal(t, "/healthz", m.ProbePath())
}

func TestLoadManifest_BadHealthPath(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ManifestFileName, "health_path: healthz\n")

	_, err := LoadManifest(dir)
	require.Error(t, err)
}

func TestLoadManifest_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ManifestFileName, "env: [broken\n")

	_, err := LoadManifest(dir)
	require.Error(t, err)
}
