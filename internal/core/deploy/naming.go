// Package deploy provides pure naming and remote command planning for
// deployments. No I/O; values in, values out.
package deploy

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

// =============================================================================
// Resource Naming Functions
// =============================================================================

var unsafeNameChars = regexp.MustCompile(`[^a-z0-9_.-]+`)

// RepoName derives the deterministic workload name from a repository URL.
// The name keys the container, the image, the compose project, and the
// remote staging directory, so redeploys of the same repository converge
// on the same resources.
//
// Example:
//
//	RepoName("https://example.com/acme/app.git") // returns "app"
func RepoName(repoURL string) string {
	trimmed := strings.TrimSuffix(strings.TrimSuffix(repoURL, "/"), ".git")
	name := strings.ToLower(path.Base(trimmed))
	name = unsafeNameChars.ReplaceAllString(name, "-")
	name = strings.Trim(name, "-.")
	if name == "" || name == "/" {
		return "workload"
	}
	return name
}

// ContainerName returns the container name for a workload.
func ContainerName(repoName string) string {
	return repoName
}

// ImageName returns the image tag built for a workload.
func ImageName(repoName string) string {
	return repoName + ":latest"
}

// ProjectName returns the compose project name for a workload.
func ProjectName(repoName string) string {
	return repoName
}

// StagingPath returns the remote staging directory for a workload.
// Pattern: {root}/{repoName}
func StagingPath(stagingRoot, repoName string) string {
	return path.Join(stagingRoot, repoName)
}

// PortMapping renders the external:internal publish argument for docker run.
func PortMapping(externalPort, internalPort int) string {
	return fmt.Sprintf("%d:%d", externalPort, internalPort)
}
