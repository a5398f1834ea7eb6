// Package request defines the validated deployment request value type.
// Validation is the only entry point: a DeploymentRequest that exists
// has already passed every input check, and is never mutated afterwards.
package request

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/go-connections/nat"
)

// =============================================================================
// Types
// =============================================================================

// DeploymentRequest holds all validated inputs for a single pipeline run.
type DeploymentRequest struct {
	// RepoURL is the HTTPS transport URL of the source repository.
	RepoURL string

	// Credential is the access token used for the authenticated clone.
	// It must never be logged; use Redact before surfacing related text.
	Credential string

	// Branch to deploy. Defaults to "main" when empty.
	Branch string

	// SSHUser is the login name on the remote host.
	SSHUser string

	// Host is the remote host address (IP or DNS name).
	Host string

	// KeyPath is the absolute path to the SSH private key file.
	KeyPath string

	// InternalPort is the port the application listens on inside the container.
	InternalPort int

	// ExternalPort is the host port published for the container.
	ExternalPort int
}

// RawInput holds the unvalidated strings as collected from the operator.
type RawInput struct {
	RepoURL      string
	Credential   string
	Branch       string
	SSHUser      string
	Host         string
	KeyPath      string
	InternalPort string
	ExternalPort string
}

// =============================================================================
// Errors
// =============================================================================

// InputError reports a rejected input field. The offending value is
// deliberately not carried: the credential field would end up in logs.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid input %q: %s", e.Field, e.Reason)
}

// =============================================================================
// Validation
// =============================================================================

// DefaultBranch is used when the operator leaves the branch field empty.
const DefaultBranch = "main"

// Validate checks every raw field and returns an immutable DeploymentRequest.
// No side effects beyond reading the key file's metadata.
func Validate(in RawInput) (*DeploymentRequest, error) {
	repoURL := strings.TrimSpace(in.RepoURL)
	if repoURL == "" {
		return nil, &InputError{Field: "repository_url", Reason: "must not be empty"}
	}
	u, err := url.Parse(repoURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, &InputError{Field: "repository_url", Reason: "must be a well-formed URL with scheme and host"}
	}

	if strings.TrimSpace(in.Credential) == "" {
		return nil, &InputError{Field: "credential", Reason: "must not be empty"}
	}

	branch := strings.TrimSpace(in.Branch)
	if branch == "" {
		branch = DefaultBranch
	}

	sshUser := strings.TrimSpace(in.SSHUser)
	if sshUser == "" {
		return nil, &InputError{Field: "ssh_user", Reason: "must not be empty"}
	}

	host := strings.TrimSpace(in.Host)
	if host == "" {
		return nil, &InputError{Field: "host", Reason: "must not be empty"}
	}

	keyPath, err := expandKeyPath(strings.TrimSpace(in.KeyPath))
	if err != nil {
		return nil, err
	}

	internalPort, err := parsePort("internal_port", in.InternalPort)
	if err != nil {
		return nil, err
	}
	externalPort, err := parsePort("external_port", in.ExternalPort)
	if err != nil {
		return nil, err
	}

	return &DeploymentRequest{
		RepoURL:      repoURL,
		Credential:   strings.TrimSpace(in.Credential),
		Branch:       branch,
		SSHUser:      sshUser,
		Host:         host,
		KeyPath:      keyPath,
		InternalPort: internalPort,
		ExternalPort: externalPort,
	}, nil
}

// parsePort validates a port string into the [1,65535] range.
func parsePort(field, raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, &InputError{Field: field, Reason: "must not be empty"}
	}
	p, err := nat.ParsePort(raw)
	if err != nil {
		return 0, &InputError{Field: field, Reason: "must be a number"}
	}
	if p < 1 || p > 65535 {
		return 0, &InputError{Field: field, Reason: "must be between 1 and 65535"}
	}
	return p, nil
}

// ExpandKeyPath resolves a leading ~ and verifies the key file exists and
// is readable. Teardown uses it directly since it needs no full request.
func ExpandKeyPath(path string) (string, error) {
	return expandKeyPath(strings.TrimSpace(path))
}

// expandKeyPath resolves a leading ~ and verifies the key file is readable.
func expandKeyPath(path string) (string, error) {
	if path == "" {
		return "", &InputError{Field: "key_path", Reason: "must not be empty"}
	}

	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", &InputError{Field: "key_path", Reason: "cannot resolve home directory"}
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", &InputError{Field: "key_path", Reason: "file does not exist"}
	}
	if info.IsDir() {
		return "", &InputError{Field: "key_path", Reason: "path is a directory, not a key file"}
	}
	f, err := os.Open(path)
	if err != nil {
		return "", &InputError{Field: "key_path", Reason: "file is not readable"}
	}
	f.Close()

	return path, nil
}

// =============================================================================
// Redaction
// =============================================================================

// Redact replaces every occurrence of the request credential in s.
// Applied to command output and error text before logging or display.
func (r *DeploymentRequest) Redact(s string) string {
	if r == nil || r.Credential == "" {
		return s
	}
	return strings.ReplaceAll(s, r.Credential, "[REDACTED]")
}

// CloneURL returns the repository URL with the credential embedded as
// userinfo, suitable for an unattended authenticated clone.
func (r *DeploymentRequest) CloneURL() (string, error) {
	u, err := url.Parse(r.RepoURL)
	if err != nil {
		return "", fmt.Errorf("parse repository URL: %w", err)
	}
	if r.Credential != "" {
		u.User = url.User(r.Credential)
	}
	return u.String(), nil
}
