// Package proxy renders reverse-proxy routing rules as nginx server
// blocks. Pure: values in, rendered configuration out; installing and
// reloading live in internal/shell/remote.
package proxy

import (
	"fmt"
	"strings"
	"text/template"
)

// =============================================================================
// Types
// =============================================================================

// DefaultListenPort is the public port the proxy listens on.
const DefaultListenPort = 80

// Rule maps the proxy listen port to an internal service port, keyed by the
// server identity. One active rule per host: installing a rule overwrites
// the previous one.
type Rule struct {
	// Host is the server identity (server_name and config file key).
	Host string

	// ListenPort is the public port; 0 means DefaultListenPort.
	ListenPort int

	// UpstreamPort is the local port the workload publishes.
	UpstreamPort int
}

// =============================================================================
// Rendering
// =============================================================================

// serverBlock forwards to localhost and preserves the original host,
// client address, and forwarded protocol.
var serverBlock = template.Must(template.New("server").Parse(`server {
    listen {{.ListenPort}};
    server_name {{.Host}};

    location / {
        proxy_pass http://localhost:{{.UpstreamPort}};
        proxy_set_header Host $host;
        proxy_set_header X-Real-IP $remote_addr;
        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;
        proxy_set_header X-Forwarded-Proto $scheme;
    }
}
`))

// Render produces the nginx server block for the rule.
func (r Rule) Render() (string, error) {
	if r.Host == "" {
		return "", fmt.Errorf("proxy rule: host must not be empty")
	}
	if r.UpstreamPort < 1 || r.UpstreamPort > 65535 {
		return "", fmt.Errorf("proxy rule: upstream port %d out of range", r.UpstreamPort)
	}

	data := r
	if data.ListenPort == 0 {
		data.ListenPort = DefaultListenPort
	}

	var b strings.Builder
	if err := serverBlock.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render proxy rule: %w", err)
	}
	return b.String(), nil
}

// =============================================================================
// Config Locations
// =============================================================================

// ConfigName returns the nginx config file name for a host. The name is
// tool-prefixed so teardown can never touch server blocks owned by anything
// else on the host.
func ConfigName(host string) string {
	sanitized := strings.Map(func(c rune) rune {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '.', c == '-':
			return c
		case c >= 'A' && c <= 'Z':
			return c + ('a' - 'A')
		default:
			return '-'
		}
	}, host)
	return fmt.Sprintf("dockhand-%s.conf", sanitized)
}

// AvailablePath returns the sites-available path for a host's rule.
func AvailablePath(availableDir, host string) string {
	return availableDir + "/" + ConfigName(host)
}

// EnabledPath returns the sites-enabled path for a host's rule.
func EnabledPath(enabledDir, host string) string {
	return enabledDir + "/" + ConfigName(host)
}
