// Package provider bootstraps a fresh deployment host on a cloud
// provider: one Ubuntu server with an uploaded SSH key and docker plus
// nginx pre-installed via cloud-init, ready to receive a deployment.
package provider

import "context"

// BootstrapRequest contains parameters for creating a deployment host.
type BootstrapRequest struct {
	Name         string // Server name; also keys the uploaded SSH key.
	Region       string
	Size         string
	SSHPublicKey string
}

// BootstrapResult identifies the created host.
type BootstrapResult struct {
	InstanceID string
	PublicIP   string
}

// DestroyRequest identifies the host to terminate.
type DestroyRequest struct {
	InstanceID string
	Name       string // Keys the SSH key and security group to clean up.
	Region     string // AWS targets a region per call.
}

// Provider creates and destroys deployment hosts.
type Provider interface {
	CreateServer(ctx context.Context, req BootstrapRequest) (*BootstrapResult, error)
	DestroyServer(ctx context.Context, req DestroyRequest) error
}

// bootstrapScript is the cloud-init payload: the same runtime and proxy
// the provisioning stage would install, done once at boot so the first
// deployment finds them present.
func bootstrapScript() string {
	return `#!/bin/bash
set -e
apt-get update -y
DEBIAN_FRONTEND=noninteractive apt-get install -y docker.io docker-compose-v2 nginx
systemctl enable --now docker
systemctl enable --now nginx
`
}

// keyName derives the provider-side SSH key name for a host.
func keyName(name string) string {
	return "dockhand-" + name
}
