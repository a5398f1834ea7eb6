package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"
)

// Hetzner implements Provider for Hetzner Cloud.
type Hetzner struct {
	client *hcloud.Client
	logger *slog.Logger
}

// NewHetzner creates a Hetzner Cloud provider.
func NewHetzner(apiToken string, logger *slog.Logger) *Hetzner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hetzner{
		client: hcloud.NewClient(hcloud.WithToken(apiToken)),
		logger: logger.With("provider", "hetzner"),
	}
}

// CreateServer provisions a Hetzner Cloud server.
func (p *Hetzner) CreateServer(ctx context.Context, req BootstrapRequest) (*BootstrapResult, error) {
	// The key upload is idempotent: replace a leftover key of the same name.
	if existing, _, _ := p.client.SSHKey.GetByName(ctx, keyName(req.Name)); existing != nil {
		p.client.SSHKey.Delete(ctx, existing)
	}
	key, _, err := p.client.SSHKey.Create(ctx, hcloud.SSHKeyCreateOpts{
		Name:      keyName(req.Name),
		PublicKey: req.SSHPublicKey,
	})
	if err != nil {
		return nil, fmt.Errorf("upload SSH key: %w", err)
	}

	serverType, _, err := p.client.ServerType.GetByName(ctx, req.Size)
	if err != nil || serverType == nil {
		return nil, fmt.Errorf("invalid server type %s: %w", req.Size, err)
	}

	location, _, err := p.client.Location.GetByName(ctx, req.Region)
	if err != nil || location == nil {
		return nil, fmt.Errorf("invalid location %s: %w", req.Region, err)
	}

	image, _, err := p.client.Image.GetByNameAndArchitecture(ctx, "ubuntu-24.04", hcloud.ArchitectureX86)
	if err != nil || image == nil {
		return nil, fmt.Errorf("find Ubuntu image: %w", err)
	}

	result, _, err := p.client.Server.Create(ctx, hcloud.ServerCreateOpts{
		Name:       req.Name,
		ServerType: serverType,
		Image:      image,
		Location:   location,
		SSHKeys:    []*hcloud.SSHKey{key},
		UserData:   bootstrapScript(),
		Labels: map[string]string{
			"managed-by": "dockhand",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create server: %w", err)
	}

	p.logger.Info("server created", "server_id", result.Server.ID, "location", req.Region)

	publicIP, err := p.waitForPublicIP(ctx, result.Server.ID)
	if err != nil {
		return nil, fmt.Errorf("wait for public IP: %w", err)
	}

	return &BootstrapResult{
		InstanceID: strconv.FormatInt(result.Server.ID, 10),
		PublicIP:   publicIP,
	}, nil
}

func (p *Hetzner) waitForPublicIP(ctx context.Context, serverID int64) (string, error) {
	for i := 0; i < 60; i++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(5 * time.Second):
		}

		server, _, err := p.client.Server.GetByID(ctx, serverID)
		if err != nil || server == nil {
			continue
		}
		if server.Status == hcloud.ServerStatusRunning && !server.PublicNet.IPv4.IP.IsUnspecified() {
			return server.PublicNet.IPv4.IP.String(), nil
		}
	}
	return "", errors.New("timed out waiting for server public IP")
}

// DestroyServer deletes the server and its uploaded SSH key.
func (p *Hetzner) DestroyServer(ctx context.Context, req DestroyRequest) error {
	serverID, err := strconv.ParseInt(req.InstanceID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid server ID: %w", err)
	}

	server, _, err := p.client.Server.GetByID(ctx, serverID)
	if err != nil {
		return fmt.Errorf("get server: %w", err)
	}
	if server == nil {
		p.logger.Info("server already deleted", "server_id", serverID)
	} else {
		if _, _, err := p.client.Server.DeleteWithResult(ctx, server); err != nil {
			return fmt.Errorf("delete server: %w", err)
		}
		p.logger.Info("server deleted", "server_id", serverID)
	}

	if existing, _, _ := p.client.SSHKey.GetByName(ctx, keyName(req.Name)); existing != nil {
		if _, err := p.client.SSHKey.Delete(ctx, existing); err != nil {
			p.logger.Warn("could not delete SSH key", "key", keyName(req.Name), "error", err)
		}
	}
	return nil
}
