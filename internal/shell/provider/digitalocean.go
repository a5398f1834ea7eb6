package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/digitalocean/godo"
)

// DigitalOcean implements Provider for DigitalOcean droplets.
type DigitalOcean struct {
	client *godo.Client
	logger *slog.Logger
}

// NewDigitalOcean creates a DigitalOcean provider.
func NewDigitalOcean(apiToken string, logger *slog.Logger) *DigitalOcean {
	if logger == nil {
		logger = slog.Default()
	}
	return &DigitalOcean{
		client: godo.NewFromToken(apiToken),
		logger: logger.With("provider", "digitalocean"),
	}
}

// CreateServer provisions a droplet.
func (p *DigitalOcean) CreateServer(ctx context.Context, req BootstrapRequest) (*BootstrapResult, error) {
	key, _, err := p.client.Keys.Create(ctx, &godo.KeyCreateRequest{
		Name:      keyName(req.Name),
		PublicKey: req.SSHPublicKey,
	})
	if err != nil {
		return nil, fmt.Errorf("upload SSH key: %w", err)
	}

	droplet, _, err := p.client.Droplets.Create(ctx, &godo.DropletCreateRequest{
		Name:   req.Name,
		Region: req.Region,
		Size:   req.Size,
		Image: godo.DropletCreateImage{
			Slug: "ubuntu-24-04-x64",
		},
		SSHKeys: []godo.DropletCreateSSHKey{
			{ID: key.ID},
		},
		UserData: bootstrapScript(),
		Tags:     []string{"dockhand"},
	})
	if err != nil {
		return nil, fmt.Errorf("create droplet: %w", err)
	}

	p.logger.Info("droplet created", "droplet_id", droplet.ID, "region", req.Region)

	publicIP, err := p.waitForPublicIP(ctx, droplet.ID)
	if err != nil {
		return nil, fmt.Errorf("wait for public IP: %w", err)
	}

	return &BootstrapResult{
		InstanceID: fmt.Sprintf("%d", droplet.ID),
		PublicIP:   publicIP,
	}, nil
}

func (p *DigitalOcean) waitForPublicIP(ctx context.Context, dropletID int) (string, error) {
	for i := 0; i < 60; i++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(5 * time.Second):
		}

		droplet, _, err := p.client.Droplets.Get(ctx, dropletID)
		if err != nil {
			continue
		}
		if droplet.Status == "active" {
			if ip, err := droplet.PublicIPv4(); err == nil && ip != "" {
				return ip, nil
			}
		}
	}
	return "", errors.New("timed out waiting for droplet public IP")
}

// DestroyServer deletes the droplet and its uploaded SSH key.
func (p *DigitalOcean) DestroyServer(ctx context.Context, req DestroyRequest) error {
	var dropletID int
	if _, err := fmt.Sscanf(req.InstanceID, "%d", &dropletID); err != nil {
		return fmt.Errorf("invalid droplet ID: %w", err)
	}

	if _, err := p.client.Droplets.Delete(ctx, dropletID); err != nil {
		return fmt.Errorf("delete droplet: %w", err)
	}
	p.logger.Info("droplet deleted", "droplet_id", dropletID)

	keys, _, err := p.client.Keys.List(ctx, &godo.ListOptions{PerPage: 200})
	if err == nil {
		for _, k := range keys {
			if k.Name == keyName(req.Name) {
				if _, err := p.client.Keys.DeleteByID(ctx, k.ID); err != nil {
					p.logger.Warn("could not delete SSH key", "key", k.Name, "error", err)
				}
				break
			}
		}
	}
	return nil
}
