package provider

import (
	"fmt"
	"log/slog"
)

// New creates a provider client for the named cloud. AWS expects the
// token as "accessKeyID:secretAccessKey"; the others take an API token.
func New(providerType, token string, logger *slog.Logger) (Provider, error) {
	switch providerType {
	case "hetzner":
		return NewHetzner(token, logger), nil
	case "digitalocean":
		return NewDigitalOcean(token, logger), nil
	case "aws":
		id, secret, err := splitAWSToken(token)
		if err != nil {
			return nil, err
		}
		return NewAWS(id, secret, logger), nil
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", providerType)
	}
}

func splitAWSToken(token string) (string, string, error) {
	for i := 0; i < len(token); i++ {
		if token[i] == ':' {
			if i == 0 || i == len(token)-1 {
				break
			}
			return token[:i], token[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("aws token must be accessKeyID:secretAccessKey")
}
