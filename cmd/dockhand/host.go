package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/parcade/dockhand/internal/shell/provider"
)

// =============================================================================
// Host Commands
// =============================================================================

// newHostCmd bootstraps and destroys cloud deployment hosts. The created
// server comes up with docker and nginx pre-installed, ready to be used as
// the deploy target.
func newHostCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "host",
		Short: "Create or destroy a cloud deployment host",
	}
	cmd.AddCommand(newHostCreateCmd(a))
	cmd.AddCommand(newHostDestroyCmd(a))
	return cmd
}

type hostFlags struct {
	providerType string
	name         string
	region       string
	size         string
}

func (f *hostFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.providerType, "provider", "hetzner", "Cloud provider (hetzner, digitalocean, aws)")
	cmd.Flags().StringVar(&f.name, "name", "", "Server name")
	cmd.Flags().StringVar(&f.region, "region", "", "Provider region or location")
	cmd.Flags().StringVar(&f.size, "size", "", "Server size or instance type")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("region")
	_ = cmd.MarkFlagRequired("size")
}

// providerToken reads the API token from the environment; AWS expects
// "accessKeyID:secretAccessKey". Tokens are never prompted so they stay
// out of shell history only when the operator exports them.
func providerToken(providerType string) (string, error) {
	envName := "DOCKHAND_" + strings.ToUpper(providerType) + "_TOKEN"
	token := os.Getenv(envName)
	if token == "" {
		return "", fmt.Errorf("%s is not set", envName)
	}
	return token, nil
}

func newHostCreateCmd(a *app) *cobra.Command {
	flags := &hostFlags{}
	var keyPath string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Provision a new deployment host",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := providerToken(flags.providerType)
			if err != nil {
				return &exitError{code: ExitInputError, err: err}
			}
			pubKey, err := os.ReadFile(keyPath)
			if err != nil {
				return &exitError{code: ExitInputError,
					err: fmt.Errorf("read public key: %w", err)}
			}

			p, err := provider.New(flags.providerType, token, a.logger)
			if err != nil {
				return &exitError{code: ExitInputError, err: err}
			}

			result, err := p.CreateServer(cmd.Context(), provider.BootstrapRequest{
				Name:         flags.name,
				Region:       flags.region,
				Size:         flags.size,
				SSHPublicKey: strings.TrimSpace(string(pubKey)),
			})
			if err != nil {
				return &exitError{code: ExitStageError, err: err}
			}

			fmt.Fprintf(cmd.OutOrStdout(),
				"Host ready.\n  instance: %s\n  address:  %s\n\nDeploy with: dockhand (remote host %s)\n",
				result.InstanceID, result.PublicIP, result.PublicIP)
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&keyPath, "public-key", "", "Path to the SSH public key to install")
	_ = cmd.MarkFlagRequired("public-key")
	return cmd
}

func newHostDestroyCmd(a *app) *cobra.Command {
	flags := &hostFlags{}
	var instanceID string

	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Terminate a deployment host",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := providerToken(flags.providerType)
			if err != nil {
				return &exitError{code: ExitInputError, err: err}
			}
			p, err := provider.New(flags.providerType, token, a.logger)
			if err != nil {
				return &exitError{code: ExitInputError, err: err}
			}

			err = p.DestroyServer(cmd.Context(), provider.DestroyRequest{
				InstanceID: instanceID,
				Name:       flags.name,
				Region:     flags.region,
			})
			if err != nil {
				return &exitError{code: ExitStageError, err: err}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Host %s destroyed.\n", instanceID)
			return nil
		},
	}

	cmd.Flags().StringVar(&flags.providerType, "provider", "hetzner", "Cloud provider (hetzner, digitalocean, aws)")
	cmd.Flags().StringVar(&flags.name, "name", "", "Server name used at creation")
	cmd.Flags().StringVar(&flags.region, "region", "", "Provider region (required for aws)")
	cmd.Flags().StringVar(&instanceID, "instance", "", "Instance ID to terminate")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("instance")
	return cmd
}
