// Package artifact discovers the build descriptor of a working copy and
// decides which deployment strategy applies.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Types
// =============================================================================

// Kind identifies the discovered build descriptor type.
type Kind string

const (
	// KindDockerfile is a Dockerfile at the repository root.
	KindDockerfile Kind = "dockerfile"

	// KindCompose is a compose file at the repository root.
	KindCompose Kind = "compose"

	// KindDevcontainer is a Dockerfile under .devcontainer/.
	KindDevcontainer Kind = "devcontainer"
)

// BuildDescriptor is the discovered artifact that drives deployment.
type BuildDescriptor struct {
	// Kind selects the deployment strategy.
	Kind Kind

	// Path is the descriptor location relative to the working copy root.
	Path string

	// ComposePorts lists published host ports declared by a compose
	// descriptor, empty for Dockerfile builds.
	ComposePorts []int
}

// UsesCompose reports whether deployment goes through the compose subsystem.
func (d BuildDescriptor) UsesCompose() bool {
	return d.Kind == KindCompose
}

// =============================================================================
// Errors
// =============================================================================

// ErrNoDescriptor is returned when no recognized build descriptor exists.
var ErrNoDescriptor = errors.New("no build descriptor found")

// Error wraps descriptor discovery failures with the inspected directory.
type Error struct {
	Dir     string
	Message string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("inspect %s: %s", e.Dir, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// =============================================================================
// Discovery
// =============================================================================

// composeFileNames in the order docker compose itself resolves them.
var composeFileNames = []string{
	"compose.yaml",
	"compose.yml",
	"docker-compose.yml",
	"docker-compose.yaml",
}

// Detect inspects dir for a build descriptor in fixed precedence order:
// root Dockerfile, then a root compose file, then .devcontainer/Dockerfile.
// A compose candidate must load under the compose specification to count.
func Detect(dir string) (*BuildDescriptor, error) {
	if fileExists(filepath.Join(dir, "Dockerfile")) {
		return &BuildDescriptor{Kind: KindDockerfile, Path: "Dockerfile"}, nil
	}

	for _, name := range composeFileNames {
		full := filepath.Join(dir, name)
		if !fileExists(full) {
			continue
		}
		content, err := os.ReadFile(full)
		if err != nil {
			return nil, &Error{Dir: dir, Message: "read " + name, Err: err}
		}
		ports, err := composePublishedPorts(string(content))
		if err != nil {
			return nil, &Error{Dir: dir, Message: fmt.Sprintf("%s is not a valid compose file", name), Err: err}
		}
		return &BuildDescriptor{Kind: KindCompose, Path: name, ComposePorts: ports}, nil
	}

	devPath := filepath.Join(".devcontainer", "Dockerfile")
	if fileExists(filepath.Join(dir, devPath)) {
		return &BuildDescriptor{Kind: KindDevcontainer, Path: devPath}, nil
	}

	return nil, &Error{Dir: dir, Message: "no Dockerfile, compose file, or .devcontainer/Dockerfile", Err: ErrNoDescriptor}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// composePublishedPorts loads compose YAML and collects published host ports.
func composePublishedPorts(yamlContent string) ([]int, error) {
	var dict map[string]interface{}
	if err := yaml.Unmarshal([]byte(yamlContent), &dict); err != nil {
		return nil, fmt.Errorf("invalid YAML syntax: %w", err)
	}
	if dict == nil {
		return nil, errors.New("empty compose document")
	}

	project, err := loader.LoadWithContext(context.Background(), types.ConfigDetails{
		ConfigFiles: []types.ConfigFile{
			{
				Content: []byte(yamlContent),
				Config:  dict,
			},
		},
	}, func(opts *loader.Options) {
		opts.SetProjectName("dockhand-probe", false)
		opts.SkipValidation = false
		opts.SkipInterpolation = true
		opts.SkipNormalization = true
		opts.SkipExtends = true
	})
	if err != nil {
		return nil, err
	}

	var ports []int
	for _, svc := range project.Services {
		for _, p := range svc.Ports {
			if p.Published == "" {
				continue
			}
			var published int
			if _, err := fmt.Sscanf(strings.TrimSpace(p.Published), "%d", &published); err == nil {
				ports = append(ports, published)
			}
		}
	}
	return ports, nil
}
