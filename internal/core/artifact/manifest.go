package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Repo Manifest
// =============================================================================

// ManifestFileName is the optional per-repository override file.
const ManifestFileName = ".dockhand.yml"

// Manifest carries optional per-repository deployment overrides.
// Every field is optional; a missing manifest file is not an error.
type Manifest struct {
	// Env is extra environment passed to the container at run time.
	Env map[string]string `yaml:"env"`

	// HealthPath is the HTTP path probed after deployment. Default "/".
	HealthPath string `yaml:"health_path"`
}

// LoadManifest reads .dockhand.yml from the working copy root.
// Returns a zero-value manifest when the file does not exist.
func LoadManifest(dir string) (*Manifest, error) {
	content, err := os.ReadFile(filepath.Join(dir, ManifestFileName))
	if os.IsNotExist(err) {
		return &Manifest{}, nil
	}
	if err != nil {
		return nil, &Error{Dir: dir, Message: "read " + ManifestFileName, Err: err}
	}

	var m Manifest
	if err := yaml.Unmarshal(content, &m); err != nil {
		return nil, &Error{Dir: dir, Message: ManifestFileName + " is not valid YAML", Err: err}
	}

	if m.HealthPath != "" && !strings.HasPrefix(m.HealthPath, "/") {
		return nil, &Error{
			Dir:     dir,
			Message: fmt.Sprintf("health_path %q must start with /", m.HealthPath),
		}
	}

	return &m, nil
}

// ProbePath returns the health probe path, defaulting to "/".
func (m *Manifest) ProbePath() string {
	if m == nil || m.HealthPath == "" {
		return "/"
	}
	return m.HealthPath
}
