package artifact

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/YuminosukeSato/bcpipeline/pkg/errors"
)

// ManifestFile is the manifest's name inside the models directory.
const ManifestFile = "manifest.yaml"

// Manifest lists the models written by one training run.
type Manifest struct {
	RunID     string          `yaml:"run_id"`
	CreatedAt time.Time       `yaml:"created_at"`
	Models    []ManifestEntry `yaml:"models"`
}

// ManifestEntry describes one saved bundle.
type ManifestEntry struct {
	Name                string                 `yaml:"name"`
	File                string                 `yaml:"file"`
	Params              map[string]interface{} `yaml:"params,omitempty"`
	CVAUC               *float64               `yaml:"cv_auc,omitempty"`
	RequiresScaledInput bool                   `yaml:"requires_scaled_input"`
}

// EntryFor builds the manifest entry of a bundle.
func EntryFor(b *Bundle) ManifestEntry {
	e := ManifestEntry{
		Name:                b.Metadata.Name,
		File:                FileName(b.Metadata.Name),
		Params:              b.Metadata.Params,
		RequiresScaledInput: b.Metadata.RequiresScaledInput,
	}
	if b.Metadata.Tuned() {
		score := b.Metadata.CVScore
		e.CVAUC = &score
	}
	return e
}

// WriteManifest writes m as YAML to dir/manifest.yaml.
func WriteManifest(dir string, m *Manifest) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create models directory %s", dir)
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return errors.Wrap(err, "marshal manifest")
	}
	path := filepath.Join(dir, ManifestFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	return nil
}

// ReadManifest reads dir/manifest.yaml.
func ReadManifest(dir string) (*Manifest, error) {
	path := filepath.Join(dir, ManifestFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	return &m, nil
}

// LoadCurrent loads the artifact for name and checks it against the
// manifest. An artifact the manifest does not list, or one saved by another
// run, yields a StaleArtifactError. Without a manifest only Load's checks
// apply.
func LoadCurrent(dir, name string) (*Bundle, error) {
	b, err := Load(dir, name)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(filepath.Join(dir, ManifestFile)); os.IsNotExist(err) {
		return b, nil
	}
	m, err := ReadManifest(dir)
	if err != nil {
		return nil, err
	}
	if b.Metadata.RunID != m.RunID || !m.Lists(name) {
		return nil, errors.NewStaleArtifactError(name, Path(dir, name), b.Metadata.RunID, m.RunID)
	}
	return b, nil
}

// Lists reports whether the manifest has an entry for name.
func (m *Manifest) Lists(name string) bool {
	for _, e := range m.Models {
		if e.Name == name {
			return true
		}
	}
	return false
}
