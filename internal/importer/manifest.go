// Package importer creates and updates studies and their image rows from
// a YAML manifest.
package importer

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrInvalidManifest is returned for a manifest that cannot be imported.
var ErrInvalidManifest = errors.New("invalid manifest")

// Unknown fills study fields the manifest leaves empty.
const Unknown = "unknown"

// Manifest lists the studies to import.
type Manifest struct {
	Studies []StudyEntry `yaml:"studies"`
}

// StudyEntry describes one study and how many images it has.
type StudyEntry struct {
	UID              string `yaml:"uid"`
	Site             string `yaml:"site,omitempty"`
	Interviewer      string `yaml:"interviewer,omitempty"`
	DatetimeAcquired string `yaml:"datetime_acquired,omitempty"`
	Images           int    `yaml:"images"`
}

// ReadManifest reads and validates a manifest file.
func ReadManifest(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close()
	return ParseManifest(f)
}

// ParseManifest decodes and validates a manifest. Unknown keys are errors.
func ParseManifest(r io.Reader) (*Manifest, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var m Manifest
	if err := dec.Decode(&m); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks that every entry has a unique uid and a non-negative
// image count.
func (m *Manifest) Validate() error {
	seen := make(map[string]bool, len(m.Studies))
	for i, s := range m.Studies {
		if s.UID == "" {
			return fmt.Errorf("%w: study %d has no uid", ErrInvalidManifest, i+1)
		}
		if seen[s.UID] {
			return fmt.Errorf("%w: duplicate study uid %q", ErrInvalidManifest, s.UID)
		}
		seen[s.UID] = true
		if s.Images < 0 {
			return fmt.Errorf("%w: study %q has a negative image count", ErrInvalidManifest, s.UID)
		}
	}
	return nil
}
