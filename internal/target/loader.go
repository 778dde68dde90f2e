package target

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loader reads target definitions from YAML files
type Loader struct{}

// NewLoader creates a new target Loader
func NewLoader() *Loader {
	return &Loader{}
}

// LoadDir recursively scans dir for *.yaml and *.yml files, parses and
// validates each target definition.
func (l *Loader) LoadDir(dir string) ([]*Target, error) {
	var targets []*Target
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		t, err := l.LoadFile(path)
		if err != nil {
			return err
		}
		targets = append(targets, t)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", dir, err)
	}
	return targets, nil
}

// LoadFile parses and validates a single target definition file
func (l *Loader) LoadFile(path string) (*Target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	t, err := l.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	t.SourceFile = path
	return t, nil
}

// Parse decodes and validates a target definition
func (l *Loader) Parse(data []byte) (*Target, error) {
	var t Target
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	t.Checksum = fmt.Sprintf("%x", sha256.Sum256(data))
	if err := Validate(&t); err != nil {
		return nil, err
	}
	return &t, nil
}
