package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lance13c/portalpilot/internal/resolver"
	"gopkg.in/yaml.v3"
)

// Declaration is one declaration bundle to submit
type Declaration struct {
	ID   string
	Data resolver.Bundle
}

// LoadDeclaration reads a YAML or JSON declaration file. The id is taken
// from "id" or "declaration.id", falling back to the file name.
func LoadDeclaration(path string) (*Declaration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read declaration: %w", err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	d, err := ParseDeclaration(data, name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

// ParseDeclaration decodes a declaration bundle
func ParseDeclaration(data []byte, fallbackID string) (*Declaration, error) {
	var bundle map[string]interface{}
	if err := yaml.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("failed to parse declaration: %w", err)
	}
	if bundle == nil {
		return nil, fmt.Errorf("declaration is empty")
	}
	d := &Declaration{ID: fallbackID, Data: resolver.Bundle(bundle)}
	for _, path := range []string{"id", "declaration.id"} {
		if v, ok := d.Data.Lookup(path); ok {
			if s := strings.TrimSpace(fmt.Sprint(v)); s != "" {
				d.ID = s
				break
			}
		}
	}
	if d.ID == "" {
		return nil, fmt.Errorf("declaration has no id")
	}
	return d, nil
}
