// Package templates loads interview templates and simulated respondent
// personas from YAML files.
package templates

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/TobiSchelling/parley/internal/models"
)

// Persona describes a simulated respondent.
type Persona struct {
	Name       string   `yaml:"name"`
	Background string   `yaml:"background"`
	Traits     []string `yaml:"traits"`
	// Answers, when present, are replayed verbatim instead of asking a model.
	Answers []string `yaml:"answers"`
}

// LoadTemplate reads an interview template. The template ID defaults to the
// file name without extension.
func LoadTemplate(path string) (*models.Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading template: %w", err)
	}
	var t models.Template
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parsing template %s: %w", path, err)
	}
	if t.ID == "" {
		t.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if len(t.Questions) == 0 {
		return nil, fmt.Errorf("template %s has no questions", path)
	}
	for i, q := range t.Questions {
		if strings.TrimSpace(q.Text) == "" {
			return nil, fmt.Errorf("template %s: question %d has no text", path, i)
		}
	}
	return &t, nil
}

// LoadPersona reads a persona file.
func LoadPersona(path string) (*Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading persona: %w", err)
	}
	var p Persona
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing persona %s: %w", path, err)
	}
	if p.Name == "" {
		p.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return &p, nil
}
