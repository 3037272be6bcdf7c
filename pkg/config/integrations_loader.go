package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/reins-ai/agentd/pkg/integration"
)

// BundledManifest is one entry of the `integrations.yaml` file the daemon
// loads at startup to register its built-in integrations as disabled
// (§4.9, §6 "integrations[]" config input).
type BundledManifest struct {
	ID          string                 `yaml:"id" json:"id"`
	Name        string                 `yaml:"name" json:"name"`
	Description string                 `yaml:"description" json:"description"`
	Version     string                 `yaml:"version" json:"version"`
	Author      string                 `yaml:"author" json:"author"`
	Category    string                 `yaml:"category" json:"category"`
	Auth        string                 `yaml:"auth" json:"auth"`
	Permissions []string               `yaml:"permissions" json:"permissions"`
	Platforms   []string               `yaml:"platforms" json:"platforms"`
	Operations  []BundledOperation     `yaml:"operations" json:"operations"`
}

// BundledOperation mirrors integration.Operation in yaml form.
type BundledOperation struct {
	Name             string         `yaml:"name" json:"name"`
	Description      string         `yaml:"description" json:"description"`
	ParametersSchema map[string]any `yaml:"parametersSchema" json:"parametersSchema"`
}

// bundle is the top-level shape of integrations.yaml.
type bundle struct {
	Integrations []BundledManifest `yaml:"integrations"`
}

// LoadIntegrationManifests reads and parses an integrations.yaml file into
// manifests the Integration Service registers as disabled on startup. A
// missing path is not an error: the daemon can start with zero bundled
// integrations.
func LoadIntegrationManifests(path string) ([]integration.Manifest, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var b bundle
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	out := make([]integration.Manifest, 0, len(b.Integrations))
	for _, m := range b.Integrations {
		ops := make([]integration.Operation, 0, len(m.Operations))
		for _, op := range m.Operations {
			ops = append(ops, integration.Operation{
				Name:             op.Name,
				Description:      op.Description,
				ParametersSchema: op.ParametersSchema,
			})
		}
		out = append(out, integration.Manifest{
			ID:          m.ID,
			Name:        m.Name,
			Description: m.Description,
			Version:     m.Version,
			Author:      m.Author,
			Category:    m.Category,
			Auth:        m.Auth,
			Permissions: m.Permissions,
			Platforms:   m.Platforms,
			Operations:  ops,
		})
	}
	return out, nil
}
