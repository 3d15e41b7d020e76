// ABOUTME: YAML import/export for the models profile table, independent of the KDL/legacy document body.
// ABOUTME: Lets a deployment keep model/provider assignments in a separate file shared across workflows.
package workflow

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

type modelsFile struct {
	Default  string         `yaml:"default,omitempty"`
	Profiles []profileEntry `yaml:"profiles,omitempty"`
}

type profileEntry struct {
	Name            string `yaml:"name"`
	Model           string `yaml:"model,omitempty"`
	Provider        string `yaml:"provider,omitempty"`
	ReasoningEffort string `yaml:"reasoning_effort,omitempty"`
}

// ExportModelsYAML serializes a ModelsDef to YAML, for dumping the resolved
// model/provider table alongside a workflow file.
func ExportModelsYAML(m *ModelsDef) (string, error) {
	if m == nil {
		return "", nil
	}
	file := modelsFile{Default: m.Default}
	for _, p := range m.Profiles {
		file.Profiles = append(file.Profiles, profileEntry{
			Name: p.Name, Model: p.Model, Provider: p.Provider, ReasoningEffort: p.ReasoningEffort,
		})
	}
	out, err := yaml.Marshal(file)
	if err != nil {
		return "", fmt.Errorf("marshaling models yaml: %w", err)
	}
	return string(out), nil
}

// ImportModelsYAML parses a standalone models YAML document, e.g. for
// applying a shared model/provider table across several workflow files.
func ImportModelsYAML(source string) (*ModelsDef, error) {
	var file modelsFile
	if err := yaml.Unmarshal([]byte(source), &file); err != nil {
		return nil, fmt.Errorf("parsing models yaml: %w", err)
	}
	m := &ModelsDef{Default: file.Default}
	for _, p := range file.Profiles {
		m.Profiles = append(m.Profiles, ModelProfile{
			Name: p.Name, Model: p.Model, Provider: p.Provider, ReasoningEffort: p.ReasoningEffort,
		})
	}
	return m, nil
}

// MergeModels overlays override's default/profiles onto base, returning a new
// ModelsDef. Override profiles with the same name replace base profiles.
func MergeModels(base, override *ModelsDef) *ModelsDef {
	if override == nil {
		return base
	}
	if base == nil {
		return override
	}
	merged := &ModelsDef{Default: base.Default}
	if override.Default != "" {
		merged.Default = override.Default
	}
	byName := make(map[string]ModelProfile)
	order := make([]string, 0, len(base.Profiles)+len(override.Profiles))
	for _, p := range base.Profiles {
		byName[p.Name] = p
		order = append(order, p.Name)
	}
	for _, p := range override.Profiles {
		if _, exists := byName[p.Name]; !exists {
			order = append(order, p.Name)
		}
		byName[p.Name] = p
	}
	for _, name := range order {
		merged.Profiles = append(merged.Profiles, byName[name])
	}
	return merged
}
