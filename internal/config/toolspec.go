package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ToolSpec is the immutable description of the child program the bridge
// supervises (spec §3).
type ToolSpec struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// LoadToolSpec reads a ToolSpec from a YAML file and resolves every
// `${input:ID}` token in its Args against env lookup. Failure to resolve is
// fatal at startup, per spec §4.6.
func LoadToolSpec(path string, lookup func(string) (string, bool)) (*ToolSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read tool spec %s: %w", path, err)
	}

	var spec ToolSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("config: parse tool spec %s: %w", path, err)
	}
	if spec.Command == "" {
		return nil, fmt.Errorf("config: tool spec %s is missing a command", path)
	}

	resolved, err := ResolveInputs(spec.Args, lookup)
	if err != nil {
		return nil, fmt.Errorf("config: resolve tool spec args: %w", err)
	}
	spec.Args = resolved

	return &spec, nil
}
