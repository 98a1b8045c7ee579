package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadYAML reads a YAML config file. Each top-level key is a section name
// mapping option names to scalar values, e.g.
//
//	purgebelt:
//	  park_pos_x: 10
//	manual_extruder_stepper purge_belt_stepper:
//	  rotation_distance: 22
//
// Sequences are joined with ", " so list options read the same as in
// printer.cfg files.
func LoadYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: unable to open %s: %w", path, err)
	}
	return loadYAML(data, path)
}

// LoadYAMLString parses a YAML config from a string.
func LoadYAMLString(data string) (*Config, error) {
	return loadYAML([]byte(data), "<string>")
}

func loadYAML(data []byte, source string) (*Config, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", source, err)
	}
	c := New()
	if len(doc.Content) == 0 {
		return c, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("config: %s: top level must be a mapping of sections", source)
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		name := strings.TrimSpace(root.Content[i].Value)
		body := root.Content[i+1]
		if name == "" {
			return nil, fmt.Errorf("config: %s line %d: empty section name", source, root.Content[i].Line)
		}
		options := make(map[string]string)
		switch body.Kind {
		case yaml.MappingNode:
			for j := 0; j+1 < len(body.Content); j += 2 {
				value, err := yamlScalar(body.Content[j+1])
				if err != nil {
					return nil, fmt.Errorf("config: %s section '%s' option '%s': %w",
						source, name, body.Content[j].Value, err)
				}
				options[body.Content[j].Value] = value
			}
		case yaml.ScalarNode:
			// "section:" with no body, e.g. an empty [printer]
			if body.Value != "" && body.Tag != "!!null" {
				return nil, fmt.Errorf("config: %s section '%s' must be a mapping", source, name)
			}
		default:
			return nil, fmt.Errorf("config: %s section '%s' must be a mapping", source, name)
		}
		c.addSection(name, options)
	}
	return c, nil
}

func yamlScalar(n *yaml.Node) (string, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		if n.Tag == "!!null" {
			return "", nil
		}
		return n.Value, nil
	case yaml.SequenceNode:
		parts := make([]string, 0, len(n.Content))
		for _, item := range n.Content {
			if item.Kind != yaml.ScalarNode {
				return "", fmt.Errorf("nested values are not supported")
			}
			parts = append(parts, item.Value)
		}
		return strings.Join(parts, ", "), nil
	default:
		return "", fmt.Errorf("nested values are not supported")
	}
}
