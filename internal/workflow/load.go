package workflow

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads and decodes a descriptor file. YAML and JSON documents are
// both accepted; JSON is a YAML subset.
func Load(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow descriptor: %w", err)
	}
	return Parse(data)
}

// Parse decodes a descriptor document.
func Parse(data []byte) (*Descriptor, error) {
	var d Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse workflow descriptor: %w", err)
	}
	return &d, nil
}

func parseGeneric(data []byte) (map[string]any, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse workflow descriptor: %w", err)
	}
	return doc, nil
}
