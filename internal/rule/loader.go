package rule

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type rulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadFile reads a declarative rules file and registers its rules into the
// store. The file is a YAML document with a top-level `rules` list.
func LoadFile(path string, store *Store) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read rules file: %w", err)
	}

	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return 0, fmt.Errorf("failed to parse rules file %s: %w", path, err)
	}

	for i, r := range f.Rules {
		if err := store.Register(r); err != nil {
			return i, fmt.Errorf("rules[%d]: %w", i, err)
		}
	}
	return len(f.Rules), nil
}
