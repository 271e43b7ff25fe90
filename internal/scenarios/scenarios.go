// Package scenarios holds the canned command sequences offered by the demo console.
package scenarios

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed scenarios.yaml
var builtin []byte

type Scenario struct {
	Name     string   `yaml:"name" json:"name"`
	Commands []string `yaml:"commands" json:"commands"`
}

type Category struct {
	Category  string     `yaml:"category" json:"category"`
	Scenarios []Scenario `yaml:"scenarios" json:"scenarios"`
}

// Builtin returns the scenarios shipped with the binary.
func Builtin() ([]Category, error) {
	return Parse(builtin)
}

func Parse(b []byte) ([]Category, error) {
	var cats []Category
	err := yaml.Unmarshal(b, &cats)
	if err != nil {
		return nil, fmt.Errorf("parsing scenarios: %w", err)
	}
	for _, c := range cats {
		for _, s := range c.Scenarios {
			if len(s.Commands) == 0 {
				return nil, fmt.Errorf("scenario %q in %q has no commands", s.Name, c.Category)
			}
		}
	}
	return cats, nil
}
