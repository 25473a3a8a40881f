package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// LocatorEntry is one element lookup in a markup file. Strategy is "xpath"
// (default) or "css".
type LocatorEntry struct {
	Strategy string `yaml:"strategy"`
	Expr     string `yaml:"expr"`
}

// MarkupFile overrides the site's element contract without a rebuild.
// Entries left empty keep the built-in locator.
type MarkupFile struct {
	ConsentButton  LocatorEntry `yaml:"consent_button"`
	StudiosTrigger LocatorEntry `yaml:"studios_trigger"`
	StudiosList    LocatorEntry `yaml:"studios_list"`
	StudioLink     LocatorEntry `yaml:"studio_link"`
	Percentage     LocatorEntry `yaml:"percentage"`
}

// LoadMarkup reads and validates a markup YAML file.
func LoadMarkup(path string) (*MarkupFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("markup config: %w", err)
	}
	var m MarkupFile
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("markup config: %w", err)
	}
	entries := map[string]*LocatorEntry{
		"consent_button":  &m.ConsentButton,
		"studios_trigger": &m.StudiosTrigger,
		"studios_list":    &m.StudiosList,
		"studio_link":     &m.StudioLink,
		"percentage":      &m.Percentage,
	}
	for name, e := range entries {
		e.Strategy = strings.ToLower(strings.TrimSpace(e.Strategy))
		switch e.Strategy {
		case "":
			if e.Expr != "" {
				e.Strategy = "xpath"
			}
		case "xpath", "css":
			if e.Expr == "" {
				return nil, fmt.Errorf("markup config: %s has a strategy but no expr", name)
			}
		default:
			return nil, fmt.Errorf("markup config: %s strategy must be xpath or css, got %q", name, e.Strategy)
		}
	}
	return &m, nil
}
