package hooks

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Attribution is the user-configurable commit trailer merged into every
// session's settings file. Changing it triggers a re-write for all live
// sessions.
type Attribution struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Trailer string `yaml:"trailer" json:"trailer"`
}

// LoadAttribution reads the attribution settings file. A missing file
// yields the default (enabled, no custom trailer).
func LoadAttribution(path string) (*Attribution, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Attribution{Enabled: true}, nil
	}
	if err != nil {
		return nil, err
	}

	var attr Attribution
	if err := yaml.Unmarshal(data, &attr); err != nil {
		return nil, err
	}
	return &attr, nil
}

// applyAttribution merges attribution keys into the settings map. A nil
// attribution removes the managed keys.
func applyAttribution(settings map[string]any, attr *Attribution) {
	delete(settings, "includeCoAuthoredBy")
	delete(settings, "attributionTrailer")
	if attr == nil {
		return
	}
	settings["includeCoAuthoredBy"] = attr.Enabled
	if attr.Trailer != "" {
		settings["attributionTrailer"] = attr.Trailer
	}
}
