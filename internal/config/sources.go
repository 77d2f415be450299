// internal/config/sources.go
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"release-tracker/internal/model"
)

// SeedSource is one entry in a sources seed file.
type SeedSource struct {
	Name     string `yaml:"name"`
	Client   string `yaml:"client"`
	RepoURL  string `yaml:"repo_url"`
	RepoType string `yaml:"repo_type"`
}

type seedFile struct {
	Sources []SeedSource `yaml:"sources"`
}

// LoadSeedFile parses a YAML file describing sources to track. Entries
// without a repo_type default to "releases".
func LoadSeedFile(path string) ([]SeedSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}

	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	if len(f.Sources) == 0 {
		return nil, fmt.Errorf("seed file %s contains no sources", path)
	}

	for i := range f.Sources {
		s := &f.Sources[i]
		if s.Name == "" {
			return nil, fmt.Errorf("seed source %d: name is required", i)
		}
		if s.Client == "" {
			return nil, fmt.Errorf("seed source %d (%s): client is required", i, s.Name)
		}
		if s.RepoType == "" {
			s.RepoType = string(model.RepoTypeReleases)
		}
		if !model.RepoType(s.RepoType).Valid() {
			return nil, fmt.Errorf("seed source %d (%s): unknown repo_type %q", i, s.Name, s.RepoType)
		}
	}

	return f.Sources, nil
}
