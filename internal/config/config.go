// Package config loads audb-go's YAML configuration: cache roots and
// the ordered repository list (§6.4).
//
// Grounded on the teacher's config/config.go (yaml.Unmarshal +
// LoadConfigFile/LoadConfigString split) and on the exact validation
// error strings of
// _examples/original_source/audb/core/config.py
// (load_configuration_file / load_config).
package config

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/rcowham/audb-go/internal/backend"
)

// RepositoryEntry is one "repositories:" list item.
type RepositoryEntry struct {
	Name    string `yaml:"name"`
	Host    string `yaml:"host"`
	Backend string `yaml:"backend"`
	Layout  string `yaml:"layout"` // "versioned" (default) or "maven"
}

// Config is the parsed contents of a user/global config file.
type Config struct {
	CacheRoot       string            `yaml:"cache_root"`
	SharedCacheRoot string            `yaml:"shared_cache_root"`
	Repositories    []RepositoryEntry `yaml:"repositories"`
}

// rawDoc is used only to validate the repositories section the way the
// original implementation does: by key presence on the raw YAML map,
// before committing to the typed Config.
type rawDoc struct {
	Repositories []map[string]interface{} `yaml:"repositories"`
}

// LoadFile reads and validates a YAML config file. A missing file
// returns an empty Config and no error, matching
// load_configuration_file's "file doesn't have to exist" contract.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, errors.Wrapf(err, "read config file %q", path)
	}
	return LoadString(string(data), path)
}

// LoadString parses raw YAML content; path is used only for error
// messages (mirrors USER_CONFIG_FILE in the original error strings).
func LoadString(data, path string) (*Config, error) {
	var raw rawDoc
	if err := yaml.Unmarshal([]byte(data), &raw); err != nil {
		return nil, errors.Wrapf(err, "parse config file %q", path)
	}
	var keys map[string]interface{}
	if err := yaml.Unmarshal([]byte(data), &keys); err != nil {
		return nil, errors.Wrapf(err, "parse config file %q", path)
	}
	if _, hasRepos := keys["repositories"]; hasRepos {
		if len(raw.Repositories) == 0 {
			return nil, fmt.Errorf(
				"You cannot specify an empty 'repositories:' section in the configuration file '%s'.",
				path,
			)
		}
		for _, repo := range raw.Repositories {
			if _, ok := repo["host"]; !ok {
				return nil, fmt.Errorf("Your repository is missing a 'host' entry: '%v'.", repo)
			}
			if _, ok := repo["backend"]; !ok {
				return nil, fmt.Errorf("Your repository is missing a 'backend' entry: '%v'.", repo)
			}
			if _, ok := repo["name"]; !ok {
				return nil, fmt.Errorf("Your repository is missing a 'name' entry: '%v'.", repo)
			}
		}
	}

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(data), cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config file %q", path)
	}
	return cfg, nil
}

// Load reads the global config file then the user config file, the
// latter overriding the former field-by-field when set (§6.4,
// load_config's precedence).
func Load(globalPath, userPath string) (*Config, error) {
	global, err := LoadFile(globalPath)
	if err != nil {
		return nil, err
	}
	user, err := LoadFile(userPath)
	if err != nil {
		return nil, err
	}

	merged := *global
	if user.CacheRoot != "" {
		merged.CacheRoot = user.CacheRoot
	}
	if user.SharedCacheRoot != "" {
		merged.SharedCacheRoot = user.SharedCacheRoot
	}
	if user.Repositories != nil {
		merged.Repositories = user.Repositories
	}
	return &merged, nil
}

// BackendRepositories converts the config's repository entries into
// backend.Repository values.
func (c *Config) BackendRepositories() []backend.Repository {
	out := make([]backend.Repository, 0, len(c.Repositories))
	for _, r := range c.Repositories {
		layout := backend.LayoutVersioned
		if r.Layout == "maven" {
			layout = backend.LayoutMaven
		}
		out = append(out, backend.Repository{
			Name: r.Name, Host: r.Host, Backend: r.Backend, Layout: layout,
		})
	}
	return out
}
