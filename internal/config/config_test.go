package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFileMissingReturnsEmpty(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Repositories)
}

func TestLoadFileEmptyRepositoriesErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audb.yaml")
	require.NoError(t, os.WriteFile(path, []byte("repositories: []\n"), 0o644))
	_, err := LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot specify an empty 'repositories:' section")
}

func TestLoadFileMissingHostErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audb.yaml")
	content := "repositories:\n  - name: pub\n    backend: file-system\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	_, err := LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing a 'host' entry")
}

func TestLoadFileValid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audb.yaml")
	content := "cache_root: ~/audb\nrepositories:\n  - name: pub\n    host: /data\n    backend: file-system\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "~/audb", cfg.CacheRoot)
	require.Len(t, cfg.Repositories, 1)
	assert.Equal(t, "pub", cfg.Repositories[0].Name)
}

func TestLoadUserOverridesGlobal(t *testing.T) {
	globalPath := filepath.Join(t.TempDir(), "global.yaml")
	userPath := filepath.Join(t.TempDir(), "user.yaml")
	require.NoError(t, os.WriteFile(globalPath, []byte("cache_root: /global\n"), 0o644))
	require.NoError(t, os.WriteFile(userPath, []byte("cache_root: /user\n"), 0o644))

	cfg, err := Load(globalPath, userPath)
	require.NoError(t, err)
	assert.Equal(t, "/user", cfg.CacheRoot)
}

func TestBackendRepositoriesConvertsLayout(t *testing.T) {
	cfg := &Config{Repositories: []RepositoryEntry{
		{Name: "a", Host: "h", Backend: "file-system", Layout: "maven"},
	}}
	repos := cfg.BackendRepositories()
	require.Len(t, repos, 1)
	assert.Equal(t, "a", repos[0].Name)
}
