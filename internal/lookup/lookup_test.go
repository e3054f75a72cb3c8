package lookup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcowham/audb-go/internal/backend"
)

func setupRepo(t *testing.T, name, version string) backend.Repository {
	t.Helper()
	root := t.TempDir()
	repo := backend.Repository{Name: "r", Host: root, Backend: "file-system", Layout: backend.LayoutVersioned}
	iface, err := repo.CreateInterface()
	require.NoError(t, err)
	header := iface.HeaderPath(name, version)
	local := filepath.Join(t.TempDir(), "db.yaml")
	require.NoError(t, os.WriteFile(local, []byte("name: db\n"), 0o644))
	require.NoError(t, iface.PutFile(local, header, version))
	return repo
}

func TestDatabaseFindsFirstMatchingRepository(t *testing.T) {
	repo := setupRepo(t, "db", "1.0.0")
	found, err := Database([]backend.Repository{repo}, "db", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, repo.Name, found.Repository.Name)
}

func TestDatabaseNotFoundMessage(t *testing.T) {
	repo := setupRepo(t, "db", "1.0.0")
	_, err := Database([]backend.Repository{repo}, "db", "9.9.9")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Cannot find version 9.9.9 for database 'db'.")
}

func TestLatestVersionPicksGreatest(t *testing.T) {
	repo := setupRepo(t, "db", "1.0.0")
	iface, err := repo.CreateInterface()
	require.NoError(t, err)
	local := filepath.Join(t.TempDir(), "db.yaml")
	require.NoError(t, os.WriteFile(local, []byte("name: db\n"), 0o644))
	require.NoError(t, iface.PutFile(local, iface.HeaderPath("db", "2.0.0"), "2.0.0"))

	v, err := LatestVersion([]backend.Repository{repo}, "db")
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", v)
}
