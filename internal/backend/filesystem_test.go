package backend

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilesystemPutGetFileRoundTrip(t *testing.T) {
	remoteRoot := t.TempDir()
	fs := NewFilesystem(remoteRoot, LayoutVersioned)

	localDir := t.TempDir()
	local := filepath.Join(localDir, "db.yaml")
	require.NoError(t, os.WriteFile(local, []byte("name: db\n"), 0o644))

	remote := fs.HeaderPath("db", "1.0.0")
	require.NoError(t, fs.PutFile(local, remote, "1.0.0"))

	ok, err := fs.Exists(remote, "")
	require.NoError(t, err)
	assert.True(t, ok)

	got := filepath.Join(localDir, "got.yaml")
	require.NoError(t, fs.GetFile(remote, got, "1.0.0"))
	data, err := os.ReadFile(got)
	require.NoError(t, err)
	assert.Equal(t, "name: db\n", string(data))
}

func TestFilesystemArchiveRoundTrip(t *testing.T) {
	remoteRoot := t.TempDir()
	fs := NewFilesystem(remoteRoot, LayoutVersioned)

	buildDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(buildDir, "a.wav"), []byte("A"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(buildDir, "b.wav"), []byte("B"), 0o644))

	remote := fs.MediaArchivePath("db", "arch1", "1.0.0")
	require.NoError(t, fs.PutArchive(buildDir, remote, "1.0.0", []string{"a.wav", "b.wav"}))

	extractDir := t.TempDir()
	members, err := fs.GetArchive(remote, extractDir, "1.0.0", extractDir+"~")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.wav", "b.wav"}, members)

	data, err := os.ReadFile(filepath.Join(extractDir, "a.wav"))
	require.NoError(t, err)
	assert.Equal(t, "A", string(data))
}

func TestFilesystemVersionsSorted(t *testing.T) {
	remoteRoot := t.TempDir()
	fs := NewFilesystem(remoteRoot, LayoutVersioned)
	for _, v := range []string{"2.0.0", "1.0.0"} {
		require.NoError(t, os.MkdirAll(filepath.Join(remoteRoot, "db", v), 0o755))
	}
	versions, err := fs.Versions("db")
	require.NoError(t, err)
	assert.Equal(t, []string{"1.0.0", "2.0.0"}, versions)
}

func TestLayoutPathShapes(t *testing.T) {
	maven := NewFilesystem(t.TempDir(), LayoutMaven)
	assert.Equal(t, "db/db/1.0.0/db-1.0.0.yaml", maven.HeaderPath("db", "1.0.0"))

	flat := NewFilesystem(t.TempDir(), LayoutVersioned)
	assert.Equal(t, "db/1.0.0/db.yaml", flat.HeaderPath("db", "1.0.0"))
}

func TestRepositoryCreateInterface(t *testing.T) {
	repo := Repository{Name: "public", Host: t.TempDir(), Backend: "file-system", Layout: LayoutVersioned}
	iface, err := repo.CreateInterface()
	require.NoError(t, err)
	assert.NotNil(t, iface)
}
