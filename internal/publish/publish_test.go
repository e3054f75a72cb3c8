package publish

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcowham/audb-go/internal/backend"
	"github.com/rcowham/audb-go/internal/define"
	"github.com/rcowham/audb-go/internal/header"
)

func newRepo(t *testing.T) backend.Repository {
	t.Helper()
	return backend.Repository{
		Name: "pub", Host: t.TempDir(), Backend: "file-system", Layout: backend.LayoutVersioned,
	}
}

func buildTree(t *testing.T, tableID string, files ...string) (string, *header.Database) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, tableFileName(tableID)), []byte("table-bytes"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "media"), 0o755))
	for _, f := range files {
		require.NoError(t, os.WriteFile(filepath.Join(root, f), []byte("wav:"+f), 0o644))
	}
	db := header.NewDatabase("db")
	db.Tables[tableID] = &header.Table{Kind: header.Filewise, Files: append([]string{}, files...)}
	return root, db
}

func TestPublishFromScratch(t *testing.T) {
	root, db := buildTree(t, "table1", "media/file1.wav", "media/file2.wav")
	repo := newRepo(t)

	res, err := Publish(Options{
		BuildRoot: root, Name: "db", Version: "1.0.0",
		FromScratch: true, Repository: repo, Header: db,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Dependencies.Len()) // 1 table + 2 media
	assert.ElementsMatch(t, []string{"media/file1.wav", "media/file2.wav"}, res.Dependencies.Media())

	iface, err := repo.CreateInterface()
	require.NoError(t, err)
	ok, err := iface.Exists(iface.HeaderPath("db", "1.0.0"), "")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPublishRejectsWhenVersionAlreadyExists(t *testing.T) {
	root, db := buildTree(t, "table1", "media/file1.wav")
	repo := newRepo(t)

	_, err := Publish(Options{BuildRoot: root, Name: "db", Version: "1.0.0", FromScratch: true, Repository: repo, Header: db})
	require.NoError(t, err)

	root2, db2 := buildTree(t, "table1", "media/file1.wav")
	_, err = Publish(Options{BuildRoot: root2, Name: "db", Version: "1.0.0", FromScratch: true, Repository: repo, Header: db2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestPublishFromScratchRejectsExistingDependencyFile(t *testing.T) {
	root, db := buildTree(t, "table1", "media/file1.wav")
	require.NoError(t, os.WriteFile(filepath.Join(root, define.DependencyFile), []byte("x"), 0o644))
	repo := newRepo(t)

	_, err := Publish(Options{BuildRoot: root, Name: "db", Version: "1.0.0", FromScratch: true, Repository: repo, Header: db})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must not contain a dependency table")
}

func TestPublishNonScratchRequiresPreviousDependencyFile(t *testing.T) {
	root, db := buildTree(t, "table1", "media/file1.wav")
	repo := newRepo(t)

	_, err := Publish(Options{BuildRoot: root, Name: "db", Version: "1.0.0", PreviousVersion: "0.9.0", Repository: repo, Header: db})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must contain the previous dependency table")
}

func TestPublishRejectsMissingReferencedFile(t *testing.T) {
	root, db := buildTree(t, "table1") // no media files written to disk
	db.Tables["table1"].Files = []string{"media/missing.wav"}
	repo := newRepo(t)

	_, err := Publish(Options{BuildRoot: root, Name: "db", Version: "1.0.0", FromScratch: true, Repository: repo, Header: db})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing files")
}

func TestPublishTombstonesOrphanedMedia(t *testing.T) {
	repo := newRepo(t)

	root1, db1 := buildTree(t, "table1", "media/file1.wav", "media/file2.wav")
	res1, err := Publish(Options{BuildRoot: root1, Name: "db", Version: "1.0.0", FromScratch: true, Repository: repo, Header: db1})
	require.NoError(t, err)

	root2, db2 := buildTree(t, "table1", "media/file1.wav") // file2 dropped from the table
	prevDepPath := filepath.Join(root2, define.DependencyFile)
	require.NoError(t, res1.Dependencies.Save(prevDepPath))

	res2, err := Publish(Options{
		BuildRoot: root2, Name: "db", Version: "2.0.0",
		PreviousVersion: "1.0.0", Repository: repo, Header: db2,
	})
	require.NoError(t, err)

	removed, err := res2.Dependencies.Removed("media/file2.wav")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = res2.Dependencies.Removed("media/file1.wav")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestPublishRejectsNonPortableDatabase(t *testing.T) {
	root, db := buildTree(t, "table1", "media/file1.wav")
	db.Tables["table1"].Files = []string{"../escape.wav"}
	repo := newRepo(t)

	_, err := Publish(Options{BuildRoot: root, Name: "db", Version: "1.0.0", FromScratch: true, Repository: repo, Header: db})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not portable")
}
