package load

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcowham/audb-go/internal/audiofmt"
	"github.com/rcowham/audb-go/internal/backend"
	"github.com/rcowham/audb-go/internal/flavor"
	"github.com/rcowham/audb-go/internal/header"
	"github.com/rcowham/audb-go/internal/publish"
)

func publishSample(t *testing.T, repo backend.Repository, version string) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "db.table1.parquet"), []byte("table-bytes"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "media"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "media", "file1.wav"), []byte("wav:file1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "media", "file2.wav"), []byte("wav:file2"), 0o644))

	db := header.NewDatabase("db")
	db.Tables["table1"] = &header.Table{Kind: header.Filewise, Files: []string{"media/file1.wav", "media/file2.wav"}}

	_, err := publish.Publish(publish.Options{
		BuildRoot: root, Name: "db", Version: version,
		FromScratch: version == "1.0.0", PreviousVersion: versionBefore(version),
		Repository: repo, Header: db,
	})
	require.NoError(t, err)
}

func versionBefore(v string) string {
	if v == "1.0.0" {
		return ""
	}
	return "1.0.0"
}

func publishAudioSample(t *testing.T, repo backend.Repository, version string) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "db.table1.parquet"), []byte("table-bytes"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "media"), 0o755))

	sig := audiofmt.Signal{Channels: [][]float64{make([]float64, 200)}, SamplingRate: 16000}
	require.NoError(t, audiofmt.Write(filepath.Join(root, "media", "file1.wav"), sig, 16))

	db := header.NewDatabase("db")
	db.Tables["table1"] = &header.Table{Kind: header.Filewise, Files: []string{"media/file1.wav"}}

	_, err := publish.Publish(publish.Options{
		BuildRoot: root, Name: "db", Version: version,
		FromScratch: version == "1.0.0", PreviousVersion: versionBefore(version),
		Repository: repo, Header: db,
	})
	require.NoError(t, err)
}

func newTestRepo(t *testing.T) backend.Repository {
	t.Helper()
	return backend.Repository{Name: "pub", Host: t.TempDir(), Backend: "file-system", Layout: backend.LayoutVersioned}
}

func TestLoadRawDatabase(t *testing.T) {
	repo := newTestRepo(t)
	publishSample(t, repo, "1.0.0")

	res, err := Load(Options{
		Name: "db", Version: "1.0.0",
		Repositories: []backend.Repository{repo},
		CacheRoot:    t.TempDir(),
	})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Complete)

	data, err := os.ReadFile(filepath.Join(res.Root, "media", "file1.wav"))
	require.NoError(t, err)
	assert.Equal(t, "wav:file1", string(data))
}

func TestLoadResolvesLatestVersion(t *testing.T) {
	repo := newTestRepo(t)
	publishSample(t, repo, "1.0.0")

	res, err := Load(Options{
		Name: "db", // Version left empty
		Repositories: []backend.Repository{repo},
		CacheRoot:    t.TempDir(),
	})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "1.0.0", res.Version)
}

func TestLoadToChecksumsExistingFiles(t *testing.T) {
	repo := newTestRepo(t)
	publishSample(t, repo, "1.0.0")

	dest := t.TempDir()
	deps, err := LoadTo(ToOptions{
		Root: dest, Name: "db", Version: "1.0.0",
		Repositories: []backend.Repository{repo},
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"media/file1.wav", "media/file2.wav"}, deps.Media())

	data, err := os.ReadFile(filepath.Join(dest, "media", "file1.wav"))
	require.NoError(t, err)
	assert.Equal(t, "wav:file1", string(data))

	// Re-running with the file already present and unchanged must not error.
	_, err = LoadTo(ToOptions{
		Root: dest, Name: "db", Version: "1.0.0",
		Repositories: []backend.Repository{repo},
	})
	require.NoError(t, err)
}

func TestLoadWithFormatFlavorIsCompleteAndIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	publishAudioSample(t, repo, "1.0.0")

	fl, err := flavor.New(flavor.Options{Format: "flac"})
	require.NoError(t, err)

	cache := t.TempDir()
	res, err := Load(Options{
		Name: "db", Version: "1.0.0",
		Repositories: []backend.Repository{repo},
		CacheRoot:    cache,
		Flavor:       fl,
	})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Complete)

	converted := filepath.Join(res.Root, "media", "file1.flac")
	info1, err := os.Stat(converted)
	require.NoError(t, err)

	// A second Load with the same flavor must find the already-converted
	// file in place (via destinationFor) rather than treating it as
	// missing and re-downloading/re-converting it.
	res2, err := Load(Options{
		Name: "db", Version: "1.0.0",
		Repositories: []backend.Repository{repo},
		CacheRoot:    cache,
		Flavor:       fl,
	})
	require.NoError(t, err)
	require.NotNil(t, res2)
	assert.True(t, res2.Complete)

	info2, err := os.Stat(converted)
	require.NoError(t, err)
	assert.Equal(t, info1.ModTime(), info2.ModTime())
}

func TestRemoveMediaTombstonesAcrossVersion(t *testing.T) {
	repo := newTestRepo(t)
	publishSample(t, repo, "1.0.0")

	err := RemoveMedia(RemoveMediaOptions{
		Name: "db", Files: []string{"media/file2.wav"},
		Versions: []string{"1.0.0"}, Repository: repo,
	})
	require.NoError(t, err)

	res, err := Load(Options{
		Name: "db", Version: "1.0.0",
		Repositories: []backend.Repository{repo},
		CacheRoot:    t.TempDir(),
	})
	require.NoError(t, err)
	require.NotNil(t, res)

	removed, err := res.Dependencies.Removed("media/file2.wav")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.True(t, res.Complete) // tombstoned media is excluded from completeness
}
