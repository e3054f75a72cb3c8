package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcowham/audb-go/internal/define"
)

func TestDefaultCacheRootEnvOverride(t *testing.T) {
	os.Setenv(define.EnvCacheRoot, "/tmp/override")
	defer os.Unsetenv(define.EnvCacheRoot)
	assert.Equal(t, "/tmp/override", DefaultCacheRoot(false, "/configured"))
}

func TestDefaultCacheRootFallsBackToConfigured(t *testing.T) {
	os.Unsetenv(define.EnvCacheRoot)
	assert.Equal(t, "/configured", DefaultCacheRoot(false, "/configured"))
}

func TestDatabaseRootPrefersExistingSharedRoot(t *testing.T) {
	dir := t.TempDir()
	shared := filepath.Join(dir, "shared")
	user := filepath.Join(dir, "user")
	require.NoError(t, os.MkdirAll(filepath.Join(shared, "db", "1.0.0"), 0o755))

	root, err := DatabaseRoot("db", "1.0.0", user, shared, "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(shared, "db", "1.0.0"), root)
}

func TestDatabaseRootCreatesUserRootWhenNoSharedMatch(t *testing.T) {
	dir := t.TempDir()
	shared := filepath.Join(dir, "shared")
	user := filepath.Join(dir, "user")

	root, err := DatabaseRoot("db", "1.0.0", user, shared, "abcd1234")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(user, "db", "1.0.0", "abcd1234"), root)
	info, err := os.Stat(root)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestTmpRoot(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "db", "1.0.0")
	tmp, err := TmpRoot(root)
	require.NoError(t, err)
	assert.Equal(t, root+"~", tmp)
	info, err := os.Stat(tmp)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
