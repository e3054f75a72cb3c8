package lock

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockUnlockRoundTrip(t *testing.T) {
	dir := t.TempDir()
	fl, err := Lock([]string{dir}, 0, nil)
	require.NoError(t, err)
	require.NoError(t, fl.Unlock())
}

func TestNonBlockingTimeoutWhenHeld(t *testing.T) {
	dir := t.TempDir()
	first, err := Lock([]string{dir}, -1, nil)
	require.NoError(t, err)
	defer first.Unlock()

	_, err = Lock([]string{dir}, 0, nil)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestMultiFolderStableOrder(t *testing.T) {
	dir := t.TempDir()
	b := filepath.Join(dir, "b")
	a := filepath.Join(dir, "a")

	fl, err := Lock([]string{b, a}, 0, nil)
	require.NoError(t, err)
	defer fl.Unlock()
	assert.Equal(t, []string{a, b}, fl.folders)
}

func TestWithReleasesOnReturn(t *testing.T) {
	dir := t.TempDir()
	err := With([]string{dir}, 0, nil, func() error { return nil })
	require.NoError(t, err)

	// lock must be free again
	fl, err := Lock([]string{dir}, 0, nil)
	require.NoError(t, err)
	fl.Unlock()
}
