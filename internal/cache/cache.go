// Package cache computes the per-database, per-version, per-flavor
// cache paths (C2): user vs shared cache root resolution and the tmp
// sibling folders used for atomic installs.
//
// Grounded on _examples/original_source/audb/core/cache.py
// (database_cache_root / database_tmp_root / default_cache_root).
package cache

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/rcowham/audb-go/internal/define"
)

// DefaultCacheRoot returns the configured cache root, overridden by the
// matching environment variable when set (§6.4).
func DefaultCacheRoot(shared bool, configured string) string {
	env := define.EnvCacheRoot
	if shared {
		env = define.EnvSharedCacheRoot
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	return configured
}

// DatabaseRoot computes the cache subpath for (name, version[, flavor
// short id]), preferring the shared root when it already contains the
// target, creating missing directories (§3.4, §4.2).
func DatabaseRoot(name, version, userRoot, sharedRoot, flavorShortID string) (string, error) {
	rel := []string{name, version}
	if flavorShortID != "" {
		rel = append(rel, flavorShortID)
	}

	sharedPath := filepath.Join(append([]string{sharedRoot}, rel...)...)
	if sharedRoot != "" {
		if info, err := os.Stat(sharedPath); err == nil && info.IsDir() {
			return sharedPath, nil
		}
	}

	userPath := filepath.Join(append([]string{userRoot}, rel...)...)
	if err := os.MkdirAll(userPath, 0o755); err != nil {
		return "", errors.Wrapf(err, "create cache root %q", userPath)
	}
	return userPath, nil
}

// TmpRoot returns the atomic-install staging sibling of root
// (root + "~"), created if missing.
func TmpRoot(root string) (string, error) {
	tmp := root + define.TmpSuffix
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		return "", errors.Wrapf(err, "create tmp root %q", tmp)
	}
	return tmp, nil
}
