// Package lookup implements the repository-iteration lookup algorithm
// of spec.md §4.5: for (name, version), probe each configured
// repository's header path in order; the first to report it exists
// wins.
//
// Grounded on _examples/original_source/audb/core/utils.py
// (lookup_backend / repository / _lookup), including its exact error
// message.
package lookup

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/rcowham/audb-go/internal/backend"
)

// Found pairs a matching repository with its instantiated backend.
type Found struct {
	Repository backend.Repository
	Backend    backend.Interface
}

// Database finds the first repository (in configured order) whose
// header exists at (name, version).
func Database(repos []backend.Repository, name, version string) (Found, error) {
	for _, repo := range repos {
		iface, err := repo.CreateInterface()
		if err != nil {
			continue // repository-level errors are swallowed (§4.5)
		}
		header := iface.HeaderPath(name, version)
		ok, err := iface.Exists(header, "")
		if err != nil {
			continue
		}
		if ok {
			return Found{Repository: repo, Backend: iface}, nil
		}
	}
	return Found{}, errors.Errorf("Cannot find version %s for database '%s'.", version, name)
}

// LatestVersion returns the lexicographically greatest semver across
// every configured repository that has a header present (§4.7.1).
func LatestVersion(repos []backend.Repository, name string) (string, error) {
	versionSet := map[string]bool{}
	for _, repo := range repos {
		iface, err := repo.CreateInterface()
		if err != nil {
			continue
		}
		versions, err := iface.Versions(name)
		if err != nil {
			continue
		}
		for _, v := range versions {
			header := iface.HeaderPath(name, v)
			if ok, _ := iface.Exists(header, ""); ok {
				versionSet[v] = true
			}
		}
	}
	if len(versionSet) == 0 {
		return "", errors.Errorf("Cannot find version for database '%s'.", name)
	}
	all := make([]string, 0, len(versionSet))
	for v := range versionSet {
		all = append(all, v)
	}
	sort.Strings(all)
	return all[len(all)-1], nil
}

// AvailableDatabases lists (name, versions) across every repository.
// Repository-level errors are swallowed; the next repository is tried.
func AvailableDatabases(repos []backend.Repository) map[string][]string {
	out := map[string][]string{}
	for _, repo := range repos {
		iface, err := repo.CreateInterface()
		if err != nil {
			continue
		}
		entries, err := iface.Ls("")
		if err != nil {
			continue
		}
		for _, e := range entries {
			versions, err := iface.Versions(e.Path)
			if err != nil {
				continue
			}
			for _, v := range versions {
				if ok, _ := iface.Exists(iface.HeaderPath(e.Path, v), ""); ok {
					out[e.Path] = append(out[e.Path], v)
				}
			}
		}
	}
	for name, versions := range out {
		sort.Strings(versions)
		out[name] = versions
	}
	return out
}
