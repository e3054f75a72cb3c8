package backend

import "github.com/pkg/errors"

// ErrNotFound is returned when a path/version is not present in this
// backend (maps to the "Not-found" error kind, §7).
var ErrNotFound = errors.New("backend: not found")

func newNotRegisteredError(name string) error {
	return errors.Errorf("backend: no factory registered for %q", name)
}
