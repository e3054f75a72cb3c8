package backend

import "github.com/pkg/errors"

// LayoutKind selects one of the two remote path conventions (§6.3).
// One layout per repository is treated as an invariant (spec.md §9 Open
// Question: cross-layout discovery is rejected).
type LayoutKind int

const (
	LayoutVersioned LayoutKind = iota // "<name>/<version>/db.yaml"
	LayoutMaven                      // "<name>/db/<version>/db-<version>.yaml"
)

// Repository is (name, host, backend_kind), §3.5.
type Repository struct {
	Name    string
	Host    string
	Backend string
	Layout  LayoutKind
}

// CreateInterface instantiates this repository's backend driver,
// grounded on Repository.create_backend_interface in
// original_source/audb/core/repository.py.
func (r Repository) CreateInterface() (Interface, error) {
	iface, err := New(r.Backend, r.Host, r.Layout)
	if err != nil {
		return nil, errors.Wrapf(err, "create backend interface for repository %q", r.Name)
	}
	return iface, nil
}
