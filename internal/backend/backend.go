// Package backend is the uniform storage-backend interface (C5) and a
// concrete filesystem-rooted driver used by tests, the CLI's local
// mode, and as the reference implementation for the two supported
// remote layout conventions.
//
// Grounded on _examples/original_source/audb/core/repository.py
// (Maven vs Versioned layout selection) and the teacher's
// CreateArchiveFile / blob-dedup pattern in main.go, adapted from gzip
// blobs to zip archives (spec.md §6.2 mandates ".zip").
package backend

import (
	"time"
)

// Entry is one (path, version) pair returned by Ls.
type Entry struct {
	Path    string
	Version string
}

// Interface is the set of operations the core consumes from a backend
// driver (§4.5), safe to call concurrently from worker pools.
type Interface interface {
	Join(segments ...string) string
	Ls(path string) ([]Entry, error)
	Exists(path, version string) (bool, error)
	Versions(path string) ([]string, error)
	GetFile(remote, local, version string) error
	GetArchive(remote, localRoot, version, tmpRoot string) ([]string, error)
	PutFile(local, remote, version string) error
	PutArchive(localRoot, remote, version string, files []string) error

	// Semantic path builders. The choice of remote layout (§6.3) is a
	// property of the backend instance and opaque beyond this point:
	// callers never hand-assemble a Maven vs flat-versioned path.
	HeaderPath(name, version string) string
	DependencyPath(name, version, ext string) string
	TableArchivePath(name, tableID, version string) string
	TableColumnarPath(name, tableID, version string) string
	MediaArchivePath(name, archive, version string) string
	AttachmentArchivePath(name, attachmentID, version string) string
}

// Factory constructs a backend Interface rooted at host for the given
// layout. Registered by name via Register (§9 "dynamic dispatch over
// backends is a small interface with a registry").
type Factory func(host string, layout LayoutKind) (Interface, error)

var registry = map[string]Factory{}

// Register adds a named backend factory (e.g. "file-system", "s3").
func Register(name string, f Factory) {
	registry[name] = f
}

// New constructs the named backend's Interface.
func New(name, host string, layout LayoutKind) (Interface, error) {
	f, ok := registry[name]
	if !ok {
		return nil, newNotRegisteredError(name)
	}
	return f(host, layout)
}

func init() {
	Register("file-system", func(host string, layout LayoutKind) (Interface, error) {
		return NewFilesystem(host, layout), nil
	})
}

// defaultTimeout is a 30-second timeout value for backend probe
// operations. No code in this module reads it: the filesystem driver
// and the lookup algorithm run their probes without a timeout.
const defaultTimeout = 30 * time.Second
