// Package lock implements the cooperative per-folder cache lock (C1):
// a sentinel ".lock" file per folder, acquired via an advisory flock so
// that a hard-killed holder never wedges a future acquisition.
//
// Grounded on _examples/original_source/audb/core/lock.py (FolderLock /
// filelock.SoftFileLock semantics): stable sort of the lock set, timeout
// polarity (<0 block, =0 fail-fast, >0 wait), guaranteed release on
// scope exit.
package lock

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/rcowham/audb-go/internal/define"
)

// ErrTimeout is returned when a lock could not be acquired within the
// requested timeout.
var ErrTimeout = errors.New("lock: timed out acquiring folder lock")

const pollInterval = 50 * time.Millisecond

// FolderLock holds an advisory lock on one or more folders for the
// duration of a scoped region.
type FolderLock struct {
	folders []string
	files   []*os.File
}

// Lock acquires a lock on every folder in paths, in stable lexicographic
// order (to avoid deadlock when two callers request overlapping sets),
// each created if missing. timeout<0 blocks indefinitely; timeout==0 is
// non-blocking; timeout>0 waits at most that long per folder.
func Lock(paths []string, timeout time.Duration, log *logrus.Logger) (*FolderLock, error) {
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)

	fl := &FolderLock{folders: sorted}
	for _, dir := range sorted {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fl.Unlock()
			return nil, errors.Wrapf(err, "create lock folder %q", dir)
		}
		f, err := acquireOne(filepath.Join(dir, define.LockFile), timeout, log)
		if err != nil {
			fl.Unlock()
			return nil, err
		}
		fl.files = append(fl.files, f)
	}
	return fl, nil
}

func acquireOne(path string, timeout time.Duration, log *logrus.Logger) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open lock sentinel %q", path)
	}

	switch {
	case timeout < 0:
		if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
			f.Close()
			return nil, errors.Wrapf(err, "flock %q", path)
		}
		return f, nil
	case timeout == 0:
		if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
			f.Close()
			if log != nil {
				log.WithField("folder", path).Debug("lock: non-blocking acquire failed")
			}
			return nil, ErrTimeout
		}
		return f, nil
	default:
		deadline := time.Now().Add(timeout)
		for {
			err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
			if err == nil {
				return f, nil
			}
			if time.Now().After(deadline) {
				f.Close()
				return nil, ErrTimeout
			}
			time.Sleep(pollInterval)
		}
	}
}

// Unlock releases every held lock, best-effort, reverse acquisition
// order (spec.md §9: "release is reverse-order best-effort but not
// required for correctness").
func (fl *FolderLock) Unlock() error {
	var firstErr error
	for i := len(fl.files) - 1; i >= 0; i-- {
		f := fl.files[i]
		if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil && firstErr == nil {
			firstErr = err
		}
		f.Close()
	}
	fl.files = nil
	return firstErr
}

// With acquires locks on paths, runs fn, and releases them on every
// return path (spec.md §4.1: "release is guaranteed on all exit paths
// of the scoped region").
func With(paths []string, timeout time.Duration, log *logrus.Logger, fn func() error) error {
	fl, err := Lock(paths, timeout, log)
	if err != nil {
		return err
	}
	defer fl.Unlock()
	return fn()
}
