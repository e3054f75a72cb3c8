// Package load implements the load family (C7): resolve a version,
// lock its cache folder, fetch missing artifacts (preferring peer
// cache over the backend), apply the flavor, rewrite table paths and
// compute the completeness flag.
//
// Grounded on _examples/original_source/audb/core/load.py
// (_cached_versions, _database_check_complete, _get_media_from_backend,
// _missing_files, _remove_media, main load()).
package load

import (
	"crypto/md5"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/rcowham/audb-go/internal/backend"
	"github.com/rcowham/audb-go/internal/cache"
	"github.com/rcowham/audb-go/internal/define"
	"github.com/rcowham/audb-go/internal/depend"
	"github.com/rcowham/audb-go/internal/flavor"
	"github.com/rcowham/audb-go/internal/header"
	"github.com/rcowham/audb-go/internal/lock"
	"github.com/rcowham/audb-go/internal/lookup"
)

// Options configures one Load call.
type Options struct {
	Name    string
	Version string // "" resolves to latest_version

	Repositories []backend.Repository

	CacheRoot       string
	SharedCacheRoot string

	Flavor *flavor.Flavor // nil = raw, unconverted media

	Tables []string // nil = all non-misc tables; []string{} = misc label tables only
	Media  []string // nil = all referenced media; []string{} = none

	FullPath bool
	Timeout  time.Duration // cache folder lock timeout; <0 blocks, 0 non-blocking

	// CachedVersionsTimeout bounds the peer-cache scan lock (§4.7.4);
	// zero disables peer-cache reuse entirely.
	CachedVersionsTimeout time.Duration

	Log *logrus.Logger
}

// Result is the materialized local copy of a database.
type Result struct {
	Root         string
	Version      string
	Header       *header.Database
	Dependencies *depend.Dependencies
	Complete     bool
}

func (o Options) logger() *logrus.Logger {
	if o.Log != nil {
		return o.Log
	}
	return logrus.StandardLogger()
}

// Load resolves, downloads and flavor-converts one database version
// into the cache, returning the local result. On a cache-lock timeout
// it returns (nil, nil) and logs a warning (§5 "Cancellation &
// timeouts": "the function returns a null result and emits a
// warning").
func Load(opts Options) (*Result, error) {
	log := opts.logger()

	version := opts.Version
	if version == "" {
		v, err := lookup.LatestVersion(opts.Repositories, opts.Name)
		if err != nil {
			return nil, err
		}
		version = v
	}

	found, err := lookup.Database(opts.Repositories, opts.Name, version)
	if err != nil {
		return nil, err
	}

	shortID := ""
	if opts.Flavor != nil {
		shortID = opts.Flavor.ShortID()
	}
	root, err := cache.DatabaseRoot(opts.Name, version, opts.CacheRoot, opts.SharedCacheRoot, shortID)
	if err != nil {
		return nil, err
	}

	var result *Result
	lockErr := lock.With([]string{root}, opts.Timeout, log, func() error {
		r, err := loadLocked(opts, found.Backend, root, version)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if lockErr != nil {
		if errors.Is(lockErr, lock.ErrTimeout) {
			log.WithField("database", opts.Name).Warn("load: timed out acquiring cache folder lock")
			return nil, nil
		}
		return nil, lockErr
	}
	return result, nil
}

func loadLocked(opts Options, iface backend.Interface, root, version string) (*Result, error) {
	log := opts.logger()

	deps, err := loadDependencies(iface, opts.Name, version, root, log)
	if err != nil {
		return nil, err
	}

	db, err := loadHeader(iface, opts.Name, version, root)
	if err != nil {
		return nil, err
	}

	tableIDs := db.PickTables(opts.Tables)
	labelTables := db.MiscLabelTables()
	allTableIDs := unionSorted(tableIDs, labelTables)

	tmpRoot, err := cache.TmpRoot(root)
	if err != nil {
		return nil, err
	}

	if err := downloadTables(iface, opts.Name, version, root, allTableIDs); err != nil {
		return nil, err
	}

	mediaFiles := db.PickFiles(tableIDs, opts.Media)

	peerRoots := peerCacheRoots(opts, root)
	remaining := reuseFromPeers(mediaFiles, deps, root, peerRoots, opts.CachedVersionsTimeout, opts.Flavor, log)

	if err := downloadMedia(iface, opts.Name, version, root, tmpRoot, deps, remaining, opts.Flavor); err != nil {
		return nil, err
	}

	if err := applyFlavorToMedia(opts.Flavor, root, tmpRoot, mediaFiles); err != nil {
		return nil, err
	}

	if err := downloadAttachments(iface, opts.Name, version, root, db); err != nil {
		return nil, err
	}

	rewritePaths(db, opts.Flavor, opts.FullPath, root)

	complete := isComplete(db, deps, root, opts.Flavor)
	db.Meta.Audb.Root = root
	db.Meta.Audb.Version = version
	if opts.Flavor != nil {
		db.Meta.Audb.Flavor = map[string]interface{}{"id": opts.Flavor.ID()}
	}
	db.Meta.Audb.Complete = complete
	if err := saveHeaderAtomic(db, root); err != nil {
		return nil, err
	}

	return &Result{Root: root, Version: version, Header: db, Dependencies: deps, Complete: complete}, nil
}

func loadDependencies(iface backend.Interface, name, version, root string, log *logrus.Logger) (*depend.Dependencies, error) {
	local := filepath.Join(root, define.DependencyFile)
	deps := depend.New()
	if err := deps.Load(local); err == nil {
		return deps, nil
	}
	log.WithField("database", name).Debug("load: dependency cache miss or corrupt, fetching from backend")
	if err := iface.GetFile(iface.DependencyPath(name, version, "parquet"), local, version); err != nil {
		return nil, errors.Wrap(err, "load: fetch dependency table")
	}
	deps = depend.New()
	if err := deps.Load(local); err != nil {
		return nil, errors.Wrap(err, "load: parse fetched dependency table")
	}
	return deps, nil
}

func loadHeader(iface backend.Interface, name, version, root string) (*header.Database, error) {
	local := filepath.Join(root, define.HeaderFile)
	if data, err := os.ReadFile(local); err == nil {
		return header.Load(data)
	}
	if err := iface.GetFile(iface.HeaderPath(name, version), local, version); err != nil {
		return nil, errors.Wrap(err, "load: fetch header")
	}
	data, err := os.ReadFile(local)
	if err != nil {
		return nil, err
	}
	return header.Load(data)
}

func downloadTables(iface backend.Interface, name, version, root string, tableIDs []string) error {
	for _, id := range tableIDs {
		local := filepath.Join(root, "db."+id+".parquet")
		if _, err := os.Stat(local); err == nil {
			continue
		}
		if err := iface.GetFile(iface.TableColumnarPath(name, id, version), local, version); err != nil {
			return errors.Wrapf(err, "load: fetch table %q", id)
		}
	}
	return nil
}

func unionSorted(a, b []string) []string {
	set := map[string]bool{}
	for _, x := range a {
		set[x] = true
	}
	for _, x := range b {
		set[x] = true
	}
	out := make([]string, 0, len(set))
	for x := range set {
		out = append(out, x)
	}
	sort.Strings(out)
	return out
}

func destinationFor(fl *flavor.Flavor, f string) string {
	if fl == nil {
		return f
	}
	return fl.Destination(f)
}

// peerCacheRoots enumerates sibling version folders of the same
// database and flavor, newest-first (§4.7.4).
func peerCacheRoots(opts Options, root string) []string {
	shortID := ""
	if opts.Flavor != nil {
		shortID = opts.Flavor.ShortID()
	}
	base := filepath.Dir(root) // <cache_root>/<name>
	self := root
	if shortID != "" {
		base = filepath.Dir(filepath.Dir(root)) // strip /<version>/<short_id>
		self = filepath.Dir(root)
	}
	entries, err := os.ReadDir(base)
	if err != nil {
		return nil
	}
	var versions []string
	for _, e := range entries {
		if e.IsDir() && filepath.Join(base, e.Name()) != self && !strings.HasSuffix(e.Name(), define.TmpSuffix) {
			versions = append(versions, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(versions)))
	out := make([]string, 0, len(versions))
	for _, v := range versions {
		p := filepath.Join(base, v)
		if shortID != "" {
			p = filepath.Join(p, shortID)
		}
		out = append(out, p)
	}
	return out
}

// reuseFromPeers copies any missing media that a peer cache already
// holds with a matching checksum, returning the files still missing
// afterward. A zero timeout disables the scan entirely.
func reuseFromPeers(files []string, deps *depend.Dependencies, root string, peerRoots []string, timeout time.Duration, fl *flavor.Flavor, log *logrus.Logger) []string {
	if timeout <= 0 || len(peerRoots) == 0 {
		return files
	}

	var remaining []string
	for _, f := range files {
		dst := filepath.Join(root, destinationFor(fl, f))
		if _, err := os.Stat(dst); err == nil {
			continue
		}
		sum, err := deps.Checksum(f)
		if err != nil {
			remaining = append(remaining, f)
			continue
		}
		if !copyFromPeer(f, sum, dst, peerRoots, timeout, fl, log) {
			remaining = append(remaining, f)
		}
	}
	return remaining
}

func copyFromPeer(f, checksum, dst string, peerRoots []string, timeout time.Duration, fl *flavor.Flavor, log *logrus.Logger) bool {
	for _, peerRoot := range peerRoots {
		peerFile := filepath.Join(peerRoot, destinationFor(fl, f))
		lk, err := lock.Lock([]string{peerRoot}, timeout, log)
		if err != nil {
			continue // falls back to backend download (§4.7.4: "no error")
		}
		sum, statErr := md5File(peerFile)
		lk.Unlock()
		if statErr != nil || sum != checksum {
			continue
		}
		if err := copyFileAtomic(peerFile, dst); err == nil {
			return true
		}
	}
	return false
}

func downloadMedia(iface backend.Interface, name, version, root, tmpRoot string, deps *depend.Dependencies, files []string, fl *flavor.Flavor) error {
	missing := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := os.Stat(filepath.Join(root, destinationFor(fl, f))); err != nil {
			missing = append(missing, f)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	byArchive := map[string][]string{}
	for _, f := range missing {
		archive, err := deps.Archive(f)
		if err != nil {
			continue
		}
		byArchive[archive] = append(byArchive[archive], f)
	}

	archives := make([]string, 0, len(byArchive))
	for a := range byArchive {
		archives = append(archives, a)
	}
	sort.Strings(archives)

	for _, archive := range archives {
		remote := iface.MediaArchivePath(name, archive, version)
		if _, err := iface.GetArchive(remote, tmpRoot, version, tmpRoot); err != nil {
			return errors.Wrapf(err, "load: download media archive %q", archive)
		}
	}
	return nil
}

func applyFlavorToMedia(fl *flavor.Flavor, root, tmpRoot string, files []string) error {
	for _, f := range files {
		dst := filepath.Join(root, destinationFor(fl, f))
		if _, err := os.Stat(dst); err == nil {
			continue // already present at destination (cache hit or peer copy)
		}
		src := filepath.Join(tmpRoot, f)
		if _, err := os.Stat(src); err != nil {
			continue // not fetched into the staging folder
		}
		if fl == nil {
			if err := copyFileAtomic(src, dst); err != nil {
				return err
			}
			continue
		}
		if err := fl.Apply(src, dst); err != nil {
			return errors.Wrapf(err, "apply flavor to %q", f)
		}
	}
	return nil
}

func downloadAttachments(iface backend.Interface, name, version, root string, db *header.Database) error {
	for id, att := range db.Attachments {
		dst := filepath.Join(root, att.Path)
		if _, err := os.Stat(dst); err == nil {
			continue
		}
		remote := iface.AttachmentArchivePath(name, id, version)
		if _, err := iface.GetArchive(remote, root, version, ""); err != nil {
			return errors.Wrapf(err, "load: download attachment %q", id)
		}
	}
	return nil
}

func rewritePaths(db *header.Database, fl *flavor.Flavor, fullPath bool, root string) {
	if fl != nil && fl.Format != "" {
		db.ReplaceFileExtension(fl.Format)
	}
	if fullPath {
		db.MapFilePath(func(f string) string {
			return filepath.ToSlash(filepath.Join(root, f))
		})
	}
}

func isComplete(db *header.Database, deps *depend.Dependencies, root string, fl *flavor.Flavor) bool {
	for _, att := range db.Attachments {
		if _, err := os.Stat(filepath.Join(root, att.Path)); err != nil {
			return false
		}
	}
	for _, id := range db.PickTables(nil) {
		if _, err := os.Stat(filepath.Join(root, "db."+id+".parquet")); err != nil {
			return false
		}
	}
	for _, f := range deps.Media() {
		removed, _ := deps.Removed(f)
		if removed {
			continue
		}
		if _, err := os.Stat(filepath.Join(root, destinationFor(fl, f))); err != nil {
			return false
		}
	}
	return true
}

func saveHeaderAtomic(db *header.Database, root string) error {
	data, err := db.Save()
	if err != nil {
		return err
	}
	final := filepath.Join(root, define.HeaderFile)
	tmp := final + define.TmpSuffix
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, final)
}

func md5File(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", md5.Sum(data)), nil
}

func copyFileAtomic(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	tmp := dst + define.TmpSuffix
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, dst)
}
