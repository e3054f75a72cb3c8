package backend

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Filesystem is a backend.Interface rooted at a local directory, used
// as the "file-system" driver (§6.3's flat/maven conventions apply
// equally to a local tree as to an object store). Archive pack/unpack
// and the write-then-rename pattern are grounded on the teacher's
// CreateArchiveFile in main.go and on
// _examples/other_examples/cf3056df_fluxcd-pkg__artifact-storage-archive.go.go,
// adapted from tar.gz to zip per spec.md §6.2.
type Filesystem struct {
	root   string
	layout LayoutKind
}

// NewFilesystem constructs a Filesystem backend rooted at root.
func NewFilesystem(root string, layout LayoutKind) *Filesystem {
	return &Filesystem{root: root, layout: layout}
}

func (b *Filesystem) Join(segments ...string) string {
	return path.Join(segments...)
}

func (b *Filesystem) abs(remote string) string {
	return filepath.Join(b.root, filepath.FromSlash(remote))
}

func (b *Filesystem) Ls(remote string) ([]Entry, error) {
	dir := b.abs(remote)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "ls %q", remote)
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, Entry{Path: path.Join(remote, e.Name())})
		}
	}
	return out, nil
}

func (b *Filesystem) Exists(remote, version string) (bool, error) {
	p := b.abs(versionedPath(remote, version))
	_, err := os.Stat(p)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, errors.Wrapf(err, "exists %q@%s", remote, version)
}

// versionedPath is used only for the generic Exists/Versions probes
// that operate on a bare remote key (e.g. "<name>" for version
// discovery); specific artifact kinds use the semantic path builders
// instead, which already embed the version segment.
func versionedPath(remote, version string) string {
	if version == "" {
		return remote
	}
	return path.Join(remote, version)
}

func (b *Filesystem) Versions(remote string) ([]string, error) {
	dir := b.abs(remote)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "versions %q", remote)
	}
	var versions []string
	for _, e := range entries {
		if e.IsDir() {
			versions = append(versions, e.Name())
		}
	}
	sort.Strings(versions)
	return versions, nil
}

func (b *Filesystem) GetFile(remote, local, version string) error {
	src := b.abs(remote)
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return errors.Wrapf(err, "create dir for %q", local)
	}
	return copyFileAtomic(src, local)
}

func (b *Filesystem) PutFile(local, remote, version string) error {
	dst := b.abs(remote)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errors.Wrapf(err, "create remote dir for %q", remote)
	}
	return copyFileAtomic(local, dst)
}

// PutArchive packs only the given member files (relative to localRoot)
// into a zip at remote.
func (b *Filesystem) PutArchive(localRoot, remote, version string, files []string) error {
	dst := b.abs(remote)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errors.Wrapf(err, "create remote dir for %q", remote)
	}
	tmp := dst + ".tmp"
	if err := packZip(localRoot, tmp, files); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "pack archive %q", remote)
	}
	return renameWithRetry(tmp, dst)
}

// GetArchive extracts remote's zip into localRoot (via tmpRoot as a
// staging sibling) and returns the extracted member paths, POSIX-style.
func (b *Filesystem) GetArchive(remote, localRoot, version, tmpRoot string) ([]string, error) {
	src := b.abs(remote)
	return unpackZip(src, localRoot, tmpRoot)
}

func packZip(root, dst string, files []string) error {
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer f.Close()
	zw := zip.NewWriter(f)
	for _, rel := range files {
		if err := addFileToZip(zw, root, rel); err != nil {
			zw.Close()
			return err
		}
	}
	return zw.Close()
}

func addFileToZip(zw *zip.Writer, root, rel string) error {
	full := filepath.Join(root, filepath.FromSlash(rel))
	in, err := os.Open(full)
	if err != nil {
		return errors.Wrapf(err, "open %q for archive", full)
	}
	defer in.Close()
	w, err := zw.Create(filepath.ToSlash(rel))
	if err != nil {
		return err
	}
	_, err = io.Copy(w, in)
	return err
}

func unpackZip(src, localRoot, tmpRoot string) ([]string, error) {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return nil, errors.Wrapf(err, "open archive %q", src)
	}
	defer zr.Close()

	if tmpRoot == "" {
		tmpRoot = localRoot + "~"
	}
	if err := os.MkdirAll(tmpRoot, 0o755); err != nil {
		return nil, err
	}

	var members []string
	for _, zf := range zr.File {
		if zf.FileInfo().IsDir() {
			continue
		}
		rel := filepath.ToSlash(zf.Name)
		tmpPath := filepath.Join(tmpRoot, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(tmpPath), 0o755); err != nil {
			return nil, err
		}
		if err := extractOne(zf, tmpPath); err != nil {
			return nil, errors.Wrapf(err, "extract %q", rel)
		}

		finalPath := filepath.Join(localRoot, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
			return nil, err
		}
		if err := renameWithRetry(tmpPath, finalPath); err != nil {
			return nil, err
		}
		members = append(members, rel)
	}
	return members, nil
}

func extractOne(zf *zip.File, dst string) error {
	rc, err := zf.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, rc)
	return err
}

func copyFileAtomic(src, dst string) error {
	tmp := dst + ".tmp"
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "open %q", src)
	}
	defer in.Close()
	out, err := os.Create(tmp)
	if err != nil {
		return errors.Wrapf(err, "create %q", tmp)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return errors.Wrapf(err, "copy %q to %q", src, tmp)
	}
	out.Close()
	return renameWithRetry(tmp, dst)
}

// renameWithRetry mirrors the teacher's CreateArchiveFile pattern:
// rename into place, retrying once after removing a stale destination
// on a collision.
func renameWithRetry(tmp, dst string) error {
	err := os.Rename(tmp, dst)
	if err == nil {
		return nil
	}
	os.Remove(dst)
	if err2 := os.Rename(tmp, dst); err2 != nil {
		return errors.Wrapf(err2, "rename %q to %q", tmp, dst)
	}
	return nil
}

// --- semantic path builders -------------------------------------------

func (b *Filesystem) HeaderPath(name, version string) string {
	if b.layout == LayoutMaven {
		return path.Join(name, "db", version, fmt.Sprintf("db-%s.yaml", version))
	}
	return path.Join(name, version, "db.yaml")
}

func (b *Filesystem) DependencyPath(name, version, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	if b.layout == LayoutMaven {
		return path.Join(name, "db", version, fmt.Sprintf("db-%s.%s", version, ext))
	}
	return path.Join(name, version, fmt.Sprintf("db.%s", ext))
}

func (b *Filesystem) TableArchivePath(name, tableID, version string) string {
	return path.Join(name, "meta", tableID, version, tableID+".zip")
}

func (b *Filesystem) TableColumnarPath(name, tableID, version string) string {
	return path.Join(name, "meta", tableID, version, fmt.Sprintf("db.%s.parquet", tableID))
}

func (b *Filesystem) MediaArchivePath(name, archive, version string) string {
	return path.Join(name, "media", archive, version, archive+".zip")
}

func (b *Filesystem) AttachmentArchivePath(name, attachmentID, version string) string {
	return path.Join(name, "attachment", attachmentID, version, attachmentID+".zip")
}
