package load

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/rcowham/audb-go/internal/backend"
	"github.com/rcowham/audb-go/internal/define"
	"github.com/rcowham/audb-go/internal/depend"
)

// RemoveMediaOptions configures a RemoveMedia call.
type RemoveMediaOptions struct {
	Name       string
	Files      []string
	Versions   []string // every published version to scrub
	Repository backend.Repository
	Log        *logrus.Logger
}

// RemoveMedia deletes the given media files from every named published
// version (§4.7.10): per version, download its dependency table, fetch
// the containing archive, drop the member, re-upload the archive,
// tombstone the entry, re-upload the dependency. Atomicity is
// per-archive — if RemoveMedia fails partway, some archives/versions
// will already reflect the removal and others will not.
func RemoveMedia(opts RemoveMediaOptions) error {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	iface, err := opts.Repository.CreateInterface()
	if err != nil {
		return err
	}

	targets := map[string]bool{}
	for _, f := range opts.Files {
		targets[f] = true
	}

	for _, version := range opts.Versions {
		if err := removeMediaFromVersion(iface, opts.Name, version, targets, log); err != nil {
			return errors.Wrapf(err, "remove_media: version %q", version)
		}
	}
	return nil
}

func removeMediaFromVersion(iface backend.Interface, name, version string, targets map[string]bool, log *logrus.Logger) error {
	tmpRoot, err := os.MkdirTemp("", "audb-remove-media-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmpRoot)

	depPath := filepath.Join(tmpRoot, define.DependencyFile)
	if err := iface.GetFile(iface.DependencyPath(name, version, "parquet"), depPath, version); err != nil {
		return errors.Wrap(err, "fetch dependency table")
	}
	deps := depend.New()
	if err := deps.Load(depPath); err != nil {
		return errors.Wrap(err, "parse dependency table")
	}

	byArchive := map[string][]string{}
	for f := range targets {
		if removed, err := deps.Removed(f); err != nil || removed {
			continue
		}
		archive, err := deps.Archive(f)
		if err != nil {
			continue
		}
		byArchive[archive] = append(byArchive[archive], f)
	}
	if len(byArchive) == 0 {
		return nil // nothing in this version references the targets
	}

	archives := make([]string, 0, len(byArchive))
	for a := range byArchive {
		archives = append(archives, a)
	}
	sort.Strings(archives)

	for _, archive := range archives {
		if err := removeFromArchive(iface, name, version, archive, byArchive[archive], deps, tmpRoot); err != nil {
			return errors.Wrapf(err, "archive %q", archive)
		}
		for _, f := range byArchive[archive] {
			if err := deps.Remove(f); err != nil {
				return err
			}
		}
		if err := deps.Save(depPath); err != nil {
			return errors.Wrap(err, "save dependency table")
		}
		if err := iface.PutFile(depPath, iface.DependencyPath(name, version, "parquet"), version); err != nil {
			return errors.Wrap(err, "upload dependency table")
		}
		log.WithField("archive", archive).Debug("remove_media: archive scrubbed and dependency table updated")
	}
	return nil
}

func removeFromArchive(iface backend.Interface, name, version, archive string, toRemove []string, deps *depend.Dependencies, tmpRoot string) error {
	extractRoot := filepath.Join(tmpRoot, archive)
	remote := iface.MediaArchivePath(name, archive, version)
	members, err := iface.GetArchive(remote, extractRoot, version, extractRoot+"~")
	if err != nil {
		return errors.Wrap(err, "download archive")
	}

	remove := map[string]bool{}
	for _, f := range toRemove {
		remove[f] = true
	}
	remaining := make([]string, 0, len(members))
	for _, m := range members {
		if !remove[m] {
			remaining = append(remaining, m)
		}
	}
	sort.Strings(remaining)

	return iface.PutArchive(extractRoot, remote, version, remaining)
}
