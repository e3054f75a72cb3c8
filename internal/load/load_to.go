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
	"github.com/rcowham/audb-go/internal/header"
)

// ToOptions configures a LoadTo call.
type ToOptions struct {
	Root         string
	Name         string
	Version      string
	Repositories []backend.Repository
	Log          *logrus.Logger
}

// LoadTo mirrors the original, unflavored bytes of (name, version) into
// a user-chosen folder (§4.7.9), the usual starting point for a new
// publish. Existing files are checksummed and only re-downloaded when
// they differ; the dependency table is written last.
func LoadTo(opts ToOptions) (*depend.Dependencies, error) {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	found, err := lookupRepo(opts.Repositories, opts.Name, opts.Version)
	if err != nil {
		return nil, err
	}
	iface := found

	if err := os.MkdirAll(opts.Root, 0o755); err != nil {
		return nil, err
	}

	depPath := filepath.Join(opts.Root, define.DependencyFile+".fetch")
	if err := iface.GetFile(iface.DependencyPath(opts.Name, opts.Version, "parquet"), depPath, opts.Version); err != nil {
		return nil, errors.Wrap(err, "load_to: fetch dependency table")
	}
	defer os.Remove(depPath)
	deps := depend.New()
	if err := deps.Load(depPath); err != nil {
		return nil, errors.Wrap(err, "load_to: parse dependency table")
	}

	headerPath := filepath.Join(opts.Root, define.HeaderFile)
	if err := iface.GetFile(iface.HeaderPath(opts.Name, opts.Version), headerPath, opts.Version); err != nil {
		return nil, errors.Wrap(err, "load_to: fetch header")
	}
	data, err := os.ReadFile(headerPath)
	if err != nil {
		return nil, err
	}
	db, err := header.Load(data)
	if err != nil {
		return nil, err
	}

	if err := loadToTables(iface, opts, deps); err != nil {
		return nil, err
	}
	if err := loadToMedia(iface, opts, deps); err != nil {
		return nil, err
	}
	if err := downloadAttachments(iface, opts.Name, opts.Version, opts.Root, db); err != nil {
		return nil, err
	}

	if err := deps.Save(filepath.Join(opts.Root, define.DependencyFile)); err != nil {
		return nil, errors.Wrap(err, "load_to: save dependency table")
	}
	return deps, nil
}

func lookupRepo(repos []backend.Repository, name, version string) (backend.Interface, error) {
	for _, repo := range repos {
		iface, err := repo.CreateInterface()
		if err != nil {
			continue
		}
		ok, err := iface.Exists(iface.HeaderPath(name, version), "")
		if err == nil && ok {
			return iface, nil
		}
	}
	return nil, errors.Errorf("Cannot find version %s for database '%s'.", version, name)
}

func loadToTables(iface backend.Interface, opts ToOptions, deps *depend.Dependencies) error {
	for _, id := range deps.TableIDs() {
		local := filepath.Join(opts.Root, "db."+id+".parquet")
		if sum, err := md5File(local); err == nil {
			if want, _ := deps.Checksum("db." + id + ".parquet"); want == sum {
				continue
			}
		}
		if err := iface.GetFile(iface.TableColumnarPath(opts.Name, id, opts.Version), local, opts.Version); err != nil {
			return errors.Wrapf(err, "load_to: fetch table %q", id)
		}
	}
	return nil
}

func loadToMedia(iface backend.Interface, opts ToOptions, deps *depend.Dependencies) error {
	var needed []string
	for _, f := range deps.Media() {
		removed, _ := deps.Removed(f)
		if removed {
			continue
		}
		sum, err := deps.Checksum(f)
		if err != nil {
			continue
		}
		local := filepath.Join(opts.Root, f)
		if existingSum, err := md5File(local); err == nil && existingSum == sum {
			continue
		}
		needed = append(needed, f)
	}
	if len(needed) == 0 {
		return nil
	}

	tmpRoot, err := os.MkdirTemp(opts.Root, "load_to-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmpRoot)

	byArchive := map[string][]string{}
	for _, f := range needed {
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
		remote := iface.MediaArchivePath(opts.Name, archive, opts.Version)
		if _, err := iface.GetArchive(remote, opts.Root, opts.Version, tmpRoot); err != nil {
			return errors.Wrapf(err, "load_to: fetch media archive %q", archive)
		}
	}
	return nil
}
