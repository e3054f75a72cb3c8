package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/rcowham/audb-go/internal/backend"
	"github.com/rcowham/audb-go/internal/cache"
	"github.com/rcowham/audb-go/internal/config"
	"github.com/rcowham/audb-go/internal/depend"
	"github.com/rcowham/audb-go/internal/flavor"
	"github.com/rcowham/audb-go/internal/header"
	"github.com/rcowham/audb-go/internal/load"
	"github.com/rcowham/audb-go/internal/lookup"
	"github.com/rcowham/audb-go/internal/publish"
	"github.com/rcowham/audb-go/internal/stream"
)

// action is what a parsed kingpin command resolves to once the config
// has been loaded.
type action func(cfg *config.Config) error

// flavorFlags are the option flags every media-touching subcommand
// accepts (§3.3); shared so they stay consistent across subcommands.
type flavorFlags struct {
	bitDepth     *int
	channels     *string
	format       *string
	mixdown      *bool
	samplingRate *int
}

func addFlavorFlags(cmd *kingpin.CmdClause) *flavorFlags {
	return &flavorFlags{
		bitDepth:     cmd.Flag("bit-depth", "Target bit depth.").Int(),
		channels:     cmd.Flag("channels", "Comma-separated channel selection, e.g. 0,1.").String(),
		format:       cmd.Flag("format", "Target audio format (e.g. wav, flac).").String(),
		mixdown:      cmd.Flag("mixdown", "Mix selected channels down to mono.").Bool(),
		samplingRate: cmd.Flag("sampling-rate", "Target sampling rate in Hz.").Int(),
	}
}

func (f *flavorFlags) build() (*flavor.Flavor, error) {
	opts := flavor.Options{
		BitDepth:     *f.bitDepth,
		Format:       *f.format,
		Mixdown:      *f.mixdown,
		SamplingRate: *f.samplingRate,
	}
	if *f.channels != "" {
		for _, part := range strings.Split(*f.channels, ",") {
			c, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return nil, fmt.Errorf("invalid --channels entry %q", part)
			}
			opts.Channels = append(opts.Channels, c)
		}
	}
	if opts.BitDepth == 0 && opts.Format == "" && !opts.Mixdown && opts.SamplingRate == 0 && len(opts.Channels) == 0 {
		return nil, nil
	}
	return flavor.New(opts)
}

func registerCommands(app *kingpin.Application) map[string]action {
	cmds := map[string]action{}

	// available: list every (name, versions) pair visible across the
	// configured repositories.
	available := app.Command("available", "List databases available across the configured repositories.")
	cmds["available"] = func(cfg *config.Config) error {
		repos := cfg.BackendRepositories()
		for name, versions := range lookup.AvailableDatabases(repos) {
			fmt.Printf("%s\t%s\n", name, strings.Join(versions, ","))
		}
		return nil
	}
	_ = available

	// versions: every published version of one database.
	versionsCmd := app.Command("versions", "List published versions of a database.")
	versionsName := versionsCmd.Arg("name", "Database name.").Required().String()
	cmds["versions"] = func(cfg *config.Config) error {
		repos := cfg.BackendRepositories()
		for _, repo := range repos {
			iface, err := repo.CreateInterface()
			if err != nil {
				continue
			}
			vs, err := iface.Versions(*versionsName)
			if err != nil {
				continue
			}
			for _, v := range vs {
				if ok, _ := iface.Exists(iface.HeaderPath(*versionsName, v), ""); ok {
					fmt.Println(v)
				}
			}
		}
		return nil
	}

	// latest_version: highest semver across repositories.
	latestCmd := app.Command("latest_version", "Print the latest published version of a database.")
	latestName := latestCmd.Arg("name", "Database name.").Required().String()
	cmds["latest_version"] = func(cfg *config.Config) error {
		v, err := lookup.LatestVersion(cfg.BackendRepositories(), *latestName)
		if err != nil {
			return err
		}
		fmt.Println(v)
		return nil
	}

	// repository: which repository holds (name, version).
	repoCmd := app.Command("repository", "Print which repository holds a database version.")
	repoName := repoCmd.Arg("name", "Database name.").Required().String()
	repoVersion := repoCmd.Arg("version", "Database version.").Required().String()
	cmds["repository"] = func(cfg *config.Config) error {
		found, err := lookup.Database(cfg.BackendRepositories(), *repoName, *repoVersion)
		if err != nil {
			return err
		}
		fmt.Println(found.Repository.Name, found.Repository.Host)
		return nil
	}

	// exists: whether (name, version) is present in any repository.
	existsCmd := app.Command("exists", "Check whether a database version exists.")
	existsName := existsCmd.Arg("name", "Database name.").Required().String()
	existsVersion := existsCmd.Arg("version", "Database version.").Required().String()
	cmds["exists"] = func(cfg *config.Config) error {
		_, err := lookup.Database(cfg.BackendRepositories(), *existsName, *existsVersion)
		fmt.Println(err == nil)
		return nil
	}

	// cached: versions of a database already materialized under the
	// user cache root (the shared cache root is not listed).
	cachedCmd := app.Command("cached", "List cached versions of a database.")
	cachedName := cachedCmd.Arg("name", "Database name.").Required().String()
	cmds["cached"] = func(cfg *config.Config) error {
		root := cache.DefaultCacheRoot(false, cfg.CacheRoot)
		entries, err := os.ReadDir(root + "/" + *cachedName)
		if err != nil {
			return nil // nothing cached, not an error
		}
		for _, e := range entries {
			if e.IsDir() {
				fmt.Println(e.Name())
			}
		}
		return nil
	}

	// dependencies: print one database version's dependency table.
	depsCmd := app.Command("dependencies", "Print the dependency table of a database version.")
	depsName := depsCmd.Arg("name", "Database name.").Required().String()
	depsVersion := depsCmd.Arg("version", "Database version.").Required().String()
	cmds["dependencies"] = func(cfg *config.Config) error {
		deps, err := fetchDependencies(cfg, *depsName, *depsVersion)
		if err != nil {
			return err
		}
		printDependencies(deps)
		return nil
	}

	// flavor_path: the cache subpath a flavor resolves to.
	flavorPathCmd := app.Command("flavor_path", "Print the cache subpath for a database/version/flavor.")
	flavorPathName := flavorPathCmd.Arg("name", "Database name.").Required().String()
	flavorPathVersion := flavorPathCmd.Arg("version", "Database version.").Required().String()
	flavorPathFlags := addFlavorFlags(flavorPathCmd)
	cmds["flavor_path"] = func(cfg *config.Config) error {
		fl, err := flavorPathFlags.build()
		if err != nil {
			return err
		}
		if fl == nil {
			fmt.Println(*flavorPathName + "/" + *flavorPathVersion)
			return nil
		}
		fmt.Println(fl.Path(*flavorPathName, *flavorPathVersion))
		return nil
	}

	// remove_media: tombstone media files across published versions.
	removeCmd := app.Command("remove_media", "Remove media files from one or more published versions.")
	removeName := removeCmd.Arg("name", "Database name.").Required().String()
	removeFiles := removeCmd.Arg("files", "Files to remove (comma-separated).").Required().String()
	removeVersions := removeCmd.Flag("version", "Version to scrub (repeatable; default: all published versions).").Strings()
	cmds["remove_media"] = func(cfg *config.Config) error {
		repos := cfg.BackendRepositories()
		if len(repos) == 0 {
			return fmt.Errorf("remove_media: no repositories configured")
		}
		versions := *removeVersions
		if len(versions) == 0 {
			vs, err := allVersions(repos, *removeName)
			if err != nil {
				return err
			}
			versions = vs
		}
		return load.RemoveMedia(load.RemoveMediaOptions{
			Name:       *removeName,
			Files:      strings.Split(*removeFiles, ","),
			Versions:   versions,
			Repository: repos[0],
			Log:        logger,
		})
	}

	// load: materialize a full database version into the cache.
	loadCmd := app.Command("load", "Load a database version into the cache.")
	loadName := loadCmd.Arg("name", "Database name.").Required().String()
	loadVersion := loadCmd.Flag("version", "Version to load (default: latest).").String()
	loadFullPath := loadCmd.Flag("full-path", "Rewrite table file references to absolute cache paths.").Bool()
	loadTables := loadCmd.Flag("table", "Restrict to this table (repeatable; default: all).").Strings()
	loadFlavorFlags := addFlavorFlags(loadCmd)
	cmds["load"] = func(cfg *config.Config) error {
		fl, err := loadFlavorFlags.build()
		if err != nil {
			return err
		}
		res, err := load.Load(load.Options{
			Name: *loadName, Version: *loadVersion,
			Repositories: cfg.BackendRepositories(),
			CacheRoot:    cache.DefaultCacheRoot(false, cfg.CacheRoot),
			SharedCacheRoot: cache.DefaultCacheRoot(true, cfg.SharedCacheRoot),
			Flavor:   fl,
			Tables:   nilIfEmpty(*loadTables),
			FullPath: *loadFullPath,
			Timeout:  -1,
			Log:      logger,
		})
		if err != nil {
			return err
		}
		if res == nil {
			return fmt.Errorf("load: timed out acquiring cache folder lock")
		}
		fmt.Println(res.Root)
		return nil
	}

	// load_to: copy raw (unflavored) artifacts into a user-chosen
	// folder, the usual starting point for a new publish.
	loadToCmd := app.Command("load_to", "Copy a database version's raw artifacts into a folder.")
	loadToRoot := loadToCmd.Arg("root", "Destination folder.").Required().String()
	loadToName := loadToCmd.Arg("name", "Database name.").Required().String()
	loadToVersion := loadToCmd.Arg("version", "Database version.").Required().String()
	cmds["load_to"] = func(cfg *config.Config) error {
		_, err := load.LoadTo(load.ToOptions{
			Root: *loadToRoot, Name: *loadToName, Version: *loadToVersion,
			Repositories: cfg.BackendRepositories(),
			Log:          logger,
		})
		return err
	}

	// load_media / load_attachment / load_table: narrow views over
	// Load restricted to one artifact kind.
	loadMediaCmd := app.Command("load_media", "Load (or re-load) specific media files.")
	loadMediaName := loadMediaCmd.Arg("name", "Database name.").Required().String()
	loadMediaFiles := loadMediaCmd.Arg("files", "Files to load (comma-separated).").Required().String()
	loadMediaVersion := loadMediaCmd.Flag("version", "Version (default: latest).").String()
	cmds["load_media"] = func(cfg *config.Config) error {
		res, err := load.Load(load.Options{
			Name: *loadMediaName, Version: *loadMediaVersion,
			Repositories: cfg.BackendRepositories(),
			CacheRoot:    cache.DefaultCacheRoot(false, cfg.CacheRoot),
			Media:        strings.Split(*loadMediaFiles, ","),
			Tables:       nil,
			Timeout:      -1,
			Log:          logger,
		})
		if err != nil {
			return err
		}
		if res != nil {
			fmt.Println(res.Root)
		}
		return nil
	}

	loadAttachmentCmd := app.Command("load_attachment", "Load a database version's attachments.")
	loadAttachmentName := loadAttachmentCmd.Arg("name", "Database name.").Required().String()
	loadAttachmentVersion := loadAttachmentCmd.Flag("version", "Version (default: latest).").String()
	cmds["load_attachment"] = func(cfg *config.Config) error {
		res, err := load.Load(load.Options{
			Name: *loadAttachmentName, Version: *loadAttachmentVersion,
			Repositories: cfg.BackendRepositories(),
			CacheRoot:    cache.DefaultCacheRoot(false, cfg.CacheRoot),
			Tables:       []string{},
			Media:        []string{},
			Timeout:      -1,
			Log:          logger,
		})
		if err != nil {
			return err
		}
		if res != nil {
			fmt.Println(res.Root)
		}
		return nil
	}

	loadTableCmd := app.Command("load_table", "Load one table of a database version.")
	loadTableName := loadTableCmd.Arg("name", "Database name.").Required().String()
	loadTableID := loadTableCmd.Arg("table", "Table id.").Required().String()
	loadTableVersion := loadTableCmd.Flag("version", "Version (default: latest).").String()
	cmds["load_table"] = func(cfg *config.Config) error {
		res, err := load.Load(load.Options{
			Name: *loadTableName, Version: *loadTableVersion,
			Repositories: cfg.BackendRepositories(),
			CacheRoot:    cache.DefaultCacheRoot(false, cfg.CacheRoot),
			Tables:       []string{*loadTableID},
			Media:        []string{},
			Timeout:      -1,
			Log:          logger,
		})
		if err != nil {
			return err
		}
		if res != nil {
			fmt.Println(res.Root)
		}
		return nil
	}

	// publish: upload a build folder as a new version.
	publishCmd := app.Command("publish", "Publish a build folder as a new database version.")
	publishRoot := publishCmd.Arg("root", "Build folder.").Required().String()
	publishName := publishCmd.Arg("name", "Database name.").Required().String()
	publishVersion := publishCmd.Arg("version", "New version.").Required().String()
	publishRepo := publishCmd.Flag("repository", "Target repository name (default: first configured).").String()
	publishPrevious := publishCmd.Flag("previous-version", "Version this publish extends (default: latest).").String()
	publishFromScratch := publishCmd.Flag("from-scratch", "Publish an initial version with no prior dependency table.").Bool()
	cmds["publish"] = func(cfg *config.Config) error {
		repo, err := pickRepository(cfg, *publishRepo)
		if err != nil {
			return err
		}
		db, err := readBuildHeader(*publishRoot)
		if err != nil {
			return err
		}
		res, err := publish.Publish(publish.Options{
			BuildRoot: *publishRoot, Name: *publishName, Version: *publishVersion,
			PreviousVersion: *publishPrevious, FromScratch: *publishFromScratch,
			Repository: repo, Header: db, Log: logger,
		})
		if err != nil {
			return err
		}
		fmt.Printf("published %s %s (%d files tracked)\n", *publishName, *publishVersion, res.Dependencies.Len())
		return nil
	}

	// stream: iterate a table in batches.
	streamCmd := app.Command("stream", "Stream a table's rows in batches, downloading media on demand.")
	streamName := streamCmd.Arg("name", "Database name.").Required().String()
	streamTable := streamCmd.Arg("table", "Table id.").Required().String()
	streamVersion := streamCmd.Flag("version", "Version (default: latest).").String()
	streamBatchSize := streamCmd.Flag("batch-size", "Rows per batch.").Default("16").Int()
	streamShuffle := streamCmd.Flag("shuffle", "Shuffle rows through a rolling buffer.").Bool()
	streamBufferSize := streamCmd.Flag("buffer-size", "Shuffle buffer size.").Default("0").Int()
	streamOnlyMeta := streamCmd.Flag("only-metadata", "Skip media download, yield index/labels only.").Bool()
	cmds["stream"] = func(cfg *config.Config) error {
		it, err := stream.New(stream.Options{
			Name: *streamName, Table: *streamTable, Version: *streamVersion,
			Repositories: cfg.BackendRepositories(),
			CacheRoot:    cache.DefaultCacheRoot(false, cfg.CacheRoot),
			BatchSize:    *streamBatchSize, Shuffle: *streamShuffle, BufferSize: *streamBufferSize,
			OnlyMetadata: *streamOnlyMeta, Timeout: -1, Log: logger,
		})
		if err != nil {
			return err
		}
		total := 0
		for {
			batch, err := it.Next()
			if err != nil {
				return err
			}
			if batch == nil {
				break
			}
			total += len(batch.Files)
		}
		fmt.Printf("streamed %d rows\n", total)
		return nil
	}

	// info.*: projections over a loaded header.
	infoCmd := app.Command("info", "Print projections over a database's header.")
	infoName := infoCmd.Arg("name", "Database name.").Required().String()
	infoProjection := infoCmd.Arg("projection", "tables|schemes|attachments|header").Required().String()
	infoVersion := infoCmd.Flag("version", "Version (default: latest).").String()
	cmds["info"] = func(cfg *config.Config) error {
		db, err := fetchHeader(cfg, *infoName, *infoVersion)
		if err != nil {
			return err
		}
		return printInfo(db, *infoProjection)
	}

	return cmds
}

func nilIfEmpty(ss []string) []string {
	if len(ss) == 0 {
		return nil
	}
	return ss
}

func pickRepository(cfg *config.Config, name string) (backend.Repository, error) {
	repos := cfg.BackendRepositories()
	if len(repos) == 0 {
		return backend.Repository{}, fmt.Errorf("no repositories configured")
	}
	if name == "" {
		return repos[0], nil
	}
	for _, r := range repos {
		if r.Name == name {
			return r, nil
		}
	}
	return backend.Repository{}, fmt.Errorf("no configured repository named %q", name)
}

func allVersions(repos []backend.Repository, name string) ([]string, error) {
	set := map[string]bool{}
	for _, repo := range repos {
		iface, err := repo.CreateInterface()
		if err != nil {
			continue
		}
		vs, err := iface.Versions(name)
		if err != nil {
			continue
		}
		for _, v := range vs {
			if ok, _ := iface.Exists(iface.HeaderPath(name, v), ""); ok {
				set[v] = true
			}
		}
	}
	if len(set) == 0 {
		return nil, fmt.Errorf("no published versions found for database %q", name)
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	return out, nil
}

func readBuildHeader(root string) (*header.Database, error) {
	data, err := os.ReadFile(root + "/db.yaml")
	if err != nil {
		return nil, fmt.Errorf("publish: read build header: %w", err)
	}
	return header.Load(data)
}

func fetchHeader(cfg *config.Config, name, version string) (*header.Database, error) {
	if version == "" {
		v, err := lookup.LatestVersion(cfg.BackendRepositories(), name)
		if err != nil {
			return nil, err
		}
		version = v
	}
	found, err := lookup.Database(cfg.BackendRepositories(), name, version)
	if err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp("", "audb-header-*.yaml")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())
	tmp.Close()
	if err := found.Backend.GetFile(found.Backend.HeaderPath(name, version), tmp.Name(), version); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(tmp.Name())
	if err != nil {
		return nil, err
	}
	return header.Load(data)
}

func fetchDependencies(cfg *config.Config, name, version string) (*depend.Dependencies, error) {
	found, err := lookup.Database(cfg.BackendRepositories(), name, version)
	if err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp("", "audb-deps-*.parquet")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())
	tmp.Close()
	if err := found.Backend.GetFile(found.Backend.DependencyPath(name, version, "parquet"), tmp.Name(), version); err != nil {
		return nil, err
	}
	deps := depend.New()
	if err := deps.Load(tmp.Name()); err != nil {
		return nil, err
	}
	return deps, nil
}

func printDependencies(deps *depend.Dependencies) {
	for _, f := range deps.Files() {
		row, _ := deps.Row(f)
		fmt.Printf("%s\tarchive=%s\tchecksum=%s\tversion=%s\tremoved=%d\n", f, row.Archive, row.Checksum, row.Version, row.Removed)
	}
}

func printInfo(db *header.Database, projection string) error {
	switch projection {
	case "tables":
		for id := range db.Tables {
			fmt.Println(id)
		}
	case "schemes":
		for id := range db.Schemes {
			fmt.Println(id)
		}
	case "attachments":
		for id, att := range db.Attachments {
			fmt.Printf("%s\t%s\n", id, att.Path)
		}
	case "header":
		data, err := db.Save()
		if err != nil {
			return err
		}
		fmt.Print(string(data))
	default:
		return fmt.Errorf("info: unknown projection %q (want tables|schemes|attachments|header)", projection)
	}
	return nil
}
