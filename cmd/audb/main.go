// Command audb is the CLI surface over the audb-go core: the
// available/cached/dependencies/exists/flavor-path/latest-version/
// versions/repository/remove-media/load/load-to/load-media/
// load-attachment/load-table/publish/stream operations of spec.md
// §6.5, plus info.* projections over a loaded header.
//
// Grounded on the teacher's cmd/gitfilter and cmd/gitgraph command
// shape: kingpin flag/arg declarations, p4prometheus/version for
// --version, pkg/profile for --profile, logrus leveled by --verbose.
package main

import (
	"fmt"
	"os"

	"github.com/perforce/p4prometheus/version"
	"github.com/pkg/profile"
	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/rcowham/audb-go/internal/config"
)

var logger = logrus.New()

func main() {
	app := kingpin.New("audb", "Client-side versioned dataset distribution for audio corpora.")
	app.Version(version.Print("audb"))
	app.HelpFlag.Short('h')
	app.Author("rcowham")

	var (
		verbose   = app.Flag("verbose", "Enable debug logging.").Short('v').Bool()
		cfgPath   = app.Flag("config", "Path to audb.yaml.").String()
		cacheRoot = app.Flag("cache-root", "Override the configured cache root.").String()
		sharedRoot = app.Flag("shared-cache-root", "Override the configured shared cache root.").String()
		doProfile = app.Flag("profile", "Write a CPU profile for this invocation.").Bool()
	)

	cmds := registerCommands(app)

	parsed := kingpin.MustParse(app.Parse(os.Args[1:]))

	logger.Level = logrus.InfoLevel
	if *verbose {
		logger.Level = logrus.DebugLevel
	}
	if *doProfile {
		defer profile.Start(profile.CPUProfile).Stop()
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		logger.Fatalf("config: %v", err)
	}
	if *cacheRoot != "" {
		cfg.CacheRoot = *cacheRoot
	}
	if *sharedRoot != "" {
		cfg.SharedCacheRoot = *sharedRoot
	}

	fn, ok := cmds[parsed]
	if !ok {
		logger.Fatalf("unhandled command %q", parsed)
	}
	if err := fn(cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(explicit string) (*config.Config, error) {
	if explicit != "" {
		return config.LoadFile(explicit)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return &config.Config{}, nil
	}
	global := home + "/.config/audb.yaml"
	legacy := home + "/.audb.yaml"
	if _, err := os.Stat(global); err == nil {
		return config.Load(global, legacy)
	}
	return config.LoadFile(legacy)
}
