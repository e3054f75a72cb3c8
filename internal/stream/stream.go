// Package stream implements the streaming iterator (C8): materialize
// one table (plus any misc tables its schemes need as labels) and
// yield it as batches, optionally shuffled through a rolling buffer,
// downloading only the media each batch actually references.
//
// Grounded on _examples/original_source/audb/core/stream.py (Stream /
// BatchPreprocessing row-group + shuffle-buffer semantics) and spec.md
// §4.8.
package stream

import (
	"math/rand"
	"os"
	"path/filepath"
	"sort"
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

// Options configures one Stream call.
type Options struct {
	Name    string
	Table   string
	Version string // "" resolves to latest_version

	BatchSize    int
	Shuffle      bool
	BufferSize   int
	OnlyMetadata bool

	Repositories    []backend.Repository
	CacheRoot       string
	SharedCacheRoot string
	Flavor          *flavor.Flavor

	// Seed fixes the shuffle RNG for reproducible iteration order in
	// tests; zero means seed from the wall clock.
	Seed int64

	Timeout time.Duration
	Log     *logrus.Logger
}

// Batch is one yielded slice of a table's rows, typed according to the
// table's schema (§4.8: "a tabular view ... with the index constructed
// from the declared level columns").
type Batch struct {
	Files  []string
	Starts []float64
	Ends   []float64
	Values map[string][]string
}

// Iterator is a single-use, non-restartable stream over one table.
type Iterator struct {
	root    string
	table   *header.Table
	deps    *depend.Dependencies
	iface   backend.Interface
	name    string
	version string
	flavor  *flavor.Flavor

	batchSize    int
	shuffle      bool
	bufferSize   int
	onlyMetadata bool

	order    []int // every row index, in original order
	buffer   []int // rolling shuffle buffer of row indices
	nextPos  int   // next index into order not yet emitted (sequential) or buffered (shuffle)
	rng      *rand.Rand
	done     bool
	rowCount int
}

func (o Options) logger() *logrus.Logger {
	if o.Log != nil {
		return o.Log
	}
	return logrus.StandardLogger()
}

// New resolves the version, materializes the header, dependency table,
// the requested table and any misc label tables it needs, then returns
// a ready-to-drain Iterator.
func New(opts Options) (*Iterator, error) {
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
	iface := found.Backend

	shortID := ""
	if opts.Flavor != nil {
		shortID = opts.Flavor.ShortID()
	}
	root, err := cache.DatabaseRoot(opts.Name, version, opts.CacheRoot, opts.SharedCacheRoot, shortID)
	if err != nil {
		return nil, err
	}

	var it *Iterator
	lockErr := lock.With([]string{root}, opts.Timeout, log, func() error {
		res, err := materialize(opts, iface, root, version)
		if err != nil {
			return err
		}
		it = res
		return nil
	})
	if lockErr != nil {
		return nil, lockErr
	}

	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	it.rng = rand.New(rand.NewSource(seed))
	it.batchSize = opts.BatchSize
	it.shuffle = opts.Shuffle
	it.bufferSize = opts.BufferSize
	it.onlyMetadata = opts.OnlyMetadata
	it.iface = iface
	it.name = opts.Name
	it.version = version
	it.flavor = opts.Flavor

	it.rowCount = len(it.table.Files)
	it.order = make([]int, it.rowCount)
	for i := range it.order {
		it.order[i] = i
	}
	if it.shuffle {
		fillBuffer(it)
	}

	return it, nil
}

func materialize(opts Options, iface backend.Interface, root, version string) (*Iterator, error) {
	depPath := filepath.Join(root, define.DependencyFile)
	deps := depend.New()
	if err := deps.Load(depPath); err != nil {
		if err := iface.GetFile(iface.DependencyPath(opts.Name, version, "parquet"), depPath, version); err != nil {
			return nil, errors.Wrap(err, "stream: fetch dependency table")
		}
		if err := deps.Load(depPath); err != nil {
			return nil, errors.Wrap(err, "stream: parse dependency table")
		}
	}

	headerPath := filepath.Join(root, define.HeaderFile)
	data, err := os.ReadFile(headerPath)
	if err != nil {
		if err := iface.GetFile(iface.HeaderPath(opts.Name, version), headerPath, version); err != nil {
			return nil, errors.Wrap(err, "stream: fetch header")
		}
		data, err = os.ReadFile(headerPath)
		if err != nil {
			return nil, err
		}
	}
	db, err := header.Load(data)
	if err != nil {
		return nil, err
	}

	tableIDs := append([]string{opts.Table}, db.MiscLabelTables()...)
	for _, id := range tableIDs {
		local := filepath.Join(root, "db."+id+".parquet")
		if _, err := os.Stat(local); err == nil {
			continue
		}
		if err := iface.GetFile(iface.TableColumnarPath(opts.Name, id, version), local, version); err != nil {
			return nil, errors.Wrapf(err, "stream: fetch table %q", id)
		}
	}

	table, ok := db.Tables[opts.Table]
	if !ok {
		table, ok = db.MiscTables[opts.Table]
	}
	if !ok {
		return nil, errors.Errorf("stream: unknown table %q", opts.Table)
	}

	return &Iterator{root: root, table: table, deps: deps}, nil
}

// Next returns the next batch, or nil when the stream is exhausted.
// batch_size<=0 (or buffer_size<=0 while shuffling) yields no batches
// at all (§4.8).
func (it *Iterator) Next() (*Batch, error) {
	if it.done || it.batchSize <= 0 {
		return nil, nil
	}
	if it.shuffle && it.bufferSize <= 0 {
		it.done = true
		return nil, nil
	}

	var rows []int
	if it.shuffle {
		rows = it.popShuffled(it.batchSize)
	} else {
		rows = it.popSequential(it.batchSize)
	}
	if len(rows) == 0 {
		it.done = true
		return nil, nil
	}

	batch := extractRows(it.table, rows)

	if !it.onlyMetadata {
		if err := it.downloadBatchMedia(batch.Files); err != nil {
			return nil, err
		}
	}

	if len(rows) < it.batchSize {
		it.done = true
	}
	return batch, nil
}

func (it *Iterator) popSequential(n int) []int {
	end := it.nextPos + n
	if end > it.rowCount {
		end = it.rowCount
	}
	rows := it.order[it.nextPos:end]
	it.nextPos = end
	return rows
}

func fillBuffer(it *Iterator) {
	it.buffer = nil
	n := it.bufferSize
	if n > it.rowCount {
		n = it.rowCount
	}
	it.buffer = append(it.buffer, it.order[:n]...)
	it.nextPos = n
}

func (it *Iterator) popShuffled(n int) []int {
	var rows []int
	for len(rows) < n && len(it.buffer) > 0 {
		j := it.rng.Intn(len(it.buffer))
		rows = append(rows, it.buffer[j])
		if it.nextPos < it.rowCount {
			it.buffer[j] = it.order[it.nextPos]
			it.nextPos++
		} else {
			last := len(it.buffer) - 1
			it.buffer[j] = it.buffer[last]
			it.buffer = it.buffer[:last]
		}
	}
	return rows
}

func extractRows(t *header.Table, rows []int) *Batch {
	b := &Batch{Values: map[string][]string{}}
	for _, i := range rows {
		b.Files = append(b.Files, t.Files[i])
		if t.Starts != nil {
			b.Starts = append(b.Starts, t.Starts[i])
		}
		if t.Ends != nil {
			b.Ends = append(b.Ends, t.Ends[i])
		}
	}
	for col, vals := range t.Values {
		out := make([]string, len(rows))
		for j, i := range rows {
			out[j] = vals[i]
		}
		b.Values[col] = out
	}
	return b
}

func (it *Iterator) downloadBatchMedia(files []string) error {
	var missing []string
	for _, f := range files {
		dst := filepath.Join(it.root, destinationFor(it.flavor, f))
		if _, err := os.Stat(dst); err != nil {
			missing = append(missing, f)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	byArchive := map[string][]string{}
	for _, f := range missing {
		archive, err := it.deps.Archive(f)
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

	tmpRoot, err := cache.TmpRoot(it.root)
	if err != nil {
		return err
	}
	for _, archive := range archives {
		remote := it.iface.MediaArchivePath(it.name, archive, it.version)
		if _, err := it.iface.GetArchive(remote, tmpRoot, it.version, tmpRoot); err != nil {
			return errors.Wrapf(err, "stream: download media archive %q", archive)
		}
	}
	for _, f := range missing {
		src := filepath.Join(tmpRoot, f)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		dst := filepath.Join(it.root, destinationFor(it.flavor, f))
		if it.flavor == nil {
			if err := copyFile(src, dst); err != nil {
				return err
			}
			continue
		}
		if err := it.flavor.Apply(src, dst); err != nil {
			return errors.Wrapf(err, "stream: apply flavor to %q", f)
		}
	}
	return nil
}

func destinationFor(fl *flavor.Flavor, f string) string {
	if fl == nil {
		return f
	}
	return fl.Destination(f)
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
