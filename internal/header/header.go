// Package header is the thinnest possible stand-in for the out-of-scope
// "audformat" database header/table object model named as a collaborator
// in spec.md §6.1. It exists only to exercise the rest of the pipeline
// (publish/load/stream) end to end; it is not a reimplementation of
// audformat's full feature set.
//
// Grounded on _examples/original_source/audb/core/load.py and publish.py
// (usage of is_portable/pick_tables/pick_files/drop_files/map_file_path/
// replace_file_extension/expand_file_path/filewise_index/segmented_index),
// and on the teacher's config/config.go for the yaml-backed struct style.
package header

import (
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// TableKind distinguishes filewise from segmented annotation tables.
type TableKind string

const (
	Filewise  TableKind = "filewise"
	Segmented TableKind = "segmented"
)

// Table is a minimal annotation table: an index of file keys (filewise)
// or file+start+end keys (segmented), plus arbitrary column values.
type Table struct {
	Kind    TableKind           `yaml:"type"`
	Columns []string            `yaml:"columns"`
	Files   []string            `yaml:"files"`            // filewise index, or per-segment file
	Starts  []float64           `yaml:"starts,omitempty"` // segmented only, parallel to Files
	Ends    []float64           `yaml:"ends,omitempty"`   // segmented only, parallel to Files
	Values  map[string][]string `yaml:"-"`                // column -> row values, same order as Files
}

// FilewiseIndex returns the unique file keys referenced by a filewise
// table, in stored order.
func (t *Table) FilewiseIndex() []string {
	return append([]string(nil), t.Files...)
}

// SegmentEntry is one row of a segmented index.
type SegmentEntry struct {
	File  string
	Start float64
	End   float64
}

// SegmentedIndex returns the (file, start, end) triples of a segmented
// table, in stored order.
func (t *Table) SegmentedIndex() []SegmentEntry {
	out := make([]SegmentEntry, len(t.Files))
	for i, f := range t.Files {
		var s, e float64
		if i < len(t.Starts) {
			s = t.Starts[i]
		}
		if i < len(t.Ends) {
			e = t.Ends[i]
		}
		out[i] = SegmentEntry{File: f, Start: s, End: e}
	}
	return out
}

// files returns every file referenced by the table regardless of kind.
func (t *Table) files() []string {
	return t.Files
}

// Scheme classifies a column's value domain; Labels names a misc table
// used as the label source, if any (GLOSSARY: "misc label table").
type Scheme struct {
	Labels string `yaml:"labels,omitempty"`
}

// UsesMiscTable reports whether a scheme is backed by a misc label table,
// and its id.
func (s Scheme) UsesMiscTable() (string, bool) {
	if s.Labels == "" {
		return "", false
	}
	return s.Labels, true
}

// Attachment names a subtree rooted at Path, owned by ID.
type Attachment struct {
	ID   string `yaml:"id"`
	Path string `yaml:"path"`
}

// AudbMeta is the well-known meta.audb block (§4.7.3, §6.2).
type AudbMeta struct {
	Root     string                 `yaml:"root,omitempty"`
	Version  string                 `yaml:"version,omitempty"`
	Flavor   map[string]interface{} `yaml:"flavor,omitempty"`
	Complete bool                   `yaml:"complete"`
}

// Database is the header object: tables, misc tables, schemes,
// attachments and free-form meta.
type Database struct {
	Name        string              `yaml:"name"`
	Tables      map[string]*Table   `yaml:"tables"`
	MiscTables  map[string]*Table   `yaml:"misc_tables"`
	Schemes     map[string]Scheme   `yaml:"schemes"`
	Attachments map[string]Attachment `yaml:"attachments"`
	Meta        struct {
		Audb AudbMeta `yaml:"audb"`
	} `yaml:"meta"`
}

// NewDatabase returns an empty, ready-to-populate header.
func NewDatabase(name string) *Database {
	return &Database{
		Name:        name,
		Tables:      map[string]*Table{},
		MiscTables:  map[string]*Table{},
		Schemes:     map[string]Scheme{},
		Attachments: map[string]Attachment{},
	}
}

// Load reads a db.yaml header from raw bytes.
func Load(data []byte) (*Database, error) {
	db := &Database{}
	if err := yaml.Unmarshal(data, db); err != nil {
		return nil, errors.Wrap(err, "parse header yaml")
	}
	if db.Tables == nil {
		db.Tables = map[string]*Table{}
	}
	if db.MiscTables == nil {
		db.MiscTables = map[string]*Table{}
	}
	return db, nil
}

// Save serializes the header to db.yaml bytes.
func (db *Database) Save() ([]byte, error) {
	out, err := yaml.Marshal(db)
	if err != nil {
		return nil, errors.Wrap(err, "marshal header yaml")
	}
	return out, nil
}

// allTableIDs returns the non-misc table ids, plus the misc table ids
// when includeMisc is set, sorted.
func (db *Database) allTableIDs(includeMisc bool) []string {
	ids := make([]string, 0, len(db.Tables))
	for id := range db.Tables {
		ids = append(ids, id)
	}
	if includeMisc {
		for id := range db.MiscTables {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (db *Database) table(id string) (*Table, bool) {
	if t, ok := db.Tables[id]; ok {
		return t, true
	}
	t, ok := db.MiscTables[id]
	return t, ok
}

// IsPortable reports that every referenced file path is relative POSIX
// without "." or ".." segments (GLOSSARY: "Portable database").
func (db *Database) IsPortable() bool {
	for _, id := range db.allTableIDs(true) {
		t, _ := db.table(id)
		for _, f := range t.files() {
			if !isPortablePath(f) {
				return false
			}
		}
	}
	return true
}

func isPortablePath(p string) bool {
	if p == "" || path.IsAbs(p) || strings.HasPrefix(p, "/") {
		return false
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return false
		}
	}
	return true
}

// PickTables resolves a table selector: nil means every non-misc table;
// an empty-but-non-nil slice means none (§4.7.7 "tables=[]"); otherwise
// entries are either exact ids or, when they compile as a regexp and no
// literal table matches, treated as a pattern against ids.
func (db *Database) PickTables(selector []string) []string {
	all := db.allTableIDs(false)
	if selector == nil {
		return all
	}
	if len(selector) == 0 {
		return nil
	}
	return matchSelector(all, selector)
}

func matchSelector(all, selector []string) []string {
	set := map[string]bool{}
	for _, a := range all {
		set[a] = false
	}
	matched := map[string]bool{}
	for _, s := range selector {
		if _, ok := set[s]; ok {
			matched[s] = true
			continue
		}
		if re, err := regexp.Compile(s); err == nil {
			for _, a := range all {
				if re.MatchString(a) {
					matched[a] = true
				}
			}
		}
	}
	out := make([]string, 0, len(matched))
	for _, a := range all {
		if matched[a] {
			out = append(out, a)
		}
	}
	return out
}

// MiscLabelTables returns the ids of misc tables required because some
// scheme uses them as a label source (§4.7.7: "tables=[] loads only misc
// tables that are referenced as label tables").
func (db *Database) MiscLabelTables() []string {
	seen := map[string]bool{}
	for _, sc := range db.Schemes {
		if id, ok := sc.UsesMiscTable(); ok {
			if _, exists := db.MiscTables[id]; exists {
				seen[id] = true
			}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// PickFiles returns the media files referenced by the given table ids,
// filtered by selector the same way PickTables is (nil=all, []=none,
// else literal-or-regexp match against file keys).
func (db *Database) PickFiles(tableIDs []string, selector []string) []string {
	set := map[string]bool{}
	for _, id := range tableIDs {
		t, ok := db.table(id)
		if !ok {
			continue
		}
		for _, f := range t.files() {
			set[f] = true
		}
	}
	all := make([]string, 0, len(set))
	for f := range set {
		all = append(all, f)
	}
	sort.Strings(all)
	if selector == nil {
		return all
	}
	if len(selector) == 0 {
		return nil
	}
	return matchSelector(all, selector)
}

// DropFiles removes every reference to the given files from every table
// (used when a removed/tombstoned media must disappear from indices).
func (db *Database) DropFiles(files []string) {
	drop := map[string]bool{}
	for _, f := range files {
		drop[f] = true
	}
	for _, t := range db.allTables() {
		dropFromTable(t, drop)
	}
}

func (db *Database) allTables() []*Table {
	out := make([]*Table, 0, len(db.Tables)+len(db.MiscTables))
	for _, t := range db.Tables {
		out = append(out, t)
	}
	for _, t := range db.MiscTables {
		out = append(out, t)
	}
	return out
}

func dropFromTable(t *Table, drop map[string]bool) {
	keepIdx := make([]int, 0, len(t.Files))
	for i, f := range t.Files {
		if !drop[f] {
			keepIdx = append(keepIdx, i)
		}
	}
	if len(keepIdx) == len(t.Files) {
		return
	}
	files := make([]string, len(keepIdx))
	var starts, ends []float64
	if t.Starts != nil {
		starts = make([]float64, len(keepIdx))
	}
	if t.Ends != nil {
		ends = make([]float64, len(keepIdx))
	}
	values := map[string][]string{}
	for col := range t.Values {
		values[col] = make([]string, len(keepIdx))
	}
	for j, i := range keepIdx {
		files[j] = t.Files[i]
		if starts != nil {
			starts[j] = t.Starts[i]
		}
		if ends != nil {
			ends[j] = t.Ends[i]
		}
		for col, vals := range t.Values {
			values[col][j] = vals[i]
		}
	}
	t.Files, t.Starts, t.Ends, t.Values = files, starts, ends, values
}

// MapFilePath rewrites every file reference in every table through fn.
func (db *Database) MapFilePath(fn func(string) string) {
	for _, t := range db.allTables() {
		for i, f := range t.Files {
			t.Files[i] = fn(f)
		}
	}
}

// ReplaceFileExtension rewrites every file reference's extension to
// newExt (no leading dot) across every table.
func (db *Database) ReplaceFileExtension(newExt string) {
	db.MapFilePath(func(f string) string {
		ext := path.Ext(f)
		if ext == "" {
			return f
		}
		return strings.TrimSuffix(f, ext) + "." + newExt
	})
}

// ExpandFilePath prepends root to a relative file key, normalizing to
// POSIX-as-stored then converting to an OS-native path at the caller's
// boundary (spec.md §4.2: "relative keys within the dependency table are
// always POSIX").
func ExpandFilePath(root, file string) string {
	return path.Join(root, file)
}
