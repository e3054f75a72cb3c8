// Package define holds the constants shared by every other audb-go
// package: the dependency table schema, recognized audio parameters and
// the well-known file names of a database.
//
// Grounded on _examples/original_source/audb/core/define.py.
package define

// DependType enumerates the artifact kinds a dependency row can carry.
// Mirrors audb.core.define.DependType (0=META, 1=MEDIA, 2=ATTACHMENT).
type DependType int32

const (
	TypeMeta DependType = iota
	TypeMedia
	TypeAttachment
)

func (t DependType) String() string {
	switch t {
	case TypeMeta:
		return "meta"
	case TypeMedia:
		return "media"
	case TypeAttachment:
		return "attachment"
	default:
		return "unknown"
	}
}

// DependFields lists the dependency table columns in schema order
// (the "file" column is the index and is not repeated here).
var DependFields = []string{
	"archive",
	"bit_depth",
	"channels",
	"checksum",
	"duration",
	"format",
	"removed",
	"sampling_rate",
	"type",
	"version",
}

// Supported audio parameters.
var (
	BitDepths     = []int{8, 16, 24, 32}
	SamplingRates = []int{8000, 16000, 22500, 44100, 48000}
)

// AudioFormats are file extensions (without dot) recognized as audio and
// therefore eligible for flavor conversion / header probing.
var AudioFormats = map[string]bool{
	"wav":  true,
	"flac": true,
}

// ArchiveFormat is the only supported archive container (§6.2).
const ArchiveFormat = "zip"

// Well-known file / folder names.
const (
	HeaderFile      = "db.yaml"
	DependencyFile  = "db.parquet"
	DependencyCSV   = "db.csv"
	LockFile        = ".lock"
	TmpSuffix       = "~"
	ConfigFileName  = "audb.yaml"
	DeprecatedDotrc = ".audb.yaml"
)

// Environment variables overriding cache roots (§6.4).
const (
	EnvCacheRoot       = "AUDB_CACHE_ROOT"
	EnvSharedCacheRoot = "AUDB_SHARED_CACHE_ROOT"
)

// IsAudioFormat reports whether ext (no leading dot, any case) is a
// recognized audio container.
func IsAudioFormat(ext string) bool {
	return AudioFormats[NormalizeExt(ext)]
}

// NormalizeExt lower-cases ext and strips a leading dot, matching the
// dependency table's "format" column convention (§3.2: "lower-case file
// extension").
func NormalizeExt(ext string) string {
	if len(ext) > 0 && ext[0] == '.' {
		ext = ext[1:]
	}
	out := make([]byte, len(ext))
	for i := 0; i < len(ext); i++ {
		c := ext[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

func SupportsBitDepth(b int) bool {
	for _, v := range BitDepths {
		if v == b {
			return true
		}
	}
	return false
}

func SupportsSamplingRate(r int) bool {
	for _, v := range SamplingRates {
		if v == r {
			return true
		}
	}
	return false
}
