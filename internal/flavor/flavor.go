// Package flavor implements the flavor engine (C3): a canonical audio
// re-encoding profile with a deterministic id, a need_convert decision,
// and the remix/resample/bit-depth conversion pipeline.
//
// Grounded on _examples/original_source/audb/core/flavor.py (Flavor
// class: constructor validation, destination/path, _check_convert,
// _remix/_resample, __call__).
package flavor

import (
	"crypto/sha1"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/rcowham/audb-go/internal/audiofmt"
	"github.com/rcowham/audb-go/internal/define"
)

// Options is the (bit_depth?, channels?, format?, mixdown?,
// sampling_rate?) tuple of spec.md §3.3.
type Options struct {
	BitDepth     int
	Channels     []int
	Format       string
	Mixdown      bool
	SamplingRate int
}

// Flavor is a validated, normalized Options plus its deterministic id.
type Flavor struct {
	Options
	id      string
	shortID string
}

// New validates opts and normalizes options that do not affect output
// (e.g. mixdown forced false when the requested channel selection is
// already mono) before computing the id (§4.3 "Id").
func New(opts Options) (*Flavor, error) {
	if opts.BitDepth != 0 && !define.SupportsBitDepth(opts.BitDepth) {
		return nil, errors.Errorf("flavor: unsupported bit depth %d", opts.BitDepth)
	}
	if opts.Format != "" && !define.IsAudioFormat(opts.Format) {
		return nil, errors.Errorf("flavor: unsupported format %q", opts.Format)
	}
	if opts.SamplingRate != 0 && !define.SupportsSamplingRate(opts.SamplingRate) {
		return nil, errors.Errorf("flavor: unsupported sampling rate %d", opts.SamplingRate)
	}
	if len(opts.Channels) == 1 {
		opts.Mixdown = false
	}

	f := &Flavor{Options: opts}
	f.id = computeID(opts)
	if len(f.id) >= 8 {
		f.shortID = f.id[len(f.id)-8:]
	} else {
		f.shortID = f.id
	}
	return f, nil
}

func computeID(opts Options) string {
	chans := append([]int(nil), opts.Channels...)
	parts := make([]string, 0, len(chans)+4)
	for _, c := range chans {
		parts = append(parts, fmt.Sprintf("ch=%d", c))
	}
	canonical := fmt.Sprintf(
		"bit_depth=%d|format=%s|mixdown=%t|sampling_rate=%d|%s",
		opts.BitDepth, opts.Format, opts.Mixdown, opts.SamplingRate,
		strings.Join(parts, ","),
	)
	sum := sha1.Sum([]byte(canonical))
	return fmt.Sprintf("%x", sum)
}

// ID is the hash of the normalized option tuple (§4.3 "Id"; P4).
func (f *Flavor) ID() string { return f.id }

// ShortID is the last 8 characters of ID, the cache path segment.
func (f *Flavor) ShortID() string { return f.shortID }

// Path returns the cache subpath for (name, version) in this flavor
// (§3.4, §4.3).
func (f *Flavor) Path(name, version string) string {
	return path.Join(name, version, f.shortID)
}

// Destination returns file with its extension replaced when Format is
// set and differs from file's current extension; otherwise file is
// returned unchanged (§4.3 "destination").
func (f *Flavor) Destination(file string) string {
	if f.Format == "" {
		return file
	}
	ext := define.NormalizeExt(filepath.Ext(file))
	if ext == f.Format {
		return file
	}
	trimmed := strings.TrimSuffix(file, filepath.Ext(file))
	return trimmed + "." + f.Format
}

// NeedConvert implements the decision tree of §4.3 step 1, given the
// source file's probed (or dependency-table-hinted) audio parameters.
func (f *Flavor) NeedConvert(observed audiofmt.Info) bool {
	if f.Format != "" && f.Format != observed.Format {
		return true
	}
	if f.BitDepth != 0 && f.BitDepth != observed.BitDepth {
		return true
	}
	if f.Mixdown || len(f.Channels) > 0 {
		if f.Mixdown && observed.Channels != 1 {
			return true
		}
		if len(f.Channels) > 0 && !isIdentityChannels(f.Channels, observed.Channels) {
			return true
		}
	}
	if f.SamplingRate != 0 && f.SamplingRate != observed.SamplingRate {
		return true
	}
	return false
}

// isIdentityChannels reports whether channels is exactly [0, 1, ...,
// observedCount-1] in order: a channel selection that is already what
// the source provides, and so requires no remix (grounded on
// _check_convert's `list(range(channels)) != self.channels`, an
// order-sensitive comparison — a same-count reorder like [1, 0] still
// needs conversion).
func isIdentityChannels(channels []int, observedCount int) bool {
	if len(channels) != observedCount {
		return false
	}
	for i, c := range channels {
		if c != i {
			return false
		}
	}
	return true
}

// Apply converts src into this flavor and writes to dst. If src already
// satisfies the flavor, it is copied (or left in place when src==dst).
func (f *Flavor) Apply(src, dst string) error {
	expectedExt := define.NormalizeExt(filepath.Ext(dst))
	if f.Format != "" && expectedExt != f.Format {
		return errors.Errorf("flavor: destination %q does not have expected extension %q", dst, f.Format)
	}

	srcExt := define.NormalizeExt(filepath.Ext(src))
	if !define.IsAudioFormat(srcExt) {
		return errors.Wrapf(audiofmt.ErrNotAudio, "flavor conversion requested on %q", src)
	}

	observed, err := audiofmt.Probe(src)
	if err != nil {
		return errors.Wrapf(err, "probe %q for flavor conversion", src)
	}

	if !f.NeedConvert(observed) {
		if src == dst {
			return nil
		}
		return copyFile(src, dst)
	}

	sig, _, err := audiofmt.Read(src)
	if err != nil {
		return errors.Wrapf(err, "decode %q for flavor conversion", src)
	}

	sig = audiofmt.Remix(sig, f.Channels, f.Mixdown)
	if f.SamplingRate != 0 {
		sig = audiofmt.Resample(sig, f.SamplingRate)
	}

	bitDepth := f.BitDepth
	if bitDepth == 0 {
		bitDepth = observed.BitDepth
	}
	if bitDepth == 0 {
		bitDepth = 16
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errors.Wrapf(err, "create destination dir for %q", dst)
	}
	if err := audiofmt.Write(dst, sig, bitDepth); err != nil {
		return errors.Wrapf(err, "write %q for flavor conversion", dst)
	}
	return nil
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "open %q", src)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return errors.Wrapf(err, "create %q", dst)
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return errors.Wrapf(err, "copy %q to %q", src, dst)
	}
	return nil
}
