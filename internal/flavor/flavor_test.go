package flavor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcowham/audb-go/internal/audiofmt"
)

func writeTestWAV(t *testing.T, path string, rate, channels, frames int) {
	t.Helper()
	chans := make([][]float64, channels)
	for c := range chans {
		ch := make([]float64, frames)
		for i := range ch {
			ch[i] = 0.25
		}
		chans[c] = ch
	}
	sig := audiofmt.Signal{Channels: chans, SamplingRate: rate}
	require.NoError(t, audiofmt.Write(path, sig, 16))
}

func TestIDDeterministicForEquivalentArgs(t *testing.T) {
	f1, err := New(Options{BitDepth: 16, Format: "wav", SamplingRate: 16000, Channels: []int{0}, Mixdown: true})
	require.NoError(t, err)
	f2, err := New(Options{BitDepth: 16, Format: "wav", SamplingRate: 16000, Channels: []int{0}})
	require.NoError(t, err)
	assert.Equal(t, f1.ID(), f2.ID())
	assert.Equal(t, f1.ShortID(), f2.ShortID())
	assert.Len(t, f1.ShortID(), 8)
}

func TestMixdownNormalizedWhenMono(t *testing.T) {
	f, err := New(Options{Channels: []int{0}, Mixdown: true})
	require.NoError(t, err)
	assert.False(t, f.Mixdown)
}

func TestNeedConvertFlagsSameCountReorder(t *testing.T) {
	f, err := New(Options{Channels: []int{1, 0}})
	require.NoError(t, err)
	assert.True(t, f.NeedConvert(audiofmt.Info{Channels: 2}))
}

func TestNeedConvertSkipsIdentityChannels(t *testing.T) {
	f, err := New(Options{Channels: []int{0, 1}})
	require.NoError(t, err)
	assert.False(t, f.NeedConvert(audiofmt.Info{Channels: 2}))
}

func TestRejectsUnsupportedBitDepth(t *testing.T) {
	_, err := New(Options{BitDepth: 17})
	assert.Error(t, err)
}

func TestDestinationReplacesExtension(t *testing.T) {
	f, err := New(Options{Format: "flac"})
	require.NoError(t, err)
	assert.Equal(t, "a.flac", f.Destination("a.wav"))

	f2, err := New(Options{})
	require.NoError(t, err)
	assert.Equal(t, "a.wav", f2.Destination("a.wav"))
}

func TestApplyCopiesWhenAlreadySatisfied(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.wav")
	dst := filepath.Join(dir, "b.wav")
	writeTestWAV(t, src, 16000, 1, 100)

	f, err := New(Options{SamplingRate: 16000})
	require.NoError(t, err)
	require.NoError(t, f.Apply(src, dst))

	_, info, err := audiofmt.Read(dst)
	require.NoError(t, err)
	assert.Equal(t, 16000, info.SamplingRate)
}

func TestApplyConvertsFormat(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.wav")
	dst := filepath.Join(dir, "a.flac")
	writeTestWAV(t, src, 16000, 1, 1000)

	f, err := New(Options{Format: "flac"})
	require.NoError(t, err)
	require.NoError(t, f.Apply(src, dst))

	_, err = os.Stat(dst)
	require.NoError(t, err)
}

func TestApplyIdempotent(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.wav")
	dst := filepath.Join(dir, "a.16k.wav")
	writeTestWAV(t, src, 44100, 1, 4410)

	f, err := New(Options{SamplingRate: 16000})
	require.NoError(t, err)
	require.NoError(t, f.Apply(src, dst))

	first, err := os.ReadFile(dst)
	require.NoError(t, err)

	require.NoError(t, f.Apply(dst, dst))
	second, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestApplyRejectsWrongDestinationExtension(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.wav")
	dst := filepath.Join(dir, "a.flac")
	writeTestWAV(t, src, 16000, 1, 100)

	f, err := New(Options{Format: "wav"})
	require.NoError(t, err)
	err = f.Apply(src, dst)
	assert.Error(t, err)
}
