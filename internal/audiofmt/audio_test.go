package audiofmt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sineSignal(rate, channels, frames int) Signal {
	chans := make([][]float64, channels)
	for c := range chans {
		ch := make([]float64, frames)
		for i := range ch {
			ch[i] = 0.5
		}
		chans[c] = ch
	}
	return Signal{Channels: chans, SamplingRate: rate}
}

func TestWAVWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.wav")
	sig := sineSignal(16000, 2, 100)

	require.NoError(t, writeWAV(path, sig, 16))

	got, info, err := readWAV(path)
	require.NoError(t, err)
	assert.Equal(t, 2, info.Channels)
	assert.Equal(t, 16, info.BitDepth)
	assert.Equal(t, 16000, info.SamplingRate)
	assert.Equal(t, 100, got.NumSamples())
	assert.InDelta(t, 0.5, got.Channels[0][0], 0.01)
}

func TestProbeWAV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.wav")
	require.NoError(t, writeWAV(path, sineSignal(8000, 1, 8000), 16))

	info, err := Probe(path)
	require.NoError(t, err)
	assert.Equal(t, 1, info.Channels)
	assert.InDelta(t, 1.0, info.Duration, 0.001)
}

func TestRemixMixdown(t *testing.T) {
	sig := Signal{
		Channels: [][]float64{
			{1.0, 1.0},
			{0.0, 0.0},
		},
		SamplingRate: 16000,
	}
	out := Remix(sig, nil, true)
	assert.Len(t, out.Channels, 1)
	assert.InDelta(t, 0.5, out.Channels[0][0], 0.0001)
}

func TestRemixChannelSelectionWithUpmix(t *testing.T) {
	sig := Signal{Channels: [][]float64{{1.0, 2.0}}, SamplingRate: 16000}
	out := Remix(sig, []int{0, 5}, false)
	require.Len(t, out.Channels, 2)
	assert.Equal(t, out.Channels[0], out.Channels[1])
}

func TestResampleNoOpWhenSameRate(t *testing.T) {
	sig := sineSignal(16000, 1, 10)
	out := Resample(sig, 16000)
	assert.Equal(t, sig.Channels[0], out.Channels[0])
}

func TestResampleChangesLength(t *testing.T) {
	sig := sineSignal(8000, 1, 800)
	out := Resample(sig, 16000)
	assert.Equal(t, 16000, out.SamplingRate)
	assert.InDelta(t, 1600, len(out.Channels[0]), 2)
}

func TestProbeUnrecognizedFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.mp3")
	require.NoError(t, os.WriteFile(path, []byte{0, 1, 2, 3}, 0o644))
	_, err := Probe(path)
	assert.ErrorIs(t, err, ErrNotAudio)
}
