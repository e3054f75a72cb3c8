package depend

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcowham/audb-go/internal/define"
)

func sampleRow() Row {
	return Row{
		Archive:      "arch1",
		BitDepth:     16,
		Channels:     1,
		Checksum:     "abc123",
		Duration:     1.5,
		Format:       "wav",
		SamplingRate: 16000,
		Type:         define.TypeMedia,
		Version:      "1.0.0",
	}
}

func TestAddMediaAndAccessors(t *testing.T) {
	d := New()
	d.AddMedia(map[string]Row{"a.wav": sampleRow()})

	v, err := d.Checksum("a.wav")
	require.NoError(t, err)
	assert.Equal(t, "abc123", v)

	typ, err := d.TypeOf("a.wav")
	require.NoError(t, err)
	assert.Equal(t, define.TypeMedia, typ)

	assert.ElementsMatch(t, []string{"a.wav"}, d.Media())
	assert.Empty(t, d.RemovedMedia())
}

func TestRemoveTombstonesNotDrops(t *testing.T) {
	d := New()
	d.AddMedia(map[string]Row{"a.wav": sampleRow()})
	require.NoError(t, d.Remove("a.wav"))

	removed, err := d.Removed("a.wav")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.ElementsMatch(t, []string{"a.wav"}, d.RemovedMedia())
	assert.True(t, d.Contains("a.wav"))
}

func TestDropHardDeletes(t *testing.T) {
	d := New()
	d.AddMedia(map[string]Row{"a.wav": sampleRow()})
	d.Drop([]string{"a.wav"})
	assert.False(t, d.Contains("a.wav"))
}

func TestAddMetaZeroesAudioFields(t *testing.T) {
	d := New()
	d.AddMeta("db.files.csv", Row{Archive: "meta-arch", Checksum: "deadbeef", Version: "1.0.0"})
	r, err := d.Row("db.files.csv")
	require.NoError(t, err)
	assert.Equal(t, int32(0), r.BitDepth)
	assert.Equal(t, int32(0), r.Channels)
	assert.Equal(t, int32(0), r.SamplingRate)
	assert.Equal(t, 0.0, r.Duration)
	assert.Equal(t, define.TypeMeta, r.Type)
}

func TestTableIDs(t *testing.T) {
	d := New()
	d.AddMeta("db.files.csv", Row{})
	d.AddMeta("db.segments.parquet", Row{})
	assert.ElementsMatch(t, []string{"files", "segments"}, d.TableIDs())
}

func TestSaveLoadRoundTripColumnar(t *testing.T) {
	d := New()
	d.AddMedia(map[string]Row{
		"b.wav": sampleRow(),
		"a.wav": sampleRow(),
	})
	dir := t.TempDir()
	p := filepath.Join(dir, "db.parquet")
	require.NoError(t, d.Save(p))

	other := New()
	require.NoError(t, other.Load(p))
	assert.True(t, d.Equal(other))
}

func TestSaveLoadRoundTripCSV(t *testing.T) {
	d := New()
	d.AddMedia(map[string]Row{"a.wav": sampleRow()})
	dir := t.TempDir()
	p := filepath.Join(dir, "db.csv")
	require.NoError(t, d.Save(p))

	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Contains(t, string(data), "file,archive")

	other := New()
	require.NoError(t, other.Load(p))
	assert.True(t, d.Equal(other))
}

func TestSaveDeterministicRegardlessOfInsertionOrder(t *testing.T) {
	d1 := New()
	d1.AddMedia(map[string]Row{"a.wav": sampleRow()})
	d1.AddMedia(map[string]Row{"b.wav": sampleRow()})

	d2 := New()
	d2.AddMedia(map[string]Row{"b.wav": sampleRow()})
	d2.AddMedia(map[string]Row{"a.wav": sampleRow()})

	dir := t.TempDir()
	p1 := filepath.Join(dir, "one.parquet")
	p2 := filepath.Join(dir, "two.parquet")
	require.NoError(t, d1.Save(p1))
	require.NoError(t, d2.Save(p2))

	b1, err := os.ReadFile(p1)
	require.NoError(t, err)
	b2, err := os.ReadFile(p2)
	require.NoError(t, err)
	assert.Equal(t, b1, b2)
}

func TestLoadMissingFileErrors(t *testing.T) {
	d := New()
	err := d.Load(filepath.Join(t.TempDir(), "missing.parquet"))
	assert.Error(t, err)
}

func TestUpdateMediaVersion(t *testing.T) {
	d := New()
	d.AddMedia(map[string]Row{"a.wav": sampleRow()})
	d.UpdateMediaVersion([]string{"a.wav"}, "2.0.0")
	v, err := d.Version("a.wav")
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", v)
}
