package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcowham/audb-go/internal/config"
	"github.com/rcowham/audb-go/internal/header"
)

func TestFlavorFlagsBuildNilWhenUnset(t *testing.T) {
	bitDepth, samplingRate := 0, 0
	channels, format := "", ""
	mixdown := false
	f := &flavorFlags{
		bitDepth: &bitDepth, channels: &channels, format: &format,
		mixdown: &mixdown, samplingRate: &samplingRate,
	}
	fl, err := f.build()
	require.NoError(t, err)
	assert.Nil(t, fl)
}

func TestFlavorFlagsBuildParsesChannels(t *testing.T) {
	bitDepth, samplingRate := 16, 0
	channels, format := "0,1", ""
	mixdown := false
	f := &flavorFlags{
		bitDepth: &bitDepth, channels: &channels, format: &format,
		mixdown: &mixdown, samplingRate: &samplingRate,
	}
	fl, err := f.build()
	require.NoError(t, err)
	require.NotNil(t, fl)
	assert.Equal(t, []int{0, 1}, fl.Channels)
	assert.Equal(t, 16, fl.BitDepth)
}

func TestFlavorFlagsBuildRejectsBadChannels(t *testing.T) {
	bitDepth, samplingRate := 0, 0
	channels, format := "a,b", ""
	mixdown := false
	f := &flavorFlags{
		bitDepth: &bitDepth, channels: &channels, format: &format,
		mixdown: &mixdown, samplingRate: &samplingRate,
	}
	_, err := f.build()
	assert.Error(t, err)
}

func TestNilIfEmpty(t *testing.T) {
	assert.Nil(t, nilIfEmpty(nil))
	assert.Nil(t, nilIfEmpty([]string{}))
	assert.Equal(t, []string{"a"}, nilIfEmpty([]string{"a"}))
}

func TestPickRepositoryDefaultsToFirst(t *testing.T) {
	cfg := &config.Config{Repositories: []config.RepositoryEntry{
		{Name: "pub1", Host: "/tmp/a", Backend: "file-system"},
		{Name: "pub2", Host: "/tmp/b", Backend: "file-system"},
	}}
	repo, err := pickRepository(cfg, "")
	require.NoError(t, err)
	assert.Equal(t, "pub1", repo.Name)
}

func TestPickRepositoryByName(t *testing.T) {
	cfg := &config.Config{Repositories: []config.RepositoryEntry{
		{Name: "pub1", Host: "/tmp/a", Backend: "file-system"},
		{Name: "pub2", Host: "/tmp/b", Backend: "file-system"},
	}}
	repo, err := pickRepository(cfg, "pub2")
	require.NoError(t, err)
	assert.Equal(t, "pub2", repo.Name)
}

func TestPickRepositoryUnknownName(t *testing.T) {
	cfg := &config.Config{Repositories: []config.RepositoryEntry{
		{Name: "pub1", Host: "/tmp/a", Backend: "file-system"},
	}}
	_, err := pickRepository(cfg, "missing")
	assert.Error(t, err)
}

func TestPickRepositoryNoneConfigured(t *testing.T) {
	_, err := pickRepository(&config.Config{}, "")
	assert.Error(t, err)
}

func TestPrintInfoUnknownProjection(t *testing.T) {
	db := header.NewDatabase("db")
	err := printInfo(db, "bogus")
	assert.Error(t, err)
}

func TestPrintInfoHeaderProjection(t *testing.T) {
	db := header.NewDatabase("db")
	err := printInfo(db, "header")
	assert.NoError(t, err)
}
