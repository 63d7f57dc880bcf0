package main

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlagsArchivePathIsPositional(t *testing.T) {
	f, archivePath, err := parseFlags([]string{"-z", "6", "out.zip"})
	require.NoError(t, err)
	assert.Equal(t, "out.zip", archivePath)
	assert.Equal(t, 6, f.compression)
}

func TestParseFlagsLongAndShortBindSameVar(t *testing.T) {
	f, _, err := parseFlags([]string{"--dedupe-ways", "out.zip"})
	require.NoError(t, err)
	assert.True(t, f.dedupeWays)

	f2, _, err := parseFlags([]string{"-w", "out.zip"})
	require.NoError(t, err)
	assert.True(t, f2.dedupeWays)
}

func TestParseFlagsMissingArchivePathErrors(t *testing.T) {
	_, _, err := parseFlags([]string{"-z", "6"})
	assert.Error(t, err)
}

func TestParseFlagsDumpCoordinatesAllowsNoArchivePath(t *testing.T) {
	_, archivePath, err := parseFlags([]string{"-c"})
	require.NoError(t, err)
	assert.Equal(t, "", archivePath)
}

func TestResolveOptionsAppliesDefaultsAndOverrides(t *testing.T) {
	f, _, err := parseFlags([]string{"-S", "2048", "-n", "out.zip"})
	require.NoError(t, err)
	opts := resolveOptions(f)
	assert.Equal(t, int64(2048), opts.SliceSize)
	assert.True(t, opts.IgnoreUnknown)
	assert.True(t, opts.ProcessNodes)
	assert.True(t, opts.ProcessWays)
}

func TestResolveOptionsNodesOnlyDisablesWays(t *testing.T) {
	f, _, err := parseFlags([]string{"-N", "out.zip"})
	require.NoError(t, err)
	opts := resolveOptions(f)
	assert.True(t, opts.ProcessNodes)
	assert.False(t, opts.ProcessWays)
}

func TestResolveOptionsWaysOnlyDisablesNodes(t *testing.T) {
	f, _, err := parseFlags([]string{"-W", "out.zip"})
	require.NoError(t, err)
	opts := resolveOptions(f)
	assert.False(t, opts.ProcessNodes)
	assert.True(t, opts.ProcessWays)
}

func TestResolveOptionsZeroSliceSizeKeepsDefault(t *testing.T) {
	f, _, err := parseFlags([]string{"out.zip"})
	require.NoError(t, err)
	opts := resolveOptions(f)
	assert.Equal(t, int64(1<<30), opts.SliceSize)
}

func TestRuleFileHashEmptyPathIsEmptyHash(t *testing.T) {
	h, err := ruleFileHash("")
	require.NoError(t, err)
	assert.Equal(t, "", h)
}

func TestRuleFileHashIsStableAndContentSensitive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.txt")
	require.NoError(t, ioutil.WriteFile(path, []byte("highway=*\tway\n"), 0644))

	h1, err := ruleFileHash(path)
	require.NoError(t, err)
	h2, err := ruleFileHash(path)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)

	require.NoError(t, ioutil.WriteFile(path, []byte("highway=*\tway\nrailway=*\tway\n"), 0644))
	h3, err := ruleFileHash(path)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestRuleFileHashMissingFileErrors(t *testing.T) {
	_, err := ruleFileHash(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}
