package archivezip

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/gob"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/navit-project/maptool/internal/country"
	"github.com/navit-project/maptool/internal/geo"
	"github.com/navit-project/maptool/internal/tile"
	"github.com/navit-project/maptool/internal/tmpfile"
)

func writeTile(t *testing.T, reg *tmpfile.Registry, name string, body string) {
	ctx := context.Background()
	w, err := reg.CreateAt(ctx, "tilesdir/"+name+".tile")
	require.NoError(t, err)
	require.NoError(t, w.Append(body))
	require.NoError(t, w.Close(ctx))
}

func TestPackageWritesTilesIndexCountriesAndMapInfo(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	reg := tmpfile.NewRegistry(dir)

	writeTile(t, reg, "root", "root-body")
	writeTile(t, reg, "a", "a-body")

	idx, err := reg.Create(ctx, tmpfile.BaseTilesDir, tmpfile.DefaultSuffix)
	require.NoError(t, err)
	require.NoError(t, idx.Append(tile.Entry{Path: "", ItemCount: 1}))
	require.NoError(t, idx.Append(tile.Entry{Path: "a", ItemCount: 1}))
	require.NoError(t, idx.Close(ctx))

	archivePath := filepath.Join(dir, "out.zip")
	res, err := Package(ctx, reg, tmpfile.DefaultSuffix, archivePath, PackageOptions{
		Archive:   Options{Level: 6},
		Info:      MapInfo{URL: "https://example.invalid/extract.osm"},
		Countries: []country.Polygon{{ISO: "XX", Rings: [][]geo.Coord{{{Lat: 0, Lon: 0}}}}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Tiles)
	assert.Equal(t, 1, res.Countries)

	zr, err := zip.OpenReader(archivePath)
	require.NoError(t, err)
	defer zr.Close()

	names := make(map[string]*zip.File)
	for _, f := range zr.File {
		names[f.Name] = f
	}
	require.Contains(t, names, "root")
	require.Contains(t, names, "a")
	require.Contains(t, names, "index")
	require.Contains(t, names, "country_XX")
	require.Contains(t, names, "map_information")

	// The tile body in the archive is the raw recordio-framed spool file
	// tile.go wrote, not a bare decoded record, so compare it byte-for-byte
	// against the on-disk tile spool rather than gob-decoding it.
	rc, err := names["root"].Open()
	require.NoError(t, err)
	data, _ := ioutil.ReadAll(rc)
	rc.Close()
	want, err := ioutil.ReadFile(filepath.Join(dir, "tilesdir", "root.tile"))
	require.NoError(t, err)
	assert.Equal(t, want, data)

	rc, err = names["map_information"].Open()
	require.NoError(t, err)
	data, _ = ioutil.ReadAll(rc)
	rc.Close()
	var info MapInfo
	require.NoError(t, gob.NewDecoder(bytes.NewReader(data)).Decode(&info))
	assert.Equal(t, "https://example.invalid/extract.osm", info.URL)
}

func TestPackageWithAuxManifest(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	reg := tmpfile.NewRegistry(dir)

	writeTile(t, reg, "root", "root-body")
	idx, err := reg.Create(ctx, tmpfile.BaseTilesDir, tmpfile.DefaultSuffix)
	require.NoError(t, err)
	require.NoError(t, idx.Append(tile.Entry{Path: "", ItemCount: 1}))
	require.NoError(t, idx.Close(ctx))

	auxSrc := filepath.Join(dir, "extra.txt")
	require.NoError(t, ioutil.WriteFile(auxSrc, []byte("extra payload"), 0644))
	manifest := filepath.Join(dir, "auxtiles.txt")
	require.NoError(t, ioutil.WriteFile(manifest, []byte("extra.txt\t"+auxSrc+"\n"), 0644))

	archivePath := filepath.Join(dir, "out.zip")
	res, err := Package(ctx, reg, tmpfile.DefaultSuffix, archivePath, PackageOptions{
		Archive:     Options{Level: 0},
		AuxManifest: manifest,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.AuxFiles)

	zr, err := zip.OpenReader(archivePath)
	require.NoError(t, err)
	defer zr.Close()
	var found bool
	for _, f := range zr.File {
		if f.Name == "extra.txt" {
			found = true
			rc, _ := f.Open()
			data, _ := ioutil.ReadAll(rc)
			rc.Close()
			assert.Equal(t, "extra payload", string(data))
		}
	}
	assert.True(t, found)
}

func TestTileEntryNameRootMapping(t *testing.T) {
	assert.Equal(t, "root", tileEntryName(""))
	assert.Equal(t, "ab", tileEntryName("ab"))
}

func TestSplitAuxLine(t *testing.T) {
	name, src, ok := splitAuxLine("name\tpath/to/file")
	assert.True(t, ok)
	assert.Equal(t, "name", name)
	assert.Equal(t, "path/to/file", src)

	_, _, ok = splitAuxLine("no-tab-here")
	assert.False(t, ok)
}
