package archivezip

import (
	"bytes"
	"context"
	"encoding/gob"
	"io/ioutil"
	"path/filepath"
	"sort"
	"time"

	"github.com/grailbio/base/log"

	"github.com/navit-project/maptool/internal/country"
	"github.com/navit-project/maptool/internal/tile"
	"github.com/navit-project/maptool/internal/tmpfile"
)

// MapInfo carries the optional attributes spec §6's archive layout assigns
// to the "map_information" entry: "an optional URL and timestamp".
type MapInfo struct {
	URL       string
	Timestamp time.Time
}

// PackageOptions bundles the inputs C9 needs beyond the archive's own
// compression settings.
type PackageOptions struct {
	Archive   Options
	Info      MapInfo
	Countries []country.Polygon
	// AuxManifest, if non-empty, is the path to an auxtiles.txt listing
	// additional files to fold into the archive verbatim, one per line as
	// "<entry-name>\t<source-path>" (spec §6 "an auxtiles.txt manifest may
	// contribute additional entries verbatim"; the exact line format isn't
	// specified upstream, so this repo defines the obvious one).
	AuxManifest string
}

// Result summarizes one Package run.
type Result struct {
	Tiles     int
	Countries int
	AuxFiles  int
}

// Package implements C9: it reads the tilesdir listing C8 produced, writes
// every tile body as its own archive entry in depth-first quadtree order,
// then appends the index, country and map_information entries spec §6's
// archive layout names, and finally any auxtiles.txt entries.
func Package(ctx context.Context, reg *tmpfile.Registry, suffix tmpfile.Suffix, archivePath string, opts PackageOptions) (Result, error) {
	var res Result

	w, err := Create(archivePath, opts.Archive)
	if err != nil {
		return res, err
	}

	entries, err := loadTileEntries(ctx, reg, suffix)
	if err != nil {
		return res, w.abort(err)
	}
	// Already written in depth-first quadtree order by C8 (spec §4.8
	// "tiles in the archive are emitted in depth-first quadtree order");
	// sort defensively in case the listing was produced out of order by a
	// resumed run.
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	index := make(map[string]uint64, len(entries))
	for _, e := range entries {
		name := tileEntryName(e.Path)
		body, err := ioutil.ReadFile(filepath.Join(reg.Dir(), "tilesdir", name+".tile"))
		if err != nil {
			return res, w.abort(err)
		}
		index[name] = w.offset
		if err := w.Append(name, body, time.Time{}); err != nil {
			return res, err
		}
		res.Tiles++
	}

	if err := appendGob(w, "index", index); err != nil {
		return res, err
	}

	for _, poly := range opts.Countries {
		if err := appendGob(w, "country_"+poly.ISO, poly); err != nil {
			return res, err
		}
		res.Countries++
	}

	if err := appendGob(w, "map_information", opts.Info); err != nil {
		return res, err
	}

	if opts.AuxManifest != "" {
		n, err := appendAuxManifest(w, opts.AuxManifest)
		if err != nil {
			return res, err
		}
		res.AuxFiles = n
	}

	if err := w.Close(); err != nil {
		return res, err
	}
	log.Printf("archivezip: %d tiles, %d countries, %d aux files -> %s", res.Tiles, res.Countries, res.AuxFiles, archivePath)
	return res, nil
}

func tileEntryName(path string) string {
	if path == "" {
		return "root"
	}
	return path
}

func loadTileEntries(ctx context.Context, reg *tmpfile.Registry, suffix tmpfile.Suffix) ([]tile.Entry, error) {
	r, err := reg.Open(ctx, tmpfile.BaseTilesDir, suffix)
	if err != nil {
		return nil, err
	}
	defer r.Close(ctx)

	var entries []tile.Entry
	var e tile.Entry
	for r.Scan(&e) {
		entries = append(entries, e)
	}
	return entries, r.Err()
}

func appendGob(w *Writer, name string, v interface{}) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return w.abort(err)
	}
	return w.Append(name, buf.Bytes(), time.Time{})
}

// appendAuxManifest folds every file an auxtiles.txt manifest names into
// the archive unmodified.
func appendAuxManifest(w *Writer, manifestPath string) (int, error) {
	raw, err := ioutil.ReadFile(manifestPath)
	if err != nil {
		return 0, w.abort(err)
	}
	n := 0
	for _, line := range splitLines(string(raw)) {
		name, src, ok := splitAuxLine(line)
		if !ok {
			continue
		}
		body, err := ioutil.ReadFile(src)
		if err != nil {
			return n, w.abort(err)
		}
		if err := w.Append(name, body, time.Time{}); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i, c := range s {
		if c == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

func splitAuxLine(line string) (name, src string, ok bool) {
	for i, c := range line {
		if c == '\t' {
			return line[:i], line[i+1:], true
		}
	}
	return "", "", false
}
