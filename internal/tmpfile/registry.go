// Package tmpfile implements the Temp File Registry (spec §4.2, C2): a
// name -> open-spool table keyed by (base, suffix), where every spool is a
// recordio stream of length-prefixed, gob-encoded records so it can be
// produced and consumed without seeking (spec §6 "All temp files use
// length-prefixed records").
//
// Grounded on the teacher's own recordio spool convention in
// cmd/bio-fusion/io.go (fusionWriter/fusionReader) and
// cmd/bio-bam-sort/sorter/sortshard.go.
package tmpfile

import (
	"bytes"
	"context"
	"encoding/gob"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/recordio"
	"github.com/grailbio/base/recordio/recordiozstd"

	"github.com/navit-project/maptool/internal/perr"
)

// Base names the logical spool, matching the bases named in spec §6 Temp
// file layout.
type Base string

const (
	BaseWays               Base = "ways"
	BaseWaysToResolve      Base = "ways_to_resolve"
	BaseWaysToResolveNew   Base = "ways_to_resolve_new"
	BaseWaysSplit          Base = "ways_split"
	BaseWaysSplitIndex     Base = "ways_split_index"
	BaseWaysSplitRef       Base = "ways_split_ref"
	BaseNodes              Base = "nodes"
	BaseRelations          Base = "relations"
	BaseTurnRestrictions   Base = "turn_restrictions"
	BaseBoundaries         Base = "boundaries"
	BaseCoastline          Base = "coastline"
	BaseWay2POI            Base = "way2poi"
	BaseWay2POIResolvedNew Base = "way2poi_resolved_new"
	BaseWay2POIResolved    Base = "way2poi_resolved"
	BaseWaysSplitNew       Base = "ways_split_new"
	BaseNodesNew           Base = "nodes_new"
	BaseGraph              Base = "graph"
	BaseTilesDir           Base = "tilesdir"
	BaseZipDir             Base = "zipdir"
	BaseIndex              Base = "index"
)

// Suffix distinguishes parallel output sets (spec §6: "suffix `""` default").
// Only the default suffix is implemented; see SPEC_FULL.md's note on the
// undocumented "r"-suffixed contraction-hierarchy path.
type Suffix string

const DefaultSuffix Suffix = ""

func (b Base) fileName(suffix Suffix) string {
	if suffix == DefaultSuffix {
		return string(b) + ".tmp"
	}
	return string(b) + "_" + string(suffix) + ".tmp"
}

// Registry owns a directory of named spools.
type Registry struct {
	dir string
}

// NewRegistry returns a Registry rooted at dir (spec §6: "all in CWD").
func NewRegistry(dir string) *Registry {
	return &Registry{dir: dir}
}

// Path returns the on-disk path for (base, suffix).
func (r *Registry) Path(base Base, suffix Suffix) string {
	return filepath.Join(r.dir, base.fileName(suffix))
}

// Exists reports whether the named spool has been created.
func (r *Registry) Exists(ctx context.Context, base Base, suffix Suffix) bool {
	_, err := file.Stat(ctx, r.Path(base, suffix))
	return err == nil
}

// Create opens base/suffix for writing, truncating any existing spool
// (mode "create(1)" in spec §4.2).
func (r *Registry) Create(ctx context.Context, base Base, suffix Suffix) (*Writer, error) {
	recordiozstd.Init()
	path := r.Path(base, suffix)
	f, err := file.Create(ctx, path)
	if err != nil {
		return nil, perr.New(perr.IoFailed, "create "+path, err)
	}
	w := recordio.NewWriter(f.Writer(ctx), recordio.WriterOpts{
		Transformers: []string{recordiozstd.Name},
	})
	return &Writer{f: f, rio: w, path: path}, nil
}

// IndexFunc observes the on-disk location of every record a CreateIndexed
// spool writes (spec §4.5 "ways_split_index is an in-order table of
// (split_id -> byte_offset in ways_split)"), grounded on the teacher's own
// recordio.WriterOpts.Index hook (cmd/bio-bam-sort/sorter/sortshard.go's
// newSortShardWriter).
type IndexFunc func(loc recordio.ItemLocation, v interface{}) error

// CreateIndexed is like Create, but additionally invokes index once per
// appended record with its on-disk location, so a caller can build a
// side-band offset index in the same pass instead of reopening the spool.
func (r *Registry) CreateIndexed(ctx context.Context, base Base, suffix Suffix, index IndexFunc) (*Writer, error) {
	recordiozstd.Init()
	path := r.Path(base, suffix)
	f, err := file.Create(ctx, path)
	if err != nil {
		return nil, perr.New(perr.IoFailed, "create "+path, err)
	}
	w := recordio.NewWriter(f.Writer(ctx), recordio.WriterOpts{
		Transformers: []string{recordiozstd.Name},
		Index:        index,
	})
	return &Writer{f: f, rio: w, path: path}, nil
}

// CreateAt creates a recordio spool at an arbitrary relative path under the
// registry directory, used by C8's tile bodies whose names are dynamic
// quadtree paths rather than a fixed Base.
func (r *Registry) CreateAt(ctx context.Context, relPath string) (*Writer, error) {
	recordiozstd.Init()
	path := filepath.Join(r.dir, relPath)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, perr.New(perr.IoFailed, "mkdir for "+path, err)
	}
	f, err := file.Create(ctx, path)
	if err != nil {
		return nil, perr.New(perr.IoFailed, "create "+path, err)
	}
	w := recordio.NewWriter(f.Writer(ctx), recordio.WriterOpts{
		Transformers: []string{recordiozstd.Name},
	})
	return &Writer{f: f, rio: w, path: path}, nil
}

// OpenAt opens a spool previously written by CreateAt.
func (r *Registry) OpenAt(ctx context.Context, relPath string) (*Reader, error) {
	recordiozstd.Init()
	path := filepath.Join(r.dir, relPath)
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, perr.New(perr.IoFailed, "open "+path, err)
	}
	sc := recordio.NewScanner(f.Reader(ctx), recordio.ScannerOpts{})
	return &Reader{f: f, rio: sc, path: path}, nil
}

// Dir returns the registry's root directory, for components that stage a
// directory tree of their own (C8's tilesdir, C9's zipdir).
func (r *Registry) Dir() string { return r.dir }

// Open opens base/suffix for reading (mode "read(0)" in spec §4.2).
func (r *Registry) Open(ctx context.Context, base Base, suffix Suffix) (*Reader, error) {
	recordiozstd.Init()
	path := r.Path(base, suffix)
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, perr.New(perr.IoFailed, "open "+path, err)
	}
	sc := recordio.NewScanner(f.Reader(ctx), recordio.ScannerOpts{})
	return &Reader{f: f, rio: sc, path: path}, nil
}

// OpenExclusive is mode "exclusive-read(2)" in spec §4.2: the caller asserts
// no writer is concurrently appending to the spool. It behaves exactly like
// Open; nothing in the pipeline calls it.
func (r *Registry) OpenExclusive(ctx context.Context, base Base, suffix Suffix) (*Reader, error) {
	return r.Open(ctx, base, suffix)
}

// Rename moves the spool at fromBase to toBase, matching maptool.c's
// tempfile_rename (used by C4's way2poi_resolved_new -> way2poi_resolved
// dance). Temp spools are always local, so a plain os.Rename is used
// instead of routing through the remote-capable file package (see
// DESIGN.md).
func (r *Registry) Rename(fromBase, toBase Base, suffix Suffix) error {
	from, to := r.Path(fromBase, suffix), r.Path(toBase, suffix)
	if err := os.Rename(from, to); err != nil {
		return perr.New(perr.IoFailed, "rename "+from+" -> "+to, err)
	}
	return nil
}

// Unlink removes the spool, ignoring a not-found error (phases call this
// unconditionally at cleanup, as maptool.c does).
func (r *Registry) Unlink(base Base, suffix Suffix) error {
	path := r.Path(base, suffix)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return perr.New(perr.IoFailed, "unlink "+path, err)
	}
	return nil
}

// UnlinkAll removes every spool base under suffix, used at the end of a
// non-keep-tmpfiles run (spec §7 "otherwise failure is terminal and temp
// files are cleaned").
func (r *Registry) UnlinkAll(suffix Suffix, bases ...Base) {
	for _, b := range bases {
		if err := r.Unlink(b, suffix); err != nil {
			log.Error.Printf("cleanup %v: %v", b, err)
		}
	}
}

// Writer appends gob-encoded records to a recordio spool.
type Writer struct {
	f    file.File
	rio  recordio.Writer
	path string
}

// Append gob-encodes v and appends it as one recordio record.
func (w *Writer) Append(v interface{}) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return perr.New(perr.IoFailed, "encode "+w.path, err)
	}
	w.rio.Append(buf.Bytes())
	return nil
}

// Close finishes the recordio stream and closes the underlying file. All
// writes are checked for short-write/ENOSPC per spec §4.9 failure semantics.
func (w *Writer) Close(ctx context.Context) error {
	if err := w.rio.Finish(); err != nil {
		return perr.New(perr.ResourceExhausted, "finish "+w.path, err)
	}
	if err := w.f.Close(ctx); err != nil {
		return perr.New(perr.IoFailed, "close "+w.path, err)
	}
	return nil
}

// Reader scans gob-encoded records from a recordio spool.
type Reader struct {
	f    file.File
	rio  recordio.Scanner
	path string
	err  error
}

// Scan decodes the next record into v. It returns false at end of stream
// or on a decode error (retrievable via Err).
func (r *Reader) Scan(v interface{}) bool {
	if !r.rio.Scan() {
		return false
	}
	b, ok := r.rio.Get().([]byte)
	if !ok {
		r.err = perr.New(perr.DecodeFailed, "record is not []byte", nil)
		return false
	}
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(v); err != nil {
		r.err = perr.New(perr.DecodeFailed, "decode "+r.path, err)
		return false
	}
	return true
}

// Err returns the first error seen by Scan, or the recordio scanner's own
// error if Scan ran out cleanly.
func (r *Reader) Err() error {
	if r.err != nil {
		return r.err
	}
	if err := r.rio.Err(); err != nil {
		return perr.New(perr.IoFailed, "scan "+r.path, err)
	}
	return nil
}

func (r *Reader) Close(ctx context.Context) error {
	if err := r.f.Close(ctx); err != nil {
		return perr.New(perr.IoFailed, "close "+r.path, err)
	}
	return nil
}

// Manifest records the state needed to validate a `--start` resume (spec §9
// redesign: "formalize as an explicit manifest written at each phase
// boundary").
type Manifest struct {
	Phase        int      `json:"phase"`
	Slices       int      `json:"slices"`
	Suffixes     []string `json:"suffixes"`
	RuleFileHash string   `json:"rule_file_hash"`
}

const manifestName = "maptool_manifest.json"

// WriteManifest persists m at the end of a phase.
func (r *Registry) WriteManifest(ctx context.Context, m Manifest) error {
	f, err := file.Create(ctx, filepath.Join(r.dir, manifestName))
	if err != nil {
		return perr.New(perr.IoFailed, "write manifest", err)
	}
	defer f.Close(ctx)
	return json.NewEncoder(f.Writer(ctx)).Encode(m)
}

// ReadManifest loads the manifest written by a previous run.
func (r *Registry) ReadManifest(ctx context.Context) (Manifest, error) {
	var m Manifest
	f, err := file.Open(ctx, filepath.Join(r.dir, manifestName))
	if err != nil {
		return m, perr.New(perr.ResumeMissing, "no manifest for --start resume", err)
	}
	defer f.Close(ctx)
	if err := json.NewDecoder(f.Reader(ctx)).Decode(&m); err != nil {
		return m, perr.New(perr.ResumeMissing, "corrupt manifest", err)
	}
	return m, nil
}

// ValidateResume checks that a prior run's manifest covers starting at
// phase s with the given rule file hash (spec §9: "start at phase s
// requires the manifest to show phase >= s-1 with matching hash").
func (m Manifest) ValidateResume(startPhase int, ruleFileHash string) error {
	if m.Phase < startPhase-1 {
		return perr.New(perr.ResumeMissing, "manifest phase too old for requested start", nil)
	}
	if ruleFileHash != "" && m.RuleFileHash != "" && m.RuleFileHash != ruleFileHash {
		return perr.New(perr.ResumeMissing, "rule file changed since temp files were written", nil)
	}
	return nil
}
