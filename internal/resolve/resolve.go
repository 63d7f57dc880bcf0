// Package resolve implements the Reference Resolver (spec §4.4, C4): for
// each way, it replaces node IDs with resolved (lat,lon) coordinates by
// joining against the Coord Buffer one slice at a time.
package resolve

import (
	"context"

	"github.com/grailbio/base/log"

	"github.com/navit-project/maptool/internal/coordbuf"
	"github.com/navit-project/maptool/internal/ingest"
	"github.com/navit-project/maptool/internal/model"
	"github.com/navit-project/maptool/internal/tmpfile"
)

// Resolve runs the slices-1..0 loop described in spec §4.4. On entry, the
// "ways" spool holds raw (unresolved) ways written by C3; on exit the
// "ways_to_resolve" spool holds the same ways with every in-range ref
// replaced, ready for C5.
//
// Missing refs become model.Missing() rather than a sentinel coordinate
// (spec §9 redesign), so downstream components can tell a degenerate
// geometry from a legitimately-resolved (0,0) point.
func Resolve(ctx context.Context, reg *tmpfile.Registry, coords *coordbuf.Buffer, suffix tmpfile.Suffix, keepTmpfiles bool) error {
	slices := coords.Slices()
	if slices == 0 {
		return nil
	}
	log.Printf("resolve: %d slices", slices)

	hasWay2POI := reg.Exists(ctx, tmpfile.BaseWay2POI, suffix)
	poiSrc := tmpfile.BaseWay2POI
	srcWays := tmpfile.BaseWays

	for i := slices - 1; i >= 0; i-- {
		final := i == 0
		first := i == slices-1
		if err := coords.LoadSlice(i); err != nil {
			return err
		}
		if err := resolveWaysPass(ctx, reg, srcWays, suffix, coords, final); err != nil {
			return err
		}
		srcWays = tmpfile.BaseWaysToResolve

		if hasWay2POI {
			if err := resolvePOIPass(ctx, reg, poiSrc, suffix, coords, final); err != nil {
				return err
			}
			if first && !keepTmpfiles {
				reg.Unlink(tmpfile.BaseWay2POI, suffix)
			}
			poiSrc = tmpfile.BaseWay2POIResolved
		}
		if err := coords.SaveSlice(i); err != nil {
			return err
		}
	}
	return nil
}

// resolveWaysPass streams srcBase, rewriting any ref whose OSM node ID
// falls in the currently loaded slice, and writes the result to
// ways_to_resolve (spec §4.4 step 2). It always stages the pass's output
// under ways_to_resolve_new and renames over ways_to_resolve at the end,
// even when srcBase and the destination are the same spool (every pass
// after the first reads its own prior output) - writing in place would
// truncate the file out from under the still-open reader. On the final
// (slice 0) pass, any ref no slice ever resolved is promoted to
// model.Missing() rather than left RefUnresolved (spec §9 "Kind records
// the outcome" once resolution as a whole is finished).
func resolveWaysPass(ctx context.Context, reg *tmpfile.Registry, srcBase tmpfile.Base, suffix tmpfile.Suffix, coords *coordbuf.Buffer, final bool) error {
	r, err := reg.Open(ctx, srcBase, suffix)
	if err != nil {
		return err
	}
	defer r.Close(ctx)

	w, err := reg.Create(ctx, tmpfile.BaseWaysToResolveNew, suffix)
	if err != nil {
		return err
	}

	var way model.Way
	for r.Scan(&way) {
		for i := range way.Refs {
			ref := way.Refs[i]
			if ref.Kind != model.RefUnresolved {
				continue
			}
			if c, ok := coords.Lookup(uint64(ref.OSMNodeID)); ok {
				way.Refs[i] = model.Resolved(c)
				continue
			}
			if final {
				way.Refs[i] = model.Missing()
				continue
			}
			// Leave RefUnresolved otherwise: a later (lower-index) slice
			// may still hold this node ID (spec §4.4 "otherwise leave
			// untouched").
		}
		if err := w.Append(way); err != nil {
			w.Close(ctx)
			return err
		}
	}
	if err := r.Err(); err != nil {
		w.Close(ctx)
		return err
	}
	if err := w.Close(ctx); err != nil {
		return err
	}
	// r (still open via defer) holds the pre-rename inode; renaming the new
	// spool over its path only changes the directory entry; the dance's
	// destination only has to be settled before the next pass's Open.
	return reg.Rename(tmpfile.BaseWaysToResolveNew, tmpfile.BaseWaysToResolve, suffix)
}

// resolvePOIPass replaces POI node IDs with coordinates, matching
// maptool.c's resolve_ways/way2poi_resolved rename dance (spec §4.4 step
// 3). On the final slice, any row still unresolved is dropped (spec
// "Missing refs become sentinel ... treat degenerate geometries as
// drop-on-emit").
func resolvePOIPass(ctx context.Context, reg *tmpfile.Registry, srcBase tmpfile.Base, suffix tmpfile.Suffix, coords *coordbuf.Buffer, final bool) error {
	r, err := reg.Open(ctx, srcBase, suffix)
	if err != nil {
		return err
	}
	defer r.Close(ctx)

	w, err := reg.Create(ctx, tmpfile.BaseWay2POIResolvedNew, suffix)
	if err != nil {
		return err
	}

	var row ingest.POIRow
	for r.Scan(&row) {
		if row.Resolved {
			if err := w.Append(row); err != nil {
				w.Close(ctx)
				return err
			}
			continue
		}
		if c, ok := coords.Lookup(uint64(row.CentroidNode)); ok {
			if err := w.Append(ingest.POIRow{WayID: row.WayID, Coord: c, Resolved: true}); err != nil {
				w.Close(ctx)
				return err
			}
			continue
		}
		if !final {
			if err := w.Append(row); err != nil {
				w.Close(ctx)
				return err
			}
		}
		// final and still unresolved: dropped.
	}
	if err := r.Err(); err != nil {
		w.Close(ctx)
		return err
	}
	if err := w.Close(ctx); err != nil {
		return err
	}
	return reg.Rename(tmpfile.BaseWay2POIResolvedNew, tmpfile.BaseWay2POIResolved, suffix)
}
