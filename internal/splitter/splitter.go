// Package splitter implements the Intersection Splitter (spec §4.5, C5): it
// cuts ways at every interior node shared with another way, and redirects
// coastline-tagged ways to a separate spool for the coastline closer.
package splitter

import (
	"context"

	"github.com/biogo/store/llrb"
	"github.com/grailbio/base/recordio"

	"github.com/navit-project/maptool/internal/geo"
	"github.com/navit-project/maptool/internal/model"
	"github.com/navit-project/maptool/internal/tmpfile"
)

// refCount is one entry of the reference-count table keyed by coordinate
// (spec §4.5 "a first pass builds a count-of-references table keyed by
// coord"). The table itself is an in-memory LLRB tree, grounded on the
// teacher's own in-memory binary tree in cmd/bio-bam-sort/sorter/sort.go
// (there used as a k-way merge tree; here repurposed as a counting set).
type refCount struct {
	coord geo.Coord
	count int
}

func (r *refCount) Compare(c llrb.Comparable) int {
	o := c.(*refCount)
	switch {
	case r.coord.Lat != o.coord.Lat:
		if r.coord.Lat < o.coord.Lat {
			return -1
		}
		return 1
	case r.coord.Lon != o.coord.Lon:
		if r.coord.Lon < o.coord.Lon {
			return -1
		}
		return 1
	default:
		return 0
	}
}

func bump(tree *llrb.Tree, c geo.Coord) {
	probe := &refCount{coord: c}
	if got := tree.Get(probe); got != nil {
		got.(*refCount).count++
		return
	}
	probe.count = 1
	tree.Insert(probe)
}

func countOf(tree *llrb.Tree, c geo.Coord) int {
	if got := tree.Get(&refCount{coord: c}); got != nil {
		return got.(*refCount).count
	}
	return 0
}

// indexEntry is one row of ways_split_index (spec §4.5: "an in-order table
// of (split_id -> byte_offset in ways_split) used for O(1) later lookups by
// C7 and C9").
type indexEntry struct {
	SplitID model.ID
	Offset  uint64
}

// SplitRef is one row of ways_split_ref: the reverse mapping from an
// original OSM way ID to the sequential IDs of the segments it was cut
// into. C6 and C7 need this to resolve a relation member (an OSM way ID)
// down to the split geometry ways_split_index addresses; ways_split_index
// alone only goes from split ID to byte offset, not from OSM ID to split
// ID (spec §4.5, §4.7).
type SplitRef struct {
	OSMWayID int64
	SplitIDs []model.ID
}

// Result summarizes one Split run.
type Result struct {
	SplitWays     int64
	CoastlineWays int64
}

// Split reads the resolved "ways_to_resolve" spool written by C4 and
// produces "ways_split" plus its "ways_split_index" side table. Ways tagged
// coastline are stitched by Closer into rings and written to the
// "coastline" spool instead (spec §4.5).
func Split(ctx context.Context, reg *tmpfile.Registry, suffix tmpfile.Suffix) (Result, error) {
	var res Result

	counts := &llrb.Tree{}
	if err := countRefs(ctx, reg, suffix, counts); err != nil {
		return res, err
	}

	r, err := reg.Open(ctx, tmpfile.BaseWaysToResolve, suffix)
	if err != nil {
		return res, err
	}
	defer r.Close(ctx)

	idx, err := reg.Create(ctx, tmpfile.BaseWaysSplitIndex, suffix)
	if err != nil {
		return res, err
	}
	defer idx.Close(ctx)

	var curID model.ID
	out, err := reg.CreateIndexed(ctx, tmpfile.BaseWaysSplit, suffix, func(loc recordio.ItemLocation, v interface{}) error {
		return idx.Append(indexEntry{SplitID: curID, Offset: loc.Block})
	})
	if err != nil {
		return res, err
	}

	ref, err := reg.Create(ctx, tmpfile.BaseWaysSplitRef, suffix)
	if err != nil {
		out.Close(ctx)
		return res, err
	}

	closer := NewCloser()

	var way model.Way
	for r.Scan(&way) {
		if way.Coastline {
			closer.Add(way)
			continue
		}
		segs := splitWay(way, counts)
		ids := make([]model.ID, 0, len(segs))
		for _, seg := range segs {
			curID = model.ID(res.SplitWays + 1)
			seg.ID = curID
			if err := out.Append(seg); err != nil {
				out.Close(ctx)
				ref.Close(ctx)
				return res, err
			}
			res.SplitWays++
			ids = append(ids, curID)
		}
		if way.OSMID != 0 {
			if err := ref.Append(SplitRef{OSMWayID: way.OSMID, SplitIDs: ids}); err != nil {
				out.Close(ctx)
				ref.Close(ctx)
				return res, err
			}
		}
	}
	if err := r.Err(); err != nil {
		out.Close(ctx)
		ref.Close(ctx)
		return res, err
	}
	if err := out.Close(ctx); err != nil {
		ref.Close(ctx)
		return res, err
	}
	if err := ref.Close(ctx); err != nil {
		return res, err
	}

	if err := writeCoastline(ctx, reg, suffix, closer, &res); err != nil {
		return res, err
	}
	return res, nil
}

// countRefs is the first pass of C5: it tallies how many ways reference
// each resolved coordinate, without retaining the ways themselves.
func countRefs(ctx context.Context, reg *tmpfile.Registry, suffix tmpfile.Suffix, counts *llrb.Tree) error {
	r, err := reg.Open(ctx, tmpfile.BaseWaysToResolve, suffix)
	if err != nil {
		return err
	}
	defer r.Close(ctx)

	var way model.Way
	for r.Scan(&way) {
		for _, ref := range way.Refs {
			if ref.Kind == model.RefResolved {
				bump(counts, ref.Coord)
			}
		}
	}
	return r.Err()
}

// splitWay cuts way at every interior position whose coordinate has a
// reference count greater than 1 (spec §4.5). The cut node is duplicated as
// the shared endpoint of both resulting segments, so the union of segments
// covers the parent geometry exactly (spec §4.5 invariant).
func splitWay(way model.Way, counts *llrb.Tree) []model.Way {
	if len(way.Refs) < 2 {
		return []model.Way{way}
	}
	cuts := []int{0}
	for i := 1; i < len(way.Refs)-1; i++ {
		ref := way.Refs[i]
		if ref.Kind == model.RefResolved && countOf(counts, ref.Coord) > 1 {
			cuts = append(cuts, i)
		}
	}
	cuts = append(cuts, len(way.Refs)-1)
	if len(cuts) == 2 {
		return []model.Way{way}
	}

	segments := make([]model.Way, 0, len(cuts)-1)
	for i := 0; i < len(cuts)-1; i++ {
		start, end := cuts[i], cuts[i+1]
		refs := make([]model.Ref, end-start+1)
		copy(refs, way.Refs[start:end+1])
		segments = append(segments, model.Way{
			Refs:      refs,
			Type:      way.Type,
			Attrs:     way.Attrs,
			Coastline: way.Coastline,
		})
	}
	return segments
}

func writeCoastline(ctx context.Context, reg *tmpfile.Registry, suffix tmpfile.Suffix, closer *Closer, res *Result) error {
	w, err := reg.Create(ctx, tmpfile.BaseCoastline, suffix)
	if err != nil {
		return err
	}
	var nextID model.ID
	for _, ring := range closer.Close() {
		nextID++
		ring.ID = nextID
		if err := w.Append(ring); err != nil {
			w.Close(ctx)
			return err
		}
		res.CoastlineWays++
	}
	return w.Close(ctx)
}
