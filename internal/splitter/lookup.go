package splitter

import (
	"context"

	"github.com/navit-project/maptool/internal/model"
	"github.com/navit-project/maptool/internal/tmpfile"
)

// LoadSplitRef reads the full ways_split_ref spool into a map from OSM way
// ID to the sequential IDs of the segments it was split into (spec §4.7
// "look up the from and to split-way IDs ... using the split-index from
// C5"). Loading it in full rather than seeking by offset is a deliberate
// simplification for this repo's scale (see DESIGN.md); the per-entry
// records are small (an int64 plus a handful of model.IDs) so the whole
// table is comparable in size to the dedupe set already budgeted in spec §5.
func LoadSplitRef(ctx context.Context, reg *tmpfile.Registry, suffix tmpfile.Suffix) (map[int64][]model.ID, error) {
	r, err := reg.Open(ctx, tmpfile.BaseWaysSplitRef, suffix)
	if err != nil {
		return nil, err
	}
	defer r.Close(ctx)

	out := make(map[int64][]model.ID)
	var entry SplitRef
	for r.Scan(&entry) {
		out[entry.OSMWayID] = entry.SplitIDs
	}
	return out, r.Err()
}

// LoadGeometry reads the full ways_split spool into a map keyed by split ID,
// standing in for the byte-offset seek ways_split_index was designed to
// support (see the note in LoadSplitRef).
func LoadGeometry(ctx context.Context, reg *tmpfile.Registry, suffix tmpfile.Suffix) (map[model.ID]model.Way, error) {
	r, err := reg.Open(ctx, tmpfile.BaseWaysSplit, suffix)
	if err != nil {
		return nil, err
	}
	defer r.Close(ctx)

	out := make(map[model.ID]model.Way)
	var way model.Way
	for r.Scan(&way) {
		out[way.ID] = way
	}
	return out, r.Err()
}
