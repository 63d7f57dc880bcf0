package splitter

import (
	"github.com/navit-project/maptool/internal/geo"
	"github.com/navit-project/maptool/internal/model"
)

// Closer stitches open coastline fragments produced by Split into closed
// rings by shared endpoint coordinate (spec §4.5 "peer" closer, carried
// from maptool.c's coastline-closing pass; SPEC_FULL.md C5). C6's boundary
// ring assembly uses the same endpoint-chase technique.
type Closer struct {
	fragments []model.Way
}

// NewCloser returns an empty Closer.
func NewCloser() *Closer { return &Closer{} }

// Add enqueues one coastline-tagged way for stitching.
func (c *Closer) Add(w model.Way) { c.fragments = append(c.fragments, w) }

// Close chains every enqueued fragment by shared endpoint into the longest
// run it can form, closing the run into a ring when the chase returns to
// its own start. A fragment whose first ref is not resolved cannot start a
// run and is passed through unchanged; a fragment whose last ref is not
// resolved ends the run it is part of.
func (c *Closer) Close() []model.Way {
	byStart := make(map[geo.Coord][]int)
	used := make([]bool, len(c.fragments))
	for i, w := range c.fragments {
		if start, ok := endpoint(w, true); ok {
			byStart[start] = append(byStart[start], i)
		}
	}

	var rings []model.Way
	for i, w := range c.fragments {
		if used[i] {
			continue
		}
		used[i] = true
		start, startOK := endpoint(w, true)
		if !startOK {
			rings = append(rings, w)
			continue
		}
		refs := append([]model.Ref(nil), w.Refs...)
		cur, curOK := endpoint(w, false)
		for curOK && cur != start {
			next, found := popMatch(byStart, used, cur)
			if !found {
				break
			}
			refs = append(refs, c.fragments[next].Refs[1:]...)
			cur, curOK = endpoint(c.fragments[next], false)
		}
		rings = append(rings, model.Way{
			Refs:      refs,
			Type:      w.Type,
			Attrs:     w.Attrs,
			Coastline: true,
		})
	}
	return rings
}

func endpoint(w model.Way, head bool) (geo.Coord, bool) {
	if len(w.Refs) == 0 {
		return geo.Coord{}, false
	}
	var r model.Ref
	if head {
		r = w.Refs[0]
	} else {
		r = w.Refs[len(w.Refs)-1]
	}
	return r.Coord, r.Kind == model.RefResolved
}

func popMatch(byStart map[geo.Coord][]int, used []bool, at geo.Coord) (int, bool) {
	for _, idx := range byStart[at] {
		if !used[idx] {
			used[idx] = true
			return idx, true
		}
	}
	return 0, false
}
