// Package country implements the Country / Boundary Sorter (spec §4.6, C6):
// administrative boundary relations are assembled into closed ring
// polygons, and every way and node is tested against that polygon set so
// the set of matching ISO country codes can be attached.
package country

import (
	"context"
	"encoding/binary"

	"blainsmith.com/go/seahash"
	"github.com/pkg/errors"

	"github.com/navit-project/maptool/internal/geo"
	"github.com/navit-project/maptool/internal/model"
	"github.com/navit-project/maptool/internal/splitter"
	"github.com/navit-project/maptool/internal/tmpfile"
)

// Polygon is one assembled country boundary: the ISO code attached to the
// source relation's tags, plus every closed (or best-effort stitched) ring
// that makes it up.
type Polygon struct {
	ISO   string
	Rings [][]geo.Coord
}

// Options configures Sort (spec §6 --unknown-country).
type Options struct {
	// UnknownCountry keeps items matching zero countries in an "unknown"
	// bucket instead of dropping them (spec §4.6).
	UnknownCountry bool
}

// Result summarizes one Sort run.
type Result struct {
	Countries   int
	WaysTagged  int64
	NodesTagged int64
	Unknown     int64
}

// Sort implements C6. It reads the boundary relations written by C3,
// assembles one polygon per country, then rewrites ways_split and nodes in
// place with each item's matching ISO codes attached (spec §4.6: "the set
// of matching ISO codes is attached").
func Sort(ctx context.Context, reg *tmpfile.Registry, suffix tmpfile.Suffix, opts Options) (Result, error) {
	var res Result

	geomByID, err := splitter.LoadGeometry(ctx, reg, suffix)
	if err != nil {
		return res, errors.Wrap(err, "load ways_split")
	}
	refByOSM, err := splitter.LoadSplitRef(ctx, reg, suffix)
	if err != nil {
		return res, errors.Wrap(err, "load ways_split_ref")
	}

	polygons, err := assemblePolygons(ctx, reg, suffix, geomByID, refByOSM)
	if err != nil {
		return res, err
	}
	res.Countries = len(polygons)

	if err := tagWays(ctx, reg, suffix, polygons, opts, &res); err != nil {
		return res, err
	}
	if err := tagNodes(ctx, reg, suffix, polygons, opts, &res); err != nil {
		return res, err
	}
	return res, nil
}

func assemblePolygons(ctx context.Context, reg *tmpfile.Registry, suffix tmpfile.Suffix,
	geomByID map[model.ID]model.Way, refByOSM map[int64][]model.ID) ([]Polygon, error) {

	r, err := reg.Open(ctx, tmpfile.BaseBoundaries, suffix)
	if err != nil {
		return nil, errors.Wrap(err, "open boundaries")
	}
	defer r.Close(ctx)

	var polygons []Polygon
	var rel model.Relation
	for r.Scan(&rel) {
		if rel.Kind != model.RelationBoundary {
			continue
		}
		iso, ok := model.AttrValue(rel.Attrs, "ISO3166-1")
		if !ok {
			continue
		}
		var fragments []model.Way
		for _, m := range rel.Members {
			if m.Type != model.MemberWay {
				continue
			}
			for _, splitID := range refByOSM[m.Ref] {
				if w, ok := geomByID[splitID]; ok {
					fragments = append(fragments, w)
				}
			}
		}
		rings := stitchRings(fragments)
		if len(rings) == 0 {
			continue
		}
		polygons = append(polygons, Polygon{ISO: iso, Rings: rings})
	}
	return polygons, errors.Wrap(r.Err(), "scan boundaries")
}

// stitchRings chains way fragments sharing an endpoint coordinate into
// closed rings (spec §4.6 "rings sorted and stitched by endpoint
// coordinate"). Fragment endpoints are keyed by a seahash digest of their
// packed coordinate bytes rather than the coordinate itself, matching this
// component's assigned dependency (SPEC_FULL.md DOMAIN STACK).
func stitchRings(fragments []model.Way) [][]geo.Coord {
	type frag struct{ coords []geo.Coord }
	frs := make([]frag, 0, len(fragments))
	for _, w := range fragments {
		var coords []geo.Coord
		for _, ref := range w.Refs {
			if ref.Kind == model.RefResolved {
				coords = append(coords, ref.Coord)
			}
		}
		if len(coords) >= 2 {
			frs = append(frs, frag{coords})
		}
	}

	byStart := make(map[uint64][]int)
	for i, f := range frs {
		byStart[endpointKey(f.coords[0])] = append(byStart[endpointKey(f.coords[0])], i)
	}

	used := make([]bool, len(frs))
	var rings [][]geo.Coord
	for i, f := range frs {
		if used[i] {
			continue
		}
		used[i] = true
		start := f.coords[0]
		ring := append([]geo.Coord(nil), f.coords...)
		cur := f.coords[len(f.coords)-1]
		for cur != start {
			idx, found := popMatch(byStart, used, endpointKey(cur))
			if !found {
				break
			}
			ring = append(ring, frs[idx].coords[1:]...)
			cur = frs[idx].coords[len(frs[idx].coords)-1]
		}
		rings = append(rings, ring)
	}
	return rings
}

func endpointKey(c geo.Coord) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(c.Lat))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(c.Lon))
	return seahash.Sum64(buf[:])
}

func popMatch(byStart map[uint64][]int, used []bool, key uint64) (int, bool) {
	for _, idx := range byStart[key] {
		if !used[idx] {
			used[idx] = true
			return idx, true
		}
	}
	return 0, false
}

// Matches returns the ISO codes of every polygon containing p.
func Matches(polygons []Polygon, p geo.Coord) []string {
	var out []string
	for _, poly := range polygons {
		if pointInPolygon(p, poly) {
			out = append(out, poly.ISO)
		}
	}
	return out
}

func pointInPolygon(p geo.Coord, poly Polygon) bool {
	for _, ring := range poly.Rings {
		if pointInRing(p, ring) {
			return true
		}
	}
	return false
}

// pointInRing is the standard even-odd ray-casting test. Rings are treated
// independently (hole subtraction between a country's outer and inner rings
// is not modeled; see DESIGN.md).
func pointInRing(p geo.Coord, ring []geo.Coord) bool {
	inside := false
	n := len(ring)
	if n < 3 {
		return false
	}
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		pi, pj := ring[i], ring[j]
		if (pi.Lat > p.Lat) != (pj.Lat > p.Lat) {
			lonAtP := float64(pj.Lon-pi.Lon)*float64(p.Lat-pi.Lat)/float64(pj.Lat-pi.Lat) + float64(pi.Lon)
			if float64(p.Lon) < lonAtP {
				inside = !inside
			}
		}
	}
	return inside
}

func tagWays(ctx context.Context, reg *tmpfile.Registry, suffix tmpfile.Suffix, polygons []Polygon, opts Options, res *Result) error {
	r, err := reg.Open(ctx, tmpfile.BaseWaysSplit, suffix)
	if err != nil {
		return errors.Wrap(err, "open ways_split")
	}
	defer r.Close(ctx)

	w, err := reg.Create(ctx, tmpfile.BaseWaysSplitNew, suffix)
	if err != nil {
		return errors.Wrap(err, "create ways_split_new")
	}

	var way model.Way
	for r.Scan(&way) {
		p, ok := representativePoint(way)
		var codes []string
		if ok {
			codes = Matches(polygons, p)
		}
		if len(codes) == 0 {
			res.Unknown++
			if !opts.UnknownCountry {
				continue
			}
		}
		way.Countries = codes
		if err := w.Append(way); err != nil {
			w.Close(ctx)
			return errors.Wrap(err, "write ways_split_new")
		}
		res.WaysTagged++
	}
	if err := r.Err(); err != nil {
		w.Close(ctx)
		return errors.Wrap(err, "scan ways_split")
	}
	if err := w.Close(ctx); err != nil {
		return err
	}
	return reg.Rename(tmpfile.BaseWaysSplitNew, tmpfile.BaseWaysSplit, suffix)
}

func tagNodes(ctx context.Context, reg *tmpfile.Registry, suffix tmpfile.Suffix, polygons []Polygon, opts Options, res *Result) error {
	if !reg.Exists(ctx, tmpfile.BaseNodes, suffix) {
		return nil
	}
	r, err := reg.Open(ctx, tmpfile.BaseNodes, suffix)
	if err != nil {
		return errors.Wrap(err, "open nodes")
	}
	defer r.Close(ctx)

	w, err := reg.Create(ctx, tmpfile.BaseNodesNew, suffix)
	if err != nil {
		return errors.Wrap(err, "create nodes_new")
	}

	var node model.Node
	for r.Scan(&node) {
		codes := Matches(polygons, node.Coord)
		if len(codes) == 0 {
			if !opts.UnknownCountry {
				continue
			}
		}
		node.Countries = codes
		if err := w.Append(node); err != nil {
			w.Close(ctx)
			return errors.Wrap(err, "write nodes_new")
		}
		res.NodesTagged++
	}
	if err := r.Err(); err != nil {
		w.Close(ctx)
		return errors.Wrap(err, "scan nodes")
	}
	if err := w.Close(ctx); err != nil {
		return err
	}
	return reg.Rename(tmpfile.BaseNodesNew, tmpfile.BaseNodes, suffix)
}

func representativePoint(w model.Way) (geo.Coord, bool) {
	for _, ref := range w.Refs {
		if ref.Kind == model.RefResolved {
			return ref.Coord, true
		}
	}
	return geo.Coord{}, false
}
