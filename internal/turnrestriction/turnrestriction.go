// Package turnrestriction implements the Turn Restriction Resolver (spec
// §4.7, C7): for each turn-restriction relation ingested by C3, it resolves
// the relation's "from"/"to" way members down to the split-segment IDs C5
// produced, locates the junction coordinate the two segments share, and
// emits one canonical tuple per restriction.
package turnrestriction

import (
	"context"

	"github.com/grailbio/base/log"

	"github.com/navit-project/maptool/internal/geo"
	"github.com/navit-project/maptool/internal/model"
	"github.com/navit-project/maptool/internal/splitter"
	"github.com/navit-project/maptool/internal/tmpfile"
)

// Turn is the resolved tuple spec §4.7 calls for: "(from_segment, via_coord,
// to_segment, restriction_kind)".
type Turn struct {
	FromSegment model.ID
	Via         geo.Coord
	ToSegment   model.ID
	Restriction string
}

// Result summarizes one Resolve run.
type Result struct {
	Resolved int64
	Dropped  int64
}

// Resolve implements C7. Restrictions whose "from"/"to" members never made
// it through C3/C5 (dropped way, no shared junction after splitting) are
// silently discarded (spec §4.7 "relations whose members were dropped are
// silently discarded").
func Resolve(ctx context.Context, reg *tmpfile.Registry, suffix tmpfile.Suffix) (Result, error) {
	var res Result

	geomByID, err := splitter.LoadGeometry(ctx, reg, suffix)
	if err != nil {
		return res, err
	}
	refByOSM, err := splitter.LoadSplitRef(ctx, reg, suffix)
	if err != nil {
		return res, err
	}

	if !reg.Exists(ctx, tmpfile.BaseTurnRestrictions, suffix) {
		return res, nil
	}
	r, err := reg.Open(ctx, tmpfile.BaseTurnRestrictions, suffix)
	if err != nil {
		return res, err
	}
	defer r.Close(ctx)

	w, err := reg.Create(ctx, tmpfile.BaseRelations, suffix)
	if err != nil {
		return res, err
	}
	defer w.Close(ctx)

	var rel model.Relation
	for r.Scan(&rel) {
		turn, ok := resolveOne(rel, geomByID, refByOSM)
		if !ok {
			res.Dropped++
			continue
		}
		if err := w.Append(turn); err != nil {
			return res, err
		}
		res.Resolved++
	}
	if err := r.Err(); err != nil {
		return res, err
	}
	log.Printf("turnrestriction: %d resolved, %d dropped", res.Resolved, res.Dropped)
	return res, nil
}

func resolveOne(rel model.Relation, geomByID map[model.ID]model.Way, refByOSM map[int64][]model.ID) (Turn, bool) {
	var fromOSM, toOSM int64
	var haveFrom, haveTo bool
	for _, m := range rel.Members {
		if m.Type != model.MemberWay {
			continue
		}
		switch m.Role {
		case "from":
			fromOSM, haveFrom = m.Ref, true
		case "to":
			toOSM, haveTo = m.Ref, true
		}
	}
	if !haveFrom || !haveTo {
		return Turn{}, false
	}

	for _, fromID := range refByOSM[fromOSM] {
		from, ok := geomByID[fromID]
		if !ok {
			continue
		}
		for _, toID := range refByOSM[toOSM] {
			to, ok := geomByID[toID]
			if !ok {
				continue
			}
			if via, ok := sharedEndpoint(from, to); ok {
				return Turn{FromSegment: fromID, Via: via, ToSegment: toID, Restriction: rel.RestrictionKind}, true
			}
		}
	}
	return Turn{}, false
}

// sharedEndpoint finds the junction coordinate between two way segments: the
// via node of a simple turn restriction is always where "from" ends and
// "to" begins (spec leaves via-node resolution to this repo; see
// DESIGN.md).
func sharedEndpoint(from, to model.Way) (geo.Coord, bool) {
	fe := endpoints(from)
	te := endpoints(to)
	for _, a := range fe {
		for _, b := range te {
			if a == b {
				return a, true
			}
		}
	}
	return geo.Coord{}, false
}

func endpoints(w model.Way) []geo.Coord {
	if len(w.Refs) == 0 {
		return nil
	}
	var out []geo.Coord
	if first := w.Refs[0]; first.Kind == model.RefResolved {
		out = append(out, first.Coord)
	}
	if last := w.Refs[len(w.Refs)-1]; last.Kind == model.RefResolved {
		out = append(out, last.Coord)
	}
	return out
}
