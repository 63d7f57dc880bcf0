// Package ingest implements Entity Ingest (spec §4.3, C3): it consumes the
// canonical OSM entity stream and writes the raw node table, way/relation
// skeletons, and the way2poi candidate spool.
package ingest

import (
	"context"
	"io"

	"github.com/grailbio/base/log"

	"github.com/navit-project/maptool/internal/coordbuf"
	"github.com/navit-project/maptool/internal/config"
	"github.com/navit-project/maptool/internal/decode"
	"github.com/navit-project/maptool/internal/dedupe"
	"github.com/navit-project/maptool/internal/geo"
	"github.com/navit-project/maptool/internal/model"
	"github.com/navit-project/maptool/internal/rulemap"
	"github.com/navit-project/maptool/internal/tmpfile"
)

// POIRow is one candidate row linking a way to a future resolved POI
// coordinate (spec §4.3: "a record is written to way2poi linking the way's
// centroid placeholder to a future resolved coordinate"). It doubles as the
// record type for way2poi_resolved: Resolved distinguishes the two states
// so a single recordio stream never mixes incompatible shapes across the
// C4 resolve passes (spec §9 tagged-variant redesign, applied here too).
type POIRow struct {
	WayID        model.ID
	CentroidNode int64     // OSM node ID used as the centroid placeholder; valid iff !Resolved
	Coord        geo.Coord // valid iff Resolved
	Resolved     bool
}

// Result summarizes one ingest run, used to size the coord buffer's slices
// before C4 and to feed the progress line.
type Result struct {
	Nodes, Ways, Relations int64
	DedupedWays            int64
}

// Options configures Ingest beyond the shared pipeline context, since C3 is
// invoked with only the subset of CLI flags relevant to entity processing.
type Options struct {
	ProcessNodes     bool
	ProcessWays      bool
	ProcessRelations bool
	IgnoreUnknown    bool
	DedupeWays       bool
}

// Ingest drains stream, classifying entities via rules and writing the raw
// spools through reg. coords receives every node's coordinate regardless of
// ProcessNodes, since C4 needs the full coord table to resolve way refs.
func Ingest(ctx context.Context, cc *config.Context, reg *tmpfile.Registry, coords *coordbuf.Buffer,
	rules rulemap.Table, stream decode.Stream, opts Options) (Result, error) {

	var (
		res       Result
		nodesW    *tmpfile.Writer
		waysW     *tmpfile.Writer
		boundsW   *tmpfile.Writer
		turnsW    *tmpfile.Writer
		poiW      *tmpfile.Writer
		dedup     *dedupe.Set
		nextID    model.ID
		err       error
	)

	if opts.ProcessNodes {
		if nodesW, err = reg.Create(ctx, tmpfile.BaseNodes, tmpfile.DefaultSuffix); err != nil {
			return res, err
		}
		defer nodesW.Close(ctx)
	}
	if opts.ProcessWays {
		if waysW, err = reg.Create(ctx, tmpfile.BaseWays, tmpfile.DefaultSuffix); err != nil {
			return res, err
		}
		defer waysW.Close(ctx)
	}
	if opts.ProcessRelations {
		if boundsW, err = reg.Create(ctx, tmpfile.BaseBoundaries, tmpfile.DefaultSuffix); err != nil {
			return res, err
		}
		defer boundsW.Close(ctx)
		if turnsW, err = reg.Create(ctx, tmpfile.BaseTurnRestrictions, tmpfile.DefaultSuffix); err != nil {
			return res, err
		}
		defer turnsW.Close(ctx)
	}
	if opts.ProcessWays && opts.ProcessNodes {
		if poiW, err = reg.Create(ctx, tmpfile.BaseWay2POI, tmpfile.DefaultSuffix); err != nil {
			return res, err
		}
		defer poiW.Close(ctx)
	}
	if opts.DedupeWays {
		dedup = dedupe.New(0, 0)
	}

	for {
		ent, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Any error other than io.EOF ends the phase with that error.
			// This includes a single malformed entity: the bundled
			// line-protocol decoder reports a bad line as an error, and the
			// entity is not skipped.
			return res, err
		}
		nextID++
		switch ent.Kind {
		case decode.KindNode:
			cc.Counters.AddNode()
			coords.Append(coordbuf.Node{ID: uint64(ent.ID), Coord: geo.Coord{Lat: ent.Lat, Lon: ent.Lon}})
			if nodesW == nil {
				continue
			}
			result := rules.Node(rulemap.Tags(ent.Tags))
			typ, ok := rulemap.Classify(result, opts.IgnoreUnknown)
			if !ok {
				continue
			}
			if err := nodesW.Append(model.Node{
				ID:    nextID,
				Coord: geo.Coord{Lat: ent.Lat, Lon: ent.Lon},
				Type:  typ,
				Attrs: result.Attrs,
			}); err != nil {
				return res, err
			}
			res.Nodes++
			cc.Counters.AddNodeOut()

		case decode.KindWay:
			if waysW == nil {
				continue
			}
			result := rules.Way(rulemap.Tags(ent.Tags))
			typ, ok := rulemap.Classify(result, opts.IgnoreUnknown)
			if !ok {
				continue
			}
			if dedup != nil {
				key := dedupe.Key(ent.NodeRefs, ent.Tags)
				if dedup.SeenOrAdd(key) {
					res.DedupedWays++
					continue
				}
			}
			refs := make([]model.Ref, len(ent.NodeRefs))
			for i, id := range ent.NodeRefs {
				refs[i] = model.Unresolved(id)
			}
			w := model.Way{ID: nextID, OSMID: ent.ID, Refs: refs, Type: typ, Attrs: result.Attrs, Coastline: hasCoastlineTag(ent.Tags)}
			if err := waysW.Append(w); err != nil {
				return res, err
			}
			res.Ways++
			cc.Counters.AddWay()

			if result.POI && poiW != nil && len(ent.NodeRefs) > 0 {
				if err := poiW.Append(POIRow{WayID: w.ID, CentroidNode: ent.NodeRefs[0]}); err != nil {
					return res, err
				}
			}

		case decode.KindRelation:
			if boundsW == nil {
				continue
			}
			result, kind := rules.Relation(rulemap.Tags(ent.Tags))
			typ, ok := rulemap.Classify(result, opts.IgnoreUnknown)
			if !ok {
				continue
			}
			if kind == model.RelationOther {
				// Only turn-restriction and boundary relations are carried
				// through the pipeline (spec §3 Relation); silently drop
				// everything else at ingest.
				continue
			}
			r := model.Relation{ID: nextID, Kind: kind, Members: ent.Members, Attrs: result.Attrs}
			_ = typ
			switch kind {
			case model.RelationBoundary:
				if lvl, ok := rulemap.Tags(ent.Tags).Get("admin_level"); ok {
					r.AdminLevel = parseIntOrZero(lvl)
				}
				if err := boundsW.Append(r); err != nil {
					return res, err
				}
			case model.RelationTurnRestriction:
				if v, ok := rulemap.Tags(ent.Tags).Get("restriction"); ok {
					r.RestrictionKind = v
				}
				if err := turnsW.Append(r); err != nil {
					return res, err
				}
			}
			res.Relations++
			cc.Counters.AddRelation()
		}
	}

	if err := coords.Flush(true); err != nil {
		return res, err
	}
	log.Printf("ingest: %d nodes, %d ways (%d deduped), %d relations", res.Nodes, res.Ways, res.DedupedWays, res.Relations)
	return res, nil
}

func hasCoastlineTag(tags []model.Attr) bool {
	v, ok := model.AttrValue(tags, "natural")
	return ok && v == "coastline"
}

func parseIntOrZero(s string) int {
	n := 0
	neg := false
	for i, c := range s {
		if i == 0 && c == '-' {
			neg = true
			continue
		}
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	if neg {
		n = -n
	}
	return n
}
