// Package model holds the entity types shared by every phase of the
// conversion pipeline: Node, Way, Relation and their wire-level companions.
// See spec §3 DATA MODEL.
package model

import "github.com/navit-project/maptool/internal/geo"

// ID is an internally assigned sequential identifier. Original OSM IDs are
// retained only long enough to resolve way node references (spec §3 Node)
// and are never written past phase 1/2.
type ID uint64

// ItemType is the opaque item-type code produced by the external rule table
// (rulemap.Table) from an entity's tags. maptool treats it as an
// uninterpreted integer; only the rule table and the renderer assign it
// meaning.
type ItemType uint32

// UnknownType is assigned to entities the rule table could not classify,
// when --ignore-unknown is not set (spec §4.3).
const UnknownType ItemType = 0

// Attr is a single debug/attribute key-value pair carried alongside an item
// for the renderer (spec §6 --attr-debug-level).
type Attr struct {
	Key   string
	Value string
}

// Node is a resolved OSM node: a coordinate plus optional tags.
type Node struct {
	ID    ID
	Coord geo.Coord
	Type  ItemType
	Attrs []Attr

	// Countries holds the ISO codes of every country polygon this node
	// falls inside, attached by the Country/Boundary Sorter (spec §4.6).
	// Empty means either unprocessed or "matched zero countries" (kept in
	// output only when unknown_country is enabled).
	Countries []string
}

func (n Node) BBox() geo.BBox {
	return geo.BBox{MinLat: n.Coord.Lat, MinLon: n.Coord.Lon, MaxLat: n.Coord.Lat, MaxLon: n.Coord.Lon}
}

// RefKind distinguishes a resolved way-node reference from one whose
// backing node could not be found in the coord buffer (spec §9: "replace
// with a tagged variant Ref = Resolved(coord) | Missing").
type RefKind uint8

const (
	// RefUnresolved is the state of a Ref immediately after ingest, before
	// the C4 resolver has visited the slice owning its OSM node ID.
	RefUnresolved RefKind = iota
	RefResolved
	RefMissing
)

// Ref is one element of a Way's node list. Before resolution OSMNodeID is
// the original OSM node ID; after resolution (or a failed lookup) Kind
// records the outcome and, if Resolved, Coord holds the looked-up point.
type Ref struct {
	Kind      RefKind
	OSMNodeID int64
	Coord     geo.Coord
}

// Resolved builds a Ref that has been successfully looked up.
func Resolved(c geo.Coord) Ref { return Ref{Kind: RefResolved, Coord: c} }

// Missing builds a Ref whose node could not be found in any slice.
func Missing() Ref { return Ref{Kind: RefMissing} }

// Unresolved builds a Ref carrying an OSM node ID still awaiting lookup.
func Unresolved(osmID int64) Ref { return Ref{Kind: RefUnresolved, OSMNodeID: osmID} }

// Way is an ordered sequence of node references plus tags. Invariant
// (post-C5): no interior Ref is shared with another way; shared refs appear
// only as endpoints (spec §3 Way).
type Way struct {
	ID    ID
	Refs  []Ref
	Type  ItemType
	Attrs []Attr

	// Coastline marks a way tagged natural=coastline, which C5 redirects to
	// the coastline spool instead of the ordinary ways_split spool (spec
	// §4.5 "Coastline-tagged ways are redirected").
	Coastline bool

	// OSMID is the original OSM way ID, carried (unlike node IDs) past
	// ingest so C5 can record an OSM-way-ID -> split-segment-ID mapping
	// (ways_split_ref) for relation members to resolve against in C6/C7.
	// Zero on a segment produced by splitting (segments are addressed by
	// their own sequential ID from then on).
	OSMID int64

	// Countries holds the ISO codes of every country polygon this way
	// falls inside, attached by the Country/Boundary Sorter (spec §4.6).
	Countries []string
}

// BBox returns the bounding box of every resolved coordinate in w. Missing
// or still-unresolved refs are skipped, matching "downstream components
// treat degenerate geometries as drop-on-emit" (spec §4.4).
func (w Way) BBox() geo.BBox {
	var b geo.BBox
	for _, r := range w.Refs {
		if r.Kind == RefResolved {
			b = b.Enclose(r.Coord)
		}
	}
	return b
}

// Degenerate reports whether w has too few resolved points to form a
// meaningful geometry (spec §4.4 "missing refs ... drop-on-emit").
func (w Way) Degenerate() bool {
	n := 0
	for _, r := range w.Refs {
		if r.Kind == RefResolved {
			n++
		}
	}
	return n < 2
}

// MemberType identifies the kind of entity a RelationMember points at.
type MemberType uint8

const (
	MemberNode MemberType = iota
	MemberWay
	MemberRelation
)

// RelationMember is one tagged member of a Relation.
type RelationMember struct {
	Type MemberType
	Ref  int64 // OSM ID of the referenced node/way/relation
	Role string
}

// RelationKind narrows a Relation to one of the two kinds carried through
// the pipeline (spec §3 Relation): everything else is dropped at ingest.
type RelationKind uint8

const (
	RelationOther RelationKind = iota
	RelationTurnRestriction
	RelationBoundary
)

// Relation is an unordered set of tagged members.
type Relation struct {
	ID      ID
	Kind    RelationKind
	Members []RelationMember
	Attrs   []Attr

	// AdminLevel is set when Kind == RelationBoundary.
	AdminLevel int
	// RestrictionKind is set when Kind == RelationTurnRestriction, e.g.
	// "no_left_turn", carried verbatim from the restriction tag value.
	RestrictionKind string
}

// AttrValue looks up the value of key, returning ok=false if absent.
func AttrValue(attrs []Attr, key string) (string, bool) {
	for _, a := range attrs {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}
