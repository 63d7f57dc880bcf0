// Package rulemap defines the contract for the tag -> item mapping table.
// The rule table itself is an external collaborator (spec §1 "Out of
// scope"); this package only fixes the pure-function interface C3 calls
// and ships the neutral default used when no rule matches.
package rulemap

import "github.com/navit-project/maptool/internal/model"

// Tags is the raw OSM tag set of an entity, in encounter order (duplicate
// keys are not expected from a well-formed decoder).
type Tags []model.Attr

// Get returns the value of key, if present.
func (t Tags) Get(key string) (string, bool) {
	return model.AttrValue([]model.Attr(t), key)
}

// Result is what a Table produces for one entity: its derived item type
// plus any attributes the renderer should retain (spec §3 "tag set; derived
// item type").
type Result struct {
	Type    model.ItemType
	Matched bool
	Attrs   []model.Attr
	// POI marks a way as carrying POI-relevant tags (spec §4.3: "if a way
	// carries POI-relevant tags, a record is written to way2poi").
	POI bool
}

// Table maps tags to an item type and attribute set (spec §1: "treated as a
// pure function `tags -> item_type + attributes`"). Implementations are
// loaded from an external rule file (-r/--rule-file) by a collaborator this
// repo does not implement.
type Table interface {
	// Node classifies a node's tags.
	Node(tags Tags) Result
	// Way classifies a way's tags.
	Way(tags Tags) Result
	// Relation classifies a relation's tags, additionally reporting which
	// of the two carried relation kinds (if any) it represents.
	Relation(tags Tags) (Result, model.RelationKind)
}

// Neutral is a Table that matches nothing: every entity comes back
// unmatched, typed model.UnknownType, so Classify keeps it unless
// --ignore-unknown drops it. cmd/maptool uses it as its rule table.
var Neutral Table = neutralTable{}

type neutralTable struct{}

func (neutralTable) Node(Tags) Result     { return Result{Type: model.UnknownType, Matched: false} }
func (neutralTable) Way(Tags) Result      { return Result{Type: model.UnknownType, Matched: false} }
func (neutralTable) Relation(Tags) (Result, model.RelationKind) {
	return Result{Type: model.UnknownType, Matched: false}, model.RelationOther
}

// Classify applies rule matching plus the ignore-unknown policy (spec
// §4.3). It returns ok=false when the entity should be dropped entirely.
func Classify(res Result, ignoreUnknown bool) (model.ItemType, bool) {
	if !res.Matched && ignoreUnknown {
		return 0, false
	}
	if !res.Matched {
		return model.UnknownType, true
	}
	return res.Type, true
}
