// Package decode defines the canonical OSM entity stream contract. The OSM
// XML/PBF/o5m decoders themselves are external collaborators (spec §1);
// this package fixes the Entity/Stream shapes they must produce and ships a
// minimal reference decoder used by the golden tests in spec §8, so the
// ingest phase (C3) can be exercised without a real OSM parser.
package decode

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/navit-project/maptool/internal/model"
)

// EntityKind distinguishes the three OSM primitives.
type EntityKind uint8

const (
	KindNode EntityKind = iota
	KindWay
	KindRelation
)

// Entity is one canonical item pulled from the decoder (spec §1: "a stream
// of OSM entities").
type Entity struct {
	Kind EntityKind
	ID   int64
	Tags []model.Attr

	// Node fields.
	Lat, Lon int32

	// Way fields: ordered OSM node IDs.
	NodeRefs []int64

	// Relation fields.
	Members []model.RelationMember
}

// Stream is pulled from one entity at a time by the ingest phase. A real
// implementation wraps an OSM XML, PBF, or o5m parser; Next returns io.EOF
// when exhausted.
type Stream interface {
	Next() (Entity, error)
}

// lineProtocolStream is a minimal, whitespace-delimited text decoder. It is
// the input format cmd/maptool reads, and the tests use it too (spec §8
// golden scenarios are expressed in this format rather than real OSM XML,
// since the XML/PBF/o5m decoders are out of scope per spec §1).
//
// Grammar, one entity per line:
//
//	node <id> <lat> <lon> [key=value ...]
//	way <id> <nodeRef,nodeRef,...> [key=value ...]
//	relation <id> <type:ref:role,...> [key=value ...]
type lineProtocolStream struct {
	sc *bufio.Scanner
}

// NewLineProtocol returns a Stream reading the line grammar documented
// above from r.
func NewLineProtocol(r io.Reader) Stream {
	return &lineProtocolStream{sc: bufio.NewScanner(r)}
}

func (s *lineProtocolStream) Next() (Entity, error) {
	for s.sc.Scan() {
		line := strings.TrimSpace(s.sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return parseLine(line)
	}
	if err := s.sc.Err(); err != nil {
		return Entity{}, err
	}
	return Entity{}, io.EOF
}

func parseLine(line string) (Entity, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return Entity{}, strconvErr("malformed line: " + line)
	}
	id, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return Entity{}, err
	}
	switch fields[0] {
	case "node":
		if len(fields) < 4 {
			return Entity{}, strconvErr("malformed node: " + line)
		}
		lat, err := parseFixed(fields[2])
		if err != nil {
			return Entity{}, err
		}
		lon, err := parseFixed(fields[3])
		if err != nil {
			return Entity{}, err
		}
		return Entity{Kind: KindNode, ID: id, Lat: lat, Lon: lon, Tags: parseTags(fields[4:])}, nil
	case "way":
		if len(fields) < 3 {
			return Entity{}, strconvErr("malformed way: " + line)
		}
		refs, err := parseRefs(fields[2])
		if err != nil {
			return Entity{}, err
		}
		return Entity{Kind: KindWay, ID: id, NodeRefs: refs, Tags: parseTags(fields[3:])}, nil
	case "relation":
		if len(fields) < 3 {
			return Entity{}, strconvErr("malformed relation: " + line)
		}
		members, err := parseMembers(fields[2])
		if err != nil {
			return Entity{}, err
		}
		return Entity{Kind: KindRelation, ID: id, Members: members, Tags: parseTags(fields[3:])}, nil
	default:
		return Entity{}, strconvErr("unknown entity kind: " + fields[0])
	}
}

// parseFixed parses a decimal degree value into the 1e-6 fixed-point grid.
func parseFixed(s string) (int32, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return int32(f * 1e6), nil
}

func parseTags(fields []string) []model.Attr {
	var attrs []model.Attr
	for _, f := range fields {
		kv := strings.SplitN(f, "=", 2)
		if len(kv) != 2 {
			continue
		}
		attrs = append(attrs, model.Attr{Key: kv[0], Value: kv[1]})
	}
	return attrs
}

func parseRefs(s string) ([]int64, error) {
	if s == "-" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	refs := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, err
		}
		refs = append(refs, id)
	}
	return refs, nil
}

func parseMembers(s string) ([]model.RelationMember, error) {
	if s == "-" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	members := make([]model.RelationMember, 0, len(parts))
	for _, p := range parts {
		tr := strings.Split(p, ":")
		if len(tr) != 3 {
			return nil, strconvErr("malformed member: " + p)
		}
		var mt model.MemberType
		switch tr[0] {
		case "n":
			mt = model.MemberNode
		case "w":
			mt = model.MemberWay
		case "r":
			mt = model.MemberRelation
		default:
			return nil, strconvErr("unknown member type: " + tr[0])
		}
		ref, err := strconv.ParseInt(tr[1], 10, 64)
		if err != nil {
			return nil, err
		}
		members = append(members, model.RelationMember{Type: mt, Ref: ref, Role: tr[2]})
	}
	return members, nil
}

type strconvErr string

func (e strconvErr) Error() string { return string(e) }
