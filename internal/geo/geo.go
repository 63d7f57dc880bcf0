// Package geo defines the fixed-point coordinate grid and axis-aligned
// bounding boxes used throughout the conversion pipeline.
package geo

import "fmt"

// Coord is a point on the fixed integer grid, in 1e-6 degree units. The
// grid is chosen so every coordinate round-trips exactly through the coord
// buffer (spec §3 Node).
type Coord struct {
	Lat, Lon int32
}

// Zero is the sentinel used only for the zero value of Coord; it is never
// treated as a resolved coordinate by callers (see model.Ref).
var Zero = Coord{}

func (c Coord) String() string {
	return fmt.Sprintf("%d,%d", c.Lat, c.Lon)
}

// BBox is a grid-aligned rectangle. A zero BBox has no area and Enclose
// treats it as "not yet initialized", matching the teacher pack's geo.Box
// (rainbow-roads) Enclose convention.
type BBox struct {
	MinLat, MinLon, MaxLat, MaxLon int32
}

// IsZero reports whether b has never been grown by Enclose.
func (b BBox) IsZero() bool {
	return b == BBox{}
}

// Enclose returns the smallest BBox that contains both b and c.
func (b BBox) Enclose(c Coord) BBox {
	if b.IsZero() {
		return BBox{c.Lat, c.Lon, c.Lat, c.Lon}
	}
	if c.Lat < b.MinLat {
		b.MinLat = c.Lat
	}
	if c.Lat > b.MaxLat {
		b.MaxLat = c.Lat
	}
	if c.Lon < b.MinLon {
		b.MinLon = c.Lon
	}
	if c.Lon > b.MaxLon {
		b.MaxLon = c.Lon
	}
	return b
}

// Union returns the smallest BBox containing both b and o.
func (b BBox) Union(o BBox) BBox {
	if b.IsZero() {
		return o
	}
	if o.IsZero() {
		return b
	}
	return b.Enclose(Coord{o.MinLat, o.MinLon}).Enclose(Coord{o.MaxLat, o.MaxLon})
}

// Contains reports whether b fully contains o.
func (b BBox) Contains(o BBox) bool {
	if b.IsZero() || o.IsZero() {
		return false
	}
	return b.MinLat <= o.MinLat && b.MinLon <= o.MinLon &&
		b.MaxLat >= o.MaxLat && b.MaxLon >= o.MaxLon
}

// ContainsCoord reports whether c falls within b, inclusive of the edges.
func (b BBox) ContainsCoord(c Coord) bool {
	return !b.IsZero() && c.Lat >= b.MinLat && c.Lat <= b.MaxLat &&
		c.Lon >= b.MinLon && c.Lon <= b.MaxLon
}

// Center returns the midpoint of b.
func (b BBox) Center() Coord {
	return Coord{
		Lat: b.MinLat + (b.MaxLat-b.MinLat)/2,
		Lon: b.MinLon + (b.MaxLon-b.MinLon)/2,
	}
}

// World is the bbox covering the entire fixed-point grid, the root of the
// tile quadtree.
var World = BBox{MinLat: -90 * 1e6, MinLon: -180 * 1e6, MaxLat: 90 * 1e6, MaxLon: 180 * 1e6}

// Quadrant identifies one of the four children of a quadtree node, in the
// order the spec's tile path digits use: NW, NE, SW, SE.
type Quadrant int

const (
	NW Quadrant = iota
	NE
	SW
	SE
)

var quadrantDigit = [4]byte{'a', 'b', 'c', 'd'}

// Digit returns the base-4 path digit for q.
func (q Quadrant) Digit() byte { return quadrantDigit[q] }

// Split returns the four children of b in NW,NE,SW,SE order. North is the
// larger-latitude half, west the smaller-longitude half.
func (b BBox) Split() [4]BBox {
	midLat := b.MinLat + (b.MaxLat-b.MinLat)/2
	midLon := b.MinLon + (b.MaxLon-b.MinLon)/2
	return [4]BBox{
		NW: {midLat, b.MinLon, b.MaxLat, midLon},
		NE: {midLat, midLon, b.MaxLat, b.MaxLon},
		SW: {b.MinLat, b.MinLon, midLat, midLon},
		SE: {b.MinLat, midLon, midLat, b.MaxLon},
	}
}
