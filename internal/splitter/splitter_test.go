package splitter

import (
	"testing"

	"github.com/biogo/store/llrb"
	"github.com/stretchr/testify/assert"

	"github.com/navit-project/maptool/internal/geo"
	"github.com/navit-project/maptool/internal/model"
)

func TestSplitWayNoSharedNodes(t *testing.T) {
	counts := &llrb.Tree{}
	way := model.Way{Refs: []model.Ref{
		model.Resolved(geo.Coord{Lat: 0, Lon: 0}),
		model.Resolved(geo.Coord{Lat: 1, Lon: 1}),
		model.Resolved(geo.Coord{Lat: 2, Lon: 2}),
	}}
	segs := splitWay(way, counts)
	assert.Len(t, segs, 1)
	assert.Equal(t, way.Refs, segs[0].Refs)
}

func TestSplitWayAtSharedInteriorNode(t *testing.T) {
	counts := &llrb.Tree{}
	shared := geo.Coord{Lat: 1, Lon: 1}
	bump(counts, shared)
	bump(counts, shared)

	way := model.Way{Refs: []model.Ref{
		model.Resolved(geo.Coord{Lat: 0, Lon: 0}),
		model.Resolved(shared),
		model.Resolved(geo.Coord{Lat: 2, Lon: 2}),
	}}
	segs := splitWay(way, counts)
	if assert.Len(t, segs, 2) {
		assert.Equal(t, shared, segs[0].Refs[len(segs[0].Refs)-1].Coord)
		assert.Equal(t, shared, segs[1].Refs[0].Coord)
	}
}

func TestSplitWayEndpointRefNeverSplits(t *testing.T) {
	counts := &llrb.Tree{}
	end := geo.Coord{Lat: 0, Lon: 0}
	bump(counts, end)
	bump(counts, end)

	way := model.Way{Refs: []model.Ref{
		model.Resolved(end),
		model.Resolved(geo.Coord{Lat: 1, Lon: 1}),
	}}
	segs := splitWay(way, counts)
	assert.Len(t, segs, 1)
}

func TestRefCountBumpAndCountOf(t *testing.T) {
	tree := &llrb.Tree{}
	c := geo.Coord{Lat: 5, Lon: 5}
	assert.Equal(t, 0, countOf(tree, c))
	bump(tree, c)
	assert.Equal(t, 1, countOf(tree, c))
	bump(tree, c)
	assert.Equal(t, 2, countOf(tree, c))

	other := geo.Coord{Lat: 6, Lon: 6}
	assert.Equal(t, 0, countOf(tree, other))
}

func TestCloserJoinsFragmentsIntoRing(t *testing.T) {
	a := geo.Coord{Lat: 0, Lon: 0}
	b := geo.Coord{Lat: 1, Lon: 0}
	c := geo.Coord{Lat: 1, Lon: 1}

	closer := NewCloser()
	closer.Add(model.Way{Refs: []model.Ref{model.Resolved(a), model.Resolved(b)}, Coastline: true})
	closer.Add(model.Way{Refs: []model.Ref{model.Resolved(b), model.Resolved(c)}, Coastline: true})
	closer.Add(model.Way{Refs: []model.Ref{model.Resolved(c), model.Resolved(a)}, Coastline: true})

	rings := closer.Close()
	if assert.Len(t, rings, 1) {
		ring := rings[0]
		assert.Equal(t, a, ring.Refs[0].Coord)
		assert.Equal(t, a, ring.Refs[len(ring.Refs)-1].Coord)
		assert.True(t, ring.Coastline)
	}
}

func TestCloserPassesThroughUnjoinableFragment(t *testing.T) {
	closer := NewCloser()
	lone := model.Way{Refs: []model.Ref{model.Missing(), model.Missing()}, Coastline: true}
	closer.Add(lone)

	rings := closer.Close()
	assert.Len(t, rings, 1)
	assert.Equal(t, lone.Refs, rings[0].Refs)
}
