package tile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/navit-project/maptool/internal/geo"
	"github.com/navit-project/maptool/internal/model"
	"github.com/navit-project/maptool/internal/tmpfile"
)

func writeNodes(t *testing.T, reg *tmpfile.Registry, coords ...geo.Coord) {
	ctx := context.Background()
	w, err := reg.Create(ctx, tmpfile.BaseNodes, tmpfile.DefaultSuffix)
	require.NoError(t, err)
	for i, c := range coords {
		require.NoError(t, w.Append(model.Node{ID: model.ID(i + 1), Coord: c}))
	}
	require.NoError(t, w.Close(ctx))
}

func TestAssembleUnderBudgetStaysOneRootTile(t *testing.T) {
	ctx := context.Background()
	reg := tmpfile.NewRegistry(t.TempDir())
	writeNodes(t, reg, geo.Coord{Lat: 1, Lon: 1}, geo.Coord{Lat: -1, Lon: -1})

	res, err := Assemble(ctx, reg, tmpfile.DefaultSuffix, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Tiles)
	assert.Equal(t, int64(2), res.Items)

	r, err := reg.OpenAt(ctx, "tilesdir/root.tile")
	require.NoError(t, err)
	defer r.Close(ctx)
	var n model.Node
	count := 0
	for r.Scan(&n) {
		count++
	}
	require.NoError(t, r.Err())
	assert.Equal(t, 2, count)
}

func TestAssembleSplitsOverBudgetIntoQuadrants(t *testing.T) {
	ctx := context.Background()
	reg := tmpfile.NewRegistry(t.TempDir())
	// NW quadrant (positive lat, negative lon) vs SE (negative lat, positive lon).
	writeNodes(t, reg,
		geo.Coord{Lat: 10 * 1e6, Lon: -10 * 1e6},
		geo.Coord{Lat: 20 * 1e6, Lon: -20 * 1e6},
		geo.Coord{Lat: -10 * 1e6, Lon: 10 * 1e6},
		geo.Coord{Lat: -20 * 1e6, Lon: 20 * 1e6},
	)

	opts := Options{LeafBudget: 1, MaxDepth: 4, Overlap: 0}
	res, err := Assemble(ctx, reg, tmpfile.DefaultSuffix, opts)
	require.NoError(t, err)
	assert.Greater(t, res.Tiles, 1)
	assert.Equal(t, int64(4), res.Items)
}

func TestApproxSizeScalesWithAttrsAndRefs(t *testing.T) {
	small := item{kind: kindNode, node: model.Node{}}
	withAttrs := item{kind: kindNode, node: model.Node{Attrs: []model.Attr{{Key: "a", Value: "b"}}}}
	assert.Less(t, approxSize(small), approxSize(withAttrs))

	way := item{kind: kindWay, way: model.Way{Refs: make([]model.Ref, 10)}}
	assert.Greater(t, approxSize(way), approxSize(small))
}

func TestBoxesTouch(t *testing.T) {
	a := geo.BBox{MinLat: 0, MinLon: 0, MaxLat: 10, MaxLon: 10}
	b := geo.BBox{MinLat: 10, MinLon: 10, MaxLat: 20, MaxLon: 20}
	c := geo.BBox{MinLat: 100, MinLon: 100, MaxLat: 200, MaxLon: 200}
	assert.True(t, boxesTouch(a, b))
	assert.False(t, boxesTouch(a, c))
}
