package resolve

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/navit-project/maptool/internal/coordbuf"
	"github.com/navit-project/maptool/internal/geo"
	"github.com/navit-project/maptool/internal/model"
	"github.com/navit-project/maptool/internal/tmpfile"
)

func buildCoords(t *testing.T, dir string) *coordbuf.Buffer {
	buf, err := coordbuf.New(filepath.Join(dir, "coords.tmp"), 3*nodeSize)
	require.NoError(t, err)
	for i := uint64(1); i <= 5; i++ {
		require.NoError(t, buf.Append(coordbuf.Node{ID: i, Coord: geo.Coord{Lat: int32(i), Lon: int32(i * 10)}}))
	}
	require.NoError(t, buf.Flush(true))
	return buf
}

const nodeSize = 16

func TestResolveFillsRefsAcrossSlices(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	reg := tmpfile.NewRegistry(dir)
	coords := buildCoords(t, dir)
	defer coords.Close()
	require.Equal(t, 2, coords.Slices())

	w, err := reg.Create(ctx, tmpfile.BaseWays, tmpfile.DefaultSuffix)
	require.NoError(t, err)
	way := model.Way{
		ID: 1,
		Refs: []model.Ref{
			model.Unresolved(1),
			model.Unresolved(4),
			model.Unresolved(99),
		},
	}
	require.NoError(t, w.Append(way))
	require.NoError(t, w.Close(ctx))

	require.NoError(t, Resolve(ctx, reg, coords, tmpfile.DefaultSuffix, false))

	r, err := reg.Open(ctx, tmpfile.BaseWaysToResolve, tmpfile.DefaultSuffix)
	require.NoError(t, err)
	defer r.Close(ctx)

	var got model.Way
	require.True(t, r.Scan(&got))
	require.Len(t, got.Refs, 3)
	assert.Equal(t, model.RefResolved, got.Refs[0].Kind)
	assert.Equal(t, geo.Coord{Lat: 1, Lon: 10}, got.Refs[0].Coord)
	assert.Equal(t, model.RefResolved, got.Refs[1].Kind)
	assert.Equal(t, geo.Coord{Lat: 4, Lon: 40}, got.Refs[1].Coord)
	assert.Equal(t, model.RefMissing, got.Refs[2].Kind)
}

func TestResolveNoSlicesIsNoop(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	reg := tmpfile.NewRegistry(dir)
	coords, err := coordbuf.New(filepath.Join(dir, "coords.tmp"), 1<<20)
	require.NoError(t, err)
	defer coords.Close()

	assert.NoError(t, Resolve(ctx, reg, coords, tmpfile.DefaultSuffix, false))
}
