package turnrestriction

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/navit-project/maptool/internal/geo"
	"github.com/navit-project/maptool/internal/model"
	"github.com/navit-project/maptool/internal/splitter"
	"github.com/navit-project/maptool/internal/tmpfile"
)

func resolvedRefs(coords ...geo.Coord) []model.Ref {
	refs := make([]model.Ref, len(coords))
	for i, c := range coords {
		refs[i] = model.Resolved(c)
	}
	return refs
}

func TestSharedEndpointFindsJunction(t *testing.T) {
	junction := geo.Coord{Lat: 5, Lon: 5}
	from := model.Way{Refs: resolvedRefs(geo.Coord{Lat: 0, Lon: 0}, junction)}
	to := model.Way{Refs: resolvedRefs(junction, geo.Coord{Lat: 10, Lon: 10})}

	via, ok := sharedEndpoint(from, to)
	assert.True(t, ok)
	assert.Equal(t, junction, via)
}

func TestSharedEndpointNoneShared(t *testing.T) {
	from := model.Way{Refs: resolvedRefs(geo.Coord{Lat: 0, Lon: 0}, geo.Coord{Lat: 1, Lon: 1})}
	to := model.Way{Refs: resolvedRefs(geo.Coord{Lat: 9, Lon: 9}, geo.Coord{Lat: 10, Lon: 10})}
	_, ok := sharedEndpoint(from, to)
	assert.False(t, ok)
}

func TestResolveMissingFromOrToIsDropped(t *testing.T) {
	rel := model.Relation{Members: []model.RelationMember{
		{Type: model.MemberWay, Ref: 1, Role: "from"},
	}}
	_, ok := resolveOne(rel, nil, nil)
	assert.False(t, ok)
}

func TestResolveEndToEnd(t *testing.T) {
	ctx := context.Background()
	reg := tmpfile.NewRegistry(t.TempDir())

	junction := geo.Coord{Lat: 5, Lon: 5}
	fromWay := model.Way{ID: 1, Refs: resolvedRefs(geo.Coord{Lat: 0, Lon: 0}, junction)}
	toWay := model.Way{ID: 2, Refs: resolvedRefs(junction, geo.Coord{Lat: 10, Lon: 10})}

	wsplit, err := reg.Create(ctx, tmpfile.BaseWaysSplit, tmpfile.DefaultSuffix)
	require.NoError(t, err)
	require.NoError(t, wsplit.Append(fromWay))
	require.NoError(t, wsplit.Append(toWay))
	require.NoError(t, wsplit.Close(ctx))

	wref, err := reg.Create(ctx, tmpfile.BaseWaysSplitRef, tmpfile.DefaultSuffix)
	require.NoError(t, err)
	require.NoError(t, wref.Append(splitter.SplitRef{OSMWayID: 100, SplitIDs: []model.ID{1}}))
	require.NoError(t, wref.Append(splitter.SplitRef{OSMWayID: 200, SplitIDs: []model.ID{2}}))
	require.NoError(t, wref.Close(ctx))

	wturn, err := reg.Create(ctx, tmpfile.BaseTurnRestrictions, tmpfile.DefaultSuffix)
	require.NoError(t, err)
	require.NoError(t, wturn.Append(model.Relation{
		ID:              1,
		Kind:            model.RelationTurnRestriction,
		RestrictionKind: "no_left_turn",
		Members: []model.RelationMember{
			{Type: model.MemberWay, Ref: 100, Role: "from"},
			{Type: model.MemberWay, Ref: 200, Role: "to"},
		},
	}))
	require.NoError(t, wturn.Close(ctx))

	res, err := Resolve(ctx, reg, tmpfile.DefaultSuffix)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Resolved)
	assert.Equal(t, int64(0), res.Dropped)

	r, err := reg.Open(ctx, tmpfile.BaseRelations, tmpfile.DefaultSuffix)
	require.NoError(t, err)
	defer r.Close(ctx)
	var turn Turn
	require.True(t, r.Scan(&turn))
	assert.Equal(t, model.ID(1), turn.FromSegment)
	assert.Equal(t, model.ID(2), turn.ToSegment)
	assert.Equal(t, junction, turn.Via)
	assert.Equal(t, "no_left_turn", turn.Restriction)
}

func TestResolveNoTurnRestrictionsSpoolIsNoop(t *testing.T) {
	ctx := context.Background()
	reg := tmpfile.NewRegistry(t.TempDir())

	wsplit, err := reg.Create(ctx, tmpfile.BaseWaysSplit, tmpfile.DefaultSuffix)
	require.NoError(t, err)
	require.NoError(t, wsplit.Close(ctx))
	wref, err := reg.Create(ctx, tmpfile.BaseWaysSplitRef, tmpfile.DefaultSuffix)
	require.NoError(t, err)
	require.NoError(t, wref.Close(ctx))

	res, err := Resolve(ctx, reg, tmpfile.DefaultSuffix)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
}
