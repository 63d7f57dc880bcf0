package coordbuf

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/navit-project/maptool/internal/geo"
)

func newTestBuffer(t *testing.T, sliceSize int64) *Buffer {
	path := filepath.Join(t.TempDir(), "coords.tmp")
	b, err := New(path, sliceSize)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestAppendSpillsAtCapacity(t *testing.T) {
	b := newTestBuffer(t, 3*nodeRecordSize)
	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, b.Append(Node{ID: i, Coord: geo.Coord{Lat: int32(i), Lon: int32(i)}}))
	}
	assert.Equal(t, 1, b.Slices())
	stats := b.Stats()
	assert.Equal(t, int64(3), stats.Appended)
	assert.Equal(t, int64(3), stats.Spilled)
}

func TestFlushSortsByID(t *testing.T) {
	b := newTestBuffer(t, 10*nodeRecordSize)
	require.NoError(t, b.Append(Node{ID: 5, Coord: geo.Coord{Lat: 5}}))
	require.NoError(t, b.Append(Node{ID: 1, Coord: geo.Coord{Lat: 1}}))
	require.NoError(t, b.Append(Node{ID: 3, Coord: geo.Coord{Lat: 3}}))
	require.NoError(t, b.Flush(true))
	assert.Equal(t, 1, b.Slices())

	require.NoError(t, b.LoadSlice(0))
	c, ok := b.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, int32(1), c.Lat)
	c, ok = b.Lookup(5)
	require.True(t, ok)
	assert.Equal(t, int32(5), c.Lat)
	_, ok = b.Lookup(99)
	assert.False(t, ok)
}

func TestSaveSliceAndMutateCoord(t *testing.T) {
	b := newTestBuffer(t, 10*nodeRecordSize)
	require.NoError(t, b.Append(Node{ID: 1, Coord: geo.Coord{Lat: 1, Lon: 1}}))
	require.NoError(t, b.Flush(true))

	require.NoError(t, b.LoadSlice(0))
	ok := b.MutateCoord(1, geo.Coord{Lat: 99, Lon: 99})
	assert.True(t, ok)
	require.NoError(t, b.SaveSlice(0))

	require.NoError(t, b.LoadSlice(0))
	c, ok := b.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, int32(99), c.Lat)

	assert.False(t, b.MutateCoord(404, geo.Coord{}))
}

func TestSetSlicesOverridesCount(t *testing.T) {
	b := newTestBuffer(t, 10*nodeRecordSize)
	b.SetSlices(7)
	assert.Equal(t, 7, b.Slices())
}
