package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	assert.Equal(t, 1, opts.StartPhase)
	assert.Equal(t, 99, opts.EndPhase)
	assert.Equal(t, int64(DefaultSliceSize), opts.SliceSize)
	assert.True(t, opts.ProcessNodes)
	assert.True(t, opts.ProcessWays)
	assert.True(t, opts.ProcessRelations)
	assert.Equal(t, 9, opts.CompressionLevel)
}

func TestCountersAddAndSnapshot(t *testing.T) {
	c := &Counters{}
	c.SetPhase(3)
	c.AddNode()
	c.AddNode()
	c.AddNodeOut()
	c.AddWay()
	c.AddRelation()
	c.AddTiles(5)

	snap := c.Snapshot()
	assert.Equal(t, int32(3), snap.Phase)
	assert.Equal(t, int64(2), snap.ProcessedNodes)
	assert.Equal(t, int64(1), snap.ProcessedNodesOut)
	assert.Equal(t, int64(1), snap.ProcessedWays)
	assert.Equal(t, int64(1), snap.ProcessedRelations)
	assert.Equal(t, int64(5), snap.ProcessedTiles)
}

func TestNewContextStartsZeroed(t *testing.T) {
	cc := New(DefaultOptions())
	assert.NotNil(t, cc.Counters)
	snap := cc.Counters.Snapshot()
	assert.Equal(t, int64(0), snap.ProcessedNodes)
}
