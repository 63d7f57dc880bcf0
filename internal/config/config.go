// Package config holds the pipeline-wide configuration and mutable
// progress counters that the original tool kept as package globals (spec §9
// "Ambient globals"). Every phase takes a *Context instead of reading
// globals directly.
package config

import (
	"sync/atomic"
)

// Options are the resolved CLI flags (spec §6 CLI surface), independent of
// the command-line parser itself (out of scope per spec §1).
type Options struct {
	MD5File            string
	Zip64               bool
	AttrDebugLevel      int
	DumpCoordinates     bool
	StartPhase          int
	EndPhase            int
	InputFile           string
	RuleFile            string
	SliceSize           int64
	O5M                 bool
	Protobuf            bool
	DedupeWays          bool
	ProcessNodes        bool
	ProcessWays         bool
	ProcessRelations    bool
	UnknownCountry      bool
	CompressionLevel    int
	KeepTmpfiles        bool
	Plugin              string
	IgnoreUnknown       bool
	URL                 string
	OutputPath          string
}

// DefaultSliceSize matches maptool.c's 1 GiB default node buffer.
const DefaultSliceSize = 1 << 30

// DefaultOptions mirrors the original's hardcoded defaults (p.start=1,
// p.end=99, compression_level=9, process_{nodes,ways,relations}=1).
func DefaultOptions() Options {
	return Options{
		StartPhase:       1,
		EndPhase:         99,
		SliceSize:        DefaultSliceSize,
		ProcessNodes:     true,
		ProcessWays:      true,
		ProcessRelations: true,
		CompressionLevel: 9,
	}
}

// Counters are the plain, monotonically increasing integers read by the
// progress ticker (spec §6 Progress protocol; §5 "counters are plain
// integers"). All fields are accessed only through atomic operations so the
// timer goroutine never touches file state directly.
type Counters struct {
	Phase            int32
	ProcessedNodes    int64
	ProcessedNodesOut int64
	ProcessedWays     int64
	ProcessedRelations int64
	ProcessedTiles    int64
}

func (c *Counters) SetPhase(p int)          { atomic.StoreInt32(&c.Phase, int32(p)) }
func (c *Counters) AddNode()                { atomic.AddInt64(&c.ProcessedNodes, 1) }
func (c *Counters) AddNodeOut()             { atomic.AddInt64(&c.ProcessedNodesOut, 1) }
func (c *Counters) AddWay()                 { atomic.AddInt64(&c.ProcessedWays, 1) }
func (c *Counters) AddRelation()            { atomic.AddInt64(&c.ProcessedRelations, 1) }
func (c *Counters) AddTiles(n int64)        { atomic.AddInt64(&c.ProcessedTiles, n) }

// Snapshot is an immutable copy of Counters suitable for formatting into a
// progress line without racing the writers.
type Snapshot struct {
	Phase                                                                int32
	ProcessedNodes, ProcessedNodesOut, ProcessedWays, ProcessedRelations, ProcessedTiles int64
}

func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		Phase:              atomic.LoadInt32(&c.Phase),
		ProcessedNodes:     atomic.LoadInt64(&c.ProcessedNodes),
		ProcessedNodesOut:  atomic.LoadInt64(&c.ProcessedNodesOut),
		ProcessedWays:      atomic.LoadInt64(&c.ProcessedWays),
		ProcessedRelations: atomic.LoadInt64(&c.ProcessedRelations),
		ProcessedTiles:     atomic.LoadInt64(&c.ProcessedTiles),
	}
}

// Context bundles everything a phase function needs instead of reaching
// for package globals.
type Context struct {
	Opts     Options
	Counters *Counters
}

// New returns a Context with fresh, zeroed counters.
func New(opts Options) *Context {
	return &Context{Opts: opts, Counters: &Counters{}}
}
