// Package coordbuf implements the Coord Buffer & Slice Store (spec §4.1,
// C1): a fixed-size in-RAM node table backed by coords.tmp, paged in
// slices so the working set during C4 stays O(slice size) regardless of
// input size (spec §5 Memory bound).
//
// Unlike the recordio-based spools in tmpfile, coords.tmp needs positioned
// random-access reads and writes at an arbitrary slice index (load_slice(i)
// / save_slice(i)); the generic, potentially-remote file.File abstraction
// used elsewhere does not guarantee that, so this component opens the file
// directly with os.OpenFile and encoding/binary, matching the teacher's own
// willingness to drop down to raw binary packing for performance-critical,
// fixed-layout records (cmd/bio-bam-sort/sorter/sortshard.go's sortEntry).
// See DESIGN.md.
package coordbuf

import (
	"encoding/binary"
	"os"
	"sort"

	"github.com/grailbio/base/log"

	"github.com/navit-project/maptool/internal/geo"
	"github.com/navit-project/maptool/internal/perr"
)

// nodeRecordSize is the on-disk size of one (ID, Coord) record: 8 bytes ID
// + 4 bytes lat + 4 bytes lon.
const nodeRecordSize = 16

// Node is one entry of the coord buffer.
type Node struct {
	ID    uint64
	Coord geo.Coord
}

// Stats mirrors the counters the progress ticker reads (spec §6 Progress
// protocol "Processed <n> nodes").
type Stats struct {
	Appended int64
	Spilled  int64
}

// Buffer is the in-RAM region plus its on-disk slice store.
type Buffer struct {
	path      string
	sliceSize int64 // bytes per slice
	capacity  int   // nodes per slice

	f *os.File

	mem    []Node // resident region: accumulating during C3, one slice during C4
	slices int    // set once C3 finishes; never changes after (spec §4.1 invariant)

	stats Stats
}

// New opens (creating if necessary) the coord buffer backed by path, with
// sliceSize bytes per slice (spec -S/--slice-size, default 1 GiB).
func New(path string, sliceSize int64) (*Buffer, error) {
	if sliceSize <= 0 {
		sliceSize = 1 << 30
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, perr.New(perr.IoFailed, "open "+path, err)
	}
	return &Buffer{
		path:      path,
		sliceSize: sliceSize,
		capacity:  int(sliceSize / nodeRecordSize),
		f:         f,
	}, nil
}

// Stats returns a snapshot of the append/spill counters.
func (b *Buffer) Stats() Stats { return b.stats }

// Append adds a node to the resident in-RAM region, spilling to the next
// on-disk slice when the region reaches capacity (spec §4.1 (b)).
func (b *Buffer) Append(n Node) error {
	b.mem = append(b.mem, n)
	b.stats.Appended++
	if len(b.mem) >= b.capacity {
		return b.Flush(false)
	}
	return nil
}

// Flush sorts the resident region by node ID and spills it as the next
// slice. final=true additionally fixes `slices` (spec §4.1 (b), (d) and the
// invariant that slices never changes after C3).
func (b *Buffer) Flush(final bool) error {
	if len(b.mem) == 0 && (!final || b.slices > 0) {
		return nil
	}
	sort.Slice(b.mem, func(i, j int) bool { return b.mem[i].ID < b.mem[j].ID })
	if err := b.writeSlice(b.slices, b.mem); err != nil {
		return err
	}
	b.stats.Spilled += int64(len(b.mem))
	b.slices++
	b.mem = b.mem[:0]
	return nil
}

// Slices returns the number of slices recorded after C3 finishes. It is
// fixed thereafter (spec §4.1 invariant).
func (b *Buffer) Slices() int { return b.slices }

// SetSlices is used when resuming from a later phase (spec §6 -s/--start),
// where the slice count must be read back from the manifest instead of
// recomputed.
func (b *Buffer) SetSlices(n int) { b.slices = n }

func (b *Buffer) sliceOffset(i int) int64 { return int64(i) * b.sliceSize }

func (b *Buffer) writeSlice(i int, nodes []Node) error {
	buf := make([]byte, len(nodes)*nodeRecordSize)
	for idx, n := range nodes {
		off := idx * nodeRecordSize
		binary.LittleEndian.PutUint64(buf[off:], n.ID)
		binary.LittleEndian.PutUint32(buf[off+8:], uint32(n.Coord.Lat))
		binary.LittleEndian.PutUint32(buf[off+12:], uint32(n.Coord.Lon))
	}
	if _, err := b.f.WriteAt(buf, b.sliceOffset(i)); err != nil {
		return perr.New(perr.ResourceExhausted, "write slice", err)
	}
	return nil
}

// LoadSlice reads slice i fully into RAM, replacing the resident region
// (spec §4.1 (c)). Slices are read from end to start during C4 (spec §4.4),
// but LoadSlice itself is index-agnostic.
func (b *Buffer) LoadSlice(i int) error {
	buf := make([]byte, b.capacity*nodeRecordSize)
	n, err := b.f.ReadAt(buf, b.sliceOffset(i))
	if err != nil && n == 0 {
		return perr.New(perr.IoFailed, "read slice", err)
	}
	count := n / nodeRecordSize
	nodes := make([]Node, count)
	for idx := range nodes {
		off := idx * nodeRecordSize
		nodes[idx] = Node{
			ID: binary.LittleEndian.Uint64(buf[off:]),
			Coord: geo.Coord{
				Lat: int32(binary.LittleEndian.Uint32(buf[off+8:])),
				Lon: int32(binary.LittleEndian.Uint32(buf[off+12:])),
			},
		}
	}
	b.mem = nodes
	return nil
}

// SaveSlice writes back the resident region to slice i, possibly modified
// by C4's POI cross-lookup (spec §4.1 (c), §4.4 step 4).
func (b *Buffer) SaveSlice(i int) error {
	return b.writeSlice(i, b.mem)
}

// Lookup finds id in the currently resident slice only (spec §4.1 (e)
// "valid only for the currently loaded slice").
func (b *Buffer) Lookup(id uint64) (geo.Coord, bool) {
	lo, hi := 0, len(b.mem)
	for lo < hi {
		mid := (lo + hi) / 2
		if b.mem[mid].ID < id {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(b.mem) && b.mem[lo].ID == id {
		return b.mem[lo].Coord, true
	}
	return geo.Coord{}, false
}

// MutateCoord overwrites the coordinate of id in the resident slice,
// returning false if id is not present. Used by the C4 POI resolve
// sub-pass (spec §4.4 step 3).
func (b *Buffer) MutateCoord(id uint64, c geo.Coord) bool {
	lo, hi := 0, len(b.mem)
	for lo < hi {
		mid := (lo + hi) / 2
		if b.mem[mid].ID < id {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(b.mem) && b.mem[lo].ID == id {
		b.mem[lo].Coord = c
		return true
	}
	return false
}

// Close releases the underlying file handle without deleting it. Removal
// of coords.tmp is the caller's responsibility (spec §7: temp files are
// either explicitly kept or unlinked at pipeline end).
func (b *Buffer) Close() error {
	if err := b.f.Close(); err != nil {
		return perr.New(perr.IoFailed, "close "+b.path, err)
	}
	return nil
}

// Remove deletes the backing file. Called when --keep-tmpfiles is not set.
func (b *Buffer) Remove() {
	if err := os.Remove(b.path); err != nil && !os.IsNotExist(err) {
		log.Error.Printf("remove %s: %v", b.path, err)
	}
}
