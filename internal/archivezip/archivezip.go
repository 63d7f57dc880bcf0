// Package archivezip implements the Zip Packager (spec §4.9, C9): an
// append-only writer for the final map archive, built on raw binary
// struct-packing in the style of the teacher's own bgzf block writer
// (encoding/bgzf/writer.go) rather than a ready-made container library,
// since nothing in the dependency pack frames a full Zip archive; only the
// DEFLATE algorithm itself (github.com/klauspost/compress/flate) is
// available off the shelf.
package archivezip

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"hash"
	"hash/crc32"
	"os"
	"time"

	"github.com/klauspost/compress/flate"

	"github.com/navit-project/maptool/internal/perr"
)

const (
	localFileHeaderSig   = 0x04034b50
	centralDirSig        = 0x02014b50
	eocdSig              = 0x06054b50
	zip64EocdSig         = 0x06064b50
	zip64EocdLocatorSig  = 0x07064b50
	zip64ExtraID         = 0x0001
	versionNeededDefault = 20
	versionNeededZip64   = 45
)

// Options configures a Writer (spec §6 -z/--compression-level, -6/--64bit,
// -5/--md5).
type Options struct {
	Level      int  // 0 = stored, 1-9 = deflate
	Zip64      bool // enabled once at open; applies to every entry
	MaxNameLen int  // fixed at open so the central directory can be pre-sized
	// MD5Sidecar streams an MD5 of the raw archive bytes, written to
	// MD5Path on Close (or archivePath+".md5" if MD5Path is empty).
	MD5Sidecar    bool
	MD5Path       string
	KeepOnFailure bool // spec §4.9 "partial archives are deleted unless keep_tmpfiles is set"
}

type centralEntry struct {
	name             string
	method           uint16
	crc32            uint32
	compressedSize   uint64
	uncompressedSize uint64
	offset           uint64
	modTime          time.Time
}

// Writer appends entries to a Zip archive under construction and finalizes
// the central directory and end-of-central-directory record on Close.
type Writer struct {
	path    string
	f       *os.File
	opts    Options
	offset  uint64
	entries []centralEntry
	md5     hash.Hash
}

// Create opens a new archive at path (spec §4.9 "append-only Zip writer").
func Create(path string, opts Options) (*Writer, error) {
	if opts.MaxNameLen <= 0 {
		opts.MaxNameLen = 255
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, perr.New(perr.IoFailed, "create archive "+path, err)
	}
	w := &Writer{path: path, f: f, opts: opts}
	if opts.MD5Sidecar {
		w.md5 = md5.New()
	}
	return w, nil
}

// write appends p to the archive, folding it into the running MD5 and
// checking for a short write (spec §4.9 "all writes check for short-write /
// ENOSPC and abort the phase with a fatal error").
func (w *Writer) write(p []byte) error {
	n, err := w.f.Write(p)
	w.offset += uint64(n)
	if w.md5 != nil {
		w.md5.Write(p[:n])
	}
	if err != nil {
		return perr.New(perr.ResourceExhausted, "short write to "+w.path, err)
	}
	if n != len(p) {
		return perr.New(perr.ResourceExhausted, "short write to "+w.path, nil)
	}
	return nil
}

// Append writes one stored or deflated entry. name must be a valid Zip
// entry path (forward slashes, no leading "/") no longer than the
// MaxNameLen fixed at open.
func (w *Writer) Append(name string, data []byte, modTime time.Time) error {
	if len(name) > w.opts.MaxNameLen {
		return w.abort(perr.New(perr.UsageError, "entry name exceeds max length: "+name, nil))
	}

	method := uint16(0)
	payload := data
	if w.opts.Level > 0 {
		var buf bytes.Buffer
		fw, err := flate.NewWriter(&buf, w.opts.Level)
		if err != nil {
			return w.abort(perr.New(perr.IoFailed, "new deflate writer", err))
		}
		if _, err := fw.Write(data); err != nil {
			return w.abort(perr.New(perr.IoFailed, "deflate "+name, err))
		}
		if err := fw.Close(); err != nil {
			return w.abort(perr.New(perr.IoFailed, "deflate close "+name, err))
		}
		payload = buf.Bytes()
		method = 8
	}

	e := centralEntry{
		name:             name,
		method:           method,
		crc32:            crc32.ChecksumIEEE(data),
		compressedSize:   uint64(len(payload)),
		uncompressedSize: uint64(len(data)),
		offset:           w.offset,
		modTime:          modTime,
	}

	hdr := localFileHeader(e, w.opts.Zip64)
	if err := w.write(hdr); err != nil {
		return err
	}
	if err := w.write([]byte(name)); err != nil {
		return err
	}
	if w.opts.Zip64 {
		if err := w.write(zip64LocalExtra(e)); err != nil {
			return err
		}
	}
	if err := w.write(payload); err != nil {
		return err
	}

	w.entries = append(w.entries, e)
	return nil
}

func localFileHeader(e centralEntry, zip64 bool) []byte {
	hdr := make([]byte, 30)
	binary.LittleEndian.PutUint32(hdr[0:], localFileHeaderSig)
	if zip64 {
		binary.LittleEndian.PutUint16(hdr[4:], versionNeededZip64)
	} else {
		binary.LittleEndian.PutUint16(hdr[4:], versionNeededDefault)
	}
	binary.LittleEndian.PutUint16(hdr[6:], 0) // flags
	binary.LittleEndian.PutUint16(hdr[8:], e.method)
	modDOS, dateDOS := dosTime(e.modTime)
	binary.LittleEndian.PutUint16(hdr[10:], modDOS)
	binary.LittleEndian.PutUint16(hdr[12:], dateDOS)
	binary.LittleEndian.PutUint32(hdr[14:], e.crc32)
	if zip64 {
		binary.LittleEndian.PutUint32(hdr[18:], 0xFFFFFFFF)
		binary.LittleEndian.PutUint32(hdr[22:], 0xFFFFFFFF)
		binary.LittleEndian.PutUint16(hdr[28:], 20) // zip64 extra field length
	} else {
		binary.LittleEndian.PutUint32(hdr[18:], uint32(e.compressedSize))
		binary.LittleEndian.PutUint32(hdr[22:], uint32(e.uncompressedSize))
		binary.LittleEndian.PutUint16(hdr[28:], 0)
	}
	binary.LittleEndian.PutUint16(hdr[26:], uint16(len(e.name)))
	return hdr
}

// zip64LocalExtra packs the zip64 extended information field carried in the
// local file header: tag, size, then the 8-byte uncompressed/compressed
// sizes (no offset field here; that one is only required in the central
// directory record).
func zip64LocalExtra(e centralEntry) []byte {
	buf := make([]byte, 20)
	binary.LittleEndian.PutUint16(buf[0:], zip64ExtraID)
	binary.LittleEndian.PutUint16(buf[2:], 16)
	binary.LittleEndian.PutUint64(buf[4:], e.uncompressedSize)
	binary.LittleEndian.PutUint64(buf[12:], e.compressedSize)
	return buf
}

// dosTime packs t into the MS-DOS date/time pair Zip headers use. A zero
// t packs to the Zip epoch (1980-01-01).
func dosTime(t time.Time) (uint16, uint16) {
	if t.IsZero() || t.Year() < 1980 {
		t = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	mtime := uint16(t.Second()/2) | uint16(t.Minute())<<5 | uint16(t.Hour())<<11
	mdate := uint16(t.Day()) | uint16(t.Month())<<5 | uint16(t.Year()-1980)<<9
	return mtime, mdate
}

// Close writes the central directory and end-of-central-directory records,
// flushes and closes the underlying file, and writes the MD5 sidecar if
// requested (spec §4.9).
func (w *Writer) Close() error {
	cdStart := w.offset
	for _, e := range w.entries {
		if err := w.writeCentralEntry(e); err != nil {
			return w.abort(err)
		}
	}
	cdSize := w.offset - cdStart

	needZip64 := w.opts.Zip64 && (len(w.entries) >= 0xFFFF || cdSize >= 0xFFFFFFFF || cdStart >= 0xFFFFFFFF)
	if w.opts.Zip64 {
		if err := w.writeZip64EOCD(cdStart, cdSize); err != nil {
			return w.abort(err)
		}
		if err := w.writeZip64Locator(cdStart + cdSize); err != nil {
			return w.abort(err)
		}
	}
	_ = needZip64
	if err := w.writeEOCD(cdStart, cdSize); err != nil {
		return w.abort(err)
	}

	if err := w.f.Sync(); err != nil {
		return w.abort(perr.New(perr.ResourceExhausted, "sync "+w.path, err))
	}
	if err := w.f.Close(); err != nil {
		return perr.New(perr.IoFailed, "close "+w.path, err)
	}
	if w.md5 != nil {
		path := w.opts.MD5Path
		if path == "" {
			path = w.path + ".md5"
		}
		if err := writeMD5Sidecar(path, w.md5.Sum(nil)); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) writeCentralEntry(e centralEntry) error {
	hdr := make([]byte, 46)
	binary.LittleEndian.PutUint32(hdr[0:], centralDirSig)
	binary.LittleEndian.PutUint16(hdr[4:], 3<<8|versionNeededDefault) // version made by: unix, spec version
	if w.opts.Zip64 {
		binary.LittleEndian.PutUint16(hdr[6:], versionNeededZip64)
	} else {
		binary.LittleEndian.PutUint16(hdr[6:], versionNeededDefault)
	}
	binary.LittleEndian.PutUint16(hdr[8:], 0) // flags
	binary.LittleEndian.PutUint16(hdr[10:], e.method)
	modDOS, dateDOS := dosTime(e.modTime)
	binary.LittleEndian.PutUint16(hdr[12:], modDOS)
	binary.LittleEndian.PutUint16(hdr[14:], dateDOS)
	binary.LittleEndian.PutUint32(hdr[16:], e.crc32)

	var extra []byte
	if w.opts.Zip64 {
		extra = zip64CentralExtra(e)
		binary.LittleEndian.PutUint32(hdr[20:], 0xFFFFFFFF)
		binary.LittleEndian.PutUint32(hdr[24:], 0xFFFFFFFF)
		binary.LittleEndian.PutUint32(hdr[42:], 0xFFFFFFFF)
	} else {
		binary.LittleEndian.PutUint32(hdr[20:], uint32(e.compressedSize))
		binary.LittleEndian.PutUint32(hdr[24:], uint32(e.uncompressedSize))
		binary.LittleEndian.PutUint32(hdr[42:], uint32(e.offset))
	}
	binary.LittleEndian.PutUint16(hdr[28:], uint16(len(e.name)))
	binary.LittleEndian.PutUint16(hdr[30:], uint16(len(extra)))
	binary.LittleEndian.PutUint16(hdr[32:], 0) // comment length
	binary.LittleEndian.PutUint16(hdr[34:], 0) // disk number start
	binary.LittleEndian.PutUint16(hdr[36:], 0) // internal attrs
	binary.LittleEndian.PutUint32(hdr[38:], 0) // external attrs

	if err := w.write(hdr); err != nil {
		return err
	}
	if err := w.write([]byte(e.name)); err != nil {
		return err
	}
	return w.write(extra)
}

// zip64CentralExtra packs the zip64 extended information field carried in
// the central directory record: uncompressed size, compressed size, and
// local header offset, all 8 bytes wide.
func zip64CentralExtra(e centralEntry) []byte {
	buf := make([]byte, 28)
	binary.LittleEndian.PutUint16(buf[0:], zip64ExtraID)
	binary.LittleEndian.PutUint16(buf[2:], 24)
	binary.LittleEndian.PutUint64(buf[4:], e.uncompressedSize)
	binary.LittleEndian.PutUint64(buf[12:], e.compressedSize)
	binary.LittleEndian.PutUint64(buf[20:], e.offset)
	return buf
}

func (w *Writer) writeEOCD(cdStart, cdSize uint64) error {
	n := len(w.entries)
	nRecorded := n
	cdSizeRecorded := cdSize
	cdStartRecorded := cdStart
	if w.opts.Zip64 {
		if n >= 0xFFFF {
			nRecorded = 0xFFFF
		}
		if cdSize >= 0xFFFFFFFF {
			cdSizeRecorded = 0xFFFFFFFF
		}
		if cdStart >= 0xFFFFFFFF {
			cdStartRecorded = 0xFFFFFFFF
		}
	}
	hdr := make([]byte, 22)
	binary.LittleEndian.PutUint32(hdr[0:], eocdSig)
	binary.LittleEndian.PutUint16(hdr[4:], 0)
	binary.LittleEndian.PutUint16(hdr[6:], 0)
	binary.LittleEndian.PutUint16(hdr[8:], uint16(nRecorded))
	binary.LittleEndian.PutUint16(hdr[10:], uint16(nRecorded))
	binary.LittleEndian.PutUint32(hdr[12:], uint32(cdSizeRecorded))
	binary.LittleEndian.PutUint32(hdr[16:], uint32(cdStartRecorded))
	binary.LittleEndian.PutUint16(hdr[20:], 0)
	return w.write(hdr)
}

func (w *Writer) writeZip64EOCD(cdStart, cdSize uint64) error {
	rec := make([]byte, 56)
	binary.LittleEndian.PutUint32(rec[0:], zip64EocdSig)
	binary.LittleEndian.PutUint64(rec[4:], 44) // record size, excluding the first 12 bytes
	binary.LittleEndian.PutUint16(rec[12:], versionNeededZip64)
	binary.LittleEndian.PutUint16(rec[14:], versionNeededZip64)
	binary.LittleEndian.PutUint32(rec[16:], 0)
	binary.LittleEndian.PutUint32(rec[20:], 0)
	binary.LittleEndian.PutUint64(rec[24:], uint64(len(w.entries)))
	binary.LittleEndian.PutUint64(rec[32:], uint64(len(w.entries)))
	binary.LittleEndian.PutUint64(rec[40:], cdSize)
	binary.LittleEndian.PutUint64(rec[48:], cdStart)
	return w.write(rec)
}

func (w *Writer) writeZip64Locator(zip64EOCDOffset uint64) error {
	loc := make([]byte, 20)
	binary.LittleEndian.PutUint32(loc[0:], zip64EocdLocatorSig)
	binary.LittleEndian.PutUint32(loc[4:], 0)
	binary.LittleEndian.PutUint64(loc[8:], zip64EOCDOffset)
	binary.LittleEndian.PutUint32(loc[16:], 1)
	return w.write(loc)
}

// abort closes and, unless KeepOnFailure is set, removes the partial
// archive, then returns err (spec §4.9 "partial archives are deleted unless
// keep_tmpfiles is set").
func (w *Writer) abort(err error) error {
	w.f.Close()
	if !w.opts.KeepOnFailure {
		os.Remove(w.path)
	}
	return err
}

// writeMD5Sidecar records sum as 32 lowercase hex digits plus a trailing
// newline (spec §4.9 "emitted to a sidecar text file").
func writeMD5Sidecar(path string, sum []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return perr.New(perr.IoFailed, "create md5 sidecar "+path, err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "%x\n", sum); err != nil {
		return perr.New(perr.IoFailed, "write md5 sidecar "+path, err)
	}
	return nil
}
