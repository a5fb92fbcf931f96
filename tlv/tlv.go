// Package tlv implements the engine's tagged binary wire format: a flat
// stream of {tag: u32 LE, len: u32 LE, bytes: len} entries. It is the only
// serialization format used for content, per-chunk state, and per-instance
// state, and it is deliberately bespoke rather than a generic codec (protobuf,
// gob, RLP, ...) because byte-identical output across runs depends on a
// specific sort-before-write discipline that a generic codec does not give
// us for free: callers sort entries by (tag, sort key, bytes) before
// encoding, never by map/slice iteration order.
package tlv

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

// ErrTruncated is returned when a declared length runs past the end of the
// buffer — the "malformed blob" case from spec §7.
var ErrTruncated = errors.New("tlv: truncated record")

// Entry is one decoded {tag, bytes} pair.
type Entry struct {
	Tag   uint32
	Bytes []byte
}

// Writer accumulates entries and sorts them immediately before encoding.
// Two dialects share it: a key-value payload sorts by (Tag, Bytes); a
// record stream sorts by (Tag, SortID, Bytes). Set SortID when building a
// record stream; leave it zero for key-value payloads with a single entry
// per tag (ties broken by Bytes either way keeps the writer safe to reuse
// for both).
type Writer struct {
	entries []entry
}

type entry struct {
	tag    uint32
	sortID uint64
	bytes  []byte
}

// Add appends a key-value field; fields are later sorted by (tag, bytes).
func (w *Writer) Add(tag uint32, b []byte) {
	w.entries = append(w.entries, entry{tag: tag, bytes: b})
}

// AddRecord appends a record with an explicit sort key extracted from the
// payload (the record stream's "sort_id" per spec §4.2).
func (w *Writer) AddRecord(tag uint32, sortID uint64, b []byte) {
	w.entries = append(w.entries, entry{tag: tag, sortID: sortID, bytes: b})
}

// Len reports the number of entries added so far.
func (w *Writer) Len() int { return len(w.entries) }

// Bytes sorts the accumulated entries and encodes them into the wire
// format. The writer may be reused after calling Bytes.
func (w *Writer) Bytes() []byte {
	sort.SliceStable(w.entries, func(i, j int) bool {
		a, b := w.entries[i], w.entries[j]
		if a.tag != b.tag {
			return a.tag < b.tag
		}
		if a.sortID != b.sortID {
			return a.sortID < b.sortID
		}
		return compareBytes(a.bytes, b.bytes) < 0
	})
	size := 0
	for _, e := range w.entries {
		size += 8 + len(e.bytes)
	}
	out := make([]byte, 0, size)
	var hdr [8]byte
	for _, e := range w.entries {
		binary.LittleEndian.PutUint32(hdr[0:4], e.tag)
		binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(e.bytes)))
		out = append(out, hdr[:]...)
		out = append(out, e.bytes...)
	}
	w.entries = w.entries[:0]
	return out
}

func compareBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return len(a) - len(b)
}

// Decode walks a tagged stream linearly, returning every entry in wire
// order. It fails on any length that runs past the end of data. Unknown
// tags are not an error here — the tag/value split is the caller's
// responsibility; Decode only guarantees a well-formed split.
func Decode(data []byte) ([]Entry, error) {
	var out []Entry
	off := 0
	for off < len(data) {
		if off+8 > len(data) {
			return nil, fmt.Errorf("tlv: %w: header past end at offset %d", ErrTruncated, off)
		}
		tag := binary.LittleEndian.Uint32(data[off : off+4])
		length := binary.LittleEndian.Uint32(data[off+4 : off+8])
		off += 8
		if off+int(length) > len(data) {
			return nil, fmt.Errorf("tlv: %w: tag %d declares %d bytes, %d remain", ErrTruncated, tag, length, len(data)-off)
		}
		out = append(out, Entry{Tag: tag, Bytes: data[off : off+int(length)]})
		off += int(length)
	}
	return out, nil
}

// First returns the bytes of the first entry matching tag, and whether one
// was found. Readers that expect at most one occurrence of a tag use this.
func First(entries []Entry, tag uint32) ([]byte, bool) {
	for _, e := range entries {
		if e.Tag == tag {
			return e.Bytes, true
		}
	}
	return nil, false
}

// All returns every entry matching tag, in stream order.
func All(entries []Entry, tag uint32) []Entry {
	var out []Entry
	for _, e := range entries {
		if e.Tag == tag {
			out = append(out, e)
		}
	}
	return out
}

// PutU32 / PutU64 / PutI32 / PutI64 are little-endian scalar helpers for
// building payloads by hand; PutBytes length-prefixes a nested blob so it
// can be embedded inside a KV payload without its own tag.

func PutU32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func PutU64(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

func PutI32(v int32) []byte { return PutU32(uint32(v)) }
func PutI64(v int64) []byte { return PutU64(uint64(v)) }

func GetU32(b []byte) (uint32, error) {
	if len(b) < 4 {
		return 0, fmt.Errorf("tlv: %w: need 4 bytes, have %d", ErrTruncated, len(b))
	}
	return binary.LittleEndian.Uint32(b), nil
}

func GetU64(b []byte) (uint64, error) {
	if len(b) < 8 {
		return 0, fmt.Errorf("tlv: %w: need 8 bytes, have %d", ErrTruncated, len(b))
	}
	return binary.LittleEndian.Uint64(b), nil
}

func GetI32(b []byte) (int32, error) {
	v, err := GetU32(b)
	return int32(v), err
}

func GetI64(b []byte) (int64, error) {
	v, err := GetU64(b)
	return int64(v), err
}
