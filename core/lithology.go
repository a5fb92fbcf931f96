package core

import (
	"fmt"

	"github.com/Julesc013/dominium-sub002/fixed"
	"github.com/Julesc013/dominium-sub002/tlv"
)

// lithoGridRes matches the hydrology grid resolution; the original engine
// ties both subsystems' per-chunk grids to the same 16x16 resolution
// (source/domino/world/d_litho.c).
const lithoGridRes = 16
const lithoMaxLayers = 4

// LithoLayer is one material layer in a column stack.
type LithoLayer struct {
	MaterialID ID
	Thickness  fixed.Q16
}

// LithoColumn is a per-column material stack (spec §3, "Lithology —
// per-column material stacks").
type LithoColumn struct {
	Layers [lithoMaxLayers]LithoLayer
}

type lithoChunkState struct {
	columns [lithoGridRes * lithoGridRes]LithoColumn
}

type lithoWorldState struct {
	chunks map[ID]*lithoChunkState
}

// LithologySubsystem is a thin, self-contained subsystem: it owns no
// cross-subsystem wiring because the spec names it only as a per-column
// material stack with no tick behavior (§2 row 11 has no corresponding
// §4.x section). Its Tick does nothing; a column changes only when a
// caller seeds it through SeedColumn, which no engine code calls.
type LithologySubsystem struct {
	version uint32
}

func NewLithologySubsystem() *LithologySubsystem { return &LithologySubsystem{version: 1} }

func (s *LithologySubsystem) ID() SubsystemID { return SubsystemLithology }
func (s *LithologySubsystem) Name() string    { return "lithology" }
func (s *LithologySubsystem) Version() uint32 { return s.version }

func (s *LithologySubsystem) RegisterModels(reg *ModelRegistry) error { return nil }
func (s *LithologySubsystem) LoadProtos(cat *ContentCatalog) error    { return nil }

func (s *LithologySubsystem) state(w *World) *lithoWorldState {
	return w.Side(SubsystemLithology, func() any {
		return &lithoWorldState{chunks: make(map[ID]*lithoChunkState)}
	}).(*lithoWorldState)
}

func (s *LithologySubsystem) InitInstance(w *World) error {
	s.state(w)
	return nil
}

func (s *LithologySubsystem) Tick(w *World, ticks uint32) error { return nil }

func (s *LithologySubsystem) chunkColumns(w *World, ch *Chunk) *lithoChunkState {
	st := s.state(w)
	cs, ok := st.chunks[ch.ID]
	if !ok {
		cs = &lithoChunkState{}
		st.chunks[ch.ID] = cs
	}
	return cs
}

// SeedColumn sets the topmost layer of column (lx, ly) in ch, deterministic
// on (seed, cx, cy, lx, ly) and a candidate material list, matching the
// original worldgen provider's "pick solid material by hash" behavior.
func (s *LithologySubsystem) SeedColumn(w *World, ch *Chunk, lx, ly int, candidates []ID) {
	if len(candidates) == 0 || lx < 0 || lx >= lithoGridRes || ly < 0 || ly >= lithoGridRes {
		return
	}
	h := mixHash32(w.Seed, int64(ch.CX), int64(ch.CY), int64(lx), int64(ly))
	picked := candidates[int(h)%len(candidates)]
	cs := s.chunkColumns(w, ch)
	cs.columns[ly*lithoGridRes+lx].Layers[0] = LithoLayer{MaterialID: picked, Thickness: fixed.Q16FromInt(1024)}
}

// ColumnAt returns the material stack at local column coordinates.
func (s *LithologySubsystem) ColumnAt(w *World, ch *Chunk, lx, ly int) (LithoColumn, bool) {
	if lx < 0 || lx >= lithoGridRes || ly < 0 || ly >= lithoGridRes {
		return LithoColumn{}, false
	}
	cs := s.chunkColumns(w, ch)
	return cs.columns[ly*lithoGridRes+lx], true
}

// --- serialization ---

func (s *LithologySubsystem) SaveInstance(w *World) ([]byte, error) {
	return versionHeader(s.version), nil
}

func (s *LithologySubsystem) LoadInstance(w *World, data []byte) error {
	_, _, err := readVersionHeader(data)
	return err
}

func (s *LithologySubsystem) SaveChunk(w *World, ch *Chunk) ([]byte, error) {
	cs := s.chunkColumns(w, ch)
	var wtr tlv.Writer
	wtr.Add(1, tlv.PutU32(uint32(len(cs.columns))))
	buf := make([]byte, 0, len(cs.columns)*lithoMaxLayers*12)
	for _, col := range cs.columns {
		for _, layer := range col.Layers {
			buf = append(buf, tlv.PutU64(uint64(layer.MaterialID))...)
			buf = append(buf, tlv.PutI32(int32(layer.Thickness))...)
		}
	}
	wtr.Add(2, buf)
	return wtr.Bytes(), nil
}

func (s *LithologySubsystem) LoadChunk(w *World, ch *Chunk, data []byte) error {
	entries, err := tlv.Decode(data)
	if err != nil {
		return fmt.Errorf("lithology: load_chunk: %w", err)
	}
	count, ok := tlv.First(entries, 1)
	if !ok {
		return fmt.Errorf("lithology: load_chunk: missing column count")
	}
	n, _ := tlv.GetU32(count)
	if int(n) != lithoGridRes*lithoGridRes {
		return fmt.Errorf("lithology: load_chunk: column count %d != %d", n, lithoGridRes*lithoGridRes)
	}
	buf, ok := tlv.First(entries, 2)
	if !ok {
		return fmt.Errorf("lithology: load_chunk: missing columns payload")
	}
	want := int(n) * lithoMaxLayers * 12
	if len(buf) < want {
		return fmt.Errorf("%w: lithology columns payload too short", tlv.ErrTruncated)
	}
	cs := &lithoChunkState{}
	off := 0
	for i := 0; i < int(n); i++ {
		for l := 0; l < lithoMaxLayers; l++ {
			mid, _ := tlv.GetU64(buf[off : off+8])
			th, _ := tlv.GetI32(buf[off+8 : off+12])
			cs.columns[i].Layers[l] = LithoLayer{MaterialID: ID(mid), Thickness: fixed.Q16(th)}
			off += 12
		}
	}
	st := s.state(w)
	st.chunks[ch.ID] = cs
	return nil
}
