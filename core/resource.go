package core

import (
	"fmt"
	"sort"

	"github.com/Julesc013/dominium-sub002/fixed"
	"github.com/Julesc013/dominium-sub002/tlv"
)

// Resource proto field tags (spec §4.5: "Strata model ... parameters are
// KV-encoded in the deposit proto").
const (
	FieldDepositMeanGrade    uint32 = 10
	FieldDepositMeanQuantity uint32 = 11
	FieldDepositNoiseScale   uint32 = 12
	FieldDepositRegenRate    uint32 = 13
	FieldDepositModelID      uint32 = 14
	FieldDepositMaterialID   uint32 = 15
)

const resChunkSize = 256 // world units per chunk edge, Q32.32 integer units

// ResourceCell is the per-chunk-channel record described in spec §3.
type ResourceCell struct {
	ChannelID   ID
	ModelFamily ModelFamily
	ModelID     uint32
	ProtoID     ID // deposit proto
	MaterialID  ID
	Tags        uint32
	Values      [8]fixed.Q16
	initialized bool
}

// ResourceSample is the read-only snapshot returned by SampleAt. ChunkID
// is a routing hint for a later ApplyDelta call and is never dereferenced
// directly by callers (spec §4.5).
type ResourceSample struct {
	ChannelID   ID
	ModelFamily ModelFamily
	ModelID     uint32
	ChunkID     ID
	PosX, PosY, PosZ int64 // Q32.32
	ProtoID     ID
	Tags        uint32
	Values      [8]fixed.Q16
}

// ResourceModel is the per-channel behavior vtable (spec §4.5).
type ResourceModel interface {
	FamilyModelID() uint32
	InitChunk(w *World, ch *Chunk, cell *ResourceCell)
	ComputeBase(w *World, ch *Chunk, cell *ResourceCell, x, y, z int64)
	ApplyDelta(w *World, cell *ResourceCell, delta [8]fixed.Q16, seedCtx int64)
	Tick(w *World, ch *Chunk, cell *ResourceCell, ticks uint32)
}

type resourceChunkState struct {
	cells map[ID]*ResourceCell // keyed by channel id
}

type resourceWorldState struct {
	chunkState map[ID]*resourceChunkState // keyed by chunk id
	nextChan   ID
}

// StrataModel is the engine's built-in resource model (spec §4.5).
type StrataModel struct{}

func (StrataModel) FamilyModelID() uint32 { return 1 }

func (StrataModel) InitChunk(w *World, ch *Chunk, cell *ResourceCell) {}

func (StrataModel) ComputeBase(w *World, ch *Chunk, cell *ResourceCell, x, y, z int64) {
	if cell.initialized {
		return
	}
	cell.initialized = true
	proto, ok := w.Catalog.Get(ProtoDeposit, cell.ProtoID)
	if !ok {
		return
	}
	meanGrade := protoFieldQ16(proto, FieldDepositMeanGrade, fixed.Q16FromInt(1))
	meanQty := protoFieldQ16(proto, FieldDepositMeanQuantity, 0)
	noiseScale := protoFieldQ16(proto, FieldDepositNoiseScale, 0)

	noise := fixed.Q16(mixHashSignedQ16(w.Seed, int64(ch.CX), int64(ch.CY), int64(cell.ProtoID), x, y, z))
	factor := fixed.Q16FromInt(1).Add(noiseScale.Mul(noise))
	qty := meanQty.Mul(meanGrade).Mul(factor)
	if qty < 0 {
		qty = 0
	}
	cell.Values[0] = qty
}

func (StrataModel) ApplyDelta(w *World, cell *ResourceCell, delta [8]fixed.Q16, seedCtx int64) {
	applyDeltaClampZero(cell, delta)
}

func (StrataModel) Tick(w *World, ch *Chunk, cell *ResourceCell, ticks uint32) {
	proto, ok := w.Catalog.Get(ProtoDeposit, cell.ProtoID)
	if !ok {
		return
	}
	regen := protoFieldQ16(proto, FieldDepositRegenRate, 0)
	add := regen.Mul(fixed.Q16FromInt(int32(ticks)))
	cell.Values[0] = cell.Values[0].Add(add)
	if cell.Values[0] < 0 {
		cell.Values[0] = 0
	}
}

func applyDeltaClampZero(cell *ResourceCell, delta [8]fixed.Q16) {
	for i := range cell.Values {
		v := cell.Values[i].Add(delta[i])
		if v < 0 {
			v = 0
		}
		cell.Values[i] = v
	}
}

func protoFieldQ16(p *Proto, tag uint32, def fixed.Q16) fixed.Q16 {
	b, ok := p.Field(tag)
	if !ok {
		return def
	}
	v, err := tlv.GetI32(b)
	if err != nil {
		return def
	}
	return fixed.Q16(v)
}

// ResourceSubsystem is the §2 row 8 / §4.5 subsystem: per-chunk resource
// channels, sampling, and delta application.
type ResourceSubsystem struct {
	version uint32
	models  map[uint32]ResourceModel
}

// NewResourceSubsystem constructs the resource subsystem with the
// built-in strata model registered under model id 1.
func NewResourceSubsystem() *ResourceSubsystem {
	return &ResourceSubsystem{
		version: 1,
		models:  map[uint32]ResourceModel{1: StrataModel{}},
	}
}

func (s *ResourceSubsystem) ID() SubsystemID { return SubsystemResource }
func (s *ResourceSubsystem) Name() string    { return "resource" }
func (s *ResourceSubsystem) Version() uint32 { return s.version }

func (s *ResourceSubsystem) RegisterModels(reg *ModelRegistry) error {
	return reg.Register(ModelFamilyResource, 1, StrataModel{})
}

func (s *ResourceSubsystem) LoadProtos(cat *ContentCatalog) error { return nil }

func (s *ResourceSubsystem) InitInstance(w *World) error {
	w.Side(SubsystemResource, func() any {
		return &resourceWorldState{chunkState: make(map[ID]*resourceChunkState), nextChan: 1}
	})
	return nil
}

func (s *ResourceSubsystem) state(w *World) *resourceWorldState {
	return w.Side(SubsystemResource, func() any {
		return &resourceWorldState{chunkState: make(map[ID]*resourceChunkState), nextChan: 1}
	}).(*resourceWorldState)
}

func (s *ResourceSubsystem) chunkCells(w *World, ch *Chunk) *resourceChunkState {
	st := s.state(w)
	cs, ok := st.chunkState[ch.ID]
	if !ok {
		cs = &resourceChunkState{cells: make(map[ID]*ResourceCell)}
		st.chunkState[ch.ID] = cs
	}
	return cs
}

// EnsureDeposit binds a deposit proto to a channel within a chunk,
// returning the channel id. Worldgen providers call this when seeding a
// chunk's deposits.
func (s *ResourceSubsystem) EnsureDeposit(w *World, ch *Chunk, depositProtoID, materialID ID) ID {
	st := s.state(w)
	cs := s.chunkCells(w, ch)
	id := st.nextChan
	st.nextChan++
	cs.cells[id] = &ResourceCell{
		ChannelID:   id,
		ModelFamily: ModelFamilyResource,
		ModelID:     1,
		ProtoID:     depositProtoID,
		MaterialID:  materialID,
	}
	return id
}

// SampleAt locates or creates the chunk covering (x, y), ensures its cells
// are initialized, and returns a snapshot of every channel whose bit is
// set in channelMask (spec §4.5). A zero mask selects every channel, and
// channels with id 64 or above are always included; channels whose model
// is not registered are skipped.
func (s *ResourceSubsystem) SampleAt(w *World, x, y, z int64, channelMask uint64) ([]ResourceSample, error) {
	cx := int32(x / (resChunkSize << 32))
	cy := int32(y / (resChunkSize << 32))
	ch, err := w.GetOrCreateChunk(cx, cy)
	if err != nil {
		return nil, fmt.Errorf("resource: sample_at: %w", err)
	}
	cs := s.chunkCells(w, ch)

	ids := make([]ID, 0, len(cs.cells))
	for id := range cs.cells {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []ResourceSample
	for _, id := range ids {
		if channelMask != 0 && uint64(id) < 64 && channelMask&(1<<uint(id)) == 0 {
			continue
		}
		cell := cs.cells[id]
		model, ok := s.models[cell.ModelID]
		if !ok {
			continue
		}
		model.ComputeBase(w, ch, cell, x, y, z)
		out = append(out, ResourceSample{
			ChannelID: cell.ChannelID, ModelFamily: cell.ModelFamily, ModelID: cell.ModelID,
			ChunkID: ch.ID, PosX: x, PosY: y, PosZ: z, ProtoID: cell.ProtoID, Tags: cell.Tags,
			Values: cell.Values,
		})
	}
	return out, nil
}

// ApplyDelta mutates the cell identified by sample.ChannelID within
// sample.ChunkID, dispatching to the owning model or falling through to
// component-wise clamped addition (spec §4.5).
func (s *ResourceSubsystem) ApplyDelta(w *World, sample ResourceSample, delta [8]fixed.Q16, seedCtx int64) error {
	st := s.state(w)
	cs, ok := st.chunkState[sample.ChunkID]
	if !ok {
		return &ErrInvalidArgument{Op: "resource.ApplyDelta", Reason: "unknown chunk in sample"}
	}
	cell, ok := cs.cells[sample.ChannelID]
	if !ok {
		return &ErrInvalidArgument{Op: "resource.ApplyDelta", Reason: "unknown channel in sample"}
	}
	model, ok := s.models[cell.ModelID]
	if !ok {
		applyDeltaClampZero(cell, delta)
		return nil
	}
	model.ApplyDelta(w, cell, delta, seedCtx)
	return nil
}

func (s *ResourceSubsystem) Tick(w *World, ticks uint32) error {
	st := s.state(w)
	chunkIDs := make([]ID, 0, len(st.chunkState))
	for id := range st.chunkState {
		chunkIDs = append(chunkIDs, id)
	}
	sort.Slice(chunkIDs, func(i, j int) bool { return chunkIDs[i] < chunkIDs[j] })

	for _, chID := range chunkIDs {
		ch, ok := w.chunks.Get(chID)
		if !ok {
			continue
		}
		cs := st.chunkState[chID]
		channelIDs := make([]ID, 0, len(cs.cells))
		for id := range cs.cells {
			channelIDs = append(channelIDs, id)
		}
		sort.Slice(channelIDs, func(i, j int) bool { return channelIDs[i] < channelIDs[j] })
		for _, cid := range channelIDs {
			cell := cs.cells[cid]
			if model, ok := s.models[cell.ModelID]; ok {
				model.Tick(w, ch, cell, ticks)
			}
		}
	}
	return nil
}

// --- serialization ---

func (s *ResourceSubsystem) SaveInstance(w *World) ([]byte, error) {
	return versionHeader(s.version), nil
}

func (s *ResourceSubsystem) LoadInstance(w *World, data []byte) error {
	_, _, err := readVersionHeader(data)
	return err
}

// SaveChunk encodes {cell_count:u32, cells[]} where each cell carries its
// descriptor, tags, ids, initialized flag, and its 8 Q16 values (spec §6).
func (s *ResourceSubsystem) SaveChunk(w *World, ch *Chunk) ([]byte, error) {
	cs := s.chunkCells(w, ch)
	ids := make([]ID, 0, len(cs.cells))
	for id := range cs.cells {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var wtr tlv.Writer
	for _, id := range ids {
		cell := cs.cells[id]
		var cw tlv.Writer
		cw.Add(1, tlv.PutU64(uint64(cell.ChannelID)))
		cw.Add(2, tlv.PutU32(uint32(cell.ModelFamily)))
		cw.Add(3, tlv.PutU32(cell.ModelID))
		cw.Add(4, tlv.PutU64(uint64(cell.ProtoID)))
		cw.Add(5, tlv.PutU64(uint64(cell.MaterialID)))
		cw.Add(6, tlv.PutU32(cell.Tags))
		if cell.initialized {
			cw.Add(7, []byte{1})
		} else {
			cw.Add(7, []byte{0})
		}
		for i, v := range cell.Values {
			cw.Add(uint32(8+i), tlv.PutI32(int32(v)))
		}
		wtr.AddRecord(1, uint64(id), cw.Bytes())
	}
	return wtr.Bytes(), nil
}

func (s *ResourceSubsystem) LoadChunk(w *World, ch *Chunk, data []byte) error {
	entries, err := tlv.Decode(data)
	if err != nil {
		return fmt.Errorf("resource: load_chunk: %w", err)
	}
	cs := &resourceChunkState{cells: make(map[ID]*ResourceCell)}
	for _, e := range entries {
		kv, err := tlv.Decode(e.Bytes)
		if err != nil {
			return fmt.Errorf("resource: load_chunk: cell: %w", err)
		}
		cell := &ResourceCell{}
		if b, ok := tlv.First(kv, 1); ok {
			v, _ := tlv.GetU64(b)
			cell.ChannelID = ID(v)
		}
		if b, ok := tlv.First(kv, 2); ok {
			v, _ := tlv.GetU32(b)
			cell.ModelFamily = ModelFamily(v)
		}
		if b, ok := tlv.First(kv, 3); ok {
			v, _ := tlv.GetU32(b)
			cell.ModelID = v
		}
		if b, ok := tlv.First(kv, 4); ok {
			v, _ := tlv.GetU64(b)
			cell.ProtoID = ID(v)
		}
		if b, ok := tlv.First(kv, 5); ok {
			v, _ := tlv.GetU64(b)
			cell.MaterialID = ID(v)
		}
		if b, ok := tlv.First(kv, 6); ok {
			v, _ := tlv.GetU32(b)
			cell.Tags = v
		}
		if b, ok := tlv.First(kv, 7); ok && len(b) == 1 {
			cell.initialized = b[0] == 1
		}
		for i := 0; i < 8; i++ {
			if b, ok := tlv.First(kv, uint32(8+i)); ok {
				v, _ := tlv.GetI32(b)
				cell.Values[i] = fixed.Q16(v)
			}
		}
		cs.cells[cell.ChannelID] = cell
	}
	st := s.state(w)
	st.chunkState[ch.ID] = cs
	return nil
}
