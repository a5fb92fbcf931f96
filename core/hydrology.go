package core

import (
	"fmt"
	"sort"

	"github.com/Julesc013/dominium-sub002/fixed"
	"github.com/Julesc013/dominium-sub002/tlv"
)

const hydroGridRes = 16 // spec §3: "16x16 grid per chunk"
const hydroCellCount = hydroGridRes * hydroGridRes

// HydroCell is one cell of a chunk's 16x16 water grid (spec §3). depth
// never goes negative (invariant #7 in spec §8).
type HydroCell struct {
	SurfaceHeight fixed.Q16
	Depth         fixed.Q16
	VelX, VelY    fixed.Q16
	Flags         uint32
}

type hydroChunkState struct {
	cells [hydroCellCount]HydroCell
}

type hydroWorldState struct {
	chunks map[ID]*hydroChunkState
}

// HydrologySubsystem implements spec §4.7.
type HydrologySubsystem struct {
	version  uint32
	resource *ResourceSubsystem
}

// NewHydrologySubsystem binds the hydrology subsystem to the resource
// subsystem it exchanges water with on each sub-tick (spec §4.7 step 4).
func NewHydrologySubsystem(resource *ResourceSubsystem) *HydrologySubsystem {
	return &HydrologySubsystem{version: 1, resource: resource}
}

func (s *HydrologySubsystem) ID() SubsystemID { return SubsystemHydrology }
func (s *HydrologySubsystem) Name() string    { return "hydrology" }
func (s *HydrologySubsystem) Version() uint32 { return s.version }

func (s *HydrologySubsystem) RegisterModels(reg *ModelRegistry) error {
	return reg.Register(ModelFamilyHydrology, 1, "surface-water")
}
func (s *HydrologySubsystem) LoadProtos(cat *ContentCatalog) error { return nil }

func (s *HydrologySubsystem) state(w *World) *hydroWorldState {
	return w.Side(SubsystemHydrology, func() any {
		return &hydroWorldState{chunks: make(map[ID]*hydroChunkState)}
	}).(*hydroWorldState)
}

func (s *HydrologySubsystem) InitInstance(w *World) error {
	s.state(w)
	return nil
}

func (s *HydrologySubsystem) chunkCells(w *World, ch *Chunk) *hydroChunkState {
	st := s.state(w)
	cs, ok := st.chunks[ch.ID]
	if !ok {
		cs = &hydroChunkState{}
		st.chunks[ch.ID] = cs
	}
	return cs
}

func cellIndex(lx, ly int) int { return ly*hydroGridRes + lx }

// Tick runs the four-step hydro sub-tick described in spec §4.7 once per
// call. Each edge transfer is diff/8 whatever the value of ticks, so a call
// with ticks > 1 moves as much water as a call with ticks == 1.
func (s *HydrologySubsystem) Tick(w *World, ticks uint32) error {
	st := s.state(w)
	chunkIDs := make([]ID, 0, len(st.chunks))
	for id := range st.chunks {
		chunkIDs = append(chunkIDs, id)
	}
	sort.Slice(chunkIDs, func(i, j int) bool { return chunkIDs[i] < chunkIDs[j] })

	// Step 1: snapshot depth, zero accumulators.
	snapshots := make(map[ID]*[hydroCellCount]fixed.Q16, len(chunkIDs))
	for _, id := range chunkIDs {
		cs := st.chunks[id]
		var snap [hydroCellCount]fixed.Q16
		for i := range cs.cells {
			snap[i] = cs.cells[i].Depth
			cs.cells[i].VelX = 0
			cs.cells[i].VelY = 0
		}
		snapshots[id] = &snap
	}

	tf := fixed.Q16FromInt(int32(ticks))

	for _, id := range chunkIDs {
		ch, ok := w.chunks.Get(id)
		if !ok {
			continue
		}
		cs := st.chunks[id]
		snap := snapshots[id]

		eastCh, hasEast := w.NeighborEast(ch)
		var eastSnap *[hydroCellCount]fixed.Q16
		var eastState *hydroChunkState
		if hasEast {
			eastState = st.chunks[eastCh.ID]
			eastSnap = snapshots[eastCh.ID]
		}
		northCh, hasNorth := w.NeighborNorth(ch)
		var northSnap *[hydroCellCount]fixed.Q16
		var northState *hydroChunkState
		if hasNorth {
			northState = st.chunks[northCh.ID]
			northSnap = snapshots[northCh.ID]
		}

		for ly := 0; ly < hydroGridRes; ly++ {
			for lx := 0; lx < hydroGridRes; lx++ {
				idx := cellIndex(lx, ly)
				selfDepth := snap[idx]

				// East neighbor.
				if lx+1 < hydroGridRes {
					nIdx := cellIndex(lx+1, ly)
					transferHydro(cs, idx, cs, nIdx, selfDepth, snap[nIdx], tf)
				} else if eastSnap != nil {
					nIdx := cellIndex(0, ly)
					transferHydro(cs, idx, eastState, nIdx, selfDepth, eastSnap[nIdx], tf)
				}
				// North neighbor.
				if ly+1 < hydroGridRes {
					nIdx := cellIndex(lx, ly+1)
					transferHydro(cs, idx, cs, nIdx, selfDepth, snap[nIdx], tf)
				} else if northSnap != nil {
					nIdx := cellIndex(lx, 0)
					transferHydro(cs, idx, northState, nIdx, selfDepth, northSnap[nIdx], tf)
				}
			}
		}
	}

	// Step 4: exchange with the resource substrate's fluid channel.
	if s.resource != nil {
		for _, id := range chunkIDs {
			ch, ok := w.chunks.Get(id)
			if !ok {
				continue
			}
			s.exchangeWithResource(w, ch, st.chunks[id])
		}
	}
	return nil
}

// transferHydro applies the clamped cross-edge transfer from spec §4.7
// step 2-3 between self[selfIdx] and nbr[nbrIdx], using pre-tick depths.
func transferHydro(self *hydroChunkState, selfIdx int, nbr *hydroChunkState, nbrIdx int, selfDepth, nbrDepth fixed.Q16, ticks fixed.Q16) {
	diff := selfDepth.Sub(nbrDepth)
	transfer := diff.Div(fixed.Q16FromInt(8))
	if transfer > 0 && transfer > self.cells[selfIdx].Depth {
		transfer = self.cells[selfIdx].Depth
	}
	if transfer < 0 {
		avail := nbr.cells[nbrIdx].Depth
		if -transfer > avail {
			transfer = -avail
		}
	}
	self.cells[selfIdx].Depth = clampNonNeg(self.cells[selfIdx].Depth.Sub(transfer))
	nbr.cells[nbrIdx].Depth = clampNonNeg(nbr.cells[nbrIdx].Depth.Add(transfer))
	abs := transfer
	if abs < 0 {
		abs = -abs
	}
	self.cells[selfIdx].VelX = self.cells[selfIdx].VelX.Add(abs)
	self.cells[selfIdx].VelY = self.cells[selfIdx].VelY.Add(abs)
}

func clampNonNeg(v fixed.Q16) fixed.Q16 {
	if v < 0 {
		return 0
	}
	return v
}

// exchangeWithResource moves |diff|/64 between the hydro grid's total
// depth and the chunk's fluid resource channel, spread evenly across the
// 256 cells (spec §4.7 step 4). It treats the lowest-id resource channel
// sampled in the chunk as the fluid channel; that channel's material is not
// checked. If the chunk has no sampled channel, this is a no-op.
func (s *HydrologySubsystem) exchangeWithResource(w *World, ch *Chunk, hs *hydroChunkState) {
	samples, err := s.resource.SampleAt(w, int64(ch.CX)*int64(resChunkSize)<<32, int64(ch.CY)*int64(resChunkSize)<<32, 0, 0)
	if err != nil || len(samples) == 0 {
		return
	}
	fluid := samples[0]
	var total fixed.Q16
	for i := range hs.cells {
		total = total.Add(hs.cells[i].Depth)
	}
	diff := fluid.Values[0].Sub(total)
	perCell := diff.Div(fixed.Q16FromInt(64 * hydroCellCount))
	var delta [8]fixed.Q16
	delta[0] = diff.Div(fixed.Q16FromInt(64)).Neg()
	_ = s.resource.ApplyDelta(w, fluid, delta, int64(ch.ID))
	for i := range hs.cells {
		hs.cells[i].Depth = clampNonNeg(hs.cells[i].Depth.Add(perCell))
	}
}

// --- serialization ---

func (s *HydrologySubsystem) SaveInstance(w *World) ([]byte, error) {
	return versionHeader(s.version), nil
}

func (s *HydrologySubsystem) LoadInstance(w *World, data []byte) error {
	_, _, err := readVersionHeader(data)
	return err
}

// SaveChunk encodes {cell_count = 256, cells[5 × q16]} per spec §6.
func (s *HydrologySubsystem) SaveChunk(w *World, ch *Chunk) ([]byte, error) {
	cs := s.chunkCells(w, ch)
	var wtr tlv.Writer
	wtr.Add(1, tlv.PutU32(hydroCellCount))
	buf := make([]byte, 0, hydroCellCount*20)
	for i := range cs.cells {
		c := cs.cells[i]
		buf = append(buf, tlv.PutI32(int32(c.SurfaceHeight))...)
		buf = append(buf, tlv.PutI32(int32(c.Depth))...)
		buf = append(buf, tlv.PutI32(int32(c.VelX))...)
		buf = append(buf, tlv.PutI32(int32(c.VelY))...)
		buf = append(buf, tlv.PutU32(c.Flags)...)
	}
	wtr.Add(2, buf)
	return wtr.Bytes(), nil
}

func (s *HydrologySubsystem) LoadChunk(w *World, ch *Chunk, data []byte) error {
	entries, err := tlv.Decode(data)
	if err != nil {
		return fmt.Errorf("hydrology: load_chunk: %w", err)
	}
	cs := &hydroChunkState{}
	buf, ok := tlv.First(entries, 2)
	if !ok {
		return fmt.Errorf("hydrology: load_chunk: missing cells payload")
	}
	if len(buf) < hydroCellCount*20 {
		return fmt.Errorf("%w: hydrology cells payload too short", tlv.ErrTruncated)
	}
	off := 0
	for i := 0; i < hydroCellCount; i++ {
		sh, _ := tlv.GetI32(buf[off : off+4])
		d, _ := tlv.GetI32(buf[off+4 : off+8])
		vx, _ := tlv.GetI32(buf[off+8 : off+12])
		vy, _ := tlv.GetI32(buf[off+12 : off+16])
		fl, _ := tlv.GetU32(buf[off+16 : off+20])
		cs.cells[i] = HydroCell{SurfaceHeight: fixed.Q16(sh), Depth: fixed.Q16(d), VelX: fixed.Q16(vx), VelY: fixed.Q16(vy), Flags: fl}
		off += 20
	}
	st := s.state(w)
	st.chunks[ch.ID] = cs
	return nil
}
