package core

import (
	"fmt"
	"sort"

	"github.com/Julesc013/dominium-sub002/fixed"
	"github.com/Julesc013/dominium-sub002/tlv"
)

// Fixed field ids (spec §4.6: "field ids are fixed").
const (
	FieldPressure ID = iota + 1
	FieldTemperature
	FieldGas0
	FieldGas1
	FieldHumidity
	FieldWindX
	FieldWindY
)

const diurnalPeriodTicks = 24000
const diurnalAmplitude = 8 // in integer field units

// EnvFieldCell is the per-(field, model) record stored per chunk (spec
// §3). Values[0] is current, Values[3] is the baseline target.
type EnvFieldCell struct {
	FieldID ID
	ModelID uint32
	Values  [4]fixed.Q16
}

// EnvVolume is an AABB in world space owned by a structure/vehicle,
// carrying its own interior atmosphere state (spec §3).
type EnvVolume struct {
	ID              ID
	OwnerStructEID  ID
	MinX, MinY, MinZ int64 // Q32.32 world space
	MaxX, MaxY, MaxZ int64
	Pressure, Temperature, Gas0, Gas1, Humidity, Pollutant fixed.Q16
}

// EnvEdge connects two volumes, or a volume to the exterior (B == 0).
type EnvEdge struct {
	ID     ID
	A, B   ID
	GasK   fixed.Q16
	HeatK  fixed.Q16
}

func (e *EnvEdge) ToExterior() bool { return e.B == 0 }

type envChunkState struct {
	fields map[ID]*EnvFieldCell // keyed by field id
}

type envWorldState struct {
	chunkState map[ID]*envChunkState
	volumes    *Arena[EnvVolume]
	edges      *Arena[EnvEdge]
}

// EnvironmentSubsystem implements spec §4.6: per-chunk atmosphere fields
// plus the interior-volume graph.
type EnvironmentSubsystem struct {
	version uint32
}

func NewEnvironmentSubsystem() *EnvironmentSubsystem { return &EnvironmentSubsystem{version: 1} }

func (s *EnvironmentSubsystem) ID() SubsystemID { return SubsystemEnvironment }
func (s *EnvironmentSubsystem) Name() string    { return "environment" }
func (s *EnvironmentSubsystem) Version() uint32 { return s.version }

func (s *EnvironmentSubsystem) RegisterModels(reg *ModelRegistry) error {
	return reg.Register(ModelFamilyEnvironment, 1, "atmosphere")
}

func (s *EnvironmentSubsystem) LoadProtos(cat *ContentCatalog) error { return nil }

func (s *EnvironmentSubsystem) state(w *World) *envWorldState {
	return w.Side(SubsystemEnvironment, func() any {
		return &envWorldState{
			chunkState: make(map[ID]*envChunkState),
			volumes:    NewArena[EnvVolume]("environment.volumes", 0),
			edges:      NewArena[EnvEdge]("environment.edges", 0),
		}
	}).(*envWorldState)
}

func (s *EnvironmentSubsystem) InitInstance(w *World) error {
	s.state(w)
	return nil
}

func (s *EnvironmentSubsystem) chunkFields(w *World, ch *Chunk) *envChunkState {
	st := s.state(w)
	cs, ok := st.chunkState[ch.ID]
	if !ok {
		cs = &envChunkState{fields: make(map[ID]*EnvFieldCell)}
		for _, fid := range []ID{FieldPressure, FieldTemperature, FieldGas0, FieldGas1, FieldHumidity, FieldWindX, FieldWindY} {
			base := baselineFor(w.Seed, ch, fid)
			cs.fields[fid] = &EnvFieldCell{FieldID: fid, ModelID: 1, Values: [4]fixed.Q16{base, 0, 0, base}}
		}
		st.chunkState[ch.ID] = cs
	}
	return cs
}

// baselineFor derives a field's baseline from a hash of (seed, cx, cy)
// per spec §4.6.
func baselineFor(seed uint64, ch *Chunk, field ID) fixed.Q16 {
	h := mixHashSignedQ16(seed, int64(ch.CX), int64(ch.CY), int64(field))
	switch field {
	case FieldPressure:
		return fixed.Q16FromInt(1013).Add(fixed.Q16(h) >> 6)
	case FieldTemperature:
		return fixed.Q16FromInt(15).Add(fixed.Q16(h) >> 10)
	case FieldHumidity:
		return fixed.Q16FromInt(50).Add(fixed.Q16(h) >> 10)
	default:
		return fixed.Q16(h) >> 12
	}
}

// SampleField returns the field cell's current value at a point, applying
// any enclosing volume's interior override (spec §4.6 "Sampling at a
// point").
func (s *EnvironmentSubsystem) SampleField(w *World, x, y, z int64, field ID) (fixed.Q16, error) {
	cx := int32(x / (resChunkSize << 32))
	cy := int32(y / (resChunkSize << 32))
	ch, err := w.GetOrCreateChunk(cx, cy)
	if err != nil {
		return 0, fmt.Errorf("environment: sample: %w", err)
	}
	cs := s.chunkFields(w, ch)
	cell, ok := cs.fields[field]
	if !ok {
		return 0, &ErrInvalidArgument{Op: "environment.SampleField", Reason: "unknown field id"}
	}
	base := cell.Values[0]

	st := s.state(w)
	if vol, ok := s.volumeContaining(st, x, y, z); ok {
		if v, ok := interiorValue(vol, field); ok {
			return v, nil
		}
	}
	return base, nil
}

func (s *EnvironmentSubsystem) volumeContaining(st *envWorldState, x, y, z int64) (*EnvVolume, bool) {
	var found *EnvVolume
	st.volumes.Each(func(_ ID, v *EnvVolume) {
		if found != nil {
			return
		}
		if x >= v.MinX && x <= v.MaxX && y >= v.MinY && y <= v.MaxY && z >= v.MinZ && z <= v.MaxZ {
			found = v
		}
	})
	return found, found != nil
}

func interiorValue(v *EnvVolume, field ID) (fixed.Q16, bool) {
	switch field {
	case FieldPressure:
		return v.Pressure, true
	case FieldTemperature:
		return v.Temperature, true
	case FieldGas0:
		return v.Gas0, true
	case FieldGas1:
		return v.Gas1, true
	case FieldHumidity:
		return v.Humidity, true
	}
	return 0, false
}

// CreateVolume registers a new environment volume owned by a structure.
func (s *EnvironmentSubsystem) CreateVolume(w *World, ownerEID ID, minX, minY, minZ, maxX, maxY, maxZ int64) (ID, error) {
	st := s.state(w)
	id, _, err := st.volumes.Create(func(id ID) EnvVolume {
		return EnvVolume{ID: id, OwnerStructEID: ownerEID, MinX: minX, MinY: minY, MinZ: minZ, MaxX: maxX, MaxY: maxY, MaxZ: maxZ}
	})
	return id, err
}

// CreateEdge connects volume a to volume b (or to the exterior if b==0).
func (s *EnvironmentSubsystem) CreateEdge(w *World, a, b ID, gasK, heatK fixed.Q16) (ID, error) {
	st := s.state(w)
	id, _, err := st.edges.Create(func(id ID) EnvEdge {
		return EnvEdge{ID: id, A: a, B: b, GasK: gasK, HeatK: heatK}
	})
	return id, err
}

// DestroyStructureVolumes removes every volume owned by structEID and any
// edge touching a removed volume (spec §4.6 "Volume ownership").
func (s *EnvironmentSubsystem) DestroyStructureVolumes(w *World, structEID ID) {
	st := s.state(w)
	removed := make(map[ID]bool)
	for _, id := range st.volumes.SortedIDs() {
		v, ok := st.volumes.Get(id)
		if ok && v.OwnerStructEID == structEID {
			removed[id] = true
			st.volumes.Delete(id)
		}
	}
	for _, id := range st.edges.SortedIDs() {
		e, ok := st.edges.Get(id)
		if ok && (removed[e.A] || removed[e.B]) {
			st.edges.Delete(id)
		}
	}
}

func (s *EnvironmentSubsystem) Tick(w *World, ticks uint32) error {
	st := s.state(w)

	// Per-chunk relaxation toward baseline + diurnal forcing.
	chunkIDs := make([]ID, 0, len(st.chunkState))
	for id := range st.chunkState {
		chunkIDs = append(chunkIDs, id)
	}
	sort.Slice(chunkIDs, func(i, j int) bool { return chunkIDs[i] < chunkIDs[j] })
	tickCount := int64(w.Tick() + uint64(ticks))

	for _, chID := range chunkIDs {
		cs := st.chunkState[chID]
		fieldIDs := make([]ID, 0, len(cs.fields))
		for id := range cs.fields {
			fieldIDs = append(fieldIDs, id)
		}
		sort.Slice(fieldIDs, func(i, j int) bool { return fieldIDs[i] < fieldIDs[j] })
		for _, fid := range fieldIDs {
			cell := cs.fields[fid]
			relax(cell, ticks)
			if fid == FieldTemperature {
				cell.Values[0] = cell.Values[0].Add(diurnalForcing(tickCount))
			}
		}
	}

	// Cross-chunk diffusion for pressure and temperature (+x, +y neighbors).
	// Transfers are computed from a pre-pass snapshot so every chunk diffuses
	// against its neighbors' old values (a Jacobi step), matching hydrology's
	// depth-snapshot pattern and keeping the result independent of chunk
	// iteration order (spec §4.6, §8).
	snapshots := make(map[ID]map[ID]fixed.Q16, len(chunkIDs))
	for _, chID := range chunkIDs {
		cs := st.chunkState[chID]
		snap := make(map[ID]fixed.Q16, len(cs.fields))
		for fid, cell := range cs.fields {
			snap[fid] = cell.Values[0]
		}
		snapshots[chID] = snap
	}

	for _, chID := range chunkIDs {
		ch, ok := w.chunks.Get(chID)
		if !ok {
			continue
		}
		cs := st.chunkState[chID]
		selfSnap := snapshots[chID]
		if east, ok := w.NeighborEast(ch); ok {
			if esState := st.chunkState[east.ID]; esState != nil {
				esSnap := snapshots[east.ID]
				diffuse(cs, esState, selfSnap, esSnap, FieldPressure, ticks)
				diffuse(cs, esState, selfSnap, esSnap, FieldTemperature, ticks)
			}
		}
		if north, ok := w.NeighborNorth(ch); ok {
			if nsState := st.chunkState[north.ID]; nsState != nil {
				nsSnap := snapshots[north.ID]
				diffuse(cs, nsState, selfSnap, nsSnap, FieldPressure, ticks)
				diffuse(cs, nsState, selfSnap, nsSnap, FieldTemperature, ticks)
			}
		}
	}

	// Volume-edge transfer.
	for _, id := range st.edges.SortedIDs() {
		e, _ := st.edges.Get(id)
		s.tickEdge(w, st, e, ticks)
	}
	return nil
}

func relax(cell *EnvFieldCell, ticks uint32) {
	diff := cell.Values[3].Sub(cell.Values[0])
	step := diff.Mul(fixed.Q16FromInt(int32(ticks))).Div(fixed.Q16FromInt(100))
	cell.Values[0] = cell.Values[0].Add(step)
}

// diurnalForcing is a triangle wave of period diurnalPeriodTicks and
// amplitude diurnalAmplitude (spec §4.6).
func diurnalForcing(tick int64) fixed.Q16 {
	period := int64(diurnalPeriodTicks)
	phase := tick % period
	half := period / 2
	var tri int64
	if phase < half {
		tri = phase
	} else {
		tri = period - phase
	}
	// tri in [0, half]; map to [-amplitude, amplitude]
	v := (tri*2*diurnalAmplitude)/half - diurnalAmplitude
	return fixed.Q16FromInt(int32(v))
}

func diffuse(self, nbr *envChunkState, selfSnap, nbrSnap map[ID]fixed.Q16, field ID, ticks uint32) {
	a, ok1 := self.fields[field]
	b, ok2 := nbr.fields[field]
	if !ok1 || !ok2 {
		return
	}
	aOld, bOld := selfSnap[field], nbrSnap[field]
	transfer := aOld.Sub(bOld).Div(fixed.Q16FromInt(8)).Mul(fixed.Q16FromInt(int32(ticks)))
	a.Values[0] = a.Values[0].Sub(transfer)
	b.Values[0] = b.Values[0].Add(transfer)
}

func (s *EnvironmentSubsystem) tickEdge(w *World, st *envWorldState, e *EnvEdge, ticks uint32) {
	va, ok := st.volumes.Get(e.A)
	if !ok {
		return
	}
	var bTemp, bGas0, bGas1, bHum fixed.Q16
	if e.ToExterior() {
		centerX := (va.MinX + va.MaxX) / 2
		centerY := (va.MinY + va.MaxY) / 2
		centerZ := (va.MinZ + va.MaxZ) / 2
		t, _ := s.sampleExterior(w, centerX, centerY, centerZ, FieldTemperature)
		g0, _ := s.sampleExterior(w, centerX, centerY, centerZ, FieldGas0)
		g1, _ := s.sampleExterior(w, centerX, centerY, centerZ, FieldGas1)
		h, _ := s.sampleExterior(w, centerX, centerY, centerZ, FieldHumidity)
		bTemp, bGas0, bGas1, bHum = t, g0, g1, h
	} else {
		vb, ok := st.volumes.Get(e.B)
		if !ok {
			return
		}
		bTemp, bGas0, bGas1, bHum = vb.Temperature, vb.Gas0, vb.Gas1, vb.Humidity
	}

	tFactor := e.HeatK.Mul(fixed.Q16FromInt(int32(ticks)))
	gFactor := e.GasK.Mul(fixed.Q16FromInt(int32(ticks)))

	dTemp := va.Temperature.Sub(bTemp).Mul(tFactor)
	dGas0 := va.Gas0.Sub(bGas0).Mul(gFactor)
	dGas1 := va.Gas1.Sub(bGas1).Mul(gFactor)
	dHum := va.Humidity.Sub(bHum).Mul(gFactor)
	dPoll := va.Pollutant.Mul(gFactor) // pollutant decays toward zero using the same rate (spec §9)

	va.Temperature = va.Temperature.Sub(dTemp)
	va.Gas0 = va.Gas0.Sub(dGas0)
	va.Gas1 = va.Gas1.Sub(dGas1)
	va.Humidity = va.Humidity.Sub(dHum)
	va.Pollutant = va.Pollutant.Sub(dPoll)

	if !e.ToExterior() {
		vb, _ := st.volumes.Get(e.B)
		vb.Temperature = vb.Temperature.Add(dTemp)
		vb.Gas0 = vb.Gas0.Add(dGas0)
		vb.Gas1 = vb.Gas1.Add(dGas1)
		vb.Humidity = vb.Humidity.Add(dHum)
	}
}

// sampleExterior bypasses the volume override per spec §4.6 ("exterior
// sampling bypasses the volume override").
func (s *EnvironmentSubsystem) sampleExterior(w *World, x, y, z int64, field ID) (fixed.Q16, error) {
	cx := int32(x / (resChunkSize << 32))
	cy := int32(y / (resChunkSize << 32))
	ch, err := w.GetOrCreateChunk(cx, cy)
	if err != nil {
		return 0, err
	}
	cs := s.chunkFields(w, ch)
	cell, ok := cs.fields[field]
	if !ok {
		return 0, &ErrInvalidArgument{Op: "environment.sampleExterior", Reason: "unknown field id"}
	}
	return cell.Values[0], nil
}

// --- serialization ---

func (s *EnvironmentSubsystem) SaveInstance(w *World) ([]byte, error) {
	st := s.state(w)
	var wtr tlv.Writer
	for _, id := range st.volumes.SortedIDs() {
		v, _ := st.volumes.Get(id)
		var vw tlv.Writer
		vw.Add(1, tlv.PutU64(uint64(v.ID)))
		vw.Add(2, tlv.PutU64(uint64(v.OwnerStructEID)))
		vw.Add(3, tlv.PutI64(v.MinX))
		vw.Add(4, tlv.PutI64(v.MinY))
		vw.Add(5, tlv.PutI64(v.MinZ))
		vw.Add(6, tlv.PutI64(v.MaxX))
		vw.Add(7, tlv.PutI64(v.MaxY))
		vw.Add(8, tlv.PutI64(v.MaxZ))
		vw.Add(9, tlv.PutI32(int32(v.Pressure)))
		vw.Add(10, tlv.PutI32(int32(v.Temperature)))
		vw.Add(11, tlv.PutI32(int32(v.Gas0)))
		vw.Add(12, tlv.PutI32(int32(v.Gas1)))
		vw.Add(13, tlv.PutI32(int32(v.Humidity)))
		vw.Add(14, tlv.PutI32(int32(v.Pollutant)))
		wtr.AddRecord(1, uint64(id), vw.Bytes())
	}
	for _, id := range st.edges.SortedIDs() {
		e, _ := st.edges.Get(id)
		var ew tlv.Writer
		ew.Add(1, tlv.PutU64(uint64(e.ID)))
		ew.Add(2, tlv.PutU64(uint64(e.A)))
		ew.Add(3, tlv.PutU64(uint64(e.B)))
		ew.Add(4, tlv.PutI32(int32(e.GasK)))
		ew.Add(5, tlv.PutI32(int32(e.HeatK)))
		wtr.AddRecord(2, uint64(id), ew.Bytes())
	}
	out := append(versionHeader(s.version), wtr.Bytes()...)
	return out, nil
}

func (s *EnvironmentSubsystem) LoadInstance(w *World, data []byte) error {
	_, rest, err := readVersionHeader(data)
	if err != nil {
		return fmt.Errorf("environment: load_instance: %w", err)
	}
	entries, err := tlv.Decode(rest)
	if err != nil {
		return fmt.Errorf("environment: load_instance: %w", err)
	}
	st := s.state(w)
	st.volumes.Reset()
	st.edges.Reset()
	for _, e := range entries {
		kv, err := tlv.Decode(e.Bytes)
		if err != nil {
			return fmt.Errorf("environment: load_instance: %w", err)
		}
		switch e.Tag {
		case 1:
			v := EnvVolume{}
			if b, ok := tlv.First(kv, 1); ok {
				u, _ := tlv.GetU64(b)
				v.ID = ID(u)
			}
			if b, ok := tlv.First(kv, 2); ok {
				u, _ := tlv.GetU64(b)
				v.OwnerStructEID = ID(u)
			}
			if b, ok := tlv.First(kv, 3); ok {
				v.MinX, _ = tlv.GetI64(b)
			}
			if b, ok := tlv.First(kv, 4); ok {
				v.MinY, _ = tlv.GetI64(b)
			}
			if b, ok := tlv.First(kv, 5); ok {
				v.MinZ, _ = tlv.GetI64(b)
			}
			if b, ok := tlv.First(kv, 6); ok {
				v.MaxX, _ = tlv.GetI64(b)
			}
			if b, ok := tlv.First(kv, 7); ok {
				v.MaxY, _ = tlv.GetI64(b)
			}
			if b, ok := tlv.First(kv, 8); ok {
				v.MaxZ, _ = tlv.GetI64(b)
			}
			if b, ok := tlv.First(kv, 9); ok {
				i, _ := tlv.GetI32(b)
				v.Pressure = fixed.Q16(i)
			}
			if b, ok := tlv.First(kv, 10); ok {
				i, _ := tlv.GetI32(b)
				v.Temperature = fixed.Q16(i)
			}
			if b, ok := tlv.First(kv, 11); ok {
				i, _ := tlv.GetI32(b)
				v.Gas0 = fixed.Q16(i)
			}
			if b, ok := tlv.First(kv, 12); ok {
				i, _ := tlv.GetI32(b)
				v.Gas1 = fixed.Q16(i)
			}
			if b, ok := tlv.First(kv, 13); ok {
				i, _ := tlv.GetI32(b)
				v.Humidity = fixed.Q16(i)
			}
			if b, ok := tlv.First(kv, 14); ok {
				i, _ := tlv.GetI32(b)
				v.Pollutant = fixed.Q16(i)
			}
			st.volumes.Restore(v.ID, v)
		case 2:
			ed := EnvEdge{}
			if b, ok := tlv.First(kv, 1); ok {
				u, _ := tlv.GetU64(b)
				ed.ID = ID(u)
			}
			if b, ok := tlv.First(kv, 2); ok {
				u, _ := tlv.GetU64(b)
				ed.A = ID(u)
			}
			if b, ok := tlv.First(kv, 3); ok {
				u, _ := tlv.GetU64(b)
				ed.B = ID(u)
			}
			if b, ok := tlv.First(kv, 4); ok {
				i, _ := tlv.GetI32(b)
				ed.GasK = fixed.Q16(i)
			}
			if b, ok := tlv.First(kv, 5); ok {
				i, _ := tlv.GetI32(b)
				ed.HeatK = fixed.Q16(i)
			}
			st.edges.Restore(ed.ID, ed)
		}
	}
	return nil
}

// SaveChunk encodes {zone_count:0, portal_count:0, fields[]} per spec §6,
// one tag-3 record per field and no separate field count; zones/portals are reserved for a future volume-
// per-chunk index and are always empty (no component currently attaches
// volumes to a specific chunk's save blob — they live in the per-instance
// save above).
func (s *EnvironmentSubsystem) SaveChunk(w *World, ch *Chunk) ([]byte, error) {
	cs := s.chunkFields(w, ch)
	fieldIDs := make([]ID, 0, len(cs.fields))
	for id := range cs.fields {
		fieldIDs = append(fieldIDs, id)
	}
	sort.Slice(fieldIDs, func(i, j int) bool { return fieldIDs[i] < fieldIDs[j] })

	var wtr tlv.Writer
	wtr.Add(1, tlv.PutU32(0)) // zone_count
	wtr.Add(2, tlv.PutU32(0)) // portal_count
	for _, fid := range fieldIDs {
		cell := cs.fields[fid]
		var fw tlv.Writer
		fw.Add(1, tlv.PutU64(uint64(cell.FieldID)))
		fw.Add(2, tlv.PutU32(cell.ModelID))
		for i, v := range cell.Values {
			fw.Add(uint32(3+i), tlv.PutI32(int32(v)))
		}
		wtr.AddRecord(3, uint64(fid), fw.Bytes())
	}
	return wtr.Bytes(), nil
}

func (s *EnvironmentSubsystem) LoadChunk(w *World, ch *Chunk, data []byte) error {
	entries, err := tlv.Decode(data)
	if err != nil {
		return fmt.Errorf("environment: load_chunk: %w", err)
	}
	cs := &envChunkState{fields: make(map[ID]*EnvFieldCell)}
	for _, e := range entries {
		if e.Tag != 3 {
			continue
		}
		kv, err := tlv.Decode(e.Bytes)
		if err != nil {
			return fmt.Errorf("environment: load_chunk: field: %w", err)
		}
		cell := &EnvFieldCell{}
		if b, ok := tlv.First(kv, 1); ok {
			v, _ := tlv.GetU64(b)
			cell.FieldID = ID(v)
		}
		if b, ok := tlv.First(kv, 2); ok {
			v, _ := tlv.GetU32(b)
			cell.ModelID = v
		}
		for i := 0; i < 4; i++ {
			if b, ok := tlv.First(kv, uint32(3+i)); ok {
				v, _ := tlv.GetI32(b)
				cell.Values[i] = fixed.Q16(v)
			}
		}
		cs.fields[cell.FieldID] = cell
	}
	st := s.state(w)
	st.chunkState[ch.ID] = cs
	return nil
}
