package core

import (
	"fmt"

	"github.com/Julesc013/dominium-sub002/fixed"
	"github.com/Julesc013/dominium-sub002/tlv"
)

// MoverKind enumerates what a mover carries (spec §4.3).
type MoverKind uint32

const (
	MoverNone MoverKind = iota
	MoverItem
	MoverFluid
	MoverVehicle
	MoverAgent
)

// PortKind names what an endpoint's eid refers to.
type PortKind uint32

const (
	PortStructure PortKind = iota + 1
	PortSpline
)

const spawnGap = 1 << 13 // 0.125 in Q16.16 (1/8 of 1<<16)

// Spline profile field tags (ProtoSplineProfile payload).
const (
	FieldSplineProfileKind     uint32 = 10 // u32, MoverKind this spline carries
	FieldSplineProfileSpeed    uint32 = 11 // Q16, base_speed
	FieldSplineProfileMaxGrade uint32 = 12 // Q16
	FieldSplineProfileIsSource uint32 = 13 // u32, 0/1: endpoint A is an item source
)

// SplineNode is one point along a shared node pool entry.
type SplineNode struct {
	X, Y, Z    fixed.Q32
	NX, NY, NZ fixed.Q16
}

// Endpoint names a spline's attachment at a structure or another spline
// (spec §4.3).
type Endpoint struct {
	EID       ID
	PortKind  PortKind
	PortIndex int32
}

// Spline is a polyline route instance (spec §4.3).
type Spline struct {
	ID        ID
	ProfileID ID
	OwnerOrg  ID
	Flags     uint32
	NodeStart int
	NodeCount int
	Length    fixed.Q16
	EndpointA Endpoint
	EndpointB Endpoint
}

// Mover travels along a spline's parametric length (spec §4.3).
type Mover struct {
	ID           ID
	Kind         MoverKind
	SplineID     ID
	Param        fixed.Q16
	SpeedParam   fixed.Q16
	SizeParam    fixed.Q16
	PayloadID    ID
	PayloadCount int64
}

type transportWorldState struct {
	nodes   []SplineNode
	splines *Arena[Spline]
	movers  *Arena[Mover]
}

// TransportSubsystem implements spec §4.9.
type TransportSubsystem struct {
	version    uint32
	structures *StructureSubsystem
}

// NewTransportSubsystem binds the transport subsystem to the structure
// subsystem so mover arrival/spawn can reach structure containers.
func NewTransportSubsystem(structures *StructureSubsystem) *TransportSubsystem {
	return &TransportSubsystem{version: 1, structures: structures}
}

func (s *TransportSubsystem) ID() SubsystemID { return SubsystemTransport }
func (s *TransportSubsystem) Name() string    { return "transport" }
func (s *TransportSubsystem) Version() uint32 { return s.version }

func (s *TransportSubsystem) RegisterModels(reg *ModelRegistry) error { return nil }
func (s *TransportSubsystem) LoadProtos(cat *ContentCatalog) error    { return nil }

func (s *TransportSubsystem) state(w *World) *transportWorldState {
	return w.Side(SubsystemTransport, func() any {
		return &transportWorldState{
			splines: NewArena[Spline]("transport.splines", 0),
			movers:  NewArena[Mover]("transport.movers", 0),
		}
	}).(*transportWorldState)
}

func (s *TransportSubsystem) InitInstance(w *World) error {
	s.state(w)
	return nil
}

// CreateSpline allocates a spline instance over the given node sequence,
// caching its polyline length (spec §4.9).
func (s *TransportSubsystem) CreateSpline(w *World, profileID, ownerOrg ID, nodes []SplineNode, a, b Endpoint) (ID, error) {
	st := s.state(w)
	start := len(st.nodes)
	st.nodes = append(st.nodes, nodes...)
	length := polylineLength(nodes)
	id, _, err := st.splines.Create(func(id ID) Spline {
		return Spline{ID: id, ProfileID: profileID, OwnerOrg: ownerOrg, NodeStart: start, NodeCount: len(nodes), Length: length, EndpointA: a, EndpointB: b}
	})
	if err != nil {
		return 0, fmt.Errorf("transport: create_spline: %w", err)
	}
	return id, nil
}

func polylineLength(nodes []SplineNode) fixed.Q16 {
	var total fixed.Q16
	for i := 1; i < len(nodes); i++ {
		dx := fixed.Q32ToQ16(nodes[i].X.Sub(nodes[i-1].X))
		dy := fixed.Q32ToQ16(nodes[i].Y.Sub(nodes[i-1].Y))
		dz := fixed.Q32ToQ16(nodes[i].Z.Sub(nodes[i-1].Z))
		total = total.Add(manhattan(dx, dy, dz))
	}
	return total
}

func manhattan(dx, dy, dz fixed.Q16) fixed.Q16 {
	abs := func(v fixed.Q16) fixed.Q16 {
		if v < 0 {
			return -v
		}
		return v
	}
	return abs(dx).Add(abs(dy)).Add(abs(dz))
}

// SampleAt walks the spline's segments to find the position at parameter
// t (spec §4.9 "Sampling position").
func (s *TransportSubsystem) SampleAt(w *World, splineID ID, t fixed.Q16) (SplineNode, bool) {
	st := s.state(w)
	sp, ok := st.splines.Get(splineID)
	if !ok || sp.NodeCount < 2 {
		return SplineNode{}, false
	}
	if t < 0 {
		t = 0
	}
	if t > fixed.Q16FromInt(1) {
		t = fixed.Q16FromInt(1)
	}
	target := t.Mul(sp.Length)
	var covered fixed.Q16
	nodes := st.nodes[sp.NodeStart : sp.NodeStart+sp.NodeCount]
	for i := 1; i < len(nodes); i++ {
		dx := fixed.Q32ToQ16(nodes[i].X.Sub(nodes[i-1].X))
		dy := fixed.Q32ToQ16(nodes[i].Y.Sub(nodes[i-1].Y))
		dz := fixed.Q32ToQ16(nodes[i].Z.Sub(nodes[i-1].Z))
		segLen := manhattan(dx, dy, dz)
		if covered.Add(segLen) >= target || i == len(nodes)-1 {
			residual := target.Sub(covered)
			var frac fixed.Q16
			if segLen != 0 {
				frac = residual.Div(segLen)
			}
			return lerpNode(nodes[i-1], nodes[i], frac), true
		}
		covered = covered.Add(segLen)
	}
	return nodes[len(nodes)-1], true
}

func lerpNode(a, b SplineNode, frac fixed.Q16) SplineNode {
	fracQ32 := fixed.Q16ToQ32(frac)
	lerp32 := func(x, y fixed.Q32) fixed.Q32 { return x.Add(y.Sub(x).Mul(fracQ32)) }
	return SplineNode{X: lerp32(a.X, b.X), Y: lerp32(a.Y, b.Y), Z: lerp32(a.Z, b.Z)}
}

func splineProfileKind(p *Proto) MoverKind {
	if b, ok := p.Field(FieldSplineProfileKind); ok {
		v, _ := tlv.GetU32(b)
		return MoverKind(v)
	}
	return MoverNone
}

func splineProfileSpeedGrade(p *Proto) (fixed.Q16, fixed.Q16) {
	var speed, maxGrade fixed.Q16
	if b, ok := p.Field(FieldSplineProfileSpeed); ok {
		v, _ := tlv.GetI32(b)
		speed = fixed.Q16(v)
	}
	if b, ok := p.Field(FieldSplineProfileMaxGrade); ok {
		v, _ := tlv.GetI32(b)
		maxGrade = fixed.Q16(v)
	}
	return speed, maxGrade
}

func isItemSourceProfile(p *Proto) bool {
	b, ok := p.Field(FieldSplineProfileIsSource)
	if !ok {
		return false
	}
	v, _ := tlv.GetU32(b)
	return v != 0
}

// Tick advances every mover and spawns new item movers at sources (spec
// §4.9).
func (s *TransportSubsystem) Tick(w *World, ticks uint32) error {
	st := s.state(w)
	tf := fixed.Q16FromInt(int32(ticks))

	for _, id := range st.movers.SortedIDs() {
		m, _ := st.movers.Get(id)
		sp, ok := st.splines.Get(m.SplineID)
		if !ok {
			continue
		}
		profile, ok := w.Catalog.Get(ProtoSplineProfile, sp.ProfileID)
		if !ok {
			continue
		}
		s.tickMover(w, st, m, sp, profile, tf)
	}

	for _, id := range st.splines.SortedIDs() {
		sp, _ := st.splines.Get(id)
		profile, ok := w.Catalog.Get(ProtoSplineProfile, sp.ProfileID)
		if !ok || splineProfileKind(profile) != MoverItem || !isItemSourceProfile(profile) {
			continue
		}
		s.spawnAtSource(w, st, sp)
	}
	return nil
}

func (s *TransportSubsystem) tickMover(w *World, st *transportWorldState, m *Mover, sp *Spline, profile *Proto, ticks fixed.Q16) {
	baseSpeed, maxGrade := splineProfileSpeedGrade(profile)
	if sp.Length == 0 {
		return
	}
	nodes := st.nodes[sp.NodeStart : sp.NodeStart+sp.NodeCount]
	dz := fixed.Q32ToQ16(nodes[len(nodes)-1].Z.Sub(nodes[0].Z))
	if dz < 0 {
		dz = -dz
	}
	grade := dz.Div(sp.Length)
	var speed fixed.Q16
	if maxGrade == 0 || grade >= maxGrade {
		speed = 0
	} else {
		factor := fixed.Q16FromInt(1).Sub(grade.Div(maxGrade.Mul(fixed.Q16FromInt(2))))
		speed = baseSpeed.Mul(factor)
	}
	m.SpeedParam = speed.Div(sp.Length)
	m.Param = m.Param.Add(m.SpeedParam.Mul(ticks))
	if m.Param > fixed.Q16FromInt(1) {
		m.Param = fixed.Q16FromInt(1)
	}
	if m.Param < 0 {
		m.Param = 0
	}

	if m.Param >= fixed.Q16FromInt(1) && m.Kind == MoverItem && sp.EndpointB.PortKind == PortStructure {
		if s.tryDeliver(w, sp.EndpointB.EID, m.PayloadID, m.PayloadCount) {
			st.movers.Delete(m.ID)
		}
	}
}

func (s *TransportSubsystem) tryDeliver(w *World, structEID, itemID ID, count int64) bool {
	if s.structures == nil {
		return false
	}
	strct, ok := s.structures.Get(w, structEID)
	if !ok {
		return false
	}
	fit := strct.InvIn.Pack(itemID, count, 0)
	if fit == count {
		return true
	}
	strct.InvIn.Unpack(itemID, fit)
	remaining := strct.InvOut.Pack(itemID, count, 0)
	return remaining == count
}

func (s *TransportSubsystem) spawnAtSource(w *World, st *transportWorldState, sp *Spline) {
	if s.structures == nil || sp.EndpointA.PortKind != PortStructure {
		return
	}
	for _, id := range st.movers.SortedIDs() {
		m, _ := st.movers.Get(id)
		if m.SplineID == sp.ID && m.Param < spawnGapQ16() {
			return
		}
	}
	source, ok := s.structures.Get(w, sp.EndpointA.EID)
	if !ok {
		return
	}
	itemID := lowestSlotItem(&source.InvOut)
	if itemID == 0 {
		return
	}
	taken := source.InvOut.Unpack(itemID, 1)
	if taken == 0 {
		return
	}
	_, _, err := st.movers.Create(func(id ID) Mover {
		return Mover{ID: id, Kind: MoverItem, SplineID: sp.ID, Param: 0, PayloadID: itemID, PayloadCount: 1}
	})
	if err != nil {
		source.InvOut.Pack(itemID, 1, 0)
	}
}

func spawnGapQ16() fixed.Q16 { return fixed.Q16(spawnGap) }

func lowestSlotItem(c *Container) ID {
	var lowest ID
	for _, slot := range c.Slots {
		if slot.Count <= 0 {
			continue
		}
		if lowest == 0 || slot.ItemID < lowest {
			lowest = slot.ItemID
		}
	}
	return lowest
}

// --- serialization ---

func (s *TransportSubsystem) SaveInstance(w *World) ([]byte, error) {
	st := s.state(w)
	var wtr tlv.Writer
	for i, n := range st.nodes {
		var nw tlv.Writer
		nw.Add(1, tlv.PutI64(int64(n.X)))
		nw.Add(2, tlv.PutI64(int64(n.Y)))
		nw.Add(3, tlv.PutI64(int64(n.Z)))
		nw.Add(4, tlv.PutI32(int32(n.NX)))
		nw.Add(5, tlv.PutI32(int32(n.NY)))
		nw.Add(6, tlv.PutI32(int32(n.NZ)))
		wtr.AddRecord(1, uint64(i), nw.Bytes())
	}
	for _, id := range st.splines.SortedIDs() {
		sp, _ := st.splines.Get(id)
		var spw tlv.Writer
		spw.Add(1, tlv.PutU64(uint64(sp.ID)))
		spw.Add(2, tlv.PutU64(uint64(sp.ProfileID)))
		spw.Add(3, tlv.PutU64(uint64(sp.OwnerOrg)))
		spw.Add(4, tlv.PutU32(sp.Flags))
		spw.Add(5, tlv.PutU32(uint32(sp.NodeStart)))
		spw.Add(6, tlv.PutU32(uint32(sp.NodeCount)))
		spw.Add(7, tlv.PutI32(int32(sp.Length)))
		spw.Add(8, encodeEndpoint(sp.EndpointA))
		spw.Add(9, encodeEndpoint(sp.EndpointB))
		wtr.AddRecord(2, uint64(id), spw.Bytes())
	}
	for _, id := range st.movers.SortedIDs() {
		m, _ := st.movers.Get(id)
		var mw tlv.Writer
		mw.Add(1, tlv.PutU64(uint64(m.ID)))
		mw.Add(2, tlv.PutU32(uint32(m.Kind)))
		mw.Add(3, tlv.PutU64(uint64(m.SplineID)))
		mw.Add(4, tlv.PutI32(int32(m.Param)))
		mw.Add(5, tlv.PutI32(int32(m.SpeedParam)))
		mw.Add(6, tlv.PutI32(int32(m.SizeParam)))
		mw.Add(7, tlv.PutU64(uint64(m.PayloadID)))
		mw.Add(8, tlv.PutI64(m.PayloadCount))
		wtr.AddRecord(3, uint64(id), mw.Bytes())
	}
	return append(versionHeader(s.version), wtr.Bytes()...), nil
}

func encodeEndpoint(e Endpoint) []byte {
	var ew tlv.Writer
	ew.Add(1, tlv.PutU64(uint64(e.EID)))
	ew.Add(2, tlv.PutU32(uint32(e.PortKind)))
	ew.Add(3, tlv.PutI32(e.PortIndex))
	return ew.Bytes()
}

func decodeEndpoint(data []byte) (Endpoint, error) {
	entries, err := tlv.Decode(data)
	if err != nil {
		return Endpoint{}, err
	}
	var e Endpoint
	if b, ok := tlv.First(entries, 1); ok {
		v, _ := tlv.GetU64(b)
		e.EID = ID(v)
	}
	if b, ok := tlv.First(entries, 2); ok {
		v, _ := tlv.GetU32(b)
		e.PortKind = PortKind(v)
	}
	if b, ok := tlv.First(entries, 3); ok {
		e.PortIndex, _ = tlv.GetI32(b)
	}
	return e, nil
}

func (s *TransportSubsystem) LoadInstance(w *World, data []byte) error {
	_, rest, err := readVersionHeader(data)
	if err != nil {
		return fmt.Errorf("transport: load_instance: %w", err)
	}
	entries, err := tlv.Decode(rest)
	if err != nil {
		return fmt.Errorf("transport: load_instance: %w", err)
	}
	st := s.state(w)
	st.nodes = st.nodes[:0]
	st.splines.Reset()
	st.movers.Reset()

	for _, e := range entries {
		if e.Tag != 1 {
			continue
		}
		kv, err := tlv.Decode(e.Bytes)
		if err != nil {
			return fmt.Errorf("transport: load_instance: node: %w", err)
		}
		var n SplineNode
		if b, ok := tlv.First(kv, 1); ok {
			v, _ := tlv.GetI64(b)
			n.X = fixed.Q32(v)
		}
		if b, ok := tlv.First(kv, 2); ok {
			v, _ := tlv.GetI64(b)
			n.Y = fixed.Q32(v)
		}
		if b, ok := tlv.First(kv, 3); ok {
			v, _ := tlv.GetI64(b)
			n.Z = fixed.Q32(v)
		}
		if b, ok := tlv.First(kv, 4); ok {
			v, _ := tlv.GetI32(b)
			n.NX = fixed.Q16(v)
		}
		if b, ok := tlv.First(kv, 5); ok {
			v, _ := tlv.GetI32(b)
			n.NY = fixed.Q16(v)
		}
		if b, ok := tlv.First(kv, 6); ok {
			v, _ := tlv.GetI32(b)
			n.NZ = fixed.Q16(v)
		}
		st.nodes = append(st.nodes, n)
	}
	for _, e := range entries {
		if e.Tag != 2 {
			continue
		}
		kv, err := tlv.Decode(e.Bytes)
		if err != nil {
			return fmt.Errorf("transport: load_instance: spline: %w", err)
		}
		sp := Spline{}
		if b, ok := tlv.First(kv, 1); ok {
			v, _ := tlv.GetU64(b)
			sp.ID = ID(v)
		}
		if b, ok := tlv.First(kv, 2); ok {
			v, _ := tlv.GetU64(b)
			sp.ProfileID = ID(v)
		}
		if b, ok := tlv.First(kv, 3); ok {
			v, _ := tlv.GetU64(b)
			sp.OwnerOrg = ID(v)
		}
		if b, ok := tlv.First(kv, 4); ok {
			sp.Flags, _ = tlv.GetU32(b)
		}
		if b, ok := tlv.First(kv, 5); ok {
			v, _ := tlv.GetU32(b)
			sp.NodeStart = int(v)
		}
		if b, ok := tlv.First(kv, 6); ok {
			v, _ := tlv.GetU32(b)
			sp.NodeCount = int(v)
		}
		if b, ok := tlv.First(kv, 7); ok {
			v, _ := tlv.GetI32(b)
			sp.Length = fixed.Q16(v)
		}
		if b, ok := tlv.First(kv, 8); ok {
			sp.EndpointA, _ = decodeEndpoint(b)
		}
		if b, ok := tlv.First(kv, 9); ok {
			sp.EndpointB, _ = decodeEndpoint(b)
		}
		st.splines.Restore(sp.ID, sp)
	}
	for _, e := range entries {
		if e.Tag != 3 {
			continue
		}
		kv, err := tlv.Decode(e.Bytes)
		if err != nil {
			return fmt.Errorf("transport: load_instance: mover: %w", err)
		}
		m := Mover{}
		if b, ok := tlv.First(kv, 1); ok {
			v, _ := tlv.GetU64(b)
			m.ID = ID(v)
		}
		if b, ok := tlv.First(kv, 2); ok {
			v, _ := tlv.GetU32(b)
			m.Kind = MoverKind(v)
		}
		if b, ok := tlv.First(kv, 3); ok {
			v, _ := tlv.GetU64(b)
			m.SplineID = ID(v)
		}
		if b, ok := tlv.First(kv, 4); ok {
			v, _ := tlv.GetI32(b)
			m.Param = fixed.Q16(v)
		}
		if b, ok := tlv.First(kv, 5); ok {
			v, _ := tlv.GetI32(b)
			m.SpeedParam = fixed.Q16(v)
		}
		if b, ok := tlv.First(kv, 6); ok {
			v, _ := tlv.GetI32(b)
			m.SizeParam = fixed.Q16(v)
		}
		if b, ok := tlv.First(kv, 7); ok {
			v, _ := tlv.GetU64(b)
			m.PayloadID = ID(v)
		}
		if b, ok := tlv.First(kv, 8); ok {
			m.PayloadCount, _ = tlv.GetI64(b)
		}
		st.movers.Restore(m.ID, m)
	}
	return nil
}

func (s *TransportSubsystem) SaveChunk(w *World, ch *Chunk) ([]byte, error)    { return nil, nil }
func (s *TransportSubsystem) LoadChunk(w *World, ch *Chunk, data []byte) error { return nil }
