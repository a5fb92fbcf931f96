package core

import (
	"fmt"

	"github.com/Julesc013/dominium-sub002/fixed"
	"github.com/Julesc013/dominium-sub002/tlv"
)

// Structure state flag bits (spec §4.8).
const (
	StructFlagBlocked uint32 = 1 << iota
	StructFlagPolicyBlocked
	StructFlagIdle
)

// Process field tags (within a ProtoStructure's proto payload and a
// ProtoProcess record).
const (
	FieldStructIsMachine   uint32 = 10 // u32, 0/1
	FieldStructProcessList uint32 = 11 // repeated u64, process ids this structure can run

	FieldProcessDuration uint32 = 10 // Q16
	FieldProcessInput    uint32 = 11 // repeated: {item_id u64, rate Q16}
	FieldProcessOutput   uint32 = 12 // repeated: {item_id u64, rate Q16}
	FieldProcessYield    uint32 = 13 // repeated: {kind u32, amount Q32}
	FieldProcessJobTmpl  uint32 = 14 // u64, Operate-Process job template id

	FieldItemBaseValue uint32 = 10 // Q32
)

// MachineRuntime is a structure's process-runner state (spec §4.3).
type MachineRuntime struct {
	ActiveProcessID ID
	Progress        fixed.Q16
	StateFlags      uint32
}

// ContainerSlot is one occupied item slot in a container.
type ContainerSlot struct {
	ItemID ID
	Count  int64
}

// Container holds bulk or slotted item stacks (spec §4.3). Bulk-only
// containers use a single slot.
type Container struct {
	ProtoID    ID
	UsedVolume fixed.Q16
	UsedMass   fixed.Q16
	Slots      []ContainerSlot
}

// Pack adds count units of itemID, merging into an existing slot if
// present. Returns the number of units that actually fit given slotCap (0
// = unbounded).
func (c *Container) Pack(itemID ID, count int64, slotCap int) int64 {
	if count <= 0 {
		return 0
	}
	for i := range c.Slots {
		if c.Slots[i].ItemID == itemID {
			c.Slots[i].Count += count
			return count
		}
	}
	if slotCap > 0 && len(c.Slots) >= slotCap {
		return 0
	}
	c.Slots = append(c.Slots, ContainerSlot{ItemID: itemID, Count: count})
	return count
}

// Available returns the count of itemID present.
func (c *Container) Available(itemID ID) int64 {
	for i := range c.Slots {
		if c.Slots[i].ItemID == itemID {
			return c.Slots[i].Count
		}
	}
	return 0
}

// Unpack removes up to count units of itemID; returns the amount actually
// removed. Slot counts never go negative (invariant #5 in spec §8).
func (c *Container) Unpack(itemID ID, count int64) int64 {
	if count <= 0 {
		return 0
	}
	for i := range c.Slots {
		if c.Slots[i].ItemID == itemID {
			take := count
			if take > c.Slots[i].Count {
				take = c.Slots[i].Count
			}
			c.Slots[i].Count -= take
			if c.Slots[i].Count == 0 {
				c.Slots = append(c.Slots[:i], c.Slots[i+1:]...)
			}
			return take
		}
	}
	return 0
}

// Structure is a structure/vehicle instance (spec §4.3).
type Structure struct {
	ID        ID
	ProtoID   ID
	OwnerOrg  ID
	PosX      fixed.Q16
	PosY      fixed.Q16
	PosZ      fixed.Q16
	Rot       fixed.Q16
	Flags     uint32
	EntityID  ID
	Runtime   MachineRuntime
	InvIn     Container
	InvOut    Container
	StateBlob []byte
}

type structureWorldState struct {
	structures *Arena[Structure]
}

// StructureSubsystem implements spec §4.8.
type StructureSubsystem struct {
	version  uint32
	policy   *PolicySubsystem
	jobs     *JobSubsystem
	orgs     *OrgAccountSubsystem
	research *ResearchSubsystem
	economy  *EconomySubsystem
}

// NewStructureSubsystem wires the process runner to the subsystems it
// drives on each process cycle: policy gating, operator job creation,
// account crediting, research yields, and economy flow tracking.
func NewStructureSubsystem(policy *PolicySubsystem, jobs *JobSubsystem, orgs *OrgAccountSubsystem, research *ResearchSubsystem, economy *EconomySubsystem) *StructureSubsystem {
	return &StructureSubsystem{version: 1, policy: policy, jobs: jobs, orgs: orgs, research: research, economy: economy}
}

func (s *StructureSubsystem) ID() SubsystemID { return SubsystemStructure }
func (s *StructureSubsystem) Name() string    { return "structure" }
func (s *StructureSubsystem) Version() uint32 { return s.version }

func (s *StructureSubsystem) RegisterModels(reg *ModelRegistry) error { return nil }
func (s *StructureSubsystem) LoadProtos(cat *ContentCatalog) error    { return nil }

func (s *StructureSubsystem) state(w *World) *structureWorldState {
	return w.Side(SubsystemStructure, func() any {
		return &structureWorldState{structures: NewArena[Structure]("structure.instances", 0)}
	}).(*structureWorldState)
}

func (s *StructureSubsystem) InitInstance(w *World) error {
	s.state(w)
	return nil
}

// Create allocates a structure instance bound to protoID and ownerOrg.
func (s *StructureSubsystem) Create(w *World, protoID, ownerOrg ID, posX, posY, posZ fixed.Q16) (ID, error) {
	st := s.state(w)
	id, _, err := st.structures.Create(func(id ID) Structure {
		return Structure{ID: id, ProtoID: protoID, OwnerOrg: ownerOrg, PosX: posX, PosY: posY, PosZ: posZ}
	})
	if err != nil {
		return 0, fmt.Errorf("structure: create: %w", err)
	}
	return id, nil
}

// Get returns the structure record for id.
func (s *StructureSubsystem) Get(w *World, id ID) (*Structure, bool) {
	return s.state(w).structures.Get(id)
}

// Count and ByIndex implement the engine's query iterator surface (spec §6
// "count + get-by-index, returning items sorted by id").
func (s *StructureSubsystem) Count(w *World) int { return s.state(w).structures.Count() }
func (s *StructureSubsystem) ByIndex(w *World, i int) (ID, *Structure, bool) {
	return s.state(w).structures.GetByIndex(i)
}

// Destroy removes a structure instance and, through the environment
// subsystem, every volume it owns (spec §4.6 "Volume ownership").
func (s *StructureSubsystem) Destroy(w *World, id ID, env *EnvironmentSubsystem) {
	s.state(w).structures.Delete(id)
	if env != nil {
		env.DestroyStructureVolumes(w, id)
	}
}

func isMachineProto(p *Proto) bool {
	b, ok := p.Field(FieldStructIsMachine)
	if !ok {
		return false
	}
	v, _ := tlv.GetU32(b)
	return v != 0
}

func processListOf(p *Proto) []ID {
	var out []ID
	for _, e := range tlv.All(p.Fields, FieldStructProcessList) {
		v, err := tlv.GetU64(e.Bytes)
		if err == nil {
			out = append(out, ID(v))
		}
	}
	return out
}

type processTerm struct {
	ItemID ID
	Rate   fixed.Q16
}

func processTermsOf(p *Proto, tag uint32) []processTerm {
	var out []processTerm
	for _, e := range tlv.All(p.Fields, tag) {
		kv, err := tlv.Decode(e.Bytes)
		if err != nil {
			continue
		}
		var t processTerm
		if b, ok := tlv.First(kv, 1); ok {
			v, _ := tlv.GetU64(b)
			t.ItemID = ID(v)
		}
		if b, ok := tlv.First(kv, 2); ok {
			v, _ := tlv.GetI32(b)
			t.Rate = fixed.Q16(v)
		}
		out = append(out, t)
	}
	return out
}

func processYieldsOf(p *Proto) []Yield {
	var out []Yield
	for _, e := range tlv.All(p.Fields, FieldProcessYield) {
		kv, err := tlv.Decode(e.Bytes)
		if err != nil {
			continue
		}
		var y Yield
		if b, ok := tlv.First(kv, 1); ok {
			v, _ := tlv.GetU32(b)
			y.Kind = v
		}
		if b, ok := tlv.First(kv, 2); ok {
			v, _ := tlv.GetI64(b)
			y.Amount = fixed.Q32(v)
		}
		out = append(out, y)
	}
	return out
}

func processDurationOf(p *Proto) fixed.Q16 {
	if b, ok := p.Field(FieldProcessDuration); ok {
		v, _ := tlv.GetI32(b)
		return fixed.Q16(v)
	}
	return fixed.Q16FromInt(1)
}

// Tick runs the process runner over every structure in sorted-id order
// (spec §4.8).
func (s *StructureSubsystem) Tick(w *World, ticks uint32) error {
	st := s.state(w)
	for _, id := range st.structures.SortedIDs() {
		strct, ok := st.structures.Get(id)
		if !ok {
			continue
		}
		proto, ok := w.Catalog.Get(ProtoStructure, strct.ProtoID)
		if !ok {
			continue
		}
		procIDs := processListOf(proto)
		if len(procIDs) == 0 {
			continue
		}
		s.tickStructure(w, strct, proto, procIDs, ticks)
	}
	return nil
}

// selectProcess picks the first process in procIDs whose policy resolve
// allows it (spec §4.8 step 1: "the first allowed process"). A proto with
// no allowed candidate reports ok=false so the caller can policy-block the
// structure instead of latching a denied process.
func (s *StructureSubsystem) selectProcess(w *World, strct *Structure, procIDs []ID) (ID, bool) {
	for _, pid := range procIDs {
		var result PolicyResult
		if s.policy != nil {
			result = s.policy.Resolve(w, PolicySubjectProcess, pid, 0, strct.OwnerOrg)
		} else {
			result = PolicyResult{Allowed: true, Multiplier: fixed.Q16FromInt(1)}
		}
		if result.Allowed && result.Multiplier != 0 {
			return pid, true
		}
	}
	return 0, false
}

func (s *StructureSubsystem) tickStructure(w *World, strct *Structure, proto *Proto, procIDs []ID, ticks uint32) {
	strct.Flags &^= StructFlagBlocked | StructFlagPolicyBlocked | StructFlagIdle

	if strct.Runtime.ActiveProcessID == 0 {
		pid, ok := s.selectProcess(w, strct, procIDs)
		if !ok {
			strct.Flags |= StructFlagBlocked | StructFlagPolicyBlocked
			return
		}
		strct.Runtime.ActiveProcessID = pid
		strct.Runtime.Progress = 0
	}
	procProto, ok := w.Catalog.Get(ProtoProcess, strct.Runtime.ActiveProcessID)
	if !ok {
		strct.Flags |= StructFlagBlocked
		return
	}

	var result PolicyResult
	if s.policy != nil {
		result = s.policy.Resolve(w, PolicySubjectProcess, strct.Runtime.ActiveProcessID, 0, strct.OwnerOrg)
	} else {
		result = PolicyResult{Allowed: true, Multiplier: fixed.Q16FromInt(1)}
	}
	if !result.Allowed || result.Multiplier == 0 {
		strct.Flags |= StructFlagBlocked | StructFlagPolicyBlocked
		return
	}

	if isMachineProto(proto) {
		if s.jobs != nil && !s.jobs.HasRunningOperator(w, strct.ID) {
			s.jobs.EnsureOperatorJob(w, strct, procProto)
			if !s.jobs.HasRunningOperator(w, strct.ID) {
				strct.Flags |= StructFlagIdle
				return
			}
		}
	}

	duration := processDurationOf(procProto)
	inputs := processTermsOf(procProto, FieldProcessInput)
	outputs := processTermsOf(procProto, FieldProcessOutput)

	if strct.Runtime.Progress == 0 {
		if !s.inputsAvailable(strct, inputs, duration) {
			strct.Flags |= StructFlagIdle
			return
		}
	}

	strct.Runtime.Progress = strct.Runtime.Progress.Add(fixed.Q16FromInt(int32(ticks)).Mul(result.Multiplier))

	for strct.Runtime.Progress >= duration {
		if !s.inputsAvailable(strct, inputs, duration) {
			strct.Runtime.Progress = duration
			strct.Flags |= StructFlagBlocked
			break
		}
		for _, in := range inputs {
			amount := amountPerCycle(in.Rate, duration)
			strct.InvIn.Unpack(in.ItemID, amount)
			if s.economy != nil {
				s.economy.RecordFlow(w, strct.OwnerOrg, false, in.ItemID, amount)
			}
		}
		for _, out := range outputs {
			amount := amountPerCycle(out.Rate, duration)
			fit := strct.InvOut.Pack(out.ItemID, amount, 0)
			if fit > 0 && s.economy != nil {
				s.economy.RecordFlow(w, strct.OwnerOrg, true, out.ItemID, fit)
			}
		}
		if s.research != nil {
			for _, y := range processYieldsOf(procProto) {
				_ = s.research.RouteYield(w, strct.OwnerOrg, y, 0)
			}
		}
		strct.Runtime.Progress = strct.Runtime.Progress.Sub(duration)
	}
}

func amountPerCycle(rate, duration fixed.Q16) int64 {
	v := rate.Mul(duration)
	return int64(v.ToInt())
}

func (s *StructureSubsystem) inputsAvailable(strct *Structure, inputs []processTerm, duration fixed.Q16) bool {
	for _, in := range inputs {
		need := amountPerCycle(in.Rate, duration)
		if strct.InvIn.Available(in.ItemID) < need {
			return false
		}
	}
	return true
}

// --- serialization ---

func (s *StructureSubsystem) SaveInstance(w *World) ([]byte, error) {
	st := s.state(w)
	var wtr tlv.Writer
	for _, id := range st.structures.SortedIDs() {
		strct, _ := st.structures.Get(id)
		var sw tlv.Writer
		sw.Add(1, tlv.PutU64(uint64(strct.ID)))
		sw.Add(2, tlv.PutU64(uint64(strct.ProtoID)))
		sw.Add(3, tlv.PutU64(uint64(strct.OwnerOrg)))
		sw.Add(4, tlv.PutI32(int32(strct.PosX)))
		sw.Add(5, tlv.PutI32(int32(strct.PosY)))
		sw.Add(6, tlv.PutI32(int32(strct.PosZ)))
		sw.Add(7, tlv.PutI32(int32(strct.Rot)))
		sw.Add(8, tlv.PutU32(strct.Flags))
		sw.Add(9, tlv.PutU64(uint64(strct.EntityID)))
		sw.Add(10, tlv.PutU64(uint64(strct.Runtime.ActiveProcessID)))
		sw.Add(11, tlv.PutI32(int32(strct.Runtime.Progress)))
		sw.Add(12, tlv.PutU32(strct.Runtime.StateFlags))
		sw.Add(13, encodeContainer(strct.InvIn))
		sw.Add(14, encodeContainer(strct.InvOut))
		sw.Add(15, strct.StateBlob)
		wtr.AddRecord(1, uint64(id), sw.Bytes())
	}
	return append(versionHeader(s.version), wtr.Bytes()...), nil
}

func encodeContainer(c Container) []byte {
	var cw tlv.Writer
	cw.Add(1, tlv.PutI32(int32(c.UsedVolume)))
	cw.Add(2, tlv.PutI32(int32(c.UsedMass)))
	for _, slot := range c.Slots {
		var slw tlv.Writer
		slw.Add(1, tlv.PutU64(uint64(slot.ItemID)))
		slw.Add(2, tlv.PutI64(slot.Count))
		cw.AddRecord(3, uint64(slot.ItemID), slw.Bytes())
	}
	return cw.Bytes()
}

func decodeContainer(data []byte) (Container, error) {
	entries, err := tlv.Decode(data)
	if err != nil {
		return Container{}, err
	}
	var c Container
	if b, ok := tlv.First(entries, 1); ok {
		v, _ := tlv.GetI32(b)
		c.UsedVolume = fixed.Q16(v)
	}
	if b, ok := tlv.First(entries, 2); ok {
		v, _ := tlv.GetI32(b)
		c.UsedMass = fixed.Q16(v)
	}
	for _, e := range tlv.All(entries, 3) {
		kv, err := tlv.Decode(e.Bytes)
		if err != nil {
			continue
		}
		var slot ContainerSlot
		if b, ok := tlv.First(kv, 1); ok {
			v, _ := tlv.GetU64(b)
			slot.ItemID = ID(v)
		}
		if b, ok := tlv.First(kv, 2); ok {
			v, _ := tlv.GetI64(b)
			slot.Count = v
		}
		c.Slots = append(c.Slots, slot)
	}
	return c, nil
}

func (s *StructureSubsystem) LoadInstance(w *World, data []byte) error {
	_, rest, err := readVersionHeader(data)
	if err != nil {
		return fmt.Errorf("structure: load_instance: %w", err)
	}
	entries, err := tlv.Decode(rest)
	if err != nil {
		return fmt.Errorf("structure: load_instance: %w", err)
	}
	st := s.state(w)
	st.structures.Reset()
	for _, e := range entries {
		kv, err := tlv.Decode(e.Bytes)
		if err != nil {
			return fmt.Errorf("structure: load_instance: record: %w", err)
		}
		strct := Structure{}
		if b, ok := tlv.First(kv, 1); ok {
			v, _ := tlv.GetU64(b)
			strct.ID = ID(v)
		}
		if b, ok := tlv.First(kv, 2); ok {
			v, _ := tlv.GetU64(b)
			strct.ProtoID = ID(v)
		}
		if b, ok := tlv.First(kv, 3); ok {
			v, _ := tlv.GetU64(b)
			strct.OwnerOrg = ID(v)
		}
		if b, ok := tlv.First(kv, 4); ok {
			v, _ := tlv.GetI32(b)
			strct.PosX = fixed.Q16(v)
		}
		if b, ok := tlv.First(kv, 5); ok {
			v, _ := tlv.GetI32(b)
			strct.PosY = fixed.Q16(v)
		}
		if b, ok := tlv.First(kv, 6); ok {
			v, _ := tlv.GetI32(b)
			strct.PosZ = fixed.Q16(v)
		}
		if b, ok := tlv.First(kv, 7); ok {
			v, _ := tlv.GetI32(b)
			strct.Rot = fixed.Q16(v)
		}
		if b, ok := tlv.First(kv, 8); ok {
			strct.Flags, _ = tlv.GetU32(b)
		}
		if b, ok := tlv.First(kv, 9); ok {
			v, _ := tlv.GetU64(b)
			strct.EntityID = ID(v)
		}
		if b, ok := tlv.First(kv, 10); ok {
			v, _ := tlv.GetU64(b)
			strct.Runtime.ActiveProcessID = ID(v)
		}
		if b, ok := tlv.First(kv, 11); ok {
			v, _ := tlv.GetI32(b)
			strct.Runtime.Progress = fixed.Q16(v)
		}
		if b, ok := tlv.First(kv, 12); ok {
			strct.Runtime.StateFlags, _ = tlv.GetU32(b)
		}
		if b, ok := tlv.First(kv, 13); ok {
			strct.InvIn, _ = decodeContainer(b)
		}
		if b, ok := tlv.First(kv, 14); ok {
			strct.InvOut, _ = decodeContainer(b)
		}
		if b, ok := tlv.First(kv, 15); ok {
			strct.StateBlob = append([]byte(nil), b...)
		}
		st.structures.Restore(strct.ID, strct)
	}
	return nil
}

func (s *StructureSubsystem) SaveChunk(w *World, ch *Chunk) ([]byte, error)    { return nil, nil }
func (s *StructureSubsystem) LoadChunk(w *World, ch *Chunk, data []byte) error { return nil }
