package core

import (
	"fmt"
	"sort"

	"github.com/Julesc013/dominium-sub002/fixed"
	"github.com/Julesc013/dominium-sub002/tlv"
)

// ResearchState enumerates a node's lifecycle (spec §3).
type ResearchState uint32

const (
	ResearchLocked ResearchState = iota + 1
	ResearchPending
	ResearchActive
	ResearchCompleted
)

// Research node proto field tags.
const (
	FieldResearchCost         uint32 = 10 // Q32 required points
	FieldResearchPrereq       uint32 = 11 // u64 ids packed back to back in one field
)

// Research point source proto field tags (ProtoResearchPointSource).
const (
	FieldPointSourceKind       uint32 = 10 // u32
	FieldPointSourceTargetNode uint32 = 11 // u64
	FieldPointSourceTagsAll    uint32 = 12 // u64
	FieldPointSourceTagsAny    uint32 = 13 // u64
)

// Yield is a (kind, amount) credit produced by a process or job template
// completion (spec §3, §4.13).
type Yield struct {
	Kind   uint32
	Amount fixed.Q32
}

// orgResearch is one org's progress map over every research node in the
// content catalog.
type orgResearch struct {
	progress map[ID]fixed.Q32
	state    map[ID]ResearchState
	active   ID
}

type researchWorldState struct {
	orgs map[ID]*orgResearch
}

// ResearchSubsystem implements spec §4.13.
type ResearchSubsystem struct {
	version uint32
}

func NewResearchSubsystem() *ResearchSubsystem { return &ResearchSubsystem{version: 1} }

func (s *ResearchSubsystem) ID() SubsystemID { return SubsystemResearch }
func (s *ResearchSubsystem) Name() string    { return "research" }
func (s *ResearchSubsystem) Version() uint32 { return s.version }

func (s *ResearchSubsystem) RegisterModels(reg *ModelRegistry) error { return nil }
func (s *ResearchSubsystem) LoadProtos(cat *ContentCatalog) error    { return nil }
func (s *ResearchSubsystem) Tick(w *World, ticks uint32) error       { return nil }

func (s *ResearchSubsystem) state(w *World) *researchWorldState {
	return w.Side(SubsystemResearch, func() any {
		return &researchWorldState{orgs: make(map[ID]*orgResearch)}
	}).(*researchWorldState)
}

func (s *ResearchSubsystem) InitInstance(w *World) error {
	s.state(w)
	return nil
}

// ensureOrg builds the per-org progress map the first time an org is
// touched, seeding every content-catalog research node as Locked iff it
// has prerequisites, else Pending (spec §4.13).
func (s *ResearchSubsystem) ensureOrg(w *World, orgID ID) *orgResearch {
	st := s.state(w)
	or, ok := st.orgs[orgID]
	if ok {
		return or
	}
	or = &orgResearch{progress: make(map[ID]fixed.Q32), state: make(map[ID]ResearchState)}
	for _, id := range w.Catalog.AllIDs(ProtoResearchNode) {
		proto, _ := w.Catalog.Get(ProtoResearchNode, id)
		or.progress[id] = 0
		if len(prereqsOf(proto)) > 0 {
			or.state[id] = ResearchLocked
		} else {
			or.state[id] = ResearchPending
		}
	}
	st.orgs[orgID] = or
	return or
}

func prereqsOf(p *Proto) []ID {
	var out []ID
	if b, ok := p.Field(FieldResearchPrereq); ok {
		n := len(b) / 8
		for i := 0; i < n; i++ {
			v, _ := tlv.GetU64(b[i*8 : i*8+8])
			out = append(out, ID(v))
		}
	}
	return out
}

func costOf(p *Proto) fixed.Q32 {
	if b, ok := p.Field(FieldResearchCost); ok {
		v, _ := tlv.GetI64(b)
		return fixed.Q32(v)
	}
	return 0
}

// State returns a node's current state for orgID.
func (s *ResearchSubsystem) State(w *World, orgID, nodeID ID) ResearchState {
	or := s.ensureOrg(w, orgID)
	return or.state[nodeID]
}

// IsCompleted reports whether orgID has completed nodeID.
func (s *ResearchSubsystem) IsCompleted(w *World, orgID, nodeID ID) bool {
	return s.State(w, orgID, nodeID) == ResearchCompleted
}

// Progress returns a node's current progress for orgID.
func (s *ResearchSubsystem) Progress(w *World, orgID, nodeID ID) fixed.Q32 {
	or := s.ensureOrg(w, orgID)
	return or.progress[nodeID]
}

// SetActive transitions the current active node (if any) back to Pending
// and marks nodeID Active. Disallowed for Locked or Completed nodes (spec
// §4.13).
func (s *ResearchSubsystem) SetActive(w *World, orgID, nodeID ID) error {
	or := s.ensureOrg(w, orgID)
	st, ok := or.state[nodeID]
	if !ok {
		return &ErrInvalidArgument{Op: "research.SetActive", Reason: "unknown node"}
	}
	if st == ResearchLocked || st == ResearchCompleted {
		return &ErrInvalidArgument{Op: "research.SetActive", Reason: "node is locked or completed"}
	}
	if or.active != 0 && or.active != nodeID {
		if or.state[or.active] == ResearchActive {
			or.state[or.active] = ResearchPending
		}
	}
	or.state[nodeID] = ResearchActive
	or.active = nodeID
	return nil
}

// AddProgress increments a node's progress, clamping at its cost; on
// reaching the cost the node becomes Completed and any dependent whose
// prerequisites are now satisfied moves from Locked to Pending (spec
// §4.13). Progress never regresses (invariant #9 in spec §8).
func (s *ResearchSubsystem) AddProgress(w *World, orgID, nodeID ID, amount fixed.Q32) error {
	if amount <= 0 {
		return &ErrInvalidArgument{Op: "research.AddProgress", Reason: "amount must be positive"}
	}
	or := s.ensureOrg(w, orgID)
	proto, ok := w.Catalog.Get(ProtoResearchNode, nodeID)
	if !ok {
		return &ErrInvalidArgument{Op: "research.AddProgress", Reason: "unknown node"}
	}
	if or.state[nodeID] == ResearchCompleted {
		return nil
	}
	cost := costOf(proto)
	next := or.progress[nodeID].Add(amount)
	if cost > 0 && next > cost {
		next = cost
	}
	or.progress[nodeID] = next
	if cost > 0 && next >= cost {
		or.state[nodeID] = ResearchCompleted
		s.unlockDependents(w, or, nodeID)
	}
	return nil
}

func (s *ResearchSubsystem) unlockDependents(w *World, or *orgResearch, completedID ID) {
	for _, id := range w.Catalog.AllIDs(ProtoResearchNode) {
		if or.state[id] != ResearchLocked {
			continue
		}
		proto, _ := w.Catalog.Get(ProtoResearchNode, id)
		allSatisfied := true
		for _, prereq := range prereqsOf(proto) {
			if or.state[prereq] != ResearchCompleted {
				allSatisfied = false
				break
			}
		}
		if allSatisfied {
			or.state[id] = ResearchPending
		}
	}
}

// RouteYield implements the point-routing algorithm in spec §4.13: build a
// candidate list from point-source definitions matching kind, then choose
// the org's active candidate, else the smallest-id unlocked non-Completed
// candidate, else fall back to the org's active or smallest-id pending.
func (s *ResearchSubsystem) RouteYield(w *World, orgID ID, y Yield, agentTags uint64) error {
	or := s.ensureOrg(w, orgID)

	var candidates []ID
	for _, srcID := range w.Catalog.AllIDs(ProtoResearchPointSource) {
		src, _ := w.Catalog.Get(ProtoResearchPointSource, srcID)
		kindB, ok := src.Field(FieldPointSourceKind)
		if !ok {
			continue
		}
		kindVal, _ := tlv.GetU32(kindB)
		if kindVal != y.Kind {
			continue
		}
		if b, ok := src.Field(FieldPointSourceTagsAll); ok {
			v, _ := tlv.GetU64(b)
			if agentTags&v != v {
				continue
			}
		}
		if b, ok := src.Field(FieldPointSourceTagsAny); ok {
			v, _ := tlv.GetU64(b)
			if v != 0 && agentTags&v == 0 {
				continue
			}
		}
		targetB, ok := src.Field(FieldPointSourceTargetNode)
		if !ok {
			continue
		}
		targetV, _ := tlv.GetU64(targetB)
		candidates = append(candidates, ID(targetV))
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })

	chosen := s.pickTarget(or, candidates)
	if chosen == 0 {
		return nil
	}
	return s.AddProgress(w, orgID, chosen, y.Amount)
}

func (s *ResearchSubsystem) pickTarget(or *orgResearch, candidates []ID) ID {
	inCandidates := func(id ID) bool {
		for _, c := range candidates {
			if c == id {
				return true
			}
		}
		return false
	}
	if or.active != 0 && inCandidates(or.active) {
		st := or.state[or.active]
		if st != ResearchLocked && st != ResearchCompleted {
			return or.active
		}
	}
	for _, c := range candidates {
		st := or.state[c]
		if st != ResearchLocked && st != ResearchCompleted {
			return c
		}
	}
	if or.active != 0 {
		return or.active
	}
	var smallestPending ID
	for id, st := range or.state {
		if st == ResearchPending {
			if smallestPending == 0 || id < smallestPending {
				smallestPending = id
			}
		}
	}
	return smallestPending
}

// --- serialization ---

func (s *ResearchSubsystem) SaveInstance(w *World) ([]byte, error) {
	st := s.state(w)
	orgIDs := make([]ID, 0, len(st.orgs))
	for id := range st.orgs {
		orgIDs = append(orgIDs, id)
	}
	sort.Slice(orgIDs, func(i, j int) bool { return orgIDs[i] < orgIDs[j] })

	var wtr tlv.Writer
	for _, orgID := range orgIDs {
		or := st.orgs[orgID]
		var ow tlv.Writer
		ow.Add(1, tlv.PutU64(uint64(orgID)))
		ow.Add(2, tlv.PutU64(uint64(or.active)))
		nodeIDs := make([]ID, 0, len(or.progress))
		for id := range or.progress {
			nodeIDs = append(nodeIDs, id)
		}
		sort.Slice(nodeIDs, func(i, j int) bool { return nodeIDs[i] < nodeIDs[j] })
		for _, nid := range nodeIDs {
			var nw tlv.Writer
			nw.Add(1, tlv.PutU64(uint64(nid)))
			nw.Add(2, tlv.PutI64(int64(or.progress[nid])))
			nw.Add(3, tlv.PutU32(uint32(or.state[nid])))
			ow.AddRecord(3, uint64(nid), nw.Bytes())
		}
		wtr.AddRecord(1, uint64(orgID), ow.Bytes())
	}
	return append(versionHeader(s.version), wtr.Bytes()...), nil
}

func (s *ResearchSubsystem) LoadInstance(w *World, data []byte) error {
	_, rest, err := readVersionHeader(data)
	if err != nil {
		return fmt.Errorf("research: load_instance: %w", err)
	}
	entries, err := tlv.Decode(rest)
	if err != nil {
		return fmt.Errorf("research: load_instance: %w", err)
	}
	st := s.state(w)
	st.orgs = make(map[ID]*orgResearch)
	for _, e := range entries {
		kv, err := tlv.Decode(e.Bytes)
		if err != nil {
			return fmt.Errorf("research: load_instance: org: %w", err)
		}
		var orgID ID
		if b, ok := tlv.First(kv, 1); ok {
			v, _ := tlv.GetU64(b)
			orgID = ID(v)
		}
		or := &orgResearch{progress: make(map[ID]fixed.Q32), state: make(map[ID]ResearchState)}
		if b, ok := tlv.First(kv, 2); ok {
			v, _ := tlv.GetU64(b)
			or.active = ID(v)
		}
		for _, ne := range tlv.All(kv, 3) {
			nkv, err := tlv.Decode(ne.Bytes)
			if err != nil {
				return fmt.Errorf("research: load_instance: node: %w", err)
			}
			var nid ID
			if b, ok := tlv.First(nkv, 1); ok {
				v, _ := tlv.GetU64(b)
				nid = ID(v)
			}
			if b, ok := tlv.First(nkv, 2); ok {
				v, _ := tlv.GetI64(b)
				or.progress[nid] = fixed.Q32(v)
			}
			if b, ok := tlv.First(nkv, 3); ok {
				v, _ := tlv.GetU32(b)
				or.state[nid] = ResearchState(v)
			}
		}
		st.orgs[orgID] = or
	}
	return nil
}

func (s *ResearchSubsystem) SaveChunk(w *World, ch *Chunk) ([]byte, error)    { return nil, nil }
func (s *ResearchSubsystem) LoadChunk(w *World, ch *Chunk, data []byte) error { return nil }
