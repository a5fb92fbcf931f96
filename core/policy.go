package core

import (
	"github.com/Julesc013/dominium-sub002/fixed"
	"github.com/Julesc013/dominium-sub002/tlv"
)

// PolicySubjectKind names what a policy rule's scope matches against
// (spec §4.12).
type PolicySubjectKind uint32

const (
	PolicySubjectProcess PolicySubjectKind = iota + 1
	PolicySubjectJob
)

// Policy rule KV field tags (within the ProtoPolicyRule record).
const (
	FieldPolicySubjectKind uint32 = 10
	FieldPolicySubjectIDs  uint32 = 11 // repeated u64
	FieldPolicyTagsAll     uint32 = 12
	FieldPolicyTagsAny     uint32 = 13
	FieldPolicyOrgIDs      uint32 = 14 // repeated u64
	FieldPolicyCondition   uint32 = 15 // repeated: {kind u32, research_id u64}
	FieldPolicyAllowed     uint32 = 16 // u32, 0/1
	FieldPolicyMultiplier  uint32 = 17 // Q16
	FieldPolicyCap         uint32 = 18 // Q16, 0 = unset
)

const (
	PolicyConditionResearchCompleted    uint32 = 1
	PolicyConditionResearchNotCompleted uint32 = 2
)

// PolicyResult is the merged (allowed, multiplier, cap) triple.
type PolicyResult struct {
	Allowed    bool
	Multiplier fixed.Q16
	Cap        fixed.Q16
}

// PolicySubsystem implements spec §4.12. It holds no per-world mutable
// state beyond what it needs to resolve rules against the research
// subsystem; policy rules themselves are pure content data.
type PolicySubsystem struct {
	version  uint32
	research *ResearchSubsystem
}

// NewPolicySubsystem binds the policy engine to the research subsystem so
// RESEARCH_COMPLETED / RESEARCH_NOT_COMPLETED conditions can be evaluated.
func NewPolicySubsystem(research *ResearchSubsystem) *PolicySubsystem {
	return &PolicySubsystem{version: 1, research: research}
}

func (s *PolicySubsystem) ID() SubsystemID { return SubsystemPolicy }
func (s *PolicySubsystem) Name() string    { return "policy" }
func (s *PolicySubsystem) Version() uint32 { return s.version }

func (s *PolicySubsystem) RegisterModels(reg *ModelRegistry) error { return nil }
func (s *PolicySubsystem) LoadProtos(cat *ContentCatalog) error    { return nil }
func (s *PolicySubsystem) InitInstance(w *World) error             { return nil }
func (s *PolicySubsystem) Tick(w *World, ticks uint32) error       { return nil }

// Resolve evaluates every policy rule in content order against
// (subjectKind, subjectID, tagMask, orgID) and merges their effects (spec
// §4.12). A matched rule that denies short-circuits: later rules cannot
// re-enable (invariant #8 in spec §8).
func (s *PolicySubsystem) Resolve(w *World, subjectKind PolicySubjectKind, subjectID ID, tagMask uint64, orgID ID) PolicyResult {
	result := PolicyResult{Allowed: true, Multiplier: fixed.Q16FromInt(1), Cap: 0}

	for _, id := range w.Catalog.AllIDs(ProtoPolicyRule) {
		proto, ok := w.Catalog.Get(ProtoPolicyRule, id)
		if !ok {
			continue
		}
		if !s.matchScope(proto, subjectKind, subjectID, tagMask, orgID) {
			continue
		}
		if !s.matchConditions(w, proto, orgID) {
			continue
		}
		allowed, mult, cap := s.effect(proto)
		result.Allowed = result.Allowed && allowed
		result.Multiplier = result.Multiplier.Mul(mult)
		if cap > 0 {
			if result.Cap == 0 || cap < result.Cap {
				result.Cap = cap
			}
		}
		if !result.Allowed {
			break
		}
	}

	if result.Cap > 0 && result.Multiplier > result.Cap {
		result.Multiplier = result.Cap
	}
	if result.Multiplier < 0 {
		result.Multiplier = 0
	}
	return result
}

func (s *PolicySubsystem) matchScope(p *Proto, kind PolicySubjectKind, subjectID ID, tagMask uint64, orgID ID) bool {
	if b, ok := p.Field(FieldPolicySubjectKind); ok {
		v, _ := tlv.GetU32(b)
		if PolicySubjectKind(v) != kind {
			return false
		}
	}
	if ids := repeatedU64(p, FieldPolicySubjectIDs); len(ids) > 0 {
		if !containsID(ids, uint64(subjectID)) {
			return false
		}
	}
	if b, ok := p.Field(FieldPolicyTagsAll); ok {
		v, _ := tlv.GetU64(b)
		if tagMask&v != v {
			return false
		}
	}
	if b, ok := p.Field(FieldPolicyTagsAny); ok {
		v, _ := tlv.GetU64(b)
		if v != 0 && tagMask&v == 0 {
			return false
		}
	}
	if ids := repeatedU64(p, FieldPolicyOrgIDs); len(ids) > 0 {
		if !containsID(ids, uint64(orgID)) {
			return false
		}
	}
	return true
}

func (s *PolicySubsystem) matchConditions(w *World, p *Proto, orgID ID) bool {
	for _, e := range tlv.All(p.Fields, FieldPolicyCondition) {
		kv, err := tlv.Decode(e.Bytes)
		if err != nil {
			return false
		}
		kindB, _ := tlv.First(kv, 1)
		kind, _ := tlv.GetU32(kindB)
		idB, _ := tlv.First(kv, 2)
		researchID64, _ := tlv.GetU64(idB)
		researchID := ID(researchID64)

		completed := false
		if s.research != nil {
			completed = s.research.IsCompleted(w, orgID, researchID)
		}
		switch kind {
		case PolicyConditionResearchCompleted:
			if !completed {
				return false
			}
		case PolicyConditionResearchNotCompleted:
			if completed {
				return false
			}
		}
	}
	return true
}

func (s *PolicySubsystem) effect(p *Proto) (bool, fixed.Q16, fixed.Q16) {
	allowed := true
	if b, ok := p.Field(FieldPolicyAllowed); ok {
		v, _ := tlv.GetU32(b)
		allowed = v != 0
	}
	mult := fixed.Q16FromInt(1)
	if b, ok := p.Field(FieldPolicyMultiplier); ok {
		v, _ := tlv.GetI32(b)
		mult = fixed.Q16(v)
	}
	var cap fixed.Q16
	if b, ok := p.Field(FieldPolicyCap); ok {
		v, _ := tlv.GetI32(b)
		cap = fixed.Q16(v)
	}
	return allowed, mult, cap
}

func repeatedU64(p *Proto, tag uint32) []uint64 {
	var out []uint64
	for _, e := range tlv.All(p.Fields, tag) {
		v, err := tlv.GetU64(e.Bytes)
		if err == nil {
			out = append(out, v)
		}
	}
	return out
}

func containsID(list []uint64, v uint64) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// --- serialization (policy rules are pure content; no instance/chunk state) ---

func (s *PolicySubsystem) SaveInstance(w *World) ([]byte, error) { return versionHeader(s.version), nil }
func (s *PolicySubsystem) LoadInstance(w *World, data []byte) error {
	_, _, err := readVersionHeader(data)
	return err
}
func (s *PolicySubsystem) SaveChunk(w *World, ch *Chunk) ([]byte, error) { return nil, nil }
func (s *PolicySubsystem) LoadChunk(w *World, ch *Chunk, data []byte) error { return nil }
