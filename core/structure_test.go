package core

import (
	"testing"

	"github.com/Julesc013/dominium-sub002/fixed"
	"github.com/Julesc013/dominium-sub002/tlv"
)

func TestContainerPackAndUnpack(t *testing.T) {
	var c Container
	if got := c.Pack(1, 10, 0); got != 10 {
		t.Fatalf("pack = %d, want 10", got)
	}
	if got := c.Pack(1, 5, 0); got != 5 {
		t.Fatalf("pack merge = %d, want 5", got)
	}
	if got := c.Available(1); got != 15 {
		t.Fatalf("available = %d, want 15", got)
	}
	if got := c.Unpack(1, 20); got != 15 {
		t.Fatalf("unpack all = %d, want 15 (clamped)", got)
	}
	if got := c.Available(1); got != 0 {
		t.Fatalf("available after full unpack = %d, want 0", got)
	}
	if len(c.Slots) != 0 {
		t.Fatalf("expected empty slot to be removed, got %d slots", len(c.Slots))
	}
}

func TestContainerPackRespectsSlotCap(t *testing.T) {
	var c Container
	c.Pack(1, 1, 1)
	if got := c.Pack(2, 1, 1); got != 0 {
		t.Fatalf("pack beyond slot cap should fail, got %d", got)
	}
}

func encodeProcessProto(id uint64, duration int32, inputItem, outputItem uint64, inRate, outRate int32) []byte {
	var inTerm tlv.Writer
	inTerm.Add(1, tlv.PutU64(inputItem))
	inTerm.Add(2, tlv.PutI32(inRate))

	var outTerm tlv.Writer
	outTerm.Add(1, tlv.PutU64(outputItem))
	outTerm.Add(2, tlv.PutI32(outRate))

	var kv tlv.Writer
	kv.Add(KVTagID, tlv.PutU64(id))
	kv.Add(FieldProcessDuration, tlv.PutI32(duration))
	kv.Add(FieldProcessInput, inTerm.Bytes())
	kv.Add(FieldProcessOutput, outTerm.Bytes())
	payload := kv.Bytes()

	var rec tlv.Writer
	rec.AddRecord(uint32(ProtoProcess), id, payload)
	return rec.Bytes()
}

func encodeStructureProto(id uint64, processID uint64) []byte {
	var kv tlv.Writer
	kv.Add(KVTagID, tlv.PutU64(id))
	kv.Add(FieldStructProcessList, tlv.PutU64(processID))
	payload := kv.Bytes()

	var rec tlv.Writer
	rec.AddRecord(uint32(ProtoStructure), id, payload)
	return rec.Bytes()
}

func TestStructureTickRunsProcessCycle(t *testing.T) {
	w := newTestWorld()
	one := int32(fixed.Q16FromInt(1))
	if err := w.Catalog.LoadContent(encodeProcessProto(1, one, 100, 200, one, one)); err != nil {
		t.Fatalf("load process: %v", err)
	}
	if err := w.Catalog.LoadContent(encodeStructureProto(1, 1)); err != nil {
		t.Fatalf("load structure proto: %v", err)
	}

	s := NewStructureSubsystem(nil, nil, nil, nil, nil)
	_ = s.InitInstance(w)

	id, err := s.Create(w, 1, 1, 0, 0, 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	strct, _ := s.Get(w, id)
	strct.InvIn.Pack(100, 100, 0)

	if err := s.Tick(w, 1); err != nil {
		t.Fatalf("tick: %v", err)
	}

	strct, _ = s.Get(w, id)
	if strct.InvOut.Available(200) == 0 {
		t.Fatalf("expected process cycle to produce output item 200")
	}
}

func encodeStructureProtoMultiProcess(id uint64, processIDs ...uint64) []byte {
	var kv tlv.Writer
	kv.Add(KVTagID, tlv.PutU64(id))
	for _, pid := range processIDs {
		kv.Add(FieldStructProcessList, tlv.PutU64(pid))
	}
	payload := kv.Bytes()

	var rec tlv.Writer
	rec.AddRecord(uint32(ProtoStructure), id, payload)
	return rec.Bytes()
}

func encodeDenyProcessPolicy(ruleID, deniedProcessID uint64) []byte {
	var kv tlv.Writer
	kv.Add(FieldPolicySubjectKind, tlv.PutU32(uint32(PolicySubjectProcess)))
	kv.Add(FieldPolicySubjectIDs, tlv.PutU64(deniedProcessID))
	kv.Add(FieldPolicyAllowed, tlv.PutU32(0))
	payload := kv.Bytes()

	var rec tlv.Writer
	rec.AddRecord(uint32(ProtoPolicyRule), ruleID, payload)
	return rec.Bytes()
}

// TestStructureTickSkipsPolicyDeniedProcessForLaterAllowedOne pins spec
// §4.8 step 1: when a structure's first candidate process is
// policy-denied, the runner must try the next candidate rather than
// latching the denied one and blocking forever.
func TestStructureTickSkipsPolicyDeniedProcessForLaterAllowedOne(t *testing.T) {
	w := newTestWorld()
	one := int32(fixed.Q16FromInt(1))
	if err := w.Catalog.LoadContent(encodeProcessProto(1, one, 100, 200, one, one)); err != nil {
		t.Fatalf("load process 1: %v", err)
	}
	if err := w.Catalog.LoadContent(encodeProcessProto(2, one, 100, 300, one, one)); err != nil {
		t.Fatalf("load process 2: %v", err)
	}
	if err := w.Catalog.LoadContent(encodeStructureProtoMultiProcess(1, 1, 2)); err != nil {
		t.Fatalf("load structure proto: %v", err)
	}
	if err := w.Catalog.LoadContent(encodeDenyProcessPolicy(1, 1)); err != nil {
		t.Fatalf("load policy rule: %v", err)
	}

	policy := NewPolicySubsystem(nil)
	_ = policy.InitInstance(w)
	s := NewStructureSubsystem(policy, nil, nil, nil, nil)
	_ = s.InitInstance(w)

	id, err := s.Create(w, 1, 1, 0, 0, 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	strct, _ := s.Get(w, id)
	strct.InvIn.Pack(100, 100, 0)

	if err := s.Tick(w, 1); err != nil {
		t.Fatalf("tick: %v", err)
	}

	strct, _ = s.Get(w, id)
	if strct.Runtime.ActiveProcessID != 2 {
		t.Fatalf("expected structure to select allowed process 2, got %d", strct.Runtime.ActiveProcessID)
	}
	if strct.Flags&StructFlagPolicyBlocked != 0 {
		t.Fatalf("expected structure to run, not be policy blocked")
	}
	if strct.InvOut.Available(300) == 0 {
		t.Fatalf("expected process 2's output item 300 to be produced")
	}
}

// TestStructureTickBlocksWhenEveryProcessIsPolicyDenied confirms the
// structure still blocks when no candidate process is allowed.
func TestStructureTickBlocksWhenEveryProcessIsPolicyDenied(t *testing.T) {
	w := newTestWorld()
	one := int32(fixed.Q16FromInt(1))
	if err := w.Catalog.LoadContent(encodeProcessProto(1, one, 100, 200, one, one)); err != nil {
		t.Fatalf("load process: %v", err)
	}
	if err := w.Catalog.LoadContent(encodeStructureProtoMultiProcess(1, 1)); err != nil {
		t.Fatalf("load structure proto: %v", err)
	}
	if err := w.Catalog.LoadContent(encodeDenyProcessPolicy(1, 1)); err != nil {
		t.Fatalf("load policy rule: %v", err)
	}

	policy := NewPolicySubsystem(nil)
	_ = policy.InitInstance(w)
	s := NewStructureSubsystem(policy, nil, nil, nil, nil)
	_ = s.InitInstance(w)

	id, _ := s.Create(w, 1, 1, 0, 0, 0)
	strct, _ := s.Get(w, id)
	strct.InvIn.Pack(100, 100, 0)

	if err := s.Tick(w, 1); err != nil {
		t.Fatalf("tick: %v", err)
	}

	strct, _ = s.Get(w, id)
	if strct.Flags&StructFlagPolicyBlocked == 0 {
		t.Fatalf("expected structure to be policy blocked when no process is allowed")
	}
	if strct.Runtime.ActiveProcessID != 0 {
		t.Fatalf("expected no active process to be latched, got %d", strct.Runtime.ActiveProcessID)
	}
}

func TestStructureCountAndByIndex(t *testing.T) {
	w := newTestWorld()
	s := NewStructureSubsystem(nil, nil, nil, nil, nil)
	_ = s.InitInstance(w)

	id1, _ := s.Create(w, 1, 1, 0, 0, 0)
	_, _ = s.Create(w, 1, 1, 0, 0, 0)

	if n := s.Count(w); n != 2 {
		t.Fatalf("count = %d, want 2", n)
	}
	gotID, strct, ok := s.ByIndex(w, 0)
	if !ok || gotID != id1 || strct.ID != id1 {
		t.Fatalf("ByIndex(0) mismatch: id=%d strct=%+v ok=%v", gotID, strct, ok)
	}
}
