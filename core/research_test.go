package core

import (
	"testing"

	"github.com/Julesc013/dominium-sub002/fixed"
	"github.com/Julesc013/dominium-sub002/tlv"
)

func encodeResearchNode(id uint64, cost int64, prereqs []uint64) []byte {
	var kv tlv.Writer
	kv.Add(KVTagID, tlv.PutU64(id))
	kv.Add(FieldResearchCost, tlv.PutI64(cost))
	if len(prereqs) > 0 {
		buf := make([]byte, 0, len(prereqs)*8)
		for _, p := range prereqs {
			buf = append(buf, tlv.PutU64(p)...)
		}
		kv.Add(FieldResearchPrereq, buf)
	}
	payload := kv.Bytes()

	var rec tlv.Writer
	rec.AddRecord(uint32(ProtoResearchNode), id, payload)
	return rec.Bytes()
}

func TestResearchNodeStartsLockedWithPrereqs(t *testing.T) {
	w := newTestWorld()
	if err := w.Catalog.LoadContent(encodeResearchNode(1, 100, nil)); err != nil {
		t.Fatalf("load content: %v", err)
	}
	if err := w.Catalog.LoadContent(encodeResearchNode(2, 100, []uint64{1})); err != nil {
		t.Fatalf("load content: %v", err)
	}
	s := NewResearchSubsystem()
	_ = s.InitInstance(w)

	if st := s.State(w, 10, 1); st != ResearchPending {
		t.Fatalf("node without prereqs should start Pending, got %v", st)
	}
	if st := s.State(w, 10, 2); st != ResearchLocked {
		t.Fatalf("node with prereqs should start Locked, got %v", st)
	}
}

func TestResearchAddProgressCompletesAndUnlocksDependent(t *testing.T) {
	w := newTestWorld()
	if err := w.Catalog.LoadContent(encodeResearchNode(1, 100, nil)); err != nil {
		t.Fatalf("load content: %v", err)
	}
	if err := w.Catalog.LoadContent(encodeResearchNode(2, 100, []uint64{1})); err != nil {
		t.Fatalf("load content: %v", err)
	}
	s := NewResearchSubsystem()
	_ = s.InitInstance(w)

	if err := s.AddProgress(w, 10, 1, fixed.Q32FromInt(100)); err != nil {
		t.Fatalf("add progress: %v", err)
	}
	if !s.IsCompleted(w, 10, 1) {
		t.Fatalf("expected node 1 to be completed")
	}
	if st := s.State(w, 10, 2); st != ResearchPending {
		t.Fatalf("expected dependent node to unlock to Pending, got %v", st)
	}
}

func TestResearchAddProgressClampsAtCost(t *testing.T) {
	w := newTestWorld()
	if err := w.Catalog.LoadContent(encodeResearchNode(1, 50, nil)); err != nil {
		t.Fatalf("load content: %v", err)
	}
	s := NewResearchSubsystem()
	_ = s.InitInstance(w)

	if err := s.AddProgress(w, 10, 1, fixed.Q32FromInt(1000)); err != nil {
		t.Fatalf("add progress: %v", err)
	}
	if got := s.Progress(w, 10, 1); got != fixed.Q32FromInt(50) {
		t.Fatalf("progress = %d, want clamped to cost 50", got)
	}
}

func TestResearchSetActiveRejectsLockedNode(t *testing.T) {
	w := newTestWorld()
	if err := w.Catalog.LoadContent(encodeResearchNode(1, 100, nil)); err != nil {
		t.Fatalf("load content: %v", err)
	}
	if err := w.Catalog.LoadContent(encodeResearchNode(2, 100, []uint64{1})); err != nil {
		t.Fatalf("load content: %v", err)
	}
	s := NewResearchSubsystem()
	_ = s.InitInstance(w)

	if err := s.SetActive(w, 10, 2); err == nil {
		t.Fatalf("expected SetActive on a locked node to fail")
	}
}

func TestResearchRouteYieldToActiveCandidate(t *testing.T) {
	w := newTestWorld()
	if err := w.Catalog.LoadContent(encodeResearchNode(1, 100, nil)); err != nil {
		t.Fatalf("load content: %v", err)
	}
	var kv tlv.Writer
	kv.Add(KVTagID, tlv.PutU64(1))
	kv.Add(FieldPointSourceKind, tlv.PutU32(5))
	kv.Add(FieldPointSourceTargetNode, tlv.PutU64(1))
	var rec tlv.Writer
	rec.AddRecord(uint32(ProtoResearchPointSource), 1, kv.Bytes())
	if err := w.Catalog.LoadContent(rec.Bytes()); err != nil {
		t.Fatalf("load point source: %v", err)
	}

	s := NewResearchSubsystem()
	_ = s.InitInstance(w)
	if err := s.SetActive(w, 10, 1); err != nil {
		t.Fatalf("set active: %v", err)
	}
	if err := s.RouteYield(w, 10, Yield{Kind: 5, Amount: fixed.Q32FromInt(30)}, 0); err != nil {
		t.Fatalf("route yield: %v", err)
	}
	if got := s.Progress(w, 10, 1); got != fixed.Q32FromInt(30) {
		t.Fatalf("progress after route yield = %d, want 30", got)
	}
}
