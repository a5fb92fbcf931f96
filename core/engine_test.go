package core

import (
	"testing"

	"github.com/Julesc013/dominium-sub002/fixed"
	"github.com/Julesc013/dominium-sub002/tlv"
)

func TestEngineCreateWorldRunsInitInstance(t *testing.T) {
	e, err := NewEngine()
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	w, err := e.CreateWorld(42)
	if err != nil {
		t.Fatalf("create world: %v", err)
	}
	if w.Seed != 42 {
		t.Fatalf("seed = %d, want 42", w.Seed)
	}
	orgID, err := e.OrgAccount.CreateOrg(w, 0, fixed.Q32FromInt(10))
	if err != nil {
		t.Fatalf("create org: %v", err)
	}
	bal, err := e.OrgAccount.Balance(w, orgID)
	if err != nil || bal != fixed.Q32FromInt(10) {
		t.Fatalf("balance = %d, err = %v", bal, err)
	}
}

func TestEngineSaveLoadWorldRoundTrip(t *testing.T) {
	e, err := NewEngine()
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	w, err := e.CreateWorld(7)
	if err != nil {
		t.Fatalf("create world: %v", err)
	}
	orgID, _ := e.OrgAccount.CreateOrg(w, 0, fixed.Q32FromInt(55))
	ch, err := w.GetOrCreateChunk(1, 2)
	if err != nil || ch == nil {
		t.Fatalf("expected chunk to be created, err=%v", err)
	}

	blob, err := e.SaveWorld(w)
	if err != nil {
		t.Fatalf("save world: %v", err)
	}

	e2, err := NewEngine()
	if err != nil {
		t.Fatalf("new engine 2: %v", err)
	}
	w2, err := e2.LoadWorld(7, blob)
	if err != nil {
		t.Fatalf("load world: %v", err)
	}
	bal, err := e2.OrgAccount.Balance(w2, orgID)
	if err != nil || bal != fixed.Q32FromInt(55) {
		t.Fatalf("restored balance = %d, err = %v", bal, err)
	}
	if w2.ChunkCount() != 1 {
		t.Fatalf("restored chunk count = %d, want 1", w2.ChunkCount())
	}
	restored, ok := w2.GetChunk(1, 2)
	if !ok || restored.CX != 1 || restored.CY != 2 {
		t.Fatalf("restored chunk coord mismatch: ok=%v ch=%+v", ok, restored)
	}
}

func TestEngineAdvanceTicksWorld(t *testing.T) {
	e, err := NewEngine()
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	w, err := e.CreateWorld(1)
	if err != nil {
		t.Fatalf("create world: %v", err)
	}
	if err := e.Advance(w, 3); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if w.Tick() != 3 {
		t.Fatalf("tick = %d, want 3", w.Tick())
	}
}

func TestEngineLoadPacksMergesLaterOverride(t *testing.T) {
	e, err := NewEngine()
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	first := encodeItemProto(1, fixed.Q32FromInt(1))
	second := encodeItemProto(1, fixed.Q32FromInt(2))
	if err := e.LoadPacks(first, second); err != nil {
		t.Fatalf("load packs: %v", err)
	}
	p, ok := e.Catalog.Get(ProtoItem, 1)
	if !ok {
		t.Fatalf("expected item 1 to be loaded")
	}
	b, ok := p.Field(FieldItemBaseValue)
	if !ok {
		t.Fatalf("expected base value field")
	}
	v, err := tlv.GetI64(b)
	if err != nil {
		t.Fatalf("decode base value: %v", err)
	}
	if fixed.Q32(v) != fixed.Q32FromInt(2) {
		t.Fatalf("expected later pack's value to win, got %d", fixed.Q32(v))
	}
}
