package core

import (
	"testing"

	"github.com/Julesc013/dominium-sub002/fixed"
	"github.com/Julesc013/dominium-sub002/tlv"
)

func encodeItemProto(id uint64, baseValue fixed.Q32) []byte {
	var kv tlv.Writer
	kv.Add(KVTagID, tlv.PutU64(id))
	kv.Add(FieldItemBaseValue, tlv.PutI64(int64(baseValue)))
	payload := kv.Bytes()

	var rec tlv.Writer
	rec.AddRecord(uint32(ProtoItem), id, payload)
	return rec.Bytes()
}

func TestEconomyRecordFlowAndTickPublishesEMA(t *testing.T) {
	w := newTestWorld()
	if err := w.Catalog.LoadContent(encodeItemProto(100, fixed.Q32FromInt(2))); err != nil {
		t.Fatalf("load item: %v", err)
	}
	s := NewEconomySubsystem()
	if err := s.LoadProtos(w.Catalog); err != nil {
		t.Fatalf("load protos: %v", err)
	}
	_ = s.InitInstance(w)

	s.RecordFlow(w, 1, true, 100, 10)
	if err := s.Tick(w, 1); err != nil {
		t.Fatalf("tick: %v", err)
	}

	m := s.Metrics(w, 1)
	if m.TotalOutput == 0 {
		t.Fatalf("expected non-zero output EMA after recording a flow")
	}
}

func TestEconomyTickZeroQuantityCarriesPriceForward(t *testing.T) {
	w := newTestWorld()
	if err := w.Catalog.LoadContent(encodeItemProto(100, fixed.Q32FromInt(5))); err != nil {
		t.Fatalf("load item: %v", err)
	}
	s := NewEconomySubsystem()
	if err := s.LoadProtos(w.Catalog); err != nil {
		t.Fatalf("load protos: %v", err)
	}
	_ = s.InitInstance(w)

	s.RecordFlow(w, 1, true, 100, 10)
	if err := s.Tick(w, 1); err != nil {
		t.Fatalf("tick 1: %v", err)
	}
	priceAfterFirstTick := s.Metrics(w, 1).PriceIndex

	if err := s.Tick(w, 1); err != nil {
		t.Fatalf("tick 2: %v", err)
	}
	priceAfterSecondTick := s.Metrics(w, 1).PriceIndex
	if priceAfterSecondTick != priceAfterFirstTick {
		t.Fatalf("expected price to carry forward on zero-quantity tick: %d != %d", priceAfterSecondTick, priceAfterFirstTick)
	}
}

func TestEconomySaveLoadInstanceRoundTrip(t *testing.T) {
	w := newTestWorld()
	if err := w.Catalog.LoadContent(encodeItemProto(100, fixed.Q32FromInt(3))); err != nil {
		t.Fatalf("load item: %v", err)
	}
	s := NewEconomySubsystem()
	if err := s.LoadProtos(w.Catalog); err != nil {
		t.Fatalf("load protos: %v", err)
	}
	_ = s.InitInstance(w)
	s.RecordFlow(w, 1, true, 100, 4)
	_ = s.Tick(w, 1)
	want := s.Metrics(w, 1)

	blob, err := s.SaveInstance(w)
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	w2 := newTestWorld()
	s2 := NewEconomySubsystem()
	_ = s2.InitInstance(w2)
	if err := s2.LoadInstance(w2, blob); err != nil {
		t.Fatalf("load: %v", err)
	}
	got := s2.Metrics(w2, 1)
	if got != want {
		t.Fatalf("restored metrics = %+v, want %+v", got, want)
	}
}
