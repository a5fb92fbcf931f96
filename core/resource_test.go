package core

import (
	"testing"

	"github.com/Julesc013/dominium-sub002/fixed"
)

func TestResourceSubsystemEnsureDepositAndSample(t *testing.T) {
	w := newTestWorld()
	s := NewResourceSubsystem()
	if err := s.InitInstance(w); err != nil {
		t.Fatalf("init: %v", err)
	}

	ch, err := w.GetOrCreateChunk(0, 0)
	if err != nil {
		t.Fatalf("create chunk: %v", err)
	}
	chanID := s.EnsureDeposit(w, ch, 1, 2)

	samples, err := s.SampleAt(w, 0, 0, 0, 0)
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if len(samples) != 1 {
		t.Fatalf("sample count = %d, want 1", len(samples))
	}
	if samples[0].ChannelID != chanID {
		t.Fatalf("channel id = %d, want %d", samples[0].ChannelID, chanID)
	}
}

func TestResourceSubsystemApplyDeltaClamps(t *testing.T) {
	w := newTestWorld()
	s := NewResourceSubsystem()
	_ = s.InitInstance(w)

	ch, _ := w.GetOrCreateChunk(0, 0)
	s.EnsureDeposit(w, ch, 1, 2)

	samples, err := s.SampleAt(w, 0, 0, 0, 0)
	if err != nil || len(samples) != 1 {
		t.Fatalf("sample: %v %v", samples, err)
	}
	sample := samples[0]

	var delta [8]fixed.Q16
	delta[0] = fixed.Q16FromInt(-1000)
	if err := s.ApplyDelta(w, sample, delta, 0); err != nil {
		t.Fatalf("apply delta: %v", err)
	}

	samples2, err := s.SampleAt(w, 0, 0, 0, 0)
	if err != nil || len(samples2) != 1 {
		t.Fatalf("resample: %v %v", samples2, err)
	}
	if samples2[0].Values[0] < 0 {
		t.Fatalf("expected value to clamp at zero, got %d", samples2[0].Values[0])
	}
}

func TestResourceSubsystemSaveLoadChunkRoundTrip(t *testing.T) {
	w := newTestWorld()
	s := NewResourceSubsystem()
	_ = s.InitInstance(w)

	ch, _ := w.GetOrCreateChunk(0, 0)
	s.EnsureDeposit(w, ch, 7, 8)
	if _, err := s.SampleAt(w, 0, 0, 0, 0); err != nil {
		t.Fatalf("sample: %v", err)
	}

	blob, err := s.SaveChunk(w, ch)
	if err != nil {
		t.Fatalf("save chunk: %v", err)
	}

	w2 := newTestWorld()
	s2 := NewResourceSubsystem()
	_ = s2.InitInstance(w2)
	ch2, _ := w2.GetOrCreateChunk(0, 0)
	if err := s2.LoadChunk(w2, ch2, blob); err != nil {
		t.Fatalf("load chunk: %v", err)
	}

	samples, err := s2.SampleAt(w2, 0, 0, 0, 0)
	if err != nil {
		t.Fatalf("sample after load: %v", err)
	}
	if len(samples) != 1 {
		t.Fatalf("sample count after load = %d, want 1", len(samples))
	}
	if samples[0].ProtoID != 7 || samples[0].Tags != 0 {
		t.Fatalf("restored sample mismatch: %+v", samples[0])
	}
}
