package core

import (
	"bytes"
	"testing"
)

func TestScheduleTickFiresDueEventsInOrder(t *testing.T) {
	w := newTestWorld()
	s := NewScheduleSubsystem()
	_ = s.InitInstance(w)

	id2, _ := s.Enqueue(w, 5, 2, []byte("b"))
	id1, _ := s.Enqueue(w, 5, 1, []byte("a"))
	_, _ = s.Enqueue(w, 10, 3, []byte("c"))

	w.Advance(5)
	if err := s.Tick(w, 1); err != nil {
		t.Fatalf("tick: %v", err)
	}

	fired := s.DrainFired(w)
	if len(fired) != 2 {
		t.Fatalf("expected 2 fired events at tick 5, got %d", len(fired))
	}
	// id2 is enqueued first, so it holds the lower id and fires first.
	if fired[0].ID != id2 || fired[1].ID != id1 {
		t.Fatalf("expected events sorted by id within same fire_tick, got %d then %d", fired[0].ID, fired[1].ID)
	}

	st := s.state(w)
	if st.events.Count() != 1 {
		t.Fatalf("expected the tick-10 event to remain queued, count=%d", st.events.Count())
	}
}

func TestScheduleCancelRemovesBeforeFiring(t *testing.T) {
	w := newTestWorld()
	s := NewScheduleSubsystem()
	_ = s.InitInstance(w)

	id, _ := s.Enqueue(w, 1, 1, nil)
	s.Cancel(w, id)
	w.Advance(1)
	if err := s.Tick(w, 1); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if fired := s.DrainFired(w); len(fired) != 0 {
		t.Fatalf("expected cancelled event not to fire, got %d fired", len(fired))
	}
}

func TestScheduleDrainFiredClearsBuffer(t *testing.T) {
	w := newTestWorld()
	s := NewScheduleSubsystem()
	_ = s.InitInstance(w)

	_, _ = s.Enqueue(w, 1, 1, nil)
	w.Advance(1)
	_ = s.Tick(w, 1)
	_ = s.DrainFired(w)
	if fired := s.DrainFired(w); len(fired) != 0 {
		t.Fatalf("expected second drain to be empty, got %d", len(fired))
	}
}

func TestScheduleSaveLoadInstanceRoundTrip(t *testing.T) {
	w := newTestWorld()
	s := NewScheduleSubsystem()
	_ = s.InitInstance(w)
	_, _ = s.Enqueue(w, 20, 7, []byte("payload"))

	blob, err := s.SaveInstance(w)
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	w2 := newTestWorld()
	s2 := NewScheduleSubsystem()
	_ = s2.InitInstance(w2)
	if err := s2.LoadInstance(w2, blob); err != nil {
		t.Fatalf("load: %v", err)
	}
	w2.Advance(20)
	if err := s2.Tick(w2, 1); err != nil {
		t.Fatalf("tick after restore: %v", err)
	}
	fired := s2.DrainFired(w2)
	if len(fired) != 1 || !bytes.Equal(fired[0].Payload, []byte("payload")) {
		t.Fatalf("restored event mismatch: %+v", fired)
	}
}
