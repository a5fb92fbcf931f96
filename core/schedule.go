package core

import (
	"fmt"
	"sort"

	"github.com/Julesc013/dominium-sub002/tlv"
)

// ScheduledEvent is one queued macro-event: a coarse, non-cell-local
// effect fired once the world reaches FireTick (e.g. a seasonal worldgen
// trigger, an econ window rollover). Engine code, not the scheduler
// itself, interprets Kind/Payload — the scheduler only owns ordering and
// delivery, matching the no-callback, no-reentrancy rule in spec §5.
type ScheduledEvent struct {
	ID       ID
	FireTick uint64
	Kind     uint32
	Payload  []byte
}

type scheduleWorldState struct {
	events *Arena[ScheduledEvent]
	fired  []ScheduledEvent
}

// ScheduleSubsystem implements the macro schedule / event queue supplement
// (SPEC_FULL.md §5 item 5).
type ScheduleSubsystem struct {
	version uint32
}

func NewScheduleSubsystem() *ScheduleSubsystem { return &ScheduleSubsystem{version: 1} }

func (s *ScheduleSubsystem) ID() SubsystemID { return SubsystemSchedule }
func (s *ScheduleSubsystem) Name() string    { return "schedule" }
func (s *ScheduleSubsystem) Version() uint32 { return s.version }

func (s *ScheduleSubsystem) RegisterModels(reg *ModelRegistry) error { return nil }
func (s *ScheduleSubsystem) LoadProtos(cat *ContentCatalog) error    { return nil }

func (s *ScheduleSubsystem) state(w *World) *scheduleWorldState {
	return w.Side(SubsystemSchedule, func() any {
		return &scheduleWorldState{events: NewArena[ScheduledEvent]("schedule.events", 0)}
	}).(*scheduleWorldState)
}

func (s *ScheduleSubsystem) InitInstance(w *World) error {
	s.state(w)
	return nil
}

// Enqueue schedules kind/payload to fire once the world's tick counter
// reaches fireTick.
func (s *ScheduleSubsystem) Enqueue(w *World, fireTick uint64, kind uint32, payload []byte) (ID, error) {
	st := s.state(w)
	id, _, err := st.events.Create(func(id ID) ScheduledEvent {
		return ScheduledEvent{ID: id, FireTick: fireTick, Kind: kind, Payload: append([]byte(nil), payload...)}
	})
	if err != nil {
		return 0, fmt.Errorf("schedule: enqueue: %w", err)
	}
	return id, nil
}

// Cancel removes a queued event before it fires.
func (s *ScheduleSubsystem) Cancel(w *World, id ID) {
	s.state(w).events.Delete(id)
}

// DrainFired returns and clears every event delivered by the most recent
// Tick, in (fire_tick, id) order.
func (s *ScheduleSubsystem) DrainFired(w *World) []ScheduledEvent {
	st := s.state(w)
	fired := st.fired
	st.fired = nil
	return fired
}

// Tick fires every queued event whose FireTick has been reached,
// in (fire_tick, id) order, and removes it from the queue (spec §5
// ordering rule: enumerations that feed observable state sort by a stable
// key).
func (s *ScheduleSubsystem) Tick(w *World, ticks uint32) error {
	st := s.state(w)
	now := w.Tick()

	type due struct {
		id ID
		ev ScheduledEvent
	}
	var dueList []due
	for _, id := range st.events.SortedIDs() {
		ev, ok := st.events.Get(id)
		if !ok || ev.FireTick > now {
			continue
		}
		dueList = append(dueList, due{id: id, ev: *ev})
	}
	sort.Slice(dueList, func(i, j int) bool {
		if dueList[i].ev.FireTick != dueList[j].ev.FireTick {
			return dueList[i].ev.FireTick < dueList[j].ev.FireTick
		}
		return dueList[i].id < dueList[j].id
	})
	for _, d := range dueList {
		st.fired = append(st.fired, d.ev)
		st.events.Delete(d.id)
	}
	return nil
}

// --- serialization ---

func (s *ScheduleSubsystem) SaveInstance(w *World) ([]byte, error) {
	st := s.state(w)
	var wtr tlv.Writer
	for _, id := range st.events.SortedIDs() {
		ev, _ := st.events.Get(id)
		var ew tlv.Writer
		ew.Add(1, tlv.PutU64(uint64(ev.ID)))
		ew.Add(2, tlv.PutU64(ev.FireTick))
		ew.Add(3, tlv.PutU32(ev.Kind))
		ew.Add(4, ev.Payload)
		wtr.AddRecord(1, uint64(id), ew.Bytes())
	}
	return append(versionHeader(s.version), wtr.Bytes()...), nil
}

func (s *ScheduleSubsystem) LoadInstance(w *World, data []byte) error {
	_, rest, err := readVersionHeader(data)
	if err != nil {
		return fmt.Errorf("schedule: load_instance: %w", err)
	}
	entries, err := tlv.Decode(rest)
	if err != nil {
		return fmt.Errorf("schedule: load_instance: %w", err)
	}
	st := s.state(w)
	st.events.Reset()
	for _, e := range entries {
		kv, err := tlv.Decode(e.Bytes)
		if err != nil {
			return fmt.Errorf("schedule: load_instance: event: %w", err)
		}
		ev := ScheduledEvent{}
		if b, ok := tlv.First(kv, 1); ok {
			v, _ := tlv.GetU64(b)
			ev.ID = ID(v)
		}
		if b, ok := tlv.First(kv, 2); ok {
			ev.FireTick, _ = tlv.GetU64(b)
		}
		if b, ok := tlv.First(kv, 3); ok {
			ev.Kind, _ = tlv.GetU32(b)
		}
		if b, ok := tlv.First(kv, 4); ok {
			ev.Payload = append([]byte(nil), b...)
		}
		st.events.Restore(ev.ID, ev)
	}
	return nil
}

func (s *ScheduleSubsystem) SaveChunk(w *World, ch *Chunk) ([]byte, error)    { return nil, nil }
func (s *ScheduleSubsystem) LoadChunk(w *World, ch *Chunk, data []byte) error { return nil }
