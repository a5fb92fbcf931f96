package core

import (
	"fmt"
	"sort"

	"github.com/Julesc013/dominium-sub002/tlv"
)

// ReplayMode names whether the recorder is capturing new frames or
// feeding previously captured ones back to the engine (spec §4.15).
type ReplayMode uint32

const (
	ReplayIdle ReplayMode = iota
	ReplayRecording
	ReplayPlayback
)

const tagFrame uint32 = 1

// InputRecord is one player's input payload within a tick's frame (spec
// §4.15).
type InputRecord struct {
	TickIndex uint64
	PlayerID  uint64
	Payload   []byte
}

// Frame bundles every input delivered during one tick, in recorder
// insertion order (spec §4.15 "a frame (tick_index, inputs[...])").
type Frame struct {
	TickIndex uint64
	Inputs    []InputRecord
}

// ReplaySubsystem records and plays back per-tick input frames. It holds
// no dispatch-order dependency on other subsystems; the product layer
// feeds recorded inputs into whichever subsystem operation they target
// before calling Tick (spec §4.15), so every input a frame carries is
// applied ahead of the tick it was recorded against.
type ReplaySubsystem struct {
	version uint32
	mode    ReplayMode
	frames  []Frame
	cursor  int
}

func NewReplaySubsystem() *ReplaySubsystem { return &ReplaySubsystem{version: 1, mode: ReplayIdle} }

func (s *ReplaySubsystem) ID() SubsystemID { return SubsystemReplay }
func (s *ReplaySubsystem) Name() string    { return "replay" }
func (s *ReplaySubsystem) Version() uint32 { return s.version }

func (s *ReplaySubsystem) RegisterModels(reg *ModelRegistry) error { return nil }
func (s *ReplaySubsystem) LoadProtos(cat *ContentCatalog) error    { return nil }
func (s *ReplaySubsystem) InitInstance(w *World) error             { return nil }
func (s *ReplaySubsystem) Tick(w *World, ticks uint32) error       { return nil }

// Mode returns the recorder's current mode.
func (s *ReplaySubsystem) Mode() ReplayMode { return s.mode }

// StartRecording clears any existing frames and begins capturing.
func (s *ReplaySubsystem) StartRecording() {
	s.mode = ReplayRecording
	s.frames = nil
	s.cursor = 0
}

// RecordInput appends a deep-copied input payload to the current tick's
// frame, creating the frame if this is its first input (spec §4.15).
func (s *ReplaySubsystem) RecordInput(tickIndex, playerID uint64, payload []byte) {
	if s.mode != ReplayRecording {
		return
	}
	cp := append([]byte(nil), payload...)
	rec := InputRecord{TickIndex: tickIndex, PlayerID: playerID, Payload: cp}
	if n := len(s.frames); n > 0 && s.frames[n-1].TickIndex == tickIndex {
		s.frames[n-1].Inputs = append(s.frames[n-1].Inputs, rec)
		return
	}
	s.frames = append(s.frames, Frame{TickIndex: tickIndex, Inputs: []InputRecord{rec}})
}

// StartPlayback resets the playback cursor to the first recorded frame.
func (s *ReplaySubsystem) StartPlayback() {
	s.mode = ReplayPlayback
	s.cursor = 0
}

// FrameAt looks up the frame for tickIndex. The search advances a
// monotonic cursor on sequential access and falls back to a linear scan
// otherwise (spec §4.15 "O(frames) with a cursor shortcut").
func (s *ReplaySubsystem) FrameAt(tickIndex uint64) (Frame, bool) {
	if s.cursor < len(s.frames) && s.frames[s.cursor].TickIndex == tickIndex {
		f := s.frames[s.cursor]
		s.cursor++
		return f, true
	}
	for i, f := range s.frames {
		if f.TickIndex == tickIndex {
			s.cursor = i + 1
			return f, true
		}
	}
	return Frame{}, false
}

// --- serialization ---

// Serialize encodes every frame as a TLV stream of {tag = FRAME, payload}
// records (spec §4.15).
func (s *ReplaySubsystem) Serialize() []byte {
	var wtr tlv.Writer
	for _, f := range s.frames {
		var fw tlv.Writer
		fw.Add(1, tlv.PutU64(f.TickIndex))
		fw.Add(2, tlv.PutU32(uint32(len(f.Inputs))))
		for _, in := range f.Inputs {
			var iw tlv.Writer
			iw.Add(1, tlv.PutU64(in.TickIndex))
			iw.Add(2, tlv.PutU64(in.PlayerID))
			iw.Add(3, tlv.PutU32(uint32(len(in.Payload))))
			iw.Add(4, in.Payload)
			fw.Add(3, iw.Bytes())
		}
		wtr.Add(tagFrame, fw.Bytes())
	}
	return wtr.Bytes()
}

// Deserialize reconstructs the frame list from a serialized stream and
// switches the recorder into Playback mode (spec §4.15).
func (s *ReplaySubsystem) Deserialize(data []byte) error {
	entries, err := tlv.Decode(data)
	if err != nil {
		return fmt.Errorf("replay: deserialize: %w", err)
	}
	var frames []Frame
	for _, e := range entries {
		if e.Tag != tagFrame {
			continue
		}
		fkv, err := tlv.Decode(e.Bytes)
		if err != nil {
			return fmt.Errorf("replay: deserialize: frame: %w", err)
		}
		f := Frame{}
		if b, ok := tlv.First(fkv, 1); ok {
			f.TickIndex, _ = tlv.GetU64(b)
		}
		for _, ie := range tlv.All(fkv, 3) {
			ikv, err := tlv.Decode(ie.Bytes)
			if err != nil {
				return fmt.Errorf("replay: deserialize: input: %w", err)
			}
			in := InputRecord{}
			if b, ok := tlv.First(ikv, 1); ok {
				in.TickIndex, _ = tlv.GetU64(b)
			}
			if b, ok := tlv.First(ikv, 2); ok {
				in.PlayerID, _ = tlv.GetU64(b)
			}
			if b, ok := tlv.First(ikv, 4); ok {
				in.Payload = append([]byte(nil), b...)
			}
			f.Inputs = append(f.Inputs, in)
		}
		frames = append(frames, f)
	}
	sort.Slice(frames, func(i, j int) bool { return frames[i].TickIndex < frames[j].TickIndex })
	s.frames = frames
	s.mode = ReplayPlayback
	s.cursor = 0
	return nil
}

func (s *ReplaySubsystem) SaveInstance(w *World) ([]byte, error) {
	return append(versionHeader(s.version), s.Serialize()...), nil
}

func (s *ReplaySubsystem) LoadInstance(w *World, data []byte) error {
	_, rest, err := readVersionHeader(data)
	if err != nil {
		return fmt.Errorf("replay: load_instance: %w", err)
	}
	return s.Deserialize(rest)
}

func (s *ReplaySubsystem) SaveChunk(w *World, ch *Chunk) ([]byte, error)    { return nil, nil }
func (s *ReplaySubsystem) LoadChunk(w *World, ch *Chunk, data []byte) error { return nil }
