package core

import (
	"testing"

	"github.com/Julesc013/dominium-sub002/fixed"
)

func TestHydrologyTransferMovesWaterDownhill(t *testing.T) {
	w := newTestWorld()
	s := NewHydrologySubsystem(nil)
	_ = s.InitInstance(w)

	ch, _ := w.GetOrCreateChunk(0, 0)
	cs := s.chunkCells(w, ch)
	cs.cells[cellIndex(0, 0)].Depth = fixed.Q16FromInt(100)
	cs.cells[cellIndex(1, 0)].Depth = 0

	if err := s.Tick(w, 1); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if cs.cells[cellIndex(0, 0)].Depth >= fixed.Q16FromInt(100) {
		t.Fatalf("expected source cell to lose depth, got %d", cs.cells[cellIndex(0, 0)].Depth)
	}
	if cs.cells[cellIndex(1, 0)].Depth <= 0 {
		t.Fatalf("expected neighbor cell to gain depth, got %d", cs.cells[cellIndex(1, 0)].Depth)
	}
}

func TestHydrologyDepthNeverNegative(t *testing.T) {
	w := newTestWorld()
	s := NewHydrologySubsystem(nil)
	_ = s.InitInstance(w)

	ch, _ := w.GetOrCreateChunk(0, 0)
	cs := s.chunkCells(w, ch)
	cs.cells[cellIndex(0, 0)].Depth = 0
	cs.cells[cellIndex(1, 0)].Depth = fixed.Q16FromInt(1000)

	for i := 0; i < 10; i++ {
		if err := s.Tick(w, 1); err != nil {
			t.Fatalf("tick: %v", err)
		}
	}

	for i := range cs.cells {
		if cs.cells[i].Depth < 0 {
			t.Fatalf("cell %d depth went negative: %d", i, cs.cells[i].Depth)
		}
	}
}

func TestHydrologySaveLoadChunkRoundTrip(t *testing.T) {
	w := newTestWorld()
	s := NewHydrologySubsystem(nil)
	_ = s.InitInstance(w)

	ch, _ := w.GetOrCreateChunk(0, 0)
	cs := s.chunkCells(w, ch)
	cs.cells[cellIndex(2, 3)].Depth = fixed.Q16FromInt(55)
	cs.cells[cellIndex(2, 3)].SurfaceHeight = fixed.Q16FromInt(7)

	blob, err := s.SaveChunk(w, ch)
	if err != nil {
		t.Fatalf("save chunk: %v", err)
	}

	w2 := newTestWorld()
	s2 := NewHydrologySubsystem(nil)
	_ = s2.InitInstance(w2)
	ch2, _ := w2.GetOrCreateChunk(0, 0)
	if err := s2.LoadChunk(w2, ch2, blob); err != nil {
		t.Fatalf("load chunk: %v", err)
	}
	cs2 := s2.chunkCells(w2, ch2)
	if cs2.cells[cellIndex(2, 3)].Depth != fixed.Q16FromInt(55) {
		t.Fatalf("restored depth = %d, want 55", cs2.cells[cellIndex(2, 3)].Depth)
	}
	if cs2.cells[cellIndex(2, 3)].SurfaceHeight != fixed.Q16FromInt(7) {
		t.Fatalf("restored surface height = %d, want 7", cs2.cells[cellIndex(2, 3)].SurfaceHeight)
	}
}
