package core

import "testing"

func TestArenaCreateGetDelete(t *testing.T) {
	a := NewArena[int]("test", 0)
	id, v, err := a.Create(func(id ID) int { return int(id) * 10 })
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if *v != int(id)*10 {
		t.Fatalf("got %d, want %d", *v, int(id)*10)
	}
	if got, ok := a.Get(id); !ok || *got != *v {
		t.Fatalf("get mismatch: %v %v", got, ok)
	}
	a.Delete(id)
	if _, ok := a.Get(id); ok {
		t.Fatalf("expected id %d to be gone after delete", id)
	}
}

func TestArenaCapacity(t *testing.T) {
	a := NewArena[int]("capped", 2)
	if _, _, err := a.Create(func(id ID) int { return 1 }); err != nil {
		t.Fatalf("create 1: %v", err)
	}
	if _, _, err := a.Create(func(id ID) int { return 2 }); err != nil {
		t.Fatalf("create 2: %v", err)
	}
	if _, _, err := a.Create(func(id ID) int { return 3 }); err == nil {
		t.Fatalf("expected capacity error on third create")
	}
}

func TestArenaSortedIDsAndByIndex(t *testing.T) {
	a := NewArena[string]("ordered", 0)
	a.Restore(5, "five")
	a.Restore(1, "one")
	a.Restore(3, "three")

	ids := a.SortedIDs()
	want := []ID{1, 3, 5}
	for i, id := range want {
		if ids[i] != id {
			t.Fatalf("SortedIDs[%d] = %d, want %d", i, ids[i], id)
		}
	}

	id, v, ok := a.GetByIndex(1)
	if !ok || id != 3 || *v != "three" {
		t.Fatalf("GetByIndex(1) = (%d, %v, %v), want (3, three, true)", id, *v, ok)
	}
	if _, _, ok := a.GetByIndex(10); ok {
		t.Fatalf("GetByIndex out of range should report false")
	}
}

func TestArenaRestoreAdvancesNextID(t *testing.T) {
	a := NewArena[int]("restored", 0)
	a.Restore(7, 42)
	id, _, err := a.Create(func(id ID) int { return int(id) })
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id <= 7 {
		t.Fatalf("next allocated id %d must exceed restored id 7", id)
	}
}

func TestArenaReset(t *testing.T) {
	a := NewArena[int]("reset", 0)
	a.Restore(9, 1)
	a.Reset()
	if a.Count() != 0 {
		t.Fatalf("count after reset = %d, want 0", a.Count())
	}
	id, _, err := a.Create(func(id ID) int { return 0 })
	if err != nil {
		t.Fatalf("create after reset: %v", err)
	}
	if id != 1 {
		t.Fatalf("first id after reset = %d, want 1", id)
	}
}
