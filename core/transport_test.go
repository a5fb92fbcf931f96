package core

import (
	"testing"

	"github.com/Julesc013/dominium-sub002/fixed"
	"github.com/Julesc013/dominium-sub002/tlv"
)

func encodeSplineProfile(id uint64, kind MoverKind, speed, maxGrade fixed.Q16, isSource bool) []byte {
	var kv tlv.Writer
	kv.Add(KVTagID, tlv.PutU64(id))
	kv.Add(FieldSplineProfileKind, tlv.PutU32(uint32(kind)))
	kv.Add(FieldSplineProfileSpeed, tlv.PutI32(int32(speed)))
	kv.Add(FieldSplineProfileMaxGrade, tlv.PutI32(int32(maxGrade)))
	src := uint32(0)
	if isSource {
		src = 1
	}
	kv.Add(FieldSplineProfileIsSource, tlv.PutU32(src))
	payload := kv.Bytes()

	var rec tlv.Writer
	rec.AddRecord(uint32(ProtoSplineProfile), id, payload)
	return rec.Bytes()
}

func straightNodes(length int32) []SplineNode {
	return []SplineNode{
		{X: 0, Y: 0, Z: 0},
		{X: fixed.Q32FromInt(length), Y: 0, Z: 0},
	}
}

func TestTransportCreateSplineComputesLength(t *testing.T) {
	w := newTestWorld()
	s := NewTransportSubsystem(nil)
	_ = s.InitInstance(w)

	id, err := s.CreateSpline(w, 1, 0, straightNodes(10), Endpoint{}, Endpoint{})
	if err != nil {
		t.Fatalf("create spline: %v", err)
	}
	st := s.state(w)
	sp, ok := st.splines.Get(id)
	if !ok {
		t.Fatalf("spline not found")
	}
	if sp.Length != fixed.Q16FromInt(10) {
		t.Fatalf("length = %d, want 10.0", sp.Length)
	}
}

func TestTransportSampleAtInterpolates(t *testing.T) {
	w := newTestWorld()
	s := NewTransportSubsystem(nil)
	_ = s.InitInstance(w)

	id, _ := s.CreateSpline(w, 1, 0, straightNodes(10), Endpoint{}, Endpoint{})
	node, ok := s.SampleAt(w, id, fixed.Q16FromInt(1)/2)
	if !ok {
		t.Fatalf("expected sample to succeed")
	}
	mid := fixed.Q32FromInt(5)
	if node.X < mid-fixed.Q32(1<<10) || node.X > mid+fixed.Q32(1<<10) {
		t.Fatalf("midpoint X = %d, want close to %d", node.X, mid)
	}
}

func TestTransportTickDeliversItemToDestination(t *testing.T) {
	w := newTestWorld()
	one := int32(fixed.Q16FromInt(1))
	if err := w.Catalog.LoadContent(encodeProcessProto(1, one, 100, 200, one, one)); err != nil {
		t.Fatalf("load process: %v", err)
	}
	if err := w.Catalog.LoadContent(encodeStructureProto(1, 1)); err != nil {
		t.Fatalf("load structure proto: %v", err)
	}
	if err := w.Catalog.LoadContent(encodeSplineProfile(1, MoverItem, fixed.Q16FromInt(1000), fixed.Q16FromInt(1), false)); err != nil {
		t.Fatalf("load spline profile: %v", err)
	}

	structs := NewStructureSubsystem(nil, nil, nil, nil, nil)
	_ = structs.InitInstance(w)
	dstID, _ := structs.Create(w, 1, 1, 0, 0, 0)

	s := NewTransportSubsystem(structs)
	_ = s.InitInstance(w)

	splineID, _ := s.CreateSpline(w, 1, 0, straightNodes(1), Endpoint{}, Endpoint{EID: dstID, PortKind: PortStructure})
	st := s.state(w)
	_, _, err := st.movers.Create(func(id ID) Mover {
		return Mover{ID: id, Kind: MoverItem, SplineID: splineID, Param: 0, PayloadID: 100, PayloadCount: 1}
	})
	if err != nil {
		t.Fatalf("create mover: %v", err)
	}

	for i := 0; i < 5; i++ {
		if err := s.Tick(w, 1); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}

	dst, _ := structs.Get(w, dstID)
	if dst.InvIn.Available(100) == 0 && dst.InvOut.Available(100) == 0 {
		t.Fatalf("expected delivered item to land in destination structure")
	}
	if st.movers.Count() != 0 {
		t.Fatalf("expected mover to be removed after delivery, count=%d", st.movers.Count())
	}
}

func TestTransportSaveLoadInstanceRoundTrip(t *testing.T) {
	w := newTestWorld()
	s := NewTransportSubsystem(nil)
	_ = s.InitInstance(w)
	splineID, _ := s.CreateSpline(w, 7, 0, straightNodes(4), Endpoint{}, Endpoint{})
	st := s.state(w)
	_, _, _ = st.movers.Create(func(id ID) Mover {
		return Mover{ID: id, Kind: MoverItem, SplineID: splineID, Param: fixed.Q16FromInt(1) / 4}
	})

	blob, err := s.SaveInstance(w)
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	w2 := newTestWorld()
	s2 := NewTransportSubsystem(nil)
	_ = s2.InitInstance(w2)
	if err := s2.LoadInstance(w2, blob); err != nil {
		t.Fatalf("load: %v", err)
	}
	st2 := s2.state(w2)
	sp, ok := st2.splines.Get(splineID)
	if !ok || sp.Length != fixed.Q16FromInt(4) {
		t.Fatalf("restored spline mismatch: ok=%v sp=%+v", ok, sp)
	}
	if st2.movers.Count() != 1 {
		t.Fatalf("restored mover count = %d, want 1", st2.movers.Count())
	}
}
