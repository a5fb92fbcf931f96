package core

import (
	"testing"

	"github.com/Julesc013/dominium-sub002/tlv"
)

func encodeMaterialProto(id uint64, extra uint32) []byte {
	var kv tlv.Writer
	kv.Add(KVTagID, tlv.PutU64(id))
	kv.Add(2, tlv.PutU32(extra))
	payload := kv.Bytes()

	var rec tlv.Writer
	rec.AddRecord(uint32(ProtoMaterial), id, payload)
	return rec.Bytes()
}

func TestContentCatalogLoadAndGet(t *testing.T) {
	c := NewContentCatalog()
	if err := c.LoadContent(encodeMaterialProto(1, 100)); err != nil {
		t.Fatalf("load: %v", err)
	}
	p, ok := c.Get(ProtoMaterial, 1)
	if !ok {
		t.Fatalf("expected proto 1 to be present")
	}
	b, ok := p.Field(2)
	if !ok {
		t.Fatalf("expected field 2 on proto 1")
	}
	v, err := tlv.GetU32(b)
	if err != nil || v != 100 {
		t.Fatalf("field 2 = (%d, %v), want (100, nil)", v, err)
	}
}

func TestContentCatalogLaterPackOverrides(t *testing.T) {
	c := NewContentCatalog()
	if err := c.LoadContent(encodeMaterialProto(1, 100)); err != nil {
		t.Fatalf("load first: %v", err)
	}
	if err := c.LoadContent(encodeMaterialProto(1, 200)); err != nil {
		t.Fatalf("load second: %v", err)
	}
	p, ok := c.Get(ProtoMaterial, 1)
	if !ok {
		t.Fatalf("expected proto 1 to be present")
	}
	b, _ := p.Field(2)
	v, _ := tlv.GetU32(b)
	if v != 200 {
		t.Fatalf("field 2 = %d, want 200 (later pack must override)", v)
	}
}

func TestContentCatalogRejectsSentinelID(t *testing.T) {
	c := NewContentCatalog()
	if err := c.LoadContent(encodeMaterialProto(0, 1)); err == nil {
		t.Fatalf("expected sentinel id 0 to be rejected")
	}
}

func TestContentCatalogAllIDsSorted(t *testing.T) {
	c := NewContentCatalog()
	var rec tlv.Writer
	for _, id := range []uint64{5, 1, 3} {
		var kv tlv.Writer
		kv.Add(KVTagID, tlv.PutU64(id))
		rec.AddRecord(uint32(ProtoMaterial), id, kv.Bytes())
	}
	if err := c.LoadContent(rec.Bytes()); err != nil {
		t.Fatalf("load: %v", err)
	}
	ids := c.AllIDs(ProtoMaterial)
	want := []ID{1, 3, 5}
	if len(ids) != len(want) {
		t.Fatalf("AllIDs length = %d, want %d", len(ids), len(want))
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("AllIDs[%d] = %d, want %d", i, ids[i], want[i])
		}
	}
}
