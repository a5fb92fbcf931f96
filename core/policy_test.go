package core

import (
	"testing"

	"github.com/Julesc013/dominium-sub002/fixed"
	"github.com/Julesc013/dominium-sub002/tlv"
)

func encodePolicyRule(id uint64, subjectKind PolicySubjectKind, allowed bool, multiplier fixed.Q16) []byte {
	var kv tlv.Writer
	kv.Add(KVTagID, tlv.PutU64(id))
	kv.Add(FieldPolicySubjectKind, tlv.PutU32(uint32(subjectKind)))
	allowedU32 := uint32(0)
	if allowed {
		allowedU32 = 1
	}
	kv.Add(FieldPolicyAllowed, tlv.PutU32(allowedU32))
	kv.Add(FieldPolicyMultiplier, tlv.PutI32(int32(multiplier)))
	payload := kv.Bytes()

	var rec tlv.Writer
	rec.AddRecord(uint32(ProtoPolicyRule), id, payload)
	return rec.Bytes()
}

func TestPolicyResolveDefaultAllowsWithUnitMultiplier(t *testing.T) {
	w := newTestWorld()
	s := NewPolicySubsystem(nil)
	result := s.Resolve(w, PolicySubjectProcess, 1, 0, 1)
	if !result.Allowed {
		t.Fatalf("expected default allow with no rules")
	}
	if result.Multiplier != fixed.Q16FromInt(1) {
		t.Fatalf("multiplier = %d, want 1.0", result.Multiplier)
	}
}

func TestPolicyResolveDenyShortCircuits(t *testing.T) {
	w := newTestWorld()
	if err := w.Catalog.LoadContent(encodePolicyRule(1, PolicySubjectProcess, false, fixed.Q16FromInt(1))); err != nil {
		t.Fatalf("load content: %v", err)
	}
	if err := w.Catalog.LoadContent(encodePolicyRule(2, PolicySubjectProcess, true, fixed.Q16FromInt(2))); err != nil {
		t.Fatalf("load content: %v", err)
	}
	s := NewPolicySubsystem(nil)
	result := s.Resolve(w, PolicySubjectProcess, 1, 0, 1)
	if result.Allowed {
		t.Fatalf("expected a deny rule to short-circuit to not-allowed")
	}
}

func TestPolicyResolveMultipliersCompose(t *testing.T) {
	w := newTestWorld()
	if err := w.Catalog.LoadContent(encodePolicyRule(1, PolicySubjectJob, true, fixed.Q16FromInt(2))); err != nil {
		t.Fatalf("load content: %v", err)
	}
	s := NewPolicySubsystem(nil)
	result := s.Resolve(w, PolicySubjectJob, 1, 0, 1)
	if !result.Allowed {
		t.Fatalf("expected allow")
	}
	if result.Multiplier != fixed.Q16FromInt(2) {
		t.Fatalf("multiplier = %d, want 2.0", result.Multiplier)
	}
}

func TestPolicyResolveScopeMismatchIgnoresRule(t *testing.T) {
	w := newTestWorld()
	if err := w.Catalog.LoadContent(encodePolicyRule(1, PolicySubjectJob, false, fixed.Q16FromInt(1))); err != nil {
		t.Fatalf("load content: %v", err)
	}
	s := NewPolicySubsystem(nil)
	result := s.Resolve(w, PolicySubjectProcess, 1, 0, 1)
	if !result.Allowed {
		t.Fatalf("expected a job-scoped deny rule not to affect a process-scoped resolve")
	}
}
