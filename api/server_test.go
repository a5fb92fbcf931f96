package api

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/Julesc013/dominium-sub002/core"
)

func newTestServer(t *testing.T) (*Server, *core.Engine, *core.World) {
	t.Helper()
	engine, err := core.NewEngine()
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	w, err := engine.CreateWorld(1)
	if err != nil {
		t.Fatalf("create world: %v", err)
	}
	s := NewServer(":0", engine)
	s.RegisterWorld(1, w)
	return s, engine, w
}

func TestHandleTickReturnsCurrentTick(t *testing.T) {
	s, engine, w := newTestServer(t)
	if err := engine.Advance(w, 3); err != nil {
		t.Fatalf("advance: %v", err)
	}

	req := httptest.NewRequest("GET", "/worlds/1/tick", nil)
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)

	if rr.Code != 200 {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var body map[string]uint64
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["tick"] != 3 {
		t.Fatalf("tick = %d, want 3", body["tick"])
	}
}

func TestHandleTickUnknownWorldReturns404(t *testing.T) {
	s, _, _ := newTestServer(t)
	req := httptest.NewRequest("GET", "/worlds/999/tick", nil)
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	if rr.Code != 404 {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestHandleJobsListsCreatedJobs(t *testing.T) {
	s, engine, w := newTestServer(t)
	orgID, _ := engine.OrgAccount.CreateOrg(w, 0, 0)
	_, err := engine.Job.CreateJob(w, 1, orgID)
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	req := httptest.NewRequest("GET", "/worlds/1/jobs", nil)
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)

	var jobs []core.Job
	if err := json.Unmarshal(rr.Body.Bytes(), &jobs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("jobs count = %d, want 1", len(jobs))
	}
}

func TestHandleChunksReportsCount(t *testing.T) {
	s, _, w := newTestServer(t)
	if _, err := w.GetOrCreateChunk(0, 0); err != nil {
		t.Fatalf("get or create chunk: %v", err)
	}

	req := httptest.NewRequest("GET", "/worlds/1/chunks", nil)
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)

	var body map[string]int
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["count"] != 1 {
		t.Fatalf("count = %d, want 1", body["count"])
	}
}
