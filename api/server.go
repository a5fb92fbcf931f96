// Package api exposes a read-only HTTP query surface over live worlds,
// implementing the engine's "query iterators" operation (spec §6) for
// external tooling (dashboards, inspectors) without granting write access
// to simulation state.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Julesc013/dominium-sub002/core"
)

// Server exposes registered worlds over a small read-only HTTP API.
type Server struct {
	engine *core.Engine

	mu     sync.RWMutex
	worlds map[uint64]*core.World

	router     chi.Router
	httpServer *http.Server
}

// NewServer constructs the router and HTTP server bound to engine.
func NewServer(addr string, engine *core.Engine) *Server {
	s := &Server{
		engine: engine,
		worlds: make(map[uint64]*core.World),
		router: chi.NewRouter(),
	}
	s.routes()
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}
	return s
}

// RegisterWorld makes w queryable under its seed.
func (s *Server) RegisterWorld(seed uint64, w *core.World) {
	s.mu.Lock()
	s.worlds[seed] = w
	s.mu.Unlock()
}

// UnregisterWorld removes a world from the queryable set.
func (s *Server) UnregisterWorld(seed uint64) {
	s.mu.Lock()
	delete(s.worlds, seed)
	s.mu.Unlock()
}

func (s *Server) Start() error { return s.httpServer.ListenAndServe() }

func (s *Server) world(seed uint64) (*core.World, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.worlds[seed]
	return w, ok
}

func (s *Server) routes() {
	s.router.Use(middleware.Logger)
	s.router.Get("/worlds", s.handleWorlds)
	s.router.Get("/worlds/{seed}/tick", s.handleTick)
	s.router.Get("/worlds/{seed}/chunks", s.handleChunks)
	s.router.Get("/worlds/{seed}/jobs", s.handleJobs)
	s.router.Get("/worlds/{seed}/jobs/{id}", s.handleJob)
	s.router.Get("/worlds/{seed}/agents", s.handleAgents)
	s.router.Get("/worlds/{seed}/orgs", s.handleOrgs)
	s.router.Get("/worlds/{seed}/structures", s.handleStructures)
}

func seedFromRequest(r *http.Request) (uint64, error) {
	return strconv.ParseUint(chi.URLParam(r, "seed"), 10, 64)
}

func (s *Server) handleWorlds(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seeds := make([]uint64, 0, len(s.worlds))
	for seed := range s.worlds {
		seeds = append(seeds, seed)
	}
	writeJSON(w, seeds)
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	seed, err := seedFromRequest(r)
	if err != nil {
		http.Error(w, "bad seed", http.StatusBadRequest)
		return
	}
	wd, ok := s.world(seed)
	if !ok {
		http.Error(w, "world not found", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]uint64{"tick": wd.Tick()})
}

func (s *Server) handleChunks(w http.ResponseWriter, r *http.Request) {
	seed, err := seedFromRequest(r)
	if err != nil {
		http.Error(w, "bad seed", http.StatusBadRequest)
		return
	}
	wd, ok := s.world(seed)
	if !ok {
		http.Error(w, "world not found", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]int{"count": wd.ChunkCount()})
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	seed, err := seedFromRequest(r)
	if err != nil {
		http.Error(w, "bad seed", http.StatusBadRequest)
		return
	}
	wd, ok := s.world(seed)
	if !ok {
		http.Error(w, "world not found", http.StatusNotFound)
		return
	}
	n := s.engine.Job.JobCount(wd)
	out := make([]*core.Job, 0, n)
	for i := 0; i < n; i++ {
		if _, job, ok := s.engine.Job.JobByIndex(wd, i); ok {
			out = append(out, job)
		}
	}
	writeJSON(w, out)
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	seed, err := seedFromRequest(r)
	if err != nil {
		http.Error(w, "bad seed", http.StatusBadRequest)
		return
	}
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "bad id", http.StatusBadRequest)
		return
	}
	wd, ok := s.world(seed)
	if !ok {
		http.Error(w, "world not found", http.StatusNotFound)
		return
	}
	job, ok := s.engine.Job.Job(wd, core.ID(id))
	if !ok {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, job)
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	seed, err := seedFromRequest(r)
	if err != nil {
		http.Error(w, "bad seed", http.StatusBadRequest)
		return
	}
	wd, ok := s.world(seed)
	if !ok {
		http.Error(w, "world not found", http.StatusNotFound)
		return
	}
	n := s.engine.Job.AgentCount(wd)
	out := make([]*core.Agent, 0, n)
	for i := 0; i < n; i++ {
		if _, agent, ok := s.engine.Job.AgentByIndex(wd, i); ok {
			out = append(out, agent)
		}
	}
	writeJSON(w, out)
}

func (s *Server) handleOrgs(w http.ResponseWriter, r *http.Request) {
	seed, err := seedFromRequest(r)
	if err != nil {
		http.Error(w, "bad seed", http.StatusBadRequest)
		return
	}
	wd, ok := s.world(seed)
	if !ok {
		http.Error(w, "world not found", http.StatusNotFound)
		return
	}
	n := s.engine.OrgAccount.OrgCount(wd)
	out := make([]*core.Org, 0, n)
	for i := 0; i < n; i++ {
		if _, org, ok := s.engine.OrgAccount.OrgByIndex(wd, i); ok {
			out = append(out, org)
		}
	}
	writeJSON(w, out)
}

func (s *Server) handleStructures(w http.ResponseWriter, r *http.Request) {
	seed, err := seedFromRequest(r)
	if err != nil {
		http.Error(w, "bad seed", http.StatusBadRequest)
		return
	}
	wd, ok := s.world(seed)
	if !ok {
		http.Error(w, "world not found", http.StatusNotFound)
		return
	}
	n := s.engine.Structure.Count(wd)
	out := make([]*core.Structure, 0, n)
	for i := 0; i < n; i++ {
		if _, strct, ok := s.engine.Structure.ByIndex(wd, i); ok {
			out = append(out, strct)
		}
	}
	writeJSON(w, out)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	_ = enc.Encode(v)
}
