package core

import (
	"fmt"

	"github.com/Julesc013/dominium-sub002/fixed"
	"github.com/Julesc013/dominium-sub002/tlv"
)

// JobState enumerates a job record's lifecycle (spec §4.10).
type JobState uint32

const (
	JobPending JobState = iota + 1
	JobAssigned
	JobRunning
	JobCompleted
	JobCancelled
)

// Agent flag bits (spec §4.10).
const (
	AgentFlagMoving uint32 = 1 << iota
	AgentFlagExecuting
	AgentFlagIdle
)

// Job template field tags (ProtoJobTemplate payload).
const (
	FieldJobTmplPurpose      uint32 = 10 // u32, 0 = generic, 1 = Operate-Process
	FieldJobTmplDuration     uint32 = 11 // Q16
	FieldJobTmplAgentTags    uint32 = 12 // u64, required capability tag mask
	FieldJobTmplRewardAmount uint32 = 13 // Q32, credited to the owner org's account on completion
	FieldJobTmplYield        uint32 = 14 // repeated: {kind u32, amount Q32}
)

const jobPurposeOperateProcess uint32 = 1

// Job is a unit of dispatchable work (spec §4.3).
type Job struct {
	ID              ID
	TemplateID      ID
	State           JobState
	AssignedAgent   ID
	TargetStructEID ID
	TargetSplineID  ID
	TargetX         fixed.Q32
	TargetY         fixed.Q32
	TargetZ         fixed.Q32
	Progress        fixed.Q16
	OwnerOrg        ID
	rewarded        bool
}

// AgentCaps describes an agent's movement and task eligibility (spec
// §4.3).
type AgentCaps struct {
	TagMask      uint64
	MaxSpeed     fixed.Q32
	MaxCarryMass fixed.Q16
}

// Agent is a mobile job executor (spec §4.3).
type Agent struct {
	ID         ID
	OwnerEID   ID
	OwnerOrg   ID
	Caps       AgentCaps
	CurrentJob ID
	PosX       fixed.Q32
	PosY       fixed.Q32
	PosZ       fixed.Q32
	Flags      uint32
}

type jobWorldState struct {
	jobs   *Arena[Job]
	agents *Arena[Agent]
}

// JobSubsystem implements spec §4.10: job FSM, planner, agent runner, and
// capability matcher.
type JobSubsystem struct {
	version  uint32
	orgs     *OrgAccountSubsystem
	research *ResearchSubsystem
}

// NewJobSubsystem wires the job subsystem to the subsystems it drives on
// job completion: account crediting and research yield routing.
func NewJobSubsystem(orgs *OrgAccountSubsystem, research *ResearchSubsystem) *JobSubsystem {
	return &JobSubsystem{version: 1, orgs: orgs, research: research}
}

func (s *JobSubsystem) ID() SubsystemID { return SubsystemJob }
func (s *JobSubsystem) Name() string    { return "job" }
func (s *JobSubsystem) Version() uint32 { return s.version }

func (s *JobSubsystem) RegisterModels(reg *ModelRegistry) error { return nil }
func (s *JobSubsystem) LoadProtos(cat *ContentCatalog) error    { return nil }

func (s *JobSubsystem) state(w *World) *jobWorldState {
	return w.Side(SubsystemJob, func() any {
		return &jobWorldState{
			jobs:   NewArena[Job]("job.jobs", 0),
			agents: NewArena[Agent]("job.agents", 0),
		}
	}).(*jobWorldState)
}

func (s *JobSubsystem) InitInstance(w *World) error {
	s.state(w)
	return nil
}

// CreateJob enqueues a new Pending job against templateID.
func (s *JobSubsystem) CreateJob(w *World, templateID, ownerOrg ID) (ID, error) {
	st := s.state(w)
	id, _, err := st.jobs.Create(func(id ID) Job {
		return Job{ID: id, TemplateID: templateID, State: JobPending, OwnerOrg: ownerOrg}
	})
	if err != nil {
		return 0, fmt.Errorf("job: create_job: %w", err)
	}
	return id, nil
}

// CreateAgent registers a new idle agent.
func (s *JobSubsystem) CreateAgent(w *World, ownerEID, ownerOrg ID, caps AgentCaps) (ID, error) {
	st := s.state(w)
	id, _, err := st.agents.Create(func(id ID) Agent {
		return Agent{ID: id, OwnerEID: ownerEID, OwnerOrg: ownerOrg, Caps: caps, Flags: AgentFlagIdle}
	})
	if err != nil {
		return 0, fmt.Errorf("job: create_agent: %w", err)
	}
	return id, nil
}

func (s *JobSubsystem) Job(w *World, id ID) (*Job, bool)     { return s.state(w).jobs.Get(id) }
func (s *JobSubsystem) Agent(w *World, id ID) (*Agent, bool) { return s.state(w).agents.Get(id) }

// JobCount and JobByIndex implement the engine's query iterator surface
// (spec §6 "count + get-by-index, returning items sorted by id").
func (s *JobSubsystem) JobCount(w *World) int { return s.state(w).jobs.Count() }
func (s *JobSubsystem) JobByIndex(w *World, i int) (ID, *Job, bool) {
	return s.state(w).jobs.GetByIndex(i)
}

// AgentCount and AgentByIndex implement the same query iterator surface
// for agents.
func (s *JobSubsystem) AgentCount(w *World) int { return s.state(w).agents.Count() }
func (s *JobSubsystem) AgentByIndex(w *World, i int) (ID, *Agent, bool) {
	return s.state(w).agents.GetByIndex(i)
}

// HasRunningOperator reports whether a Running job targeting structEID
// exists, used by the process runner to decide whether a machine is idle
// for lack of an operator (spec §4.8 step 3).
func (s *JobSubsystem) HasRunningOperator(w *World, structEID ID) bool {
	st := s.state(w)
	for _, id := range st.jobs.SortedIDs() {
		j, _ := st.jobs.Get(id)
		if j.TargetStructEID == structEID && j.State == JobRunning {
			return true
		}
	}
	return false
}

// EnsureOperatorJob creates an operator job from the first Operate-Process
// job template referencing procProto if no open job targets strct already
// (spec §4.8 step 3).
func (s *JobSubsystem) EnsureOperatorJob(w *World, strct *Structure, procProto *Proto) {
	st := s.state(w)
	for _, id := range st.jobs.SortedIDs() {
		j, _ := st.jobs.Get(id)
		if j.TargetStructEID == strct.ID && j.State != JobCompleted && j.State != JobCancelled {
			return
		}
	}
	for _, tid := range w.Catalog.AllIDs(ProtoJobTemplate) {
		tmpl, ok := w.Catalog.Get(ProtoJobTemplate, tid)
		if !ok || !isOperateProcessTemplate(tmpl) {
			continue
		}
		id, err := s.CreateJob(w, tid, strct.OwnerOrg)
		if err != nil {
			return
		}
		j, _ := st.jobs.Get(id)
		j.TargetStructEID = strct.ID
		return
	}
}

func isOperateProcessTemplate(p *Proto) bool {
	b, ok := p.Field(FieldJobTmplPurpose)
	if !ok {
		return false
	}
	v, _ := tlv.GetU32(b)
	return v == jobPurposeOperateProcess
}

func requiredTagsOf(p *Proto) uint64 {
	if b, ok := p.Field(FieldJobTmplAgentTags); ok {
		v, _ := tlv.GetU64(b)
		return v
	}
	return 0
}

func templateDurationOf(p *Proto) fixed.Q16 {
	if b, ok := p.Field(FieldJobTmplDuration); ok {
		v, _ := tlv.GetI32(b)
		return fixed.Q16(v)
	}
	return fixed.Q16FromInt(1)
}

// Tick runs the planner then the agent runner, in that order, each over
// sorted-id enumerations (spec §4.10).
func (s *JobSubsystem) Tick(w *World, ticks uint32) error {
	s.plan(w)
	s.runAgents(w, ticks)
	return nil
}

// plan assigns pending jobs to idle, capability-matching agents (spec
// §4.10 "Planner").
func (s *JobSubsystem) plan(w *World) {
	st := s.state(w)

	pool := make(map[ID]bool)
	for _, id := range st.agents.SortedIDs() {
		a, _ := st.agents.Get(id)
		if a.CurrentJob == 0 {
			pool[id] = true
		}
	}

	for _, jid := range st.jobs.SortedIDs() {
		j, _ := st.jobs.Get(jid)
		if j.State != JobPending {
			continue
		}
		tmpl, ok := w.Catalog.Get(ProtoJobTemplate, j.TemplateID)
		if !ok {
			j.State = JobCancelled
			continue
		}
		required := requiredTagsOf(tmpl)
		for _, aid := range st.agents.SortedIDs() {
			if !pool[aid] {
				continue
			}
			a, _ := st.agents.Get(aid)
			if a.Caps.TagMask&required != required {
				continue
			}
			j.State = JobAssigned
			j.AssignedAgent = aid
			j.Progress = 0
			a.CurrentJob = jid
			a.Flags = AgentFlagMoving
			delete(pool, aid)
			break
		}
	}
}

// runAgents advances each agent's movement and, for non-operator jobs,
// progress (spec §4.10 "Agent runner").
func (s *JobSubsystem) runAgents(w *World, ticks uint32) {
	st := s.state(w)
	tf := fixed.Q32FromInt(int32(ticks))

	for _, aid := range st.agents.SortedIDs() {
		a, _ := st.agents.Get(aid)
		if a.CurrentJob == 0 {
			continue
		}
		j, ok := st.jobs.Get(a.CurrentJob)
		if !ok || j.State == JobCompleted || j.State == JobCancelled {
			a.CurrentJob = 0
			a.Flags = AgentFlagIdle
			continue
		}

		targetX, targetY, targetZ := s.resolveTarget(w, j)
		maxStep := a.Caps.MaxSpeed.Mul(tf)
		remaining := maxStep
		a.PosX, remaining = stepAxis(a.PosX, targetX, remaining)
		a.PosY, remaining = stepAxis(a.PosY, targetY, remaining)
		a.PosZ, remaining = stepAxis(a.PosZ, targetZ, remaining)

		if a.PosX == targetX && a.PosY == targetY && a.PosZ == targetZ {
			a.Flags = AgentFlagExecuting
		}

		if j.State == JobAssigned {
			j.State = JobRunning
			j.Progress = 0
		}

		tmpl, ok := w.Catalog.Get(ProtoJobTemplate, j.TemplateID)
		if !ok {
			continue
		}
		if isOperateProcessTemplate(tmpl) {
			continue
		}

		j.Progress = j.Progress.Add(fixed.Q16FromInt(int32(ticks)))
		duration := templateDurationOf(tmpl)
		if j.Progress >= duration && j.State == JobRunning {
			j.State = JobCompleted
			a.CurrentJob = 0
			a.Flags = AgentFlagIdle
			s.reward(w, j, tmpl)
		}
	}
}

func stepAxis(pos, target, remaining fixed.Q32) (fixed.Q32, fixed.Q32) {
	if remaining <= 0 || pos == target {
		return pos, remaining
	}
	diff := target.Sub(pos)
	abs := diff
	if abs < 0 {
		abs = -abs
	}
	if abs <= remaining {
		return target, remaining.Sub(abs)
	}
	if diff > 0 {
		return pos.Add(remaining), 0
	}
	return pos.Sub(remaining), 0
}

// resolveTarget returns a job's navigation target: its stored
// TargetX/Y/Z coordinates. TargetStructEID and TargetSplineID are not
// consulted, and nothing copies a structure's position or a spline sample
// into these fields, so the agent runner steps toward the stored
// coordinates only.
func (s *JobSubsystem) resolveTarget(w *World, j *Job) (fixed.Q32, fixed.Q32, fixed.Q32) {
	return j.TargetX, j.TargetY, j.TargetZ
}

// reward pays the job template's fixed reward and routes its research
// yields to the owner org exactly once, on first entering Completed (spec
// §4.10 "Job FSM").
func (s *JobSubsystem) reward(w *World, j *Job, tmpl *Proto) {
	if j.rewarded {
		return
	}
	j.rewarded = true
	if s.orgs != nil {
		if b, ok := tmpl.Field(FieldJobTmplRewardAmount); ok {
			v, _ := tlv.GetI64(b)
			if amt := fixed.Q32(v); amt > 0 {
				if org, ok := s.orgs.Org(w, j.OwnerOrg); ok {
					_ = s.orgs.Credit(w, org.AccountID, amt)
				}
			}
		}
	}
	if s.research != nil {
		for _, e := range tlv.All(tmpl.Fields, FieldJobTmplYield) {
			kv, err := tlv.Decode(e.Bytes)
			if err != nil {
				continue
			}
			var y Yield
			if b, ok := tlv.First(kv, 1); ok {
				y.Kind, _ = tlv.GetU32(b)
			}
			if b, ok := tlv.First(kv, 2); ok {
				v, _ := tlv.GetI64(b)
				y.Amount = fixed.Q32(v)
			}
			_ = s.research.RouteYield(w, j.OwnerOrg, y, requiredTagsOf(tmpl))
		}
	}
}

// --- serialization ---

func (s *JobSubsystem) SaveInstance(w *World) ([]byte, error) {
	st := s.state(w)
	var wtr tlv.Writer
	for _, id := range st.jobs.SortedIDs() {
		j, _ := st.jobs.Get(id)
		var jw tlv.Writer
		jw.Add(1, tlv.PutU64(uint64(j.ID)))
		jw.Add(2, tlv.PutU64(uint64(j.TemplateID)))
		jw.Add(3, tlv.PutU32(uint32(j.State)))
		jw.Add(4, tlv.PutU64(uint64(j.AssignedAgent)))
		jw.Add(5, tlv.PutU64(uint64(j.TargetStructEID)))
		jw.Add(6, tlv.PutU64(uint64(j.TargetSplineID)))
		jw.Add(7, tlv.PutI64(int64(j.TargetX)))
		jw.Add(8, tlv.PutI64(int64(j.TargetY)))
		jw.Add(9, tlv.PutI64(int64(j.TargetZ)))
		jw.Add(10, tlv.PutI32(int32(j.Progress)))
		jw.Add(11, tlv.PutU64(uint64(j.OwnerOrg)))
		rewarded := uint32(0)
		if j.rewarded {
			rewarded = 1
		}
		jw.Add(12, tlv.PutU32(rewarded))
		wtr.AddRecord(1, uint64(id), jw.Bytes())
	}
	for _, id := range st.agents.SortedIDs() {
		a, _ := st.agents.Get(id)
		var aw tlv.Writer
		aw.Add(1, tlv.PutU64(uint64(a.ID)))
		aw.Add(2, tlv.PutU64(uint64(a.OwnerEID)))
		aw.Add(3, tlv.PutU64(uint64(a.OwnerOrg)))
		aw.Add(4, tlv.PutU64(a.Caps.TagMask))
		aw.Add(5, tlv.PutI64(int64(a.Caps.MaxSpeed)))
		aw.Add(6, tlv.PutI32(int32(a.Caps.MaxCarryMass)))
		aw.Add(7, tlv.PutU64(uint64(a.CurrentJob)))
		aw.Add(8, tlv.PutI64(int64(a.PosX)))
		aw.Add(9, tlv.PutI64(int64(a.PosY)))
		aw.Add(10, tlv.PutI64(int64(a.PosZ)))
		aw.Add(11, tlv.PutU32(a.Flags))
		wtr.AddRecord(2, uint64(id), aw.Bytes())
	}
	return append(versionHeader(s.version), wtr.Bytes()...), nil
}

func (s *JobSubsystem) LoadInstance(w *World, data []byte) error {
	_, rest, err := readVersionHeader(data)
	if err != nil {
		return fmt.Errorf("job: load_instance: %w", err)
	}
	entries, err := tlv.Decode(rest)
	if err != nil {
		return fmt.Errorf("job: load_instance: %w", err)
	}
	st := s.state(w)
	st.jobs.Reset()
	st.agents.Reset()
	for _, e := range entries {
		if e.Tag != 1 {
			continue
		}
		kv, err := tlv.Decode(e.Bytes)
		if err != nil {
			return fmt.Errorf("job: load_instance: job: %w", err)
		}
		j := Job{}
		if b, ok := tlv.First(kv, 1); ok {
			v, _ := tlv.GetU64(b)
			j.ID = ID(v)
		}
		if b, ok := tlv.First(kv, 2); ok {
			v, _ := tlv.GetU64(b)
			j.TemplateID = ID(v)
		}
		if b, ok := tlv.First(kv, 3); ok {
			v, _ := tlv.GetU32(b)
			j.State = JobState(v)
		}
		if b, ok := tlv.First(kv, 4); ok {
			v, _ := tlv.GetU64(b)
			j.AssignedAgent = ID(v)
		}
		if b, ok := tlv.First(kv, 5); ok {
			v, _ := tlv.GetU64(b)
			j.TargetStructEID = ID(v)
		}
		if b, ok := tlv.First(kv, 6); ok {
			v, _ := tlv.GetU64(b)
			j.TargetSplineID = ID(v)
		}
		if b, ok := tlv.First(kv, 7); ok {
			v, _ := tlv.GetI64(b)
			j.TargetX = fixed.Q32(v)
		}
		if b, ok := tlv.First(kv, 8); ok {
			v, _ := tlv.GetI64(b)
			j.TargetY = fixed.Q32(v)
		}
		if b, ok := tlv.First(kv, 9); ok {
			v, _ := tlv.GetI64(b)
			j.TargetZ = fixed.Q32(v)
		}
		if b, ok := tlv.First(kv, 10); ok {
			v, _ := tlv.GetI32(b)
			j.Progress = fixed.Q16(v)
		}
		if b, ok := tlv.First(kv, 11); ok {
			v, _ := tlv.GetU64(b)
			j.OwnerOrg = ID(v)
		}
		if b, ok := tlv.First(kv, 12); ok {
			v, _ := tlv.GetU32(b)
			j.rewarded = v != 0
		}
		st.jobs.Restore(j.ID, j)
	}
	for _, e := range entries {
		if e.Tag != 2 {
			continue
		}
		kv, err := tlv.Decode(e.Bytes)
		if err != nil {
			return fmt.Errorf("job: load_instance: agent: %w", err)
		}
		a := Agent{}
		if b, ok := tlv.First(kv, 1); ok {
			v, _ := tlv.GetU64(b)
			a.ID = ID(v)
		}
		if b, ok := tlv.First(kv, 2); ok {
			v, _ := tlv.GetU64(b)
			a.OwnerEID = ID(v)
		}
		if b, ok := tlv.First(kv, 3); ok {
			v, _ := tlv.GetU64(b)
			a.OwnerOrg = ID(v)
		}
		if b, ok := tlv.First(kv, 4); ok {
			a.Caps.TagMask, _ = tlv.GetU64(b)
		}
		if b, ok := tlv.First(kv, 5); ok {
			v, _ := tlv.GetI64(b)
			a.Caps.MaxSpeed = fixed.Q32(v)
		}
		if b, ok := tlv.First(kv, 6); ok {
			v, _ := tlv.GetI32(b)
			a.Caps.MaxCarryMass = fixed.Q16(v)
		}
		if b, ok := tlv.First(kv, 7); ok {
			v, _ := tlv.GetU64(b)
			a.CurrentJob = ID(v)
		}
		if b, ok := tlv.First(kv, 8); ok {
			v, _ := tlv.GetI64(b)
			a.PosX = fixed.Q32(v)
		}
		if b, ok := tlv.First(kv, 9); ok {
			v, _ := tlv.GetI64(b)
			a.PosY = fixed.Q32(v)
		}
		if b, ok := tlv.First(kv, 10); ok {
			v, _ := tlv.GetI64(b)
			a.PosZ = fixed.Q32(v)
		}
		if b, ok := tlv.First(kv, 11); ok {
			a.Flags, _ = tlv.GetU32(b)
		}
		st.agents.Restore(a.ID, a)
	}
	return nil
}

func (s *JobSubsystem) SaveChunk(w *World, ch *Chunk) ([]byte, error)    { return nil, nil }
func (s *JobSubsystem) LoadChunk(w *World, ch *Chunk, data []byte) error { return nil }
