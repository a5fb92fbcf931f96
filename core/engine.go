package core

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/Julesc013/dominium-sub002/tlv"
)

const chunkCoordTag uint32 = 1
const chunkBlobTag uint32 = 2

// Engine owns the model/subsystem registries shared across every world and
// exposes the abstract operations surface from spec §6: create/destroy
// world, register subsystem, load packs/mods, tick(N), save/load world and
// chunk blobs, query iterators.
type Engine struct {
	Models      *ModelRegistry
	Subsystems  *SubsystemRegistry
	Catalog     *ContentCatalog
	Replay      *ReplaySubsystem
	Resource    *ResourceSubsystem
	Environment *EnvironmentSubsystem
	Hydrology   *HydrologySubsystem
	Lithology   *LithologySubsystem
	OrgAccount  *OrgAccountSubsystem
	Structure   *StructureSubsystem
	Transport   *TransportSubsystem
	Job         *JobSubsystem
	Policy      *PolicySubsystem
	Research    *ResearchSubsystem
	Economy     *EconomySubsystem
	Schedule    *ScheduleSubsystem

	log *log.Entry
}

// NewEngine registers every built-in subsystem in the fixed order required
// by spec §4.4 step 1: resource, environment, hydrology (bound to
// resource), lithology, org/account, research, policy (bound to research),
// economy, job (bound to org/research), structure (bound to
// policy/job/org/research/economy), transport (bound to structure),
// schedule, replay.
// Cross-subsystem bindings are constructed before registration so each
// subsystem only ever calls published operations on another, never reaches
// into its private state (spec §4.4, §5).
func NewEngine() (*Engine, error) {
	e := &Engine{
		Models:     NewModelRegistry(),
		Subsystems: NewSubsystemRegistry(),
		Catalog:    NewContentCatalog(),
		log:        log.WithField("component", "engine"),
	}

	e.Resource = NewResourceSubsystem()
	e.Environment = NewEnvironmentSubsystem()
	e.Hydrology = NewHydrologySubsystem(e.Resource)
	e.Lithology = NewLithologySubsystem()
	e.OrgAccount = NewOrgAccountSubsystem()
	e.Research = NewResearchSubsystem()
	e.Policy = NewPolicySubsystem(e.Research)
	e.Economy = NewEconomySubsystem()
	e.Job = NewJobSubsystem(e.OrgAccount, e.Research)
	e.Structure = NewStructureSubsystem(e.Policy, e.Job, e.OrgAccount, e.Research, e.Economy)
	e.Transport = NewTransportSubsystem(e.Structure)
	e.Schedule = NewScheduleSubsystem()
	e.Replay = NewReplaySubsystem()

	order := []Subsystem{
		e.Resource,
		e.Environment,
		e.Hydrology,
		e.Lithology,
		e.OrgAccount,
		e.Research,
		e.Policy,
		e.Economy,
		e.Job,
		e.Structure,
		e.Transport,
		e.Schedule,
		e.Replay,
	}
	for _, s := range order {
		if err := e.Subsystems.Register(s); err != nil {
			return nil, fmt.Errorf("engine: new_engine: %w", err)
		}
	}
	if err := e.Subsystems.RegisterModels(e.Models); err != nil {
		return nil, fmt.Errorf("engine: new_engine: %w", err)
	}
	return e, nil
}

// LoadPacks merges one or more concatenated content streams into the
// catalog, later packs overriding earlier ones, then re-runs every
// subsystem's LoadProtos (spec §6 "load packs/mods").
func (e *Engine) LoadPacks(streams ...[]byte) error {
	for _, data := range streams {
		if err := e.Catalog.LoadContent(data); err != nil {
			return fmt.Errorf("engine: load_packs: %w", err)
		}
	}
	return e.Subsystems.LoadProtos(e.Catalog)
}

// CreateWorld constructs a new world bound to this engine's registries and
// runs every subsystem's InitInstance in registration order (spec §4.4
// step 3).
func (e *Engine) CreateWorld(seed uint64) (*World, error) {
	w := NewWorld(seed, e.Subsystems, e.Models, e.Catalog)
	if err := e.Subsystems.InitInstance(w); err != nil {
		return nil, fmt.Errorf("engine: create_world: %w", err)
	}
	return w, nil
}

// Advance ticks w by n steps (spec §6 "tick(N)").
func (e *Engine) Advance(w *World, n uint32) error {
	return w.Advance(n)
}

// SaveWorld serializes every subsystem's instance blob plus every live
// chunk's per-subsystem blobs, the concatenation invariant #1 in spec §8
// depends on.
func (e *Engine) SaveWorld(w *World) ([]byte, error) {
	var wtr tlv.Writer

	instanceBlob, err := e.Subsystems.SaveInstance(w)
	if err != nil {
		return nil, fmt.Errorf("engine: save_world: %w", err)
	}
	wtr.Add(1, instanceBlob)

	var saveErr error
	w.EachChunk(func(ch *Chunk) {
		if saveErr != nil {
			return
		}
		blob, err := e.Subsystems.SaveChunk(w, ch)
		if err != nil {
			saveErr = fmt.Errorf("engine: save_world: chunk (%d,%d): %w", ch.CX, ch.CY, err)
			return
		}
		var cw tlv.Writer
		cw.Add(chunkCoordTag, encodeChunkCoord(ch))
		cw.Add(chunkBlobTag, blob)
		wtr.AddRecord(2, uint64(ch.ID), cw.Bytes())
	})
	if saveErr != nil {
		return nil, saveErr
	}
	return wtr.Bytes(), nil
}

// LoadWorld reconstructs a world from a blob produced by SaveWorld. Any
// failure discards the partially constructed world, per spec §4.4's "the
// entire world load fails" rule.
func (e *Engine) LoadWorld(seed uint64, data []byte) (*World, error) {
	entries, err := tlv.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("engine: load_world: %w", err)
	}
	w := NewWorld(seed, e.Subsystems, e.Models, e.Catalog)

	instanceBlob, ok := tlv.First(entries, 1)
	if !ok {
		return nil, fmt.Errorf("engine: load_world: missing instance blob")
	}
	if err := e.Subsystems.LoadInstance(w, instanceBlob); err != nil {
		return nil, fmt.Errorf("engine: load_world: %w", err)
	}

	for _, e2 := range tlv.All(entries, 2) {
		kv, err := tlv.Decode(e2.Bytes)
		if err != nil {
			return nil, fmt.Errorf("engine: load_world: chunk record: %w", err)
		}
		coordBytes, ok := tlv.First(kv, chunkCoordTag)
		if !ok {
			return nil, fmt.Errorf("engine: load_world: chunk record missing coord")
		}
		ch, err := decodeChunkCoord(coordBytes)
		if err != nil {
			return nil, fmt.Errorf("engine: load_world: %w", err)
		}
		w.RestoreChunk(ch)
		blob, ok := tlv.First(kv, chunkBlobTag)
		if !ok {
			return nil, fmt.Errorf("engine: load_world: chunk (%d,%d) missing blob", ch.CX, ch.CY)
		}
		if err := e.Subsystems.LoadChunk(w, &ch, blob); err != nil {
			return nil, fmt.Errorf("engine: load_world: chunk (%d,%d): %w", ch.CX, ch.CY, err)
		}
	}
	return w, nil
}

func encodeChunkCoord(ch *Chunk) []byte {
	var cw tlv.Writer
	cw.Add(1, tlv.PutU64(uint64(ch.ID)))
	cw.Add(2, tlv.PutI32(ch.CX))
	cw.Add(3, tlv.PutI32(ch.CY))
	return cw.Bytes()
}

func decodeChunkCoord(data []byte) (Chunk, error) {
	entries, err := tlv.Decode(data)
	if err != nil {
		return Chunk{}, err
	}
	var ch Chunk
	if b, ok := tlv.First(entries, 1); ok {
		v, _ := tlv.GetU64(b)
		ch.ID = ID(v)
	}
	if b, ok := tlv.First(entries, 2); ok {
		ch.CX, _ = tlv.GetI32(b)
	}
	if b, ok := tlv.First(entries, 3); ok {
		ch.CY, _ = tlv.GetI32(b)
	}
	return ch, nil
}
