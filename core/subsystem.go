package core

import (
	"encoding/binary"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/Julesc013/dominium-sub002/tlv"
)

// SubsystemID tags each subsystem's blob in the outer world/chunk envelope
// (spec §4.4: "the outer layer wraps each subsystem's blob with the
// subsystem id tag").
type SubsystemID uint32

const (
	SubsystemResource SubsystemID = iota + 1
	SubsystemEnvironment
	SubsystemHydrology
	SubsystemLithology
	SubsystemOrgAccount
	SubsystemStructure
	SubsystemTransport
	SubsystemJob
	SubsystemPolicy
	SubsystemResearch
	SubsystemEconomy
	SubsystemSchedule
	SubsystemReplay
)

// Subsystem is the fixed lifecycle contract every engine module implements
// (spec §4.4). A subsystem must never read or write another subsystem's
// private tables; all cross-subsystem effects happen through the published
// operations in each subsystem's own file.
type Subsystem interface {
	ID() SubsystemID
	Name() string
	Version() uint32

	// RegisterModels installs this subsystem's behavior models into the
	// shared model registry. Called once per process, after every
	// subsystem has been registered.
	RegisterModels(reg *ModelRegistry) error

	// LoadProtos ingests this subsystem's proto records from the content
	// catalog. Called once per pack/mod load.
	LoadProtos(cat *ContentCatalog) error

	// InitInstance prepares this subsystem's per-world state. Called once
	// per world creation, in registration order.
	InitInstance(w *World) error

	// Tick advances this subsystem by the given number of ticks. Called
	// once per World.Advance, in registration order, with the number of
	// ticks that call advances. Must not read or
	// mutate another subsystem's private state directly.
	Tick(w *World, ticks uint32) error

	// SaveInstance serializes this subsystem's per-world (non-chunk)
	// state into a self-delimiting blob.
	SaveInstance(w *World) ([]byte, error)
	// LoadInstance restores per-world state from a blob produced by
	// SaveInstance. A malformed blob must fail without partial mutation.
	LoadInstance(w *World, data []byte) error

	// SaveChunk/LoadChunk serialize this subsystem's per-chunk payload.
	SaveChunk(w *World, ch *Chunk) ([]byte, error)
	LoadChunk(w *World, ch *Chunk, data []byte) error
}

// SubsystemRegistry is the ordered list of subsystem descriptors and the
// dispatcher for the fixed lifecycle in spec §4.4. Order of registration is
// the order of every subsequent dispatch.
type SubsystemRegistry struct {
	order []Subsystem
	seen  map[SubsystemID]bool
	log   *log.Entry
}

// NewSubsystemRegistry constructs an empty registry.
func NewSubsystemRegistry() *SubsystemRegistry {
	return &SubsystemRegistry{
		seen: make(map[SubsystemID]bool),
		log:  log.WithField("component", "subsystem_registry"),
	}
}

// Register appends s to the dispatch order. Duplicate subsystem ids are
// rejected (spec §4.4, "Failure of register: duplicate id → rejected").
func (r *SubsystemRegistry) Register(s Subsystem) error {
	if r.seen[s.ID()] {
		return &ErrInvalidArgument{Op: "subsystem_registry.Register", Reason: fmt.Sprintf("duplicate subsystem id %d (%s)", s.ID(), s.Name())}
	}
	r.seen[s.ID()] = true
	r.order = append(r.order, s)
	r.log.WithFields(log.Fields{"id": s.ID(), "name": s.Name(), "version": s.Version()}).Info("subsystem registered")
	return nil
}

// Ordered returns the subsystems in registration order.
func (r *SubsystemRegistry) Ordered() []Subsystem { return r.order }

// RegisterModels dispatches RegisterModels to every subsystem in order.
func (r *SubsystemRegistry) RegisterModels(reg *ModelRegistry) error {
	for _, s := range r.order {
		if err := s.RegisterModels(reg); err != nil {
			return fmt.Errorf("subsystem %s: register_models: %w", s.Name(), err)
		}
	}
	return nil
}

// LoadProtos dispatches LoadProtos to every subsystem in order.
func (r *SubsystemRegistry) LoadProtos(cat *ContentCatalog) error {
	for _, s := range r.order {
		if err := s.LoadProtos(cat); err != nil {
			return fmt.Errorf("subsystem %s: load_protos: %w", s.Name(), err)
		}
	}
	return nil
}

// InitInstance dispatches InitInstance to every subsystem in order.
func (r *SubsystemRegistry) InitInstance(w *World) error {
	for _, s := range r.order {
		if err := s.InitInstance(w); err != nil {
			return fmt.Errorf("subsystem %s: init_instance: %w", s.Name(), err)
		}
	}
	return nil
}

// Tick dispatches Tick to every subsystem in order, advancing the world by
// ticks steps. Each subsystem's tick callee is pure with respect to other
// subsystems' private state (spec §4.4 step 4).
func (r *SubsystemRegistry) Tick(w *World, ticks uint32) error {
	for _, s := range r.order {
		if err := s.Tick(w, ticks); err != nil {
			return fmt.Errorf("subsystem %s: tick: %w", s.Name(), err)
		}
	}
	return nil
}

// SaveInstance serializes every subsystem's instance blob, each wrapped
// with its subsystem id tag, concatenated in registration order.
func (r *SubsystemRegistry) SaveInstance(w *World) ([]byte, error) {
	var wtr tlv.Writer
	for _, s := range r.order {
		blob, err := s.SaveInstance(w)
		if err != nil {
			return nil, fmt.Errorf("subsystem %s: save_instance: %w", s.Name(), err)
		}
		wtr.AddRecord(uint32(s.ID()), uint64(s.ID()), blob)
	}
	return wtr.Bytes(), nil
}

// LoadInstance restores every subsystem's instance state from a blob
// produced by SaveInstance. Any failure fails the whole load; the caller
// is responsible for discarding the partially constructed world (spec
// §4.4: "the entire world load fails; the partial world is discarded").
func (r *SubsystemRegistry) LoadInstance(w *World, data []byte) error {
	entries, err := tlv.Decode(data)
	if err != nil {
		return fmt.Errorf("subsystem_registry: load_instance: %w", err)
	}
	byID := make(map[SubsystemID][]byte, len(entries))
	for _, e := range entries {
		byID[SubsystemID(e.Tag)] = e.Bytes
	}
	for _, s := range r.order {
		blob, ok := byID[s.ID()]
		if !ok {
			return fmt.Errorf("subsystem_registry: load_instance: missing blob for subsystem %s (id %d)", s.Name(), s.ID())
		}
		if err := s.LoadInstance(w, blob); err != nil {
			return fmt.Errorf("subsystem %s: load_instance: %w", s.Name(), err)
		}
	}
	return nil
}

// SaveChunk serializes every subsystem's per-chunk payload for ch, each
// wrapped with its subsystem id tag.
func (r *SubsystemRegistry) SaveChunk(w *World, ch *Chunk) ([]byte, error) {
	var wtr tlv.Writer
	for _, s := range r.order {
		blob, err := s.SaveChunk(w, ch)
		if err != nil {
			return nil, fmt.Errorf("subsystem %s: save_chunk: %w", s.Name(), err)
		}
		wtr.AddRecord(uint32(s.ID()), uint64(s.ID()), blob)
	}
	return wtr.Bytes(), nil
}

// LoadChunk restores every subsystem's per-chunk payload for ch.
func (r *SubsystemRegistry) LoadChunk(w *World, ch *Chunk, data []byte) error {
	entries, err := tlv.Decode(data)
	if err != nil {
		return fmt.Errorf("subsystem_registry: load_chunk: %w", err)
	}
	byID := make(map[SubsystemID][]byte, len(entries))
	for _, e := range entries {
		byID[SubsystemID(e.Tag)] = e.Bytes
	}
	for _, s := range r.order {
		blob, ok := byID[s.ID()]
		if !ok {
			return fmt.Errorf("subsystem_registry: load_chunk: missing blob for subsystem %s (id %d)", s.Name(), s.ID())
		}
		if err := s.LoadChunk(w, ch, blob); err != nil {
			return fmt.Errorf("subsystem %s: load_chunk: %w", s.Name(), err)
		}
	}
	return nil
}

// versionHeader / readVersionHeader implement the "starts with a version
// u32" framing every subsystem blob uses (spec §3 invariant).
func versionHeader(version uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, version)
	return b
}

func readVersionHeader(data []byte) (uint32, []byte, error) {
	if len(data) < 4 {
		return 0, nil, fmt.Errorf("blob shorter than version header (%d bytes)", len(data))
	}
	return binary.LittleEndian.Uint32(data[:4]), data[4:], nil
}
