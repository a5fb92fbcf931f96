package core

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

// ChunkCoord is an integer chunk grid coordinate (spec §3: "chunks are
// unique by (cx, cy)").
type ChunkCoord struct {
	CX, CY int32
}

// Chunk is the grid cell identifier and bookkeeping record; every other
// subsystem attaches its own per-chunk payload through its own arena,
// keyed by the chunk's stable ID (spec §3).
type Chunk struct {
	ID ID
	CX int32
	CY int32
}

// WorldgenProvider populates a newly created chunk's initial state. The
// engine registers providers in a fixed order (spec §2 row 7); each
// provider is invoked once, in that order, the first time a chunk is
// touched.
type WorldgenProvider interface {
	Name() string
	Populate(w *World, ch *Chunk) error
}

// World owns the chunk table, the RNG seed, the tick counter, and every
// subsystem's per-instance side tables (accessed through typed accessors
// on each subsystem, never directly). It is the single mutable object
// passed through the tick loop.
type World struct {
	mu sync.Mutex

	Seed uint64
	tick uint64

	chunks        *Arena[Chunk]
	chunksByCoord map[ChunkCoord]ID
	initialized   map[ID]bool

	providers []WorldgenProvider

	Subsystems *SubsystemRegistry
	Models     *ModelRegistry
	Catalog    *ContentCatalog

	// Side is a per-subsystem opaque state bag. Subsystems type-assert
	// their own entry and never touch another subsystem's key; the map
	// itself only exists so the World struct doesn't need to know the
	// concrete type of every subsystem's state (spec §4.4's "per-
	// subsystem side-tables").
	side map[SubsystemID]any

	log *log.Entry
}

// NewWorld constructs a world bound to the given subsystem/model registries
// and content catalog. Seed drives every deterministic hash in the sim
// path (spec §5).
func NewWorld(seed uint64, subsystems *SubsystemRegistry, models *ModelRegistry, catalog *ContentCatalog) *World {
	return &World{
		Seed:          seed,
		chunks:        NewArena[Chunk]("world.chunks", 0),
		chunksByCoord: make(map[ChunkCoord]ID),
		initialized:   make(map[ID]bool),
		Subsystems:    subsystems,
		Models:        models,
		Catalog:       catalog,
		side:          make(map[SubsystemID]any),
		log:           log.WithField("component", "world"),
	}
}

// RegisterWorldgenProvider appends a provider to the fixed worldgen
// pipeline. Providers run in registration order against every chunk the
// first time it is touched.
func (w *World) RegisterWorldgenProvider(p WorldgenProvider) {
	w.providers = append(w.providers, p)
}

// Side returns the opaque state bag for subsystem id, creating it via init
// if absent. Each subsystem calls this once in InitInstance and stores a
// pointer to its own concrete state type.
func (w *World) Side(id SubsystemID, init func() any) any {
	w.mu.Lock()
	defer w.mu.Unlock()
	if v, ok := w.side[id]; ok {
		return v
	}
	v := init()
	w.side[id] = v
	return v
}

// Tick returns the current tick counter.
func (w *World) Tick() uint64 { return w.tick }

// Advance runs every registered subsystem's Tick for n ticks and bumps the
// tick counter. This is the outer "tick(N)" engine operation (spec §6).
func (w *World) Advance(n uint32) error {
	if n == 0 {
		return nil
	}
	if err := w.Subsystems.Tick(w, n); err != nil {
		return err
	}
	w.mu.Lock()
	w.tick += uint64(n)
	w.mu.Unlock()
	return nil
}

// GetChunk looks up a chunk by coordinate without creating it.
func (w *World) GetChunk(cx, cy int32) (*Chunk, bool) {
	w.mu.Lock()
	id, ok := w.chunksByCoord[ChunkCoord{CX: cx, CY: cy}]
	w.mu.Unlock()
	if !ok {
		return nil, false
	}
	return w.chunks.Get(id)
}

// GetOrCreateChunk returns the chunk at (cx, cy), creating and running the
// worldgen pipeline over it if it does not yet exist (spec §4.5
// "sample_at" and §2 row 7).
func (w *World) GetOrCreateChunk(cx, cy int32) (*Chunk, error) {
	coord := ChunkCoord{CX: cx, CY: cy}
	w.mu.Lock()
	if id, ok := w.chunksByCoord[coord]; ok {
		w.mu.Unlock()
		ch, _ := w.chunks.Get(id)
		return ch, nil
	}
	w.mu.Unlock()

	id, ch, err := w.chunks.Create(func(id ID) Chunk {
		return Chunk{ID: id, CX: cx, CY: cy}
	})
	if err != nil {
		return nil, fmt.Errorf("world: create chunk (%d,%d): %w", cx, cy, err)
	}
	w.mu.Lock()
	w.chunksByCoord[coord] = id
	w.mu.Unlock()

	if err := w.ensureInitialized(ch); err != nil {
		return nil, err
	}
	return ch, nil
}

// ensureInitialized runs the worldgen pipeline over ch exactly once.
func (w *World) ensureInitialized(ch *Chunk) error {
	w.mu.Lock()
	if w.initialized[ch.ID] {
		w.mu.Unlock()
		return nil
	}
	w.initialized[ch.ID] = true
	w.mu.Unlock()

	for _, p := range w.providers {
		if err := p.Populate(w, ch); err != nil {
			return fmt.Errorf("worldgen provider %s: chunk (%d,%d): %w", p.Name(), ch.CX, ch.CY, err)
		}
	}
	return nil
}

// NeighborEast / NeighborNorth locate (but do not create) the +x / +y
// neighbor chunk, used by diffusion passes (env fields, hydrology) that
// only operate on already-initialized neighbors (spec §4.6, §4.7).
func (w *World) NeighborEast(ch *Chunk) (*Chunk, bool)  { return w.GetChunk(ch.CX+1, ch.CY) }
func (w *World) NeighborNorth(ch *Chunk) (*Chunk, bool) { return w.GetChunk(ch.CX, ch.CY+1) }

// ChunkCount returns the number of live chunks.
func (w *World) ChunkCount() int { return w.chunks.Count() }

// ChunkByIndex returns the i-th chunk (0-based) in ascending id order,
// satisfying the engine's count+get-by-index query contract (spec §6).
func (w *World) ChunkByIndex(i int) (*Chunk, bool) {
	_, ch, ok := w.chunks.GetByIndex(i)
	return ch, ok
}

// EachChunk visits every live chunk in ascending id order.
func (w *World) EachChunk(fn func(ch *Chunk)) {
	w.chunks.Each(func(_ ID, ch *Chunk) { fn(ch) })
}

// RestoreChunk re-inserts a chunk loaded from a save blob (used by the
// outer world-load path before subsystem chunk blobs are applied).
func (w *World) RestoreChunk(ch Chunk) {
	w.chunks.Restore(ch.ID, ch)
	w.mu.Lock()
	w.chunksByCoord[ChunkCoord{CX: ch.CX, CY: ch.CY}] = ch.ID
	w.initialized[ch.ID] = true
	w.mu.Unlock()
}
