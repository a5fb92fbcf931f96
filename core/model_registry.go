package core

import (
	"fmt"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"
)

// ModelFamily groups models by the subsystem that owns their dispatch
// (resource, environment, hydrology, ...). Each family keeps its own
// (family, model) id space.
type ModelFamily uint32

const (
	ModelFamilyResource ModelFamily = iota + 1
	ModelFamilyEnvironment
	ModelFamilyHydrology
)

// ModelKey identifies one behavior table entry.
type ModelKey struct {
	Family ModelFamily
	Model  uint32
}

// ModelRegistry maps (family, model) to a behavior descriptor (spec §4.3).
// Entries live in one map keyed by (family, model): Register uses it to
// reject duplicates and Lookup is a direct map read. Only ModelsInFamily
// scans every entry.
type ModelRegistry struct {
	mu      sync.Mutex
	entries map[ModelKey]any
}

// NewModelRegistry constructs an empty registry.
func NewModelRegistry() *ModelRegistry {
	return &ModelRegistry{entries: make(map[ModelKey]any)}
}

// Register installs a behavior descriptor under (family, model). It fails
// on a duplicate key (spec §4.3, §4.4: "Registration fails on duplicate
// (family, model)").
func (r *ModelRegistry) Register(family ModelFamily, model uint32, descriptor any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := ModelKey{Family: family, Model: model}
	if _, exists := r.entries[key]; exists {
		return &ErrInvalidArgument{Op: "model_registry.Register", Reason: fmt.Sprintf("duplicate (family=%d, model=%d)", family, model)}
	}
	r.entries[key] = descriptor
	log.WithFields(log.Fields{"family": family, "model": model}).Debug("model registered")
	return nil
}

// Lookup returns the descriptor for (family, model), or false if absent.
func (r *ModelRegistry) Lookup(family ModelFamily, model uint32) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.entries[ModelKey{Family: family, Model: model}]
	return v, ok
}

// ModelsInFamily returns every model id registered under family, sorted
// ascending — used when a subsystem must enumerate its own models
// deterministically (e.g. worldgen provider ordering by model id).
func (r *ModelRegistry) ModelsInFamily(family ModelFamily) []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []uint32
	for k := range r.entries {
		if k.Family == family {
			out = append(out, k.Model)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
