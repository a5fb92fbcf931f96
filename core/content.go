package core

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Julesc013/dominium-sub002/tlv"
)

// ProtoKind tags the outer record stream entries that make up a content
// pack (spec §6: "an outer record stream of proto records"). Each kind has
// its own id space.
type ProtoKind uint32

const (
	ProtoMaterial ProtoKind = iota + 1
	ProtoItem
	ProtoStructure
	ProtoProcess
	ProtoJobTemplate
	ProtoSplineProfile
	ProtoResearchNode
	ProtoPolicyRule
	ProtoDeposit
	ProtoResearchPointSource
)

// KVTagID is the conventional key-value field tag every proto record's
// payload reserves for its own id (the record stream's "sort_id" per spec
// §4.2). Every ProtoKind's payload begins with this field.
const KVTagID uint32 = 1

// Proto is one decoded content record: its own id plus the raw,
// already-validated key-value fields from its payload. Subsystems parse
// the fields relevant to them by tag; the catalog itself is agnostic to
// field semantics beyond the id convention.
type Proto struct {
	ID     ID
	Fields []tlv.Entry
}

// Field returns the bytes of the first field with the given tag.
func (p *Proto) Field(tag uint32) ([]byte, bool) { return tlv.First(p.Fields, tag) }

// ContentCatalog indexes every loaded proto record by (kind, id). Packs and
// mods are concatenated content streams (spec §6); later packs overwrite
// protos with the same (kind, id), the standard mod-override semantics.
type ContentCatalog struct {
	mu    sync.Mutex
	table map[ProtoKind]map[ID]*Proto
}

// NewContentCatalog constructs an empty catalog.
func NewContentCatalog() *ContentCatalog {
	return &ContentCatalog{table: make(map[ProtoKind]map[ID]*Proto)}
}

// LoadContent decodes a concatenated content stream and merges it into the
// catalog. A malformed stream fails without partially merging (spec §7).
func (c *ContentCatalog) LoadContent(data []byte) error {
	entries, err := tlv.Decode(data)
	if err != nil {
		return fmt.Errorf("content_catalog: load: %w", err)
	}
	staged := make(map[ProtoKind]map[ID]*Proto)
	for _, e := range entries {
		kind := ProtoKind(e.Tag)
		kv, err := tlv.Decode(e.Bytes)
		if err != nil {
			return fmt.Errorf("content_catalog: load: kind %d: %w", kind, err)
		}
		idBytes, ok := tlv.First(kv, KVTagID)
		if !ok {
			return fmt.Errorf("content_catalog: load: kind %d record missing id field", kind)
		}
		idVal, err := tlv.GetU64(idBytes)
		if err != nil {
			return fmt.Errorf("content_catalog: load: kind %d: %w", kind, err)
		}
		if idVal == 0 {
			return fmt.Errorf("content_catalog: load: kind %d record has sentinel id 0", kind)
		}
		if staged[kind] == nil {
			staged[kind] = make(map[ID]*Proto)
		}
		staged[kind][ID(idVal)] = &Proto{ID: ID(idVal), Fields: kv}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for kind, protos := range staged {
		if c.table[kind] == nil {
			c.table[kind] = make(map[ID]*Proto)
		}
		for id, p := range protos {
			c.table[kind][id] = p
		}
	}
	return nil
}

// Get returns the proto for (kind, id).
func (c *ContentCatalog) Get(kind ProtoKind, id ID) (*Proto, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.table[kind]
	if !ok {
		return nil, false
	}
	p, ok := m[id]
	return p, ok
}

// AllIDs returns every loaded id for kind, in ascending order.
func (c *ContentCatalog) AllIDs(kind ProtoKind) []ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.table[kind]
	ids := make([]ID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Each visits every proto of kind in ascending id order.
func (c *ContentCatalog) Each(kind ProtoKind, fn func(p *Proto)) {
	for _, id := range c.AllIDs(kind) {
		if p, ok := c.Get(kind, id); ok {
			fn(p)
		}
	}
}
