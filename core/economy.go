package core

import (
	"fmt"
	"sort"

	"github.com/Julesc013/dominium-sub002/fixed"
	"github.com/Julesc013/dominium-sub002/tlv"
)

const emaWindow = 64

// orgEconState is one org's per-tick accumulators plus its published EMAs
// (spec §4.14).
type orgEconState struct {
	stepOutValue fixed.Q32
	stepOutQty   int64
	stepInValue  fixed.Q32
	stepInQty    int64

	emaOut   fixed.Q32
	emaIn    fixed.Q32
	emaPrice fixed.Q32
}

type economyWorldState struct {
	orgs map[ID]*orgEconState
}

// EconomyMetrics is the per-org published snapshot from the most recent
// tick (spec §4.14 step 4).
type EconomyMetrics struct {
	TotalOutput   fixed.Q32
	TotalInput    fixed.Q32
	NetThroughput fixed.Q32
	PriceIndex    fixed.Q32
}

// EconomySubsystem implements spec §4.14.
type EconomySubsystem struct {
	version uint32
}

func NewEconomySubsystem() *EconomySubsystem { return &EconomySubsystem{version: 1} }

func (s *EconomySubsystem) ID() SubsystemID { return SubsystemEconomy }
func (s *EconomySubsystem) Name() string    { return "economy" }
func (s *EconomySubsystem) Version() uint32 { return s.version }

func (s *EconomySubsystem) RegisterModels(reg *ModelRegistry) error { return nil }
func (s *EconomySubsystem) LoadProtos(cat *ContentCatalog) error    { return nil }

func (s *EconomySubsystem) state(w *World) *economyWorldState {
	return w.Side(SubsystemEconomy, func() any {
		return &economyWorldState{orgs: make(map[ID]*orgEconState)}
	}).(*economyWorldState)
}

func (s *EconomySubsystem) InitInstance(w *World) error {
	s.state(w)
	return nil
}

func (s *EconomySubsystem) ensureOrg(w *World, orgID ID) *orgEconState {
	st := s.state(w)
	oe, ok := st.orgs[orgID]
	if !ok {
		oe = &orgEconState{}
		st.orgs[orgID] = oe
	}
	return oe
}

func itemBaseValue(w *World, itemID ID) fixed.Q32 {
	p, ok := w.Catalog.Get(ProtoItem, itemID)
	if !ok {
		return 0
	}
	if b, ok := p.Field(FieldItemBaseValue); ok {
		v, _ := tlv.GetI64(b)
		return fixed.Q32(v)
	}
	return 0
}

// RecordFlow accumulates a production (isOutput=true) or consumption
// (isOutput=false) flow of quantity units of itemID into the owner org's
// step counters (spec §4.14 "accumulate per-tick flows").
func (s *EconomySubsystem) RecordFlow(w *World, orgID ID, isOutput bool, itemID ID, quantity int64) {
	if quantity <= 0 {
		return
	}
	oe := s.ensureOrg(w, orgID)
	value := itemBaseValue(w, itemID).Mul(fixed.Q32FromInt(int32(quantity)))
	if isOutput {
		oe.stepOutValue = oe.stepOutValue.Add(value)
		oe.stepOutQty += quantity
	} else {
		oe.stepInValue = oe.stepInValue.Add(value)
		oe.stepInQty += quantity
	}
}

// Metrics returns the most recently published snapshot for orgID.
func (s *EconomySubsystem) Metrics(w *World, orgID ID) EconomyMetrics {
	oe := s.ensureOrg(w, orgID)
	return EconomyMetrics{
		TotalOutput:   oe.emaOut,
		TotalInput:    oe.emaIn,
		NetThroughput: oe.emaOut.Sub(oe.emaIn),
		PriceIndex:    oe.emaPrice,
	}
}

// Tick advances every org's EMAs from its accumulated step flows and
// zeroes the step counters (spec §4.14). An org with zero output quantity
// this step carries its previous price forward, the fallback supplement
// noted against the distilled spec.
func (s *EconomySubsystem) Tick(w *World, ticks uint32) error {
	st := s.state(w)
	n := fixed.Q32FromInt(int32(ticks))
	if n == 0 {
		return nil
	}
	for _, oe := range st.orgs {
		sampleOut := oe.stepOutValue.Div(n)
		sampleIn := oe.stepInValue.Div(n)
		oe.emaOut = ema(oe.emaOut, sampleOut)
		oe.emaIn = ema(oe.emaIn, sampleIn)

		var samplePrice fixed.Q32
		if oe.stepOutQty > 0 {
			samplePrice = oe.stepOutValue.Div(fixed.Q32FromInt(int32(oe.stepOutQty)))
		} else {
			samplePrice = oe.emaPrice
		}
		oe.emaPrice = ema(oe.emaPrice, samplePrice)

		oe.stepOutValue = 0
		oe.stepOutQty = 0
		oe.stepInValue = 0
		oe.stepInQty = 0
	}
	return nil
}

func ema(prev, sample fixed.Q32) fixed.Q32 {
	return prev.Add(sample.Sub(prev).Div(fixed.Q32FromInt(emaWindow)))
}

// --- serialization ---

func (s *EconomySubsystem) SaveInstance(w *World) ([]byte, error) {
	st := s.state(w)
	orgIDs := make([]ID, 0, len(st.orgs))
	for id := range st.orgs {
		orgIDs = append(orgIDs, id)
	}
	sort.Slice(orgIDs, func(i, j int) bool { return orgIDs[i] < orgIDs[j] })

	var wtr tlv.Writer
	for _, id := range orgIDs {
		oe := st.orgs[id]
		var ow tlv.Writer
		ow.Add(1, tlv.PutU64(uint64(id)))
		ow.Add(2, tlv.PutI64(int64(oe.emaOut)))
		ow.Add(3, tlv.PutI64(int64(oe.emaIn)))
		ow.Add(4, tlv.PutI64(int64(oe.emaPrice)))
		wtr.AddRecord(1, uint64(id), ow.Bytes())
	}
	return append(versionHeader(s.version), wtr.Bytes()...), nil
}

func (s *EconomySubsystem) LoadInstance(w *World, data []byte) error {
	_, rest, err := readVersionHeader(data)
	if err != nil {
		return fmt.Errorf("economy: load_instance: %w", err)
	}
	entries, err := tlv.Decode(rest)
	if err != nil {
		return fmt.Errorf("economy: load_instance: %w", err)
	}
	st := s.state(w)
	st.orgs = make(map[ID]*orgEconState)
	for _, e := range entries {
		kv, err := tlv.Decode(e.Bytes)
		if err != nil {
			return fmt.Errorf("economy: load_instance: org: %w", err)
		}
		var orgID ID
		if b, ok := tlv.First(kv, 1); ok {
			v, _ := tlv.GetU64(b)
			orgID = ID(v)
		}
		oe := &orgEconState{}
		if b, ok := tlv.First(kv, 2); ok {
			v, _ := tlv.GetI64(b)
			oe.emaOut = fixed.Q32(v)
		}
		if b, ok := tlv.First(kv, 3); ok {
			v, _ := tlv.GetI64(b)
			oe.emaIn = fixed.Q32(v)
		}
		if b, ok := tlv.First(kv, 4); ok {
			v, _ := tlv.GetI64(b)
			oe.emaPrice = fixed.Q32(v)
		}
		st.orgs[orgID] = oe
	}
	return nil
}

func (s *EconomySubsystem) SaveChunk(w *World, ch *Chunk) ([]byte, error)    { return nil, nil }
func (s *EconomySubsystem) LoadChunk(w *World, ch *Chunk, data []byte) error { return nil }
