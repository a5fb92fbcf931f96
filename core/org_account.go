package core

import (
	"fmt"

	"github.com/Julesc013/dominium-sub002/fixed"
	"github.com/Julesc013/dominium-sub002/tlv"
)

// Account holds a Q32.32 balance. Transfers are atomic debit-then-credit;
// a debit below zero fails without mutating either side (spec §3, §4.11).
type Account struct {
	ID      ID
	Balance fixed.Q32
}

// Org is an owner of structures, splines, agents, and research state
// (spec §3).
type Org struct {
	ID        ID
	Priority  int32
	AccountID ID
}

type orgAccountState struct {
	accounts *Arena[Account]
	orgs     *Arena[Org]
}

// OrgAccountSubsystem implements spec §4.11: organizations and accounts.
type OrgAccountSubsystem struct {
	version uint32
}

func NewOrgAccountSubsystem() *OrgAccountSubsystem { return &OrgAccountSubsystem{version: 1} }

func (s *OrgAccountSubsystem) ID() SubsystemID { return SubsystemOrgAccount }
func (s *OrgAccountSubsystem) Name() string    { return "org_account" }
func (s *OrgAccountSubsystem) Version() uint32 { return s.version }

func (s *OrgAccountSubsystem) RegisterModels(reg *ModelRegistry) error { return nil }
func (s *OrgAccountSubsystem) LoadProtos(cat *ContentCatalog) error    { return nil }

func (s *OrgAccountSubsystem) state(w *World) *orgAccountState {
	return w.Side(SubsystemOrgAccount, func() any {
		return &orgAccountState{
			accounts: NewArena[Account]("org_account.accounts", 0),
			orgs:     NewArena[Org]("org_account.orgs", 0),
		}
	}).(*orgAccountState)
}

func (s *OrgAccountSubsystem) InitInstance(w *World) error {
	s.state(w)
	return nil
}

func (s *OrgAccountSubsystem) Tick(w *World, ticks uint32) error { return nil }

// CreateOrg allocates an account with the given initial balance and an org
// bound to it (spec §4.11: "Org creation allocates an account with the
// given initial balance").
func (s *OrgAccountSubsystem) CreateOrg(w *World, priority int32, initialBalance fixed.Q32) (ID, error) {
	st := s.state(w)
	accID, _, err := st.accounts.Create(func(id ID) Account { return Account{ID: id, Balance: initialBalance} })
	if err != nil {
		return 0, fmt.Errorf("org_account: create_org: %w", err)
	}
	orgID, _, err := st.orgs.Create(func(id ID) Org { return Org{ID: id, Priority: priority, AccountID: accID} })
	if err != nil {
		return 0, fmt.Errorf("org_account: create_org: %w", err)
	}
	return orgID, nil
}

// Org returns the org record for id.
func (s *OrgAccountSubsystem) Org(w *World, id ID) (*Org, bool) {
	return s.state(w).orgs.Get(id)
}

// Account returns the account record for id.
func (s *OrgAccountSubsystem) Account(w *World, id ID) (*Account, bool) {
	return s.state(w).accounts.Get(id)
}

// OrgCount and OrgByIndex implement the engine's query iterator surface
// (spec §6 "count + get-by-index, returning items sorted by id").
func (s *OrgAccountSubsystem) OrgCount(w *World) int { return s.state(w).orgs.Count() }
func (s *OrgAccountSubsystem) OrgByIndex(w *World, i int) (ID, *Org, bool) {
	return s.state(w).orgs.GetByIndex(i)
}

// Balance returns an org's current balance via its bound account.
func (s *OrgAccountSubsystem) Balance(w *World, orgID ID) (fixed.Q32, error) {
	org, ok := s.Org(w, orgID)
	if !ok {
		return 0, &ErrInvalidArgument{Op: "org_account.Balance", Reason: "unknown org"}
	}
	acct, ok := s.Account(w, org.AccountID)
	if !ok {
		return 0, &ErrInvalidArgument{Op: "org_account.Balance", Reason: "unknown account"}
	}
	return acct.Balance, nil
}

// Transfer atomically moves amt from src to dst. amt must be positive; the
// debit never drives src's balance below zero (spec §4.11, invariant #4
// in spec §8).
func (s *OrgAccountSubsystem) Transfer(w *World, src, dst ID, amt fixed.Q32) error {
	if amt <= 0 {
		return &ErrInvalidArgument{Op: "org_account.Transfer", Reason: "amount must be positive"}
	}
	st := s.state(w)
	srcAcct, ok := st.accounts.Get(src)
	if !ok {
		return &ErrInvalidArgument{Op: "org_account.Transfer", Reason: "unknown source account"}
	}
	dstAcct, ok := st.accounts.Get(dst)
	if !ok {
		return &ErrInvalidArgument{Op: "org_account.Transfer", Reason: "unknown destination account"}
	}
	if srcAcct.Balance < amt {
		return &ErrInvalidArgument{Op: "org_account.Transfer", Reason: "insufficient balance"}
	}
	srcAcct.Balance = srcAcct.Balance.Sub(amt)
	dstAcct.Balance = dstAcct.Balance.Add(amt)
	return nil
}

// Credit adds amt to an account's balance directly (used by engine-driven
// events: process outputs, job rewards — spec §4.11).
func (s *OrgAccountSubsystem) Credit(w *World, accountID ID, amt fixed.Q32) error {
	if amt <= 0 {
		return &ErrInvalidArgument{Op: "org_account.Credit", Reason: "amount must be positive"}
	}
	acct, ok := s.state(w).accounts.Get(accountID)
	if !ok {
		return &ErrInvalidArgument{Op: "org_account.Credit", Reason: "unknown account"}
	}
	acct.Balance = acct.Balance.Add(amt)
	return nil
}

// RegisterAccount pre-registers an account id with a restored balance
// before org/job state is rehydrated on world load (spec §4.11).
func (s *OrgAccountSubsystem) RegisterAccount(w *World, id ID, balance fixed.Q32) {
	s.state(w).accounts.Restore(id, Account{ID: id, Balance: balance})
}

// --- serialization ---

func (s *OrgAccountSubsystem) SaveInstance(w *World) ([]byte, error) {
	st := s.state(w)
	var wtr tlv.Writer
	for _, id := range st.accounts.SortedIDs() {
		a, _ := st.accounts.Get(id)
		var aw tlv.Writer
		aw.Add(1, tlv.PutU64(uint64(a.ID)))
		aw.Add(2, tlv.PutI64(int64(a.Balance)))
		wtr.AddRecord(1, uint64(id), aw.Bytes())
	}
	for _, id := range st.orgs.SortedIDs() {
		o, _ := st.orgs.Get(id)
		var ow tlv.Writer
		ow.Add(1, tlv.PutU64(uint64(o.ID)))
		ow.Add(2, tlv.PutI32(o.Priority))
		ow.Add(3, tlv.PutU64(uint64(o.AccountID)))
		wtr.AddRecord(2, uint64(id), ow.Bytes())
	}
	return append(versionHeader(s.version), wtr.Bytes()...), nil
}

func (s *OrgAccountSubsystem) LoadInstance(w *World, data []byte) error {
	_, rest, err := readVersionHeader(data)
	if err != nil {
		return fmt.Errorf("org_account: load_instance: %w", err)
	}
	entries, err := tlv.Decode(rest)
	if err != nil {
		return fmt.Errorf("org_account: load_instance: %w", err)
	}
	st := s.state(w)
	st.accounts.Reset()
	st.orgs.Reset()
	// Accounts are pre-registered before orgs, per spec §4.11.
	for _, e := range entries {
		if e.Tag != 1 {
			continue
		}
		kv, err := tlv.Decode(e.Bytes)
		if err != nil {
			return fmt.Errorf("org_account: load_instance: account: %w", err)
		}
		a := Account{}
		if b, ok := tlv.First(kv, 1); ok {
			v, _ := tlv.GetU64(b)
			a.ID = ID(v)
		}
		if b, ok := tlv.First(kv, 2); ok {
			v, _ := tlv.GetI64(b)
			a.Balance = fixed.Q32(v)
		}
		st.accounts.Restore(a.ID, a)
	}
	for _, e := range entries {
		if e.Tag != 2 {
			continue
		}
		kv, err := tlv.Decode(e.Bytes)
		if err != nil {
			return fmt.Errorf("org_account: load_instance: org: %w", err)
		}
		o := Org{}
		if b, ok := tlv.First(kv, 1); ok {
			v, _ := tlv.GetU64(b)
			o.ID = ID(v)
		}
		if b, ok := tlv.First(kv, 2); ok {
			o.Priority, _ = tlv.GetI32(b)
		}
		if b, ok := tlv.First(kv, 3); ok {
			v, _ := tlv.GetU64(b)
			o.AccountID = ID(v)
		}
		st.orgs.Restore(o.ID, o)
	}
	return nil
}

func (s *OrgAccountSubsystem) SaveChunk(w *World, ch *Chunk) ([]byte, error) { return nil, nil }
func (s *OrgAccountSubsystem) LoadChunk(w *World, ch *Chunk, data []byte) error { return nil }
