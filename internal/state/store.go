package state

import (
	"ParamLedger/internal/fault"
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// RecordKind names a record family.
type RecordKind string

const (
	KindPolicy       RecordKind = "policy"
	KindUnderwriting RecordKind = "underwriting"
	KindRiskPool     RecordKind = "risk_pool"
	KindClaim        RecordKind = "claim"
	KindRegistry     RecordKind = "registry"
	KindMaster       RecordKind = "master"
	KindFlight       RecordKind = "flight"
)

// Record is what every stored entity exposes to projections and hashing.
type Record interface {
	RecordKind() RecordKind
	RecordID() uuid.UUID
	ParentID() uuid.UUID
	StatusName() string
}

func (p *Policy) RecordKind() RecordKind { return KindPolicy }
func (p *Policy) RecordID() uuid.UUID    { return p.ID }
func (p *Policy) ParentID() uuid.UUID    { return uuid.Nil }
func (p *Policy) StatusName() string     { return p.State.String() }

func (u *Underwriting) RecordKind() RecordKind { return KindUnderwriting }
func (u *Underwriting) RecordID() uuid.UUID    { return u.PolicyID }
func (u *Underwriting) ParentID() uuid.UUID    { return u.PolicyID }
func (u *Underwriting) StatusName() string     { return u.Status.String() }

func (r *RiskPool) RecordKind() RecordKind { return KindRiskPool }
func (r *RiskPool) RecordID() uuid.UUID    { return r.PolicyID }
func (r *RiskPool) ParentID() uuid.UUID    { return r.PolicyID }
func (r *RiskPool) StatusName() string     { return "" }

func (c *Claim) RecordKind() RecordKind { return KindClaim }
func (c *Claim) RecordID() uuid.UUID    { return c.ID }
func (c *Claim) ParentID() uuid.UUID    { return c.PolicyID }
func (c *Claim) StatusName() string     { return c.Status.String() }

func (r *PolicyholderRegistry) RecordKind() RecordKind { return KindRegistry }
func (r *PolicyholderRegistry) RecordID() uuid.UUID    { return r.PolicyID }
func (r *PolicyholderRegistry) ParentID() uuid.UUID    { return r.PolicyID }
func (r *PolicyholderRegistry) StatusName() string     { return "" }

func (m *MasterPolicy) RecordKind() RecordKind { return KindMaster }
func (m *MasterPolicy) RecordID() uuid.UUID    { return m.ID }
func (m *MasterPolicy) ParentID() uuid.UUID    { return uuid.Nil }
func (m *MasterPolicy) StatusName() string     { return m.Status.String() }

func (f *FlightPolicy) RecordKind() RecordKind { return KindFlight }
func (f *FlightPolicy) RecordID() uuid.UUID    { return f.ID }
func (f *FlightPolicy) ParentID() uuid.UUID    { return f.MasterID }
func (f *FlightPolicy) StatusName() string     { return f.Status.String() }

type storable[T any] interface {
	Record
	Clone() T
}

type table[T storable[T]] struct {
	kind RecordKind
	rows map[uuid.UUID]T
}

func newTable[T storable[T]](kind RecordKind) *table[T] {
	return &table[T]{kind: kind, rows: make(map[uuid.UUID]T)}
}

func (t *table[T]) get(id uuid.UUID) (T, bool) {
	v, ok := t.rows[id]
	if !ok {
		return v, false
	}
	return v.Clone(), true
}

func (t *table[T]) sorted() []T {
	out := make([]T, 0, len(t.rows))
	for _, v := range t.rows {
		out = append(out, v.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].RecordID(), out[j].RecordID()
		return bytes.Compare(a[:], b[:]) < 0
	})
	return out
}

func (t *table[T]) restore(rows []T) {
	t.rows = make(map[uuid.UUID]T, len(rows))
	for _, r := range rows {
		t.rows[r.RecordID()] = r
	}
}

// Store holds every committed record. It is owned by the core goroutine;
// mutation only happens through Tx.Commit.
type Store struct {
	policies      *table[*Policy]
	underwritings *table[*Underwriting]
	pools         *table[*RiskPool]
	claims        *table[*Claim]
	registries    *table[*PolicyholderRegistry]
	masters       *table[*MasterPolicy]
	flights       *table[*FlightPolicy]
}

func NewStore() *Store {
	return &Store{
		policies:      newTable[*Policy](KindPolicy),
		underwritings: newTable[*Underwriting](KindUnderwriting),
		pools:         newTable[*RiskPool](KindRiskPool),
		claims:        newTable[*Claim](KindClaim),
		registries:    newTable[*PolicyholderRegistry](KindRegistry),
		masters:       newTable[*MasterPolicy](KindMaster),
		flights:       newTable[*FlightPolicy](KindFlight),
	}
}

// Read accessors return copies.

func (s *Store) Policy(id uuid.UUID) (*Policy, bool)             { return s.policies.get(id) }
func (s *Store) Underwriting(id uuid.UUID) (*Underwriting, bool) { return s.underwritings.get(id) }
func (s *Store) RiskPool(id uuid.UUID) (*RiskPool, bool)         { return s.pools.get(id) }
func (s *Store) Claim(id uuid.UUID) (*Claim, bool)               { return s.claims.get(id) }
func (s *Store) Registry(id uuid.UUID) (*PolicyholderRegistry, bool) {
	return s.registries.get(id)
}
func (s *Store) Master(id uuid.UUID) (*MasterPolicy, bool) { return s.masters.get(id) }
func (s *Store) Flight(id uuid.UUID) (*FlightPolicy, bool) { return s.flights.get(id) }

// Pools returns every risk pool ordered by policy id.
func (s *Store) Pools() []*RiskPool { return s.pools.sorted() }

// Snapshot is the serialisable form of a Store.
type Snapshot struct {
	Policies      []*Policy               `json:"policies"`
	Underwritings []*Underwriting         `json:"underwritings"`
	Pools         []*RiskPool             `json:"pools"`
	Claims        []*Claim                `json:"claims"`
	Registries    []*PolicyholderRegistry `json:"registries"`
	Masters       []*MasterPolicy         `json:"masters"`
	Flights       []*FlightPolicy         `json:"flights"`
}

// Export copies all records in a deterministic order.
func (s *Store) Export() *Snapshot {
	return &Snapshot{
		Policies:      s.policies.sorted(),
		Underwritings: s.underwritings.sorted(),
		Pools:         s.pools.sorted(),
		Claims:        s.claims.sorted(),
		Registries:    s.registries.sorted(),
		Masters:       s.masters.sorted(),
		Flights:       s.flights.sorted(),
	}
}

// Restore replaces all records from a snapshot.
func (s *Store) Restore(snap *Snapshot) {
	s.policies.restore(snap.Policies)
	s.underwritings.restore(snap.Underwritings)
	s.pools.restore(snap.Pools)
	s.claims.restore(snap.Claims)
	s.registries.restore(snap.Registries)
	s.masters.restore(snap.Masters)
	s.flights.restore(snap.Flights)
}

// CanonicalBytes encodes a record for state hashing.
func CanonicalBytes(r Record) ([]byte, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode %s %s: %w", r.RecordKind(), r.RecordID(), err)
	}
	buf := make([]byte, 0, len(body)+len(r.RecordKind())+17)
	buf = append(buf, byte(len(r.RecordKind())))
	buf = append(buf, string(r.RecordKind())...)
	id := r.RecordID()
	buf = append(buf, id[:]...)
	return append(buf, body...), nil
}

// txTable stages copies of rows for one Tx.
type txTable[T storable[T]] struct {
	base   *table[T]
	staged map[uuid.UUID]T
	order  []uuid.UUID
}

func newTxTable[T storable[T]](base *table[T]) *txTable[T] {
	return &txTable[T]{base: base, staged: make(map[uuid.UUID]T)}
}

func (t *txTable[T]) load(id uuid.UUID) (T, error) {
	if v, ok := t.staged[id]; ok {
		return v, nil
	}
	v, ok := t.base.get(id)
	if !ok {
		return v, fmt.Errorf("%s %s: %w", t.base.kind, id, fault.ErrNotFound)
	}
	t.staged[id] = v
	t.order = append(t.order, id)
	return v, nil
}

func (t *txTable[T]) insert(v T) error {
	id := v.RecordID()
	if _, ok := t.staged[id]; ok {
		return fmt.Errorf("%s %s: %w", t.base.kind, id, fault.ErrAlreadyExists)
	}
	if _, ok := t.base.rows[id]; ok {
		return fmt.Errorf("%s %s: %w", t.base.kind, id, fault.ErrAlreadyExists)
	}
	t.staged[id] = v
	t.order = append(t.order, id)
	return nil
}

func (t *txTable[T]) commit(changed []Record) []Record {
	for _, id := range t.order {
		v := t.staged[id]
		t.base.rows[id] = v
		changed = append(changed, v.Clone())
	}
	return changed
}

// Tx is the unit of work of one command. Handlers load staged copies,
// mutate them freely, and the core either commits every staged record or
// drops the Tx. A dropped Tx leaves the Store untouched.
type Tx struct {
	store         *Store
	policies      *txTable[*Policy]
	underwritings *txTable[*Underwriting]
	pools         *txTable[*RiskPool]
	claims        *txTable[*Claim]
	registries    *txTable[*PolicyholderRegistry]
	masters       *txTable[*MasterPolicy]
	flights       *txTable[*FlightPolicy]
	done          bool
}

func (s *Store) Begin() *Tx {
	return &Tx{
		store:         s,
		policies:      newTxTable(s.policies),
		underwritings: newTxTable(s.underwritings),
		pools:         newTxTable(s.pools),
		claims:        newTxTable(s.claims),
		registries:    newTxTable(s.registries),
		masters:       newTxTable(s.masters),
		flights:       newTxTable(s.flights),
	}
}

func (tx *Tx) Policy(id uuid.UUID) (*Policy, error)             { return tx.policies.load(id) }
func (tx *Tx) Underwriting(id uuid.UUID) (*Underwriting, error) { return tx.underwritings.load(id) }
func (tx *Tx) RiskPool(id uuid.UUID) (*RiskPool, error)         { return tx.pools.load(id) }
func (tx *Tx) Claim(id uuid.UUID) (*Claim, error)               { return tx.claims.load(id) }
func (tx *Tx) Registry(id uuid.UUID) (*PolicyholderRegistry, error) {
	return tx.registries.load(id)
}
func (tx *Tx) Master(id uuid.UUID) (*MasterPolicy, error) { return tx.masters.load(id) }
func (tx *Tx) Flight(id uuid.UUID) (*FlightPolicy, error) { return tx.flights.load(id) }

// InsertPolicySet stages all records of a new policy.
func (tx *Tx) InsertPolicySet(set *PolicySet) error {
	if err := tx.policies.insert(set.Policy); err != nil {
		return err
	}
	if err := tx.underwritings.insert(set.Underwriting); err != nil {
		return err
	}
	if err := tx.pools.insert(set.Pool); err != nil {
		return err
	}
	return tx.registries.insert(set.Registry)
}

func (tx *Tx) InsertClaim(c *Claim) error         { return tx.claims.insert(c) }
func (tx *Tx) InsertMaster(m *MasterPolicy) error { return tx.masters.insert(m) }
func (tx *Tx) InsertFlight(f *FlightPolicy) error { return tx.flights.insert(f) }

// Commit publishes every staged record and returns copies of them in
// staging order. A Tx commits at most once.
func (tx *Tx) Commit() ([]Record, error) {
	if tx.done {
		return nil, fmt.Errorf("transaction already finished: %w", fault.ErrInvalidState)
	}
	tx.done = true

	var changed []Record
	changed = tx.policies.commit(changed)
	changed = tx.underwritings.commit(changed)
	changed = tx.pools.commit(changed)
	changed = tx.claims.commit(changed)
	changed = tx.registries.commit(changed)
	changed = tx.masters.commit(changed)
	changed = tx.flights.commit(changed)
	return changed, nil
}

// Rollback drops every staged record.
func (tx *Tx) Rollback() {
	tx.done = true
}
