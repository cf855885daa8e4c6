// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/warp/commission-engine/commission"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements commission.Store together with the participant and owner
// resolvers and the audit sink.
type Memory struct {
	mu           sync.Mutex
	sales        map[commission.SaleID]commission.Sale
	records      map[commission.SaleID][]commission.CommissionRecord
	events       map[commission.SaleID][]commission.CollectionEvent
	payouts      map[commission.SaleID][]commission.Payout
	participants map[commission.SaleID][]commission.Participant
	owners       map[commission.TenantID]commission.ParticipantRef
	audit        []commission.AuditEntry
}

func NewMemory() *Memory {
	return &Memory{
		sales:        make(map[commission.SaleID]commission.Sale),
		records:      make(map[commission.SaleID][]commission.CommissionRecord),
		events:       make(map[commission.SaleID][]commission.CollectionEvent),
		payouts:      make(map[commission.SaleID][]commission.Payout),
		participants: make(map[commission.SaleID][]commission.Participant),
		owners:       make(map[commission.TenantID]commission.ParticipantRef),
	}
}

// =============================================================================
// SETUP - stands in for the CRM and payout sub-ledger
// =============================================================================

func (m *Memory) PutSale(s commission.Sale) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sales[s.ID] = s
}

func (m *Memory) SetParticipants(saleID commission.SaleID, ps []commission.Participant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.participants[saleID] = append([]commission.Participant(nil), ps...)
}

func (m *Memory) SetTenantOwner(tenantID commission.TenantID, ref commission.ParticipantRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.owners[tenantID] = ref
}

func (m *Memory) AddPayout(p commission.Payout) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payouts[p.SaleID] = append(m.payouts[p.SaleID], p)
}

// AuditEntries returns the audit rows of a sale in append order.
func (m *Memory) AuditEntries(saleID commission.SaleID) []commission.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []commission.AuditEntry
	for _, e := range m.audit {
		if e.SaleID == saleID {
			out = append(out, e)
		}
	}
	return out
}

// =============================================================================
// commission.Store
// =============================================================================

// WithSaleLock executes fn under the store mutex.
// A snapshot is taken first and restored if fn fails.
func (m *Memory) WithSaleLock(_ context.Context, saleID commission.SaleID, fn func(commission.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sales[saleID]; !ok {
		return &commission.NotFoundError{Entity: "sale", ID: string(saleID)}
	}

	snap := m.snapshot()
	if err := fn(&memoryTx{m: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

func (m *Memory) Sale(_ context.Context, id commission.SaleID) (commission.Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saleLocked(id)
}

func (m *Memory) EventSale(_ context.Context, id commission.EventID) (commission.SaleID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for saleID, evs := range m.events {
		for _, ev := range evs {
			if ev.ID == id {
				return saleID, nil
			}
		}
	}
	return "", &commission.NotFoundError{Entity: "collection", ID: string(id)}
}

func (m *Memory) TenantSales(_ context.Context, tenantID commission.TenantID) ([]commission.SaleID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []commission.SaleID
	for id, s := range m.sales {
		if s.TenantID == tenantID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *Memory) Tenants(_ context.Context) ([]commission.TenantID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[commission.TenantID]bool)
	var out []commission.TenantID
	for _, s := range m.sales {
		if !seen[s.TenantID] {
			seen[s.TenantID] = true
			out = append(out, s.TenantID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (m *Memory) saleLocked(id commission.SaleID) (commission.Sale, error) {
	s, ok := m.sales[id]
	if !ok {
		return commission.Sale{}, &commission.NotFoundError{Entity: "sale", ID: string(id)}
	}
	return s, nil
}

// =============================================================================
// RESOLVERS AND SINK
// =============================================================================

func (m *Memory) Participants(_ context.Context, saleID commission.SaleID) ([]commission.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sales[saleID]; !ok {
		return nil, &commission.NotFoundError{Entity: "sale", ID: string(saleID)}
	}
	return append([]commission.Participant(nil), m.participants[saleID]...), nil
}

func (m *Memory) TenantOwner(_ context.Context, tenantID commission.TenantID) (commission.ParticipantRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref, ok := m.owners[tenantID]
	if !ok {
		return commission.ParticipantRef{}, &commission.NotFoundError{Entity: "tenant", ID: string(tenantID)}
	}
	return ref, nil
}

func (m *Memory) AppendAudit(_ context.Context, e commission.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, e)
	return nil
}

// =============================================================================
// SNAPSHOT / ROLLBACK
// =============================================================================

type memorySnapshot struct {
	sales   map[commission.SaleID]commission.Sale
	records map[commission.SaleID][]commission.CommissionRecord
	events  map[commission.SaleID][]commission.CollectionEvent
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		sales:   make(map[commission.SaleID]commission.Sale, len(m.sales)),
		records: make(map[commission.SaleID][]commission.CommissionRecord, len(m.records)),
		events:  make(map[commission.SaleID][]commission.CollectionEvent, len(m.events)),
	}
	for k, v := range m.sales {
		s.sales[k] = v
	}
	for k, v := range m.records {
		s.records[k] = append([]commission.CommissionRecord(nil), v...)
	}
	for k, v := range m.events {
		s.events[k] = append([]commission.CollectionEvent(nil), v...)
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.sales = s.sales
	m.records = s.records
	m.events = s.events
}

// =============================================================================
// TRANSACTIONAL VIEW - runs with m.mu already held
// =============================================================================

type memoryTx struct {
	m *Memory
}

func (tx *memoryTx) Sale(_ context.Context, id commission.SaleID) (commission.Sale, error) {
	return tx.m.saleLocked(id)
}

func (tx *memoryTx) SetTotalCommission(_ context.Context, id commission.SaleID, total decimal.Decimal) error {
	s, err := tx.m.saleLocked(id)
	if err != nil {
		return err
	}
	s.TotalCommission = total
	tx.m.sales[id] = s
	return nil
}

func (tx *memoryTx) SaveAggregates(_ context.Context, id commission.SaleID, agg commission.SaleAggregates) error {
	s, err := tx.m.saleLocked(id)
	if err != nil {
		return err
	}
	s.Aggregates = agg
	tx.m.sales[id] = s
	return nil
}

func (tx *memoryTx) Records(_ context.Context, saleID commission.SaleID) ([]commission.CommissionRecord, error) {
	out := append([]commission.CommissionRecord(nil), tx.m.records[saleID]...)
	commission.SortRecords(out)
	return out, nil
}

func (tx *memoryTx) InsertRecords(_ context.Context, records []commission.CommissionRecord) error {
	for _, r := range records {
		tx.m.records[r.SaleID] = append(tx.m.records[r.SaleID], r)
	}
	return nil
}

func (tx *memoryTx) UpdateRecords(_ context.Context, records []commission.CommissionRecord) error {
	for _, r := range records {
		rows := tx.m.records[r.SaleID]
		found := false
		for i := range rows {
			if rows[i].ID == r.ID {
				rows[i].Amount = r.Amount
				rows[i].EnabledAmount = r.EnabledAmount
				rows[i].PaidAmount = r.PaidAmount
				rows[i].Status = r.Status
				rows[i].UpdatedAt = r.UpdatedAt
				found = true
				break
			}
		}
		if !found {
			return &commission.NotFoundError{Entity: "commission record", ID: string(r.ID)}
		}
	}
	return nil
}

func (tx *memoryTx) DeleteRecords(_ context.Context, saleID commission.SaleID) error {
	delete(tx.m.records, saleID)
	return nil
}

func (tx *memoryTx) Events(_ context.Context, saleID commission.SaleID) ([]commission.CollectionEvent, error) {
	out := append([]commission.CollectionEvent(nil), tx.m.events[saleID]...)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (tx *memoryTx) Event(_ context.Context, id commission.EventID) (commission.CollectionEvent, error) {
	for _, evs := range tx.m.events {
		for _, ev := range evs {
			if ev.ID == id {
				return ev, nil
			}
		}
	}
	return commission.CollectionEvent{}, &commission.NotFoundError{Entity: "collection", ID: string(id)}
}

func (tx *memoryTx) InsertEvent(_ context.Context, ev commission.CollectionEvent) error {
	tx.m.events[ev.SaleID] = append(tx.m.events[ev.SaleID], ev)
	return nil
}

func (tx *memoryTx) UpdateEvent(_ context.Context, ev commission.CollectionEvent) error {
	rows := tx.m.events[ev.SaleID]
	for i := range rows {
		if rows[i].ID == ev.ID {
			rows[i] = ev
			return nil
		}
	}
	return &commission.NotFoundError{Entity: "collection", ID: string(ev.ID)}
}

func (tx *memoryTx) Payouts(_ context.Context, saleID commission.SaleID) ([]commission.Payout, error) {
	return append([]commission.Payout(nil), tx.m.payouts[saleID]...), nil
}
