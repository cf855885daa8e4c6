/*
store.go - Persistence and external collaborator interfaces

PURPOSE:
  Defines everything the core needs from the outside world. The core never
  opens connections or knows table names; it asks a Store for a locked,
  transactional view of one sale.

KEY INTERFACES:
  Store:               Sale lookups and the per-sale locked transaction
  Tx:                  Reads and writes inside that transaction
  ParticipantResolver: Who worked on a sale (CRM owned)
  TenantOwnerResolver: Who receives the company row (CRM owned)
  AuditSink:           Append-only audit destination (see audit.go)
  CurrencyConverter:   External conversion function

LOCKING CONTRACT:
  WithSaleLock runs fn in one transaction that holds the sale's write lock for
  the whole read-validate-write span. If fn returns an error nothing fn wrote is
  kept. Different sales never block each other by contract (an implementation
  may still serialize more coarsely, e.g. SQLite's single writer).

  Resolvers and sinks are called OUTSIDE of WithSaleLock. Implementations backed
  by a single connection would otherwise deadlock.

IMPLEMENTATIONS:
  - commission/store/memory.go: in-memory, for tests and demos
  - store/sqlite/sqlite.go:     SQLite via sqlx
*/
package commission

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	// WithSaleLock executes fn in a transaction holding saleID's lock.
	// Returns a NotFoundError if the sale does not exist.
	WithSaleLock(ctx context.Context, saleID SaleID, fn func(Tx) error) error

	// Sale reads a sale without taking its lock.
	Sale(ctx context.Context, id SaleID) (Sale, error)

	// EventSale returns the sale a collection event belongs to.
	EventSale(ctx context.Context, id EventID) (SaleID, error)

	// TenantSales lists a tenant's sales in a stable order.
	TenantSales(ctx context.Context, tenantID TenantID) ([]SaleID, error)

	// Tenants lists every tenant that owns at least one sale.
	Tenants(ctx context.Context) ([]TenantID, error)
}

// Tx is the transactional view handed to WithSaleLock callbacks.
type Tx interface {
	Sale(ctx context.Context, id SaleID) (Sale, error)
	SetTotalCommission(ctx context.Context, id SaleID, total decimal.Decimal) error
	SaveAggregates(ctx context.Context, id SaleID, agg SaleAggregates) error

	// Records returns the sale's commission records in role order.
	Records(ctx context.Context, saleID SaleID) ([]CommissionRecord, error)
	InsertRecords(ctx context.Context, records []CommissionRecord) error
	// UpdateRecords persists amount, enabled, paid, status and updated_at only.
	UpdateRecords(ctx context.Context, records []CommissionRecord) error
	DeleteRecords(ctx context.Context, saleID SaleID) error

	// Events returns every collection event of the sale, retracted ones
	// included, ordered by date then creation.
	Events(ctx context.Context, saleID SaleID) ([]CollectionEvent, error)
	Event(ctx context.Context, id EventID) (CollectionEvent, error)
	InsertEvent(ctx context.Context, ev CollectionEvent) error
	UpdateEvent(ctx context.Context, ev CollectionEvent) error

	// Payouts reads the payout sub-ledger. The core never writes it.
	Payouts(ctx context.Context, saleID SaleID) ([]Payout, error)
}

// =============================================================================
// EXTERNAL COLLABORATORS
// =============================================================================

type ParticipantResolver interface {
	Participants(ctx context.Context, saleID SaleID) ([]Participant, error)
}

type TenantOwnerResolver interface {
	TenantOwner(ctx context.Context, tenantID TenantID) (ParticipantRef, error)
}

// CurrencyConverter converts amount from one currency into another as of at.
type CurrencyConverter interface {
	Convert(ctx context.Context, amount decimal.Decimal, from, to string, at time.Time) (decimal.Decimal, error)
}
