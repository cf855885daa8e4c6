/*
Package commission provides the commission distribution and collection-enablement core.

PURPOSE:
  Given a closed sale's total commission and the people who contributed to it
  (seller, lister, referrer, external broker, agency), this package computes each
  participant's percentage share and, as the client pays the agency in installments,
  how much of each participant's commission is currently payable.

KEY CONCEPTS IN THIS FILE (types.go):
  - Sale: externally owned; only its commission fields are read/written here
  - Participant: a role plus an opaque identity (internal user or external contact)
  - CommissionRecord: one row per role with a non-zero share
  - DistributionSnapshot: the frozen share captured when a record is created
  - CollectionEvent: a client payment, soft-deletable, never hard-deleted
  - SaleAggregates: cached totals derived from the raw rows

DESIGN PRINCIPLES:
  1. Precision: money and percentages are decimal.Decimal, rounded to cents on write
  2. Re-derivation: aggregates are recomputed from raw rows, never incremented
  3. Type Safety: distinct ID types for sales, records and events
  4. Immutability: DistributionSnapshot has no setters

SEE ALSO:
  - distribution.go: share calculation
  - ledger.go: commission records
  - collection.go: client payments
  - enablement.go: enabled amounts and aggregates
*/
package commission

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type SaleID string
type TenantID string
type RecordID string
type EventID string

// =============================================================================
// MONEY
// =============================================================================

var (
	hundred = decimal.NewFromInt(100)

	// Tolerance is the slack allowed when comparing money and percentage sums.
	Tolerance = decimal.New(1, -2)
)

// RoundMoney rounds to cents, half away from zero.
func RoundMoney(d decimal.Decimal) decimal.Decimal { return d.Round(2) }

// ApproxEqual reports whether a and b differ by at most Tolerance.
func ApproxEqual(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Tolerance)
}

// =============================================================================
// PARTICIPANTS
// =============================================================================

// Role is the part a participant played in the sale.
type Role string

const (
	RoleSeller         Role = "seller"
	RoleLister         Role = "lister"
	RoleReferrer       Role = "referrer"
	RoleExternalBroker Role = "externalBroker"
	RoleCompany        Role = "company"
)

// roleOrder fixes the output order of distributions and record lists.
var roleOrder = []Role{RoleExternalBroker, RoleSeller, RoleLister, RoleReferrer, RoleCompany}

func (r Role) Valid() bool {
	for _, known := range roleOrder {
		if r == known {
			return true
		}
	}
	return false
}

func roleRank(r Role) int {
	for i, known := range roleOrder {
		if r == known {
			return i
		}
	}
	return len(roleOrder)
}

// RefKind says whether a participant is an internal user or an external contact.
type RefKind string

const (
	RefUser    RefKind = "user"
	RefContact RefKind = "contact"
)

// ParticipantRef is an identity this package treats as opaque.
type ParticipantRef struct {
	Kind RefKind `json:"kind"`
	ID   string  `json:"id,omitempty"`
	Name string  `json:"name,omitempty"`
}

// Key identifies the participant for diffing. External contacts without an id
// are keyed by normalized name.
func (p ParticipantRef) Key() string {
	if p.ID != "" {
		return string(p.Kind) + ":" + p.ID
	}
	return string(p.Kind) + ":name:" + strings.ToLower(strings.TrimSpace(p.Name))
}

func (p ParticipantRef) IsZero() bool {
	return p.ID == "" && strings.TrimSpace(p.Name) == ""
}

// Participant is a role plus the identity entitled to it.
type Participant struct {
	Role Role           `json:"role"`
	Ref  ParticipantRef `json:"ref"`
}

func (p Participant) pairKey() string { return string(p.Role) + "|" + p.Ref.Key() }

// =============================================================================
// SALE
// =============================================================================

type CollectionStatus string

const (
	CollectionPending   CollectionStatus = "pending"
	CollectionPartial   CollectionStatus = "partial"
	CollectionCollected CollectionStatus = "collected"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPartial PaymentStatus = "partial"
	PaymentPaid    PaymentStatus = "paid"
)

// SaleAggregates is the cache kept on the sale. It is always re-derived from
// collection events, commission records and payouts.
type SaleAggregates struct {
	TotalCollected          decimal.Decimal  `json:"total_collected"`
	PctCollected            decimal.Decimal  `json:"pct_collected"`
	AvailableCommission     decimal.Decimal  `json:"available_commission"`
	TotalPaidToParticipants decimal.Decimal  `json:"total_paid_to_participants"`
	CollectionStatus        CollectionStatus `json:"collection_status"`
	PaymentStatus           PaymentStatus    `json:"payment_status"`
}

// Sale is owned by the CRM. This package reads it and writes its commission
// total and aggregates only.
type Sale struct {
	ID              SaleID
	TenantID        TenantID
	TotalCommission decimal.Decimal
	ClosingValue    decimal.Decimal
	Currency        string
	Active          bool
	Cancelled       bool
	Aggregates      SaleAggregates
}

// =============================================================================
// COMMISSION RECORD
// =============================================================================

type RecordStatus string

const (
	RecordPending RecordStatus = "pending" // nothing enabled yet
	RecordPartial RecordStatus = "partial" // some of the amount is enabled
	RecordEnabled RecordStatus = "enabled" // full amount enabled
	RecordPaid    RecordStatus = "paid"    // full amount disbursed
)

// DistributionSnapshot is the share captured when a record was created.
// It has no setters; stores rebuild it with NewDistributionSnapshot.
type DistributionSnapshot struct {
	role        Role
	ref         ParticipantRef
	percentage  decimal.Decimal
	ruleVersion string
	capturedAt  time.Time
}

func NewDistributionSnapshot(role Role, ref ParticipantRef, percentage decimal.Decimal, ruleVersion string, capturedAt time.Time) DistributionSnapshot {
	return DistributionSnapshot{
		role:        role,
		ref:         ref,
		percentage:  percentage,
		ruleVersion: ruleVersion,
		capturedAt:  capturedAt.UTC(),
	}
}

func (s DistributionSnapshot) Role() Role                  { return s.role }
func (s DistributionSnapshot) Ref() ParticipantRef         { return s.ref }
func (s DistributionSnapshot) Percentage() decimal.Decimal { return s.percentage }
func (s DistributionSnapshot) RuleVersion() string         { return s.ruleVersion }
func (s DistributionSnapshot) CapturedAt() time.Time       { return s.capturedAt }

type snapshotJSON struct {
	Role        Role            `json:"role"`
	Ref         ParticipantRef  `json:"ref"`
	Percentage  decimal.Decimal `json:"percentage"`
	RuleVersion string          `json:"rule_version"`
	CapturedAt  time.Time       `json:"captured_at"`
}

func (s DistributionSnapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(snapshotJSON{
		Role:        s.role,
		Ref:         s.ref,
		Percentage:  s.percentage,
		RuleVersion: s.ruleVersion,
		CapturedAt:  s.capturedAt,
	})
}

// CommissionRecord is one participant's share of a sale's commission.
type CommissionRecord struct {
	ID            RecordID             `json:"id"`
	SaleID        SaleID               `json:"sale_id"`
	Role          Role                 `json:"role"`
	Ref           ParticipantRef       `json:"ref"`
	Percentage    decimal.Decimal      `json:"percentage"`
	Amount        decimal.Decimal      `json:"amount"`
	EnabledAmount decimal.Decimal      `json:"enabled_amount"`
	PaidAmount    decimal.Decimal      `json:"paid_amount"`
	Status        RecordStatus         `json:"status"`
	Snapshot      DistributionSnapshot `json:"snapshot"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

func (r CommissionRecord) participant() Participant {
	return Participant{Role: r.Role, Ref: r.Ref}
}

// =============================================================================
// COLLECTION EVENT
// =============================================================================

// CollectionEvent is a payment received from the client.
// Retraction flips Active; rows are never removed.
type CollectionEvent struct {
	ID          EventID         `json:"id"`
	SaleID      SaleID          `json:"sale_id"`
	Amount      decimal.Decimal `json:"amount"`
	Date        time.Time       `json:"date"`
	Method      string          `json:"method,omitempty"`
	Reference   string          `json:"reference,omitempty"`
	Notes       string          `json:"notes,omitempty"`
	Active      bool            `json:"active"`
	CreatedBy   string          `json:"created_by,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	RetractedAt *time.Time      `json:"retracted_at,omitempty"`
}

// =============================================================================
// PAYOUT - external sub-ledger row, read only
// =============================================================================

type Payout struct {
	ID       string          `json:"id"`
	SaleID   SaleID          `json:"sale_id"`
	RecordID RecordID        `json:"record_id"`
	Amount   decimal.Decimal `json:"amount"`
	PaidAt   time.Time       `json:"paid_at"`
	Active   bool            `json:"active"`
}
