/*
enablement.go - Enabled amounts and sale aggregates

PURPOSE:
  As the client pays the agency, each participant may be paid the same
  proportion of their commission. Derive computes that from raw rows only;
  EnablementEngine is the thin adapter that loads the rows under the sale lock
  and writes back whatever changed.

DERIVATION:
  totalCollected = sum(active collection amounts)
  pctCollected   = clamp(totalCollected / totalCommission x 100, 0, 100), 0 if no commission
  enabledAmount  = round(amount x pctCollected / 100, 2)   (non-company rows)
  enabledAmount  = 0                                       (company row)
  paidAmount     = sum(active payouts of the record)

  collectionStatus: pending (nothing collected) | collected (>= total) | partial
  paymentStatus:    pending (nothing paid) | paid (>= non-company amounts) | partial

IDEMPOTENCE:
  Nothing is incremented. Running Recompute twice without new events writes
  nothing the second time and yields identical aggregates, so Recompute is the
  repair tool after any partially completed mutation.
*/
package commission

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// FUNCTIONAL CORE
// =============================================================================

// Derivation is the result of Derive.
type Derivation struct {
	Aggregates SaleAggregates
	Records    []CommissionRecord
}

// Derive recomputes aggregates and per-record enabled/paid amounts.
// records is not modified; Derivation.Records holds updated copies.
func Derive(totalCommission decimal.Decimal, events []CollectionEvent, records []CommissionRecord, payouts []Payout) Derivation {
	collected := activeTotal(events, "")

	pct := decimal.Zero
	if totalCommission.IsPositive() {
		pct = collected.Div(totalCommission).Mul(hundred)
		if pct.GreaterThan(hundred) {
			pct = hundred
		}
		if pct.IsNegative() {
			pct = decimal.Zero
		}
	}

	paid := SummarizePayouts(payouts)
	owed := decimal.Zero
	out := make([]CommissionRecord, len(records))
	for i, r := range records {
		r.PaidAmount = paid.ByRecord[r.ID]
		if r.Role == RoleCompany {
			r.EnabledAmount = decimal.Zero
		} else {
			r.EnabledAmount = enabledFor(r.Amount, pct)
			owed = owed.Add(r.Amount)
		}
		r.Status = recordStatus(r)
		out[i] = r
	}

	return Derivation{
		Aggregates: SaleAggregates{
			TotalCollected:          collected,
			PctCollected:            pct.Round(4),
			AvailableCommission:     collected,
			TotalPaidToParticipants: paid.TotalPaid,
			CollectionStatus:        collectionStatusFor(collected, totalCommission),
			PaymentStatus:           PaymentStatusFor(paid.TotalPaid, owed),
		},
		Records: out,
	}
}

func enabledFor(amount, pct decimal.Decimal) decimal.Decimal {
	if !amount.IsPositive() {
		return decimal.Zero
	}
	enabled := RoundMoney(amount.Mul(pct).Div(hundred))
	if enabled.GreaterThan(amount) {
		return amount
	}
	if enabled.IsNegative() {
		return decimal.Zero
	}
	return enabled
}

func collectionStatusFor(collected, total decimal.Decimal) CollectionStatus {
	switch {
	case !collected.IsPositive():
		return CollectionPending
	case collected.GreaterThanOrEqual(total):
		return CollectionCollected
	default:
		return CollectionPartial
	}
}

func recordStatus(r CommissionRecord) RecordStatus {
	switch {
	case r.Amount.IsPositive() && r.PaidAmount.GreaterThanOrEqual(r.Amount):
		return RecordPaid
	case !r.EnabledAmount.IsPositive():
		return RecordPending
	case r.EnabledAmount.GreaterThanOrEqual(r.Amount):
		return RecordEnabled
	default:
		return RecordPartial
	}
}

// activeTotal sums active events, skipping the event with id exclude.
func activeTotal(events []CollectionEvent, exclude EventID) decimal.Decimal {
	total := decimal.Zero
	for _, ev := range events {
		if !ev.Active || (exclude != "" && ev.ID == exclude) {
			continue
		}
		total = total.Add(ev.Amount)
	}
	return total
}

func aggregatesEqual(a, b SaleAggregates) bool {
	return a.TotalCollected.Equal(b.TotalCollected) &&
		a.PctCollected.Equal(b.PctCollected) &&
		a.AvailableCommission.Equal(b.AvailableCommission) &&
		a.TotalPaidToParticipants.Equal(b.TotalPaidToParticipants) &&
		a.CollectionStatus == b.CollectionStatus &&
		a.PaymentStatus == b.PaymentStatus
}

func recordDerivedEqual(a, b CommissionRecord) bool {
	return a.EnabledAmount.Equal(b.EnabledAmount) &&
		a.PaidAmount.Equal(b.PaidAmount) &&
		a.Status == b.Status
}

// =============================================================================
// ENGINE - persistence adapter
// =============================================================================

type EnablementEngine struct {
	store Store
	audit *AuditTrail
	log   *zap.Logger
	now   func() time.Time
}

func NewEnablementEngine(store Store, audit *AuditTrail, log *zap.Logger, now func() time.Time) *EnablementEngine {
	if log == nil {
		log = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &EnablementEngine{store: store, audit: audit, log: log, now: now}
}

// Recompute re-derives the sale's aggregates and enabled amounts from the
// persisted rows and writes what changed.
func (e *EnablementEngine) Recompute(ctx context.Context, saleID SaleID) (SaleAggregates, error) {
	var before, after SaleAggregates
	err := e.store.WithSaleLock(ctx, saleID, func(tx Tx) error {
		sale, d, err := e.recomputeTx(ctx, tx, saleID)
		if err != nil {
			return err
		}
		before, after = sale.Aggregates, d.Aggregates
		return nil
	})
	if err != nil {
		return SaleAggregates{}, err
	}

	if !aggregatesEqual(before, after) {
		e.log.Debug("aggregates recomputed",
			zap.String("sale_id", string(saleID)),
			zap.String("total_collected", after.TotalCollected.StringFixed(2)),
			zap.String("pct_collected", after.PctCollected.String()))
		e.audit.Record(ctx, saleID, ChangeAggregatesRecomputed, EntitySale, string(saleID), before, after,
			"collected "+after.TotalCollected.StringFixed(2)+" ("+after.PctCollected.String()+"%)")
	}
	return after, nil
}

// recomputeTx runs inside an existing sale lock. It returns the sale as it was
// before the write.
func (e *EnablementEngine) recomputeTx(ctx context.Context, tx Tx, saleID SaleID) (Sale, Derivation, error) {
	sale, err := tx.Sale(ctx, saleID)
	if err != nil {
		return Sale{}, Derivation{}, err
	}
	events, err := tx.Events(ctx, saleID)
	if err != nil {
		return Sale{}, Derivation{}, err
	}
	records, err := tx.Records(ctx, saleID)
	if err != nil {
		return Sale{}, Derivation{}, err
	}
	payouts, err := tx.Payouts(ctx, saleID)
	if err != nil {
		return Sale{}, Derivation{}, err
	}

	d := Derive(sale.TotalCommission, events, records, payouts)

	var changed []CommissionRecord
	now := e.now().UTC()
	for i := range d.Records {
		if !recordDerivedEqual(records[i], d.Records[i]) {
			d.Records[i].UpdatedAt = now
			changed = append(changed, d.Records[i])
		}
	}
	if len(changed) > 0 {
		if err := tx.UpdateRecords(ctx, changed); err != nil {
			return Sale{}, Derivation{}, err
		}
	}
	if !aggregatesEqual(sale.Aggregates, d.Aggregates) {
		if err := tx.SaveAggregates(ctx, saleID, d.Aggregates); err != nil {
			return Sale{}, Derivation{}, err
		}
	}
	return sale, d, nil
}
