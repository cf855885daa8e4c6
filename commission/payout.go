/*
payout.go - Read side of the payout sub-ledger

PURPOSE:
  Payouts are owned by another ledger; this package only reads them. Inactive
  rows are ignored everywhere. The sums feed record status, the sale's payment
  status and the guard that keeps payouts covered by collections.

SEE ALSO:
  - enablement.go: per-record paid amounts and status
  - collection.go: Edit and Retract guards
*/
package commission

import (
	"context"

	"github.com/shopspring/decimal"
)

// PayoutSummary totals the active rows of the payout sub-ledger for one sale.
type PayoutSummary struct {
	TotalPaid decimal.Decimal
	ByRecord  map[RecordID]decimal.Decimal
}

func SummarizePayouts(payouts []Payout) PayoutSummary {
	s := PayoutSummary{TotalPaid: decimal.Zero, ByRecord: make(map[RecordID]decimal.Decimal)}
	for _, p := range payouts {
		if !p.Active {
			continue
		}
		s.TotalPaid = s.TotalPaid.Add(p.Amount)
		s.ByRecord[p.RecordID] = s.ByRecord[p.RecordID].Add(p.Amount)
	}
	return s
}

// PaymentStatusFor compares what was paid out with what participants are owed.
func PaymentStatusFor(totalPaid, owed decimal.Decimal) PaymentStatus {
	switch {
	case !totalPaid.IsPositive():
		return PaymentPending
	case totalPaid.GreaterThanOrEqual(owed):
		return PaymentPaid
	default:
		return PaymentPartial
	}
}

// ensureCoveredByCollections is the retraction/edit gate: money already paid
// to participants must stay covered by what remains collected.
func ensureCoveredByCollections(ctx context.Context, tx Tx, saleID SaleID, available decimal.Decimal) error {
	payouts, err := tx.Payouts(ctx, saleID)
	if err != nil {
		return err
	}
	paid := SummarizePayouts(payouts).TotalPaid
	if paid.GreaterThan(available) {
		return &DependentPayoutsError{SaleID: saleID, TotalPaid: paid, Available: available}
	}
	return nil
}
