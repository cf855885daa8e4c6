/*
ledger.go - Commission records per sale

PURPOSE:
  Persists one CommissionRecord per role with a non-zero share and keeps the
  set in step with the sale's participants and total commission.

ComputeAndPersist DECISION TABLE:
  total <= 0                        -> skip, empty result, no error
  no records yet                    -> compute shares, insert (created)
  same (role, identity) pairs       -> keep percentages, rescale amounts (rescaled)
  different pairs                   -> delete all, insert fresh (regenerated)

  Rescaling keeps the split that was already communicated to participants even
  if the rule table changed since; only a change of WHO is involved re-cuts it.

ROUNDING:
  amount = round(total x percentage / 100, 2). The cent left over by rounding,
  if any, goes to the company row so the amounts always add up to the total.

RECORD IDS:
  On regeneration a (role, identity) pair that survives keeps its record id,
  so payouts already booked against it stay attached.

SEE ALSO:
  - distribution.go: the shares
  - enablement.go: re-derived in the same transaction after every write
*/
package commission

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type CommissionLedger struct {
	store  Store
	rules  *RuleBook
	owners TenantOwnerResolver
	engine *EnablementEngine
	audit  *AuditTrail
	log    *zap.Logger
	now    func() time.Time
}

func NewCommissionLedger(store Store, rules *RuleBook, owners TenantOwnerResolver, engine *EnablementEngine, audit *AuditTrail, log *zap.Logger, now func() time.Time) *CommissionLedger {
	if rules == nil {
		rules = DefaultRuleBook()
	}
	if log == nil {
		log = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &CommissionLedger{store: store, rules: rules, owners: owners, engine: engine, audit: audit, log: log, now: now}
}

type ledgerOutcome int

const (
	outcomeUnchanged ledgerOutcome = iota
	outcomeCreated
	outcomeRescaled
	outcomeRegenerated
)

// ComputeAndPersist brings the sale's commission records in line with
// totalCommission and participants. See the decision table above.
func (l *CommissionLedger) ComputeAndPersist(ctx context.Context, saleID SaleID, totalCommission decimal.Decimal, participants []Participant) ([]CommissionRecord, error) {
	if !totalCommission.IsPositive() {
		l.log.Info("commission skipped: no commission on sale", zap.String("sale_id", string(saleID)))
		return []CommissionRecord{}, nil
	}

	sale, err := l.store.Sale(ctx, saleID)
	if err != nil {
		return nil, err
	}
	if sale.Cancelled {
		l.log.Info("commission skipped: sale cancelled", zap.String("sale_id", string(saleID)))
		return []CommissionRecord{}, nil
	}

	owner, err := l.companyOwner(ctx, sale, participants)
	if err != nil {
		return nil, err
	}
	rules := l.rules.Active()
	shares, err := Compute(participants, owner, rules)
	if err != nil {
		return nil, err
	}

	total := RoundMoney(totalCommission)
	var (
		before  []CommissionRecord
		result  []CommissionRecord
		outcome ledgerOutcome
	)
	err = l.store.WithSaleLock(ctx, saleID, func(tx Tx) error {
		existing, err := tx.Records(ctx, saleID)
		if err != nil {
			return err
		}
		before = existing
		now := l.now().UTC()

		if err := tx.SetTotalCommission(ctx, saleID, total); err != nil {
			return err
		}

		switch {
		case len(existing) == 0:
			outcome = outcomeCreated
			if err := tx.InsertRecords(ctx, buildRecords(saleID, total, shares, rules.Version, now, nil)); err != nil {
				return err
			}
		case samePairs(existing, shares):
			rescaled, changed := rescale(existing, total, now)
			if changed {
				outcome = outcomeRescaled
				if err := tx.UpdateRecords(ctx, rescaled); err != nil {
					return err
				}
			}
		default:
			outcome = outcomeRegenerated
			keep := make(map[string]RecordID, len(existing))
			for _, r := range existing {
				keep[r.participant().pairKey()] = r.ID
			}
			if err := tx.DeleteRecords(ctx, saleID); err != nil {
				return err
			}
			if err := tx.InsertRecords(ctx, buildRecords(saleID, total, shares, rules.Version, now, keep)); err != nil {
				return err
			}
		}

		_, d, err := l.engine.recomputeTx(ctx, tx, saleID)
		if err != nil {
			return err
		}
		result = d.Records
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.recordOutcome(ctx, saleID, outcome, total, before, result)
	return result, nil
}

// Records returns the sale's current commission records.
func (l *CommissionLedger) Records(ctx context.Context, saleID SaleID) ([]CommissionRecord, error) {
	var out []CommissionRecord
	err := l.store.WithSaleLock(ctx, saleID, func(tx Tx) error {
		var err error
		out, err = tx.Records(ctx, saleID)
		return err
	})
	return out, err
}

func (l *CommissionLedger) companyOwner(ctx context.Context, sale Sale, participants []Participant) (ParticipantRef, error) {
	for _, p := range participants {
		if p.Role == RoleCompany {
			return p.Ref, nil
		}
	}
	if l.owners == nil {
		return ParticipantRef{}, nil
	}
	return l.owners.TenantOwner(ctx, sale.TenantID)
}

func (l *CommissionLedger) recordOutcome(ctx context.Context, saleID SaleID, outcome ledgerOutcome, total decimal.Decimal, before, after []CommissionRecord) {
	var change ChangeType
	switch outcome {
	case outcomeCreated:
		change = ChangeCommissionCreated
	case outcomeRescaled:
		change = ChangeCommissionRescaled
	case outcomeRegenerated:
		change = ChangeCommissionRegenerated
	default:
		return
	}
	l.log.Info("commission records written",
		zap.String("sale_id", string(saleID)),
		zap.String("change", string(change)),
		zap.Int("records", len(after)),
		zap.String("total", total.StringFixed(2)))
	l.audit.Record(ctx, saleID, change, EntityCommission, string(saleID), before, after,
		string(change)+": "+total.StringFixed(2)+" across "+strconv.Itoa(len(after))+" records")
}

// =============================================================================
// HELPERS
// =============================================================================

// PreviewRecords builds the records ComputeAndPersist would insert for shares,
// rounded the same way, without touching any store.
func PreviewRecords(total decimal.Decimal, shares []Share, ruleVersion string, at time.Time) []CommissionRecord {
	return buildRecords("", RoundMoney(total), shares, ruleVersion, at.UTC(), nil)
}

// buildRecords turns shares into records. keep maps pair keys to record ids
// that must be reused.
func buildRecords(saleID SaleID, total decimal.Decimal, shares []Share, ruleVersion string, now time.Time, keep map[string]RecordID) []CommissionRecord {
	records := make([]CommissionRecord, 0, len(shares))
	for _, s := range shares {
		id, ok := keep[s.participant().pairKey()]
		if !ok {
			id = RecordID(uuid.NewString())
		}
		records = append(records, CommissionRecord{
			ID:            id,
			SaleID:        saleID,
			Role:          s.Role,
			Ref:           s.Ref,
			Percentage:    s.Percentage,
			Amount:        RoundMoney(total.Mul(s.Percentage).Div(hundred)),
			EnabledAmount: decimal.Zero,
			PaidAmount:    decimal.Zero,
			Status:        RecordPending,
			Snapshot:      NewDistributionSnapshot(s.Role, s.Ref, s.Percentage, ruleVersion, now),
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}
	absorbResidual(records, total)
	return records
}

// rescale recomputes amounts from each record's own percentage.
func rescale(existing []CommissionRecord, total decimal.Decimal, now time.Time) ([]CommissionRecord, bool) {
	out := make([]CommissionRecord, len(existing))
	for i, r := range existing {
		r.Amount = RoundMoney(total.Mul(r.Percentage).Div(hundred))
		out[i] = r
	}
	absorbResidual(out, total)

	changed := false
	for i := range out {
		if !out[i].Amount.Equal(existing[i].Amount) {
			out[i].UpdatedAt = now
			changed = true
		}
	}
	return out, changed
}

// absorbResidual puts the rounding difference on the company row, or on the
// largest share when there is no company row.
func absorbResidual(records []CommissionRecord, total decimal.Decimal) {
	if len(records) == 0 {
		return
	}
	sum := decimal.Zero
	target := 0
	for i, r := range records {
		sum = sum.Add(r.Amount)
		if r.Role == RoleCompany {
			target = i
		}
	}
	if residual := total.Sub(sum); !residual.IsZero() {
		if records[target].Role != RoleCompany {
			for i, r := range records {
				if r.Percentage.GreaterThan(records[target].Percentage) {
					target = i
				}
			}
		}
		records[target].Amount = records[target].Amount.Add(residual)
	}
}

// samePairs reports whether existing records and target shares name exactly
// the same (role, identity) pairs.
func samePairs(existing []CommissionRecord, shares []Share) bool {
	if len(existing) != len(shares) {
		return false
	}
	want := make(map[string]bool, len(shares))
	for _, s := range shares {
		want[s.participant().pairKey()] = true
	}
	for _, r := range existing {
		if !want[r.participant().pairKey()] {
			return false
		}
	}
	return true
}

// SortRecords orders records by role: broker, seller, lister, referrer, company.
func SortRecords(records []CommissionRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return roleRank(records[i].Role) < roleRank(records[j].Role)
	})
}
