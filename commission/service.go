/*
service.go - Wiring of the commission components

PURPOSE:
  Builds the ledgers, the enablement engine and the audit trail over one store,
  and adds the operations that span them: syncing a sale from its CRM
  participants and recomputing whole tenants.

TENANT RECOMPUTE:
  Sales are recomputed one at a time, each under its own lock. A failure is
  recorded in the report and the loop moves on.
*/
package commission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Options wires a Service. Only Store is required.
type Options struct {
	Store        Store
	Rules        *RuleBook
	Participants ParticipantResolver
	Owners       TenantOwnerResolver
	Audit        AuditSink
	Converter    CurrencyConverter
	Logger       *zap.Logger
	Clock        func() time.Time
}

// Service bundles the components over one store.
type Service struct {
	Rules       *RuleBook
	Ledger      *CommissionLedger
	Collections *CollectionLedger
	Enablement  *EnablementEngine
	Audit       *AuditTrail

	store        Store
	participants ParticipantResolver
	log          *zap.Logger
}

func NewService(opts Options) *Service {
	if opts.Rules == nil {
		opts.Rules = DefaultRuleBook()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	audit := NewAuditTrail(opts.Audit, opts.Logger.Named("audit"), opts.Clock)
	engine := NewEnablementEngine(opts.Store, audit, opts.Logger.Named("enablement"), opts.Clock)
	return &Service{
		Rules:        opts.Rules,
		Ledger:       NewCommissionLedger(opts.Store, opts.Rules, opts.Owners, engine, audit, opts.Logger.Named("ledger"), opts.Clock),
		Collections:  NewCollectionLedger(opts.Store, engine, audit, opts.Converter, opts.Logger.Named("collections"), opts.Clock),
		Enablement:   engine,
		Audit:        audit,
		store:        opts.Store,
		participants: opts.Participants,
		log:          opts.Logger,
	}
}

func (s *Service) Sale(ctx context.Context, id SaleID) (Sale, error) {
	return s.store.Sale(ctx, id)
}

// SyncSale reads the sale's commission total and participants from the CRM and
// runs ComputeAndPersist with them.
func (s *Service) SyncSale(ctx context.Context, saleID SaleID) ([]CommissionRecord, error) {
	if s.participants == nil {
		return nil, errors.New("sync sale: no participant resolver configured")
	}
	sale, err := s.store.Sale(ctx, saleID)
	if err != nil {
		return nil, err
	}
	participants, err := s.participants.Participants(ctx, saleID)
	if err != nil {
		return nil, fmt.Errorf("resolve participants of %s: %w", saleID, err)
	}
	return s.Ledger.ComputeAndPersist(ctx, saleID, sale.TotalCommission, participants)
}

// =============================================================================
// TENANT RECOMPUTE - administrative repair
// =============================================================================

type TenantRecomputeReport struct {
	TenantID TenantID
	Sales    int
	Failed   map[SaleID]error
	Totals   SaleAggregates // sums across the tenant's sales; statuses unset
}

// RecomputeTenant recomputes every sale of a tenant one after the other.
// No global lock is taken; each sale only locks itself. A failing sale does not
// stop the loop; all failures are joined into the returned error.
func (s *Service) RecomputeTenant(ctx context.Context, tenantID TenantID) (TenantRecomputeReport, error) {
	report := TenantRecomputeReport{TenantID: tenantID, Failed: make(map[SaleID]error)}
	ids, err := s.store.TenantSales(ctx, tenantID)
	if err != nil {
		return report, err
	}

	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		agg, err := s.Enablement.Recompute(ctx, id)
		if err != nil {
			report.Failed[id] = err
			errs = append(errs, fmt.Errorf("sale %s: %w", id, err))
			s.log.Warn("tenant recompute: sale failed",
				zap.String("tenant_id", string(tenantID)),
				zap.String("sale_id", string(id)),
				zap.Error(err))
			continue
		}
		report.Sales++
		report.Totals.TotalCollected = report.Totals.TotalCollected.Add(agg.TotalCollected)
		report.Totals.AvailableCommission = report.Totals.AvailableCommission.Add(agg.AvailableCommission)
		report.Totals.TotalPaidToParticipants = report.Totals.TotalPaidToParticipants.Add(agg.TotalPaidToParticipants)
	}
	return report, errors.Join(errs...)
}

// RecomputeAll runs RecomputeTenant for every tenant.
func (s *Service) RecomputeAll(ctx context.Context) ([]TenantRecomputeReport, error) {
	tenants, err := s.store.Tenants(ctx)
	if err != nil {
		return nil, err
	}
	var (
		reports []TenantRecomputeReport
		errs    []error
	)
	for _, t := range tenants {
		r, err := s.RecomputeTenant(ctx, t)
		reports = append(reports, r)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return reports, errors.Join(errs...)
}
