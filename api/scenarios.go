/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	sales for demos. Each scenario creates a tenant, its sales and CRM role
	assignments, syncs the commission records and registers collections.

AVAILABLE SCENARIOS:

	simple-sale:         Seller and lister, 40% collected
	external-broker:     Broker halves every other share, fully collected, seller paid
	rounding:            Awkward total where the company row absorbs the cent residual
	blocked-retraction:  Payouts already exceed what a retraction would leave

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create the demo tenant and its owner
 3. Create sales and participants
 4. Sync commission records through the service
 5. Register collections and payouts

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "external-broker"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Setup methods used here
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/commission-engine/commission"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

const demoTenant commission.TenantID = "agency-demo"

var demoOwner = commission.ParticipantRef{Kind: commission.RefUser, ID: "owner-1", Name: "Agency Owner"}

var scenarios = []ScenarioDTO{
	{
		ID:          "simple-sale",
		Name:        "Simple Sale",
		Description: "Seller and lister on a 25,000 commission, 40% collected",
	},
	{
		ID:          "external-broker",
		Name:        "External Broker",
		Description: "Co-brokered sale: broker takes 50%, other shares halved; fully collected and seller paid",
	},
	{
		ID:          "rounding",
		Name:        "Rounding Residual",
		Description: "333.33 split three ways plus company; amounts still sum to the total",
	},
	{
		ID:          "blocked-retraction",
		Name:        "Blocked Retraction",
		Description: "4,000 already paid out; retracting the 2,000 collection would leave payouts uncovered",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	if h.currentScenario == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == h.currentScenario {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: h.currentScenario, Name: h.currentScenario})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	ctx := r.Context()

	// Reset first
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	var err error
	switch req.ScenarioID {
	case "simple-sale":
		err = h.loadSimpleSaleScenario(ctx)
	case "external-broker":
		err = h.loadExternalBrokerScenario(ctx)
	case "rounding":
		err = h.loadRoundingScenario(ctx)
	case "blocked-retraction":
		err = h.loadBlockedRetractionScenario(ctx)
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.currentScenario = req.ScenarioID
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadSimpleSaleScenario(ctx context.Context) error {
	if err := h.seedSale(ctx, "sale-1001", "25000", "500000",
		commission.Participant{Role: commission.RoleSeller, Ref: user("agent-ana", "Ana Ruiz")},
		commission.Participant{Role: commission.RoleLister, Ref: user("agent-carlos", "Carlos Vega")},
	); err != nil {
		return err
	}
	return h.collect(ctx, "sale-1001", "10000", day(2026, time.February, 3), "TRX-88120")
}

func (h *Handler) loadExternalBrokerScenario(ctx context.Context) error {
	if err := h.seedSale(ctx, "sale-2001", "40000", "800000",
		commission.Participant{Role: commission.RoleExternalBroker, Ref: commission.ParticipantRef{Kind: commission.RefContact, ID: "contact-77", Name: "Coastline Realty"}},
		commission.Participant{Role: commission.RoleSeller, Ref: user("agent-ana", "Ana Ruiz")},
		commission.Participant{Role: commission.RoleLister, Ref: user("agent-carlos", "Carlos Vega")},
		commission.Participant{Role: commission.RoleReferrer, Ref: commission.ParticipantRef{Kind: commission.RefContact, Name: "Walk-in Referral"}},
	); err != nil {
		return err
	}
	if err := h.collect(ctx, "sale-2001", "15000", day(2026, time.January, 12), "TRX-1"); err != nil {
		return err
	}
	if err := h.collect(ctx, "sale-2001", "25000", day(2026, time.February, 20), "TRX-2"); err != nil {
		return err
	}
	// Seller: 25% of 40,000
	return h.payout(ctx, "sale-2001", commission.RoleSeller, "10000", day(2026, time.February, 28))
}

func (h *Handler) loadRoundingScenario(ctx context.Context) error {
	if err := h.seedSale(ctx, "sale-3001", "333.33", "11111",
		commission.Participant{Role: commission.RoleSeller, Ref: user("agent-ana", "Ana Ruiz")},
		commission.Participant{Role: commission.RoleLister, Ref: user("agent-carlos", "Carlos Vega")},
		commission.Participant{Role: commission.RoleReferrer, Ref: user("agent-lu", "Lu Chen")},
	); err != nil {
		return err
	}
	return h.collect(ctx, "sale-3001", "111.11", day(2026, time.March, 2), "CASH-4")
}

func (h *Handler) loadBlockedRetractionScenario(ctx context.Context) error {
	if err := h.seedSale(ctx, "sale-4001", "10000", "200000",
		commission.Participant{Role: commission.RoleSeller, Ref: user("agent-ana", "Ana Ruiz")},
	); err != nil {
		return err
	}
	if err := h.collect(ctx, "sale-4001", "3000", day(2026, time.January, 5), "TRX-A"); err != nil {
		return err
	}
	if err := h.collect(ctx, "sale-4001", "2000", day(2026, time.January, 19), "TRX-B"); err != nil {
		return err
	}
	return h.payout(ctx, "sale-4001", commission.RoleSeller, "4000", day(2026, time.January, 25))
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) seedSale(ctx context.Context, id commission.SaleID, total, closing string, participants ...commission.Participant) error {
	if err := h.Store.SaveTenant(ctx, demoTenant, demoOwner); err != nil {
		return err
	}
	if err := h.Store.SaveSale(ctx, commission.Sale{
		ID:              id,
		TenantID:        demoTenant,
		TotalCommission: decimal.RequireFromString(total),
		ClosingValue:    decimal.RequireFromString(closing),
		Currency:        "USD",
		Active:          true,
	}); err != nil {
		return err
	}
	if err := h.Store.SetParticipants(ctx, id, participants); err != nil {
		return err
	}
	_, err := h.Service.SyncSale(ctx, id)
	return err
}

func (h *Handler) collect(ctx context.Context, saleID commission.SaleID, amount string, date time.Time, reference string) error {
	_, err := h.Service.Collections.Register(ctx, saleID, commission.CollectionInput{
		Amount:    decimal.RequireFromString(amount),
		Date:      date,
		Method:    "bank_transfer",
		Reference: reference,
	})
	return err
}

// payout books a disbursement for the record of role and recomputes the sale
// so paid amounts show up immediately.
func (h *Handler) payout(ctx context.Context, saleID commission.SaleID, role commission.Role, amount string, paidAt time.Time) error {
	records, err := h.Service.Ledger.Records(ctx, saleID)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if rec.Role != role {
			continue
		}
		if err := h.Store.AppendPayout(ctx, commission.Payout{
			ID:       fmt.Sprintf("payout-%s-%s", saleID, role),
			SaleID:   saleID,
			RecordID: rec.ID,
			Amount:   decimal.RequireFromString(amount),
			PaidAt:   paidAt,
			Active:   true,
		}); err != nil {
			return err
		}
		_, err := h.Service.Enablement.Recompute(ctx, saleID)
		return err
	}
	return fmt.Errorf("sale %s has no %s record", saleID, role)
}

func user(id, name string) commission.ParticipantRef {
	return commission.ParticipantRef{Kind: commission.RefUser, ID: id, Name: name}
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
