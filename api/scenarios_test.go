/*
scenarios_test.go - Unit tests for demo scenarios

PURPOSE:
	Tests that each scenario correctly sets up the expected state:
	- Sales and commission records are created
	- Collections are registered and aggregates derived
	- Amounts always sum to the sale's commission

These tests ensure scenarios work correctly and can be used as integration tests.
*/
package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/warp/commission-engine/commission"
)

func TestScenario_AllLoad(t *testing.T) {
	for _, sc := range scenarios {
		t.Run(sc.ID, func(t *testing.T) {
			s := setupTestServer(t)
			rec := s.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: sc.ID})
			if rec.Code != http.StatusOK {
				t.Fatalf("Expected 200 loading %s, got %d: %s", sc.ID, rec.Code, rec.Body.String())
			}
			if s.handler.currentScenario != sc.ID {
				t.Errorf("Expected current scenario %s, got %s", sc.ID, s.handler.currentScenario)
			}

			ctx := context.Background()
			ids, err := s.store.TenantSales(ctx, demoTenant)
			if err != nil {
				t.Fatalf("Failed to list sales: %v", err)
			}
			if len(ids) == 0 {
				t.Fatal("Scenario created no sales")
			}
			for _, id := range ids {
				sale, err := s.handler.Service.Sale(ctx, id)
				if err != nil {
					t.Fatalf("Failed to load sale %s: %v", id, err)
				}
				records, err := s.handler.Service.Ledger.Records(ctx, id)
				if err != nil {
					t.Fatalf("Failed to load records of %s: %v", id, err)
				}
				sum := decimal.Zero
				for _, r := range records {
					sum = sum.Add(r.Amount)
					if r.EnabledAmount.GreaterThan(r.Amount) {
						t.Errorf("%s %s: enabled %s exceeds amount %s", id, r.Role, r.EnabledAmount, r.Amount)
					}
				}
				if !sum.Equal(sale.TotalCommission) {
					t.Errorf("%s: amounts sum to %s, want %s", id, sum, sale.TotalCommission)
				}
			}
		})
	}
}

func TestScenario_ExternalBroker(t *testing.T) {
	// GIVEN: the external-broker scenario
	s := setupTestServer(t)
	ctx := context.Background()
	if err := s.handler.loadExternalBrokerScenario(ctx); err != nil {
		t.Fatalf("Failed to load scenario: %v", err)
	}

	// THEN: fully collected, seller paid, others not yet
	sale, err := s.handler.Service.Sale(ctx, "sale-2001")
	if err != nil {
		t.Fatalf("Failed to load sale: %v", err)
	}
	if sale.Aggregates.CollectionStatus != commission.CollectionCollected {
		t.Errorf("Expected collected, got %s", sale.Aggregates.CollectionStatus)
	}
	if sale.Aggregates.PaymentStatus != commission.PaymentPartial {
		t.Errorf("Expected partial payment, got %s", sale.Aggregates.PaymentStatus)
	}

	records, err := s.handler.Service.Ledger.Records(ctx, "sale-2001")
	if err != nil {
		t.Fatalf("Failed to load records: %v", err)
	}
	want := map[commission.Role]string{
		commission.RoleExternalBroker: "20000.00",
		commission.RoleSeller:         "10000.00",
		commission.RoleLister:         "3000.00",
		commission.RoleReferrer:       "1000.00",
		commission.RoleCompany:        "6000.00",
	}
	for _, r := range records {
		if got := r.Amount.StringFixed(2); got != want[r.Role] {
			t.Errorf("%s: expected %s, got %s", r.Role, want[r.Role], got)
		}
		if r.Role == commission.RoleSeller && r.Status != commission.RecordPaid {
			t.Errorf("Expected seller record paid, got %s", r.Status)
		}
	}
}

func TestScenario_BlockedRetraction(t *testing.T) {
	s := setupTestServer(t)
	ctx := context.Background()
	if err := s.handler.loadBlockedRetractionScenario(ctx); err != nil {
		t.Fatalf("Failed to load scenario: %v", err)
	}

	events, err := s.handler.Service.Collections.Events(ctx, "sale-4001")
	if err != nil {
		t.Fatalf("Failed to load events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}

	rec := s.do(t, http.MethodDelete, "/api/collections/"+string(events[1].ID), nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("Expected 409 retracting a covered collection, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestScenario_Unknown(t *testing.T) {
	s := setupTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}

	rec = s.do(t, http.MethodGet, "/api/scenarios", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 listing scenarios, got %d", rec.Code)
	}
}
