package commission_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/commission-engine/commission"
)

// =============================================================================
// REGISTER
// =============================================================================

func TestRegister_OverCollectionRejected_ExactFillAccepted(t *testing.T) {
	// GIVEN: commission 1000 with 900 already collected
	f := newFixture(t)
	saleID := f.saleWithRecords(t, "sale-1", "1000", seller(agentA))
	f.collect(t, saleID, "900")

	// WHEN: registering 150
	_, err := f.svc.Collections.Register(f.ctx, saleID, commission.CollectionInput{Amount: money("150")})

	// THEN: OverCollectionError by 50
	var over *commission.OverCollectionError
	require.ErrorAs(t, err, &over)
	assertMoney(t, "50", over.Excess)
	assertMoney(t, "900", over.Collected)
	assert.True(t, commission.IsConflict(err))

	// WHEN: registering 100 instead
	f.collect(t, saleID, "100")

	// THEN: fully collected
	sale, err := f.svc.Sale(f.ctx, saleID)
	require.NoError(t, err)
	assertMoney(t, "1000", sale.Aggregates.TotalCollected)
	assert.Equal(t, "100", sale.Aggregates.PctCollected.String())
	assert.Equal(t, commission.CollectionCollected, sale.Aggregates.CollectionStatus)
}

func TestRegister_OneCentToleranceAccepted(t *testing.T) {
	f := newFixture(t)
	saleID := f.saleWithRecords(t, "sale-1", "1000", seller(agentA))

	f.collect(t, saleID, "1000.01")

	_, err := f.svc.Collections.Register(f.ctx, saleID, commission.CollectionInput{Amount: money("0.01")})
	assert.ErrorIs(t, err, commission.ErrOverCollection)
}

func TestRegister_NonPositiveAmount(t *testing.T) {
	f := newFixture(t)
	saleID := f.saleWithRecords(t, "sale-1", "1000", seller(agentA))

	for _, amount := range []string{"0", "-10", "0.004", "0.001"} {
		_, err := f.svc.Collections.Register(f.ctx, saleID, commission.CollectionInput{Amount: money(amount)})
		var vErr *commission.ValidationError
		require.ErrorAs(t, err, &vErr, amount)
		assert.Equal(t, "amount", vErr.Field)
	}

	events, err := f.svc.Collections.Events(f.ctx, saleID)
	require.NoError(t, err)
	assert.Empty(t, events, "nothing written on validation failure")
}

func TestRegister_ConcurrentRequestsNeverOverCollect(t *testing.T) {
	// GIVEN: commission 1000
	f := newFixture(t)
	saleID := f.saleWithRecords(t, "sale-1", "1000", seller(agentA))

	// WHEN: 30 requests of 100 race each other
	results := registerConcurrently(f.ctx, f.svc, saleID, 30, "100")

	// THEN: exactly ten fit, the rest are over-collections
	assert.Equal(t, 10, results.ok)
	assert.Equal(t, 20, results.over)
	assert.Zero(t, results.other)

	sale, err := f.svc.Sale(f.ctx, saleID)
	require.NoError(t, err)
	assertMoney(t, "1000", sale.Aggregates.TotalCollected)
}

func TestRegister_ClosedSales(t *testing.T) {
	f := newFixture(t)
	f.mem.PutSale(commission.Sale{ID: "cancelled", TenantID: "tenant-1", TotalCommission: money("1000"), Active: true, Cancelled: true})
	f.mem.PutSale(commission.Sale{ID: "inactive", TenantID: "tenant-1", TotalCommission: money("1000"), Active: false})

	_, err := f.svc.Collections.Register(f.ctx, "cancelled", commission.CollectionInput{Amount: money("10")})
	assert.True(t, commission.IsClientError(err))

	_, err = f.svc.Collections.Register(f.ctx, "inactive", commission.CollectionInput{Amount: money("10")})
	assert.True(t, commission.IsClientError(err))

	_, err = f.svc.Collections.Register(f.ctx, "missing", commission.CollectionInput{Amount: money("10")})
	assert.True(t, commission.IsNotFound(err))
}

func TestRegister_EnablesProportionally(t *testing.T) {
	// GIVEN: seller 500, lister 150, company 350 on 1000
	f := newFixture(t)
	saleID := f.saleWithRecords(t, "sale-1", "1000", seller(agentA), lister(agentC))

	// WHEN: 250 is collected (25%)
	ev := f.collect(t, saleID, "250")
	assert.True(t, ev.Active)
	assert.Equal(t, "system", ev.CreatedBy)

	// THEN: 25% of every non-company amount is enabled
	records, err := f.svc.Ledger.Records(f.ctx, saleID)
	require.NoError(t, err)
	got := byRole(records)
	assertMoney(t, "125", got[commission.RoleSeller].EnabledAmount)
	assertMoney(t, "37.5", got[commission.RoleLister].EnabledAmount)
	assertMoney(t, "0", got[commission.RoleCompany].EnabledAmount)
	assert.Equal(t, commission.RecordPartial, got[commission.RoleSeller].Status)

	sale, err := f.svc.Sale(f.ctx, saleID)
	require.NoError(t, err)
	assert.Equal(t, commission.CollectionPartial, sale.Aggregates.CollectionStatus)
	assert.Equal(t, "25", sale.Aggregates.PctCollected.String())
	assertMoney(t, "250", sale.Aggregates.AvailableCommission)
}

type fixedRate struct{ rate decimal.Decimal }

func (r fixedRate) Convert(_ context.Context, amount decimal.Decimal, from, to string, _ time.Time) (decimal.Decimal, error) {
	if from != "EUR" || to != "USD" {
		return decimal.Zero, errors.New("unsupported pair")
	}
	return amount.Mul(r.rate), nil
}

func TestRegister_ConvertsForeignCurrency(t *testing.T) {
	f := newFixture(t)
	saleID := f.saleWithRecords(t, "sale-1", "1000", seller(agentA))

	// Without a converter a foreign amount is rejected
	_, err := f.svc.Collections.Register(f.ctx, saleID, commission.CollectionInput{Amount: money("100"), Currency: "EUR"})
	assert.ErrorIs(t, err, commission.ErrValidation)

	// Same currency, different case, needs no converter
	_, err = f.svc.Collections.Register(f.ctx, saleID, commission.CollectionInput{Amount: money("10"), Currency: "usd"})
	require.NoError(t, err)

	svc := commission.NewService(commission.Options{Store: f.mem, Owners: f.mem, Converter: fixedRate{rate: money("1.1")}, Clock: fixedClock})
	ev, err := svc.Collections.Register(f.ctx, saleID, commission.CollectionInput{Amount: money("100"), Currency: "eur"})
	require.NoError(t, err)
	assertMoney(t, "110", ev.Amount)
}

// =============================================================================
// EDIT
// =============================================================================

func TestEdit_RevalidatesExcludingPriorValue(t *testing.T) {
	// GIVEN: 600 + 300 collected on 1000
	f := newFixture(t)
	saleID := f.saleWithRecords(t, "sale-1", "1000", seller(agentA))
	f.collect(t, saleID, "600")
	ev := f.collect(t, saleID, "300")

	// WHEN: raising the 300 to 400 (600 + 400 = 1000)
	amount := money("400")
	method := "cheque"
	edited, err := f.svc.Collections.Edit(f.ctx, ev.ID, commission.CollectionPatch{Amount: &amount, Method: &method})
	require.NoError(t, err)
	assertMoney(t, "400", edited.Amount)
	assert.Equal(t, "cheque", edited.Method)

	// THEN: aggregates follow
	sale, err := f.svc.Sale(f.ctx, saleID)
	require.NoError(t, err)
	assert.Equal(t, commission.CollectionCollected, sale.Aggregates.CollectionStatus)

	// AND: raising it to 401 overshoots
	amount = money("401")
	_, err = f.svc.Collections.Edit(f.ctx, ev.ID, commission.CollectionPatch{Amount: &amount})
	assert.ErrorIs(t, err, commission.ErrOverCollection)
}

func TestEdit_Rejections(t *testing.T) {
	f := newFixture(t)
	saleID := f.saleWithRecords(t, "sale-1", "1000", seller(agentA))
	ev := f.collect(t, saleID, "300")

	for _, amount := range []string{"0", "0.001", "0.004"} {
		a := money(amount)
		_, err := f.svc.Collections.Edit(f.ctx, ev.ID, commission.CollectionPatch{Amount: &a})
		assert.ErrorIs(t, err, commission.ErrValidation, amount)
	}
	unchanged, err := f.svc.Collections.Events(f.ctx, saleID)
	require.NoError(t, err)
	assertMoney(t, "300", unchanged[0].Amount)

	_, err = f.svc.Collections.Edit(f.ctx, "missing", commission.CollectionPatch{})
	assert.True(t, commission.IsNotFound(err))

	_, err = f.svc.Collections.Retract(f.ctx, ev.ID)
	require.NoError(t, err)
	notes := "late fix"
	_, err = f.svc.Collections.Edit(f.ctx, ev.ID, commission.CollectionPatch{Notes: &notes})
	assert.ErrorIs(t, err, commission.ErrValidation, "retracted events are immutable")
}

func TestEdit_ReductionBelowPayouts_Blocked(t *testing.T) {
	// GIVEN: 500 collected, 300 already paid to the seller
	f := newFixture(t)
	saleID := f.saleWithRecords(t, "sale-1", "1000", seller(agentA))
	ev := f.collect(t, saleID, "500")
	f.mem.AddPayout(commission.Payout{ID: "p1", SaleID: saleID, RecordID: sellerRecordID(t, f, saleID), Amount: money("300"), Active: true})

	// WHEN: reducing the collection to 200
	amount := money("200")
	_, err := f.svc.Collections.Edit(f.ctx, ev.ID, commission.CollectionPatch{Amount: &amount})

	// THEN: blocked
	assert.ErrorIs(t, err, commission.ErrDependentPayouts)
}

// =============================================================================
// RETRACT
// =============================================================================

func TestRetract_SoftDeletes(t *testing.T) {
	f := newFixture(t)
	saleID := f.saleWithRecords(t, "sale-1", "1000", seller(agentA))
	f.collect(t, saleID, "400")
	ev := f.collect(t, saleID, "100")

	retracted, err := f.svc.Collections.Retract(f.ctx, ev.ID)
	require.NoError(t, err)
	assert.False(t, retracted.Active)
	require.NotNil(t, retracted.RetractedAt)

	// The event is still there, just inactive
	events, err := f.svc.Collections.Events(f.ctx, saleID)
	require.NoError(t, err)
	assert.Len(t, events, 2)

	sale, err := f.svc.Sale(f.ctx, saleID)
	require.NoError(t, err)
	assertMoney(t, "400", sale.Aggregates.TotalCollected)

	_, err = f.svc.Collections.Retract(f.ctx, ev.ID)
	assert.ErrorIs(t, err, commission.ErrValidation, "double retraction")

	entries := f.mem.AuditEntries(saleID)
	var retractions int
	for _, e := range entries {
		if e.ChangeType == commission.ChangeCollectionRetracted {
			retractions++
			assert.Equal(t, string(ev.ID), e.EntityID)
			assert.NotEmpty(t, e.Before)
		}
	}
	assert.Equal(t, 1, retractions)
}

func TestRetract_BlockedByDependentPayouts_StateUnchanged(t *testing.T) {
	// GIVEN: 300 + 200 collected and 400 already paid out
	f := newFixture(t)
	saleID := f.saleWithRecords(t, "sale-1", "1000", seller(agentA))
	f.collect(t, saleID, "300")
	ev := f.collect(t, saleID, "200")
	f.mem.AddPayout(commission.Payout{ID: "p1", SaleID: saleID, RecordID: sellerRecordID(t, f, saleID), Amount: money("400"), Active: true})
	_, err := f.svc.Enablement.Recompute(f.ctx, saleID)
	require.NoError(t, err)
	before, err := f.svc.Sale(f.ctx, saleID)
	require.NoError(t, err)

	// WHEN: retracting the 200 would leave 300 < 400 paid
	_, err = f.svc.Collections.Retract(f.ctx, ev.ID)

	// THEN: DependentPayoutsExist, nothing changed
	var dep *commission.DependentPayoutsError
	require.ErrorAs(t, err, &dep)
	assertMoney(t, "400", dep.TotalPaid)
	assertMoney(t, "300", dep.Available)

	after, err := f.svc.Sale(f.ctx, saleID)
	require.NoError(t, err)
	assert.Equal(t, before.Aggregates, after.Aggregates)

	events, err := f.svc.Collections.Events(f.ctx, saleID)
	require.NoError(t, err)
	for _, e := range events {
		assert.True(t, e.Active)
	}
}

func TestRetract_InactivePayoutsIgnored(t *testing.T) {
	f := newFixture(t)
	saleID := f.saleWithRecords(t, "sale-1", "1000", seller(agentA))
	ev := f.collect(t, saleID, "500")
	f.mem.AddPayout(commission.Payout{ID: "p1", SaleID: saleID, RecordID: sellerRecordID(t, f, saleID), Amount: money("400"), Active: false})

	_, err := f.svc.Collections.Retract(f.ctx, ev.ID)
	assert.NoError(t, err)
}

func sellerRecordID(t *testing.T, f *fixture, saleID commission.SaleID) commission.RecordID {
	t.Helper()
	records, err := f.svc.Ledger.Records(f.ctx, saleID)
	require.NoError(t, err)
	return byRole(records)[commission.RoleSeller].ID
}
