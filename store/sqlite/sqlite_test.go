package sqlite_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/store/sqlite"
)

var (
	owner  = commission.ParticipantRef{Kind: commission.RefUser, ID: "B", Name: "Agency Owner"}
	agentA = commission.ParticipantRef{Kind: commission.RefUser, ID: "A", Name: "Ana"}
	agentC = commission.ParticipantRef{Kind: commission.RefUser, ID: "C", Name: "Carlos"}
)

func setupStore(t *testing.T) (*sqlite.Store, *commission.Service) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	require.NoError(t, store.SaveTenant(ctx, "tenant-1", owner))
	require.NoError(t, store.SaveSale(ctx, commission.Sale{
		ID:              "sale-1",
		TenantID:        "tenant-1",
		TotalCommission: decimal.RequireFromString("1000"),
		ClosingValue:    decimal.RequireFromString("250000"),
		Currency:        "USD",
		Active:          true,
	}))
	require.NoError(t, store.SetParticipants(ctx, "sale-1", []commission.Participant{
		{Role: commission.RoleSeller, Ref: agentA},
		{Role: commission.RoleLister, Ref: agentC},
	}))

	svc := commission.NewService(commission.Options{
		Store:        store,
		Participants: store,
		Owners:       store,
		Audit:        store,
		Clock:        func() time.Time { return time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC) },
	})
	return store, svc
}

func TestStore_SyncPersistsRecordsAndSnapshot(t *testing.T) {
	// GIVEN: a sale with seller and lister in the CRM tables
	_, svc := setupStore(t)
	ctx := context.Background()

	// WHEN: syncing
	records, err := svc.SyncSale(ctx, "sale-1")
	require.NoError(t, err)
	require.Len(t, records, 3)

	// THEN: reading back yields the same rows in role order
	loaded, err := svc.Ledger.Records(ctx, "sale-1")
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	assert.Equal(t, commission.RoleSeller, loaded[0].Role)
	assert.Equal(t, commission.RoleLister, loaded[1].Role)
	assert.Equal(t, commission.RoleCompany, loaded[2].Role)
	assert.Equal(t, owner, loaded[2].Ref)
	assert.Equal(t, "500.00", loaded[0].Amount.StringFixed(2))
	assert.Equal(t, "350.00", loaded[2].Amount.StringFixed(2))

	snap := loaded[1].Snapshot
	assert.Equal(t, "15", snap.Percentage().String())
	assert.Equal(t, commission.DefaultRuleVersion, snap.RuleVersion())
	assert.Equal(t, agentC, snap.Ref())
	assert.Equal(t, time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC), snap.CapturedAt())
}

func TestStore_CollectionLifecycle(t *testing.T) {
	store, svc := setupStore(t)
	ctx := context.Background()
	_, err := svc.SyncSale(ctx, "sale-1")
	require.NoError(t, err)

	// Register 400
	ev, err := svc.Collections.Register(ctx, "sale-1", commission.CollectionInput{
		Amount: decimal.RequireFromString("400"), Method: "transfer", Reference: "TRX-1",
	})
	require.NoError(t, err)

	sale, err := svc.Sale(ctx, "sale-1")
	require.NoError(t, err)
	assert.Equal(t, "400.00", sale.Aggregates.TotalCollected.StringFixed(2))
	assert.Equal(t, "40", sale.Aggregates.PctCollected.String())
	assert.Equal(t, commission.CollectionPartial, sale.Aggregates.CollectionStatus)

	records, err := svc.Ledger.Records(ctx, "sale-1")
	require.NoError(t, err)
	assert.Equal(t, "200.00", records[0].EnabledAmount.StringFixed(2))

	// Over-collection is rejected and leaves no row behind
	_, err = svc.Collections.Register(ctx, "sale-1", commission.CollectionInput{Amount: decimal.RequireFromString("700")})
	assert.ErrorIs(t, err, commission.ErrOverCollection)

	// A payout of 300 blocks retracting the only collection
	require.NoError(t, store.AppendPayout(ctx, commission.Payout{
		ID: "p1", SaleID: "sale-1", RecordID: records[0].ID,
		Amount: decimal.RequireFromString("300"), PaidAt: time.Now(), Active: true,
	}))
	_, err = svc.Collections.Retract(ctx, ev.ID)
	assert.ErrorIs(t, err, commission.ErrDependentPayouts)

	events, err := svc.Collections.Events(ctx, "sale-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].Active)
	assert.Equal(t, "TRX-1", events[0].Reference)
	assert.Nil(t, events[0].RetractedAt)
}

func TestStore_ConcurrentRegistersRespectTotal(t *testing.T) {
	// GIVEN: commission 1000 and 30 concurrent collections of 100
	_, svc := setupStore(t)
	ctx := context.Background()
	_, err := svc.SyncSale(ctx, "sale-1")
	require.NoError(t, err)

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		ok, over int
		others   []error
	)
	start := make(chan struct{})
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.Collections.Register(ctx, "sale-1", commission.CollectionInput{Amount: decimal.RequireFromString("100")})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, commission.ErrOverCollection):
				over++
			default:
				others = append(others, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	// THEN: the sale lock lets exactly ten through
	assert.Empty(t, others)
	assert.Equal(t, 10, ok)
	assert.Equal(t, 20, over)

	sale, err := svc.Sale(ctx, "sale-1")
	require.NoError(t, err)
	assert.True(t, sale.Aggregates.TotalCollected.LessThanOrEqual(decimal.RequireFromString("1000.01")))
	assert.Equal(t, "1000.00", sale.Aggregates.TotalCollected.StringFixed(2))
}

func TestStore_AuditLogOrderedWithinSameSecond(t *testing.T) {
	// GIVEN: two entries in the same second, the later one appended first
	store, _ := setupStore(t)
	ctx := context.Background()
	base := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.AppendAudit(ctx, commission.AuditEntry{
		ID: "later", SaleID: "sale-1", ChangeType: commission.ChangeCollectionEdited,
		Entity: commission.EntityCollection, EntityID: "ev-1", Timestamp: base.Add(500 * time.Millisecond),
	}))
	require.NoError(t, store.AppendAudit(ctx, commission.AuditEntry{
		ID: "earlier", SaleID: "sale-1", ChangeType: commission.ChangeCollectionRegistered,
		Entity: commission.EntityCollection, EntityID: "ev-1", Timestamp: base,
	}))

	// THEN: the log comes back in time order
	entries, err := store.AuditLog(ctx, "sale-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "earlier", entries[0].ID)
	assert.Equal(t, "later", entries[1].ID)
	assert.True(t, entries[1].Timestamp.Equal(base.Add(500*time.Millisecond)))
}

func TestStore_RetractionRoundTrip(t *testing.T) {
	_, svc := setupStore(t)
	ctx := context.Background()
	_, err := svc.SyncSale(ctx, "sale-1")
	require.NoError(t, err)

	ev, err := svc.Collections.Register(ctx, "sale-1", commission.CollectionInput{Amount: decimal.RequireFromString("250.55")})
	require.NoError(t, err)

	_, err = svc.Collections.Retract(ctx, ev.ID)
	require.NoError(t, err)

	events, err := svc.Collections.Events(ctx, "sale-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.False(t, events[0].Active)
	require.NotNil(t, events[0].RetractedAt)
	assert.Equal(t, "250.55", events[0].Amount.String())

	sale, err := svc.Sale(ctx, "sale-1")
	require.NoError(t, err)
	assert.True(t, sale.Aggregates.TotalCollected.IsZero())
	assert.Equal(t, commission.CollectionPending, sale.Aggregates.CollectionStatus)
}

func TestStore_AuditLogPersisted(t *testing.T) {
	store, svc := setupStore(t)
	ctx := commission.WithActor(context.Background(), commission.Actor{ID: "u-9", Name: "Finance"})

	_, err := svc.SyncSale(ctx, "sale-1")
	require.NoError(t, err)
	_, err = svc.Collections.Register(ctx, "sale-1", commission.CollectionInput{Amount: decimal.RequireFromString("100")})
	require.NoError(t, err)

	entries, err := store.AuditLog(ctx, "sale-1")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(entries), 2)
	assert.Equal(t, commission.ChangeCommissionCreated, entries[0].ChangeType)
	assert.Equal(t, "u-9", entries[0].ActorID)
	assert.NotEmpty(t, entries[0].After)

	var registered bool
	for _, e := range entries {
		if e.ChangeType == commission.ChangeCollectionRegistered {
			registered = true
			assert.Empty(t, e.Before)
		}
	}
	assert.True(t, registered)
}

func TestStore_NotFound(t *testing.T) {
	store, svc := setupStore(t)
	ctx := context.Background()

	_, err := store.Sale(ctx, "nope")
	assert.True(t, commission.IsNotFound(err))

	_, err = store.TenantOwner(ctx, "nope")
	assert.True(t, commission.IsNotFound(err))

	_, err = svc.Collections.Retract(ctx, "missing-event")
	assert.True(t, commission.IsNotFound(err))

	err = store.WithSaleLock(ctx, "nope", func(commission.Tx) error { return nil })
	assert.True(t, commission.IsNotFound(err))
}

func TestStore_TenantsAndRecompute(t *testing.T) {
	store, svc := setupStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveSale(ctx, commission.Sale{
		ID: "sale-2", TenantID: "tenant-1", TotalCommission: decimal.RequireFromString("500"), Currency: "USD", Active: true,
	}))

	tenants, err := store.Tenants(ctx)
	require.NoError(t, err)
	assert.Equal(t, []commission.TenantID{"tenant-1"}, tenants)

	ids, err := store.TenantSales(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, []commission.SaleID{"sale-1", "sale-2"}, ids)

	report, err := svc.RecomputeTenant(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, 2, report.Sales)
}

func TestStore_FailedCallbackRollsBack(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	err := store.WithSaleLock(ctx, "sale-1", func(tx commission.Tx) error {
		if err := tx.SetTotalCommission(ctx, "sale-1", decimal.RequireFromString("9999")); err != nil {
			return err
		}
		return &commission.ValidationError{Field: "amount", Message: "boom"}
	})
	require.Error(t, err)

	sale, err := store.Sale(ctx, "sale-1")
	require.NoError(t, err)
	assert.Equal(t, "1000", sale.TotalCommission.String())
}
