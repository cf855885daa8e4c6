package commission_test

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
	"github.com/warp/commission-engine/commission/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var (
	ownerB  = commission.ParticipantRef{Kind: commission.RefUser, ID: "B", Name: "Agency Owner"}
	agentA  = commission.ParticipantRef{Kind: commission.RefUser, ID: "A", Name: "Ana"}
	agentC  = commission.ParticipantRef{Kind: commission.RefUser, ID: "C", Name: "Carlos"}
	brokerX = commission.ParticipantRef{Kind: commission.RefContact, ID: "X", Name: "Broker Realty"}
)

type fixture struct {
	svc *commission.Service
	mem *store.Memory
	ctx context.Context
}

func fixedClock() time.Time {
	return time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemory()
	mem.SetTenantOwner("tenant-1", ownerB)
	svc := commission.NewService(commission.Options{
		Store:        mem,
		Participants: mem,
		Owners:       mem,
		Audit:        mem,
		Clock:        fixedClock,
	})
	return &fixture{svc: svc, mem: mem, ctx: context.Background()}
}

func (f *fixture) sale(id string, total string) commission.SaleID {
	f.mem.PutSale(commission.Sale{
		ID:              commission.SaleID(id),
		TenantID:        "tenant-1",
		TotalCommission: money(total),
		ClosingValue:    money("100000"),
		Currency:        "USD",
		Active:          true,
	})
	return commission.SaleID(id)
}

// saleWithRecords creates a sale and its commission records for participants.
func (f *fixture) saleWithRecords(t *testing.T, id, total string, participants ...commission.Participant) commission.SaleID {
	t.Helper()
	saleID := f.sale(id, total)
	_, err := f.svc.Ledger.ComputeAndPersist(f.ctx, saleID, money(total), participants)
	require.NoError(t, err)
	return saleID
}

func (f *fixture) collect(t *testing.T, saleID commission.SaleID, amount string) commission.CollectionEvent {
	t.Helper()
	ev, err := f.svc.Collections.Register(f.ctx, saleID, commission.CollectionInput{Amount: money(amount), Method: "transfer"})
	require.NoError(t, err)
	return ev
}

func seller(ref commission.ParticipantRef) commission.Participant {
	return commission.Participant{Role: commission.RoleSeller, Ref: ref}
}

func lister(ref commission.ParticipantRef) commission.Participant {
	return commission.Participant{Role: commission.RoleLister, Ref: ref}
}

func referrer(ref commission.ParticipantRef) commission.Participant {
	return commission.Participant{Role: commission.RoleReferrer, Ref: ref}
}

func broker(ref commission.ParticipantRef) commission.Participant {
	return commission.Participant{Role: commission.RoleExternalBroker, Ref: ref}
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertMoney(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.Equal(t, money(want).StringFixed(2), got.StringFixed(2), msgAndArgs...)
}

func byRole(records []commission.CommissionRecord) map[commission.Role]commission.CommissionRecord {
	out := make(map[commission.Role]commission.CommissionRecord, len(records))
	for _, r := range records {
		out[r.Role] = r
	}
	return out
}

func sumPercentages(records []commission.CommissionRecord) decimal.Decimal {
	sum := decimal.Zero
	for _, r := range records {
		sum = sum.Add(r.Percentage)
	}
	return sum
}

func sumAmounts(records []commission.CommissionRecord) decimal.Decimal {
	sum := decimal.Zero
	for _, r := range records {
		sum = sum.Add(r.Amount)
	}
	return sum
}

// failingSink rejects every audit entry.
type failingSink struct{ calls int }

func (s *failingSink) AppendAudit(context.Context, commission.AuditEntry) error {
	s.calls++
	return errors.New("audit store unavailable")
}

type raceResults struct{ ok, over, other int }

// registerConcurrently fires n Register calls of amount at once.
func registerConcurrently(ctx context.Context, svc *commission.Service, saleID commission.SaleID, n int, amount string) raceResults {
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		res raceResults
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.Collections.Register(ctx, saleID, commission.CollectionInput{Amount: money(amount)})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				res.ok++
			case errors.Is(err, commission.ErrOverCollection):
				res.over++
			default:
				res.other++
			}
		}()
	}
	close(start)
	wg.Wait()
	return res
}
