/*
audit.go - Best-effort audit trail

PURPOSE:
  Every mutation of commission records and collection events is appended to an
  audit sink with before/after snapshots, the acting user and a summary line.

TRADE-OFF:
  The audit write happens after the primary transaction commits. A failing sink
  is logged and otherwise ignored: the ledger stays available even when the
  audit destination is not. Folding the write into the primary transaction would
  make audit complete at the cost of larger transactions.

ACTOR:
  The acting user travels on the context (WithActor). Calls without one are
  attributed to SystemActor.
*/
package commission

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ChangeType string

const (
	ChangeCommissionCreated     ChangeType = "commission_created"
	ChangeCommissionRescaled    ChangeType = "commission_rescaled"
	ChangeCommissionRegenerated ChangeType = "commission_regenerated"
	ChangeCollectionRegistered  ChangeType = "collection_registered"
	ChangeCollectionEdited      ChangeType = "collection_edited"
	ChangeCollectionRetracted   ChangeType = "collection_retracted"
	ChangeAggregatesRecomputed  ChangeType = "aggregates_recomputed"
)

const (
	EntityCommission = "commission_record"
	EntityCollection = "collection_event"
	EntitySale       = "sale"
)

// AuditEntry is one append-only history row.
type AuditEntry struct {
	ID         string          `json:"id"`
	SaleID     SaleID          `json:"sale_id"`
	ChangeType ChangeType      `json:"change_type"`
	Entity     string          `json:"entity"`
	EntityID   string          `json:"entity_id"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	ActorID    string          `json:"actor_id"`
	ActorName  string          `json:"actor_name"`
	Timestamp  time.Time       `json:"timestamp"`
	Summary    string          `json:"summary"`
}

type AuditSink interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
}

// =============================================================================
// ACTOR
// =============================================================================

type Actor struct {
	ID   string
	Name string
}

var SystemActor = Actor{ID: "system", Name: "System"}

type actorKey struct{}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

func ActorFrom(ctx context.Context) Actor {
	if a, ok := ctx.Value(actorKey{}).(Actor); ok && a.ID != "" {
		return a
	}
	return SystemActor
}

// =============================================================================
// TRAIL
// =============================================================================

type AuditTrail struct {
	sink AuditSink
	log  *zap.Logger
	now  func() time.Time
}

func NewAuditTrail(sink AuditSink, log *zap.Logger, now func() time.Time) *AuditTrail {
	if log == nil {
		log = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &AuditTrail{sink: sink, log: log, now: now}
}

// Record appends an entry. It never fails the caller.
func (a *AuditTrail) Record(ctx context.Context, saleID SaleID, change ChangeType, entity, entityID string, before, after any, summary string) {
	if a == nil || a.sink == nil {
		return
	}
	actor := ActorFrom(ctx)
	entry := AuditEntry{
		ID:         uuid.NewString(),
		SaleID:     saleID,
		ChangeType: change,
		Entity:     entity,
		EntityID:   entityID,
		Before:     a.marshal(before),
		After:      a.marshal(after),
		ActorID:    actor.ID,
		ActorName:  actor.Name,
		Timestamp:  a.now().UTC(),
		Summary:    summary,
	}
	if err := a.sink.AppendAudit(ctx, entry); err != nil {
		a.log.Warn("audit append failed",
			zap.String("sale_id", string(saleID)),
			zap.String("change_type", string(change)),
			zap.String("entity_id", entityID),
			zap.Error(err))
	}
}

func (a *AuditTrail) marshal(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		a.log.Warn("audit snapshot not serializable", zap.Error(err))
		return nil
	}
	return b
}
