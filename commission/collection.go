/*
collection.go - Client payments against a sale's commission

PURPOSE:
  Append-only log of money the client paid the agency. Events are never
  removed: a retraction sets Active=false and stamps RetractedAt.

OPERATIONS:
  Register: amount > 0, open sale, collected + amount <= total + 0.01
  Edit:     same checks with the event's prior amount excluded; a reduction
            must still cover what was already paid out
  Retract:  allowed only while payouts stay covered by what remains collected

  Every check runs under the sale lock before anything is written. After the
  commit the sale is recomputed and the change audited; failures of those two
  steps are logged, not returned, because Recompute can be re-run at any time.

CURRENCY:
  Amounts in a currency other than the sale's go through the external
  CurrencyConverter before any check.
*/
package commission

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CollectionInput describes a payment being registered.
type CollectionInput struct {
	Amount    decimal.Decimal
	Currency  string // empty means the sale's currency
	Date      time.Time
	Method    string
	Reference string
	Notes     string
}

// CollectionPatch holds the fields Edit may change. Nil fields are kept.
type CollectionPatch struct {
	Amount    *decimal.Decimal
	Date      *time.Time
	Method    *string
	Reference *string
	Notes     *string
}

type CollectionLedger struct {
	store     Store
	engine    *EnablementEngine
	audit     *AuditTrail
	converter CurrencyConverter
	log       *zap.Logger
	now       func() time.Time
}

func NewCollectionLedger(store Store, engine *EnablementEngine, audit *AuditTrail, converter CurrencyConverter, log *zap.Logger, now func() time.Time) *CollectionLedger {
	if log == nil {
		log = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &CollectionLedger{store: store, engine: engine, audit: audit, converter: converter, log: log, now: now}
}

// =============================================================================
// REGISTER
// =============================================================================

func (c *CollectionLedger) Register(ctx context.Context, saleID SaleID, in CollectionInput) (CollectionEvent, error) {
	if !RoundMoney(in.Amount).IsPositive() {
		return CollectionEvent{}, invalid("amount", "must be at least 0.01")
	}
	if in.Date.IsZero() {
		in.Date = c.now()
	}

	amount, err := c.inSaleCurrency(ctx, saleID, in)
	if err != nil {
		return CollectionEvent{}, err
	}

	var ev CollectionEvent
	err = c.store.WithSaleLock(ctx, saleID, func(tx Tx) error {
		sale, err := tx.Sale(ctx, saleID)
		if err != nil {
			return err
		}
		if sale.Cancelled || !sale.Active {
			return invalid("sale", "sale %s is not open for collections", saleID)
		}
		events, err := tx.Events(ctx, saleID)
		if err != nil {
			return err
		}
		if err := checkOverCollection(sale, activeTotal(events, ""), amount); err != nil {
			return err
		}

		now := c.now().UTC()
		ev = CollectionEvent{
			ID:        EventID(uuid.NewString()),
			SaleID:    saleID,
			Amount:    amount,
			Date:      in.Date.UTC(),
			Method:    in.Method,
			Reference: in.Reference,
			Notes:     in.Notes,
			Active:    true,
			CreatedBy: ActorFrom(ctx).ID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return tx.InsertEvent(ctx, ev)
	})
	if err != nil {
		return CollectionEvent{}, err
	}

	c.log.Info("collection registered",
		zap.String("sale_id", string(saleID)),
		zap.String("event_id", string(ev.ID)),
		zap.String("amount", ev.Amount.StringFixed(2)))
	c.audit.Record(ctx, saleID, ChangeCollectionRegistered, EntityCollection, string(ev.ID), nil, ev,
		"collection of "+ev.Amount.StringFixed(2)+" registered")
	c.recompute(ctx, saleID)
	return ev, nil
}

// inSaleCurrency converts the input amount when it is not in the sale's currency.
func (c *CollectionLedger) inSaleCurrency(ctx context.Context, saleID SaleID, in CollectionInput) (decimal.Decimal, error) {
	if in.Currency == "" {
		return RoundMoney(in.Amount), nil
	}
	sale, err := c.store.Sale(ctx, saleID)
	if err != nil {
		return decimal.Zero, err
	}
	if strings.EqualFold(in.Currency, sale.Currency) {
		return RoundMoney(in.Amount), nil
	}
	if c.converter == nil {
		return decimal.Zero, invalid("currency", "cannot convert %s to %s", in.Currency, sale.Currency)
	}
	converted, err := c.converter.Convert(ctx, in.Amount, strings.ToUpper(in.Currency), strings.ToUpper(sale.Currency), in.Date)
	if err != nil {
		return decimal.Zero, err
	}
	converted = RoundMoney(converted)
	if !converted.IsPositive() {
		return decimal.Zero, invalid("amount", "converts to %s %s", converted.StringFixed(2), sale.Currency)
	}
	return converted, nil
}

// =============================================================================
// EDIT
// =============================================================================

func (c *CollectionLedger) Edit(ctx context.Context, eventID EventID, patch CollectionPatch) (CollectionEvent, error) {
	if patch.Amount != nil && !RoundMoney(*patch.Amount).IsPositive() {
		return CollectionEvent{}, invalid("amount", "must be at least 0.01")
	}
	saleID, err := c.store.EventSale(ctx, eventID)
	if err != nil {
		return CollectionEvent{}, err
	}

	var before, after CollectionEvent
	err = c.store.WithSaleLock(ctx, saleID, func(tx Tx) error {
		ev, err := tx.Event(ctx, eventID)
		if err != nil {
			return err
		}
		if !ev.Active {
			return invalid("collection", "event %s was retracted", eventID)
		}
		sale, err := tx.Sale(ctx, saleID)
		if err != nil {
			return err
		}
		events, err := tx.Events(ctx, saleID)
		if err != nil {
			return err
		}
		others := activeTotal(events, eventID)

		before, after = ev, ev
		if patch.Amount != nil {
			after.Amount = RoundMoney(*patch.Amount)
		}
		if err := checkOverCollection(sale, others, after.Amount); err != nil {
			return err
		}
		if after.Amount.LessThan(before.Amount) {
			if err := ensureCoveredByCollections(ctx, tx, saleID, others.Add(after.Amount)); err != nil {
				return err
			}
		}

		if patch.Date != nil {
			after.Date = patch.Date.UTC()
		}
		if patch.Method != nil {
			after.Method = *patch.Method
		}
		if patch.Reference != nil {
			after.Reference = *patch.Reference
		}
		if patch.Notes != nil {
			after.Notes = *patch.Notes
		}
		after.UpdatedAt = c.now().UTC()
		return tx.UpdateEvent(ctx, after)
	})
	if err != nil {
		return CollectionEvent{}, err
	}

	c.log.Info("collection edited",
		zap.String("sale_id", string(saleID)),
		zap.String("event_id", string(eventID)),
		zap.String("amount", after.Amount.StringFixed(2)))
	c.audit.Record(ctx, saleID, ChangeCollectionEdited, EntityCollection, string(eventID), before, after,
		"collection edited: "+before.Amount.StringFixed(2)+" -> "+after.Amount.StringFixed(2))
	c.recompute(ctx, saleID)
	return after, nil
}

// =============================================================================
// RETRACT
// =============================================================================

func (c *CollectionLedger) Retract(ctx context.Context, eventID EventID) (CollectionEvent, error) {
	saleID, err := c.store.EventSale(ctx, eventID)
	if err != nil {
		return CollectionEvent{}, err
	}

	var before, after CollectionEvent
	err = c.store.WithSaleLock(ctx, saleID, func(tx Tx) error {
		ev, err := tx.Event(ctx, eventID)
		if err != nil {
			return err
		}
		if !ev.Active {
			return invalid("collection", "event %s is already retracted", eventID)
		}
		events, err := tx.Events(ctx, saleID)
		if err != nil {
			return err
		}
		if err := ensureCoveredByCollections(ctx, tx, saleID, activeTotal(events, eventID)); err != nil {
			return err
		}

		now := c.now().UTC()
		before, after = ev, ev
		after.Active = false
		after.RetractedAt = &now
		after.UpdatedAt = now
		return tx.UpdateEvent(ctx, after)
	})
	if err != nil {
		return CollectionEvent{}, err
	}

	c.log.Info("collection retracted",
		zap.String("sale_id", string(saleID)),
		zap.String("event_id", string(eventID)))
	c.audit.Record(ctx, saleID, ChangeCollectionRetracted, EntityCollection, string(eventID), before, after,
		"collection of "+before.Amount.StringFixed(2)+" retracted")
	c.recompute(ctx, saleID)
	return after, nil
}

// Events lists the sale's collection events, retracted ones included.
func (c *CollectionLedger) Events(ctx context.Context, saleID SaleID) ([]CollectionEvent, error) {
	var out []CollectionEvent
	err := c.store.WithSaleLock(ctx, saleID, func(tx Tx) error {
		var err error
		out, err = tx.Events(ctx, saleID)
		return err
	})
	return out, err
}

// =============================================================================
// HELPERS
// =============================================================================

func checkOverCollection(sale Sale, collected, amount decimal.Decimal) error {
	excess := collected.Add(amount).Sub(sale.TotalCommission)
	if excess.GreaterThan(Tolerance) {
		return &OverCollectionError{
			SaleID:    sale.ID,
			Total:     sale.TotalCommission,
			Collected: collected,
			Requested: amount,
			Excess:    excess,
		}
	}
	return nil
}

// recompute is the best-effort follow-up of a committed mutation.
func (c *CollectionLedger) recompute(ctx context.Context, saleID SaleID) {
	if c.engine == nil {
		return
	}
	if _, err := c.engine.Recompute(ctx, saleID); err != nil {
		c.log.Error("recompute after collection change failed",
			zap.String("sale_id", string(saleID)),
			zap.Error(err))
	}
}
