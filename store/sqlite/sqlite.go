/*
Package sqlite provides a SQLite-backed implementation of the commission store.

PURPOSE:
  Implements commission.Store, the participant and tenant-owner resolvers and
  the audit sink on one SQLite database. In production the same layout runs on
  PostgreSQL; the sale read inside WithSaleLock becomes SELECT ... FOR UPDATE.

KEY TABLES:
  tenants:            Agency owner per tenant (company-share recipient)
  sales:              Commission total plus the stored aggregates
  sale_participants:  CRM role assignments consumed by SyncSale
  commission_records: One row per (sale, role) with its distribution snapshot
  collection_events:  Client payments; retraction is a flag, never a DELETE
  payouts:            Payout sub-ledger, read-only for the core
  audit_log:          Append-only change history

LOCKING:
  The database is opened with _txlock=immediate and a single connection, so a
  WithSaleLock transaction holds the write lock from BEGIN to COMMIT and sale
  mutations are serialized. Methods on Store itself must not be called from
  inside a WithSaleLock callback; use the Tx instead.

  Decimals are stored as TEXT so no precision is lost. Timestamps are stored as
  fixed-width RFC3339 TEXT in UTC (nanoseconds always present).

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - commission/store.go: Interface definitions
  - commission/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/commission-engine/commission"
)

// Store implements commission.Store using SQLite.
type Store struct {
	db *sqlx.DB
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: ":memory:" databases are per connection, and the
	// immediate write lock is what serializes sale mutations.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tenants (
		id TEXT PRIMARY KEY,
		owner_kind TEXT NOT NULL,
		owner_id TEXT NOT NULL DEFAULT '',
		owner_name TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS sales (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		total_commission TEXT NOT NULL,
		closing_value TEXT NOT NULL DEFAULT '0',
		currency TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1,
		cancelled INTEGER NOT NULL DEFAULT 0,
		total_collected TEXT NOT NULL DEFAULT '0',
		pct_collected TEXT NOT NULL DEFAULT '0',
		available_commission TEXT NOT NULL DEFAULT '0',
		total_paid TEXT NOT NULL DEFAULT '0',
		collection_status TEXT NOT NULL DEFAULT '',
		payment_status TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_sales_tenant ON sales(tenant_id);

	CREATE TABLE IF NOT EXISTS sale_participants (
		sale_id TEXT NOT NULL REFERENCES sales(id),
		role TEXT NOT NULL,
		ref_kind TEXT NOT NULL,
		ref_id TEXT NOT NULL DEFAULT '',
		ref_name TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (sale_id, role)
	);

	CREATE TABLE IF NOT EXISTS commission_records (
		id TEXT PRIMARY KEY,
		sale_id TEXT NOT NULL REFERENCES sales(id),
		role TEXT NOT NULL,
		ref_kind TEXT NOT NULL,
		ref_id TEXT NOT NULL DEFAULT '',
		ref_name TEXT NOT NULL DEFAULT '',
		percentage TEXT NOT NULL,
		amount TEXT NOT NULL,
		enabled_amount TEXT NOT NULL,
		paid_amount TEXT NOT NULL,
		status TEXT NOT NULL,
		snapshot_role TEXT NOT NULL,
		snapshot_ref_kind TEXT NOT NULL,
		snapshot_ref_id TEXT NOT NULL DEFAULT '',
		snapshot_ref_name TEXT NOT NULL DEFAULT '',
		snapshot_percentage TEXT NOT NULL,
		rule_version TEXT NOT NULL,
		captured_at TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- At most one record per role and sale
	CREATE UNIQUE INDEX IF NOT EXISTS idx_records_sale_role
		ON commission_records(sale_id, role);

	CREATE TABLE IF NOT EXISTS collection_events (
		id TEXT PRIMARY KEY,
		sale_id TEXT NOT NULL REFERENCES sales(id),
		amount TEXT NOT NULL,
		date TEXT NOT NULL,
		method TEXT NOT NULL DEFAULT '',
		reference TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1,
		created_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		retracted_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_events_sale_date
		ON collection_events(sale_id, date, created_at);

	CREATE TABLE IF NOT EXISTS payouts (
		id TEXT PRIMARY KEY,
		sale_id TEXT NOT NULL REFERENCES sales(id),
		record_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		paid_at TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_payouts_sale ON payouts(sale_id);

	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		sale_id TEXT NOT NULL,
		change_type TEXT NOT NULL,
		entity TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		before_json TEXT,
		after_json TEXT,
		actor_id TEXT NOT NULL,
		actor_name TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		summary TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_sale ON audit_log(sale_id, timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ROW TYPES
// =============================================================================

type saleRow struct {
	ID                  string          `db:"id"`
	TenantID            string          `db:"tenant_id"`
	TotalCommission     decimal.Decimal `db:"total_commission"`
	ClosingValue        decimal.Decimal `db:"closing_value"`
	Currency            string          `db:"currency"`
	Active              bool            `db:"active"`
	Cancelled           bool            `db:"cancelled"`
	TotalCollected      decimal.Decimal `db:"total_collected"`
	PctCollected        decimal.Decimal `db:"pct_collected"`
	AvailableCommission decimal.Decimal `db:"available_commission"`
	TotalPaid           decimal.Decimal `db:"total_paid"`
	CollectionStatus    string          `db:"collection_status"`
	PaymentStatus       string          `db:"payment_status"`
}

func (r saleRow) toSale() commission.Sale {
	return commission.Sale{
		ID:              commission.SaleID(r.ID),
		TenantID:        commission.TenantID(r.TenantID),
		TotalCommission: r.TotalCommission,
		ClosingValue:    r.ClosingValue,
		Currency:        r.Currency,
		Active:          r.Active,
		Cancelled:       r.Cancelled,
		Aggregates: commission.SaleAggregates{
			TotalCollected:          r.TotalCollected,
			PctCollected:            r.PctCollected,
			AvailableCommission:     r.AvailableCommission,
			TotalPaidToParticipants: r.TotalPaid,
			CollectionStatus:        commission.CollectionStatus(r.CollectionStatus),
			PaymentStatus:           commission.PaymentStatus(r.PaymentStatus),
		},
	}
}

type recordRow struct {
	ID                 string          `db:"id"`
	SaleID             string          `db:"sale_id"`
	Role               string          `db:"role"`
	RefKind            string          `db:"ref_kind"`
	RefID              string          `db:"ref_id"`
	RefName            string          `db:"ref_name"`
	Percentage         decimal.Decimal `db:"percentage"`
	Amount             decimal.Decimal `db:"amount"`
	EnabledAmount      decimal.Decimal `db:"enabled_amount"`
	PaidAmount         decimal.Decimal `db:"paid_amount"`
	Status             string          `db:"status"`
	SnapshotRole       string          `db:"snapshot_role"`
	SnapshotRefKind    string          `db:"snapshot_ref_kind"`
	SnapshotRefID      string          `db:"snapshot_ref_id"`
	SnapshotRefName    string          `db:"snapshot_ref_name"`
	SnapshotPercentage decimal.Decimal `db:"snapshot_percentage"`
	RuleVersion        string          `db:"rule_version"`
	CapturedAt         string          `db:"captured_at"`
	CreatedAt          string          `db:"created_at"`
	UpdatedAt          string          `db:"updated_at"`
}

func newRecordRow(r commission.CommissionRecord) recordRow {
	snap := r.Snapshot
	return recordRow{
		ID:                 string(r.ID),
		SaleID:             string(r.SaleID),
		Role:               string(r.Role),
		RefKind:            string(r.Ref.Kind),
		RefID:              r.Ref.ID,
		RefName:            r.Ref.Name,
		Percentage:         r.Percentage,
		Amount:             r.Amount,
		EnabledAmount:      r.EnabledAmount,
		PaidAmount:         r.PaidAmount,
		Status:             string(r.Status),
		SnapshotRole:       string(snap.Role()),
		SnapshotRefKind:    string(snap.Ref().Kind),
		SnapshotRefID:      snap.Ref().ID,
		SnapshotRefName:    snap.Ref().Name,
		SnapshotPercentage: snap.Percentage(),
		RuleVersion:        snap.RuleVersion(),
		CapturedAt:         formatTime(snap.CapturedAt()),
		CreatedAt:          formatTime(r.CreatedAt),
		UpdatedAt:          formatTime(r.UpdatedAt),
	}
}

func (r recordRow) toRecord() commission.CommissionRecord {
	snapRef := commission.ParticipantRef{Kind: commission.RefKind(r.SnapshotRefKind), ID: r.SnapshotRefID, Name: r.SnapshotRefName}
	return commission.CommissionRecord{
		ID:            commission.RecordID(r.ID),
		SaleID:        commission.SaleID(r.SaleID),
		Role:          commission.Role(r.Role),
		Ref:           commission.ParticipantRef{Kind: commission.RefKind(r.RefKind), ID: r.RefID, Name: r.RefName},
		Percentage:    r.Percentage,
		Amount:        r.Amount,
		EnabledAmount: r.EnabledAmount,
		PaidAmount:    r.PaidAmount,
		Status:        commission.RecordStatus(r.Status),
		Snapshot: commission.NewDistributionSnapshot(commission.Role(r.SnapshotRole), snapRef,
			r.SnapshotPercentage, r.RuleVersion, parseTime(r.CapturedAt)),
		CreatedAt: parseTime(r.CreatedAt),
		UpdatedAt: parseTime(r.UpdatedAt),
	}
}

type eventRow struct {
	ID          string          `db:"id"`
	SaleID      string          `db:"sale_id"`
	Amount      decimal.Decimal `db:"amount"`
	Date        string          `db:"date"`
	Method      string          `db:"method"`
	Reference   string          `db:"reference"`
	Notes       string          `db:"notes"`
	Active      bool            `db:"active"`
	CreatedBy   string          `db:"created_by"`
	CreatedAt   string          `db:"created_at"`
	UpdatedAt   string          `db:"updated_at"`
	RetractedAt sql.NullString  `db:"retracted_at"`
}

func newEventRow(ev commission.CollectionEvent) eventRow {
	row := eventRow{
		ID:        string(ev.ID),
		SaleID:    string(ev.SaleID),
		Amount:    ev.Amount,
		Date:      formatTime(ev.Date),
		Method:    ev.Method,
		Reference: ev.Reference,
		Notes:     ev.Notes,
		Active:    ev.Active,
		CreatedBy: ev.CreatedBy,
		CreatedAt: formatTime(ev.CreatedAt),
		UpdatedAt: formatTime(ev.UpdatedAt),
	}
	if ev.RetractedAt != nil {
		row.RetractedAt = sql.NullString{String: formatTime(*ev.RetractedAt), Valid: true}
	}
	return row
}

func (r eventRow) toEvent() commission.CollectionEvent {
	ev := commission.CollectionEvent{
		ID:        commission.EventID(r.ID),
		SaleID:    commission.SaleID(r.SaleID),
		Amount:    r.Amount,
		Date:      parseTime(r.Date),
		Method:    r.Method,
		Reference: r.Reference,
		Notes:     r.Notes,
		Active:    r.Active,
		CreatedBy: r.CreatedBy,
		CreatedAt: parseTime(r.CreatedAt),
		UpdatedAt: parseTime(r.UpdatedAt),
	}
	if r.RetractedAt.Valid {
		t := parseTime(r.RetractedAt.String)
		ev.RetractedAt = &t
	}
	return ev
}

type payoutRow struct {
	ID       string          `db:"id"`
	SaleID   string          `db:"sale_id"`
	RecordID string          `db:"record_id"`
	Amount   decimal.Decimal `db:"amount"`
	PaidAt   string          `db:"paid_at"`
	Active   bool            `db:"active"`
}

// =============================================================================
// commission.Store
// =============================================================================

const saleColumns = `id, tenant_id, total_commission, closing_value, currency, active, cancelled,
	total_collected, pct_collected, available_commission, total_paid, collection_status, payment_status`

// WithSaleLock runs fn in an immediate transaction. It commits when fn
// returns nil and rolls back otherwise.
func (s *Store) WithSaleLock(ctx context.Context, saleID commission.SaleID, fn func(commission.Tx) error) error {
	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	tx := &txStore{tx: sqlTx}
	if _, err := tx.Sale(ctx, saleID); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (s *Store) Sale(ctx context.Context, id commission.SaleID) (commission.Sale, error) {
	return getSale(ctx, s.db, id)
}

func (s *Store) EventSale(ctx context.Context, id commission.EventID) (commission.SaleID, error) {
	var saleID string
	err := s.db.GetContext(ctx, &saleID, "SELECT sale_id FROM collection_events WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", &commission.NotFoundError{Entity: "collection", ID: string(id)}
	}
	if err != nil {
		return "", fmt.Errorf("failed to find collection %s: %w", id, err)
	}
	return commission.SaleID(saleID), nil
}

func (s *Store) TenantSales(ctx context.Context, tenantID commission.TenantID) ([]commission.SaleID, error) {
	var ids []commission.SaleID
	err := s.db.SelectContext(ctx, &ids, "SELECT id FROM sales WHERE tenant_id = ? ORDER BY id", tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sales of tenant %s: %w", tenantID, err)
	}
	return ids, nil
}

func (s *Store) Tenants(ctx context.Context) ([]commission.TenantID, error) {
	var ids []commission.TenantID
	if err := s.db.SelectContext(ctx, &ids, "SELECT DISTINCT tenant_id FROM sales ORDER BY tenant_id"); err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	return ids, nil
}

// =============================================================================
// RESOLVERS AND AUDIT SINK
// =============================================================================

func (s *Store) Participants(ctx context.Context, saleID commission.SaleID) ([]commission.Participant, error) {
	if _, err := s.Sale(ctx, saleID); err != nil {
		return nil, err
	}
	var rows []struct {
		Role    string `db:"role"`
		RefKind string `db:"ref_kind"`
		RefID   string `db:"ref_id"`
		RefName string `db:"ref_name"`
	}
	err := s.db.SelectContext(ctx, &rows,
		"SELECT role, ref_kind, ref_id, ref_name FROM sale_participants WHERE sale_id = ?", saleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load participants of %s: %w", saleID, err)
	}
	out := make([]commission.Participant, 0, len(rows))
	for _, r := range rows {
		out = append(out, commission.Participant{
			Role: commission.Role(r.Role),
			Ref:  commission.ParticipantRef{Kind: commission.RefKind(r.RefKind), ID: r.RefID, Name: r.RefName},
		})
	}
	return out, nil
}

func (s *Store) TenantOwner(ctx context.Context, tenantID commission.TenantID) (commission.ParticipantRef, error) {
	var row struct {
		Kind string `db:"owner_kind"`
		ID   string `db:"owner_id"`
		Name string `db:"owner_name"`
	}
	err := s.db.GetContext(ctx, &row, "SELECT owner_kind, owner_id, owner_name FROM tenants WHERE id = ?", tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return commission.ParticipantRef{}, &commission.NotFoundError{Entity: "tenant", ID: string(tenantID)}
	}
	if err != nil {
		return commission.ParticipantRef{}, fmt.Errorf("failed to load tenant %s: %w", tenantID, err)
	}
	return commission.ParticipantRef{Kind: commission.RefKind(row.Kind), ID: row.ID, Name: row.Name}, nil
}

type auditRow struct {
	ID         string         `db:"id"`
	SaleID     string         `db:"sale_id"`
	ChangeType string         `db:"change_type"`
	Entity     string         `db:"entity"`
	EntityID   string         `db:"entity_id"`
	BeforeJSON sql.NullString `db:"before_json"`
	AfterJSON  sql.NullString `db:"after_json"`
	ActorID    string         `db:"actor_id"`
	ActorName  string         `db:"actor_name"`
	Timestamp  string         `db:"timestamp"`
	Summary    string         `db:"summary"`
}

func (s *Store) AppendAudit(ctx context.Context, e commission.AuditEntry) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO audit_log
		(id, sale_id, change_type, entity, entity_id, before_json, after_json, actor_id, actor_name, timestamp, summary)
		VALUES (:id, :sale_id, :change_type, :entity, :entity_id, :before_json, :after_json, :actor_id, :actor_name, :timestamp, :summary)
	`, auditRow{
		ID:         e.ID,
		SaleID:     string(e.SaleID),
		ChangeType: string(e.ChangeType),
		Entity:     e.Entity,
		EntityID:   e.EntityID,
		BeforeJSON: rawJSON(e.Before),
		AfterJSON:  rawJSON(e.After),
		ActorID:    e.ActorID,
		ActorName:  e.ActorName,
		Timestamp:  formatTime(e.Timestamp),
		Summary:    e.Summary,
	})
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// AuditLog returns the audit history of a sale, oldest first.
func (s *Store) AuditLog(ctx context.Context, saleID commission.SaleID) ([]commission.AuditEntry, error) {
	var rows []auditRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, sale_id, change_type, entity, entity_id, before_json, after_json,
		       actor_id, actor_name, timestamp, summary
		FROM audit_log WHERE sale_id = ? ORDER BY timestamp ASC, rowid ASC
	`, saleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load audit log of %s: %w", saleID, err)
	}
	out := make([]commission.AuditEntry, 0, len(rows))
	for _, r := range rows {
		e := commission.AuditEntry{
			ID:         r.ID,
			SaleID:     commission.SaleID(r.SaleID),
			ChangeType: commission.ChangeType(r.ChangeType),
			Entity:     r.Entity,
			EntityID:   r.EntityID,
			ActorID:    r.ActorID,
			ActorName:  r.ActorName,
			Timestamp:  parseTime(r.Timestamp),
			Summary:    r.Summary,
		}
		if r.BeforeJSON.Valid {
			e.Before = json.RawMessage(r.BeforeJSON.String)
		}
		if r.AfterJSON.Valid {
			e.After = json.RawMessage(r.AfterJSON.String)
		}
		out = append(out, e)
	}
	return out, nil
}

// =============================================================================
// SETUP - CRM-owned rows the core only reads
// =============================================================================

// SaveTenant upserts the tenant's company-share owner.
func (s *Store) SaveTenant(ctx context.Context, id commission.TenantID, owner commission.ParticipantRef) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenants (id, owner_kind, owner_id, owner_name) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET owner_kind = excluded.owner_kind,
			owner_id = excluded.owner_id, owner_name = excluded.owner_name
	`, id, owner.Kind, owner.ID, owner.Name)
	if err != nil {
		return fmt.Errorf("failed to save tenant: %w", err)
	}
	return nil
}

// SaveSale upserts a sale including its stored aggregates.
func (s *Store) SaveSale(ctx context.Context, sale commission.Sale) error {
	row := saleRow{
		ID:                  string(sale.ID),
		TenantID:            string(sale.TenantID),
		TotalCommission:     sale.TotalCommission,
		ClosingValue:        sale.ClosingValue,
		Currency:            sale.Currency,
		Active:              sale.Active,
		Cancelled:           sale.Cancelled,
		TotalCollected:      sale.Aggregates.TotalCollected,
		PctCollected:        sale.Aggregates.PctCollected,
		AvailableCommission: sale.Aggregates.AvailableCommission,
		TotalPaid:           sale.Aggregates.TotalPaidToParticipants,
		CollectionStatus:    string(sale.Aggregates.CollectionStatus),
		PaymentStatus:       string(sale.Aggregates.PaymentStatus),
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO sales (`+saleColumns+`)
		VALUES (:id, :tenant_id, :total_commission, :closing_value, :currency, :active, :cancelled,
			:total_collected, :pct_collected, :available_commission, :total_paid, :collection_status, :payment_status)
		ON CONFLICT(id) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			total_commission = excluded.total_commission,
			closing_value = excluded.closing_value,
			currency = excluded.currency,
			active = excluded.active,
			cancelled = excluded.cancelled,
			total_collected = excluded.total_collected,
			pct_collected = excluded.pct_collected,
			available_commission = excluded.available_commission,
			total_paid = excluded.total_paid,
			collection_status = excluded.collection_status,
			payment_status = excluded.payment_status
	`, row)
	if err != nil {
		return fmt.Errorf("failed to save sale: %w", err)
	}
	return nil
}

// SetParticipants replaces the sale's role assignments.
func (s *Store) SetParticipants(ctx context.Context, saleID commission.SaleID, ps []commission.Participant) error {
	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if _, err := sqlTx.ExecContext(ctx, "DELETE FROM sale_participants WHERE sale_id = ?", saleID); err != nil {
		return fmt.Errorf("failed to clear participants: %w", err)
	}
	for _, p := range ps {
		_, err := sqlTx.ExecContext(ctx,
			"INSERT INTO sale_participants (sale_id, role, ref_kind, ref_id, ref_name) VALUES (?, ?, ?, ?, ?)",
			saleID, p.Role, p.Ref.Kind, p.Ref.ID, p.Ref.Name)
		if err != nil {
			return fmt.Errorf("failed to save participant %s: %w", p.Role, err)
		}
	}
	return sqlTx.Commit()
}

// AppendPayout records a disbursement. Stands in for the payout sub-ledger.
func (s *Store) AppendPayout(ctx context.Context, p commission.Payout) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO payouts (id, sale_id, record_id, amount, paid_at, active)
		VALUES (:id, :sale_id, :record_id, :amount, :paid_at, :active)
	`, payoutRow{
		ID:       p.ID,
		SaleID:   string(p.SaleID),
		RecordID: string(p.RecordID),
		Amount:   p.Amount,
		PaidAt:   formatTime(p.PaidAt),
		Active:   p.Active,
	})
	if err != nil {
		return fmt.Errorf("failed to append payout: %w", err)
	}
	return nil
}

// Reset deletes all data. Use with caution.
func (s *Store) Reset(ctx context.Context) error {
	for _, table := range []string{"audit_log", "payouts", "collection_events", "commission_records", "sale_participants", "sales", "tenants"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL VIEW (commission.Tx)
// =============================================================================

type txStore struct {
	tx *sqlx.Tx
}

func (t *txStore) Sale(ctx context.Context, id commission.SaleID) (commission.Sale, error) {
	return getSale(ctx, t.tx, id)
}

func (t *txStore) SetTotalCommission(ctx context.Context, id commission.SaleID, total decimal.Decimal) error {
	_, err := t.tx.ExecContext(ctx, "UPDATE sales SET total_commission = ? WHERE id = ?", total, id)
	if err != nil {
		return fmt.Errorf("failed to update total commission: %w", err)
	}
	return nil
}

func (t *txStore) SaveAggregates(ctx context.Context, id commission.SaleID, agg commission.SaleAggregates) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE sales SET total_collected = ?, pct_collected = ?, available_commission = ?,
			total_paid = ?, collection_status = ?, payment_status = ?
		WHERE id = ?
	`, agg.TotalCollected, agg.PctCollected, agg.AvailableCommission,
		agg.TotalPaidToParticipants, agg.CollectionStatus, agg.PaymentStatus, id)
	if err != nil {
		return fmt.Errorf("failed to save aggregates: %w", err)
	}
	return nil
}

func (t *txStore) Records(ctx context.Context, saleID commission.SaleID) ([]commission.CommissionRecord, error) {
	var rows []recordRow
	err := t.tx.SelectContext(ctx, &rows, `
		SELECT * FROM commission_records WHERE sale_id = ?
		ORDER BY CASE role
			WHEN 'externalBroker' THEN 0
			WHEN 'seller' THEN 1
			WHEN 'lister' THEN 2
			WHEN 'referrer' THEN 3
			WHEN 'company' THEN 4
			ELSE 5 END
	`, saleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load commission records: %w", err)
	}
	out := make([]commission.CommissionRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toRecord())
	}
	return out, nil
}

func (t *txStore) InsertRecords(ctx context.Context, records []commission.CommissionRecord) error {
	for _, r := range records {
		_, err := t.tx.NamedExecContext(ctx, `
			INSERT INTO commission_records
			(id, sale_id, role, ref_kind, ref_id, ref_name, percentage, amount, enabled_amount, paid_amount, status,
			 snapshot_role, snapshot_ref_kind, snapshot_ref_id, snapshot_ref_name, snapshot_percentage,
			 rule_version, captured_at, created_at, updated_at)
			VALUES (:id, :sale_id, :role, :ref_kind, :ref_id, :ref_name, :percentage, :amount, :enabled_amount, :paid_amount, :status,
			 :snapshot_role, :snapshot_ref_kind, :snapshot_ref_id, :snapshot_ref_name, :snapshot_percentage,
			 :rule_version, :captured_at, :created_at, :updated_at)
		`, newRecordRow(r))
		if err != nil {
			return fmt.Errorf("failed to insert commission record %s: %w", r.Role, err)
		}
	}
	return nil
}

func (t *txStore) UpdateRecords(ctx context.Context, records []commission.CommissionRecord) error {
	for _, r := range records {
		res, err := t.tx.ExecContext(ctx, `
			UPDATE commission_records
			SET amount = ?, enabled_amount = ?, paid_amount = ?, status = ?, updated_at = ?
			WHERE id = ?
		`, r.Amount, r.EnabledAmount, r.PaidAmount, r.Status, formatTime(r.UpdatedAt), r.ID)
		if err != nil {
			return fmt.Errorf("failed to update commission record %s: %w", r.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return &commission.NotFoundError{Entity: "commission record", ID: string(r.ID)}
		}
	}
	return nil
}

func (t *txStore) DeleteRecords(ctx context.Context, saleID commission.SaleID) error {
	if _, err := t.tx.ExecContext(ctx, "DELETE FROM commission_records WHERE sale_id = ?", saleID); err != nil {
		return fmt.Errorf("failed to delete commission records: %w", err)
	}
	return nil
}

func (t *txStore) Events(ctx context.Context, saleID commission.SaleID) ([]commission.CollectionEvent, error) {
	var rows []eventRow
	err := t.tx.SelectContext(ctx, &rows, `
		SELECT * FROM collection_events WHERE sale_id = ?
		ORDER BY date ASC, created_at ASC, rowid ASC
	`, saleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load collections: %w", err)
	}
	out := make([]commission.CollectionEvent, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toEvent())
	}
	return out, nil
}

func (t *txStore) Event(ctx context.Context, id commission.EventID) (commission.CollectionEvent, error) {
	var row eventRow
	err := t.tx.GetContext(ctx, &row, "SELECT * FROM collection_events WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return commission.CollectionEvent{}, &commission.NotFoundError{Entity: "collection", ID: string(id)}
	}
	if err != nil {
		return commission.CollectionEvent{}, fmt.Errorf("failed to load collection %s: %w", id, err)
	}
	return row.toEvent(), nil
}

func (t *txStore) InsertEvent(ctx context.Context, ev commission.CollectionEvent) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO collection_events
		(id, sale_id, amount, date, method, reference, notes, active, created_by, created_at, updated_at, retracted_at)
		VALUES (:id, :sale_id, :amount, :date, :method, :reference, :notes, :active, :created_by, :created_at, :updated_at, :retracted_at)
	`, newEventRow(ev))
	if err != nil {
		return fmt.Errorf("failed to insert collection: %w", err)
	}
	return nil
}

func (t *txStore) UpdateEvent(ctx context.Context, ev commission.CollectionEvent) error {
	res, err := t.tx.NamedExecContext(ctx, `
		UPDATE collection_events
		SET amount = :amount, date = :date, method = :method, reference = :reference, notes = :notes,
			active = :active, updated_at = :updated_at, retracted_at = :retracted_at
		WHERE id = :id
	`, newEventRow(ev))
	if err != nil {
		return fmt.Errorf("failed to update collection %s: %w", ev.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &commission.NotFoundError{Entity: "collection", ID: string(ev.ID)}
	}
	return nil
}

func (t *txStore) Payouts(ctx context.Context, saleID commission.SaleID) ([]commission.Payout, error) {
	var rows []payoutRow
	err := t.tx.SelectContext(ctx, &rows, "SELECT * FROM payouts WHERE sale_id = ? ORDER BY paid_at, id", saleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load payouts: %w", err)
	}
	out := make([]commission.Payout, 0, len(rows))
	for _, r := range rows {
		out = append(out, commission.Payout{
			ID:       r.ID,
			SaleID:   commission.SaleID(r.SaleID),
			RecordID: commission.RecordID(r.RecordID),
			Amount:   r.Amount,
			PaidAt:   parseTime(r.PaidAt),
			Active:   r.Active,
		})
	}
	return out, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func getSale(ctx context.Context, q sqlx.QueryerContext, id commission.SaleID) (commission.Sale, error) {
	var row saleRow
	err := sqlx.GetContext(ctx, q, &row, "SELECT "+saleColumns+" FROM sales WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return commission.Sale{}, &commission.NotFoundError{Entity: "sale", ID: string(id)}
	}
	if err != nil {
		return commission.Sale{}, fmt.Errorf("failed to load sale %s: %w", id, err)
	}
	return row.toSale(), nil
}

// timeLayout is fixed width so stored strings sort in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t.UTC()
}

func rawJSON(b json.RawMessage) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
