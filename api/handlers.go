/*
handlers.go - HTTP API handlers for the commission engine

PURPOSE:
  Exposes commission distribution and collection tracking via REST API.
  Handlers parse and validate the request, call commission.Service and
  serialize the result. No business rule lives here.

ENDPOINTS:
  Rules:
    GET    /api/rules                         Rule book (all versions)
    POST   /api/distribution/preview          Compute shares, persist nothing

  Sales:
    GET    /api/sales/{id}                    Sale with aggregates
    GET    /api/sales/{id}/commissions        Commission records
    PUT    /api/sales/{id}/commissions        ComputeAndPersist with explicit inputs
    POST   /api/sales/{id}/commissions/sync   ComputeAndPersist from CRM data
    POST   /api/sales/{id}/recompute          Re-derive aggregates
    GET    /api/sales/{id}/audit              Audit history

  Collections:
    GET    /api/sales/{id}/collections        All events, retracted included
    POST   /api/sales/{id}/collections        Register a client payment
    PATCH  /api/collections/{id}              Edit an event
    DELETE /api/collections/{id}              Retract an event (soft delete)

  Admin:
    POST   /api/admin/tenants/{id}/recompute  Recompute every sale of a tenant

ERROR HANDLING:
  Errors are returned as JSON {error, details} with:
  - 400: Validation errors, invalid input
  - 404: Sale, event or tenant not found
  - 409: Over-collection, dependent payouts
  - 422: Rule configuration errors
  - 500: Internal errors

ACTOR:
  X-Actor-ID / X-Actor-Name headers name the user behind a mutation; the audit
  log records them. Requests without them are attributed to the system actor.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/factory"
	"github.com/warp/commission-engine/store/sqlite"
	"go.uber.org/zap"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *commission.Service
	Store   *sqlite.Store

	validate *validator.Validate
	log      *zap.Logger

	// Track currently loaded scenario
	currentScenario string
}

// NewHandler creates a handler over svc. store backs audit reads and scenarios.
func NewHandler(svc *commission.Service, store *sqlite.Store, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		Service:  svc,
		Store:    store,
		validate: validator.New(),
		log:      log,
	}
}

// =============================================================================
// RULES
// =============================================================================

// GetRules returns every rule version and the active one.
func (h *Handler) GetRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, factory.ExportRuleBook(h.Service.Rules))
}

// PreviewDistribution runs Compute without touching the store.
func (h *Handler) PreviewDistribution(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	rules := h.Service.Rules.Active()
	if req.RuleVersion != "" {
		t, ok := h.Service.Rules.Version(req.RuleVersion)
		if !ok {
			writeError(w, http.StatusNotFound, "Unknown rule version", errors.New(req.RuleVersion))
			return
		}
		rules = t
	}

	owner := commission.ParticipantRef{Kind: commission.RefUser, ID: "company", Name: "Company"}
	if req.Owner != nil {
		owner = commission.ParticipantRef{Kind: commission.RefKind(req.Owner.Kind), ID: req.Owner.ID, Name: req.Owner.Name}
	}

	shares, err := commission.Compute(toParticipants(req.Participants), owner, rules)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	records := commission.PreviewRecords(req.TotalCommission, shares, rules.Version, time.Now())
	dto := PreviewDTO{RuleVersion: rules.Version, Shares: make([]ShareDTO, 0, len(records))}
	for _, rec := range records {
		dto.Shares = append(dto.Shares, ShareDTO{
			Role:       string(rec.Role),
			Ref:        toParticipantDTO(rec.Role, rec.Ref),
			Percentage: rec.Percentage,
			Amount:     rec.Amount,
		})
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// SALES AND COMMISSIONS
// =============================================================================

// GetSale returns a sale and its aggregates.
func (h *Handler) GetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := h.Service.Sale(r.Context(), saleID(r))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSaleDTO(sale))
}

// ListCommissions returns the sale's commission records.
func (h *Handler) ListCommissions(w http.ResponseWriter, r *http.Request) {
	records, err := h.Service.Ledger.Records(r.Context(), saleID(r))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(records))
}

// SetCommissions creates, rescales or regenerates the records from the body.
func (h *Handler) SetCommissions(w http.ResponseWriter, r *http.Request) {
	var req SetCommissionsRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	records, err := h.Service.Ledger.ComputeAndPersist(r.Context(), saleID(r), req.TotalCommission, toParticipants(req.Participants))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(records))
}

// SyncCommissions reads total and participants from the CRM tables.
func (h *Handler) SyncCommissions(w http.ResponseWriter, r *http.Request) {
	records, err := h.Service.SyncSale(r.Context(), saleID(r))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(records))
}

// RecomputeSale re-derives aggregates and enabled amounts.
func (h *Handler) RecomputeSale(w http.ResponseWriter, r *http.Request) {
	id := saleID(r)
	if _, err := h.Service.Enablement.Recompute(r.Context(), id); err != nil {
		h.writeServiceError(w, err)
		return
	}
	sale, err := h.Service.Sale(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSaleDTO(sale))
}

// GetAuditLog returns the sale's change history.
func (h *Handler) GetAuditLog(w http.ResponseWriter, r *http.Request) {
	id := saleID(r)
	if _, err := h.Service.Sale(r.Context(), id); err != nil {
		h.writeServiceError(w, err)
		return
	}
	entries, err := h.Store.AuditLog(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(entries))
}

// =============================================================================
// COLLECTIONS
// =============================================================================

// ListCollections returns every event of the sale.
func (h *Handler) ListCollections(w http.ResponseWriter, r *http.Request) {
	events, err := h.Service.Collections.Events(r.Context(), saleID(r))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(events))
}

// RegisterCollection records a client payment.
func (h *Handler) RegisterCollection(w http.ResponseWriter, r *http.Request) {
	var req RegisterCollectionRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	in := commission.CollectionInput{
		Amount:    req.Amount,
		Currency:  req.Currency,
		Method:    req.Method,
		Reference: req.Reference,
		Notes:     req.Notes,
	}
	if req.Date != "" {
		d, err := parseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date", err)
			return
		}
		in.Date = d
	}

	ev, err := h.Service.Collections.Register(r.Context(), saleID(r), in)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

// EditCollection changes amount, date or bookkeeping fields of an event.
func (h *Handler) EditCollection(w http.ResponseWriter, r *http.Request) {
	var req EditCollectionRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	patch := commission.CollectionPatch{
		Amount:    req.Amount,
		Method:    req.Method,
		Reference: req.Reference,
		Notes:     req.Notes,
	}
	if req.Date != nil {
		d, err := parseDate(*req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date", err)
			return
		}
		patch.Date = &d
	}

	ev, err := h.Service.Collections.Edit(r.Context(), commission.EventID(chi.URLParam(r, "id")), patch)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// RetractCollection soft-deletes an event.
func (h *Handler) RetractCollection(w http.ResponseWriter, r *http.Request) {
	ev, err := h.Service.Collections.Retract(r.Context(), commission.EventID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// =============================================================================
// ADMIN
// =============================================================================

// RecomputeTenant recomputes every sale of a tenant. Per-sale failures are
// reported in the body; the status stays 200 unless the listing itself fails.
func (h *Handler) RecomputeTenant(w http.ResponseWriter, r *http.Request) {
	tenantID := commission.TenantID(chi.URLParam(r, "id"))
	report, err := h.Service.RecomputeTenant(r.Context(), tenantID)
	if err != nil && len(report.Failed) == 0 {
		h.writeServiceError(w, err)
		return
	}
	if err != nil {
		h.log.Warn("tenant recompute finished with failures",
			zap.String("tenant_id", string(tenantID)),
			zap.Int("failed", len(report.Failed)))
	}
	writeJSON(w, http.StatusOK, toTenantRecomputeDTO(report))
}

// =============================================================================
// HELPERS
// =============================================================================

func saleID(r *http.Request) commission.SaleID {
	return commission.SaleID(chi.URLParam(r, "id"))
}

// decodeJSON decodes and validates the body. It writes a 400 and returns false
// on failure.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Namespace()] = fe.Tag()
			}
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Validation failed", Details: fields})
			return false
		}
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

// statusFor maps commission errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case commission.IsNotFound(err):
		return http.StatusNotFound
	case commission.IsConflict(err):
		return http.StatusConflict
	case errors.Is(err, commission.ErrConfiguration):
		return http.StatusUnprocessableEntity
	case commission.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	message := http.StatusText(status)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", zap.Error(err))
	}
	writeError(w, status, message, err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// nonNil keeps empty lists rendering as [] instead of null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
