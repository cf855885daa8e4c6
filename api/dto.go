/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Commission records and
  collection events already carry JSON tags and are returned as-is; everything
  else goes through a DTO so the domain types stay free of API concerns.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request types carry go-playground/validator tags, checked in decodeJSON.
  Money rules (amount > 0, over-collection) are domain rules and stay in the
  commission package.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/rules.go: RuleBookJSON
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/commission-engine/commission"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// ParticipantDTO is a role assignment in requests and responses.
type ParticipantDTO struct {
	Role string `json:"role" validate:"required,oneof=seller lister referrer externalBroker company"`
	Kind string `json:"kind" validate:"required,oneof=user contact"`
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty" validate:"required_without=ID"`
}

// OwnerDTO identifies the company-share recipient of a preview.
type OwnerDTO struct {
	Kind string `json:"kind" validate:"required,oneof=user contact"`
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty" validate:"required_without=ID"`
}

// PreviewRequest asks for a distribution without persisting anything.
type PreviewRequest struct {
	TotalCommission decimal.Decimal  `json:"total_commission"`
	Participants    []ParticipantDTO `json:"participants" validate:"dive"`
	Owner           *OwnerDTO        `json:"owner,omitempty"`
	RuleVersion     string           `json:"rule_version,omitempty"`
}

// SetCommissionsRequest runs ComputeAndPersist with explicit inputs.
type SetCommissionsRequest struct {
	TotalCommission decimal.Decimal  `json:"total_commission"`
	Participants    []ParticipantDTO `json:"participants" validate:"dive"`
}

// RegisterCollectionRequest is the body of POST /api/sales/{id}/collections.
type RegisterCollectionRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency,omitempty" validate:"omitempty,len=3,alpha"`
	Date      string          `json:"date,omitempty"` // YYYY-MM-DD or RFC3339
	Method    string          `json:"method,omitempty" validate:"max=50"`
	Reference string          `json:"reference,omitempty" validate:"max=100"`
	Notes     string          `json:"notes,omitempty" validate:"max=1000"`
}

// EditCollectionRequest is the body of PATCH /api/collections/{id}.
// Omitted fields are left unchanged.
type EditCollectionRequest struct {
	Amount    *decimal.Decimal `json:"amount,omitempty"`
	Date      *string          `json:"date,omitempty"`
	Method    *string          `json:"method,omitempty" validate:"omitempty,max=50"`
	Reference *string          `json:"reference,omitempty" validate:"omitempty,max=100"`
	Notes     *string          `json:"notes,omitempty" validate:"omitempty,max=1000"`
}

// LoadScenarioRequest selects a demo scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// SaleDTO is a sale with its stored aggregates.
type SaleDTO struct {
	ID              string                    `json:"id"`
	TenantID        string                    `json:"tenant_id"`
	TotalCommission decimal.Decimal           `json:"total_commission"`
	ClosingValue    decimal.Decimal           `json:"closing_value"`
	Currency        string                    `json:"currency"`
	Active          bool                      `json:"active"`
	Cancelled       bool                      `json:"cancelled"`
	Aggregates      commission.SaleAggregates `json:"aggregates"`
}

// ShareDTO is one line of a distribution preview.
type ShareDTO struct {
	Role       string          `json:"role"`
	Ref        ParticipantDTO  `json:"ref"`
	Percentage decimal.Decimal `json:"percentage"`
	Amount     decimal.Decimal `json:"amount"`
}

// PreviewDTO is the response of POST /api/distribution/preview.
type PreviewDTO struct {
	RuleVersion string     `json:"rule_version"`
	Shares      []ShareDTO `json:"shares"`
}

// TenantRecomputeDTO summarizes an administrative tenant recompute.
type TenantRecomputeDTO struct {
	TenantID       string            `json:"tenant_id"`
	Sales          int               `json:"sales"`
	Failed         map[string]string `json:"failed,omitempty"`
	TotalCollected decimal.Decimal   `json:"total_collected"`
	TotalAvailable decimal.Decimal   `json:"total_available"`
	TotalPaid      decimal.Decimal   `json:"total_paid"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toSaleDTO(s commission.Sale) SaleDTO {
	return SaleDTO{
		ID:              string(s.ID),
		TenantID:        string(s.TenantID),
		TotalCommission: s.TotalCommission,
		ClosingValue:    s.ClosingValue,
		Currency:        s.Currency,
		Active:          s.Active,
		Cancelled:       s.Cancelled,
		Aggregates:      s.Aggregates,
	}
}

func (p ParticipantDTO) ref() commission.ParticipantRef {
	return commission.ParticipantRef{Kind: commission.RefKind(p.Kind), ID: p.ID, Name: p.Name}
}

func toParticipants(dtos []ParticipantDTO) []commission.Participant {
	out := make([]commission.Participant, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, commission.Participant{Role: commission.Role(d.Role), Ref: d.ref()})
	}
	return out
}

func toParticipantDTO(role commission.Role, ref commission.ParticipantRef) ParticipantDTO {
	return ParticipantDTO{Role: string(role), Kind: string(ref.Kind), ID: ref.ID, Name: ref.Name}
}

func toTenantRecomputeDTO(r commission.TenantRecomputeReport) TenantRecomputeDTO {
	dto := TenantRecomputeDTO{
		TenantID:       string(r.TenantID),
		Sales:          r.Sales,
		TotalCollected: r.Totals.TotalCollected,
		TotalAvailable: r.Totals.AvailableCommission,
		TotalPaid:      r.Totals.TotalPaidToParticipants,
	}
	if len(r.Failed) > 0 {
		dto.Failed = make(map[string]string, len(r.Failed))
		for id, err := range r.Failed {
			dto.Failed[string(id)] = err.Error()
		}
	}
	return dto
}

// parseDate accepts YYYY-MM-DD or RFC3339.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
