/*
errors.go - Centralized error types for the commission core

PURPOSE:
  All error types in one place. Every structured error unwraps to a sentinel
  so callers can branch with errors.Is and still read the details with errors.As.

ERROR CATEGORIES:
  1. Validation      - non-positive amounts, malformed input, closed sales
  2. Not found       - missing sale, record or collection event
  3. Over-collection - a payment would exceed the commission total
  4. Dependent payouts - money already disbursed blocks a reduction
  5. Configuration   - a rule table does not leave a valid company share

All of these abort a mutation before anything is written.

SEE ALSO:
  - api/handlers.go: maps these to HTTP status codes
*/
package commission

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation = errors.New("validation failed")

	ErrNotFound = errors.New("not found")

	// ErrOverCollection is returned when collected amounts would exceed the
	// sale's total commission by more than one cent.
	ErrOverCollection = errors.New("collection exceeds commission total")

	// ErrDependentPayouts is returned when reducing collected money would leave
	// less available than was already paid out to participants.
	ErrDependentPayouts = errors.New("dependent payouts exist")

	ErrConfiguration = errors.New("invalid distribution configuration")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError names the missing entity ("sale", "collection", ...).
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// OverCollectionError reports by how much a collection overshoots the total.
type OverCollectionError struct {
	SaleID    SaleID
	Total     decimal.Decimal
	Collected decimal.Decimal // active collections, excluding the one being edited
	Requested decimal.Decimal
	Excess    decimal.Decimal
}

func (e *OverCollectionError) Error() string {
	return fmt.Sprintf("sale %s: collecting %s on top of %s exceeds commission %s by %s",
		e.SaleID, e.Requested.StringFixed(2), e.Collected.StringFixed(2),
		e.Total.StringFixed(2), e.Excess.StringFixed(2))
}

func (e *OverCollectionError) Unwrap() error { return ErrOverCollection }

type DependentPayoutsError struct {
	SaleID    SaleID
	TotalPaid decimal.Decimal
	Available decimal.Decimal // available commission after the change
}

func (e *DependentPayoutsError) Error() string {
	return fmt.Sprintf("sale %s: %s already paid to participants but only %s would remain available",
		e.SaleID, e.TotalPaid.StringFixed(2), e.Available.StringFixed(2))
}

func (e *DependentPayoutsError) Unwrap() error { return ErrDependentPayouts }

type ConfigurationError struct {
	RuleVersion string
	Reason      string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("rule table %q: %s", e.RuleVersion, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict returns true if the request was well formed but clashes with
// the current ledger state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrOverCollection) || errors.Is(err, ErrDependentPayouts)
}
