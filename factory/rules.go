/*
Package factory provides JSON to Go rule-table conversion.

PURPOSE:
  Converts JSON rule definitions into a commission.RuleBook. Operations can
  publish a new distribution version without a deploy; sales cut from older
  versions keep naming the version in their snapshot.

JSON SCHEMA:
  {
    "active": "v2",
    "tables": [
      {
        "version": "v1",
        "base_percentages": {"seller": "50", "lister": "15", "referrer": "5"},
        "broker_share": "50",
        "broker_scale": "0.5"
      }
    ]
  }

  Percentages may be JSON strings or numbers. Strings are preferred because
  they round-trip without float conversion.

KEY FEATURES:
  - Structural validation with go-playground/validator
  - Semantic validation through commission.RuleTable.Validate
  - Export back to JSON for GET /api/rules

SEE ALSO:
  - commission/rules.go: RuleTable and RuleBook
*/
package factory

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/warp/commission-engine/commission"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// RuleBookJSON is the JSON representation of a rule book.
type RuleBookJSON struct {
	Active string          `json:"active" validate:"required"`
	Tables []RuleTableJSON `json:"tables" validate:"required,min=1,dive"`
}

// RuleTableJSON is one rule version.
type RuleTableJSON struct {
	Version         string                     `json:"version" validate:"required"`
	BasePercentages map[string]decimal.Decimal `json:"base_percentages" validate:"required,min=1"`
	BrokerShare     decimal.Decimal            `json:"broker_share"`
	BrokerScale     decimal.Decimal            `json:"broker_scale"`
}

// =============================================================================
// RULE FACTORY
// =============================================================================

// RuleFactory converts JSON rule books to commission.RuleBook.
type RuleFactory struct {
	validate *validator.Validate
}

func NewRuleFactory() *RuleFactory {
	return &RuleFactory{validate: validator.New()}
}

// ParseRuleBook parses and validates a JSON rule book.
func (f *RuleFactory) ParseRuleBook(data []byte) (*commission.RuleBook, error) {
	var rb RuleBookJSON
	if err := json.Unmarshal(data, &rb); err != nil {
		return nil, fmt.Errorf("invalid rule book JSON: %w", err)
	}
	return f.ConvertRuleBook(rb)
}

// LoadRuleBook reads a JSON rule book from disk.
func (f *RuleFactory) LoadRuleBook(path string) (*commission.RuleBook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return f.ParseRuleBook(data)
}

// ConvertRuleBook validates rb and builds the domain value.
func (f *RuleFactory) ConvertRuleBook(rb RuleBookJSON) (*commission.RuleBook, error) {
	if err := f.validate.Struct(rb); err != nil {
		return nil, &commission.ConfigurationError{RuleVersion: rb.Active, Reason: err.Error()}
	}

	tables := make([]commission.RuleTable, 0, len(rb.Tables))
	for _, tj := range rb.Tables {
		t, err := convertTable(tj)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return commission.NewRuleBook(rb.Active, tables...)
}

func convertTable(tj RuleTableJSON) (commission.RuleTable, error) {
	t := commission.RuleTable{
		Version:         tj.Version,
		BasePercentages: make(map[commission.Role]decimal.Decimal, len(tj.BasePercentages)),
		BrokerShare:     tj.BrokerShare,
		BrokerScale:     tj.BrokerScale,
	}
	for name, pct := range tj.BasePercentages {
		role := commission.Role(strings.TrimSpace(name))
		if !role.Valid() {
			return commission.RuleTable{}, &commission.ConfigurationError{
				RuleVersion: tj.Version,
				Reason:      fmt.Sprintf("unknown role %q", name),
			}
		}
		t.BasePercentages[role] = pct
	}
	return t, nil
}

// =============================================================================
// EXPORT
// =============================================================================

// ExportRuleBook renders rb in the same schema ParseRuleBook accepts.
func ExportRuleBook(rb *commission.RuleBook) RuleBookJSON {
	out := RuleBookJSON{Active: rb.Active().Version}
	for _, v := range rb.Versions() {
		t, _ := rb.Version(v)
		tj := RuleTableJSON{
			Version:         t.Version,
			BasePercentages: make(map[string]decimal.Decimal, len(t.BasePercentages)),
			BrokerShare:     t.BrokerShare,
			BrokerScale:     t.BrokerScale,
		}
		for role, pct := range t.BasePercentages {
			tj.BasePercentages[string(role)] = pct
		}
		out.Tables = append(out.Tables, tj)
	}
	return out
}
