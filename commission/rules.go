/*
rules.go - Versioned distribution rule tables

PURPOSE:
  The percentages used to split a commission are configuration, not code.
  A RuleTable is an explicit value passed into Compute; a RuleBook keeps every
  version so a sale's records can always name the table they were cut from.

DEFAULT TABLE (v1):
  seller 50, lister 15, referrer 5
  external broker present: broker 50, every other base share x 0.5
  company: whatever is left

VALIDATION:
  A table is rejected when either configuration (with or without a broker)
  would leave the company a negative remainder.

SEE ALSO:
  - distribution.go: applies a RuleTable
  - factory/rules.go: loads a RuleBook from JSON
*/
package commission

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// DefaultRuleVersion is the version of DefaultRuleTable.
const DefaultRuleVersion = "v1"

// RuleTable is one immutable version of the distribution rules.
type RuleTable struct {
	Version string

	// BasePercentages holds the share of every non-company, non-broker role.
	BasePercentages map[Role]decimal.Decimal

	// BrokerShare is the fixed share of an external broker.
	BrokerShare decimal.Decimal

	// BrokerScale multiplies every base share when a broker is present.
	BrokerScale decimal.Decimal
}

// DefaultRuleTable returns the built-in v1 rules.
func DefaultRuleTable() RuleTable {
	return RuleTable{
		Version: DefaultRuleVersion,
		BasePercentages: map[Role]decimal.Decimal{
			RoleSeller:   decimal.NewFromInt(50),
			RoleLister:   decimal.NewFromInt(15),
			RoleReferrer: decimal.NewFromInt(5),
		},
		BrokerShare: decimal.NewFromInt(50),
		BrokerScale: decimal.NewFromFloat(0.5),
	}
}

// Base returns the configured share for role, zero when the role has none.
func (t RuleTable) Base(role Role) decimal.Decimal {
	if p, ok := t.BasePercentages[role]; ok {
		return p
	}
	return decimal.Zero
}

// Validate checks that the table can always leave the company a share >= 0.
func (t RuleTable) Validate() error {
	if t.Version == "" {
		return &ConfigurationError{Reason: "version is required"}
	}
	if t.BrokerShare.IsNegative() || t.BrokerShare.GreaterThan(hundred) {
		return &ConfigurationError{RuleVersion: t.Version, Reason: "broker share must be within [0, 100]"}
	}
	if t.BrokerScale.IsNegative() {
		return &ConfigurationError{RuleVersion: t.Version, Reason: "broker scale must not be negative"}
	}

	sum := decimal.Zero
	for role, p := range t.BasePercentages {
		if role == RoleCompany || role == RoleExternalBroker || !role.Valid() {
			return &ConfigurationError{RuleVersion: t.Version, Reason: fmt.Sprintf("role %q cannot carry a base percentage", role)}
		}
		if p.IsNegative() {
			return &ConfigurationError{RuleVersion: t.Version, Reason: fmt.Sprintf("negative base percentage for %s", role)}
		}
		sum = sum.Add(p)
	}

	if sum.GreaterThan(hundred) {
		return &ConfigurationError{RuleVersion: t.Version,
			Reason: fmt.Sprintf("base percentages sum to %s, above 100", sum)}
	}
	withBroker := t.BrokerShare.Add(sum.Mul(t.BrokerScale))
	if withBroker.GreaterThan(hundred) {
		return &ConfigurationError{RuleVersion: t.Version,
			Reason: fmt.Sprintf("broker configuration sums to %s, above 100", withBroker)}
	}
	return nil
}

// =============================================================================
// RULE BOOK
// =============================================================================

// RuleBook holds every known rule version and which one new distributions use.
type RuleBook struct {
	tables map[string]RuleTable
	active string
}

// NewRuleBook validates every table. active must name one of them.
func NewRuleBook(active string, tables ...RuleTable) (*RuleBook, error) {
	rb := &RuleBook{tables: make(map[string]RuleTable, len(tables)), active: active}
	for _, t := range tables {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		if _, dup := rb.tables[t.Version]; dup {
			return nil, &ConfigurationError{RuleVersion: t.Version, Reason: "duplicate version"}
		}
		rb.tables[t.Version] = t
	}
	if _, ok := rb.tables[active]; !ok {
		return nil, &ConfigurationError{RuleVersion: active, Reason: "active version is not defined"}
	}
	return rb, nil
}

// DefaultRuleBook contains only DefaultRuleTable.
func DefaultRuleBook() *RuleBook {
	rb, err := NewRuleBook(DefaultRuleVersion, DefaultRuleTable())
	if err != nil {
		panic(err)
	}
	return rb
}

func (rb *RuleBook) Active() RuleTable { return rb.tables[rb.active] }

func (rb *RuleBook) Version(v string) (RuleTable, bool) {
	t, ok := rb.tables[v]
	return t, ok
}

// Versions returns every version, sorted.
func (rb *RuleBook) Versions() []string {
	out := make([]string, 0, len(rb.tables))
	for v := range rb.tables {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
