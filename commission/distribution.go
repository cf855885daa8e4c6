/*
distribution.go - Percentage shares from a participant set

PURPOSE:
  Pure function turning the people on a sale into percentage shares.
  No I/O, no clock, no globals: the same inputs always give the same output.

RULE:
  - External broker present: broker gets BrokerShare, every other present role
    gets its base percentage x BrokerScale.
  - No external broker: base percentages apply unscaled.
  - Company always receives 100 - sum(others).

  Example (v1, broker present):  broker 50, seller 25, lister 7.5, company 17.5
  Example (v1, no broker):       seller 50, lister 15, company 35

NEGATIVE REMAINDER:
  If the others already exceed 100 the table is misconfigured. Compute returns a
  ConfigurationError rather than clipping the company to zero, which would
  silently under-allocate the commission.

SEE ALSO:
  - rules.go: RuleTable
  - ledger.go: persists the shares as CommissionRecords
*/
package commission

import (
	"github.com/shopspring/decimal"
)

// Share is one role's percentage of the commission.
type Share struct {
	Role       Role            `json:"role"`
	Ref        ParticipantRef  `json:"ref"`
	Percentage decimal.Decimal `json:"percentage"`
}

func (s Share) participant() Participant { return Participant{Role: s.Role, Ref: s.Ref} }

// Compute splits 100% across participants using rules. owner receives the
// company row unless participants already contain a company entry.
// Roles whose share is zero are omitted.
func Compute(participants []Participant, owner ParticipantRef, rules RuleTable) ([]Share, error) {
	byRole := make(map[Role]Participant, len(participants))
	for _, p := range participants {
		if !p.Role.Valid() {
			return nil, invalid("participants", "unknown role %q", p.Role)
		}
		if p.Ref.IsZero() {
			return nil, invalid("participants", "%s has no identity", p.Role)
		}
		if _, dup := byRole[p.Role]; dup {
			return nil, invalid("participants", "role %s appears more than once", p.Role)
		}
		byRole[p.Role] = p
	}

	if company, ok := byRole[RoleCompany]; ok {
		owner = company.Ref
	}
	if owner.IsZero() {
		return nil, invalid("company", "no tenant owner to receive the company share")
	}

	_, hasBroker := byRole[RoleExternalBroker]

	var shares []Share
	allocated := decimal.Zero
	for _, role := range roleOrder {
		if role == RoleCompany {
			continue
		}
		p, ok := byRole[role]
		if !ok {
			continue
		}

		var pct decimal.Decimal
		switch {
		case role == RoleExternalBroker:
			pct = rules.BrokerShare
		case hasBroker:
			pct = rules.Base(role).Mul(rules.BrokerScale)
		default:
			pct = rules.Base(role)
		}
		if !pct.IsPositive() {
			continue
		}

		shares = append(shares, Share{Role: role, Ref: p.Ref, Percentage: pct})
		allocated = allocated.Add(pct)
	}

	remainder := hundred.Sub(allocated)
	if remainder.IsNegative() {
		return nil, &ConfigurationError{
			RuleVersion: rules.Version,
			Reason:      "participant shares sum to " + allocated.String() + ", leaving a negative company remainder",
		}
	}
	if remainder.IsPositive() {
		shares = append(shares, Share{Role: RoleCompany, Ref: owner, Percentage: remainder})
	}
	return shares, nil
}
