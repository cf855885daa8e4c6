package commission_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/commission-engine/commission"
)

func sharesByRole(shares []commission.Share) map[commission.Role]decimal.Decimal {
	out := make(map[commission.Role]decimal.Decimal, len(shares))
	for _, s := range shares {
		out[s.Role] = s.Percentage
	}
	return out
}

func TestCompute_NoBroker_BasePercentagesUnscaled(t *testing.T) {
	shares, err := commission.Compute(
		[]commission.Participant{seller(agentA), lister(agentC)},
		ownerB, commission.DefaultRuleTable())
	require.NoError(t, err)

	got := sharesByRole(shares)
	require.Len(t, got, 3)
	assert.Equal(t, "50", got[commission.RoleSeller].String())
	assert.Equal(t, "15", got[commission.RoleLister].String())
	assert.Equal(t, "35", got[commission.RoleCompany].String())
}

func TestCompute_ExternalBroker_HalvesOtherRoles(t *testing.T) {
	shares, err := commission.Compute(
		[]commission.Participant{seller(agentA), lister(agentC), broker(brokerX)},
		ownerB, commission.DefaultRuleTable())
	require.NoError(t, err)

	got := sharesByRole(shares)
	assert.Equal(t, "50", got[commission.RoleExternalBroker].String())
	assert.Equal(t, "25", got[commission.RoleSeller].String())
	assert.Equal(t, "7.5", got[commission.RoleLister].String())
	assert.Equal(t, "17.5", got[commission.RoleCompany].String())

	// Fixed output order: broker first, company last
	assert.Equal(t, commission.RoleExternalBroker, shares[0].Role)
	assert.Equal(t, commission.RoleCompany, shares[len(shares)-1].Role)
	assert.Equal(t, ownerB, shares[len(shares)-1].Ref)
}

func TestCompute_EveryParticipantSubset_SumsToHundred(t *testing.T) {
	// GIVEN: every combination of the four non-company roles
	all := []commission.Participant{seller(agentA), lister(agentC), referrer(agentA), broker(brokerX)}

	for mask := 0; mask < 1<<len(all); mask++ {
		var ps []commission.Participant
		for i, p := range all {
			if mask&(1<<i) != 0 {
				ps = append(ps, p)
			}
		}

		shares, err := commission.Compute(ps, ownerB, commission.DefaultRuleTable())
		require.NoError(t, err)

		sum := decimal.Zero
		for _, s := range shares {
			assert.True(t, s.Percentage.IsPositive(), "zero shares are omitted")
			sum = sum.Add(s.Percentage)
		}
		assert.True(t, sum.Equal(decimal.NewFromInt(100)), "mask %b sums to %s", mask, sum)
	}
}

func TestCompute_CompanyParticipantOverridesOwner(t *testing.T) {
	other := commission.ParticipantRef{Kind: commission.RefUser, ID: "branch-manager"}
	shares, err := commission.Compute(
		[]commission.Participant{seller(agentA), {Role: commission.RoleCompany, Ref: other}},
		ownerB, commission.DefaultRuleTable())
	require.NoError(t, err)

	require.Len(t, shares, 2)
	assert.Equal(t, other, shares[1].Ref)
}

func TestCompute_InvalidInput(t *testing.T) {
	rules := commission.DefaultRuleTable()

	_, err := commission.Compute([]commission.Participant{seller(agentA), seller(agentC)}, ownerB, rules)
	assert.ErrorIs(t, err, commission.ErrValidation, "duplicate role")

	_, err = commission.Compute([]commission.Participant{{Role: "notary", Ref: agentA}}, ownerB, rules)
	assert.ErrorIs(t, err, commission.ErrValidation, "unknown role")

	_, err = commission.Compute([]commission.Participant{{Role: commission.RoleSeller}}, ownerB, rules)
	assert.ErrorIs(t, err, commission.ErrValidation, "missing identity")

	_, err = commission.Compute([]commission.Participant{seller(agentA)}, commission.ParticipantRef{}, rules)
	assert.ErrorIs(t, err, commission.ErrValidation, "no company owner")
}

func TestCompute_ExternalContactWithoutID(t *testing.T) {
	contact := commission.ParticipantRef{Kind: commission.RefContact, Name: "Walk-in Referrer"}
	shares, err := commission.Compute([]commission.Participant{referrer(contact)}, ownerB, commission.DefaultRuleTable())
	require.NoError(t, err)

	got := sharesByRole(shares)
	assert.Equal(t, "5", got[commission.RoleReferrer].String())
	assert.Equal(t, "95", got[commission.RoleCompany].String())
}

func TestCompute_NegativeRemainder_IsConfigurationError(t *testing.T) {
	// GIVEN: a hand-built table whose base shares exceed 100 (never validated)
	rules := commission.DefaultRuleTable()
	rules.Version = "broken"
	rules.BasePercentages = map[commission.Role]decimal.Decimal{
		commission.RoleSeller: decimal.NewFromInt(80),
		commission.RoleLister: decimal.NewFromInt(30),
	}

	// WHEN: both roles are present
	_, err := commission.Compute([]commission.Participant{seller(agentA), lister(agentC)}, ownerB, rules)

	// THEN: rejected rather than clipping the company to zero
	var cfgErr *commission.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "broken", cfgErr.RuleVersion)
	assert.ErrorIs(t, err, commission.ErrConfiguration)
}

func TestCompute_ExactlyHundred_OmitsCompany(t *testing.T) {
	rules := commission.DefaultRuleTable()
	rules.Version = "full"
	rules.BasePercentages = map[commission.Role]decimal.Decimal{
		commission.RoleSeller: decimal.NewFromInt(60),
		commission.RoleLister: decimal.NewFromInt(40),
	}
	rules.BrokerScale = decimal.NewFromFloat(0.5)
	require.NoError(t, rules.Validate())

	shares, err := commission.Compute([]commission.Participant{seller(agentA), lister(agentC)}, ownerB, rules)
	require.NoError(t, err)
	_, hasCompany := sharesByRole(shares)[commission.RoleCompany]
	assert.False(t, hasCompany)
}

// =============================================================================
// RULE TABLES
// =============================================================================

func TestRuleTable_Validate(t *testing.T) {
	assert.NoError(t, commission.DefaultRuleTable().Validate())

	tooBig := commission.DefaultRuleTable()
	tooBig.BasePercentages[commission.RoleSeller] = decimal.NewFromInt(90)
	assert.ErrorIs(t, tooBig.Validate(), commission.ErrConfiguration)

	brokerHeavy := commission.DefaultRuleTable()
	brokerHeavy.BrokerShare = decimal.NewFromInt(70)
	brokerHeavy.BrokerScale = decimal.NewFromInt(1)
	assert.ErrorIs(t, brokerHeavy.Validate(), commission.ErrConfiguration)

	companyBase := commission.DefaultRuleTable()
	companyBase.BasePercentages[commission.RoleCompany] = decimal.NewFromInt(10)
	assert.ErrorIs(t, companyBase.Validate(), commission.ErrConfiguration)
}

func TestRuleBook(t *testing.T) {
	v2 := commission.DefaultRuleTable()
	v2.Version = "v2"
	v2.BasePercentages[commission.RoleSeller] = decimal.NewFromInt(45)

	rb, err := commission.NewRuleBook("v2", commission.DefaultRuleTable(), v2)
	require.NoError(t, err)
	assert.Equal(t, "v2", rb.Active().Version)
	assert.Equal(t, []string{"v1", "v2"}, rb.Versions())

	old, ok := rb.Version("v1")
	require.True(t, ok)
	assert.Equal(t, "50", old.Base(commission.RoleSeller).String())

	_, err = commission.NewRuleBook("v3", commission.DefaultRuleTable())
	assert.ErrorIs(t, err, commission.ErrConfiguration)

	_, err = commission.NewRuleBook("v1", commission.DefaultRuleTable(), commission.DefaultRuleTable())
	assert.ErrorIs(t, err, commission.ErrConfiguration)
}
