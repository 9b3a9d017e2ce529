package state_test

import (
	"ParamLedger/internal/fault"
	"ParamLedger/internal/ledger"
	bps "ParamLedger/internal/math"
	"ParamLedger/internal/state"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const usdc ledger.AssetID = 1

func wallet(owner string) ledger.AccountKey {
	return ledger.NewWalletKey(owner, ledger.SubTypeMain, usdc)
}

func policyTerms() state.PolicyTerms {
	return state.PolicyTerms{
		Route:             "ICN-NRT",
		FlightNo:          "KE701",
		DepartureDate:     1_700_100_000,
		DelayThresholdMin: 120,
		PayoutAmount:      80_000_000,
		Currency:          "USDC",
		OracleFeed:        "feed-ke701",
		ActiveFrom:        1_700_000_000,
		ActiveTo:          1_700_200_000,
		Participants: []state.ParticipantInit{
			{Insurer: "leader", RatioBps: 5000},
			{Insurer: "ins-a", RatioBps: 3000},
			{Insurer: "ins-b", RatioBps: 2000},
		},
	}
}

func openPolicy(t *testing.T) *state.PolicySet {
	t.Helper()
	set, err := state.CreatePolicy(uuid.New(), "leader", policyTerms(), 1_699_000_000)
	require.NoError(t, err)
	require.NoError(t, state.OpenUnderwriting("leader", set.Policy, set.Underwriting))
	return set
}

// ============================================================================
// Test: Policy creation
// ============================================================================

func TestCreatePolicy_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*state.PolicyTerms)
		want   error
	}{
		{"window", func(p *state.PolicyTerms) { p.ActiveTo = p.ActiveFrom }, fault.ErrInvalidTimeWindow},
		{"payout", func(p *state.PolicyTerms) { p.PayoutAmount = 0 }, fault.ErrInvalidAmount},
		{"threshold", func(p *state.PolicyTerms) { p.DelayThresholdMin = 90 }, fault.ErrInvalidDelayThreshold},
		{"route", func(p *state.PolicyTerms) { p.Route = "ICN-NRT-HND-KIX-X" }, fault.ErrInputTooLong},
		{"flight", func(p *state.PolicyTerms) { p.FlightNo = "ABCDEFGHIJKLMNOPQ" }, fault.ErrInputTooLong},
		{"currency", func(p *state.PolicyTerms) { p.Currency = "DOGE" }, fault.ErrInvalidInput},
		{"ratio", func(p *state.PolicyTerms) { p.Participants[0].RatioBps = 4999 }, fault.ErrInvalidRatio},
		{"empty", func(p *state.PolicyTerms) { p.Participants = nil }, fault.ErrInvalidInput},
		{"too many", func(p *state.PolicyTerms) {
			p.Participants = make([]state.ParticipantInit, 17)
			for i := range p.Participants {
				p.Participants[i] = state.ParticipantInit{Insurer: fmt.Sprintf("ins-%d", i), RatioBps: 1}
			}
		}, fault.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			terms := policyTerms()
			tt.mutate(&terms)
			_, err := state.CreatePolicy(uuid.New(), "leader", terms, 0)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCreatePolicy_InitialState(t *testing.T) {
	set, err := state.CreatePolicy(uuid.New(), "leader", policyTerms(), 10)
	require.NoError(t, err)

	assert.Equal(t, state.PolicyDraft, set.Policy.State)
	assert.Equal(t, state.UnderwritingProposed, set.Underwriting.Status)
	assert.Equal(t, uint16(10_000), set.Underwriting.TotalRatio)
	assert.Zero(t, set.Pool.TotalEscrowed)
	assert.Equal(t, set.Policy.Vault(), set.Pool.Vault)
	assert.Equal(t, state.PolicyAuthority(set.Policy.ID), set.Pool.Vault.Owner)
	assert.Empty(t, set.Registry.Entries)
}

func TestOpenUnderwriting_LeaderOnly(t *testing.T) {
	set, err := state.CreatePolicy(uuid.New(), "leader", policyTerms(), 0)
	require.NoError(t, err)

	assert.ErrorIs(t, state.OpenUnderwriting("ins-a", set.Policy, set.Underwriting), fault.ErrUnauthorized)
	require.NoError(t, state.OpenUnderwriting("leader", set.Policy, set.Underwriting))
	assert.ErrorIs(t, state.OpenUnderwriting("leader", set.Policy, set.Underwriting), fault.ErrInvalidState)
}

// ============================================================================
// Test: Underwriting
// ============================================================================

func TestAcceptShare_RequiredDeposit(t *testing.T) {
	set := openPolicy(t)

	_, err := state.AcceptShare("ins-a", set.Policy, set.Underwriting, set.Pool, 1, 23_999_999, wallet("ins-a"))
	assert.ErrorIs(t, err, fault.ErrInsufficientEscrow)

	tr, err := state.AcceptShare("ins-a", set.Policy, set.Underwriting, set.Pool, 1, 24_000_000, wallet("ins-a"))
	require.NoError(t, err)
	assert.Equal(t, int64(24_000_000), tr.Amount)
	assert.Equal(t, set.Pool.Vault, tr.To)
	assert.Equal(t, "ins-a", tr.Authority)
	assert.Equal(t, int64(24_000_000), set.Pool.Available)
	assert.Equal(t, state.ShareAccepted, set.Underwriting.Participants[1].Status)
	assert.Equal(t, state.PolicyOpen, set.Policy.State)
}

func TestAcceptShare_Rejections(t *testing.T) {
	set := openPolicy(t)

	_, err := state.AcceptShare("ins-b", set.Policy, set.Underwriting, set.Pool, 1, 24_000_000, wallet("ins-b"))
	assert.ErrorIs(t, err, fault.ErrUnauthorized, "not the share owner")

	_, err = state.AcceptShare("ins-a", set.Policy, set.Underwriting, set.Pool, 1, 24_000_000, wallet("ins-b"))
	assert.ErrorIs(t, err, fault.ErrUnauthorized, "someone else's wallet")

	_, err = state.AcceptShare("ins-a", set.Policy, set.Underwriting, set.Pool, 1, 24_000_000,
		ledger.NewWalletKey("ins-a", ledger.SubTypeMain, 2))
	assert.ErrorIs(t, err, fault.ErrInvalidInput, "wrong currency")

	_, err = state.AcceptShare("ins-a", set.Policy, set.Underwriting, set.Pool, 7, 24_000_000, wallet("ins-a"))
	assert.ErrorIs(t, err, fault.ErrNotFound)

	_, err = state.AcceptShare("ins-a", set.Policy, set.Underwriting, set.Pool, 1, 0, wallet("ins-a"))
	assert.ErrorIs(t, err, fault.ErrInvalidAmount)
}

func TestAcceptShare_OnlyAcceptedCountTowardsFinalize(t *testing.T) {
	set := openPolicy(t)

	require.NoError(t, state.RejectShare("ins-b", set.Policy, set.Underwriting, 2))
	_, err := state.AcceptShare("leader", set.Policy, set.Underwriting, set.Pool, 0, 40_000_000, wallet("leader"))
	require.NoError(t, err)
	_, err = state.AcceptShare("ins-a", set.Policy, set.Underwriting, set.Pool, 1, 24_000_000, wallet("ins-a"))
	require.NoError(t, err)

	accepted, err := set.Underwriting.AcceptedRatio()
	require.NoError(t, err)
	assert.Equal(t, uint32(8000), accepted)
	assert.Equal(t, state.PolicyOpen, set.Policy.State)
	assert.Equal(t, state.UnderwritingOpen, set.Underwriting.Status)

	assert.ErrorIs(t, state.RejectShare("ins-b", set.Policy, set.Underwriting, 2), fault.ErrInvalidState,
		"rejection is final")
	_, err = state.AcceptShare("ins-b", set.Policy, set.Underwriting, set.Pool, 2, 16_000_000, wallet("ins-b"))
	assert.ErrorIs(t, err, fault.ErrInvalidState)
}

func TestAcceptShare_FullAcceptanceFunds(t *testing.T) {
	set := openPolicy(t)
	for i, who := range []string{"leader", "ins-a", "ins-b"} {
		_, err := state.AcceptShare(who, set.Policy, set.Underwriting, set.Pool, i, 40_000_000, wallet(who))
		require.NoError(t, err)
	}

	assert.Equal(t, state.PolicyFunded, set.Policy.State)
	assert.Equal(t, state.UnderwritingFinalized, set.Underwriting.Status)
	assert.Equal(t, int64(120_000_000), set.Pool.TotalEscrowed)
	assert.Equal(t, set.Pool.TotalEscrowed, set.Pool.Available)
}

// ============================================================================
// Test: Activation window
// ============================================================================

func fundedPolicy(t *testing.T) *state.PolicySet {
	t.Helper()
	set := openPolicy(t)
	for i, who := range []string{"leader", "ins-a", "ins-b"} {
		_, err := state.AcceptShare(who, set.Policy, set.Underwriting, set.Pool, i, 40_000_000, wallet(who))
		require.NoError(t, err)
	}
	return set
}

func TestActivateAndExpire_Window(t *testing.T) {
	set := fundedPolicy(t)
	p := set.Policy

	assert.ErrorIs(t, state.ActivatePolicy("leader", p, p.ActiveFrom-1), fault.ErrInvalidTimeWindow)
	assert.ErrorIs(t, state.ActivatePolicy("ins-a", p, p.ActiveFrom), fault.ErrUnauthorized)
	require.NoError(t, state.ActivatePolicy("leader", p, p.ActiveFrom))

	assert.ErrorIs(t, state.ExpirePolicy(p, p.ActiveTo), fault.ErrInvalidTimeWindow)
	require.NoError(t, state.ExpirePolicy(p, p.ActiveTo+1))
	assert.Equal(t, state.PolicyExpired, p.State)
	assert.ErrorIs(t, state.ExpirePolicy(p, p.ActiveTo+2), fault.ErrInvalidState)
}

func TestApproveClaim(t *testing.T) {
	set := fundedPolicy(t)
	p := set.Policy
	require.NoError(t, state.ActivatePolicy("leader", p, p.ActiveFrom))

	c := &state.Claim{ID: state.ClaimID(p.ID, 9), PolicyID: p.ID, Status: state.ClaimClaimable, PayoutAmount: p.PayoutAmount}
	assert.ErrorIs(t, state.ApproveClaim("leader", p, c), fault.ErrInvalidState, "policy still Active")

	p.State = state.PolicyClaimable
	assert.ErrorIs(t, state.ApproveClaim("ins-a", p, c), fault.ErrUnauthorized)
	require.NoError(t, state.ApproveClaim("leader", p, c))
	assert.Equal(t, state.ClaimApproved, c.Status)
	assert.Equal(t, state.PolicyApproved, p.State)
	assert.Equal(t, "leader", c.ApprovedBy)
}

func TestClaimID_UniquePerRound(t *testing.T) {
	id := uuid.New()
	assert.Equal(t, state.ClaimID(id, 1), state.ClaimID(id, 1))
	assert.NotEqual(t, state.ClaimID(id, 1), state.ClaimID(id, 2))
	assert.NotEqual(t, state.ClaimID(id, 1), state.ClaimID(uuid.New(), 1))
}

// ============================================================================
// Test: Policyholder registry
// ============================================================================

func TestRegisterPolicyholder_Cap(t *testing.T) {
	set := openPolicy(t)
	in := state.PolicyholderInput{ExternalRef: "booking", FlightNo: "KE701", PassengerCount: 1, PremiumPaid: 10}

	assert.ErrorIs(t, state.RegisterPolicyholder("ins-a", set.Policy, set.Registry, in, 0), fault.ErrUnauthorized)

	for i := 0; i < state.MaxPolicyholders; i++ {
		require.NoError(t, state.RegisterPolicyholder("leader", set.Policy, set.Registry, in, int64(i)))
	}
	assert.ErrorIs(t, state.RegisterPolicyholder("leader", set.Policy, set.Registry, in, 0), fault.ErrInvalidInput)
	assert.Len(t, set.Registry.Entries, state.MaxPolicyholders)

	long := in
	long.ExternalRef = "0123456789012345678901234567890123"
	assert.ErrorIs(t, state.RegisterPolicyholder("leader", set.Policy, &state.PolicyholderRegistry{PolicyID: set.Policy.ID}, long, 0),
		fault.ErrInputTooLong)
}

// ============================================================================
// Test: Master / flight lifecycle
// ============================================================================

func masterTerms() state.MasterTerms {
	m := uuid.MustParse("11111111-2222-4333-8444-555555555555")
	auth := state.MasterAuthority(m)
	return state.MasterTerms{
		Operator:         "operator",
		Reinsurer:        "reinsurer",
		Currency:         "USDC",
		CoverageStart:    1_700_000_000,
		CoverageEnd:      1_731_536_000,
		PremiumPerPolicy: 5_000_000,
		Tiers: bps.TierPayouts{
			Delay2h: 20_000_000, Delay3h: 40_000_000, Delay4to5h: 60_000_000, Delay6hOrCancelled: 80_000_000,
		},
		CededRatioBps:          5000,
		CommissionBps:          1000,
		LeaderDepositWallet:    ledger.NewCustodyKey(auth, ledger.SubTypeDeposit, usdc),
		ReinsurerPoolWallet:    ledger.NewCustodyKey(auth, ledger.SubTypePool, usdc).WithLabel("reinsurer"),
		ReinsurerDepositWallet: ledger.NewWalletKey("reinsurer", ledger.SubTypeDeposit, usdc),
		Participants: []state.MasterParticipantInit{
			{Insurer: "leader", ShareBps: 5000},
			{Insurer: "ins-a", ShareBps: 3000},
			{Insurer: "ins-b", ShareBps: 2000},
		},
	}
}

var masterID = uuid.MustParse("11111111-2222-4333-8444-555555555555")

func registerAll(t *testing.T, m *state.MasterPolicy) {
	t.Helper()
	for _, who := range []string{"leader", "ins-a", "ins-b"} {
		pool := ledger.NewCustodyKey(m.Authority(), ledger.SubTypePool, usdc).WithLabel(who)
		deposit := ledger.NewWalletKey(who, ledger.SubTypeDeposit, usdc)
		require.NoError(t, m.RegisterParticipantWallets(who, pool, deposit))
	}
}

func TestValidateMasterParticipants_Independent(t *testing.T) {
	missingLeader := []state.MasterParticipantInit{{Insurer: "ins-a", ShareBps: 6000}, {Insurer: "ins-b", ShareBps: 4000}}
	assert.ErrorIs(t, state.ValidateMasterParticipants(missingLeader, "leader"), fault.ErrInvalidInput)

	badSum := []state.MasterParticipantInit{{Insurer: "leader", ShareBps: 6000}, {Insurer: "ins-b", ShareBps: 3000}}
	assert.ErrorIs(t, state.ValidateMasterParticipants(badSum, "leader"), fault.ErrInvalidRatio)

	tooMany := make([]state.MasterParticipantInit, 9)
	assert.ErrorIs(t, state.ValidateMasterParticipants(tooMany, "leader"), fault.ErrInvalidInput)
}

func TestCreateMasterPolicy(t *testing.T) {
	m, err := state.CreateMasterPolicy(masterID, "leader", masterTerms(), 1)
	require.NoError(t, err)

	assert.Equal(t, state.MasterPendingConfirm, m.Status)
	assert.Equal(t, uint16(4500), m.ReinsurerEffectiveBps)
	assert.True(t, m.Participants[0].Confirmed, "leader slot pre-confirmed")
	assert.False(t, m.Participants[1].Confirmed)
	assert.True(t, m.Participants[1].PoolWallet.IsZero())

	bad := masterTerms()
	bad.PremiumPerPolicy = 0
	_, err = state.CreateMasterPolicy(masterID, "leader", bad, 1)
	assert.ErrorIs(t, err, fault.ErrInvalidAmount)

	bad = masterTerms()
	bad.CommissionBps = 10_001
	_, err = state.CreateMasterPolicy(masterID, "leader", bad, 1)
	assert.ErrorIs(t, err, fault.ErrInvalidRatio)

	bad = masterTerms()
	bad.LeaderDepositWallet = ledger.NewWalletKey("leader", ledger.SubTypeDeposit, 3)
	_, err = state.CreateMasterPolicy(masterID, "leader", bad, 1)
	assert.ErrorIs(t, err, fault.ErrInvalidInput)
}

func TestMaster_ConfirmAndActivate(t *testing.T) {
	m, err := state.CreateMasterPolicy(masterID, "leader", masterTerms(), 1)
	require.NoError(t, err)

	assert.ErrorIs(t, m.Confirm("ins-a", state.ConfirmParticipant), fault.ErrInvalidInput, "no wallets yet")
	assert.ErrorIs(t, m.Confirm("stranger", state.ConfirmParticipant), fault.ErrUnauthorized)
	assert.ErrorIs(t, m.Confirm("ins-a", state.ConfirmReinsurer), fault.ErrUnauthorized)
	assert.ErrorIs(t, m.Confirm("ins-a", state.ConfirmRole(7)), fault.ErrInvalidRole)

	registerAll(t, m)
	require.NoError(t, m.Confirm("ins-a", state.ConfirmParticipant))
	require.NoError(t, m.Confirm("ins-b", state.ConfirmParticipant))

	assert.ErrorIs(t, m.Activate("operator"), fault.ErrMasterNotConfirmed, "reinsurer missing")
	require.NoError(t, m.Confirm("reinsurer", state.ConfirmReinsurer))
	assert.ErrorIs(t, m.Activate("leader"), fault.ErrUnauthorized)
	require.NoError(t, m.Activate("operator"))
	assert.Equal(t, state.MasterActive, m.Status)

	assert.ErrorIs(t, m.RegisterParticipantWallets("ins-a", wallet("ins-a"), wallet("ins-a")), fault.ErrInvalidState)
	assert.ErrorIs(t, m.Confirm("ins-a", state.ConfirmParticipant), fault.ErrInvalidState)
}

func TestParseConfirmRole(t *testing.T) {
	r, err := state.ParseConfirmRole("reinsurer")
	require.NoError(t, err)
	assert.Equal(t, state.ConfirmReinsurer, r)

	_, err = state.ParseConfirmRole("auditor")
	assert.ErrorIs(t, err, fault.ErrInvalidRole)
}

func activeMaster(t *testing.T) *state.MasterPolicy {
	t.Helper()
	m, err := state.CreateMasterPolicy(masterID, "leader", masterTerms(), 1)
	require.NoError(t, err)
	registerAll(t, m)
	require.NoError(t, m.Confirm("ins-a", state.ConfirmParticipant))
	require.NoError(t, m.Confirm("ins-b", state.ConfirmParticipant))
	require.NoError(t, m.Confirm("reinsurer", state.ConfirmReinsurer))
	require.NoError(t, m.Activate("operator"))
	return m
}

func TestIssueAndResolveFlight(t *testing.T) {
	m := activeMaster(t)
	terms := state.FlightTerms{SubscriberRef: "sub-1", FlightNo: "KE701", Route: "ICN-NRT", DepartureTs: 1_700_100_000}

	_, _, err := m.IssueFlight("ins-a", uuid.New(), terms, wallet("ins-a"), 5)
	assert.ErrorIs(t, err, fault.ErrUnauthorized)

	f, tr, err := m.IssueFlight("operator", uuid.New(), terms, wallet("operator"), 5)
	require.NoError(t, err)
	assert.Equal(t, state.FlightAwaitingOracle, f.Status)
	assert.Equal(t, int64(5_000_000), tr.Amount)
	assert.Equal(t, m.LeaderDepositWallet, tr.To)
	assert.Zero(t, f.PayoutAmount)

	require.NoError(t, m.ResolveFlightDelay("leader", f, 185, false, 9))
	assert.Equal(t, state.FlightClaimable, f.Status)
	assert.Equal(t, int64(40_000_000), f.PayoutAmount)
	assert.ErrorIs(t, m.ResolveFlightDelay("leader", f, 0, false, 9), fault.ErrInvalidState)

	g, _, err := m.IssueFlight("leader", uuid.New(), terms, wallet("leader"), 5)
	require.NoError(t, err)
	require.NoError(t, m.ResolveFlightDelay("operator", g, 119, false, 9))
	assert.Equal(t, state.FlightNoClaim, g.Status)

	other := &state.FlightPolicy{ID: uuid.New(), MasterID: uuid.New(), Status: state.FlightAwaitingOracle}
	assert.ErrorIs(t, m.ResolveFlightDelay("leader", other, 200, false, 9), fault.ErrInvalidInput)
}

func TestIssueFlight_InactiveMaster(t *testing.T) {
	m, err := state.CreateMasterPolicy(masterID, "leader", masterTerms(), 1)
	require.NoError(t, err)
	_, _, err = m.IssueFlight("leader", uuid.New(), state.FlightTerms{}, wallet("leader"), 5)
	assert.ErrorIs(t, err, fault.ErrMasterNotActive)
}

// ============================================================================
// Test: Store / Tx
// ============================================================================

func TestTx_RollbackLeavesStoreUntouched(t *testing.T) {
	store := state.NewStore()
	set, err := state.CreatePolicy(uuid.New(), "leader", policyTerms(), 0)
	require.NoError(t, err)

	tx := store.Begin()
	require.NoError(t, tx.InsertPolicySet(set))
	changed, err := tx.Commit()
	require.NoError(t, err)
	assert.Len(t, changed, 4)

	tx = store.Begin()
	p, err := tx.Policy(set.Policy.ID)
	require.NoError(t, err)
	uw, err := tx.Underwriting(set.Policy.ID)
	require.NoError(t, err)
	require.NoError(t, state.OpenUnderwriting("leader", p, uw))
	tx.Rollback()

	stored, ok := store.Policy(set.Policy.ID)
	require.True(t, ok)
	assert.Equal(t, state.PolicyDraft, stored.State)

	_, err = tx.Commit()
	assert.ErrorIs(t, err, fault.ErrInvalidState)
}

func TestTx_InsertDuplicate(t *testing.T) {
	store := state.NewStore()
	id := uuid.New()
	c := &state.Claim{ID: id}

	tx := store.Begin()
	require.NoError(t, tx.InsertClaim(c))
	assert.ErrorIs(t, tx.InsertClaim(c.Clone()), fault.ErrAlreadyExists)
	_, err := tx.Commit()
	require.NoError(t, err)

	tx = store.Begin()
	assert.ErrorIs(t, tx.InsertClaim(c.Clone()), fault.ErrAlreadyExists)
	_, err = tx.Flight(uuid.New())
	assert.ErrorIs(t, err, fault.ErrNotFound)
}

func TestStore_ExportRestore(t *testing.T) {
	store := state.NewStore()
	m := activeMaster(t)
	tx := store.Begin()
	require.NoError(t, tx.InsertMaster(m))
	_, err := tx.Commit()
	require.NoError(t, err)

	restored := state.NewStore()
	restored.Restore(store.Export())
	got, ok := restored.Master(masterID)
	require.True(t, ok)
	assert.Equal(t, m, got)

	a, err := state.CanonicalBytes(m)
	require.NoError(t, err)
	b, err := state.CanonicalBytes(got)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestValidateIdentity(t *testing.T) {
	assert.NoError(t, state.ValidateIdentity("ins-a"))
	assert.ErrorIs(t, state.ValidateIdentity(""), fault.ErrInvalidInput)
	assert.ErrorIs(t, state.ValidateIdentity("a:b"), fault.ErrInvalidInput)
	assert.ErrorIs(t, state.ValidateIdentity(state.MasterAuthority(masterID)), fault.ErrInvalidInput)
}
