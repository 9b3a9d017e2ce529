package core_test

import (
	"ParamLedger/internal/core"
	"ParamLedger/internal/event"
	"ParamLedger/internal/fault"
	"ParamLedger/internal/ledger"
	bps "ParamLedger/internal/math"
	"ParamLedger/internal/oracle"
	"ParamLedger/internal/state"
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test helpers ---

const usdc ledger.AssetID = 1

var (
	policyID = uuid.MustParse("0a6a2a9e-36b5-4c8e-9a57-6c1d3f2e4b10")
	masterID = uuid.MustParse("11111111-2222-4333-8444-555555555555")
)

// newTestCore creates a DeterministicCore with a buffered persist channel and
// no DB checker.
func newTestCore() (*core.DeterministicCore, chan core.CoreOutput) {
	persistChan := make(chan core.CoreOutput, 1024)
	c := core.NewDeterministicCore(core.Config{PersistChan: persistChan})
	return c, persistChan
}

func meta(signer string, ts int64) event.Meta {
	return event.Meta{CommandID: uuid.New(), SignedBy: signer, At: ts}
}

func wallet(owner string) ledger.AccountKey {
	return ledger.NewWalletKey(owner, ledger.SubTypeMain, usdc)
}

func apply(t *testing.T, c *core.DeterministicCore, evt event.Event) *core.Result {
	t.Helper()
	res, err := c.ProcessEvent(evt)
	require.NoError(t, err, evt.EventType().String())
	require.False(t, res.Duplicate)
	return res
}

func fund(t *testing.T, c *core.DeterministicCore, account ledger.AccountKey, amount int64) {
	t.Helper()
	apply(t, c, &event.WalletFunded{
		Meta:    meta(ledger.ExternalAuthority, 1),
		Account: account,
		Amount:  amount,
	})
}

func policyRef() event.PolicyRef { return event.PolicyRef{PolicyID: policyID} }

func createPolicyCmd() *event.CreatePolicy {
	return &event.CreatePolicy{
		Meta:      meta("leader", 1_000),
		PolicyRef: policyRef(),
		Terms: state.PolicyTerms{
			Route:             "ICN-NRT",
			FlightNo:          "KE701",
			DepartureDate:     3_000,
			DelayThresholdMin: 120,
			PayoutAmount:      80_000_000,
			Currency:          "USDC",
			OracleFeed:        "feed-ke701",
			ActiveFrom:        2_000,
			ActiveTo:          5_000,
			Participants: []state.ParticipantInit{
				{Insurer: "leader", RatioBps: 5000},
				{Insurer: "ins-a", RatioBps: 3000},
				{Insurer: "ins-b", RatioBps: 2000},
			},
		},
	}
}

var (
	insurers = []string{"leader", "ins-a", "ins-b"}
	deposits = []int64{40_000_000, 24_000_000, 16_000_000}
)

// activePolicy funds every insurer with 100M and drives the policy to Active.
func activePolicy(t *testing.T, c *core.DeterministicCore) {
	t.Helper()
	for _, who := range insurers {
		fund(t, c, wallet(who), 100_000_000)
	}
	apply(t, c, createPolicyCmd())
	apply(t, c, &event.OpenUnderwriting{Meta: meta("leader", 1_100), PolicyRef: policyRef()})
	for i, who := range insurers {
		apply(t, c, &event.AcceptShare{
			Meta:      meta(who, 1_200),
			PolicyRef: policyRef(),
			Index:     i,
			Deposit:   deposits[i],
			From:      wallet(who),
		})
	}
	apply(t, c, &event.ActivatePolicy{Meta: meta("leader", 2_000), PolicyRef: policyRef()})
}

func oracleCmd(minutes string, round uint64) *event.CheckOracle {
	return &event.CheckOracle{
		Meta:        meta(oracle.Authority, 3_500),
		PolicyRef:   policyRef(),
		Feed:        "feed-ke701",
		Round:       round,
		Slot:        10_000,
		CurrentSlot: 10_020,
		Value:       decimal.RequireFromString(minutes),
	}
}

func oracleAt(minutes string, round, slot, currentSlot uint64) *event.CheckOracle {
	cmd := oracleCmd(minutes, round)
	cmd.Slot = slot
	cmd.CurrentSlot = currentSlot
	return cmd
}

func drain(ch chan core.CoreOutput) []core.CoreOutput {
	var out []core.CoreOutput
	for {
		select {
		case o := <-ch:
			out = append(out, o)
		default:
			return out
		}
	}
}

// ============================================================================
// Test: Single-policy lifecycle
// ============================================================================

func TestEngine_PolicyClaimLifecycle(t *testing.T) {
	c, persist := newTestCore()
	activePolicy(t, c)

	p, ok := c.Store().Policy(policyID)
	require.True(t, ok)
	assert.Equal(t, state.PolicyActive, p.State)
	assert.Equal(t, int64(80_000_000), c.Balance(p.Vault()))
	assert.Equal(t, int64(60_000_000), c.Balance(wallet("leader")))

	// Below threshold: no claim, policy stays Active.
	apply(t, c, oracleCmd("110", 1))
	p, _ = c.Store().Policy(policyID)
	assert.Equal(t, state.PolicyActive, p.State)
	_, ok = c.Store().Claim(state.ClaimID(policyID, 1))
	assert.False(t, ok)

	apply(t, c, oracleCmd("130", 2))
	claimID := state.ClaimID(policyID, 2)
	cl, ok := c.Store().Claim(claimID)
	require.True(t, ok)
	assert.Equal(t, state.ClaimClaimable, cl.Status)
	assert.Equal(t, int64(130), cl.OracleValue)

	apply(t, c, &event.ApproveClaim{Meta: meta("leader", 3_600), PolicyRef: policyRef(), ClaimID: claimID})

	beneficiary := wallet("traveller")
	apply(t, c, &event.SettleClaim{
		Meta:        meta("leader", 3_700),
		PolicyRef:   policyRef(),
		ClaimID:     claimID,
		Beneficiary: beneficiary,
	})

	assert.Equal(t, int64(80_000_000), c.Balance(beneficiary))
	assert.Zero(t, c.Balance(p.Vault()))
	pool, _ := c.Store().RiskPool(policyID)
	assert.Zero(t, pool.Available)
	p, _ = c.Store().Policy(policyID)
	assert.Equal(t, state.PolicySettled, p.State)
	require.NoError(t, c.ValidateGlobalBalance())

	// Every applied command was persisted with a contiguous, chained sequence.
	outputs := drain(persist)
	prev := core.GenesisHash()
	for i, o := range outputs {
		assert.Equal(t, int64(i+1), o.Envelope.Sequence)
		assert.Equal(t, prev, o.Envelope.PrevHash)
		assert.Equal(t, core.ChainHash(prev, o.Envelope.Sequence, o.StateDelta), o.Envelope.StateHash)
		prev = o.Envelope.StateHash
	}
	assert.Equal(t, prev, c.GetStateHash())
}

func TestEngine_SettleRequiresApprovedClaim(t *testing.T) {
	c, _ := newTestCore()
	activePolicy(t, c)
	apply(t, c, oracleCmd("200", 1))

	_, err := c.ProcessEvent(&event.SettleClaim{
		Meta:        meta("leader", 3_700),
		PolicyRef:   policyRef(),
		ClaimID:     state.ClaimID(policyID, 1),
		Beneficiary: wallet("traveller"),
	})
	assert.ErrorIs(t, err, fault.ErrInvalidState)
	assert.Zero(t, c.Balance(wallet("traveller")))
}

func TestEngine_OracleRejections(t *testing.T) {
	c, _ := newTestCore()
	activePolicy(t, c)

	stale := oracleCmd("200", 1)
	stale.CurrentSlot = stale.Slot + 151
	_, err := c.ProcessEvent(stale)
	assert.ErrorIs(t, err, fault.ErrOracleStale)

	_, err = c.ProcessEvent(oracleCmd("125", 1))
	assert.ErrorIs(t, err, fault.ErrOracleFormat)

	wrongFeed := oracleCmd("200", 1)
	wrongFeed.Feed = "feed-other"
	_, err = c.ProcessEvent(wrongFeed)
	assert.ErrorIs(t, err, fault.ErrInvalidInput)

	p, _ := c.Store().Policy(policyID)
	assert.Equal(t, state.PolicyActive, p.State)
}

func TestEngine_OracleCheckRequiresOracleSigner(t *testing.T) {
	c, persist := newTestCore()
	activePolicy(t, c)
	drain(persist)
	seq := c.GetSequence()

	forged := oracleCmd("600", 1)
	forged.SignedBy = "leader"
	_, err := c.ProcessEvent(forged)
	require.ErrorIs(t, err, fault.ErrUnauthorized)

	_, ok := c.Store().Claim(state.ClaimID(policyID, 1))
	assert.False(t, ok)
	p, _ := c.Store().Policy(policyID)
	assert.Equal(t, state.PolicyActive, p.State)
	assert.Equal(t, seq, c.GetSequence())
	assert.Equal(t, int64(60_000_000), c.Balance(wallet("leader")))
	assert.Empty(t, drain(persist))
}

func TestEngine_OracleSlotNeverRunsBackwards(t *testing.T) {
	c, _ := newTestCore()
	activePolicy(t, c)
	apply(t, c, oracleCmd("110", 1))

	// An old reading paired with an old current slot would look fresh on
	// its own; the core has already seen slot 10_020.
	_, err := c.ProcessEvent(oracleAt("600", 2, 9_000, 9_000))
	require.ErrorIs(t, err, fault.ErrOracleStale)
	_, ok := c.Store().Claim(state.ClaimID(policyID, 2))
	assert.False(t, ok)

	// The slot clock survives a snapshot restore.
	restored, _ := newTestCore()
	restored.RestoreFromSnapshot(c.CreateSnapshotState())
	_, err = restored.ProcessEvent(oracleAt("600", 2, 9_000, 9_000))
	require.ErrorIs(t, err, fault.ErrOracleStale)

	// A reading newer than the clock is accepted even if its current slot lags.
	apply(t, restored, oracleAt("600", 2, 10_100, 10_000))
	cl, ok := restored.Store().Claim(state.ClaimID(policyID, 2))
	require.True(t, ok)
	assert.Equal(t, int64(600), cl.OracleValue)
}

// ============================================================================
// Test: Atomicity and idempotency
// ============================================================================

func TestEngine_RejectedCommandLeavesNoTrace(t *testing.T) {
	c, persist := newTestCore()
	fund(t, c, wallet("leader"), 100_000_000)
	apply(t, c, createPolicyCmd())
	apply(t, c, &event.OpenUnderwriting{Meta: meta("leader", 1_100), PolicyRef: policyRef()})
	drain(persist)

	seq := c.GetSequence()
	hash := c.GetStateHash()

	// ins-a was never funded: the share transition is staged but the escrow
	// transfer fails, so neither may land.
	_, err := c.ProcessEvent(&event.AcceptShare{
		Meta:      meta("ins-a", 1_200),
		PolicyRef: policyRef(),
		Index:     1,
		Deposit:   24_000_000,
		From:      wallet("ins-a"),
	})
	assert.ErrorIs(t, err, fault.ErrInsufficientFunds)

	uw, _ := c.Store().Underwriting(policyID)
	assert.Equal(t, state.SharePending, uw.Participants[1].Status)
	pool, _ := c.Store().RiskPool(policyID)
	assert.Zero(t, pool.TotalEscrowed)
	assert.Equal(t, seq, c.GetSequence())
	assert.Equal(t, hash, c.GetStateHash())
	assert.Empty(t, drain(persist))

	_, err = c.ProcessEvent(&event.AcceptShare{
		Meta:      meta("leader", 1_200),
		PolicyRef: policyRef(),
		Index:     0,
		Deposit:   39_999_999,
		From:      wallet("leader"),
	})
	assert.ErrorIs(t, err, fault.ErrInsufficientEscrow)
	assert.Equal(t, int64(100_000_000), c.Balance(wallet("leader")))
}

func TestEngine_DuplicateCommandIsIgnored(t *testing.T) {
	c, persist := newTestCore()
	cmd := &event.WalletFunded{Meta: meta(ledger.ExternalAuthority, 1), Account: wallet("leader"), Amount: 5}

	first := apply(t, c, cmd)
	res, err := c.ProcessEvent(cmd)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)

	assert.Equal(t, int64(5), c.Balance(wallet("leader")))
	assert.Equal(t, first.Sequence+1, c.GetSequence())
	assert.Len(t, drain(persist), 1)
}

func TestEngine_DedupLookupFailureRejectsCommand(t *testing.T) {
	db := &fakeDB{}
	persist := make(chan core.CoreOutput, 16)
	c := core.NewDeterministicCore(core.Config{LRUCapacity: 1, DBChecker: db, PersistChan: persist})

	cmdA := &event.WalletFunded{Meta: meta(ledger.ExternalAuthority, 1), Account: wallet("alice"), Amount: 100}
	apply(t, c, cmdA)
	apply(t, c, &event.WalletFunded{Meta: meta(ledger.ExternalAuthority, 2), Account: wallet("bob"), Amount: 50})
	drain(persist)

	// alice's command has left the LRU; only the database could vouch for it.
	db.err = errors.New("connection refused")
	seq := c.GetSequence()
	hash := c.GetStateHash()

	_, err := c.ProcessEvent(cmdA)
	require.ErrorIs(t, err, fault.ErrUnavailable)
	assert.True(t, fault.Retryable(err))
	assert.Equal(t, int64(100), c.Balance(wallet("alice")))
	assert.Equal(t, seq, c.GetSequence())
	assert.Equal(t, hash, c.GetStateHash())
	assert.Empty(t, drain(persist))

	// Once the database answers again the resubmission is a duplicate.
	db.err = nil
	db.seen = map[string]bool{core.CompositeKey(cmdA.EventType().String(), cmdA.IdempotencyKey()): true}
	res, err := c.ProcessEvent(cmdA)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, int64(100), c.Balance(wallet("alice")))
}

func TestEngine_WalletFundingRequiresCustodian(t *testing.T) {
	c, _ := newTestCore()

	_, err := c.ProcessEvent(&event.WalletFunded{Meta: meta("leader", 1), Account: wallet("leader"), Amount: 5})
	assert.ErrorIs(t, err, fault.ErrUnauthorized)

	_, err = c.ProcessEvent(&event.WalletFunded{
		Meta:    meta(ledger.ExternalAuthority, 1),
		Account: ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, usdc),
		Amount:  5,
	})
	assert.ErrorIs(t, err, fault.ErrInvalidInput)
}

func TestEngine_UnknownRecord(t *testing.T) {
	c, _ := newTestCore()
	_, err := c.ProcessEvent(&event.ActivatePolicy{Meta: meta("leader", 1), PolicyRef: policyRef()})
	assert.ErrorIs(t, err, fault.ErrNotFound)

	apply(t, c, createPolicyCmd())
	dup := createPolicyCmd()
	_, err = c.ProcessEvent(dup)
	assert.ErrorIs(t, err, fault.ErrAlreadyExists)
}

// ============================================================================
// Test: Expiry and refunds
// ============================================================================

func TestEngine_ExpiryRefund(t *testing.T) {
	c, _ := newTestCore()
	activePolicy(t, c)

	_, err := c.ProcessEvent(&event.ExpirePolicy{Meta: meta("anyone", 5_000), PolicyRef: policyRef()})
	assert.ErrorIs(t, err, fault.ErrInvalidTimeWindow)
	apply(t, c, &event.ExpirePolicy{Meta: meta("anyone", 5_001), PolicyRef: policyRef()})

	refund := func(who string, index int) error {
		_, err := c.ProcessEvent(&event.RefundAfterExpiry{Meta: meta(who, 5_100), PolicyRef: policyRef(), Index: index})
		return err
	}

	require.NoError(t, refund("ins-a", 1))
	assert.Equal(t, int64(100_000_000), c.Balance(wallet("ins-a")))
	assert.ErrorIs(t, refund("ins-a", 1), fault.ErrInsufficientEscrow)
	assert.ErrorIs(t, refund("ins-a", 2), fault.ErrUnauthorized)

	require.NoError(t, refund("leader", 0))
	require.NoError(t, refund("ins-b", 2))

	p, _ := c.Store().Policy(policyID)
	assert.Zero(t, c.Balance(p.Vault()))
	pool, _ := c.Store().RiskPool(policyID)
	assert.Zero(t, pool.Available)
	require.NoError(t, c.ValidateGlobalBalance())
}

// ============================================================================
// Test: Master / flight lifecycle
// ============================================================================

func masterRef() event.MasterRef { return event.MasterRef{MasterID: masterID} }

func masterCustody(sub ledger.AccountSubType, label string) ledger.AccountKey {
	k := ledger.NewCustodyKey(state.MasterAuthority(masterID), sub, usdc)
	if label != "" {
		k = k.WithLabel(label)
	}
	return k
}

func depositWallet(who string) ledger.AccountKey {
	return ledger.NewWalletKey(who, ledger.SubTypeDeposit, usdc)
}

func activeMaster(t *testing.T, c *core.DeterministicCore) {
	t.Helper()
	apply(t, c, &event.CreateMasterPolicy{
		Meta:      meta("leader", 10),
		MasterRef: masterRef(),
		Terms: state.MasterTerms{
			Operator:         "operator",
			Reinsurer:        "reinsurer",
			Currency:         "USDC",
			CoverageStart:    100,
			CoverageEnd:      100_000,
			PremiumPerPolicy: 5_000_000,
			Tiers: bps.TierPayouts{
				Delay2h: 20_000_000, Delay3h: 40_000_000, Delay4to5h: 60_000_000, Delay6hOrCancelled: 80_000_000,
			},
			CededRatioBps:          5000,
			CommissionBps:          1000,
			LeaderDepositWallet:    masterCustody(ledger.SubTypeDeposit, ""),
			ReinsurerPoolWallet:    masterCustody(ledger.SubTypePool, "reinsurer"),
			ReinsurerDepositWallet: depositWallet("reinsurer"),
			Participants: []state.MasterParticipantInit{
				{Insurer: "leader", ShareBps: 5000},
				{Insurer: "ins-a", ShareBps: 3000},
				{Insurer: "ins-b", ShareBps: 2000},
			},
		},
	})

	_, err := c.ProcessEvent(&event.ActivateMaster{Meta: meta("operator", 11), MasterRef: masterRef()})
	assert.ErrorIs(t, err, fault.ErrMasterNotConfirmed)

	for _, who := range insurers {
		apply(t, c, &event.RegisterParticipantWallets{
			Meta:          meta(who, 12),
			MasterRef:     masterRef(),
			PoolWallet:    masterCustody(ledger.SubTypePool, who),
			DepositWallet: depositWallet(who),
		})
	}
	apply(t, c, &event.ConfirmMaster{Meta: meta("ins-a", 13), MasterRef: masterRef(), Role: "participant"})
	apply(t, c, &event.ConfirmMaster{Meta: meta("ins-b", 13), MasterRef: masterRef(), Role: "participant"})

	_, err = c.ProcessEvent(&event.ConfirmMaster{Meta: meta("reinsurer", 13), MasterRef: masterRef(), Role: "broker"})
	assert.ErrorIs(t, err, fault.ErrInvalidRole)
	apply(t, c, &event.ConfirmMaster{Meta: meta("reinsurer", 13), MasterRef: masterRef(), Role: "reinsurer"})

	apply(t, c, &event.ActivateMaster{Meta: meta("operator", 14), MasterRef: masterRef()})

	// Collateral backing the pools.
	fund(t, c, masterCustody(ledger.SubTypePool, "reinsurer"), 50_000_000)
	fund(t, c, masterCustody(ledger.SubTypePool, "leader"), 30_000_000)
	fund(t, c, masterCustody(ledger.SubTypePool, "ins-a"), 20_000_000)
	fund(t, c, masterCustody(ledger.SubTypePool, "ins-b"), 10_000_000)
	fund(t, c, wallet("operator"), 50_000_000)
}

func issueFlight(t *testing.T, c *core.DeterministicCore, delay uint16, cancelled bool) uuid.UUID {
	t.Helper()
	id := uuid.New()
	apply(t, c, &event.CreateFlightPolicy{
		Meta:      meta("operator", 20),
		MasterRef: masterRef(),
		FlightID:  id,
		Terms:     state.FlightTerms{SubscriberRef: "sub-" + id.String()[:8], FlightNo: "KE701", Route: "ICN-NRT", DepartureTs: 1_000},
		Payer:     wallet("operator"),
	})
	apply(t, c, &event.ResolveFlightDelay{
		Meta:         meta("operator", 30),
		MasterRef:    masterRef(),
		FlightID:     id,
		DelayMinutes: delay,
		Cancelled:    cancelled,
	})
	return id
}

func participantWallets(label func(string) ledger.AccountKey) []ledger.AccountKey {
	out := make([]ledger.AccountKey, len(insurers))
	for i, who := range insurers {
		out[i] = label(who)
	}
	return out
}

func poolWallet(who string) ledger.AccountKey { return masterCustody(ledger.SubTypePool, who) }

func TestEngine_FlightClaimSettlement(t *testing.T) {
	c, _ := newTestCore()
	activeMaster(t, c)
	leaderDeposit := masterCustody(ledger.SubTypeDeposit, "")

	flightID := issueFlight(t, c, 0, true)
	assert.Equal(t, int64(5_000_000), c.Balance(leaderDeposit))

	f, ok := c.Store().Flight(flightID)
	require.True(t, ok)
	assert.Equal(t, state.FlightClaimable, f.Status)
	assert.Equal(t, int64(80_000_000), f.PayoutAmount)

	apply(t, c, &event.SettleFlightClaim{
		Meta:        meta("leader", 40),
		MasterRef:   masterRef(),
		FlightID:    flightID,
		PoolWallets: participantWallets(poolWallet),
	})

	assert.Equal(t, int64(85_000_000), c.Balance(leaderDeposit))
	assert.Equal(t, int64(14_000_000), c.Balance(poolWallet("reinsurer")))
	assert.Equal(t, int64(8_000_000), c.Balance(poolWallet("leader")))
	assert.Equal(t, int64(6_800_000), c.Balance(poolWallet("ins-a")))
	assert.Equal(t, int64(1_200_000), c.Balance(poolWallet("ins-b")))

	f, _ = c.Store().Flight(flightID)
	assert.Equal(t, state.FlightPaid, f.Status)
	require.NoError(t, c.ValidateGlobalBalance())
}

func TestEngine_FlightClaimIsAtomic(t *testing.T) {
	c, _ := newTestCore()
	activeMaster(t, c)

	// The first payout leaves every pool short of its next share, so the
	// second settlement must fail as a whole.
	flightID := issueFlight(t, c, 0, true)
	apply(t, c, &event.SettleFlightClaim{
		Meta:        meta("operator", 40),
		MasterRef:   masterRef(),
		FlightID:    flightID,
		PoolWallets: participantWallets(poolWallet),
	})
	require.Equal(t, int64(1_200_000), c.Balance(poolWallet("ins-b")))

	second := issueFlight(t, c, 0, true)
	before := c.Balance(poolWallet("reinsurer"))
	_, err := c.ProcessEvent(&event.SettleFlightClaim{
		Meta:        meta("operator", 41),
		MasterRef:   masterRef(),
		FlightID:    second,
		PoolWallets: participantWallets(poolWallet),
	})
	assert.ErrorIs(t, err, fault.ErrInsufficientFunds)
	assert.Equal(t, before, c.Balance(poolWallet("reinsurer")))

	f, _ := c.Store().Flight(second)
	assert.Equal(t, state.FlightClaimable, f.Status)
}

func TestEngine_FlightClaimWrongAccountList(t *testing.T) {
	c, _ := newTestCore()
	activeMaster(t, c)
	flightID := issueFlight(t, c, 250, false)

	wallets := participantWallets(poolWallet)
	_, err := c.ProcessEvent(&event.SettleFlightClaim{
		Meta:        meta("operator", 40),
		MasterRef:   masterRef(),
		FlightID:    flightID,
		PoolWallets: wallets[:2],
	})
	assert.ErrorIs(t, err, fault.ErrInvalidAccountList)

	wallets[0], wallets[1] = wallets[1], wallets[0]
	_, err = c.ProcessEvent(&event.SettleFlightClaim{
		Meta:        meta("operator", 40),
		MasterRef:   masterRef(),
		FlightID:    flightID,
		PoolWallets: wallets,
	})
	assert.ErrorIs(t, err, fault.ErrInvalidInput)
}

func TestEngine_FlightNoClaimPremiumDistribution(t *testing.T) {
	c, _ := newTestCore()
	activeMaster(t, c)
	leaderDeposit := masterCustody(ledger.SubTypeDeposit, "")

	flightID := issueFlight(t, c, 60, false)
	f, _ := c.Store().Flight(flightID)
	require.Equal(t, state.FlightNoClaim, f.Status)

	cmd := func(ts int64) *event.SettleFlightNoClaim {
		return &event.SettleFlightNoClaim{
			Meta:           meta("operator", ts),
			MasterRef:      masterRef(),
			FlightID:       flightID,
			DepositWallets: participantWallets(depositWallet),
		}
	}
	apply(t, c, cmd(40))

	assert.Zero(t, c.Balance(leaderDeposit))
	assert.Equal(t, int64(2_250_000), c.Balance(depositWallet("reinsurer")))
	assert.Equal(t, int64(1_375_000), c.Balance(depositWallet("leader")))
	assert.Equal(t, int64(825_000), c.Balance(depositWallet("ins-a")))
	assert.Equal(t, int64(550_000), c.Balance(depositWallet("ins-b")))

	f, _ = c.Store().Flight(flightID)
	assert.True(t, f.PremiumDistributed)
	assert.Equal(t, state.FlightExpired, f.Status)

	_, err := c.ProcessEvent(cmd(41))
	assert.Error(t, err)
	assert.Equal(t, int64(2_250_000), c.Balance(depositWallet("reinsurer")))
}

func TestEngine_FlightIssueRequiresActiveMaster(t *testing.T) {
	c, _ := newTestCore()
	fund(t, c, wallet("operator"), 10_000_000)

	_, err := c.ProcessEvent(&event.CreateFlightPolicy{
		Meta:      meta("operator", 20),
		MasterRef: masterRef(),
		FlightID:  uuid.New(),
		Payer:     wallet("operator"),
	})
	assert.ErrorIs(t, err, fault.ErrNotFound)
	assert.Equal(t, int64(10_000_000), c.Balance(wallet("operator")))
}

// ============================================================================
// Test: Determinism, snapshot and restore
// ============================================================================

func scenario() []event.Event {
	cmds := []event.Event{
		&event.WalletFunded{Meta: meta(ledger.ExternalAuthority, 1), Account: wallet("leader"), Amount: 100_000_000},
		&event.WalletFunded{Meta: meta(ledger.ExternalAuthority, 1), Account: wallet("ins-a"), Amount: 100_000_000},
		&event.WalletFunded{Meta: meta(ledger.ExternalAuthority, 1), Account: wallet("ins-b"), Amount: 100_000_000},
		createPolicyCmd(),
		&event.OpenUnderwriting{Meta: meta("leader", 1_100), PolicyRef: policyRef()},
	}
	for i, who := range insurers {
		cmds = append(cmds, &event.AcceptShare{
			Meta: meta(who, 1_200), PolicyRef: policyRef(), Index: i, Deposit: deposits[i], From: wallet(who),
		})
	}
	return append(cmds,
		&event.ActivatePolicy{Meta: meta("leader", 2_000), PolicyRef: policyRef()},
		oracleCmd("180", 1),
	)
}

func TestEngine_ReplayIsDeterministic(t *testing.T) {
	cmds := scenario()
	a, _ := newTestCore()
	b, _ := newTestCore()
	for _, cmd := range cmds {
		apply(t, a, cmd)
	}
	for _, cmd := range cmds {
		apply(t, b, cmd)
	}
	assert.Equal(t, a.GetSequence(), b.GetSequence())
	assert.Equal(t, a.GetStateHash(), b.GetStateHash())
}

func TestEngine_SnapshotRestore(t *testing.T) {
	cmds := scenario()
	split := len(cmds) - 2

	full, _ := newTestCore()
	for _, cmd := range cmds {
		apply(t, full, cmd)
	}

	first, _ := newTestCore()
	for _, cmd := range cmds[:split] {
		apply(t, first, cmd)
	}
	snap := first.CreateSnapshotState()

	restored, _ := newTestCore()
	restored.RestoreFromSnapshot(snap)
	assert.Equal(t, first.GetSequence(), restored.GetSequence())

	// Commands already in the snapshot are recognised as duplicates.
	res, err := restored.ProcessEvent(cmds[0])
	require.NoError(t, err)
	assert.True(t, res.Duplicate)

	for _, cmd := range cmds[split:] {
		apply(t, restored, cmd)
	}
	assert.Equal(t, full.GetStateHash(), restored.GetStateHash())
	assert.Equal(t, full.Balance(wallet("ins-a")), restored.Balance(wallet("ins-a")))

	cl, ok := restored.Store().Claim(state.ClaimID(policyID, 1))
	require.True(t, ok)
	assert.Equal(t, state.ClaimClaimable, cl.Status)
}

func TestEngine_ReplayFromLog(t *testing.T) {
	live, persist := newTestCore()
	for _, cmd := range scenario() {
		apply(t, live, cmd)
	}
	logged := drain(persist)
	require.NotEmpty(t, logged)

	replayPersist := make(chan core.CoreOutput, 1)
	replayed := core.NewDeterministicCore(core.Config{PersistChan: replayPersist})
	for _, o := range logged {
		require.NoError(t, replayed.ReplayEvent(o.Envelope))
	}
	assert.Equal(t, live.GetStateHash(), replayed.GetStateHash())
	assert.Equal(t, live.GetSequence(), replayed.GetSequence())
	assert.Empty(t, drain(replayPersist))

	// Replayed commands are in the LRU, so redelivery is a duplicate.
	redelivered, err := event.Decode(logged[0].Envelope.EventType, logged[0].Envelope.Payload)
	require.NoError(t, err)
	res, err := replayed.ProcessEvent(redelivered)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
}

func TestEngine_ReplayDetectsTampering(t *testing.T) {
	live, persist := newTestCore()
	fund(t, live, wallet("leader"), 10)
	fund(t, live, wallet("ins-a"), 10)
	logged := drain(persist)

	replayed, _ := newTestCore()
	require.NoError(t, replayed.ReplayEvent(logged[0].Envelope))

	tampered := *logged[1].Envelope
	tampered.StateHash[0] ^= 0xff
	assert.Error(t, replayed.ReplayEvent(&tampered))

	skipped := *logged[1].Envelope
	skipped.Sequence = 5
	assert.Error(t, replayed.ReplayEvent(&skipped))
}

func TestEngine_StateDeltaLengthPrefixesLongPaths(t *testing.T) {
	c, persist := newTestCore()
	long := wallet(strings.Repeat("o", 300))
	fund(t, c, long, 7)

	outputs := drain(persist)
	require.Len(t, outputs, 1)

	var paths []string
	delta := outputs[0].StateDelta
	for len(delta) > 0 {
		require.GreaterOrEqual(t, len(delta), 4)
		n := int(binary.BigEndian.Uint32(delta))
		delta = delta[4:]
		require.GreaterOrEqual(t, len(delta), n+8)
		paths = append(paths, string(delta[:n]))
		delta = delta[n+8:]
	}
	assert.ElementsMatch(t, []string{
		long.AccountPath(),
		ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, usdc).AccountPath(),
	}, paths)
	assert.Greater(t, len(long.AccountPath()), 255)
}
