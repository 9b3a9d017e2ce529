package ledger_test

import (
	"ParamLedger/internal/fault"
	"ParamLedger/internal/ledger"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const usdc ledger.AssetID = 1

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_Paths(t *testing.T) {
	tests := []struct {
		name string
		key  ledger.AccountKey
		want string
	}{
		{"wallet", ledger.NewWalletKey("alice", ledger.SubTypeMain, usdc), "wallet:alice:main:USDC"},
		{"custody", ledger.NewCustodyKey("policy.p1", ledger.SubTypeVault, usdc), "custody:policy.p1:vault:USDC"},
		{"labelled", ledger.NewCustodyKey("master.m1", ledger.SubTypePool, usdc).WithLabel("insurer-a"), "custody:master.m1:pool.insurer-a:USDC"},
		{"external", ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, usdc), "external:deposits:USDC"},
		{"zero", ledger.AccountKey{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.key.AccountPath())

			parsed, err := ledger.ParseAccountPath(tt.want)
			require.NoError(t, err)
			assert.Equal(t, tt.key, parsed)
		})
	}
}

func TestParseAccountPath_Rejects(t *testing.T) {
	for _, path := range []string{
		"wallet:alice:main",
		"wallet::main:USDC",
		"custody:m:bogus:USDC",
		"wallet:alice:main:DOGE",
		"external:deposits.x:USDC",
		"wallet:alice:pool.:USDC",
		"system:fees:USDC",
	} {
		_, err := ledger.ParseAccountPath(path)
		assert.ErrorIs(t, err, fault.ErrInvalidInput, path)
	}
}

func TestAccountKey_TextRoundTrip(t *testing.T) {
	key := ledger.NewWalletKey("bob", ledger.SubTypeDeposit, usdc)
	text, err := key.MarshalText()
	require.NoError(t, err)

	var decoded ledger.AccountKey
	require.NoError(t, decoded.UnmarshalText(text))
	assert.Equal(t, key, decoded)
}

func TestGetAssetID(t *testing.T) {
	id, ok := ledger.GetAssetID("USDC")
	require.True(t, ok)
	assert.Equal(t, usdc, id)

	_, ok = ledger.GetAssetID("DOGE")
	assert.False(t, ok)
}

// ============================================================================
// Test: JournalGenerator
// ============================================================================

func fund(t *testing.T, bt *ledger.BalanceTracker, to ledger.AccountKey, amount int64) {
	t.Helper()
	gen := ledger.NewJournalGenerator()
	batch, err := gen.Generate("fund-"+to.AccountPath(), 1, 1_700_000_000, []ledger.Transfer{{
		From:      ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, to.AssetID),
		To:        to,
		Authority: ledger.ExternalAuthority,
		Amount:    amount,
		Type:      ledger.JournalTypeWalletFunding,
	}})
	require.NoError(t, err)
	require.NoError(t, bt.ApplyBatch(batch))
}

func TestGenerate_Deterministic(t *testing.T) {
	alice := ledger.NewWalletKey("alice", ledger.SubTypeMain, usdc)
	vault := ledger.NewCustodyKey("policy.p1", ledger.SubTypeVault, usdc)
	transfers := []ledger.Transfer{
		{From: alice, To: vault, Authority: "alice", Amount: 100, Type: ledger.JournalTypeEscrowDeposit},
		{From: alice, To: vault, Authority: "alice", Amount: 0, Type: ledger.JournalTypeEscrowDeposit},
		{From: alice, To: vault, Authority: "alice", Amount: 50, Type: ledger.JournalTypeEscrowDeposit},
	}

	gen := ledger.NewJournalGenerator()
	a, err := gen.Generate("cmd-1", 7, 1_700_000_000, transfers)
	require.NoError(t, err)
	b, err := gen.Generate("cmd-1", 7, 1_700_000_000, transfers)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	require.Len(t, a.Journals, 2, "zero-amount transfer is skipped")
	assert.Equal(t, vault, a.Journals[0].DebitAccount)
	assert.Equal(t, alice, a.Journals[0].CreditAccount)
	assert.NotEqual(t, a.Journals[0].JournalID, a.Journals[1].JournalID)
}

func TestGenerate_NegativeAmount(t *testing.T) {
	alice := ledger.NewWalletKey("alice", ledger.SubTypeMain, usdc)
	_, err := ledger.NewJournalGenerator().Generate("cmd", 1, 0, []ledger.Transfer{
		{From: alice, To: alice.WithLabel("x"), Authority: "alice", Amount: -1},
	})
	assert.ErrorIs(t, err, fault.ErrInvalidAmount)
}

// ============================================================================
// Test: BalanceTracker
// ============================================================================

func TestBalanceTracker_FundAndTransfer(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	alice := ledger.NewWalletKey("alice", ledger.SubTypeMain, usdc)
	vault := ledger.NewCustodyKey("policy.p1", ledger.SubTypeVault, usdc)
	fund(t, bt, alice, 1_000)

	batch, err := ledger.NewJournalGenerator().Generate("deposit", 2, 0, []ledger.Transfer{
		{From: alice, To: vault, Authority: "alice", Amount: 400, Type: ledger.JournalTypeEscrowDeposit},
	})
	require.NoError(t, err)
	require.NoError(t, bt.ApplyBatch(batch))

	assert.Equal(t, int64(600), bt.GetBalance(alice))
	assert.Equal(t, int64(400), bt.GetBalance(vault))
	assert.Equal(t, int64(-1_000), bt.GetBalance(ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, usdc)))

	v := ledger.NewInvariantValidator(bt)
	assert.NoError(t, v.ValidateGlobalBalance())
	assert.NoError(t, v.ValidateCustodyCovers(vault, 400))
	assert.Error(t, v.ValidateCustodyCovers(vault, 401))
	assert.NoError(t, v.ValidateTouchedNonNegative(batch))
}

func TestBalanceTracker_WrongSignerRejected(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	alice := ledger.NewWalletKey("alice", ledger.SubTypeMain, usdc)
	mallory := ledger.NewWalletKey("mallory", ledger.SubTypeMain, usdc)
	fund(t, bt, alice, 100)

	batch, err := ledger.NewJournalGenerator().Generate("steal", 2, 0, []ledger.Transfer{
		{From: alice, To: mallory, Authority: "mallory", Amount: 100},
	})
	require.NoError(t, err)
	assert.ErrorIs(t, bt.ApplyBatch(batch), fault.ErrUnauthorized)
	assert.Equal(t, int64(100), bt.GetBalance(alice))
}

func TestBalanceTracker_ExternalNeedsCustodian(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	alice := ledger.NewWalletKey("alice", ledger.SubTypeMain, usdc)

	batch, err := ledger.NewJournalGenerator().Generate("mint", 1, 0, []ledger.Transfer{
		{From: ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, usdc), To: alice, Authority: "alice", Amount: 5},
	})
	require.NoError(t, err)
	assert.ErrorIs(t, bt.ApplyBatch(batch), fault.ErrUnauthorized)
}

func TestBalanceTracker_BatchIsAllOrNothing(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	pool := ledger.NewCustodyKey("master.m1", ledger.SubTypePool, usdc)
	leader := ledger.NewCustodyKey("master.m1", ledger.SubTypeDeposit, usdc)
	fund(t, bt, pool, 100)

	// Second leg overdraws the pool after the first succeeded in simulation.
	batch, err := ledger.NewJournalGenerator().Generate("settle", 2, 0, []ledger.Transfer{
		{From: pool, To: leader, Authority: "master.m1", Amount: 60},
		{From: pool, To: leader, Authority: "master.m1", Amount: 60},
	})
	require.NoError(t, err)

	assert.ErrorIs(t, bt.ApplyBatch(batch), fault.ErrInsufficientFunds)
	assert.Equal(t, int64(100), bt.GetBalance(pool))
	assert.Equal(t, int64(0), bt.GetBalance(leader))
}

func TestBalanceTracker_SnapshotRestore(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	alice := ledger.NewWalletKey("alice", ledger.SubTypeMain, usdc)
	fund(t, bt, alice, 42)

	snap := bt.Snapshot()
	restored := ledger.NewBalanceTracker()
	restored.Restore(snap)

	assert.Equal(t, int64(42), restored.GetBalance(alice))

	// The copy is detached from the tracker it came from.
	snap[alice] = 0
	assert.Equal(t, int64(42), restored.GetBalance(alice))
}

func TestBatchValidate(t *testing.T) {
	alice := ledger.NewWalletKey("alice", ledger.SubTypeMain, usdc)
	krw := ledger.NewWalletKey("bob", ledger.SubTypeMain, 3)

	empty := &ledger.Batch{}
	assert.Error(t, empty.Validate())
	assert.True(t, empty.Empty())

	gen := ledger.NewJournalGenerator()
	same, err := gen.Generate("same", 1, 0, []ledger.Transfer{{From: alice, To: alice, Authority: "alice", Amount: 1}})
	require.NoError(t, err)
	assert.ErrorIs(t, same.Validate(), fault.ErrInvalidInput)

	mixed, err := gen.Generate("mixed", 1, 0, []ledger.Transfer{{From: alice, To: krw, Authority: "alice", Amount: 1}})
	require.NoError(t, err)
	assert.ErrorIs(t, mixed.Validate(), fault.ErrInvalidInput)

	unsigned, err := gen.Generate("unsigned", 1, 0, []ledger.Transfer{{From: alice, To: krw.WithLabel("x"), Amount: 1}})
	require.NoError(t, err)
	unsigned.Journals[0].AssetID = usdc
	unsigned.Journals[0].DebitAccount.AssetID = usdc
	assert.ErrorIs(t, unsigned.Validate(), fault.ErrUnauthorized)
}
