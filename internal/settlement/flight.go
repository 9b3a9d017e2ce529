package settlement

import (
	"ParamLedger/internal/fault"
	"ParamLedger/internal/ledger"
	bps "ParamLedger/internal/math"
	"ParamLedger/internal/state"
	"fmt"
)

// FlightSettlement is the outcome of a flight executor: the split that was
// computed and the transfers that realise it. Zero amounts produce no
// transfer.
type FlightSettlement struct {
	Split     *bps.ReinsuranceSplit
	Transfers []ledger.Transfer
}

func (s *FlightSettlement) add(t ledger.Transfer) {
	if t.Amount > 0 {
		s.Transfers = append(s.Transfers, t)
	}
}

func checkExecutor(caller string, m *state.MasterPolicy, f *state.FlightPolicy) error {
	if err := m.RequireActive(); err != nil {
		return err
	}
	if err := state.Authorize(caller, m, state.RoleLeader, state.RoleOperator); err != nil {
		return err
	}
	return m.CheckFlight(f)
}

func checkCurrency(m *state.MasterPolicy, keys ...ledger.AccountKey) error {
	for _, k := range keys {
		if k.AssetID != m.Currency {
			return fmt.Errorf("wallet %s currency: %w", k, fault.ErrInvalidInput)
		}
	}
	return nil
}

func masterOwned(m *state.MasterPolicy, k ledger.AccountKey) bool {
	return k.Scope == ledger.AccountScopeCustody && k.Owner == m.Authority()
}

// SettleFlightClaim collects a Claimable flight's payout into the leader
// deposit wallet: the reinsurer's effective share from its pool wallet and
// each participant's share of the remainder from its own pool wallet.
// poolWallets must list one wallet per participant in participant order, each
// equal to the registered one.
func SettleFlightClaim(
	caller string,
	m *state.MasterPolicy,
	f *state.FlightPolicy,
	poolWallets []ledger.AccountKey,
	now int64,
) (*FlightSettlement, error) {
	if err := checkExecutor(caller, m, f); err != nil {
		return nil, err
	}
	if f.Status != state.FlightClaimable {
		return nil, fmt.Errorf("settle claim of %s flight: %w", f.Status, fault.ErrInvalidState)
	}
	if err := checkCurrency(m, m.LeaderDepositWallet, m.ReinsurerPoolWallet); err != nil {
		return nil, err
	}
	if !masterOwned(m, m.ReinsurerPoolWallet) {
		return nil, fmt.Errorf("reinsurer pool %s: %w", m.ReinsurerPoolWallet, fault.ErrInvalidSettlementTarget)
	}
	if len(poolWallets) != len(m.Participants) {
		return nil, fmt.Errorf("%d pool wallets for %d participants: %w", len(poolWallets), len(m.Participants), fault.ErrInvalidAccountList)
	}
	if f.PayoutAmount <= 0 {
		return nil, fmt.Errorf("payout %d: %w", f.PayoutAmount, fault.ErrInvalidPayout)
	}

	split, err := bps.SplitWithReinsurance(f.PayoutAmount, m.ReinsurerEffectiveBps, m.ShareRatios())
	if err != nil {
		return nil, err
	}

	out := &FlightSettlement{Split: split}
	out.add(ledger.Transfer{
		From:      m.ReinsurerPoolWallet,
		To:        m.LeaderDepositWallet,
		Authority: m.Authority(),
		Amount:    split.Reinsurer,
		Type:      ledger.JournalTypeFlightClaimReinsurer,
	})
	// Every listed wallet is checked, including those with a zero share.
	for i, amount := range split.Insurers {
		w := poolWallets[i]
		if w != m.Participants[i].PoolWallet {
			return nil, fmt.Errorf("pool wallet %d is %s, registered %s: %w", i, w, m.Participants[i].PoolWallet, fault.ErrInvalidInput)
		}
		if err := checkCurrency(m, w); err != nil {
			return nil, err
		}
		if !masterOwned(m, w) {
			return nil, fmt.Errorf("pool wallet %s: %w", w, fault.ErrInvalidSettlementTarget)
		}
		if amount == 0 {
			continue
		}
		out.add(ledger.Transfer{
			From:      w,
			To:        m.LeaderDepositWallet,
			Authority: m.Authority(),
			Amount:    amount,
			Type:      ledger.JournalTypeFlightClaimInsurer,
		})
	}

	if err := f.MarkPaid(now); err != nil {
		return nil, err
	}
	return out, nil
}

// SettleFlightNoClaim distributes a NoClaim flight's premium out of the
// leader deposit wallet to the reinsurer and participant deposit wallets.
// It runs at most once per flight.
func SettleFlightNoClaim(
	caller string,
	m *state.MasterPolicy,
	f *state.FlightPolicy,
	depositWallets []ledger.AccountKey,
	now int64,
) (*FlightSettlement, error) {
	if err := checkExecutor(caller, m, f); err != nil {
		return nil, err
	}
	if f.Status != state.FlightNoClaim {
		return nil, fmt.Errorf("settle no-claim of %s flight: %w", f.Status, fault.ErrInvalidState)
	}
	if f.PremiumDistributed {
		return nil, fmt.Errorf("premium of flight %s: %w", f.ID, fault.ErrAlreadySettled)
	}
	if err := checkCurrency(m, m.LeaderDepositWallet, m.ReinsurerDepositWallet); err != nil {
		return nil, err
	}
	if !masterOwned(m, m.LeaderDepositWallet) {
		return nil, fmt.Errorf("leader deposit %s: %w", m.LeaderDepositWallet, fault.ErrInvalidSettlementTarget)
	}
	if len(depositWallets) != len(m.Participants) {
		return nil, fmt.Errorf("%d deposit wallets for %d participants: %w", len(depositWallets), len(m.Participants), fault.ErrInvalidAccountList)
	}

	split, err := bps.SplitWithReinsurance(f.PremiumPaid, m.ReinsurerEffectiveBps, m.ShareRatios())
	if err != nil {
		return nil, err
	}

	out := &FlightSettlement{Split: split}
	out.add(ledger.Transfer{
		From:      m.LeaderDepositWallet,
		To:        m.ReinsurerDepositWallet,
		Authority: m.Authority(),
		Amount:    split.Reinsurer,
		Type:      ledger.JournalTypePremiumReinsurer,
	})
	for i, amount := range split.Insurers {
		w := depositWallets[i]
		if w != m.Participants[i].DepositWallet {
			return nil, fmt.Errorf("deposit wallet %d is %s, registered %s: %w", i, w, m.Participants[i].DepositWallet, fault.ErrInvalidInput)
		}
		if err := checkCurrency(m, w); err != nil {
			return nil, err
		}
		if amount == 0 {
			continue
		}
		out.add(ledger.Transfer{
			From:      m.LeaderDepositWallet,
			To:        w,
			Authority: m.Authority(),
			Amount:    amount,
			Type:      ledger.JournalTypePremiumInsurer,
		})
	}

	if err := f.MarkPremiumDistributed(now); err != nil {
		return nil, err
	}
	return out, nil
}
