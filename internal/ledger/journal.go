package ledger

import (
	"ParamLedger/internal/fault"
	"fmt"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeWalletFunding JournalType = iota
	JournalTypeEscrowDeposit
	JournalTypeEscrowRefund
	JournalTypeClaimPayout
	JournalTypePremiumCharge
	JournalTypeFlightClaimReinsurer
	JournalTypeFlightClaimInsurer
	JournalTypePremiumReinsurer
	JournalTypePremiumInsurer
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeWalletFunding:
		return "wallet_funding"
	case JournalTypeEscrowDeposit:
		return "escrow_deposit"
	case JournalTypeEscrowRefund:
		return "escrow_refund"
	case JournalTypeClaimPayout:
		return "claim_payout"
	case JournalTypePremiumCharge:
		return "premium_charge"
	case JournalTypeFlightClaimReinsurer:
		return "flight_claim_reinsurer"
	case JournalTypeFlightClaimInsurer:
		return "flight_claim_insurer"
	case JournalTypePremiumReinsurer:
		return "premium_reinsurer"
	case JournalTypePremiumInsurer:
		return "premium_insurer"
	default:
		return "unknown"
	}
}

// IsSettlement reports whether t pays out or returns value to a party, as
// opposed to funding, escrowing or charging.
func (t JournalType) IsSettlement() bool {
	switch t {
	case JournalTypeEscrowRefund,
		JournalTypeClaimPayout,
		JournalTypeFlightClaimReinsurer,
		JournalTypeFlightClaimInsurer,
		JournalTypePremiumReinsurer,
		JournalTypePremiumInsurer:
		return true
	}
	return false
}

// Journal represents a single double-entry journal entry: Amount moves from
// CreditAccount to DebitAccount under Authority's signature.
type Journal struct {
	JournalID     uuid.UUID
	BatchID       uuid.UUID
	EventRef      string     // Idempotency key of source command
	Sequence      int64      // Global event sequence
	DebitAccount  AccountKey // Destination (balance increases)
	CreditAccount AccountKey // Source (balance decreases)
	Authority     string     // Identity that signed the transfer
	AssetID       AssetID
	Amount        int64 // ALWAYS positive
	JournalType   JournalType
	Timestamp     int64 // Versioned input timestamp (unix seconds)
}

// Batch is the atomic transfer unit of one command: it is validated as a
// whole and applied as a whole.
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed. Each journal is balanced by
// construction (one positive amount moves credit -> debit).
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount <= 0 {
			return fmt.Errorf("journal %s has non-positive amount %d: %w", j.JournalID, j.Amount, fault.ErrInvalidAmount)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account: %w", j.JournalID, fault.ErrInvalidInput)
		}

		if j.DebitAccount.AssetID != j.AssetID || j.CreditAccount.AssetID != j.AssetID {
			return fmt.Errorf("journal %s mixes assets: %w", j.JournalID, fault.ErrInvalidInput)
		}

		if j.Authority == "" {
			return fmt.Errorf("journal %s has no authority: %w", j.JournalID, fault.ErrUnauthorized)
		}
	}

	return nil
}

// Empty reports a batch that moves no value (state-only commands).
func (b *Batch) Empty() bool {
	return b == nil || len(b.Journals) == 0
}
