package projection

import (
	"ParamLedger/internal/core"
	"ParamLedger/internal/ledger"
	"sort"

	"github.com/lib/pq"
)

// SettlementEntry is one payout, premium distribution or refund leg.
type SettlementEntry struct {
	JournalID    string
	Sequence     int64
	CommandType  string
	PartitionKey string
	JournalType  string
	FromAccount  string
	ToAccount    string
	AssetID      uint16
	Amount       int64
	Timestamp    int64
}

// SettlementEntries extracts the settlement legs of one applied command.
func SettlementEntries(out core.CoreOutput) []SettlementEntry {
	if out.Batch == nil {
		return nil
	}
	var entries []SettlementEntry
	for _, j := range out.Batch.Journals {
		if !j.JournalType.IsSettlement() {
			continue
		}
		entries = append(entries, SettlementEntry{
			JournalID:    j.JournalID.String(),
			Sequence:     j.Sequence,
			CommandType:  out.Envelope.EventType.String(),
			PartitionKey: out.Envelope.PartitionKey,
			JournalType:  j.JournalType.String(),
			FromAccount:  j.CreditAccount.AccountPath(),
			ToAccount:    j.DebitAccount.AccountPath(),
			AssetID:      uint16(j.AssetID),
			Amount:       j.Amount,
			Timestamp:    j.Timestamp,
		})
	}
	return entries
}

// BalanceDelta is the net change of one account within a batch.
type BalanceDelta struct {
	AccountPath string
	AssetID     uint16
	Delta       int64
}

// BalanceDeltas nets a batch per account: the debit (destination) side
// increases, the credit (source) side decreases. The result is sorted by
// account path so upserts lock rows in a stable order.
func BalanceDeltas(b *ledger.Batch) []BalanceDelta {
	if b == nil {
		return nil
	}
	net := make(map[ledger.AccountKey]int64)
	for _, j := range b.Journals {
		net[j.DebitAccount] += j.Amount
		net[j.CreditAccount] -= j.Amount
	}
	deltas := make([]BalanceDelta, 0, len(net))
	for key, d := range net {
		if d == 0 {
			continue
		}
		deltas = append(deltas, BalanceDelta{AccountPath: key.AccountPath(), AssetID: uint16(key.AssetID), Delta: d})
	}
	sort.Slice(deltas, func(i, k int) bool { return deltas[i].AccountPath < deltas[k].AccountPath })
	return deltas
}

// settlementTypeNames lists the journal_type values of settlement legs.
func settlementTypeNames() pq.StringArray {
	var names pq.StringArray
	for t := ledger.JournalTypeWalletFunding; t <= ledger.JournalTypePremiumInsurer; t++ {
		if t.IsSettlement() {
			names = append(names, t.String())
		}
	}
	return names
}
