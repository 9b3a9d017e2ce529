package event

import "ParamLedger/internal/ledger"

// WalletFunded is the custodian confirming an off-ledger deposit into a
// ledger account. It is the only way value enters the system.
type WalletFunded struct {
	Meta
	Account    ledger.AccountKey `json:"account"`
	Amount     int64             `json:"amount"`
	FundingRef string            `json:"funding_ref,omitempty"`
}

func (w *WalletFunded) EventType() EventType { return EventTypeWalletFunded }
func (w *WalletFunded) PartitionKey() string { return w.Account.Owner }
