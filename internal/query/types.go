package query

import "encoding/json"

// RecordResponse is one projected record. Record holds the record's own
// JSON form.
type RecordResponse struct {
	Kind         string          `json:"kind"`
	ID           string          `json:"id"`
	ParentID     *string         `json:"parent_id,omitempty"`
	Status       string          `json:"status"`
	Record       json.RawMessage `json:"record"`
	LastSequence int64           `json:"last_sequence"`
	AsOfSequence int64           `json:"as_of_sequence"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	Authority     string `json:"authority"`
	AssetID       uint16 `json:"asset_id"`
	Amount        int64  `json:"amount"`
	JournalType   string `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// SettlementResponse is one payout, premium or refund leg.
type SettlementResponse struct {
	JournalID    string `json:"journal_id"`
	Sequence     int64  `json:"sequence"`
	CommandType  string `json:"command_type"`
	PartitionKey string `json:"partition_key"`
	JournalType  string `json:"journal_type"`
	FromAccount  string `json:"from_account"`
	ToAccount    string `json:"to_account"`
	AssetID      uint16 `json:"asset_id"`
	Amount       int64  `json:"amount"`
	Timestamp    int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	CheckedEvents    int64             `json:"checked_events"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
	AsOfSequence     int64             `json:"as_of_sequence"`
}

// UnbalancedAsset represents an asset with non-zero global balance sum.
type UnbalancedAsset struct {
	AssetID   uint16 `json:"asset_id"`
	Imbalance int64  `json:"imbalance"`
}

// ChainLink is the part of a logged event the hash chain check needs.
type ChainLink struct {
	Sequence  int64
	StateHash []byte
	PrevHash  []byte
}
