package ledger

import (
	"ParamLedger/internal/fault"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// Transfer is one instructed value movement, staged by a lifecycle handler
// before the batch is built.
type Transfer struct {
	From      AccountKey
	To        AccountKey
	Authority string
	Amount    int64
	Type      JournalType
}

// ExternalAuthority signs transfers out of the external boundary (funding).
const ExternalAuthority = "custodian"

// batchNamespace seeds deterministic batch ids so a replayed command yields
// byte-identical journals.
var batchNamespace = uuid.MustParse("5b1d3c0e-8f6a-4e0b-9c57-2f4a6d1e9b30")

// JournalGenerator turns staged transfers into a journal batch.
type JournalGenerator struct{}

func NewJournalGenerator() *JournalGenerator {
	return &JournalGenerator{}
}

// Generate builds the batch for one command. Zero-amount transfers are
// skipped; negative amounts are rejected.
func (jg *JournalGenerator) Generate(
	eventRef string,
	sequence int64,
	timestamp int64,
	transfers []Transfer,
) (*Batch, error) {
	batchID := uuid.NewSHA1(batchNamespace, []byte(eventRef))

	batch := &Batch{
		BatchID:   batchID,
		EventRef:  eventRef,
		Sequence:  sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, len(transfers)),
	}

	for i, t := range transfers {
		if t.Amount < 0 {
			return nil, fmt.Errorf("transfer %d amount %d: %w", i, t.Amount, fault.ErrInvalidAmount)
		}
		if t.Amount == 0 {
			continue
		}

		var idx [8]byte
		binary.LittleEndian.PutUint64(idx[:], uint64(i))

		batch.Journals = append(batch.Journals, Journal{
			JournalID:     uuid.NewSHA1(batchID, idx[:]),
			BatchID:       batchID,
			EventRef:      eventRef,
			Sequence:      sequence,
			DebitAccount:  t.To,
			CreditAccount: t.From,
			Authority:     t.Authority,
			AssetID:       t.From.AssetID,
			Amount:        t.Amount,
			JournalType:   t.Type,
			Timestamp:     timestamp,
		})
	}

	return batch, nil
}
