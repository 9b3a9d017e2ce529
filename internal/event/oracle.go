package event

import "github.com/shopspring/decimal"

// CheckOracle carries one verified oracle reading for a policy. CurrentSlot
// is the slot the resolver observed when it forwarded the reading.
type CheckOracle struct {
	Meta
	PolicyRef
	Feed        string          `json:"feed"`
	Round       uint64          `json:"round"`
	Slot        uint64          `json:"slot"`
	CurrentSlot uint64          `json:"current_slot"`
	Value       decimal.Decimal `json:"value"`
}

func (c *CheckOracle) EventType() EventType { return EventTypeCheckOracle }
