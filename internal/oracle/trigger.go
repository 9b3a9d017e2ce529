package oracle

import (
	"ParamLedger/internal/fault"
	"ParamLedger/internal/state"
	"fmt"
)

// Authority is the only signer whose readings the core evaluates.
const Authority = "oracle"

// Trigger decides whether a reading makes a policy claimable. It keeps the
// highest slot of any accepted reading, so a command cannot pass an older
// current slot to make a stale reading look fresh.
type Trigger struct {
	maxStaleness uint64
	clock        uint64
}

func NewTrigger(maxStaleness uint64) *Trigger {
	if maxStaleness == 0 {
		maxStaleness = DefaultMaxStalenessSlots
	}
	return &Trigger{maxStaleness: maxStaleness}
}

// Outcome of one evaluated reading. Claim is nil when the threshold was not
// met; the policy then stays Active for a later round.
type Outcome struct {
	DelayMinutes int64
	Claim        *state.Claim
}

// Evaluate checks p is Active and bound to the reading's feed, verifies the
// reading, and opens a claim when the delay reaches the policy threshold.
func (t *Trigger) Evaluate(p *state.Policy, r Reading, currentSlot uint64, now int64) (*Outcome, error) {
	if p.State != state.PolicyActive {
		return nil, fmt.Errorf("oracle check on %s policy: %w", p.State, fault.ErrInvalidState)
	}
	if r.PolicyID != p.ID {
		return nil, fmt.Errorf("reading for policy %s: %w", r.PolicyID, fault.ErrInvalidInput)
	}
	if r.Feed != p.OracleFeed {
		return nil, fmt.Errorf("feed %q is not the policy feed: %w", r.Feed, fault.ErrInvalidInput)
	}

	delay, err := r.DelayMinutes(max(currentSlot, t.clock), t.maxStaleness)
	if err != nil {
		return nil, err
	}

	out := &Outcome{DelayMinutes: delay}
	if delay < int64(p.DelayThresholdMin) {
		return out, nil
	}

	claim, err := state.OpenClaim(p, r.Round, delay, now)
	if err != nil {
		return nil, err
	}
	out.Claim = claim
	return out, nil
}

// Observe advances the slot clock past an accepted reading. Call it only
// once the reading has been applied.
func (t *Trigger) Observe(readingSlot, currentSlot uint64) {
	t.clock = max(t.clock, readingSlot, currentSlot)
}

// Clock is the highest slot seen in an accepted reading.
func (t *Trigger) Clock() uint64 { return t.clock }

// SetClock restores the slot clock from a snapshot.
func (t *Trigger) SetClock(slot uint64) { t.clock = slot }
