package ingestion

import (
	"ParamLedger/internal/event"
	"ParamLedger/internal/fault"
	"ParamLedger/internal/oracle"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	CommandSubjectPrefix = "param.commands."
	ReadingSubjectPrefix = "param.oracle.readings."

	// OracleSigner signs commands converted from resolver readings.
	OracleSigner = oracle.Authority
)

// oracleNamespace derives command ids for readings, so a redelivered
// reading for the same feed, policy and round is deduplicated by the core.
var oracleNamespace = uuid.MustParse("5b0c8f4e-2a71-4d0e-9c3b-7f6a1e2d4c58")

// ParseRawEvent converts a message from either inbound subject family into
// a typed command.
func ParseRawEvent(raw RawEvent) (event.Event, error) {
	switch {
	case strings.HasPrefix(raw.Subject, CommandSubjectPrefix):
		name, err := CommandFromSubject(raw.Subject)
		if err != nil {
			return nil, err
		}
		return ParseCommand(name, raw.Data)
	case strings.HasPrefix(raw.Subject, ReadingSubjectPrefix):
		feed := strings.TrimPrefix(raw.Subject, ReadingSubjectPrefix)
		return ParseOracleReading(feed, raw.Data)
	default:
		return nil, fmt.Errorf("subject %q: %w", raw.Subject, fault.ErrInvalidInput)
	}
}

// CommandFromSubject extracts <command> from param.commands.<command>[.<partition>].
func CommandFromSubject(subject string) (string, error) {
	rest, ok := strings.CutPrefix(subject, CommandSubjectPrefix)
	if !ok {
		return "", fmt.Errorf("subject %q is not a command subject: %w", subject, fault.ErrInvalidInput)
	}
	name, _, _ := strings.Cut(rest, ".")
	if name == "" {
		return "", fmt.Errorf("subject %q has no command: %w", subject, fault.ErrInvalidInput)
	}
	return name, nil
}

// ParseCommand decodes a JSON command body by its wire name. Malformed
// input is InvalidInput; the core never sees it. Oracle checks only enter
// through ParseOracleReading.
func ParseCommand(name string, data []byte) (event.Event, error) {
	et, err := event.ParseEventType(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", fault.ErrInvalidInput, err)
	}
	if et == event.EventTypeCheckOracle {
		return nil, fmt.Errorf("%s is not accepted as a command: %w", name, fault.ErrUnauthorized)
	}
	evt, err := event.Decode(et, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", fault.ErrInvalidInput, err)
	}
	if err := checkMeta(evt); err != nil {
		return nil, err
	}
	return evt, nil
}

func checkMeta(evt event.Event) error {
	if evt.IdempotencyKey() == uuid.Nil.String() {
		return fmt.Errorf("%s: command_id is required: %w", evt.EventType(), fault.ErrInvalidInput)
	}
	if evt.Signer() == "" {
		return fmt.Errorf("%s: signer is required: %w", evt.EventType(), fault.ErrInvalidInput)
	}
	return nil
}

// oracleReadingJSON is what the resolver publishes per verified round.
type oracleReadingJSON struct {
	PolicyID    uuid.UUID       `json:"policy_id"`
	Feed        string          `json:"feed"`
	Round       uint64          `json:"round"`
	Slot        uint64          `json:"slot"`
	CurrentSlot uint64          `json:"current_slot"`
	Value       decimal.Decimal `json:"value"`
	Timestamp   int64           `json:"timestamp"`
}

// ParseOracleReading turns a resolver reading into a CheckOracle command.
// subjectFeed is the feed named by the subject; a body feed, if present,
// must agree with it. Value checks are left to the core.
func ParseOracleReading(subjectFeed string, data []byte) (*event.CheckOracle, error) {
	var j oracleReadingJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse oracle reading: %w: %w", fault.ErrInvalidInput, err)
	}
	feed := j.Feed
	switch {
	case feed == "":
		feed = subjectFeed
	case subjectFeed != "" && subjectFeed != feed:
		return nil, fmt.Errorf("reading feed %q published on feed %q: %w", feed, subjectFeed, fault.ErrInvalidInput)
	}
	if feed == "" {
		return nil, fmt.Errorf("oracle reading has no feed: %w", fault.ErrInvalidInput)
	}
	if j.PolicyID == uuid.Nil {
		return nil, fmt.Errorf("oracle reading has no policy_id: %w", fault.ErrInvalidInput)
	}

	return &event.CheckOracle{
		Meta: event.Meta{
			CommandID: ReadingCommandID(feed, j.PolicyID, j.Round),
			SignedBy:  OracleSigner,
			At:        j.Timestamp,
		},
		PolicyRef:   event.PolicyRef{PolicyID: j.PolicyID},
		Feed:        feed,
		Round:       j.Round,
		Slot:        j.Slot,
		CurrentSlot: j.CurrentSlot,
		Value:       j.Value,
	}, nil
}

// ReadingCommandID is the deterministic command id of a reading.
func ReadingCommandID(feed string, policyID uuid.UUID, round uint64) uuid.UUID {
	return uuid.NewSHA1(oracleNamespace, fmt.Appendf(nil, "%s|%s|%d", feed, policyID, round))
}
