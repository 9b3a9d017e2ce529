package ingestion

import (
	"ParamLedger/internal/core"
	"ParamLedger/internal/observability"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const OutboundSubjectPrefix = "param.ledger.events."

// OutboundPublisher announces durably stored commands on NATS. It is fed
// from the persistence worker's flush callback, so nothing is published
// before it is in the event log.
type OutboundPublisher struct {
	js      jetstream.JetStream
	queue   chan core.CoreOutput
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// LedgerEvent is the outbound wire form of an applied command.
type LedgerEvent struct {
	Sequence       int64            `json:"sequence"`
	Command        string           `json:"command"`
	IdempotencyKey string           `json:"idempotency_key"`
	PartitionKey   string           `json:"partition_key"`
	Signer         string           `json:"signer"`
	Timestamp      int64            `json:"timestamp"`
	Payload        json.RawMessage  `json:"payload"`
	StateHash      string           `json:"state_hash"`
	PrevHash       string           `json:"prev_hash"`
	Transfers      []LedgerTransfer `json:"transfers,omitempty"`
}

type LedgerTransfer struct {
	From        string `json:"from"`
	To          string `json:"to"`
	AssetID     uint16 `json:"asset_id"`
	Amount      int64  `json:"amount"`
	JournalType string `json:"journal_type"`
}

func NewOutboundPublisher(
	js jetstream.JetStream,
	queueSize int,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *OutboundPublisher {
	return &OutboundPublisher{
		js:      js,
		queue:   make(chan core.CoreOutput, queueSize),
		metrics: metrics,
		logger:  logger,
	}
}

// Enqueue queues flushed outputs without blocking. Outputs that do not fit
// are dropped and counted; consumers can read the event log instead.
func (op *OutboundPublisher) Enqueue(outputs []core.CoreOutput) {
	for _, out := range outputs {
		select {
		case op.queue <- out:
		default:
			if op.metrics != nil {
				op.metrics.PublishDrops.Inc()
			}
		}
	}
}

// Run publishes queued outputs until ctx is cancelled.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out := <-op.queue:
			if err := op.publish(ctx, out); err != nil {
				op.logger.Warn().Err(err).Int64("sequence", out.Envelope.Sequence).Msg("outbound publish failed")
				if op.metrics != nil {
					op.metrics.PublishDrops.Inc()
				}
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, out core.CoreOutput) error {
	evt := NewLedgerEvent(out)
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal ledger event: %w", err)
	}
	// The sequence doubles as the JetStream dedup id.
	_, err = op.js.Publish(ctx, OutboundSubject(evt.Command, evt.PartitionKey), data,
		jetstream.WithMsgID(strconv.FormatInt(evt.Sequence, 10)))
	return err
}

// NewLedgerEvent builds the outbound message for one output.
func NewLedgerEvent(out core.CoreOutput) LedgerEvent {
	env := out.Envelope
	evt := LedgerEvent{
		Sequence:       env.Sequence,
		Command:        env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		PartitionKey:   env.PartitionKey,
		Signer:         env.Signer,
		Timestamp:      env.Timestamp,
		Payload:        json.RawMessage(env.Payload),
		StateHash:      hex.EncodeToString(env.StateHash[:]),
		PrevHash:       hex.EncodeToString(env.PrevHash[:]),
	}
	if out.Batch != nil {
		for _, j := range out.Batch.Journals {
			evt.Transfers = append(evt.Transfers, LedgerTransfer{
				From:        j.CreditAccount.AccountPath(),
				To:          j.DebitAccount.AccountPath(),
				AssetID:     uint16(j.AssetID),
				Amount:      j.Amount,
				JournalType: j.JournalType.String(),
			})
		}
	}
	return evt
}

// OutboundSubject is param.ledger.events.<command>.<partition>. Characters
// NATS reserves in tokens are replaced in the partition.
func OutboundSubject(command, partition string) string {
	if partition == "" {
		partition = "_"
	}
	return OutboundSubjectPrefix + command + "." + subjectToken.Replace(partition)
}

var subjectToken = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")
