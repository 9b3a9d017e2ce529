package ingestion

import (
	"ParamLedger/internal/fault"
	"ParamLedger/internal/observability"
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// RawEvent is an inbound message before parsing.
type RawEvent struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
}

// SubjectConfig binds one durable consumer to a subject filter.
type SubjectConfig struct {
	Subject      string
	ConsumerName string
	StreamName   string
}

const (
	CommandStream  = "PARAM_COMMANDS"
	ReadingStream  = "PARAM_ORACLE"
	OutboundStream = "PARAM_LEDGER_EVENTS"
)

// DefaultSubjects returns the inbound consumers.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: CommandSubjectPrefix + ">", ConsumerName: "ledger-commands", StreamName: CommandStream},
		{Subject: ReadingSubjectPrefix + ">", ConsumerName: "ledger-oracle-readings", StreamName: ReadingStream},
	}
}

// NATSSubscriber feeds JetStream messages to the core through a
// CommandSubmitter. Each consumer handles one message at a time, so
// commands on a stream reach the core in stream order.
type NATSSubscriber struct {
	js        jetstream.JetStream
	submitter *CommandSubmitter
	metrics   *observability.Metrics
	logger    zerolog.Logger
	consumers []jetstream.ConsumeContext
}

func NewNATSSubscriber(
	js jetstream.JetStream,
	submitter *CommandSubmitter,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *NATSSubscriber {
	return &NATSSubscriber{
		js:        js,
		submitter: submitter,
		metrics:   metrics,
		logger:    logger,
	}
}

// Subscribe creates durable consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		label := cfg.ConsumerName
		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			ns.handle(ctx, label, msg)
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.logger.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}
	return nil
}

func (ns *NATSSubscriber) handle(ctx context.Context, label string, msg jetstream.Msg) {
	start := time.Now()
	defer func() {
		if ns.metrics != nil {
			ns.metrics.NATSPullLatency.WithLabelValues(label).Observe(time.Since(start).Seconds())
		}
	}()

	raw := RawEvent{Subject: msg.Subject(), Data: msg.Data(), Timestamp: start}
	evt, err := ParseRawEvent(raw)
	if err != nil {
		// Redelivery cannot fix a malformed message.
		ns.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping unparseable message")
		msg.Term()
		return
	}

	res, err := ns.submitter.Submit(ctx, evt)
	switch Disposition(err) {
	case DispositionAck:
		if err != nil {
			ns.logger.Info().Err(err).Str("command", evt.EventType().String()).
				Str("command_id", evt.IdempotencyKey()).Msg("command rejected")
		} else if res != nil && res.Duplicate {
			ns.logger.Debug().Str("command_id", evt.IdempotencyKey()).Msg("duplicate command acknowledged")
		}
		msg.Ack()
	case DispositionRetry:
		ns.logger.Warn().Err(err).Str("command_id", evt.IdempotencyKey()).Msg("command not applied, will retry")
		msg.Nak()
	}
}

// MessageDisposition says what to do with a message after submission.
type MessageDisposition int

const (
	DispositionAck MessageDisposition = iota
	DispositionRetry
)

// Disposition classifies a submit error. Applied, duplicate and rejected
// commands are all final: the core is deterministic, so a rejected command
// would be rejected again. Unavailable rejections and anything else, such
// as an interrupted submission, are retried.
func Disposition(err error) MessageDisposition {
	if err == nil || (fault.KindOf(err) != nil && !fault.Retryable(err)) {
		return DispositionAck
	}
	return DispositionRetry
}

// EnsureStreams creates the inbound and outbound JetStream streams.
// Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		{Name: CommandStream, Subjects: []string{CommandSubjectPrefix + ">"}},
		{Name: ReadingStream, Subjects: []string{ReadingSubjectPrefix + ">"}},
		{Name: OutboundStream, Subjects: []string{OutboundSubjectPrefix + ">"}},
	}
	for _, cfg := range streams {
		cfg.Storage = jetstream.FileStorage
		cfg.Retention = jetstream.LimitsPolicy
		cfg.MaxAge = 72 * time.Hour
		cfg.Replicas = 1
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		logger.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}
	return nil
}

// Stop stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.logger.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("paramledger"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}
