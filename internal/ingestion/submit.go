package ingestion

import (
	"ParamLedger/internal/core"
	"ParamLedger/internal/event"
	"ParamLedger/internal/observability"
	"context"
	"time"
)

// Submission is one command waiting for the core goroutine. Reply must be
// buffered so the core never blocks on a caller that went away.
type Submission struct {
	Event    event.Event
	Received time.Time
	Reply    chan SubmitResult
}

// SubmitResult is the core's answer to a Submission.
type SubmitResult struct {
	Result *core.Result
	Err    error
}

// CommandSubmitter hands commands to the core goroutine and waits for the
// outcome. It is safe for concurrent use; the core applies submissions one
// at a time in arrival order.
type CommandSubmitter struct {
	ch chan<- Submission
}

func NewCommandSubmitter(ch chan<- Submission) *CommandSubmitter {
	return &CommandSubmitter{ch: ch}
}

// Submit blocks until the core has applied or rejected evt, or ctx ends.
// If ctx ends after the command was queued it may still be applied; a
// resubmission with the same command id is then reported as a duplicate.
func (s *CommandSubmitter) Submit(ctx context.Context, evt event.Event) (*core.Result, error) {
	sub := Submission{
		Event:    evt,
		Received: time.Now(),
		Reply:    make(chan SubmitResult, 1),
	}

	select {
	case s.ch <- sub:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-sub.Reply:
		return r.Result, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SubmitRaw parses a JSON command body and submits it.
func (s *CommandSubmitter) SubmitRaw(ctx context.Context, name string, body []byte) (*core.Result, error) {
	evt, err := ParseCommand(name, body)
	if err != nil {
		return nil, err
	}
	return s.Submit(ctx, evt)
}

// Apply runs sub on c and replies. Call it only from the goroutine that
// owns c.
func Apply(c *core.DeterministicCore, sub Submission, metrics *observability.Metrics) {
	res, err := c.ProcessEvent(sub.Event)
	if err == nil && metrics != nil && !sub.Received.IsZero() {
		metrics.IngestToApply.WithLabelValues(sub.Event.EventType().String()).
			Observe(time.Since(sub.Received).Seconds())
	}
	sub.Reply <- SubmitResult{Result: res, Err: err}
}
