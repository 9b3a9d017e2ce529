package ingestion_test

import (
	"ParamLedger/internal/core"
	"ParamLedger/internal/ingestion"
	"ParamLedger/internal/testutil"
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNATS_CommandRoundTrip(t *testing.T) {
	testutil.RequireIntegration(t)

	nc, js, err := ingestion.ConnectNATS(testutil.TestNATSURL(), zerolog.Nop())
	if err != nil {
		t.Skipf("test NATS not available: %v", err)
	}
	defer nc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	require.NoError(t, ingestion.EnsureStreams(ctx, js, zerolog.Nop()))

	submitter, persist := runCore(t)
	owner := "it-" + uuid.NewString()
	subject := fmt.Sprintf("param.commands.wallet_funded.%s", owner)

	sub := ingestion.NewNATSSubscriber(js, submitter, nil, zerolog.Nop())
	require.NoError(t, sub.Subscribe(ctx, []ingestion.SubjectConfig{{
		Subject:      subject,
		ConsumerName: "it-" + uuid.NewString(),
		StreamName:   ingestion.CommandStream,
	}}))
	defer sub.Stop()

	outbound, err := nc.SubscribeSync(ingestion.OutboundSubject("wallet_funded", owner))
	require.NoError(t, err)

	body := fmt.Sprintf(`{
		"command_id": %q,
		"signer": "custodian",
		"timestamp": 10,
		"account": "wallet:%s:main:USDC",
		"amount": 700
	}`, uuid.NewString(), owner)
	_, err = js.Publish(ctx, subject, []byte(body))
	require.NoError(t, err)

	var out core.CoreOutput
	select {
	case out = <-persist:
	case <-ctx.Done():
		t.Fatal("command never reached the core")
	}
	assert.Equal(t, owner, out.Envelope.PartitionKey)

	publisher := ingestion.NewOutboundPublisher(js, 8, nil, zerolog.Nop())
	go publisher.Run(ctx)
	publisher.Enqueue([]core.CoreOutput{out})

	msg, err := outbound.NextMsg(5 * time.Second)
	require.NoError(t, err)
	var evt ingestion.LedgerEvent
	require.NoError(t, json.Unmarshal(msg.Data, &evt))
	assert.Equal(t, out.Envelope.Sequence, evt.Sequence)
	require.Len(t, evt.Transfers, 1)
	assert.Equal(t, int64(700), evt.Transfers[0].Amount)
}
