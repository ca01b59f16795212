package backpressure

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kbyunghoon/ticket-service/internal/broker"
)

func TestNewTokenShape(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		tok := NewToken()
		require.True(t, strings.HasPrefix(tok, "TOKEN_"), "token %q", tok)
		require.Len(t, tok, len("TOKEN_")+16)
		require.False(t, seen[tok], "token %q reused", tok)
		seen[tok] = true
	}
}

func TestProducerDeferPublishesKeyedByToken(t *testing.T) {
	b := broker.NewMemBroker()
	depth := DepthFunc(func(ctx context.Context) int64 { return 4 })
	p := NewProducer(b, "ticket-requests", depth, 5, 10)

	ticket, err := p.Defer(context.Background(), testMessage())
	require.NoError(t, err)
	require.Equal(t, int64(5), ticket.QueuePosition)
	require.Equal(t, int64(5*5/10), ticket.EstimatedWaitSeconds)
	require.NotEmpty(t, ticket.Message)

	c := b.Subscribe("ticket-requests")
	m, err := c.Fetch(context.Background())
	require.NoError(t, err)
	require.Equal(t, ticket.Token, string(m.Key))

	var msg Message
	require.NoError(t, json.Unmarshal(m.Value, &msg))
	require.Equal(t, "req-1", msg.RequestID)
	require.Equal(t, "POST", msg.Method)
}

func TestProducerDeferSurfacesPublishFailure(t *testing.T) {
	b := broker.NewMemBroker()
	boom := errors.New("kafka unreachable")
	b.FailPublishes("ticket-requests", boom)

	p := NewProducer(b, "ticket-requests", nil, 5, 100)
	_, err := p.Defer(context.Background(), testMessage())
	require.ErrorIs(t, err, boom)
}

func TestEstimateWaitSeconds(t *testing.T) {
	p := NewProducer(broker.NewMemBroker(), "t", nil, 5, 100)
	require.Equal(t, int64(0), p.EstimateWaitSeconds(0))
	require.Equal(t, int64(5), p.EstimateWaitSeconds(100))
	require.Equal(t, int64(50), p.EstimateWaitSeconds(1000))
}
