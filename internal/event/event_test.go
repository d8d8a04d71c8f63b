package event

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestEncodeKeysByOrder(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	msg, err := encode(Event{
		Type:       TypeOrderPaid,
		OrderID:    42,
		OccurredAt: at,
		Payload:    OrderPaid{MerchantReference: "ORD-42-abcd1234", Amount: "1300"},
	})
	require.NoError(t, err)

	assert.Equal(t, "42", string(msg.Key))
	assert.Equal(t, at, msg.Time)
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, TypeOrderPaid, string(msg.Headers[0].Value))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "order.paid", decoded["type"])
	payload, ok := decoded["payload"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ORD-42-abcd1234", payload["merchant_reference"])
}

func TestLogPublisher(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	p := NewLogPublisher(zap.New(core))

	require.NoError(t, p.Publish(context.Background(), Event{Type: TypeOrderCreated, OrderID: 7}))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "event", entries[0].Message)
	assert.Equal(t, TypeOrderCreated, entries[0].ContextMap()["type"])
}
