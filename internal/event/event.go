// Package event publishes order lifecycle facts for downstream consumers.
// Publishing is best effort: callers log failures and carry on.
package event

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	TypeOrderCreated        = "order.created"
	TypeOrderPaid           = "order.paid"
	TypeOrderStatusAdvanced = "order.status_advanced"
	TypeOrderMessagePosted  = "order.message_posted"
)

type Event struct {
	Type       string    `json:"type"`
	OrderID    uint64    `json:"order_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload,omitempty"`
}

type OrderCreated struct {
	BuyerUID   string   `json:"buyer_uid"`
	SellerUIDs []string `json:"seller_uids"`
	Total      string   `json:"total"`
	ItemCount  int      `json:"item_count"`
}

type OrderPaid struct {
	MerchantReference string    `json:"merchant_reference"`
	ProviderReference string    `json:"provider_reference"`
	Amount            string    `json:"amount"`
	PaidAt            time.Time `json:"paid_at"`
}

type OrderStatusAdvanced struct {
	From     string `json:"from"`
	To       string `json:"to"`
	ActorUID string `json:"actor_uid"`
}

type MessagePosted struct {
	MessageID uint64 `json:"message_id"`
	SenderUID string `json:"sender_uid"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// LogPublisher writes events to the log. It is used when no broker is
// configured.
type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher(log *zap.Logger) *LogPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(_ context.Context, e Event) error {
	p.log.Info("event",
		zap.String("type", e.Type),
		zap.Uint64("order_id", e.OrderID),
		zap.Time("occurred_at", e.OccurredAt),
		zap.Any("payload", e.Payload),
	)
	return nil
}

var _ Publisher = (*LogPublisher)(nil)
