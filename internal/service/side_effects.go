package service

import (
	"context"
	"time"

	"github.com/shinyyama/flora-backend/internal/event"
	"go.uber.org/zap"
)

// sideEffects fans a committed state change out to notifications and the
// event stream. Failures are logged and never returned.
type sideEffects struct {
	notify NotificationService
	events event.Publisher
	log    *zap.Logger
}

func newSideEffects(notify NotificationService, events event.Publisher, log *zap.Logger) sideEffects {
	if log == nil {
		log = zap.NewNop()
	}
	if events == nil {
		events = event.NewLogPublisher(log)
	}
	return sideEffects{notify: notify, events: events, log: log}
}

func (s sideEffects) notifyUser(ctx context.Context, userUID, typ, title, body string, orderID uint64) {
	if s.notify == nil {
		return
	}
	s.notify.Notify(ctx, userUID, typ, title, body, uint64Ptr(orderID))
}

func (s sideEffects) publish(ctx context.Context, typ string, orderID uint64, payload any) {
	ctx, cancel := withShortDeadline(ctx)
	defer cancel()

	e := event.Event{Type: typ, OrderID: orderID, OccurredAt: time.Now().UTC(), Payload: payload}
	if err := s.events.Publish(ctx, e); err != nil {
		s.log.Warn("event not published",
			zap.String("type", typ),
			zap.Uint64("order_id", orderID),
			zap.Error(err),
		)
	}
}
