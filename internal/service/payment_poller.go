package service

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// PaymentPoller repeatedly reconciles one order until the payment settles or
// the attempt budget runs out. Giving up never changes server state; a later
// callback can still complete the order.
type PaymentPoller struct {
	payments    PaymentService
	interval    time.Duration
	maxAttempts int
	log         *zap.Logger
	newBackOff  func() backoff.BackOff
}

func NewPaymentPoller(payments PaymentService, interval time.Duration, maxAttempts int, log *zap.Logger) *PaymentPoller {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 60
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &PaymentPoller{
		payments:    payments,
		interval:    interval,
		maxAttempts: maxAttempts,
		log:         log,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = interval
			b.MaxInterval = 10 * interval
			b.MaxElapsedTime = 0
			return b
		},
	}
}

// Await returns the first settled result. When attempts are exhausted it
// returns the last result seen together with ErrPaymentTimeout.
func (p *PaymentPoller) Await(ctx context.Context, orderID uint64) (*ReconcileResult, error) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	b := p.newBackOff()

	var last *ReconcileResult
	for attempt := 1; ; attempt++ {
		res, err := p.payments.ReconcileStatus(ctx, orderID)
		providerFailed := false
		switch {
		case err == nil:
			last = res
			b.Reset()
			if res.Done() {
				return res, nil
			}
		case errors.Is(err, ErrProvider):
			providerFailed = true
			p.log.Warn("payment poll failed",
				zap.Uint64("order_id", orderID),
				zap.Int("attempt", attempt),
				zap.Error(err))
		default:
			return last, err
		}

		if attempt >= p.maxAttempts {
			return last, ErrPaymentTimeout
		}

		if providerFailed {
			wait := b.NextBackOff()
			if wait == backoff.Stop {
				return last, ErrPaymentTimeout
			}
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return last, ctx.Err()
			case <-timer.C:
			}
			continue
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}
