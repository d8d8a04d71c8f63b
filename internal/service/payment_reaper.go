package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// PaymentReaper expires payment intents the buyer abandoned. It is disabled
// when ttl is zero.
type PaymentReaper struct {
	payments PaymentService
	ttl      time.Duration
	interval time.Duration
	log      *zap.Logger
}

func NewPaymentReaper(payments PaymentService, ttl, interval time.Duration, log *zap.Logger) *PaymentReaper {
	if interval <= 0 {
		interval = time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &PaymentReaper{payments: payments, ttl: ttl, interval: interval, log: log}
}

func (r *PaymentReaper) Enabled() bool {
	return r.ttl > 0
}

func (r *PaymentReaper) RunOnce(ctx context.Context) (int, error) {
	if !r.Enabled() {
		return 0, nil
	}
	n, err := r.payments.ExpireStale(ctx, r.ttl)
	if n > 0 {
		r.log.Info("expired stale payment intents", zap.Int("count", n))
	}
	return n, err
}

// Run blocks until ctx is cancelled.
func (r *PaymentReaper) Run(ctx context.Context) {
	if !r.Enabled() {
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				r.log.Error("payment reaper failed", zap.Error(err))
			}
		}
	}
}
