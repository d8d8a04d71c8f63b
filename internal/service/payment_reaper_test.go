package service

import (
	"context"
	"testing"
	"time"

	"github.com/shinyyama/flora-backend/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentReaper_Disabled(t *testing.T) {
	f := newFixture(t)
	o := f.initiated(t)
	time.Sleep(5 * time.Millisecond)

	r := NewPaymentReaper(f.payments, 0, time.Millisecond, nil)
	assert.False(t, r.Enabled())
	n, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	// Run returns immediately when disabled.
	r.Run(context.Background())
	assert.Equal(t, model.PaymentStatusInitiated, f.intentsOf(t, o.ID)[0].Status)
}

func TestPaymentReaper_ExpiresAbandonedIntents(t *testing.T) {
	f := newFixture(t)
	o := f.initiated(t)
	time.Sleep(20 * time.Millisecond)

	r := NewPaymentReaper(f.payments, time.Millisecond, time.Millisecond, nil)
	require.True(t, r.Enabled())
	n, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pi := f.intentsOf(t, o.ID)[0]
	assert.Equal(t, model.PaymentStatusFailed, pi.Status)
	assert.Nil(t, pi.ActiveOrderID)
	assert.False(t, f.reloadOrder(t, o.ID).Paid)

	n, err = r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPaymentReaper_RunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	r := NewPaymentReaper(f.payments, time.Hour, time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
}
