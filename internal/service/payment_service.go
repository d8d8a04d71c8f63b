package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shinyyama/flora-backend/internal/event"
	"github.com/shinyyama/flora-backend/internal/lock"
	"github.com/shinyyama/flora-backend/internal/model"
	"github.com/shinyyama/flora-backend/internal/payment"
	"github.com/shinyyama/flora-backend/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PaymentSession is what the buyer needs to complete payment with the
// provider.
type PaymentSession struct {
	OrderID           uint64 `json:"orderId"`
	MerchantReference string `json:"merchantReference"`
	ProviderReference string `json:"providerReference"`
	RedirectURL       string `json:"redirectUrl"`
}

type ReconcileResult struct {
	OrderID uint64              `json:"orderId"`
	Paid    bool                `json:"paid"`
	Status  model.PaymentStatus `json:"status"`
}

// Done reports whether polling can stop.
func (r *ReconcileResult) Done() bool {
	return r != nil && (r.Paid || r.Status == model.PaymentStatusCompleted || r.Status == model.PaymentStatusFailed)
}

// Callback carries the references a provider notification names. Any status
// it might claim is ignored; the provider is always asked again.
type Callback struct {
	ProviderReference string
	MerchantReference string
}

type PaymentService interface {
	InitiatePayment(ctx context.Context, orderID uint64, buyerUID string) (*PaymentSession, error)
	ReconcileStatus(ctx context.Context, orderID uint64) (*ReconcileResult, error)
	HandleCallback(ctx context.Context, cb Callback) (*ReconcileResult, error)
	ExpireStale(ctx context.Context, olderThan time.Duration) (int, error)
}

type PaymentOptions struct {
	Currency        string
	ProviderTimeout time.Duration
}

type paymentService struct {
	orders   repository.OrderRepository
	intents  repository.PaymentIntentRepository
	provider payment.Provider
	locker   lock.Locker
	opts     PaymentOptions
	effects  sideEffects
	log      *zap.Logger
}

func NewPaymentService(
	orders repository.OrderRepository,
	intents repository.PaymentIntentRepository,
	provider payment.Provider,
	locker lock.Locker,
	opts PaymentOptions,
	notify NotificationService,
	events event.Publisher,
	log *zap.Logger,
) PaymentService {
	if log == nil {
		log = zap.NewNop()
	}
	if locker == nil {
		locker = lock.NewKeyedMutex()
	}
	if opts.Currency == "" {
		opts.Currency = "KES"
	}
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = 10 * time.Second
	}
	return &paymentService{
		orders:   orders,
		intents:  intents,
		provider: provider,
		locker:   locker,
		opts:     opts,
		effects:  newSideEffects(notify, events, log),
		log:      log,
	}
}

func orderLockKey(orderID uint64) string {
	return "order:" + strconv.FormatUint(orderID, 10)
}

func (s *paymentService) lockOrder(ctx context.Context, orderID uint64) (func(), error) {
	unlock, err := s.locker.Lock(ctx, orderLockKey(orderID))
	if err != nil {
		return nil, fmt.Errorf("lock order %d: %w", orderID, err)
	}
	return unlock, nil
}

func (s *paymentService) findOrder(ctx context.Context, orderID uint64) (*model.Order, error) {
	o, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return o, nil
}

func newMerchantReference(orderID uint64) string {
	return fmt.Sprintf("ORD-%d-%s", orderID, strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// orderIDFromMerchantReference parses the order id out of ORD-<id>-<suffix>.
func orderIDFromMerchantReference(ref string) (uint64, bool) {
	parts := strings.SplitN(ref, "-", 3)
	if len(parts) != 3 || parts[0] != "ORD" {
		return 0, false
	}
	id, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

func (s *paymentService) InitiatePayment(ctx context.Context, orderID uint64, buyerUID string) (*PaymentSession, error) {
	unlock, err := s.lockOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	o, err := s.findOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if buyerUID != "" && buyerUID != o.BuyerUID {
		return nil, ErrForbidden
	}
	if o.Paid {
		return nil, ErrAlreadyPaid
	}
	if active, err := s.intents.FindActiveByOrder(ctx, o.ID); err == nil {
		if active.Status == model.PaymentStatusCompleted {
			return nil, ErrAlreadyPaid
		}
		return nil, fmt.Errorf("%w: payment %s is already %s", ErrConflict, active.MerchantReference, active.Status)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	pi := &model.PaymentIntent{
		OrderID:           o.ID,
		MerchantReference: newMerchantReference(o.ID),
		Amount:            o.TotalPrice,
		Currency:          s.opts.Currency,
		Status:            model.PaymentStatusInitiated,
	}
	if err := s.intents.Create(ctx, pi); err != nil {
		if errors.Is(err, repository.ErrActiveIntentExists) {
			return nil, fmt.Errorf("%w: payment already in progress", ErrConflict)
		}
		return nil, fmt.Errorf("create payment intent: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, s.opts.ProviderTimeout)
	defer cancel()
	sess, err := s.provider.CreateSession(pctx, payment.SessionRequest{
		MerchantReference: pi.MerchantReference,
		Amount:            pi.Amount,
		Currency:          pi.Currency,
		Description:       fmt.Sprintf("Flora order #%d", o.ID),
		BuyerContact:      o.BuyerContact,
		BuyerAddress:      o.DeliveryAddress,
	})
	if err != nil {
		s.failIntent(ctx, pi, err.Error())
		return nil, providerError("create session", err)
	}
	// The session exists at the provider now; record it even if the caller has gone.
	if err := s.intents.AttachSession(context.WithoutCancel(ctx), pi.ID, sess.ProviderReference, sess.RedirectURL); err != nil {
		s.failIntent(ctx, pi, "session not recorded: "+err.Error())
		return nil, fmt.Errorf("attach payment session: %w", err)
	}

	s.log.Info("payment initiated",
		zap.Uint64("order_id", o.ID),
		zap.String("merchant_reference", pi.MerchantReference),
		zap.String("provider_reference", sess.ProviderReference),
	)
	return &PaymentSession{
		OrderID:           o.ID,
		MerchantReference: pi.MerchantReference,
		ProviderReference: sess.ProviderReference,
		RedirectURL:       sess.RedirectURL,
	}, nil
}

// failIntent releases the order's active slot so the buyer can start over.
func (s *paymentService) failIntent(ctx context.Context, pi *model.PaymentIntent, reason string) {
	ok, err := s.intents.Transition(context.WithoutCancel(ctx), pi.ID, pi.Status, model.PaymentStatusFailed, reason)
	if err != nil {
		s.log.Error("failed to mark payment intent failed",
			zap.Uint64("intent_id", pi.ID), zap.Error(err))
		return
	}
	if ok {
		pi.Status = model.PaymentStatusFailed
		pi.FailureReason = reason
	}
}

func (s *paymentService) ReconcileStatus(ctx context.Context, orderID uint64) (*ReconcileResult, error) {
	unlock, err := s.lockOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, err := s.findOrder(ctx, orderID); err != nil {
		return nil, err
	}
	pi, err := s.intents.FindLatestByOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: no payment for order %d", ErrNotFound, orderID)
		}
		return nil, err
	}
	return s.reconcile(ctx, pi, "")
}

func (s *paymentService) findIntentForCallback(ctx context.Context, cb Callback) (*model.PaymentIntent, error) {
	if cb.ProviderReference != "" {
		pi, err := s.intents.FindByProviderReference(ctx, cb.ProviderReference)
		if err == nil {
			return pi, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	if cb.MerchantReference != "" {
		pi, err := s.intents.FindByMerchantReference(ctx, cb.MerchantReference)
		if err == nil {
			return pi, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}

// HandleCallback reconciles the intent a provider notification points at.
// The lookup tries the provider reference first and then ours.
func (s *paymentService) HandleCallback(ctx context.Context, cb Callback) (*ReconcileResult, error) {
	cb.ProviderReference = strings.TrimSpace(cb.ProviderReference)
	cb.MerchantReference = strings.TrimSpace(cb.MerchantReference)
	if cb.ProviderReference == "" && cb.MerchantReference == "" {
		return nil, invalid("reference", "provider or merchant reference is required")
	}

	pi, err := s.findIntentForCallback(ctx, cb)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			if id, ok := orderIDFromMerchantReference(cb.MerchantReference); ok {
				s.log.Warn("callback for unknown merchant reference",
					zap.String("merchant_reference", cb.MerchantReference),
					zap.Uint64("order_id", id))
			}
		}
		return nil, err
	}

	unlock, err := s.lockOrder(ctx, pi.OrderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Re-read under the lock; the intent may have moved since the lookup.
	pi, err = s.intents.FindByID(ctx, pi.ID)
	if err != nil {
		return nil, err
	}
	return s.reconcile(ctx, pi, cb.ProviderReference)
}

// reconcile brings one intent in line with what the provider reports. The
// caller holds the order lock. hintRef is a provider reference learned from a
// callback, used only when the intent never got one attached.
func (s *paymentService) reconcile(ctx context.Context, pi *model.PaymentIntent, hintRef string) (*ReconcileResult, error) {
	if pi.Status == model.PaymentStatusCompleted {
		return &ReconcileResult{OrderID: pi.OrderID, Paid: true, Status: pi.Status}, nil
	}

	ref := pi.ProviderReference
	if ref == "" {
		ref = hintRef
	}
	if ref == "" {
		// No session was ever recorded, so nothing can settle this intent.
		if pi.Status == model.PaymentStatusInitiated {
			s.failIntent(ctx, pi, "no provider session recorded")
		}
		return s.result(ctx, pi)
	}

	pctx, cancel := context.WithTimeout(ctx, s.opts.ProviderTimeout)
	st, err := s.provider.GetSessionStatus(pctx, ref)
	cancel()
	if err != nil {
		return nil, providerError("get session status", err)
	}
	if pi.ProviderReference == "" {
		if st.MerchantReference != pi.MerchantReference {
			return nil, fmt.Errorf("%w: provider reference %s belongs to %q, not %s", ErrConflict, ref, st.MerchantReference, pi.MerchantReference)
		}
		if err := s.intents.AttachSession(ctx, pi.ID, ref, pi.RedirectURL); err != nil {
			return nil, err
		}
		pi.ProviderReference = ref
	}
	return s.apply(ctx, pi, st)
}

func (s *paymentService) apply(ctx context.Context, pi *model.PaymentIntent, st *payment.SessionStatus) (*ReconcileResult, error) {
	now := time.Now()
	switch st.State {
	case payment.StateCompleted:
		if reason := settlementMismatch(pi, st); reason != "" {
			s.log.Error("provider settlement does not match payment intent",
				zap.Uint64("order_id", pi.OrderID),
				zap.Uint64("intent_id", pi.ID),
				zap.String("provider_reference", pi.ProviderReference),
				zap.String("reason", reason))
			if pi.Status == model.PaymentStatusInitiated || pi.Status == model.PaymentStatusPending {
				s.failIntent(ctx, pi, reason)
			}
			return nil, fmt.Errorf("%w: %s", ErrConflict, reason)
		}
		if pi.Status == model.PaymentStatusFailed {
			fresh, paidNow, err := s.intents.CompleteSuperseding(ctx, pi, now)
			if err != nil {
				return nil, fmt.Errorf("complete superseding payment: %w", err)
			}
			if paidNow {
				s.log.Info("payment completed after intent failed",
					zap.Uint64("order_id", pi.OrderID),
					zap.Uint64("failed_intent_id", pi.ID),
					zap.Uint64("intent_id", fresh.ID))
				s.onPaid(ctx, fresh, now)
			}
			return s.result(ctx, pi)
		}
		paidNow, err := s.intents.Complete(ctx, pi, now)
		if errors.Is(err, repository.ErrStaleIntent) {
			current, ferr := s.intents.FindByID(ctx, pi.ID)
			if ferr != nil {
				return nil, ferr
			}
			if current.Status == model.PaymentStatusCompleted {
				return s.result(ctx, current)
			}
			return s.apply(ctx, current, st)
		}
		if err != nil {
			return nil, fmt.Errorf("complete payment: %w", err)
		}
		if paidNow {
			s.onPaid(ctx, pi, now)
		}
		return s.result(ctx, pi)

	case payment.StateFailed:
		if pi.Status == model.PaymentStatusInitiated || pi.Status == model.PaymentStatusPending {
			ok, err := s.intents.Transition(ctx, pi.ID, pi.Status, model.PaymentStatusFailed, "provider reported "+st.Description)
			if err != nil {
				return nil, err
			}
			if ok {
				pi.Status = model.PaymentStatusFailed
			}
		}
		return s.result(ctx, pi)

	default:
		if pi.Status == model.PaymentStatusInitiated {
			ok, err := s.intents.Transition(ctx, pi.ID, model.PaymentStatusInitiated, model.PaymentStatusPending, "")
			if err != nil {
				return nil, err
			}
			if ok {
				pi.Status = model.PaymentStatusPending
			}
		} else if err := s.intents.Touch(ctx, pi.ID, now); err != nil {
			return nil, err
		}
		return s.result(ctx, pi)
	}
}

// settlementMismatch describes how a completed provider session differs from
// what the intent asked for, or returns "" when they agree.
func settlementMismatch(pi *model.PaymentIntent, st *payment.SessionStatus) string {
	if !st.Amount.Equal(pi.Amount) {
		return fmt.Sprintf("provider settled %s, expected %s", st.Amount.StringFixed(2), pi.Amount.StringFixed(2))
	}
	if !strings.EqualFold(st.Currency, pi.Currency) {
		return fmt.Sprintf("provider settled in %q, expected %s", st.Currency, pi.Currency)
	}
	return ""
}

func (s *paymentService) result(ctx context.Context, pi *model.PaymentIntent) (*ReconcileResult, error) {
	o, err := s.findOrder(ctx, pi.OrderID)
	if err != nil {
		return nil, err
	}
	status := pi.Status
	if o.Paid {
		status = model.PaymentStatusCompleted
	}
	return &ReconcileResult{OrderID: o.ID, Paid: o.Paid, Status: status}, nil
}

// onPaid runs once per order, after the paid flag flipped.
func (s *paymentService) onPaid(ctx context.Context, pi *model.PaymentIntent, at time.Time) {
	s.log.Info("order paid",
		zap.Uint64("order_id", pi.OrderID),
		zap.String("merchant_reference", pi.MerchantReference),
		zap.String("provider_reference", pi.ProviderReference))

	o, err := s.findOrder(ctx, pi.OrderID)
	if err != nil {
		s.log.Warn("paid order not reloaded", zap.Uint64("order_id", pi.OrderID), zap.Error(err))
		return
	}
	s.effects.notifyUser(ctx, o.BuyerUID, model.NotificationTypeOrderPaid,
		"Payment received", fmt.Sprintf("Payment for order #%d was received.", o.ID), o.ID)
	for _, seller := range o.SellerUIDs() {
		s.effects.notifyUser(ctx, seller, model.NotificationTypeOrderPaid,
			"Order paid", fmt.Sprintf("Order #%d has been paid.", o.ID), o.ID)
	}
	s.effects.publish(ctx, event.TypeOrderPaid, o.ID, event.OrderPaid{
		MerchantReference: pi.MerchantReference,
		ProviderReference: pi.ProviderReference,
		Amount:            pi.Amount.StringFixed(2),
		PaidAt:            at.UTC(),
	})
}

// ExpireStale fails open intents created more than olderThan ago. A payment
// completed later still lands through the superseding path.
func (s *paymentService) ExpireStale(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		return 0, nil
	}
	stale, err := s.intents.ListStale(ctx, time.Now().Add(-olderThan), 100)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, pi := range stale {
		unlock, err := s.lockOrder(ctx, pi.OrderID)
		if err != nil {
			return expired, err
		}
		ok, err := s.intents.Transition(ctx, pi.ID, pi.Status, model.PaymentStatusFailed, "expired after "+olderThan.String())
		unlock()
		if err != nil {
			return expired, err
		}
		if ok {
			expired++
		}
	}
	return expired, nil
}
