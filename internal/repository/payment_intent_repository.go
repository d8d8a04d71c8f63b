package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shinyyama/flora-backend/internal/model"
	"gorm.io/gorm"
)

var (
	// ErrActiveIntentExists is returned when an order already has a non-failed intent.
	ErrActiveIntentExists = errors.New("active payment intent exists")
	// ErrStaleIntent means the intent changed status under a conditional update.
	ErrStaleIntent = errors.New("payment intent status changed concurrently")
)

var openStatuses = []model.PaymentStatus{model.PaymentStatusInitiated, model.PaymentStatusPending}

type PaymentIntentRepository interface {
	Create(ctx context.Context, pi *model.PaymentIntent) error
	FindByID(ctx context.Context, id uint64) (*model.PaymentIntent, error)
	FindLatestByOrder(ctx context.Context, orderID uint64) (*model.PaymentIntent, error)
	FindActiveByOrder(ctx context.Context, orderID uint64) (*model.PaymentIntent, error)
	FindByProviderReference(ctx context.Context, ref string) (*model.PaymentIntent, error)
	FindByMerchantReference(ctx context.Context, ref string) (*model.PaymentIntent, error)
	AttachSession(ctx context.Context, id uint64, providerRef, redirectURL string) error
	Transition(ctx context.Context, id uint64, from, to model.PaymentStatus, reason string) (bool, error)
	Touch(ctx context.Context, id uint64, at time.Time) error
	Complete(ctx context.Context, pi *model.PaymentIntent, at time.Time) (bool, error)
	CompleteSuperseding(ctx context.Context, failed *model.PaymentIntent, at time.Time) (*model.PaymentIntent, bool, error)
	ListStale(ctx context.Context, before time.Time, limit int) ([]model.PaymentIntent, error)
}

type paymentIntentRepository struct {
	db *gorm.DB
}

func NewPaymentIntentRepository(db *gorm.DB) PaymentIntentRepository {
	return &paymentIntentRepository{db: db}
}

func (r *paymentIntentRepository) Create(ctx context.Context, pi *model.PaymentIntent) error {
	if pi.Status != model.PaymentStatusFailed {
		orderID := pi.OrderID
		pi.ActiveOrderID = &orderID
	}
	if err := r.db.WithContext(ctx).Create(pi).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrActiveIntentExists
		}
		return err
	}
	return nil
}

func (r *paymentIntentRepository) FindByID(ctx context.Context, id uint64) (*model.PaymentIntent, error) {
	var pi model.PaymentIntent
	if err := r.db.WithContext(ctx).First(&pi, id).Error; err != nil {
		return nil, err
	}
	return &pi, nil
}

func (r *paymentIntentRepository) FindLatestByOrder(ctx context.Context, orderID uint64) (*model.PaymentIntent, error) {
	var pi model.PaymentIntent
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("id DESC").
		First(&pi).Error; err != nil {
		return nil, err
	}
	return &pi, nil
}

func (r *paymentIntentRepository) FindActiveByOrder(ctx context.Context, orderID uint64) (*model.PaymentIntent, error) {
	var pi model.PaymentIntent
	if err := r.db.WithContext(ctx).
		Where("active_order_id = ?", orderID).
		First(&pi).Error; err != nil {
		return nil, err
	}
	return &pi, nil
}

func (r *paymentIntentRepository) FindByProviderReference(ctx context.Context, ref string) (*model.PaymentIntent, error) {
	var pi model.PaymentIntent
	if err := r.db.WithContext(ctx).
		Where("provider_reference = ?", ref).
		Order("id DESC").
		First(&pi).Error; err != nil {
		return nil, err
	}
	return &pi, nil
}

func (r *paymentIntentRepository) FindByMerchantReference(ctx context.Context, ref string) (*model.PaymentIntent, error) {
	var pi model.PaymentIntent
	if err := r.db.WithContext(ctx).
		Where("merchant_reference = ?", ref).
		Order("id DESC").
		First(&pi).Error; err != nil {
		return nil, err
	}
	return &pi, nil
}

func (r *paymentIntentRepository) AttachSession(ctx context.Context, id uint64, providerRef, redirectURL string) error {
	return r.db.WithContext(ctx).
		Model(&model.PaymentIntent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"provider_reference": providerRef,
			"redirect_url":       redirectURL,
		}).Error
}

// Transition moves an intent from one status to another only if it is still
// in from. Moving to failed releases the order's active slot.
func (r *paymentIntentRepository) Transition(ctx context.Context, id uint64, from, to model.PaymentStatus, reason string) (bool, error) {
	updates := map[string]interface{}{
		"status":          to,
		"last_checked_at": time.Now(),
	}
	if to == model.PaymentStatusFailed {
		updates["active_order_id"] = nil
		updates["failure_reason"] = reason
	}
	res := r.db.WithContext(ctx).
		Model(&model.PaymentIntent{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *paymentIntentRepository) Touch(ctx context.Context, id uint64, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.PaymentIntent{}).
		Where("id = ?", id).
		Update("last_checked_at", at).Error
}

func markOrderPaid(tx *gorm.DB, orderID uint64, at time.Time) (bool, error) {
	res := tx.Model(&model.Order{}).
		Where("id = ? AND paid = ?", orderID, false).
		Updates(map[string]interface{}{
			"paid":    true,
			"paid_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Complete marks an open intent completed and flips the order to paid in one
// transaction. The returned bool is true only for the call that flipped paid.
func (r *paymentIntentRepository) Complete(ctx context.Context, pi *model.PaymentIntent, at time.Time) (bool, error) {
	var paidNow bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.PaymentIntent{}).
			Where("id = ? AND status IN ?", pi.ID, openStatuses).
			Updates(map[string]interface{}{
				"status":          model.PaymentStatusCompleted,
				"last_checked_at": at,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return ErrStaleIntent
		}
		var err error
		paidNow, err = markOrderPaid(tx, pi.OrderID, at)
		return err
	})
	if err != nil {
		return false, err
	}
	pi.Status = model.PaymentStatusCompleted
	pi.LastCheckedAt = &at
	return paidNow, nil
}

// CompleteSuperseding records a provider-confirmed payment for an intent that
// was already failed locally. The failed row is left alone; a fresh completed
// intent is inserted and any other open intent of the order is failed as
// superseded. Nothing is written when the order is already paid.
func (r *paymentIntentRepository) CompleteSuperseding(ctx context.Context, failed *model.PaymentIntent, at time.Time) (*model.PaymentIntent, bool, error) {
	var (
		fresh   *model.PaymentIntent
		paidNow bool
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		paidNow, err = markOrderPaid(tx, failed.OrderID, at)
		if err != nil || !paidNow {
			return err
		}
		if err := tx.Model(&model.PaymentIntent{}).
			Where("active_order_id = ?", failed.OrderID).
			Updates(map[string]interface{}{
				"status":          model.PaymentStatusFailed,
				"active_order_id": nil,
				"failure_reason":  "superseded by completed payment " + failed.ProviderReference,
				"last_checked_at": at,
			}).Error; err != nil {
			return err
		}
		orderID := failed.OrderID
		fresh = &model.PaymentIntent{
			OrderID:           failed.OrderID,
			ActiveOrderID:     &orderID,
			MerchantReference: failed.MerchantReference,
			ProviderReference: failed.ProviderReference,
			RedirectURL:       failed.RedirectURL,
			Amount:            failed.Amount,
			Currency:          failed.Currency,
			Status:            model.PaymentStatusCompleted,
			LastCheckedAt:     &at,
		}
		return tx.Create(fresh).Error
	})
	if err != nil {
		return nil, false, err
	}
	return fresh, paidNow, nil
}

func (r *paymentIntentRepository) ListStale(ctx context.Context, before time.Time, limit int) ([]model.PaymentIntent, error) {
	if limit <= 0 {
		limit = 100
	}
	var list []model.PaymentIntent
	if err := r.db.WithContext(ctx).
		Where("status IN ? AND created_at < ?", openStatuses, before).
		Order("id ASC").
		Limit(limit).
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}
