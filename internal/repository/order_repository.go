package repository

import (
	"context"
	"time"

	"github.com/shinyyama/flora-backend/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OrderRepository has no generic Save: status and paid each have their own
// conditional update so concurrent writers never overwrite each other.
type OrderRepository interface {
	Create(ctx context.Context, o *model.Order) error
	FindByID(ctx context.Context, id uint64) (*model.Order, error)
	ListByBuyer(ctx context.Context, buyerUID string) ([]model.Order, error)
	ListBySeller(ctx context.Context, sellerUID string) ([]model.Order, error)
	AdvanceStatusIf(ctx context.Context, id uint64, from, to model.OrderStatus) (int64, error)
}

type orderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

func itemsByPosition(tx *gorm.DB) *gorm.DB {
	return tx.Order("position ASC")
}

// Create inserts the order and all of its items in one transaction.
func (r *orderRepository) Create(ctx context.Context, o *model.Order) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(o).Error; err != nil {
			return err
		}
		for i := range o.Items {
			o.Items[i].OrderID = o.ID
			o.Items[i].Position = i
		}
		return tx.Create(&o.Items).Error
	})
}

func (r *orderRepository) FindByID(ctx context.Context, id uint64) (*model.Order, error) {
	var o model.Order
	if err := r.db.WithContext(ctx).
		Preload("Items", itemsByPosition).
		First(&o, id).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *orderRepository) ListByBuyer(ctx context.Context, buyerUID string) ([]model.Order, error) {
	var list []model.Order
	if err := r.db.WithContext(ctx).
		Preload("Items", itemsByPosition).
		Where("buyer_uid = ?", buyerUID).
		Order("id DESC").
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// ListBySeller returns orders containing at least one of the seller's items,
// with Items narrowed to that seller's lines.
func (r *orderRepository) ListBySeller(ctx context.Context, sellerUID string) ([]model.Order, error) {
	var list []model.Order
	sub := r.db.Model(&model.OrderItem{}).Select("order_id").Where("seller_uid = ?", sellerUID)
	if err := r.db.WithContext(ctx).
		Preload("Items", func(tx *gorm.DB) *gorm.DB {
			return tx.Where("seller_uid = ?", sellerUID).Order("position ASC")
		}).
		Where("id IN (?)", sub).
		Order("id DESC").
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *orderRepository) AdvanceStatusIf(ctx context.Context, id uint64, from, to model.OrderStatus) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{
			"status":     to,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
