package repository

import (
	"context"

	"github.com/shinyyama/flora-backend/internal/model"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type FlowerRepository interface {
	Create(ctx context.Context, f *model.Flower) error
	FindByID(ctx context.Context, id uint64) (*model.Flower, error)
	UpdatePrice(ctx context.Context, id uint64, price decimal.Decimal) error
	Count(ctx context.Context) (int64, error)
}

type flowerRepository struct {
	db *gorm.DB
}

func NewFlowerRepository(db *gorm.DB) FlowerRepository {
	return &flowerRepository{db: db}
}

func (r *flowerRepository) Create(ctx context.Context, f *model.Flower) error {
	if f.StockStatus == "" {
		f.StockStatus = model.StockStatusInStock
	}
	return r.db.WithContext(ctx).Create(f).Error
}

func (r *flowerRepository) FindByID(ctx context.Context, id uint64) (*model.Flower, error) {
	var f model.Flower
	if err := r.db.WithContext(ctx).First(&f, id).Error; err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *flowerRepository) UpdatePrice(ctx context.Context, id uint64, price decimal.Decimal) error {
	return r.db.WithContext(ctx).
		Model(&model.Flower{}).
		Where("id = ?", id).
		Update("price", price).Error
}

func (r *flowerRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&model.Flower{}).Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}
