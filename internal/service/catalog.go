package service

import (
	"context"
	"errors"

	"github.com/shinyyama/flora-backend/internal/model"
	"github.com/shinyyama/flora-backend/internal/repository"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ErrProductUnavailable is returned by a Catalog for products that do not
// exist or cannot currently be sold.
var ErrProductUnavailable = errors.New("product unavailable")

type Product struct {
	ID        uint64
	Name      string
	UnitPrice decimal.Decimal
	SellerUID string
}

type Catalog interface {
	ResolveProduct(ctx context.Context, productID uint64) (*Product, error)
}

type flowerCatalog struct {
	flowers repository.FlowerRepository
}

func NewFlowerCatalog(flowers repository.FlowerRepository) Catalog {
	return &flowerCatalog{flowers: flowers}
}

func (c *flowerCatalog) ResolveProduct(ctx context.Context, productID uint64) (*Product, error) {
	f, err := c.flowers.FindByID(ctx, productID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProductUnavailable
		}
		return nil, err
	}
	if f.StockStatus == model.StockStatusOutOfStock || f.FloristUID == "" {
		return nil, ErrProductUnavailable
	}
	return &Product{
		ID:        f.ID,
		Name:      f.Name,
		UnitPrice: f.Price,
		SellerUID: f.FloristUID,
	}, nil
}
