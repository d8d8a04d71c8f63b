package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type StockStatus string

const (
	StockStatusInStock    StockStatus = "in_stock"
	StockStatusOutOfStock StockStatus = "out_of_stock"
)

// Flower is a catalog product listed by a florist.
type Flower struct {
	ID          uint64          `gorm:"primaryKey;autoIncrement"`
	Name        string          `gorm:"size:100;not null"`
	Description string          `gorm:"type:text"`
	Price       decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	FloristUID  string          `gorm:"column:florist_uid;size:128;index;not null"`
	StockStatus StockStatus     `gorm:"column:stock_status;size:20;not null;default:'in_stock'"`
	CreatedAt   time.Time       `gorm:"autoCreateTime"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime"`
}

func (Flower) TableName() string {
	return "flowers"
}
