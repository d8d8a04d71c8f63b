package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusInitiated PaymentStatus = "initiated"
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// PaymentIntent tracks one attempt to pay an order through the provider.
//
// ActiveOrderID mirrors OrderID while the intent is not failed and is NULL
// afterwards. Its unique index keeps at most one non-failed intent per order.
type PaymentIntent struct {
	ID                uint64          `gorm:"primaryKey;autoIncrement"`
	OrderID           uint64          `gorm:"column:order_id;index;not null"`
	ActiveOrderID     *uint64         `gorm:"column:active_order_id;uniqueIndex"`
	MerchantReference string          `gorm:"column:merchant_reference;size:64;index;not null"`
	ProviderReference string          `gorm:"column:provider_reference;size:128;index"`
	RedirectURL       string          `gorm:"column:redirect_url;type:text"`
	Amount            decimal.Decimal `gorm:"column:amount;type:decimal(12,2);not null"`
	Currency          string          `gorm:"column:currency;size:8;not null"`
	Status            PaymentStatus   `gorm:"column:status;size:16;index;not null"`
	FailureReason     string          `gorm:"column:failure_reason;type:text"`
	LastCheckedAt     *time.Time      `gorm:"column:last_checked_at"`
	CreatedAt         time.Time       `gorm:"autoCreateTime"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime"`
}

func (PaymentIntent) TableName() string {
	return "payment_intents"
}
