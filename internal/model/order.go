package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusDelivered  OrderStatus = "delivered"
)

// Next returns the fulfillment state that follows s. Delivered is terminal
// and maps to itself with ok=false.
func (s OrderStatus) Next() (next OrderStatus, ok bool) {
	switch s {
	case OrderStatusPending:
		return OrderStatusProcessing, true
	case OrderStatusProcessing:
		return OrderStatusDelivered, true
	default:
		return s, false
	}
}

// Order is written once at checkout. After that only Status (seller driven)
// and Paid/PaidAt (payment reconciliation) change.
type Order struct {
	ID              uint64          `gorm:"primaryKey;autoIncrement"`
	BuyerUID        string          `gorm:"column:buyer_uid;size:128;index;not null"`
	DeliveryAddress string          `gorm:"column:delivery_address;type:text;not null"`
	BuyerContact    string          `gorm:"column:buyer_contact;size:255;not null"`
	TotalPrice      decimal.Decimal `gorm:"column:total_price;type:decimal(12,2);not null"`
	Status          OrderStatus     `gorm:"column:status;size:32;index;not null"`
	Paid            bool            `gorm:"column:paid;not null;default:false"`
	PaidAt          *time.Time      `gorm:"column:paid_at"`
	Items           []OrderItem     `gorm:"foreignKey:OrderID"`
	CreatedAt       time.Time       `gorm:"autoCreateTime"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime"`
}

func (Order) TableName() string {
	return "orders"
}

// HasSeller reports whether uid sells at least one line item of the order.
func (o *Order) HasSeller(uid string) bool {
	if uid == "" {
		return false
	}
	for _, it := range o.Items {
		if it.SellerUID == uid {
			return true
		}
	}
	return false
}

// SellerUIDs lists the distinct sellers in line-item order.
func (o *Order) SellerUIDs() []string {
	seen := make(map[string]struct{}, len(o.Items))
	out := make([]string, 0, len(o.Items))
	for _, it := range o.Items {
		if _, ok := seen[it.SellerUID]; ok {
			continue
		}
		seen[it.SellerUID] = struct{}{}
		out = append(out, it.SellerUID)
	}
	return out
}

type OrderItem struct {
	ID        uint64          `gorm:"primaryKey;autoIncrement"`
	OrderID   uint64          `gorm:"column:order_id;index;not null"`
	Position  int             `gorm:"column:position;not null"`
	FlowerID  uint64          `gorm:"column:flower_id;index;not null"`
	SellerUID string          `gorm:"column:seller_uid;size:128;index;not null"`
	Name      string          `gorm:"column:name;size:100"`
	UnitPrice decimal.Decimal `gorm:"column:unit_price;type:decimal(12,2);not null"`
	Quantity  int             `gorm:"column:quantity;not null"`
	CreatedAt time.Time       `gorm:"autoCreateTime"`
}

func (OrderItem) TableName() string {
	return "order_items"
}

func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}
