package model

import "time"

const (
	NotificationTypeNewOrder      = "order_created"
	NotificationTypeOrderPaid     = "order_paid"
	NotificationTypeStatusChanged = "order_status_changed"
	NotificationTypeNewMessage    = "order_message"
)

type Notification struct {
	ID        uint64     `gorm:"primaryKey;autoIncrement"`
	UserUID   string     `gorm:"column:user_uid;size:128;index;not null"`
	Type      string     `gorm:"column:type;size:64;not null"`
	Title     string     `gorm:"column:title;size:255"`
	Body      string     `gorm:"column:body;type:text"`
	OrderID   *uint64    `gorm:"column:order_id;index"`
	ReadAt    *time.Time `gorm:"column:read_at"`
	CreatedAt time.Time  `gorm:"autoCreateTime"`
}

func (Notification) TableName() string {
	return "notifications"
}
