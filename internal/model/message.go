package model

import "time"

// Message is append-only; rows are never updated or deleted.
type Message struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID   uint64    `gorm:"column:order_id;index;not null" json:"orderId"`
	SenderUID string    `gorm:"column:sender_uid;size:128;index;not null" json:"senderUid"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (Message) TableName() string {
	return "messages"
}
