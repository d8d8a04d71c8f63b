package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/shinyyama/flora-backend/internal/event"
	"github.com/shinyyama/flora-backend/internal/model"
	"github.com/shinyyama/flora-backend/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const MaxMessageLength = 2000

type MessageService interface {
	PostMessage(ctx context.Context, orderID uint64, senderUID, content string) (*model.Message, error)
	ListMessages(ctx context.Context, orderID uint64, uid string) ([]model.Message, error)
}

type messageService struct {
	orders   repository.OrderRepository
	messages repository.MessageRepository
	notify   NotificationService
	effects  sideEffects
}

func NewMessageService(orders repository.OrderRepository, messages repository.MessageRepository, notify NotificationService, events event.Publisher, log *zap.Logger) MessageService {
	return &messageService{
		orders:   orders,
		messages: messages,
		notify:   notify,
		effects:  newSideEffects(notify, events, log),
	}
}

func (s *messageService) participantOrder(ctx context.Context, orderID uint64, uid string) (*model.Order, error) {
	o, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if uid == "" || (o.BuyerUID != uid && !o.HasSeller(uid)) {
		return nil, ErrForbidden
	}
	return o, nil
}

func (s *messageService) PostMessage(ctx context.Context, orderID uint64, senderUID, content string) (*model.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, invalid("content", "is required")
	}
	if utf8.RuneCountInString(content) > MaxMessageLength {
		return nil, invalid("content", "must be at most %d characters", MaxMessageLength)
	}
	o, err := s.participantOrder(ctx, orderID, senderUID)
	if err != nil {
		return nil, err
	}

	msg := &model.Message{
		OrderID:   o.ID,
		SenderUID: senderUID,
		Content:   content,
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}

	recipients := append([]string{o.BuyerUID}, o.SellerUIDs()...)
	for _, uid := range recipients {
		if uid == senderUID {
			continue
		}
		s.effects.notifyUser(ctx, uid, model.NotificationTypeNewMessage,
			"New message", fmt.Sprintf("New message on order #%d.", o.ID), o.ID)
	}
	s.effects.publish(ctx, event.TypeOrderMessagePosted, o.ID, event.MessagePosted{
		MessageID: msg.ID,
		SenderUID: senderUID,
	})
	return msg, nil
}

// ListMessages returns the whole thread oldest first and clears the caller's
// unread notifications for the order.
func (s *messageService) ListMessages(ctx context.Context, orderID uint64, uid string) ([]model.Message, error) {
	if _, err := s.participantOrder(ctx, orderID, uid); err != nil {
		return nil, err
	}
	msgs, err := s.messages.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if s.notify != nil {
		if err := s.notify.MarkByOrder(ctx, uid, orderID); err != nil {
			s.effects.log.Warn("notifications not marked read", zap.Uint64("order_id", orderID), zap.Error(err))
		}
	}
	return msgs, nil
}
