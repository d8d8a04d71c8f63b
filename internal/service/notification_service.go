package service

import (
	"context"
	"time"

	"github.com/shinyyama/flora-backend/internal/model"
	"github.com/shinyyama/flora-backend/internal/repository"
	"go.uber.org/zap"
)

type NotificationService interface {
	Notify(ctx context.Context, userUID, typ, title, body string, orderID *uint64)
	List(ctx context.Context, userUID string, unreadOnly bool, limit int) ([]model.Notification, int64, error)
	MarkAllRead(ctx context.Context, userUID string) error
	MarkByOrder(ctx context.Context, userUID string, orderID uint64) error
}

type notificationService struct {
	repo repository.NotificationRepository
	log  *zap.Logger
}

func NewNotificationService(repo repository.NotificationRepository, log *zap.Logger) NotificationService {
	if log == nil {
		log = zap.NewNop()
	}
	return &notificationService{repo: repo, log: log}
}

// Notify is best-effort; it logs errors but does not return them to avoid breaking main flows.
func (s *notificationService) Notify(ctx context.Context, userUID, typ, title, body string, orderID *uint64) {
	if userUID == "" || typ == "" {
		return
	}
	ctx, cancel := withShortDeadline(ctx)
	defer cancel()

	n := &model.Notification{
		UserUID: userUID,
		Type:    typ,
		Title:   title,
		Body:    body,
		OrderID: orderID,
	}
	if err := s.repo.Create(ctx, n); err != nil {
		s.log.Warn("notification not stored",
			zap.String("user_uid", userUID),
			zap.String("type", typ),
			zap.Error(err),
		)
	}
}

func (s *notificationService) List(ctx context.Context, userUID string, unreadOnly bool, limit int) ([]model.Notification, int64, error) {
	if userUID == "" {
		return nil, 0, nil
	}
	list, err := s.repo.ListByUser(ctx, userUID, unreadOnly, limit)
	if err != nil {
		return nil, 0, err
	}
	cnt, err := s.repo.CountUnread(ctx, userUID)
	if err != nil {
		return list, 0, err
	}
	return list, cnt, nil
}

func (s *notificationService) MarkAllRead(ctx context.Context, userUID string) error {
	if userUID == "" {
		return nil
	}
	return s.repo.MarkAllRead(ctx, userUID)
}

func (s *notificationService) MarkByOrder(ctx context.Context, userUID string, orderID uint64) error {
	if userUID == "" || orderID == 0 {
		return nil
	}
	return s.repo.MarkOrderRead(ctx, userUID, orderID)
}

// helper to return pointer
func uint64Ptr(v uint64) *uint64 {
	return &v
}

// withShortDeadline keeps side-channel writes from holding up the main flow.
func withShortDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
}
