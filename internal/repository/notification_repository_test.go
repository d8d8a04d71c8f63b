package repository

import (
	"context"
	"testing"

	"github.com/shinyyama/flora-backend/internal/model"
	"github.com/shinyyama/flora-backend/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotificationRepository_ReadFlags(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewNotificationRepository(db)
	ctx := context.Background()

	one, two := uint64(1), uint64(2)
	require.NoError(t, repo.Create(ctx, &model.Notification{UserUID: "u1", Type: model.NotificationTypeNewMessage, OrderID: &one}))
	require.NoError(t, repo.Create(ctx, &model.Notification{UserUID: "u1", Type: model.NotificationTypeOrderPaid, OrderID: &two}))
	require.NoError(t, repo.Create(ctx, &model.Notification{UserUID: "u2", Type: model.NotificationTypeOrderPaid, OrderID: &two}))

	cnt, err := repo.CountUnread(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, cnt)

	require.NoError(t, repo.MarkOrderRead(ctx, "u1", 1))
	unread, err := repo.ListByUser(ctx, "u1", true, 0)
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, model.NotificationTypeOrderPaid, unread[0].Type)

	require.NoError(t, repo.MarkAllRead(ctx, "u1"))
	cnt, err = repo.CountUnread(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, cnt)

	cnt, err = repo.CountUnread(ctx, "u2")
	require.NoError(t, err)
	assert.EqualValues(t, 1, cnt)
}
