package service

import (
	"context"
	"strings"
	"testing"

	"github.com/shinyyama/flora-backend/internal/event"
	"github.com/shinyyama/flora-backend/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostMessage_Participants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.createOrder(t)

	msg, err := f.messages.PostMessage(ctx, o.ID, "buyer-1", "  Can you deliver before noon?  ")
	require.NoError(t, err)
	assert.NotZero(t, msg.ID)
	assert.Equal(t, "Can you deliver before noon?", msg.Content)
	assert.Equal(t, "buyer-1", msg.SenderUID)

	_, err = f.messages.PostMessage(ctx, o.ID, "seller-b", "Yes, by 11.")
	require.NoError(t, err)

	// Every participant except the sender hears about each message.
	assert.EqualValues(t, 2, f.notificationsFor(t, "seller-a", model.NotificationTypeNewMessage))
	assert.EqualValues(t, 1, f.notificationsFor(t, "seller-b", model.NotificationTypeNewMessage))
	assert.EqualValues(t, 1, f.notificationsFor(t, "buyer-1", model.NotificationTypeNewMessage))
	assert.Equal(t, 2, f.events.count(event.TypeOrderMessagePosted))
}

func TestPostMessage_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.createOrder(t)

	tests := []struct {
		name    string
		orderID uint64
		sender  string
		content string
		wantErr error
	}{
		{name: "stranger", orderID: o.ID, sender: "stranger", content: "hi", wantErr: ErrForbidden},
		{name: "anonymous", orderID: o.ID, sender: "", content: "hi", wantErr: ErrForbidden},
		{name: "blank", orderID: o.ID, sender: "buyer-1", content: " \n\t ", wantErr: ErrValidation},
		{name: "too long", orderID: o.ID, sender: "buyer-1", content: strings.Repeat("a", MaxMessageLength+1), wantErr: ErrValidation},
		{name: "unknown order", orderID: o.ID + 1000, sender: "buyer-1", content: "hi", wantErr: ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := f.messages.PostMessage(ctx, tt.orderID, tt.sender, tt.content)
			assert.Nil(t, msg)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Zero(t, f.countRows(t, &model.Message{}))
}

func TestPostMessage_LengthCountsCharacters(t *testing.T) {
	f := newFixture(t)
	o := f.createOrder(t)

	_, err := f.messages.PostMessage(context.Background(), o.ID, "buyer-1", strings.Repeat("花", MaxMessageLength))
	assert.NoError(t, err)
}

func TestListMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.createOrder(t)

	empty, err := f.messages.ListMessages(ctx, o.ID, "buyer-1")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	for _, post := range []struct{ uid, content string }{
		{"buyer-1", "first"},
		{"seller-a", "second"},
		{"buyer-1", "third"},
	} {
		_, err := f.messages.PostMessage(ctx, o.ID, post.uid, post.content)
		require.NoError(t, err)
	}

	msgs, err := f.messages.ListMessages(ctx, o.ID, "seller-b")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"first", "second", "third"}, []string{msgs[0].Content, msgs[1].Content, msgs[2].Content})

	_, err = f.messages.ListMessages(ctx, o.ID, "stranger")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.messages.ListMessages(ctx, o.ID+1000, "buyer-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListMessages_MarksOrderNotificationsRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.createOrder(t)
	_, err := f.messages.PostMessage(ctx, o.ID, "buyer-1", "hello")
	require.NoError(t, err)

	_, unread, err := f.notify.List(ctx, "seller-a", true, 50)
	require.NoError(t, err)
	require.EqualValues(t, 2, unread) // order_created + order_message

	_, err = f.messages.ListMessages(ctx, o.ID, "seller-a")
	require.NoError(t, err)

	_, unread, err = f.notify.List(ctx, "seller-a", true, 50)
	require.NoError(t, err)
	assert.Zero(t, unread)

	_, unread, err = f.notify.List(ctx, "seller-b", true, 50)
	require.NoError(t, err)
	assert.EqualValues(t, 2, unread)
}
