package repository

import (
	"context"
	"testing"

	"github.com/shinyyama/flora-backend/internal/model"
	"github.com/shinyyama/flora-backend/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRepository_ListByOrderIsOrdered(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()

	for _, content := range []string{"hello", "when will it ship?", "tomorrow"} {
		require.NoError(t, repo.Create(ctx, &model.Message{OrderID: 1, SenderUID: "buyer-1", Content: content}))
	}
	require.NoError(t, repo.Create(ctx, &model.Message{OrderID: 2, SenderUID: "buyer-2", Content: "other order"}))

	msgs, err := repo.ListByOrder(ctx, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, "tomorrow", msgs[2].Content)

	empty, err := repo.ListByOrder(ctx, 99)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}
