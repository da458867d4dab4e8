package repository

import (
	"context"
	"testing"

	"chatfabrica-go/internal/model"
	"chatfabrica-go/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exchange(q, a string) []model.ChatLogMessage {
	return []model.ChatLogMessage{
		{Role: model.RoleUser, Content: q},
		{Role: model.RoleAssistant, Content: a},
	}
}

func TestAppendExchangeUpsertsByThread(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	user := testutil.SeedUser(t, db, "a@example.com", 0, "")
	bot := testutil.SeedChatbot(t, db, user.ID, "asst_1", "gpt-4o-mini")
	repo := NewChatLogRepository(db)

	entry, created, err := repo.AppendExchange(ctx, "thread_1", bot.ID, exchange("hi", "hello"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Len(t, entry.Messages, 2)

	entry, created, err = repo.AppendExchange(ctx, "thread_1", bot.ID, exchange("and?", "more"))
	require.NoError(t, err)
	assert.False(t, created)
	require.Len(t, entry.Messages, 4)
	assert.Equal(t, "hi", entry.Messages[0].Content)
	assert.Equal(t, "more", entry.Messages[3].Content)

	var rows int64
	require.NoError(t, db.Model(&model.ChatLog{}).Where("thread_id = ?", "thread_1").Count(&rows).Error)
	assert.EqualValues(t, 1, rows)
}

func TestAppendExchangeRejectsForeignThread(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	user := testutil.SeedUser(t, db, "a@example.com", 0, "")
	a := testutil.SeedChatbot(t, db, user.ID, "asst_a", "gpt-4o-mini")
	b := testutil.SeedChatbot(t, db, user.ID, "asst_b", "gpt-4o-mini")
	repo := NewChatLogRepository(db)

	first, _, err := repo.AppendExchange(ctx, "thread_1", a.ID, exchange("q", "a"))
	require.NoError(t, err)
	_, _, err = repo.AppendExchange(ctx, "thread_1", b.ID, exchange("q", "a"))
	assert.ErrorIs(t, err, ErrThreadOwnedElsewhere)

	entry, err := repo.FindForChatbot(ctx, first.ID, a.ID)
	require.NoError(t, err)
	assert.Len(t, entry.Messages, 2, "failed append leaves no partial rows")
}

func TestListAndFindChatLogs(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	user := testutil.SeedUser(t, db, "a@example.com", 0, "")
	bot := testutil.SeedChatbot(t, db, user.ID, "asst_1", "gpt-4o-mini")
	other := testutil.SeedChatbot(t, db, user.ID, "asst_2", "gpt-4o-mini")
	repo := NewChatLogRepository(db)

	first, _, err := repo.AppendExchange(ctx, "thread_1", bot.ID, exchange("1", "1"))
	require.NoError(t, err)
	second, _, err := repo.AppendExchange(ctx, "thread_2", bot.ID, exchange("2", "2"))
	require.NoError(t, err)

	logs, err := repo.ListByChatbot(ctx, bot.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, second.ID, logs[0].ID)
	assert.Equal(t, first.ID, logs[1].ID)

	_, err = repo.FindForChatbot(ctx, first.ID, other.ID)
	assert.Error(t, err)

	require.NoError(t, repo.DeleteByChatbot(ctx, bot.ID))
	logs, err = repo.ListByChatbot(ctx, bot.ID)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestAnalyticsIncrement(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	repo := NewAnalyticsRepository(db)

	empty, err := repo.FindByUser(ctx, 7)
	require.NoError(t, err)
	assert.Zero(t, empty.TotalMessages)

	require.NoError(t, repo.Increment(ctx, 7, model.UsageDelta{Characters: 11, Trains: 1}))
	require.NoError(t, repo.Increment(ctx, 7, model.UsageDelta{Characters: 5, Messages: 1}))

	row, err := repo.FindByUser(ctx, 7)
	require.NoError(t, err)
	assert.EqualValues(t, 16, row.TotalCharacters)
	assert.Equal(t, 1, row.TotalTrain)
	assert.Equal(t, 1, row.TotalMessages)
}
