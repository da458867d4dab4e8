package service

import (
	"context"
	"testing"

	"chatfabrica-go/internal/model"
	"chatfabrica-go/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryIndex struct {
	docs    []model.ExchangeDocument
	deleted []uint
}

func (m *memoryIndex) IndexExchange(_ context.Context, doc model.ExchangeDocument) error {
	m.docs = append(m.docs, doc)
	return nil
}

func (m *memoryIndex) SearchExchanges(_ context.Context, chatbotID uint, _ string, size int) ([]model.ExchangeDocument, error) {
	var out []model.ExchangeDocument
	for _, d := range m.docs {
		if d.ChatbotID == chatbotID && len(out) < size {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *memoryIndex) DeleteChatbot(_ context.Context, chatbotID uint) error {
	m.deleted = append(m.deleted, chatbotID)
	return nil
}

func TestChatLogListAndGet(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := h.owner(t, testutil.GrantOptions{Chatbots: 1})
	bot := testutil.SeedChatbot(t, h.db, user.ID, "asst_seed", "gpt-4o-mini")
	entry, _, err := h.chatLogs.AppendExchange(ctx, "thread_1", bot.ID, []model.ChatLogMessage{
		{Role: model.RoleUser, Content: "q"},
		{Role: model.RoleAssistant, Content: "a"},
	})
	require.NoError(t, err)
	svc := NewChatLogService(h.chatbots, h.chatLogs, nil)

	logs, err := svc.List(ctx, user.ID, bot.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)

	got, err := svc.Get(ctx, user.ID, bot.ID, entry.ID)
	require.NoError(t, err)
	assert.Len(t, got.Messages, 2)

	_, err = svc.Get(ctx, user.ID, bot.ID, entry.ID+1)
	assert.ErrorIs(t, err, ErrChatLogNotFound)

	stranger := h.owner(t, testutil.GrantOptions{Chatbots: 1})
	_, err = svc.List(ctx, stranger.ID, bot.ID)
	assert.ErrorIs(t, err, ErrChatbotNotFound)

	_, err = svc.Search(ctx, user.ID, bot.ID, "q")
	assert.EqualError(t, err, "Chat log search is not enabled")
}

func TestChatLogSearchScopesToChatbot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := h.owner(t, testutil.GrantOptions{Chatbots: 2})
	bot := testutil.SeedChatbot(t, h.db, user.ID, "asst_a", "gpt-4o-mini")
	index := &memoryIndex{docs: []model.ExchangeDocument{
		{ExchangeID: "e1", ChatbotID: bot.ID, Question: "refund?"},
		{ExchangeID: "e2", ChatbotID: bot.ID + 1, Question: "refund?"},
	}}
	svc := NewChatLogService(h.chatbots, h.chatLogs, index)

	docs, err := svc.Search(ctx, user.ID, bot.ID, " refund ")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "e1", docs[0].ExchangeID)

	_, err = svc.Search(ctx, user.ID, bot.ID, "  ")
	assert.Equal(t, KindPrecondition, KindOf(err))
}
