package service

import (
	"context"
	"testing"
	"time"

	"chatfabrica-go/internal/model"
	"chatfabrica-go/internal/testutil"
	"chatfabrica-go/pkg/tasks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateChatbotTakesSlot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := h.owner(t, testutil.GrantOptions{Free: true, Credits: 10, Chatbots: 1, Characters: 1000})
	svc := h.chatbotService()

	view, err := svc.Create(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Untitled 1", view.Name)
	assert.Equal(t, model.VisibilityPrivate, view.Visibility)
	assert.Contains(t, h.llm.assistants, view.AssistantID)
	assert.NotNil(t, view.Files)

	grants, err := h.grants.ListActive(ctx, user.ID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, grants[0].CurrentChatbotCount)
	assert.Len(t, h.dispatcher.ofType(tasks.TypeTrackUsage), 1)

	_, err = svc.Create(ctx, user.ID)
	assert.ErrorIs(t, err, ErrChatbotLimit)
	assert.Len(t, h.llm.assistants, 1, "no assistant is created past the limit")

	bots, err := svc.List(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, bots, 1)
}

func TestCreateChatbotRequiresAPIKey(t *testing.T) {
	h := newHarness(t)
	user := testutil.SeedUser(t, h.db, "nokey@example.com", 0, "")
	testutil.SeedGrant(t, h.db, user.ID, testutil.GrantOptions{Chatbots: 1})

	_, err := h.chatbotService().Create(context.Background(), user.ID)
	assert.ErrorIs(t, err, ErrAPIKeyRequired)
	assert.Equal(t, KindPrecondition, KindOf(err))
}

func TestDeleteChatbotReturnsSlotAndCleansUp(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := h.owner(t, testutil.GrantOptions{Free: true, Chatbots: 1, Characters: 1000})
	svc := h.chatbotService()

	view, err := svc.Create(ctx, user.ID)
	require.NoError(t, err)
	_, err = h.trainingService().Train(ctx, user.ID, TrainRequest{ChatbotID: view.ID, Text: strPtr("notes")})
	require.NoError(t, err)
	textDoc := h.reloadBot(t, view.ID).Text.DocumentID
	_, _, err = h.chatLogs.AppendExchange(ctx, "thread_1", view.ID, []model.ChatLogMessage{{Role: model.RoleUser, Content: "q"}})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, user.ID, view.ID))

	assert.NotContains(t, h.llm.assistants, view.AssistantID)
	assert.Contains(t, h.llm.deleted, textDoc)
	logs, err := h.chatLogs.ListByChatbot(ctx, view.ID)
	require.NoError(t, err)
	assert.Empty(t, logs)
	_, err = svc.Get(ctx, user.ID, view.ID)
	assert.ErrorIs(t, err, ErrChatbotNotFound)

	grants, err := h.grants.ListActive(ctx, user.ID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, grants[0].CurrentChatbotCount)

	_, err = svc.Create(ctx, user.ID)
	require.NoError(t, err, "returned slot can be used again")
}

func TestUpdateChatbot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := h.owner(t, testutil.GrantOptions{Chatbots: 1})
	bot := testutil.SeedChatbot(t, h.db, user.ID, "asst_seed", "gpt-4o-mini")
	svc := h.chatbotService()

	temp := 3.0
	_, err := svc.Update(ctx, user.ID, bot.ID, ChatbotUpdate{Temperature: &temp})
	assert.Equal(t, KindPrecondition, KindOf(err))
	_, err = svc.Update(ctx, user.ID, bot.ID, ChatbotUpdate{Model: strPtr("gpt-unknown")})
	assert.Equal(t, KindPrecondition, KindOf(err))
	_, err = svc.Update(ctx, user.ID, bot.ID, ChatbotUpdate{Name: strPtr("  ")})
	assert.Equal(t, KindPrecondition, KindOf(err))
	assert.Empty(t, h.llm.updates)

	view, err := svc.Update(ctx, user.ID, bot.ID, ChatbotUpdate{Name: strPtr("Support bot"), Visibility: strPtr(model.VisibilityPublic)})
	require.NoError(t, err)
	assert.Equal(t, "Support bot", view.Name)
	require.Len(t, h.llm.updates, 1)
	assert.Equal(t, "Support bot", *h.llm.updates[0].Name)

	_, err = svc.Update(ctx, user.ID, bot.ID, ChatbotUpdate{Visibility: strPtr(model.VisibilityPrivate)})
	require.NoError(t, err)
	assert.Len(t, h.llm.updates, 1, "visibility alone does not touch the assistant")

	_, err = svc.Update(ctx, user.ID, bot.ID, ChatbotUpdate{Model: strPtr(" GPT-4o ")})
	require.NoError(t, err)
	require.Len(t, h.llm.updates, 2)
	assert.Equal(t, "gpt-4o", *h.llm.updates[1].Model)

	saved := h.reloadBot(t, bot.ID)
	assert.Equal(t, "gpt-4o", saved.Model)
	assert.Equal(t, "Support bot", saved.Name)
	assert.Equal(t, model.VisibilityPrivate, saved.Visibility)

	public, err := svc.GetPublic(ctx, bot.ID)
	require.NoError(t, err)
	assert.Equal(t, "Support bot", public.Name)

	other := h.owner(t, testutil.GrantOptions{Chatbots: 1})
	_, err = svc.Update(ctx, other.ID, bot.ID, ChatbotUpdate{Name: strPtr("stolen")})
	assert.ErrorIs(t, err, ErrChatbotNotFound)
}
