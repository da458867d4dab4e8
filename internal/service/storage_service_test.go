package service

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"chatfabrica-go/internal/config"
	"chatfabrica-go/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	objects map[string]string
}

func (m *memoryStore) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.objects[key] = string(b)
	return nil
}

func (m *memoryStore) Remove(_ context.Context, key string) error {
	delete(m.objects, key)
	return nil
}

func (m *memoryStore) PresignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://cdn.example.com/" + key, nil
}

func TestUploadIconReplacesPrevious(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := h.owner(t, testutil.GrantOptions{Chatbots: 1})
	bot := testutil.SeedChatbot(t, h.db, user.ID, "asst_seed", "gpt-4o-mini")
	store := &memoryStore{objects: map[string]string{}}
	svc := NewStorageService(h.chatbots, store)

	_, err := svc.UploadIcon(ctx, user.ID, bot.ID, "icon.txt", strings.NewReader("x"), 1, "text/plain")
	assert.Equal(t, KindPrecondition, KindOf(err))
	_, err = svc.UploadIcon(ctx, user.ID, bot.ID, "icon.png", strings.NewReader("x"), maxIconSize+1, "image/png")
	assert.Equal(t, KindPrecondition, KindOf(err))

	first, err := svc.UploadIcon(ctx, user.ID, bot.ID, "icon.PNG", strings.NewReader("one"), 3, "image/png")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(first, ".png"))
	firstKey := h.reloadBot(t, bot.ID).IconKey

	_, err = svc.UploadIcon(ctx, user.ID, bot.ID, "icon.png", strings.NewReader("two"), 3, "image/png")
	require.NoError(t, err)
	secondKey := h.reloadBot(t, bot.ID).IconKey
	assert.NotEqual(t, firstKey, secondKey)
	assert.NotContains(t, store.objects, firstKey)
	assert.Equal(t, "two", store.objects[secondKey])

	view, err := NewChatbotService(h.users, h.grants, h.chatbots, h.chatLogs, h.gateway, h.dispatcher, nil, store, config.Default().OpenAI, h.creditTable).Get(ctx, user.ID, bot.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/"+secondKey, view.IconURL)

	require.NoError(t, svc.RemoveIcon(ctx, user.ID, bot.ID))
	assert.Empty(t, store.objects)
	assert.Empty(t, h.reloadBot(t, bot.ID).IconKey)
}
