package repository

import (
	"context"
	"testing"

	"chatfabrica-go/internal/model"
	"chatfabrica-go/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOwnerReferencesSkipsCurrentChatbotAndStrangers(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	owner := testutil.SeedUser(t, db, "owner@example.com", 0, "")
	stranger := testutil.SeedUser(t, db, "stranger@example.com", 0, "")
	repo := NewChatbotRepository(db)

	current := testutil.SeedChatbot(t, db, owner.ID, "asst_1", "gpt-4o-mini")
	current.SetFiles([]model.KnowledgeFile{{ID: "file_own", Name: "own.pdf"}})
	require.NoError(t, repo.SaveCatalog(ctx, current))

	sibling := testutil.SeedChatbot(t, db, owner.ID, "asst_2", "gpt-4o-mini")
	sibling.SetFiles([]model.KnowledgeFile{{ID: "file_shared", Name: "shared.pdf"}})
	sibling.MergeLinks([]model.TrainingData{{URL: "https://example.com", FileID: "file_link"}})
	require.NoError(t, repo.SaveCatalog(ctx, sibling))

	other := testutil.SeedChatbot(t, db, stranger.ID, "asst_3", "gpt-4o-mini")
	other.SetFiles([]model.KnowledgeFile{{ID: "file_foreign", Name: "foreign.pdf"}})
	require.NoError(t, repo.SaveCatalog(ctx, other))

	refs, err := repo.OwnerReferences(ctx, owner.ID, current.ID,
		[]string{"file_own", "file_shared", "file_link", "file_foreign", "staged"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"file_shared": true, "file_link": true}, refs)
}
