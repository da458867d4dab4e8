package repository

import (
	"context"
	"testing"
	"time"

	"chatfabrica-go/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsumeCreditsSoonestExpiringFirst(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	user := testutil.SeedUser(t, db, "a@example.com", 30, "")
	late := testutil.SeedGrant(t, db, user.ID, testutil.GrantOptions{Credits: 20, ExpiresIn: 60 * 24 * time.Hour})
	soon := testutil.SeedGrant(t, db, user.ID, testutil.GrantOptions{Credits: 10, ExpiresIn: 24 * time.Hour})
	repo := NewPlanGrantRepository(db)

	first, err := repo.ConsumeCredits(ctx, user.ID, 4, time.Now())
	require.NoError(t, err)
	assert.Equal(t, soon.ID, first)

	grants, err := repo.ListActive(ctx, user.ID, time.Now())
	require.NoError(t, err)
	require.Len(t, grants, 2)
	assert.Equal(t, soon.ID, grants[0].ID)
	assert.Equal(t, 6, grants[0].CurrentMessageCredits)
	assert.Equal(t, late.ID, grants[1].ID)
	assert.Equal(t, 20, grants[1].CurrentMessageCredits)
}

func TestConsumeCreditsSpillsAcrossGrants(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	user := testutil.SeedUser(t, db, "a@example.com", 15, "")
	testutil.SeedGrant(t, db, user.ID, testutil.GrantOptions{Credits: 5, ExpiresIn: 24 * time.Hour})
	testutil.SeedGrant(t, db, user.ID, testutil.GrantOptions{Credits: 10, ExpiresIn: 48 * time.Hour})
	repo := NewPlanGrantRepository(db)

	_, err := repo.ConsumeCredits(ctx, user.ID, 10, time.Now())
	require.NoError(t, err)

	total, err := repo.SumActiveCredits(ctx, user.ID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 5, total)

	u, err := NewUserRepository(db).FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, u.CustomMessageCredits)
}

func TestConsumeCreditsInsufficientLeavesGrantsUntouched(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	user := testutil.SeedUser(t, db, "a@example.com", 5, "")
	testutil.SeedGrant(t, db, user.ID, testutil.GrantOptions{Credits: 5})
	repo := NewPlanGrantRepository(db)

	_, err := repo.ConsumeCredits(ctx, user.ID, 10, time.Now())
	assert.ErrorIs(t, err, ErrInsufficientCredit)

	total, err := repo.SumActiveCredits(ctx, user.ID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	u, err := NewUserRepository(db).FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, u.CustomMessageCredits)
}

func TestExpiredGrantsAreSkipped(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	user := testutil.SeedUser(t, db, "a@example.com", 100, "")
	testutil.SeedGrant(t, db, user.ID, testutil.GrantOptions{Credits: 100, ExpiresIn: -time.Hour})
	repo := NewPlanGrantRepository(db)

	total, err := repo.SumActiveCredits(ctx, user.ID, time.Now())
	require.NoError(t, err)
	assert.Zero(t, total)

	_, err = repo.ConsumeCredits(ctx, user.ID, 1, time.Now())
	assert.ErrorIs(t, err, ErrInsufficientCredit)
}

func TestLatestBaseGrantIgnoresExtraPackets(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	user := testutil.SeedUser(t, db, "a@example.com", 0, "")
	base := testutil.SeedGrant(t, db, user.ID, testutil.GrantOptions{Free: true, Characters: 400000})
	testutil.SeedGrant(t, db, user.ID, testutil.GrantOptions{Extra: true, Characters: 1})
	repo := NewPlanGrantRepository(db)

	got, err := repo.LatestBaseGrant(ctx, user.ID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, base.ID, got.ID)
	assert.True(t, got.IsFree())
	assert.Equal(t, 400000, got.InitialCharactersPerChatbot)
}

func TestChatbotSlots(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	user := testutil.SeedUser(t, db, "a@example.com", 0, "")
	grant := testutil.SeedGrant(t, db, user.ID, testutil.GrantOptions{Chatbots: 1})
	repo := NewPlanGrantRepository(db)

	id, err := repo.TakeChatbotSlot(ctx, user.ID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, grant.ID, id)

	_, err = repo.TakeChatbotSlot(ctx, user.ID, time.Now())
	assert.ErrorIs(t, err, ErrNoChatbotSlot)

	require.NoError(t, repo.ReturnChatbotSlot(ctx, user.ID))
	require.NoError(t, repo.ReturnChatbotSlot(ctx, user.ID), "returning past the initial count is a no-op")

	grants, err := repo.ListActive(ctx, user.ID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, grants[0].CurrentChatbotCount)
}

func TestExpiredFreeGrantsRefill(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	user := testutil.SeedUser(t, db, "a@example.com", 0, "")
	expired := testutil.SeedGrant(t, db, user.ID, testutil.GrantOptions{Free: true, Credits: 100, ExpiresIn: -time.Hour})
	testutil.SeedGrant(t, db, user.ID, testutil.GrantOptions{Free: false, Credits: 100, ExpiresIn: -time.Hour})
	repo := NewPlanGrantRepository(db)

	grants, err := repo.ListExpiredFree(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, expired.ID, grants[0].ID)

	require.NoError(t, repo.Refill(ctx, expired.ID, 100, time.Now().Add(time.Hour)))
	total, err := repo.SumActiveCredits(ctx, user.ID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 100, total)
}

func TestMarkNotifiedFiresOnce(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	user := testutil.SeedUser(t, db, "a@example.com", 0, "")
	repo := NewUserRepository(db)

	ok, err := repo.MarkNotified(ctx, user.ID, FlagCreditOver)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.MarkNotified(ctx, user.ID, FlagCreditOver)
	require.NoError(t, err)
	assert.False(t, ok)

	u, err := repo.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, u.CreditOverMail)
	assert.False(t, u.EightyPercentMail)
}
