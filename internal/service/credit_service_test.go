package service

import (
	"context"
	"testing"
	"time"

	"chatfabrica-go/internal/testutil"
	"chatfabrica-go/pkg/mailer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReserveAndConsumeKeepsLedgerBalanced(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := h.owner(t, testutil.GrantOptions{Credits: 100})
	credits := h.creditService()

	for i := 0; i < 5; i++ {
		_, err := credits.ReserveAndConsume(ctx, user.ID, 3)
		require.NoError(t, err)
	}

	remaining, err := credits.RemainingCredits(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 85, remaining)
	assert.Equal(t, 85, h.reloadUser(t, user.ID).CustomMessageCredits)
	assert.Empty(t, h.dispatcher.emails(t))
}

func TestReserveAndConsumeInsufficientCredit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := h.owner(t, testutil.GrantOptions{Credits: 2})
	credits := h.creditService()

	_, err := credits.ReserveAndConsume(ctx, user.ID, 5)
	assert.ErrorIs(t, err, ErrInsufficientCredit)
	assert.Equal(t, KindInsufficientCredit, KindOf(err))

	remaining, err := credits.RemainingCredits(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, remaining)
}

func TestReserveAndConsumeSpillsIntoLaterGrant(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := h.owner(t, testutil.GrantOptions{Credits: 2, ExpiresIn: 24 * time.Hour})
	testutil.SeedGrant(t, h.db, user.ID, testutil.GrantOptions{Extra: true, Credits: 10, ExpiresIn: 72 * time.Hour})
	credits := h.creditService()

	_, err := credits.ReserveAndConsume(ctx, user.ID, 5)
	require.NoError(t, err)

	grants, err := h.grants.ListActive(ctx, user.ID, time.Now())
	require.NoError(t, err)
	require.Len(t, grants, 2)
	assert.Equal(t, 0, grants[0].CurrentMessageCredits)
	assert.Equal(t, 7, grants[1].CurrentMessageCredits)
}

func TestCreditThresholdMailsFireOncePerLevel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := h.owner(t, testutil.GrantOptions{Credits: 10})
	credits := h.creditService()

	// 剩余 2/10 -> 80%，1/10 -> 90%，0 -> 用完
	for _, cost := range []int{8, 1, 1} {
		_, err := credits.ReserveAndConsume(ctx, user.ID, cost)
		require.NoError(t, err)
	}
	_, err := credits.ReserveAndConsume(ctx, user.ID, 1)
	assert.ErrorIs(t, err, ErrInsufficientCredit)

	mails := h.dispatcher.emails(t)
	require.Len(t, mails, 3)
	assert.Equal(t, mailer.TemplateCreditWarning, mails[0].Template)
	assert.Equal(t, "80", mails[0].Data["percent"])
	assert.Equal(t, mailer.TemplateCreditWarning, mails[1].Template)
	assert.Equal(t, "90", mails[1].Data["percent"])
	assert.Equal(t, mailer.TemplateCreditOver, mails[2].Template)
	for _, m := range mails {
		assert.Equal(t, user.Email, m.To)
	}

	u := h.reloadUser(t, user.ID)
	assert.True(t, u.EightyPercentMail)
	assert.True(t, u.NinetyPercentMail)
	assert.True(t, u.CreditOverMail)
}

func TestCreditWarningNotRepeated(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := h.owner(t, testutil.GrantOptions{Credits: 100})
	credits := h.creditService()

	_, err := credits.ReserveAndConsume(ctx, user.ID, 81)
	require.NoError(t, err)
	_, err = credits.ReserveAndConsume(ctx, user.ID, 1)
	require.NoError(t, err)

	mails := h.dispatcher.emails(t)
	require.Len(t, mails, 1)
	assert.Equal(t, "80", mails[0].Data["percent"])
}
