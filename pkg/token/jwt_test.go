package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndVerify(t *testing.T) {
	m := NewJWTManager("secret", 1)
	tok, err := m.GenerateToken(42, "owner@example.com")
	require.NoError(t, err)

	claims, err := m.VerifyToken(tok)
	require.NoError(t, err)
	assert.Equal(t, uint(42), claims.UserID)
	assert.Equal(t, "owner@example.com", claims.Email)
	assert.Equal(t, "42", claims.Subject)
}

func TestVerifyRejectsExpiredAndForeignTokens(t *testing.T) {
	m := NewJWTManager("secret", 1)
	tok, err := m.GenerateToken(1, "a@example.com")
	require.NoError(t, err)

	m.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = m.VerifyToken(tok)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	other := NewJWTManager("other-secret", 1)
	_, err = other.VerifyToken(tok)
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)
}
