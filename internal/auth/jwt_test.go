package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssuerRoundTrip(t *testing.T) {
	issuer, err := NewIssuer("s3cret")
	require.NoError(t, err)

	now := time.Now()
	signed, err := issuer.Issue(42, "session-1", now, now.Add(time.Hour))
	require.NoError(t, err)

	claims, err := issuer.Parse(signed)
	require.NoError(t, err)
	id, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.Equal(t, "session-1", claims.ID)
}

func TestIssuerRejectsExpired(t *testing.T) {
	issuer, err := NewIssuer("s3cret")
	require.NoError(t, err)
	past := time.Now().Add(-2 * time.Hour)
	signed, err := issuer.Issue(1, "s", past, past.Add(time.Hour))
	require.NoError(t, err)
	_, err = issuer.Parse(signed)
	assert.Error(t, err)
}

func TestNewIssuerRequiresSecret(t *testing.T) {
	_, err := NewIssuer("")
	assert.Error(t, err)
}

func TestCheckPassword(t *testing.T) {
	hash, err := HashPassword("password1")
	require.NoError(t, err)
	ok, err := CheckPassword(hash, "password1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = CheckPassword(hash, "password2")
	require.NoError(t, err)
	assert.False(t, ok)
}
