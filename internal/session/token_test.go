package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenIssuerRoundTrip(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-secret"), time.Hour)
	identity, err := NewIdentity()
	require.NoError(t, err)

	token, err := issuer.Issue(identity)
	require.NoError(t, err)

	verified, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, identity, verified)
}

func TestTokenIssuerRejectsWrongSecret(t *testing.T) {
	issuer := NewTokenIssuer([]byte("secret-a"), time.Hour)
	identity, err := NewIdentity()
	require.NoError(t, err)
	token, err := issuer.Issue(identity)
	require.NoError(t, err)

	other := NewTokenIssuer([]byte("secret-b"), time.Hour)
	_, err = other.Verify(token)
	assert.Error(t, err)
}

func TestTokenIssuerRejectsExpiredToken(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-secret"), -time.Second)
	identity, err := NewIdentity()
	require.NoError(t, err)
	token, err := issuer.Issue(identity)
	require.NoError(t, err)

	_, err = issuer.Verify(token)
	assert.Error(t, err)
}

func TestNewIdentityAndConnectionIDAreNonZero(t *testing.T) {
	id, err := NewIdentity()
	require.NoError(t, err)
	assert.False(t, id.IsZero())

	conn, err := NewConnectionID()
	require.NoError(t, err)
	assert.False(t, conn.IsZero())
}
