// ABOUTME: Tests for the identity gate
// ABOUTME: Covers credential round-trips, bad signatures, and missing claims

package identity

import (
	"context"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignedCredentialGate_RoundTrip(t *testing.T) {
	gate, err := NewSignedCredentialGate([]byte("identity-secret"))
	require.NoError(t, err)

	credential, err := gate.Issue(&Identity{
		ExternalID: "ext-123",
		Email:      "alice@example.com",
		GivenName:  "Alice",
		FamilyName: "Example",
		Picture:    "https://example.com/alice.png",
	})
	require.NoError(t, err)

	id, err := gate.Verify(context.Background(), credential)
	require.NoError(t, err)
	assert.Equal(t, "ext-123", id.ExternalID)
	assert.Equal(t, "alice@example.com", id.Email)
	assert.Equal(t, "Alice", id.GivenName)
	assert.Equal(t, "Example", id.FamilyName)
}

func TestSignedCredentialGate_WrongSecret(t *testing.T) {
	gate, err := NewSignedCredentialGate([]byte("identity-secret"))
	require.NoError(t, err)
	other, err := NewSignedCredentialGate([]byte("other-secret"))
	require.NoError(t, err)

	credential, err := other.Issue(&Identity{ExternalID: "ext-123"})
	require.NoError(t, err)

	_, err = gate.Verify(context.Background(), credential)
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestSignedCredentialGate_MissingSub(t *testing.T) {
	gate, err := NewSignedCredentialGate([]byte("identity-secret"))
	require.NoError(t, err)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"email": "x@example.com"})
	credential, err := token.SignedString([]byte("identity-secret"))
	require.NoError(t, err)

	_, err = gate.Verify(context.Background(), credential)
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestSignedCredentialGate_Garbage(t *testing.T) {
	gate, err := NewSignedCredentialGate([]byte("identity-secret"))
	require.NoError(t, err)

	_, err = gate.Verify(context.Background(), "not-a-credential")
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestNewSignedCredentialGate_EmptySecret(t *testing.T) {
	_, err := NewSignedCredentialGate(nil)
	assert.Error(t, err)
}
