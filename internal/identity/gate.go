// ABOUTME: IdentityGate boundary — verifies external login credentials into identities
// ABOUTME: Default implementation checks HS256-signed credentials from the identity provider

package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidCredential is returned when a credential fails verification.
var ErrInvalidCredential = errors.New("invalid credential")

// Identity is the verified external identity carried by a login credential.
type Identity struct {
	ExternalID string
	Email      string
	GivenName  string
	FamilyName string
	Picture    string
}

// Gate resolves an opaque external credential to a verified identity.
// Implementations wrap whatever identity provider the deployment uses;
// the gateway only depends on this boundary.
type Gate interface {
	Verify(ctx context.Context, credential string) (*Identity, error)
}

// SignedCredentialGate verifies HS256-signed credentials issued by the
// identity provider. The credential's "sub" claim is the external id;
// profile claims are optional.
type SignedCredentialGate struct {
	secret []byte
}

// NewSignedCredentialGate creates a gate that verifies credentials signed
// with the given shared secret.
func NewSignedCredentialGate(secret []byte) (*SignedCredentialGate, error) {
	if len(secret) == 0 {
		return nil, errors.New("identity secret must not be empty")
	}
	return &SignedCredentialGate{secret: secret}, nil
}

// Verify validates the credential signature and extracts the identity.
func (g *SignedCredentialGate) Verify(_ context.Context, credential string) (*Identity, error) {
	token, err := jwt.Parse(credential, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return g.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidCredential
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidCredential
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return nil, fmt.Errorf("%w: missing sub claim", ErrInvalidCredential)
	}

	return &Identity{
		ExternalID: sub,
		Email:      stringClaim(claims, "email"),
		GivenName:  stringClaim(claims, "given_name"),
		FamilyName: stringClaim(claims, "family_name"),
		Picture:    stringClaim(claims, "picture"),
	}, nil
}

// Issue signs a credential for the given identity. Used by tests and local
// tooling; a real deployment gets credentials from its identity provider.
func (g *SignedCredentialGate) Issue(id *Identity) (string, error) {
	claims := jwt.MapClaims{
		"sub":         id.ExternalID,
		"email":       id.Email,
		"given_name":  id.GivenName,
		"family_name": id.FamilyName,
		"picture":     id.Picture,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(g.secret)
}

func stringClaim(claims jwt.MapClaims, key string) string {
	s, _ := claims[key].(string)
	return s
}
