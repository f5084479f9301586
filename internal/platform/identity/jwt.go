// Package identity contains the JWT implementation of the fabric's identity
// verifier.
package identity

import (
	"context"
	"fmt"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// JWTVerifier implements fabric.IdentityVerifier for HMAC-signed tokens
// issued by the credential service. The token's subject claim is the
// verified user identifier.
type JWTVerifier struct {
	secret []byte
	issuer string
}

// NewJWTVerifier is the constructor for the verifier. Issuer is optional;
// when set, tokens from any other issuer are rejected.
func NewJWTVerifier(secret []byte, issuer string) (*JWTVerifier, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("jwt secret cannot be empty")
	}
	return &JWTVerifier{secret: secret, issuer: issuer}, nil
}

// Verify parses and validates the token, returning the subject claim.
func (v *JWTVerifier) Verify(ctx context.Context, token string) (string, error) {
	opts := []jwt.ParseOption{
		jwt.WithContext(ctx),
		jwt.WithKey(jwa.HS256, v.secret),
		jwt.WithValidate(true),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	parsed, err := jwt.Parse([]byte(token), opts...)
	if err != nil {
		return "", fmt.Errorf("token validation failed: %w", err)
	}

	subject := parsed.Subject()
	if subject == "" {
		return "", fmt.Errorf("token carries no subject claim")
	}
	return subject, nil
}
