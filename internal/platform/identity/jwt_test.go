package identity

import (
	"context"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret-key")

func signToken(t *testing.T, builder *jwt.Builder, secret []byte) string {
	t.Helper()
	tok, err := builder.Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, secret))
	require.NoError(t, err)
	return string(signed)
}

func TestJWTVerifier_ValidToken(t *testing.T) {
	verifier, err := NewJWTVerifier(testSecret, "chat-fabric")
	require.NoError(t, err)

	token := signToken(t, jwt.NewBuilder().
		Subject("user-7").
		Issuer("chat-fabric").
		IssuedAt(time.Now()).
		Expiration(time.Now().Add(time.Hour)),
		testSecret)

	subject, err := verifier.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-7", subject)
}

func TestJWTVerifier_RejectsWrongKey(t *testing.T) {
	verifier, err := NewJWTVerifier(testSecret, "")
	require.NoError(t, err)

	token := signToken(t, jwt.NewBuilder().
		Subject("user-7").
		Expiration(time.Now().Add(time.Hour)),
		[]byte("some-other-key"))

	_, err = verifier.Verify(context.Background(), token)
	assert.Error(t, err)
}

func TestJWTVerifier_RejectsExpiredToken(t *testing.T) {
	verifier, err := NewJWTVerifier(testSecret, "")
	require.NoError(t, err)

	token := signToken(t, jwt.NewBuilder().
		Subject("user-7").
		Expiration(time.Now().Add(-time.Minute)),
		testSecret)

	_, err = verifier.Verify(context.Background(), token)
	assert.Error(t, err)
}

func TestJWTVerifier_RejectsWrongIssuer(t *testing.T) {
	verifier, err := NewJWTVerifier(testSecret, "chat-fabric")
	require.NoError(t, err)

	token := signToken(t, jwt.NewBuilder().
		Subject("user-7").
		Issuer("someone-else").
		Expiration(time.Now().Add(time.Hour)),
		testSecret)

	_, err = verifier.Verify(context.Background(), token)
	assert.Error(t, err)
}

func TestJWTVerifier_RejectsMissingSubject(t *testing.T) {
	verifier, err := NewJWTVerifier(testSecret, "")
	require.NoError(t, err)

	token := signToken(t, jwt.NewBuilder().
		Expiration(time.Now().Add(time.Hour)),
		testSecret)

	_, err = verifier.Verify(context.Background(), token)
	assert.Error(t, err)
}

func TestJWTVerifier_GarbageToken(t *testing.T) {
	verifier, err := NewJWTVerifier(testSecret, "")
	require.NoError(t, err)

	_, err = verifier.Verify(context.Background(), "not-a-jwt")
	assert.Error(t, err)
}

func TestNewJWTVerifier_EmptySecretRejected(t *testing.T) {
	_, err := NewJWTVerifier(nil, "")
	assert.Error(t, err)
}
