package jwttoken

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "capbridge/pkg/domain-errors"
)

func TestGenerateAndValidateToken(t *testing.T) {
	svc := NewService("test-signing-key", "capbridge", "advisors")

	token, err := svc.GenerateAccessToken("advisor-7", "client-1", time.Hour)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "advisor-7", claims.AdvisorID)
	assert.Equal(t, "client-1", claims.ClientID)
	assert.Equal(t, "capbridge", claims.Issuer)
}

func TestValidateTokenExpired(t *testing.T) {
	svc := NewService("test-signing-key", "capbridge", "advisors")

	token, err := svc.GenerateAccessToken("advisor-7", "client-1", -time.Minute)
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeUnauthorized))
	assert.Contains(t, err.Error(), "expired")
}

func TestValidateTokenWrongKey(t *testing.T) {
	issuer := NewService("key-a", "capbridge", "advisors")
	verifier := NewService("key-b", "capbridge", "advisors")

	token, err := issuer.GenerateAccessToken("advisor-7", "client-1", time.Hour)
	require.NoError(t, err)

	_, err = verifier.ValidateToken(token)
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeUnauthorized))
}

func TestValidateTokenWrongIssuer(t *testing.T) {
	issuer := NewService("test-signing-key", "someone-else", "advisors")
	verifier := NewService("test-signing-key", "capbridge", "advisors")

	token, err := issuer.GenerateAccessToken("advisor-7", "client-1", time.Hour)
	require.NoError(t, err)

	_, err = verifier.ValidateToken(token)
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeUnauthorized))
}

func TestValidateTokenWrongAudience(t *testing.T) {
	issuer := NewService("test-signing-key", "capbridge", "someone-else")
	verifier := NewService("test-signing-key", "capbridge", "advisors")

	token, err := issuer.GenerateAccessToken("advisor-7", "client-1", time.Hour)
	require.NoError(t, err)

	_, err = verifier.ValidateToken(token)
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeUnauthorized))
}

func TestValidateTokenGarbage(t *testing.T) {
	svc := NewService("test-signing-key", "capbridge", "advisors")

	_, err := svc.ValidateToken("not-a-jwt")
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeUnauthorized))
}
