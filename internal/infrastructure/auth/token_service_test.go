package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"servicegate/internal/domain"
)

func newTestService(t *testing.T) *TokenService {
	t.Helper()
	svc, err := NewTokenService([]byte("shared-secret"), "servicegate")
	require.NoError(t, err)
	return svc
}

func TestIssueValidate_RoundTrip(t *testing.T) {
	svc := newTestService(t)

	token, err := svc.Issue("alice", "alice@example.com", []string{"gateway", "files"}, time.Hour)
	require.NoError(t, err)

	claims, err := svc.Validate(token, "files")
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.SubjectID)
	assert.Equal(t, "alice@example.com", claims.Email)
	assert.Equal(t, []string{"gateway", "files"}, claims.Audiences)
	assert.Equal(t, "servicegate", claims.Issuer)
	assert.True(t, claims.ExpiresAt.After(time.Now()))
}

func TestValidate_AudienceMembership(t *testing.T) {
	svc := newTestService(t)

	token, err := svc.Issue("alice", "alice@example.com", []string{"gateway", "serviceA"}, time.Hour)
	require.NoError(t, err)

	_, err = svc.Validate(token, "serviceA")
	require.NoError(t, err)

	_, err = svc.Validate(token, "serviceB")
	assert.ErrorIs(t, err, domain.ErrInvalidAudience)
}

func TestValidate_Expired(t *testing.T) {
	svc := newTestService(t)

	token, err := svc.Issue("alice", "alice@example.com", []string{"gateway"}, time.Millisecond)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	_, err = svc.Validate(token, "gateway")
	assert.ErrorIs(t, err, domain.ErrTokenExpired)
}

func TestValidate_WrongSecretIsSignatureError(t *testing.T) {
	svc := newTestService(t)
	other, err := NewTokenService([]byte("different-secret"), "servicegate")
	require.NoError(t, err)

	token, err := other.Issue("alice", "alice@example.com", []string{"gateway"}, time.Hour)
	require.NoError(t, err)

	_, err = svc.Validate(token, "gateway")
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestValidate_Malformed(t *testing.T) {
	svc := newTestService(t)

	for _, token := range []string{"", "garbage", "a.b.c"} {
		_, err := svc.Validate(token, "gateway")
		assert.ErrorIs(t, err, domain.ErrMalformedToken, "token %q", token)
	}
}

func TestIssue_InvalidInput(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Issue("", "alice@example.com", []string{"gateway"}, time.Hour)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = svc.Issue("alice", "alice@example.com", nil, time.Hour)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = svc.Issue("alice", "alice@example.com", []string{"gateway"}, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
