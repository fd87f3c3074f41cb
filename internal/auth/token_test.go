package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(ttl time.Duration) *Service {
	return NewService("test-secret", ttl)
}

func TestIssueAndVerify(t *testing.T) {
	svc := newTestService(7 * 24 * time.Hour)

	token, expiresAt, err := svc.Issue("gw-1", 42, 7)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(7*24*time.Hour), expiresAt, time.Minute)

	claims, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "gw-1", claims.GatewayID)
	assert.Equal(t, int64(42), claims.UserID)
	assert.Equal(t, int64(7), claims.TenantID)
	assert.Equal(t, TokenTypeGateway, claims.Type)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	svc := newTestService(time.Hour)
	other := NewService("different-secret", time.Hour)

	token, _, err := svc.Issue("gw-1", 1, 1)
	require.NoError(t, err)

	_, err = other.Verify(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyRejectsWrongType(t *testing.T) {
	// A signature-valid token whose type claim is not "gateway" must be
	// rejected to prevent cross-purpose token reuse.
	svc := newTestService(time.Hour)

	claims := Claims{
		GatewayID: "gw-1",
		UserID:    1,
		Type:      "session",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = svc.Verify(signed)
	assert.ErrorIs(t, err, ErrWrongType)
}

func TestVerifyRejectsExpired(t *testing.T) {
	svc := newTestService(time.Hour)
	token, _, err := svc.Issue("gw-1", 1, 1)
	require.NoError(t, err)

	// Move the service clock past the expiry.
	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	_, err = svc.Verify(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestRefresh(t *testing.T) {
	svc := newTestService(time.Hour)
	token, _, err := svc.Issue("gw-1", 42, 7)
	require.NoError(t, err)

	fresh, _, err := svc.Refresh(token)
	require.NoError(t, err)

	claims, err := svc.Verify(fresh)
	require.NoError(t, err)
	assert.Equal(t, "gw-1", claims.GatewayID)
	assert.Equal(t, int64(42), claims.UserID)
}

func TestRefreshRejectsExpiredToken(t *testing.T) {
	svc := newTestService(time.Hour)
	token, _, err := svc.Issue("gw-1", 1, 1)
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	_, _, err = svc.Refresh(token)
	assert.ErrorIs(t, err, ErrTokenExpired)

	_, _, err = svc.Refresh("not-a-token")
	assert.ErrorIs(t, err, ErrTokenInvalid)
}
