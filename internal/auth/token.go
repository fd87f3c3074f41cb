package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenTypeGateway is the only token type this service mints. Verify rejects
// anything else even when the signature is valid, so a token issued for some
// other purpose can never authenticate a gateway.
const TokenTypeGateway = "gateway"

var (
	ErrTokenInvalid = errors.New("token is invalid")
	ErrTokenExpired = errors.New("token is expired")
	ErrWrongType    = errors.New("token is not a gateway token")
)

// Claims carried by a gateway credential.
type Claims struct {
	GatewayID string `json:"gatewayId"`
	UserID    int64  `json:"userId"`
	TenantID  int64  `json:"tenantId"`
	Type      string `json:"type"`
	jwt.RegisteredClaims
}

// Service issues and verifies signed gateway credentials.
type Service struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewService creates a credential service. ttl is the validity window of
// every issued token (7 days in production configuration).
func NewService(secret string, ttl time.Duration) *Service {
	return &Service{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue mints a fresh credential binding gatewayID to the given user/tenant.
func (s *Service) Issue(gatewayID string, userID, tenantID int64) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.ttl)
	claims := Claims{
		GatewayID: gatewayID,
		UserID:    userID,
		TenantID:  tenantID,
		Type:      TokenTypeGateway,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify parses and validates a credential and returns its claims.
func (s *Service) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Type != TokenTypeGateway {
		return nil, ErrWrongType
	}
	return claims, nil
}

// Refresh issues a new token with the same identity claims and a fresh
// expiry. The old token must still verify: an expired or malformed token
// cannot be refreshed and the caller has to re-activate.
func (s *Service) Refresh(oldToken string) (string, time.Time, error) {
	claims, err := s.Verify(oldToken)
	if err != nil {
		return "", time.Time{}, err
	}
	return s.Issue(claims.GatewayID, claims.UserID, claims.TenantID)
}
