package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Claims carried by a connection token. Subject is the stable user id
// the entity layer keys on; Email and Nickname ride along so the relay
// can log a readable identity without a directory lookup.
type Claims struct {
	Email    string `json:"email,omitempty"`
	Nickname string `json:"nickname,omitempty"`
	Guest    bool   `json:"guest,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the stable user id the token was issued for.
func (c *Claims) UserID() string { return c.Subject }

// TokenManager issues and validates connection tokens.
type TokenManager struct {
	secretKey []byte
	expiry    time.Duration
	issuer    string
}

// NewTokenManager creates a TokenManager.
func NewTokenManager(secretKey string, expiry time.Duration) *TokenManager {
	return &TokenManager{
		secretKey: []byte(secretKey),
		expiry:    expiry,
		issuer:    "syncverse-relay",
	}
}

// IssueConnectionToken signs a token for userID. Guest tokens carry no
// email.
func (m *TokenManager) IssueConnectionToken(userID, email, nickname string, guest bool) (string, error) {
	now := time.Now()
	claims := &Claims{
		Email:    email,
		Nickname: nickname,
		Guest:    guest,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    m.issuer,
			Subject:   userID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secretKey)
}

// ValidateConnectionToken verifies the signature and expiry and
// returns the claims.
func (m *TokenManager) ValidateConnectionToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secretKey, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
