package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/tabsyteam/tabsy-core/go/internal/apperr"
)

// GuestClaims are the JWT claims carried by a guest session token.
// The token binds a guest device to one table session; the gateway
// validates it on subscribe.
type GuestClaims struct {
	jwt.RegisteredClaims
	GuestSessionID string `json:"guest_session_id"`
	TableSessionID string `json:"table_session_id"`
}

// TokenManager issues and verifies guest session tokens
type TokenManager struct {
	secretKey     string
	tokenDuration time.Duration
	clock         clockwork.Clock
}

func NewTokenManager(secretKey string, tokenDuration time.Duration, clock clockwork.Clock) *TokenManager {
	return &TokenManager{
		secretKey:     secretKey,
		tokenDuration: tokenDuration,
		clock:         clock,
	}
}

// Issue signs a token for a guest device in a table session
func (m *TokenManager) Issue(guestSessionID, tableSessionID string) (string, error) {
	now := m.clock.Now()
	claims := GuestClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   guestSessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenDuration)),
		},
		GuestSessionID: guestSessionID,
		TableSessionID: tableSessionID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(m.secretKey))
}

// Verify parses and validates a guest token. Invalid or expired tokens
// map to UNAUTHORIZED so callers are directed to rejoin.
func (m *TokenManager) Verify(tokenString string) (*GuestClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&GuestClaims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, apperr.Unauthorized("unexpected token signing method")
			}
			return []byte(m.secretKey), nil
		},
		jwt.WithTimeFunc(m.clock.Now),
	)
	if err != nil {
		return nil, apperr.Unauthorized("invalid or expired session token")
	}

	claims, ok := token.Claims.(*GuestClaims)
	if !ok || claims.GuestSessionID == "" || claims.TableSessionID == "" {
		return nil, apperr.Unauthorized("invalid session token claims")
	}
	return claims, nil
}
