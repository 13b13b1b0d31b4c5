package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Common errors
var (
	ErrInvalidState = errors.New("invalid oauth state")
	ErrExpiredState = errors.New("oauth state has expired")
	ErrMissingScope = errors.New("missing scope in oauth state")
)

const stateIssuer = "ledgersync"

// StateClaims are the claims of an authorization-flow state token
type StateClaims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope"`
}

// StateSigner issues and verifies short-lived HS256 state tokens.
// The state binds an authorization callback to the scope that started it.
type StateSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewStateSigner creates a new state signer
func NewStateSigner(secret string, ttl time.Duration) *StateSigner {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &StateSigner{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue generates a state token for scope
func (s *StateSigner) Issue(scope string) (string, error) {
	if scope == "" {
		return "", ErrMissingScope
	}
	now := s.now()
	claims := &StateClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    stateIssuer,
			Subject:   scope,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Scope: scope,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify validates a state token and returns its claims
func (s *StateSigner) Verify(state string) (*StateClaims, error) {
	token, err := jwt.ParseWithClaims(state, &StateClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidState
		}
		return s.secret, nil
	}, jwt.WithIssuer(stateIssuer), jwt.WithTimeFunc(s.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredState
		}
		return nil, ErrInvalidState
	}

	claims, ok := token.Claims.(*StateClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidState
	}
	if claims.Scope == "" {
		return nil, ErrMissingScope
	}
	return claims, nil
}
