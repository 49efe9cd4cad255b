// Package auth implements the per-request identity resolution engine: OAuth
// state tokens, per-provider credential resolution with silent refresh, and
// the combination of validated provider identities into one local user.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// stateTTL bounds how long a login redirect may sit unfinished before the
// callback rejects it.
const stateTTL = 10 * time.Minute

const stateIssuer = "tourneyhub-identity"

// StateService issues and verifies the OAuth state parameter as a signed,
// short-lived token. The callback checks the query value against the state
// cookie (double submit) and this service checks signature and expiry, so a
// forged or replayed callback fails without any server-side state.
type StateService struct {
	secret []byte
}

// NewStateService creates a StateService with the given HMAC secret.
func NewStateService(secret string) (*StateService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: state secret must be at least 16 characters")
	}
	return &StateService{secret: []byte(secret)}, nil
}

type stateClaims struct {
	jwt.RegisteredClaims
}

// Issue creates a state token bound to one provider's login flow.
func (s *StateService) Issue(providerName string) (string, error) {
	now := time.Now()
	c := stateClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   providerName,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(stateTTL)),
			Issuer:    stateIssuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing state token: %w", err)
	}
	return signed, nil
}

// Verify checks a state token's signature, expiry and provider binding.
func (s *StateService) Verify(state, providerName string) error {
	token, err := jwt.ParseWithClaims(
		state,
		&stateClaims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(stateIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return errors.New("auth: state token expired")
		}
		return fmt.Errorf("auth: invalid state token: %w", err)
	}

	c, ok := token.Claims.(*stateClaims)
	if !ok || !token.Valid {
		return errors.New("auth: invalid state token claims")
	}
	if c.Subject != providerName {
		return fmt.Errorf("auth: state token issued for %q, not %q", c.Subject, providerName)
	}
	return nil
}
