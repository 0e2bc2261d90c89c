package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
)

const defaultStateTTL = 10 * time.Minute

// OAuthState is carried through the provider round trip in the state
// parameter. The nonce is also kept in a cookie so a callback can only be
// completed by the browser that started it.
type OAuthState struct {
	Nonce    string `json:"n"`
	Provider string `json:"p"`
	Remember bool   `json:"rmb,omitempty"`
	jwt.RegisteredClaims
}

// StateCodec signs and verifies OAuth state values
type StateCodec struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

func NewStateCodec(signingKey string) *StateCodec {
	return &StateCodec{
		key: []byte("oauth-state:" + signingKey),
		ttl: defaultStateTTL,
		now: time.Now,
	}
}

func (s *StateCodec) WithTTL(ttl time.Duration) *StateCodec {
	if ttl > 0 {
		s.ttl = ttl
	}
	return s
}

func (s *StateCodec) WithClock(now func() time.Time) *StateCodec {
	if now != nil {
		s.now = now
	}
	return s
}

// Encode returns a fresh nonce and the signed state holding it
func (s *StateCodec) Encode(provider string, remember bool) (nonce, state string, err error) {
	nonce, err = randomToken(16)
	if err != nil {
		return "", "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate state nonce")
	}

	now := s.now()
	claims := OAuthState{
		Nonce:    nonce,
		Provider: provider,
		Remember: remember,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	state, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign oauth state")
	}
	return nonce, state, nil
}

// Decode verifies state against the nonce cookie and the provider in the
// callback route.
func (s *StateCodec) Decode(state, nonce, provider string) (*OAuthState, error) {
	claims := &OAuthState{}
	_, err := jwt.ParseWithClaims(state, claims, func(t *jwt.Token) (any, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, ErrInvalidOAuthState.Clone().WithMetadata(map[string]any{"cause": err.Error()})
	}

	if nonce == "" || claims.Nonce != nonce || claims.Provider != provider {
		return nil, ErrInvalidOAuthState
	}
	return claims, nil
}
