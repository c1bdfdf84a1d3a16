// Package auth issues and verifies the identity tokens clients may attach to a join.
package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/juju/clock"

	"collabroom/pkg/interfaces"
	"collabroom/pkg/types"
)

// Claims carries the profile fields issued by the sign-in collaborator
type Claims struct {
	UserID  string `json:"id"`
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Picture string `json:"picture,omitempty"`
	jwt.RegisteredClaims
}

// Verifier signs and checks HS256 identity tokens
type Verifier struct {
	secret []byte
	expiry time.Duration
	clock  clock.Clock
}

// NewVerifier builds a verifier. An empty secret disables tokens; expiry <= 0 issues non-expiring tokens.
func NewVerifier(secret string, expiry time.Duration, clk clock.Clock) *Verifier {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Verifier{secret: []byte(secret), expiry: expiry, clock: clk}
}

// Enabled reports whether a signing secret is configured
func (v *Verifier) Enabled() bool {
	return v != nil && len(v.secret) > 0
}

// Issue signs a token for profile
func (v *Verifier) Issue(profile *types.Profile) (string, error) {
	if !v.Enabled() {
		return "", ErrAuthDisabled
	}
	if profile == nil || strings.TrimSpace(profile.ID) == "" {
		return "", ErrMissingProfile
	}

	now := v.clock.Now()
	claims := Claims{
		UserID:  profile.ID,
		Name:    strings.TrimSpace(profile.Name),
		Email:   strings.TrimSpace(profile.Email),
		Picture: profile.Picture,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  profile.ID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if v.expiry > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(v.expiry))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// Verify parses token and returns the profile it carries
func (v *Verifier) Verify(token string) (*types.Profile, error) {
	if !v.Enabled() {
		return nil, ErrAuthDisabled
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithTimeFunc(v.clock.Now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, interfaces.ErrInvalidToken
	}

	// Tokens minted elsewhere may only carry the subject
	id := strings.TrimSpace(claims.UserID)
	if id == "" {
		id = strings.TrimSpace(claims.Subject)
	}
	if id == "" {
		return nil, interfaces.ErrInvalidToken
	}

	return &types.Profile{
		ID:      id,
		Name:    strings.TrimSpace(claims.Name),
		Email:   strings.TrimSpace(claims.Email),
		Picture: claims.Picture,
	}, nil
}
