package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/juju/clock/testclock"

	"collabroom/pkg/interfaces"
	"collabroom/pkg/types"
)

var _ interfaces.ProfileVerifier = (*Verifier)(nil)

func TestVerifier_IssueAndVerify(t *testing.T) {
	v := NewVerifier("test-secret", time.Hour, nil)
	profile := &types.Profile{ID: "u1", Name: " Alice ", Email: "alice@example.com", Picture: "https://lh3.googleusercontent.com/a"}

	token, err := v.Issue(profile)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	got, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	want := &types.Profile{ID: "u1", Name: "Alice", Email: "alice@example.com", Picture: profile.Picture}
	if *got != *want {
		t.Errorf("Verify = %+v, want %+v", got, want)
	}
}

func TestVerifier_RejectsBadTokens(t *testing.T) {
	v := NewVerifier("test-secret", time.Hour, nil)
	other := NewVerifier("other-secret", time.Hour, nil)

	foreign, _ := other.Issue(&types.Profile{ID: "u1"})

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "u1"})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	for name, token := range map[string]string{
		"garbage":        "not-a-token",
		"wrong secret":   foreign,
		"none algorithm": unsigned,
	} {
		if _, err := v.Verify(token); !errors.Is(err, interfaces.ErrInvalidToken) {
			t.Errorf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestVerifier_Expiry(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	v := NewVerifier("test-secret", time.Minute, clk)

	token, err := v.Issue(&types.Profile{ID: "u1"})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if _, err := v.Verify(token); err != nil {
		t.Fatalf("Fresh token should verify: %v", err)
	}

	clk.Advance(2 * time.Minute)
	if _, err := v.Verify(token); !errors.Is(err, interfaces.ErrInvalidToken) {
		t.Errorf("Expired token should be rejected, got %v", err)
	}
}

func TestVerifier_SubjectFallback(t *testing.T) {
	v := NewVerifier("test-secret", 0, nil)
	claims := Claims{Name: "Bob", RegisteredClaims: jwt.RegisteredClaims{Subject: "u2"}}
	token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))

	profile, err := v.Verify(token)
	if err != nil || profile.ID != "u2" || profile.Name != "Bob" {
		t.Errorf("Expected subject fallback, got %+v (%v)", profile, err)
	}
}

func TestVerifier_Disabled(t *testing.T) {
	v := NewVerifier("", time.Hour, nil)
	if v.Enabled() {
		t.Error("Empty secret should disable the verifier")
	}
	if _, err := v.Issue(&types.Profile{ID: "u1"}); err != ErrAuthDisabled {
		t.Errorf("Expected ErrAuthDisabled, got %v", err)
	}
	if _, err := v.Verify("x"); err != ErrAuthDisabled {
		t.Errorf("Expected ErrAuthDisabled, got %v", err)
	}

	enabled := NewVerifier("s", time.Hour, nil)
	if _, err := enabled.Issue(&types.Profile{}); err != ErrMissingProfile {
		t.Errorf("Expected ErrMissingProfile, got %v", err)
	}
}
