package authn

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestVerifierRoundTrip(t *testing.T) {
	t.Parallel()

	v, err := NewVerifier("secret", "taskhub")
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	token, err := v.Issue("user-1", time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	subject, err := v.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if subject != "user-1" {
		t.Fatalf("subject = %q, want %q", subject, "user-1")
	}
}

func TestVerifierRejects(t *testing.T) {
	t.Parallel()

	v, _ := NewVerifier("secret", "taskhub")
	other, _ := NewVerifier("other-secret", "taskhub")
	wrongIssuer, _ := NewVerifier("secret", "elsewhere")

	foreign, _ := other.Issue("user-1", time.Minute)
	expired, _ := v.Issue("user-1", -time.Minute)
	misissued, _ := wrongIssuer.Issue("user-1", time.Minute)

	testCases := []struct {
		name  string
		token string
		want  error
	}{
		{name: "empty", token: "", want: ErrMissingToken},
		{name: "garbage", token: "not-a-jwt", want: ErrInvalidToken},
		{name: "wrong secret", token: foreign, want: ErrInvalidToken},
		{name: "expired", token: expired, want: ErrInvalidToken},
		{name: "wrong issuer", token: misissued, want: ErrInvalidToken},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := v.Verify(tc.token); !errors.Is(err, tc.want) {
				t.Fatalf("Verify error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	t.Parallel()

	if _, err := NewVerifier(" ", ""); err == nil {
		t.Fatal("expected secret error")
	}
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	testCases := map[string]string{
		"Bearer abc":   "abc",
		"bearer  abc ": "abc",
		"Basic abc":    "",
		"":             "",
		"Bearer":       "",
	}
	for header, want := range testCases {
		if got := BearerToken(header); got != want {
			t.Fatalf("BearerToken(%q) = %q, want %q", header, got, want)
		}
	}
}

func TestUserIDFromContext(t *testing.T) {
	t.Parallel()

	ctx := WithUserID(context.Background(), "user-42")
	if got := UserIDFromContext(ctx); got != "user-42" {
		t.Fatalf("UserIDFromContext = %q, want %q", got, "user-42")
	}
	if got := UserIDFromContext(context.Background()); got != "" {
		t.Fatalf("expected empty user id, got %q", got)
	}
}
