package security

import (
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func TestOpsKeyVerifier(t *testing.T) {
	hash, err := HashOpsKey("s3cret", bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	v := OpsKeyVerifier{Hash: hash}
	if err := v.Verify("s3cret"); err != nil {
		t.Fatalf("valid key rejected: %v", err)
	}
	for _, key := range []string{"", "wrong"} {
		if err := v.Verify(key); !errors.Is(err, ErrOpsKeyInvalid) {
			t.Fatalf("Verify(%q) = %v", key, err)
		}
	}
	if err := (OpsKeyVerifier{}).Verify("s3cret"); !errors.Is(err, ErrOpsKeyInvalid) {
		t.Fatal("empty hash must reject")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	v := TokenVerifier{Secret: []byte("k"), Issuer: "rentme", Clock: func() time.Time { return now }}
	raw, err := v.Issue("renter-1", "renter", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := v.Verify(raw)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Subject != "renter-1" || claims.Role != "renter" {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestTokenRejections(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	issuer := TokenVerifier{Secret: []byte("k"), Issuer: "rentme", Clock: func() time.Time { return now }}
	expired, _ := issuer.Issue("renter-1", "", time.Minute)
	noSubject, _ := issuer.Issue("", "", time.Hour)
	otherKey, _ := TokenVerifier{Secret: []byte("other"), Issuer: "rentme", Clock: issuer.Clock}.Issue("renter-1", "", time.Hour)

	later := issuer
	later.Clock = func() time.Time { return now.Add(time.Hour) }
	cases := map[string]struct {
		v   TokenVerifier
		raw string
	}{
		"expired":    {later, expired},
		"no subject": {issuer, noSubject},
		"wrong key":  {issuer, otherKey},
		"garbage":    {issuer, "not-a-token"},
		"no secret":  {TokenVerifier{}, expired},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := tc.v.Verify(tc.raw); !errors.Is(err, ErrTokenInvalid) {
				t.Fatalf("err = %v", err)
			}
		})
	}
}
