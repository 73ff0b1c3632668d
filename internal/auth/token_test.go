package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"testing"
	"time"
)

func testKeyPair(t *testing.T) (string, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	return string(privPEM), string(pubPEM)
}

func testAuthority(t *testing.T, opts ...AuthorityOption) *Authority {
	t.Helper()
	priv, pub := testKeyPair(t)
	a, err := NewAuthority(priv, pub, opts...)
	if err != nil {
		t.Fatalf("NewAuthority: %v", err)
	}
	return a
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	a := testAuthority(t)
	user := User{ID: 42, Username: "alice", RoleID: 7}

	token, err := a.Issue(user, PurposeLogin)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := a.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Username != "alice" {
		t.Errorf("username = %q, want alice", claims.Username)
	}
	if claims.RoleID != 7 {
		t.Errorf("role id = %d, want 7", claims.RoleID)
	}
	if claims.Purpose != PurposeLogin {
		t.Errorf("purpose = %q, want %q", claims.Purpose, PurposeLogin)
	}
	id, err := claims.UserID()
	if err != nil {
		t.Fatalf("UserID: %v", err)
	}
	if id != 42 {
		t.Errorf("user id = %d, want 42", id)
	}
}

func TestIssueRejectsUnpersistedUser(t *testing.T) {
	a := testAuthority(t)
	if _, err := a.Issue(User{Username: "ghost"}, PurposeLogin); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestIssueRejectsUnknownPurpose(t *testing.T) {
	a := testAuthority(t)
	if _, err := a.Issue(User{ID: 1}, Purpose("Refresh")); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestVerifyRejectsMutatedToken(t *testing.T) {
	a := testAuthority(t)
	token, err := a.Issue(User{ID: 1, Username: "bob", RoleID: 1}, PurposeLogin)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	// Flip one bit across the token; no mutation may verify. The final
	// byte is skipped: its base64 tail bits are not part of the signature.
	for i := 0; i < len(token)-1; i += 7 {
		raw := []byte(token)
		raw[i] ^= 0x01
		if _, err := a.Verify(string(raw)); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("mutation at %d verified: %v", i, err)
		}
	}
}

func TestVerifyRejectsForeignKey(t *testing.T) {
	issuer := testAuthority(t)
	verifier := testAuthority(t)
	token, err := issuer.Issue(User{ID: 1, Username: "bob", RoleID: 1}, PurposeLogin)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := verifier.Verify(token); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("err = %v, want ErrSignatureInvalid", err)
	}
}

func TestVerifyExpiry(t *testing.T) {
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }
	priv, pub := testKeyPair(t)
	a, err := NewAuthority(priv, pub, WithAuthorityClock(now))
	if err != nil {
		t.Fatalf("NewAuthority: %v", err)
	}

	cases := []struct {
		purpose Purpose
		ttl     time.Duration
	}{
		{PurposeLogin, time.Hour},
		{PurposePasswordReset, 15 * time.Minute},
	}
	for _, tc := range cases {
		token, err := a.Issue(User{ID: 1, Username: "bob", RoleID: 1}, tc.purpose)
		if err != nil {
			t.Fatalf("Issue(%s): %v", tc.purpose, err)
		}

		clock = clock.Add(tc.ttl - time.Second)
		if _, err := a.Verify(token); err != nil {
			t.Fatalf("%s token rejected before expiry: %v", tc.purpose, err)
		}

		clock = clock.Add(2 * time.Second)
		if _, err := a.Verify(token); !errors.Is(err, ErrTokenExpired) {
			t.Fatalf("%s token after expiry: err = %v, want ErrTokenExpired", tc.purpose, err)
		}
		clock = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	}
}

func TestVerifyRejectsEmptyToken(t *testing.T) {
	a := testAuthority(t)
	if _, err := a.Verify("  "); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("err = %v, want ErrTokenMalformed", err)
	}
}

func TestVerifyKeepsPurpose(t *testing.T) {
	a := testAuthority(t)
	token, err := a.Issue(User{ID: 9, Username: "carol", RoleID: 2}, PurposePasswordReset)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := a.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Purpose != PurposePasswordReset {
		t.Fatalf("purpose = %q, want %q", claims.Purpose, PurposePasswordReset)
	}
}
