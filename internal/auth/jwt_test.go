package auth

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"
)

const testUserID = "64b7f0c2e1a4b3c2d1e0f9a8"

func TestHashAndCheckPassword(t *testing.T) {
	pwd := "s3cr3t-password"
	hash, err := HashPassword(pwd)
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}

	if err := CheckPassword(hash, pwd); err != nil {
		t.Fatalf("CheckPassword failed when password should match: %v", err)
	}

	if err := CheckPassword(hash, "wrong"); err == nil {
		t.Fatal("CheckPassword succeeded when it should have failed")
	}
}

func TestJWTManager_GenerateAndVerify(t *testing.T) {
	m := NewJWTManager("test-secret", 5*time.Minute)

	token, exp, err := m.GenerateToken(testUserID, "Alice")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Fatalf("expiry in the past: %v", exp)
	}

	claims, err := m.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken failed: %v", err)
	}
	if claims.UserID != testUserID || claims.Subject != testUserID {
		t.Fatalf("claims user mismatch: %+v", claims)
	}
	if claims.Name != "Alice" {
		t.Fatalf("claims.Name mismatch: got %s", claims.Name)
	}
}

func TestJWTManager_Expired(t *testing.T) {
	m := NewJWTManager("test-secret", time.Minute)
	m.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	token, _, err := m.GenerateToken(testUserID, "")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	m.now = time.Now
	if _, err := m.VerifyToken(token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired got %v", err)
	}
}

func TestJWTManager_Invalid(t *testing.T) {
	m := NewJWTManager("test-secret", time.Minute)
	other := NewJWTManager("other-secret", time.Minute)

	foreign, _, _ := other.GenerateToken(testUserID, "")

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"empty", "", ErrMissingToken},
		{"garbage", "not.a.jwt", ErrTokenInvalid},
		{"wrong secret", foreign, ErrTokenInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.VerifyToken(tt.token); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v got %v", tt.want, err)
			}
		})
	}
}

func TestJWTManager_Rotation(t *testing.T) {
	// create a manager with two keys and active kid "k2"
	keys := map[string]string{"k1": "secret-one", "k2": "secret-two"}
	m := NewJWTManagerFromKeys(keys, "k2", 5*time.Minute)

	tkn2, _, err := m.GenerateToken(testUserID, "")
	if err != nil {
		t.Fatalf("GenerateToken (k2) failed: %v", err)
	}
	if _, err := m.VerifyToken(tkn2); err != nil {
		t.Fatalf("VerifyToken (k2) failed: %v", err)
	}

	// A token from when k1 was active must still verify.
	mOld := NewJWTManagerFromKeys(keys, "k1", 5*time.Minute)
	tkn1, _, err := mOld.GenerateToken(testUserID, "")
	if err != nil {
		t.Fatalf("GenerateToken (k1) failed: %v", err)
	}
	if _, err := m.VerifyToken(tkn1); err != nil {
		t.Fatalf("VerifyToken (old k1) failed: %v", err)
	}

	// Once k1 is retired its tokens stop working.
	mNew := NewJWTManagerFromKeys(map[string]string{"k2": "secret-two"}, "k2", 5*time.Minute)
	if _, err := mNew.VerifyToken(tkn1); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected retired kid to be rejected, got %v", err)
	}
}

func TestParseKeys(t *testing.T) {
	keys, err := ParseKeys("k1:one, k2:two,")
	if err != nil {
		t.Fatalf("ParseKeys failed: %v", err)
	}
	if len(keys) != 2 || keys["k1"] != "one" || keys["k2"] != "two" {
		t.Fatalf("unexpected keys %v", keys)
	}
	if _, err := ParseKeys("k1"); err == nil {
		t.Fatal("expected error for entry without secret")
	}
	if _, err := ParseKeys(" , "); err == nil {
		t.Fatal("expected error for empty list")
	}
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws?token=from-query", nil)
	if got := TokenFromRequest(r); got != "from-query" {
		t.Fatalf("query token: got %q", got)
	}

	r.Header.Set("Authorization", "Bearer from-header")
	if got := TokenFromRequest(r); got != "from-header" {
		t.Fatalf("header token should win: got %q", got)
	}

	r = httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Basic abc")
	if got := TokenFromRequest(r); got != "" {
		t.Fatalf("non-bearer scheme: got %q", got)
	}
}
