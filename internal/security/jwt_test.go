package security

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestTokenRoundTrip(t *testing.T) {
	token, err := GenerateToken("secret", 42, "owner@example.com", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	claims, err := ParseToken("secret", token)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if claims.UserID != 42 || claims.Email != "owner@example.com" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseTokenRejectsWrongSecretAndExpiry(t *testing.T) {
	token, err := GenerateToken("secret", 42, "", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if _, errParse := ParseToken("other", token); !errors.Is(errParse, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", errParse)
	}

	expired, err := GenerateToken("secret", 42, "", -time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if _, errParse := ParseToken("secret", expired); !errors.Is(errParse, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", errParse)
	}
}

func TestParseTokenRejectsNonHMACAndMissingUser(t *testing.T) {
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, UserClaims{UserID: 1}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, errParse := ParseToken("secret", unsigned); !errors.Is(errParse, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for alg none, got %v", errParse)
	}

	anonymous, err := GenerateToken("secret", 0, "", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if _, errParse := ParseToken("secret", anonymous); !errors.Is(errParse, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for user 0, got %v", errParse)
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]error{
		"":              ErrMissingToken,
		"Basic abc":     ErrMissingToken,
		"Bearer ":       ErrMissingToken,
		"Bearer abc.de": nil,
	}
	for header, want := range cases {
		token, err := BearerToken(header)
		if !errors.Is(err, want) {
			t.Fatalf("BearerToken(%q) error = %v, want %v", header, err, want)
		}
		if want == nil && token != "abc.de" {
			t.Fatalf("BearerToken(%q) = %q", header, token)
		}
	}
}
