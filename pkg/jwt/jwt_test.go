package jwt

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

func newTestKeys(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("failed to marshal public key: %v", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	return key, string(pemBytes)
}

func signToken(t *testing.T, key *rsa.PrivateKey, claims *Claims) string {
	t.Helper()

	token := jwtlib.NewWithClaims(jwtlib.SigningMethodRS256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestNewVerifier(t *testing.T) {
	_, publicPEM := newTestKeys(t)

	if _, err := NewVerifier(publicPEM); err != nil {
		t.Errorf("NewVerifier() error = %v", err)
	}
	if _, err := NewVerifier("not a pem"); err == nil {
		t.Error("NewVerifier() expected error for garbage input")
	}
}

func TestValidateAccessToken(t *testing.T) {
	key, publicPEM := newTestKeys(t)
	verifier, err := NewVerifier(publicPEM)
	if err != nil {
		t.Fatalf("NewVerifier() error = %v", err)
	}

	accessClaims := func(tokenType string, expiresAt time.Time) *Claims {
		return &Claims{
			UserID:    "user-1",
			EntityID:  "entity-1",
			TokenType: tokenType,
			RegisteredClaims: jwtlib.RegisteredClaims{
				ExpiresAt: jwtlib.NewNumericDate(expiresAt),
				IssuedAt:  jwtlib.NewNumericDate(time.Now()),
			},
		}
	}

	t.Run("valid access token", func(t *testing.T) {
		token := signToken(t, key, accessClaims("access", time.Now().Add(time.Hour)))

		claims, err := verifier.ValidateAccessToken(token)
		if err != nil {
			t.Fatalf("ValidateAccessToken() error = %v", err)
		}
		if claims.UserID != "user-1" || claims.EntityID != "entity-1" {
			t.Errorf("ValidateAccessToken() claims = %+v", claims)
		}
	})

	t.Run("expired token", func(t *testing.T) {
		token := signToken(t, key, accessClaims("access", time.Now().Add(-time.Hour)))

		if _, err := verifier.ValidateAccessToken(token); !errors.Is(err, ErrTokenExpired) {
			t.Errorf("ValidateAccessToken() error = %v, want ErrTokenExpired", err)
		}
	})

	t.Run("refresh token rejected", func(t *testing.T) {
		token := signToken(t, key, accessClaims("refresh", time.Now().Add(time.Hour)))

		if _, err := verifier.ValidateAccessToken(token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("ValidateAccessToken() error = %v, want ErrInvalidToken", err)
		}
	})

	t.Run("token signed with a different key", func(t *testing.T) {
		otherKey, _ := newTestKeys(t)
		token := signToken(t, otherKey, accessClaims("access", time.Now().Add(time.Hour)))

		if _, err := verifier.ValidateAccessToken(token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("ValidateAccessToken() error = %v, want ErrInvalidToken", err)
		}
	})

	t.Run("garbage token", func(t *testing.T) {
		if _, err := verifier.ValidateAccessToken("not.a.token"); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("ValidateAccessToken() error = %v, want ErrInvalidToken", err)
		}
	})
}
