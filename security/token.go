package security

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AuthViolation reports a missing, malformed, or expired token.
type AuthViolation struct {
	Reason string
}

func (e *AuthViolation) Error() string {
	return "auth violation: " + e.Reason
}

// Claims are the verified contents of an agent token.
type Claims struct {
	Subject   string
	Issuer    string
	ExpiresAt time.Time
}

// TokenVerifier verifies HS256-signed agent tokens before channel
// operations are allowed. Token issuance lives outside the substrate;
// Mint exists for deployments that co-locate it and for tests.
type TokenVerifier struct {
	secret []byte
	issuer string
}

// NewTokenVerifier creates a verifier for tokens signed with secret and
// issued by issuer.
func NewTokenVerifier(secret []byte, issuer string) *TokenVerifier {
	return &TokenVerifier{secret: secret, issuer: issuer}
}

// Verify checks the token's signature, issuer, expiry, and subject. Any
// failure is an *AuthViolation.
func (v *TokenVerifier) Verify(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, &AuthViolation{Reason: "missing token"}
	}

	token, err := jwt.Parse(tokenString,
		func(t *jwt.Token) (any, error) { return v.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, &AuthViolation{Reason: err.Error()}
	}

	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return nil, &AuthViolation{Reason: "token has no subject"}
	}
	issuer, _ := token.Claims.GetIssuer()
	exp, err := token.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, &AuthViolation{Reason: "token has no expiry"}
	}

	return &Claims{Subject: subject, Issuer: issuer, ExpiresAt: exp.Time}, nil
}

// Mint signs a token for the given subject with the verifier's secret.
func (v *TokenVerifier) Mint(subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    v.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}
