package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AssertionVerifier checks an identity assertion issued by an external
// provider and returns the provider subject it vouches for.
type AssertionVerifier interface {
	VerifyAssertion(ctx context.Context, provider, assertion string) (subject string, err error)
}

// JWTAssertionVerifier accepts HS256 JWTs signed with a per-provider shared
// secret. The iss claim must name the provider.
type JWTAssertionVerifier struct {
	secrets map[string][]byte
	now     func() time.Time
}

// NewJWTAssertionVerifier builds a verifier from provider to secret pairs.
func NewJWTAssertionVerifier(secrets map[string]string, now func() time.Time) *JWTAssertionVerifier {
	if now == nil {
		now = time.Now
	}
	v := &JWTAssertionVerifier{secrets: make(map[string][]byte, len(secrets)), now: now}
	for provider, secret := range secrets {
		provider = strings.TrimSpace(provider)
		secret = strings.TrimSpace(secret)
		if provider == "" || provider == ProviderLocal || secret == "" {
			continue
		}
		v.secrets[provider] = []byte(secret)
	}
	return v
}

// Providers lists the configured provider names.
func (v *JWTAssertionVerifier) Providers() []string {
	out := make([]string, 0, len(v.secrets))
	for p := range v.secrets {
		out = append(out, p)
	}
	return out
}

// VerifyAssertion implements AssertionVerifier.
func (v *JWTAssertionVerifier) VerifyAssertion(_ context.Context, provider, assertion string) (string, error) {
	secret, ok := v.secrets[provider]
	if !ok {
		return "", fmt.Errorf("%w: unknown provider %q", ErrAuthentication, provider)
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(strings.TrimSpace(assertion), &claims, func(*jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(provider),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return "", fmt.Errorf("%w: assertion without subject", ErrAuthentication)
	}
	return subject, nil
}
