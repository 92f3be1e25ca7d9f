package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultIssuer     = "actorgate"
	defaultAccessTTL  = time.Hour
	defaultRefreshTTL = 7 * 24 * time.Hour

	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"

	// tokenPrecision is the resolution of JWT NumericDate values.
	tokenPrecision = time.Second
)

var errMissingSecret = errors.New("auth: signing secret is not configured")

// Claims represents JWT claims used by access and refresh tokens.
type Claims struct {
	Role     Role   `json:"role"`
	TenantID string `json:"tid,omitempty"`
	Type     string `json:"typ"`
	jwt.RegisteredClaims
}

// Payload converts verified claims into a caller identity.
func (c *Claims) Payload() Payload {
	p := Payload{
		ActorID:  c.Subject,
		Role:     c.Role,
		TenantID: c.TenantID,
		TokenID:  c.ID,
	}
	if c.ExpiresAt != nil {
		p.ExpiresAt = c.ExpiresAt.Time
	}
	return p
}

// Issuer signs and parses token pairs. It never touches the store.
type Issuer struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// IssuerOption configures Issuer behavior.
type IssuerOption func(*Issuer) error

// WithIssuerName overrides the token issuer claim.
func WithIssuerName(name string) IssuerOption {
	return func(i *Issuer) error {
		if name = strings.TrimSpace(name); name != "" {
			i.issuer = name
		}
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) IssuerOption {
	return func(i *Issuer) error {
		if ttl > 0 {
			i.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) IssuerOption {
	return func(i *Issuer) error {
		if ttl > 0 {
			i.refreshTTL = ttl
		}
		return nil
	}
}

// WithIssuerClock overrides time source (useful for tests).
func WithIssuerClock(fn func() time.Time) IssuerOption {
	return func(i *Issuer) error {
		if fn != nil {
			i.now = fn
		}
		return nil
	}
}

// NewIssuer constructs an HS256 Issuer.
func NewIssuer(secret string, opts ...IssuerOption) (*Issuer, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errMissingSecret
	}
	iss := &Issuer{
		secret:     []byte(secret),
		issuer:     defaultIssuer,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		if err := opt(iss); err != nil {
			return nil, err
		}
	}
	if iss.accessTTL < tokenPrecision {
		return nil, fmt.Errorf("auth: access ttl %s is below token precision", iss.accessTTL)
	}
	if iss.refreshTTL <= iss.accessTTL {
		return nil, fmt.Errorf("auth: refresh ttl %s must exceed access ttl %s", iss.refreshTTL, iss.accessTTL)
	}
	return iss, nil
}

// AccessTTL returns the configured access token lifetime.
func (i *Issuer) AccessTTL() time.Duration { return i.accessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (i *Issuer) RefreshTTL() time.Duration { return i.refreshTTL }

// Issue signs a fresh pair for the actor.
func (i *Issuer) Issue(actorID string, role Role, tenantID string) (TokenPair, error) {
	return i.issueAt(i.now().UTC().Truncate(tokenPrecision), actorID, role, tenantID)
}

// IssueAfter signs a pair whose issued_at is strictly later than prev, so a
// rotated pair always expires after the one it replaces.
func (i *Issuer) IssueAfter(prev time.Time, actorID string, role Role, tenantID string) (TokenPair, error) {
	at := i.now().UTC().Truncate(tokenPrecision)
	if floor := prev.UTC().Truncate(tokenPrecision).Add(tokenPrecision); at.Before(floor) {
		at = floor
	}
	return i.issueAt(at, actorID, role, tenantID)
}

func (i *Issuer) issueAt(at time.Time, actorID string, role Role, tenantID string) (TokenPair, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return TokenPair{}, errors.New("auth: actor id is required")
	}
	if role == "" {
		return TokenPair{}, errors.New("auth: role is required")
	}
	expiresAt := at.Add(i.accessTTL)
	refreshableUntil := at.Add(i.refreshTTL)

	access, err := i.sign(Claims{
		Role:     role,
		TenantID: tenantID,
		Type:     tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   actorID,
			IssuedAt:  jwt.NewNumericDate(at),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	})
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := i.sign(Claims{
		Role:     role,
		TenantID: tenantID,
		Type:     tokenTypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   actorID,
			IssuedAt:  jwt.NewNumericDate(at),
			ExpiresAt: jwt.NewNumericDate(refreshableUntil),
			ID:        uuid.NewString(),
		},
	})
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		IssuedAt:         at,
		ExpiresAt:        expiresAt,
		RefreshableUntil: refreshableUntil,
	}, nil
}

func (i *Issuer) sign(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseAccess verifies an access token and returns its claims.
func (i *Issuer) ParseAccess(token string) (*Claims, error) {
	return i.parse(token, tokenTypeAccess)
}

// ParseRefresh verifies a refresh token, including now < refreshable_until.
func (i *Issuer) ParseRefresh(token string) (*Claims, error) {
	return i.parse(token, tokenTypeRefresh)
}

func (i *Issuer) parse(token, typ string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrAuthentication
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrAuthentication
	}
	if err := validateClaims(claims, typ); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	return claims, nil
}

func validateClaims(claims *Claims, typ string) error {
	if claims.Type != typ {
		return fmt.Errorf("unexpected token type %q", claims.Type)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if claims.Role == "" {
		return errors.New("role missing")
	}
	if strings.TrimSpace(claims.ID) == "" {
		return errors.New("token id missing")
	}
	if claims.IssuedAt == nil {
		return errors.New("issued-at missing")
	}
	if claims.ExpiresAt.Time.Before(claims.IssuedAt.Time) {
		return errors.New("token expiry precedes issued-at")
	}
	return nil
}
