package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"actorgate.org/internal/ids"
)

// Credentials owns credential creation and verification.
type Credentials struct {
	store  Store
	hasher *Hasher
	now    func() time.Time
}

// NewCredentials wires the credential component to a store.
func NewCredentials(store Store, hasher *Hasher, now func() time.Time) *Credentials {
	if now == nil {
		now = time.Now
	}
	return &Credentials{store: store, hasher: hasher, now: now}
}

// NormalizeKey lower-cases local keys (emails) and trims federated subjects.
func NormalizeKey(provider, key string) string {
	key = strings.TrimSpace(key)
	if provider == ProviderLocal {
		return strings.ToLower(key)
	}
	return key
}

// Create inserts a credential inside q. passwordHash must be nil for
// federated providers and set for ProviderLocal.
func (c *Credentials) Create(ctx context.Context, q Queries, actorID string, role Role, provider, providerKey string, passwordHash *string) (string, error) {
	provider = strings.TrimSpace(provider)
	providerKey = NormalizeKey(provider, providerKey)
	switch {
	case provider == "":
		return "", invalidField("provider", "is required")
	case providerKey == "":
		return "", invalidField("provider_key", "is required")
	case provider == ProviderLocal && passwordHash == nil:
		return "", invalidField("password", "is required")
	case provider != ProviderLocal && passwordHash != nil:
		return "", invalidField("password", "is not accepted for federated providers")
	}
	now := c.now().UTC()
	cred := &Credential{
		ID:           ids.NewAt(now),
		ActorID:      actorID,
		Role:         role,
		Provider:     provider,
		ProviderKey:  providerKey,
		PasswordHash: passwordHash,
		CreatedAt:    now,
	}
	if err := q.Credentials().Create(ctx, cred); err != nil {
		return "", err
	}
	return cred.ID, nil
}

// Verify checks a local password and returns the matching credential.
// It does not record the authentication; see Touch.
func (c *Credentials) Verify(ctx context.Context, role Role, provider, providerKey, password string) (*Credential, error) {
	providerKey = NormalizeKey(provider, providerKey)
	cred, err := c.store.Credentials().FindLive(ctx, role, provider, providerKey)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if cred == nil {
		c.hasher.Verify(nil, password)
		return nil, ErrAuthentication
	}
	if provider != ProviderLocal || !c.hasher.Verify(cred.PasswordHash, password) {
		return nil, ErrAuthentication
	}
	return cred, nil
}

// VerifyFederated matches an upstream-verified provider subject.
func (c *Credentials) VerifyFederated(ctx context.Context, role Role, provider, subject string) (*Credential, error) {
	if provider == ProviderLocal {
		return nil, ErrAuthentication
	}
	cred, err := c.store.Credentials().FindLive(ctx, role, provider, NormalizeKey(provider, subject))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrAuthentication
	}
	if err != nil {
		return nil, err
	}
	return cred, nil
}

// Touch records a completed authentication through credentialID.
func (c *Credentials) Touch(ctx context.Context, credentialID string) error {
	if err := c.store.Credentials().TouchAuthenticated(ctx, credentialID, c.now().UTC()); err != nil {
		return fmt.Errorf("record authentication: %w", err)
	}
	return nil
}
