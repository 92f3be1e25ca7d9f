package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Observer receives the outcome of every authentication operation.
type Observer interface {
	ObserveAuth(role Role, operation, outcome string)
	ObserveReplay(role Role)
}

type nopObserver struct{}

func (nopObserver) ObserveAuth(Role, string, string) {}
func (nopObserver) ObserveReplay(Role)               {}

// Outcome classifies err into a low-cardinality label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrAuthentication):
		return "unauthenticated"
	case errors.Is(err, ErrAuthorization):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

// Service wires the auth components and exposes one RoleAuth per role.
type Service struct {
	store       Store
	issuer      *Issuer
	hasher      *Hasher
	credentials *Credentials
	registry    *Registry
	refresher   *Refresher
	guard       *Guard
	scope       *TenantScope

	descs    []Descriptor
	roles    map[Role]*RoleAuth
	now      func() time.Time
	hashCost int

	rotations   RotationStore
	verifier    AssertionVerifier
	liveness    bool
	livenessTTL time.Duration
	observer    Observer
	tracer      trace.Tracer
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithDescriptors replaces the built-in role set.
func WithDescriptors(descs ...Descriptor) ServiceOption {
	return func(s *Service) error {
		if len(descs) == 0 {
			return errors.New("auth: at least one role descriptor is required")
		}
		s.descs = append([]Descriptor(nil), descs...)
		return nil
	}
}

// WithHashCost sets the bcrypt cost.
func WithHashCost(cost int) ServiceOption {
	return func(s *Service) error {
		s.hashCost = cost
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithRotationStore keeps refresh markers outside the main store.
func WithRotationStore(r RotationStore) ServiceOption {
	return func(s *Service) error {
		if r != nil {
			s.rotations = r
		}
		return nil
	}
}

// WithAssertionVerifier enables federated join and login.
func WithAssertionVerifier(v AssertionVerifier) ServiceOption {
	return func(s *Service) error {
		s.verifier = v
		return nil
	}
}

// WithLivenessCheck makes the guard reject suspended or deleted actors,
// caching each answer for ttl.
func WithLivenessCheck(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		s.liveness = true
		s.livenessTTL = ttl
		return nil
	}
}

// WithObserver reports operation outcomes, typically to metrics.
func WithObserver(o Observer) ServiceOption {
	return func(s *Service) error {
		if o != nil {
			s.observer = o
		}
		return nil
	}
}

// WithTracer overrides the tracer used for operation spans.
func WithTracer(t trace.Tracer) ServiceOption {
	return func(s *Service) error {
		if t != nil {
			s.tracer = t
		}
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(store Store, issuer *Issuer, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if issuer == nil {
		return nil, errors.New("auth: issuer is required")
	}
	svc := &Service{
		store:    store,
		issuer:   issuer,
		descs:    Roles(),
		now:      time.Now,
		observer: nopObserver{},
		tracer:   otel.Tracer("actorgate.org/internal/auth"),
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	if svc.rotations == nil {
		svc.rotations = store.Rotations()
	}
	hasher, err := NewHasher(svc.hashCost)
	if err != nil {
		return nil, fmt.Errorf("auth: init hasher: %w", err)
	}
	svc.hasher = hasher
	svc.credentials = NewCredentials(store, hasher, svc.now)
	svc.registry = NewRegistry(store, svc.now)
	svc.refresher = NewRefresher(issuer, svc.registry, svc.rotations, svc.now)
	svc.scope = NewTenantScope(svc.descs)

	var guardOpts []GuardOption
	if svc.liveness {
		guardOpts = append(guardOpts, WithLiveness(svc.registry, svc.livenessTTL), WithGuardClock(svc.now))
	}
	svc.guard = NewGuard(issuer, guardOpts...)

	svc.roles = make(map[Role]*RoleAuth, len(svc.descs))
	for _, d := range svc.descs {
		if err := d.validate(); err != nil {
			return nil, err
		}
		if _, dup := svc.roles[d.Role]; dup {
			return nil, fmt.Errorf("auth: duplicate descriptor for role %s", d.Role)
		}
		svc.roles[d.Role] = &RoleAuth{svc: svc, desc: d}
	}
	return svc, nil
}

// For returns the flow of role.
func (s *Service) For(role Role) (*RoleAuth, error) {
	ra, ok := s.roles[role]
	if !ok {
		return nil, ErrNotFound
	}
	return ra, nil
}

// Descriptors returns the registered role descriptors.
func (s *Service) Descriptors() []Descriptor {
	return append([]Descriptor(nil), s.descs...)
}

// Guard returns the bearer token resolver.
func (s *Service) Guard() *Guard { return s.guard }

// Scope returns the tenant scope enforcer.
func (s *Service) Scope() *TenantScope { return s.scope }

// Issuer returns the token issuer.
func (s *Service) Issuer() *Issuer { return s.issuer }

// Ping checks the backing store.
func (s *Service) Ping(ctx context.Context) error { return s.store.Ping(ctx) }

// PurgeRotations deletes refresh markers of tokens that already expired.
func (s *Service) PurgeRotations(ctx context.Context) (int64, error) {
	return s.rotations.PurgeExpired(ctx, s.now().UTC())
}

func (s *Service) start(ctx context.Context, role Role, op string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "auth."+op, trace.WithAttributes(
		attribute.String("auth.role", string(role)),
	))
}

func (s *Service) finish(span trace.Span, role Role, op string, err error) {
	outcome := Outcome(err)
	span.SetAttributes(attribute.String("auth.outcome", outcome))
	if outcome == "error" {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	s.observer.ObserveAuth(role, op, outcome)
	if errors.Is(err, ErrTokenReplayed) {
		s.observer.ObserveReplay(role)
	}
}

// RoleAuth runs join, login and refresh for one role.
type RoleAuth struct {
	svc  *Service
	desc Descriptor
}

// Descriptor returns the role configuration.
func (ra *RoleAuth) Descriptor() Descriptor { return ra.desc }

// Join registers a new actor with its first credential and issues a pair.
func (ra *RoleAuth) Join(ctx context.Context, req JoinRequest) (sess *Session, err error) {
	ctx, span := ra.svc.start(ctx, ra.desc.Role, "join")
	defer func() { ra.svc.finish(span, ra.desc.Role, "join", err) }()

	req.normalize()
	if err := req.Validate(ra.desc); err != nil {
		return nil, err
	}

	providerKey := req.Email
	var hash *string
	if req.Local() {
		if err := ra.desc.Policy.Check(req.Password); err != nil {
			return nil, err
		}
		h, err := ra.svc.hasher.Hash(req.Password)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		hash = &h
	} else {
		subject, err := ra.verifyAssertion(ctx, req.Provider, req.Assertion)
		if err != nil {
			return nil, err
		}
		providerKey = subject
	}

	var actor *Actor
	err = ra.svc.store.InTx(ctx, func(ctx context.Context, q Queries) error {
		a, err := ra.svc.registry.Create(ctx, q, ra.desc, req.TenantID, Profile{Email: req.Email, DisplayName: req.DisplayName})
		if err != nil {
			return err
		}
		if _, err := ra.svc.credentials.Create(ctx, q, a.ID, a.Role, req.Provider, providerKey, hash); err != nil {
			return err
		}
		actor = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ra.session(actor)
}

// Login verifies an email and password.
func (ra *RoleAuth) Login(ctx context.Context, email, password string) (sess *Session, err error) {
	ctx, span := ra.svc.start(ctx, ra.desc.Role, "login")
	defer func() { ra.svc.finish(span, ra.desc.Role, "login", err) }()

	cred, err := ra.svc.credentials.Verify(ctx, ra.desc.Role, ProviderLocal, email, password)
	if err != nil {
		return nil, err
	}
	return ra.activeSession(ctx, cred)
}

// LoginFederated authenticates with an external provider assertion.
func (ra *RoleAuth) LoginFederated(ctx context.Context, provider, assertion string) (sess *Session, err error) {
	ctx, span := ra.svc.start(ctx, ra.desc.Role, "login_federated")
	defer func() { ra.svc.finish(span, ra.desc.Role, "login_federated", err) }()

	provider = strings.TrimSpace(provider)
	subject, err := ra.verifyAssertion(ctx, provider, assertion)
	if err != nil {
		return nil, err
	}
	cred, err := ra.svc.credentials.VerifyFederated(ctx, ra.desc.Role, provider, subject)
	if err != nil {
		return nil, err
	}
	return ra.activeSession(ctx, cred)
}

// Refresh exchanges a refresh token for a new pair. The token is consumed.
func (ra *RoleAuth) Refresh(ctx context.Context, refreshToken string) (pair TokenPair, err error) {
	ctx, span := ra.svc.start(ctx, ra.desc.Role, "refresh")
	defer func() { ra.svc.finish(span, ra.desc.Role, "refresh", err) }()

	pair, _, err = ra.svc.refresher.Rotate(ctx, ra.desc.Role, refreshToken)
	return pair, err
}

// Logout consumes a refresh token without replacing it.
func (ra *RoleAuth) Logout(ctx context.Context, refreshToken string) (err error) {
	ctx, span := ra.svc.start(ctx, ra.desc.Role, "logout")
	defer func() { ra.svc.finish(span, ra.desc.Role, "logout", err) }()

	_, err = ra.svc.refresher.Revoke(ctx, ra.desc.Role, refreshToken)
	return err
}

// Me returns the live actor behind p.
func (ra *RoleAuth) Me(ctx context.Context, p Payload) (*Actor, error) {
	if err := Authorize(p, ra.desc.Role); err != nil {
		return nil, err
	}
	return ra.svc.registry.MustBeActive(ctx, p.ActorID)
}

// Link attaches a federated credential to the calling actor.
func (ra *RoleAuth) Link(ctx context.Context, p Payload, provider, assertion string) (err error) {
	ctx, span := ra.svc.start(ctx, ra.desc.Role, "link")
	defer func() { ra.svc.finish(span, ra.desc.Role, "link", err) }()

	if err := Authorize(p, ra.desc.Role); err != nil {
		return err
	}
	provider = strings.TrimSpace(provider)
	if provider == "" || provider == ProviderLocal {
		return invalidField("provider", "must name a federated provider")
	}
	subject, err := ra.verifyAssertion(ctx, provider, assertion)
	if err != nil {
		return err
	}
	return ra.svc.store.InTx(ctx, func(ctx context.Context, q Queries) error {
		actor, err := q.Actors().Find(ctx, p.ActorID)
		if err != nil {
			return err
		}
		if !actor.Active() {
			return ErrAuthorization
		}
		_, err = ra.svc.credentials.Create(ctx, q, actor.ID, actor.Role, provider, subject, nil)
		return err
	})
}

func (ra *RoleAuth) verifyAssertion(ctx context.Context, provider, assertion string) (string, error) {
	if ra.svc.verifier == nil {
		return "", fmt.Errorf("%w: federated providers are not configured", ErrAuthentication)
	}
	return ra.svc.verifier.VerifyAssertion(ctx, provider, assertion)
}

// activeSession issues tokens for the owner of cred. The authentication is
// recorded only once the actor is known to be active.
func (ra *RoleAuth) activeSession(ctx context.Context, cred *Credential) (*Session, error) {
	actor, err := ra.svc.registry.MustBeActive(ctx, cred.ActorID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrAuthentication
	}
	if err != nil {
		return nil, err
	}
	if actor.Role != ra.desc.Role {
		return nil, ErrAuthentication
	}
	if err := ra.svc.credentials.Touch(ctx, cred.ID); err != nil {
		return nil, err
	}
	return ra.session(actor)
}

func (ra *RoleAuth) session(actor *Actor) (*Session, error) {
	pair, err := ra.svc.issuer.Issue(actor.ID, actor.Role, actor.TenantID)
	if err != nil {
		return nil, err
	}
	return &Session{Actor: actor, Tokens: pair}, nil
}

// Actor returns one actor visible to the administrative caller p.
func (s *Service) Actor(ctx context.Context, p Payload, id string) (*Actor, error) {
	if err := s.requireAdmin(p); err != nil {
		return nil, err
	}
	return s.visibleActor(ctx, p, id)
}

// ActorCredentials lists the credentials of an actor visible to p, live and
// soft-deleted, without password hashes.
func (s *Service) ActorCredentials(ctx context.Context, p Payload, id string) ([]CredentialInfo, error) {
	actor, err := s.Actor(ctx, p, id)
	if err != nil {
		return nil, err
	}
	creds, err := s.store.Credentials().ListByActor(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	out := make([]CredentialInfo, 0, len(creds))
	for _, c := range creds {
		out = append(out, c.Info())
	}
	return out, nil
}

// ListActors lists live actors visible to p. Tenant keys in f are replaced
// for tenant-scoped callers.
func (s *Service) ListActors(ctx context.Context, p Payload, f Filter) ([]*Actor, error) {
	if err := s.requireAdmin(p); err != nil {
		return nil, err
	}
	scoped := s.scope.Scope(p, f)
	af := scoped.ActorFilter()
	if raw := strings.TrimSpace(scoped["limit"]); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return nil, invalidField("limit", "must be a non-negative integer")
		}
		af.Limit = n
	}
	return s.registry.List(ctx, af)
}

// Suspend blocks actor id from authenticating.
func (s *Service) Suspend(ctx context.Context, p Payload, id string) (*Actor, error) {
	if err := s.manageable(ctx, p, id); err != nil {
		return nil, err
	}
	defer s.guard.Forget(id)
	return s.registry.Suspend(ctx, id)
}

// Reinstate reactivates actor id.
func (s *Service) Reinstate(ctx context.Context, p Payload, id string) (*Actor, error) {
	if err := s.manageable(ctx, p, id); err != nil {
		return nil, err
	}
	defer s.guard.Forget(id)
	return s.registry.Reinstate(ctx, id)
}

// DeleteActor soft-deletes actor id and its credentials.
func (s *Service) DeleteActor(ctx context.Context, p Payload, id string) error {
	if err := s.manageable(ctx, p, id); err != nil {
		return err
	}
	defer s.guard.Forget(id)
	return s.registry.SoftDelete(ctx, id)
}

func (s *Service) requireAdmin(p Payload) error {
	if p.ActorID == "" {
		return ErrAuthentication
	}
	ra, ok := s.roles[p.Role]
	if !ok || !ra.desc.Administrative {
		return ErrAuthorization
	}
	return nil
}

func (s *Service) visibleActor(ctx context.Context, p Payload, id string) (*Actor, error) {
	actor, err := s.registry.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.DeletedAt != nil || !s.scope.Permits(p, actor.TenantID) {
		return nil, ErrNotFound
	}
	return actor, nil
}

func (s *Service) manageable(ctx context.Context, p Payload, id string) error {
	if err := s.requireAdmin(p); err != nil {
		return err
	}
	if p.ActorID == strings.TrimSpace(id) {
		return invalidField("id", "cannot target the calling actor")
	}
	_, err := s.visibleActor(ctx, p, id)
	return err
}
