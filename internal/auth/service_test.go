package auth_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"actorgate.org/internal/auth"
	"actorgate.org/internal/store/memory"
)

const testSecret = "test-signing-secret"

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu       sync.Mutex
	outcomes map[string]int
	replays  int
}

func (r *recorder) ObserveAuth(role auth.Role, op, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes == nil {
		r.outcomes = map[string]int{}
	}
	r.outcomes[string(role)+"/"+op+"/"+outcome]++
}

func (r *recorder) ObserveReplay(auth.Role) {
	r.mu.Lock()
	r.replays++
	r.mu.Unlock()
}

type fixture struct {
	svc   *auth.Service
	store *memory.Store
	clock *clock
}

func newFixture(t *testing.T, opts ...auth.ServiceOption) *fixture {
	t.Helper()
	c := newClock()
	issuer, err := auth.NewIssuer(testSecret,
		auth.WithIssuerClock(c.Now),
		auth.WithAccessTTL(15*time.Minute),
		auth.WithRefreshTTL(24*time.Hour),
	)
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	store := memory.New()
	opts = append([]auth.ServiceOption{auth.WithClock(c.Now), auth.WithHashCost(4)}, opts...)
	svc, err := auth.NewService(store, issuer, opts...)
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	return &fixture{svc: svc, store: store, clock: c}
}

func (f *fixture) role(t *testing.T, r auth.Role) *auth.RoleAuth {
	t.Helper()
	ra, err := f.svc.For(r)
	if err != nil {
		t.Fatalf("role %s: %v", r, err)
	}
	return ra
}

func (f *fixture) join(t *testing.T, r auth.Role, req auth.JoinRequest) *auth.Session {
	t.Helper()
	sess, err := f.role(t, r).Join(context.Background(), req)
	if err != nil {
		t.Fatalf("join %s %s: %v", r, req.Email, err)
	}
	return sess
}

func (f *fixture) payload(t *testing.T, sess *auth.Session) auth.Payload {
	t.Helper()
	p, err := f.svc.Guard().Resolve(context.Background(), sess.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	return p
}

func (f *fixture) actorCount(t *testing.T) int {
	t.Helper()
	list, err := f.store.Actors().List(context.Background(), auth.ActorFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	return len(list)
}

func local(email, tenant string) auth.JoinRequest {
	return auth.JoinRequest{Email: email, Password: "Passw0rd!", DisplayName: "Test", TenantID: tenant}
}

func TestJoinLoginRotateScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	member := f.role(t, auth.RoleMember)

	joined := f.join(t, auth.RoleMember, auth.JoinRequest{Email: "u1@x.com", Password: "Passw0rd!"})
	if joined.Tokens.AccessToken == "" || joined.Tokens.RefreshToken == "" {
		t.Fatalf("join returned empty tokens: %#v", joined.Tokens)
	}

	login, err := member.Login(ctx, "u1@x.com", "Passw0rd!")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if login.Actor.ID != joined.Actor.ID {
		t.Fatalf("login actor %s, joined %s", login.Actor.ID, joined.Actor.ID)
	}

	rotated, err := member.Refresh(ctx, login.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if rotated.AccessToken == login.Tokens.AccessToken {
		t.Fatal("rotation returned the same access token")
	}

	if _, err := member.Refresh(ctx, login.Tokens.RefreshToken); !errors.Is(err, auth.ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication on replay, got %v", err)
	}
	if _, err := member.Refresh(ctx, rotated.RefreshToken); err != nil {
		t.Fatalf("rotated token should still refresh: %v", err)
	}
}

func TestDuplicateJoinConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	member := f.role(t, auth.RoleMember)

	f.join(t, auth.RoleMember, local("dup@x.com", ""))
	if _, err := member.Join(ctx, local("DUP@x.com ", "")); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if n := f.actorCount(t); n != 1 {
		t.Fatalf("failed join left actors behind: %d", n)
	}
}

func TestSameEmailAcrossRolesIsIndependent(t *testing.T) {
	f := newFixture(t)
	a := f.join(t, auth.RoleMember, local("shared@x.com", ""))
	b := f.join(t, auth.RoleNurse, local("shared@x.com", "clinic-1"))
	if a.Actor.ID == b.Actor.ID {
		t.Fatal("roles share an actor")
	}
}

func TestFailedJoinLeavesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cases := []struct {
		name  string
		role  auth.Role
		req   auth.JoinRequest
		field string
	}{
		{"bad email", auth.RoleMember, auth.JoinRequest{Email: "nope", Password: "Passw0rd!"}, "email"},
		{"email without domain", auth.RoleMember, auth.JoinRequest{Email: "user@", Password: "Passw0rd!"}, "email"},
		{"email with space", auth.RoleMember, auth.JoinRequest{Email: "a b@x.com", Password: "Passw0rd!"}, "email"},
		{"weak password", auth.RoleMember, auth.JoinRequest{Email: "w@x.com", Password: "short"}, "password"},
		{"no digit", auth.RoleMember, auth.JoinRequest{Email: "w@x.com", Password: "passwordonly"}, "password"},
		{"missing tenant", auth.RoleNurse, auth.JoinRequest{Email: "n@x.com", Password: "Passw0rd!"}, "tenant_id"},
		{"tenant on global role", auth.RolePatient, auth.JoinRequest{Email: "p@x.com", Password: "Passw0rd!", TenantID: "t1"}, "tenant_id"},
		{"assertion without provider", auth.RoleMember, auth.JoinRequest{Email: "a@x.com", Password: "Passw0rd!", Assertion: "x"}, "assertion"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.role(t, tc.role).Join(ctx, tc.req)
			var verr *auth.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if _, ok := verr.Fields[tc.field]; !ok {
				t.Fatalf("expected field %q in %v", tc.field, verr.Fields)
			}
			if !errors.Is(err, auth.ErrValidation) {
				t.Fatalf("ValidationError must match ErrValidation")
			}
		})
	}
	if n := f.actorCount(t); n != 0 {
		t.Fatalf("expected no actors, got %d", n)
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	member := f.role(t, auth.RoleMember)
	f.join(t, auth.RoleMember, local("known@x.com", ""))

	_, errWrong := member.Login(ctx, "known@x.com", "Wrong0pass!")
	_, errMissing := member.Login(ctx, "unknown@x.com", "Passw0rd!")
	if !errors.Is(errWrong, auth.ErrAuthentication) || !errors.Is(errMissing, auth.ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication, got %v / %v", errWrong, errMissing)
	}
	if errWrong.Error() != errMissing.Error() {
		t.Fatalf("errors differ: %q vs %q", errWrong, errMissing)
	}
	if _, err := f.role(t, auth.RoleModerator).Login(ctx, "known@x.com", "Passw0rd!"); !errors.Is(err, auth.ErrAuthentication) {
		t.Fatalf("login under another role should fail, got %v", err)
	}
}

func TestLoginRecordsLastAuthenticated(t *testing.T) {
	f := newFixture(t)
	sess := f.join(t, auth.RoleMember, local("seen@x.com", ""))
	f.clock.Advance(time.Minute)
	if _, err := f.role(t, auth.RoleMember).Login(context.Background(), "seen@x.com", "Passw0rd!"); err != nil {
		t.Fatalf("login: %v", err)
	}
	creds, err := f.store.Credentials().ListByActor(context.Background(), sess.Actor.ID)
	if err != nil || len(creds) != 1 {
		t.Fatalf("credentials: %v %d", err, len(creds))
	}
	if creds[0].LastAuthenticatedAt == nil || !creds[0].LastAuthenticatedAt.Equal(f.clock.Now()) {
		t.Fatalf("last authenticated not recorded: %v", creds[0].LastAuthenticatedAt)
	}
	if creds[0].PasswordHash == nil || *creds[0].PasswordHash == "Passw0rd!" {
		t.Fatal("password stored in plaintext")
	}
}

func TestTokenOrdering(t *testing.T) {
	f := newFixture(t)
	sess := f.join(t, auth.RoleMember, local("order@x.com", ""))
	pair := sess.Tokens
	if pair.ExpiresAt.Before(pair.IssuedAt) || !pair.ExpiresAt.Before(pair.RefreshableUntil) {
		t.Fatalf("bad ordering: %v %v %v", pair.IssuedAt, pair.ExpiresAt, pair.RefreshableUntil)
	}
	if got := pair.RefreshableUntil.Sub(pair.IssuedAt); got != 24*time.Hour {
		t.Fatalf("refresh window %v", got)
	}
}

func TestRotationExtendsExpiryWithoutElapsedTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	member := f.role(t, auth.RoleMember)
	prev := f.join(t, auth.RoleMember, local("extend@x.com", "")).Tokens

	for i := 0; i < 3; i++ {
		next, err := member.Refresh(ctx, prev.RefreshToken)
		if err != nil {
			t.Fatalf("refresh %d: %v", i, err)
		}
		if !next.ExpiresAt.After(prev.ExpiresAt) || !next.RefreshableUntil.After(prev.RefreshableUntil) {
			t.Fatalf("rotation %d did not extend: %v/%v -> %v/%v", i, prev.ExpiresAt, prev.RefreshableUntil, next.ExpiresAt, next.RefreshableUntil)
		}
		prev = next
	}
}

func TestRefreshRejectsWrongTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	member := f.role(t, auth.RoleMember)
	sess := f.join(t, auth.RoleMember, local("wrong@x.com", ""))

	if _, err := member.Refresh(ctx, sess.Tokens.AccessToken); !errors.Is(err, auth.ErrAuthentication) {
		t.Fatalf("access token accepted as refresh: %v", err)
	}
	if _, err := f.role(t, auth.RoleModerator).Refresh(ctx, sess.Tokens.RefreshToken); !errors.Is(err, auth.ErrAuthentication) {
		t.Fatalf("refresh under another role: %v", err)
	}
	if _, err := member.Refresh(ctx, "garbage"); !errors.Is(err, auth.ErrAuthentication) {
		t.Fatalf("garbage accepted: %v", err)
	}
	// Rejections above must not consume the token.
	if _, err := member.Refresh(ctx, sess.Tokens.RefreshToken); err != nil {
		t.Fatalf("token consumed by rejected attempts: %v", err)
	}
}

func TestRefreshAfterWindowFails(t *testing.T) {
	f := newFixture(t)
	sess := f.join(t, auth.RoleMember, local("late@x.com", ""))
	f.clock.Advance(24*time.Hour + time.Second)
	if _, err := f.role(t, auth.RoleMember).Refresh(context.Background(), sess.Tokens.RefreshToken); !errors.Is(err, auth.ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication, got %v", err)
	}
}

func TestConcurrentJoinSameEmail(t *testing.T) {
	f := newFixture(t)
	member := f.role(t, auth.RoleMember)
	const n = 16

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok        int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := member.Join(context.Background(), local("race@x.com", ""))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, auth.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if ok != 1 || conflicts != n-1 {
		t.Fatalf("ok=%d conflicts=%d", ok, conflicts)
	}
	if c := f.actorCount(t); c != 1 {
		t.Fatalf("actors=%d", c)
	}
}

func TestConcurrentRefreshSingleWinner(t *testing.T) {
	rec := &recorder{}
	f := newFixture(t, auth.WithObserver(rec))
	member := f.role(t, auth.RoleMember)
	token := f.join(t, auth.RoleMember, local("spin@x.com", "")).Tokens.RefreshToken
	const n = 16

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		replays int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := member.Refresh(context.Background(), token)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, auth.ErrTokenReplayed):
				replays++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if ok != 1 || replays != n-1 {
		t.Fatalf("ok=%d replays=%d", ok, replays)
	}
	if rec.replays != n-1 {
		t.Fatalf("observer saw %d replays", rec.replays)
	}
	if rec.outcomes["member/refresh/success"] != 1 {
		t.Fatalf("outcomes: %v", rec.outcomes)
	}
}

func TestSuspendedActorCannotAuthenticate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.payload(t, f.join(t, auth.RoleAdmin, local("root@x.com", "")))
	member := f.role(t, auth.RoleMember)
	sess := f.join(t, auth.RoleMember, local("bad@x.com", ""))

	if _, err := f.svc.Suspend(ctx, admin, sess.Actor.ID); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	if _, err := member.Login(ctx, "bad@x.com", "Passw0rd!"); !errors.Is(err, auth.ErrAuthorization) {
		t.Fatalf("login while suspended: %v", err)
	}
	creds, err := f.store.Credentials().ListByActor(ctx, sess.Actor.ID)
	if err != nil || len(creds) != 1 {
		t.Fatalf("credentials: %v %d", err, len(creds))
	}
	if creds[0].LastAuthenticatedAt != nil {
		t.Fatalf("rejected login recorded as authenticated at %v", creds[0].LastAuthenticatedAt)
	}
	if _, err := member.Refresh(ctx, sess.Tokens.RefreshToken); !errors.Is(err, auth.ErrAuthorization) {
		t.Fatalf("refresh while suspended: %v", err)
	}

	if _, err := f.svc.Reinstate(ctx, admin, sess.Actor.ID); err != nil {
		t.Fatalf("reinstate: %v", err)
	}
	if _, err := member.Refresh(ctx, sess.Tokens.RefreshToken); err != nil {
		t.Fatalf("refresh token consumed while suspended: %v", err)
	}
}

func TestSoftDeleteReleasesEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.payload(t, f.join(t, auth.RoleAdmin, local("root@x.com", "")))
	member := f.role(t, auth.RoleMember)
	a := f.join(t, auth.RoleMember, local("a@x.com", ""))

	if err := f.svc.DeleteActor(ctx, admin, a.Actor.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := member.Login(ctx, "a@x.com", "Passw0rd!"); !errors.Is(err, auth.ErrAuthentication) {
		t.Fatalf("deleted actor logged in: %v", err)
	}
	if _, err := member.Refresh(ctx, a.Tokens.RefreshToken); err == nil {
		t.Fatal("deleted actor refreshed")
	}

	b := f.join(t, auth.RoleMember, local("a@x.com", ""))
	if b.Actor.ID == a.Actor.ID {
		t.Fatal("re-registration reused the deleted actor")
	}
	login, err := member.Login(ctx, "a@x.com", "Passw0rd!")
	if err != nil || login.Actor.ID != b.Actor.ID {
		t.Fatalf("login after re-registration: %v", err)
	}
	if _, err := f.svc.Actor(ctx, admin, a.Actor.ID); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("deleted actor visible: %v", err)
	}
	if err := f.svc.DeleteActor(ctx, admin, a.Actor.ID); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("double delete: %v", err)
	}
}

func TestTenantScopeIsNotBypassable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	orgAdmin := f.payload(t, f.join(t, auth.RoleOrganizationAdmin, local("oa@x.com", "t1")))
	own := f.join(t, auth.RoleNurse, local("n1@x.com", "t1"))
	other := f.join(t, auth.RoleNurse, local("n2@x.com", "t2"))

	for _, filter := range []auth.Filter{
		{"tenant_id": "t2"},
		{"organization_id": "t2", "role": "nurse"},
		{},
	} {
		list, err := f.svc.ListActors(ctx, orgAdmin, filter)
		if err != nil {
			t.Fatalf("list %v: %v", filter, err)
		}
		if len(list) == 0 {
			t.Fatalf("list %v returned nothing", filter)
		}
		for _, a := range list {
			if a.TenantID != "t1" {
				t.Fatalf("filter %v leaked actor of tenant %s", filter, a.TenantID)
			}
		}
	}

	if _, err := f.svc.Actor(ctx, orgAdmin, other.Actor.ID); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("cross-tenant read: %v", err)
	}
	if _, err := f.svc.ActorCredentials(ctx, orgAdmin, other.Actor.ID); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("cross-tenant credentials: %v", err)
	}
	creds, err := f.svc.ActorCredentials(ctx, orgAdmin, own.Actor.ID)
	if err != nil || len(creds) != 1 || creds[0].ProviderKey != "n1@x.com" {
		t.Fatalf("same-tenant credentials: %v %v", err, creds)
	}
	if _, err := f.svc.Suspend(ctx, orgAdmin, other.Actor.ID); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("cross-tenant suspend: %v", err)
	}
	if _, err := f.svc.Suspend(ctx, orgAdmin, own.Actor.ID); err != nil {
		t.Fatalf("same-tenant suspend: %v", err)
	}

	root := f.payload(t, f.join(t, auth.RoleSystemAdmin, local("sys@x.com", "")))
	list, err := f.svc.ListActors(ctx, root, auth.Filter{"tenant_id": "t2"})
	if err != nil || len(list) != 1 || list[0].ID != other.Actor.ID {
		t.Fatalf("global admin filter: %v %v", err, list)
	}
}

func TestAdminOperationsRequireAdministrativeRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	caller := f.payload(t, f.join(t, auth.RoleMember, local("m@x.com", "")))
	target := f.join(t, auth.RoleMember, local("t@x.com", ""))

	if _, err := f.svc.ListActors(ctx, caller, nil); !errors.Is(err, auth.ErrAuthorization) {
		t.Fatalf("list: %v", err)
	}
	if _, err := f.svc.Suspend(ctx, caller, target.Actor.ID); !errors.Is(err, auth.ErrAuthorization) {
		t.Fatalf("suspend: %v", err)
	}
	if _, err := f.svc.ActorCredentials(ctx, caller, target.Actor.ID); !errors.Is(err, auth.ErrAuthorization) {
		t.Fatalf("credentials: %v", err)
	}
	if err := f.svc.DeleteActor(ctx, auth.Payload{}, target.Actor.ID); !errors.Is(err, auth.ErrAuthentication) {
		t.Fatalf("anonymous delete: %v", err)
	}

	admin := f.payload(t, f.join(t, auth.RoleAdmin, local("root@x.com", "")))
	if err := f.svc.DeleteActor(ctx, admin, admin.ActorID); !errors.Is(err, auth.ErrValidation) {
		t.Fatalf("self delete: %v", err)
	}
	if _, err := f.svc.ListActors(ctx, admin, auth.Filter{"limit": "-1"}); !errors.Is(err, auth.ErrValidation) {
		t.Fatalf("bad limit: %v", err)
	}
}

func TestLogoutConsumesRefreshToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	member := f.role(t, auth.RoleMember)
	sess := f.join(t, auth.RoleMember, local("bye@x.com", ""))

	if err := member.Logout(ctx, sess.Tokens.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if err := member.Logout(ctx, sess.Tokens.RefreshToken); err != nil {
		t.Fatalf("second logout: %v", err)
	}
	if _, err := member.Refresh(ctx, sess.Tokens.RefreshToken); !errors.Is(err, auth.ErrTokenReplayed) {
		t.Fatalf("refresh after logout: %v", err)
	}
}

func TestGuardLiveness(t *testing.T) {
	ctx := context.Background()

	stateless := newFixture(t)
	admin := stateless.payload(t, stateless.join(t, auth.RoleAdmin, local("root@x.com", "")))
	sess := stateless.join(t, auth.RoleMember, local("m@x.com", ""))
	if _, err := stateless.svc.Suspend(ctx, admin, sess.Actor.ID); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	if _, err := stateless.svc.Guard().Resolve(ctx, sess.Tokens.AccessToken); err != nil {
		t.Fatalf("stateless guard should accept until expiry: %v", err)
	}

	live := newFixture(t, auth.WithLivenessCheck(time.Minute))
	admin = live.payload(t, live.join(t, auth.RoleAdmin, local("root@x.com", "")))
	sess = live.join(t, auth.RoleMember, local("m@x.com", ""))
	if _, err := live.svc.Guard().Resolve(ctx, sess.Tokens.AccessToken); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := live.svc.Suspend(ctx, admin, sess.Actor.ID); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	if _, err := live.svc.Guard().Resolve(ctx, sess.Tokens.AccessToken); !errors.Is(err, auth.ErrAuthorization) {
		t.Fatalf("expected ErrAuthorization, got %v", err)
	}
}

func TestMeRequiresMatchingRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.join(t, auth.RoleMember, local("me@x.com", ""))
	p := f.payload(t, sess)

	actor, err := f.role(t, auth.RoleMember).Me(ctx, p)
	if err != nil || actor.ID != sess.Actor.ID {
		t.Fatalf("me: %v", err)
	}
	if _, err := f.role(t, auth.RoleModerator).Me(ctx, p); !errors.Is(err, auth.ErrAuthorization) {
		t.Fatalf("expected ErrAuthorization, got %v", err)
	}
}

func TestPurgeRotations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	member := f.role(t, auth.RoleMember)
	sess := f.join(t, auth.RoleMember, local("purge@x.com", ""))
	if _, err := member.Refresh(ctx, sess.Tokens.RefreshToken); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if n, err := f.svc.PurgeRotations(ctx); err != nil || n != 0 {
		t.Fatalf("purged live marker: %d %v", n, err)
	}
	f.clock.Advance(25 * time.Hour)
	if n, err := f.svc.PurgeRotations(ctx); err != nil || n != 1 {
		t.Fatalf("purge: %d %v", n, err)
	}
}

func assertion(t *testing.T, provider, secret, subject string, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    provider,
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign assertion: %v", err)
	}
	return signed
}

func TestFederatedJoinLoginAndLink(t *testing.T) {
	c := newClock()
	verifier := auth.NewJWTAssertionVerifier(map[string]string{"acme": "acme-secret"}, c.Now)
	f := newFixture(t, auth.WithAssertionVerifier(verifier))
	ctx := context.Background()
	member := f.role(t, auth.RoleMember)
	exp := c.Now().Add(5 * time.Minute)

	joined, err := member.Join(ctx, auth.JoinRequest{
		Email:     "fed@x.com",
		Provider:  "acme",
		Assertion: assertion(t, "acme", "acme-secret", "acme-42", exp),
	})
	if err != nil {
		t.Fatalf("federated join: %v", err)
	}
	login, err := member.LoginFederated(ctx, "acme", assertion(t, "acme", "acme-secret", "acme-42", exp))
	if err != nil || login.Actor.ID != joined.Actor.ID {
		t.Fatalf("federated login: %v", err)
	}
	if _, err := member.LoginFederated(ctx, "acme", assertion(t, "acme", "forged", "acme-42", exp)); !errors.Is(err, auth.ErrAuthentication) {
		t.Fatalf("forged assertion: %v", err)
	}
	if _, err := member.Join(ctx, auth.JoinRequest{Email: "fed2@x.com", Provider: "acme", Password: "Passw0rd!"}); !errors.Is(err, auth.ErrValidation) {
		t.Fatalf("password with federated provider: %v", err)
	}

	linked := f.join(t, auth.RoleMember, local("linked@x.com", ""))
	p := f.payload(t, linked)
	if err := member.Link(ctx, p, "acme", assertion(t, "acme", "acme-secret", "acme-77", exp)); err != nil {
		t.Fatalf("link: %v", err)
	}
	viaLink, err := member.LoginFederated(ctx, "acme", assertion(t, "acme", "acme-secret", "acme-77", exp))
	if err != nil || viaLink.Actor.ID != linked.Actor.ID {
		t.Fatalf("login via linked credential: %v", err)
	}
	if err := member.Link(ctx, p, "acme", assertion(t, "acme", "acme-secret", "acme-42", exp)); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("linking a taken subject: %v", err)
	}
}

func TestFederatedDisabledWithoutVerifier(t *testing.T) {
	f := newFixture(t)
	_, err := f.role(t, auth.RoleMember).LoginFederated(context.Background(), "acme", "token")
	if !errors.Is(err, auth.ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication, got %v", err)
	}
}

func TestUnknownRole(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.For(auth.Role("wizard")); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestNewServiceRejectsDuplicateDescriptors(t *testing.T) {
	issuer, err := auth.NewIssuer(testSecret)
	if err != nil {
		t.Fatal(err)
	}
	d := auth.Descriptor{Role: auth.RoleMember, Policy: auth.DefaultPasswordPolicy()}
	if _, err := auth.NewService(memory.New(), issuer, auth.WithDescriptors(d, d)); err == nil {
		t.Fatal("expected duplicate descriptor error")
	}
}

func TestEveryBuiltinRoleCanJoin(t *testing.T) {
	f := newFixture(t)
	for i, d := range auth.Roles() {
		tenant := ""
		if d.TenantScoped {
			tenant = "t1"
		}
		sess := f.join(t, d.Role, local(fmt.Sprintf("r%d@x.com", i), tenant))
		p := f.payload(t, sess)
		if p.Role != d.Role || p.TenantID != tenant {
			t.Fatalf("role %s payload %#v", d.Role, p)
		}
	}
}
