package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"actorgate.org/internal/auth"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "actorgate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })
	return store
}

func newService(t *testing.T, store *Store) *auth.Service {
	t.Helper()
	issuer, err := auth.NewIssuer("sqlite-secret")
	require.NoError(t, err)
	svc, err := auth.NewService(store, issuer, auth.WithHashCost(4))
	require.NoError(t, err)
	return svc
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ")
	require.Error(t, err)
}

func TestCloseNilSafe(t *testing.T) {
	var store *Store
	require.NoError(t, store.Close())
}

func TestActorRoundTrip(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	created := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.Actors().Create(ctx, &auth.Actor{
		ID: "a1", Role: auth.RoleNurse, TenantID: "t1", Email: "n@x.com", DisplayName: "N",
		Status: auth.StatusActive, CreatedAt: created, UpdatedAt: created,
	}))
	got, err := store.Actors().Find(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, auth.RoleNurse, got.Role)
	require.Equal(t, "t1", got.TenantID)
	require.True(t, got.CreatedAt.Equal(created))
	require.Nil(t, got.DeletedAt)

	suspended, err := store.Actors().UpdateStatus(ctx, "a1", auth.StatusSuspended, created.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, auth.StatusSuspended, suspended.Status)

	_, err = store.Actors().Find(ctx, "nope")
	require.ErrorIs(t, err, auth.ErrNotFound)
}

func TestListFiltersAndExcludesDeleted(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	for _, a := range []auth.Actor{
		{ID: "a1", Role: auth.RoleNurse, TenantID: "t1", Status: auth.StatusActive},
		{ID: "a2", Role: auth.RoleNurse, TenantID: "t2", Status: auth.StatusActive},
		{ID: "a3", Role: auth.RolePatient, Status: auth.StatusActive},
	} {
		a.CreatedAt, a.UpdatedAt = now, now
		require.NoError(t, store.Actors().Create(ctx, &a))
	}
	require.NoError(t, store.Actors().SoftDelete(ctx, "a3", now))
	require.ErrorIs(t, store.Actors().SoftDelete(ctx, "a3", now), auth.ErrNotFound)

	all, err := store.Actors().List(ctx, auth.ActorFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)

	t1, err := store.Actors().List(ctx, auth.ActorFilter{Role: auth.RoleNurse, TenantID: "t1"})
	require.NoError(t, err)
	require.Len(t, t1, 1)
	require.Equal(t, "a1", t1[0].ID)

	limited, err := store.Actors().List(ctx, auth.ActorFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
}

func TestJoinConflictAndSoftDeleteRelease(t *testing.T) {
	store := openTempStore(t)
	svc := newService(t, store)
	ctx := context.Background()
	member, err := svc.For(auth.RoleMember)
	require.NoError(t, err)

	first, err := member.Join(ctx, auth.JoinRequest{Email: "dup@x.com", Password: "Passw0rd!"})
	require.NoError(t, err)
	_, err = member.Join(ctx, auth.JoinRequest{Email: "dup@x.com", Password: "Passw0rd!"})
	require.ErrorIs(t, err, auth.ErrConflict)

	list, err := store.Actors().List(ctx, auth.ActorFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1, "failed join must not leave an actor")

	admin, err := svc.For(auth.RoleAdmin)
	require.NoError(t, err)
	root, err := admin.Join(ctx, auth.JoinRequest{Email: "root@x.com", Password: "Passw0rd!"})
	require.NoError(t, err)
	p, err := svc.Guard().Resolve(ctx, root.Tokens.AccessToken)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteActor(ctx, p, first.Actor.ID))
	second, err := member.Join(ctx, auth.JoinRequest{Email: "dup@x.com", Password: "Passw0rd!"})
	require.NoError(t, err)
	require.NotEqual(t, first.Actor.ID, second.Actor.ID)

	creds, err := store.Credentials().ListByActor(ctx, first.Actor.ID)
	require.NoError(t, err)
	require.Len(t, creds, 1)
	require.NotNil(t, creds[0].DeletedAt)
}

func TestConcurrentJoinAndRefresh(t *testing.T) {
	store := openTempStore(t)
	svc := newService(t, store)
	ctx := context.Background()
	member, err := svc.For(auth.RoleMember)
	require.NoError(t, err)

	const n = 8
	var (
		wg                      sync.WaitGroup
		mu                      sync.Mutex
		joined, conflicts, errs int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := member.Join(ctx, auth.JoinRequest{Email: "race@x.com", Password: "Passw0rd!"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				joined++
			case errors.Is(err, auth.ErrConflict):
				conflicts++
			default:
				errs++
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, joined)
	require.Equal(t, n-1, conflicts)
	require.Zero(t, errs)

	sess, err := member.Login(ctx, "race@x.com", "Passw0rd!")
	require.NoError(t, err)

	var rotated, replayed int
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := member.Refresh(ctx, sess.Tokens.RefreshToken)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				rotated++
			case errors.Is(err, auth.ErrTokenReplayed):
				replayed++
			default:
				errs++
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, rotated)
	require.Equal(t, n-1, replayed)
	require.Zero(t, errs)
}

func TestRotationMarkers(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	r := auth.Rotation{TokenID: "j1", ActorID: "a1", UsedAt: now, ExpiresAt: now.Add(time.Hour)}

	ok, err := store.Rotations().MarkUsed(ctx, r)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = store.Rotations().MarkUsed(ctx, r)
	require.NoError(t, err)
	require.False(t, ok)

	n, err := store.Rotations().PurgeExpired(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestInTxRollsBack(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	boom := errors.New("boom")
	now := time.Now().UTC()
	err := store.InTx(ctx, func(ctx context.Context, q auth.Queries) error {
		require.NoError(t, q.Actors().Create(ctx, &auth.Actor{ID: "a1", Role: auth.RoleMember, Status: auth.StatusActive, CreatedAt: now, UpdatedAt: now}))
		return boom
	})
	require.ErrorIs(t, err, boom)
	_, err = store.Actors().Find(ctx, "a1")
	require.ErrorIs(t, err, auth.ErrNotFound)
}
