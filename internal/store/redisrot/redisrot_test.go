package redisrot

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"actorgate.org/internal/auth"
)

// These tests need a live server: ACTORGATE_TEST_REDIS_URL=redis://localhost:6379/15
func dialTest(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("ACTORGATE_TEST_REDIS_URL")
	if url == "" {
		t.Skip("ACTORGATE_TEST_REDIS_URL not set")
	}
	s, err := Dial(context.Background(), url, WithPrefix("actorgate-test:"+uuid.NewString()+":"))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMarkUsedOnce(t *testing.T) {
	s := dialTest(t)
	ctx := context.Background()
	r := auth.Rotation{TokenID: "j1", ActorID: "a1", UsedAt: time.Now(), ExpiresAt: time.Now().Add(time.Minute)}

	ok, err := s.MarkUsed(ctx, r)
	if err != nil || !ok {
		t.Fatalf("first mark: %v %v", ok, err)
	}
	ok, err = s.MarkUsed(ctx, r)
	if err != nil || ok {
		t.Fatalf("second mark: %v %v", ok, err)
	}
	ttl, err := s.client.TTL(ctx, s.key("j1")).Result()
	if err != nil || ttl <= 0 || ttl > time.Minute {
		t.Fatalf("ttl: %v %v", ttl, err)
	}
}

func TestConcurrentMarkSingleWinner(t *testing.T) {
	s := dialTest(t)
	ctx := context.Background()
	r := auth.Rotation{TokenID: "race", ActorID: "a1", ExpiresAt: time.Now().Add(time.Minute)}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.MarkUsed(ctx, r)
			if err != nil {
				t.Errorf("mark: %v", err)
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("wins=%d", wins)
	}
}

func TestDialRejectsBadURL(t *testing.T) {
	if _, err := Dial(context.Background(), "://nope"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestKeyPrefix(t *testing.T) {
	s := New(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), WithPrefix("p:"))
	defer s.Close()
	if got := s.key("abc"); got != "p:abc" {
		t.Fatalf("key = %q", got)
	}
	if n, err := s.PurgeExpired(context.Background(), time.Now()); n != 0 || err != nil {
		t.Fatalf("purge: %d %v", n, err)
	}
}
