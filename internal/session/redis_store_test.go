package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"marginalia/api/internal/store"
)

func testStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rs, err := NewRedisStore("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	t.Cleanup(func() { rs.Close() })
	return rs, mr
}

func testUser() store.User {
	return store.User{ID: "usr_1", DisplayName: "Ada", Email: "ada@example.org", Role: "author"}
}

func TestSaveAndLookup(t *testing.T) {
	rs, _ := testStore(t)
	ctx := context.Background()

	if err := rs.SaveRefreshSession(ctx, "hash_1", testUser(), time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession: %v", err)
	}

	user, err := rs.LookupRefreshSession(ctx, "hash_1")
	if err != nil {
		t.Fatalf("LookupRefreshSession: %v", err)
	}
	if user.ID != "usr_1" || user.DisplayName != "Ada" || user.Role != "author" {
		t.Fatalf("user = %+v", user)
	}
}

func TestLookupUnknownHash(t *testing.T) {
	rs, _ := testStore(t)
	if _, err := rs.LookupRefreshSession(context.Background(), "no-such"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestLookupAfterExpiry(t *testing.T) {
	rs, mr := testStore(t)
	ctx := context.Background()

	if err := rs.SaveRefreshSession(ctx, "hash_1", testUser(), time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("SaveRefreshSession: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	if _, err := rs.LookupRefreshSession(ctx, "hash_1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound after expiry", err)
	}
}

func TestSaveRejectsPastExpiry(t *testing.T) {
	rs, _ := testStore(t)
	err := rs.SaveRefreshSession(context.Background(), "hash_1", testUser(), time.Now().Add(-time.Second))
	if err == nil {
		t.Fatal("expected error for expired session")
	}
}

func TestRevoke(t *testing.T) {
	rs, _ := testStore(t)
	ctx := context.Background()

	if err := rs.SaveRefreshSession(ctx, "hash_1", testUser(), time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession: %v", err)
	}
	if err := rs.RevokeRefreshSession(ctx, "hash_1"); err != nil {
		t.Fatalf("RevokeRefreshSession: %v", err)
	}
	if _, err := rs.LookupRefreshSession(ctx, "hash_1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound after revoke", err)
	}
}
