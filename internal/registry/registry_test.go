package registry

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
)

func newRedisRegistry(t *testing.T) *Registry {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	store, err := NewRedisStore(fmt.Sprintf("redis://%s/0", mr.Addr()))
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(store)
}

func newFileRegistry(t *testing.T) *Registry {
	t.Helper()
	return New(NewFileStore(filepath.Join(t.TempDir(), "users.json")))
}

func eachRegistry(t *testing.T, fn func(t *testing.T, r *Registry)) {
	t.Run("redis", func(t *testing.T) { fn(t, newRedisRegistry(t)) })
	t.Run("file", func(t *testing.T) { fn(t, newFileRegistry(t)) })
}

func TestRegisterRoundTrip(t *testing.T) {
	eachRegistry(t, func(t *testing.T, r *Registry) {
		ctx := context.Background()
		if err := r.Register(ctx, "room1", "m1", "alice_cf"); err != nil {
			t.Fatalf("Register: %v", err)
		}
		rec, err := r.Get(ctx, "room1", "m1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if rec.Handle != "alice_cf" || rec.Points != 0 {
			t.Fatalf("unexpected record: %+v", rec)
		}
	})
}

func TestRegisterTwiceRejected(t *testing.T) {
	eachRegistry(t, func(t *testing.T, r *Registry) {
		ctx := context.Background()
		if err := r.Register(ctx, "room1", "m1", "alice"); err != nil {
			t.Fatalf("Register: %v", err)
		}
		if err := r.Register(ctx, "room1", "m1", "other"); !errors.Is(err, ErrAlreadyRegistered) {
			t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
		}
	})
}

func TestHandleConflictCaseInsensitive(t *testing.T) {
	eachRegistry(t, func(t *testing.T, r *Registry) {
		ctx := context.Background()
		if err := r.Register(ctx, "room1", "m1", "Alice"); err != nil {
			t.Fatalf("Register: %v", err)
		}
		if err := r.Register(ctx, "room1", "m2", "aLiCe"); !errors.Is(err, ErrHandleConflict) {
			t.Fatalf("expected ErrHandleConflict, got %v", err)
		}
		// same handle in another room is fine
		if err := r.Register(ctx, "room2", "m2", "alice"); err != nil {
			t.Fatalf("Register other room: %v", err)
		}
	})
}

func TestUpdateHandle(t *testing.T) {
	eachRegistry(t, func(t *testing.T, r *Registry) {
		ctx := context.Background()
		if err := r.UpdateHandle(ctx, "room1", "m1", "new"); !errors.Is(err, ErrNotRegistered) {
			t.Fatalf("expected ErrNotRegistered, got %v", err)
		}
		if err := r.Register(ctx, "room1", "m1", "alice"); err != nil {
			t.Fatalf("Register: %v", err)
		}
		if err := r.UpdateHandle(ctx, "room1", "m1", "ALICE"); !errors.Is(err, ErrHandleUnchanged) {
			t.Fatalf("expected ErrHandleUnchanged, got %v", err)
		}
		if err := r.Register(ctx, "room1", "m2", "bob"); err != nil {
			t.Fatalf("Register m2: %v", err)
		}
		if err := r.UpdateHandle(ctx, "room1", "m1", "bob"); !errors.Is(err, ErrHandleConflict) {
			t.Fatalf("expected ErrHandleConflict, got %v", err)
		}
		if err := r.UpdateHandle(ctx, "room1", "m1", "carol"); err != nil {
			t.Fatalf("UpdateHandle: %v", err)
		}
		rec, err := r.Get(ctx, "room1", "m1")
		if err != nil || rec.Handle != "carol" {
			t.Fatalf("Get after update: %+v %v", rec, err)
		}
	})
}

func TestAwardAccumulates(t *testing.T) {
	eachRegistry(t, func(t *testing.T, r *Registry) {
		ctx := context.Background()
		if err := r.Register(ctx, "room1", "m1", "alice"); err != nil {
			t.Fatalf("Register: %v", err)
		}
		total, err := r.Award(ctx, "room1", "m1", 5)
		if err != nil || total != 5 {
			t.Fatalf("Award: total=%d err=%v", total, err)
		}
		total, err = r.Award(ctx, "room1", "m1", 9)
		if err != nil || total != 14 {
			t.Fatalf("Award #2: total=%d err=%v", total, err)
		}
		if _, err := r.Award(ctx, "room1", "ghost", 5); !errors.Is(err, ErrNotRegistered) {
			t.Fatalf("expected ErrNotRegistered, got %v", err)
		}
	})
}

func TestLeaderboardOrdering(t *testing.T) {
	eachRegistry(t, func(t *testing.T, r *Registry) {
		ctx := context.Background()
		for i, h := range []string{"a", "b", "c"} {
			id := fmt.Sprintf("m%d", i+1)
			if err := r.Register(ctx, "room1", id, h); err != nil {
				t.Fatalf("Register %s: %v", id, err)
			}
		}
		if _, err := r.Award(ctx, "room1", "m2", 12); err != nil {
			t.Fatalf("Award: %v", err)
		}
		if _, err := r.Award(ctx, "room1", "m3", 7); err != nil {
			t.Fatalf("Award: %v", err)
		}

		entries, err := r.Leaderboard(ctx, "room1", 2)
		if err != nil {
			t.Fatalf("Leaderboard: %v", err)
		}
		if len(entries) != 2 {
			t.Fatalf("expected 2 entries, got %d", len(entries))
		}
		if entries[0].MemberID != "m2" || entries[1].MemberID != "m3" {
			t.Fatalf("unexpected order: %+v", entries)
		}
	})
}
