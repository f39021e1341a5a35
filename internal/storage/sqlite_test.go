package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"grabbot/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "users.db"),
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none"} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil {
			t.Fatalf("Open(%q) error: %v", driver, err)
		}
		if st != nil {
			t.Fatalf("Open(%q) = %v, want nil store", driver, st)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver should error")
	}
}

func TestUpsertAndList(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	seen := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	if err := st.UpsertUser(ctx, User{ID: 7, Username: "alice", LastSeen: seen}); err != nil {
		t.Fatalf("UpsertUser error: %v", err)
	}
	if err := st.UpsertUser(ctx, User{ID: 9, LastSeen: seen}); err != nil {
		t.Fatalf("UpsertUser error: %v", err)
	}

	users, err := st.ListUsers(ctx)
	if err != nil {
		t.Fatalf("ListUsers error: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("len(users) = %d, want 2", len(users))
	}
	if users[0].ID != 7 || users[0].Username != "alice" {
		t.Fatalf("users[0] = %+v", users[0])
	}
	if !users[0].LastSeen.Equal(seen) {
		t.Fatalf("LastSeen = %v, want %v", users[0].LastSeen, seen)
	}
	if users[1].Username != "" {
		t.Fatalf("empty username should round-trip empty, got %q", users[1].Username)
	}
}

func TestUpsertUpdatesExisting(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	first := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	later := first.Add(48 * time.Hour)
	if err := st.UpsertUser(ctx, User{ID: 7, Username: "old", LastSeen: first}); err != nil {
		t.Fatalf("UpsertUser error: %v", err)
	}
	if err := st.UpsertUser(ctx, User{ID: 7, Username: "new", LastSeen: later}); err != nil {
		t.Fatalf("UpsertUser error: %v", err)
	}

	users, err := st.ListUsers(ctx)
	if err != nil {
		t.Fatalf("ListUsers error: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("len(users) = %d, want 1 after upsert", len(users))
	}
	if users[0].Username != "new" || !users[0].LastSeen.Equal(later) {
		t.Fatalf("users[0] = %+v", users[0])
	}
}
