package auth

import (
	"context"
	"errors"
	"testing"

	"health-agent/internal/storage"
)

func newStore(t *testing.T) storage.Store {
	t.Helper()
	s, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	return s
}

func TestServiceAllowlist(t *testing.T) {
	svc := New(newStore(t), []int64{10, 20})
	if !svc.IsAllowed(10) || !svc.IsAllowed(20) {
		t.Fatalf("listed accounts must be allowed")
	}
	if svc.IsAllowed(30) {
		t.Fatalf("unexpected allowed")
	}
	svc.Allow(30)
	if !svc.IsAllowed(30) {
		t.Fatalf("allow not effective")
	}
	if len(svc.List()) != 3 {
		t.Fatalf("want 3 accounts, got %d", len(svc.List()))
	}
}

func TestServiceEmptyAllowlistAdmitsEveryone(t *testing.T) {
	svc := New(newStore(t), nil)
	if !svc.IsAllowed(42) {
		t.Fatalf("empty allowlist should admit everyone")
	}
}

func TestEnroll(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	svc := New(store, []int64{10})

	u, err := svc.Enroll(ctx, Account{ID: 10, Username: "mrossi", FirstName: "Mario", LastName: "Rossi"})
	if err != nil {
		t.Fatalf("enroll: %v", err)
	}
	if u.ID != "10" || u.Name != "Mario Rossi" || u.FirstName() != "Mario" {
		t.Fatalf("unexpected user: %+v", u)
	}

	// a later contact without a name keeps the stored one
	again, err := svc.Enroll(ctx, Account{ID: 10})
	if err != nil {
		t.Fatalf("enroll again: %v", err)
	}
	if again.Name != "Mario Rossi" || !again.CreatedAt.Equal(u.CreatedAt) {
		t.Fatalf("unexpected user after re-enroll: %+v", again)
	}

	renamed, err := svc.Enroll(ctx, Account{ID: 10, FirstName: "Mario", LastName: "Bianchi"})
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if renamed.Name != "Mario Bianchi" || !renamed.CreatedAt.Equal(u.CreatedAt) {
		t.Fatalf("unexpected renamed user: %+v", renamed)
	}

	users, err := store.ListUsers(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("want 1 user, got %d", len(users))
	}
}

func TestEnrollRejectsUnknownAccount(t *testing.T) {
	svc := New(newStore(t), []int64{10})
	if _, err := svc.Enroll(context.Background(), Account{ID: 11}); !errors.Is(err, ErrNotAllowed) {
		t.Fatalf("want ErrNotAllowed, got %v", err)
	}
}

func TestAccountName(t *testing.T) {
	if got := (Account{Username: "anon"}).Name(); got != "anon" {
		t.Fatalf("want username fallback, got %q", got)
	}
	if got := (Account{FirstName: "Anna"}).Name(); got != "Anna" {
		t.Fatalf("unexpected name %q", got)
	}
}
