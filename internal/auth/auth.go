// Package auth decides which chat accounts may talk to the agent and maps
// them onto patients in the store.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"health-agent/internal/storage"
)

var ErrNotAllowed = errors.New("user is not allowed")

// Account is the identity a front-end reports for the person writing.
type Account struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
}

// Name is the display name stored for the patient.
func (a Account) Name() string {
	name := strings.TrimSpace(a.FirstName + " " + a.LastName)
	if name == "" {
		name = a.Username
	}
	return name
}

// UserID is the patient id used across the store.
func UserID(accountID int64) string { return strconv.FormatInt(accountID, 10) }

// Service checks the allowlist and enrolls allowed accounts as patients.
// An empty allowlist admits every account.
type Service struct {
	store   storage.Store
	mu      sync.RWMutex
	allowed map[int64]bool
}

func New(store storage.Store, allowed []int64) *Service {
	s := &Service{store: store, allowed: make(map[int64]bool, len(allowed))}
	for _, id := range allowed {
		s.allowed[id] = true
	}
	return s
}

func (s *Service) IsAllowed(accountID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.allowed) == 0 || s.allowed[accountID]
}

// Allow adds accountID to the allowlist.
func (s *Service) Allow(accountID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowed[accountID] = true
}

// Enroll returns the patient for acc, creating it on first contact. A stored
// name is never overwritten with an empty one.
func (s *Service) Enroll(ctx context.Context, acc Account) (storage.User, error) {
	if !s.IsAllowed(acc.ID) {
		return storage.User{}, fmt.Errorf("%w: %d", ErrNotAllowed, acc.ID)
	}
	id := UserID(acc.ID)
	existing, err := s.store.GetUser(ctx, id)
	if err != nil {
		return storage.User{}, fmt.Errorf("get user: %w", err)
	}
	if existing != nil && (existing.Name == acc.Name() || acc.Name() == "") {
		return *existing, nil
	}

	u := storage.User{ID: id, Name: acc.Name(), CreatedAt: time.Now()}
	if existing != nil {
		u.CreatedAt = existing.CreatedAt
	}
	if err := s.store.UpsertUser(ctx, u); err != nil {
		return storage.User{}, fmt.Errorf("upsert user: %w", err)
	}
	return u, nil
}

// List returns the allowlisted account ids.
func (s *Service) List() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]int64, 0, len(s.allowed))
	for id := range s.allowed {
		out = append(out, id)
	}
	return out
}
