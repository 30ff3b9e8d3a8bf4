package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

type memRepo struct {
	lists map[List]map[int64]bool
	err   error
}

func newMemRepo() *memRepo { return &memRepo{lists: make(map[List]map[int64]bool)} }

func (m *memRepo) Contains(_ context.Context, l List, id int64) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	return m.lists[l][id], nil
}
func (m *memRepo) Add(_ context.Context, l List, id int64) error {
	if m.lists[l] == nil {
		m.lists[l] = make(map[int64]bool)
	}
	m.lists[l][id] = true
	return nil
}
func (m *memRepo) Remove(_ context.Context, l List, id int64) error {
	delete(m.lists[l], id)
	return nil
}
func (m *memRepo) Members(_ context.Context, l List) ([]int64, error) {
	var out []int64
	for id := range m.lists[l] {
		out = append(out, id)
	}
	return out, nil
}

type stubLimiter struct {
	allow bool
	err   error
	calls int
}

func (s *stubLimiter) Allow(context.Context, int64) (bool, error) {
	s.calls++
	return s.allow, s.err
}

func TestServiceBasic(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	_ = repo.Add(ctx, Admins, 10)
	svc := NewWithRepo(repo, nil, []int64{20})

	if !svc.IsAdmin(ctx, 10) {
		t.Fatalf("repo admin not effective")
	}
	if !svc.IsAdmin(ctx, 20) {
		t.Fatalf("env admin not merged")
	}
	if svc.IsAdmin(ctx, 30) {
		t.Fatalf("unexpected admin")
	}
	if got := svc.AdminIDs(ctx); len(got) != 2 {
		t.Fatalf("want 2 admins, got %v", got)
	}

	if err := svc.AddToWhitelist(ctx, -100); err != nil {
		t.Fatalf("whitelist: %v", err)
	}
	if !svc.IsWhitelisted(ctx, -100) {
		t.Fatalf("whitelist not effective")
	}
	if err := svc.RemoveFromWhitelist(ctx, -100); err != nil {
		t.Fatalf("unwhitelist: %v", err)
	}
	if err := svc.RemoveFromWhitelist(ctx, -100); !errors.Is(err, ErrNotListed) {
		t.Fatalf("want ErrNotListed, got %v", err)
	}
}

func TestBlacklistProtectsAdmins(t *testing.T) {
	ctx := context.Background()
	svc := NewWithRepo(newMemRepo(), nil, []int64{1})
	if err := svc.AddToBlacklist(ctx, 1); !errors.Is(err, ErrAdminProtected) {
		t.Fatalf("want ErrAdminProtected, got %v", err)
	}
	if err := svc.AddToBlacklist(ctx, 2); err != nil {
		t.Fatalf("blacklist: %v", err)
	}
	if !svc.IsBlacklisted(ctx, 2) {
		t.Fatalf("blacklist not effective")
	}
	if err := svc.RemoveFromBlacklist(ctx, 2); err != nil {
		t.Fatalf("unblacklist: %v", err)
	}
	if svc.IsBlacklisted(ctx, 2) {
		t.Fatalf("unblacklist not effective")
	}
}

func TestCheckOrder(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	lim := &stubLimiter{allow: true}
	svc := NewWithRepo(repo, lim, nil)
	if err := svc.Seed(ctx, Blacklist, []int64{7}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// blacklisted wins even in a chat that is not whitelisted
	if v := svc.Check(ctx, 1, 7); v != Blacklisted {
		t.Fatalf("want Blacklisted, got %v", v)
	}
	if v := svc.Check(ctx, 1, 8); v != NotWhitelisted {
		t.Fatalf("want NotWhitelisted, got %v", v)
	}
	if lim.calls != 0 {
		t.Fatalf("limiter consulted before whitelist passed")
	}

	_ = svc.AddToWhitelist(ctx, 1)
	if v := svc.Check(ctx, 1, 8); v != Allowed {
		t.Fatalf("want Allowed, got %v", v)
	}
	lim.allow = false
	if v := svc.Check(ctx, 1, 8); v != RateLimited {
		t.Fatalf("want RateLimited, got %v", v)
	}
}

func TestLookupErrorsFailClosed(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	repo.err = errors.New("db down")
	svc := NewWithRepo(repo, &stubLimiter{err: errors.New("redis down")}, nil)
	if svc.IsWhitelisted(ctx, 1) {
		t.Fatalf("lookup error must not whitelist")
	}
	if svc.IsRateLimited(ctx, 1) {
		t.Fatalf("limiter error must not block")
	}
}

func TestMemoryLimiterWindow(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	l := NewMemoryLimiter(10 * time.Second)
	l.now = func() time.Time { return now }

	if ok, _ := l.Allow(ctx, 1); !ok {
		t.Fatalf("first prompt must pass")
	}
	now = now.Add(3 * time.Second)
	if ok, _ := l.Allow(ctx, 1); ok {
		t.Fatalf("second prompt within window must be limited")
	}
	if ok, _ := l.Allow(ctx, 2); !ok {
		t.Fatalf("other users are independent")
	}
	now = now.Add(7 * time.Second)
	if ok, _ := l.Allow(ctx, 1); !ok {
		t.Fatalf("prompt after window must pass")
	}
}

func TestMemoryLimiterSweep(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	l := NewMemoryLimiter(10 * time.Second)
	l.now = func() time.Time { return now }

	_, _ = l.Allow(ctx, 1)
	now = now.Add(5 * time.Second)
	_, _ = l.Allow(ctx, 2)
	now = now.Add(6 * time.Second)

	if n := l.Sweep(); n != 1 {
		t.Fatalf("want 1 swept, got %d", n)
	}
	if _, ok := l.users[2]; !ok {
		t.Fatalf("recent user swept")
	}
}
