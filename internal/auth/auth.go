package auth

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// List names one of the access lists kept in the repository.
type List string

const (
	Admins    List = "admins"
	Whitelist List = "whitelists"
	Blacklist List = "blacklists"
)

var (
	ErrAdminProtected = errors.New("auth: admins cannot be blacklisted")
	ErrNotListed      = errors.New("auth: id is not on the list")
)

// Repository persists the access lists. Ids are chat ids for the whitelist
// and user ids for the admin and black lists.
type Repository interface {
	Contains(ctx context.Context, list List, id int64) (bool, error)
	Add(ctx context.Context, list List, id int64) error
	Remove(ctx context.Context, list List, id int64) error
	Members(ctx context.Context, list List) ([]int64, error)
}

// Verdict is the outcome of the access gate for one prompt.
type Verdict int

const (
	Allowed Verdict = iota
	Blacklisted
	NotWhitelisted
	RateLimited
)

type Service struct {
	repo    Repository
	limiter Limiter
	admins  map[int64]struct{}
}

// NewWithRepo builds the gate. Admins from the environment are merged with
// the ones stored in repo; limiter may be nil to disable rate limiting.
func NewWithRepo(repo Repository, limiter Limiter, admins []int64) *Service {
	s := &Service{repo: repo, limiter: limiter, admins: make(map[int64]struct{})}
	for _, id := range admins {
		s.admins[id] = struct{}{}
	}
	return s
}

// Seed adds ids to list, e.g. the BLACKLIST and WHITELIST environment values.
func (s *Service) Seed(ctx context.Context, list List, ids []int64) error {
	for _, id := range ids {
		if err := s.repo.Add(ctx, list, id); err != nil {
			return errors.Wrapf(err, "seed %s", list)
		}
	}
	return nil
}

// Check applies the gate in order: blacklist, whitelist, rate limit.
func (s *Service) Check(ctx context.Context, chatID, userID int64) Verdict {
	if s.IsBlacklisted(ctx, userID) {
		return Blacklisted
	}
	if !s.IsWhitelisted(ctx, chatID) {
		return NotWhitelisted
	}
	if s.IsRateLimited(ctx, userID) {
		return RateLimited
	}
	return Allowed
}

func (s *Service) IsAdmin(ctx context.Context, userID int64) bool {
	if _, ok := s.admins[userID]; ok {
		return true
	}
	return s.contains(ctx, Admins, userID)
}

func (s *Service) IsWhitelisted(ctx context.Context, chatID int64) bool {
	return s.contains(ctx, Whitelist, chatID)
}

func (s *Service) IsBlacklisted(ctx context.Context, userID int64) bool {
	return s.contains(ctx, Blacklist, userID)
}

// IsRateLimited reports whether userID sent a prompt within the limiter
// window. A prompt that is not limited counts as the user's latest one.
func (s *Service) IsRateLimited(ctx context.Context, userID int64) bool {
	if s.limiter == nil {
		return false
	}
	ok, err := s.limiter.Allow(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Int64("user", userID).Msg("rate limiter unavailable, letting prompt through")
		return false
	}
	return !ok
}

func (s *Service) AddToWhitelist(ctx context.Context, chatID int64) error {
	return s.repo.Add(ctx, Whitelist, chatID)
}

func (s *Service) RemoveFromWhitelist(ctx context.Context, chatID int64) error {
	return s.remove(ctx, Whitelist, chatID)
}

func (s *Service) AddToBlacklist(ctx context.Context, userID int64) error {
	if s.IsAdmin(ctx, userID) {
		return ErrAdminProtected
	}
	return s.repo.Add(ctx, Blacklist, userID)
}

func (s *Service) RemoveFromBlacklist(ctx context.Context, userID int64) error {
	return s.remove(ctx, Blacklist, userID)
}

// AdminIDs returns every admin, environment ones first.
func (s *Service) AdminIDs(ctx context.Context) []int64 {
	out := make([]int64, 0, len(s.admins))
	for id := range s.admins {
		out = append(out, id)
	}
	stored, err := s.repo.Members(ctx, Admins)
	if err != nil {
		log.Warn().Err(err).Msg("load admins")
		return out
	}
	for _, id := range stored {
		if _, ok := s.admins[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

func (s *Service) remove(ctx context.Context, list List, id int64) error {
	ok, err := s.repo.Contains(ctx, list, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotListed
	}
	return s.repo.Remove(ctx, list, id)
}

// contains fails closed: a lookup error counts as "not on the list".
func (s *Service) contains(ctx context.Context, list List, id int64) bool {
	ok, err := s.repo.Contains(ctx, list, id)
	if err != nil {
		log.Error().Err(err).Str("list", string(list)).Int64("id", id).Msg("access list lookup failed")
		return false
	}
	return ok
}
