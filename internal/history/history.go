// Package history keeps the reply-chain memory: which user message produced
// which bot reply, and how follow-ups link back to earlier turns.
package history

import (
	"sync"

	"github.com/pkg/errors"
)

const DefaultMaxChainLength = 10

var (
	ErrTurnExists  = errors.New("history: turn already recorded")
	ErrTurnMissing = errors.New("history: turn not found")
)

// MessageRef identifies a Telegram message; message ids are only unique
// within a chat.
type MessageRef struct {
	ChatID    int64
	MessageID int
}

func (r MessageRef) IsZero() bool { return r == MessageRef{} }

type Status string

const (
	StatusPending  Status = "pending"
	StatusAnswered Status = "answered"
	StatusFailed   Status = "failed"
)

// Turn is one user prompt and the bot reply it produced.
type Turn struct {
	Source   MessageRef
	Bot      MessageRef
	Prompt   string
	ImageRef string
	Response string
	Status   Status
	Parent   *MessageRef
}

// Store is an in-memory arena of turns keyed by source message. Parent
// links only ever point to earlier turns; eviction trims chains from the
// root end.
type Store struct {
	mu     sync.Mutex
	maxLen int
	turns  map[MessageRef]*Turn
	byBot  map[MessageRef]MessageRef
}

func NewStore(maxLen int) *Store {
	if maxLen < 1 {
		maxLen = DefaultMaxChainLength
	}
	return &Store{
		maxLen: maxLen,
		turns:  make(map[MessageRef]*Turn),
		byBot:  make(map[MessageRef]MessageRef),
	}
}

func (s *Store) MaxChainLength() int { return s.maxLen }

// RecordTurn inserts a new pending turn. It fails if src is already live.
func (s *Store) RecordTurn(src MessageRef, prompt, imageRef string, parent *MessageRef) (Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.turns[src]; ok {
		return Turn{}, ErrTurnExists
	}
	t := &Turn{Source: src, Prompt: prompt, ImageRef: imageRef, Status: StatusPending}
	if parent != nil && *parent != src {
		p := *parent
		t.Parent = &p
	}
	s.turns[src] = t
	return t.copy(), nil
}

// ReviseTurn replaces the prompt of an existing turn, e.g. after the user
// edited their message, and resets it to pending. The bot message and the
// parent link are kept.
func (s *Store) ReviseTurn(src MessageRef, prompt, imageRef string) (Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.turns[src]
	if !ok {
		return Turn{}, ErrTurnMissing
	}
	t.Prompt = prompt
	t.ImageRef = imageRef
	t.Response = ""
	t.Status = StatusPending
	return t.copy(), nil
}

// BindReply associates the bot message carrying the answer for src.
func (s *Store) BindReply(src, bot MessageRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.turns[src]
	if !ok {
		return ErrTurnMissing
	}
	if !t.Bot.IsZero() && t.Bot != bot {
		delete(s.byBot, t.Bot)
	}
	t.Bot = bot
	s.byBot[bot] = src
	return nil
}

// AttachResponse stores the completed answer for src, creating a bare turn
// if none exists, then trims the chain ending at src.
func (s *Store) AttachResponse(src MessageRef, response string) {
	s.mu.Lock()
	t, ok := s.turns[src]
	if !ok {
		t = &Turn{Source: src}
		s.turns[src] = t
	}
	t.Response = response
	t.Status = StatusAnswered
	s.mu.Unlock()

	s.EvictIfOversize(src)
}

// MarkFailed records that generation for src did not complete.
func (s *Store) MarkFailed(src MessageRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.turns[src]; ok {
		t.Response = ""
		t.Status = StatusFailed
	}
}

// ResolveParent maps a bot message back to the turn that produced it.
func (s *Store) ResolveParent(bot MessageRef) (MessageRef, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.byBot[bot]
	return src, ok
}

func (s *Store) Lookup(src MessageRef) (Turn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.turns[src]
	if !ok {
		return Turn{}, false
	}
	return t.copy(), true
}

// ChainFor returns the turns leading to src, oldest first. The walk stops
// after MaxChainLength hops, at a missing parent, or on a repeated turn.
func (s *Store) ChainFor(src MessageRef) []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	refs := s.walkLocked(src, s.maxLen)
	out := make([]Turn, len(refs))
	for i, ref := range refs {
		out[len(refs)-1-i] = s.turns[ref].copy()
	}
	return out
}

// EvictIfOversize drops the oldest turns of the chain ending at src so at
// most MaxChainLength remain, and makes the oldest survivor the new root.
// It returns the number of evicted turns.
func (s *Store) EvictIfOversize(src MessageRef) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	refs := s.walkLocked(src, len(s.turns))
	if len(refs) <= s.maxLen {
		return 0
	}
	s.turns[refs[s.maxLen-1]].Parent = nil
	evicted := refs[s.maxLen:]
	for _, ref := range evicted {
		if t := s.turns[ref]; !t.Bot.IsZero() {
			delete(s.byBot, t.Bot)
		}
		delete(s.turns, ref)
	}
	return len(evicted)
}

// Len reports the number of live turns.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}

// walkLocked returns refs from src towards the root, newest first.
func (s *Store) walkLocked(src MessageRef, limit int) []MessageRef {
	var refs []MessageRef
	seen := make(map[MessageRef]struct{})
	cur := src
	for len(refs) < limit {
		t, ok := s.turns[cur]
		if !ok {
			break
		}
		if _, dup := seen[cur]; dup {
			break
		}
		seen[cur] = struct{}{}
		refs = append(refs, cur)
		if t.Parent == nil {
			break
		}
		cur = *t.Parent
	}
	return refs
}

func (t *Turn) copy() Turn {
	out := *t
	if t.Parent != nil {
		p := *t.Parent
		out.Parent = &p
	}
	return out
}
