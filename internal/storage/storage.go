package storage

import (
	"context"
	"io"
	"time"

	"prompt-relay/internal/auth"
)

// Event is one prompt handled by the bot and what came of it.
// Events are appended in chronological order.
type Event struct {
	Timestamp   time.Time `json:"timestamp"`
	TurnID      string    `json:"turn_id"`
	ChatID      int64     `json:"chat_id"`
	UserID      int64     `json:"user_id"`
	MessageID   int       `json:"message_id"`
	Prompt      string    `json:"prompt"`
	Response    string    `json:"response,omitempty"`
	Status      string    `json:"status"`
	Model       string    `json:"model,omitempty"`
	Regenerated bool      `json:"regenerated,omitempty"`
}

// Recorder abstracts persistence of interaction events.
// LoadInteractions returns events in chronological order.
// Implementations must be safe for concurrent use.
type Recorder interface {
	AppendInteraction(event Event) error
	LoadInteractions() ([]Event, error)
}

// ContextStore keeps one free-form context string per chat.
type ContextStore interface {
	GetContext(ctx context.Context, chatID int64) (string, bool, error)
	SetContext(ctx context.Context, chatID int64, prompt string) error
	RemoveContext(ctx context.Context, chatID int64) error
}

// Store is a document backend holding the access lists and chat contexts.
type Store interface {
	auth.Repository
	ContextStore
	io.Closer
}
