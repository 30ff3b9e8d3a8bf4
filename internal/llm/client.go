package llm

import (
	"context"
	"iter"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged turn. Text and ImageURL may both be set.
type Message struct {
	Role     Role
	Text     string
	ImageURL string
}

// Request is what gets sent to a generation endpoint. Either Prompt or
// Messages is set; a flat Prompt is treated as a single user turn.
type Request struct {
	System   string
	Prompt   string
	Messages []Message
}

// Turns returns the ordered content turns of the request.
func (r Request) Turns() []Message {
	if len(r.Messages) > 0 {
		return r.Messages
	}
	if r.Prompt == "" {
		return nil
	}
	return []Message{{Role: RoleUser, Text: r.Prompt}}
}

// Fragments is a lazy, single-pass sequence of non-empty text pieces. An
// upstream failure is delivered as a final ("", err) pair.
type Fragments = iter.Seq2[string, error]

type Client interface {
	Stream(ctx context.Context, req Request) Fragments
}
