// Package relay streams model output into a single chat message, editing it
// at a bounded cadence and finishing with one Markdown-rendered edit.
package relay

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"prompt-relay/internal/llm"
)

var (
	// ErrNotModified is returned by a Messenger when an edit would not
	// change the message. The scheduler treats it as success.
	ErrNotModified = errors.New("relay: message is not modified")

	// ErrMalformedMarkup is returned by a Messenger when rich-text
	// rendering rejected the text.
	ErrMalformedMarkup = errors.New("relay: malformed markup")

	// ErrSuperseded is the cancel cause for a session replaced by a newer
	// request targeting the same message.
	ErrSuperseded = errors.New("relay: superseded by a newer request")
)

const (
	DefaultInterval     = 3 * time.Second
	DefaultPlaceholder  = "Thinking..."
	DefaultRegenerating = "Regenerating response..."
	DefaultApology      = "Sorry, something went wrong. Please try again!"
	DefaultEmptyAnswer  = "Done!"
	MaxMessageLength    = 4096
)

// Messenger is the slice of the chat platform the relay needs.
type Messenger interface {
	Send(ctx context.Context, chatID int64, replyTo int, text string, markdown bool) (int, error)
	Edit(ctx context.Context, chatID int64, messageID int, text string, markdown bool) error
}

type State int

const (
	StatePending State = iota
	StateStreaming
	StateFinalizing
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateStreaming:
		return "streaming"
	case StateFinalizing:
		return "finalizing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type Options struct {
	Interval     time.Duration
	Placeholder  string
	Regenerating string
	Apology      string
	EmptyAnswer  string
	MaxLength    int
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.Placeholder == "" {
		o.Placeholder = DefaultPlaceholder
	}
	if o.Regenerating == "" {
		o.Regenerating = DefaultRegenerating
	}
	if o.Apology == "" {
		o.Apology = DefaultApology
	}
	if o.EmptyAnswer == "" {
		o.EmptyAnswer = DefaultEmptyAnswer
	}
	if o.MaxLength <= 0 {
		o.MaxLength = MaxMessageLength
	}
	return o
}

type Scheduler struct {
	m    Messenger
	opts Options
}

func New(m Messenger, opts Options) *Scheduler {
	return &Scheduler{m: m, opts: opts.withDefaults()}
}

func (s *Scheduler) Apology() string { return s.opts.Apology }

// Target says where the answer goes. A non-zero MessageID regenerates into
// that existing bot message instead of sending a new placeholder.
type Target struct {
	ChatID    int64
	ReplyTo   int
	MessageID int
}

// Begin puts the placeholder in place and returns a session in the
// streaming state.
func (s *Scheduler) Begin(ctx context.Context, t Target) (*Session, error) {
	x := &Session{s: s, chatID: t.ChatID, replyTo: t.ReplyTo, state: StatePending}
	if t.MessageID != 0 {
		err := s.m.Edit(ctx, t.ChatID, t.MessageID, s.opts.Regenerating, false)
		if err == nil || errors.Is(err, ErrNotModified) {
			x.messageID = t.MessageID
		} else {
			log.Warn().Err(err).Int64("chat", t.ChatID).Int("message", t.MessageID).
				Msg("cannot reuse previous reply, sending a new placeholder")
		}
	}
	if x.messageID == 0 {
		id, err := s.m.Send(ctx, t.ChatID, t.ReplyTo, s.opts.Placeholder, false)
		if err != nil {
			x.setState(StateFailed)
			return x, errors.Wrap(err, "send placeholder")
		}
		x.messageID = id
	}
	x.lastFlush = time.Now()
	x.setState(StateStreaming)
	return x, nil
}

// Session is the buffer state of one in-flight generation.
type Session struct {
	s         *Scheduler
	chatID    int64
	replyTo   int
	messageID int

	mu    sync.Mutex
	state State
	edits int

	buf       strings.Builder
	lastFlush time.Time
	lastSent  string
}

func (x *Session) MessageID() int { return x.messageID }

func (x *Session) State() State {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.state
}

// Edits reports how many edits were accepted, including the final one.
func (x *Session) Edits() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.edits
}

func (x *Session) setState(st State) {
	x.mu.Lock()
	x.state = st
	x.mu.Unlock()
}

type item struct {
	text string
	err  error
}

// Stream consumes frags into the placeholder and returns the complete raw
// answer. On failure the placeholder shows the apology and the error is
// returned; a superseded session returns ErrSuperseded and leaves the
// message to its successor.
func (x *Session) Stream(ctx context.Context, frags llm.Fragments) (string, error) {
	if st := x.State(); st != StateStreaming {
		return "", errors.Errorf("relay: cannot stream in state %s", st)
	}

	done := make(chan struct{})
	defer close(done)
	items := make(chan item)
	go pump(frags, items, done)

	timer := time.NewTimer(x.s.opts.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return x.fail(ctx, context.Cause(ctx))
		case <-timer.C:
			if err := x.flush(ctx); err != nil {
				return x.fail(ctx, err)
			}
			timer.Reset(x.untilDue())
		case it, ok := <-items:
			if !ok {
				return x.finalize(ctx)
			}
			if it.err != nil {
				return x.fail(ctx, it.err)
			}
			x.buf.WriteString(it.text)
			if time.Since(x.lastFlush) >= x.s.opts.Interval {
				if err := x.flush(ctx); err != nil {
					return x.fail(ctx, err)
				}
				timer.Reset(x.untilDue())
			}
		}
	}
}

func pump(frags llm.Fragments, out chan<- item, done <-chan struct{}) {
	defer close(out)
	for text, err := range frags {
		select {
		case out <- item{text: text, err: err}:
		case <-done:
			return
		}
	}
}

func (x *Session) untilDue() time.Duration {
	d := x.s.opts.Interval - time.Since(x.lastFlush)
	if d <= 0 {
		return x.s.opts.Interval
	}
	return d
}

// flush pushes the buffer as a plain-text intermediate edit when it
// changed since the last one.
func (x *Session) flush(ctx context.Context) error {
	text := truncate(x.buf.String(), x.s.opts.MaxLength)
	if text == "" || text == x.lastSent {
		return nil
	}
	if err := x.s.m.Edit(ctx, x.chatID, x.messageID, text, false); err != nil && !errors.Is(err, ErrNotModified) {
		return errors.Wrap(err, "intermediate edit")
	}
	x.lastSent = text
	x.lastFlush = time.Now()
	x.countEdit()
	return nil
}

func (x *Session) finalize(ctx context.Context) (string, error) {
	x.setState(StateFinalizing)
	raw := x.buf.String()
	text := NormalizeMarkup(raw)
	if text == "" {
		text = x.s.opts.EmptyAnswer
	}
	chunks := splitMessage(text, x.s.opts.MaxLength)
	if err := x.finalEdit(ctx, chunks[0]); err != nil {
		return x.fail(ctx, err)
	}
	for _, chunk := range chunks[1:] {
		if err := x.sendOverflow(ctx, chunk); err != nil {
			return x.failOverflow(ctx, err)
		}
	}
	x.setState(StateDone)
	return raw, nil
}

// finalEdit renders text as Markdown and falls back to plain text once if
// the platform rejects the markup.
func (x *Session) finalEdit(ctx context.Context, text string) error {
	err := x.s.m.Edit(ctx, x.chatID, x.messageID, text, true)
	if errors.Is(err, ErrMalformedMarkup) {
		log.Debug().Int64("chat", x.chatID).Int("message", x.messageID).Msg("markdown rejected, retrying as plain text")
		err = x.s.m.Edit(ctx, x.chatID, x.messageID, text, false)
	}
	if err != nil && !errors.Is(err, ErrNotModified) {
		return errors.Wrap(err, "final edit")
	}
	x.countEdit()
	return nil
}

func (x *Session) sendOverflow(ctx context.Context, text string) error {
	_, err := x.s.m.Send(ctx, x.chatID, x.messageID, text, true)
	if errors.Is(err, ErrMalformedMarkup) {
		_, err = x.s.m.Send(ctx, x.chatID, x.messageID, text, false)
	}
	return errors.Wrap(err, "send overflow chunk")
}

func (x *Session) fail(ctx context.Context, cause error) (string, error) {
	x.setState(StateFailed)
	raw := x.buf.String()
	if errors.Is(cause, ErrSuperseded) || errors.Is(context.Cause(ctx), ErrSuperseded) {
		return raw, ErrSuperseded
	}
	log.Error().Err(cause).Int64("chat", x.chatID).Int("message", x.messageID).Msg("relay failed")

	// The request context may already be gone; the apology should still land.
	actx := context.WithoutCancel(ctx)
	apology := x.s.opts.Apology
	if err := x.s.m.Edit(actx, x.chatID, x.messageID, apology, false); err != nil && !errors.Is(err, ErrNotModified) {
		log.Warn().Err(err).Int64("chat", x.chatID).Msg("cannot edit placeholder to apology, replying instead")
		if _, err := x.s.m.Send(actx, x.chatID, x.replyTo, apology, false); err != nil {
			log.Error().Err(err).Int64("chat", x.chatID).Msg("cannot deliver apology")
		}
	}
	if cause == nil {
		cause = errors.New("relay: stream aborted")
	}
	return raw, cause
}

// failOverflow keeps the chunks already delivered and replies with the
// apology under them.
func (x *Session) failOverflow(ctx context.Context, cause error) (string, error) {
	x.setState(StateFailed)
	raw := x.buf.String()
	log.Error().Err(cause).Int64("chat", x.chatID).Int("message", x.messageID).Msg("overflow chunk not delivered")
	if _, err := x.s.m.Send(context.WithoutCancel(ctx), x.chatID, x.messageID, x.s.opts.Apology, false); err != nil {
		log.Error().Err(err).Int64("chat", x.chatID).Msg("cannot deliver apology")
	}
	return raw, cause
}

func (x *Session) countEdit() {
	x.mu.Lock()
	x.edits++
	x.mu.Unlock()
}
