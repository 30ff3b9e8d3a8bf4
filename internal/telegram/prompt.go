package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"prompt-relay/internal/auth"
	"prompt-relay/internal/history"
	"prompt-relay/internal/llm"
	"prompt-relay/internal/relay"
	"prompt-relay/internal/storage"
)

const (
	msgBlacklisted    = "You are blacklisted and cannot use this bot!"
	msgNotWhitelisted = "Sorry, I can't respond here!"
	msgPromptUsage    = "Please provide a prompt! Usage: /prompt or /p <your question>"
)

// DefaultSystemPrompt is used when no SYSTEM_PROMPT_PATH is configured.
func DefaultSystemPrompt(aiName string) string {
	return fmt.Sprintf("You are %s, a helpful learning assistant designed to assist users. "+
		"Your response should be concise, refrain from giving long answers until necessary.\n\n"+
		"Under \"Context:\" you will find the context of the conversation. "+
		"You shouldn't repeat the content in the context in your response as it's specially formatted for you to see only. "+
		"You should only use the context to understand the conversation better and provide a more relevant answer.", aiName)
}

// PromptRequest is one prompt as it arrived from Telegram.
type PromptRequest struct {
	ChatID    int64
	UserID    int64
	MessageID int
	Prompt    string
	PhotoID   string
	ReplyTo   *tgbotapi.Message
	Edited    bool
}

// HandleIncomingPrompt gates the request, records the turn and streams the
// model answer into a single reply.
func (b *Bot) HandleIncomingPrompt(ctx context.Context, req PromptRequest) {
	turnID := uuid.NewString()
	logger := log.With().
		Str("turn", turnID).
		Int64("chat", req.ChatID).
		Int64("user", req.UserID).
		Int("message", req.MessageID).
		Logger()

	switch b.authSvc.Check(ctx, req.ChatID, req.UserID) {
	case auth.Blacklisted:
		b.reply(ctx, req.ChatID, req.MessageID, msgBlacklisted)
		return
	case auth.NotWhitelisted:
		b.reply(ctx, req.ChatID, req.MessageID, msgNotWhitelisted)
		return
	case auth.RateLimited:
		logger.Debug().Msg("rate limited, prompt dropped")
		return
	}

	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" {
		b.reply(ctx, req.ChatID, req.MessageID, msgPromptUsage)
		return
	}

	src := history.MessageRef{ChatID: req.ChatID, MessageID: req.MessageID}
	parent, quoted, imageID := b.resolveReply(req)

	tctx, release, err := b.inflight.Claim(ctx, src)
	if err != nil {
		logger.Warn().Err(err).Msg("gave up waiting for the previous answer")
		return
	}
	defer release()

	target, regenerated, err := b.recordTurn(src, req, parent, imageID)
	if err != nil {
		logger.Warn().Err(err).Msg("turn not recorded")
		return
	}
	chain := b.history.ChainFor(src)
	if n := len(chain); n > 0 {
		req.Prompt = chain[n-1].Prompt
	}
	llmReq := b.composeRequest(tctx, logger, chain, b.chatContext(tctx, req.ChatID), quoted)
	logger.Info().Int("chain", len(chain)).Bool("regenerated", regenerated).Msg("prompt accepted")

	ev := storage.Event{
		TurnID:      turnID,
		ChatID:      req.ChatID,
		UserID:      req.UserID,
		MessageID:   req.MessageID,
		Prompt:      req.Prompt,
		Model:       b.model,
		Regenerated: regenerated,
	}

	session, err := b.relay.Begin(tctx, target)
	if err != nil {
		if errors.Is(context.Cause(tctx), relay.ErrSuperseded) {
			return
		}
		b.history.MarkFailed(src)
		logger.Error().Err(err).Msg("failed to place placeholder")
		ev.Status = string(history.StatusFailed)
		b.record(ev)
		return
	}
	if err := b.history.BindReply(src, history.MessageRef{ChatID: req.ChatID, MessageID: session.MessageID()}); err != nil {
		logger.Warn().Err(err).Msg("bind reply")
	}

	start := time.Now()
	answer, err := session.Stream(tctx, b.llmClient.Stream(tctx, llmReq))
	switch {
	case err == nil:
		b.history.AttachResponse(src, answer)
		ev.Status = string(history.StatusAnswered)
		ev.Response = answer
		logger.Info().Int("edits", session.Edits()).Dur("took", time.Since(start)).Int("chars", len(answer)).Msg("answer delivered")
	case errors.Is(err, relay.ErrSuperseded):
		logger.Info().Msg("superseded by a newer request")
		return
	default:
		b.history.MarkFailed(src)
		ev.Status = string(history.StatusFailed)
		logger.Error().Err(err).Msg("generation failed")
	}
	b.record(ev)
}

// resolveReply works out what the message replies to: a parent turn when
// it answers one of our replies, otherwise quoted text and possibly a photo.
func (b *Bot) resolveReply(req PromptRequest) (parent *history.MessageRef, quoted, imageID string) {
	imageID = req.PhotoID
	r := req.ReplyTo
	if r == nil {
		return nil, "", imageID
	}
	if r.From != nil && r.From.ID == b.self.ID {
		if src, ok := b.history.ResolveParent(history.MessageRef{ChatID: req.ChatID, MessageID: r.MessageID}); ok {
			return &src, "", imageID
		}
	}
	if imageID == "" {
		imageID = largestPhoto(r.Photo)
	}
	return nil, messageText(r), imageID
}

// recordTurn stores the prompt and says where the answer goes. An edited
// prompt with a live turn regenerates into the existing bot message, and so
// does an original that arrives after its own edit.
func (b *Bot) recordTurn(src history.MessageRef, req PromptRequest, parent *history.MessageRef, imageID string) (relay.Target, bool, error) {
	target := relay.Target{ChatID: req.ChatID, ReplyTo: req.MessageID}
	if req.Edited {
		if prev, ok := b.history.Lookup(src); ok {
			if _, err := b.history.ReviseTurn(src, req.Prompt, imageID); err != nil {
				return target, false, err
			}
			target.MessageID = prev.Bot.MessageID
			return target, true, nil
		}
	}
	_, err := b.history.RecordTurn(src, req.Prompt, imageID, parent)
	if errors.Is(err, history.ErrTurnExists) {
		// An edit of this message was handled first and holds the newer text.
		if prev, ok := b.history.Lookup(src); ok {
			target.MessageID = prev.Bot.MessageID
			return target, true, nil
		}
	}
	if err != nil {
		return target, false, err
	}
	return target, false, nil
}

func (b *Bot) chatContext(ctx context.Context, chatID int64) string {
	if b.contexts == nil {
		return ""
	}
	text, ok, err := b.contexts.GetContext(ctx, chatID)
	if err != nil {
		log.Warn().Err(err).Int64("chat", chatID).Msg("failed to load chat context")
		return ""
	}
	if !ok {
		return ""
	}
	return text
}

// composeRequest turns the reply chain into role-tagged turns. Earlier
// turns that never got an answer are skipped; quoted text from a replied
// message is prefixed to the newest prompt.
func (b *Bot) composeRequest(ctx context.Context, logger zerolog.Logger, chain []history.Turn, chatContext, quoted string) llm.Request {
	req := llm.Request{System: b.systemPrompt}
	if chatContext != "" {
		req.System += "\n\nContext:\n" + chatContext
	}
	for i, t := range chain {
		last := i == len(chain)-1
		if !last && t.Status != history.StatusAnswered {
			continue
		}
		text := t.Prompt
		if last && quoted != "" {
			text = "Context:\n" + quoted + "\n\n" + text
		}
		req.Messages = append(req.Messages, llm.Message{
			Role:     llm.RoleUser,
			Text:     text,
			ImageURL: b.imageURL(ctx, logger, t.ImageRef),
		})
		if !last {
			req.Messages = append(req.Messages, llm.Message{Role: llm.RoleAssistant, Text: t.Response})
		}
	}
	return req
}

// imageURL resolves a Telegram file id to a download URL. Turns keep the
// file id since download links expire.
func (b *Bot) imageURL(ctx context.Context, logger zerolog.Logger, fileID string) string {
	if fileID == "" || ctx.Err() != nil {
		return ""
	}
	url, err := b.s.GetFileDirectURL(fileID)
	if err != nil {
		logger.Warn().Err(err).Str("file", fileID).Msg("image dropped")
		return ""
	}
	return url
}

func (b *Bot) record(ev storage.Event) {
	if b.recorder == nil {
		return
	}
	ev.Timestamp = time.Now().UTC()
	if err := b.recorder.AppendInteraction(ev); err != nil {
		log.Warn().Err(err).Str("turn", ev.TurnID).Msg("failed to record interaction")
	}
}
