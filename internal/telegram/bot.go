package telegram

import (
	"context"
	"regexp"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"prompt-relay/internal/auth"
	"prompt-relay/internal/history"
	"prompt-relay/internal/llm"
	"prompt-relay/internal/relay"
	"prompt-relay/internal/storage"
)

const DefaultMaxContextLength = 1000

type Options struct {
	Auth     *auth.Service
	Contexts storage.ContextStore
	Recorder storage.Recorder
	LLM      llm.Client
	Model    string
	History  *history.Store
	Relay    relay.Options

	AIName           string
	SystemPrompt     string
	MaxContextLength int
}

type Bot struct {
	api  *tgbotapi.BotAPI
	s    sender
	self tgbotapi.User

	authSvc   *auth.Service
	contexts  storage.ContextStore
	recorder  storage.Recorder
	llmClient llm.Client
	model     string
	history   *history.Store
	msgr      relay.Messenger
	relay     *relay.Scheduler
	inflight  *relay.Registry[history.MessageRef]

	aiName           string
	systemPrompt     string
	maxContextLength int
	mention          *regexp.Regexp

	wg sync.WaitGroup
}

func New(botToken string, opts Options) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, errors.Wrap(err, "connect to telegram")
	}
	b := newBot(api, api.Self, opts)
	b.api = api
	log.Info().Str("bot", api.Self.UserName).Int64("id", api.Self.ID).Msg("authorized on telegram")
	return b, nil
}

func newBot(s sender, self tgbotapi.User, opts Options) *Bot {
	if opts.History == nil {
		opts.History = history.NewStore(history.DefaultMaxChainLength)
	}
	if opts.MaxContextLength <= 0 {
		opts.MaxContextLength = DefaultMaxContextLength
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = DefaultSystemPrompt(opts.AIName)
	}
	msgr := messenger{s: s}
	b := &Bot{
		s:                s,
		self:             self,
		authSvc:          opts.Auth,
		contexts:         opts.Contexts,
		recorder:         opts.Recorder,
		llmClient:        opts.LLM,
		model:            opts.Model,
		history:          opts.History,
		msgr:             msgr,
		relay:            relay.New(msgr, opts.Relay),
		inflight:         relay.NewRegistry[history.MessageRef](),
		aiName:           opts.AIName,
		systemPrompt:     opts.SystemPrompt,
		maxContextLength: opts.MaxContextLength,
	}
	if self.UserName != "" {
		b.mention = regexp.MustCompile(`(?i)@` + regexp.QuoteMeta(self.UserName) + `\b`)
	}
	return b
}

// Start long-polls for updates and handles each one on its own goroutine.
// It returns once ctx is done and every handler has finished.
func (b *Bot) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)
	log.Info().Str("bot", b.self.UserName).Msg("listening for updates")

	defer b.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			log.Info().Msg("stopped receiving updates")
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				defer func() {
					if r := recover(); r != nil {
						log.Error().Interface("panic", r).Int("update", update.UpdateID).Msg("update handler panicked")
					}
				}()
				b.handleUpdate(ctx, update)
			}()
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.Message != nil:
		b.handleMessage(ctx, update.Message, false)
	case update.EditedMessage != nil:
		b.handleMessage(ctx, update.EditedMessage, true)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message, edited bool) {
	if msg.From == nil || msg.Chat == nil {
		return
	}
	text := messageText(msg)

	if cmd, args, ok := parseCommand(text, b.self.UserName); ok {
		if edited && !isPromptCommand(cmd) {
			return
		}
		b.handleCommand(ctx, msg, cmd, args, edited)
		return
	}
	if strings.HasPrefix(text, "/") {
		return
	}

	// Follow-ups and mentions need no command; edits to them regenerate too.
	if isReplyTo(msg, b.self.ID) {
		b.HandleIncomingPrompt(ctx, b.promptRequest(msg, text, edited))
		return
	}
	if b.mention != nil && b.mention.MatchString(text) {
		prompt := b.mention.ReplaceAllString(text, "")
		b.HandleIncomingPrompt(ctx, b.promptRequest(msg, prompt, edited))
	}
}

func (b *Bot) promptRequest(msg *tgbotapi.Message, prompt string, edited bool) PromptRequest {
	return PromptRequest{
		ChatID:    msg.Chat.ID,
		UserID:    msg.From.ID,
		MessageID: msg.MessageID,
		Prompt:    prompt,
		PhotoID:   largestPhoto(msg.Photo),
		ReplyTo:   msg.ReplyToMessage,
		Edited:    edited,
	}
}

// NotifyAdmins sends text to every admin in a private chat.
func (b *Bot) NotifyAdmins(ctx context.Context, text string) error {
	var firstErr error
	for _, id := range b.authSvc.AdminIDs(ctx) {
		if _, err := b.msgr.Send(ctx, id, 0, text, false); err != nil {
			log.Warn().Err(err).Int64("admin", id).Msg("failed to notify admin")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// reply sends a plain-text answer to msgID.
func (b *Bot) reply(ctx context.Context, chatID int64, msgID int, text string) {
	if _, err := b.msgr.Send(ctx, chatID, msgID, text, false); err != nil {
		log.Error().Err(err).Int64("chat", chatID).Msg("failed to send message")
	}
}

// replyMarkdown sends text with Markdown, falling back to plain text once.
func (b *Bot) replyMarkdown(ctx context.Context, chatID int64, msgID int, text string) {
	_, err := b.msgr.Send(ctx, chatID, msgID, text, true)
	if errors.Is(err, relay.ErrMalformedMarkup) {
		_, err = b.msgr.Send(ctx, chatID, msgID, text, false)
	}
	if err != nil {
		log.Error().Err(err).Int64("chat", chatID).Msg("failed to send message")
	}
}

func messageText(msg *tgbotapi.Message) string {
	if msg.Text != "" {
		return msg.Text
	}
	return msg.Caption
}

func isReplyTo(msg *tgbotapi.Message, botID int64) bool {
	r := msg.ReplyToMessage
	return r != nil && r.From != nil && r.From.ID == botID
}

func largestPhoto(sizes []tgbotapi.PhotoSize) string {
	best := -1
	for i, p := range sizes {
		if best < 0 || p.Width*p.Height > sizes[best].Width*sizes[best].Height {
			best = i
		}
	}
	if best < 0 {
		return ""
	}
	return sizes[best].FileID
}
