package telegram

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"

	"prompt-relay/internal/relay"
)

// sender is the part of *tgbotapi.BotAPI the bot talks through.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFileDirectURL(fileID string) (string, error)
	GetChat(config tgbotapi.ChatInfoConfig) (tgbotapi.Chat, error)
}

// messenger adapts a sender to relay.Messenger and maps Telegram API
// failures onto the relay's error kinds.
type messenger struct {
	s sender
}

func (m messenger) Send(ctx context.Context, chatID int64, replyTo int, text string, markdown bool) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	if replyTo != 0 {
		msg.ReplyToMessageID = replyTo
		msg.AllowSendingWithoutReply = true
	}
	if markdown {
		msg.ParseMode = tgbotapi.ModeMarkdown
	}
	sent, err := m.s.Send(msg)
	if err != nil {
		return 0, classify(err)
	}
	return sent.MessageID, nil
}

func (m messenger) Edit(ctx context.Context, chatID int64, messageID int, text string, markdown bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	if markdown {
		edit.ParseMode = tgbotapi.ModeMarkdown
	}
	if _, err := m.s.Send(edit); err != nil {
		return classify(err)
	}
	return nil
}

// classify wraps the Bot API errors the relay reacts to in its sentinels.
func classify(err error) error {
	desc := strings.ToLower(err.Error())
	switch {
	case strings.Contains(desc, "message is not modified"):
		return errors.Wrap(relay.ErrNotModified, err.Error())
	case strings.Contains(desc, "can't parse entities"), strings.Contains(desc, "can't find end of the entity"):
		return errors.Wrap(relay.ErrMalformedMarkup, err.Error())
	default:
		return errors.Wrap(err, "telegram")
	}
}
