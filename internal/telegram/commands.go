package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"prompt-relay/internal/analytics"
	"prompt-relay/internal/auth"
)

const (
	msgAdminOnly     = "Only admins can use this command!"
	msgChatNotListed = "This chat is not whitelisted!"
)

// parseCommand splits "/cmd@bot args" into its parts. Commands addressed
// to another bot are not ours.
func parseCommand(text, botName string) (cmd, args string, ok bool) {
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	head, rest := text, ""
	if i := strings.IndexFunc(text, unicode.IsSpace); i >= 0 {
		head, rest = text[:i], text[i:]
	}
	name := head[1:]
	if at := strings.IndexByte(name, '@'); at >= 0 {
		if !strings.EqualFold(name[at+1:], botName) {
			return "", "", false
		}
		name = name[:at]
	}
	if name == "" {
		return "", "", false
	}
	return strings.ToLower(name), strings.TrimSpace(rest), true
}

func isPromptCommand(cmd string) bool { return cmd == "prompt" || cmd == "p" }

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message, cmd, args string, edited bool) {
	log.Debug().Str("command", cmd).Int64("chat", msg.Chat.ID).Int64("user", msg.From.ID).Msg("command received")
	switch cmd {
	case "prompt", "p":
		b.HandleIncomingPrompt(ctx, b.promptRequest(msg, args, edited))
	case "start":
		b.handleStart(ctx, msg)
	case "help":
		b.handleHelp(ctx, msg)
	case "context":
		b.handleContext(ctx, msg)
	case "setcontext":
		b.handleSetContext(ctx, msg, args)
	case "removecontext", "rmcontext":
		b.handleRemoveContext(ctx, msg)
	case "whitelist", "unwhitelist":
		b.handleWhitelist(ctx, msg, cmd, args)
	case "blacklist", "unblacklist":
		b.handleBlacklist(ctx, msg, cmd, args)
	case "stats":
		b.handleStats(ctx, msg)
	}
}

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) {
	text := fmt.Sprintf("Hello! I'm %s!", b.aiName)
	if !b.authSvc.IsWhitelisted(ctx, msg.Chat.ID) {
		text += " This chat doesn't seem to be whitelisted. I can't respond here, sorry."
	}
	b.reply(ctx, msg.Chat.ID, msg.MessageID, text)
}

func (b *Bot) handleHelp(ctx context.Context, msg *tgbotapi.Message) {
	var sb strings.Builder
	sb.WriteString("*Available Commands:*\n\n")
	sb.WriteString("*General Commands:*\n")
	sb.WriteString("• /start - Start the bot\n")
	sb.WriteString("• /help - Show this help message\n\n")
	sb.WriteString("*AI Interaction:*\n")
	sb.WriteString("• /prompt or /p <text> - Ask the AI a question\n")
	sb.WriteString("• Reply to a bot message - Ask follow-up questions\n")
	sb.WriteString("• Reply to a message with /prompt or /p - Ask the AI a question with the reply as context\n")
	sb.WriteString("• Reply to a message with an image - Ask the AI a question about the image\n")
	sb.WriteString("• Mention the bot - Ask a question. Works like /prompt and /p\n")
	sb.WriteString("• Edit your prompt - The answer is regenerated in place\n\n")
	sb.WriteString("*Context Management:*\n")
	sb.WriteString("• /context - View the current context for this chat\n")
	sb.WriteString("• /setcontext <text> - Set context for this chat\n")
	sb.WriteString("• /removecontext or /rmcontext - Remove context for this chat\n")
	if b.authSvc.IsAdmin(ctx, msg.From.ID) {
		sb.WriteString("\n*Admin Commands:*\n")
		sb.WriteString("• /whitelist <chat id or @username> - Whitelist a chat\n")
		sb.WriteString("• /unwhitelist <chat id or @username> - Remove a chat from whitelist\n")
		sb.WriteString("• /blacklist <user id> - Blacklist a user\n")
		sb.WriteString("• /unblacklist <user id> - Remove a user from blacklist\n")
		sb.WriteString("• /stats - Show today's usage\n")
	}
	b.replyMarkdown(ctx, msg.Chat.ID, msg.MessageID, sb.String())
}

func (b *Bot) handleContext(ctx context.Context, msg *tgbotapi.Message) {
	if b.contexts == nil {
		b.reply(ctx, msg.Chat.ID, msg.MessageID, "No context set for this chat.")
		return
	}
	text, ok, err := b.contexts.GetContext(ctx, msg.Chat.ID)
	switch {
	case err != nil:
		log.Error().Err(err).Int64("chat", msg.Chat.ID).Msg("get context")
		b.reply(ctx, msg.Chat.ID, msg.MessageID, "Failed to retrieve context. Please try again later.")
	case !ok:
		b.reply(ctx, msg.Chat.ID, msg.MessageID, "No context set for this chat.")
	default:
		b.reply(ctx, msg.Chat.ID, msg.MessageID, "Current context for this chat:\n\n"+text)
	}
}

// canManageContext allows anyone in a private chat and admins elsewhere.
func (b *Bot) canManageContext(ctx context.Context, msg *tgbotapi.Message) bool {
	return msg.Chat.IsPrivate() || b.authSvc.IsAdmin(ctx, msg.From.ID)
}

func (b *Bot) handleSetContext(ctx context.Context, msg *tgbotapi.Message, args string) {
	if !b.canManageContext(ctx, msg) {
		b.reply(ctx, msg.Chat.ID, msg.MessageID, "Only admins in whitelisted chats can set context.")
		return
	}
	if args == "" {
		b.reply(ctx, msg.Chat.ID, msg.MessageID, "Please provide a context prompt. Usage: /setcontext Your context prompt here")
		return
	}
	if utf8.RuneCountInString(args) > b.maxContextLength {
		b.reply(ctx, msg.Chat.ID, msg.MessageID, fmt.Sprintf("Context prompt is too long. Maximum length is %d characters.", b.maxContextLength))
		return
	}
	if b.contexts == nil {
		b.reply(ctx, msg.Chat.ID, msg.MessageID, "Failed to set context. Please try again later.")
		return
	}
	if err := b.contexts.SetContext(ctx, msg.Chat.ID, args); err != nil {
		log.Error().Err(err).Int64("chat", msg.Chat.ID).Msg("set context")
		b.reply(ctx, msg.Chat.ID, msg.MessageID, "Failed to set context. Please try again later.")
		return
	}
	b.reply(ctx, msg.Chat.ID, msg.MessageID, "Context set successfully for this chat.")
}

func (b *Bot) handleRemoveContext(ctx context.Context, msg *tgbotapi.Message) {
	if !b.canManageContext(ctx, msg) {
		b.reply(ctx, msg.Chat.ID, msg.MessageID, "Only admins in whitelisted chats can remove context.")
		return
	}
	if b.contexts == nil {
		b.reply(ctx, msg.Chat.ID, msg.MessageID, "Failed to remove context. Please try again later.")
		return
	}
	if err := b.contexts.RemoveContext(ctx, msg.Chat.ID); err != nil {
		log.Error().Err(err).Int64("chat", msg.Chat.ID).Msg("remove context")
		b.reply(ctx, msg.Chat.ID, msg.MessageID, "Failed to remove context. Please try again later.")
		return
	}
	b.reply(ctx, msg.Chat.ID, msg.MessageID, "Context removed successfully for this chat.")
}

func (b *Bot) handleWhitelist(ctx context.Context, msg *tgbotapi.Message, cmd, args string) {
	if !b.authSvc.IsAdmin(ctx, msg.From.ID) {
		b.reply(ctx, msg.Chat.ID, msg.MessageID, msgAdminOnly)
		return
	}
	chatID, errText := b.resolveChat(msg, cmd, args)
	if errText != "" {
		b.reply(ctx, msg.Chat.ID, msg.MessageID, errText)
		return
	}

	if cmd == "whitelist" {
		if err := b.authSvc.AddToWhitelist(ctx, chatID); err != nil {
			log.Error().Err(err).Int64("target", chatID).Msg("whitelist chat")
			b.reply(ctx, msg.Chat.ID, msg.MessageID, "Failed to whitelist the chat. It might already be whitelisted.")
			return
		}
		b.reply(ctx, msg.Chat.ID, msg.MessageID, fmt.Sprintf("Chat %d has been whitelisted.", chatID))
		return
	}
	if err := b.authSvc.RemoveFromWhitelist(ctx, chatID); err != nil {
		if !errors.Is(err, auth.ErrNotListed) {
			log.Error().Err(err).Int64("target", chatID).Msg("unwhitelist chat")
		}
		b.reply(ctx, msg.Chat.ID, msg.MessageID, "Failed to remove the chat from whitelist. It might not be whitelisted.")
		return
	}
	b.reply(ctx, msg.Chat.ID, msg.MessageID, fmt.Sprintf("Chat %d has been removed from the whitelist.", chatID))
}

// resolveChat picks the chat a whitelist command targets: the current one,
// a public @username or a numeric id.
func (b *Bot) resolveChat(msg *tgbotapi.Message, cmd, args string) (int64, string) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return msg.Chat.ID, ""
	}
	input := fields[0]
	if strings.HasPrefix(input, "@") {
		chat, err := b.s.GetChat(tgbotapi.ChatInfoConfig{ChatConfig: tgbotapi.ChatConfig{SuperGroupUsername: input}})
		if err != nil {
			log.Warn().Err(err).Str("username", input).Msg("chat lookup failed")
			return 0, "Could not find the specified group. Please check the username and try again."
		}
		return chat.ID, ""
	}
	id, err := strconv.ParseInt(input, 10, 64)
	if err != nil {
		return 0, fmt.Sprintf("Please provide a valid chat ID or group username (e.g., /%s -100123456789 or /%s @groupname).", cmd, cmd)
	}
	return id, ""
}

func (b *Bot) handleBlacklist(ctx context.Context, msg *tgbotapi.Message, cmd, args string) {
	if !b.authSvc.IsAdmin(ctx, msg.From.ID) {
		b.reply(ctx, msg.Chat.ID, msg.MessageID, msgAdminOnly)
		return
	}
	userID := targetUser(msg, args)
	if userID == 0 {
		b.reply(ctx, msg.Chat.ID, msg.MessageID, fmt.Sprintf("Please reply to a user's message or provide their numeric ID (e.g., /%s 123456789).", cmd))
		return
	}

	if cmd == "blacklist" {
		if b.authSvc.IsAdmin(ctx, userID) {
			b.reply(ctx, msg.Chat.ID, msg.MessageID, "You can't blacklist an admin!")
			return
		}
		if !b.authSvc.IsWhitelisted(ctx, msg.Chat.ID) {
			b.reply(ctx, msg.Chat.ID, msg.MessageID, msgChatNotListed)
			return
		}
		if err := b.authSvc.AddToBlacklist(ctx, userID); err != nil {
			log.Error().Err(err).Int64("target", userID).Msg("blacklist user")
			b.reply(ctx, msg.Chat.ID, msg.MessageID, "Failed to blacklist the user. Please try again later.")
			return
		}
		b.reply(ctx, msg.Chat.ID, msg.MessageID, fmt.Sprintf("User %d has been blacklisted.", userID))
		return
	}

	if !b.authSvc.IsWhitelisted(ctx, msg.Chat.ID) {
		b.reply(ctx, msg.Chat.ID, msg.MessageID, msgChatNotListed)
		return
	}
	if err := b.authSvc.RemoveFromBlacklist(ctx, userID); err != nil {
		if errors.Is(err, auth.ErrNotListed) {
			b.reply(ctx, msg.Chat.ID, msg.MessageID, "This user is not blacklisted!")
			return
		}
		log.Error().Err(err).Int64("target", userID).Msg("unblacklist user")
		b.reply(ctx, msg.Chat.ID, msg.MessageID, "Failed to unblacklist the user. Please try again later.")
		return
	}
	b.reply(ctx, msg.Chat.ID, msg.MessageID, fmt.Sprintf("User %d has been removed from the blacklist.", userID))
}

// targetUser is the author of the replied message, else a numeric argument.
func targetUser(msg *tgbotapi.Message, args string) int64 {
	if r := msg.ReplyToMessage; r != nil && r.From != nil {
		return r.From.ID
	}
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return 0
	}
	id, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil || id <= 0 {
		return 0
	}
	return id
}

func (b *Bot) handleStats(ctx context.Context, msg *tgbotapi.Message) {
	if !b.authSvc.IsAdmin(ctx, msg.From.ID) {
		b.reply(ctx, msg.Chat.ID, msg.MessageID, msgAdminOnly)
		return
	}
	if b.recorder == nil {
		b.reply(ctx, msg.Chat.ID, msg.MessageID, "Interaction log is disabled.")
		return
	}
	events, err := b.recorder.LoadInteractions()
	if err != nil {
		log.Error().Err(err).Msg("load interactions")
		b.reply(ctx, msg.Chat.ID, msg.MessageID, "Failed to load statistics. Please try again later.")
		return
	}
	stats := analytics.AnalyzeDailyLogs(events, time.Now().UTC())
	b.reply(ctx, msg.Chat.ID, msg.MessageID, stats.GenerateReportSummary())
}
