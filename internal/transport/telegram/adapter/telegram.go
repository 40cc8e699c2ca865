package adapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "streamwatch/internal/transport"
	logx "streamwatch/pkg/logx"
)

// Config controls the Telegram platform adapter.
type Config struct {
	Token string
	// APIURL overrides the Bot API endpoint (tests, local bot servers).
	APIURL  string
	Timeout time.Duration

	// LogChatID receives forwarded log lines when non-zero.
	LogChatID   int64
	LogThreadID int
}

// Adapter posts announcements through the Telegram Bot API.
type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	logMu       sync.RWMutex
	logChatID   int64
	logThreadID int
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		URL:    strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/"),
		Token:  cfg.Token,
		Client: &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log.Debug("telegram bot ready", logx.String("username", b.Me.Username))
	return &Adapter{cfg: cfg, log: log, bot: b, logChatID: cfg.LogChatID, logThreadID: cfg.LogThreadID}, nil
}

// Ping times a getMe round trip to the Bot API.
func (a *Adapter) Ping(ctx context.Context) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	start := time.Now()
	if _, err := a.bot.Raw("getMe", nil); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// ResolveDestination looks the chat up; chats the bot can no longer reach
// resolve to kit.ErrDestinationUnresolved.
func (a *Adapter) ResolveDestination(ctx context.Context, destinationID int64, threadID int) (kit.Destination, error) {
	if err := ctx.Err(); err != nil {
		return kit.Destination{}, err
	}
	chat, err := a.bot.ChatByID(destinationID)
	if err != nil {
		if isUnreachable(err) {
			return kit.Destination{}, fmt.Errorf("chat %d: %w: %v", destinationID, kit.ErrDestinationUnresolved, err)
		}
		return kit.Destination{}, fmt.Errorf("get chat %d: %w", destinationID, err)
	}
	return kit.Destination{ChatID: chat.ID, ThreadID: threadID, Title: chat.Title}, nil
}

// CreateMessage posts content and returns the new message id.
func (a *Adapter) CreateMessage(ctx context.Context, dest kit.Destination, content kit.Content) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	opts := &tele.SendOptions{
		ParseMode:           tele.ModeHTML,
		ThreadID:            dest.ThreadID,
		DisableNotification: !content.Notify,
	}
	chat := &tele.Chat{ID: dest.ChatID}

	var (
		msg *tele.Message
		err error
	)
	if pic := content.Card.Picture(); pic != "" {
		msg, err = a.bot.Send(chat, &tele.Photo{File: tele.FromURL(pic), Caption: renderCaption(content)}, opts)
	} else {
		opts.DisableWebPagePreview = true
		msg, err = a.bot.Send(chat, renderText(content), opts)
	}
	if err != nil {
		if isUnreachable(err) {
			return 0, fmt.Errorf("send to %d: %w: %v", dest.ChatID, kit.ErrDestinationUnresolved, err)
		}
		return 0, fmt.Errorf("send to %d: %w", dest.ChatID, err)
	}
	return int64(msg.ID), nil
}

// FetchMessage returns a reference to messageID. The Bot API cannot read
// messages back, so a deleted message only surfaces when it is edited.
func (a *Adapter) FetchMessage(ctx context.Context, dest kit.Destination, messageID int64) (kit.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	if messageID <= 0 {
		return kit.MessageRef{}, kit.ErrMessageNotFound
	}
	return kit.MessageRef{ChatID: dest.ChatID, ThreadID: dest.ThreadID, MessageID: messageID}, nil
}

// EditMessage replaces the message with content. An unchanged message counts as success.
func (a *Adapter) EditMessage(ctx context.Context, dest kit.Destination, messageID int64, content kit.Content) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := &tele.StoredMessage{MessageID: strconv.FormatInt(messageID, 10), ChatID: dest.ChatID}
	opts := &tele.SendOptions{ParseMode: tele.ModeHTML}

	var err error
	if pic := content.Card.Picture(); pic != "" {
		_, err = a.bot.EditMedia(m, &tele.Photo{File: tele.FromURL(pic), Caption: renderCaption(content)}, opts)
		if err != nil && isTextMessage(err) {
			// A text post cannot gain a photo; edit its text instead.
			_, err = a.bot.Edit(m, renderText(content), &tele.SendOptions{ParseMode: tele.ModeHTML, DisableWebPagePreview: true})
		}
	} else {
		opts.DisableWebPagePreview = true
		_, err = a.bot.Edit(m, renderText(content), opts)
		if err != nil && isMediaMessage(err) {
			_, err = a.bot.EditCaption(m, renderCaption(content), &tele.SendOptions{ParseMode: tele.ModeHTML})
		}
	}
	switch {
	case err == nil, isNotModified(err):
		return nil
	case isMessageGone(err):
		return fmt.Errorf("edit %d/%d: %w: %v", dest.ChatID, messageID, kit.ErrMessageNotFound, err)
	case isUnreachable(err):
		return fmt.Errorf("edit %d/%d: %w: %v", dest.ChatID, messageID, kit.ErrDestinationUnresolved, err)
	default:
		return fmt.Errorf("edit %d/%d: %w", dest.ChatID, messageID, err)
	}
}

// SetLogTarget changes the chat that receives forwarded log lines. 0 disables forwarding.
func (a *Adapter) SetLogTarget(chatID int64, threadID int) {
	a.logMu.Lock()
	a.logChatID, a.logThreadID = chatID, threadID
	a.logMu.Unlock()
}

// SendLog forwards a log line to the configured log chat.
func (a *Adapter) SendLog(ctx context.Context, text string) error {
	a.logMu.RLock()
	chatID, threadID := a.logChatID, a.logThreadID
	a.logMu.RUnlock()
	if chatID == 0 {
		return nil
	}
	chat := &tele.Chat{ID: chatID}
	for _, chunk := range splitTelegramText(text, telegramTextLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := a.bot.Send(chat, chunk, &tele.SendOptions{
			ThreadID:              threadID,
			DisableWebPagePreview: true,
			DisableNotification:   true,
		}); err != nil {
			return err
		}
	}
	return nil
}

const telegramTextLimit = 4000

// splitTelegramText splits long log text into chunks, preferring newline boundaries.
func splitTelegramText(s string, limit int) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				// Avoid extremely small chunks.
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

func errText(err error) string { return strings.ToLower(err.Error()) }

func isNotModified(err error) bool {
	return strings.Contains(errText(err), "message is not modified")
}

// isMediaMessage reports a text edit aimed at a photo message.
func isMediaMessage(err error) bool {
	return strings.Contains(errText(err), "no text in the message")
}

// isTextMessage reports a media edit aimed at a text message.
func isTextMessage(err error) bool {
	return strings.Contains(errText(err), "no media in the message")
}

func isMessageGone(err error) bool {
	s := errText(err)
	return strings.Contains(s, "message to edit not found") ||
		strings.Contains(s, "message can't be edited") ||
		strings.Contains(s, "message_id_invalid")
}

func isUnreachable(err error) bool {
	s := errText(err)
	for _, needle := range []string{
		"chat not found",
		"bot was kicked",
		"bot is not a member",
		"bot was blocked",
		"have no rights to send",
		"group chat was upgraded",
		"chat was deleted",
		"user is deactivated",
	} {
		if strings.Contains(s, needle) {
			return true
		}
	}
	return false
}
