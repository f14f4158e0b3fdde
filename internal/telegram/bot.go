// Package telegram is the bot transport: it long-polls updates, turns them
// into CommandRequests, dispatches them and renders the outcome.
package telegram

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/tgrelay/tgrelay/internal/core"
	"github.com/tgrelay/tgrelay/internal/core/store"
	"github.com/tgrelay/tgrelay/internal/metrics"
)

// Defaults applied when Bot fields are zero.
const (
	DefaultWorkers     = 16
	DefaultPollTimeout = 60
)

// Dispatcher handles one request.
type Dispatcher interface {
	Dispatch(ctx context.Context, req core.CommandRequest) core.Outcome
}

// UserDirectory records who talks to the bot.
type UserDirectory interface {
	TouchUser(ctx context.Context, user store.User) error
}

// Bot wires Telegram updates to the dispatcher.
type Bot struct {
	API        API
	Dispatcher Dispatcher
	Users      UserDirectory
	Renderer   *Renderer
	// Workers bounds concurrently handled updates.
	Workers     int
	PollTimeout int
	MenuTTL     time.Duration
	Logger      *logging.Logger
	Clock       func() time.Time

	menuOnce sync.Once
	menu     *selections
	running  atomic.Bool
}

// Running reports whether Run is polling.
func (b *Bot) Running() bool {
	return b != nil && b.running.Load()
}

// Run polls updates until ctx is cancelled. In-flight updates finish before
// Run returns; they are bounded by the dispatcher's own timeout.
func (b *Bot) Run(ctx context.Context) error {
	if b == nil || b.API == nil || b.Dispatcher == nil || b.Renderer == nil {
		return fmt.Errorf("telegram bot is not configured")
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.pollTimeout()
	u.AllowedUpdates = []string{"message", "callback_query"}
	updates := b.API.GetUpdatesChan(u)
	b.running.Store(true)
	defer b.running.Store(false)

	sem := make(chan struct{}, b.workers())
	var wg sync.WaitGroup
	defer wg.Wait()

	handlerCtx := context.WithoutCancel(ctx)
	b.info("Telegram polling started", zap.Int("workers", cap(sem)), zap.Int("poll_timeout", u.Timeout))

	for {
		select {
		case <-ctx.Done():
			b.API.StopReceivingUpdates()
			b.info("Telegram polling stopped")
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				b.API.StopReceivingUpdates()
				return nil
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				b.HandleUpdate(handlerCtx, update)
			}()
		}
	}
}

// HandleUpdate processes one update. Panics are contained to the update.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordPanic()
			b.logError("Panic while handling update",
				zap.Int("update_id", update.UpdateID),
				zap.Any("panic", r))
		}
	}()

	switch {
	case update.CallbackQuery != nil:
		metrics.RecordTelegramUpdate("callback")
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.From != nil && update.Message.Chat != nil:
		b.handleMessage(ctx, update.Message)
	default:
		metrics.RecordTelegramUpdate("ignored")
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	b.touch(ctx, msg.From)

	var req core.CommandRequest
	if msg.IsCommand() {
		metrics.RecordTelegramUpdate("command")
		b.selections().clear(chatID)
		req = b.request(msg, core.ParseCommand(msg.Command()), msg.CommandArguments())
	} else {
		metrics.RecordTelegramUpdate("text")
		key, ok := b.selections().take(chatID)
		spec, found := b.Renderer.Lookup(key)
		if !ok || !found {
			b.reply(chatID, b.Renderer.Hint(), nil)
			return
		}
		req = b.request(msg, spec.CommandValue(), msg.Text)
	}

	out := b.Dispatcher.Dispatch(ctx, req)
	text := b.Renderer.Outcome(req, msg.From.FirstName, out)

	var markup any
	if req.Command == core.CommandStart {
		markup = MenuKeyboard(b.Renderer.Specs)
	}
	b.reply(chatID, text, markup)
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if _, err := b.API.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		b.debug("Failed to answer callback", zap.String("callback_id", cb.ID), zap.Error(err))
	}
	if cb.From != nil {
		b.touch(ctx, cb.From)
	}

	var chatID int64
	switch {
	case cb.Message != nil && cb.Message.Chat != nil:
		chatID = cb.Message.Chat.ID
	case cb.From != nil:
		chatID = cb.From.ID
	default:
		return
	}

	key, ok := parseMenuData(cb.Data)
	spec, found := b.Renderer.Lookup(key)
	if !ok || !found {
		b.reply(chatID, MsgUnknownOption, nil)
		return
	}
	b.selections().set(chatID, spec.Key)
	b.reply(chatID, b.Renderer.SelectPrompt(spec), nil)
}

func (b *Bot) request(msg *tgbotapi.Message, cmd core.Command, argument string) core.CommandRequest {
	ts := b.now()
	if msg.Date > 0 {
		ts = msg.Time()
	}
	return core.CommandRequest{
		UserID:    core.UserID(msg.From.ID),
		ChatID:    msg.Chat.ID,
		Username:  msg.From.UserName,
		Command:   cmd,
		Argument:  strings.TrimSpace(argument),
		Timestamp: ts,
	}
}

// reply sends text as one or more messages; markup rides on the last one.
func (b *Bot) reply(chatID int64, text string, markup any) {
	parts := splitMessage(text, MaxMessageLength)
	for i, part := range parts {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = tgbotapi.ModeHTML
		msg.DisableWebPagePreview = true
		if markup != nil && i == len(parts)-1 {
			msg.ReplyMarkup = markup
		}
		if _, err := b.API.Send(msg); err != nil {
			b.warn("Failed to send reply",
				zap.Int64("chat_id", chatID),
				zap.Int("part", i+1),
				zap.Int("parts", len(parts)),
				zap.Error(err))
			return
		}
	}
}

func (b *Bot) touch(ctx context.Context, from *tgbotapi.User) {
	if b.Users == nil || from == nil {
		return
	}
	err := b.Users.TouchUser(ctx, store.User{
		ID:        core.UserID(from.ID),
		Username:  from.UserName,
		FirstName: from.FirstName,
		LastSeen:  b.now(),
	})
	if err != nil {
		b.warn("Failed to record user", zap.Int64("user_id", from.ID), zap.Error(err))
	}
}

func (b *Bot) selections() *selections {
	b.menuOnce.Do(func() {
		b.menu = newSelections(b.MenuTTL, b.Clock)
	})
	return b.menu
}

func (b *Bot) workers() int {
	if b.Workers > 0 {
		return b.Workers
	}
	return DefaultWorkers
}

func (b *Bot) pollTimeout() int {
	if b.PollTimeout > 0 {
		return b.PollTimeout
	}
	return DefaultPollTimeout
}

func (b *Bot) now() time.Time {
	if b.Clock != nil {
		return b.Clock()
	}
	return time.Now().UTC()
}

func (b *Bot) info(msg string, fields ...zap.Field) {
	if b.Logger != nil {
		b.Logger.Info(msg, fields...)
	}
}

func (b *Bot) warn(msg string, fields ...zap.Field) {
	if b.Logger != nil {
		b.Logger.Warn(msg, fields...)
	}
}

func (b *Bot) logError(msg string, fields ...zap.Field) {
	if b.Logger != nil {
		b.Logger.Error(msg, fields...)
	}
}

func (b *Bot) debug(msg string, fields ...zap.Field) {
	if b.Logger != nil {
		b.Logger.Debug(msg, fields...)
	}
}
