package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/tgrelay/tgrelay/internal/core"
	"github.com/tgrelay/tgrelay/internal/core/admin"
)

// API is the subset of *tgbotapi.BotAPI the transport uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Sender delivers plain-text messages to users. It satisfies admin.Sender.
type Sender struct {
	API API
	// Limiter caps the global send rate; nil disables pacing.
	Limiter *rate.Limiter
}

// NewSender paces sends at perSecond with the given burst.
func NewSender(api API, perSecond float64, burst int) *Sender {
	var limiter *rate.Limiter
	if perSecond > 0 {
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	return &Sender{API: api, Limiter: limiter}
}

var _ admin.Sender = (*Sender)(nil)

// Send delivers plain text to the user's private chat, escaped for HTML and
// split when it exceeds MaxMessageLength. Users who blocked the bot or never
// opened a chat yield an error wrapping admin.ErrUnreachable.
func (s *Sender) Send(ctx context.Context, recipient core.UserID, text string) error {
	if s == nil || s.API == nil {
		return errors.New("telegram sender is not configured")
	}
	for _, part := range splitMessage(escape(text), MaxMessageLength) {
		msg := tgbotapi.NewMessage(int64(recipient), part)
		msg.ParseMode = tgbotapi.ModeHTML
		if _, err := s.send(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sender) send(ctx context.Context, c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if s.Limiter != nil {
		if err := s.Limiter.Wait(ctx); err != nil {
			return tgbotapi.Message{}, fmt.Errorf("rate limiter: %w", err)
		}
	}
	msg, err := s.API.Send(c)
	if err != nil {
		return msg, classifySendError(err)
	}
	return msg, nil
}

func classifySendError(err error) error {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	description := strings.ToLower(apiErr.Message)
	if apiErr.Code == http.StatusForbidden || strings.Contains(description, "chat not found") {
		return fmt.Errorf("%w: %s", admin.ErrUnreachable, apiErr.Message)
	}
	return err
}
