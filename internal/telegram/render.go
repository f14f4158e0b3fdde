package telegram

import (
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tgrelay/tgrelay/internal/core"
	"github.com/tgrelay/tgrelay/internal/core/adapter"
)

// User-facing messages.
const (
	MsgWelcome        = "👋 Hello %s!\n\nWelcome to the multifunctional assistant bot.\nUse menu or commands below."
	MsgDenied         = "🚫 Free tier limit reached. Wait until tomorrow or ask admin."
	MsgUnavailable    = "😕 Service unavailable. Try later."
	MsgMalformed      = "😕 The service sent an unexpected response. Try later."
	MsgInternal       = "⚠️ Something went wrong. Try later."
	MsgUnknownCommand = "Unknown command. Use /help."
	MsgNotAuthorized  = "Not authorized."
	MsgUnknownOption  = "Unknown option."
	MsgSelectPrompt   = "Send me input for <b>%s</b>"
)

// Renderer turns dispatch outcomes into Telegram HTML messages.
type Renderer struct {
	Specs    []adapter.Spec
	Location *time.Location
}

// Welcome greets a user on /start.
func (r *Renderer) Welcome(firstName string) string {
	name := strings.TrimSpace(firstName)
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf(MsgWelcome, escape(name))
}

// Help lists every command, backends in catalog order.
func (r *Renderer) Help() string {
	lines := []string{
		"/start – menu",
		"/help – help",
		"/quota – requests left today",
	}
	for _, spec := range r.Specs {
		lines = append(lines, fmt.Sprintf("%s – %s", spec.Usage, spec.Title))
	}
	lines = append(lines,
		"/stats – admin only",
		"/broadcast <msg> – admin only",
		"/resetquota <user_id> – admin only",
		"/setlimit <n> – admin only",
	)
	return escape(strings.Join(lines, "\n"))
}

// Hint answers free text that is not a command.
func (r *Renderer) Hint() string {
	commands := make([]string, 0, len(r.Specs))
	for _, spec := range r.Specs {
		commands = append(commands, "/"+spec.Command)
	}
	return "Please use commands: " + strings.Join(commands, ", ")
}

// SelectPrompt confirms a menu pick.
func (r *Renderer) SelectPrompt(spec adapter.Spec) string {
	return fmt.Sprintf(MsgSelectPrompt, escape(spec.Title))
}

// Outcome renders the reply for a dispatched request.
func (r *Renderer) Outcome(req core.CommandRequest, firstName string, out core.Outcome) string {
	switch out.Status {
	case core.StatusServed:
		return r.served(req, firstName, out)
	case core.StatusDenied:
		return MsgDenied + "\nResets at " + r.formatTime(out.ResetAt) + "."
	default:
		return r.failed(req, out)
	}
}

func (r *Renderer) served(req core.CommandRequest, firstName string, out core.Outcome) string {
	switch req.Command {
	case core.CommandStart:
		return r.Welcome(firstName)
	case core.CommandHelp:
		return r.Help()
	case core.CommandQuota:
		if out.Remaining < 0 {
			return "You have unlimited requests."
		}
		return fmt.Sprintf("You have %d requests left today. Resets at %s.", out.Remaining, r.formatTime(out.ResetAt))
	case core.CommandStats:
		return "<pre>" + escape(out.Payload) + "</pre>"
	}
	return escape(out.Payload)
}

func (r *Renderer) failed(req core.CommandRequest, out core.Outcome) string {
	switch out.Kind() {
	case core.KindInvalidArgument:
		text := "⚠️ " + escape(errorMessage(out.Err))
		if usage := r.usage(req.Command); usage != "" {
			text += "\nUsage: " + escape(usage)
		}
		return text
	case core.KindUpstreamUnavailable:
		return MsgUnavailable
	case core.KindUpstreamMalformed:
		return MsgMalformed
	case core.KindUnknownCommand:
		return MsgUnknownCommand
	case core.KindNotAuthorized:
		return MsgNotAuthorized
	default:
		return MsgInternal
	}
}

func (r *Renderer) usage(cmd core.Command) string {
	for _, spec := range r.Specs {
		if spec.CommandValue() == cmd {
			return spec.Usage
		}
	}
	return ""
}

// Lookup returns the spec for a backend key.
func (r *Renderer) Lookup(key string) (adapter.Spec, bool) {
	for _, spec := range r.Specs {
		if spec.Key == key {
			return spec, true
		}
	}
	return adapter.Spec{}, false
}

func (r *Renderer) formatTime(t time.Time) string {
	if t.IsZero() {
		return "midnight"
	}
	if r.Location != nil {
		t = t.In(r.Location)
	}
	return t.Format("2006-01-02 15:04 MST")
}

// errorMessage prefers the domain message over the wrapped chain.
func errorMessage(err error) string {
	if err == nil {
		return "invalid input"
	}
	var domainErr *core.Error
	if errors.As(err, &domainErr) && domainErr.Message != "" {
		return domainErr.Message
	}
	return err.Error()
}

func escape(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeHTML, s)
}
