package adapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tgrelay/tgrelay/internal/ailink/driver"
	"github.com/tgrelay/tgrelay/internal/ailink/driver/openai"
	"github.com/tgrelay/tgrelay/internal/core"
)

// Chat backend styles.
const (
	StyleQuery  = "query"
	StyleOpenAI = "openai"
)

// DefaultMaxPromptChars bounds prompt length when none is configured.
const DefaultMaxPromptChars = 4000

// ChatAdapter relays a free-text prompt to a chat backend.
type ChatAdapter struct {
	Key string
	// Style selects the wire shape: StyleQuery (GET with a prompt parameter)
	// or StyleOpenAI (chat completions through Driver).
	Style    string
	Endpoint Endpoint
	// Fields are probed in order for the reply in query style.
	Fields []string
	// Driver and Model serve StyleOpenAI.
	Driver         driver.Driver
	Model          string
	SystemPrompt   string
	MaxPromptChars int
	Client         *http.Client
	Timeout        time.Duration
	Throttle       *Throttle
}

// DefaultChatFields are probed for the reply in query style.
var DefaultChatFields = []string{"reply", "response", "message", "answer"}

// Name returns the backend key.
func (a *ChatAdapter) Name() string {
	if a == nil {
		return ""
	}
	return a.Key
}

// Call sends the prompt and returns the backend reply.
func (a *ChatAdapter) Call(ctx context.Context, argument string) (*Result, error) {
	if a == nil {
		return nil, core.NewError(core.KindInternal, "chat", "adapter is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	prompt, err := a.validate(argument)
	if err != nil {
		return nil, err
	}

	return a.Throttle.guard(ctx, a.Key, func() (*Result, error) {
		if a.Style == StyleOpenAI {
			return a.complete(ctx, prompt)
		}
		return a.query(ctx, prompt)
	})
}

func (a *ChatAdapter) validate(argument string) (string, error) {
	prompt := strings.TrimSpace(argument)
	if prompt == "" {
		return "", core.NewError(core.KindInvalidArgument, a.Key, "a prompt is required")
	}
	limit := a.MaxPromptChars
	if limit <= 0 {
		limit = DefaultMaxPromptChars
	}
	if n := utf8.RuneCountInString(prompt); n > limit {
		return "", core.NewError(core.KindInvalidArgument, a.Key, fmt.Sprintf("prompt is too long (%d > %d characters)", n, limit))
	}
	return prompt, nil
}

func (a *ChatAdapter) query(ctx context.Context, prompt string) (*Result, error) {
	endpoint := a.Endpoint
	if endpoint.Param == "" {
		endpoint.Param = "prompt"
	}
	target, err := buildURL(endpoint, prompt)
	if err != nil {
		return nil, core.WrapError(core.KindInternal, a.Key, "backend misconfigured", err)
	}

	resp, err := get(ctx, httpClient(a.Client, a.Timeout), a.Key, target)
	if err != nil {
		return nil, err
	}

	doc, ok := decodeJSON(resp.Body)
	if !ok {
		// Plain-text bodies are the reply itself.
		text := strings.TrimSpace(string(resp.Body))
		if text == "" {
			return nil, &core.Error{Kind: core.KindUpstreamMalformed, Op: a.Key, Message: "backend returned an empty reply", StatusCode: resp.StatusCode}
		}
		return &Result{Text: text, Source: a.Key, StatusCode: resp.StatusCode}, nil
	}

	fields := a.Fields
	if len(fields) == 0 {
		fields = DefaultChatFields
	}
	text, _, found := firstField(doc, fields)
	if !found {
		return nil, &core.Error{Kind: core.KindUpstreamMalformed, Op: a.Key, Message: "backend response has no reply", StatusCode: resp.StatusCode}
	}
	return &Result{Text: text, Source: a.Key, StatusCode: resp.StatusCode}, nil
}

func (a *ChatAdapter) complete(ctx context.Context, prompt string) (*Result, error) {
	if a.Driver == nil {
		return nil, core.NewError(core.KindInternal, a.Key, "chat driver is not configured")
	}
	if a.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Timeout)
		defer cancel()
	}

	resp, err := a.Driver.Complete(ctx, driver.UserPrompt(a.Model, a.SystemPrompt, prompt))
	if err != nil {
		return nil, classifyDriverError(a.Key, err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return nil, core.NewError(core.KindUpstreamMalformed, a.Key, "backend returned an empty reply")
	}
	return &Result{Text: text, Source: a.Key, StatusCode: http.StatusOK}, nil
}

func classifyDriverError(op string, err error) error {
	var providerErr *driver.ProviderError
	switch {
	case errors.As(err, &providerErr):
		return &core.Error{
			Kind:       core.KindUpstreamUnavailable,
			Op:         op,
			Message:    "backend rejected the request",
			StatusCode: providerErr.StatusCode,
			RetryAfter: providerErr.RetryAfter,
			Err:        err,
		}
	case errors.Is(err, openai.ErrMalformedResponse):
		return core.WrapError(core.KindUpstreamMalformed, op, "backend returned an unusable response", err)
	case errors.Is(err, context.DeadlineExceeded):
		return core.WrapError(core.KindUpstreamUnavailable, op, "backend timed out", err)
	default:
		return core.WrapError(core.KindUpstreamUnavailable, op, "backend unreachable", err)
	}
}
