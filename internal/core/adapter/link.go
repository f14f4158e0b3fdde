package adapter

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tgrelay/tgrelay/internal/core"
)

// DefaultLinkFields are the response fields probed for a resolved link.
var DefaultLinkFields = []string{"download_url", "url", "link", "reply"}

// LinkAdapter resolves a share or video link through a query-style backend.
type LinkAdapter struct {
	Key      string
	Endpoint Endpoint
	// Fields are probed in order for the resolved link.
	Fields []string
	// Passthrough returns the whole JSON document when no field is found,
	// and plain-text bodies as-is.
	Passthrough bool
	// Hosts restricts accepted links to these hosts and their subdomains.
	Hosts    []string
	Client   *http.Client
	Timeout  time.Duration
	Throttle *Throttle
}

// Name returns the backend key.
func (a *LinkAdapter) Name() string {
	if a == nil {
		return ""
	}
	return a.Key
}

// Call resolves the link in argument.
func (a *LinkAdapter) Call(ctx context.Context, argument string) (*Result, error) {
	if a == nil {
		return nil, core.NewError(core.KindInternal, "link", "adapter is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	link, err := a.validate(argument)
	if err != nil {
		return nil, err
	}

	target, err := buildURL(a.Endpoint, link)
	if err != nil {
		return nil, core.WrapError(core.KindInternal, a.Key, "backend misconfigured", err)
	}

	return a.Throttle.guard(ctx, a.Key, func() (*Result, error) {
		resp, err := get(ctx, httpClient(a.Client, a.Timeout), a.Key, target)
		if err != nil {
			return nil, err
		}
		return a.extract(resp)
	})
}

func (a *LinkAdapter) validate(argument string) (string, error) {
	value := strings.TrimSpace(argument)
	if value == "" {
		return "", core.NewError(core.KindInvalidArgument, a.Key, "a link is required")
	}
	if fields := strings.Fields(value); len(fields) > 1 {
		return "", core.NewError(core.KindInvalidArgument, a.Key, "send exactly one link")
	}

	parsed, err := url.Parse(value)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Hostname() == "" {
		return "", core.NewError(core.KindInvalidArgument, a.Key, "not a valid http(s) link")
	}
	if !hostAllowed(parsed.Hostname(), a.Hosts) {
		return "", core.NewError(core.KindInvalidArgument, a.Key, "link host is not supported by this command")
	}
	return parsed.String(), nil
}

func (a *LinkAdapter) extract(resp *httpResponse) (*Result, error) {
	doc, ok := decodeJSON(resp.Body)
	if !ok {
		text := strings.TrimSpace(string(resp.Body))
		if a.Passthrough && text != "" {
			return &Result{Text: text, Source: a.Key, StatusCode: resp.StatusCode, Passthrough: true}, nil
		}
		return nil, &core.Error{Kind: core.KindUpstreamMalformed, Op: a.Key, Message: "backend returned a non-JSON response", StatusCode: resp.StatusCode}
	}

	fields := a.Fields
	if len(fields) == 0 {
		fields = DefaultLinkFields
	}
	if text, _, found := firstField(doc, fields); found {
		return &Result{Text: text, Source: a.Key, StatusCode: resp.StatusCode}, nil
	}
	if a.Passthrough {
		return &Result{Text: prettyJSON(doc), Source: a.Key, StatusCode: resp.StatusCode, Passthrough: true}, nil
	}
	return nil, &core.Error{Kind: core.KindUpstreamMalformed, Op: a.Key, Message: "backend response has no link", StatusCode: resp.StatusCode}
}

func hostAllowed(host string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	for _, candidate := range allowed {
		candidate = strings.ToLower(strings.TrimSpace(candidate))
		if candidate == "" {
			continue
		}
		if host == candidate || strings.HasSuffix(host, "."+candidate) {
			return true
		}
	}
	return false
}
