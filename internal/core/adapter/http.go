package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tgrelay/tgrelay/internal/core"
)

const maxResponseBytes = 1 << 20

const userAgent = "tgrelay"

type httpResponse struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

func buildURL(endpoint Endpoint, value string) (string, error) {
	base, err := url.Parse(strings.TrimSpace(endpoint.BaseURL))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return "", fmt.Errorf("invalid backend base url %q", endpoint.BaseURL)
	}
	if path := strings.TrimSpace(endpoint.Path); path != "" {
		base = base.ResolveReference(&url.URL{Path: path})
	}
	param := strings.TrimSpace(endpoint.Param)
	if param == "" {
		param = "url"
	}
	query := base.Query()
	query.Set(param, value)
	base.RawQuery = query.Encode()
	return base.String(), nil
}

// get performs one GET and classifies every failure into a domain error.
func get(ctx context.Context, client *http.Client, op, target string) (*httpResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, core.WrapError(core.KindInternal, op, "build request", err)
	}
	req.Header.Set("Accept", "application/json, text/plain;q=0.9")
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, core.WrapError(core.KindUpstreamUnavailable, op, "backend timed out", err)
		}
		return nil, core.WrapError(core.KindUpstreamUnavailable, op, "backend unreachable", err)
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	if resp.StatusCode == http.StatusTooManyRequests {
		wait, _ := retryAfterHeader(resp)
		return nil, &core.Error{
			Kind:       core.KindUpstreamUnavailable,
			Op:         op,
			Message:    "backend rate limited",
			StatusCode: resp.StatusCode,
			RetryAfter: wait,
		}
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &core.Error{
			Kind:       core.KindUpstreamUnavailable,
			Op:         op,
			Message:    "unexpected backend status",
			StatusCode: resp.StatusCode,
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, core.WrapError(core.KindUpstreamUnavailable, op, "read backend response", err)
	}
	if len(body) > maxResponseBytes {
		return nil, &core.Error{Kind: core.KindUpstreamMalformed, Op: op, Message: "backend response too large", StatusCode: resp.StatusCode}
	}

	return &httpResponse{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

func retryAfterHeader(resp *http.Response) (time.Duration, map[string]any) {
	if resp == nil || resp.Header == nil {
		return 0, nil
	}

	retry := resp.Header.Get("Retry-After")
	if retry == "" {
		return 0, nil
	}

	if seconds, err := time.ParseDuration(retry + "s"); err == nil {
		return seconds, map[string]any{"retry_after": retry}
	}
	if parsed, err := http.ParseTime(retry); err == nil {
		return time.Until(parsed), map[string]any{"retry_after": retry}
	}

	return 0, map[string]any{"retry_after": retry}
}
