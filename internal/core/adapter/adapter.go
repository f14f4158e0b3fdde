// Package adapter translates a validated command argument into one call to an
// external backend and maps the response into a user-facing result.
//
// Adapters never touch quota state. Failures are returned as *core.Error with
// kind InvalidArgument, UpstreamUnavailable or UpstreamMalformed.
package adapter

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// Adapter is one backend.
type Adapter interface {
	// Name returns the backend key (e.g., "terabox").
	Name() string
	// Call validates argument, performs the outbound request and extracts the payload.
	Call(ctx context.Context, argument string) (*Result, error)
}

// Result is the payload extracted from a successful backend response.
type Result struct {
	Text       string `json:"text"`
	Source     string `json:"source"`
	StatusCode int    `json:"status_code,omitempty"`
	// Passthrough is set when Text is the raw backend document rather than an extracted field.
	Passthrough bool `json:"passthrough,omitempty"`
}

// Endpoint locates a query-style backend: GET {BaseURL}{Path}?{Param}=<argument>.
type Endpoint struct {
	BaseURL string
	Path    string
	Param   string
}

func (e Endpoint) String() string {
	return strings.TrimRight(e.BaseURL, "/") + "/" + strings.TrimLeft(e.Path, "/")
}

func httpClient(client *http.Client, timeout time.Duration) *http.Client {
	if client != nil {
		return client
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}
