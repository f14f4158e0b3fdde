package adapter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tgrelay/tgrelay/internal/core"
)

func newLinkAdapter(t *testing.T, handler http.HandlerFunc) *LinkAdapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return &LinkAdapter{
		Key:      "terabox",
		Endpoint: Endpoint{BaseURL: server.URL, Path: "/", Param: "url"},
		Hosts:    []string{"terabox.com"},
		Client:   server.Client(),
	}
}

func TestLinkAdapterExtractsDownloadURL(t *testing.T) {
	a := newLinkAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "https://www.terabox.com/s/abc", r.URL.Query().Get("url"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"download_url":"https://cdn.example/file.mp4"}`))
	})

	result, err := a.Call(context.Background(), "  https://www.terabox.com/s/abc ")
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example/file.mp4", result.Text)
	require.Equal(t, "terabox", result.Source)
	require.False(t, result.Passthrough)
}

func TestLinkAdapterNestedField(t *testing.T) {
	a := newLinkAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"link":"https://cdn.example/x"}}`))
	})
	a.Fields = []string{"data.link"}

	result, err := a.Call(context.Background(), "https://terabox.com/s/1")
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example/x", result.Text)
}

func TestLinkAdapterRejectsInvalidArgument(t *testing.T) {
	called := false
	a := newLinkAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	for _, arg := range []string{"", "not a link", "ftp://terabox.com/x", "https://example.com/s/abc", "https://"} {
		_, err := a.Call(context.Background(), arg)
		require.ErrorIs(t, err, core.ErrInvalidArgument, arg)
	}
	require.False(t, called)
}

func TestLinkAdapterMissingFieldIsMalformed(t *testing.T) {
	a := newLinkAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"error"}`))
	})

	_, err := a.Call(context.Background(), "https://terabox.com/s/1")
	require.ErrorIs(t, err, core.ErrUpstreamMalformed)
}

func TestLinkAdapterPassthrough(t *testing.T) {
	a := newLinkAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"title":"clip","formats":[1,2]}`))
	})
	a.Hosts = nil
	a.Passthrough = true

	result, err := a.Call(context.Background(), "https://youtube.com/watch?v=1")
	require.NoError(t, err)
	require.True(t, result.Passthrough)
	require.Contains(t, result.Text, `"title": "clip"`)
}

func TestLinkAdapterPlainTextPassthrough(t *testing.T) {
	a := newLinkAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("video is private"))
	})
	a.Hosts = nil

	_, err := a.Call(context.Background(), "https://youtube.com/watch?v=1")
	require.ErrorIs(t, err, core.ErrUpstreamMalformed)

	a.Passthrough = true
	result, err := a.Call(context.Background(), "https://youtube.com/watch?v=1")
	require.NoError(t, err)
	require.Equal(t, "video is private", result.Text)
}

func TestLinkAdapterNon2xxIsUnavailable(t *testing.T) {
	a := newLinkAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := a.Call(context.Background(), "https://terabox.com/s/1")
	require.ErrorIs(t, err, core.ErrUpstreamUnavailable)

	var domainErr *core.Error
	require.ErrorAs(t, err, &domainErr)
	require.Equal(t, http.StatusBadGateway, domainErr.StatusCode)
}

func TestLinkAdapterTimeoutIsUnavailable(t *testing.T) {
	release := make(chan struct{})
	a := newLinkAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := a.Call(ctx, "https://terabox.com/s/1")
	require.ErrorIs(t, err, core.ErrUpstreamUnavailable)
	require.Contains(t, err.Error(), "timed out")
}

func TestLinkAdapterRateLimitedRecordsBackoff(t *testing.T) {
	var hits atomic.Int32
	a := newLinkAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	a.Throttle = &Throttle{Store: NewMemoryBackoffStore(), Clock: func() time.Time { return now }}

	_, err := a.Call(context.Background(), "https://terabox.com/s/1")
	var domainErr *core.Error
	require.ErrorAs(t, err, &domainErr)
	require.Equal(t, core.KindUpstreamUnavailable, domainErr.Kind)
	require.Equal(t, 30*time.Second, domainErr.RetryAfter)

	_, err = a.Call(context.Background(), "https://terabox.com/s/1")
	require.ErrorAs(t, err, &domainErr)
	require.Contains(t, domainErr.Message, "cooling down")
	require.Equal(t, int32(1), hits.Load())
}

func TestHostAllowed(t *testing.T) {
	hosts := []string{"terabox.com", "1024terabox.com"}
	require.True(t, hostAllowed("terabox.com", hosts))
	require.True(t, hostAllowed("www.TeraBox.com", hosts))
	require.True(t, hostAllowed("1024terabox.com", hosts))
	require.False(t, hostAllowed("evilterabox.com", hosts))
	require.True(t, hostAllowed("anything.example", nil))
}
