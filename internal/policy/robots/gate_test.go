package robots

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"
)

func TestGateDisallowedPath(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/robots.txt", r.URL.Path)
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /en-gb/\n"))
	}))
	defer srv.Close()

	gate := New(Config{Timeout: time.Second}, nil)
	require.False(t, gate.Allowed(context.Background(), srv.URL, "/en-gb/", ""))
	require.True(t, gate.Allowed(context.Background(), srv.URL+"/some/page", "/about", ""))
}

func TestGateUnreachableFailsClosed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	gate := New(Config{Timeout: 500 * time.Millisecond}, nil)
	require.False(t, gate.Allowed(context.Background(), url, "/en-gb/", ""))
	require.False(t, gate.Allowed(context.Background(), "not a url", "/en-gb/", ""))
}

func TestGateTimeoutFailsClosed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	gate := New(Config{Timeout: 100 * time.Millisecond}, nil)
	start := time.Now()
	require.False(t, gate.Allowed(context.Background(), srv.URL, "/en-gb/", ""))
	require.Less(t, time.Since(start), 1500*time.Millisecond)
}

func TestGateNon2xxAndOversizeFailClosed(t *testing.T) {
	t.Parallel()

	mt := httpmock.NewMockTransport()
	mt.RegisterResponder(http.MethodGet, "https://gone.example/robots.txt",
		httpmock.NewStringResponder(http.StatusInternalServerError, "boom"))
	mt.RegisterResponder(http.MethodGet, "https://huge.example/robots.txt",
		httpmock.NewStringResponder(http.StatusOK, strings.Repeat("a", maxBodyBytes+10)))

	gate := New(Config{Client: &http.Client{Transport: mt}}, nil)
	require.False(t, gate.Allowed(context.Background(), "https://gone.example", "/", ""))
	require.False(t, gate.Allowed(context.Background(), "https://huge.example", "/", ""))
}

func TestGateCachesSuccessOnly(t *testing.T) {
	t.Parallel()

	mt := httpmock.NewMockTransport()
	mt.RegisterResponder(http.MethodGet, "https://books.example/robots.txt",
		httpmock.NewStringResponder(http.StatusOK, "User-agent: *\nAllow: /en-gb/\nDisallow: /checkout\n"))

	var failures atomic.Int32
	mt.RegisterResponder(http.MethodGet, "https://flaky.example/robots.txt",
		func(*http.Request) (*http.Response, error) {
			if failures.Add(1) == 1 {
				return nil, errors.New("connection refused")
			}
			return httpmock.NewStringResponse(http.StatusOK, "User-agent: *\nAllow: /\n"), nil
		})

	gate := New(Config{Client: &http.Client{Transport: mt}, CacheTTL: time.Minute}, nil)
	ctx := context.Background()

	require.True(t, gate.Allowed(ctx, "https://books.example", "/en-gb/", ""))
	require.False(t, gate.Allowed(ctx, "https://books.example/en-gb/x", "/checkout/cart", ""))
	require.Equal(t, 1, mt.GetCallCountInfo()["GET https://books.example/robots.txt"])

	require.False(t, gate.Allowed(ctx, "https://flaky.example", "/en-gb/", ""))
	require.True(t, gate.Allowed(ctx, "https://flaky.example", "/en-gb/", ""))
	require.Equal(t, 2, mt.GetCallCountInfo()["GET https://flaky.example/robots.txt"])
}

func TestRetryTransportRetriesTimeouts(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	base := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if calls.Add(1) < 3 {
			return nil, timeoutErr{}
		}
		return httpmock.NewStringResponse(http.StatusOK, "User-agent: *\nAllow: /\n"), nil
	})
	transport := &retryTransport{base: base, backoff: []time.Duration{time.Millisecond, time.Millisecond}}

	req := httptest.NewRequest(http.MethodGet, "https://books.example/robots.txt", nil)
	resp, err := transport.RoundTrip(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, int32(3), calls.Load())

	calls.Store(-10)
	_, err = transport.RoundTrip(req)
	require.Error(t, err)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }
