package httpadapter

import (
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/huntcore/huntcore/internal/types"
)

func newTestClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	c, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func newTestRequest(t *testing.T, rawURL string) *types.Request {
	t.Helper()
	req, err := types.NewRequest(rawURL)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	return req
}

func TestDispatchReturnsResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	c := newTestClient(t, Config{RequestTimeout: time.Second, MaxIdleConns: 10})
	defer c.CloseIdleConnections()

	resp, err := c.Dispatch(context.Background(), newTestRequest(t, srv.URL))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	body, err := resp.Text()
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	if body != "hello" {
		t.Errorf("expected body %q, got %q", "hello", body)
	}
}

func TestDispatchSetsRequestHeaders(t *testing.T) {
	var gotUA, gotCustom string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotCustom = r.Header.Get("X-Custom")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, Config{RequestTimeout: time.Second, MaxIdleConns: 10, UserAgents: []string{"test-agent"}})
	defer c.CloseIdleConnections()

	req := newTestRequest(t, srv.URL)
	req.Header.Set("X-Custom", "value")
	if _, err := c.Dispatch(context.Background(), req); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if gotUA != "test-agent" {
		t.Errorf("expected user agent %q, got %q", "test-agent", gotUA)
	}
	if gotCustom != "value" {
		t.Errorf("expected custom header to pass through, got %q", gotCustom)
	}
}

func TestDispatchTranslatesRetryAfterOn503(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, Config{RequestTimeout: time.Second, MaxIdleConns: 10})
	defer c.CloseIdleConnections()

	_, err := c.Dispatch(context.Background(), newTestRequest(t, srv.URL))
	var te *types.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected a TransportError, got %v", err)
	}
	if te.RetryAfter != 2*time.Second {
		t.Errorf("expected RetryAfter 2s, got %v", te.RetryAfter)
	}
}

func TestDispatchReturnsTransportErrorOnConnectionFailure(t *testing.T) {
	c := newTestClient(t, Config{RequestTimeout: 500 * time.Millisecond, MaxIdleConns: 10})
	defer c.CloseIdleConnections()

	_, err := c.Dispatch(context.Background(), newTestRequest(t, "http://127.0.0.1:1"))
	var te *types.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected a TransportError, got %v", err)
	}
}

func TestDispatchHonorsRequestTimeoutOverride(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, Config{RequestTimeout: 10 * time.Second, MaxIdleConns: 10})
	defer c.CloseIdleConnections()

	req := newTestRequest(t, srv.URL)
	req.Timeout = 20 * time.Millisecond

	start := time.Now()
	_, err := c.Dispatch(context.Background(), req)
	if err == nil {
		t.Fatal("expected the per-request timeout to fire before the slow handler responds")
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("expected the request to fail fast around 20ms, took %v", elapsed)
	}
}

func TestDispatchDecompressesGzip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		w.WriteHeader(http.StatusOK)
		gz := gzip.NewWriter(w)
		gz.Write([]byte("compressed body"))
		gz.Close()
	}))
	defer srv.Close()

	c := newTestClient(t, Config{RequestTimeout: time.Second, MaxIdleConns: 10})
	defer c.CloseIdleConnections()

	resp, err := c.Dispatch(context.Background(), newTestRequest(t, srv.URL))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	body, err := resp.Text()
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	if body != "compressed body" {
		t.Errorf("expected decompressed body %q, got %q", "compressed body", body)
	}
}

func TestClientForUsesRequestProxyOverSessionDefault(t *testing.T) {
	sessionProxy := mustParseURL(t, "http://session-proxy.example:8080")
	requestProxy := mustParseURL(t, "http://request-proxy.example:9090")

	c := newTestClient(t, Config{RequestTimeout: time.Second, MaxIdleConns: 10, DefaultProxy: sessionProxy})
	defer c.CloseIdleConnections()

	req := newTestRequest(t, "https://example.com")
	req.Proxy = requestProxy

	client := c.clientFor(req)
	transport := client.Transport.(*http.Transport)
	gotProxy, err := transport.Proxy(&http.Request{URL: req.URL})
	if err != nil {
		t.Fatalf("Proxy func: %v", err)
	}
	if gotProxy.String() != requestProxy.String() {
		t.Errorf("expected request proxy to win, got %v", gotProxy)
	}
}

func TestClientForFallsBackToSessionProxy(t *testing.T) {
	sessionProxy := mustParseURL(t, "http://session-proxy.example:8080")
	c := newTestClient(t, Config{RequestTimeout: time.Second, MaxIdleConns: 10, DefaultProxy: sessionProxy})
	defer c.CloseIdleConnections()

	insecure := true
	req := newTestRequest(t, "https://example.com")
	req.TLSInsecureSkipVerify = &insecure // force the override path without setting a request proxy

	client := c.clientFor(req)
	transport := client.Transport.(*http.Transport)
	gotProxy, err := transport.Proxy(&http.Request{URL: req.URL})
	if err != nil {
		t.Fatalf("Proxy func: %v", err)
	}
	if gotProxy.String() != sessionProxy.String() {
		t.Errorf("expected session default proxy, got %v", gotProxy)
	}
}

func TestClientForReusesSharedClientWithNoOverrides(t *testing.T) {
	c := newTestClient(t, Config{RequestTimeout: time.Second, MaxIdleConns: 10})
	defer c.CloseIdleConnections()

	req := newTestRequest(t, "https://example.com")
	client := c.clientFor(req)
	if client != c.http {
		t.Error("expected the shared client to be reused when no per-request overrides are set")
	}
}

func TestNextUserAgentRoundRobins(t *testing.T) {
	c := newTestClient(t, Config{UserAgents: []string{"a", "b", "c"}})
	seen := make(map[string]bool)
	for i := 0; i < 6; i++ {
		seen[c.nextUserAgent()] = true
	}
	for _, want := range []string{"a", "b", "c"} {
		if !seen[want] {
			t.Errorf("expected to see user agent %q across rotations", want)
		}
	}
}

func TestNextUserAgentDefaultsWhenEmpty(t *testing.T) {
	c := newTestClient(t, Config{})
	if got := c.nextUserAgent(); got != "huntcore/1.0" {
		t.Errorf("expected default user agent, got %q", got)
	}
}

func TestParseRetryAfterSeconds(t *testing.T) {
	if got := parseRetryAfter("120"); got != 120*time.Second {
		t.Errorf("expected 120s, got %v", got)
	}
}

func TestParseRetryAfterHTTPDate(t *testing.T) {
	future := time.Now().Add(time.Hour).UTC().Format(http.TimeFormat)
	got := parseRetryAfter(future)
	if got <= 0 || got > time.Hour {
		t.Errorf("expected a positive duration close to 1h, got %v", got)
	}
}

func TestParseRetryAfterEmptyOrInvalid(t *testing.T) {
	if got := parseRetryAfter(""); got != 0 {
		t.Errorf("expected 0 for an empty header, got %v", got)
	}
	if got := parseRetryAfter("not-a-date"); got != 0 {
		t.Errorf("expected 0 for a malformed header, got %v", got)
	}
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	return u
}
