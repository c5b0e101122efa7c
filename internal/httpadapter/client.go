// Package httpadapter is the concrete net/http-based implementation of
// types.Dispatcher: the one external collaborator the Request Manager
// depends on through an interface.
package httpadapter

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/huntcore/huntcore/internal/retry"
	"github.com/huntcore/huntcore/internal/types"
)

// Config controls transport construction.
type Config struct {
	MaxIdleConns    int
	IdleConnTimeout time.Duration
	RequestTimeout  time.Duration
	MaxBodySize     int64 // 0 = unbounded
	FollowRedirects bool
	MaxRedirects    int
	TLSInsecure     bool // session-level default; Request.TLSInsecureSkipVerify overrides
	UserAgents      []string

	ProxyURLs     []string
	ProxyRotation string
	// DefaultProxy is the session-level proxy; a non-nil Request.Proxy
	// always takes precedence (request wins).
	DefaultProxy *url.URL
}

// Client dispatches Requests over net/http.
type Client struct {
	http       *http.Client
	cfg        Config
	proxyMgr   *ProxyManager
	logger     *slog.Logger
	uaIndex    atomic.Int64
}

// New builds a Client from cfg.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	var proxyMgr *ProxyManager
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: max(cfg.MaxIdleConns/2, 1),
		IdleConnTimeout:     cfg.IdleConnTimeout,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: cfg.TLSInsecure},
		DisableCompression:  true, // decompression handled manually, including brotli
	}

	if len(cfg.ProxyURLs) > 0 {
		proxyMgr = NewProxyManager(cfg.ProxyURLs, cfg.ProxyRotation, logger)
		transport.Proxy = proxyMgr.ProxyFunc()
	}
	// The session-level proxy, when set, takes precedence over the pool,
	// as it does in clientFor.
	if cfg.DefaultProxy != nil {
		transport.Proxy = http.ProxyURL(cfg.DefaultProxy)
	}

	redirectPolicy := func(req *http.Request, via []*http.Request) error {
		if !cfg.FollowRedirects {
			return http.ErrUseLastResponse
		}
		if cfg.MaxRedirects > 0 && len(via) >= cfg.MaxRedirects {
			return fmt.Errorf("max redirects (%d) reached", cfg.MaxRedirects)
		}
		return nil
	}

	return &Client{
		http: &http.Client{
			Transport:     transport,
			Jar:           jar,
			Timeout:       cfg.RequestTimeout,
			CheckRedirect: redirectPolicy,
		},
		cfg:      cfg,
		proxyMgr: proxyMgr,
		logger:   logger.With("component", "http_client"),
	}, nil
}

// Dispatch sends req and returns the Response for any status other than
// 429 and 503, including other 4xx/5xx statuses. A 429 or 503 response,
// like a transport failure, is returned as a *types.TransportError; for
// those two statuses it carries the capped Retry-After.
func (c *Client) Dispatch(ctx context.Context, req *types.Request) (*types.Response, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	var bodyReader io.Reader
	if len(req.Body.Raw) > 0 {
		bodyReader = bytes.NewReader(req.Body.Raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URLString(), bodyReader)
	if err != nil {
		return nil, &types.TransportError{Kind: types.TransportProtocol, Err: err}
	}

	httpReq.Header.Set("User-Agent", c.nextUserAgent())
	httpReq.Header.Set("Accept-Encoding", "gzip, deflate, br")
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Set(key, v)
		}
	}
	if len(req.Body.Raw) > 0 {
		httpReq.ContentLength = int64(len(req.Body.Raw))
	}

	client := c.clientFor(req)

	start := time.Now()
	httpResp, err := client.Do(httpReq)
	duration := time.Since(start)
	if err != nil {
		kind := types.TransportConnection
		if isTimeout(err) {
			kind = types.TransportTimeout
		}
		return nil, &types.TransportError{Kind: kind, Err: err}
	}

	if httpResp.StatusCode == 429 || httpResp.StatusCode == 503 {
		ra := retry.CapRetryAfter(parseRetryAfter(httpResp.Header.Get("Retry-After")))
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		httpResp.Body.Close()
		return nil, &types.TransportError{
			Kind:       types.TransportProtocol,
			Err:        fmt.Errorf("http %d: %s", httpResp.StatusCode, strings.TrimSpace(string(body))),
			RetryAfter: ra,
		}
	}

	maxBody := c.cfg.MaxBodySize
	finalURL := req.URLString()
	if httpResp.Request != nil && httpResp.Request.URL != nil {
		finalURL = httpResp.Request.URL.String()
	}
	encoding := httpResp.Header.Get("Content-Encoding")
	respBody := httpResp.Body

	read := func() ([]byte, error) {
		defer respBody.Close()
		var reader io.Reader = respBody
		if maxBody > 0 {
			reader = io.LimitReader(reader, maxBody)
		}
		reader, err := decompressReader(encoding, reader)
		if err != nil {
			return nil, err
		}
		return io.ReadAll(reader)
	}

	resp := types.NewResponse(req, httpResp.StatusCode, httpResp.Header, finalURL, duration, read)
	c.logger.Debug("dispatch complete", "url", req.URLString(), "status", resp.StatusCode, "duration", duration)
	return resp, nil
}

// clientFor returns the shared Client unless req overrides the proxy or
// TLS verification, in which case it builds a one-off *http.Client around
// a cloned Transport (request wins over the session default, per spec's
// Open Question #2 resolution).
func (c *Client) clientFor(req *types.Request) *http.Client {
	if req.Proxy == nil && req.TLSInsecureSkipVerify == nil {
		return c.http
	}

	base := c.http.Transport.(*http.Transport).Clone()

	if req.Proxy != nil {
		base.Proxy = http.ProxyURL(req.Proxy)
	} else if c.cfg.DefaultProxy != nil {
		base.Proxy = http.ProxyURL(c.cfg.DefaultProxy)
	}

	if req.TLSInsecureSkipVerify != nil {
		tlsCfg := base.TLSClientConfig.Clone()
		tlsCfg.InsecureSkipVerify = *req.TLSInsecureSkipVerify
		base.TLSClientConfig = tlsCfg
	}

	override := *c.http
	override.Transport = base
	return &override
}

func (c *Client) nextUserAgent() string {
	if len(c.cfg.UserAgents) == 0 {
		return "huntcore/1.0"
	}
	idx := c.uaIndex.Add(1) % int64(len(c.cfg.UserAgents))
	return c.cfg.UserAgents[idx]
}

// CloseIdleConnections releases pooled connections on shutdown.
func (c *Client) CloseIdleConnections() { c.http.CloseIdleConnections() }

func decompressReader(encoding string, reader io.Reader) (io.Reader, error) {
	switch encoding {
	case "gzip":
		return gzip.NewReader(reader)
	case "deflate":
		return flate.NewReader(reader), nil
	case "br":
		return brotli.NewReader(reader), nil
	default:
		return reader, nil
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// parseRetryAfter parses seconds or an HTTP-date Retry-After header,
// returning zero if absent or malformed.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
