package types

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Priority levels for request scheduling. Lower values are dispatched first.
const (
	PriorityHighest = 0
	PriorityHigh    = 1
	PriorityNormal  = 2
	PriorityLow     = 3
	PriorityLowest  = 4
)

// QueryParam is a single ordered query-string key/value pair. A plain
// url.Values loses insertion order, which some target APIs care about.
type QueryParam struct {
	Key   string
	Value any // string, number, or []string
}

// Body is the payload to send with a Request. Exactly one field is set.
// internal/httpadapter sends only Raw; JSON, Form and Multipart are not
// encoded or sent by it.
type Body struct {
	Raw       []byte
	JSON      any
	Form      url.Values
	Multipart map[string]string
}

// Request represents a single outbound HTTP request.
type Request struct {
	URL    *url.URL
	Method string
	Query  []QueryParam
	Header http.Header
	Body   Body

	// Priority controls scheduling order; lower values dispatch sooner.
	Priority int

	// Proxy, if non-nil, overrides the session-level proxy for this
	// request only (request wins over session default).
	Proxy *url.URL

	// TLSInsecureSkipVerify overrides the session default when non-nil.
	TLSInsecureSkipVerify *bool

	// Timeout, when non-zero, adds a deadline to this request's dispatch;
	// execution.request_timeout still applies, so the shorter one wins.
	Timeout time.Duration

	// Callback and Errback name handlers registered on the owning Scraper.
	Callback string
	Errback  string

	// Extra carries caller-supplied keyword arguments threaded through to
	// the Dependency Resolver Context as named values.
	Extra map[string]any

	// RateLimitGroup overrides automatic group derivation (by hostname)
	// when non-empty.
	RateLimitGroup string

	// ID identifies this request for log correlation across retries and
	// re-submission.
	ID string

	// Attempt is the current retry attempt, starting at 0.
	Attempt int

	// MaxRetries is carried on the request but not read by the retry
	// middleware, which bounds attempts by its own Config.MaxRetries.
	MaxRetries int
}

// NewRequest creates a new Request with sensible defaults.
func NewRequest(rawURL string) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}

	return &Request{
		URL:        u,
		Method:     http.MethodGet,
		Header:     make(http.Header),
		Priority:   PriorityNormal,
		Extra:      make(map[string]any),
		ID:         uuid.NewString(),
		MaxRetries: 3,
	}, nil
}

// URLString returns the string representation of the request URL, query
// parameters applied in their declared order. Built by hand rather than
// through url.Values.Encode, which alphabetizes keys and would defeat the
// ordering QueryParam exists to preserve.
func (r *Request) URLString() string {
	if r.URL == nil {
		return ""
	}
	if len(r.Query) == 0 {
		return r.URL.String()
	}
	u := *r.URL
	u.RawQuery = encodeQueryParams(r.Query)
	return u.String()
}

func encodeQueryParams(params []QueryParam) string {
	var b strings.Builder
	first := true
	write := func(key string, value string) {
		if !first {
			b.WriteByte('&')
		}
		first = false
		b.WriteString(url.QueryEscape(key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(value))
	}
	for _, p := range params {
		switch v := p.Value.(type) {
		case []string:
			for _, s := range v {
				write(p.Key, s)
			}
		default:
			write(p.Key, fmt.Sprintf("%v", v))
		}
	}
	return b.String()
}

// Domain returns the hostname of the request URL.
func (r *Request) Domain() string {
	if r.URL == nil {
		return ""
	}
	return r.URL.Hostname()
}

// Group returns the rate-limit group key for this request: the explicit
// override if set, otherwise the hostname.
func (r *Request) Group() string {
	if r.RateLimitGroup != "" {
		return r.RateLimitGroup
	}
	return r.Domain()
}

// Clone copies the request, used when re-submitting after a retry so the
// original Request is never mutated concurrently. URL, Query, Header, the
// top level of Extra and Body.Raw are copied; Body.JSON, Body.Form,
// Body.Multipart, Proxy and TLSInsecureSkipVerify are shared with r.
func (r *Request) Clone() *Request {
	clone := *r
	if r.URL != nil {
		u := *r.URL
		clone.URL = &u
	}
	clone.Query = append([]QueryParam(nil), r.Query...)
	clone.Header = r.Header.Clone()
	clone.Extra = make(map[string]any, len(r.Extra))
	for k, v := range r.Extra {
		clone.Extra[k] = v
	}
	clone.Body.Raw = append([]byte(nil), r.Body.Raw...)
	return &clone
}
