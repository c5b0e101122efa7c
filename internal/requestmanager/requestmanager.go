// Package requestmanager executes the per-request lifecycle in two parts:
// Submit runs outer-request middleware and hands the request to the
// Scheduler; Execute, called by a worker once the request is popped back
// off the queue, runs rate limiting, inner-request middleware, dispatch,
// response middleware, and callback/errback invocation, with
// request-exception middleware (retry) given a chance to intervene on
// failure.
package requestmanager

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/huntcore/huntcore/internal/middleware"
	"github.com/huntcore/huntcore/internal/ratelimit"
	"github.com/huntcore/huntcore/internal/types"
)

// RequestFunc runs in the outer/inner-request phases: it may mutate req,
// short-circuit the remaining chain, or stop processing the request
// entirely.
type RequestFunc func(ctx context.Context, req *types.Request) error

// ResponseFunc runs in the response phase once a Response is available.
type ResponseFunc func(ctx context.Context, req *types.Request, resp *types.Response) error

// ExceptionFunc runs when dispatch or a prior phase returned an error. It
// may resolve the error (returning nil) after handling it (e.g. the retry
// middleware re-submitting the request), or return the error (or a
// replacement) to propagate it to the errback.
type ExceptionFunc func(ctx context.Context, req *types.Request, err error) error

// Callback is invoked on a successful Response; Errback on an unresolved
// error. Both are resolved by name through a Resolver.
type Callback func(ctx context.Context, req *types.Request, resp *types.Response) error
type Errback func(ctx context.Context, req *types.Request, err error) error

// CallbackResolver looks up named callback/errback handlers.
type CallbackResolver interface {
	Callback(name string) (Callback, bool)
	Errback(name string) (Errback, bool)
}

// Manager wires middleware phases, the rate limiter, and the dispatcher
// together for a single request's lifecycle.
type Manager struct {
	outerRequest  middleware.Chain[RequestFunc]
	innerRequest  middleware.Chain[RequestFunc]
	response      middleware.Chain[ResponseFunc]
	exception     middleware.Chain[ExceptionFunc]

	dispatcher types.Dispatcher
	limiter    *ratelimit.Limiter
	resolver   CallbackResolver
	logger     *slog.Logger

	// rawSubmit hands req to the Scheduler directly, with no further
	// middleware. Submit wraps it with the outer-request chain; Execute
	// never calls it, since by the time Execute runs the request has
	// already passed through Submit once.
	rawSubmit func(ctx context.Context, req *types.Request) error
}

// New creates a Manager. rawSubmit enqueues a request on the Scheduler with
// no middleware applied; callers that need outer-request middleware to run
// first (any handler issuing a new request) should call Manager.Submit
// instead of rawSubmit directly.
func New(dispatcher types.Dispatcher, limiter *ratelimit.Limiter, resolver CallbackResolver, logger *slog.Logger, rawSubmit func(ctx context.Context, req *types.Request) error) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		dispatcher: dispatcher,
		limiter:    limiter,
		resolver:   resolver,
		logger:     logger.With("component", "request_manager"),
		rawSubmit:  rawSubmit,
	}
}

// Submit runs req through the outer-request chain and, if it's not
// stopped there, hands it to the Scheduler. This is the entry point for
// every request reaching the scheduler — the entry function's seeds and
// every callback-issued follow-up request (via Context.SendRequest) call
// this, not rawSubmit, so outer-request middleware can see and influence
// a request's priority-queue placement before it's ever popped by a
// worker.
func (m *Manager) Submit(ctx context.Context, req *types.Request) error {
	if err := m.runRequestChain(ctx, req, m.outerRequest.Funcs()); err != nil {
		if errors.Is(err, types.StopRequestProcessing) {
			return nil
		}
		return err
	}
	return m.rawSubmit(ctx, req)
}

func (m *Manager) RegisterOuterRequest(name string, priority int, fn RequestFunc) {
	m.outerRequest.Register(name, middleware.PhaseOuterRequest, priority, fn)
}

func (m *Manager) RegisterInnerRequest(name string, priority int, fn RequestFunc) {
	m.innerRequest.Register(name, middleware.PhaseInnerRequest, priority, fn)
}

func (m *Manager) RegisterResponse(name string, priority int, fn ResponseFunc) {
	m.response.Register(name, middleware.PhaseResponse, priority, fn)
}

func (m *Manager) RegisterException(name string, priority int, fn ExceptionFunc) {
	m.exception.Register(name, middleware.PhaseRequestException, priority, fn)
}

// Execute runs the dispatch sequence for req, once it has already passed
// through Submit and been popped off the Scheduler by a worker:
//  1. rate-limit acquire for req.Group()
//  2. inner-request middleware
//  3. dispatch via the Dispatcher
//  4. rate-limit outcome report
//  5. exception middleware for a dispatch error or a 4xx/5xx status,
//     response middleware otherwise
//  6. errback or callback invocation
func (m *Manager) Execute(ctx context.Context, req *types.Request) {
	if err := m.limiter.Acquire(ctx, req.Group(), 0); err != nil {
		m.handleStop(ctx, req, err)
		return
	}

	if err := m.runRequestChain(ctx, req, m.innerRequest.Funcs()); err != nil {
		m.handleStop(ctx, req, err)
		return
	}

	start := time.Now()
	resp, dispatchErr := m.dispatcher.Dispatch(ctx, req)
	latency := time.Since(start)

	if dispatchErr != nil {
		if errors.Is(dispatchErr, context.Canceled) {
			// A worker's context was force-cancelled during scheduler
			// drain; this is shutdown, not a server signal or a
			// retryable failure. Drop it with only a debug trace, like
			// handleStop does.
			m.logger.Debug("request dropped: cancelled during dispatch", "url", req.URLString())
			return
		}
		m.limiter.Report(req.Group(), ratelimit.Outcome{Success: false, Latency: latency, RetryAfter: retryAfterOf(dispatchErr)})
		resolved := m.runExceptionChain(ctx, req, dispatchErr)
		if resolved != nil {
			m.invokeErrback(ctx, req, resolved)
		}
		return
	}

	m.limiter.Report(req.Group(), ratelimit.Outcome{Success: resp.IsSuccess(), Latency: latency})

	if resp.IsClientError() || resp.IsServerError() {
		herr := &types.HTTPError{StatusCode: resp.StatusCode, Request: req}
		resolved := m.runExceptionChain(ctx, req, herr)
		if resolved == nil {
			return
		}
		m.invokeErrback(ctx, req, resolved)
		return
	}

	if err := m.runResponseChain(ctx, req, resp); err != nil {
		if errors.Is(err, types.StopRequestProcessing) {
			return
		}
		resolved := m.runExceptionChain(ctx, req, err)
		if resolved != nil {
			m.invokeErrback(ctx, req, resolved)
		}
		return
	}

	m.invokeCallback(ctx, req, resp)
}

func retryAfterOf(err error) time.Duration {
	var te *types.TransportError
	if errors.As(err, &te) {
		return te.RetryAfter
	}
	var he *types.HTTPError
	if errors.As(err, &he) {
		return 0
	}
	return 0
}

func (m *Manager) runRequestChain(ctx context.Context, req *types.Request, chain []RequestFunc) error {
	for _, fn := range chain {
		if err := fn(ctx, req); err != nil {
			if errors.Is(err, types.StopMiddlewareProcessing) {
				return nil
			}
			return err
		}
	}
	return nil
}

func (m *Manager) runResponseChain(ctx context.Context, req *types.Request, resp *types.Response) error {
	for _, fn := range m.response.Funcs() {
		if err := fn(ctx, req, resp); err != nil {
			if errors.Is(err, types.StopMiddlewareProcessing) {
				return nil
			}
			return err
		}
	}
	return nil
}

// runExceptionChain gives every request-exception middleware (e.g. retry)
// a chance to resolve err. Returns nil if resolved, or the last
// unresolved error (possibly replaced by a middleware) otherwise. A
// StopMiddlewareProcessing result ends the chain and leaves err unresolved,
// so the errback still receives it.
func (m *Manager) runExceptionChain(ctx context.Context, req *types.Request, err error) error {
	for _, fn := range m.exception.Funcs() {
		next := fn(ctx, req, err)
		if next == nil {
			return nil
		}
		if errors.Is(next, types.StopRequestProcessing) {
			return nil
		}
		if errors.Is(next, types.StopMiddlewareProcessing) {
			return err
		}
		err = next
	}
	return err
}

func (m *Manager) handleStop(ctx context.Context, req *types.Request, err error) {
	if errors.Is(err, context.Canceled) {
		m.logger.Debug("request dropped: cancelled before dispatch", "url", req.URLString())
		return
	}
	if errors.Is(err, types.StopRequestProcessing) {
		return
	}
	m.logger.Warn("request aborted before dispatch", "url", req.URLString(), "error", err)
	m.invokeErrback(ctx, req, err)
}

func (m *Manager) invokeCallback(ctx context.Context, req *types.Request, resp *types.Response) {
	if req.Callback == "" || m.resolver == nil {
		return
	}
	cb, ok := m.resolver.Callback(req.Callback)
	if !ok {
		m.logger.Error("callback not found", "name", req.Callback)
		return
	}
	if err := cb(ctx, req, resp); err != nil {
		m.logger.Error("callback error", "name", req.Callback, "url", req.URLString(), "error", err)
	}
}

func (m *Manager) invokeErrback(ctx context.Context, req *types.Request, err error) {
	if req.Errback == "" || m.resolver == nil {
		m.logger.Error("unhandled request error", "url", req.URLString(), "error", err)
		return
	}
	eb, ok := m.resolver.Errback(req.Errback)
	if !ok {
		m.logger.Error("errback not found", "name", req.Errback, "original_error", err)
		return
	}
	if cbErr := eb(ctx, req, err); cbErr != nil {
		m.logger.Error("errback error", "name", req.Errback, "url", req.URLString(), "error", cbErr)
	}
}
