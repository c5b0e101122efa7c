// Package depresolve implements the Dependency Resolver: a uniform
// handler-argument object standing in for the source's name-based
// parameter injection, since Go functions carry no runtime parameter
// names to introspect (see SPEC_FULL.md §5.6).
package depresolve

import (
	"context"
	"sync"

	"github.com/huntcore/huntcore/internal/types"
)

// SendRequestFunc lets a handler issue a new Request through the owning
// Scraper's outer-request chain and Scheduler.
type SendRequestFunc func(ctx context.Context, req *types.Request) error

// Context is passed to every handler (entry function, callback, errback).
// Named accessors replace the source's named-parameter injection.
type Context struct {
	ctx         context.Context
	req         *types.Request
	resp        *types.Response
	sendRequest SendRequestFunc
	deps        *Registry
}

// New builds a handler Context. resp is nil for entry functions and
// errbacks; req is nil for entry functions.
func New(ctx context.Context, req *types.Request, resp *types.Response, send SendRequestFunc, deps *Registry) Context {
	return Context{ctx: ctx, req: req, resp: resp, sendRequest: send, deps: deps}
}

func (c Context) Context() context.Context   { return c.ctx }
func (c Context) Request() *types.Request    { return c.req }
func (c Context) Response() *types.Response  { return c.resp }

// SendRequest submits req for dispatch, subject to outer-request
// middleware, the rate limiter, and the full dispatch sequence.
func (c Context) SendRequest(req *types.Request) error {
	return c.sendRequest(c.ctx, req)
}

// Extra returns a caller-supplied keyword argument carried on the current
// Request's Extra map. ErrDependencyMissing if name was never set and no
// default was registered for it.
func (c Context) Extra(name string) (any, error) {
	if c.req != nil {
		if v, ok := c.req.Extra[name]; ok {
			return v, nil
		}
	}
	if c.deps != nil {
		if v, ok := c.deps.defaultValue(name); ok {
			return v, nil
		}
	}
	return nil, types.ErrDependencyMissing
}

// Dep resolves a named dependency registered on the Scraper (a shared
// resource such as a database handle or an API client).
func (c Context) Dep(name string) (any, error) {
	if c.deps == nil {
		return nil, types.ErrDependencyMissing
	}
	v, ok := c.deps.get(name)
	if !ok {
		return nil, types.ErrDependencyMissing
	}
	return v, nil
}

// Registry holds named dependencies and default keyword-argument values
// registered on a Scraper, resolved by name at handler-call time.
type Registry struct {
	mu       sync.RWMutex
	values   map[string]any
	defaults map[string]any

	// declared caches, per handler identity, the set of dependency names
	// that handler's registration declared it needs — checked once at
	// registration time rather than introspected on every call.
	declaredMu sync.Mutex
	declared   map[string][]string
}

// NewRegistry creates an empty dependency registry.
func NewRegistry() *Registry {
	return &Registry{
		values:   make(map[string]any),
		defaults: make(map[string]any),
		declared: make(map[string][]string),
	}
}

// Bind registers a named dependency value.
func (r *Registry) Bind(name string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[name] = value
}

// SetDefault registers a fallback value for Context.Extra(name) when a
// Request carries no such keyword argument.
func (r *Registry) SetDefault(name string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults[name] = value
}

func (r *Registry) get(name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.values[name]
	return v, ok
}

func (r *Registry) defaultValue(name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.defaults[name]
	return v, ok
}

// Declare records, once per handler name, the dependency names that
// handler requires. Validate later checks those names resolve, without
// repeating the declaration walk on every call.
func (r *Registry) Declare(handlerName string, depNames []string) {
	r.declaredMu.Lock()
	defer r.declaredMu.Unlock()
	r.declared[handlerName] = depNames
}

// Validate checks that every dependency name previously Declared for
// handlerName currently resolves, returning the first missing name's
// error. Intended to run at Scraper startup, before dispatching any
// requests.
func (r *Registry) Validate(handlerName string) error {
	r.declaredMu.Lock()
	names := r.declared[handlerName]
	r.declaredMu.Unlock()

	for _, name := range names {
		if _, ok := r.get(name); !ok {
			return types.ErrDependencyMissing
		}
	}
	return nil
}
