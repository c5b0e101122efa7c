// Package scraper provides the Scraper registry: named entry points,
// callbacks/errbacks, and dependencies, plus the setup/teardown lifespan
// hooks the Executor runs around a crawl. Middleware and pipelines are not
// registered here: they live on requestmanager.Manager and
// pipeline.Dispatcher.
package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/huntcore/huntcore/internal/depresolve"
	"github.com/huntcore/huntcore/internal/requestmanager"
)

// EntryFunc is a named starting point for a crawl — it typically issues
// the first Request(s) via Context.SendRequest.
type EntryFunc func(c depresolve.Context) error

// SetupFunc and TeardownFunc bracket a Scraper's active lifetime (opening
// and closing shared resources such as database connections).
type SetupFunc func(ctx context.Context, deps *depresolve.Registry) error
type TeardownFunc func(ctx context.Context, deps *depresolve.Registry) error

// Scraper is the named registry of a crawl's entry points,
// callbacks/errbacks, lifespan hooks, and dependencies.
type Scraper struct {
	mu sync.RWMutex

	name string

	entries   map[string]EntryFunc
	callbacks map[string]requestmanager.Callback
	errbacks  map[string]requestmanager.Errback

	setup    SetupFunc
	teardown TeardownFunc

	Deps *depresolve.Registry

	logger *slog.Logger
}

// New creates an empty, named Scraper.
func New(name string, logger *slog.Logger) *Scraper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scraper{
		name:      name,
		entries:   make(map[string]EntryFunc),
		callbacks: make(map[string]requestmanager.Callback),
		errbacks:  make(map[string]requestmanager.Errback),
		Deps:      depresolve.NewRegistry(),
		logger:    logger.With("scraper", name),
	}
}

// Name returns the Scraper's registered name.
func (s *Scraper) Name() string { return s.name }

// RegisterEntry adds a named entry point.
func (s *Scraper) RegisterEntry(name string, fn EntryFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[name] = fn
}

// RegisterCallback adds a named response handler, resolvable from a
// Request's Callback field.
func (s *Scraper) RegisterCallback(name string, fn requestmanager.Callback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks[name] = fn
}

// RegisterErrback adds a named error handler, resolvable from a Request's
// Errback field.
func (s *Scraper) RegisterErrback(name string, fn requestmanager.Errback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errbacks[name] = fn
}

// SetLifespan registers the setup/teardown pair the Executor runs before
// and after the crawl.
func (s *Scraper) SetLifespan(setup SetupFunc, teardown TeardownFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setup = setup
	s.teardown = teardown
}

// RunSetup invokes the registered SetupFunc, if any.
func (s *Scraper) RunSetup(ctx context.Context) error {
	s.mu.RLock()
	setup := s.setup
	s.mu.RUnlock()
	if setup == nil {
		return nil
	}
	return setup(ctx, s.Deps)
}

// RunTeardown invokes the registered TeardownFunc, if any, shielded from
// the caller's cancellation so cleanup always completes.
func (s *Scraper) RunTeardown(ctx context.Context) error {
	s.mu.RLock()
	teardown := s.teardown
	s.mu.RUnlock()
	if teardown == nil {
		return nil
	}
	return teardown(context.WithoutCancel(ctx), s.Deps)
}

// Entry resolves a named entry point, or the sole registered entry if
// name is empty and exactly one is registered.
func (s *Scraper) Entry(name string) (EntryFunc, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if name == "" {
		if len(s.entries) == 1 {
			for _, fn := range s.entries {
				return fn, nil
			}
		}
		return nil, fmt.Errorf("scraper %q: no entry name given and %d entries registered", s.name, len(s.entries))
	}
	fn, ok := s.entries[name]
	if !ok {
		return nil, fmt.Errorf("scraper %q: entry %q not found", s.name, name)
	}
	return fn, nil
}

// Callback implements requestmanager.CallbackResolver.
func (s *Scraper) Callback(name string) (requestmanager.Callback, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn, ok := s.callbacks[name]
	return fn, ok
}

// Errback implements requestmanager.CallbackResolver.
func (s *Scraper) Errback(name string) (requestmanager.Errback, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn, ok := s.errbacks[name]
	return fn, ok
}

// Option configures a Scraper at construction time, mirroring the
// teacher's functional-options SDK surface.
type Option func(*Scraper)

// WithEntry is a functional option registering a named entry point.
func WithEntry(name string, fn EntryFunc) Option {
	return func(s *Scraper) { s.RegisterEntry(name, fn) }
}

// WithCallback is a functional option registering a named callback.
func WithCallback(name string, fn requestmanager.Callback) Option {
	return func(s *Scraper) { s.RegisterCallback(name, fn) }
}

// WithErrback is a functional option registering a named errback.
func WithErrback(name string, fn requestmanager.Errback) Option {
	return func(s *Scraper) { s.RegisterErrback(name, fn) }
}

// WithLifespan is a functional option registering setup/teardown hooks.
func WithLifespan(setup SetupFunc, teardown TeardownFunc) Option {
	return func(s *Scraper) { s.SetLifespan(setup, teardown) }
}

// WithDependency is a functional option binding a named shared resource.
func WithDependency(name string, value any) Option {
	return func(s *Scraper) { s.Deps.Bind(name, value) }
}

// NewWithOptions builds a Scraper and applies opts in order.
func NewWithOptions(name string, logger *slog.Logger, opts ...Option) *Scraper {
	s := New(name, logger)
	for _, opt := range opts {
		opt(s)
	}
	return s
}
