// Package pipeline implements the type-keyed item dispatcher: items are
// routed to the chain of processors registered for their runtime type,
// wrapped by global and pre/post middleware.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"sync"

	"github.com/huntcore/huntcore/internal/middleware"
	"github.com/huntcore/huntcore/internal/types"
)

// Processor transforms or consumes one item. Returning (nil, nil) drops
// the item from the chain without an error.
type Processor interface {
	Process(ctx context.Context, item any) (any, error)
}

// ProcessorFunc adapts a plain function to Processor.
type ProcessorFunc func(ctx context.Context, item any) (any, error)

func (f ProcessorFunc) Process(ctx context.Context, item any) (any, error) { return f(ctx, item) }

// Closer is implemented by processors holding resources (file handles, DB
// connections) that must be released on shutdown.
type Closer interface {
	Close(ctx context.Context) error
}

// GlobalMiddleware wraps every item's dispatch, regardless of type. next
// invokes the rest of the chain (further global middleware, then the
// type-specific pipeline).
type GlobalMiddleware func(ctx context.Context, item any, next func(context.Context, any) (any, error)) (any, error)

// Dispatcher routes items to per-type processor chains.
type Dispatcher struct {
	mu         sync.RWMutex
	byType     map[reflect.Type][]Processor
	typeOrder  []reflect.Type // registration order, for Close
	global     middleware.Chain[GlobalMiddleware]
	pre        middleware.Chain[Processor]
	post       middleware.Chain[Processor]
	strict     bool
	logger     *slog.Logger
	closedOnce sync.Once
}

// NewDispatcher creates an empty Dispatcher. In strict mode, dispatching an
// item with no registered type chain returns ErrUnknownItem; otherwise the
// item is logged and passed through unchanged.
func NewDispatcher(strict bool, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		byType: make(map[reflect.Type][]Processor),
		strict: strict,
		logger: logger.With("component", "pipeline"),
	}
}

// RegisterPipeline adds processor as the next stage in the chain for items
// of type T, in call order.
func RegisterPipeline[T any](d *Dispatcher, processor Processor) {
	var zero T
	t := reflect.TypeOf(zero)
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.byType[t]; !exists {
		d.typeOrder = append(d.typeOrder, t)
	}
	d.byType[t] = append(d.byType[t], processor)
}

// RegisterGlobal adds a middleware invoked around every item, regardless
// of type, ordered by (priority, registration order).
func (d *Dispatcher) RegisterGlobal(name string, priority int, fn GlobalMiddleware) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.global.Register(name, middleware.PhasePipelineGlobal, priority, fn)
}

// RegisterPre adds a processor that runs on every item before type
// routing, ordered by (priority, registration order).
func (d *Dispatcher) RegisterPre(name string, priority int, p Processor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pre.Register(name, middleware.PhasePipelinePre, priority, p)
}

// RegisterPost adds a processor that runs on every item after type
// routing, ordered by (priority, registration order).
func (d *Dispatcher) RegisterPost(name string, priority int, p Processor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.post.Register(name, middleware.PhasePipelinePost, priority, p)
}

// Dispatch routes item through global middleware, the pre-chain, the
// type-specific chain, and the post-chain, in that order. A processor
// returning (nil, nil) stops the chain and Dispatch returns (nil, nil).
func (d *Dispatcher) Dispatch(ctx context.Context, item any) (any, error) {
	d.mu.RLock()
	globals := d.global.Funcs()
	pres := d.pre.Funcs()
	posts := d.post.Funcs()
	typeChain := d.byType[reflect.TypeOf(item)]
	d.mu.RUnlock()

	core := func(ctx context.Context, item any) (any, error) {
		return d.runTypedChain(ctx, item, pres, typeChain, posts)
	}

	chain := core
	for i := len(globals) - 1; i >= 0; i-- {
		mw := globals[i]
		next := chain
		chain = func(ctx context.Context, item any) (any, error) {
			return mw(ctx, item, next)
		}
	}
	return chain(ctx, item)
}

func (d *Dispatcher) runTypedChain(ctx context.Context, item any, pres []Processor, typeChain []Processor, posts []Processor) (any, error) {
	var err error

	item, err = runProcessors(ctx, item, pres)
	if item == nil || err != nil {
		return item, err
	}

	if typeChain == nil {
		if d.strict {
			return nil, types.ErrUnknownItem
		}
		d.logger.Debug("no pipeline registered for item type, passing through", "type", reflect.TypeOf(item))
	} else {
		item, err = runProcessors(ctx, item, typeChain)
		if item == nil || err != nil {
			return item, err
		}
	}

	return runProcessors(ctx, item, posts)
}

func runProcessors(ctx context.Context, item any, chain []Processor) (any, error) {
	for _, p := range chain {
		var err error
		item, err = p.Process(ctx, item)
		if err != nil {
			if errors.Is(err, types.StopItemProcessing) {
				return nil, nil
			}
			return nil, err
		}
		if item == nil {
			return nil, nil
		}
	}
	return item, nil
}

// Close calls Close on every registered Closer processor exactly once, in
// registration order, shielded from caller cancellation so cleanup always
// completes.
func (d *Dispatcher) Close(ctx context.Context) error {
	var firstErr error
	d.closedOnce.Do(func() {
		ctx = context.WithoutCancel(ctx)
		d.mu.RLock()
		defer d.mu.RUnlock()
		for _, t := range d.typeOrder {
			for _, p := range d.byType[t] {
				if c, ok := p.(Closer); ok {
					if err := c.Close(ctx); err != nil && firstErr == nil {
						firstErr = err
					}
				}
			}
		}
		for _, p := range d.pre.Funcs() {
			if c, ok := p.(Closer); ok {
				if err := c.Close(ctx); err != nil && firstErr == nil {
					firstErr = err
				}
			}
		}
		for _, p := range d.post.Funcs() {
			if c, ok := p.(Closer); ok {
				if err := c.Close(ctx); err != nil && firstErr == nil {
					firstErr = err
				}
			}
		}
	})
	return firstErr
}
