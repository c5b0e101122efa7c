// Package middleware defines the phase-tagged, priority-ordered middleware
// chain shared by the Request Manager and the Pipeline Dispatcher.
package middleware

import "sort"

// Phase names the point in request/response/pipeline processing at which a
// middleware runs.
type Phase string

const (
	PhaseOuterRequest     Phase = "outer_request"
	PhaseInnerRequest     Phase = "inner_request"
	PhaseResponse         Phase = "response"
	PhaseRequestException Phase = "request_exception"
	PhasePipelinePre      Phase = "pipeline_pre"
	PhasePipelinePost     Phase = "pipeline_post"
	PhasePipelineGlobal   Phase = "pipeline_global"
)

// Registration is the common metadata every middleware carries, regardless
// of phase-specific function signature.
type Registration struct {
	Name     string
	Phase    Phase
	Priority int
	order    int // registration order, for stable tie-breaking
}

// Chain tracks registration order and keeps entries sorted by
// (Priority, registration order) ascending.
type Chain[T any] struct {
	entries []chainEntry[T]
	counter int
}

type chainEntry[T any] struct {
	reg Registration
	fn  T
}

// Register appends a middleware and resorts the chain.
func (c *Chain[T]) Register(name string, phase Phase, priority int, fn T) {
	c.entries = append(c.entries, chainEntry[T]{
		reg: Registration{Name: name, Phase: phase, Priority: priority, order: c.counter},
		fn:  fn,
	})
	c.counter++
	sort.SliceStable(c.entries, func(i, j int) bool {
		a, b := c.entries[i].reg, c.entries[j].reg
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.order < b.order
	})
}

// Funcs returns the registered functions in invocation order.
func (c *Chain[T]) Funcs() []T {
	out := make([]T, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.fn
	}
	return out
}

// Len returns the number of registered middlewares.
func (c *Chain[T]) Len() int { return len(c.entries) }
