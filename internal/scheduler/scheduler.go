// Package scheduler implements the priority-queued worker pool that pops
// requests off the Frontier and hands them to a dispatch function supplied
// by the Request Manager.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/huntcore/huntcore/internal/types"
)

// DispatchFunc is invoked by a worker for each popped request. It owns the
// full request-manager pipeline (middleware, rate limiting, dispatch,
// callbacks) and returns nothing: failures are handled inside it, and it
// decides whether a failure should be retried by re-submitting through
// Submit.
type DispatchFunc func(ctx context.Context, req *types.Request)

// Config controls pool sizing and backpressure.
type Config struct {
	ConcurrentRequests int
	PendingRequests    int // soft cap; Submit blocks past this depth
}

// Scheduler owns the Frontier and a fixed worker pool.
type Scheduler struct {
	cfg      Config
	logger   *slog.Logger
	frontier *Frontier
	dispatch DispatchFunc

	sem chan struct{} // backpressure: one slot per queued request, released at pop

	inFlight atomic.Int64 // requests popped but not yet through dispatch

	idleMu sync.Mutex
	idleCh chan struct{} // closed and replaced each time the scheduler goes idle

	paused   atomic.Bool
	pauseMu  sync.Mutex
	pauseCh  chan struct{}

	wg         sync.WaitGroup
	cancel     context.CancelFunc
	closeOnce  sync.Once
	closed     atomic.Bool
}

// New creates a Scheduler. dispatch is called once per popped request.
func New(cfg Config, logger *slog.Logger, dispatch DispatchFunc) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ConcurrentRequests <= 0 {
		cfg.ConcurrentRequests = 8
	}
	if cfg.PendingRequests <= 0 {
		cfg.PendingRequests = 1000
	}
	s := &Scheduler{
		cfg:      cfg,
		logger:   logger.With("component", "scheduler"),
		frontier: NewFrontier(),
		dispatch: dispatch,
		sem:      make(chan struct{}, cfg.PendingRequests),
		pauseCh:  make(chan struct{}),
		idleCh:   make(chan struct{}),
	}
	close(s.pauseCh) // not paused initially: reads don't block
	close(s.idleCh)  // idle until the first Submit
	return s
}

// Start launches the worker pool on a worker context derived from ctx.
// Close cancels that context if the drain deadline is exceeded, forcing
// in-flight workers to abandon their current request.
func (s *Scheduler) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	for i := 0; i < s.cfg.ConcurrentRequests; i++ {
		s.wg.Add(1)
		go s.worker(workerCtx, i)
	}
}

// Submit enqueues a request, blocking while the pending-requests soft cap
// is at capacity. Returns ErrShutdownInProgress once Close has begun.
func (s *Scheduler) Submit(ctx context.Context, req *types.Request) error {
	if s.closed.Load() {
		return types.ErrShutdownInProgress
	}
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.markBusy()
	if !s.frontier.Push(req) {
		<-s.sem
		s.markIdleIfQuiescent()
		return types.ErrShutdownInProgress
	}
	return nil
}

// Idle reports whether the queue is empty and no worker is mid-dispatch.
// It does not account for work a pipeline processor may itself still be
// buffering (e.g. a sink's internal batch) — only outstanding requests.
func (s *Scheduler) Idle() bool {
	return s.frontier.Len() == 0 && s.inFlight.Load() == 0
}

// WaitIdle blocks until Idle reports true or ctx is done, returning false
// in the latter case. Callers typically race this against a shutdown
// signal and an execution timeout.
func (s *Scheduler) WaitIdle(ctx context.Context) bool {
	for {
		s.idleMu.Lock()
		ch := s.idleCh
		s.idleMu.Unlock()
		select {
		case <-ch:
			if s.Idle() {
				return true
			}
			// work arrived between the close and this check; wait again
		case <-ctx.Done():
			return false
		}
	}
}

// markBusy ensures idleCh reflects "not idle" before a request becomes
// visible to the frontier, so a concurrent WaitIdle never observes idle
// while a Submit is in progress.
func (s *Scheduler) markBusy() {
	s.idleMu.Lock()
	defer s.idleMu.Unlock()
	select {
	case <-s.idleCh:
		s.idleCh = make(chan struct{})
	default:
	}
}

// markIdleIfQuiescent closes idleCh, waking WaitIdle callers, if the
// frontier is empty and no dispatch is in flight.
func (s *Scheduler) markIdleIfQuiescent() {
	s.idleMu.Lock()
	defer s.idleMu.Unlock()
	if s.frontier.Len() == 0 && s.inFlight.Load() == 0 {
		select {
		case <-s.idleCh:
		default:
			close(s.idleCh)
		}
	}
}

// Pause prevents workers from starting a new Pop until Resume is called.
// A worker already blocked in Pop when Pause is called still takes the
// next request pushed. In-flight dispatches are not interrupted.
func (s *Scheduler) Pause() {
	s.pauseMu.Lock()
	defer s.pauseMu.Unlock()
	if s.paused.CompareAndSwap(false, true) {
		s.pauseCh = make(chan struct{})
	}
}

// Resume releases any workers blocked by Pause.
func (s *Scheduler) Resume() {
	s.pauseMu.Lock()
	defer s.pauseMu.Unlock()
	if s.paused.CompareAndSwap(true, false) {
		close(s.pauseCh)
	}
}

func (s *Scheduler) waitIfPaused(ctx context.Context) bool {
	for s.paused.Load() {
		s.pauseMu.Lock()
		ch := s.pauseCh
		s.pauseMu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return false
		}
	}
	return true
}

func (s *Scheduler) worker(ctx context.Context, id int) {
	defer s.wg.Done()
	log := s.logger.With("worker", id)
	for {
		if !s.waitIfPaused(ctx) {
			return
		}
		req, ok := s.frontier.Pop(ctx)
		if !ok {
			return
		}
		<-s.sem // release the backpressure slot claimed at Submit
		s.inFlight.Add(1)

		start := time.Now()
		s.dispatch(ctx, req)
		log.Debug("request dispatched", "url", req.URLString(), "elapsed", time.Since(start))

		s.inFlight.Add(-1)
		s.markIdleIfQuiescent()

		if ctx.Err() != nil {
			return
		}
	}
}

// Close stops accepting new submissions, closes the frontier, and waits
// for in-flight workers to finish, up to timeout. If the timeout elapses
// first, the worker context is cancelled to force abandonment.
func (s *Scheduler) Close(timeout time.Duration) {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.frontier.Close()

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()

		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			s.logger.Warn("drain deadline exceeded, cancelling in-flight workers")
			if s.cancel != nil {
				s.cancel()
			}
			<-done
		}
	})
}

// Pending returns the current queue depth.
func (s *Scheduler) Pending() int { return s.frontier.Len() }
