package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/huntcore/huntcore/internal/types"
)

func newTestRequest(t *testing.T) *types.Request {
	t.Helper()
	req, err := types.NewRequest("https://example.com")
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	return req
}

func TestSchedulerDispatchesSubmittedRequests(t *testing.T) {
	var count atomic.Int64
	done := make(chan struct{}, 10)
	sched := New(Config{ConcurrentRequests: 2, PendingRequests: 10}, nil, func(ctx context.Context, req *types.Request) {
		count.Add(1)
		done <- struct{}{}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)

	for i := 0; i < 5; i++ {
		if err := sched.Submit(ctx, newTestRequest(t)); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	for i := 0; i < 5; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("dispatch %d never ran", i)
		}
	}
	if count.Load() != 5 {
		t.Errorf("expected 5 dispatches, got %d", count.Load())
	}
}

func TestSchedulerSubmitBlocksPastPendingCap(t *testing.T) {
	// No worker pool started: nothing drains the frontier, so the
	// pending-requests soft cap is the only thing gating Submit.
	sched := New(Config{ConcurrentRequests: 1, PendingRequests: 1}, nil, func(ctx context.Context, req *types.Request) {})
	ctx := context.Background()

	if err := sched.Submit(ctx, newTestRequest(t)); err != nil {
		t.Fatalf("first Submit: %v", err)
	}

	submitCtx, submitCancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer submitCancel()
	if err := sched.Submit(submitCtx, newTestRequest(t)); err == nil {
		t.Error("expected second Submit to block until the pending cap frees up")
	}
}

func TestSchedulerSubmitAfterCloseFails(t *testing.T) {
	sched := New(Config{ConcurrentRequests: 1, PendingRequests: 1}, nil, func(ctx context.Context, req *types.Request) {})
	ctx := context.Background()
	sched.Start(ctx)
	sched.Close(time.Second)

	if err := sched.Submit(ctx, newTestRequest(t)); err != types.ErrShutdownInProgress {
		t.Errorf("expected ErrShutdownInProgress, got %v", err)
	}
}

func TestSchedulerPauseResume(t *testing.T) {
	var count atomic.Int64
	sched := New(Config{ConcurrentRequests: 1, PendingRequests: 5}, nil, func(ctx context.Context, req *types.Request) {
		count.Add(1)
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched.Pause()
	sched.Start(ctx)

	if err := sched.Submit(ctx, newTestRequest(t)); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if count.Load() != 0 {
		t.Fatal("dispatch ran while paused")
	}

	sched.Resume()
	deadline := time.After(time.Second)
	for count.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("dispatch never ran after Resume")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func TestSchedulerCloseDrainsInFlightWork(t *testing.T) {
	var completed atomic.Bool
	sched := New(Config{ConcurrentRequests: 1, PendingRequests: 1}, nil, func(ctx context.Context, req *types.Request) {
		time.Sleep(50 * time.Millisecond)
		completed.Store(true)
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)

	if err := sched.Submit(ctx, newTestRequest(t)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	sched.Close(time.Second)

	if !completed.Load() {
		t.Error("expected in-flight dispatch to complete before Close returned")
	}
}

func TestSchedulerIdleInitially(t *testing.T) {
	sched := New(Config{ConcurrentRequests: 1, PendingRequests: 1}, nil, func(ctx context.Context, req *types.Request) {})
	if !sched.Idle() {
		t.Error("expected a fresh scheduler to be idle")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if !sched.WaitIdle(ctx) {
		t.Error("expected WaitIdle to return immediately true for a fresh scheduler")
	}
}

func TestSchedulerNotIdleWhileDispatchInFlight(t *testing.T) {
	release := make(chan struct{})
	sched := New(Config{ConcurrentRequests: 1, PendingRequests: 1}, nil, func(ctx context.Context, req *types.Request) {
		<-release
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)

	if err := sched.Submit(ctx, newTestRequest(t)); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	waitCtx, waitCancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer waitCancel()
	if sched.WaitIdle(waitCtx) {
		t.Error("expected WaitIdle to not report idle while a dispatch is in flight")
	}
	close(release)
}

func TestSchedulerWaitIdleUnblocksOnceDispatchCompletes(t *testing.T) {
	release := make(chan struct{})
	sched := New(Config{ConcurrentRequests: 1, PendingRequests: 1}, nil, func(ctx context.Context, req *types.Request) {
		<-release
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)

	if err := sched.Submit(ctx, newTestRequest(t)); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	idleResult := make(chan bool, 1)
	go func() {
		waitCtx, waitCancel := context.WithTimeout(ctx, time.Second)
		defer waitCancel()
		idleResult <- sched.WaitIdle(waitCtx)
	}()

	time.Sleep(20 * time.Millisecond)
	close(release)

	select {
	case idle := <-idleResult:
		if !idle {
			t.Error("expected WaitIdle to report idle once the in-flight dispatch finished")
		}
	case <-time.After(time.Second):
		t.Fatal("WaitIdle never returned")
	}
}

func TestSchedulerCloseForcesCancelOnTimeout(t *testing.T) {
	workerCtxDone := make(chan struct{})
	sched := New(Config{ConcurrentRequests: 1, PendingRequests: 1}, nil, func(ctx context.Context, req *types.Request) {
		<-ctx.Done()
		close(workerCtxDone)
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)

	if err := sched.Submit(ctx, newTestRequest(t)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	sched.Close(20 * time.Millisecond)

	select {
	case <-workerCtxDone:
	default:
		t.Error("expected worker context to be cancelled after drain timeout")
	}
}
