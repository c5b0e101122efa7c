// Package executor implements the Runner: startup, signal-driven
// shutdown, and drain sequencing around a Scraper's active lifetime.
package executor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/huntcore/huntcore/internal/depresolve"
	"github.com/huntcore/huntcore/internal/pipeline"
	"github.com/huntcore/huntcore/internal/scheduler"
	"github.com/huntcore/huntcore/internal/scraper"
)

// Config controls timeouts for the run.
type Config struct {
	// ExecutionTimeout bounds the whole run; zero means no bound.
	ExecutionTimeout time.Duration
	// DrainTimeout bounds graceful shutdown after a stop signal.
	DrainTimeout time.Duration
}

// Runner ties a Scraper, its Scheduler, and its Pipeline Dispatcher
// together into one startup/shutdown sequence.
type Runner struct {
	cfg        Config
	scraper    *scraper.Scraper
	sched      *scheduler.Scheduler
	dispatcher *pipeline.Dispatcher
	logger     *slog.Logger

	cancelOnce sync.Once
}

// New creates a Runner.
func New(cfg Config, s *scraper.Scraper, sched *scheduler.Scheduler, dispatcher *pipeline.Dispatcher, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{cfg: cfg, scraper: s, sched: sched, dispatcher: dispatcher, logger: logger.With("component", "executor")}
}

// ExitCode values matching the CLI surface in SPEC_FULL.md §7.
const (
	ExitOK         = 0
	ExitError      = 1
	ExitInterrupt  = 130
)

// Run executes the full sequence: setup, Start the scheduler, run the
// named entry point, wait for the run to settle (either natural
// completion, a signal, or the execution timeout), then teardown. The
// first SIGINT/SIGTERM begins a graceful drain; a second forces immediate
// cancellation.
func Run(parent context.Context, r *Runner, entryName string, send depresolve.SendRequestFunc) int {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := r.scraper.RunSetup(ctx); err != nil {
		r.logger.Error("setup failed", "error", err)
		return ExitError
	}

	// runCtx derives from parent, not from the signal context, so the first
	// signal starts a graceful drain without cancelling in-flight work.
	runCtx, cancelRun := context.WithCancel(parent)
	defer cancelRun()
	if r.cfg.ExecutionTimeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, r.cfg.ExecutionTimeout)
		defer cancelTimeout()
	}

	r.sched.Start(runCtx)

	entry, err := r.scraper.Entry(entryName)
	if err != nil {
		r.logger.Error("entry resolution failed", "error", err)
		r.shutdown(ctx)
		return ExitError
	}

	entryErrCh := make(chan error, 1)
	go func() {
		entryErrCh <- entry(depresolve.New(runCtx, nil, nil, send, r.scraper.Deps))
	}()

	exitCode := ExitOK
	secondSignal := make(chan struct{})
	go watchSecondSignal(parent, secondSignal)

	// waitCtx ends WaitIdle on a signal as well as on runCtx.
	waitCtx, cancelWait := context.WithCancel(runCtx)
	defer cancelWait()
	stopWait := context.AfterFunc(ctx, cancelWait)
	defer stopWait()

	select {
	case err := <-entryErrCh:
		if err != nil {
			r.logger.Error("entry function failed", "error", err)
			exitCode = ExitError
		} else if !r.sched.WaitIdle(waitCtx) {
			exitCode = drainInterruptExitCode(runCtx, r.logger)
		}
	case <-ctx.Done():
		r.logger.Info("shutdown signal received, draining")
		exitCode = ExitInterrupt
	case <-runCtx.Done():
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			r.logger.Warn("execution timeout exceeded")
			exitCode = ExitError
		}
	}

	shutdownDone := make(chan struct{})
	defer close(shutdownDone)
	go func() {
		select {
		case <-secondSignal:
			r.logger.Warn("second signal received, cancelling immediately")
			cancelRun()
		case <-shutdownDone:
		}
	}()

	r.shutdown(ctx)
	return exitCode
}

// drainInterruptExitCode is used when the entry function has returned but
// WaitIdle was preempted by a shutdown signal or the execution timeout
// before the scheduler (and thus any callback-issued follow-up requests)
// actually went idle.
func drainInterruptExitCode(runCtx context.Context, logger *slog.Logger) int {
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		logger.Warn("execution timeout exceeded while draining")
		return ExitError
	}
	logger.Info("shutdown signal received while draining")
	return ExitInterrupt
}

func watchSecondSignal(ctx context.Context, notify chan<- struct{}) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	count := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigCh:
			count++
			if count >= 2 {
				close(notify)
				return
			}
		}
	}
}

func (r *Runner) shutdown(ctx context.Context) {
	drain := r.cfg.DrainTimeout
	if drain <= 0 {
		drain = 30 * time.Second
	}
	r.sched.Close(drain)
	if err := r.dispatcher.Close(ctx); err != nil {
		r.logger.Error("pipeline close error", "error", err)
	}
	if err := r.scraper.RunTeardown(ctx); err != nil {
		r.logger.Error("teardown failed", "error", err)
	}
}
