// Package ratelimit implements the per-group rate limiter: a fixed-interval
// mode and an adaptive EWMA+AIMD mode, selected per group at creation time.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Mode selects the limiting strategy for a group.
type Mode int

const (
	// Fixed enforces a constant minimum interval between dispatches.
	Fixed Mode = iota
	// Adaptive widens or narrows the interval based on observed outcomes.
	Adaptive
)

// AdaptiveConfig tunes the AIMD/EWMA behavior of Adaptive groups.
type AdaptiveConfig struct {
	MinInterval       time.Duration
	MaxInterval       time.Duration
	IncreaseFactor    float64       // multiplicative backoff on failure, e.g. 2.0
	DecreaseStep      time.Duration // additive recovery on sustained success
	SuccessThreshold  int           // consecutive successes before a decrease
	EWMAAlpha         float64       // smoothing factor for latency, 0 < alpha <= 1
	CleanupTimeout    time.Duration // idle groups older than this are evicted
}

// DefaultAdaptiveConfig mirrors the values spec.md names as sensible
// defaults for an AIMD limiter.
func DefaultAdaptiveConfig() AdaptiveConfig {
	return AdaptiveConfig{
		MinInterval:      200 * time.Millisecond,
		MaxInterval:      30 * time.Second,
		IncreaseFactor:   2.0,
		DecreaseStep:     100 * time.Millisecond,
		SuccessThreshold: 5,
		EWMAAlpha:        0.3,
		CleanupTimeout:   10 * time.Minute,
	}
}

// group holds the mutable rate-limit state for one key.
type group struct {
	mu sync.Mutex

	mode     Mode
	interval time.Duration // current effective interval (fixed or adaptive)

	lastDispatch time.Time
	lastActivity time.Time

	// adaptive-only state
	ewma              time.Duration
	consecutiveOK     int
	cfg               AdaptiveConfig
}

// Limiter holds per-group state and enforces spacing between dispatches.
type Limiter struct {
	mu       sync.RWMutex
	groups   map[string]*group
	logger   *slog.Logger
	defaultMode     Mode
	defaultInterval time.Duration
	adaptiveCfg     AdaptiveConfig

	stopCleanup chan struct{}
	cleanupOnce sync.Once
}

// New creates a Limiter. defaultInterval/defaultMode apply to groups that
// have not been explicitly configured via Configure.
func New(logger *slog.Logger, defaultMode Mode, defaultInterval time.Duration, adaptiveCfg AdaptiveConfig) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Limiter{
		groups:          make(map[string]*group),
		logger:          logger.With("component", "ratelimit"),
		defaultMode:     defaultMode,
		defaultInterval: defaultInterval,
		adaptiveCfg:     adaptiveCfg,
		stopCleanup:     make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

func (l *Limiter) getOrCreate(key string) *group {
	l.mu.RLock()
	g, ok := l.groups[key]
	l.mu.RUnlock()
	if ok {
		return g
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if g, ok := l.groups[key]; ok {
		return g
	}
	g = &group{
		mode:         l.defaultMode,
		interval:     l.defaultInterval,
		lastActivity: time.Now(),
		cfg:          l.adaptiveCfg,
	}
	if l.defaultMode == Adaptive {
		g.interval = l.adaptiveCfg.MinInterval
	}
	l.groups[key] = g
	return g
}

// Acquire blocks until the group's minimum interval has elapsed since its
// last dispatch, or ctx is cancelled. override, if non-zero, is used as the
// wait interval in place of the group's own (a per-request rate-limit
// override); it never mutates the stored adaptive state — only Report does.
// The dispatch slot is reserved under the group lock before waiting, so
// concurrent callers on one group are spaced one interval apart; a caller
// cancelled while waiting still consumes its reserved slot.
func (l *Limiter) Acquire(ctx context.Context, key string, override time.Duration) error {
	g := l.getOrCreate(key)

	g.mu.Lock()
	interval := g.interval
	if override > 0 {
		interval = override
	}
	now := time.Now()
	wait := interval - now.Sub(g.lastDispatch)
	if wait < 0 {
		wait = 0
	}
	g.lastDispatch = now.Add(wait)
	g.lastActivity = g.lastDispatch
	g.mu.Unlock()

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}

// Outcome is reported to Report after a dispatch completes.
type Outcome struct {
	Success    bool
	Latency    time.Duration
	RetryAfter time.Duration // from a 429/503 Retry-After header, capped by caller
}

// Report records a dispatch outcome against the group, regardless of
// whether Acquire used a per-request override for this call (spec's Open
// Question #1 resolution: the group's own state always advances).
func (l *Limiter) Report(key string, o Outcome) {
	g := l.getOrCreate(key)
	g.mu.Lock()
	defer g.mu.Unlock()

	g.lastActivity = time.Now()
	if g.mode != Adaptive {
		return
	}

	if g.ewma == 0 {
		g.ewma = o.Latency
	} else {
		alpha := g.cfg.EWMAAlpha
		g.ewma = time.Duration(alpha*float64(o.Latency) + (1-alpha)*float64(g.ewma))
	}

	if o.RetryAfter > 0 {
		next := max(g.interval, o.RetryAfter)
		next = min(max(next, g.cfg.MinInterval), g.cfg.MaxInterval)
		g.interval = next
		g.consecutiveOK = 0
		return
	}

	if !o.Success {
		g.consecutiveOK = 0
		next := time.Duration(float64(g.interval) * g.cfg.IncreaseFactor)
		if next > g.cfg.MaxInterval {
			next = g.cfg.MaxInterval
		}
		if next < g.cfg.MinInterval {
			next = g.cfg.MinInterval
		}
		g.interval = next
		return
	}

	g.consecutiveOK++
	if g.consecutiveOK >= g.cfg.SuccessThreshold {
		g.consecutiveOK = 0
		next := g.interval - g.cfg.DecreaseStep
		if next < g.cfg.MinInterval {
			next = g.cfg.MinInterval
		}
		g.interval = next
	}
}

// Configure sets the mode/interval for a specific group key, overriding
// the limiter's defaults. Safe to call before or after first use.
func (l *Limiter) Configure(key string, mode Mode, interval time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	g, ok := l.groups[key]
	if !ok {
		g = &group{lastActivity: time.Now(), cfg: l.adaptiveCfg}
		l.groups[key] = g
	}
	g.mu.Lock()
	g.mode = mode
	g.interval = interval
	g.mu.Unlock()
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopCleanup:
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

func (l *Limiter) sweep() {
	timeout := l.adaptiveCfg.CleanupTimeout
	if timeout <= 0 {
		return
	}
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()
	for key, g := range l.groups {
		g.mu.Lock()
		idle := now.Sub(g.lastActivity)
		g.mu.Unlock()
		if idle > timeout {
			delete(l.groups, key)
		}
	}
}

// Close stops the background eviction goroutine.
func (l *Limiter) Close() {
	l.cleanupOnce.Do(func() { close(l.stopCleanup) })
}
