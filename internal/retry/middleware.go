package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/huntcore/huntcore/internal/types"
)

// Submitter re-enqueues a cloned request, bypassing outer-request
// middleware to preserve request identity across a retry.
type Submitter func(ctx context.Context, req *types.Request) error

// Middleware returns a request-exception-phase handler that retries
// transport errors and HTTP 429/500/502/503/504 errors up to
// cfg.MaxRetries, honoring any Retry-After the error carries (capped at
// 600s). Non-retryable errors are returned unchanged and exhausted ones
// joined with types.ErrMaxRetries, so the errback still fires.
func Middleware(cfg Config, submit Submitter, logger *slog.Logger) func(ctx context.Context, req *types.Request, err error) error {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "retry")

	return func(ctx context.Context, req *types.Request, err error) error {
		if !isRetryable(err) {
			return err
		}
		if !cfg.ShouldRetry(req.Attempt) {
			log.Debug("retries exhausted", "url", req.URLString(), "attempts", req.Attempt+1)
			return errors.Join(types.ErrMaxRetries, err)
		}

		delay := cfg.Delay(req.Attempt)
		if ra := retryAfter(err); ra > 0 {
			delay = CapRetryAfter(ra)
		}

		retryReq := req.Clone()
		retryReq.Attempt = req.Attempt + 1

		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		log.Info("retrying request", "url", req.URLString(), "attempt", retryReq.Attempt, "delay", delay)
		if subErr := submit(ctx, retryReq); subErr != nil {
			return errors.Join(subErr, err)
		}
		return nil
	}
}

func isRetryable(err error) bool {
	var te *types.TransportError
	if errors.As(err, &te) {
		return true
	}
	var he *types.HTTPError
	if errors.As(err, &he) {
		switch he.StatusCode {
		case 429, 500, 502, 503, 504:
			return true
		}
		return false
	}
	return false
}

func retryAfter(err error) (d time.Duration) {
	var te *types.TransportError
	if errors.As(err, &te) {
		return te.RetryAfter
	}
	return 0
}
