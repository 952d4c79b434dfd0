package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	drepo "MarketPull/internal/domain/repository"
	"MarketPull/pkg/logger"
)

// pagerState tracks where a page fetch is in its retry lifecycle. The
// transitions are explicit so throttling behavior is auditable from logs:
// idle -> requesting -> (idle | backoff(n) -> requesting | exhausted).
type pagerState int

const (
	pagerIdle pagerState = iota
	pagerRequesting
	pagerBackoff
	pagerExhausted
)

func (s pagerState) String() string {
	switch s {
	case pagerIdle:
		return "idle"
	case pagerRequesting:
		return "requesting"
	case pagerBackoff:
		return "backoff"
	case pagerExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// RetryPolicy bounds the backoff loop around one page fetch.
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// exhaustedError reports that the retry budget for one page ran out.
// Throttled distinguishes a rate-limit ceiling from repeated transport
// failures; callers map the two to different collection errors.
type exhaustedError struct {
	Attempts  int
	Throttled bool
	Cause     error
}

func (e *exhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Cause)
}

func (e *exhaustedError) Unwrap() error { return e.Cause }

// pager runs a single page fetch under the retry policy. It is stateless
// between calls; each FetchPage starts from idle.
type pager struct {
	policy  RetryPolicy
	metrics drepo.Metrics
	log     *logger.Logger

	// sleep is swapped out in tests to avoid real waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

func newPager(policy RetryPolicy, metrics drepo.Metrics, log *logger.Logger) *pager {
	return &pager{
		policy:  policy,
		metrics: metrics,
		log:     log,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// FetchPage invokes fn until it succeeds, the retry budget is exhausted, or
// the context is cancelled. A throttling response waits the longer of the
// advertised Retry-After and the exponential schedule; any other error
// retries on the schedule alone. In-flight work is never interrupted:
// cancellation is observed between attempts.
func (p *pager) FetchPage(ctx context.Context, stream string, fn func(context.Context) error) error {
	state := pagerIdle
	attempt := 0
	var lastErr error
	throttledLast := false

	for {
		switch state {
		case pagerIdle:
			state = pagerRequesting

		case pagerRequesting:
			if err := ctx.Err(); err != nil {
				return err
			}
			attempt++
			start := time.Now()
			err := fn(ctx)
			p.metrics.RecordRequestDuration(stream, time.Since(start).Seconds())
			if err == nil {
				return nil
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			lastErr = err

			var throttled *drepo.ThrottledError
			throttledLast = errors.As(err, &throttled)
			if throttledLast {
				p.metrics.RecordRateLimitHit(stream)
			}
			if attempt >= p.policy.MaxAttempts {
				state = pagerExhausted
				continue
			}
			state = pagerBackoff

		case pagerBackoff:
			delay := p.backoffDelay(attempt, lastErr)
			p.metrics.RecordRetry(stream)
			p.log.Warn("page fetch failed, backing off",
				logger.String("stream", stream),
				logger.Int("attempt", attempt),
				logger.Duration("delay", delay),
				logger.Error(lastErr))
			if err := p.sleep(ctx, delay); err != nil {
				return err
			}
			state = pagerRequesting

		case pagerExhausted:
			p.log.Error("retry budget exhausted",
				logger.String("stream", stream),
				logger.Int("attempts", attempt),
				logger.Error(lastErr))
			return &exhaustedError{Attempts: attempt, Throttled: throttledLast, Cause: lastErr}
		}
	}
}

// backoffDelay is base * 2^(attempt-1) capped at MaxBackoff, bumped to the
// exchange's advertised Retry-After when that is longer.
func (p *pager) backoffDelay(attempt int, err error) time.Duration {
	delay := p.policy.BaseBackoff
	for i := 1; i < attempt && delay < p.policy.MaxBackoff; i++ {
		delay *= 2
	}
	if delay > p.policy.MaxBackoff {
		delay = p.policy.MaxBackoff
	}
	var throttled *drepo.ThrottledError
	if errors.As(err, &throttled) && throttled.RetryAfter > delay {
		delay = throttled.RetryAfter
	}
	return delay
}
