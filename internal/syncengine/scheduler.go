package syncengine

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// Cycler runs one sync cycle.
type Cycler interface {
	Sync(ctx context.Context) Result
}

// RetryConfig bounds how a failed scheduled cycle is retried.
type RetryConfig struct {
	// MaxAttempts counts the first attempt; values below one mean a single attempt.
	MaxAttempts   uint64
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	JitterPercent uint64
}

// DefaultRetryConfig returns the backoff used by the watch command.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   5,
		BaseDelay:     time.Second,
		MaxDelay:      time.Minute,
		JitterPercent: 10,
	}
}

func (c RetryConfig) backoff() retry.Backoff {
	retries := uint64(0)
	if c.MaxAttempts > 1 {
		retries = c.MaxAttempts - 1
	}
	baseDelay := c.BaseDelay
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	backoff := retry.NewExponential(baseDelay)
	backoff = retry.WithMaxRetries(retries, backoff)
	if c.MaxDelay > 0 {
		backoff = retry.WithCappedDuration(c.MaxDelay, backoff)
	}
	if c.JitterPercent > 0 {
		backoff = retry.WithJitterPercent(c.JitterPercent, backoff)
	}
	return backoff
}

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	Cycler Cycler
	// Interval between periodic cycles; zero runs cycles on triggers only.
	Interval time.Duration
	Retry    RetryConfig
	Logger   *zap.Logger
	// OnResult, when set, observes the final result of every scheduled run.
	OnResult func(Result)
}

// Scheduler runs cycles periodically and on demand. A failed cycle is retried as a
// fresh cycle with exponential backoff; a cycle refused as already syncing is not retried.
type Scheduler struct {
	cycler   Cycler
	interval time.Duration
	retry    RetryConfig
	logger   *zap.Logger
	onResult func(Result)
	triggers chan struct{}
}

// NewScheduler constructs a Scheduler.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cycler:   cfg.Cycler,
		interval: cfg.Interval,
		retry:    cfg.Retry,
		logger:   logger,
		onResult: cfg.OnResult,
		triggers: make(chan struct{}, 1),
	}
}

// Trigger requests a cycle without blocking. Triggers arriving while one is pending
// collapse into it.
func (s *Scheduler) Trigger() {
	select {
	case s.triggers <- struct{}{}:
	default:
	}
}

// Run executes a cycle immediately and then on every tick or trigger until ctx ends.
func (s *Scheduler) Run(ctx context.Context) error {
	var ticks <-chan time.Time
	if s.interval > 0 {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		ticks = ticker.C
	}

	s.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticks:
			s.RunOnce(ctx)
		case <-s.triggers:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce runs a cycle with retries and returns the last result.
func (s *Scheduler) RunOnce(ctx context.Context) Result {
	var last Result
	attempt := 0
	err := retry.Do(ctx, s.retry.backoff(), func(ctx context.Context) error {
		attempt++
		last = s.cycler.Sync(ctx)
		if last.Success || last.AlreadySyncing {
			return nil
		}
		s.logger.Warn("scheduled sync failed",
			zap.Int("attempt", attempt),
			zap.String("code", last.Code),
			zap.String("message", last.Message))
		return retry.RetryableError(errors.New(last.Message))
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("scheduled sync gave up", zap.Int("attempts", attempt), zap.Error(err))
	}
	if s.onResult != nil {
		s.onResult(last)
	}
	return last
}
