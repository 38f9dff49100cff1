package service

import (
	"context"
	"errors"
	"time"

	"codearena/internal/judge/sandbox"
	appErr "codearena/pkg/errors"
	"codearena/pkg/utils/logger"

	"go.uber.org/zap"
)

func (s *Service) acquireSlot(ctx context.Context) error {
	if s.sem == nil {
		return nil
	}
	timer := time.NewTimer(s.slotWait)
	defer timer.Stop()
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return appErr.Wrapf(ctx.Err(), appErr.JudgeQueueFull, "judging cancelled while waiting for a slot")
	case <-timer.C:
		return appErr.New(appErr.JudgeQueueFull).WithMessage("judge pool is full")
	}
}

func (s *Service) releaseSlot() {
	if s.sem == nil {
		return
	}
	select {
	case <-s.sem:
	default:
	}
}

// Judger is implemented by *Service.
type Judger interface {
	Judge(ctx context.Context, req JudgeRequest) (*JudgeResult, error)
}

// RetryPolicy bounds caller-side retries of infrastructure failures.
type RetryPolicy struct {
	MaxAttempts int           `yaml:"maxAttempts"`
	BaseBackoff time.Duration `yaml:"baseBackoff"`
	MaxBackoff  time.Duration `yaml:"maxBackoff"`
}

// DefaultRetryPolicy is three attempts with 200ms, 400ms backoff.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, BaseBackoff: 200 * time.Millisecond, MaxBackoff: 2 * time.Second}

// ComputeBackoff returns the wait before retry number retryCount (0-based),
// doubling from base and capped at max.
func ComputeBackoff(retryCount int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if retryCount <= 0 {
		if max > 0 && base > max {
			return max
		}
		return base
	}
	delay := base
	for i := 0; i < retryCount; i++ {
		if max > 0 && delay > max/2 {
			return max
		}
		delay *= 2
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}

// IsRetryable reports whether a judging error is worth another attempt: a
// sandbox that was unreachable or answered with an unusable response, or a
// judging timeout. Verdicts are never errors, and data problems (pairing,
// assets) do not heal by retrying. Callers bound the attempts.
func IsRetryable(err error) bool {
	switch appErr.GetCode(err) {
	case appErr.Timeout:
		return true
	case appErr.SandboxFailure:
		return errors.Is(err, sandbox.ErrUnavailable) || errors.Is(err, sandbox.ErrProtocol)
	default:
		return false
	}
}

// JudgeWithRetry calls j.Judge until it succeeds, fails permanently, or the
// attempts run out. The last error is returned.
func JudgeWithRetry(ctx context.Context, j Judger, req JudgeRequest, policy RetryPolicy) (*JudgeResult, error) {
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := ComputeBackoff(attempt-1, policy.BaseBackoff, policy.MaxBackoff)
			logger.Warn(ctx, "retrying judging",
				zap.String("submission_id", req.SubmissionID),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, lastErr
			}
		}
		res, err := j.Judge(ctx, req)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !IsRetryable(err) || ctx.Err() != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
