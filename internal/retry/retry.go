// ABOUTME: Retry coordinator with bounded exponential backoff
// ABOUTME: IsTransient is the single policy deciding which failures get another attempt

package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/2389/reclama-gateway/internal/conversation"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
)

// IsTransient reports whether err may succeed on another attempt. Collaborator
// failures and deadlines are transient unless marked permanent; validation
// errors, unsupported types and malformed payloads never are.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, conversation.ErrUnsupportedMessageType),
		errors.Is(err, conversation.ErrInvalidPayload),
		errors.Is(err, conversation.ErrValidation),
		errors.Is(err, context.Canceled):
		return false
	}
	var ce *conversation.CollaboratorError
	if errors.As(err, &ce) {
		return !ce.Permanent
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// Coordinator retries an operation. The delay before attempt n+1 is
// BaseDelay * 2^(n-1); there is no delay after the final attempt.
type Coordinator struct {
	MaxAttempts int
	BaseDelay   time.Duration

	// Sleep waits for d or until ctx is done. Tests replace it to record delays.
	Sleep func(ctx context.Context, d time.Duration) error

	logger *slog.Logger
}

// New creates a coordinator. Non-positive values take the defaults.
func New(maxAttempts int, baseDelay time.Duration, logger *slog.Logger) *Coordinator {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		Sleep:       sleepContext,
		logger:      logger.With("component", "retry"),
	}
}

// Delay returns the wait after a failed attempt (1-based).
func (c *Coordinator) Delay(attempt int) time.Duration {
	return c.BaseDelay << (attempt - 1)
}

// Do runs op until it succeeds, fails permanently or MaxAttempts is reached.
// The last error is returned unchanged.
func (c *Coordinator) Do(ctx context.Context, op func(ctx context.Context, attempt int) error) error {
	var err error
	for attempt := 1; attempt <= c.MaxAttempts; attempt++ {
		err = op(ctx, attempt)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		if attempt == c.MaxAttempts {
			break
		}

		delay := c.Delay(attempt)
		c.logger.Warn("attempt failed, retrying",
			"attempt", attempt,
			"max_attempts", c.MaxAttempts,
			"delay", delay,
			"error", err)
		if sleepErr := c.Sleep(ctx, delay); sleepErr != nil {
			return err
		}
	}
	c.logger.Error("giving up after max attempts",
		"max_attempts", c.MaxAttempts,
		"error", err)
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
