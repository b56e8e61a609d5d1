package adapter

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"
)

// RetryConfig bounds the exponential backoff applied to provider calls. This
// is the only retry policy in the pipeline.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// retryOperation runs op up to MaxAttempts times, sleeping 2^attempt *
// BaseDelay between attempts, and surfaces the last error once exhausted.
func retryOperation(ctx context.Context, logger *logrus.Logger, config RetryConfig, operation func() error) error {
	var lastErr error

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		lastErr = operation()
		if lastErr == nil {
			return nil
		}

		if attempt == config.MaxAttempts-1 {
			break
		}

		delay := time.Duration(math.Pow(2, float64(attempt+1))) * config.BaseDelay
		if delay > config.MaxDelay {
			delay = config.MaxDelay
		}

		logger.WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"delay":   delay,
			"error":   lastErr.Error(),
		}).Warn("Retrying provider call")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("provider call failed after %d attempts: %w", config.MaxAttempts, lastErr)
}
