package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/avelinecloud/compliancemgr/internal/logger"
)

// RetryConfig defines retry behavior
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// DefaultRetryConfig returns sensible defaults
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// CloudProviderRetryConfig returns config tuned for cloud provider APIs
func CloudProviderRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// RetryableFunc is a function that can be retried
type RetryableFunc func(ctx context.Context) error

// Retry executes fn with exponential backoff. retryable decides from the
// returned error whether another attempt is worthwhile; a nil predicate
// retries every error.
func Retry(ctx context.Context, config *RetryConfig, retryable func(error) bool, fn RetryableFunc) error {
	if config == nil {
		config = DefaultRetryConfig()
	}

	log := logger.New("resilience")
	var lastErr error

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				log.Debug("operation succeeded after retry", logger.Int("attempt", attempt))
			}
			return nil
		}
		lastErr = err

		if retryable != nil && !retryable(err) {
			return err
		}
		if attempt >= config.MaxAttempts {
			break
		}

		delay := calculateDelay(attempt, config)
		log.Debug("retrying operation",
			logger.Int("attempt", attempt),
			logger.Duration("next_delay", delay),
			logger.String("error", err.Error()))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return lastErr
}

func calculateDelay(attempt int, config *RetryConfig) time.Duration {
	delay := float64(config.InitialDelay) * math.Pow(config.Multiplier, float64(attempt-1))
	if delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}
	if config.Jitter {
		delay += rand.Float64() * 0.3 * delay
	}
	return time.Duration(delay)
}
