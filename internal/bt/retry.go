package bt

import (
	"errors"
	"fmt"
	"log"
	"time"
)

// Sentinel errors used to classify connection failures. Operations wrapped in
// Retry abort immediately when the underlying error matches one of these:
// retrying a GATT operation against a transport that is already gone, or
// racing a connect that is already in flight, only wastes the attempt budget.
var (
	ErrDeviceGone      = errors.New("device disconnected")
	ErrConnectInFlight = errors.New("connection attempt already in progress")
)

// IsFatalConnectionError reports whether err should short-circuit a retry
// loop. Everything else is treated as transient.
func IsFatalConnectionError(err error) bool {
	return errors.Is(err, ErrDeviceGone) || errors.Is(err, ErrConnectInFlight)
}

// RetryConfig bounds a Retry call. Delay grows geometrically:
// BaseDelay * GrowthFactor^attempt.
type RetryConfig struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	GrowthFactor float64
}

// DefaultRetryConfig matches the discovery/subscribe retry budget.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  5,
		BaseDelay:    200 * time.Millisecond,
		GrowthFactor: 1.2,
	}
}

// Retry runs op up to cfg.MaxAttempts times with exponential backoff between
// attempts. A fatal connection error aborts at once without consuming the
// remaining attempts. The last error is returned when the budget is spent.
func Retry(logger *log.Logger, what string, cfg RetryConfig, op func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.GrowthFactor <= 1 {
		cfg.GrowthFactor = 1.2
	}

	delay := float64(cfg.BaseDelay)
	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(delay))
			delay *= cfg.GrowthFactor
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if IsFatalConnectionError(lastErr) {
			logger.Printf("Retry: %s aborted on fatal error: %v", what, lastErr)
			return lastErr
		}
		logger.Printf("Retry: %s attempt %d/%d failed: %v", what, attempt+1, cfg.MaxAttempts, lastErr)
	}
	return fmt.Errorf("%s failed after %d attempts: %w", what, cfg.MaxAttempts, lastErr)
}
