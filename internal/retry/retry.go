package retry

import (
	"context"
	"errors"
	"net"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"video-insights-go/internal/types"
)

// Config bounds one call site's retry behavior.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultConfig matches the production retry budget: up to 3 retries with
// 1s..10s capped exponential backoff and jitter.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: time.Second,
		MaxBackoff:     10 * time.Second,
	}
}

// Do executes op, retrying transient failures with exponential backoff and
// jitter. Non-retryable errors propagate immediately; exhausting the retry
// budget propagates the last error.
func Do(ctx context.Context, log *logrus.Entry, cfg Config, service string, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.InitialBackoff
	bo.MaxInterval = cfg.MaxBackoff
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.3
	bo.MaxElapsedTime = 0

	attempt := 0
	wrapped := func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if !Retryable(err) {
			return backoff.Permanent(err)
		}
		log.WithFields(logrus.Fields{
			"service": service,
			"attempt": attempt,
			"error":   err.Error(),
		}).Warn("transient failure, will retry")
		return err
	}

	b := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(cfg.MaxRetries)), ctx)
	return backoff.Retry(wrapped, b)
}

// Retryable reports whether an error is worth another attempt: rate limits,
// 5xx responses, and transport-level failures. Validation and malformed
// response errors are terminal.
func Retryable(err error) bool {
	var svcErr *types.ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Retryable()
	}
	var malformed *types.MalformedResponseError
	if errors.As(err, &malformed) {
		return false
	}
	var validation *types.ValidationError
	if errors.As(err, &validation) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
