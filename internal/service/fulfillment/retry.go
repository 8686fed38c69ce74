package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/crm/internal/domain"
)

// RetryConfig задаёт экспоненциальный backoff для компенсирующих операций.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  50 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 2.0,
	}
}

func (c RetryConfig) normalized() RetryConfig {
	def := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = def.InitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.MaxDelay < c.InitialDelay {
		c.MaxDelay = c.InitialDelay
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = def.BackoffFactor
	}
	return c
}

// nextDelay возвращает задержку перед следующей попыткой.
func (c RetryConfig) nextDelay(delay time.Duration) time.Duration {
	next := time.Duration(float64(delay) * c.BackoffFactor)
	if next > c.MaxDelay {
		return c.MaxDelay
	}
	return next
}

// withRetry выполняет fn до MaxAttempts раз. Ошибки, которые повтором не
// исправить, возвращаются сразу; отмена ctx прерывает ожидание.
func withRetry(ctx context.Context, cfg RetryConfig, logger *log.Entry, operation string, fn func(ctx context.Context) error) error {
	cfg = cfg.normalized()
	delay := cfg.InitialDelay

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				logger.WithFields(log.Fields{
					"operation": operation,
					"attempt":   attempt,
				}).Info("operation succeeded after retry")
			}
			return nil
		}
		lastErr = err

		if !shouldRetry(err) {
			return err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		logger.WithError(err).WithFields(log.Fields{
			"operation": operation,
			"attempt":   attempt,
			"delay":     delay,
		}).Warn("operation failed, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w (retry aborted: %v)", lastErr, ctx.Err())
		case <-timer.C:
		}
		delay = cfg.nextDelay(delay)
	}

	logger.WithError(lastErr).WithFields(log.Fields{
		"operation":    operation,
		"max_attempts": cfg.MaxAttempts,
	}).Error("operation failed after all retry attempts")
	return lastErr
}

// shouldRetry отделяет временные сбои от ошибок, которые повтор не исправит.
func shouldRetry(err error) bool {
	switch {
	case errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrPiecesInvalid),
		errors.Is(err, context.Canceled):
		return false
	default:
		return true
	}
}
