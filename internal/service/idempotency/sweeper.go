// Package idempotency освобождает idempotency-ключи мутаций заказов и
// каталога после окна дедупликации.
package idempotency

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/crm/internal/domain"
	"github.com/vladislavdragonenkov/crm/internal/metrics"
)

// Config: расписание очистки. Нулевые поля заменяются значениями по умолчанию.
type Config struct {
	Interval  time.Duration
	BatchSize int
	// MaxBatches ограничивает один проход. Хвост после всплеска SubmitOrder
	// дочищается следующими проходами, а не одной длинной серией DELETE.
	MaxBatches int
}

// DefaultConfig: раз в 10 минут, до 20 порций по 500 ключей.
func DefaultConfig() Config {
	return Config{
		Interval:   10 * time.Minute,
		BatchSize:  500,
		MaxBatches: 20,
	}
}

func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = def.Interval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.MaxBatches <= 0 {
		c.MaxBatches = def.MaxBatches
	}
	return c
}

// SweepResult: итог одного прохода.
type SweepResult struct {
	Deleted int
	Batches int
	// Backlog: проход упёрся в MaxBatches, просроченные ключи ещё остались.
	Backlog bool
}

// Sweeper удаляет ключи с истёкшим TTL, после чего клиент может повторно
// использовать ключ для нового заказа.
type Sweeper struct {
	keys    domain.IdempotencyRepository
	cfg     Config
	metrics *metrics.CleanupMetrics
	logger  *log.Entry
	now     func() time.Time
}

// NewSweeper создаёт очистку. m может быть nil.
func NewSweeper(keys domain.IdempotencyRepository, cfg Config, m *metrics.CleanupMetrics, logger *log.Entry) *Sweeper {
	if logger == nil {
		logger = log.WithField("component", "idempotency-sweeper")
	}
	return &Sweeper{
		keys:    keys,
		cfg:     cfg.normalized(),
		metrics: m,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Run выполняет проходы до отмены ctx. Если предыдущий проход оставил
// хвост, следующий запускается сразу, без ожидания интервала.
func (s *Sweeper) Run(ctx context.Context) {
	if s.keys == nil {
		s.logger.Warn("idempotency sweeper is disabled: key store is nil")
		return
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		result, err := s.Sweep(ctx, s.now())
		if errors.Is(err, context.Canceled) {
			return
		}
		s.report(result, err)

		next := s.cfg.Interval
		if err == nil && result.Backlog {
			next = 0
		}
		timer.Reset(next)
	}
}

// Sweep удаляет ключи с ttl <= now порциями BatchSize, не больше MaxBatches.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	var result SweepResult
	for result.Batches < s.cfg.MaxBatches {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		deleted, err := s.keys.DeleteExpired(now, s.cfg.BatchSize)
		if err != nil {
			return result, err
		}
		result.Batches++
		result.Deleted += deleted
		s.metrics.RecordDeleted(deleted)

		if deleted < s.cfg.BatchSize {
			return result, nil
		}
	}
	result.Backlog = true
	return result, nil
}

func (s *Sweeper) report(result SweepResult, err error) {
	s.metrics.RecordRun(result.Deleted, err)
	entry := s.logger.WithFields(log.Fields{
		"deleted": result.Deleted,
		"batches": result.Batches,
	})
	switch {
	case err != nil:
		entry.WithError(err).Warn("idempotency sweep failed")
	case result.Backlog:
		entry.Info("idempotency sweep hit batch limit, continuing")
	case result.Deleted > 0:
		entry.Info("expired idempotency keys released")
	}
}
