package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/crm/internal/domain"
)

const (
	outboxStatusPending = "pending"
	outboxStatusSent    = "sent"
	outboxStatusFailed  = "failed"

	defaultOutboxClaim = 100
	// outboxLease: сколько событие заказа закреплено за одной репликой
	// crm-orders. Если реплика упала до MarkSent, событие снова станет
	// доступно после истечения аренды.
	outboxLease = 30 * time.Second
)

// outboxRepository хранит события заказов рядом с заказами. Несколько
// реплик сервиса забирают разные события: PullPending арендует строки через
// FOR UPDATE SKIP LOCKED.
type outboxRepository struct {
	db    *sql.DB
	lease time.Duration
	now   func() time.Time
}

// NewOutboxRepository создаёт PostgreSQL-реализацию OutboxRepository.
func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return &outboxRepository{
		db:    store.DB(),
		lease: outboxLease,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (r *outboxRepository) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	ctx, cancel := opContext(context.Background())
	defer cancel()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO outbox_messages (id, aggregate_type, aggregate_id, event_type, payload, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`, msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload, outboxStatusPending, r.now())
	switch {
	case isUniqueViolation(err):
		return domain.OutboxMessage{}, domain.ErrConflict
	case err != nil:
		return domain.OutboxMessage{}, classify("enqueue order event", err)
	}
	return msg, nil
}

// PullPending арендует до limit самых старых событий, не занятых другой
// репликой. attempt_count считает выдачи на публикацию.
func (r *outboxRepository) PullPending(limit int) ([]domain.OutboxMessage, error) {
	ctx, cancel := opContext(context.Background())
	defer cancel()

	if limit <= 0 {
		limit = defaultOutboxClaim
	}
	now := r.now()

	rows, err := r.db.QueryContext(ctx, `
		WITH claimable AS (
			SELECT id
			FROM outbox_messages
			WHERE status = $1
			  AND (claimed_until IS NULL OR claimed_until <= $2)
			ORDER BY created_at, id
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		), claimed AS (
			UPDATE outbox_messages o
			SET claimed_until = $4,
			    attempt_count = o.attempt_count + 1,
			    updated_at = $2
			FROM claimable
			WHERE o.id = claimable.id
			RETURNING o.id, o.aggregate_type, o.aggregate_id, o.event_type, o.payload, o.created_at
		)
		SELECT id, aggregate_type, aggregate_id, event_type, payload
		FROM claimed
		ORDER BY created_at, id
	`, outboxStatusPending, now, limit, now.Add(r.lease))
	if err != nil {
		return nil, classify("claim order events", err)
	}
	defer rows.Close()

	events := make([]domain.OutboxMessage, 0, limit)
	for rows.Next() {
		var msg domain.OutboxMessage
		if err := rows.Scan(&msg.ID, &msg.AggregateType, &msg.AggregateID, &msg.EventType, &msg.Payload); err != nil {
			return nil, fmt.Errorf("scan order event: %w", err)
		}
		events = append(events, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("claim order events", err)
	}
	return events, nil
}

// Stats: backlog неопубликованных событий, включая арендованные.
func (r *outboxRepository) Stats() (domain.OutboxStats, error) {
	ctx, cancel := opContext(context.Background())
	defer cancel()

	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(created_at)
		FROM outbox_messages
		WHERE status = $1
	`, outboxStatusPending).Scan(&stats.PendingCount, &oldest)
	if err != nil {
		return domain.OutboxStats{}, classify("order event backlog", err)
	}
	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}
	return stats, nil
}

func (r *outboxRepository) MarkSent(id string) error {
	return r.settle(id, outboxStatusSent)
}

func (r *outboxRepository) MarkFailed(id string) error {
	return r.settle(id, outboxStatusFailed)
}

// settle закрывает событие и снимает аренду. Уже закрытое событие не
// переоткрывается.
func (r *outboxRepository) settle(id, status string) error {
	ctx, cancel := opContext(context.Background())
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = $2, claimed_until = NULL, updated_at = $3
		WHERE id = $1 AND status = $4
	`, id, status, r.now(), outboxStatusPending)
	if err != nil {
		return classify("mark order event "+status, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return classify("mark order event "+status, err)
	}
	if affected == 0 {
		return domain.ErrOutboxPublish
	}
	return nil
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)
