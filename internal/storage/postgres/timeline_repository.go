package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/crm/internal/domain"
)

type timelineRepository struct {
	db *sql.DB
}

// NewTimelineRepository создаёт PostgreSQL-реализацию TimelineRepository.
// У timeline_events нет внешнего ключа на orders: история переживает удаление заказа.
func NewTimelineRepository(store *Store) domain.TimelineRepository {
	return &timelineRepository{db: store.DB()}
}

func (r *timelineRepository) Append(event domain.TimelineEvent) error {
	if event.OrderID == "" {
		return domain.ErrOrderNotFound
	}
	if event.SellerID == "" {
		return domain.ErrSellerRequired
	}
	if event.Occurred.IsZero() {
		event.Occurred = time.Now().UTC()
	}

	ctx, cancel := opContext(context.Background())
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO timeline_events (order_id, seller_id, type, reason, occurred)
		VALUES ($1,$2,$3,$4,$5)
	`, event.OrderID, event.SellerID, event.Type, event.Reason, event.Occurred); err != nil {
		return classify("append timeline event", err)
	}
	return nil
}

func (r *timelineRepository) List(sellerID, orderID string) ([]domain.TimelineEvent, error) {
	ctx, cancel := opContext(context.Background())
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT order_id, seller_id, type, reason, occurred
		FROM timeline_events
		WHERE seller_id = $1 AND order_id = $2
		ORDER BY occurred ASC, id ASC
	`, sellerID, orderID)
	if err != nil {
		return nil, classify("list timeline events", err)
	}
	defer rows.Close()

	events := make([]domain.TimelineEvent, 0)
	for rows.Next() {
		var event domain.TimelineEvent
		if err := rows.Scan(&event.OrderID, &event.SellerID, &event.Type, &event.Reason, &event.Occurred); err != nil {
			return nil, fmt.Errorf("scan timeline event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timeline events: %w", err)
	}
	return events, nil
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)
