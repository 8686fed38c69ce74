package fulfillment

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/crm/internal/domain"
)

// maxParallelReservations ограничивает число одновременных обращений к складу из одного запроса.
const maxParallelReservations = 8

// stockRequest: сколько единиц товара нужно списать или вернуть.
type stockRequest struct {
	ProductID string
	Pieces    int64
}

// reservationBatch принадлежит одному запросу и помнит все успешные списания,
// чтобы при ошибке вернуть их на склад.
type reservationBatch struct {
	ledger domain.InventoryLedger

	mu   sync.Mutex
	held []domain.Reservation
}

func newReservationBatch(ledger domain.InventoryLedger) *reservationBatch {
	return &reservationBatch{ledger: ledger}
}

// reserveAll списывает все позиции параллельно по товарам. Возвращает первую
// ошибку; успешные списания остаются в пакете до rollback.
func (b *reservationBatch) reserveAll(ctx context.Context, requests []stockRequest) error {
	// Соседние списания не отменяются при ошибке: отменённый на полпути
	// запрос мог уже списать остаток, и такой резерв потерялся бы.
	var g errgroup.Group
	g.SetLimit(maxParallelReservations)

	for _, req := range requests {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			reservation, err := b.ledger.Reserve(ctx, req.ProductID, req.Pieces)
			if err != nil {
				return err
			}
			b.mu.Lock()
			b.held = append(b.held, reservation)
			b.mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

// reservations возвращает снимок успешных списаний.
func (b *reservationBatch) reservations() []domain.Reservation {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.Reservation(nil), b.held...)
}

// byProduct индексирует успешные списания по товару.
func (b *reservationBatch) byProduct() map[string]domain.Reservation {
	held := b.reservations()
	result := make(map[string]domain.Reservation, len(held))
	for _, r := range held {
		result[r.ProductID] = r
	}
	return result
}

// releaseRequests превращает удержанные списания в запросы на возврат.
func (b *reservationBatch) releaseRequests() []stockRequest {
	held := b.reservations()
	result := make([]stockRequest, 0, len(held))
	for _, r := range held {
		result = append(result, stockRequest{ProductID: r.ProductID, Pieces: r.Pieces})
	}
	return result
}

func (b *reservationBatch) pieces() int64 {
	var total int64
	for _, r := range b.reservations() {
		total += r.Pieces
	}
	return total
}
