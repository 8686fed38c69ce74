package domain

import "context"

// OrderRepository описывает требования к хранилищу заказов.
// Репозиторий не следит за складом: это обязанность движка исполнения заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ: назначает ID (если пуст), отметки времени и Version=1.
	Create(ctx context.Context, order Order) (Order, error)
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(ctx context.Context, id string) (Order, error)
	// Replace перезаписывает позиции, сумму, клиента и статус при совпадении Version.
	// ID, SellerID и CreatedAt не меняются. Ошибки: ErrOrderNotFound, ErrConflict.
	Replace(ctx context.Context, order Order) (Order, error)
	// Delete удаляет заказ, если его версия равна version.
	Delete(ctx context.Context, id string, version int64) error
	// List возвращает заказы по фильтру, новые первыми.
	List(ctx context.Context, filter OrderFilter) ([]Order, error)
}
