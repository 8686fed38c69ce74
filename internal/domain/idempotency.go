package domain

import "time"

// IdempotencyStatus: стадия обработки мутации заказа, присланной с
// idempotency-key.
type IdempotencyStatus string

const (
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	IdempotencyStatusDone       IdempotencyStatus = "done"
	IdempotencyStatusFailed     IdempotencyStatus = "failed"
)

// settledStatuses: значение true у статусов с зафиксированным ответом.
var settledStatuses = map[IdempotencyStatus]bool{
	IdempotencyStatusProcessing: false,
	IdempotencyStatusDone:       true,
	IdempotencyStatusFailed:     true,
}

// Valid проверяет, что статус известен.
func (s IdempotencyStatus) Valid() bool {
	_, ok := settledStatuses[s]
	return ok
}

// Settled: ответ сохранён и отдаётся повтору без повторного списания склада.
func (s IdempotencyStatus) Settled() bool {
	return settledStatuses[s]
}

// IdempotencyRecord связывает idempotency-key с отпечатком запроса
// (метод, продавец, тело) и сохранённым ответом.
type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	ResponseBody []byte
	StatusCode   int
	Status       IdempotencyStatus
	TTLAt        time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Expired: запись больше не защищает ключ, его можно занять заново.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return !r.TTLAt.After(now)
}

// SameRequest сверяет отпечаток повторного запроса с сохранённым.
func (r IdempotencyRecord) SameRequest(requestHash string) bool {
	return r.RequestHash == requestHash
}

// Occupied возвращает ошибку, с которой CreateProcessing отказывает в
// занятом ключе: чужой запрос под тем же ключом или повтор своего.
func (r IdempotencyRecord) Occupied(requestHash string) error {
	if !r.SameRequest(requestHash) {
		return ErrIdempotencyHashMismatch
	}
	return ErrIdempotencyKeyAlreadyExists
}
