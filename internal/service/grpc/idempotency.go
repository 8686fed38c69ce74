package grpcsvc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	spb "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/vladislavdragonenkov/crm/internal/domain"
)

const (
	idempotencyKeyHeader = "idempotency-key"
	idempotencyTTL       = 24 * time.Hour
)

// retryableCodes: запрос не дошёл до результата, клиент вправе повторить
// его с тем же ключом. Ключ освобождается вместо сохранения ошибки.
var retryableCodes = map[codes.Code]bool{
	codes.Canceled:          true,
	codes.DeadlineExceeded:  true,
	codes.ResourceExhausted: true,
	codes.Aborted:           true,
	codes.Unavailable:       true,
}

// idempotencyGuard сохраняет ответ под idempotency-key, чтобы повтор запроса
// вернул тот же результат и не списал склад второй раз.
type idempotencyGuard struct {
	repo   domain.IdempotencyRepository
	logger *log.Entry
	now    func() time.Time
}

// withIdempotency выполняет handler не более одного раза на ключ. Если ключ
// обязателен и отсутствует, возвращает InvalidArgument.
func withIdempotency[T any](
	ctx context.Context,
	g *idempotencyGuard,
	method string,
	req any,
	required bool,
	handler func(context.Context) (*T, error),
) (*T, error) {
	if g == nil || g.repo == nil {
		return handler(ctx)
	}

	key := firstMetadata(ctx, idempotencyKeyHeader)
	if key == "" {
		if required {
			return nil, status.Error(codes.InvalidArgument, "idempotency-key metadata is required")
		}
		return handler(ctx)
	}

	seller := firstMetadata(ctx, sellerIDHeader)
	reqHash, err := requestHash(method, seller, req)
	if err != nil {
		g.logger.WithError(err).WithField("method", method).Warn("failed to build idempotency request hash")
		return nil, status.Error(codes.Internal, "failed to initialize idempotency request")
	}

	record, err := g.repo.CreateProcessing(key, reqHash, g.now().Add(idempotencyTTL))
	if err != nil {
		return replay[T](g, err, record)
	}

	resp, runErr := handler(ctx)
	if runErr != nil {
		if retryableCodes[status.Code(runErr)] {
			g.release(key, runErr)
		} else {
			g.storeFailure(key, runErr)
		}
		return nil, runErr
	}

	if err := g.storeSuccess(key, resp); err != nil {
		g.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent success response")
	}
	return resp, nil
}

func replay[T any](g *idempotencyGuard, createErr error, record domain.IdempotencyRecord) (*T, error) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		return nil, status.Error(codes.AlreadyExists, "idempotency key is already used with different request payload")
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		switch record.Status {
		case domain.IdempotencyStatusDone:
			if len(record.ResponseBody) == 0 {
				return nil, status.Error(codes.Internal, "idempotency cache is empty")
			}
			resp := new(T)
			if err := decodeCached(record.ResponseBody, resp); err != nil {
				g.logger.WithError(err).WithField("idempotency_key", record.Key).Warn("failed to decode cached idempotency response")
				return nil, status.Error(codes.Internal, "failed to decode cached idempotency response")
			}
			return resp, nil
		case domain.IdempotencyStatusProcessing:
			return nil, status.Error(codes.Aborted, "request with the same idempotency key is already processing")
		case domain.IdempotencyStatusFailed:
			return nil, decodeFailure(record)
		default:
			return nil, status.Error(codes.Internal, "unknown idempotency record status")
		}
	default:
		g.logger.WithError(createErr).Warn("failed to create idempotency record")
		return nil, status.Error(codes.Unavailable, "failed to initialize idempotency request")
	}
}

// storeSuccess кэширует ответ в protojson по схеме crm/v1/crm.proto.
func (g *idempotencyGuard) storeSuccess(key string, resp any) error {
	msg, err := toWire(resp)
	if err != nil {
		return err
	}
	data, err := protojson.Marshal(msg)
	if err != nil {
		return err
	}
	return g.repo.MarkDone(key, data, int(codes.OK))
}

func decodeCached(data []byte, resp any) error {
	msg, _, err := newWire(resp)
	if err != nil {
		return err
	}
	if err := protojson.Unmarshal(data, msg); err != nil {
		return err
	}
	return fromWire(msg, resp)
}

// release освобождает ключ после временного сбоя: заказ не записан, и
// повтор с тем же ключом должен выполниться заново.
func (g *idempotencyGuard) release(key string, runErr error) {
	entry := g.logger.WithFields(log.Fields{
		"idempotency_key": key,
		"grpc_code":       status.Code(runErr).String(),
	})
	if err := g.repo.Release(key); err != nil {
		entry.WithError(err).Warn("failed to release idempotency key after retryable failure")
		return
	}
	entry.Debug("idempotency key released after retryable failure")
}

func (g *idempotencyGuard) storeFailure(key string, runErr error) {
	st := status.Convert(runErr)
	code := st.Code()
	if code == codes.OK {
		code = codes.Internal
	}

	payload, err := protojson.Marshal(&spb.Status{
		Code:    int32(code), //nolint:gosec // codes.Code is a bounded enum value.
		Message: st.Message(),
	})
	if err != nil {
		g.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to encode idempotency failure payload")
		payload = nil
	}

	if err := g.repo.MarkFailed(key, payload, int(code)); err != nil {
		g.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotency failure response")
	}
}

func decodeFailure(record domain.IdempotencyRecord) error {
	if len(record.ResponseBody) > 0 {
		var payload spb.Status
		if err := protojson.Unmarshal(record.ResponseBody, &payload); err == nil {
			if code, ok := grpcCode(int(payload.GetCode())); ok && code != codes.OK {
				message := payload.GetMessage()
				if message == "" {
					message = "previous request with the same idempotency key failed"
				}
				return status.Error(code, message)
			}
		}
	}

	if code, ok := grpcCode(record.StatusCode); ok && code != codes.OK {
		return status.Error(code, "previous request with the same idempotency key failed")
	}
	return status.Error(codes.Internal, "previous request with the same idempotency key failed")
}

func grpcCode(value int) (codes.Code, bool) {
	if value < int(codes.OK) || value > int(codes.Unauthenticated) {
		return codes.Internal, false
	}
	return codes.Code(uint32(value)), true //nolint:gosec // bounded above.
}

// requestHash: sha256 от метода, продавца и детерминированного protobuf
// тела запроса.
func requestHash(method, seller string, req any) (string, error) {
	if req == nil {
		return "", fmt.Errorf("request is nil")
	}
	msg, err := toWire(req)
	if err != nil {
		return "", err
	}
	data, err := proto.MarshalOptions{Deterministic: true}.Marshal(msg)
	if err != nil {
		return "", err
	}

	payload := make([]byte, 0, len(method)+len(seller)+2+len(data))
	payload = append(payload, method...)
	payload = append(payload, ':')
	payload = append(payload, seller...)
	payload = append(payload, ':')
	payload = append(payload, data...)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
