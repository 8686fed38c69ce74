package grpcsvc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/crm/internal/domain"
)

const sellerIDHeader = "x-seller-id"

var invalidArgumentErrors = []error{
	domain.ErrCustomerRequired,
	domain.ErrSellerRequired,
	domain.ErrItemsRequired,
	domain.ErrProductRequired,
	domain.ErrPiecesInvalid,
	domain.ErrPriceInvalid,
	domain.ErrTotalNegative,
	domain.ErrStatusInvalid,
	domain.ErrStockNegative,
	domain.ErrStockOverflow,
	domain.ErrProductNameRequired,
	domain.ErrCustomerNameRequired,
	domain.ErrCustomerEmailRequired,
	domain.ErrTotalMismatch,
}

// toStatus переводит доменную ошибку в gRPC-статус. Порядок важен:
// компенсация и конфликт проверяются раньше общего ErrPersistence.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	var compErr *domain.CompensationError
	switch {
	case errors.As(err, &compErr):
		return status.Error(codes.Internal, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrCustomerNotFound),
		errors.Is(err, domain.ErrProductNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrOrderNotEditable),
		errors.Is(err, domain.ErrInvalidStatusTransition):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrDuplicateProduct),
		errors.Is(err, domain.ErrDuplicateCustomer):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, domain.ErrPersistence):
		return status.Error(codes.Unavailable, "storage is unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	}
	for _, target := range invalidArgumentErrors {
		if errors.Is(err, target) {
			return status.Error(codes.InvalidArgument, err.Error())
		}
	}
	return status.Error(codes.Internal, "internal error")
}

func invalidArgument(format string, args ...any) error {
	return status.Error(codes.InvalidArgument, fmt.Sprintf(format, args...))
}

// firstMetadata возвращает первое непустое значение ключа из входящих
// или исходящих метаданных (последнее нужно при прямом вызове в тестах).
func firstMetadata(ctx context.Context, key string) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(key); len(values) > 0 && strings.TrimSpace(values[0]) != "" {
			return strings.TrimSpace(values[0])
		}
	}
	if md, ok := metadata.FromOutgoingContext(ctx); ok {
		if values := md.Get(key); len(values) > 0 && strings.TrimSpace(values[0]) != "" {
			return strings.TrimSpace(values[0])
		}
	}
	return ""
}

// sellerFromContext читает уже проверенную личность продавца из метаданных.
func sellerFromContext(ctx context.Context) (string, error) {
	seller := firstMetadata(ctx, sellerIDHeader)
	if seller == "" {
		return "", status.Error(codes.Unauthenticated, "x-seller-id metadata is required")
	}
	return seller, nil
}

func isServerFault(err error) bool {
	switch status.Code(err) {
	case codes.Internal, codes.Unavailable, codes.Unknown, codes.DataLoss:
		return true
	default:
		return false
	}
}
