package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/crm/internal/domain"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name         string
		err          error
		conflict     bool
		persistence  bool
		keepsWrapped error
	}{
		{"nil", nil, false, false, nil},
		{"domain error untouched", domain.ErrOrderNotFound, false, false, domain.ErrOrderNotFound},
		{"serialization failure", &pgconn.PgError{Code: pgSerializationFailure}, true, true, nil},
		{"deadlock", fmt.Errorf("exec: %w", &pgconn.PgError{Code: pgDeadlockDetected}), true, true, nil},
		{"unique violation is infrastructure", &pgconn.PgError{Code: pgUniqueViolation}, false, true, nil},
		{"driver failure", errors.New("connection reset"), false, true, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := classify("op", tc.err)
			if tc.err == nil {
				if got != nil {
					t.Fatalf("nil must stay nil, got %v", got)
				}
				return
			}
			if errors.Is(got, domain.ErrConflict) != tc.conflict {
				t.Fatalf("conflict=%t for %v", !tc.conflict, got)
			}
			if errors.Is(got, domain.ErrPersistence) != tc.persistence {
				t.Fatalf("persistence=%t for %v", !tc.persistence, got)
			}
			if tc.keepsWrapped != nil && !errors.Is(got, tc.keepsWrapped) {
				t.Fatalf("expected %v to be preserved, got %v", tc.keepsWrapped, got)
			}
		})
	}
}

func TestPgCodeHelpers(t *testing.T) {
	t.Parallel()

	fk := fmt.Errorf("insert: %w", &pgconn.PgError{Code: pgForeignKeyViolation})
	if !isForeignKeyViolation(fk) || isUniqueViolation(fk) {
		t.Fatal("foreign key violation misclassified")
	}
	if pgCode(errors.New("plain")) != "" {
		t.Fatal("plain error has no sqlstate")
	}
}
