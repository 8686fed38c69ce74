package domain

import (
	"errors"
	"testing"
	"time"
)

func TestIdempotencyStatus(t *testing.T) {
	tests := []struct {
		status  IdempotencyStatus
		valid   bool
		settled bool
	}{
		{IdempotencyStatusProcessing, true, false},
		{IdempotencyStatusDone, true, true},
		{IdempotencyStatusFailed, true, true},
		{IdempotencyStatus("reserved"), false, false},
	}

	for _, tc := range tests {
		t.Run(string(tc.status), func(t *testing.T) {
			if got := tc.status.Valid(); got != tc.valid {
				t.Fatalf("Valid()=%v, want %v", got, tc.valid)
			}
			if got := tc.status.Settled(); got != tc.settled {
				t.Fatalf("Settled()=%v, want %v", got, tc.settled)
			}
		})
	}
}

func TestIdempotencyRecordExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	if (IdempotencyRecord{TTLAt: now.Add(time.Minute)}).Expired(now) {
		t.Fatal("record with future ttl must not be expired")
	}
	if !(IdempotencyRecord{TTLAt: now}).Expired(now) {
		t.Fatal("record with ttl == now must be expired")
	}
}

func TestIdempotencyRecordOccupied(t *testing.T) {
	record := IdempotencyRecord{Key: "submit-1", RequestHash: "abc"}

	if err := record.Occupied("abc"); !errors.Is(err, ErrIdempotencyKeyAlreadyExists) {
		t.Fatalf("same order payload must replay, got %v", err)
	}
	if err := record.Occupied("other"); !errors.Is(err, ErrIdempotencyHashMismatch) {
		t.Fatalf("different order payload must be rejected, got %v", err)
	}
}
