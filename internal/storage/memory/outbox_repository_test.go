package memory

import (
	"testing"

	"github.com/vladislavdragonenkov/crm/internal/domain"
)

func TestOutboxRepository_EnqueueAndPullInOrder(t *testing.T) {
	repo := NewOutboxRepository()

	first, err := repo.Enqueue(domain.OutboxMessage{AggregateType: "order", AggregateID: "order-1", EventType: domain.EventOrderSubmitted})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if first.ID == "" {
		t.Fatal("expected generated id")
	}
	second, err := repo.Enqueue(domain.OutboxMessage{AggregateType: "order", AggregateID: "order-1", EventType: domain.EventOrderRevised})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	pending, err := repo.PullPending(10)
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != first.ID || pending[1].ID != second.ID {
		t.Fatalf("unexpected pending order: %+v", pending)
	}

	limited, _ := repo.PullPending(1)
	if len(limited) != 1 || limited[0].ID != first.ID {
		t.Fatalf("expected oldest message first, got %+v", limited)
	}
}

func TestOutboxRepository_MarkAndStats(t *testing.T) {
	repo := NewOutboxRepository()

	saved, err := repo.Enqueue(domain.OutboxMessage{AggregateType: "order", AggregateID: "order-2"})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	stats, err := repo.Stats()
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.PendingCount != 1 || stats.OldestPendingAt.IsZero() {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	if err := repo.MarkSent(saved.ID); err != nil {
		t.Fatalf("mark sent failed: %v", err)
	}
	stats, _ = repo.Stats()
	if stats.PendingCount != 0 {
		t.Fatalf("expected empty backlog, got %d", stats.PendingCount)
	}

	if err := repo.MarkFailed("missing"); err == nil {
		t.Fatal("expected error for missing record")
	}
	if got := repo.Messages("order-2"); len(got) != 1 {
		t.Fatalf("expected message history to survive publish, got %d", len(got))
	}
}
