package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestOutboxMetrics_Backlog(t *testing.T) {
	m := NewOutboxMetrics(prometheus.NewRegistry())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	m.SetBacklog(3, now.Add(-90*time.Second), now)
	if got := gaugeValue(t, m.pendingRecords); got != 3 {
		t.Fatalf("expected 3 pending records, got %v", got)
	}
	if got := gaugeValue(t, m.oldestPendingAge); got != 90 {
		t.Fatalf("expected age 90s, got %v", got)
	}

	m.SetBacklog(0, time.Time{}, now)
	if got := gaugeValue(t, m.oldestPendingAge); got != 0 {
		t.Fatalf("empty backlog must reset age, got %v", got)
	}

	m.SetBacklog(1, now.Add(time.Minute), now)
	if got := gaugeValue(t, m.oldestPendingAge); got != 0 {
		t.Fatalf("clock skew must not produce negative age, got %v", got)
	}
}

func TestOutboxMetrics_PublishAttempts(t *testing.T) {
	m := NewOutboxMetrics(prometheus.NewRegistry())
	m.RecordPublish(PublishRetryError)
	m.RecordPublish(PublishRetryError)
	m.RecordPublish(PublishSent)

	if got := counterValue(t, m.PublishAttempts(PublishRetryError)); got != 2 {
		t.Fatalf("expected 2 retry errors, got %v", got)
	}
	if got := counterValue(t, m.PublishAttempts(PublishSent)); got != 1 {
		t.Fatalf("expected 1 sent, got %v", got)
	}

	var nilMetrics *OutboxMetrics
	nilMetrics.RecordPublish(PublishSent)
	nilMetrics.SetBacklog(1, time.Now(), time.Now())
}
