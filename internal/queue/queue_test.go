package queue

import (
	"testing"

	"github.com/queueme/notification-engine/internal/domain"
)

func TestQueueNames(t *testing.T) {
	work := WorkQueueNames()
	if len(work) != 3 {
		t.Fatalf("WorkQueueNames len = %d, want 3", len(work))
	}

	expected := []string{"notify.high", "notify.normal", "notify.low"}
	for i, name := range work {
		if name != expected[i] {
			t.Fatalf("WorkQueueNames[%d] = %s, want %s", i, name, expected[i])
		}
	}

	dlq := DLQNames()
	if len(dlq) != 3 {
		t.Fatalf("DLQNames len = %d, want 3", len(dlq))
	}

	expectedDLQ := []string{"dlq.notify.high", "dlq.notify.normal", "dlq.notify.low"}
	for i, name := range dlq {
		if name != expectedDLQ[i] {
			t.Fatalf("DLQNames[%d] = %s, want %s", i, name, expectedDLQ[i])
		}
	}
}

func TestQueueName(t *testing.T) {
	if got := QueueName(domain.PriorityHigh); got != "notify.high" {
		t.Fatalf("QueueName = %s, want notify.high", got)
	}

	if got := DLQName(domain.PriorityLow); got != "dlq.notify.low" {
		t.Fatalf("DLQName = %s, want dlq.notify.low", got)
	}
}

func TestPriorityValue(t *testing.T) {
	tests := []struct {
		name     string
		priority domain.Priority
		want     uint8
	}{
		{name: "high", priority: domain.PriorityHigh, want: 3},
		{name: "normal", priority: domain.PriorityNormal, want: 2},
		{name: "low", priority: domain.PriorityLow, want: 1},
		{name: "invalid", priority: domain.Priority("invalid"), want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PriorityValue(tt.priority)
			if got != tt.want {
				t.Fatalf("PriorityValue(%q) = %d, want %d", tt.priority, got, tt.want)
			}
		})
	}
}

func TestTaskMessageValidate(t *testing.T) {
	msg := TaskMessage{
		Kind:           TaskDispatch,
		NotificationID: "n1",
		Priority:       domain.PriorityNormal,
	}
	if err := msg.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}

	msg.Kind = TaskKind("replay")
	if err := msg.Validate(); err == nil {
		t.Fatal("expected error for unknown task kind")
	}

	msg.Kind = TaskDispatch
	msg.NotificationID = ""
	if err := msg.Validate(); err == nil {
		t.Fatal("expected error for empty notification id")
	}

	msg.NotificationID = "n1"
	msg.Kind = TaskRedispatch
	if err := msg.Validate(); err == nil {
		t.Fatal("expected error for redispatch without delivery id")
	}

	msg.DeliveryID = "d1"
	if err := msg.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}

	msg.Priority = domain.Priority("invalid")
	if err := msg.Validate(); err == nil {
		t.Fatal("expected error for invalid priority")
	}
}
