package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/queueme/notification-engine/internal/domain"
)

// Publisher publishes dispatch tasks to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg TaskMessage) error
	Close() error
}

// MessageHandler handles a consumed queue message.
type MessageHandler func(ctx context.Context, msg TaskMessage) error

// Consumer consumes dispatch tasks from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

var allPriorities = []domain.Priority{
	domain.PriorityHigh,
	domain.PriorityNormal,
	domain.PriorityLow,
}

const (
	// queueMaxPriority is the RabbitMQ x-max-priority value for work queues.
	queueMaxPriority int32 = 3
)

// QueueName returns the work queue for a priority, e.g. notify.high.
func QueueName(priority domain.Priority) string {
	return fmt.Sprintf("notify.%s", strings.ToLower(priority.String()))
}

// DLQName returns the dead-letter queue for a priority, e.g. dlq.notify.high.
func DLQName(priority domain.Priority) string {
	return fmt.Sprintf("dlq.%s", QueueName(priority))
}

// WorkQueueNames returns all priority work queues, highest first.
func WorkQueueNames() []string {
	queues := make([]string, 0, len(allPriorities))
	for _, priority := range allPriorities {
		queues = append(queues, QueueName(priority))
	}
	return queues
}

// DLQNames returns all dead-letter queues, highest first.
func DLQNames() []string {
	queues := make([]string, 0, len(allPriorities))
	for _, priority := range allPriorities {
		queues = append(queues, DLQName(priority))
	}
	return queues
}

// PriorityValue maps domain priority to RabbitMQ message priority.
func PriorityValue(priority domain.Priority) uint8 {
	switch priority {
	case domain.PriorityHigh:
		return 3
	case domain.PriorityNormal:
		return 2
	case domain.PriorityLow:
		return 1
	default:
		return 0
	}
}
