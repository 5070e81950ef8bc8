package worker

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/queueme/notification-engine/internal/queue"
	"go.uber.org/zap"
)

type fakeConsumer struct {
	mu       sync.Mutex
	queues   []string
	consumeF func(ctx context.Context, queueName string, handler queue.MessageHandler) error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	f.mu.Lock()
	f.queues = append(f.queues, queueName)
	f.mu.Unlock()
	if f.consumeF != nil {
		return f.consumeF(ctx, queueName, handler)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeConsumer) Close() error { return nil }

func (f *fakeConsumer) consumed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queues...)
}

type fakeProcessor struct {
	mu       sync.Mutex
	messages []queue.TaskMessage
}

func (f *fakeProcessor) Process(ctx context.Context, msg queue.TaskMessage) error {
	f.mu.Lock()
	f.messages = append(f.messages, msg)
	f.mu.Unlock()
	return nil
}

func (f *fakeProcessor) processed() []queue.TaskMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]queue.TaskMessage(nil), f.messages...)
}

func TestPoolCoversAllQueuesRoundRobin(t *testing.T) {
	t.Parallel()

	consumer := &fakeConsumer{}
	pool, err := NewPool(consumer, &fakeProcessor{}, 5, zap.NewNop())
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Start(ctx) }()

	deadline := time.After(time.Second)
	for {
		if len(consumer.consumed()) == 5 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("consumers started = %d, want 5", len(consumer.consumed()))
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	counts := map[string]int{}
	for _, name := range consumer.consumed() {
		counts[name]++
	}
	// Five workers over three queues, highest priority first.
	if counts["notify.high"] != 2 || counts["notify.normal"] != 2 || counts["notify.low"] != 1 {
		t.Fatalf("queue assignment = %v, want high:2 normal:2 low:1", counts)
	}
}

func TestPoolDelegatesMessagesToProcessor(t *testing.T) {
	t.Parallel()

	consumer := &fakeConsumer{
		consumeF: func(ctx context.Context, queueName string, handler queue.MessageHandler) error {
			if queueName == "notify.high" {
				if err := handler(ctx, queue.TaskMessage{Kind: queue.TaskDispatch, NotificationID: "n-1"}); err != nil {
					return err
				}
			}
			<-ctx.Done()
			return nil
		},
	}
	processor := &fakeProcessor{}
	pool, err := NewPool(consumer, processor, 1, zap.NewNop())
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Start(ctx) }()

	deadline := time.After(time.Second)
	for len(processor.processed()) == 0 {
		select {
		case <-deadline:
			t.Fatal("processor never received the message")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	got := processor.processed()
	if len(got) != 1 || got[0].NotificationID != "n-1" {
		t.Fatalf("processed = %v, want one message for n-1", got)
	}
}

func TestPoolPropagatesConsumerFailure(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("channel closed")
	consumer := &fakeConsumer{
		consumeF: func(ctx context.Context, queueName string, handler queue.MessageHandler) error {
			if queueName == "notify.normal" {
				return wantErr
			}
			<-ctx.Done()
			return nil
		},
	}
	pool, err := NewPool(consumer, &fakeProcessor{}, 3, zap.NewNop())
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}

	if err := pool.Start(context.Background()); !errors.Is(err, wantErr) {
		t.Fatalf("Start() error = %v, want %v", err, wantErr)
	}
}

func TestPoolConcurrencyFloor(t *testing.T) {
	t.Parallel()

	consumer := &fakeConsumer{}
	pool, err := NewPool(consumer, &fakeProcessor{}, 0, zap.NewNop())
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Start(ctx) }()

	deadline := time.After(time.Second)
	for len(consumer.consumed()) == 0 {
		select {
		case <-deadline:
			t.Fatal("no consumer started")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	got := consumer.consumed()
	sort.Strings(got)
	if len(got) != 1 || got[0] != "notify.high" {
		t.Fatalf("consumed queues = %v, want exactly [notify.high]", got)
	}
}
