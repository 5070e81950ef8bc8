package worker

import (
	"context"
	"fmt"

	"github.com/queueme/notification-engine/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minConcurrency = 1

// TaskProcessor handles one queued task. A nil return acks the message; an
// error nacks it for redelivery.
type TaskProcessor interface {
	Process(ctx context.Context, msg queue.TaskMessage) error
}

// Pool runs a fixed set of consumers over the priority work queues. Workers
// are assigned round-robin starting from the highest priority queue, so the
// high queue always gets at least as many consumers as the others.
type Pool struct {
	consumer    queue.Consumer
	processor   TaskProcessor
	logger      *zap.Logger
	concurrency int
}

func NewPool(consumer queue.Consumer, processor TaskProcessor, concurrency int, logger *zap.Logger) (*Pool, error) {
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if processor == nil {
		return nil, fmt.Errorf("task processor is required")
	}
	if concurrency < minConcurrency {
		concurrency = minConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Pool{
		consumer:    consumer,
		processor:   processor,
		logger:      logger,
		concurrency: concurrency,
	}, nil
}

// Start blocks consuming the work queues until the context is canceled or a
// consumer fails.
func (p *Pool) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	queueNames := queue.WorkQueueNames()
	if len(queueNames) == 0 {
		return fmt.Errorf("no work queues configured")
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < p.concurrency; i++ {
		queueName := queueNames[i%len(queueNames)]
		workerID := i + 1

		g.Go(func() error {
			p.logger.Info("worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)

			err := p.consumer.Consume(groupCtx, queueName, p.processor.Process)
			if err != nil {
				p.logger.Error("worker stopped with error",
					zap.Int("workerId", workerID),
					zap.String("queue", queueName),
					zap.Error(err),
				)
				return err
			}

			p.logger.Info("worker stopped",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)
			return nil
		})
	}

	return g.Wait()
}
