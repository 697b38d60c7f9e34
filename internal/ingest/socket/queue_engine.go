package socket

import (
	"context"
	"time"

	"mailroom/internal/queue"
	"mailroom/internal/record"
)

// QueueEngine exposes one shared in-process queue through the Engine
// contract. Context parameters are accepted for the interface shape;
// every queue operation completes in bounded time without blocking.
type QueueEngine struct {
	queue    *queue.Queue
	producer *queue.Producer
	consumer *queue.Consumer
}

func NewQueueEngine(q *queue.Queue) *QueueEngine {
	return &QueueEngine{queue: q, producer: queue.NewProducer(q), consumer: queue.NewConsumer(q, nil)}
}

func (e *QueueEngine) Publish(_ context.Context, payload []byte, opts ...record.Option) (record.Record, error) {
	return e.producer.Publish(payload, opts...)
}

func (e *QueueEngine) Consume(context.Context) (record.Record, bool) {
	return e.consumer.Consume()
}

func (e *QueueEngine) Replay(_ context.Context, startTime time.Time, startID string) []record.Record {
	return e.queue.Replay(startTime, startID)
}

func (e *QueueEngine) Depth(context.Context) (int, uint64, uint64) {
	s := e.queue.Stats()
	return s.Depth, s.Appended, s.Taken
}

func (e *QueueEngine) Health(context.Context) (bool, string) { return true, "ok" }
