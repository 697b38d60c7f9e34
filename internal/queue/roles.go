package queue

import "mailroom/internal/record"

// Sink receives records delivered to a consumer. Output (logging,
// printing, forwarding) belongs to the collaborator behind it.
type Sink interface {
	Deliver(rec record.Record)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(rec record.Record)

func (fn SinkFunc) Deliver(rec record.Record) { fn(rec) }

// Producer publishes payloads into one queue.
type Producer struct {
	queue *Queue
}

func NewProducer(q *Queue) *Producer {
	return &Producer{queue: q}
}

// Publish builds a record from the payload and appends it. The built
// record is returned so callers can report its id and timestamp.
func (p *Producer) Publish(payload []byte, opts ...record.Option) (record.Record, error) {
	rec, err := record.New(payload, opts...)
	if err != nil {
		return record.Record{}, err
	}
	if err := p.queue.Append(rec); err != nil {
		return record.Record{}, err
	}
	return rec, nil
}

// Consumer pulls records from one queue and hands them to a sink.
type Consumer struct {
	queue *Queue
	sink  Sink
}

func NewConsumer(q *Queue, sink Sink) *Consumer {
	return &Consumer{queue: q, sink: sink}
}

// Consume takes the head record, delivers it to the sink and returns
// it. The second result is false when nothing is available.
func (c *Consumer) Consume() (record.Record, bool) {
	rec, ok := c.queue.TakeFirst()
	if !ok {
		return record.Record{}, false
	}
	if c.sink != nil {
		c.sink.Deliver(rec)
	}
	return rec, true
}
