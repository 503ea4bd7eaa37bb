package broker

import (
	"context"
	"sync"
)

const memoryQueueSize = 1024

// MemoryBroker routes messages to in-process queues by exact topic match.
// Unroutable messages are dropped, rejected messages are kept per queue as
// dead letters.
type MemoryBroker struct {
	mu        sync.Mutex
	queues    map[string]chan *memoryDelivery
	bindings  map[string][]string
	published []Message
	dead      map[string][]Message
	acked     map[string]int

	// FailPublish, when set, is consulted before every publish.
	FailPublish func(Message) error
}

var _ Publisher = (*MemoryBroker)(nil)

// NewMemoryBroker creates an empty in-memory broker
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		queues:   make(map[string]chan *memoryDelivery),
		bindings: make(map[string][]string),
		dead:     make(map[string][]Message),
		acked:    make(map[string]int),
	}
}

// Bind declares queue and routes topic to it
func (b *MemoryBroker) Bind(queue, topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.queues[queue]; !ok {
		b.queues[queue] = make(chan *memoryDelivery, memoryQueueSize)
	}
	b.bindings[topic] = append(b.bindings[topic], queue)
}

// Publish routes msg to every queue bound to its topic
func (b *MemoryBroker) Publish(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.FailPublish != nil {
		if err := b.FailPublish(msg); err != nil {
			return err
		}
	}

	b.published = append(b.published, msg)
	for _, queue := range b.bindings[msg.Topic] {
		b.enqueue(queue, &memoryDelivery{broker: b, queue: queue, msg: msg})
	}
	return nil
}

func (b *MemoryBroker) enqueue(queue string, d *memoryDelivery) {
	ch := b.queues[queue]
	select {
	case ch <- d:
	default:
		go func() { ch <- d }()
	}
}

// Published returns every message accepted so far
func (b *MemoryBroker) Published() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Message(nil), b.published...)
}

// DeadLetters returns the messages rejected from queue
func (b *MemoryBroker) DeadLetters(queue string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Message(nil), b.dead[queue]...)
}

// Acked returns the number of acknowledged deliveries on queue
func (b *MemoryBroker) Acked(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.acked[queue]
}

// Subscriber returns a subscriber for a bound queue
func (b *MemoryBroker) Subscriber(queue string) Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.queues[queue]; !ok {
		b.queues[queue] = make(chan *memoryDelivery, memoryQueueSize)
	}
	return &memorySubscriber{deliveries: b.queues[queue]}
}

// Close is a no-op
func (b *MemoryBroker) Close() error {
	return nil
}

type memorySubscriber struct {
	deliveries chan *memoryDelivery
}

func (s *memorySubscriber) Consume(ctx context.Context, handle Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d := <-s.deliveries:
			handle(ctx, d)
		}
	}
}

func (s *memorySubscriber) Close() error {
	return nil
}

type memoryDelivery struct {
	broker      *MemoryBroker
	queue       string
	msg         Message
	redelivered bool
}

func (d *memoryDelivery) MessageID() string { return d.msg.ID }
func (d *memoryDelivery) Topic() string     { return d.msg.Topic }
func (d *memoryDelivery) Body() []byte      { return d.msg.Body }
func (d *memoryDelivery) Redelivered() bool { return d.redelivered }

func (d *memoryDelivery) Ack() error {
	d.broker.mu.Lock()
	defer d.broker.mu.Unlock()
	d.broker.acked[d.queue]++
	return nil
}

func (d *memoryDelivery) Reject() error {
	d.broker.mu.Lock()
	defer d.broker.mu.Unlock()
	d.broker.dead[d.queue] = append(d.broker.dead[d.queue], d.msg)
	return nil
}

func (d *memoryDelivery) Requeue() error {
	d.broker.mu.Lock()
	defer d.broker.mu.Unlock()
	d.broker.enqueue(d.queue, &memoryDelivery{broker: d.broker, queue: d.queue, msg: d.msg, redelivered: true})
	return nil
}
