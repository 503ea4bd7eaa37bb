package broker

import (
	"context"
	"errors"
)

// HeaderMessageID carries the message identity used by consumer inboxes
const HeaderMessageID = "message_id"

// ErrClosed is returned when publishing on a closed publisher
var ErrClosed = errors.New("broker closed")

// Message is an outbound message routed by Topic
type Message struct {
	ID    string
	Topic string
	Body  []byte
}

// Delivery is one inbound message awaiting settlement. Exactly one of Ack,
// Reject or Requeue should be called.
type Delivery interface {
	MessageID() string
	Topic() string
	Body() []byte
	Redelivered() bool
	// Ack removes the message from the queue.
	Ack() error
	// Reject drops the message to the dead-letter destination.
	Reject() error
	// Requeue returns the message to the queue for another attempt.
	Requeue() error
}

// Handler processes one delivery and settles it
type Handler func(ctx context.Context, d Delivery)

// Publisher publishes messages to the broker
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Subscriber consumes one queue until ctx is done
type Subscriber interface {
	Consume(ctx context.Context, handle Handler) error
	Close() error
}
