package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"ledger-saga/internal/retry"
	"ledger-saga/internal/util"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const maxReconnectBackoff = 30 * time.Second

// ErrPublishNacked is returned when the broker refuses a published message
var ErrPublishNacked = errors.New("publish not confirmed by broker")

// AMQPChannel is the subset of channel operations used to declare topology
type AMQPChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// Topology names the exchanges and queue a subscriber consumes from
type Topology struct {
	Exchange    string
	DLXExchange string
	DLQName     string
	Queue       string
	RoutingKey  string
}

// DeclareTopology declares the topic exchange, the fan-out dead-letter
// exchange with its queue, and the work queue dead-lettering into it.
func DeclareTopology(ch AMQPChannel, t Topology) error {
	if err := ch.ExchangeDeclare(t.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", t.Exchange, err)
	}

	if err := ch.ExchangeDeclare(t.DLXExchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dead-letter exchange %s: %w", t.DLXExchange, err)
	}

	if _, err := ch.QueueDeclare(t.DLQName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dead-letter queue %s: %w", t.DLQName, err)
	}

	if err := ch.QueueBind(t.DLQName, "", t.DLXExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind dead-letter queue %s: %w", t.DLQName, err)
	}

	args := amqp.Table{"x-dead-letter-exchange": t.DLXExchange}
	if _, err := ch.QueueDeclare(t.Queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", t.Queue, err)
	}

	if err := ch.QueueBind(t.Queue, t.RoutingKey, t.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", t.Queue, err)
	}

	return nil
}

// AMQPPublisherConfig configures an AMQPPublisher
type AMQPPublisherConfig struct {
	URL             string
	Exchange        string
	ConnectAttempts int
	ConnectBackoff  time.Duration
}

// AMQPPublisher publishes persistent messages with publisher confirms. The
// connection is opened lazily and re-opened after the channel closes.
type AMQPPublisher struct {
	cfg    AMQPPublisherConfig
	logger *zap.Logger

	mu     sync.Mutex
	conn   *amqp.Connection
	ch     *amqp.Channel
	closed bool
}

// NewAMQPPublisher creates a new RabbitMQ publisher
func NewAMQPPublisher(cfg AMQPPublisherConfig) *AMQPPublisher {
	return &AMQPPublisher{
		cfg:    cfg,
		logger: util.GetLogger().With(zap.String("component", "amqp_publisher")),
	}
}

func (p *AMQPPublisher) connect(ctx context.Context) error {
	policy := retry.Policy{MaxAttempts: p.cfg.ConnectAttempts, Backoff: p.cfg.ConnectBackoff}

	return policy.Do(ctx, func(ctx context.Context) error {
		util.BrokerReconnectsTotal.WithLabelValues("publisher").Inc()

		conn, err := amqp.Dial(p.cfg.URL)
		if err != nil {
			p.logger.Warn("Failed to connect to RabbitMQ", zap.Error(err))
			return fmt.Errorf("failed to dial rabbitmq: %w", err)
		}

		ch, err := conn.Channel()
		if err != nil {
			conn.Close()
			return fmt.Errorf("failed to open channel: %w", err)
		}

		if err := ch.Confirm(false); err != nil {
			conn.Close()
			return fmt.Errorf("failed to enable publisher confirms: %w", err)
		}

		if err := ch.ExchangeDeclare(p.cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
			conn.Close()
			return fmt.Errorf("failed to declare exchange %s: %w", p.cfg.Exchange, err)
		}

		p.conn, p.ch = conn, ch
		p.logger.Info("Connected to RabbitMQ", zap.String("exchange", p.cfg.Exchange))
		return nil
	})
}

// Publish sends msg to the exchange with routing key msg.Topic and waits for
// the broker to confirm it
func (p *AMQPPublisher) Publish(ctx context.Context, msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}

	if p.ch == nil || p.ch.IsClosed() {
		p.reset()
		if err := p.connect(ctx); err != nil {
			return err
		}
	}

	dc, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, p.cfg.Exchange, msg.Topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Timestamp:    time.Now(),
		Headers:      amqp.Table{HeaderMessageID: msg.ID},
		Body:         msg.Body,
	})
	if err != nil {
		p.reset()
		return fmt.Errorf("failed to publish message %s: %w", msg.ID, err)
	}

	acked, err := dc.WaitContext(ctx)
	if err != nil {
		p.reset()
		return fmt.Errorf("failed to confirm message %s: %w", msg.ID, err)
	}
	if !acked {
		return fmt.Errorf("message %s: %w", msg.ID, ErrPublishNacked)
	}

	return nil
}

func (p *AMQPPublisher) reset() {
	if p.conn != nil {
		p.conn.Close()
	}
	p.conn, p.ch = nil, nil
}

// Close closes the connection
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	p.reset()
	return nil
}

// AMQPSubscriberConfig configures an AMQPSubscriber
type AMQPSubscriberConfig struct {
	URL            string
	Topology       Topology
	Prefetch       int
	ConnectBackoff time.Duration
}

// AMQPSubscriber consumes one queue with manual acknowledgement and
// reconnects with jittered exponential backoff when the connection drops.
type AMQPSubscriber struct {
	cfg    AMQPSubscriberConfig
	logger *zap.Logger

	mu   sync.Mutex
	conn io.Closer
}

// NewAMQPSubscriber creates a new RabbitMQ subscriber
func NewAMQPSubscriber(cfg AMQPSubscriberConfig) *AMQPSubscriber {
	return &AMQPSubscriber{
		cfg: cfg,
		logger: util.GetLogger().With(
			zap.String("component", "amqp_subscriber"),
			zap.String("queue", cfg.Topology.Queue)),
	}
}

// Consume delivers messages to handle one at a time until ctx is done
func (s *AMQPSubscriber) Consume(ctx context.Context, handle Handler) error {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		deliveries, closed, err := s.open()
		if err != nil {
			delay := retry.FullJitter(retry.Exponential(s.cfg.ConnectBackoff, attempt))
			if delay > maxReconnectBackoff {
				delay = maxReconnectBackoff
			}
			s.logger.Error("Failed to start consuming, retrying",
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(err))
			attempt++
			if retry.Sleep(ctx, delay) != nil {
				return nil
			}
			continue
		}

		attempt = 0
		s.logger.Info("Consuming queue")

		if done := s.drain(ctx, deliveries, closed, handle); done {
			s.closeConn()
			return nil
		}
		s.logger.Warn("Connection lost, reconnecting")
	}
}

func (s *AMQPSubscriber) drain(ctx context.Context, deliveries <-chan amqp.Delivery, closed <-chan *amqp.Error, handle Handler) bool {
	for {
		select {
		case <-ctx.Done():
			return true
		case amqpErr := <-closed:
			if amqpErr != nil {
				s.logger.Warn("Channel closed", zap.String("reason", amqpErr.Reason))
			}
			return false
		case d, ok := <-deliveries:
			if !ok {
				return false
			}
			handle(ctx, &amqpDelivery{d: d})
		}
	}
}

func (s *AMQPSubscriber) open() (<-chan amqp.Delivery, <-chan *amqp.Error, error) {
	// a closed channel can leave its connection open
	s.closeConn()
	util.BrokerReconnectsTotal.WithLabelValues("subscriber").Inc()

	conn, err := amqp.Dial(s.cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := DeclareTopology(ch, s.cfg.Topology); err != nil {
		conn.Close()
		return nil, nil, err
	}

	if err := ch.Qos(s.cfg.Prefetch, 0, false); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to set prefetch: %w", err)
	}

	deliveries, err := ch.Consume(s.cfg.Topology.Queue, "", false, false, false, false, nil)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to consume %s: %w", s.cfg.Topology.Queue, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	return deliveries, ch.NotifyClose(make(chan *amqp.Error, 1)), nil
}

func (s *AMQPSubscriber) closeConn() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

// Close closes the connection
func (s *AMQPSubscriber) Close() error {
	s.closeConn()
	return nil
}

type amqpDelivery struct {
	d amqp.Delivery
}

func (a *amqpDelivery) MessageID() string {
	if v, ok := a.d.Headers[HeaderMessageID].(string); ok {
		return v
	}
	return a.d.MessageId
}

func (a *amqpDelivery) Topic() string     { return a.d.RoutingKey }
func (a *amqpDelivery) Body() []byte      { return a.d.Body }
func (a *amqpDelivery) Redelivered() bool { return a.d.Redelivered }
func (a *amqpDelivery) Ack() error        { return a.d.Ack(false) }
func (a *amqpDelivery) Reject() error     { return a.d.Reject(false) }
func (a *amqpDelivery) Requeue() error    { return a.d.Nack(false, true) }
