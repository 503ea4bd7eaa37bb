package broker

import (
	"context"
	"fmt"
	"time"

	"ledger-saga/internal/retry"
	"ledger-saga/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Kafka headers beyond the message id
const (
	HeaderRedelivered   = "x-redelivered"
	HeaderOriginalTopic = "x-original-topic"
)

func newWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.LeastBytes{},
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            3,
		WriteTimeout:           10 * time.Second,
		ReadTimeout:            10 * time.Second,
		AllowAutoTopicCreation: true,
	}
}

// KafkaPublisher publishes each message to the topic named by its routing key
type KafkaPublisher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewKafkaPublisher creates a new Kafka producer
func NewKafkaPublisher(brokers []string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: newWriter(brokers),
		logger: util.GetLogger().With(zap.String("component", "kafka_publisher")),
	}
}

// Publish writes msg and waits for all in-sync replicas
func (p *KafkaPublisher) Publish(ctx context.Context, msg Message) error {
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   msg.Topic,
		Key:     []byte(msg.ID),
		Value:   msg.Body,
		Time:    time.Now(),
		Headers: []kafka.Header{{Key: HeaderMessageID, Value: []byte(msg.ID)}},
	})
	if err != nil {
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}

	p.logger.Debug("Published message", zap.String("message_id", msg.ID), zap.String("topic", msg.Topic))
	return nil
}

// Close closes the producer
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// KafkaSubscriberConfig configures a KafkaSubscriber
type KafkaSubscriberConfig struct {
	Brokers  []string
	GroupID  string
	Topic    string
	DLQTopic string
}

type kafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// forwardPolicy bounds how long a dead-letter or requeue write is retried
// before the consumer gives up on the partition
var forwardPolicy = retry.Policy{
	MaxAttempts: 8,
	Backoff:     250 * time.Millisecond,
	Exponential: true,
}

// KafkaSubscriber consumes one topic in a consumer group. Offsets are
// committed only after the handler settles a message. Rejected messages are
// copied to the DLQ topic and requeued messages are re-published to the
// source topic flagged as redelivered. A message whose copy cannot be written
// stops Consume with an error before any later offset is committed, so the
// group re-reads it after a restart.
type KafkaSubscriber struct {
	cfg     KafkaSubscriberConfig
	reader  kafkaReader
	writer  kafkaWriter
	forward retry.Policy
	logger  *zap.Logger
}

// NewKafkaSubscriber creates a new Kafka consumer
func NewKafkaSubscriber(cfg KafkaSubscriberConfig) *KafkaSubscriber {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		GroupTopics: []string{cfg.Topic},
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})

	return &KafkaSubscriber{
		cfg:     cfg,
		reader:  reader,
		writer:  newWriter(cfg.Brokers),
		forward: forwardPolicy,
		logger: util.GetLogger().With(
			zap.String("component", "kafka_subscriber"),
			zap.String("topic", cfg.Topic)),
	}
}

// Consume fetches messages one at a time until ctx is done
func (s *KafkaSubscriber) Consume(ctx context.Context, handle Handler) error {
	s.logger.Info("Starting Kafka consumer", zap.String("group", s.cfg.GroupID))

	for {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Info("Consumer context cancelled, stopping")
				return nil
			}
			s.logger.Error("Error fetching message", zap.Error(err))
			if !sleepCtx(ctx, time.Second) {
				return nil
			}
			continue
		}

		d := &kafkaDelivery{
			ctx:      context.WithoutCancel(ctx),
			retryCtx: ctx,
			sub:      s,
			msg:      msg,
		}
		handle(ctx, d)

		if d.unsettled != nil {
			s.logger.Error("Message left unsettled, stopping consumer",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(d.unsettled))
			return fmt.Errorf("message at %s/%d offset %d left unsettled: %w",
				msg.Topic, msg.Partition, msg.Offset, d.unsettled)
		}
	}
}

// Close closes the reader and the dead-letter writer
func (s *KafkaSubscriber) Close() error {
	rerr := s.reader.Close()
	werr := s.writer.Close()
	if rerr != nil {
		return rerr
	}
	return werr
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

type kafkaDelivery struct {
	ctx      context.Context
	retryCtx context.Context
	sub      *KafkaSubscriber
	msg      kafka.Message

	// set when the message could be neither committed nor copied elsewhere
	unsettled error
}

func (k *kafkaDelivery) header(key string) (string, bool) {
	for _, h := range k.msg.Headers {
		if h.Key == key {
			return string(h.Value), true
		}
	}
	return "", false
}

func (k *kafkaDelivery) MessageID() string {
	id, _ := k.header(HeaderMessageID)
	return id
}

func (k *kafkaDelivery) Topic() string { return k.msg.Topic }
func (k *kafkaDelivery) Body() []byte  { return k.msg.Value }

func (k *kafkaDelivery) Redelivered() bool {
	_, ok := k.header(HeaderRedelivered)
	return ok
}

func (k *kafkaDelivery) Ack() error {
	return k.sub.reader.CommitMessages(k.ctx, k.msg)
}

func (k *kafkaDelivery) Reject() error {
	headers := append(copyHeaders(k.msg.Headers),
		kafka.Header{Key: HeaderOriginalTopic, Value: []byte(k.msg.Topic)})
	if err := k.forward(k.sub.cfg.DLQTopic, headers); err != nil {
		k.unsettled = fmt.Errorf("failed to dead-letter message: %w", err)
		return k.unsettled
	}
	return k.Ack()
}

func (k *kafkaDelivery) Requeue() error {
	headers := copyHeaders(k.msg.Headers)
	if !k.Redelivered() {
		headers = append(headers, kafka.Header{Key: HeaderRedelivered, Value: []byte("true")})
	}
	if err := k.forward(k.msg.Topic, headers); err != nil {
		k.unsettled = fmt.Errorf("failed to requeue message: %w", err)
		return k.unsettled
	}
	return k.Ack()
}

func (k *kafkaDelivery) forward(topic string, headers []kafka.Header) error {
	msg := kafka.Message{
		Topic:   topic,
		Key:     k.msg.Key,
		Value:   k.msg.Value,
		Time:    time.Now(),
		Headers: headers,
	}
	return k.sub.forward.Do(k.retryCtx, func(ctx context.Context) error {
		if err := k.sub.writer.WriteMessages(ctx, msg); err != nil {
			k.sub.logger.Warn("Failed to forward message",
				zap.String("to", topic),
				zap.Int64("offset", k.msg.Offset),
				zap.Error(err))
			return err
		}
		return nil
	})
}

func copyHeaders(in []kafka.Header) []kafka.Header {
	out := make([]kafka.Header, len(in))
	copy(out, in)
	return out
}
