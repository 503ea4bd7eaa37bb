package app

import (
	"ledger-saga/config"
	"ledger-saga/internal/broker"
)

// Binding is the queue a service consumes and the routing key it is bound to
type Binding struct {
	Queue      string
	RoutingKey string
}

// NewPublisher builds the outbox publisher for the configured driver. AMQP
// publishing goes through a circuit breaker so an unreachable broker fails
// fast between reconnect attempts.
func NewPublisher(cfg *config.Config) broker.Publisher {
	if cfg.Broker.Driver == "kafka" {
		return broker.NewKafkaPublisher(cfg.Broker.KafkaBrokers)
	}

	pub := broker.NewAMQPPublisher(broker.AMQPPublisherConfig{
		URL:             cfg.Broker.AMQPURL,
		Exchange:        cfg.Broker.Exchange,
		ConnectAttempts: cfg.Broker.ConnectAttempts,
		ConnectBackoff:  cfg.Broker.ConnectBackoff,
	})
	return broker.NewBreakerPublisher(pub, broker.BreakerConfig{Name: cfg.ServiceName + "-publisher"})
}

// NewSubscriber builds the queue consumer for the configured driver
func NewSubscriber(cfg *config.Config, b Binding) broker.Subscriber {
	if cfg.Broker.Driver == "kafka" {
		return broker.NewKafkaSubscriber(broker.KafkaSubscriberConfig{
			Brokers:  cfg.Broker.KafkaBrokers,
			GroupID:  b.Queue,
			Topic:    b.RoutingKey,
			DLQTopic: cfg.Broker.KafkaDLQTopic,
		})
	}

	return broker.NewAMQPSubscriber(broker.AMQPSubscriberConfig{
		URL: cfg.Broker.AMQPURL,
		Topology: broker.Topology{
			Exchange:    cfg.Broker.Exchange,
			DLXExchange: cfg.Broker.DLXExchange,
			DLQName:     cfg.Broker.DLQName,
			Queue:       b.Queue,
			RoutingKey:  b.RoutingKey,
		},
		Prefetch:       cfg.Broker.Prefetch,
		ConnectBackoff: cfg.Broker.ConnectBackoff,
	})
}
