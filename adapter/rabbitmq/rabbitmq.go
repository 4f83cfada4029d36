// Package rabbitmq provides a RabbitMQ/AMQP adapter for hexroute.
package rabbitmq

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/hexroute/adapter"
)

// ImplName is the implementation reference used in descriptors.
const ImplName = "rabbitmq"

// ConnectionFactory allows overriding the connection creation for testing.
var ConnectionFactory = func(cfg amqp.ConnectionConfig, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, error) {
	return amqp.NewConnection(cfg, logger)
}

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Publisher, error) {
	return amqp.NewPublisherWithConnection(cfg, logger, conn)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Subscriber, error) {
	return amqp.NewSubscriberWithConnection(cfg, logger, conn)
}

// Register registers the RabbitMQ adapter with the default registry. Call from
// an init() function in an importing package, or explicitly before use.
func Register() {
	adapter.RegisterWithCapabilities(ImplName, Build, adapter.RabbitMQCapabilities)
}

// Build creates a new RabbitMQ adapter instance for the descriptor's direction.
// Config keys: "url" (required), "topic" (required), "port" (inbound only).
func Build(ctx context.Context, desc adapter.Descriptor, logger watermill.LoggerAdapter) (adapter.Instance, error) {
	url, err := adapter.RequireStringConfig(desc, "url")
	if err != nil {
		return adapter.Instance{}, err
	}
	topic, err := adapter.RequireStringConfig(desc, "topic")
	if err != nil {
		return adapter.Instance{}, err
	}

	amqpConfig := amqp.NewDurablePubSubConfig(
		url,
		amqp.GenerateQueueNameTopicName,
	)

	conn, err := ConnectionFactory(amqp.ConnectionConfig{
		AmqpURI:   url,
		TLSConfig: nil,
		Reconnect: amqp.DefaultReconnectConfig(),
	}, logger)
	if err != nil {
		return adapter.Instance{}, err
	}

	switch desc.Direction {
	case adapter.DirectionOutbound:
		publisher, err := PublisherFactory(amqpConfig, logger, conn)
		if err != nil {
			return adapter.Instance{}, err
		}
		return adapter.Instance{Outbound: adapter.NewWatermillOutbound(topic, publisher)}, nil

	case adapter.DirectionInbound:
		subscriber, err := SubscriberFactory(amqpConfig, logger, conn)
		if err != nil {
			return adapter.Instance{}, err
		}
		portName := adapter.StringConfig(desc, "port")
		if portName == "" {
			portName = desc.Name
		}
		return adapter.Instance{Inbound: adapter.NewWatermillInbound(portName, topic, subscriber)}, nil

	default:
		return adapter.Instance{}, fmt.Errorf("rabbitmq adapter: unknown direction %q", desc.Direction)
	}
}

// Capabilities returns the capabilities of this adapter implementation.
func Capabilities() adapter.Capabilities {
	return adapter.RabbitMQCapabilities
}
