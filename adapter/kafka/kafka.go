// Package kafka provides an Apache Kafka adapter for hexroute.
package kafka

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/hexroute/adapter"
)

// ImplName is the implementation reference used in descriptors.
const ImplName = "kafka"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return kafka.NewSubscriber(cfg, logger)
}

func init() {
	adapter.RegisterWithCapabilities(ImplName, Build, adapter.KafkaCapabilities)
}

// Build creates a new Kafka adapter instance for the descriptor's direction.
// Config keys: "brokers" (required), "topic" (required), "consumer_group"
// (inbound only), "port" (inbound port binding, defaults to the adapter name).
func Build(ctx context.Context, desc adapter.Descriptor, logger watermill.LoggerAdapter) (adapter.Instance, error) {
	brokers := adapter.StringsConfig(desc, "brokers")
	if len(brokers) == 0 {
		return adapter.Instance{}, fmt.Errorf("kafka adapter %q: config key \"brokers\" is required", desc.Name)
	}
	topic, err := adapter.RequireStringConfig(desc, "topic")
	if err != nil {
		return adapter.Instance{}, err
	}

	switch desc.Direction {
	case adapter.DirectionOutbound:
		publisher, err := PublisherFactory(
			kafka.PublisherConfig{
				Brokers:   brokers,
				Marshaler: kafka.DefaultMarshaler{},
			},
			logger,
		)
		if err != nil {
			return adapter.Instance{}, err
		}
		return adapter.Instance{Outbound: adapter.NewWatermillOutbound(topic, publisher)}, nil

	case adapter.DirectionInbound:
		subscriber, err := SubscriberFactory(
			kafka.SubscriberConfig{
				Brokers:       brokers,
				Unmarshaler:   kafka.DefaultMarshaler{},
				ConsumerGroup: adapter.StringConfig(desc, "consumer_group"),
			},
			logger,
		)
		if err != nil {
			return adapter.Instance{}, err
		}
		portName := adapter.StringConfig(desc, "port")
		if portName == "" {
			portName = desc.Name
		}
		return adapter.Instance{Inbound: adapter.NewWatermillInbound(portName, topic, subscriber)}, nil

	default:
		return adapter.Instance{}, fmt.Errorf("kafka adapter: unknown direction %q", desc.Direction)
	}
}

// Capabilities returns the capabilities of this adapter implementation.
func Capabilities() adapter.Capabilities {
	return adapter.KafkaCapabilities
}
