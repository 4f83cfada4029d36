// Package nats provides a NATS Core adapter for hexroute.
package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/drblury/hexroute/adapter"
)

// ImplName is the implementation reference used in descriptors.
const ImplName = "nats"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return nats.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return nats.NewSubscriber(cfg, logger)
}

// Register registers the NATS adapter with the default registry. Call from an
// init() function in an importing package, or explicitly before use.
func Register() {
	adapter.RegisterWithCapabilities(ImplName, Build, adapter.NATSCapabilities)
}

// Build creates a new NATS adapter instance for the descriptor's direction.
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
	marshaler := &nats.NATSMarshaler{}
	connOptions := []natsgo.Option{
		natsgo.Name(desc.Name),
		natsgo.RetryOnFailedConnect(true),
		natsgo.ReconnectWait(time.Second),
	}

	switch desc.Direction {
	case adapter.DirectionOutbound:
		publisher, err := PublisherFactory(
			nats.PublisherConfig{
				URL:         url,
				NatsOptions: connOptions,
				Marshaler:   marshaler,
			},
			logger,
		)
		if err != nil {
			return adapter.Instance{}, err
		}
		return adapter.Instance{Outbound: adapter.NewWatermillOutbound(topic, publisher)}, nil

	case adapter.DirectionInbound:
		subscriber, err := SubscriberFactory(
			nats.SubscriberConfig{
				URL:         url,
				NatsOptions: connOptions,
				Unmarshaler: marshaler,
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
		return adapter.Instance{}, fmt.Errorf("nats adapter: unknown direction %q", desc.Direction)
	}
}

// Capabilities returns the capabilities of this adapter implementation.
func Capabilities() adapter.Capabilities {
	return adapter.NATSCapabilities
}
