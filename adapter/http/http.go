// Package http provides an HTTP adapter for hexroute. Inbound instances run a
// small HTTP server that turns POSTed requests into envelopes; outbound
// instances POST envelopes to a base URL.
package http

import (
	"context"
	"fmt"
	nethttp "net/http"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/hexroute/adapter"
)

// ImplName is the implementation reference used in descriptors.
const ImplName = "http"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(config http.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return http.NewPublisher(config, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(addr string, config http.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return http.NewSubscriber(addr, config, logger)
}

func init() {
	adapter.RegisterWithCapabilities(ImplName, Build, adapter.HTTPCapabilities)
}

// Build creates a new HTTP adapter instance for the descriptor's direction.
// Config keys: outbound "base_url" + "topic"; inbound "listen" + "topic"
// (the URL path messages arrive on) + optional "port".
func Build(ctx context.Context, desc adapter.Descriptor, logger watermill.LoggerAdapter) (adapter.Instance, error) {
	topic, err := adapter.RequireStringConfig(desc, "topic")
	if err != nil {
		return adapter.Instance{}, err
	}

	switch desc.Direction {
	case adapter.DirectionOutbound:
		baseURL, err := adapter.RequireStringConfig(desc, "base_url")
		if err != nil {
			return adapter.Instance{}, err
		}
		publisher, err := PublisherFactory(
			http.PublisherConfig{
				MarshalMessageFunc: func(topic string, msg *message.Message) (*nethttp.Request, error) {
					url := baseURL + topic
					return http.DefaultMarshalMessageFunc(url, msg)
				},
			},
			logger,
		)
		if err != nil {
			return adapter.Instance{}, err
		}
		return adapter.Instance{Outbound: adapter.NewWatermillOutbound(topic, publisher)}, nil

	case adapter.DirectionInbound:
		listen, err := adapter.RequireStringConfig(desc, "listen")
		if err != nil {
			return adapter.Instance{}, err
		}
		subscriber, err := SubscriberFactory(
			listen,
			http.SubscriberConfig{
				UnmarshalMessageFunc: http.DefaultUnmarshalMessageFunc,
			},
			logger,
		)
		if err != nil {
			return adapter.Instance{}, err
		}

		// The server starts once the runtime begins consuming the topic.
		go func() {
			if s, ok := subscriber.(*http.Subscriber); ok {
				if err := s.StartHTTPServer(); err != nil {
					logger.Error("Failed to start HTTP inbound server", err, nil)
				}
			}
		}()

		portName := adapter.StringConfig(desc, "port")
		if portName == "" {
			portName = desc.Name
		}
		return adapter.Instance{Inbound: adapter.NewWatermillInbound(portName, topic, subscriber)}, nil

	default:
		return adapter.Instance{}, fmt.Errorf("http adapter: unknown direction %q", desc.Direction)
	}
}

// Capabilities returns the capabilities of this adapter implementation.
func Capabilities() adapter.Capabilities {
	return adapter.HTTPCapabilities
}
