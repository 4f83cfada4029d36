// Package channel provides an in-memory Go channel adapter for hexroute.
// This adapter is useful for testing and local development. Instances sharing
// the same "bus" config value publish and subscribe through the same broker.
package channel

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/hexroute/adapter"
)

// ImplName is the implementation reference used in descriptors.
const ImplName = "channel"

var (
	busMu sync.Mutex
	buses = map[string]*gochannel.GoChannel{}
)

// Factory allows overriding the channel creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) *gochannel.GoChannel {
	return gochannel.NewGoChannel(cfg, logger)
}

func init() {
	adapter.RegisterWithCapabilities(ImplName, Build, adapter.ChannelCapabilities)
}

func sharedBus(name string, logger watermill.LoggerAdapter) *gochannel.GoChannel {
	busMu.Lock()
	defer busMu.Unlock()

	if existing, ok := buses[name]; ok {
		return existing
	}
	bus := Factory(gochannel.Config{}, logger)
	buses[name] = bus
	return bus
}

// ResetBuses drops all shared buses. Intended for tests.
func ResetBuses() {
	busMu.Lock()
	defer busMu.Unlock()
	buses = map[string]*gochannel.GoChannel{}
}

// Build creates a new channel adapter instance for the descriptor's direction.
func Build(ctx context.Context, desc adapter.Descriptor, logger watermill.LoggerAdapter) (adapter.Instance, error) {
	topic, err := adapter.RequireStringConfig(desc, "topic")
	if err != nil {
		return adapter.Instance{}, err
	}

	busName := adapter.StringConfig(desc, "bus")
	if busName == "" {
		busName = "default"
	}
	bus := sharedBus(busName, logger)

	switch desc.Direction {
	case adapter.DirectionInbound:
		portName := adapter.StringConfig(desc, "port")
		if portName == "" {
			portName = desc.Name
		}
		return adapter.Instance{Inbound: adapter.NewWatermillInbound(portName, topic, nopCloseSubscriber{bus})}, nil
	case adapter.DirectionOutbound:
		return adapter.Instance{Outbound: adapter.NewWatermillOutbound(topic, nopClosePublisher{bus})}, nil
	default:
		return adapter.Instance{}, fmt.Errorf("channel adapter: unknown direction %q", desc.Direction)
	}
}

// Capabilities returns the capabilities of this adapter implementation.
func Capabilities() adapter.Capabilities {
	return adapter.ChannelCapabilities
}

// The shared bus outlives any single instance, so per-instance Close must not
// tear it down.
type nopCloseSubscriber struct {
	*gochannel.GoChannel
}

func (nopCloseSubscriber) Close() error { return nil }

type nopClosePublisher struct {
	*gochannel.GoChannel
}

func (nopClosePublisher) Close() error { return nil }
