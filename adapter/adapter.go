// Package adapter defines the boundary contracts between the routing core and
// protocol-specific adapters. Concrete implementations (channel, kafka, nats,
// rabbitmq, http) live in sub-packages and register themselves with the
// builder registry; the core only ever sees descriptors and the interfaces
// declared here.
package adapter

import (
	"context"
	"fmt"

	"github.com/drblury/hexroute/envelope"
)

// Direction declares which side of the pipeline an adapter serves.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Descriptor declares one adapter instance: a unique name, a direction, an
// implementation reference resolved against the builder registry, free-form
// configuration, and declared capabilities.
type Descriptor struct {
	Name         string         `json:"name"`
	Direction    Direction      `json:"direction"`
	Impl         string         `json:"impl"`
	Config       map[string]any `json:"config,omitempty"`
	Capabilities []string       `json:"capabilities,omitempty"`
}

// DispatchFunc is the runtime entrypoint handed to inbound adapters. Every
// received message must go through it; adapters never call handlers directly.
type DispatchFunc func(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error)

// Inbound adapters translate wire messages into envelopes and feed them to the
// runtime via the dispatch function. Run blocks until the context is cancelled
// or the underlying transport fails.
type Inbound interface {
	Run(ctx context.Context, dispatch DispatchFunc) error
	Close() error
}

// Outbound adapters consume envelopes produced by the runtime and push them
// onto the wire. A returned error is treated as a NACK for that delivery.
type Outbound interface {
	Send(ctx context.Context, env *envelope.Envelope) error
	Close() error
}

// Instance pairs a descriptor with the constructed adapter. Exactly one of
// Inbound/Outbound is set, matching the descriptor's direction.
type Instance struct {
	Descriptor Descriptor
	Inbound    Inbound
	Outbound   Outbound
}

// Valid reports whether the instance's populated side matches its direction.
func (i Instance) Valid() bool {
	switch i.Descriptor.Direction {
	case DirectionInbound:
		return i.Inbound != nil && i.Outbound == nil
	case DirectionOutbound:
		return i.Outbound != nil && i.Inbound == nil
	default:
		return false
	}
}

// Close tears down whichever side the instance holds.
func (i Instance) Close() error {
	if i.Inbound != nil {
		return i.Inbound.Close()
	}
	if i.Outbound != nil {
		return i.Outbound.Close()
	}
	return nil
}

// StringConfig reads a string value from a descriptor's config map.
func StringConfig(desc Descriptor, key string) string {
	if desc.Config == nil {
		return ""
	}
	if v, ok := desc.Config[key].(string); ok {
		return v
	}
	return ""
}

// StringsConfig reads a string slice from a descriptor's config map. Both
// []string and []any of strings are accepted, matching what generic config
// loaders produce.
func StringsConfig(desc Descriptor, key string) []string {
	if desc.Config == nil {
		return nil
	}
	switch v := desc.Config[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// RequireStringConfig reads a string value and errors when it is missing.
func RequireStringConfig(desc Descriptor, key string) (string, error) {
	v := StringConfig(desc, key)
	if v == "" {
		return "", fmt.Errorf("adapter %q: config key %q is required", desc.Name, key)
	}
	return v, nil
}
