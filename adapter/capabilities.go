package adapter

// Capability names accepted in a descriptor's capability set.
const (
	CapabilityOrdered      = "ordered"
	CapabilityStreaming    = "streaming"
	CapabilityAck          = "ack"
	CapabilityNack         = "nack"
	CapabilityDelay        = "delay"
	CapabilityDLQ          = "dlq"
	CapabilityBatching     = "batching"
	CapabilityPriority     = "priority"
	CapabilityPartitioning = "partitioning"
	CapabilityTracing      = "tracing"
)

// Capabilities describes the features supported by an adapter implementation.
// Use this to introspect what operations are available at runtime, for example
// when the pipeline selects broadcast targets by capability.
type Capabilities struct {
	// Name is the human-readable name of the implementation.
	Name string

	// SupportsOrdering indicates messages within a stream keep their order.
	SupportsOrdering bool

	// SupportsStreaming indicates a long-lived inbound stream rather than
	// request/response exchanges.
	SupportsStreaming bool

	// SupportsAck indicates explicit message acknowledgment.
	SupportsAck bool

	// SupportsNack indicates negative acknowledgment (redelivery).
	SupportsNack bool

	// SupportsDelay indicates native delayed delivery.
	SupportsDelay bool

	// SupportsNativeDLQ indicates built-in dead letter queue support.
	SupportsNativeDLQ bool

	// SupportsBatching indicates the wire protocol can batch messages.
	SupportsBatching bool

	// SupportsPriority indicates message priority queues.
	SupportsPriority bool

	// SupportsPartitioning indicates message partitioning.
	SupportsPartitioning bool

	// SupportsTracing indicates tracing headers propagate natively.
	SupportsTracing bool

	// MaxMessageSize is the maximum message size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64
}

// SupportsReliableDelivery reports at-least-once semantics (ack + nack).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// Has reports whether the named capability is supported.
func (c Capabilities) Has(name string) bool {
	switch name {
	case CapabilityOrdered:
		return c.SupportsOrdering
	case CapabilityStreaming:
		return c.SupportsStreaming
	case CapabilityAck:
		return c.SupportsAck
	case CapabilityNack:
		return c.SupportsNack
	case CapabilityDelay:
		return c.SupportsDelay
	case CapabilityDLQ:
		return c.SupportsNativeDLQ
	case CapabilityBatching:
		return c.SupportsBatching
	case CapabilityPriority:
		return c.SupportsPriority
	case CapabilityPartitioning:
		return c.SupportsPartitioning
	case CapabilityTracing:
		return c.SupportsTracing
	default:
		return false
	}
}

// Set returns the capability names supported by c, suitable for a descriptor's
// declared capability list.
func (c Capabilities) Set() []string {
	all := []string{
		CapabilityOrdered, CapabilityStreaming, CapabilityAck, CapabilityNack,
		CapabilityDelay, CapabilityDLQ, CapabilityBatching, CapabilityPriority,
		CapabilityPartitioning, CapabilityTracing,
	}
	out := make([]string, 0, len(all))
	for _, name := range all {
		if c.Has(name) {
			out = append(out, name)
		}
	}
	return out
}

// Predefined capability sets for the bundled adapter implementations.
var (
	// ChannelCapabilities for the in-memory Go channel adapter.
	ChannelCapabilities = Capabilities{
		Name:              "channel",
		SupportsOrdering:  true,
		SupportsStreaming: true,
		SupportsAck:       true,
		SupportsNack:      true,
	}

	// KafkaCapabilities for the Apache Kafka adapter.
	KafkaCapabilities = Capabilities{
		Name:                 "kafka",
		SupportsOrdering:     true,
		SupportsStreaming:    true,
		SupportsAck:          true,
		SupportsBatching:     true,
		SupportsPartitioning: true,
		SupportsTracing:      true,
		MaxMessageSize:       1048576, // Default 1MB
	}

	// NATSCapabilities for the NATS Core adapter.
	NATSCapabilities = Capabilities{
		Name:              "nats",
		SupportsStreaming: true,
		SupportsTracing:   true,
		MaxMessageSize:    1048576,
	}

	// RabbitMQCapabilities for the RabbitMQ/AMQP adapter.
	RabbitMQCapabilities = Capabilities{
		Name:              "rabbitmq",
		SupportsOrdering:  true,
		SupportsStreaming: true,
		SupportsAck:       true,
		SupportsNack:      true,
		SupportsDelay:     true,
		SupportsNativeDLQ: true,
		SupportsPriority:  true,
		SupportsTracing:   true,
	}

	// HTTPCapabilities for the HTTP adapter.
	HTTPCapabilities = Capabilities{
		Name:            "http",
		SupportsTracing: true,
	}
)
