// Package hexroute is a protocol-agnostic routing runtime for hexagonal
// services. Business handlers see only envelopes; everything protocol-shaped
// lives in adapters that are declared by descriptor and resolved through a
// registry, so swapping Kafka for NATS or an in-memory channel is a wiring
// change, not a code change.
//
// The Runtime hosts two pipelines. Inbound envelopes arrive through adapter
// dispatch, pass the enrichment, tracing, logging, metrics, and validation
// stages, and reach the handler bound to their port, gated by per-port
// backpressure, retry, and timeout policies. Outbound envelopes are emitted
// through named ports and delivered along routes that pick targets by
// strategy: first, broadcast, or round_robin.
//
// # Adapters
//
// Five adapter implementations ship in the adapter sub-packages:
//   - channel: in-memory buses for tests and single-process wiring
//   - kafka: consumer groups and high-throughput streaming
//   - nats: subject-based messaging
//   - rabbitmq: AMQP durable queues
//   - http: webhook-style request delivery and ingestion
//
// Import an adapter package for its side effect to make the implementation
// name resolvable, then declare instances with RegisterAdapter.
//
// # Handlers
//
// Handlers are registered under stable string references and looked up by the
// loader, never constructed by adapters. BuildJSONHandler and
// BuildProtoHandler adapt typed business functions onto the uniform contract,
// including payload decoding and optional validation.
//
// # Observability
//
// Every envelope carries a trace id assigned exactly once at the edge and a
// span id rolled forward hop by hop. Prometheus counters and histograms,
// OpenTelemetry spans, and the read-only inspector API (adapters, ports,
// routes, recent envelopes) are all switched through Config.
//
// A minimal setup fills Config, creates a Runtime, registers adapters,
// handlers, ports, and routes, and calls Start. The examples directory has
// runnable wiring for the common cases.
package hexroute
