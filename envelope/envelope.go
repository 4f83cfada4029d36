// Package envelope defines the protocol-neutral data record that flows
// through the hexroute pipeline. Adapters produce and consume envelopes;
// the routing core moves them around without ever inspecting the payload.
package envelope

import (
	"time"

	idspkg "github.com/drblury/hexroute/internal/runtime/ids"
)

// Direction marks which half of the pipeline an envelope belongs to.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Status reports whether an envelope carries a normal payload or a mapped failure.
type Status string

const (
	StatusNormal Status = "normal"
	StatusError  Status = "error"
)

// ErrorInfo is the structured failure descriptor attached to error envelopes.
// Adapters translate it to a wire-appropriate representation; raw error text
// never crosses the adapter boundary on its own.
type ErrorInfo struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// Headers carries protocol-neutral metadata alongside the payload.
type Headers map[string]string

func (h Headers) cloneWithExtra(extra int) Headers {
	size := len(h) + extra
	if size <= 0 {
		return Headers{}
	}

	cloned := make(Headers, size)
	for k, v := range h {
		cloned[k] = v
	}
	return cloned
}

// Clone returns a shallow copy of the headers map.
func (h Headers) Clone() Headers {
	return h.cloneWithExtra(0)
}

// Get returns the value for key, or "" when absent.
func (h Headers) Get(key string) string {
	return h[key]
}

// With returns a cloned headers map containing the provided key/value pair.
func (h Headers) With(key, value string) Headers {
	cloned := h.cloneWithExtra(1)
	cloned[key] = value
	return cloned
}

// WithAll returns a cloned headers map containing the supplied entries.
func (h Headers) WithAll(entries Headers) Headers {
	cloned := h.cloneWithExtra(len(entries))
	for k, v := range entries {
		cloned[k] = v
	}
	return cloned
}

// NewHeaders constructs a Headers map from alternating key/value pairs.
func NewHeaders(pairs ...string) Headers {
	hd := make(Headers, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		hd[pairs[i]] = pairs[i+1]
	}
	return hd
}

// Envelope is the single unit of data in motion. ID and TraceID are stable for
// the life of one logical message; every other field changes by producing a new
// value via the With* methods, never by mutating a shared one across a
// concurrency boundary.
type Envelope struct {
	ID           string    `json:"id"`
	TraceID      string    `json:"trace_id,omitempty"`
	SpanID       string    `json:"span_id,omitempty"`
	ParentSpanID string    `json:"parent_span_id,omitempty"`
	Direction    Direction `json:"direction"`
	PortName     string    `json:"port_name"`
	Headers      Headers   `json:"headers,omitempty"`
	Payload      any       `json:"payload,omitempty"`
	Status       Status    `json:"status"`
	Error        *ErrorInfo `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	Attempt      int       `json:"attempt"`
}

// New builds an envelope with a fresh ULID, the given port binding, and a
// normal status. Direction defaults to inbound; use NewOutbound for the
// emitting side.
func New(portName string, payload any) *Envelope {
	return &Envelope{
		ID:        idspkg.CreateULID(),
		Direction: DirectionInbound,
		PortName:  portName,
		Headers:   Headers{},
		Payload:   payload,
		Status:    StatusNormal,
		CreatedAt: time.Now().UTC(),
	}
}

// NewOutbound builds an outbound envelope bound to the named port.
func NewOutbound(portName string, payload any) *Envelope {
	env := New(portName, payload)
	env.Direction = DirectionOutbound
	return env
}

func (e *Envelope) clone() *Envelope {
	cloned := *e
	cloned.Headers = e.Headers.Clone()
	if e.Error != nil {
		errCopy := *e.Error
		cloned.Error = &errCopy
	}
	return &cloned
}

// WithPayload returns a copy carrying the new payload.
func (e *Envelope) WithPayload(payload any) *Envelope {
	cloned := e.clone()
	cloned.Payload = payload
	return cloned
}

// WithHeader returns a copy with one header added or replaced.
func (e *Envelope) WithHeader(key, value string) *Envelope {
	cloned := e.clone()
	cloned.Headers = e.Headers.With(key, value)
	return cloned
}

// WithHeaders returns a copy with the supplied entries merged in.
func (e *Envelope) WithHeaders(entries Headers) *Envelope {
	cloned := e.clone()
	cloned.Headers = e.Headers.WithAll(entries)
	return cloned
}

// WithPort returns a copy bound to a different logical port.
func (e *Envelope) WithPort(portName string) *Envelope {
	cloned := e.clone()
	cloned.PortName = portName
	return cloned
}

// WithDirection returns a copy flipped to the given direction.
func (e *Envelope) WithDirection(dir Direction) *Envelope {
	cloned := e.clone()
	cloned.Direction = dir
	return cloned
}

// WithTrace returns a copy with trace correlation set. Callers must only
// assign a trace to envelopes that do not carry one yet; the observability
// stage is the single writer.
func (e *Envelope) WithTrace(traceID, spanID, parentSpanID string) *Envelope {
	cloned := e.clone()
	if cloned.TraceID == "" {
		cloned.TraceID = traceID
	}
	cloned.SpanID = spanID
	cloned.ParentSpanID = parentSpanID
	return cloned
}

// WithAttempt returns a copy with the retry counter set.
func (e *Envelope) WithAttempt(attempt int) *Envelope {
	cloned := e.clone()
	cloned.Attempt = attempt
	return cloned
}

// WithError returns a copy flagged as failed, carrying the structured
// descriptor. The payload is preserved so adapters can still reference it.
func (e *Envelope) WithError(info ErrorInfo) *Envelope {
	cloned := e.clone()
	cloned.Status = StatusError
	cloned.Error = &info
	return cloned
}

// IsError reports whether the envelope carries a mapped failure.
func (e *Envelope) IsError() bool {
	return e.Status == StatusError
}
