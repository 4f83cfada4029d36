package runtime

import (
	"context"
	"time"

	"github.com/drblury/hexroute/internal/runtime/logging"
)

// DispatchContext carries information about one envelope execution to hooks.
type DispatchContext struct {
	// PortName is the logical port the envelope was dispatched on.
	PortName string
	// HandlerRef identifies the handler that processed the envelope.
	HandlerRef string
	// EnvelopeID is the unique identifier of the envelope.
	EnvelopeID string
	// TraceID is the trace the envelope belongs to.
	TraceID string
	// Context is the context the envelope was dispatched with.
	Context context.Context
	// StartedAt is when handler execution began.
	StartedAt time.Time
	// Duration is how long execution took (set for OnDone and OnError only).
	Duration time.Duration
	// Attempt is the delivery attempt number, starting at 1.
	Attempt int
}

// DispatchHooks defines callbacks around handler execution.
// All hooks are optional, nil hooks are simply not called.
type DispatchHooks struct {
	// OnStart is called before the handler is invoked.
	OnStart func(dc DispatchContext)

	// OnDone is called after the handler returns successfully.
	OnDone func(dc DispatchContext)

	// OnError is called when the handler returns an error, after retries
	// are exhausted.
	OnError func(dc DispatchContext, err error)
}

// Merge combines two hook sets into one that calls both, h's hooks first.
func (h DispatchHooks) Merge(other DispatchHooks) DispatchHooks {
	return DispatchHooks{
		OnStart: chainHooks(h.OnStart, other.OnStart),
		OnDone:  chainHooks(h.OnDone, other.OnDone),
		OnError: chainErrorHooks(h.OnError, other.OnError),
	}
}

func chainHooks(a, b func(DispatchContext)) func(DispatchContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(dc DispatchContext) {
		a(dc)
		b(dc)
	}
}

func chainErrorHooks(a, b func(DispatchContext, error)) func(DispatchContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(dc DispatchContext, err error) {
		a(dc, err)
		b(dc, err)
	}
}

// LoggingHooks returns hooks that log envelope lifecycle events.
func LoggingHooks(logger logging.ServiceLogger) DispatchHooks {
	return DispatchHooks{
		OnStart: func(dc DispatchContext) {
			logger.Debug("Handler started", logging.LogFields{
				"port":        dc.PortName,
				"handler_ref": dc.HandlerRef,
				"envelope_id": dc.EnvelopeID,
				"trace_id":    dc.TraceID,
				"attempt":     dc.Attempt,
			})
		},
		OnDone: func(dc DispatchContext) {
			logger.Debug("Handler completed", logging.LogFields{
				"port":        dc.PortName,
				"handler_ref": dc.HandlerRef,
				"envelope_id": dc.EnvelopeID,
				"duration_ms": dc.Duration.Milliseconds(),
			})
		},
		OnError: func(dc DispatchContext, err error) {
			logger.Error("Handler failed", err, logging.LogFields{
				"port":        dc.PortName,
				"handler_ref": dc.HandlerRef,
				"envelope_id": dc.EnvelopeID,
				"duration_ms": dc.Duration.Milliseconds(),
				"attempt":     dc.Attempt,
			})
		},
	}
}

// CallbackHooks adapts three plain callbacks into a hook set.
func CallbackHooks(onStart, onDone func(portName, handlerRef string), onError func(portName, handlerRef string, err error)) DispatchHooks {
	return DispatchHooks{
		OnStart: func(dc DispatchContext) {
			if onStart != nil {
				onStart(dc.PortName, dc.HandlerRef)
			}
		},
		OnDone: func(dc DispatchContext) {
			if onDone != nil {
				onDone(dc.PortName, dc.HandlerRef)
			}
		},
		OnError: func(dc DispatchContext, err error) {
			if onError != nil {
				onError(dc.PortName, dc.HandlerRef, err)
			}
		},
	}
}

// AlertingHooks returns hooks that only fire on handler errors.
func AlertingHooks(alertFunc func(dc DispatchContext, err error)) DispatchHooks {
	return DispatchHooks{
		OnError: alertFunc,
	}
}
