// Package errors defines the failure kinds surfaced by the routing runtime.
// Per-message failures are mapped into error envelopes by the pipeline; the
// typed errors here carry enough structure for that mapping.
package errors

import (
	sterrors "errors"
	"fmt"
	"time"

	"github.com/drblury/hexroute/envelope"
)

// Argument-validation sentinels returned by registration entrypoints.
var (
	ErrRuntimeRequired  = sterrors.New("hexroute: runtime is required")
	ErrHandlerRequired  = sterrors.New("hexroute: handler function is required")
	ErrHandlerRefRequired = sterrors.New("hexroute: handler reference is required")
	ErrEnvelopeRequired = sterrors.New("hexroute: envelope is required")
	ErrPortNameRequired = sterrors.New("hexroute: port name is required")
	ErrFactoryRequired  = sterrors.New("hexroute: port factory is required")
	ErrTargetsRequired  = sterrors.New("hexroute: route requires at least one target")
	ErrAdapterRequired  = sterrors.New("hexroute: adapter instance is required")
	ErrConfigRequired   = sterrors.New("hexroute: config is required")
	ErrLoggerRequired   = sterrors.New("hexroute: logger is required")
	ErrRuntimeClosed    = sterrors.New("hexroute: runtime is shutting down")
)

// Kind names a failure category carried on error envelopes.
type Kind string

const (
	KindResolution       Kind = "ResolutionError"
	KindSignature        Kind = "SignatureError"
	KindAdapterCreation  Kind = "AdapterCreationError"
	KindDuplicateAdapter Kind = "DuplicateAdapterError"
	KindValidation       Kind = "ValidationError"
	KindTimeout          Kind = "TimeoutError"
	KindBackpressure     Kind = "BackpressureError"
	KindHandler          Kind = "HandlerError"
	KindDelivery         Kind = "DeliveryError"
	KindUnknown          Kind = "UnknownError"
)

// ResolutionError reports a failed lookup of a handler, adapter, port, or route.
type ResolutionError struct {
	What string // "handler", "adapter", "port", "route"
	Name string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("hexroute: unknown %s %q", e.What, e.Name)
}

// SignatureError reports a registered handler that does not match the
// Envelope -> Envelope|nil contract.
type SignatureError struct {
	Ref string
	Got string
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("hexroute: handler %q has unsupported signature %s", e.Ref, e.Got)
}

// AdapterCreationError wraps a factory failure for a declared adapter.
type AdapterCreationError struct {
	Name string
	Impl string
	Err  error
}

func (e *AdapterCreationError) Error() string {
	return fmt.Sprintf("hexroute: creating adapter %q (impl %q): %v", e.Name, e.Impl, e.Err)
}

func (e *AdapterCreationError) Unwrap() error { return e.Err }

// DuplicateAdapterError reports a second registration under an existing name.
type DuplicateAdapterError struct {
	Name string
}

func (e *DuplicateAdapterError) Error() string {
	return fmt.Sprintf("hexroute: adapter %q is already registered", e.Name)
}

// ValidationError reports a payload rejected before it reached the handler.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("hexroute: validation failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("hexroute: validation failed: %s", e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// TimeoutError reports a handler or delivery that exceeded the port's deadline.
type TimeoutError struct {
	PortName string
	Limit    time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("hexroute: port %q exceeded deadline of %s", e.PortName, e.Limit)
}

// BackpressureError is surfaced synchronously when a port's concurrency gate
// is saturated under the reject policy.
type BackpressureError struct {
	PortName string
	Limit    int64
}

func (e *BackpressureError) Error() string {
	return fmt.Sprintf("hexroute: port %q rejected dispatch, %d executions already in flight", e.PortName, e.Limit)
}

// HandlerError wraps an uncaught failure inside handler logic.
type HandlerError struct {
	Ref string
	Err error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("hexroute: handler %q failed: %v", e.Ref, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// DeliveryError reports that a route could not deliver to its targets. Err is
// a joined multi-error when several targets failed.
type DeliveryError struct {
	PortName string
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("hexroute: delivery via port %q failed: %v", e.PortName, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// KindOf classifies an error into the kind carried on error envelopes.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case sterrors.As(err, new(*ResolutionError)):
		return KindResolution
	case sterrors.As(err, new(*SignatureError)):
		return KindSignature
	case sterrors.As(err, new(*AdapterCreationError)):
		return KindAdapterCreation
	case sterrors.As(err, new(*DuplicateAdapterError)):
		return KindDuplicateAdapter
	case sterrors.As(err, new(*ValidationError)):
		return KindValidation
	case sterrors.As(err, new(*TimeoutError)):
		return KindTimeout
	case sterrors.As(err, new(*BackpressureError)):
		return KindBackpressure
	case sterrors.As(err, new(*HandlerError)):
		return KindHandler
	case sterrors.As(err, new(*DeliveryError)):
		return KindDelivery
	default:
		return KindUnknown
	}
}

// Retryable reports whether re-attempting the failed operation can succeed.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTimeout, KindBackpressure, KindHandler, KindDelivery, KindUnknown:
		return err != nil
	default:
		return false
	}
}

// Describe converts an error into the structured descriptor attached to
// error envelopes.
func Describe(err error) envelope.ErrorInfo {
	return envelope.ErrorInfo{
		Kind:      string(KindOf(err)),
		Message:   err.Error(),
		Retryable: Retryable(err),
	}
}
