package handlers

import (
	"context"
	"fmt"

	"github.com/drblury/hexroute/envelope"
	errspkg "github.com/drblury/hexroute/internal/runtime/errors"
	"github.com/drblury/hexroute/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/hexroute/internal/runtime/logging"
)

// JSONContext exposes the decoded payload and headers to typed JSON handlers.
type JSONContext[T any] struct {
	Payload  T
	Envelope *envelope.Envelope
	Logger   loggingpkg.ServiceLogger
}

// Headers returns the envelope headers.
func (c JSONContext[T]) Headers() envelope.Headers {
	return c.Envelope.Headers
}

// JSONOutput is the response a typed JSON handler emits. PortName selects the
// outbound port the response is routed through; empty means "answer on the
// envelope's own port".
type JSONOutput[O any] struct {
	PortName string
	Payload  O
	Headers  envelope.Headers
}

// JSONHandlerFunc processes a decoded JSON payload. Returning a nil output is
// fire-and-forget.
type JSONHandlerFunc[T any, O any] func(ctx context.Context, msg JSONContext[T]) (*JSONOutput[O], error)

// BuildJSONHandler adapts a typed JSON handler onto the Handler contract.
// Payload decoding failures are validation errors so they reach the
// error-mapping stage instead of the handler.
func BuildJSONHandler[T any, O any](handler JSONHandlerFunc[T, O], logger loggingpkg.ServiceLogger) (Handler, error) {
	if handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}

	return func(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error) {
		var typed T
		if err := decodePayload(env.Payload, &typed); err != nil {
			return nil, &errspkg.ValidationError{Reason: "failed to decode JSON payload", Err: err}
		}

		out, err := handler(ctx, JSONContext[T]{
			Payload:  typed,
			Envelope: env,
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
		if out == nil {
			return nil, nil
		}

		payload, err := jsoncodec.Marshal(out.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal JSON response: %w", err)
		}

		// Deriving the response from the inbound envelope keeps the id and
		// trace correlation intact across the handler boundary.
		response := env.WithDirection(envelope.DirectionOutbound).WithPayload(payload)
		if out.PortName != "" {
			response = response.WithPort(out.PortName)
		}
		if len(out.Headers) > 0 {
			response = response.WithHeaders(out.Headers)
		}
		return response, nil
	}, nil
}

func decodePayload(payload any, target any) error {
	switch p := payload.(type) {
	case []byte:
		return jsoncodec.Unmarshal(p, target)
	case string:
		return jsoncodec.Unmarshal([]byte(p), target)
	default:
		// Structured payloads from in-process adapters round-trip through the
		// codec to land in the typed shape.
		raw, err := jsoncodec.Marshal(p)
		if err != nil {
			return err
		}
		return jsoncodec.Unmarshal(raw, target)
	}
}
