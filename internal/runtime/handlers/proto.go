package handlers

import (
	"context"
	"fmt"
	"reflect"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/drblury/hexroute/envelope"
	errspkg "github.com/drblury/hexroute/internal/runtime/errors"
	loggingpkg "github.com/drblury/hexroute/internal/runtime/logging"
)

var protoJSONMarshalOptions = protojson.MarshalOptions{
	EmitUnpopulated: true,
}

// ProtoValidator validates unmarshalled proto payloads. Implementations
// typically forward to protovalidate or a custom struct validator.
type ProtoValidator interface {
	Validate(value any) error
}

// ProtoContext exposes the decoded proto payload to typed proto handlers.
type ProtoContext[T proto.Message] struct {
	Payload  T
	Envelope *envelope.Envelope
	Logger   loggingpkg.ServiceLogger
}

// ProtoOutput is the response a typed proto handler emits.
type ProtoOutput struct {
	PortName string
	Payload  proto.Message
	Headers  envelope.Headers
}

// ProtoHandlerFunc processes a decoded proto payload. Returning a nil output
// is fire-and-forget.
type ProtoHandlerFunc[T proto.Message] func(ctx context.Context, msg ProtoContext[T]) (*ProtoOutput, error)

// NewProtoMessage constructs a fresh instance of the proto message type T.
// T must be a pointer type, as generated proto code always is.
func NewProtoMessage[T proto.Message]() (T, error) {
	var zero T
	typ := reflect.TypeOf(zero)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return zero, fmt.Errorf("proto message type %T must be a pointer", zero)
	}
	return reflect.New(typ.Elem()).Interface().(T), nil
}

// BuildProtoHandler adapts a typed proto handler onto the Handler contract.
// Payloads are protojson-decoded and, when a validator is supplied, validated
// before the handler runs; both failure modes are validation errors.
func BuildProtoHandler[T proto.Message](handler ProtoHandlerFunc[T], validator ProtoValidator, logger loggingpkg.ServiceLogger) (Handler, error) {
	if handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}
	if _, err := NewProtoMessage[T](); err != nil {
		return nil, err
	}

	return func(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error) {
		typed, err := NewProtoMessage[T]()
		if err != nil {
			return nil, err
		}

		raw, ok := env.Payload.([]byte)
		if !ok {
			if s, isString := env.Payload.(string); isString {
				raw = []byte(s)
			} else {
				return nil, &errspkg.ValidationError{Reason: fmt.Sprintf("proto handler requires byte payload, got %T", env.Payload)}
			}
		}
		if err := protojson.Unmarshal(raw, typed); err != nil {
			return nil, &errspkg.ValidationError{Reason: "failed to unmarshal proto payload", Err: err}
		}
		if validator != nil {
			if err := validator.Validate(typed); err != nil {
				return nil, &errspkg.ValidationError{Reason: "proto payload rejected", Err: err}
			}
		}

		out, err := handler(ctx, ProtoContext[T]{
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

		payload, err := protoJSONMarshalOptions.Marshal(out.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal proto response: %w", err)
		}

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
