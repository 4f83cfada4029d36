package adapter

import (
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/hexroute/envelope"
	"github.com/drblury/hexroute/internal/runtime/jsoncodec"
)

// Reserved header keys used to carry envelope fields across Watermill-backed
// wires. These keys are stripped back into envelope fields on ingress.
const (
	HeaderTraceID        = "trace_id"
	HeaderSpanID         = "span_id"
	HeaderParentSpanID   = "parent_span_id"
	HeaderPortName       = "hexroute_port"
	HeaderStatus         = "hexroute_status"
	HeaderErrorKind      = "hexroute_error_kind"
	HeaderErrorMessage   = "hexroute_error_message"
	HeaderErrorRetryable = "hexroute_error_retryable"
	HeaderCreatedAt      = "hexroute_created_at"
	HeaderAttempt        = "hexroute_attempt"
)

var reservedHeaders = map[string]struct{}{
	HeaderTraceID:        {},
	HeaderSpanID:         {},
	HeaderParentSpanID:   {},
	HeaderPortName:       {},
	HeaderStatus:         {},
	HeaderErrorKind:      {},
	HeaderErrorMessage:   {},
	HeaderErrorRetryable: {},
	HeaderCreatedAt:      {},
	HeaderAttempt:        {},
}

// ToMessage converts an envelope into a Watermill message. Byte payloads pass
// through untouched; anything else is marshalled as JSON.
func ToMessage(env *envelope.Envelope) (*message.Message, error) {
	var payload []byte
	switch p := env.Payload.(type) {
	case nil:
	case []byte:
		payload = p
	case string:
		payload = []byte(p)
	default:
		encoded, err := jsoncodec.Marshal(p)
		if err != nil {
			return nil, err
		}
		payload = encoded
	}

	msg := message.NewMessage(env.ID, payload)
	for k, v := range env.Headers {
		msg.Metadata[k] = v
	}
	if env.TraceID != "" {
		msg.Metadata[HeaderTraceID] = env.TraceID
	}
	if env.SpanID != "" {
		msg.Metadata[HeaderSpanID] = env.SpanID
	}
	if env.ParentSpanID != "" {
		msg.Metadata[HeaderParentSpanID] = env.ParentSpanID
	}
	msg.Metadata[HeaderPortName] = env.PortName
	msg.Metadata[HeaderStatus] = string(env.Status)
	if env.Error != nil {
		msg.Metadata[HeaderErrorKind] = env.Error.Kind
		msg.Metadata[HeaderErrorMessage] = env.Error.Message
		msg.Metadata[HeaderErrorRetryable] = strconv.FormatBool(env.Error.Retryable)
	}
	msg.Metadata[HeaderCreatedAt] = env.CreatedAt.Format(time.RFC3339Nano)
	msg.Metadata[HeaderAttempt] = strconv.Itoa(env.Attempt)
	return msg, nil
}

// FromMessage reconstructs an envelope from a Watermill message received on
// the named port. Reserved keys move back into envelope fields; the rest stay
// as headers. The payload remains raw bytes for the handler side to decode.
func FromMessage(portName string, dir envelope.Direction, msg *message.Message) *envelope.Envelope {
	env := &envelope.Envelope{
		ID:        msg.UUID,
		Direction: dir,
		PortName:  portName,
		Headers:   envelope.Headers{},
		Payload:   []byte(msg.Payload),
		Status:    envelope.StatusNormal,
		CreatedAt: time.Now().UTC(),
	}

	for k, v := range msg.Metadata {
		if _, reserved := reservedHeaders[k]; reserved {
			continue
		}
		env.Headers[k] = v
	}

	env.TraceID = msg.Metadata.Get(HeaderTraceID)
	env.SpanID = msg.Metadata.Get(HeaderSpanID)
	env.ParentSpanID = msg.Metadata.Get(HeaderParentSpanID)

	if port := msg.Metadata.Get(HeaderPortName); port != "" && portName == "" {
		env.PortName = port
	}
	if status := msg.Metadata.Get(HeaderStatus); status == string(envelope.StatusError) {
		retryable, _ := strconv.ParseBool(msg.Metadata.Get(HeaderErrorRetryable))
		env.Status = envelope.StatusError
		env.Error = &envelope.ErrorInfo{
			Kind:      msg.Metadata.Get(HeaderErrorKind),
			Message:   msg.Metadata.Get(HeaderErrorMessage),
			Retryable: retryable,
		}
	}
	if raw := msg.Metadata.Get(HeaderCreatedAt); raw != "" {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			env.CreatedAt = ts
		}
	}
	if raw := msg.Metadata.Get(HeaderAttempt); raw != "" {
		if attempt, err := strconv.Atoi(raw); err == nil {
			env.Attempt = attempt
		}
	}
	return env
}
