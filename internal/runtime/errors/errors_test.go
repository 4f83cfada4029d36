package errors

import (
	sterrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"resolution", &ResolutionError{What: "handler", Name: "x"}, KindResolution},
		{"signature", &SignatureError{Ref: "x", Got: "string"}, KindSignature},
		{"adapter creation", &AdapterCreationError{Name: "x", Impl: "kafka"}, KindAdapterCreation},
		{"duplicate", &DuplicateAdapterError{Name: "x"}, KindDuplicateAdapter},
		{"validation", &ValidationError{Reason: "bad"}, KindValidation},
		{"timeout", &TimeoutError{PortName: "p", Limit: time.Second}, KindTimeout},
		{"backpressure", &BackpressureError{PortName: "p", Limit: 4}, KindBackpressure},
		{"handler", &HandlerError{Ref: "x", Err: sterrors.New("boom")}, KindHandler},
		{"delivery", &DeliveryError{PortName: "p", Err: sterrors.New("down")}, KindDelivery},
		{"plain", sterrors.New("anything"), KindUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, KindOf(tc.err))
		})
	}
}

func TestKindOf_SeesThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("while dispatching: %w", &TimeoutError{PortName: "p", Limit: time.Second})
	assert.Equal(t, KindTimeout, KindOf(wrapped))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(&TimeoutError{}))
	assert.True(t, Retryable(&BackpressureError{}))
	assert.True(t, Retryable(&HandlerError{Err: sterrors.New("x")}))
	assert.True(t, Retryable(&DeliveryError{Err: sterrors.New("x")}))
	assert.True(t, Retryable(sterrors.New("unclassified")))

	assert.False(t, Retryable(nil))
	assert.False(t, Retryable(&ValidationError{Reason: "bad"}))
	assert.False(t, Retryable(&ResolutionError{What: "handler", Name: "x"}))
	assert.False(t, Retryable(&SignatureError{Ref: "x"}))
}

func TestDescribe(t *testing.T) {
	info := Describe(&HandlerError{Ref: "orders.confirm", Err: sterrors.New("boom")})

	assert.Equal(t, string(KindHandler), info.Kind)
	assert.Contains(t, info.Message, "orders.confirm")
	assert.Contains(t, info.Message, "boom")
	assert.True(t, info.Retryable)
}

func TestTypedErrors_Unwrap(t *testing.T) {
	inner := sterrors.New("root cause")

	assert.ErrorIs(t, &AdapterCreationError{Name: "a", Impl: "kafka", Err: inner}, inner)
	assert.ErrorIs(t, &ValidationError{Reason: "bad", Err: inner}, inner)
	assert.ErrorIs(t, &HandlerError{Ref: "r", Err: inner}, inner)
	assert.ErrorIs(t, &DeliveryError{PortName: "p", Err: inner}, inner)
}

func TestErrorMessages(t *testing.T) {
	assert.Contains(t, (&ResolutionError{What: "route", Name: "orders"}).Error(), `route`)
	assert.Contains(t, (&TimeoutError{PortName: "orders", Limit: 2 * time.Second}).Error(), "2s")
	assert.Contains(t, (&BackpressureError{PortName: "orders", Limit: 8}).Error(), "8")

	require.Contains(t, (&ValidationError{Reason: "negative amount"}).Error(), "negative amount")
	withCause := &ValidationError{Reason: "decode failed", Err: sterrors.New("unexpected token")}
	assert.Contains(t, withCause.Error(), "unexpected token")
}
