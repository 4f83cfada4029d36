package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/drblury/hexroute/envelope"
	configpkg "github.com/drblury/hexroute/internal/runtime/config"
	errspkg "github.com/drblury/hexroute/internal/runtime/errors"
	idspkg "github.com/drblury/hexroute/internal/runtime/ids"
	loggingpkg "github.com/drblury/hexroute/internal/runtime/logging"
)

// DefaultInboundStages returns the fixed framework-level stage order for
// inbound processing. The terminal step appended by the runtime is the gated
// handler execution.
func DefaultInboundStages() []StageRegistration {
	return []StageRegistration{
		EnrichStage(),
		ObservabilityStage(),
		ErrorMappingStage(),
		LogEnvelopesStage(nil),
		MetricsStage(),
		ValidationStage(),
	}
}

// DefaultOutboundStages returns the stage order for outbound processing. The
// terminal step is route resolution plus adapter send.
func DefaultOutboundStages() []StageRegistration {
	return []StageRegistration{
		EnrichStage(),
		ObservabilityStage(),
		ErrorMappingStage(),
		LogEnvelopesStage(nil),
		MetricsStage(),
	}
}

// EnrichStage assigns identity and timestamps to envelopes entering the
// pipeline for the first time.
func EnrichStage() StageRegistration {
	return StageRegistration{
		Name: "enrich",
		Middleware: func(next StageFunc) StageFunc {
			return func(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error) {
				if env.ID == "" || env.CreatedAt.IsZero() || env.Headers == nil || env.Status == "" {
					cloned := *env
					if cloned.ID == "" {
						cloned.ID = idspkg.CreateULID()
					}
					if cloned.CreatedAt.IsZero() {
						cloned.CreatedAt = time.Now().UTC()
					}
					if cloned.Headers == nil {
						cloned.Headers = envelope.Headers{}
					}
					if cloned.Status == "" {
						cloned.Status = envelope.StatusNormal
					}
					env = &cloned
				}
				return next(ctx, env)
			}
		},
	}
}

// ObservabilityStage opens a span around the rest of the chain and fills in
// trace correlation. The trace id is assigned exactly once and never changes
// afterwards; the span id rolls forward stage to stage via ParentSpanID.
func ObservabilityStage() StageRegistration {
	return StageRegistration{
		Name: "observability",
		Middleware: func(next StageFunc) StageFunc {
			return func(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error) {
				tracer := otel.Tracer("hexroute")
				spanName := "Dispatch"
				if env.Direction == envelope.DirectionOutbound {
					spanName = "Deliver"
				}
				ctx, span := tracer.Start(ctx, spanName)
				defer span.End()

				traceID := env.TraceID
				if traceID == "" {
					traceID = idspkg.CreateULID()
				}
				env = env.WithTrace(traceID, idspkg.CreateSpanID(), env.SpanID)

				span.SetAttributes(
					attribute.String("envelope.id", env.ID),
					attribute.String("envelope.trace_id", env.TraceID),
					attribute.String("envelope.port", env.PortName),
					attribute.String("envelope.direction", string(env.Direction)),
				)
				return next(ctx, env)
			}
		},
	}
}

// ValidationStage rejects envelopes before they reach routing. It short-
// circuits on failure: next is never called and the validation error flows to
// the error-mapping stage.
func ValidationStage() StageRegistration {
	return StageRegistration{
		Name: "validation",
		Builder: func(r *Runtime) (Middleware, error) {
			if r.validator == nil {
				return nil, nil
			}
			return func(next StageFunc) StageFunc {
				return func(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error) {
					if err := r.validator(env); err != nil {
						var validation *errspkg.ValidationError
						if !errors.As(err, &validation) {
							err = &errspkg.ValidationError{Reason: "payload rejected", Err: err}
						}
						return nil, err
					}
					return next(ctx, env)
				}
			}, nil
		},
	}
}

// LogEnvelopesStage logs envelope traffic at debug level.
func LogEnvelopesStage(logger loggingpkg.ServiceLogger) StageRegistration {
	return StageRegistration{
		Name: "log_envelopes",
		Builder: func(r *Runtime) (Middleware, error) {
			l := logger
			if l == nil {
				l = r.Logger
			}
			if l == nil {
				return nil, errors.New("log envelopes stage requires a logger")
			}
			return func(next StageFunc) StageFunc {
				return func(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error) {
					l.Debug("Processing envelope", loggingpkg.LogFields{
						"envelope_id": env.ID,
						"trace_id":    env.TraceID,
						"port":        env.PortName,
						"direction":   env.Direction,
						"attempt":     env.Attempt,
					})
					return next(ctx, env)
				}
			}, nil
		},
	}
}

// MetricsStage records Prometheus counters and latency histograms per port.
func MetricsStage() StageRegistration {
	return StageRegistration{
		Name: "metrics",
		Builder: func(r *Runtime) (Middleware, error) {
			if !r.Conf.MetricsEnabled || r.metrics == nil {
				return nil, nil
			}
			m := r.metrics
			return func(next StageFunc) StageFunc {
				return func(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error) {
					start := time.Now()
					out, err := next(ctx, env)

					status := "ok"
					switch {
					case err != nil:
						status = "error"
					case out != nil && out.IsError():
						status = "error"
					}
					m.envelopesTotal.WithLabelValues(string(env.Direction), env.PortName, status).Inc()
					m.duration.WithLabelValues(string(env.Direction), env.PortName).Observe(time.Since(start).Seconds())
					return out, err
				}
			}, nil
		},
	}
}

// ErrorMappingStage converts any failure escaping the inner chain into a
// well-formed error envelope carrying the id and trace. It sits just inside
// enrich and observability, so the envelope it maps from already has both
// assigned even when the caller supplied neither. BackpressureError stays an
// error so callers can apply protocol-appropriate back-pressure synchronously.
func ErrorMappingStage() StageRegistration {
	return StageRegistration{
		Name: "error_mapping",
		Middleware: func(next StageFunc) StageFunc {
			return func(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error) {
				out, err := next(ctx, env)
				if err == nil {
					return out, nil
				}

				var backpressure *errspkg.BackpressureError
				if errors.As(err, &backpressure) || errors.Is(err, errspkg.ErrRuntimeClosed) {
					return nil, err
				}
				return env.WithError(errspkg.Describe(err)), nil
			}
		},
	}
}

// pipelineMetrics holds the Prometheus collectors shared by both directions.
type pipelineMetrics struct {
	envelopesTotal *prometheus.CounterVec
	duration       *prometheus.HistogramVec
}

func newPipelineMetrics(reg prometheus.Registerer) *pipelineMetrics {
	factory := promauto.With(reg)
	return &pipelineMetrics{
		envelopesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hexroute",
			Name:      "envelopes_total",
			Help:      "Envelopes processed by the pipeline.",
		}, []string{"direction", "port", "status"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hexroute",
			Name:      "pipeline_duration_seconds",
			Help:      "Wall time spent in the pipeline per envelope.",
		}, []string{"direction", "port"}),
	}
}

// retryMiddleware re-invokes the wrapped step with exponential backoff, up to
// the policy's attempt cap. Each attempt carries an incremented counter on the
// envelope; non-retryable failures stop immediately.
func retryMiddleware(policy configpkg.RetryPolicy) Middleware {
	normalized := policy.WithDefaults()
	return func(next StageFunc) StageFunc {
		return func(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error) {
			attempt := 0

			expo := backoff.NewExponentialBackOff()
			expo.InitialInterval = normalized.InitialInterval
			expo.MaxInterval = normalized.MaxInterval

			operation := func() (*envelope.Envelope, error) {
				attempt++
				out, err := next(ctx, env.WithAttempt(attempt))
				if err != nil && !errspkg.Retryable(err) {
					return nil, backoff.Permanent(err)
				}
				return out, err
			}

			return backoff.Retry(ctx, operation,
				backoff.WithBackOff(expo),
				backoff.WithMaxTries(uint(normalized.MaxAttempts)),
			)
		}
	}
}

// timeoutMiddleware derives a deadline for the wrapped step from the port's
// timeout policy. Expiry is reported as a TimeoutError; the handler is
// expected to observe cancellation cooperatively.
func timeoutMiddleware(portName string, limit time.Duration) Middleware {
	return func(next StageFunc) StageFunc {
		if limit <= 0 {
			return next
		}
		return func(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error) {
			ctx, cancel := context.WithTimeout(ctx, limit)
			defer cancel()

			out, err := next(ctx, env)
			if err != nil && errors.Is(err, context.DeadlineExceeded) {
				return nil, &errspkg.TimeoutError{PortName: portName, Limit: limit}
			}
			return out, err
		}
	}
}

// recovererMiddleware converts panics inside handler logic into HandlerErrors
// so they can be retried or mapped like any other failure.
func recovererMiddleware(ref string) Middleware {
	return func(next StageFunc) StageFunc {
		return func(ctx context.Context, env *envelope.Envelope) (out *envelope.Envelope, err error) {
			defer func() {
				if recovered := recover(); recovered != nil {
					out = nil
					err = &errspkg.HandlerError{Ref: ref, Err: errors.New("panic: " + panicString(recovered))}
				}
			}()
			return next(ctx, env)
		}
	}
}

func panicString(v any) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	if s, ok := v.(string); ok {
		return s
	}
	return "unknown panic"
}
