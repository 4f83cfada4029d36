package hexroute

import (
	runtimepkg "github.com/drblury/hexroute/internal/runtime"
	configpkg "github.com/drblury/hexroute/internal/runtime/config"
	errspkg "github.com/drblury/hexroute/internal/runtime/errors"
	handlerpkg "github.com/drblury/hexroute/internal/runtime/handlers"
	idspkg "github.com/drblury/hexroute/internal/runtime/ids"
	jsoncodec "github.com/drblury/hexroute/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/hexroute/internal/runtime/logging"
	"google.golang.org/protobuf/proto"
)

type (
	Config             = configpkg.Config
	RetryPolicy        = configpkg.RetryPolicy
	BackpressurePolicy = configpkg.BackpressurePolicy
	BackpressureMode   = configpkg.BackpressureMode
	PortPolicies       = configpkg.PortPolicies

	Runtime      = runtimepkg.Runtime
	Dependencies = runtimepkg.Dependencies
	Validator    = runtimepkg.Validator

	Handler        = handlerpkg.Handler
	HandlerFactory = handlerpkg.Factory

	JSONContext[T any]               = handlerpkg.JSONContext[T]
	JSONOutput[O any]                = handlerpkg.JSONOutput[O]
	JSONHandlerFunc[T any, O any]    = handlerpkg.JSONHandlerFunc[T, O]
	ProtoValidator                   = handlerpkg.ProtoValidator
	ProtoContext[T proto.Message]    = handlerpkg.ProtoContext[T]
	ProtoOutput                      = handlerpkg.ProtoOutput
	ProtoHandlerFunc[T proto.Message] = handlerpkg.ProtoHandlerFunc[T]

	Strategy     = runtimepkg.Strategy
	PortFactory  = runtimepkg.PortFactory
	OutboundPort = runtimepkg.OutboundPort
	Route        = runtimepkg.Route
	RouteView    = runtimepkg.RouteView

	StageFunc         = runtimepkg.StageFunc
	Middleware        = runtimepkg.Middleware
	StageRegistration = runtimepkg.StageRegistration

	// Dispatch lifecycle hooks
	DispatchContext = runtimepkg.DispatchContext
	DispatchHooks   = runtimepkg.DispatchHooks

	// Inspector snapshots
	PortInfo       = runtimepkg.PortInfo
	PortStats      = runtimepkg.PortStats
	RecentEnvelope = runtimepkg.RecentEnvelope

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	// Error kinds and typed errors
	ErrorKind            = errspkg.Kind
	ResolutionError      = errspkg.ResolutionError
	SignatureError       = errspkg.SignatureError
	AdapterCreationError = errspkg.AdapterCreationError
	DuplicateAdapterError = errspkg.DuplicateAdapterError
	ValidationError      = errspkg.ValidationError
	TimeoutError         = errspkg.TimeoutError
	BackpressureError    = errspkg.BackpressureError
	HandlerError         = errspkg.HandlerError
	DeliveryError        = errspkg.DeliveryError
)

var (
	New            = runtimepkg.New
	TryNew         = runtimepkg.TryNew
	ValidateConfig = configpkg.ValidateConfig

	DefaultInboundStages  = runtimepkg.DefaultInboundStages
	DefaultOutboundStages = runtimepkg.DefaultOutboundStages
	EnrichStage           = runtimepkg.EnrichStage
	ObservabilityStage    = runtimepkg.ObservabilityStage
	ValidationStage       = runtimepkg.ValidationStage
	LogEnvelopesStage     = runtimepkg.LogEnvelopesStage
	MetricsStage          = runtimepkg.MetricsStage
	ErrorMappingStage     = runtimepkg.ErrorMappingStage

	// Dispatch lifecycle hooks
	LoggingHooks  = runtimepkg.LoggingHooks
	CallbackHooks = runtimepkg.CallbackHooks
	AlertingHooks = runtimepkg.AlertingHooks

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	ErrRuntimeRequired    = errspkg.ErrRuntimeRequired
	ErrHandlerRequired    = errspkg.ErrHandlerRequired
	ErrHandlerRefRequired = errspkg.ErrHandlerRefRequired
	ErrEnvelopeRequired   = errspkg.ErrEnvelopeRequired
	ErrPortNameRequired   = errspkg.ErrPortNameRequired
	ErrFactoryRequired    = errspkg.ErrFactoryRequired
	ErrTargetsRequired    = errspkg.ErrTargetsRequired
	ErrConfigRequired     = errspkg.ErrConfigRequired
	ErrLoggerRequired     = errspkg.ErrLoggerRequired
	ErrRuntimeClosed      = errspkg.ErrRuntimeClosed

	ErrorKindOf    = errspkg.KindOf
	ErrorRetryable = errspkg.Retryable

	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger

	CreateULID = idspkg.CreateULID
)

// BuildJSONHandler adapts a typed JSON handler onto the uniform handler
// contract.
func BuildJSONHandler[T any, O any](handler JSONHandlerFunc[T, O], logger ServiceLogger) (Handler, error) {
	return handlerpkg.BuildJSONHandler(handler, logger)
}

// BuildProtoHandler adapts a typed protobuf handler onto the uniform handler
// contract. The validator may be nil.
func BuildProtoHandler[T proto.Message](handler ProtoHandlerFunc[T], validator ProtoValidator, logger ServiceLogger) (Handler, error) {
	return handlerpkg.BuildProtoHandler(handler, validator, logger)
}

// Routing strategies for outbound routes.
const (
	StrategyFirst      = runtimepkg.StrategyFirst
	StrategyBroadcast  = runtimepkg.StrategyBroadcast
	StrategyRoundRobin = runtimepkg.StrategyRoundRobin
)

// Backpressure modes for port concurrency gates.
const (
	BackpressureWait   = configpkg.BackpressureWait
	BackpressureReject = configpkg.BackpressureReject
)
