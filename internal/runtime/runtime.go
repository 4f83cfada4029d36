package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/drblury/hexroute/adapter"
	"github.com/drblury/hexroute/envelope"
	configpkg "github.com/drblury/hexroute/internal/runtime/config"
	errspkg "github.com/drblury/hexroute/internal/runtime/errors"
	handlerspkg "github.com/drblury/hexroute/internal/runtime/handlers"
	loggingpkg "github.com/drblury/hexroute/internal/runtime/logging"
)

// Validator checks envelopes before they reach routing. Returning an error
// fails the dispatch with a ValidationError.
type Validator func(env *envelope.Envelope) error

// Dependencies holds the optional collaborators a Runtime can use. Leave
// fields nil to skip the related behaviour.
type Dependencies struct {
	Validator Validator
	Hooks     DispatchHooks

	// ExtraInboundStages and ExtraOutboundStages are appended after the
	// default stage chains.
	ExtraInboundStages  []StageRegistration
	ExtraOutboundStages []StageRegistration
	// DisableDefaultStages skips the built-in chains entirely. The extra
	// stages then form the whole pipeline.
	DisableDefaultStages bool

	// Builders overrides the adapter builder registry. Defaults to the
	// registry adapter packages self-register into.
	Builders *adapter.Registry
}

// binding connects an inbound port name to a handler reference plus the
// resilience chain built from its effective policies.
type binding struct {
	PortName   string
	HandlerRef string
	Policies   configpkg.PortPolicies

	exec StageFunc
}

// portGate bounds concurrent executions on one port.
type portGate struct {
	sem   *semaphore.Weighted
	mode  configpkg.BackpressureMode
	limit int64
}

// Runtime wires adapters, handlers, ports, and routes into the two processing
// pipelines. Registration happens at startup; Dispatch, Deliver, and Emit are
// safe for concurrent use afterwards.
type Runtime struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	loader   *handlerspkg.Loader
	builders *adapter.Registry
	adapters *adapter.InstanceRegistry
	ports    *PortRegistry
	routes   *RouteRegistry

	bindings   map[string]*binding
	bindingsMu sync.RWMutex

	gates   map[string]*portGate
	gatesMu sync.Mutex

	stats   map[string]*PortStats
	statsMu sync.RWMutex

	validator Validator
	hooks     DispatchHooks

	promRegistry *prometheus.Registry
	metrics      *pipelineMetrics

	recent          *recentRing
	resourceTracker *resourceTracker
	wmLogger        watermill.LoggerAdapter

	inboundStages  []StageRegistration
	outboundStages []StageRegistration

	inboundChain  StageFunc
	inboundOnce   sync.Once
	inboundErr    error
	outboundChain StageFunc
	outboundOnce  sync.Once
	outboundErr   error

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex

	wg     sync.WaitGroup
	closed atomic.Bool
}

// New constructs a Runtime for the supplied configuration. It panics on
// invalid input; use TryNew when errors should be handled.
func New(conf *configpkg.Config, log loggingpkg.ServiceLogger, deps Dependencies) *Runtime {
	r, err := TryNew(conf, log, deps)
	if err != nil {
		panic(err)
	}
	return r
}

// TryNew constructs a Runtime for the supplied configuration. Register
// adapters, handlers, ports, and routes on the returned Runtime before
// calling Start.
func TryNew(conf *configpkg.Config, log loggingpkg.ServiceLogger, deps Dependencies) (*Runtime, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("hexroute: invalid config: %w", err)
	}

	log.Info("Creating routing runtime", loggingpkg.LogFields{"config": conf})

	builders := deps.Builders
	if builders == nil {
		builders = adapter.DefaultRegistry
	}

	recentLimit := conf.RecentEnvelopeLimit
	if recentLimit == 0 {
		recentLimit = 128
	}

	r := &Runtime{
		Conf:            conf,
		Logger:          log,
		loader:          handlerspkg.NewLoader(),
		builders:        builders,
		adapters:        adapter.NewInstanceRegistry(),
		ports:           NewPortRegistry(),
		routes:          NewRouteRegistry(),
		bindings:        make(map[string]*binding),
		gates:           make(map[string]*portGate),
		stats:           make(map[string]*PortStats),
		validator:       deps.Validator,
		hooks:           deps.Hooks,
		recent:          newRecentRing(recentLimit),
		resourceTracker: newResourceTracker(),
	}
	r.wmLogger = loggingpkg.NewWatermillAdapter(log)

	if conf.MetricsEnabled {
		r.promRegistry = prometheus.NewRegistry()
		r.metrics = newPipelineMetrics(r.promRegistry)
	}

	if !deps.DisableDefaultStages {
		r.inboundStages = DefaultInboundStages()
		r.outboundStages = DefaultOutboundStages()
	}
	r.inboundStages = append(r.inboundStages, deps.ExtraInboundStages...)
	r.outboundStages = append(r.outboundStages, deps.ExtraOutboundStages...)

	return r, nil
}

// RegisterAdapter instantiates the described adapter and adds it to the live
// registry. The instance is torn down again if registration fails.
func (r *Runtime) RegisterAdapter(ctx context.Context, desc adapter.Descriptor) error {
	if r.closed.Load() {
		return errspkg.ErrRuntimeClosed
	}

	instance, err := r.builders.Create(ctx, desc, r.wmLogger)
	if err != nil {
		return err
	}
	if err := r.adapters.Add(instance); err != nil {
		_ = instance.Close()
		return err
	}

	r.Logger.Info("Registered adapter", loggingpkg.LogFields{
		"name":      desc.Name,
		"impl":      desc.Impl,
		"direction": desc.Direction,
	})
	return nil
}

// RegisterHandler binds a stable reference to a handler function. See
// handlers.Loader for the accepted shapes.
func (r *Runtime) RegisterHandler(ref string, fn any) error {
	return r.loader.Register(ref, fn)
}

// RegisterHandlerFactory binds a reference to a lazy handler constructor.
func (r *Runtime) RegisterHandlerFactory(ref string, factory handlerspkg.Factory) error {
	if ref == "" {
		return errspkg.ErrHandlerRefRequired
	}
	if factory == nil {
		return errspkg.ErrFactoryRequired
	}
	r.loader.RegisterFactory(ref, factory)
	return nil
}

// BindInbound routes inbound envelopes on a port to a handler reference. The
// policy's nil fields inherit the runtime defaults. Rebinding a port replaces
// the previous binding.
func (r *Runtime) BindInbound(portName, handlerRef string, policies configpkg.PortPolicies) error {
	if portName == "" {
		return errspkg.ErrPortNameRequired
	}
	if handlerRef == "" {
		return errspkg.ErrHandlerRefRequired
	}

	b := &binding{PortName: portName, HandlerRef: handlerRef, Policies: policies}
	b.exec = r.buildExecution(b)

	r.bindingsMu.Lock()
	defer r.bindingsMu.Unlock()
	r.bindings[portName] = b
	return nil
}

// RegisterPort declares an outbound port with its envelope factory.
func (r *Runtime) RegisterPort(name string, factory PortFactory) error {
	return r.ports.Register(name, factory)
}

// RegisterRoute declares where envelopes emitted on a port are delivered.
func (r *Runtime) RegisterRoute(route *Route) error {
	return r.routes.Register(route)
}

// Dispatch runs one inbound envelope through the pipeline and returns the
// response envelope, if any. Failures inside the pipeline come back as error
// envelopes carrying the original id and trace; only backpressure rejections
// and shutdown surface as errors.
func (r *Runtime) Dispatch(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error) {
	if r.closed.Load() {
		return nil, errspkg.ErrRuntimeClosed
	}
	if env == nil {
		return nil, errspkg.ErrEnvelopeRequired
	}

	r.inboundOnce.Do(func() {
		r.inboundChain, r.inboundErr = buildChain(r, r.inboundStages, r.dispatchTerminal)
	})
	if r.inboundErr != nil {
		return nil, r.inboundErr
	}

	r.wg.Add(1)
	defer r.wg.Done()
	// Re-check after joining the drain group: a close racing the first check
	// must not see this dispatch slip past the drain.
	if r.closed.Load() {
		return nil, errspkg.ErrRuntimeClosed
	}

	if env.Direction == "" {
		env = env.WithDirection(envelope.DirectionInbound)
	}

	out, err := r.inboundChain(ctx, env)
	r.recent.Record(out)
	return out, err
}

// Deliver runs one outbound envelope through the pipeline and hands it to the
// adapters selected by the port's route.
func (r *Runtime) Deliver(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error) {
	if r.closed.Load() {
		return nil, errspkg.ErrRuntimeClosed
	}
	if env == nil {
		return nil, errspkg.ErrEnvelopeRequired
	}

	r.outboundOnce.Do(func() {
		r.outboundChain, r.outboundErr = buildChain(r, r.outboundStages, r.deliverTerminal)
	})
	if r.outboundErr != nil {
		return nil, r.outboundErr
	}

	r.wg.Add(1)
	defer r.wg.Done()
	if r.closed.Load() {
		return nil, errspkg.ErrRuntimeClosed
	}

	if env.Direction != envelope.DirectionOutbound {
		env = env.WithDirection(envelope.DirectionOutbound)
	}

	out, err := r.outboundChain(ctx, env)
	r.recent.Record(out)
	return out, err
}

// Emit builds an envelope through the named port's factory and delivers it.
func (r *Runtime) Emit(ctx context.Context, portName string, args ...any) (*envelope.Envelope, error) {
	port, err := r.ports.Get(portName)
	if err != nil {
		return nil, err
	}

	env, err := port.Factory(args...)
	if err != nil {
		return nil, err
	}
	if env == nil {
		return nil, &errspkg.ResolutionError{What: "port factory result", Name: portName}
	}
	if env.PortName == "" {
		env = env.WithPort(portName)
	}

	return r.Deliver(ctx, env)
}

// dispatchTerminal is the innermost inbound step: binding resolution, the
// concurrency gate, stats, hooks, and the policy-wrapped handler execution.
func (r *Runtime) dispatchTerminal(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error) {
	b, err := r.binding(env.PortName)
	if err != nil {
		return nil, err
	}

	_, timeout, bp := r.effectivePolicies(b.Policies)
	gate := r.gateFor(env.PortName, bp)
	if err := gate.acquire(ctx, env.PortName, timeout); err != nil {
		return nil, err
	}
	defer gate.release()

	stats := r.statsFor(env.PortName)
	stats.onStart()

	dc := DispatchContext{
		PortName:   env.PortName,
		HandlerRef: b.HandlerRef,
		EnvelopeID: env.ID,
		TraceID:    env.TraceID,
		Context:    ctx,
		StartedAt:  time.Now(),
		Attempt:    1,
	}
	if r.hooks.OnStart != nil {
		r.hooks.OnStart(dc)
	}

	out, err := b.exec(ctx, env)

	dc.Duration = time.Since(dc.StartedAt)
	if out != nil && out.Attempt > 0 {
		dc.Attempt = out.Attempt
	} else if env.Attempt > 0 {
		dc.Attempt = env.Attempt
	}

	var kind errspkg.Kind
	var message string
	if err != nil {
		kind = errspkg.KindOf(err)
		message = err.Error()
		if r.hooks.OnError != nil {
			r.hooks.OnError(dc, err)
		}
	} else if r.hooks.OnDone != nil {
		r.hooks.OnDone(dc)
	}
	stats.onFinish(dc.Duration, kind, message)

	return out, err
}

// buildExecution wraps the raw handler call with the binding's resilience
// chain: retry outermost so every attempt gets a fresh deadline, the panic
// recoverer innermost.
func (r *Runtime) buildExecution(b *binding) StageFunc {
	retry, timeout, _ := r.effectivePolicies(b.Policies)

	call := func(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error) {
		handler, err := r.loader.Resolve(b.HandlerRef)
		if err != nil {
			return nil, err
		}
		out, err := handler(ctx, env)
		if err != nil && errspkg.KindOf(err) == errspkg.KindUnknown {
			err = &errspkg.HandlerError{Ref: b.HandlerRef, Err: err}
		}
		return out, err
	}

	chain := recovererMiddleware(b.HandlerRef)(call)
	chain = timeoutMiddleware(b.PortName, timeout)(chain)
	chain = retryMiddleware(retry)(chain)
	return chain
}

// deliverTerminal is the innermost outbound step: route resolution and
// strategy-driven adapter sends.
func (r *Runtime) deliverTerminal(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error) {
	route, err := r.routes.Resolve(env.PortName)
	if err != nil {
		return nil, err
	}

	stats := r.statsFor(env.PortName)
	stats.onStart()
	start := time.Now()

	err = r.deliverByStrategy(ctx, route, env)

	var kind errspkg.Kind
	var message string
	if err != nil {
		kind = errspkg.KindOf(err)
		message = err.Error()
	}
	stats.onFinish(time.Since(start), kind, message)

	if err != nil {
		return nil, err
	}
	return env, nil
}

func (r *Runtime) deliverByStrategy(ctx context.Context, route *Route, env *envelope.Envelope) error {
	switch route.Strategy {
	case StrategyBroadcast:
		return r.deliverBroadcast(ctx, route, env)
	case StrategyRoundRobin:
		target := route.NextTarget()
		if err := r.sendTo(ctx, target, env); err != nil {
			return &errspkg.DeliveryError{PortName: route.PortName, Err: err}
		}
		return nil
	default:
		return r.deliverFirst(ctx, route, env)
	}
}

// deliverFirst tries targets in declared order and stops at the first
// successful send.
func (r *Runtime) deliverFirst(ctx context.Context, route *Route, env *envelope.Envelope) error {
	var lastErr error
	for _, target := range route.Targets {
		if err := r.sendTo(ctx, target, env); err != nil {
			lastErr = err
			r.Logger.Debug("Delivery target failed, trying next", loggingpkg.LogFields{
				"port":   route.PortName,
				"target": target,
				"error":  err.Error(),
			})
			continue
		}
		return nil
	}
	return &errspkg.DeliveryError{PortName: route.PortName, Err: lastErr}
}

// deliverBroadcast sends to every target independently. Without RequireAll
// the broadcast succeeds when at least one target accepted.
func (r *Runtime) deliverBroadcast(ctx context.Context, route *Route, env *envelope.Envelope) error {
	var errs []error
	for _, target := range route.Targets {
		if err := r.sendTo(ctx, target, env); err != nil {
			errs = append(errs, fmt.Errorf("target %q: %w", target, err))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	if route.RequireAll || len(errs) == len(route.Targets) {
		return &errspkg.DeliveryError{PortName: route.PortName, Err: errors.Join(errs...)}
	}

	r.Logger.Debug("Broadcast partially failed", loggingpkg.LogFields{
		"port":    route.PortName,
		"failed":  len(errs),
		"targets": len(route.Targets),
	})
	return nil
}

func (r *Runtime) sendTo(ctx context.Context, target string, env *envelope.Envelope) error {
	outbound, err := r.adapters.Outbound(target)
	if err != nil {
		return err
	}
	return outbound.Send(ctx, env)
}

// Start serves the configured HTTP endpoints and runs every registered
// inbound adapter until the context is cancelled or one of them fails.
func (r *Runtime) Start(ctx context.Context) error {
	if r.closed.Load() {
		return errspkg.ErrRuntimeClosed
	}

	r.StartInspectorServer()
	r.StartMetricsServer()
	r.startHTTPServers()

	group, groupCtx := errgroup.WithContext(ctx)
	for _, desc := range r.adapters.Descriptors() {
		if desc.Direction != adapter.DirectionInbound {
			continue
		}
		inbound, err := r.adapters.Inbound(desc.Name)
		if err != nil {
			return err
		}

		name := desc.Name
		r.Logger.Info("Starting inbound adapter", loggingpkg.LogFields{"name": name})
		group.Go(func() error {
			if err := inbound.Run(groupCtx, r.Dispatch); err != nil {
				return fmt.Errorf("inbound adapter %q: %w", name, err)
			}
			return nil
		})
	}
	return group.Wait()
}

// StartMetricsServer registers the Prometheus scrape endpoint when enabled.
func (r *Runtime) StartMetricsServer() {
	if !r.Conf.MetricsEnabled || r.Conf.MetricsPort <= 0 || r.promRegistry == nil {
		return
	}
	handler := promhttp.HandlerFor(r.promRegistry, promhttp.HandlerOpts{})
	r.RegisterHTTPHandler(r.Conf.MetricsPort, "/metrics", handler)
}

// RegisterHTTPHandler mounts a handler on the mux for the given port. Servers
// start when Start is called.
func (r *Runtime) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	r.httpServersMu.Lock()
	defer r.httpServersMu.Unlock()

	if r.httpServers == nil {
		r.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := r.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		r.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (r *Runtime) startHTTPServers() {
	r.httpServersMu.Lock()
	defer r.httpServersMu.Unlock()

	for port, mux := range r.httpServers {
		addr := fmt.Sprintf(":%d", port)
		r.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": addr})
		go func(addr string, handler http.Handler) {
			if err := http.ListenAndServe(addr, handler); err != nil {
				r.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": addr})
			}
		}(addr, mux)
	}
}

// Close drains in-flight work bounded by the context's deadline, then tears
// down every adapter. New dispatches fail with ErrRuntimeClosed immediately.
func (r *Runtime) Close(ctx context.Context) error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}

	r.Logger.Info("Shutting down runtime", nil)

	drained := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(drained)
	}()

	var drainErr error
	select {
	case <-drained:
	case <-ctx.Done():
		drainErr = fmt.Errorf("hexroute: drain interrupted: %w", ctx.Err())
	}

	return errors.Join(drainErr, r.adapters.Close())
}

// HandlerRefs returns the registered handler references.
func (r *Runtime) HandlerRefs() []string {
	return r.loader.Refs()
}

// AdapterDescriptors returns the registered adapter descriptors.
func (r *Runtime) AdapterDescriptors() []adapter.Descriptor {
	return r.adapters.Descriptors()
}

// AdaptersByCapability returns the adapter names declaring a capability.
func (r *Runtime) AdaptersByCapability(capability string) []string {
	return r.adapters.ByCapability(capability)
}

// PortSnapshots returns the inspector view of every port that has seen
// traffic or carries a binding.
func (r *Runtime) PortSnapshots() []PortInfo {
	r.bindingsMu.RLock()
	refs := make(map[string]string, len(r.bindings))
	for name, b := range r.bindings {
		refs[name] = b.HandlerRef
	}
	r.bindingsMu.RUnlock()

	r.statsMu.RLock()
	defer r.statsMu.RUnlock()

	out := make([]PortInfo, 0, len(r.stats))
	for name, stats := range r.stats {
		out = append(out, PortInfo{Name: name, HandlerRef: refs[name], Stats: stats})
	}
	for name, ref := range refs {
		if _, seen := r.stats[name]; !seen {
			out = append(out, PortInfo{Name: name, HandlerRef: ref})
		}
	}
	return out
}

func (r *Runtime) binding(portName string) (*binding, error) {
	r.bindingsMu.RLock()
	defer r.bindingsMu.RUnlock()
	b, ok := r.bindings[portName]
	if !ok {
		return nil, &errspkg.ResolutionError{What: "binding", Name: portName}
	}
	return b, nil
}

func (r *Runtime) statsFor(portName string) *PortStats {
	r.statsMu.RLock()
	stats, ok := r.stats[portName]
	r.statsMu.RUnlock()
	if ok {
		return stats
	}

	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	if stats, ok := r.stats[portName]; ok {
		return stats
	}
	stats = newPortStats(portName, r.resourceTracker)
	r.stats[portName] = stats
	return stats
}

func (r *Runtime) gateFor(portName string, policy configpkg.BackpressurePolicy) *portGate {
	r.gatesMu.Lock()
	defer r.gatesMu.Unlock()

	if gate, ok := r.gates[portName]; ok {
		return gate
	}
	gate := &portGate{
		sem:   semaphore.NewWeighted(policy.MaxInFlight),
		mode:  policy.Mode,
		limit: policy.MaxInFlight,
	}
	r.gates[portName] = gate
	return gate
}

// effectivePolicies resolves a binding's overrides against the runtime
// defaults and normalizes the result.
func (r *Runtime) effectivePolicies(p configpkg.PortPolicies) (configpkg.RetryPolicy, time.Duration, configpkg.BackpressurePolicy) {
	retry := r.Conf.DefaultRetry
	if p.Retry != nil {
		retry = *p.Retry
	}

	timeout := r.Conf.DefaultTimeout
	if p.Timeout > 0 {
		timeout = p.Timeout
	}

	bp := r.Conf.DefaultBackpressure
	if p.Backpressure != nil {
		bp = *p.Backpressure
	}

	return retry.WithDefaults(), timeout, bp.WithDefaults()
}

// acquire claims a slot on the gate. Wait mode blocks bounded by the port's
// timeout policy; expiry of that bound is a TimeoutError, while cancellation
// of the caller's context stays a BackpressureError.
func (g *portGate) acquire(ctx context.Context, portName string, timeout time.Duration) error {
	if g.mode == configpkg.BackpressureReject {
		if !g.sem.TryAcquire(1) {
			return &errspkg.BackpressureError{PortName: portName, Limit: g.limit}
		}
		return nil
	}

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := g.sem.Acquire(waitCtx, 1); err != nil {
		if timeout > 0 && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return &errspkg.TimeoutError{PortName: portName, Limit: timeout}
		}
		return &errspkg.BackpressureError{PortName: portName, Limit: g.limit}
	}
	return nil
}

func (g *portGate) release() {
	g.sem.Release(1)
}
