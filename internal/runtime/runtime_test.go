package runtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/hexroute/adapter"
	"github.com/drblury/hexroute/envelope"
	configpkg "github.com/drblury/hexroute/internal/runtime/config"
	errspkg "github.com/drblury/hexroute/internal/runtime/errors"
)

type fakeOutbound struct {
	mu   sync.Mutex
	sent []*envelope.Envelope
	fail error
}

func (f *fakeOutbound) Send(ctx context.Context, env *envelope.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeOutbound) Close() error { return nil }

func (f *fakeOutbound) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func outboundBuilder(out adapter.Outbound) adapter.Builder {
	return func(ctx context.Context, desc adapter.Descriptor, logger watermill.LoggerAdapter) (adapter.Instance, error) {
		return adapter.Instance{Outbound: out}, nil
	}
}

func newTestRuntime(t *testing.T, conf *configpkg.Config, deps Dependencies) *Runtime {
	t.Helper()
	if conf == nil {
		conf = &configpkg.Config{}
	}
	if deps.Builders == nil {
		deps.Builders = adapter.NewRegistry()
	}
	r, err := TryNew(conf, testLogger(), deps)
	require.NoError(t, err)
	return r
}

func registerFakeOutbound(t *testing.T, r *Runtime, name string, fake *fakeOutbound) {
	t.Helper()
	r.builders.Register("fake-"+name, outboundBuilder(fake))
	err := r.RegisterAdapter(context.Background(), adapter.Descriptor{
		Name:      name,
		Direction: adapter.DirectionOutbound,
		Impl:      "fake-" + name,
	})
	require.NoError(t, err)
}

func TestTryNew_Validation(t *testing.T) {
	_, err := TryNew(nil, testLogger(), Dependencies{})
	assert.ErrorIs(t, err, errspkg.ErrConfigRequired)

	_, err = TryNew(&configpkg.Config{}, nil, Dependencies{})
	assert.ErrorIs(t, err, errspkg.ErrLoggerRequired)

	_, err = TryNew(&configpkg.Config{MetricsPort: 99999}, testLogger(), Dependencies{})
	assert.Error(t, err)
}

func TestRuntime_DispatchRoundTrip(t *testing.T) {
	r := newTestRuntime(t, nil, Dependencies{})

	require.NoError(t, r.RegisterHandler("orders.confirm", func(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error) {
		return env.WithDirection(envelope.DirectionOutbound).WithPort("confirmations").WithPayload("confirmed"), nil
	}))
	require.NoError(t, r.BindInbound("orders", "orders.confirm", configpkg.PortPolicies{}))

	in := envelope.New("orders", "pending")
	out, err := r.Dispatch(context.Background(), in)

	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, "confirmed", out.Payload)
	assert.Equal(t, in.ID, out.ID, "response keeps the inbound identity")
	assert.NotEmpty(t, out.TraceID)
	assert.Equal(t, envelope.DirectionOutbound, out.Direction)
}

func TestRuntime_DispatchUnknownBinding(t *testing.T) {
	r := newTestRuntime(t, nil, Dependencies{})

	out, err := r.Dispatch(context.Background(), envelope.New("nowhere", nil))

	require.NoError(t, err, "resolution failures surface as error envelopes")
	require.NotNil(t, out)
	assert.True(t, out.IsError())
	assert.Equal(t, string(errspkg.KindResolution), out.Error.Kind)
	assert.False(t, out.Error.Retryable)
}

func TestRuntime_DispatchHandlerFailureBecomesErrorEnvelope(t *testing.T) {
	r := newTestRuntime(t, nil, Dependencies{})

	require.NoError(t, r.RegisterHandler("orders.fail", func(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error) {
		return nil, errors.New("downstream unavailable")
	}))
	require.NoError(t, r.BindInbound("orders", "orders.fail", configpkg.PortPolicies{
		Retry: &configpkg.RetryPolicy{MaxAttempts: 1, InitialInterval: time.Millisecond},
	}))

	in := envelope.New("orders", nil)
	out, err := r.Dispatch(context.Background(), in)

	require.NoError(t, err)
	require.NotNil(t, out)
	assert.True(t, out.IsError())
	assert.Equal(t, string(errspkg.KindHandler), out.Error.Kind)
	assert.Equal(t, in.ID, out.ID)
	assert.Contains(t, out.Error.Message, "downstream unavailable")
}

func TestRuntime_DispatchFireAndForget(t *testing.T) {
	r := newTestRuntime(t, nil, Dependencies{})
	seen := make(chan struct{}, 1)

	require.NoError(t, r.RegisterHandler("audit.record", func(ctx context.Context, env *envelope.Envelope) error {
		seen <- struct{}{}
		return nil
	}))
	require.NoError(t, r.BindInbound("audit", "audit.record", configpkg.PortPolicies{}))

	out, err := r.Dispatch(context.Background(), envelope.New("audit", nil))

	require.NoError(t, err)
	assert.Nil(t, out)
	assert.Len(t, seen, 1)
}

func TestRuntime_BackpressureRejectIsSynchronous(t *testing.T) {
	r := newTestRuntime(t, nil, Dependencies{})

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, r.RegisterHandler("orders.slow", func(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error) {
		close(started)
		<-release
		return env, nil
	}))
	require.NoError(t, r.BindInbound("orders", "orders.slow", configpkg.PortPolicies{
		Backpressure: &configpkg.BackpressurePolicy{MaxInFlight: 1, Mode: configpkg.BackpressureReject},
	}))

	go func() {
		_, _ = r.Dispatch(context.Background(), envelope.New("orders", nil))
	}()
	<-started

	out, err := r.Dispatch(context.Background(), envelope.New("orders", nil))
	close(release)

	assert.Nil(t, out)
	var bp *errspkg.BackpressureError
	require.ErrorAs(t, err, &bp)
	assert.Equal(t, "orders", bp.PortName)
	assert.EqualValues(t, 1, bp.Limit)
}

func TestRuntime_DispatchBareEnvelopeFailureKeepsEnrichedIdentity(t *testing.T) {
	r := newTestRuntime(t, nil, Dependencies{})

	require.NoError(t, r.RegisterHandler("orders.fail", func(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error) {
		return nil, errors.New("downstream unavailable")
	}))
	require.NoError(t, r.BindInbound("orders", "orders.fail", configpkg.PortPolicies{
		Retry: &configpkg.RetryPolicy{MaxAttempts: 1, InitialInterval: time.Millisecond},
	}))

	out, err := r.Dispatch(context.Background(), &envelope.Envelope{PortName: "orders"})

	require.NoError(t, err)
	require.NotNil(t, out)
	assert.True(t, out.IsError())
	assert.Equal(t, string(errspkg.KindHandler), out.Error.Kind)
	assert.NotEmpty(t, out.ID, "error envelope carries the generated id")
	assert.NotEmpty(t, out.TraceID, "error envelope carries the generated trace")
}

func TestRuntime_DispatchTimeoutBecomesErrorEnvelope(t *testing.T) {
	r := newTestRuntime(t, nil, Dependencies{})

	require.NoError(t, r.RegisterHandler("orders.stall", func(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	require.NoError(t, r.BindInbound("orders", "orders.stall", configpkg.PortPolicies{
		Retry:   &configpkg.RetryPolicy{MaxAttempts: 1, InitialInterval: time.Millisecond},
		Timeout: 30 * time.Millisecond,
	}))

	out, err := r.Dispatch(context.Background(), &envelope.Envelope{PortName: "orders"})

	require.NoError(t, err)
	require.NotNil(t, out)
	assert.True(t, out.IsError())
	assert.Equal(t, string(errspkg.KindTimeout), out.Error.Kind)
	assert.True(t, out.Error.Retryable)
	assert.NotEmpty(t, out.ID)
	assert.NotEmpty(t, out.TraceID)
}

func TestRuntime_BackpressureWaitHonorsPortTimeout(t *testing.T) {
	r := newTestRuntime(t, nil, Dependencies{})

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, r.RegisterHandler("orders.slow", func(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error) {
		close(started)
		<-release
		return env, nil
	}))
	require.NoError(t, r.BindInbound("orders", "orders.slow", configpkg.PortPolicies{
		Retry:        &configpkg.RetryPolicy{MaxAttempts: 1, InitialInterval: time.Millisecond},
		Timeout:      50 * time.Millisecond,
		Backpressure: &configpkg.BackpressurePolicy{MaxInFlight: 1, Mode: configpkg.BackpressureWait},
	}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = r.Dispatch(context.Background(), envelope.New("orders", nil))
	}()
	<-started

	start := time.Now()
	out, err := r.Dispatch(context.Background(), envelope.New("orders", nil))
	close(release)
	<-done

	require.NoError(t, err)
	require.NotNil(t, out)
	assert.True(t, out.IsError())
	assert.Equal(t, string(errspkg.KindTimeout), out.Error.Kind)
	assert.Less(t, time.Since(start), 2*time.Second, "wait-mode admission is bounded by the port timeout")
}

func TestRuntime_CloseConcurrentWithDispatchDrains(t *testing.T) {
	r := newTestRuntime(t, nil, Dependencies{})

	var closeReturned atomic.Bool
	var lateStarts atomic.Int64
	require.NoError(t, r.RegisterHandler("orders.ok", func(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error) {
		if closeReturned.Load() {
			lateStarts.Add(1)
		}
		return env, nil
	}))
	require.NoError(t, r.BindInbound("orders", "orders.ok", configpkg.PortPolicies{}))

	const workers = 16
	unexpected := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				_, err := r.Dispatch(context.Background(), envelope.New("orders", nil))
				if err != nil {
					if !errors.Is(err, errspkg.ErrRuntimeClosed) {
						unexpected <- err
					}
					return
				}
			}
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Close(ctx))
	closeReturned.Store(true)
	wg.Wait()
	close(unexpected)

	for err := range unexpected {
		t.Errorf("dispatch failed with unexpected error: %v", err)
	}
	assert.EqualValues(t, 0, lateStarts.Load(), "no handler starts once close has drained")
}

func TestRuntime_DeliverFirstStrategy(t *testing.T) {
	r := newTestRuntime(t, nil, Dependencies{})

	broken := &fakeOutbound{fail: errors.New("connection refused")}
	healthy := &fakeOutbound{}
	registerFakeOutbound(t, r, "primary", broken)
	registerFakeOutbound(t, r, "fallback", healthy)

	require.NoError(t, r.RegisterRoute(&Route{
		PortName: "notifications",
		Strategy: StrategyFirst,
		Targets:  []string{"primary", "fallback"},
	}))

	out, err := r.Deliver(context.Background(), envelope.NewOutbound("notifications", "hi"))

	require.NoError(t, err)
	require.NotNil(t, out)
	assert.False(t, out.IsError())
	assert.Equal(t, 1, healthy.sentCount())
}

func TestRuntime_DeliverFirstAllTargetsFail(t *testing.T) {
	r := newTestRuntime(t, nil, Dependencies{})

	registerFakeOutbound(t, r, "a", &fakeOutbound{fail: errors.New("down")})
	registerFakeOutbound(t, r, "b", &fakeOutbound{fail: errors.New("also down")})

	require.NoError(t, r.RegisterRoute(&Route{PortName: "p", Strategy: StrategyFirst, Targets: []string{"a", "b"}}))

	out, err := r.Deliver(context.Background(), envelope.NewOutbound("p", nil))

	require.NoError(t, err)
	require.NotNil(t, out)
	assert.True(t, out.IsError())
	assert.Equal(t, string(errspkg.KindDelivery), out.Error.Kind)
	assert.True(t, out.Error.Retryable)
}

func TestRuntime_DeliverBroadcastPartialFailure(t *testing.T) {
	r := newTestRuntime(t, nil, Dependencies{})

	healthy := &fakeOutbound{}
	registerFakeOutbound(t, r, "good", healthy)
	registerFakeOutbound(t, r, "bad", &fakeOutbound{fail: errors.New("down")})

	require.NoError(t, r.RegisterRoute(&Route{
		PortName: "audit",
		Strategy: StrategyBroadcast,
		Targets:  []string{"good", "bad"},
	}))

	out, err := r.Deliver(context.Background(), envelope.NewOutbound("audit", nil))

	require.NoError(t, err)
	assert.False(t, out.IsError(), "partial broadcast succeeds without RequireAll")
	assert.Equal(t, 1, healthy.sentCount())
}

func TestRuntime_DeliverBroadcastRequireAll(t *testing.T) {
	r := newTestRuntime(t, nil, Dependencies{})

	registerFakeOutbound(t, r, "good", &fakeOutbound{})
	registerFakeOutbound(t, r, "bad", &fakeOutbound{fail: errors.New("down")})

	require.NoError(t, r.RegisterRoute(&Route{
		PortName:   "audit",
		Strategy:   StrategyBroadcast,
		Targets:    []string{"good", "bad"},
		RequireAll: true,
	}))

	out, err := r.Deliver(context.Background(), envelope.NewOutbound("audit", nil))

	require.NoError(t, err)
	assert.True(t, out.IsError())
	assert.Equal(t, string(errspkg.KindDelivery), out.Error.Kind)
}

func TestRuntime_DeliverRoundRobinAlternates(t *testing.T) {
	r := newTestRuntime(t, nil, Dependencies{})

	first := &fakeOutbound{}
	second := &fakeOutbound{}
	registerFakeOutbound(t, r, "worker-a", first)
	registerFakeOutbound(t, r, "worker-b", second)

	require.NoError(t, r.RegisterRoute(&Route{
		PortName: "work",
		Strategy: StrategyRoundRobin,
		Targets:  []string{"worker-a", "worker-b"},
	}))

	for i := 0; i < 4; i++ {
		_, err := r.Deliver(context.Background(), envelope.NewOutbound("work", i))
		require.NoError(t, err)
	}

	assert.Equal(t, 2, first.sentCount())
	assert.Equal(t, 2, second.sentCount())
}

func TestRuntime_Emit(t *testing.T) {
	r := newTestRuntime(t, nil, Dependencies{})

	sink := &fakeOutbound{}
	registerFakeOutbound(t, r, "sink", sink)

	require.NoError(t, r.RegisterPort("events", func(args ...any) (*envelope.Envelope, error) {
		return envelope.NewOutbound("events", args[0]), nil
	}))
	require.NoError(t, r.RegisterRoute(&Route{PortName: "events", Targets: []string{"sink"}}))

	out, err := r.Emit(context.Background(), "events", "payload")

	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, 1, sink.sentCount())
	assert.Equal(t, "payload", sink.sent[0].Payload)
}

func TestRuntime_EmitUnknownPort(t *testing.T) {
	r := newTestRuntime(t, nil, Dependencies{})

	_, err := r.Emit(context.Background(), "missing")

	var resErr *errspkg.ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, "port", resErr.What)
}

func TestRuntime_RegisterAdapterDuplicate(t *testing.T) {
	r := newTestRuntime(t, nil, Dependencies{})

	registerFakeOutbound(t, r, "sink", &fakeOutbound{})

	r.builders.Register("fake-sink2", outboundBuilder(&fakeOutbound{}))
	err := r.RegisterAdapter(context.Background(), adapter.Descriptor{
		Name:      "sink",
		Direction: adapter.DirectionOutbound,
		Impl:      "fake-sink2",
	})

	var dup *errspkg.DuplicateAdapterError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "sink", dup.Name)
}

func TestRuntime_RegisterAdapterUnknownImpl(t *testing.T) {
	r := newTestRuntime(t, nil, Dependencies{})

	err := r.RegisterAdapter(context.Background(), adapter.Descriptor{
		Name:      "x",
		Direction: adapter.DirectionOutbound,
		Impl:      "does-not-exist",
	})

	var creation *errspkg.AdapterCreationError
	require.ErrorAs(t, err, &creation)
}

func TestRuntime_CloseRejectsNewWork(t *testing.T) {
	r := newTestRuntime(t, nil, Dependencies{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Close(ctx))

	_, err := r.Dispatch(context.Background(), envelope.New("orders", nil))
	assert.ErrorIs(t, err, errspkg.ErrRuntimeClosed)

	_, err = r.Deliver(context.Background(), envelope.NewOutbound("orders", nil))
	assert.ErrorIs(t, err, errspkg.ErrRuntimeClosed)

	assert.NoError(t, r.Close(ctx), "second close is a no-op")
}

func TestRuntime_HooksFireAroundExecution(t *testing.T) {
	var mu sync.Mutex
	var events []string
	hooks := DispatchHooks{
		OnStart: func(dc DispatchContext) {
			mu.Lock()
			events = append(events, "start:"+dc.PortName)
			mu.Unlock()
		},
		OnDone: func(dc DispatchContext) {
			mu.Lock()
			events = append(events, "done:"+dc.HandlerRef)
			mu.Unlock()
		},
		OnError: func(dc DispatchContext, err error) {
			mu.Lock()
			events = append(events, "error")
			mu.Unlock()
		},
	}
	r := newTestRuntime(t, nil, Dependencies{Hooks: hooks})

	require.NoError(t, r.RegisterHandler("orders.ok", func(env *envelope.Envelope) (*envelope.Envelope, error) {
		return nil, nil
	}))
	require.NoError(t, r.BindInbound("orders", "orders.ok", configpkg.PortPolicies{}))

	_, err := r.Dispatch(context.Background(), envelope.New("orders", nil))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"start:orders", "done:orders.ok"}, events)
}

func TestRuntime_PortStatsTrackTraffic(t *testing.T) {
	r := newTestRuntime(t, nil, Dependencies{})

	require.NoError(t, r.RegisterHandler("orders.ok", func(env *envelope.Envelope) (*envelope.Envelope, error) {
		return env, nil
	}))
	require.NoError(t, r.BindInbound("orders", "orders.ok", configpkg.PortPolicies{}))

	for i := 0; i < 3; i++ {
		_, err := r.Dispatch(context.Background(), envelope.New("orders", i))
		require.NoError(t, err)
	}

	snapshots := r.PortSnapshots()
	require.Len(t, snapshots, 1)
	assert.Equal(t, "orders", snapshots[0].Name)
	assert.Equal(t, "orders.ok", snapshots[0].HandlerRef)
	require.NotNil(t, snapshots[0].Stats)
	assert.EqualValues(t, 3, snapshots[0].Stats.EnvelopesProcessed)
	assert.EqualValues(t, 0, snapshots[0].Stats.EnvelopesFailed)
}

func TestRuntime_EffectivePoliciesInheritDefaults(t *testing.T) {
	conf := &configpkg.Config{
		DefaultRetry:        configpkg.RetryPolicy{MaxAttempts: 7},
		DefaultTimeout:      2 * time.Second,
		DefaultBackpressure: configpkg.BackpressurePolicy{MaxInFlight: 16, Mode: configpkg.BackpressureReject},
	}
	r := newTestRuntime(t, conf, Dependencies{})

	retry, timeout, bp := r.effectivePolicies(configpkg.PortPolicies{})
	assert.Equal(t, 7, retry.MaxAttempts)
	assert.Equal(t, 2*time.Second, timeout)
	assert.EqualValues(t, 16, bp.MaxInFlight)
	assert.Equal(t, configpkg.BackpressureReject, bp.Mode)

	override := configpkg.PortPolicies{
		Retry:   &configpkg.RetryPolicy{MaxAttempts: 1},
		Timeout: 50 * time.Millisecond,
	}
	retry, timeout, bp = r.effectivePolicies(override)
	assert.Equal(t, 1, retry.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, timeout)
	assert.EqualValues(t, 16, bp.MaxInFlight, "unset fields inherit defaults")
}
