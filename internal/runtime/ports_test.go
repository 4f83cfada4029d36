package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/hexroute/envelope"
	errspkg "github.com/drblury/hexroute/internal/runtime/errors"
)

func TestPortRegistry_RegisterAndGet(t *testing.T) {
	reg := NewPortRegistry()

	err := reg.Register("notifications", func(args ...any) (*envelope.Envelope, error) {
		return envelope.NewOutbound("notifications", args[0]), nil
	})
	require.NoError(t, err)

	port, err := reg.Get("notifications")
	require.NoError(t, err)
	assert.Equal(t, "notifications", port.Name)

	env, err := port.Factory("payload")
	require.NoError(t, err)
	assert.Equal(t, "payload", env.Payload)
}

func TestPortRegistry_Validation(t *testing.T) {
	reg := NewPortRegistry()

	assert.ErrorIs(t, reg.Register("", func(args ...any) (*envelope.Envelope, error) { return nil, nil }), errspkg.ErrPortNameRequired)
	assert.ErrorIs(t, reg.Register("p", nil), errspkg.ErrFactoryRequired)
}

func TestPortRegistry_GetUnknown(t *testing.T) {
	reg := NewPortRegistry()

	_, err := reg.Get("missing")

	var resErr *errspkg.ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, "port", resErr.What)
}

func TestPortRegistry_ReRegisterReplaces(t *testing.T) {
	reg := NewPortRegistry()

	require.NoError(t, reg.Register("p", func(args ...any) (*envelope.Envelope, error) {
		return envelope.NewOutbound("p", "old"), nil
	}))
	require.NoError(t, reg.Register("p", func(args ...any) (*envelope.Envelope, error) {
		return envelope.NewOutbound("p", "new"), nil
	}))

	port, err := reg.Get("p")
	require.NoError(t, err)
	env, err := port.Factory()
	require.NoError(t, err)
	assert.Equal(t, "new", env.Payload)
}

func TestRouteRegistry_Register(t *testing.T) {
	reg := NewRouteRegistry()

	err := reg.Register(&Route{PortName: "orders", Strategy: StrategyBroadcast, Targets: []string{"a", "b"}})
	require.NoError(t, err)

	route, err := reg.Resolve("orders")
	require.NoError(t, err)
	assert.Equal(t, StrategyBroadcast, route.Strategy)
	assert.Equal(t, []string{"a", "b"}, route.Targets)
}

func TestRouteRegistry_EmptyStrategyDefaultsToFirst(t *testing.T) {
	reg := NewRouteRegistry()

	require.NoError(t, reg.Register(&Route{PortName: "p", Targets: []string{"a"}}))

	route, err := reg.Resolve("p")
	require.NoError(t, err)
	assert.Equal(t, StrategyFirst, route.Strategy)
}

func TestRouteRegistry_Validation(t *testing.T) {
	reg := NewRouteRegistry()

	assert.ErrorIs(t, reg.Register(nil), errspkg.ErrPortNameRequired)
	assert.ErrorIs(t, reg.Register(&Route{Targets: []string{"a"}}), errspkg.ErrPortNameRequired)
	assert.ErrorIs(t, reg.Register(&Route{PortName: "p"}), errspkg.ErrTargetsRequired)

	err := reg.Register(&Route{PortName: "p", Strategy: "weighted", Targets: []string{"a"}})
	var resErr *errspkg.ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, "strategy", resErr.What)
}

func TestRouteRegistry_ResolveUnknown(t *testing.T) {
	reg := NewRouteRegistry()

	_, err := reg.Resolve("missing")

	var resErr *errspkg.ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, "route", resErr.What)
}

func TestRoute_NextTargetRotates(t *testing.T) {
	route := &Route{PortName: "work", Strategy: StrategyRoundRobin, Targets: []string{"a", "b"}}

	assert.Equal(t, "a", route.NextTarget())
	assert.Equal(t, "b", route.NextTarget())
	assert.Equal(t, "a", route.NextTarget())
	assert.Equal(t, "b", route.NextTarget())
}

func TestRouteRegistry_Views(t *testing.T) {
	reg := NewRouteRegistry()
	require.NoError(t, reg.Register(&Route{PortName: "orders", Strategy: StrategyFirst, Targets: []string{"a"}, RequireAll: false}))

	views := reg.Views()
	require.Len(t, views, 1)
	assert.Equal(t, "orders", views[0].PortName)

	// The view carries a copy of the targets, not the live slice.
	views[0].Targets[0] = "mutated"
	route, err := reg.Resolve("orders")
	require.NoError(t, err)
	assert.Equal(t, "a", route.Targets[0])
}
