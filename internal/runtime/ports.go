package runtime

import (
	"sync"

	"github.com/drblury/hexroute/envelope"
	configpkg "github.com/drblury/hexroute/internal/runtime/config"
	errspkg "github.com/drblury/hexroute/internal/runtime/errors"
)

// Strategy selects how a route spreads deliveries over its targets.
type Strategy string

const (
	// StrategyFirst tries targets in declared order and stops at the first
	// adapter that accepts delivery.
	StrategyFirst Strategy = "first"
	// StrategyBroadcast delivers to every target independently.
	StrategyBroadcast Strategy = "broadcast"
	// StrategyRoundRobin rotates through targets call by call.
	StrategyRoundRobin Strategy = "round_robin"
)

// PortFactory builds an outbound envelope from emit call arguments.
type PortFactory func(args ...any) (*envelope.Envelope, error)

// OutboundPort binds a logical port name to an envelope factory. The route of
// the same name decides where envelopes built here end up.
type OutboundPort struct {
	Name    string
	Factory PortFactory
}

// PortRegistry maps port names to outbound ports. Mutated at startup only.
type PortRegistry struct {
	mu    sync.RWMutex
	ports map[string]OutboundPort
}

// NewPortRegistry creates an empty port registry.
func NewPortRegistry() *PortRegistry {
	return &PortRegistry{ports: make(map[string]OutboundPort)}
}

// Register adds a port. Re-registering a name replaces the factory, matching
// startup-time wiring where the last registration wins.
func (r *PortRegistry) Register(name string, factory PortFactory) error {
	if name == "" {
		return errspkg.ErrPortNameRequired
	}
	if factory == nil {
		return errspkg.ErrFactoryRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.ports[name] = OutboundPort{Name: name, Factory: factory}
	return nil
}

// Get resolves a port by name.
func (r *PortRegistry) Get(name string) (OutboundPort, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	port, ok := r.ports[name]
	if !ok {
		return OutboundPort{}, &errspkg.ResolutionError{What: "port", Name: name}
	}
	return port, nil
}

// Names returns the registered port names.
func (r *PortRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ports))
	for name := range r.ports {
		names = append(names, name)
	}
	return names
}

// Route binds a port name to adapter targets plus a selection strategy and
// optional per-route policy overrides.
type Route struct {
	PortName string
	Strategy Strategy
	Targets  []string

	// RequireAll makes broadcast demand success from every target. The
	// default demands at least one.
	RequireAll bool

	// Policies override the runtime defaults for this route. Nil fields
	// inherit.
	Policies configpkg.PortPolicies

	// Round-robin cursor. The route owns its lock so two concurrent emits
	// never pick the same target out of turn.
	cursorMu sync.Mutex
	cursor   int
}

// NextTarget advances the round-robin cursor and returns the selected target.
func (r *Route) NextTarget() string {
	r.cursorMu.Lock()
	defer r.cursorMu.Unlock()
	target := r.Targets[r.cursor%len(r.Targets)]
	r.cursor++
	return target
}

// RouteView is the read-only shape of a route handed to the inspector.
type RouteView struct {
	PortName   string   `json:"port_name"`
	Strategy   Strategy `json:"strategy"`
	Targets    []string `json:"targets"`
	RequireAll bool     `json:"require_all"`
}

// RouteRegistry maps port names to routes. Mutated at startup only.
type RouteRegistry struct {
	mu     sync.RWMutex
	routes map[string]*Route
}

// NewRouteRegistry creates an empty route registry.
func NewRouteRegistry() *RouteRegistry {
	return &RouteRegistry{routes: make(map[string]*Route)}
}

// Register adds a route keyed by its port name.
func (r *RouteRegistry) Register(route *Route) error {
	if route == nil || route.PortName == "" {
		return errspkg.ErrPortNameRequired
	}
	if len(route.Targets) == 0 {
		return errspkg.ErrTargetsRequired
	}
	switch route.Strategy {
	case StrategyFirst, StrategyBroadcast, StrategyRoundRobin:
	case "":
		route.Strategy = StrategyFirst
	default:
		return &errspkg.ResolutionError{What: "strategy", Name: string(route.Strategy)}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[route.PortName] = route
	return nil
}

// Resolve returns the route for a port name.
func (r *RouteRegistry) Resolve(portName string) (*Route, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	route, ok := r.routes[portName]
	if !ok {
		return nil, &errspkg.ResolutionError{What: "route", Name: portName}
	}
	return route, nil
}

// Views returns read-only snapshots of every route for the inspector.
func (r *RouteRegistry) Views() []RouteView {
	r.mu.RLock()
	defer r.mu.RUnlock()

	views := make([]RouteView, 0, len(r.routes))
	for _, route := range r.routes {
		targets := make([]string, len(route.Targets))
		copy(targets, route.Targets)
		views = append(views, RouteView{
			PortName:   route.PortName,
			Strategy:   route.Strategy,
			Targets:    targets,
			RequireAll: route.RequireAll,
		})
	}
	return views
}
