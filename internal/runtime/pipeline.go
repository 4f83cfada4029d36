package runtime

import (
	"context"
	"errors"

	"github.com/drblury/hexroute/envelope"
)

// StageFunc is the shape every pipeline stage and the terminal step share. A
// nil envelope with a nil error means the flow produced no result
// (fire-and-forget).
type StageFunc func(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error)

// Middleware wraps the remainder of the chain. A middleware that never calls
// next short-circuits processing; whatever it returns becomes the final value
// for that envelope.
type Middleware func(next StageFunc) StageFunc

// StageRegistration captures how a named stage is placed into a pipeline.
// Either Middleware or Builder must be set; Builder receives the runtime so
// stages can reach its registries and config.
type StageRegistration struct {
	Name       string
	Middleware Middleware
	Builder    func(*Runtime) (Middleware, error)
}

func (s StageRegistration) build(r *Runtime) (Middleware, error) {
	switch {
	case s.Middleware != nil:
		return s.Middleware, nil
	case s.Builder != nil:
		return s.Builder(r)
	default:
		return nil, errors.New("stage registration requires Middleware or Builder")
	}
}

// buildChain composes the registrations around a terminal step. Stages run in
// declared order: the first registration is the outermost wrapper.
func buildChain(r *Runtime, registrations []StageRegistration, terminal StageFunc) (StageFunc, error) {
	chain := terminal
	for i := len(registrations) - 1; i >= 0; i-- {
		mw, err := registrations[i].build(r)
		if err != nil {
			name := registrations[i].Name
			if name == "" {
				name = "anonymous_stage"
			}
			return nil, errors.New("building stage " + name + ": " + err.Error())
		}
		if mw == nil {
			// A builder may opt out (e.g. metrics disabled).
			continue
		}
		chain = mw(chain)
	}
	return chain, nil
}
