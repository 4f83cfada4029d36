// Package handlers holds the handler contract, the reference loader, and the
// typed JSON/proto builders that adapt business functions onto it.
package handlers

import (
	"context"
	"fmt"
	"sync"

	"github.com/drblury/hexroute/envelope"
	errspkg "github.com/drblury/hexroute/internal/runtime/errors"
)

// Handler is the uniform contract business logic is invoked through. A nil
// response envelope with a nil error means fire-and-forget: no response is
// produced.
type Handler func(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error)

// Factory lazily constructs a handler the first time its reference is
// resolved. Construction failures surface on first use, never silently.
type Factory func() (Handler, error)

// Loader resolves stable string references to handlers. It is the only place
// in the system permitted to look up handler code dynamically; adapters and
// the pipeline call only Resolve. The registration map is built at startup and
// successful resolutions are cached for the process lifetime.
type Loader struct {
	mu        sync.RWMutex
	factories map[string]Factory
	cache     map[string]Handler
}

// NewLoader creates an empty loader.
func NewLoader() *Loader {
	return &Loader{
		factories: make(map[string]Factory),
		cache:     make(map[string]Handler),
	}
}

// Register binds a reference to a callable. Accepted shapes:
//
//	Handler / func(context.Context, *envelope.Envelope) (*envelope.Envelope, error)
//	func(context.Context, *envelope.Envelope) error            (fire-and-forget)
//	func(*envelope.Envelope) (*envelope.Envelope, error)
//
// Anything else fails with a SignatureError.
func (l *Loader) Register(ref string, fn any) error {
	if ref == "" {
		return errspkg.ErrHandlerRefRequired
	}
	if fn == nil {
		return errspkg.ErrHandlerRequired
	}

	handler, err := coerceHandler(ref, fn)
	if err != nil {
		return err
	}
	l.RegisterFactory(ref, func() (Handler, error) { return handler, nil })
	return nil
}

// RegisterFactory binds a reference to a lazy constructor.
func (l *Loader) RegisterFactory(ref string, factory Factory) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.factories[ref] = factory
	delete(l.cache, ref)
}

// Resolve returns the handler bound to ref. The first successful resolution
// runs the factory; later calls return the cached handler without re-lookup.
func (l *Loader) Resolve(ref string) (Handler, error) {
	l.mu.RLock()
	if handler, ok := l.cache[ref]; ok {
		l.mu.RUnlock()
		return handler, nil
	}
	factory, ok := l.factories[ref]
	l.mu.RUnlock()

	if !ok {
		return nil, &errspkg.ResolutionError{What: "handler", Name: ref}
	}

	handler, err := factory()
	if err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, &errspkg.SignatureError{Ref: ref, Got: "nil handler from factory"}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	// Another goroutine may have resolved concurrently; first write wins so
	// every caller sees the same handler value.
	if cached, ok := l.cache[ref]; ok {
		return cached, nil
	}
	l.cache[ref] = handler
	return handler, nil
}

// Refs returns the registered handler references.
func (l *Loader) Refs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	refs := make([]string, 0, len(l.factories))
	for ref := range l.factories {
		refs = append(refs, ref)
	}
	return refs
}

func coerceHandler(ref string, fn any) (Handler, error) {
	switch h := fn.(type) {
	case Handler:
		return h, nil
	case func(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error):
		return h, nil
	case func(ctx context.Context, env *envelope.Envelope) error:
		return func(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error) {
			return nil, h(ctx, env)
		}, nil
	case func(env *envelope.Envelope) (*envelope.Envelope, error):
		return func(_ context.Context, env *envelope.Envelope) (*envelope.Envelope, error) {
			return h(env)
		}, nil
	default:
		return nil, &errspkg.SignatureError{Ref: ref, Got: fmt.Sprintf("%T", fn)}
	}
}
