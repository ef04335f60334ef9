package transport

import (
	"context"
	"strings"
	"sync"

	"github.com/bibfleet/fleet/pkg/apperr"
	"github.com/bibfleet/fleet/pkg/model"
)

// Handler opens a Session for one protocol name.
type Handler interface {
	Open(ctx context.Context, endpoint string, cfg model.PortConfiguration) (Session, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, endpoint string, cfg model.PortConfiguration) (Session, error)

func (f HandlerFunc) Open(ctx context.Context, endpoint string, cfg model.PortConfiguration) (Session, error) {
	return f(ctx, endpoint, cfg)
}

// Registry maps a lower-cased protocol name to the Handler that opens it.
// Constructed explicitly and passed to the orchestrator — never a global
// singleton (per spec.md §9's design note against global mutable
// registries), though DefaultRegistry below is a convenience package
// value nothing in this module reaches for implicitly.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: map[string]Handler{}}
}

// Register installs h under name, overwriting any previous registration.
func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[strings.ToLower(name)] = h
}

// Open resolves name and opens a Session. An unregistered protocol name
// is a configuration error reported here, at open time, not at
// registration time (spec.md §4.C).
func (r *Registry) Open(ctx context.Context, endpoint string, cfg model.PortConfiguration) (Session, error) {
	r.mu.RLock()
	h, ok := r.handlers[strings.ToLower(cfg.Protocol)]
	r.mu.RUnlock()
	if !ok {
		return nil, apperr.New(apperr.UnsupportedProtocol, "no handler registered for protocol "+cfg.Protocol)
	}
	sess, err := h.Open(ctx, endpoint, cfg)
	if err != nil {
		if _, ok := apperr.KindOf(err); ok {
			return nil, err
		}
		return nil, apperr.Wrap(apperr.SessionOpenFailed, "open "+endpoint, err)
	}
	return sess, nil
}

// DefaultRegistry is pre-populated with rs232 and spi. It is a
// convenience for callers who don't need a custom set of handlers; the
// orchestrator always takes a *Registry explicitly.
var DefaultRegistry = newDefaultRegistry()

func newDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("rs232", HandlerFunc(openRS232))
	r.Register("spi", HandlerFunc(openSPI))
	return r
}
