package gateway

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Handler serves one verb of a route.
//
// The returned Response replaces res when non-nil, with a zero Code read as
// 200; returning nil keeps res (which the handler may have mutated). A returned error is treated as an
// unexpected failure and routed to the onError hook.
type Handler interface {
	Serve(ctx context.Context, req *Request, res *Response) (*Response, error)
}

// HandlerFunc is a function adapter for Handler:
//
//	gateway.Module{
//	    "get": gateway.HandlerFunc(func(ctx context.Context, req *gateway.Request, res *gateway.Response) (*gateway.Response, error) {
//	        res.Body = map[string]any{"ok": true}
//	        return res, nil
//	    }),
//	}
type HandlerFunc func(ctx context.Context, req *Request, res *Response) (*Response, error)

// Serve implements the Handler interface.
func (f HandlerFunc) Serve(ctx context.Context, req *Request, res *Response) (*Response, error) {
	return f(ctx, req, res)
}

// Endpoint pairs a handler function with the Requirement it declares.
type Endpoint struct {
	Requirement *Requirement
	Handle      HandlerFunc
}

// Serve implements the Handler interface.
func (e Endpoint) Serve(ctx context.Context, req *Request, res *Response) (*Response, error) {
	return e.Handle(ctx, req, res)
}

// Requirements implements RequirementProvider.
func (e Endpoint) Requirements() *Requirement { return e.Requirement }

// Builder is implemented by two-stage handlers: the router asks for the
// handler function only once the request is known.
type Builder interface {
	Build(req *Request) HandlerFunc
}

// Staged returns a two-stage handler. build is called with the request after
// validation to obtain the function to invoke.
//
//	"put": gateway.Staged(&gateway.Requirement{RequiredQuery: []string{"id"}},
//	    func(req *gateway.Request) gateway.HandlerFunc {
//	        return updateHandler(req.Query["id"])
//	    }),
func Staged(req *Requirement, build func(*Request) HandlerFunc) Handler {
	return &staged{requirement: req, build: build}
}

type staged struct {
	requirement *Requirement
	build       func(*Request) HandlerFunc
}

func (s *staged) Requirements() *Requirement      { return s.requirement }
func (s *staged) Build(req *Request) HandlerFunc { return s.build(req) }

func (s *staged) Serve(ctx context.Context, req *Request, res *Response) (*Response, error) {
	return s.build(req)(ctx, req, res)
}

// Module is a handler module: a mapping from lowercase HTTP verb to Handler.
type Module map[string]Handler

// Lookup returns the handler registered for method, matched case-insensitively.
func (m Module) Lookup(method string) (Handler, bool) {
	h, ok := m[strings.ToLower(method)]
	if !ok || h == nil {
		return nil, false
	}
	return h, true
}

// Methods returns the registered verbs in sorted order.
func (m Module) Methods() []string {
	out := make([]string, 0, len(m))
	for k, h := range m {
		if h != nil {
			out = append(out, strings.ToLower(k))
		}
	}
	sort.Strings(out)
	return out
}

// ModuleLoader imports the handler module found at a resolved path. Paths are
// relative to the handler root with the file extension removed, e.g.
// "users/{id}".
type ModuleLoader interface {
	Load(ctx context.Context, path string) (Module, error)
}

// ModuleLoaderFunc is a function adapter for ModuleLoader.
type ModuleLoaderFunc func(ctx context.Context, path string) (Module, error)

// Load implements the ModuleLoader interface.
func (f ModuleLoaderFunc) Load(ctx context.Context, path string) (Module, error) {
	return f(ctx, path)
}

// Registry is a ModuleLoader backed by modules registered at init time,
// the way database/sql drivers register themselves:
//
//	func init() {
//	    handlers.Register("users/{id}", gateway.Module{"get": getUser})
//	}
//
// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]Module
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{modules: make(map[string]Module)}
}

// Register associates a module with a path. Leading and trailing slashes are
// ignored. Registering the same path twice panics.
func (r *Registry) Register(path string, m Module) {
	path = cleanPath(path)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.modules[path]; dup {
		panic(fmt.Sprintf("gateway: module registered twice for %q", path))
	}
	r.modules[path] = m
}

// Load implements the ModuleLoader interface.
func (r *Registry) Load(_ context.Context, path string) (Module, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[cleanPath(path)]
	if !ok {
		return nil, fmt.Errorf("no module registered for %q", path)
	}
	return m, nil
}

// Paths returns the registered paths in sorted order.
func (r *Registry) Paths() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.modules))
	for p := range r.modules {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
