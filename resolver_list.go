package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
)

// ListResolver resolves routes against an explicit table of route templates.
// Templates use chi syntax, so "users/{id}" and "users/{id:[0-9]+}" both work.
// Nothing is read from disk.
type ListResolver struct {
	mux     *chi.Mux
	modules map[string]Module
}

// NewListResolver compiles list. Templates that normalize to the same route
// or that chi rejects are reported as config errors.
func NewListResolver(list map[string]Module) (lr *ListResolver, err error) {
	lr = &ListResolver{mux: chi.NewMux(), modules: make(map[string]Module, len(list))}

	templates := make([]string, 0, len(list))
	for t := range list {
		templates = append(templates, t)
	}
	sort.Strings(templates)

	defer func() {
		// chi panics on malformed patterns
		if v := recover(); v != nil {
			lr, err = nil, ConfigError(fmt.Sprintf("invalid handlerList template: %v", v))
		}
	}()

	for _, t := range templates {
		pattern := "/" + cleanPath(t)
		if _, dup := lr.modules[pattern]; dup {
			return nil, ConfigError(fmt.Sprintf("handlerList template %q is declared twice", t))
		}
		lr.modules[pattern] = list[t]
		lr.mux.Handle(pattern, http.NotFoundHandler())
	}
	return lr, nil
}

// Resolve implements the Resolver interface.
func (l *ListResolver) Resolve(_ context.Context, req *Request) (Resolution, error) {
	rctx := chi.NewRouteContext()
	if !l.mux.Match(rctx, http.MethodGet, "/"+req.Route) {
		return Resolution{}, nil
	}
	pattern := rctx.RoutePattern()
	m, ok := l.modules[pattern]
	if !ok || m == nil {
		return Resolution{}, nil
	}
	params := make(map[string]string, len(rctx.URLParams.Keys))
	for i, k := range rctx.URLParams.Keys {
		params[k] = rctx.URLParams.Values[i]
	}
	return found(m, params, cleanPath(pattern)), nil
}

// Routes returns the declared templates in sorted order.
func (l *ListResolver) Routes(context.Context) ([]string, error) {
	out := make([]string, 0, len(l.modules))
	for p := range l.modules {
		out = append(out, cleanPath(p))
	}
	sort.Strings(out)
	return out, nil
}
