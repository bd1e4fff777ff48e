package gateway

import (
	"context"
	"fmt"
)

// RouteConfigProvider answers the router's questions about one resolved route.
type RouteConfigProvider interface {
	// Exists reports whether the route has a handler module.
	Exists() bool

	// MethodExists reports whether the module serves method.
	MethodExists(method string) bool

	// RequirementsFor returns the Requirement for method, or nil when the
	// handler declares none.
	RequirementsFor(method string) *Requirement

	// HandlerFor returns the function to invoke for method. Two-stage
	// handlers are built with req here.
	HandlerFor(method string, req *Request) HandlerFunc
}

// ConfigSource produces the RouteConfigProvider for a request. It may fill in
// req.PathParams and req.Handler. A *Error return is rendered as-is; any other
// error is treated as an unexpected failure.
type ConfigSource interface {
	Lookup(ctx context.Context, req *Request) (RouteConfigProvider, error)
}

// ConfigSourceFunc is a function adapter for ConfigSource.
type ConfigSourceFunc func(ctx context.Context, req *Request) (RouteConfigProvider, error)

// Lookup implements the ConfigSource interface.
func (f ConfigSourceFunc) Lookup(ctx context.Context, req *Request) (RouteConfigProvider, error) {
	return f(ctx, req)
}

// resolverSource is the default ConfigSource: it resolves the request with a
// Resolver and, with autoValidate, derives Requirements from the schema
// document.
type resolverSource struct {
	resolver Resolver
	deriver  RequirementDeriver
	strict   bool
}

func (s *resolverSource) Lookup(ctx context.Context, req *Request) (RouteConfigProvider, error) {
	res, err := s.resolver.Resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	if !res.Found() {
		return missingRoute{}, nil
	}
	for k, v := range res.Params {
		req.PathParams[k] = v
	}
	req.Handler = res.ModulePath

	rc := &moduleConfig{module: res.Module}
	if s.deriver != nil {
		derived, ok, err := s.deriver.DeriveRequirement(ctx, "/"+req.Route, req.Method, s.strict)
		if err != nil {
			return nil, fmt.Errorf("derive requirement for %s /%s: %w", req.Method, req.Route, err)
		}
		if ok {
			rc.derived = map[string]*Requirement{req.Method: derived}
		}
	}
	return rc, nil
}

type missingRoute struct{}

func (missingRoute) Exists() bool                           { return false }
func (missingRoute) MethodExists(string) bool               { return false }
func (missingRoute) RequirementsFor(string) *Requirement    { return nil }
func (missingRoute) HandlerFor(string, *Request) HandlerFunc { return nil }

// moduleConfig adapts a resolved Module. Derived requirements take precedence
// over the ones handlers declare.
type moduleConfig struct {
	module  Module
	derived map[string]*Requirement
}

func (c *moduleConfig) Exists() bool { return c.module != nil }

func (c *moduleConfig) MethodExists(method string) bool {
	_, ok := c.module.Lookup(method)
	return ok
}

func (c *moduleConfig) RequirementsFor(method string) *Requirement {
	if r, ok := c.derived[method]; ok {
		return r
	}
	h, ok := c.module.Lookup(method)
	if !ok {
		return nil
	}
	if rp, ok := h.(RequirementProvider); ok {
		return rp.Requirements()
	}
	return nil
}

func (c *moduleConfig) HandlerFor(method string, req *Request) HandlerFunc {
	h, ok := c.module.Lookup(method)
	if !ok {
		return nil
	}
	if b, ok := h.(Builder); ok {
		return b.Build(req)
	}
	if fn, ok := h.(HandlerFunc); ok {
		return fn
	}
	return h.Serve
}
