package gateway

import (
	"context"
	"errors"
)

// Resolution is the outcome of resolving a route. A zero Resolution means the
// route has no handler module (not found); configuration failures are
// reported through the error return of Resolver.Resolve instead.
type Resolution struct {
	// Module is the resolved handler module.
	Module Module

	// Params holds the path parameters captured while resolving.
	Params map[string]string

	// ModulePath identifies the module (relative file path without extension
	// for filesystem resolvers, the route template for the list resolver).
	ModulePath string
}

// Found reports whether a handler module was resolved.
func (r Resolution) Found() bool {
	return r.Module != nil
}

// Resolver locates the handler module for a request.
//
// Resolve returns a zero Resolution when nothing matches and a *Error of kind
// KindConfig when the handler source is malformed. Resolve never mutates req;
// the router copies Params into Request.PathParams.
type Resolver interface {
	Resolve(ctx context.Context, req *Request) (Resolution, error)
}

// ResolverFunc is a function adapter for Resolver.
type ResolverFunc func(ctx context.Context, req *Request) (Resolution, error)

// Resolve implements the Resolver interface.
func (f ResolverFunc) Resolve(ctx context.Context, req *Request) (Resolution, error) {
	return f(ctx, req)
}

// RouteLister is implemented by resolvers that can enumerate the route
// templates they serve.
type RouteLister interface {
	Routes(ctx context.Context) ([]string, error)
}

// found builds a Resolution from a module and captured parameters.
func found(m Module, params map[string]string, modulePath string) Resolution {
	if params == nil {
		params = map[string]string{}
	}
	return Resolution{Module: m, Params: params, ModulePath: modulePath}
}

// load imports the module at modulePath, converting loader failures into
// config errors.
func load(ctx context.Context, loader ModuleLoader, modulePath string) (Module, error) {
	if loader == nil {
		return nil, ConfigError("a module loader is required for filesystem routing")
	}
	m, err := loader.Load(ctx, modulePath)
	if err != nil {
		return nil, errImport(modulePath, err)
	}
	if m == nil {
		return nil, errImport(modulePath, errEmptyModule)
	}
	return m, nil
}

var errEmptyModule = errors.New("module exports no handlers")
