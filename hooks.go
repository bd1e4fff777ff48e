package gateway

import (
	"context"
	"time"
)

// HookFunc is a lifecycle hook. It may mutate res (for example calling
// SetError to reject the request) or return an error, which is handled like
// a handler failure.
type HookFunc func(ctx context.Context, req *Request, res *Response) error

// ErrorHookFunc handles a failure raised by a hook or handler. err is the
// original error. The returned Response, when non-nil, replaces res; a zero
// Code on it means 200.
type ErrorHookFunc func(ctx context.Context, req *Request, res *Response, err error) *Response

// OnReceiveFunc is called when a request enters the router, before route
// resolution. The returned context is used for the rest of the request.
type OnReceiveFunc func(ctx context.Context, req *Request) context.Context

// OnDispatchFunc is called just before the handler executes.
type OnDispatchFunc func(ctx context.Context, req *Request)

// OnCompleteFunc is called once the final response is known, on every path.
type OnCompleteFunc func(ctx context.Context, req *Request, res *Response, duration time.Duration)

// OnFailureFunc is called when a hook or handler failed, after error
// handling produced the final response.
type OnFailureFunc func(ctx context.Context, req *Request, err error, duration time.Duration)

// OnNoSourceFunc is called by Handle when no event source understands the
// envelope. Return nil to answer with a 404, return an error to fail the
// invocation.
type OnNoSourceFunc func(ctx context.Context, raw []byte) error

// lifecycle holds the single-slot hooks. A nil field means the hook is not
// registered.
type lifecycle struct {
	beforeAll HookFunc
	withAuth  HookFunc
	afterAll  HookFunc
	onError   ErrorHookFunc
}

// hooks holds the observability hooks; each may be registered many times.
type hooks struct {
	onReceive  []OnReceiveFunc
	onDispatch []OnDispatchFunc
	onComplete []OnCompleteFunc
	onFailure  []OnFailureFunc
	onNoSource []OnNoSourceFunc
}

// Option configures a Router.
type Option func(*Router)

// WithBeforeAll sets the hook run once a handler is known to exist, before
// validation. Registering again replaces the previous hook.
//
// Example:
//
//	gateway.WithBeforeAll(func(ctx context.Context, req *gateway.Request, res *gateway.Response) error {
//	    if req.Headers["x-tenant"] == "" {
//	        res.Code = 400
//	        res.SetError("headers", "missing tenant")
//	    }
//	    return nil
//	})
func WithBeforeAll(fn HookFunc) Option {
	return func(r *Router) {
		r.lifecycle.beforeAll = fn
	}
}

// WithAuth sets the permission check run after beforeAll. A check that
// rejects the request sets an error on the response; validation and the
// handler are then skipped.
//
// Example:
//
//	gateway.WithAuth(func(ctx context.Context, req *gateway.Request, res *gateway.Response) error {
//	    if req.Headers["x-api-key"] != apiKey {
//	        res.Code = 403
//	        res.SetError("headers", "in appropriate api-key")
//	    }
//	    return nil
//	})
func WithAuth(fn HookFunc) Option {
	return func(r *Router) {
		r.lifecycle.withAuth = fn
	}
}

// WithAfterAll sets the hook run exactly once per request on every path,
// with the final response.
func WithAfterAll(fn HookFunc) Option {
	return func(r *Router) {
		r.lifecycle.afterAll = fn
	}
}

// WithOnError sets the failure handler. Without one, failures become
// a 500 "internal server error", except for *Error values which are rendered
// with their own code, key and message.
//
// Example:
//
//	gateway.WithOnError(func(ctx context.Context, req *gateway.Request, res *gateway.Response, err error) *gateway.Response {
//	    res.Code = 400
//	    res.SetError("server", err.Error())
//	    return res
//	})
func WithOnError(fn ErrorHookFunc) Option {
	return func(r *Router) {
		r.lifecycle.onError = fn
	}
}

// WithOnReceive adds a hook called when a request enters the router.
// Multiple hooks are called in order, with context chaining through each.
//
// Example:
//
//	gateway.WithOnReceive(func(ctx context.Context, req *gateway.Request) context.Context {
//	    return context.WithValue(ctx, requestIDKey{}, req.ID)
//	})
func WithOnReceive(fn OnReceiveFunc) Option {
	return func(r *Router) {
		r.hooks.onReceive = append(r.hooks.onReceive, fn)
	}
}

// WithOnDispatch adds a hook called just before the handler executes.
// Multiple hooks are called in order.
func WithOnDispatch(fn OnDispatchFunc) Option {
	return func(r *Router) {
		r.hooks.onDispatch = append(r.hooks.onDispatch, fn)
	}
}

// WithOnComplete adds a hook called with the final response of every request.
// Multiple hooks are called in order.
//
// Example:
//
//	gateway.WithOnComplete(func(ctx context.Context, req *gateway.Request, res *gateway.Response, d time.Duration) {
//	    latency.WithLabelValues(req.Handler).Observe(d.Seconds())
//	})
func WithOnComplete(fn OnCompleteFunc) Option {
	return func(r *Router) {
		r.hooks.onComplete = append(r.hooks.onComplete, fn)
	}
}

// WithOnFailure adds a hook called when a hook or handler failed.
// Multiple hooks are called in order.
func WithOnFailure(fn OnFailureFunc) Option {
	return func(r *Router) {
		r.hooks.onFailure = append(r.hooks.onFailure, fn)
	}
}

// WithOnNoSource adds a hook called when Handle receives an envelope no
// event source understands. Multiple hooks are called in order; first error
// wins.
func WithOnNoSource(fn OnNoSourceFunc) Option {
	return func(r *Router) {
		r.hooks.onNoSource = append(r.hooks.onNoSource, fn)
	}
}

// OnParseHook is an optional interface event sources can implement to enrich
// the context after they parse an envelope.
type OnParseHook interface {
	OnParse(ctx context.Context, ev Event) context.Context
}

// callOnReceive calls the OnReceive hooks in order.
func (r *Router) callOnReceive(ctx context.Context, req *Request) context.Context {
	for _, fn := range r.hooks.onReceive {
		ctx = fn(ctx, req)
	}
	return ctx
}

func (r *Router) callOnDispatch(ctx context.Context, req *Request) {
	for _, fn := range r.hooks.onDispatch {
		fn(ctx, req)
	}
}

func (r *Router) callOnComplete(ctx context.Context, req *Request, res *Response, d time.Duration) {
	for _, fn := range r.hooks.onComplete {
		fn(ctx, req, res, d)
	}
}

func (r *Router) callOnFailure(ctx context.Context, req *Request, err error, d time.Duration) {
	for _, fn := range r.hooks.onFailure {
		fn(ctx, req, err, d)
	}
}

// handleNoSource runs the OnNoSource hooks. Without hooks the envelope is
// rejected with ErrNoSource.
func (r *Router) handleNoSource(ctx context.Context, raw []byte) error {
	for _, fn := range r.hooks.onNoSource {
		if err := fn(ctx, raw); err != nil {
			return err
		}
	}
	if len(r.hooks.onNoSource) > 0 {
		return nil
	}
	return ErrNoSource
}
