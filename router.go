package gateway

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Router resolves requests to handler modules and runs the request lifecycle:
//
//  1. Resolve the route (404 when no module exists, 403 when the module
//     does not serve the verb)
//  2. Run beforeAll, then withAuth
//  3. Validate the request against the route's Requirement
//  4. Invoke the handler
//  5. Validate the response body when the Requirement declares one
//  6. Run afterAll, exactly once, on every path
//
// Failures raised by hooks or handlers, including panics, are passed to the
// onError hook, at most once per request. Without onError an *Error built
// with NewError is rendered as-is and anything else as a 500. Route never
// returns a raw failure.
//
// Router is safe for concurrent use once constructed.
type Router struct {
	config    Config
	configErr *Error

	source            ConfigSource
	resolver          Resolver
	cache             *CachingResolver
	engine            SchemaEngine
	validator         *Validator
	responseValidator ResponseValidator
	loader            ModuleLoader
	provider          PathProvider
	logger            *zap.Logger
	autoValidate      bool

	inspector Inspector
	sources   []EventSource

	// Adaptive ordering: try the last matching event source first
	lastMatch atomic.Value // stores string

	lifecycle lifecycle
	hooks     hooks
}

// New creates a Router for cfg.
//
// A configuration problem (an invalid Config, an unreadable schema document,
// a malformed handlerList) does not prevent construction: every request is
// answered with the resulting 500 "router-config" error. Use Err to fail fast
// at startup instead.
//
// Example:
//
//	registry := gateway.NewRegistry()
//	registry.Register("users/{id}", gateway.Module{"get": getUser})
//
//	r := gateway.New(gateway.Config{
//	    BasePath:    "v1",
//	    HandlerPath: "handlers",
//	    SchemaPath:  "openapi.yml",
//	    CacheMode:   gateway.CacheAll,
//	},
//	    gateway.WithModuleLoader(registry),
//	    gateway.WithLogger(logger),
//	)
//	if err := r.Err(); err != nil {
//	    log.Fatal(err)
//	}
func New(cfg Config, opts ...Option) *Router {
	r := &Router{
		config:    cfg.withDefaults(),
		logger:    zap.NewNop(),
		inspector: JSONInspector(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if len(r.sources) == 0 {
		r.sources = DefaultSources()
	}
	if err := r.init(); err != nil {
		e, ok := asError(err)
		if !ok {
			e = ConfigError(err.Error()).wrap(err)
		}
		r.configErr = e
		r.logger.Error("invalid router configuration", zap.Error(err))
	}
	return r
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(r *Router) {
		r.logger = l
	}
}

// WithConfigSource replaces route resolution entirely. Config's handler
// fields, cache settings and autoValidate are then ignored: Requirements come
// from the source alone.
func WithConfigSource(s ConfigSource) Option {
	return func(r *Router) {
		r.source = s
	}
}

// WithResolver replaces the resolver built from Config's handler fields.
// The resolution cache still applies when CacheMode is set.
func WithResolver(res Resolver) Option {
	return func(r *Router) {
		r.resolver = res
	}
}

// WithModuleLoader sets how filesystem resolvers import handler modules.
func WithModuleLoader(l ModuleLoader) Option {
	return func(r *Router) {
		r.loader = l
	}
}

// WithPathProvider sets where filesystem resolvers list handler trees. The
// default reads the working directory.
func WithPathProvider(p PathProvider) Option {
	return func(r *Router) {
		r.provider = p
	}
}

// WithSchemaEngine sets the schema engine used for body contracts and
// OpenAPI validation. Without it, one is loaded from Config.SchemaPath.
func WithSchemaEngine(e SchemaEngine) Option {
	return func(r *Router) {
		r.engine = e
	}
}

// WithResponseValidator replaces the response validator.
func WithResponseValidator(v ResponseValidator) Option {
	return func(r *Router) {
		r.responseValidator = v
	}
}

// WithInspector sets the inspector Handle uses to match event sources.
func WithInspector(i Inspector) Option {
	return func(r *Router) {
		r.inspector = i
	}
}

// WithEventSources adds envelope formats Handle understands, in matching
// order. Without any, DefaultSources are used.
func WithEventSources(sources ...EventSource) Option {
	return func(r *Router) {
		r.sources = append(r.sources, sources...)
	}
}

func (r *Router) init() error {
	if r.engine == nil && r.config.SchemaPath != "" {
		engine, err := LoadOpenAPIEngine(r.config.SchemaPath)
		if err != nil {
			return ConfigError(fmt.Sprintf("cannot load schemaPath %s: %v", r.config.SchemaPath, err)).wrap(err)
		}
		r.engine = engine
	}
	r.validator = NewValidator(r.engine)
	if r.responseValidator == nil {
		r.responseValidator = NewResponseValidator(r.engine)
	}

	if r.source != nil {
		return nil
	}

	if r.resolver == nil {
		if err := r.config.Validate(); err != nil {
			return err
		}
		res, err := r.newResolver()
		if err != nil {
			return err
		}
		r.resolver = res
	}
	if r.config.CacheMode != "" {
		r.cache = NewCachingResolver(r.resolver, r.config.CacheMode, r.config.CacheSize)
		r.resolver = r.cache
	}

	src := &resolverSource{resolver: r.resolver, strict: r.config.StrictValidation}
	if r.config.AutoValidate {
		d, ok := r.engine.(RequirementDeriver)
		if !ok {
			return ConfigError("autoValidate requires a schema document (schemaPath)")
		}
		src.deriver = d
		r.autoValidate = true
	}
	r.source = src
	return nil
}

func (r *Router) newResolver() (Resolver, error) {
	provider := r.provider
	if provider == nil {
		provider = NewFSProvider(os.DirFS("."))
	}
	switch r.config.RoutingMode {
	case RoutingPattern:
		return NewPatternResolver(r.config.HandlerPattern, provider, r.loader)
	case RoutingList:
		return NewListResolver(r.config.HandlerList)
	default:
		return NewDirectoryResolver(r.config.HandlerPath, provider, r.loader), nil
	}
}

// Err returns the configuration error every request is answered with, or
// nil when the Router is usable.
func (r *Router) Err() error {
	if r.configErr == nil {
		return nil
	}
	return r.configErr
}

// Resolver returns the resolver in use, including the cache layer when one
// is configured. It is nil when a ConfigSource replaced resolution.
func (r *Router) Resolver() Resolver {
	return r.resolver
}

// Route handles one event and returns the serialized response.
func (r *Router) Route(ctx context.Context, ev Event) Result {
	return r.Serve(ctx, NewRequest(ev, r.config.BasePath)).Result()
}

// Handle parses a raw gateway envelope with the first matching event source
// and routes it. An error is returned only when the envelope itself cannot be
// understood.
//
// Example:
//
//	func handler(ctx context.Context, event json.RawMessage) (gateway.Result, error) {
//	    return router.Handle(ctx, event)
//	}
func (r *Router) Handle(ctx context.Context, raw []byte) (Result, error) {
	src := r.match(raw)
	if src == nil {
		if err := r.handleNoSource(ctx, raw); err != nil {
			return Result{}, err
		}
		res := NewResponse()
		res.Fail(errNotFound())
		return res.Result(), nil
	}

	ev, err := src.Parse(raw)
	if err != nil {
		return Result{}, fmt.Errorf("parse %s envelope: %w", src.Name(), err)
	}
	if h, ok := src.(OnParseHook); ok {
		ctx = h.OnParse(ctx, ev)
	}
	return r.Route(ctx, ev), nil
}

// match finds the event source for raw, trying the last match first.
func (r *Router) match(raw []byte) EventSource {
	view, err := r.inspector.Inspect(raw)
	if err != nil {
		return nil
	}
	if name, ok := r.lastMatch.Load().(string); ok && name != "" {
		for _, src := range r.sources {
			if src.Name() == name && src.Discriminator().Match(view) {
				return src
			}
		}
	}
	for _, src := range r.sources {
		if src.Discriminator().Match(view) {
			r.lastMatch.Store(src.Name())
			return src
		}
	}
	return nil
}

// Serve runs the lifecycle for req and returns the final response.
func (r *Router) Serve(ctx context.Context, req *Request) *Response {
	start := time.Now()
	ctx = r.callOnReceive(ctx, req)

	res, failure := r.run(ctx, req)
	if failure != nil {
		res = r.handleFailure(ctx, req, res, failure)
	}

	if after := r.lifecycle.afterAll; after != nil {
		if err := guard(func() error { return after(ctx, req, res) }); err != nil {
			if failure == nil {
				failure = err
				res = r.handleFailure(ctx, req, res, err)
			} else {
				r.logger.Error("afterAll hook failed",
					zap.String("request_id", req.ID),
					zap.String("route", req.Route),
					zap.Error(err),
				)
			}
		}
	}

	d := time.Since(start)
	if failure != nil {
		r.callOnFailure(ctx, req, failure, d)
	}
	r.callOnComplete(ctx, req, res, d)

	r.logger.Debug("request completed",
		zap.String("request_id", req.ID),
		zap.String("method", req.Method),
		zap.String("route", req.Route),
		zap.String("handler", req.Handler),
		zap.Int("status", res.Code),
		zap.Duration("duration", d),
	)
	return res
}

// run takes req from resolution to response validation. A returned error is
// a hook or handler failure still to be handled.
func (r *Router) run(ctx context.Context, req *Request) (*Response, error) {
	res := NewResponse()
	if r.configErr != nil {
		res.Fail(r.configErr)
		return res, nil
	}

	var route RouteConfigProvider
	err := guard(func() (err error) {
		route, err = r.source.Lookup(ctx, req)
		return err
	})
	if err != nil {
		e, ok := asError(err)
		if !ok {
			return res, err
		}
		r.logResolution(req, e)
		res.Fail(e)
		return res, nil
	}

	if route == nil || !route.Exists() {
		r.logResolution(req, ErrNotFound)
		res.Fail(errNotFound())
		return res, nil
	}
	if !route.MethodExists(req.Method) {
		r.logResolution(req, ErrMethodNotAllowed)
		res.Fail(errMethodNotAllowed())
		return res, nil
	}

	for _, hook := range []HookFunc{r.lifecycle.beforeAll, r.lifecycle.withAuth} {
		if hook == nil || res.HasErrors() {
			continue
		}
		if err := guard(func() error { return hook(ctx, req, res) }); err != nil {
			return res, err
		}
	}
	if res.HasErrors() {
		return res, nil
	}

	requirement := route.RequirementsFor(req.Method)
	if _, err := r.validator.ValidateWithRequirements(ctx, req, res, requirement); err != nil {
		return res, fmt.Errorf("validate request: %w", err)
	}
	if r.autoValidate {
		if _, err := r.validator.ValidateWithOpenAPI(ctx, req, res); err != nil {
			return res, fmt.Errorf("validate request: %w", err)
		}
	}
	if res.HasErrors() {
		return res, nil
	}

	handler := route.HandlerFor(req.Method, req)
	if handler == nil {
		res.Fail(errMethodNotAllowed())
		return res, nil
	}
	r.callOnDispatch(ctx, req)

	var out *Response
	if err := guard(func() (err error) {
		out, err = handler(ctx, req, res)
		return err
	}); err != nil {
		return res, err
	}
	res = replaceResponse(res, out)

	if requirement != nil && requirement.ResponseBody != nil && !res.HasErrors() {
		if err := r.responseValidator.IsValid(ctx, requirement.ResponseBody, req, res); err != nil {
			return res, err
		}
	}
	return res, nil
}

// handleFailure turns a failure into the response to send.
func (r *Router) handleFailure(ctx context.Context, req *Request, res *Response, err error) *Response {
	var pe *panicError
	if errors.As(err, &pe) {
		r.logger.Error("recovered panic",
			zap.String("request_id", req.ID),
			zap.Any("panic", pe.value),
			zap.ByteString("stack", pe.stack),
		)
	} else {
		r.logger.Error("request failed",
			zap.String("request_id", req.ID),
			zap.String("route", req.Route),
			zap.Error(err),
		)
	}

	if onError := r.lifecycle.onError; onError != nil {
		var out *Response
		herr := guard(func() error {
			out = onError(ctx, req, res, err)
			return nil
		})
		if herr == nil {
			return replaceResponse(res, out)
		}
		r.logger.Error("onError hook failed", zap.String("request_id", req.ID), zap.Error(herr))
	}

	fallback := NewResponse()
	if e, ok := asError(err); ok && e.Kind == KindRequest && !errors.As(err, &pe) {
		fallback.Fail(e)
	} else {
		fallback.Fail(errInternal())
	}
	return fallback
}

// replaceResponse returns the response a handler or onError handed back in
// place of res. A zero Code on it means 200.
func replaceResponse(res, out *Response) *Response {
	if out == nil {
		return res
	}
	if out.Code == 0 {
		out.Code = 200
	}
	return out
}

func (r *Router) logResolution(req *Request, e *Error) {
	fields := []zap.Field{
		zap.String("request_id", req.ID),
		zap.String("method", req.Method),
		zap.String("route", req.Route),
		zap.Int("status", e.Code),
		zap.String("message", e.Message),
	}
	if e.Kind == KindConfig {
		r.logger.Warn("route resolution failed", append(fields, zap.Error(e.Unwrap()))...)
		return
	}
	r.logger.Debug("route not served", fields...)
}

// guard runs fn, converting a panic into a *panicError.
func guard(fn func() error) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = newPanicError(v)
		}
	}()
	return fn()
}
