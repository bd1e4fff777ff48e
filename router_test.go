package gateway

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var corsOnly = map[string]string{
	"Access-Control-Allow-Origin":  "*",
	"Access-Control-Allow-Headers": "*",
}

func handlerTree() fstest.MapFS {
	return fstest.MapFS{
		"handlers/unit-test.go":     {Data: []byte("package handlers")},
		"handlers/index.go":         {Data: []byte("package handlers")},
		"handlers/users/{id}.go":    {Data: []byte("package users")},
		"handlers/orgs/{org}/x.go":  {Data: []byte("package org")},
		"handlers/broken.go":        {Data: []byte("package handlers")},
		"handlers/conflict.go":      {Data: []byte("package handlers")},
		"handlers/conflict/deep.go": {Data: []byte("package conflict")},
	}
}

func okHandler(ctx context.Context, req *Request, res *Response) (*Response, error) {
	res.Body = map[string]any{"test": true}
	return res, nil
}

func testRegistry() *Registry {
	reg := NewRegistry()
	reg.Register("unit-test", Module{
		"get":   HandlerFunc(okHandler),
		"patch": HandlerFunc(okHandler),
		"post":  HandlerFunc(func(ctx context.Context, req *Request, res *Response) (*Response, error) {
			res.Code = 201
			return res, nil
		}),
	})
	reg.Register("index", Module{"get": HandlerFunc(okHandler)})
	reg.Register("users/{id}", Module{
		"get": HandlerFunc(func(ctx context.Context, req *Request, res *Response) (*Response, error) {
			res.Body = map[string]any{"id": req.PathParams["id"], "handler": req.Handler}
			return nil, nil
		}),
	})
	reg.Register("orgs/{org}/x", Module{"get": HandlerFunc(okHandler)})
	return reg
}

func apiEvent(method, path string) Event {
	return Event{ID: "req-1", Method: method, Path: path, Headers: map[string]string{}}
}

type RouterSuite struct {
	suite.Suite
	ctx      context.Context
	registry *Registry
	provider PathProvider
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	s.ctx = context.Background()
	s.registry = testRegistry()
	s.provider = NewFSProvider(handlerTree())
}

func (s *RouterSuite) newRouter(cfg Config, opts ...Option) *Router {
	if cfg.HandlerPath == "" && cfg.HandlerPattern == "" && cfg.HandlerList == nil {
		cfg.HandlerPath = "handlers/"
	}
	if cfg.BasePath == "" {
		cfg.BasePath = "unittest/v1"
	}
	base := []Option{WithModuleLoader(s.registry), WithPathProvider(s.provider)}
	r := New(cfg, append(base, opts...)...)
	s.Require().NoError(r.Err())
	return r
}

func (s *RouterSuite) TestFoundRoute() {
	r := s.newRouter(Config{})

	result := r.Route(s.ctx, apiEvent("GET", "/unittest/v1/unit-test"))

	s.Assert().Equal(Result{Headers: corsOnly, StatusCode: 200, Body: `{"test":true}`}, result)
}

func (s *RouterSuite) TestFoundRouteHandlerPathWithoutTrailingSlash() {
	r := s.newRouter(Config{HandlerPath: "/handlers"})

	result := r.Route(s.ctx, apiEvent("GET", "/unittest/v1/unit-test/"))

	s.Assert().Equal(200, result.StatusCode)
	s.Assert().Equal(`{"test":true}`, result.Body)
}

func (s *RouterSuite) TestRouteNotFound() {
	r := s.newRouter(Config{})

	result := r.Route(s.ctx, apiEvent("GET", "/unittest/v1/unit-test-fail"))

	s.Assert().Equal(Result{
		Headers:    corsOnly,
		StatusCode: 404,
		Body:       `{"errors":[{"key_path":"url","message":"endpoint not found"}]}`,
	}, result)
}

func (s *RouterSuite) TestMethodNotAllowed() {
	r := s.newRouter(Config{})

	result := r.Route(s.ctx, apiEvent("DELETE", "/unittest/v1/unit-test"))

	s.Assert().Equal(Result{
		Headers:    corsOnly,
		StatusCode: 403,
		Body:       `{"errors":[{"key_path":"method","message":"method not allowed"}]}`,
	}, result)
}

func (s *RouterSuite) TestEmptyRouteDoesNotFallBackToIndex() {
	r := s.newRouter(Config{})

	result := r.Route(s.ctx, apiEvent("GET", "/unittest/v1"))

	s.Assert().Equal(404, result.StatusCode)
}

func (s *RouterSuite) TestPathParametersAndHandlerPath() {
	r := s.newRouter(Config{})

	result := r.Route(s.ctx, apiEvent("GET", "/unittest/v1/users/42"))

	s.Assert().Equal(200, result.StatusCode)
	s.Assert().JSONEq(`{"id":"42","handler":"users/{id}"}`, result.Body)
}

func (s *RouterSuite) TestPermissionsFail() {
	r := s.newRouter(Config{}, WithBeforeAll(checkPermissions))

	result := r.Route(s.ctx, apiEvent("PATCH", "/unittest/v1/unit-test"))

	s.Assert().Equal(Result{
		Headers:    corsOnly,
		StatusCode: 400,
		Body:       `{"errors":[{"key_path":"headers","message":"in appropriate api-key"}]}`,
	}, result)
}

func (s *RouterSuite) TestPermissionsPass() {
	r := s.newRouter(Config{}, WithBeforeAll(checkPermissions))
	ev := apiEvent("PATCH", "/unittest/v1/unit-test")
	ev.Headers["X-Api-Key"] = "passing-key"

	result := r.Route(s.ctx, ev)

	s.Assert().Equal(200, result.StatusCode)
	s.Assert().Equal(`{"test":true}`, result.Body)
}

func (s *RouterSuite) TestAuthSkippedWhenBeforeAllRejects() {
	var authCalled bool
	r := s.newRouter(Config{},
		WithBeforeAll(checkPermissions),
		WithAuth(func(ctx context.Context, req *Request, res *Response) error {
			authCalled = true
			return nil
		}),
	)

	result := r.Route(s.ctx, apiEvent("PATCH", "/unittest/v1/unit-test"))

	s.Assert().Equal(400, result.StatusCode)
	s.Assert().False(authCalled)
}

func (s *RouterSuite) TestOnErrorReceivesOriginalError() {
	boom := errors.New("boom")
	var (
		calls   int
		gotErr  error
		gotCode int
	)
	r := s.newRouter(Config{},
		WithBeforeAll(func(ctx context.Context, req *Request, res *Response) error {
			return boom
		}),
		WithOnError(func(ctx context.Context, req *Request, res *Response, err error) *Response {
			calls++
			gotErr = err
			gotCode = res.Code
			return nil
		}),
	)

	result := r.Route(s.ctx, apiEvent("PATCH", "/unittest/v1/unit-test"))

	s.Assert().Equal(1, calls)
	s.Assert().Same(boom, gotErr)
	s.Assert().Equal(gotCode, result.StatusCode)
}

func (s *RouterSuite) TestOnErrorSetsStatusCode() {
	r := s.newRouter(Config{},
		WithBeforeAll(func(ctx context.Context, req *Request, res *Response) error {
			return errors.New("boom")
		}),
		WithOnError(func(ctx context.Context, req *Request, res *Response, err error) *Response {
			res.Code = 400
			return res
		}),
	)

	result := r.Route(s.ctx, apiEvent("PATCH", "/unittest/v1/unit-test"))

	s.Assert().Equal(400, result.StatusCode)
}

func (s *RouterSuite) TestHandlerErrorWithoutOnErrorIsInternal() {
	s.registry.Register("fails", Module{"get": HandlerFunc(func(ctx context.Context, req *Request, res *Response) (*Response, error) {
		return nil, errors.New("database unavailable")
	})})
	r := s.newRouter(Config{}, WithResolver(staticResolver(s.registry, "fails")))

	result := r.Route(s.ctx, apiEvent("GET", "/unittest/v1/fails"))

	s.Assert().Equal(500, result.StatusCode)
	s.Assert().Equal(`{"errors":[{"key_path":"server","message":"internal server error"}]}`, result.Body)
}

func (s *RouterSuite) TestHandlerPanicIsRecovered() {
	logger, logs := newObservedLogger()
	var got error
	r := s.newRouter(Config{},
		WithLogger(logger),
		WithConfigSource(routeSource(&fakeRoute{
			exists: true, methodExists: true,
			handler: func(ctx context.Context, req *Request, res *Response) (*Response, error) {
				panic("kaboom")
			},
		})),
		WithOnFailure(func(ctx context.Context, req *Request, err error, d time.Duration) {
			got = err
		}),
	)

	result := r.Route(s.ctx, apiEvent("GET", "/anything"))

	s.Assert().Equal(500, result.StatusCode)
	s.Assert().Equal(`{"errors":[{"key_path":"server","message":"internal server error"}]}`, result.Body)
	var pe *panicError
	s.Require().ErrorAs(got, &pe)
	s.Assert().Equal("kaboom", pe.value)
	s.Assert().Equal(1, logs.FilterMessage("recovered panic").Len())
}

func (s *RouterSuite) TestRequestErrorRenderedWithoutOnError() {
	r := s.newRouter(Config{}, WithConfigSource(routeSource(&fakeRoute{
		exists: true, methodExists: true,
		handler: func(ctx context.Context, req *Request, res *Response) (*Response, error) {
			return nil, NewError(409, "email", "already registered")
		},
	})))

	result := r.Route(s.ctx, apiEvent("POST", "/users"))

	s.Assert().Equal(409, result.StatusCode)
	s.Assert().Equal(`{"errors":[{"key_path":"email","message":"already registered"}]}`, result.Body)
}

func (s *RouterSuite) TestConfigSourceNotExists() {
	r := s.newRouter(Config{}, WithConfigSource(routeSource(&fakeRoute{})))

	result := r.Route(s.ctx, apiEvent("GET", "/anything"))

	s.Assert().Equal(404, result.StatusCode)
}

func (s *RouterSuite) TestConfigSourceMethodNotExists() {
	r := s.newRouter(Config{}, WithConfigSource(routeSource(&fakeRoute{exists: true})))

	result := r.Route(s.ctx, apiEvent("GET", "/anything"))

	s.Assert().Equal(403, result.StatusCode)
}

func (s *RouterSuite) TestConfigSourceHandlerThrows() {
	r := s.newRouter(Config{}, WithConfigSource(routeSource(&fakeRoute{
		exists: true, methodExists: true, requirement: &Requirement{},
		handler: func(ctx context.Context, req *Request, res *Response) (*Response, error) {
			return nil, errors.New("unexpected")
		},
	})))

	result := r.Route(s.ctx, apiEvent("GET", "/anything"))

	s.Assert().Equal(500, result.StatusCode)
}

func (s *RouterSuite) TestAfterAllCalledOnce() {
	cases := []struct {
		name  string
		route *fakeRoute
	}{
		{"success", &fakeRoute{exists: true, methodExists: true, handler: okHandler}},
		{"not found", &fakeRoute{}},
		{"method not allowed", &fakeRoute{exists: true}},
		{"handler failure", &fakeRoute{exists: true, methodExists: true, handler: func(ctx context.Context, req *Request, res *Response) (*Response, error) {
			return nil, errors.New("boom")
		}}},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			var calls int
			r := s.newRouter(Config{},
				WithConfigSource(routeSource(tc.route)),
				WithAfterAll(func(ctx context.Context, req *Request, res *Response) error {
					calls++
					return nil
				}),
			)

			r.Route(s.ctx, apiEvent("GET", "/anything"))

			s.Assert().Equal(1, calls)
		})
	}
}

func (s *RouterSuite) TestAfterAllFailureIsHandled() {
	r := s.newRouter(Config{},
		WithConfigSource(routeSource(&fakeRoute{exists: true, methodExists: true, handler: okHandler})),
		WithAfterAll(func(ctx context.Context, req *Request, res *Response) error {
			return errors.New("audit log unavailable")
		}),
	)

	result := r.Route(s.ctx, apiEvent("GET", "/anything"))

	s.Assert().Equal(500, result.StatusCode)
}

func (s *RouterSuite) TestAfterAllFailureAfterHandledFailure() {
	logger, logs := newObservedLogger()
	var calls int
	r := s.newRouter(Config{},
		WithLogger(logger),
		WithConfigSource(routeSource(&fakeRoute{exists: true, methodExists: true, handler: func(ctx context.Context, req *Request, res *Response) (*Response, error) {
			return nil, errors.New("handler boom")
		}})),
		WithAfterAll(func(ctx context.Context, req *Request, res *Response) error {
			return errors.New("afterAll boom")
		}),
		WithOnError(func(ctx context.Context, req *Request, res *Response, err error) *Response {
			calls++
			res.Code = 502
			res.SetError("upstream", err.Error())
			return res
		}),
	)

	result := r.Route(s.ctx, apiEvent("GET", "/anything"))

	s.Assert().Equal(1, calls)
	s.Assert().Equal(502, result.StatusCode)
	s.Assert().Equal(`{"errors":[{"key_path":"upstream","message":"handler boom"}]}`, result.Body)
	s.Assert().Equal(1, logs.FilterMessage("afterAll hook failed").Len())
}

func (s *RouterSuite) TestReplacedResponseDefaultsTo200() {
	fresh := func(ctx context.Context, req *Request, res *Response) (*Response, error) {
		return &Response{Body: map[string]any{"test": true}}, nil
	}
	tests := map[string][]Option{
		"handler": {
			WithConfigSource(routeSource(&fakeRoute{exists: true, methodExists: true, handler: fresh})),
		},
		"onError": {
			WithConfigSource(routeSource(&fakeRoute{exists: true, methodExists: true, handler: func(ctx context.Context, req *Request, res *Response) (*Response, error) {
				return nil, errors.New("boom")
			}})),
			WithOnError(func(ctx context.Context, req *Request, res *Response, err error) *Response {
				return &Response{Body: map[string]any{"test": true}}
			}),
		},
	}

	for name, opts := range tests {
		s.Run(name, func() {
			r := s.newRouter(Config{}, opts...)

			result := r.Route(s.ctx, apiEvent("GET", "/anything"))

			s.Assert().Equal(Result{Headers: corsOnly, StatusCode: 200, Body: `{"test":true}`}, result)
		})
	}
}

func (s *RouterSuite) TestOnlyRequestErrorsRenderedWithoutOnError() {
	tests := map[string]error{
		"not found":          ErrNotFound,
		"method not allowed": ErrMethodNotAllowed,
		"config error":       ConfigError("bad"),
	}

	for name, hookErr := range tests {
		s.Run(name, func() {
			r := s.newRouter(Config{}, WithBeforeAll(func(ctx context.Context, req *Request, res *Response) error {
				return hookErr
			}))

			result := r.Route(s.ctx, apiEvent("GET", "/unittest/v1/unit-test"))

			s.Assert().Equal(500, result.StatusCode)
			s.Assert().Equal(`{"errors":[{"key_path":"server","message":"internal server error"}]}`, result.Body)
		})
	}
}

func (s *RouterSuite) TestConfigSourceSkipsAutoValidate() {
	r := s.newRouter(Config{SchemaPath: "testdata/openapi.yml", AutoValidate: true},
		WithConfigSource(routeSource(&fakeRoute{exists: true, methodExists: true, handler: okHandler})),
	)
	ev := apiEvent("POST", "/unittest/v1/unit-test")
	ev.Body = map[string]any{}

	result := r.Route(s.ctx, ev)

	s.Assert().Equal(200, result.StatusCode)
	s.Assert().Equal(`{"test":true}`, result.Body)
}

func (s *RouterSuite) TestResponseValidatedOnce() {
	validator := &countingResponseValidator{}
	r := s.newRouter(Config{},
		WithConfigSource(routeSource(&fakeRoute{
			exists: true, methodExists: true,
			requirement: &Requirement{ResponseBody: Ref("$$fakeName")},
			handler: func(ctx context.Context, req *Request, res *Response) (*Response, error) {
				res.Body = map[string]any{}
				return res, nil
			},
		})),
		WithResponseValidator(validator),
	)

	r.Route(s.ctx, apiEvent("GET", "/anything"))

	s.Assert().Equal(int32(1), validator.calls.Load())
}

func (s *RouterSuite) TestRequirementsFromHandler() {
	s.registry.Register("tenants", Module{"get": Endpoint{
		Requirement: &Requirement{RequiredHeaders: []string{"X-Tenant"}, AvailableQuery: []string{"limit"}},
		Handle:      okHandler,
	}})
	r := s.newRouter(Config{}, WithResolver(staticResolver(s.registry, "tenants")))
	ev := apiEvent("GET", "/unittest/v1/tenants")
	ev.Query = map[string]string{"limit": "1", "offset": "2"}

	result := r.Route(s.ctx, ev)

	s.Assert().Equal(400, result.StatusCode)
	s.Assert().JSONEq(`{"errors":[
		{"key_path":"headers","message":"Please provide x-tenant for headers"},
		{"key_path":"queryParams","message":"offset is not an available queryParams"}
	]}`, result.Body)
}

func (s *RouterSuite) TestStagedHandlerBuiltAfterValidation() {
	var built int
	s.registry.Register("staged", Module{"put": Staged(
		&Requirement{RequiredQuery: []string{"id"}},
		func(req *Request) HandlerFunc {
			built++
			id := req.Query["id"]
			return func(ctx context.Context, req *Request, res *Response) (*Response, error) {
				res.Body = map[string]any{"updated": id}
				return res, nil
			}
		},
	)})
	r := s.newRouter(Config{}, WithResolver(staticResolver(s.registry, "staged")))

	missing := r.Route(s.ctx, apiEvent("PUT", "/unittest/v1/staged"))
	ev := apiEvent("PUT", "/unittest/v1/staged")
	ev.Query = map[string]string{"id": "7"}
	ok := r.Route(s.ctx, ev)

	s.Assert().Equal(400, missing.StatusCode)
	s.Assert().Equal(200, ok.StatusCode)
	s.Assert().Equal(`{"updated":"7"}`, ok.Body)
	s.Assert().Equal(1, built)
}

func (s *RouterSuite) TestAutoValidateDerivesRequirements() {
	r := s.newRouter(Config{SchemaPath: "testdata/openapi.yml", AutoValidate: true})

	noTenant := apiEvent("POST", "/unittest/v1/unit-test")
	noTenant.Body = map[string]any{"name": "x"}
	badBody := apiEvent("POST", "/unittest/v1/unit-test")
	badBody.Headers["X-Tenant"] = "acme"
	badBody.Body = map[string]any{}
	good := apiEvent("POST", "/unittest/v1/unit-test")
	good.Headers["X-Tenant"] = "acme"
	good.Body = map[string]any{"name": "x"}

	s.Run("missing header", func() {
		result := r.Route(s.ctx, noTenant)
		s.Assert().Equal(400, result.StatusCode)
		s.Assert().Equal(`{"errors":[{"key_path":"headers","message":"Please provide x-tenant for headers"}]}`, result.Body)
	})
	s.Run("invalid body", func() {
		result := r.Route(s.ctx, badBody)
		s.Assert().Equal(400, result.StatusCode)
		s.Assert().Equal(`{"errors":[{"key_path":"root","message":"must have required property 'name'"}]}`, result.Body)
	})
	s.Run("valid", func() {
		result := r.Route(s.ctx, good)
		s.Assert().Equal(201, result.StatusCode)
	})
	s.Run("query parameter value", func() {
		ev := apiEvent("GET", "/unittest/v1/unit-test")
		ev.Query = map[string]string{"limit": "500"}
		result := r.Route(s.ctx, ev)
		s.Assert().Equal(400, result.StatusCode)
		s.Assert().Equal(`{"errors":[{"key_path":"queryParameters","message":"must be <= 100"}]}`, result.Body)
	})
}

func (s *RouterSuite) TestStrictValidationRejectsUndeclaredQuery() {
	r := s.newRouter(Config{SchemaPath: "testdata/openapi.yml", AutoValidate: true, StrictValidation: true})
	ev := apiEvent("GET", "/unittest/v1/unit-test")
	ev.Query = map[string]string{"limit": "5", "debug": "1"}

	result := r.Route(s.ctx, ev)

	s.Assert().Equal(400, result.StatusCode)
	s.Assert().Equal(`{"errors":[{"key_path":"queryParams","message":"debug is not an available queryParams"}]}`, result.Body)
}

func (s *RouterSuite) TestAutoValidateValidatesResponse() {
	reg := NewRegistry()
	reg.Register("users/{id}", Module{"get": HandlerFunc(func(ctx context.Context, req *Request, res *Response) (*Response, error) {
		res.Body = map[string]any{}
		return res, nil
	})})
	r := New(Config{BasePath: "unittest/v1", HandlerPath: "handlers", SchemaPath: "testdata/openapi.yml", AutoValidate: true},
		WithModuleLoader(reg), WithPathProvider(s.provider))
	s.Require().NoError(r.Err())

	result := r.Route(s.ctx, apiEvent("GET", "/unittest/v1/users/42"))

	s.Assert().Equal(400, result.StatusCode)
	s.Assert().JSONEq(`{"errors":[
		{"key_path":"root","message":"must have required property 'pageNumber'"},
		{"key_path":"root","message":"must have required property 'data'"}
	]}`, result.Body)
}

func (s *RouterSuite) TestConfigErrorRenderedOnEveryRequest() {
	r := New(Config{RoutingMode: "bogus", HandlerPath: "handlers"})

	result := r.Route(s.ctx, apiEvent("GET", "/unit-test"))

	s.Require().Error(r.Err())
	s.Assert().Equal(500, result.StatusCode)
	s.Assert().Equal(`{"errors":[{"key_path":"router-config","message":"routingMode must be either directory, pattern or list"}]}`, result.Body)
}

func (s *RouterSuite) TestMissingSchemaDocumentIsConfigError() {
	r := New(Config{HandlerPath: "handlers", SchemaPath: "testdata/missing.yml"})

	s.Require().Error(r.Err())
	s.Assert().ErrorIs(r.Err(), &Error{Code: 500, Key: KeyRouterConfig})
}

func (s *RouterSuite) TestAutoValidateWithoutSchemaIsConfigError() {
	r := New(Config{HandlerPath: "handlers", AutoValidate: true}, WithModuleLoader(s.registry))

	s.Require().Error(r.Err())
	s.Assert().Contains(r.Err().Error(), "autoValidate requires a schema document")
}

func (s *RouterSuite) TestTreeConflictIsConfigError() {
	logger, logs := newObservedLogger()
	r := s.newRouter(Config{}, WithLogger(logger))

	result := r.Route(s.ctx, apiEvent("GET", "/unittest/v1/conflict"))

	s.Assert().Equal(500, result.StatusCode)
	s.Assert().Equal(`{"errors":[{"key_path":"router-config","message":"file & directory cant share name in the same directory"}]}`, result.Body)
	s.Assert().Equal(1, logs.FilterMessage("route resolution failed").Len())
}

func (s *RouterSuite) TestImportErrorIsConfigError() {
	r := s.newRouter(Config{})

	result := r.Route(s.ctx, apiEvent("GET", "/unittest/v1/broken"))

	s.Assert().Equal(500, result.StatusCode)
	s.Assert().Contains(result.Body, `"key_path":"router-config"`)
	s.Assert().Contains(result.Body, "Import Error broken")
}

func (s *RouterSuite) TestResolutionCache() {
	var loads atomic.Int32
	loader := ModuleLoaderFunc(func(ctx context.Context, path string) (Module, error) {
		loads.Add(1)
		return s.registry.Load(ctx, path)
	})
	r := s.newRouter(Config{CacheMode: CacheAll}, WithModuleLoader(loader))

	for i := 0; i < 3; i++ {
		result := r.Route(s.ctx, apiEvent("GET", "/unittest/v1/users/42"))
		s.Require().Equal(200, result.StatusCode)
	}
	other := r.Route(s.ctx, apiEvent("GET", "/unittest/v1/users/7"))

	s.Assert().JSONEq(`{"id":"7","handler":"users/{id}"}`, other.Body)
	s.Assert().Equal(int32(2), loads.Load())
	s.Assert().IsType(&CachingResolver{}, r.Resolver())
}

func (s *RouterSuite) TestHooksObserveLifecycle() {
	var order []string
	r := s.newRouter(Config{},
		WithOnReceive(func(ctx context.Context, req *Request) context.Context {
			order = append(order, "receive")
			return ctx
		}),
		WithBeforeAll(func(ctx context.Context, req *Request, res *Response) error {
			order = append(order, "beforeAll")
			return nil
		}),
		WithAuth(func(ctx context.Context, req *Request, res *Response) error {
			order = append(order, "auth")
			return nil
		}),
		WithOnDispatch(func(ctx context.Context, req *Request) {
			order = append(order, "dispatch:"+req.Handler)
		}),
		WithAfterAll(func(ctx context.Context, req *Request, res *Response) error {
			order = append(order, "afterAll")
			return nil
		}),
		WithOnComplete(func(ctx context.Context, req *Request, res *Response, d time.Duration) {
			order = append(order, "complete")
		}),
	)

	r.Route(s.ctx, apiEvent("GET", "/unittest/v1/unit-test"))

	s.Assert().Equal([]string{"receive", "beforeAll", "auth", "dispatch:unit-test", "afterAll", "complete"}, order)
}

func checkPermissions(ctx context.Context, req *Request, res *Response) error {
	if req.Headers["x-api-key"] != "passing-key" {
		res.Code = 400
		res.SetError("headers", "in appropriate api-key")
	}
	return nil
}

type fakeRoute struct {
	exists       bool
	methodExists bool
	requirement  *Requirement
	handler      HandlerFunc
}

func (f *fakeRoute) Exists() bool                            { return f.exists }
func (f *fakeRoute) MethodExists(string) bool                { return f.methodExists }
func (f *fakeRoute) RequirementsFor(string) *Requirement     { return f.requirement }
func (f *fakeRoute) HandlerFor(string, *Request) HandlerFunc { return f.handler }

func routeSource(rc RouteConfigProvider) ConfigSource {
	return ConfigSourceFunc(func(ctx context.Context, req *Request) (RouteConfigProvider, error) {
		return rc, nil
	})
}

// staticResolver resolves every route to the module registered at path.
func staticResolver(reg *Registry, path string) Resolver {
	return ResolverFunc(func(ctx context.Context, req *Request) (Resolution, error) {
		m, err := reg.Load(ctx, path)
		if err != nil {
			return Resolution{}, err
		}
		return found(m, nil, path), nil
	})
}

type countingResponseValidator struct {
	calls atomic.Int32
}

func (v *countingResponseValidator) IsValid(context.Context, *Contract, *Request, *Response) error {
	v.calls.Add(1)
	return nil
}

func newObservedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return zap.New(core), logs
}
