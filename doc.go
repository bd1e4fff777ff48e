// Package gateway routes API gateway requests to handler modules laid out on
// disk, validating each request and response on the way.
//
// A route such as "v1/users/42" is resolved to a handler module (a map from
// HTTP verb to Handler), the module's Requirement for the verb is checked,
// and the handler's result is rendered into the response shape API Gateway
// and ALB expect.
//
// # Quick Start
//
// Register handler modules under the paths the resolver will find them at:
//
//	registry := gateway.NewRegistry()
//	registry.Register("users/{id}", gateway.Module{
//	    "get": gateway.HandlerFunc(func(ctx context.Context, req *gateway.Request, res *gateway.Response) (*gateway.Response, error) {
//	        res.Body = map[string]any{"id": req.PathParams["id"]}
//	        return res, nil
//	    }),
//	})
//
// Create a router and hand it Lambda events:
//
//	r := gateway.New(gateway.Config{BasePath: "v1", HandlerPath: "handlers"},
//	    gateway.WithModuleLoader(registry),
//	)
//	if err := r.Err(); err != nil {
//	    log.Fatal(err)
//	}
//
//	lambda.Start(func(ctx context.Context, event json.RawMessage) (gateway.Result, error) {
//	    return r.Handle(ctx, event)
//	})
//
// # Routing
//
// Three resolvers map a route to a module path:
//
//   - DirectoryResolver (Config.HandlerPath) walks a directory tree one
//     segment at a time; "{name}" entries capture path parameters.
//   - PatternResolver (Config.HandlerPattern) matches files such as
//     "handlers/**/*.controller.go" in a flat or nested layout.
//   - ListResolver (Config.HandlerList) matches an explicit table of chi
//     route templates without touching the filesystem.
//
// Filesystem resolvers list directories through a PathProvider and import the
// matched module through a ModuleLoader. Resolutions can be memoized with
// Config.CacheMode; CachingResolver.Purge (or Router.WatchHandlers) drops them
// when the tree changes.
//
// A missing module answers 404 "endpoint not found"; a module without the
// verb answers 403 "method not allowed". Malformed trees, import failures and
// invalid configuration answer 500 with key "router-config".
//
// # Lifecycle
//
// Every request runs through the same steps:
//
//	resolve -> beforeAll -> withAuth -> validate -> handler -> validate response -> afterAll
//
// A hook that records an error on the response (Response.SetError) ends the
// request early. afterAll always runs exactly once. Errors returned or
// panics raised by hooks and handlers go to the onError hook, or become a 500
// "internal server error" when none is registered.
//
// # Validation
//
// A Requirement lists required and available headers and query parameters
// plus optional request and response body contracts. Body contracts refer to
// schemas in an OpenAPI document (Config.SchemaPath). With
// Config.AutoValidate, requirements are derived from the document's
// operations instead of the handlers' declarations.
//
// # Envelopes
//
// Handle detects the envelope format with EventSource discriminators (REST
// API, HTTP API and ALB are built in), trying the last matching source first.
// Route accepts an already-parsed Event.
//
// # Observability
//
// WithOnReceive, WithOnDispatch, WithOnComplete and WithOnFailure hooks carry
// logging, metrics and tracing; see the metrics and tracing packages.
// WithLogger sets the zap logger used for the router's own diagnostics.
//
// # Guards
//
// The guard package provides ready-made hooks: bearer token authentication
// answering 401 and per-key rate limiting answering 429.
package gateway
