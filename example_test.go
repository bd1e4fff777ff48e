package gateway_test

import (
	"context"
	"fmt"
	"log"
	"testing/fstest"
	"time"

	"github.com/bjaus/gateway"
)

func getUser(ctx context.Context, req *gateway.Request, res *gateway.Response) (*gateway.Response, error) {
	res.Body = map[string]string{"id": req.PathParams["id"]}
	return res, nil
}

func Example() {
	r := gateway.New(gateway.Config{
		BasePath: "v1",
		HandlerList: map[string]gateway.Module{
			"users/{id}": {"get": gateway.HandlerFunc(getUser)},
		},
	})
	if err := r.Err(); err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	for _, ev := range []gateway.Event{
		{Method: "GET", Path: "/v1/users/42"},
		{Method: "DELETE", Path: "/v1/users/42"},
		{Method: "GET", Path: "/v1/orgs"},
	} {
		res := r.Route(ctx, ev)
		fmt.Println(res.StatusCode, res.Body)
	}

	// Output:
	// 200 {"id":"42"}
	// 403 {"errors":[{"key_path":"method","message":"method not allowed"}]}
	// 404 {"errors":[{"key_path":"url","message":"endpoint not found"}]}
}

func Example_directory() {
	// Handler files are only listed; the Registry supplies their modules.
	tree := fstest.MapFS{
		"handlers/health.go":     {},
		"handlers/users/{id}.go": {},
	}

	registry := gateway.NewRegistry()
	registry.Register("health", gateway.Module{
		"get": gateway.HandlerFunc(func(ctx context.Context, req *gateway.Request, res *gateway.Response) (*gateway.Response, error) {
			res.Body = "ok"
			return res, nil
		}),
	})
	registry.Register("users/{id}", gateway.Module{"get": gateway.HandlerFunc(getUser)})

	r := gateway.New(gateway.Config{HandlerPath: "handlers", CacheMode: gateway.CacheAll},
		gateway.WithModuleLoader(registry),
		gateway.WithPathProvider(gateway.NewFSProvider(tree)),
	)

	res := r.Route(context.Background(), gateway.Event{Method: "get", Path: "users/7"})
	fmt.Println(res.StatusCode, res.Body)

	res = r.Route(context.Background(), gateway.Event{Method: "get", Path: "health"})
	fmt.Println(res.StatusCode, res.Body)

	// Output:
	// 200 {"id":"7"}
	// 200 "ok"
}

func Example_requirements() {
	create := gateway.Endpoint{
		Requirement: &gateway.Requirement{
			RequiredHeaders: []string{"X-Tenant"},
			RequiredQuery:   []string{"dryRun"},
		},
		Handle: func(ctx context.Context, req *gateway.Request, res *gateway.Response) (*gateway.Response, error) {
			res.Code = 201
			return res, nil
		},
	}

	r := gateway.New(gateway.Config{
		HandlerList: map[string]gateway.Module{"users": {"post": create}},
	})

	res := r.Route(context.Background(), gateway.Event{Method: "POST", Path: "users"})
	fmt.Println(res.StatusCode, res.Body)

	res = r.Route(context.Background(), gateway.Event{
		Method:  "POST",
		Path:    "users",
		Headers: map[string]string{"X-Tenant": "acme"},
		Query:   map[string]string{"dryRun": "true"},
	})
	fmt.Println(res.StatusCode)

	// Output:
	// 400 {"errors":[{"key_path":"headers","message":"Please provide x-tenant for headers"},{"key_path":"queryParams","message":"Please provide dryRun for queryParams"}]}
	// 201
}

func Example_hooks() {
	r := gateway.New(gateway.Config{
		HandlerList: map[string]gateway.Module{
			"admin": {"get": gateway.HandlerFunc(getUser)},
		},
	},
		gateway.WithAuth(func(ctx context.Context, req *gateway.Request, res *gateway.Response) error {
			if _, ok := req.Header("authorization"); !ok {
				return gateway.NewError(401, "authorization", "missing credentials")
			}
			return nil
		}),
		gateway.WithAfterAll(func(ctx context.Context, req *gateway.Request, res *gateway.Response) error {
			fmt.Println("afterAll:", req.Route, res.Code)
			return nil
		}),
		gateway.WithOnComplete(func(ctx context.Context, req *gateway.Request, res *gateway.Response, d time.Duration) {
			fmt.Println("complete:", req.Handler)
		}),
	)

	res := r.Route(context.Background(), gateway.Event{Method: "GET", Path: "admin"})
	fmt.Println(res.StatusCode, res.Body)

	// Output:
	// afterAll: admin 401
	// complete: admin
	// 401 {"errors":[{"key_path":"authorization","message":"missing credentials"}]}
}

func Example_handle() {
	r := gateway.New(gateway.Config{
		BasePath: "v1",
		HandlerList: map[string]gateway.Module{
			"users/{id}": {"get": gateway.HandlerFunc(getUser)},
		},
	})

	// An API Gateway HTTP API (payload format 2.0) event.
	event := []byte(`{
		"version":         "2.0",
		"rawPath":         "/v1/users/9",
		"headers":         {"accept": "application/json"},
		"requestContext":  {"requestId": "abc", "http": {"method": "GET", "path": "/v1/users/9"}},
		"isBase64Encoded": false
	}`)

	res, err := r.Handle(context.Background(), event)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(res.StatusCode, res.Body)

	_, err = r.Handle(context.Background(), []byte(`{"source": "aws.events"}`))
	fmt.Println(err)

	// Output:
	// 200 {"id":"9"}
	// no event source matched envelope
}
